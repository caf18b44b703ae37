package queue

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/guardtrack/guardtrack-go/internal/errors"
)

// PermanentError marks a delivery failure that will never succeed on retry.
// The drain worker drops the action and moves on instead of halting the batch.
type PermanentError struct {
	StatusCode int
	Body       string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("server rejected action with status %d: %s", e.StatusCode, e.Body)
}

// Submitter delivers one queued action to the server. Implementations must
// distinguish permanent rejections from transient failures via PermanentError.
type Submitter interface {
	Submit(ctx context.Context, action *Action) error
}

// HTTPSubmitter delivers actions over the server's REST API. Each action
// carries its idempotency key in a header so a retried delivery that already
// landed is absorbed server-side.
type HTTPSubmitter struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSubmitter creates a submitter posting to the given server base URL.
// A nil client gets a default with the given timeout.
func NewHTTPSubmitter(baseURL string, timeout time.Duration, client *http.Client) *HTTPSubmitter {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPSubmitter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Submit posts the action's payload to its endpoint. A nil return means the
// server confirmed the action. Network failures and retryable status codes
// return a plain error; non-retryable rejections return a PermanentError.
func (s *HTTPSubmitter) Submit(ctx context.Context, action *Action) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+action.Endpoint, strings.NewReader(action.Payload))
	if err != nil {
		return &PermanentError{Body: fmt.Sprintf("building request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if action.IdempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", action.IdempotencyKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.New(fmt.Errorf("delivering %s action: %w", action.Kind, err)).
			Component("queue").
			Category(errors.CategoryNetwork).
			Context("endpoint", action.Endpoint).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if retryableStatus(resp.StatusCode) {
		return errors.Newf("server returned retryable status %d for %s action", resp.StatusCode, action.Kind).
			Component("queue").
			Category(errors.CategoryHTTP).
			Context("endpoint", action.Endpoint).
			Build()
	}
	return &PermanentError{StatusCode: resp.StatusCode, Body: string(body)}
}

// retryableStatus reports whether a non-2xx status may succeed on a later
// attempt. 5xx covers server-side trouble; 408 and 429 are explicit
// try-again signals.
func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}
