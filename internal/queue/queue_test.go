package queue

import (
	"context"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newMockSubmitter(t *testing.T) (*HTTPSubmitter, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	client := &http.Client{Transport: transport}
	return NewHTTPSubmitter("http://server.local", 5*time.Second, client), transport
}

func enqueueScan(t *testing.T, store *Store, runID, checkpointID string) *Action {
	t.Helper()
	action, err := NewScanAction(runID, map[string]string{"checkpoint_id": checkpointID})
	require.NoError(t, err)
	require.NoError(t, store.Enqueue(action))
	return action
}

func TestStore_EnqueueAssignsSequence(t *testing.T) {
	store := newTestStore(t)

	first := enqueueScan(t, store, "run-1", "cp-1")
	second := enqueueScan(t, store, "run-1", "cp-2")
	assert.Less(t, first.Seq, second.Seq)

	pending, err := store.Pending(0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.Seq, pending[0].Seq)
}

func TestStore_DuplicateEnqueueIsNoOp(t *testing.T) {
	store := newTestStore(t)

	action := enqueueScan(t, store, "run-1", "cp-1")
	dup := &Action{
		IdempotencyKey: action.IdempotencyKey,
		Kind:           action.Kind,
		Endpoint:       action.Endpoint,
		Payload:        action.Payload,
	}
	require.NoError(t, store.Enqueue(dup))

	count, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDrain_DeliversInSequenceOrder(t *testing.T) {
	store := newTestStore(t)
	submitter, transport := newMockSubmitter(t)

	enqueueScan(t, store, "run-1", "cp-1")
	enqueueScan(t, store, "run-1", "cp-2")
	enqueueScan(t, store, "run-1", "cp-3")

	var mu sync.Mutex
	var order []string
	transport.RegisterResponder(http.MethodPost, "http://server.local/api/v1/patrols/run-1/scan",
		func(req *http.Request) (*http.Response, error) {
			mu.Lock()
			order = append(order, req.Header.Get("X-Idempotency-Key"))
			mu.Unlock()
			return httpmock.NewStringResponse(http.StatusOK, `{"accepted":true}`), nil
		})

	w := NewWorker(store, submitter, time.Minute, nil)
	require.NoError(t, w.Drain(context.Background()))

	pending, err := store.Pending(0)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Len(t, order, 3)
}

func TestDrain_TransientFailureHaltsBatch(t *testing.T) {
	store := newTestStore(t)
	submitter, transport := newMockSubmitter(t)

	enqueueScan(t, store, "run-1", "cp-1")
	enqueueScan(t, store, "run-1", "cp-2")

	transport.RegisterResponder(http.MethodPost, "http://server.local/api/v1/patrols/run-1/scan",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "upstream down"))

	w := NewWorker(store, submitter, time.Minute, nil)
	err := w.Drain(context.Background())
	require.Error(t, err)

	// Nothing was removed; the head action recorded the failed attempt.
	pending, perr := store.Pending(0)
	require.NoError(t, perr)
	require.Len(t, pending, 2)
	assert.Equal(t, 1, pending[0].AttemptCount)
	assert.Contains(t, pending[0].LastError, "503")
	assert.Equal(t, 0, pending[1].AttemptCount, "actions behind the halt are untouched")
}

func TestDrain_PermanentRejectionDropsAndContinues(t *testing.T) {
	store := newTestStore(t)
	submitter, transport := newMockSubmitter(t)

	bad := enqueueScan(t, store, "run-gone", "cp-1")
	good := enqueueScan(t, store, "run-1", "cp-1")

	transport.RegisterResponder(http.MethodPost, "http://server.local/api/v1/patrols/run-gone/scan",
		httpmock.NewStringResponder(http.StatusNotFound, "run not found"))
	transport.RegisterResponder(http.MethodPost, "http://server.local/api/v1/patrols/run-1/scan",
		httpmock.NewStringResponder(http.StatusOK, `{"accepted":true}`))

	w := NewWorker(store, submitter, time.Minute, nil)
	require.NoError(t, w.Drain(context.Background()))

	pending, err := store.Pending(0)
	require.NoError(t, err)
	assert.Empty(t, pending, "rejected action %d dropped, action %d delivered", bad.Seq, good.Seq)
}

func TestDrain_NetworkErrorIsTransient(t *testing.T) {
	store := newTestStore(t)
	submitter, transport := newMockSubmitter(t)

	enqueueScan(t, store, "run-1", "cp-1")
	transport.RegisterNoResponder(httpmock.ConnectionFailure)

	w := NewWorker(store, submitter, time.Minute, nil)
	require.Error(t, w.Drain(context.Background()))

	count, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestWorker_KickDrainsImmediately(t *testing.T) {
	// The store is closed via defer, not t.Cleanup, so its connection pool
	// is gone by the time the leak check runs.
	defer goleak.VerifyNone(t)

	store, err := OpenStore(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	submitter, transport := newMockSubmitter(t)

	enqueueScan(t, store, "run-1", "cp-1")

	delivered := make(chan struct{}, 1)
	transport.RegisterResponder(http.MethodPost, "http://server.local/api/v1/patrols/run-1/scan",
		func(*http.Request) (*http.Response, error) {
			select {
			case delivered <- struct{}{}:
			default:
			}
			return httpmock.NewStringResponse(http.StatusOK, `{"accepted":true}`), nil
		})

	w := NewWorker(store, submitter, time.Hour, nil)
	w.Start(context.Background())
	defer w.Stop()

	w.Kick()
	select {
	case <-delivered:
	case <-time.After(5 * time.Second):
		t.Fatal("kick did not trigger a drain cycle")
	}
}

func TestSubmitter_SetsHeaders(t *testing.T) {
	submitter, transport := newMockSubmitter(t)

	action, err := NewPanicAction(map[string]string{"guard_id": "guard-1"})
	require.NoError(t, err)

	transport.RegisterResponder(http.MethodPost, "http://server.local/api/v1/panic",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
			assert.Equal(t, action.IdempotencyKey, req.Header.Get("X-Idempotency-Key"))
			return httpmock.NewStringResponse(http.StatusCreated, `{}`), nil
		})

	require.NoError(t, submitter.Submit(context.Background(), action))
}
