package queue

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/guardtrack/guardtrack-go/internal/logging"
	"github.com/guardtrack/guardtrack-go/internal/observability"
)

// drainBatchSize bounds how many actions one drain cycle loads at a time.
const drainBatchSize = 100

// Worker drains the queue to the server. A single goroutine owns the drain
// loop, so at most one delivery is in flight and actions leave the device in
// sequence order. A transient failure halts the cycle and the worker backs
// off; a permanent rejection drops the one action and the cycle continues.
type Worker struct {
	store     *Store
	submitter Submitter
	interval  time.Duration
	metrics   *observability.Metrics
	logger    *slog.Logger

	kick   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker creates a drain worker waking every interval. metrics may be nil.
func NewWorker(store *Store, submitter Submitter, interval time.Duration, metrics *observability.Metrics) *Worker {
	return &Worker{
		store:     store,
		submitter: submitter,
		interval:  interval,
		metrics:   metrics,
		logger:    logging.ForService("queue"),
		kick:      make(chan struct{}, 1),
	}
}

// Start launches the drain loop. It drains once immediately so a backlog from
// a previous session does not wait for the first tick.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop halts the drain loop and waits for an in-flight cycle to finish.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// Kick requests an immediate drain cycle, typically on connectivity regain.
// Kicking while a cycle is queued or running is a no-op.
func (w *Worker) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Second
	bo.MaxInterval = w.interval
	bo.MaxElapsedTime = 0 // retry forever, the queue is the source of truth

	wait := w.interval
	timer := time.NewTimer(0) // immediate first drain
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-w.kick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			bo.Reset()
		}

		if err := w.Drain(ctx); err != nil {
			if w.metrics != nil {
				w.metrics.QueueRetries.Inc()
			}
			wait = bo.NextBackOff()
			w.logger.Warn("drain cycle halted, backing off",
				"error", err, "retry_in", wait)
		} else {
			bo.Reset()
			wait = w.interval
		}
		timer.Reset(wait)
	}
}

// Drain delivers pending actions in sequence order until the queue is empty
// or a transient failure stops the batch. It returns nil when the queue
// drained fully and the transient error otherwise.
func (w *Worker) Drain(ctx context.Context) error {
	for {
		actions, err := w.store.Pending(drainBatchSize)
		if err != nil {
			return err
		}
		if len(actions) == 0 {
			return nil
		}

		for i := range actions {
			action := &actions[i]
			if err := ctx.Err(); err != nil {
				return err
			}

			err := w.submitter.Submit(ctx, action)
			if err == nil {
				if err := w.store.Remove(action.Seq); err != nil {
					return err
				}
				if w.metrics != nil {
					w.metrics.QueueDelivered.Inc()
				}
				w.logger.Debug("action delivered",
					"seq", action.Seq, "kind", action.Kind)
				continue
			}

			var perm *PermanentError
			if stderrors.As(err, &perm) {
				// The server will never accept this action. Keeping it
				// would wedge everything queued behind it.
				if err := w.store.Remove(action.Seq); err != nil {
					return err
				}
				if w.metrics != nil {
					w.metrics.QueueDropped.Inc()
				}
				w.logger.Warn("action permanently rejected, dropped",
					"seq", action.Seq, "kind", action.Kind,
					"status", perm.StatusCode, "body", perm.Body)
				continue
			}

			// Transient: record the attempt and halt the cycle so order
			// is preserved for the next one.
			if recErr := w.store.RecordAttempt(action.Seq, err); recErr != nil {
				w.logger.Error("failed to record delivery attempt",
					"seq", action.Seq, "error", recErr)
			}
			return err
		}
	}
}
