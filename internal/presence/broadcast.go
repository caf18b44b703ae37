package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/guardtrack/guardtrack-go/internal/logging"
)

// Publisher is the narrow messaging surface the broadcaster needs; the MQTT
// client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic, payload string) error
}

// Frame is one batched presence broadcast for a site.
type Frame struct {
	SiteID    string    `json:"site_id"`
	Guards    []Record  `json:"guards"`
	Timestamp time.Time `json:"timestamp"`
}

// Broadcaster periodically flushes batched presence updates to per-site
// topics. It pushes on a fixed tick instead of on every write, bounding both
// broadcast volume and registry lock contention.
type Broadcaster struct {
	registry    *Registry
	publisher   Publisher
	interval    time.Duration
	topicPrefix string
	logger      *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBroadcaster creates a broadcaster flushing every interval to topics
// under the given prefix.
func NewBroadcaster(registry *Registry, publisher Publisher, interval time.Duration, topicPrefix string) *Broadcaster {
	return &Broadcaster{
		registry:    registry,
		publisher:   publisher,
		interval:    interval,
		topicPrefix: topicPrefix,
		logger:      logging.ForService("presence-broadcast"),
	}
}

// Start launches the broadcast loop. Call Stop to terminate it.
func (b *Broadcaster) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.tick(ctx)
			}
		}
	}()

	b.logger.Info("presence broadcaster started", "interval", b.interval)
}

// Stop terminates the broadcast loop and waits for it to exit.
func (b *Broadcaster) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
}

// tick flushes one batched broadcast per site with updates since the last
// tick. An empty registry is not an error; the tick simply publishes
// nothing.
func (b *Broadcaster) tick(ctx context.Context) {
	updates := b.registry.ConsumeUpdates()
	if len(updates) == 0 {
		return
	}

	now := time.Now()
	for siteID, guards := range updates {
		frame := Frame{SiteID: siteID, Guards: guards, Timestamp: now}
		payload, err := json.Marshal(frame)
		if err != nil {
			b.logger.Error("failed to encode presence frame", "site_id", siteID, "error", err)
			continue
		}

		topic := fmt.Sprintf("%s/site/%s/presence", b.topicPrefix, siteID)
		if err := b.publisher.Publish(ctx, topic, string(payload)); err != nil {
			b.logger.Warn("presence broadcast failed",
				"site_id", siteID,
				"guards", len(guards),
				"error", err)
			continue
		}

		b.logger.Debug("presence frame published", "site_id", siteID, "guards", len(guards))
	}
}
