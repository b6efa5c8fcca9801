package commitlog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"zonecore/pkg/platform/sentinel"
)

// Checkpointer guards retention. The checkpoint may only advance once
// every registered consumer (replay windows, backups, escrow feeds) has
// confirmed it no longer needs older log data; "all known consumers have
// confirmed" is a precondition here, not a best-effort signal.
type Checkpointer struct {
	store Store
	log   *slog.Logger

	mu        sync.Mutex
	confirmed map[string]time.Time
}

// NewCheckpointer creates a Checkpointer over the given store.
func NewCheckpointer(store Store, log *slog.Logger) *Checkpointer {
	return &Checkpointer{
		store:     store,
		log:       log,
		confirmed: make(map[string]time.Time),
	}
}

// Register adds a consumer that must confirm watermarks before the
// checkpoint may pass them. Registering an existing consumer is a no-op.
func (c *Checkpointer) Register(consumer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.confirmed[consumer]; !ok {
		c.confirmed[consumer] = time.Time{}
	}
}

// Confirm records that the consumer has durably processed everything at
// or before watermark. Watermarks never move backwards.
func (c *Checkpointer) Confirm(consumer string, watermark time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.confirmed[consumer]; !ok || watermark.After(current) {
		c.confirmed[consumer] = watermark.UTC()
	}
}

// Watermarks returns a copy of the confirmed watermark per consumer.
func (c *Checkpointer) Watermarks() map[string]time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]time.Time, len(c.confirmed))
	for k, v := range c.confirmed {
		out[k] = v
	}
	return out
}

// Advance moves the checkpoint to t after verifying every registered
// consumer has confirmed t or later. Advancing past an unconfirmed
// consumer would make retained-but-needed log data eligible for deletion.
func (c *Checkpointer) Advance(ctx context.Context, t time.Time) error {
	c.mu.Lock()
	for consumer, watermark := range c.confirmed {
		if watermark.Before(t) {
			c.mu.Unlock()
			return fmt.Errorf("consumer %q confirmed only through %s: %w",
				consumer, watermark.Format(time.RFC3339), sentinel.ErrCheckpointBlocked)
		}
	}
	c.mu.Unlock()

	if err := c.store.AdvanceCheckpoint(ctx, t); err != nil {
		return err
	}
	c.log.InfoContext(ctx, "checkpoint advanced", "checkpoint", t.Format(time.RFC3339))
	return nil
}

// Purge deletes log data older than the current checkpoint.
func (c *Checkpointer) Purge(ctx context.Context) error {
	checkpoint, err := c.store.Checkpoint(ctx)
	if err != nil {
		return err
	}
	if checkpoint.IsZero() {
		return fmt.Errorf("no checkpoint established: %w", sentinel.ErrRetentionViolation)
	}
	if err := c.store.PurgeBefore(ctx, checkpoint); err != nil {
		return err
	}
	c.log.InfoContext(ctx, "commit log purged", "before", checkpoint.Format(time.RFC3339))
	return nil
}
