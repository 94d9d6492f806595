package sync

import (
	"context"
	"errors"
	"time"
)

// StartAutoSync starts the periodic summary sync. When the remote is online
// a summary sync runs immediately, then once per interval. Ticks that find
// the coordinator offline or busy are skipped. Starting twice is a no-op.
func (c *Coordinator) StartAutoSync() {
	c.autoMu.Lock()
	defer c.autoMu.Unlock()

	if c.autoCancel != nil {
		return
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	ctx, cancel := context.WithCancel(c.ctx)
	done := make(chan struct{})
	c.autoCancel = cancel
	c.autoDone = done

	c.config.Logger.Printf("Auto-sync started (every %v)", c.interval)
	go c.autoLoop(ctx, c.interval, done)
}

// StopAutoSync stops the periodic sync and waits for the scheduler to exit.
// An attempt already running completes first.
func (c *Coordinator) StopAutoSync() {
	c.autoMu.Lock()
	cancel, done := c.autoCancel, c.autoDone
	c.autoCancel, c.autoDone = nil, nil
	c.autoMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.config.Logger.Printf("Auto-sync stopped")
}

// AutoSyncEnabled reports whether the scheduler is running.
func (c *Coordinator) AutoSyncEnabled() bool {
	c.autoMu.Lock()
	defer c.autoMu.Unlock()
	return c.autoCancel != nil
}

// Interval returns the auto-sync interval.
func (c *Coordinator) Interval() time.Duration {
	c.autoMu.Lock()
	defer c.autoMu.Unlock()
	return c.interval
}

// SetInterval changes the auto-sync interval. A running scheduler is
// restarted with the new interval.
func (c *Coordinator) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	c.autoMu.Lock()
	changed := c.interval != d
	c.interval = d
	running := c.autoCancel != nil
	c.autoMu.Unlock()

	if running && changed {
		c.StopAutoSync()
		c.StartAutoSync()
	}
}

func (c *Coordinator) autoLoop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	if c.conn.Online() {
		c.autoSync(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.autoSync(ctx)
		}
	}
}

func (c *Coordinator) autoSync(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res := c.Sync(ctx, StrategySummary)
	switch {
	case res.Err == nil:
	case errors.Is(res.Err, ErrOffline), errors.Is(res.Err, ErrSyncBusy), errors.Is(res.Err, ErrClosed):
		// skipped tick
	default:
		c.config.Logger.Printf("Auto-sync attempt failed: %v", res.Err)
	}
}
