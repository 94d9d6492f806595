package sync

import (
	"context"
	"testing"
	"time"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAutoSync_RunsImmediatelyWhenOnline(t *testing.T) {
	store := setupTestStore(t)
	remote := newFakeRemote()
	c := newTestCoordinator(t, store, remote, onlineFlag(true))
	addSummaries(t, store, "2025-03-01")

	c.StartAutoSync()
	defer c.StopAutoSync()

	if !c.AutoSyncEnabled() {
		t.Error("AutoSyncEnabled() = false after start")
	}
	waitFor(t, "initial sync", func() bool { return len(remote.Calls()) == 1 })
	waitFor(t, "sync log", func() bool { return len(syncLogs(t, store)) == 1 })
}

func TestAutoSync_SkipsWhileOffline(t *testing.T) {
	store := setupTestStore(t)
	remote := newFakeRemote()
	online := onlineFlag(false)
	c := newTestCoordinator(t, store, remote, online)
	c.SetInterval(10 * time.Millisecond)
	addSummaries(t, store, "2025-03-01")

	c.StartAutoSync()
	defer c.StopAutoSync()

	time.Sleep(60 * time.Millisecond)
	if n := len(remote.Calls()); n != 0 {
		t.Fatalf("offline ticks made %d call(s)", n)
	}
	if n := len(syncLogs(t, store)); n != 0 {
		t.Fatalf("offline ticks wrote %d log(s)", n)
	}

	online.Store(true)
	waitFor(t, "sync after reconnect", func() bool { return len(remote.Calls()) >= 1 })
}

func TestAutoSync_TicksAndStops(t *testing.T) {
	store := setupTestStore(t)
	remote := newFakeRemote()
	c := newTestCoordinator(t, store, remote, onlineFlag(true))
	c.SetInterval(10 * time.Millisecond)

	c.StartAutoSync()
	c.StartAutoSync() // no-op

	// Every tick with nothing to send still completes and logs an attempt.
	waitFor(t, "several ticks", func() bool { return len(syncLogs(t, store)) >= 3 })

	c.StopAutoSync()
	if c.AutoSyncEnabled() {
		t.Error("AutoSyncEnabled() = true after stop")
	}
	n := len(syncLogs(t, store))
	time.Sleep(50 * time.Millisecond)
	if after := len(syncLogs(t, store)); after != n {
		t.Errorf("ticks continued after stop: %d -> %d", n, after)
	}
	c.StopAutoSync() // no-op
}

func TestSetInterval(t *testing.T) {
	store := setupTestStore(t)
	remote := newFakeRemote()
	c := newTestCoordinator(t, store, remote, onlineFlag(true))

	if c.Interval() != time.Hour {
		t.Fatalf("Interval() = %v, want 1h", c.Interval())
	}

	c.SetInterval(0)
	if c.Interval() != time.Hour {
		t.Errorf("SetInterval(0) changed interval to %v", c.Interval())
	}

	// Restarting the running scheduler picks up the shorter interval.
	c.StartAutoSync()
	waitFor(t, "initial sync", func() bool { return len(syncLogs(t, store)) == 1 })
	c.SetInterval(10 * time.Millisecond)
	if !c.AutoSyncEnabled() {
		t.Fatal("scheduler not running after SetInterval")
	}
	waitFor(t, "ticks at new interval", func() bool { return len(syncLogs(t, store)) >= 4 })
	c.StopAutoSync()
}

func TestClose_StopsAutoSync(t *testing.T) {
	store := setupTestStore(t)
	c := newTestCoordinator(t, store, newFakeRemote(), onlineFlag(true))
	c.SetInterval(10 * time.Millisecond)
	c.StartAutoSync()

	if err := c.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if c.AutoSyncEnabled() {
		t.Error("auto-sync still enabled after Close")
	}
	c.StartAutoSync()
	if c.AutoSyncEnabled() {
		t.Error("StartAutoSync after Close must be a no-op")
	}
	if res := c.Sync(context.Background(), StrategySummary); res.Err == nil {
		t.Error("Sync after Close should fail")
	}
}
