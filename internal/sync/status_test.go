package sync

import (
	"fmt"
	gosync "sync"
	"testing"
	"time"
)

func TestBus_DeliversInOrder(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	a := bus.Subscribe()
	b := bus.Subscribe()

	for i := 0; i < 50; i++ {
		bus.Publish(Status{Kind: StatusSyncing, Message: fmt.Sprint(i)})
	}

	for _, sub := range []*Subscription{a, b} {
		events := drain(t, sub, 50)
		for i, ev := range events {
			if ev.Message != fmt.Sprint(i) {
				t.Fatalf("event %d = %q, want %q", i, ev.Message, fmt.Sprint(i))
			}
		}
	}
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	slow := bus.Subscribe() // never read until the end
	fast := bus.Subscribe()

	// The fast subscriber reads while events are published.
	var fastLast string
	fastDone := make(chan struct{})
	go func() {
		defer close(fastDone)
		for {
			select {
			case ev := <-fast.C:
				fastLast = ev.Message
				if fastLast == "999" {
					return
				}
			case <-time.After(5 * time.Second):
				return
			}
		}
	}()

	published := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish(Status{Kind: StatusOnline, Message: fmt.Sprint(i)})
			time.Sleep(10 * time.Microsecond)
		}
		close(published)
	}()

	select {
	case <-published:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	<-fastDone
	if fastLast != "999" {
		t.Errorf("fast subscriber last event = %q, want 999", fastLast)
	}

	got := collect(slow, 100*time.Millisecond)
	if len(got) > subscriberQueue+1 {
		t.Errorf("slow subscriber received %d events, want at most %d", len(got), subscriberQueue+1)
	}
	if len(got) == 0 || got[len(got)-1].Message != "999" {
		t.Fatalf("slow subscriber should still get the latest event, got %d events", len(got))
	}
	if slow.Dropped() == 0 {
		t.Error("Dropped() = 0 for a subscriber that fell behind")
	}
	prev := -1
	for _, ev := range got {
		var n int
		fmt.Sscan(ev.Message, &n)
		if n <= prev {
			t.Fatalf("events out of order: %d after %d", n, prev)
		}
		prev = n
	}
}

// collect reads events until none arrives for idle.
func collect(sub *Subscription, idle time.Duration) []Status {
	var got []Status
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-time.After(idle):
			return got
		}
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe()
	if bus.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", bus.Len())
	}

	sub.Close()
	sub.Close() // idempotent
	if bus.Len() != 0 {
		t.Errorf("Len() after Close = %d, want 0", bus.Len())
	}

	bus.Publish(Status{Kind: StatusOffline})
	select {
	case _, ok := <-sub.C:
		if ok {
			t.Error("received an event after unsubscribing")
		}
	case <-time.After(time.Second):
		t.Error("channel not closed after unsubscribing")
	}
}

func TestBus_Close(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	bus.Close()

	if _, ok := <-sub.C; ok {
		t.Error("subscription channel should be closed")
	}

	late := bus.Subscribe()
	if _, ok := <-late.C; ok {
		t.Error("subscription on a closed bus should be closed")
	}
	bus.Publish(Status{Kind: StatusOnline}) // must not panic
}

func TestOnStatusChange(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var mu gosync.Mutex
	var got []StatusKind
	done := make(chan struct{})

	unsubscribe := bus.OnStatusChange(func(ev Status) {
		mu.Lock()
		got = append(got, ev.Kind)
		n := len(got)
		mu.Unlock()
		if n == 2 {
			close(done)
		}
	})

	bus.Publish(Status{Kind: StatusSyncing})
	bus.Publish(Status{Kind: StatusSuccess})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback not invoked")
	}

	unsubscribe()
	if bus.Len() != 0 {
		t.Errorf("Len() after unsubscribe = %d, want 0", bus.Len())
	}

	mu.Lock()
	defer mu.Unlock()
	if got[0] != StatusSyncing || got[1] != StatusSuccess {
		t.Errorf("callback order = %v", got)
	}
}
