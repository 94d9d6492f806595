package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pharmacore/localsync/internal/store/schema"
)

func TestDump(t *testing.T) {
	s, now := testStore(t)
	ctx := context.Background()

	for _, name := range []string{"Zinc", "Amoxicillin"} {
		if _, err := s.Insert(ctx, schema.CollectionInventory, newItem(name, 5, "1.00")); err != nil {
			t.Fatalf("Insert() failed: %v", err)
		}
	}
	if _, err := s.Insert(ctx, schema.CollectionTransactions, newSale("T-1", *now)); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		entry := &schema.SyncLogEntry{
			Timestamp: now.Add(time.Duration(i) * time.Minute),
			Type:      schema.SyncTypeSummary,
			Status:    schema.SyncStatusSuccess,
		}
		if err := s.AppendSyncLog(ctx, entry); err != nil {
			t.Fatalf("AppendSyncLog() failed: %v", err)
		}
	}

	d, err := s.Dump(ctx, 2)
	if err != nil {
		t.Fatalf("Dump() failed: %v", err)
	}
	if len(d.Inventory) != 2 || d.Inventory[0].Name != "Amoxicillin" {
		t.Errorf("Inventory = %d items, want 2 ordered by name", len(d.Inventory))
	}
	if len(d.Transactions) != 1 || len(d.Users) != 0 || len(d.Summaries) != 0 {
		t.Errorf("Dump() = %d transactions, %d users, %d summaries", len(d.Transactions), len(d.Users), len(d.Summaries))
	}
	if len(d.SyncLogs) != 2 || !d.SyncLogs[0].Timestamp.After(d.SyncLogs[1].Timestamp) {
		t.Errorf("SyncLogs = %d entries, want the newest 2", len(d.SyncLogs))
	}
}

func TestDump_WaitsForGroup(t *testing.T) {
	s, now := testStore(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, schema.CollectionInventory, newItem("Paracetamol", 10, "2.50"))
	if err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	inserted := make(chan struct{})
	release := make(chan struct{})
	groupDone := make(chan error, 1)
	go func() {
		groupDone <- s.Group(func() error {
			if _, err := s.Insert(ctx, schema.CollectionTransactions, newSale("T-1", *now)); err != nil {
				return err
			}
			close(inserted)
			<-release
			_, err := s.Patch(ctx, schema.CollectionInventory, id, map[string]interface{}{"quantity": 8})
			return err
		})
	}()
	<-inserted

	dumped := make(chan *Dump, 1)
	go func() {
		d, err := s.Dump(ctx, 0)
		if err != nil {
			t.Errorf("Dump() failed: %v", err)
		}
		dumped <- d
	}()

	select {
	case <-dumped:
		t.Fatal("Dump() returned while a group was half done")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := <-groupDone; err != nil {
		t.Fatalf("Group() failed: %v", err)
	}
	d := <-dumped
	if d == nil {
		t.FailNow()
	}
	if len(d.Transactions) != 1 || d.Inventory[0].Quantity != 8 {
		t.Errorf("Dump() = %d transactions, quantity %d, want 1 and 8", len(d.Transactions), d.Inventory[0].Quantity)
	}

	wantErr := errors.New("boom")
	if err := s.Group(func() error { return wantErr }); !errors.Is(err, wantErr) {
		t.Errorf("Group() = %v, want %v", err, wantErr)
	}
}
