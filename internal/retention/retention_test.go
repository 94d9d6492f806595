package retention

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pharmacore/localsync/internal/store/db"
	"github.com/pharmacore/localsync/internal/store/schema"
)

var now = time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)

func setupTestStore(t *testing.T) *db.Store {
	t.Helper()
	s, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), db.Options{
		TenantID: "t1",
		Logger:   log.New(io.Discard, "", 0),
		Now:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// addSale stores a sale dated at and optionally marks it synced.
func addSale(t *testing.T, s *db.Store, number string, at time.Time, synced bool) string {
	t.Helper()
	txn := schema.NewTransaction(number, []schema.LineItem{
		{Name: "Ibuprofen", Quantity: 1, UnitPrice: decimal.NewFromInt(4)},
	}, decimal.Zero, decimal.Zero)
	txn.PaymentMethod = schema.PaymentCash
	txn.Timestamp = at
	id, err := s.Insert(context.Background(), schema.CollectionTransactions, txn)
	if err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if synced {
		_, versions, err := s.UnsyncedTransactions(context.Background())
		if err != nil {
			t.Fatalf("UnsyncedTransactions() failed: %v", err)
		}
		acked := db.Versions{id: versions[id]}
		if n, err := s.MarkSynced(context.Background(), schema.CollectionTransactions, acked, now); err != nil || n != 1 {
			t.Fatalf("MarkSynced() = (%d, %v), want 1", n, err)
		}
	}
	return id
}

func newTestSweeper(s Store) *Sweeper {
	sw := New(s, log.New(io.Discard, "", 0))
	sw.Now = func() time.Time { return now }
	return sw
}

func TestSweep_Boundary(t *testing.T) {
	s := setupTestStore(t)
	cutoff := now.AddDate(0, 0, -30)

	atCutoff := addSale(t, s, "AT-CUTOFF", cutoff, true)
	older := addSale(t, s, "OLDER", cutoff.AddDate(0, 0, -200), true)
	younger := addSale(t, s, "YOUNGER", cutoff.AddDate(0, 0, 1), true)
	unsyncedOld := addSale(t, s, "UNSYNCED", cutoff.AddDate(-2, 0, 0), false)

	sw := newTestSweeper(s)

	pending, err := sw.Pending(context.Background(), 30)
	if err != nil {
		t.Fatalf("Pending() failed: %v", err)
	}
	if pending != 2 {
		t.Errorf("Pending() = %d, want 2", pending)
	}

	n, err := sw.Sweep(context.Background(), 30)
	if err != nil {
		t.Fatalf("Sweep() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Sweep() = %d, want 2", n)
	}

	for id, want := range map[string]bool{atCutoff: false, older: false, younger: true, unsyncedOld: true} {
		rec, err := s.Get(context.Background(), schema.CollectionTransactions, id)
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		if got := rec != nil; got != want {
			t.Errorf("transaction %s kept = %v, want %v", id, got, want)
		}
	}

	// A second sweep finds nothing.
	if n, _ := sw.Sweep(context.Background(), 30); n != 0 {
		t.Errorf("second Sweep() = %d, want 0", n)
	}
}

func TestSweep_DefaultWindow(t *testing.T) {
	s := setupTestStore(t)
	sw := newTestSweeper(s)

	addSale(t, s, "D89", now.AddDate(0, 0, -89), true)
	addSale(t, s, "D90", now.AddDate(0, 0, -DefaultDays), true)
	addSale(t, s, "D91", now.AddDate(0, 0, -91), true)

	for _, days := range []int{0, -5} {
		if got := sw.Cutoff(days); !got.Equal(now.AddDate(0, 0, -DefaultDays)) {
			t.Errorf("Cutoff(%d) = %v", days, got)
		}
	}

	n, err := sw.Sweep(context.Background(), 0)
	if err != nil {
		t.Fatalf("Sweep() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Sweep(0) = %d, want 2", n)
	}
}

func TestSweep_ClosedStore(t *testing.T) {
	s := setupTestStore(t)
	_ = s.Close()

	if _, err := newTestSweeper(s).Sweep(context.Background(), 30); err == nil {
		t.Error("Sweep() on a closed store should fail")
	}
}
