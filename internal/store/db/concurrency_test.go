package db

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pharmacore/localsync/internal/store/schema"
)

// TestConcurrentUpdates_NoLostWrites runs many writers decrementing the same
// item while readers query the collection.
func TestConcurrentUpdates_NoLostWrites(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, schema.CollectionInventory, newItem("Paracetamol", 100, "0.50"))
	if err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	const writers = 20
	const readers = 5

	var wg sync.WaitGroup
	errCh := make(chan error, writers+readers)
	stop := make(chan struct{})

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, schema.CollectionInventory, id, func(rec schema.Record) error {
				rec.(*schema.InventoryItem).Quantity--
				return nil
			})
			if err != nil {
				errCh <- err
			}
		}()
	}

	var rwg sync.WaitGroup
	for i := 0; i < readers; i++ {
		rwg.Add(1)
		go func() {
			defer rwg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if _, _, err := s.UnsyncedInventory(ctx); err != nil {
					errCh <- err
					return
				}
				time.Sleep(time.Millisecond)
			}
		}()
	}

	wg.Wait()
	close(stop)
	rwg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("concurrent operation failed: %v", err)
	}

	rec, err := s.Get(ctx, schema.CollectionInventory, id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got := rec.(*schema.InventoryItem).Quantity; got != 100-writers {
		t.Errorf("Quantity = %d, want %d", got, 100-writers)
	}
}

// TestConcurrentInserts verifies parallel inserts of distinct documents all land.
func TestConcurrentInserts(t *testing.T) {
	s, now := testStore(t)
	ctx := context.Background()

	const agents = 10
	const perAgent = 10

	var wg sync.WaitGroup
	errCh := make(chan error, agents*perAgent)
	for a := 0; a < agents; a++ {
		wg.Add(1)
		go func(agent int) {
			defer wg.Done()
			for i := 0; i < perAgent; i++ {
				txn := newSale(fmt.Sprintf("TXN-%d-%d", agent, i), *now)
				if _, err := s.Insert(ctx, schema.CollectionTransactions, txn); err != nil {
					errCh <- err
				}
			}
		}(a)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("Insert() failed: %v", err)
	}

	n, err := s.Count(ctx, schema.CollectionTransactions, Eq("isSynced", false))
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if n != agents*perAgent {
		t.Errorf("Count() = %d, want %d", n, agents*perAgent)
	}
}
