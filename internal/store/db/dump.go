package db

import (
	"context"
	"fmt"

	"github.com/pharmacore/localsync/internal/store/schema"
)

// Dump is the content of every collection, read at one point in time.
type Dump struct {
	Inventory    []*schema.InventoryItem
	Transactions []*schema.Transaction
	Summaries    []*schema.DailySalesSummary
	Users        []*schema.UserRecord
	SyncLogs     []*schema.SyncLogEntry
}

// Group runs fn as one unit with respect to Dump: a dump sees either none
// or all of the writes fn makes. Writes fn made before failing are kept.
// Groups run concurrently with each other.
func (s *Store) Group(fn func() error) error {
	s.groupMu.RLock()
	defer s.groupMu.RUnlock()
	return fn()
}

// Dump reads all collections in a single read transaction, so the result is
// consistent even while other callers write. It waits for running groups.
// maxLogs bounds the sync log history (0 = all), newest first.
func (s *Store) Dump(ctx context.Context, maxLogs int) (*Dump, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	s.groupMu.Lock()
	defer s.groupMu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer tx.Rollback()

	d := &Dump{}
	if d.Inventory, err = typedFind[*schema.InventoryItem](ctx, s, tx, schema.CollectionInventory, inventoryOrder, nil); err != nil {
		return nil, err
	}
	if d.Transactions, err = typedFind[*schema.Transaction](ctx, s, tx, schema.CollectionTransactions, transactionOrder, nil); err != nil {
		return nil, err
	}
	if d.Summaries, err = typedFind[*schema.DailySalesSummary](ctx, s, tx, schema.CollectionSalesSummary, summaryOrder, nil); err != nil {
		return nil, err
	}
	if d.Users, err = typedFind[*schema.UserRecord](ctx, s, tx, schema.CollectionUsers, Query{}, nil); err != nil {
		return nil, err
	}
	logs := syncLogOrder
	logs.Limit = maxLogs
	if d.SyncLogs, err = typedFind[*schema.SyncLogEntry](ctx, s, tx, schema.CollectionSyncLogs, logs, nil); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to end read transaction: %w", err)
	}
	return d, nil
}
