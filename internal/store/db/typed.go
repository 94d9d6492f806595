package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pharmacore/localsync/internal/store/schema"
)

// findAs runs Find and asserts the concrete record type.
func findAs[T schema.Record](ctx context.Context, s *Store, c schema.Collection, q Query) ([]T, error) {
	return typedFind[T](ctx, s, s.conn, c, q, nil)
}

// findVersionedAs is findAs that also returns the Versions of the records.
func findVersionedAs[T schema.Record](ctx context.Context, s *Store, c schema.Collection, q Query) ([]T, Versions, error) {
	versions := make(Versions)
	out, err := typedFind[T](ctx, s, s.conn, c, q, versions)
	if err != nil {
		return nil, nil, err
	}
	return out, versions, nil
}

func typedFind[T schema.Record](ctx context.Context, s *Store, src querier, c schema.Collection, q Query, versions Versions) ([]T, error) {
	recs, err := s.find(ctx, src, c, q, versions)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		typed, ok := rec.(T)
		if !ok {
			return nil, fmt.Errorf("unexpected record type %T in %s", rec, c)
		}
		out = append(out, typed)
	}
	return out, nil
}

// Orderings shared by the typed readers and Dump.
var (
	inventoryOrder   = Query{SortBy: "name"}
	transactionOrder = Query{SortBy: "timestamp", Descending: true}
	summaryOrder     = Query{SortBy: "date", Descending: true}
	syncLogOrder     = Query{SortBy: "timestamp", Descending: true}
)

// InventoryItems returns all inventory items ordered by name.
func (s *Store) InventoryItems(ctx context.Context) ([]*schema.InventoryItem, error) {
	return findAs[*schema.InventoryItem](ctx, s, schema.CollectionInventory, inventoryOrder)
}

// SearchInventory returns items whose name, generic name or SKU contains
// term, ignoring case.
func (s *Store) SearchInventory(ctx context.Context, term string) ([]*schema.InventoryItem, error) {
	seen := make(map[string]bool)
	var out []*schema.InventoryItem
	for _, field := range []string{"name", "genericName", "sku"} {
		items, err := findAs[*schema.InventoryItem](ctx, s, schema.CollectionInventory, Query{
			Where:  []Cond{Contains(field, term)},
			SortBy: "name",
		})
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if !seen[item.ID] {
				seen[item.ID] = true
				out = append(out, item)
			}
		}
	}
	if out == nil {
		out = []*schema.InventoryItem{}
	}
	return out, nil
}

// LowStockItems returns items at or below their reorder level.
func (s *Store) LowStockItems(ctx context.Context) ([]*schema.InventoryItem, error) {
	items, err := s.InventoryItems(ctx)
	if err != nil {
		return nil, err
	}
	out := []*schema.InventoryItem{}
	for _, item := range items {
		if item.NeedsReorder() {
			out = append(out, item)
		}
	}
	return out, nil
}

// Transactions returns transactions with from <= timestamp < to, newest
// first. A zero bound is open.
func (s *Store) Transactions(ctx context.Context, from, to time.Time) ([]*schema.Transaction, error) {
	var where []Cond
	if !from.IsZero() {
		where = append(where, Gte("timestamp", from))
	}
	if !to.IsZero() {
		where = append(where, Lt("timestamp", to))
	}
	q := transactionOrder
	q.Where = where
	return findAs[*schema.Transaction](ctx, s, schema.CollectionTransactions, q)
}

// UnsyncedInventory returns inventory items not yet acknowledged remotely.
func (s *Store) UnsyncedInventory(ctx context.Context) ([]*schema.InventoryItem, Versions, error) {
	return findVersionedAs[*schema.InventoryItem](ctx, s, schema.CollectionInventory, Query{
		Where:  []Cond{Eq("isSynced", false)},
		SortBy: "lastUpdated",
	})
}

// UnsyncedTransactions returns transactions not yet acknowledged remotely,
// oldest first.
func (s *Store) UnsyncedTransactions(ctx context.Context) ([]*schema.Transaction, Versions, error) {
	return findVersionedAs[*schema.Transaction](ctx, s, schema.CollectionTransactions, Query{
		Where:  []Cond{Eq("isSynced", false)},
		SortBy: "timestamp",
	})
}

// UnsyncedSummaries returns daily summaries not yet acknowledged remotely.
func (s *Store) UnsyncedSummaries(ctx context.Context) ([]*schema.DailySalesSummary, Versions, error) {
	return findVersionedAs[*schema.DailySalesSummary](ctx, s, schema.CollectionSalesSummary, Query{
		Where:  []Cond{Eq("isSynced", false)},
		SortBy: "date",
	})
}

// Summaries returns all daily summaries, newest date first.
func (s *Store) Summaries(ctx context.Context) ([]*schema.DailySalesSummary, error) {
	return findAs[*schema.DailySalesSummary](ctx, s, schema.CollectionSalesSummary, summaryOrder)
}

// DailySummary returns the summary for date (YYYY-MM-DD), or nil.
func (s *Store) DailySummary(ctx context.Context, date string) (*schema.DailySalesSummary, error) {
	out, err := findAs[*schema.DailySalesSummary](ctx, s, schema.CollectionSalesSummary, Query{
		Where: []Cond{Eq("date", date)},
		Limit: 1,
	})
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return out[0], nil
}

// SaveDailySummary stores the summary for its date. When a summary for the
// date already exists its content is replaced and its id kept. The saved
// summary is unsynced either way.
func (s *Store) SaveDailySummary(ctx context.Context, summary *schema.DailySalesSummary) (*schema.DailySalesSummary, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	def, err := definition(schema.CollectionSalesSummary, summary)
	if err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var existing string
	err = s.conn.QueryRowContext(ctx,
		`SELECT id FROM sales_summary WHERE json_extract(data, '$.date') = ? LIMIT 1`,
		summary.Date).Scan(&existing)
	switch {
	case err == nil:
		summary.ID = existing
	case isNoRows(err):
		if summary.ID == "" {
			summary.ID = def.IDPrefix + "_" + uuid.NewString()
		}
	default:
		return nil, fmt.Errorf("failed to look up summary for %s: %w", summary.Date, err)
	}

	summary.SetDefaults(s.now())
	if err := schema.Validate(schema.CollectionSalesSummary, summary); err != nil {
		return nil, err
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal summary: %w", err)
	}

	if existing == "" {
		if err := s.insertLocked(ctx, def, summary.ID, data); err != nil {
			return nil, err
		}
		return summary, nil
	}

	if _, err := s.conn.ExecContext(ctx, `UPDATE sales_summary SET data = ? WHERE id = ?`, string(data), summary.ID); err != nil {
		return nil, fmt.Errorf("failed to update summary %s: %w", summary.ID, err)
	}
	return summary, nil
}

// AppendSyncLog stores a sync log entry.
func (s *Store) AppendSyncLog(ctx context.Context, entry *schema.SyncLogEntry) error {
	_, err := s.Insert(ctx, schema.CollectionSyncLogs, entry)
	return err
}

// SyncLogs returns the most recent sync log entries, newest first
// (limit 0 = all).
func (s *Store) SyncLogs(ctx context.Context, limit int) ([]*schema.SyncLogEntry, error) {
	q := syncLogOrder
	q.Limit = limit
	return findAs[*schema.SyncLogEntry](ctx, s, schema.CollectionSyncLogs, q)
}

// Users returns all cached user records.
func (s *Store) Users(ctx context.Context) ([]*schema.UserRecord, error) {
	return findAs[*schema.UserRecord](ctx, s, schema.CollectionUsers, Query{})
}

// CollectionStats counts the documents of one collection.
type CollectionStats struct {
	Total    int `json:"total" yaml:"total"`
	Unsynced int `json:"unsynced" yaml:"unsynced"`
}

// Stats summarizes the content of a store.
type Stats struct {
	TenantID     string          `json:"tenantId" yaml:"tenantId"`
	Path         string          `json:"path" yaml:"path"`
	Inventory    CollectionStats `json:"inventory" yaml:"inventory"`
	Transactions CollectionStats `json:"transactions" yaml:"transactions"`
	Summaries    CollectionStats `json:"summaries" yaml:"summaries"`
	Users        int             `json:"users" yaml:"users"`
	SyncLogs     int             `json:"syncLogs" yaml:"syncLogs"`
}

// PendingSync returns the number of tracked documents awaiting sync.
func (st Stats) PendingSync() int {
	return st.Inventory.Unsynced + st.Transactions.Unsynced + st.Summaries.Unsynced
}

// Stats counts documents per collection.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{TenantID: s.tenantID, Path: s.path}

	tracked := []struct {
		c   schema.Collection
		out *CollectionStats
	}{
		{schema.CollectionInventory, &st.Inventory},
		{schema.CollectionTransactions, &st.Transactions},
		{schema.CollectionSalesSummary, &st.Summaries},
	}
	for _, t := range tracked {
		total, err := s.Count(ctx, t.c)
		if err != nil {
			return Stats{}, err
		}
		unsynced, err := s.Count(ctx, t.c, Eq("isSynced", false))
		if err != nil {
			return Stats{}, err
		}
		*t.out = CollectionStats{Total: total, Unsynced: unsynced}
	}

	var err error
	if st.Users, err = s.Count(ctx, schema.CollectionUsers); err != nil {
		return Stats{}, err
	}
	if st.SyncLogs, err = s.Count(ctx, schema.CollectionSyncLogs); err != nil {
		return Stats{}, err
	}
	return st, nil
}
