package sync

import (
	"context"
	"time"

	"github.com/pharmacore/localsync/internal/store/schema"
)

// Store is the part of the local document store the coordinator uses.
//
// *db.Store implements it.
type Store interface {
	// Ready reports whether the store is open.
	Ready() bool

	// The Unsynced readers return the records awaiting sync together with
	// the stored text of each, keyed by id. The text is handed back to
	// MarkSynced after the remote acknowledged the records.

	// UnsyncedSummaries returns daily summaries awaiting sync.
	UnsyncedSummaries(ctx context.Context) ([]*schema.DailySalesSummary, map[string]string, error)

	// UnsyncedInventory returns inventory items awaiting sync.
	UnsyncedInventory(ctx context.Context) ([]*schema.InventoryItem, map[string]string, error)

	// UnsyncedTransactions returns transactions awaiting sync.
	UnsyncedTransactions(ctx context.Context) ([]*schema.Transaction, map[string]string, error)

	// MarkSynced records that the remote acknowledged the given
	// documents. Documents whose stored text no longer matches are skipped.
	MarkSynced(ctx context.Context, c schema.Collection, acked map[string]string, at time.Time) (int, error)

	// AppendSyncLog stores the outcome of one attempt.
	AppendSyncLog(ctx context.Context, entry *schema.SyncLogEntry) error
}

// Submitter delivers a batch to a remote endpoint and returns the ids the
// remote acknowledged.
//
// *transport.Client implements it.
type Submitter interface {
	Submit(ctx context.Context, endpoint string, payload interface{}) ([]string, error)
}

// Connectivity reports whether the remote is believed reachable.
//
// *monitor.Monitor implements it.
type Connectivity interface {
	Online() bool
}

// ConnectivityFunc adapts a function to Connectivity.
type ConnectivityFunc func() bool

// Online implements Connectivity.
func (f ConnectivityFunc) Online() bool { return f() }
