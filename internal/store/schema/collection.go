package schema

import (
	"fmt"
	"reflect"
	"time"
)

// Collection names one of the fixed document collections of a tenant store.
type Collection string

const (
	CollectionInventory    Collection = "inventory"
	CollectionTransactions Collection = "transactions"
	CollectionSalesSummary Collection = "sales_summary"
	CollectionUsers        Collection = "users"
	CollectionSyncLogs     Collection = "sync_logs"
)

// String returns the collection name.
func (c Collection) String() string {
	return string(c)
}

// Record is implemented by every document type stored in a collection.
type Record interface {
	// RecordID returns the primary key ("" when not yet assigned).
	RecordID() string
	// SetRecordID assigns the primary key.
	SetRecordID(id string)
	// SetDefaults applies the write rules of the collection: timestamps are
	// normalized to UTC, missing timestamps are filled with now and tracked
	// records are marked dirty.
	SetDefaults(now time.Time)
	// Validate checks cross-field invariants that struct tags cannot express.
	Validate() error
}

// Definition describes a collection to the document store.
type Definition struct {
	Collection Collection

	// IDPrefix is prepended to generated ids: {prefix}_{uuid}.
	IDPrefix string

	// Indexes lists the document fields that get an expression index.
	Indexes []string

	// TimeFields lists fields holding timestamps; range filters and sorting on
	// them compare instants rather than strings.
	TimeFields []string

	// Unique lists fields whose value may appear in at most one document.
	Unique []string

	// Tracked collections carry isSynced/lastSyncedAt bookkeeping.
	Tracked bool

	// Immutable collections reject patches after creation. Sync bookkeeping
	// is still allowed on tracked immutable collections.
	Immutable bool

	// New allocates an empty record of the collection's type.
	New func() Record
}

// IsTimeField reports whether field holds a timestamp.
func (d *Definition) IsTimeField(field string) bool {
	for _, f := range d.TimeFields {
		if f == field {
			return true
		}
	}
	return false
}

// Owns reports whether rec has the Go type stored in this collection.
func (d *Definition) Owns(rec Record) bool {
	if rec == nil {
		return false
	}
	return reflect.TypeOf(rec) == reflect.TypeOf(d.New())
}

var definitions = []*Definition{
	{
		Collection: CollectionInventory,
		IDPrefix:   "inv",
		Indexes:    []string{"category", "sku", "isSynced", "lastUpdated"},
		TimeFields: []string{"lastUpdated", "lastSyncedAt"},
		Tracked:    true,
		New:        func() Record { return &InventoryItem{} },
	},
	{
		Collection: CollectionTransactions,
		IDPrefix:   "txn",
		Indexes:    []string{"timestamp", "isSynced", "userId", "paymentMethod"},
		TimeFields: []string{"timestamp", "lastSyncedAt"},
		Tracked:    true,
		Immutable:  true,
		New:        func() Record { return &Transaction{} },
	},
	{
		Collection: CollectionSalesSummary,
		IDPrefix:   "summary",
		Indexes:    []string{"date", "isSynced", "userId"},
		TimeFields: []string{"lastSyncedAt"},
		Unique:     []string{"date"},
		Tracked:    true,
		New:        func() Record { return &DailySalesSummary{} },
	},
	{
		Collection: CollectionUsers,
		IDPrefix:   "user",
		Indexes:    []string{"email", "tenantId"},
		TimeFields: []string{"lastLogin", "shiftStart", "shiftEnd"},
		New:        func() Record { return &UserRecord{} },
	},
	{
		Collection: CollectionSyncLogs,
		IDPrefix:   "log",
		Indexes:    []string{"timestamp", "type", "status"},
		TimeFields: []string{"timestamp"},
		Immutable:  true,
		New:        func() Record { return &SyncLogEntry{} },
	},
}

// Collections returns the registered collections in registration order.
func Collections() []Collection {
	out := make([]Collection, 0, len(definitions))
	for _, d := range definitions {
		out = append(out, d.Collection)
	}
	return out
}

// Lookup returns the definition of a collection.
func Lookup(c Collection) (*Definition, error) {
	for _, d := range definitions {
		if d.Collection == c {
			return d, nil
		}
	}
	return nil, fmt.Errorf("unknown collection: %q", c)
}
