package schema

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// InventoryItem is a stock-keeping unit held by the pharmacy.
type InventoryItem struct {
	ID           string          `json:"id" validate:"required,max=100"`
	Name         string          `json:"name" validate:"required"`
	GenericName  string          `json:"genericName,omitempty"`
	Category     string          `json:"category,omitempty" validate:"max=100"`
	Manufacturer string          `json:"manufacturer,omitempty"`
	SKU          string          `json:"sku,omitempty" validate:"max=100"`
	Quantity     int             `json:"quantity" validate:"gte=0"`
	ReorderLevel int             `json:"reorderLevel" validate:"gte=0"`
	UnitPrice    decimal.Decimal `json:"unitPrice" validate:"gte=0"`
	BatchNumber  string          `json:"batchNumber,omitempty"`
	ExpiryDate   string          `json:"expiryDate,omitempty" validate:"omitempty,datetime=2006-01-02"`

	// Bookkeeping. Every local write refreshes LastUpdated and clears IsSynced.
	LastUpdated  time.Time  `json:"lastUpdated" validate:"required"`
	IsSynced     bool       `json:"isSynced"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
}

func (i *InventoryItem) RecordID() string      { return i.ID }
func (i *InventoryItem) SetRecordID(id string) { i.ID = id }

// SetDefaults stamps the write time and marks the item dirty.
func (i *InventoryItem) SetDefaults(now time.Time) {
	i.LastUpdated = now.UTC()
	i.IsSynced = false
	i.LastSyncedAt = utcPtr(i.LastSyncedAt)
}

// Validate implements Record.
func (i *InventoryItem) Validate() error {
	if i.UnitPrice.IsNegative() {
		return fmt.Errorf("unitPrice must not be negative (got %s)", i.UnitPrice)
	}
	return nil
}

// NeedsReorder reports whether stock has fallen to the reorder level.
func (i *InventoryItem) NeedsReorder() bool {
	return i.Quantity <= i.ReorderLevel
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
