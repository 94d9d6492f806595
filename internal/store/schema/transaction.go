package schema

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod is how a sale was settled.
type PaymentMethod string

const (
	PaymentCash        PaymentMethod = "cash"
	PaymentMobileMoney PaymentMethod = "mobile-money"
)

// LineItem is one product line of a sale.
type LineItem struct {
	// ItemID optionally references the InventoryItem the line was sold from.
	ItemID    string          `json:"itemId,omitempty"`
	Name      string          `json:"name" validate:"required"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unitPrice" validate:"gte=0"`
}

// LineTotal returns quantity × unit price.
func (l LineItem) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Transaction is a completed point-of-sale transaction.
//
// Transactions are immutable once stored; only IsSynced and LastSyncedAt are
// ever rewritten, by the synchronization bookkeeping step.
type Transaction struct {
	ID                string          `json:"id" validate:"required,max=100"`
	TransactionNumber string          `json:"transactionNumber" validate:"required"`
	Items             []LineItem      `json:"items" validate:"required,min=1,dive"`
	Subtotal          decimal.Decimal `json:"subtotal" validate:"gte=0"`
	Tax               decimal.Decimal `json:"tax" validate:"gte=0"`
	Discount          decimal.Decimal `json:"discount" validate:"gte=0"`
	Total             decimal.Decimal `json:"total" validate:"gte=0"`
	PaymentMethod     PaymentMethod   `json:"paymentMethod" validate:"required,oneof=cash mobile-money"`
	CashAmount        decimal.Decimal `json:"cashAmount" validate:"gte=0"`
	MobileMoneyAmount decimal.Decimal `json:"mobileMoneyAmount" validate:"gte=0"`
	Change            decimal.Decimal `json:"change" validate:"gte=0"`
	CustomerName      string          `json:"customerName,omitempty"`
	Timestamp         time.Time       `json:"timestamp" validate:"required"`
	UserID            string          `json:"userId,omitempty" validate:"max=100"`
	UserName          string          `json:"userName,omitempty"`

	IsSynced     bool       `json:"isSynced"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
}

func (t *Transaction) RecordID() string      { return t.ID }
func (t *Transaction) SetRecordID(id string) { t.ID = id }

// SetDefaults fills a missing timestamp and marks the transaction unsynced.
func (t *Transaction) SetDefaults(now time.Time) {
	if t.Timestamp.IsZero() {
		t.Timestamp = now
	}
	t.Timestamp = t.Timestamp.UTC()
	t.IsSynced = false
	t.LastSyncedAt = utcPtr(t.LastSyncedAt)
}

// Validate checks that the stored amounts agree with the line items.
func (t *Transaction) Validate() error {
	subtotal, total := ComputeTotals(t.Items, t.Tax, t.Discount)
	if !t.Subtotal.Equal(subtotal) {
		return fmt.Errorf("subtotal %s does not match line items (%s)", t.Subtotal, subtotal)
	}
	if !t.Total.Equal(total) {
		return fmt.Errorf("total %s must equal subtotal - discount + tax (%s)", t.Total, total)
	}
	return nil
}

// ComputeTotals returns the sum of line totals and the payable total
// (subtotal − discount + tax).
func ComputeTotals(items []LineItem, tax, discount decimal.Decimal) (subtotal, total decimal.Decimal) {
	subtotal = decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal())
	}
	return subtotal, subtotal.Sub(discount).Add(tax)
}

// ComputeTotals recomputes Subtotal and Total from the line items.
func (t *Transaction) ComputeTotals() {
	t.Subtotal, t.Total = ComputeTotals(t.Items, t.Tax, t.Discount)
}

// NewTransaction builds a transaction with consistent totals.
func NewTransaction(number string, items []LineItem, tax, discount decimal.Decimal) *Transaction {
	t := &Transaction{
		TransactionNumber: number,
		Items:             items,
		Tax:               tax,
		Discount:          discount,
	}
	t.ComputeTotals()
	return t
}

// TransactionMetadata is the reduced projection of a transaction sent during
// full synchronization. Line items never leave the device this way.
type TransactionMetadata struct {
	ID                string          `json:"id"`
	TransactionNumber string          `json:"transactionNumber"`
	Total             decimal.Decimal `json:"total"`
	PaymentMethod     PaymentMethod   `json:"paymentMethod"`
	Timestamp         time.Time       `json:"timestamp"`
	UserID            string          `json:"userId,omitempty"`
}

// Metadata returns the privacy-reduced projection of t.
func (t *Transaction) Metadata() TransactionMetadata {
	return TransactionMetadata{
		ID:                t.ID,
		TransactionNumber: t.TransactionNumber,
		Total:             t.Total,
		PaymentMethod:     t.PaymentMethod,
		Timestamp:         t.Timestamp,
		UserID:            t.UserID,
	}
}
