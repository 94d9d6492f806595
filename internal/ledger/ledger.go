// Package ledger records point-of-sale transactions against the local
// store and rolls them up into daily sales summaries.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pharmacore/localsync/internal/store/schema"
)

// Store is the part of the tenant store the ledger needs.
type Store interface {
	Insert(ctx context.Context, c schema.Collection, rec schema.Record) (string, error)
	Update(ctx context.Context, c schema.Collection, id string, fn func(schema.Record) error) (schema.Record, error)
	Transactions(ctx context.Context, from, to time.Time) ([]*schema.Transaction, error)
	SaveDailySummary(ctx context.Context, summary *schema.DailySalesSummary) (*schema.DailySalesSummary, error)
	Group(fn func() error) error
}

// Config holds configuration for the ledger.
type Config struct {
	// Location defines calendar days for summaries (nil = time.Local).
	Location *time.Location

	// Logger for ledger activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Location: time.Local,
		Logger:   log.New(os.Stderr, "[ledger] ", log.LstdFlags),
	}
}

// Ledger records sales for one tenant store.
type Ledger struct {
	store  Store
	config *Config
}

// New creates a ledger.
func New(store Store, config *Config) *Ledger {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	return &Ledger{store: store, config: config}
}

// Receipt is the outcome of RecordSale.
type Receipt struct {
	TransactionID string
	Total         decimal.Decimal
	Change        decimal.Decimal

	// LowStock lists the sold items now at or below their reorder level.
	LowStock []*schema.InventoryItem
}

// RecordSale stores sale and takes the sold quantities out of stock.
//
// Totals are recomputed from the line items. For cash sales the change is
// derived from the tendered amount when not given. Lines that reference an
// inventory item decrement its quantity, never below zero. The sale is
// kept even when a stock update fails; those failures are returned
// together with the receipt.
func (l *Ledger) RecordSale(ctx context.Context, sale *schema.Transaction) (*Receipt, error) {
	sale.ComputeTotals()
	if sale.PaymentMethod == schema.PaymentCash && sale.Change.IsZero() && sale.CashAmount.GreaterThan(sale.Total) {
		sale.Change = sale.CashAmount.Sub(sale.Total)
	}

	// The sale and its stock updates appear together in backups.
	var (
		receipt *Receipt
		errs    []error
	)
	err := l.store.Group(func() error {
		id, err := l.store.Insert(ctx, schema.CollectionTransactions, sale)
		if err != nil {
			return fmt.Errorf("failed to record sale: %w", err)
		}
		receipt = &Receipt{TransactionID: id, Total: sale.Total, Change: sale.Change}

		for _, line := range sale.Items {
			if line.ItemID == "" {
				continue
			}
			item, err := l.decrement(ctx, line)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if item != nil && item.NeedsReorder() {
				receipt.LowStock = append(receipt.LowStock, item)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.config.Logger.Printf("Recorded sale %s (%s, %d line(s))", sale.TransactionNumber, sale.Total, len(sale.Items))
	if len(errs) > 0 {
		return receipt, fmt.Errorf("sale %s recorded but stock update failed: %w", receipt.TransactionID, errors.Join(errs...))
	}
	return receipt, nil
}

func (l *Ledger) decrement(ctx context.Context, line schema.LineItem) (*schema.InventoryItem, error) {
	rec, err := l.store.Update(ctx, schema.CollectionInventory, line.ItemID, func(r schema.Record) error {
		item := r.(*schema.InventoryItem)
		item.Quantity -= line.Quantity
		if item.Quantity < 0 {
			l.config.Logger.Printf("Warning: stock of %s went negative, clamping to 0", item.Name)
			item.Quantity = 0
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("item %s: %w", line.ItemID, err)
	}
	if rec == nil {
		l.config.Logger.Printf("Warning: sold item %s (%s) is not in inventory", line.ItemID, line.Name)
		return nil, nil
	}
	return rec.(*schema.InventoryItem), nil
}

// DayBounds returns the half-open interval covering date (YYYY-MM-DD) in
// the ledger's location.
func (l *Ledger) DayBounds(date string) (from, to time.Time, err error) {
	from, err = time.ParseInLocation(schema.DateLayout, date, l.config.Location)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return from, from.AddDate(0, 0, 1), nil
}

// ComputeDailySummary aggregates the transactions of date and saves the
// result as that day's summary. It returns nil when the day has no sales.
func (l *Ledger) ComputeDailySummary(ctx context.Context, date string) (*schema.DailySalesSummary, error) {
	from, to, err := l.DayBounds(date)
	if err != nil {
		return nil, err
	}
	txns, err := l.store.Transactions(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to read transactions for %s: %w", date, err)
	}
	if len(txns) == 0 {
		return nil, nil
	}

	summary := Summarize(date, txns)
	saved, err := l.store.SaveDailySummary(ctx, summary)
	if err != nil {
		return nil, fmt.Errorf("failed to save summary for %s: %w", date, err)
	}
	l.config.Logger.Printf("Summary for %s: %d transaction(s), %s total", date, saved.TotalTransactions, saved.TotalSales)
	return saved, nil
}

// Summarize aggregates txns into an unsaved summary for date. Attribution
// goes to the user of the first transaction in txns.
func Summarize(date string, txns []*schema.Transaction) *schema.DailySalesSummary {
	s := &schema.DailySalesSummary{
		Date:              date,
		TotalSales:        decimal.Zero,
		TotalTransactions: len(txns),
		CashSales:         decimal.Zero,
		MobileMoneySales:  decimal.Zero,
	}

	byName := make(map[string]*schema.TopSellingItem)
	var order []string
	for _, t := range txns {
		s.TotalSales = s.TotalSales.Add(t.Total)
		cash, mobile := splitTender(t)
		s.CashSales = s.CashSales.Add(cash)
		s.MobileMoneySales = s.MobileMoneySales.Add(mobile)

		for _, line := range t.Items {
			agg, ok := byName[line.Name]
			if !ok {
				agg = &schema.TopSellingItem{Name: line.Name, Revenue: decimal.Zero}
				byName[line.Name] = agg
				order = append(order, line.Name)
			}
			agg.Quantity += line.Quantity
			agg.Revenue = agg.Revenue.Add(line.LineTotal())
		}
	}

	items := make([]schema.TopSellingItem, 0, len(order))
	for _, name := range order {
		items = append(items, *byName[name])
	}
	s.TopSellingItems = schema.RankTopSelling(items)
	s.AverageTransaction = schema.AverageTransaction(s.TotalSales, s.TotalTransactions)

	if len(txns) > 0 {
		s.UserID = txns[0].UserID
		s.UserName = txns[0].UserName
	}
	return s
}

// splitTender divides a transaction total between cash and mobile money.
// Split payments attribute the net cash tendered to cash and the rest to
// mobile money.
func splitTender(t *schema.Transaction) (cash, mobile decimal.Decimal) {
	switch {
	case t.CashAmount.IsPositive() && t.MobileMoneyAmount.IsPositive():
		cash = decimal.Min(t.CashAmount.Sub(t.Change), t.Total)
		if cash.IsNegative() {
			cash = decimal.Zero
		}
		return cash, t.Total.Sub(cash)
	case t.PaymentMethod == schema.PaymentMobileMoney:
		return decimal.Zero, t.Total
	default:
		return t.Total, decimal.Zero
	}
}
