// Package loadtest exercises a tenant store the way a busy pharmacy does.
//
// Several cashier terminals record sales concurrently while other clients
// search the inventory. Latencies are collected per operation and the
// stock levels are checked afterwards against what was sold.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pharmacore/localsync/internal/ledger"
	"github.com/pharmacore/localsync/internal/store/db"
	"github.com/pharmacore/localsync/internal/store/schema"
)

// InitialStock is the starting quantity of every generated item. It is
// high enough that no load run empties an item.
const InitialStock = 1_000_000

// Fixture is a populated store for load testing.
type Fixture struct {
	Store   *db.Store
	Ledger  *ledger.Ledger
	ItemIDs []string

	names map[string]string

	mu   sync.Mutex
	sold map[string]int
}

// LatencyStats captures performance metrics from a load run.
type LatencyStats struct {
	Min        time.Duration
	Max        time.Duration
	Mean       time.Duration
	P50        time.Duration // Median
	P95        time.Duration
	P99        time.Duration
	Operations int
	Errors     int
	Elapsed    time.Duration
}

// Throughput returns operations per second.
func (s *LatencyStats) Throughput() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Operations) / s.Elapsed.Seconds()
}

// NewFixture opens a store at dbPath and stocks it with items products.
func NewFixture(ctx context.Context, dbPath string, items int) (*Fixture, error) {
	quiet := log.New(io.Discard, "", 0)
	store, err := db.Open(ctx, dbPath, db.Options{TenantID: "loadtest", Logger: quiet})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	f := &Fixture{
		Store:   store,
		Ledger:  ledger.New(store, &ledger.Config{Logger: quiet}),
		ItemIDs: make([]string, 0, items),
		names:   make(map[string]string, items),
		sold:    make(map[string]int),
	}
	for _, item := range generateItems(items) {
		id, err := store.Insert(ctx, schema.CollectionInventory, item)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to insert %s: %w", item.Name, err)
		}
		f.ItemIDs = append(f.ItemIDs, id)
		f.names[id] = item.Name
	}
	return f, nil
}

// Close closes the store.
func (f *Fixture) Close() error {
	return f.Store.Close()
}

// RunSales runs cashiers concurrent terminals, each recording
// salesPerCashier sales of one to three lines.
func (f *Fixture) RunSales(ctx context.Context, cashiers, salesPerCashier int) (*LatencyStats, error) {
	if len(f.ItemIDs) == 0 {
		return nil, fmt.Errorf("fixture has no items")
	}

	return run(cashiers, func(worker int, record func(time.Duration, error)) {
		// Deterministic per terminal so runs are comparable.
		rng := rand.New(rand.NewSource(int64(worker) + 1))
		for j := 0; j < salesPerCashier; j++ {
			sale := f.randomSale(rng, worker, j)

			start := time.Now()
			_, err := f.Ledger.RecordSale(ctx, sale)
			record(time.Since(start), err)
			if err == nil {
				f.recordSold(sale)
			}
		}
	})
}

// RunLookups runs readers concurrent clients, each running queries
// inventory searches.
func (f *Fixture) RunLookups(ctx context.Context, readers, queries int) (*LatencyStats, error) {
	terms := []string{"para", "amox", "ibu", "vit", "zinc", "met"}

	return run(readers, func(worker int, record func(time.Duration, error)) {
		for j := 0; j < queries; j++ {
			start := time.Now()
			_, err := f.Store.SearchInventory(ctx, terms[(worker+j)%len(terms)])
			record(time.Since(start), err)
		}
	})
}

// VerifyStock checks that every item's quantity equals its initial stock
// minus what the load run sold.
func (f *Fixture) VerifyStock(ctx context.Context) error {
	items, err := f.Store.InventoryItems(ctx)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range items {
		if want := InitialStock - f.sold[item.ID]; item.Quantity != want {
			return fmt.Errorf("item %s: quantity %d, want %d", item.Name, item.Quantity, want)
		}
	}
	return nil
}

// Sold returns the total number of units sold so far.
func (f *Fixture) Sold() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, q := range f.sold {
		n += q
	}
	return n
}

func (f *Fixture) recordSold(sale *schema.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, line := range sale.Items {
		f.sold[line.ItemID] += line.Quantity
	}
}

func (f *Fixture) randomSale(rng *rand.Rand, worker, n int) *schema.Transaction {
	lines := make([]schema.LineItem, 0, 3)
	used := make(map[string]bool)
	for k := rng.Intn(3) + 1; k > 0; k-- {
		id := f.ItemIDs[rng.Intn(len(f.ItemIDs))]
		if used[id] {
			continue
		}
		used[id] = true
		lines = append(lines, schema.LineItem{
			ItemID:    id,
			Name:      f.names[id],
			Quantity:  rng.Intn(4) + 1,
			UnitPrice: decimal.New(int64(rng.Intn(2000)+50), -2),
		})
	}

	sale := schema.NewTransaction(fmt.Sprintf("T%02d-%06d", worker, n), lines, decimal.Zero, decimal.Zero)
	if rng.Intn(2) == 0 {
		sale.PaymentMethod = schema.PaymentCash
		sale.CashAmount = sale.Total.Ceil()
	} else {
		sale.PaymentMethod = schema.PaymentMobileMoney
		sale.MobileMoneyAmount = sale.Total
	}
	return sale
}

// run starts workers goroutines and aggregates the latencies they record.
func run(workers int, work func(worker int, record func(time.Duration, error))) (*LatencyStats, error) {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		durations []time.Duration
		errCount  int
		firstErr  error
	)

	start := time.Now()
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			work(worker, func(d time.Duration, err error) {
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errCount++
					if firstErr == nil {
						firstErr = fmt.Errorf("worker %d: %w", worker, err)
					}
					return
				}
				durations = append(durations, d)
			})
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	if len(durations) == 0 {
		if firstErr != nil {
			return nil, firstErr
		}
		return nil, fmt.Errorf("no operations completed")
	}

	stats := computeLatencyStats(durations)
	stats.Errors = errCount
	stats.Elapsed = elapsed
	return stats, nil
}

var productNames = []string{
	"Paracetamol 500mg", "Amoxicillin 250mg", "Ibuprofen 200mg", "Vitamin C 1000mg",
	"Zinc Sulfate 20mg", "Metformin 500mg", "Cetirizine 10mg", "Omeprazole 20mg",
}

// generateItems creates count products cycling through common names.
func generateItems(count int) []*schema.InventoryItem {
	items := make([]*schema.InventoryItem, count)
	for i := range items {
		name := productNames[i%len(productNames)]
		items[i] = &schema.InventoryItem{
			Name:         fmt.Sprintf("%s #%d", name, i),
			Category:     "load",
			SKU:          fmt.Sprintf("LT-%05d", i),
			Quantity:     InitialStock,
			ReorderLevel: 10,
			UnitPrice:    decimal.New(int64(100+i%50*25), -2),
		}
	}
	return items
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return &LatencyStats{
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		Mean:       sum / time.Duration(len(sorted)),
		P50:        sorted[len(sorted)*50/100],
		P95:        sorted[len(sorted)*95/100],
		P99:        sorted[len(sorted)*99/100],
		Operations: len(sorted),
	}
}

// Fprint writes the statistics under a title.
func (s *LatencyStats) Fprint(w io.Writer, title string) {
	fmt.Fprintf(w, "%s:\n", title)
	fmt.Fprintf(w, "  Operations:    %d (%.0f/s)\n", s.Operations, s.Throughput())
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
