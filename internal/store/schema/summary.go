package schema

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// MaxTopSellingItems bounds the ranking kept on a daily summary.
const MaxTopSellingItems = 5

// DateLayout is the calendar-day format used by DailySalesSummary.Date.
const DateLayout = "2006-01-02"

// TopSellingItem is one entry of the daily revenue ranking.
type TopSellingItem struct {
	Name     string          `json:"name" validate:"required"`
	Quantity int             `json:"quantity" validate:"gte=0"`
	Revenue  decimal.Decimal `json:"revenue" validate:"gte=0"`
}

// DailySalesSummary aggregates one calendar day of sales for a tenant.
// There is at most one summary per date.
type DailySalesSummary struct {
	ID                 string           `json:"id" validate:"required,max=100"`
	Date               string           `json:"date" validate:"required,datetime=2006-01-02"`
	TotalSales         decimal.Decimal  `json:"totalSales" validate:"gte=0"`
	TotalTransactions  int              `json:"totalTransactions" validate:"gte=0"`
	CashSales          decimal.Decimal  `json:"cashSales" validate:"gte=0"`
	MobileMoneySales   decimal.Decimal  `json:"mobileMoneySales" validate:"gte=0"`
	AverageTransaction decimal.Decimal  `json:"averageTransaction" validate:"gte=0"`
	TopSellingItems    []TopSellingItem `json:"topSellingItems" validate:"max=5,dive"`
	UserID             string           `json:"userId,omitempty" validate:"max=100"`
	UserName           string           `json:"userName,omitempty"`

	IsSynced     bool       `json:"isSynced"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
}

func (s *DailySalesSummary) RecordID() string      { return s.ID }
func (s *DailySalesSummary) SetRecordID(id string) { s.ID = id }

// SetDefaults marks the summary unsynced.
func (s *DailySalesSummary) SetDefaults(now time.Time) {
	if s.TopSellingItems == nil {
		s.TopSellingItems = []TopSellingItem{}
	}
	s.IsSynced = false
	s.LastSyncedAt = utcPtr(s.LastSyncedAt)
}

// Validate checks the average and the ranking order.
func (s *DailySalesSummary) Validate() error {
	want := AverageTransaction(s.TotalSales, s.TotalTransactions)
	if s.AverageTransaction.Sub(want).Abs().GreaterThanOrEqual(decimal.New(1, -2)) {
		return fmt.Errorf("averageTransaction %s must equal totalSales / totalTransactions (%s)", s.AverageTransaction, want)
	}
	if len(s.TopSellingItems) > MaxTopSellingItems {
		return fmt.Errorf("topSellingItems holds at most %d entries (got %d)", MaxTopSellingItems, len(s.TopSellingItems))
	}
	for i := 1; i < len(s.TopSellingItems); i++ {
		if s.TopSellingItems[i].Revenue.GreaterThan(s.TopSellingItems[i-1].Revenue) {
			return fmt.Errorf("topSellingItems must be ranked by revenue descending")
		}
	}
	return nil
}

// AverageTransaction returns total / count rounded to cents, or zero when
// there were no transactions.
func AverageTransaction(total decimal.Decimal, count int) decimal.Decimal {
	if count <= 0 {
		return decimal.Zero
	}
	return total.DivRound(decimal.NewFromInt(int64(count)), 2)
}

// RankTopSelling sorts items by revenue descending (name breaks ties) and
// keeps the first MaxTopSellingItems.
func RankTopSelling(items []TopSellingItem) []TopSellingItem {
	ranked := make([]TopSellingItem, len(items))
	copy(ranked, items)
	sort.SliceStable(ranked, func(i, j int) bool {
		if c := ranked[i].Revenue.Cmp(ranked[j].Revenue); c != 0 {
			return c > 0
		}
		return ranked[i].Name < ranked[j].Name
	})
	if len(ranked) > MaxTopSellingItems {
		ranked = ranked[:MaxTopSellingItems]
	}
	return ranked
}
