// Package retention purges old transactions that the remote service has
// already acknowledged. Unsynced transactions are never deleted.
package retention

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pharmacore/localsync/internal/store/db"
	"github.com/pharmacore/localsync/internal/store/schema"
)

// DefaultDays is the retention window used when none is given.
const DefaultDays = 90

// Store is the part of the tenant store the sweeper needs.
type Store interface {
	Count(ctx context.Context, c schema.Collection, conds ...db.Cond) (int, error)
	RemoveWhere(ctx context.Context, c schema.Collection, conds ...db.Cond) (int, error)
}

// Sweeper deletes expired transactions.
type Sweeper struct {
	store  Store
	logger *log.Logger

	// Now overrides the clock (nil = time.Now).
	Now func() time.Time
}

// New creates a sweeper. A nil logger logs to stderr.
func New(store Store, logger *log.Logger) *Sweeper {
	if logger == nil {
		logger = log.New(os.Stderr, "[retention] ", log.LstdFlags)
	}
	return &Sweeper{store: store, logger: logger, Now: time.Now}
}

// Cutoff returns the newest timestamp a transaction may carry and still be
// swept, for a window of days (DefaultDays when days <= 0).
func (s *Sweeper) Cutoff(days int) time.Time {
	if days <= 0 {
		days = DefaultDays
	}
	return s.Now().UTC().AddDate(0, 0, -days)
}

func expired(cutoff time.Time) []db.Cond {
	return []db.Cond{
		db.Eq("isSynced", true),
		db.Lte("timestamp", cutoff),
	}
}

// Pending counts the transactions Sweep(ctx, days) would delete.
func (s *Sweeper) Pending(ctx context.Context, days int) (int, error) {
	n, err := s.store.Count(ctx, schema.CollectionTransactions, expired(s.Cutoff(days))...)
	if err != nil {
		return 0, fmt.Errorf("failed to count expired transactions: %w", err)
	}
	return n, nil
}

// Sweep deletes synced transactions dated at or before the cutoff and
// returns how many were deleted.
func (s *Sweeper) Sweep(ctx context.Context, days int) (int, error) {
	cutoff := s.Cutoff(days)
	n, err := s.store.RemoveWhere(ctx, schema.CollectionTransactions, expired(cutoff)...)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep transactions: %w", err)
	}
	s.logger.Printf("Deleted %d synced transaction(s) dated on or before %s", n, cutoff.Format(time.RFC3339))
	return n, nil
}
