package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/pharmacore/localsync/internal/store/schema"
	"github.com/pharmacore/localsync/internal/sync/transport"
)

// Strategy selects what a sync attempt sends.
type Strategy string

const (
	// StrategySummary sends unsynced daily summaries only.
	StrategySummary Strategy = "summary"
	// StrategyFull sends unsynced inventory, transaction metadata and
	// daily summaries, in that order.
	StrategyFull Strategy = "full"
)

// State is the coordinator's sync state.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
)

// Result is the outcome of a Sync call.
type Result struct {
	Success     bool
	Message     string
	SyncedCount int
	// Err is nil on success. Rejected requests carry one of the package
	// sentinels; failed attempts carry the underlying error.
	Err error
}

// Config holds configuration for the coordinator.
type Config struct {
	// Interval between automatic summary syncs.
	Interval time.Duration

	// NodeID seeds the generator of sync log ids (0-1023).
	NodeID int64

	// Logger for coordinator activity.
	Logger *log.Logger

	// Now overrides the clock (nil = time.Now).
	Now func() time.Time
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval: 15 * time.Minute,
		NodeID:   1,
		Logger:   log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// Coordinator runs synchronization attempts for one tenant store.
type Coordinator struct {
	store  Store
	remote Submitter
	conn   Connectivity
	config *Config
	bus    *Bus
	ids    *snowflake.Node

	syncing atomic.Bool

	mu       gosync.Mutex
	closed   bool
	lastSync time.Time

	// auto-sync scheduler
	autoMu     gosync.Mutex
	interval   time.Duration
	autoCancel context.CancelFunc
	autoDone   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

// New creates a coordinator. The store may be closed later; Sync then
// reports ErrStoreNotReady.
func New(store Store, remote Submitter, conn Connectivity, config *Config) (*Coordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if remote == nil {
		return nil, fmt.Errorf("remote cannot be nil")
	}
	if conn == nil {
		return nil, fmt.Errorf("connectivity cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	node, err := snowflake.NewNode(config.NodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create id generator: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		store:    store,
		remote:   remote,
		conn:     conn,
		config:   config,
		bus:      NewBus(),
		ids:      node,
		interval: config.Interval,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Bus returns the status bus.
func (c *Coordinator) Bus() *Bus { return c.bus }

// Subscribe is shorthand for Bus().Subscribe().
func (c *Coordinator) Subscribe() *Subscription { return c.bus.Subscribe() }

// OnStatusChange is shorthand for Bus().OnStatusChange(fn).
func (c *Coordinator) OnStatusChange(fn func(Status)) (unsubscribe func()) {
	return c.bus.OnStatusChange(fn)
}

// Publish stamps ev (when it has no timestamp) and publishes it.
func (c *Coordinator) Publish(ev Status) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = c.config.Now().UTC()
	}
	c.bus.Publish(ev)
}

// IsSyncing reports whether an attempt is in flight.
func (c *Coordinator) IsSyncing() bool { return c.syncing.Load() }

// State returns StateSyncing while an attempt is in flight, else StateIdle.
func (c *Coordinator) State() State {
	if c.syncing.Load() {
		return StateSyncing
	}
	return StateIdle
}

// LastSync returns the time of the last successful sync (zero if none).
func (c *Coordinator) LastSync() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSync
}

// Sync runs one synchronization attempt with the given strategy.
//
// The request is rejected without side effects when the coordinator is
// closed, the strategy is unknown, the store is not ready
// (ErrStoreNotReady), the remote is offline (ErrOffline) or another attempt
// is in flight (ErrSyncBusy). Otherwise the attempt runs to completion on
// the coordinator's lifetime, independent of ctx cancellation; ctx only
// contributes values.
func (c *Coordinator) Sync(ctx context.Context, strategy Strategy) Result {
	if strategy != StrategySummary && strategy != StrategyFull {
		return rejected(fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy))
	}
	if !c.store.Ready() {
		return rejected(ErrStoreNotReady)
	}
	if !c.conn.Online() {
		return rejected(ErrOffline)
	}
	if !c.syncing.CompareAndSwap(false, true) {
		return rejected(ErrSyncBusy)
	}
	defer c.syncing.Store(false)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return rejected(ErrClosed)
	}
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	return c.run(runCtx, strategy)
}

func rejected(err error) Result {
	return Result{Message: err.Error(), Err: err}
}

func (c *Coordinator) run(ctx context.Context, strategy Strategy) Result {
	c.Publish(Status{Kind: StatusSyncing, Strategy: strategy, Message: fmt.Sprintf("Starting %s sync", strategy)})
	c.config.Logger.Printf("Starting %s sync", strategy)

	var synced int
	var err error
	switch strategy {
	case StrategySummary:
		synced, err = c.syncSummaries(ctx)
	case StrategyFull:
		synced, err = c.syncFull(ctx)
	}

	now := c.config.Now()
	entry := &schema.SyncLogEntry{
		ID:          "log_" + c.ids.Generate().String(),
		Timestamp:   now,
		Type:        schema.SyncType(strategy),
		RecordCount: synced,
	}

	var res Result
	if err != nil {
		res = Result{
			Success:     false,
			Message:     fmt.Sprintf("Sync failed: %v", err),
			SyncedCount: synced,
			Err:         err,
		}
		entry.Status = schema.SyncStatusFailed
		entry.ErrorMessage = err.Error()
		c.config.Logger.Printf("%s sync failed after %d record(s): %v", strategy, synced, err)
	} else {
		res = Result{
			Success:     true,
			Message:     fmt.Sprintf("Synced %d record(s)", synced),
			SyncedCount: synced,
		}
		entry.Status = schema.SyncStatusSuccess
		c.config.Logger.Printf("%s sync complete: %d record(s)", strategy, synced)
	}

	// The log entry is written even when the attempt was canceled.
	if logErr := c.store.AppendSyncLog(context.WithoutCancel(ctx), entry); logErr != nil {
		c.config.Logger.Printf("Warning: failed to record sync log: %v", logErr)
	}

	if res.Success {
		c.mu.Lock()
		c.lastSync = now
		c.mu.Unlock()
	}

	ev := Status{Kind: StatusSuccess, Strategy: strategy, Message: res.Message, SyncedCount: synced}
	if !res.Success {
		ev.Kind = StatusError
	}
	c.Publish(ev)

	return res
}

func (c *Coordinator) syncSummaries(ctx context.Context) (int, error) {
	summaries, versions, err := c.store.UnsyncedSummaries(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read unsynced summaries: %w", err)
	}
	if len(summaries) == 0 {
		return 0, nil
	}

	ids := make([]string, len(summaries))
	for i, s := range summaries {
		ids[i] = s.ID
	}
	return c.submit(ctx, transport.EndpointSummaries, schema.CollectionSalesSummary, ids, versions,
		map[string]interface{}{"summaries": summaries})
}

func (c *Coordinator) syncInventory(ctx context.Context) (int, error) {
	items, versions, err := c.store.UnsyncedInventory(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read unsynced inventory: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return c.submit(ctx, transport.EndpointInventory, schema.CollectionInventory, ids, versions,
		map[string]interface{}{"items": items})
}

func (c *Coordinator) syncTransactions(ctx context.Context) (int, error) {
	txns, versions, err := c.store.UnsyncedTransactions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read unsynced transactions: %w", err)
	}
	if len(txns) == 0 {
		return 0, nil
	}

	ids := make([]string, len(txns))
	meta := make([]schema.TransactionMetadata, len(txns))
	for i, txn := range txns {
		ids[i] = txn.ID
		meta[i] = txn.Metadata()
	}
	return c.submit(ctx, transport.EndpointTransactions, schema.CollectionTransactions, ids, versions,
		map[string]interface{}{"transactions": meta})
}

// syncFull sends each batch in turn and stops at the first failure.
func (c *Coordinator) syncFull(ctx context.Context) (int, error) {
	steps := []func(context.Context) (int, error){
		c.syncInventory,
		c.syncTransactions,
		c.syncSummaries,
	}

	total := 0
	for _, step := range steps {
		n, err := step(ctx)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// submit sends one batch and marks the acknowledged subset of submitted.
// Only documents still matching the version read for the batch are marked.
func (c *Coordinator) submit(ctx context.Context, endpoint string, coll schema.Collection, submitted []string, versions map[string]string, payload interface{}) (int, error) {
	acked, err := c.remote.Submit(ctx, endpoint, payload)
	if err != nil {
		return 0, err
	}

	want := make(map[string]bool, len(submitted))
	for _, id := range submitted {
		want[id] = true
	}
	confirmed := make(map[string]string, len(acked))
	for _, id := range acked {
		if want[id] {
			confirmed[id] = versions[id]
			delete(want, id)
		}
	}
	if extra := len(acked) - len(confirmed); extra > 0 {
		c.config.Logger.Printf("Ignoring %d acknowledged id(s) not submitted to %s", extra, endpoint)
	}
	if len(confirmed) == 0 {
		return 0, nil
	}

	n, err := c.store.MarkSynced(context.WithoutCancel(ctx), coll, confirmed, c.config.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to mark %s synced: %w", coll, err)
	}
	return n, nil
}

// Close stops auto-sync, cancels an in-flight attempt and waits for
// background work. The status bus is closed last.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.StopAutoSync()
	c.wg.Wait()
	c.bus.Close()
	return nil
}
