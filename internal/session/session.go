// Package session wires the per-tenant components together: store,
// remote client, connectivity monitor, sync coordinator, backup exporter,
// retention sweeper and sales ledger.
//
// A session corresponds to one logged-in tenant. Close is the logout path
// and releases everything Open acquired.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	gosync "sync"

	"github.com/pharmacore/localsync/internal/backup"
	"github.com/pharmacore/localsync/internal/config"
	"github.com/pharmacore/localsync/internal/ledger"
	"github.com/pharmacore/localsync/internal/logging"
	"github.com/pharmacore/localsync/internal/monitor"
	"github.com/pharmacore/localsync/internal/retention"
	"github.com/pharmacore/localsync/internal/store/db"
	"github.com/pharmacore/localsync/internal/sync"
	"github.com/pharmacore/localsync/internal/sync/transport"
)

// Options configures Open.
type Options struct {
	// Config is the loaded configuration. Required.
	Config *config.Config

	// TenantID overrides Config.TenantID when non-empty.
	TenantID string

	// Sink receives all component logs (nil = stderr).
	Sink *logging.Sink

	// Manager is an existing store manager to open the tenant in. When
	// nil the session creates its own and tears it down on Close.
	Manager *db.Manager

	// Prober overrides the HTTP health probe.
	Prober monitor.Prober
}

// Session holds the components of one tenant.
type Session struct {
	TenantID string

	Manager     *db.Manager
	Store       *db.Store
	Client      *transport.Client
	Monitor     *monitor.Monitor
	Coordinator *sync.Coordinator
	Exporter    *backup.Exporter
	Sweeper     *retention.Sweeper
	Ledger      *ledger.Ledger

	cfg    *config.Config
	logger *log.Logger

	mu     gosync.Mutex
	closed bool
}

// Open initializes the tenant store and builds the components around it.
// Nothing runs in the background until Start.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	cfg := opts.Config
	tenant := cfg.TenantID
	if opts.TenantID != "" {
		tenant = opts.TenantID
	}
	sink := opts.Sink
	if sink == nil {
		sink = logging.NewSink(logging.Options{})
	}

	manager := opts.Manager
	if manager == nil {
		dir, err := cfg.DatabaseDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve data dir: %w", err)
		}
		manager = db.NewManager(dir, sink.Logger("store"))
	}

	store, err := manager.Initialize(ctx, tenant)
	if err != nil {
		return nil, err
	}

	client := transport.New(transport.Config{
		BaseURL:     cfg.Remote.BaseURL,
		Timeout:     cfg.Remote.Timeout,
		MaxAttempts: cfg.Remote.MaxAttempts,
		RetryDelay:  cfg.Remote.RetryDelay,
		AuthSecret:  cfg.Remote.AuthSecret,
		TokenTTL:    cfg.Remote.TokenTTL,
		TenantID:    tenant,
	}, sink.Logger("transport"))

	prober := opts.Prober
	if prober == nil {
		prober = monitor.NewHTTPProber(client)
	}
	mon := monitor.New(prober, &monitor.Config{
		ProbeInterval: cfg.Sync.ProbeInterval,
		ProbeTimeout:  cfg.Remote.Timeout,
		SettleDelay:   cfg.Sync.SettleDelay,
		Logger:        sink.Logger("monitor"),
	})

	coord, err := sync.New(store, client, mon, &sync.Config{
		Interval: cfg.Sync.Interval,
		NodeID:   cfg.Sync.NodeID,
		Logger:   sink.Logger("sync"),
	})
	if err != nil {
		_ = manager.Teardown(tenant)
		return nil, fmt.Errorf("failed to create coordinator: %w", err)
	}

	s := &Session{
		TenantID:    tenant,
		Manager:     manager,
		Store:       store,
		Client:      client,
		Monitor:     mon,
		Coordinator: coord,
		Exporter:    backup.New(store, client, &backup.Config{Logger: sink.Logger("backup")}),
		Sweeper:     retention.New(store, sink.Logger("retention")),
		Ledger:      ledger.New(store, &ledger.Config{Logger: sink.Logger("ledger")}),
		cfg:         cfg,
		logger:      sink.Logger("session"),
	}
	s.logger.Printf("Opened tenant %s (%s)", tenant, store.Path())
	return s, nil
}

// Start probes the remote once, starts the monitor and enables auto-sync.
// The initial probe runs first so the immediate auto-sync sees the real
// connectivity state.
func (s *Session) Start(ctx context.Context) error {
	s.Monitor.Check(ctx)
	if err := s.Monitor.Start(ctx, s.Coordinator); err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}
	s.Coordinator.StartAutoSync()
	return nil
}

// ApplyConfig applies the settings that can change while running.
func (s *Session) ApplyConfig(cfg *config.Config) {
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	s.mu.Unlock()

	if prev == nil || prev.Sync.Interval != cfg.Sync.Interval {
		s.logger.Printf("Sync interval set to %v", cfg.Sync.Interval)
		s.Coordinator.SetInterval(cfg.Sync.Interval)
	}
}

// Config returns the configuration currently in effect.
func (s *Session) Config() *config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// RetentionDays returns the configured retention window.
func (s *Session) RetentionDays() int {
	return s.Config().Retention.Days
}

// Close stops background work and closes the tenant store. It is safe to
// call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.Coordinator.StopAutoSync()
	s.Monitor.Stop()

	var errs []error
	if err := s.Coordinator.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close coordinator: %w", err))
	}
	if err := s.Manager.Teardown(s.TenantID); err != nil {
		errs = append(errs, fmt.Errorf("failed to close store: %w", err))
	}
	s.logger.Printf("Closed tenant %s", s.TenantID)
	return errors.Join(errs...)
}
