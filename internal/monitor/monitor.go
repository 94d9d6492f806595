// Package monitor tracks connectivity to the remote service and turns
// transitions into sync triggers.
//
// The monitor:
//  1. Probes the remote periodically (or is told directly via SetOnline)
//  2. Publishes online/offline status events on every transition
//  3. Runs a summary sync shortly after the remote comes back
//  4. Exposes a read-only snapshot of connectivity and sync state
//
// Going offline never interrupts a sync already in flight.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	gosync "sync"
	"time"

	"github.com/pharmacore/localsync/internal/sync"
)

// ErrAlreadyStarted is returned by Start when the monitor is running.
var ErrAlreadyStarted = errors.New("monitor already started")

// Prober checks whether the remote service is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// Pinger is the part of the transport client the HTTP prober needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HTTPProber probes the remote health endpoint.
type HTTPProber struct {
	client Pinger
}

// NewHTTPProber returns a prober backed by client.Ping.
func NewHTTPProber(client Pinger) *HTTPProber {
	return &HTTPProber{client: client}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Trigger is what the monitor drives. *sync.Coordinator implements it.
type Trigger interface {
	Sync(ctx context.Context, strategy sync.Strategy) sync.Result
	Publish(ev sync.Status)
	IsSyncing() bool
	LastSync() time.Time
	AutoSyncEnabled() bool
}

// Config holds configuration for the monitor.
type Config struct {
	// ProbeInterval is how often the prober runs.
	ProbeInterval time.Duration

	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration

	// SettleDelay is how long the remote must stay reachable after a
	// reconnect before the catch-up summary sync runs.
	SettleDelay time.Duration

	// Logger for monitor activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ProbeInterval: 30 * time.Second,
		ProbeTimeout:  5 * time.Second,
		SettleDelay:   time.Second,
		Logger:        log.New(os.Stderr, "[monitor] ", log.LstdFlags),
	}
}

// State is a point-in-time snapshot for status displays.
type State struct {
	Online    bool      `json:"online" yaml:"online"`
	Known     bool      `json:"known" yaml:"known"`
	Syncing   bool      `json:"syncing" yaml:"syncing"`
	AutoSync  bool      `json:"autoSync" yaml:"autoSync"`
	LastSync  time.Time `json:"lastSync,omitempty" yaml:"lastSync,omitempty"`
	LastProbe time.Time `json:"lastProbe,omitempty" yaml:"lastProbe,omitempty"`
	LastError string    `json:"lastError,omitempty" yaml:"lastError,omitempty"`
}

// Monitor watches connectivity for one tenant session.
type Monitor struct {
	prober Prober
	config *Config

	// publishMu orders connectivity events like the transitions they
	// report. It is taken before mu.
	publishMu gosync.Mutex

	mu        gosync.Mutex
	trigger   Trigger
	online    bool
	known     bool
	lastProbe time.Time
	lastError string
	settle    chan struct{}
	started   bool
	stopped   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

// New creates a monitor. prober may be nil, in which case connectivity is
// only ever reported through SetOnline.
func New(prober Prober, config *Config) *Monitor {
	if config == nil {
		config = DefaultConfig()
	}
	def := DefaultConfig()
	if config.Logger == nil {
		config.Logger = def.Logger
	}
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = def.ProbeInterval
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = def.ProbeTimeout
	}
	if config.SettleDelay < 0 {
		config.SettleDelay = def.SettleDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		prober: prober,
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start attaches the trigger and begins probing. The first probe runs
// immediately unless connectivity is already known, in which case the known
// state is published once. The monitor stops when ctx is done or Stop is
// called.
func (m *Monitor) Start(ctx context.Context, trigger Trigger) error {
	if trigger == nil {
		return fmt.Errorf("trigger cannot be nil")
	}

	m.publishMu.Lock()
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		m.publishMu.Unlock()
		return ErrAlreadyStarted
	}
	if m.stopped || m.ctx.Err() != nil {
		m.mu.Unlock()
		m.publishMu.Unlock()
		return fmt.Errorf("monitor is stopped")
	}
	m.started = true
	m.trigger = trigger
	known, online := m.known, m.online
	m.mu.Unlock()

	if known {
		m.announce(trigger, online)
	}
	m.publishMu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case <-ctx.Done():
			m.cancel()
		case <-m.ctx.Done():
		}
	}()

	if m.prober != nil {
		m.wg.Add(1)
		go m.probeLoop()
		m.config.Logger.Printf("Probing remote every %v", m.config.ProbeInterval)
	}
	return nil
}

// Stop halts probing, cancels a pending settle sync and waits for the
// monitor's goroutines. A settle sync that already started runs to
// completion first.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.cancel()
	m.cancelSettleLocked()
	m.mu.Unlock()

	m.wg.Wait()
}

// Online reports whether the remote is believed reachable. It is false
// until the first observation. Implements sync.Connectivity.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// State returns a snapshot of connectivity and sync state.
func (m *Monitor) State() State {
	m.mu.Lock()
	st := State{
		Online:    m.online,
		Known:     m.known,
		LastProbe: m.lastProbe,
		LastError: m.lastError,
	}
	trigger := m.trigger
	m.mu.Unlock()

	if trigger != nil {
		st.Syncing = trigger.IsSyncing()
		st.AutoSync = trigger.AutoSyncEnabled()
		st.LastSync = trigger.LastSync()
	}
	return st
}

// SetOnline records a connectivity observation.
//
// A change publishes an online or offline event. Coming back online also
// schedules a summary sync after SettleDelay; dropping offline before the
// delay elapses cancels it. The first observation publishes an event but
// schedules nothing.
func (m *Monitor) SetOnline(online bool) {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.mu.Lock()
	if m.stopped || m.ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	first := !m.known
	changed := first || m.online != online
	m.online = online
	m.known = true
	if !changed {
		m.mu.Unlock()
		return
	}

	m.cancelSettleLocked()
	trigger := m.trigger
	if online && !first && trigger != nil {
		m.settle = make(chan struct{})
		m.wg.Add(1)
		go m.settleThenSync(trigger, m.settle)
	}
	m.mu.Unlock()

	m.config.Logger.Printf("Connectivity changed: online=%v", online)
	if trigger != nil {
		m.announce(trigger, online)
	}
}

// announce publishes the connectivity event for online. Callers hold
// publishMu.
func (m *Monitor) announce(trigger Trigger, online bool) {
	kind, msg := sync.StatusOffline, "Remote unreachable"
	if online {
		kind, msg = sync.StatusOnline, "Remote reachable"
	}
	trigger.Publish(sync.Status{Kind: kind, Message: msg})
}

func (m *Monitor) cancelSettleLocked() {
	if m.settle != nil {
		close(m.settle)
		m.settle = nil
	}
}

// settleThenSync waits out the settle delay, then runs a summary sync
// unless the reconnect was superseded.
func (m *Monitor) settleThenSync(trigger Trigger, canceled <-chan struct{}) {
	defer m.wg.Done()

	timer := time.NewTimer(m.config.SettleDelay)
	defer timer.Stop()

	select {
	case <-m.ctx.Done():
		return
	case <-canceled:
		return
	case <-timer.C:
	}

	m.mu.Lock()
	if m.settle == canceled {
		m.settle = nil
	}
	m.mu.Unlock()

	res := trigger.Sync(m.ctx, sync.StrategySummary)
	switch {
	case res.Err == nil:
		m.config.Logger.Printf("Reconnect sync complete: %s", res.Message)
	case errors.Is(res.Err, sync.ErrSyncBusy), errors.Is(res.Err, sync.ErrOffline):
	default:
		m.config.Logger.Printf("Reconnect sync failed: %v", res.Err)
	}
}

func (m *Monitor) probeLoop() {
	defer m.wg.Done()

	m.mu.Lock()
	known := m.known
	m.mu.Unlock()
	if !known {
		m.probe(m.ctx)
	}

	ticker := time.NewTicker(m.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.probe(m.ctx)
		}
	}
}

// Check probes once, records the result and reports whether the remote is
// reachable. Without a prober it returns the current state.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.prober == nil {
		return m.Online()
	}
	m.probe(ctx)
	return m.Online()
}

func (m *Monitor) probe(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, m.config.ProbeTimeout)
	err := m.prober.Probe(ctx)
	cancel()
	if parent.Err() != nil || m.ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	m.lastProbe = time.Now()
	if err != nil {
		m.lastError = err.Error()
	} else {
		m.lastError = ""
	}
	m.mu.Unlock()

	m.SetOnline(err == nil)
}
