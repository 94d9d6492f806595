package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"
)

var tenantPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,99}$`)

// DatabasePath returns the store file of a tenant under dataDir.
func DatabasePath(dataDir, tenantID string) string {
	return filepath.Join(dataDir, fmt.Sprintf("pharmacore_%s.db", tenantID))
}

// Manager owns the open stores of a process, at most one per tenant.
type Manager struct {
	dataDir string
	logger  *log.Logger

	// Now is passed to every store opened after it is set (nil = time.Now).
	Now func() time.Time

	mu     sync.Mutex
	stores map[string]*Store
}

// NewManager returns a manager that keeps tenant databases in dataDir.
func NewManager(dataDir string, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	return &Manager{
		dataDir: dataDir,
		logger:  logger,
		stores:  make(map[string]*Store),
	}
}

// Initialize opens the store of tenantID. Calling it again for a tenant
// whose store is open returns the same handle without touching the file.
// Failures are reported as *StoreInitializationError.
func (m *Manager) Initialize(ctx context.Context, tenantID string) (*Store, error) {
	if !tenantPattern.MatchString(tenantID) {
		return nil, &StoreInitializationError{TenantID: tenantID, Err: ErrInvalidTenant}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.stores[tenantID]; ok && s.Ready() {
		return s, nil
	}

	path := DatabasePath(m.dataDir, tenantID)
	s, err := Open(ctx, path, Options{TenantID: tenantID, Logger: m.logger, Now: m.Now})
	if err != nil {
		return nil, &StoreInitializationError{TenantID: tenantID, Path: path, Err: err}
	}

	m.stores[tenantID] = s
	m.logger.Printf("Opened store for tenant %s at %s", tenantID, path)
	return s, nil
}

// Store returns the open store of tenantID, if any.
func (m *Manager) Store(tenantID string) (*Store, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stores[tenantID]
	if !ok || !s.Ready() {
		return nil, false
	}
	return s, true
}

// Tenants returns the tenants with an open store, sorted.
func (m *Manager) Tenants() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.stores))
	for id := range m.stores {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Teardown closes and forgets the store of tenantID. The database file is
// kept. Tearing down a tenant without an open store is a no-op.
func (m *Manager) Teardown(tenantID string) error {
	m.mu.Lock()
	s, ok := m.stores[tenantID]
	delete(m.stores, tenantID)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	if err := s.Close(); err != nil {
		return fmt.Errorf("failed to tear down store for tenant %s: %w", tenantID, err)
	}
	m.logger.Printf("Closed store for tenant %s", tenantID)
	return nil
}

// TeardownAll closes every open store and returns the first error.
func (m *Manager) TeardownAll() error {
	var first error
	for _, id := range m.Tenants() {
		if err := m.Teardown(id); err != nil && first == nil {
			first = err
		}
	}
	return first
}
