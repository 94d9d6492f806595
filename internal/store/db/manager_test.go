package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/pharmacore/localsync/internal/store/schema"
)

func TestManager_InitializeIdempotent(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, nil)
	defer m.TeardownAll()
	ctx := context.Background()

	s1, err := m.Initialize(ctx, "pharmacy-42")
	if err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if _, err := s1.Insert(ctx, schema.CollectionInventory, newItem("A", 1, "1")); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	s2, err := m.Initialize(ctx, "pharmacy-42")
	if err != nil {
		t.Fatalf("second Initialize() failed: %v", err)
	}
	if s1 != s2 {
		t.Error("second Initialize() returned a different handle")
	}
	if n, _ := s2.Count(ctx, schema.CollectionInventory); n != 1 {
		t.Errorf("Count() = %d after re-initialize, want 1", n)
	}

	want := filepath.Join(dir, "pharmacore_pharmacy-42.db")
	if s1.Path() != want {
		t.Errorf("Path() = %q, want %q", s1.Path(), want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("database file missing: %v", err)
	}
}

func TestManager_TenantsAreIsolated(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	defer m.TeardownAll()
	ctx := context.Background()

	a, err := m.Initialize(ctx, "a")
	if err != nil {
		t.Fatalf("Initialize(a) failed: %v", err)
	}
	b, err := m.Initialize(ctx, "b")
	if err != nil {
		t.Fatalf("Initialize(b) failed: %v", err)
	}

	_, _ = a.Insert(ctx, schema.CollectionInventory, newItem("only in a", 1, "1"))

	if n, _ := b.Count(ctx, schema.CollectionInventory); n != 0 {
		t.Errorf("tenant b sees %d items of tenant a", n)
	}
	if got := m.Tenants(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Tenants() = %v, want [a b]", got)
	}
}

func TestManager_Teardown(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	ctx := context.Background()

	s, err := m.Initialize(ctx, "t1")
	if err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Teardown("t1"); err != nil {
		t.Fatalf("Teardown() failed: %v", err)
	}
	if s.Ready() {
		t.Error("store still ready after Teardown")
	}
	if _, ok := m.Store("t1"); ok {
		t.Error("Store() still returns torn down tenant")
	}
	if err := m.Teardown("t1"); err != nil {
		t.Errorf("Teardown() of unknown tenant failed: %v", err)
	}

	// A later login reopens the same file.
	s2, err := m.Initialize(ctx, "t1")
	if err != nil {
		t.Fatalf("re-Initialize() failed: %v", err)
	}
	if s2 == s || !s2.Ready() {
		t.Error("re-Initialize() should return a fresh open handle")
	}
	_ = m.TeardownAll()
	if len(m.Tenants()) != 0 {
		t.Errorf("Tenants() = %v after TeardownAll", m.Tenants())
	}
}

func TestManager_InitializeErrors(t *testing.T) {
	tests := []struct {
		name     string
		dataDir  func(t *testing.T) string
		tenantID string
		wantIs   error
	}{
		{
			name:     "empty tenant",
			dataDir:  func(t *testing.T) string { return t.TempDir() },
			tenantID: "",
			wantIs:   ErrInvalidTenant,
		},
		{
			name:     "path traversal",
			dataDir:  func(t *testing.T) string { return t.TempDir() },
			tenantID: "../etc",
			wantIs:   ErrInvalidTenant,
		},
		{
			name: "data dir is a file",
			dataDir: func(t *testing.T) string {
				f := filepath.Join(t.TempDir(), "file")
				if err := os.WriteFile(f, []byte("x"), 0644); err != nil {
					t.Fatal(err)
				}
				return filepath.Join(f, "sub")
			},
			tenantID: "t1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(tt.dataDir(t), nil)
			_, err := m.Initialize(context.Background(), tt.tenantID)
			var initErr *StoreInitializationError
			if !errors.As(err, &initErr) {
				t.Fatalf("Initialize() error = %v, want *StoreInitializationError", err)
			}
			if initErr.TenantID != tt.tenantID {
				t.Errorf("TenantID = %q, want %q", initErr.TenantID, tt.tenantID)
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("error = %v, want %v", err, tt.wantIs)
			}
		})
	}
}
