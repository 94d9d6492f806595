package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/pharmacore/localsync/internal/store/schema"
)

// Sentinel errors for store operations.
var (
	// ErrStoreClosed is returned by operations on a store after Close or
	// after its tenant was torn down.
	ErrStoreClosed = errors.New("store is closed")

	// ErrInvalidTenant is returned when a tenant id cannot name a store file.
	ErrInvalidTenant = errors.New("invalid tenant id")

	// ErrNotTracked is returned by MarkSynced for collections without sync
	// bookkeeping.
	ErrNotTracked = errors.New("collection does not track sync state")

	// ErrInvalidField is returned when a query names a field that is not a
	// plain document field.
	ErrInvalidField = errors.New("invalid field name")
)

// StoreInitializationError is returned when the local store for a tenant
// cannot be opened or provisioned. Nothing can be persisted until a later
// Initialize succeeds.
type StoreInitializationError struct {
	TenantID string
	Path     string
	Err      error
}

func (e *StoreInitializationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("failed to initialize store for tenant %q: %v", e.TenantID, e.Err)
	}
	return fmt.Sprintf("failed to initialize store for tenant %q at %s: %v", e.TenantID, e.Path, e.Err)
}

func (e *StoreInitializationError) Unwrap() error {
	return e.Err
}

// DuplicateKeyError is returned when an insert or update would give two
// documents the same id or the same value of a unique field.
type DuplicateKeyError struct {
	Collection schema.Collection
	Field      string
	Value      string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate %s in %s: %q already exists", e.Field, e.Collection, e.Value)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
