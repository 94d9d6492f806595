package sync

import "errors"

// Errors returned in Result.Err when a sync request is rejected before any
// work starts. Rejected requests make no network calls, publish no status
// events and append no sync log entries.
var (
	// ErrStoreNotReady means the tenant store is not open.
	ErrStoreNotReady = errors.New("local store is not ready")

	// ErrOffline means the remote is believed unreachable.
	ErrOffline = errors.New("offline: sync skipped")

	// ErrSyncBusy means another sync is in flight.
	ErrSyncBusy = errors.New("sync already in progress")

	// ErrClosed means the coordinator was closed.
	ErrClosed = errors.New("coordinator is closed")

	// ErrUnknownStrategy means the requested strategy does not exist.
	ErrUnknownStrategy = errors.New("unknown sync strategy")
)
