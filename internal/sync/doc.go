// Package sync reconciles unsynced local records with the remote service.
//
// # Overview
//
// The Coordinator is the single entry point for synchronization. Three
// triggers funnel into Coordinator.Sync:
//
//	monitor (connectivity regained) ─┐
//	auto-sync ticker (15 minutes)  ──┼──> Coordinator.Sync(strategy)
//	manual request (CLI, API)      ──┘            │
//	                                              ├── read unsynced records (store)
//	                                              ├── submit batches (transport)
//	                                              └── mark acknowledged ids synced
//
// At most one sync runs at a time. A trigger that arrives while a sync is in
// flight gets ErrSyncBusy immediately; it is never queued.
//
// Strategies
//
//	StrategySummary  unsynced daily summaries        -> /sync/summaries
//	StrategyFull     unsynced inventory              -> /sync/inventory
//	                 unsynced transactions (reduced) -> /sync/transactions
//	                 unsynced daily summaries        -> /sync/summaries
//
// Full sync commits each batch independently. When a batch fails the attempt
// ends; batches already acknowledged stay marked. Only ids that were both
// submitted and acknowledged are marked synced, and marking happens strictly
// after acknowledgement, so a crash in between only causes a resubmission.
//
// # Status
//
// Every attempt publishes "syncing" followed by "success" or "error" on the
// status bus and appends exactly one SyncLogEntry to the store. Subscribers
// receive events in publish order:
//
//	unsubscribe := coord.OnStatusChange(func(s sync.Status) {
//	    fmt.Println(s.Kind, s.Message)
//	})
//	defer unsubscribe()
//
// # Lifecycle
//
// A sync that has started runs to completion even if the caller's context is
// canceled; only Close cancels it. Close also stops auto-sync and waits for
// background work to finish.
package sync
