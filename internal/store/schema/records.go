package schema

import (
	"fmt"
	"time"
)

// UserRecord caches the identity of the signed-in user for attribution.
// It is never used for authentication.
type UserRecord struct {
	ID         string     `json:"id" validate:"required,max=100"`
	Name       string     `json:"name,omitempty"`
	Email      string     `json:"email" validate:"required,email,max=200"`
	Role       string     `json:"role" validate:"required"`
	TenantID   string     `json:"tenantId,omitempty" validate:"max=100"`
	TenantName string     `json:"tenantName,omitempty"`
	LastLogin  *time.Time `json:"lastLogin,omitempty"`
	ShiftStart *time.Time `json:"shiftStart,omitempty"`
	ShiftEnd   *time.Time `json:"shiftEnd,omitempty"`
}

func (u *UserRecord) RecordID() string      { return u.ID }
func (u *UserRecord) SetRecordID(id string) { u.ID = id }

// SetDefaults normalizes timestamps to UTC.
func (u *UserRecord) SetDefaults(time.Time) {
	u.LastLogin = utcPtr(u.LastLogin)
	u.ShiftStart = utcPtr(u.ShiftStart)
	u.ShiftEnd = utcPtr(u.ShiftEnd)
}

// Validate implements Record.
func (u *UserRecord) Validate() error {
	if u.ShiftStart != nil && u.ShiftEnd != nil && u.ShiftEnd.Before(*u.ShiftStart) {
		return fmt.Errorf("shiftEnd must not precede shiftStart")
	}
	return nil
}

// SyncType identifies what a sync log entry records.
type SyncType string

const (
	SyncTypeSummary    SyncType = "summary"
	SyncTypeFull       SyncType = "full"
	SyncTypeFullBackup SyncType = "full-backup"
)

// SyncStatus is the outcome recorded by a sync log entry.
type SyncStatus string

const (
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusFailed  SyncStatus = "failed"
	SyncStatusPending SyncStatus = "pending"
)

// SyncLogEntry records one synchronization or backup attempt.
// Entries are append-only.
type SyncLogEntry struct {
	ID           string     `json:"id" validate:"required,max=100"`
	Timestamp    time.Time  `json:"timestamp" validate:"required"`
	Type         SyncType   `json:"type" validate:"required,oneof=summary full full-backup"`
	Status       SyncStatus `json:"status" validate:"required,oneof=success failed pending"`
	RecordCount  int        `json:"recordCount" validate:"gte=0"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

func (l *SyncLogEntry) RecordID() string      { return l.ID }
func (l *SyncLogEntry) SetRecordID(id string) { l.ID = id }

// SetDefaults fills a missing timestamp.
func (l *SyncLogEntry) SetDefaults(now time.Time) {
	if l.Timestamp.IsZero() {
		l.Timestamp = now
	}
	l.Timestamp = l.Timestamp.UTC()
}

// Validate requires an error message exactly when the attempt failed.
func (l *SyncLogEntry) Validate() error {
	if l.Status == SyncStatusFailed && l.ErrorMessage == "" {
		return fmt.Errorf("errorMessage is required when status is failed")
	}
	if l.Status != SyncStatusFailed && l.ErrorMessage != "" {
		return fmt.Errorf("errorMessage is only allowed when status is failed")
	}
	return nil
}
