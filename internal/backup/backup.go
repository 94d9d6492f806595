// Package backup exports a tenant store as a single JSON document and
// uploads it to the remote service.
//
// A backup is a point-in-time snapshot of every collection. It is written
// for humans as much as for machines (indented JSON) and carries a semantic
// format version; readers accept any snapshot with the same major version.
//
// Exporting never changes sync markers. It appends a "full-backup" entry to
// the sync log, after the snapshot is taken.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/mod/semver"

	"github.com/pharmacore/localsync/internal/store/db"
	"github.com/pharmacore/localsync/internal/store/schema"
)

const (
	// FormatVersion is written into every snapshot.
	FormatVersion = "v1.0.0"

	// MaxSyncLogs bounds the sync log history carried by a snapshot.
	MaxSyncLogs = 100
)

var (
	// ErrUnsupportedFormat means the snapshot's major version is not readable.
	ErrUnsupportedFormat = errors.New("unsupported backup format")

	// ErrNoUploader means the exporter was built without a remote.
	ErrNoUploader = errors.New("no backup uploader configured")
)

// Snapshot is the serialized form of a backup.
type Snapshot struct {
	FormatVersion string                      `json:"formatVersion" yaml:"formatVersion"`
	TenantID      string                      `json:"tenantId" yaml:"tenantId"`
	ExportDate    time.Time                   `json:"exportDate" yaml:"exportDate"`
	Inventory     []*schema.InventoryItem     `json:"inventory" yaml:"inventory"`
	Transactions  []*schema.Transaction       `json:"transactions" yaml:"transactions"`
	Summaries     []*schema.DailySalesSummary `json:"summaries" yaml:"summaries"`
	Users         []*schema.UserRecord        `json:"users" yaml:"users"`
	SyncLogs      []*schema.SyncLogEntry      `json:"syncLogs" yaml:"syncLogs"`
}

// RecordCount is the number recorded in the backup's sync log entry.
func (s *Snapshot) RecordCount() int {
	return len(s.Transactions) + len(s.Inventory)
}

// Store is the part of the tenant store the exporter needs.
type Store interface {
	TenantID() string
	Dump(ctx context.Context, maxLogs int) (*db.Dump, error)
	AppendSyncLog(ctx context.Context, entry *schema.SyncLogEntry) error
}

// Uploader sends a serialized backup to the remote service.
type Uploader interface {
	UploadBackup(ctx context.Context, filename string, data []byte) error
}

// Config holds configuration for the exporter.
type Config struct {
	// Logger for backup activity
	Logger *log.Logger

	// Now overrides the clock (nil = time.Now)
	Now func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Logger: log.New(os.Stderr, "[backup] ", log.LstdFlags),
		Now:    time.Now,
	}
}

// Exporter produces backups of one tenant store.
type Exporter struct {
	store    Store
	uploader Uploader
	config   *Config
}

// New creates an exporter. uploader may be nil when only local exports
// are needed.
func New(store Store, uploader Uploader, config *Config) *Exporter {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Exporter{store: store, uploader: uploader, config: config}
}

// Filename returns the backup file name for tenantID on the day of at.
func Filename(tenantID string, at time.Time) string {
	return fmt.Sprintf("pharmacore_backup_%s_%s.json", tenantID, at.UTC().Format(schema.DateLayout))
}

// Export snapshots the store and returns the snapshot, its indented JSON
// encoding and its file name.
func (e *Exporter) Export(ctx context.Context) (*Snapshot, []byte, string, error) {
	e.config.Logger.Println("Exporting full backup")

	now := e.config.Now().UTC()
	snap := &Snapshot{
		FormatVersion: FormatVersion,
		TenantID:      e.store.TenantID(),
		ExportDate:    now,
	}

	dump, err := e.store.Dump(ctx, MaxSyncLogs)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to read store: %w", err)
	}
	snap.Inventory = dump.Inventory
	snap.Transactions = dump.Transactions
	snap.Summaries = dump.Summaries
	snap.Users = dump.Users
	snap.SyncLogs = dump.SyncLogs

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to marshal backup: %w", err)
	}

	entry := &schema.SyncLogEntry{
		Timestamp:   now,
		Type:        schema.SyncTypeFullBackup,
		Status:      schema.SyncStatusSuccess,
		RecordCount: snap.RecordCount(),
	}
	if err := e.store.AppendSyncLog(ctx, entry); err != nil {
		e.config.Logger.Printf("Warning: failed to record backup log: %v", err)
	}

	e.config.Logger.Printf("Backup exported: %d inventory, %d transactions, %d summaries",
		len(snap.Inventory), len(snap.Transactions), len(snap.Summaries))
	return snap, data, Filename(snap.TenantID, now), nil
}

// WriteFile exports a backup into dir and returns the written path.
func (e *Exporter) WriteFile(ctx context.Context, dir string) (string, error) {
	_, data, name, err := e.Export(ctx)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	path := filepath.Join(dir, name)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to rename temp file: %w", err)
	}

	e.config.Logger.Printf("Backup written to %s", path)
	return path, nil
}

// Upload exports a backup and sends it to the remote. It reports false on
// any failure; the cause is logged.
func (e *Exporter) Upload(ctx context.Context) bool {
	if err := e.upload(ctx); err != nil {
		e.config.Logger.Printf("Failed to upload backup: %v", err)
		return false
	}
	e.config.Logger.Println("Backup uploaded")
	return true
}

func (e *Exporter) upload(ctx context.Context) error {
	if e.uploader == nil {
		return ErrNoUploader
	}
	_, data, name, err := e.Export(ctx)
	if err != nil {
		return err
	}
	return e.uploader.UploadBackup(ctx, name, data)
}

// Decode parses a serialized backup and checks that its format is readable.
func Decode(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse backup: %w", err)
	}

	if !semver.IsValid(snap.FormatVersion) {
		return nil, fmt.Errorf("%w: invalid version %q", ErrUnsupportedFormat, snap.FormatVersion)
	}
	if semver.Major(snap.FormatVersion) != semver.Major(FormatVersion) {
		return nil, fmt.Errorf("%w: version %s, want %s.x", ErrUnsupportedFormat, snap.FormatVersion, semver.Major(FormatVersion))
	}
	return &snap, nil
}

// ReadFile decodes the backup stored at path.
func ReadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}
	return Decode(data)
}
