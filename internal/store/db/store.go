// Package db is the local document store of a tenant.
//
// Each tenant gets its own SQLite database file opened through the
// ncruces/go-sqlite3 driver. Every collection of the schema registry is one
// table holding JSON documents:
//
//	CREATE TABLE inventory (id TEXT PRIMARY KEY, data TEXT NOT NULL)
//
// Indexed document fields get expression indexes over json_extract, so
// queries such as "unsynced transactions" never scan the payloads.
//
// Reads run concurrently on the connection pool (WAL mode). All writes go
// through a single store mutex, which also makes read-modify-write updates
// of one document atomic with respect to each other.
package db

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/pharmacore/localsync/internal/store/schema"
)

// Versions maps document ids to their stored text at the time they were
// read. The text changes with every write except the sync markers.
type Versions = map[string]string

// Options configures Open.
type Options struct {
	// TenantID is recorded on the store for logging and stats.
	TenantID string
	// Logger receives store diagnostics (nil = stderr with "[store] " prefix).
	Logger *log.Logger
	// Now overrides the clock used for write timestamps (nil = time.Now).
	Now func() time.Time
}

// Store is an open tenant database.
type Store struct {
	conn     *sql.DB
	path     string
	tenantID string
	logger   *log.Logger
	now      func() time.Time

	writeMu sync.Mutex
	groupMu sync.RWMutex
	closed  atomic.Bool
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Open opens (creating if needed) the store at path and provisions every
// collection table and index. The caller must Close the store.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Pragmas in the DSN are applied to every pooled connection.
	connStr := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn:     conn,
		path:     path,
		tenantID: opts.TenantID,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if s.logger == nil {
		s.logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	if s.now == nil {
		s.now = time.Now
	}

	if err := s.initSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// initSchema creates collection tables and indexes. Idempotent.
func (s *Store) initSchema(ctx context.Context) error {
	var stmts []string
	for _, c := range schema.Collections() {
		def, _ := schema.Lookup(c)
		table := string(c)
		stmts = append(stmts, fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, data TEXT NOT NULL CHECK (json_valid(data)))`, table))

		for _, field := range def.Indexes {
			stmts = append(stmts, fmt.Sprintf(
				`CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (json_extract(data, '$.%s'))`,
				table, field, table, field))
		}
		for _, field := range def.Unique {
			stmts = append(stmts, fmt.Sprintf(
				`CREATE UNIQUE INDEX IF NOT EXISTS uniq_%s_%s ON %s (json_extract(data, '$.%s'))`,
				table, field, table, field))
		}
	}

	if _, err := s.conn.ExecContext(ctx, strings.Join(stmts, ";\n")); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// TenantID returns the tenant the store belongs to.
func (s *Store) TenantID() string { return s.tenantID }

// Ready reports whether the store is open.
func (s *Store) Ready() bool {
	return s != nil && !s.closed.Load()
}

// Close checkpoints the WAL and closes the database. Idempotent.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func (s *Store) check() error {
	if !s.Ready() {
		return ErrStoreClosed
	}
	return nil
}

// definition resolves c and, when rec is non-nil, checks the record type.
func definition(c schema.Collection, rec schema.Record) (*schema.Definition, error) {
	def, err := schema.Lookup(c)
	if err != nil {
		return nil, &schema.ValidationError{Collection: c, Reason: err.Error()}
	}
	if rec != nil && !def.Owns(rec) {
		return nil, &schema.ValidationError{
			Collection: c,
			Reason:     fmt.Sprintf("record type %T does not belong to collection", rec),
		}
	}
	return def, nil
}

// Insert validates rec and stores it as a new document.
//
// An id of the form {prefix}_{uuid} is assigned when rec has none. Write
// defaults are applied before validation: timestamps are normalized, and
// tracked records are stored unsynced. rec is updated in place.
func (s *Store) Insert(ctx context.Context, c schema.Collection, rec schema.Record) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	def, err := definition(c, rec)
	if err != nil {
		return "", err
	}

	if rec.RecordID() == "" {
		rec.SetRecordID(def.IDPrefix + "_" + uuid.NewString())
	}
	rec.SetDefaults(s.now())
	if err := schema.Validate(c, rec); err != nil {
		return "", err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s record: %w", c, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.insertLocked(ctx, def, rec.RecordID(), data); err != nil {
		return "", err
	}
	return rec.RecordID(), nil
}

func (s *Store) insertLocked(ctx context.Context, def *schema.Definition, id string, data []byte) error {
	exists, err := s.exists(ctx, def.Collection, id)
	if err != nil {
		return err
	}
	if exists {
		return &DuplicateKeyError{Collection: def.Collection, Field: "id", Value: id}
	}
	if err := s.checkUnique(ctx, def, id, data); err != nil {
		return err
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, data) VALUES (?, ?)`, def.Collection)
	if _, err := s.conn.ExecContext(ctx, query, id, string(data)); err != nil {
		return fmt.Errorf("failed to insert %s %s: %w", def.Collection, id, err)
	}
	return nil
}

func (s *Store) exists(ctx context.Context, c schema.Collection, id string) (bool, error) {
	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE id = ?`, c)
	if err := s.conn.QueryRowContext(ctx, query, id).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to look up %s %s: %w", c, id, err)
	}
	return n > 0, nil
}

// checkUnique reports a DuplicateKeyError when another document already
// holds the value of one of the collection's unique fields.
func (s *Store) checkUnique(ctx context.Context, def *schema.Definition, id string, data []byte) error {
	for _, field := range def.Unique {
		value := gjson.GetBytes(data, field)
		if !value.Exists() {
			continue
		}

		var other string
		query := fmt.Sprintf(`SELECT id FROM %s WHERE json_extract(data, '$.%s') = ? AND id != ? LIMIT 1`,
			def.Collection, field)
		err := s.conn.QueryRowContext(ctx, query, value.Value(), id).Scan(&other)
		if isNoRows(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to check unique %s: %w", field, err)
		}
		return &DuplicateKeyError{Collection: def.Collection, Field: field, Value: value.String()}
	}
	return nil
}

// Get returns the document with the given id, or (nil, nil) when absent.
func (s *Store) Get(ctx context.Context, c schema.Collection, id string) (schema.Record, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	def, err := definition(c, nil)
	if err != nil {
		return nil, err
	}

	data, err := s.getData(ctx, c, id)
	if err != nil || data == nil {
		return nil, err
	}
	return decode(def, data)
}

func (s *Store) getData(ctx context.Context, c schema.Collection, id string) ([]byte, error) {
	var data string
	query := fmt.Sprintf(`SELECT data FROM %s WHERE id = ?`, c)
	err := s.conn.QueryRowContext(ctx, query, id).Scan(&data)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", c, id, err)
	}
	return []byte(data), nil
}

func decode(def *schema.Definition, data []byte) (schema.Record, error) {
	rec := def.New()
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("failed to decode %s document: %w", def.Collection, err)
	}
	return rec, nil
}

// Find returns the documents matching q. It returns an empty slice, never
// nil, when nothing matches.
func (s *Store) Find(ctx context.Context, c schema.Collection, q Query) ([]schema.Record, error) {
	return s.find(ctx, s.conn, c, q, nil)
}

// find runs q on src. When versions is non-nil it also receives the stored
// text of every returned document, keyed by id.
func (s *Store) find(ctx context.Context, src querier, c schema.Collection, q Query, versions Versions) ([]schema.Record, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	def, err := definition(c, nil)
	if err != nil {
		return nil, err
	}

	where, args, err := whereClause(def, q.Where)
	if err != nil {
		return nil, err
	}
	order, err := orderClause(def, q)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT data FROM %s`, c) + where + order
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := src.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", c, err)
	}
	defer rows.Close()

	out := []schema.Record{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan %s document: %w", c, err)
		}
		rec, err := decode(def, []byte(data))
		if err != nil {
			return nil, err
		}
		if versions != nil {
			versions[rec.RecordID()] = data
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", c, err)
	}
	return out, nil
}

// Count returns the number of documents matching all conds.
func (s *Store) Count(ctx context.Context, c schema.Collection, conds ...Cond) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	def, err := definition(c, nil)
	if err != nil {
		return 0, err
	}
	where, args, err := whereClause(def, conds)
	if err != nil {
		return 0, err
	}

	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, c) + where
	if err := s.conn.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", c, err)
	}
	return n, nil
}

// Remove deletes one document. It reports whether the document existed.
func (s *Store) Remove(ctx context.Context, c schema.Collection, id string) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	if _, err := definition(c, nil); err != nil {
		return false, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.conn.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, c), id)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s %s: %w", c, id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RemoveWhere deletes every document matching all conds and returns how
// many were deleted. At least one condition is required.
func (s *Store) RemoveWhere(ctx context.Context, c schema.Collection, conds ...Cond) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	if len(conds) == 0 {
		return 0, fmt.Errorf("refusing to delete all %s documents without a condition", c)
	}
	def, err := definition(c, nil)
	if err != nil {
		return 0, err
	}
	where, args, err := whereClause(def, conds)
	if err != nil {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.conn.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, c)+where, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s: %w", c, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Patch replaces the given top-level fields of a document, reapplies the
// write defaults and revalidates the result. Tracked records become
// unsynced.
//
// Patch returns (nil, nil) when no document has the id. Immutable
// collections reject every patch with a *schema.ValidationError.
func (s *Store) Patch(ctx context.Context, c schema.Collection, id string, fields map[string]interface{}) (schema.Record, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	def, err := definition(c, nil)
	if err != nil {
		return nil, err
	}
	if def.Immutable {
		return nil, &schema.ValidationError{Collection: c, Reason: "collection is immutable"}
	}
	for field := range fields {
		if field == "id" {
			return nil, &schema.ValidationError{Collection: c, Reason: "id cannot be changed"}
		}
		if !fieldPattern.MatchString(field) {
			return nil, &schema.ValidationError{Collection: c, Reason: fmt.Sprintf("invalid field name %q", field)}
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := s.getData(ctx, c, id)
	if err != nil || data == nil {
		return nil, err
	}

	for field, value := range fields {
		data, err = sjson.SetBytes(data, field, value)
		if err != nil {
			return nil, &schema.ValidationError{Collection: c, Reason: fmt.Sprintf("cannot set %s: %v", field, err)}
		}
	}

	rec := def.New()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(rec); err != nil {
		return nil, &schema.ValidationError{Collection: c, Reason: err.Error()}
	}
	if err := s.replaceLocked(ctx, def, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update loads a document, applies fn and stores the result, all under the
// store write lock, so concurrent updates of one document never lose
// writes. Write defaults and validation apply as for Patch.
//
// Update returns (nil, nil) when no document has the id.
func (s *Store) Update(ctx context.Context, c schema.Collection, id string, fn func(schema.Record) error) (schema.Record, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	def, err := definition(c, nil)
	if err != nil {
		return nil, err
	}
	if def.Immutable {
		return nil, &schema.ValidationError{Collection: c, Reason: "collection is immutable"}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := s.getData(ctx, c, id)
	if err != nil || data == nil {
		return nil, err
	}
	rec, err := decode(def, data)
	if err != nil {
		return nil, err
	}
	if err := fn(rec); err != nil {
		return nil, err
	}
	if rec.RecordID() != id {
		return nil, &schema.ValidationError{Collection: c, Reason: "id cannot be changed"}
	}

	if err := s.replaceLocked(ctx, def, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// replaceLocked applies write defaults, validates and overwrites the
// stored document with rec.
func (s *Store) replaceLocked(ctx context.Context, def *schema.Definition, rec schema.Record) error {
	rec.SetDefaults(s.now())
	if err := schema.Validate(def.Collection, rec); err != nil {
		return err
	}

	out, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal %s record: %w", def.Collection, err)
	}
	if err := s.checkUnique(ctx, def, rec.RecordID(), out); err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s SET data = ? WHERE id = ?`, def.Collection)
	if _, err := s.conn.ExecContext(ctx, query, string(out), rec.RecordID()); err != nil {
		return fmt.Errorf("failed to update %s %s: %w", def.Collection, rec.RecordID(), err)
	}
	return nil
}

// MarkSynced sets isSynced=true on acknowledged documents of a tracked
// collection. lastSyncedAt is set to at unless the document was already
// synced. No other field changes. A document is marked only while its
// stored text still equals its version in acked, so a record rewritten
// after it was read stays unsynced and goes out with the next attempt. It
// returns the number of documents marked.
//
// MarkSynced is reserved for the synchronization bookkeeping step; it is the
// only write that may set isSynced on immutable collections.
func (s *Store) MarkSynced(ctx context.Context, c schema.Collection, acked Versions, at time.Time) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	def, err := definition(c, nil)
	if err != nil {
		return 0, err
	}
	if !def.Tracked {
		return 0, fmt.Errorf("%w: %s", ErrNotTracked, c)
	}
	if len(acked) == 0 {
		return 0, nil
	}

	stamp := at.UTC().Format(time.RFC3339Nano)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		UPDATE %s SET data = json_set(data,
			'$.isSynced', json('true'),
			'$.lastSyncedAt', CASE
				WHEN json_extract(data, '$.isSynced') = 1
				 AND json_extract(data, '$.lastSyncedAt') IS NOT NULL
				THEN json_extract(data, '$.lastSyncedAt')
				ELSE ?
			END)
		WHERE id = ? AND data = ?`, c))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare sync markers: %w", err)
	}
	defer stmt.Close()

	marked := 0
	for id, version := range acked {
		res, err := stmt.ExecContext(ctx, stamp, id, version)
		if err != nil {
			return 0, fmt.Errorf("failed to mark %s %s synced: %w", c, id, err)
		}
		n, _ := res.RowsAffected()
		marked += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit sync markers: %w", err)
	}
	if skipped := len(acked) - marked; skipped > 0 {
		s.logger.Printf("%d %s document(s) changed or removed during sync, left unsynced", skipped, c)
	}
	return marked, nil
}
