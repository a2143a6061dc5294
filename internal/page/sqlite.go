package page

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	ngerrors "github.com/Aman-CERP/notegraph/internal/errors"
)

// scanBatch bounds how many pages Scan holds in memory between callbacks.
const scanBatch = 256

const schema = `
CREATE TABLE IF NOT EXISTS pages (
	id          TEXT PRIMARY KEY,
	content     TEXT NOT NULL DEFAULT '',
	metadata    TEXT NOT NULL DEFAULT '{}',
	version     INTEGER NOT NULL,
	deleted     INTEGER NOT NULL DEFAULT 0,
	modified_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pages_live ON pages(deleted, id);
`

// SQLiteStore persists pages in a single SQLite database.
// Deleted pages are kept as tombstone rows so versions never repeat.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	now    func() time.Time
	closed bool
}

// Verify interface implementation at compile time
var _ Store = (*SQLiteStore)(nil)

// validateIntegrity runs a quick check on an existing database file.
// A missing file is valid; it will be created.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// NewSQLiteStore opens (or creates) the page database at path.
// An empty path opens a private in-memory database.
//
// Unlike the derived indices, the page store is the source of truth, so a
// failed integrity check is reported instead of clearing the file.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, ngerrors.StorageError(fmt.Sprintf("failed to create directory %s", dir), err)
		}
		if err := validateIntegrity(path); err != nil {
			slog.Error("page_store_corrupted",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return nil, ngerrors.New(ngerrors.ErrCodeStoreCorrupt, "page store failed integrity check", err).
				WithDetail("path", path).
				WithSuggestion("Restore the page database from backup or re-import the vault")
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, ngerrors.StorageError("failed to open page store", err)
	}

	// Single writer; also keeps ":memory:" on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	if path == "" {
		pragmas = pragmas[1:]
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, ngerrors.StorageError("failed to set pragma", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, ngerrors.StorageError("failed to create schema", err)
	}

	slog.Debug("page_store_opened", slog.String("path", path))

	return &SQLiteStore{db: db, path: path, now: time.Now}, nil
}

// Path returns the database file path, empty for in-memory stores.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ngerrors.ErrClosed
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT content, metadata, version, modified_at FROM pages WHERE id = ? AND deleted = 0`, id)

	p := &Page{ID: id}
	var meta string
	var modified int64
	if err := row.Scan(&p.Content, &meta, &p.Version, &modified); err != nil {
		if err == sql.ErrNoRows {
			return nil, ngerrors.NotFound(id)
		}
		return nil, ngerrors.StorageError("failed to read page", err).WithDetail("page_id", id)
	}
	p.Modified = time.Unix(0, modified)
	md, err := decodeMetadata(meta)
	if err != nil {
		return nil, ngerrors.New(ngerrors.ErrCodeStoreCorrupt, "stored metadata is malformed", err).
			WithDetail("page_id", id)
	}
	p.Metadata = md
	return p, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, id, content string, metadata map[string]string) (ChangeEvent, error) {
	if err := ValidateID(id); err != nil {
		return ChangeEvent{}, err
	}
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return ChangeEvent{}, ngerrors.InvalidContent("metadata cannot be encoded")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ChangeEvent{}, ngerrors.ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ChangeEvent{}, ngerrors.StorageError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	prev, deleted, found, err := currentVersion(ctx, tx, id)
	if err != nil {
		return ChangeEvent{}, err
	}

	now := s.now()
	ev := ChangeEvent{
		ID:         id,
		NewVersion: prev + 1,
		Content:    content,
		Metadata:   copyMetadata(metadata),
		At:         now,
	}
	if found && !deleted {
		ev.OldVersion = prev
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pages (id, content, metadata, version, deleted, modified_at)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			metadata = excluded.metadata,
			version = excluded.version,
			deleted = 0,
			modified_at = excluded.modified_at`,
		id, content, meta, ev.NewVersion, now.UnixNano())
	if err != nil {
		return ChangeEvent{}, ngerrors.StorageError("failed to write page", err).WithDetail("page_id", id)
	}
	if err := tx.Commit(); err != nil {
		return ChangeEvent{}, ngerrors.StorageError("failed to commit page", err).WithDetail("page_id", id)
	}
	return ev, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, id string) (ChangeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ChangeEvent{}, ngerrors.ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ChangeEvent{}, ngerrors.StorageError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	prev, deleted, found, err := currentVersion(ctx, tx, id)
	if err != nil {
		return ChangeEvent{}, err
	}
	if !found || deleted {
		return ChangeEvent{}, ngerrors.NotFound(id)
	}

	now := s.now()
	_, err = tx.ExecContext(ctx,
		`UPDATE pages SET content = '', metadata = '{}', version = ?, deleted = 1, modified_at = ? WHERE id = ?`,
		prev+1, now.UnixNano(), id)
	if err != nil {
		return ChangeEvent{}, ngerrors.StorageError("failed to delete page", err).WithDetail("page_id", id)
	}
	if err := tx.Commit(); err != nil {
		return ChangeEvent{}, ngerrors.StorageError("failed to commit delete", err).WithDetail("page_id", id)
	}
	return ChangeEvent{ID: id, OldVersion: prev, Deleted: true, At: now}, nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ngerrors.ErrClosed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, version, modified_at FROM pages WHERE deleted = 0 ORDER BY id`)
	if err != nil {
		return nil, ngerrors.StorageError("failed to list pages", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var modified int64
		if err := rows.Scan(&sum.ID, &sum.Version, &modified); err != nil {
			return nil, ngerrors.StorageError("failed to scan page row", err)
		}
		sum.Modified = time.Unix(0, modified)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, ngerrors.StorageError("failed to list pages", err)
	}
	return out, nil
}

// Scan implements Store. Pages are read in batches and the rows are closed
// before fn runs, so fn may call back into the store.
func (s *SQLiteStore) Scan(ctx context.Context, fn func(*Page) error) error {
	after := ""
	for {
		batch, err := s.scanAfter(ctx, after)
		if err != nil {
			return err
		}
		for _, p := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(p); err != nil {
				return err
			}
		}
		if len(batch) < scanBatch {
			return nil
		}
		after = batch[len(batch)-1].ID
	}
}

func (s *SQLiteStore) scanAfter(ctx context.Context, after string) ([]*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ngerrors.ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, metadata, version, modified_at FROM pages
		WHERE deleted = 0 AND id > ? ORDER BY id LIMIT ?`, after, scanBatch)
	if err != nil {
		return nil, ngerrors.StorageError("failed to scan pages", err)
	}
	defer rows.Close()

	batch := make([]*Page, 0, scanBatch)
	for rows.Next() {
		p := &Page{}
		var meta string
		var modified int64
		if err := rows.Scan(&p.ID, &p.Content, &meta, &p.Version, &modified); err != nil {
			return nil, ngerrors.StorageError("failed to scan page row", err)
		}
		p.Modified = time.Unix(0, modified)
		if p.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, ngerrors.New(ngerrors.ErrCodeStoreCorrupt, "stored metadata is malformed", err).
				WithDetail("page_id", p.ID)
		}
		batch = append(batch, p)
	}
	if err := rows.Err(); err != nil {
		return nil, ngerrors.StorageError("failed to scan pages", err)
	}
	return batch, nil
}

// Close checkpoints the WAL and closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.path != "" {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return s.db.Close()
}

func currentVersion(ctx context.Context, tx *sql.Tx, id string) (version int64, deleted, found bool, err error) {
	var del int
	err = tx.QueryRowContext(ctx, `SELECT version, deleted FROM pages WHERE id = ?`, id).Scan(&version, &del)
	if err == sql.ErrNoRows {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, ngerrors.StorageError("failed to read version", err).WithDetail("page_id", id)
	}
	return version, del != 0, true, nil
}

func encodeMetadata(md map[string]string) (string, error) {
	if len(md) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeMetadata(s string) (map[string]string, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var md map[string]string
	if err := json.Unmarshal([]byte(s), &md); err != nil {
		return nil, err
	}
	return md, nil
}

func copyMetadata(md map[string]string) map[string]string {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
