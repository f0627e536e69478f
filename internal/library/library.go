// Package library keeps imported documents and books, their generated audio
// and timing files, and the history of generation runs. Metadata lives in a
// SQLite index; content and outputs live in one directory per item.
package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loqalabs/readaloud/internal/config"
)

var (
	ErrNotFound   = errors.New("item not found")
	ErrNotBook    = errors.New("item is not a book")
	ErrNoChapter  = errors.New("chapter out of range")
	ErrNoDocument = errors.New("item has no document text")
)

// Library wraps the SQLite index and the item directories.
type Library struct {
	db    *sql.DB
	dir   string
	cfg   config.LibraryConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open creates the library directory and index as needed.
func Open(ctx context.Context, cfg config.LibraryConfig, log *slog.Logger) (*Library, error) {
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("create library dir: %w", err)
	}
	indexPath := cfg.IndexPath
	if indexPath == "" {
		indexPath = filepath.Join(cfg.Directory, "index.db")
	}
	if dir := filepath.Dir(indexPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", indexPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	l := &Library{db: db, dir: cfg.Directory, cfg: cfg, log: log, clock: time.Now}
	if err := l.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("library vacuum failed", slog.String("error", err.Error()))
		}
	}
	if err := l.Prune(ctx); err != nil {
		log.Warn("library prune on start failed", slog.String("error", err.Error()))
	}
	return l, nil
}

func (l *Library) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS items (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    title TEXT NOT NULL,
    filename TEXT,
    content_hash TEXT NOT NULL,
    language TEXT,
    voice TEXT,
    word_count INTEGER NOT NULL DEFAULT 0,
    audio_generated INTEGER NOT NULL DEFAULT 0,
    audio_duration REAL NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_items_hash ON items(content_hash);
CREATE TABLE IF NOT EXISTS chapters (
    item_id TEXT NOT NULL,
    idx INTEGER NOT NULL,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    word_count INTEGER NOT NULL DEFAULT 0,
    audio_path TEXT,
    audio_duration REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (item_id, idx),
    FOREIGN KEY(item_id) REFERENCES items(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    item_id TEXT NOT NULL,
    job_id TEXT,
    chapter INTEGER NOT NULL DEFAULT -1,
    event_type TEXT NOT NULL,
    payload BLOB,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(item_id) REFERENCES items(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_events_item_created ON events(item_id, created_at);
`
	_, err := l.db.ExecContext(ctx, ddl)
	return err
}

// Dir is the root directory holding one subdirectory per item.
func (l *Library) Dir() string { return l.dir }

// Close releases underlying resources.
func (l *Library) Close() error {
	return l.db.Close()
}

// Prune drops generation events older than the configured retention.
func (l *Library) Prune(ctx context.Context) (err error) {
	if l.cfg.RetentionDays <= 0 {
		return nil
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	cutoff := l.clock().Add(-time.Duration(l.cfg.RetentionDays) * 24 * time.Hour)
	res, err := tx.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		l.log.Info("pruned generation events", slog.Int64("count", n))
	}
	return tx.Commit()
}
