package baseline

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jefry5/energy-monitor-si/internal/errors"
	"github.com/jefry5/energy-monitor-si/internal/logger"

	_ "github.com/mattn/go-sqlite3"
)

const defaultDirPerm = 0o755

// Store is the external durable storage behind the tracker.
type Store interface {
	// Load returns the persisted record for an area, or nil when absent.
	Load(area string) (*Record, error)
	Flush(record *Record) error
	Close() error
}

type sqliteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens (or creates) the baseline table in the given sqlite
// database file.
func NewStore(dbPath string) (Store, error) {
	if dbPath == "" {
		return nil, errors.New(ErrStorageInit)
	}

	logger.Debug().Str("path", dbPath).Msg("initializing baseline store")

	if err := os.MkdirAll(filepath.Dir(dbPath), defaultDirPerm); err != nil {
		return nil, errors.Wrap(ErrStorageInit, err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(ErrStorageInit, err)
	}

	if _, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS baseline (
            area TEXT PRIMARY KEY,
            ema REAL NOT NULL,
            samples INTEGER NOT NULL,
            updated_at INTEGER NOT NULL
        )
    `); err != nil {
		db.Close()
		return nil, errors.Wrap(ErrStorageInit, err)
	}

	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Load(area string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		ema       float64
		samples   int64
		updatedAt int64
	)
	err := s.db.QueryRow(
		`SELECT ema, samples, updated_at FROM baseline WHERE area = ?`, area,
	).Scan(&ema, &samples, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(ErrStorageAccess, err)
	}

	return &Record{
		Area:      area,
		EMA:       ema,
		Samples:   samples,
		UpdatedAt: time.Unix(updatedAt, 0).UTC(),
	}, nil
}

// Flush upserts the record, last writer wins.
func (s *sqliteStore) Flush(record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
        INSERT INTO baseline (area, ema, samples, updated_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(area) DO UPDATE SET
            ema = excluded.ema,
            samples = excluded.samples,
            updated_at = excluded.updated_at
    `,
		record.Area,
		record.EMA,
		record.Samples,
		record.UpdatedAt.Unix(),
	)
	if err != nil {
		return errors.Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (s *sqliteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return errors.Wrap(ErrStorageClose, err)
	}

	return nil
}
