package relay

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

// Repository persists relay states across process restarts.
type Repository interface {
	LoadAll() (map[string]Status, error)
	Save(area string, status Status) error
	Close() error
}

type sqliteRepository struct {
	db *sql.DB
	mu sync.Mutex
}

// NewRepository opens (or creates) the relay state table in the given
// sqlite database file.
func NewRepository(dbPath string) (Repository, error) {
	if dbPath == "" {
		return nil, errors.New(ErrStorageInit)
	}

	logger.Debug().Str("path", dbPath).Msg("initializing relay state repository")

	if err := os.MkdirAll(filepath.Dir(dbPath), defaultDirPerm); err != nil {
		return nil, errors.Wrap(ErrStorageInit, err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(ErrStorageInit, err)
	}

	if _, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS relay_state (
            area TEXT PRIMARY KEY,
            state TEXT NOT NULL,
            reason TEXT,
            changed_by TEXT,
            changed_at INTEGER
        )
    `); err != nil {
		db.Close()
		return nil, errors.Wrap(ErrStorageInit, err)
	}

	return &sqliteRepository{db: db}, nil
}

func (r *sqliteRepository) LoadAll() (map[string]Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`SELECT area, state, reason, changed_by, changed_at FROM relay_state`)
	if err != nil {
		return nil, errors.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	out := make(map[string]Status)
	for rows.Next() {
		var (
			area, state, reason, changedBy string
			changedAt                      int64
		)
		if err := rows.Scan(&area, &state, &reason, &changedBy, &changedAt); err != nil {
			return nil, errors.Wrap(ErrStorageAccess, err)
		}
		out[area] = Status{
			State:     State(state),
			Reason:    reason,
			ChangedBy: changedBy,
			ChangedAt: time.Unix(changedAt, 0).UTC(),
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(ErrStorageAccess, err)
	}

	return out, nil
}

func (r *sqliteRepository) Save(area string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`
        INSERT INTO relay_state (area, state, reason, changed_by, changed_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(area) DO UPDATE SET
            state = excluded.state,
            reason = excluded.reason,
            changed_by = excluded.changed_by,
            changed_at = excluded.changed_at
    `,
		area,
		string(status.State),
		status.Reason,
		status.ChangedBy,
		status.ChangedAt.Unix(),
	)
	if err != nil {
		return errors.Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (r *sqliteRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.Close(); err != nil {
		return errors.Wrap(ErrStorageClose, err)
	}

	return nil
}
