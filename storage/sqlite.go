package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/i5heu/ouroboros-indfile/pkg/skylink"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps envelopes as blobs in a single SQLite database file.
type SQLiteStore struct {
	db     *sql.DB
	log    *logrus.Logger
	closed atomic.Bool
}

func OpenSQLiteStore(dbPath string, logger *logrus.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = logrus.New()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single connection serializes writers instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, log: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	PRAGMA journal_mode = WAL;
	CREATE TABLE IF NOT EXISTS envelopes (
		address TEXT PRIMARY KEY,
		envelope BLOB NOT NULL,
		created_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Put(ctx context.Context, data []byte) (skylink.Address, error) {
	if err := ctx.Err(); err != nil {
		return skylink.Address{}, err
	}
	if s.closed.Load() {
		return skylink.Address{}, ErrClosed
	}
	addr := skylink.FromEnvelope(data)
	if data == nil {
		data = []byte{}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO envelopes (address, envelope, created_at) VALUES (?, ?, ?)`,
		addr.String(), data, time.Now().Unix())
	if err != nil {
		s.log.WithError(err).Error("Failed to write envelope")
		return skylink.Address{}, fmt.Errorf("failed to insert envelope: %w", err)
	}

	s.log.WithField("address", addr.String()).Debug("Successfully wrote envelope")
	return addr, nil
}

func (s *SQLiteStore) Get(ctx context.Context, addr skylink.Address) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT envelope FROM envelopes WHERE address = ?`, addr.String()).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, addr)
		}
		return nil, fmt.Errorf("failed to query envelope: %w", err)
	}
	if data == nil {
		data = []byte{}
	}

	if !addr.Matches(data) {
		s.log.WithField("address", addr.String()).Warn("Stored envelope does not match its address")
		return nil, fmt.Errorf("%w: %s", ErrCorrupted, addr)
	}
	return data, nil
}

// Count returns the number of stored envelopes.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM envelopes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count envelopes: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
