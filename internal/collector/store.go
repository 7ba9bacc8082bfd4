// Package collector implements bifrost, the receiving end of the metric
// service: a gRPC server bound to the runtime schema that persists every
// metric it receives.
package collector

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one stored metric. Message holds the JSON payload exactly as
// the client sent it.
type Record struct {
	ID         string    `json:"id"`
	EventType  string    `json:"event_type"`
	Message    string    `json:"message"`
	ReceivedAt time.Time `json:"received_at"`
}

// Store persists received metrics.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS metric_data (
	id          TEXT PRIMARY KEY,
	event_type  TEXT NOT NULL,
	message     TEXT NOT NULL,
	received_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS metric_data_received_at ON metric_data (received_at);
`

// SQLiteStore keeps metrics in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metric_data (id, event_type, message, received_at) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.EventType, rec.Message, rec.ReceivedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert metric %s: %w", rec.ID, err)
	}
	return nil
}

// Recent returns up to limit records, newest first. A non-positive limit
// returns nothing.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_type, message, received_at FROM metric_data ORDER BY received_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.EventType, &r.Message, &r.ReceivedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// MemoryStore keeps metrics in process memory. bifrost uses it when no
// database is configured.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Insert(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *MemoryStore) Recent(_ context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, 0, min(limit, len(m.records)))
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
