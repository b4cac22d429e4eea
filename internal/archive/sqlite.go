package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		seq INTEGER,
		simulator TEXT,
		severity TEXT,
		facility TEXT,
		location TEXT,
		message TEXT,
		ts INTEGER
	)`); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS events_simulator_seq ON events (simulator, seq)`); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Add(ctx context.Context, records ...Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO events (id, seq, simulator, severity, facility, location, message, ts) VALUES (?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.ID, r.Seq, r.Simulator, r.Severity, r.Facility, r.Location, r.Message, r.Timestamp.UnixMilli()); err != nil {
			return fmt.Errorf("insert %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) Recent(ctx context.Context, simulator string, limit int) ([]Record, error) {
	if limit <= 0 {
		return []Record{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, seq, simulator, severity, facility, location, message, ts FROM events
		WHERE ? = '' OR simulator = ?
		ORDER BY ts DESC, seq DESC, rowid DESC
		LIMIT ?`, simulator, simulator, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, seq, simulator, severity, facility, location, message, ts FROM events WHERE id = ?`, id)
	r, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

func scan(row interface{ Scan(...any) error }) (Record, error) {
	var r Record
	var ts int64
	if err := row.Scan(&r.ID, &r.Seq, &r.Simulator, &r.Severity, &r.Facility, &r.Location, &r.Message, &ts); err != nil {
		return Record{}, err
	}
	r.Timestamp = time.UnixMilli(ts)
	return r, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
