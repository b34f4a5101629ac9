package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/okian/shotlink/internal/domain/model"
)

const modelsTable = "shotlink_correlation_models"

const createModels = `CREATE TABLE IF NOT EXISTS ` + modelsTable + ` (
	timer_id   TEXT    NOT NULL,
	sensor_id  TEXT    NOT NULL,
	mean_ms    REAL    NOT NULL,
	m2         REAL    NOT NULL,
	count      INTEGER NOT NULL,
	window_ms  REAL    NOT NULL,
	updated_at TEXT    NOT NULL,
	PRIMARY KEY (timer_id, sensor_id)
)`

const upsertModel = `INSERT INTO ` + modelsTable + `
	(timer_id, sensor_id, mean_ms, m2, count, window_ms, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (timer_id, sensor_id) DO UPDATE SET
		mean_ms = excluded.mean_ms,
		m2 = excluded.m2,
		count = excluded.count,
		window_ms = excluded.window_ms,
		updated_at = excluded.updated_at`

const selectModels = `SELECT timer_id, sensor_id, mean_ms, m2, count, window_ms, updated_at
	FROM ` + modelsTable + ` ORDER BY timer_id, sensor_id`

// SQLiteStore keeps models in an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	o := defaults()
	for _, opt := range opts {
		opt(&o)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, o.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// single writer avoids "database is locked"
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, createModels); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create %s: %w", modelsTable, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load returns every stored model ordered by pair.
func (s *SQLiteStore) Load(ctx context.Context) ([]model.CorrelationModel, error) {
	rows, err := s.db.QueryContext(ctx, selectModels)
	if err != nil {
		return nil, fmt.Errorf("query models: %w", err)
	}
	defer rows.Close()

	var out []model.CorrelationModel
	for rows.Next() {
		var m model.CorrelationModel
		var updated string
		if err := rows.Scan(&m.Key.TimerID, &m.Key.SensorID, &m.MeanMS, &m.M2, &m.Count, &m.WindowMS, &updated); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		if m.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
			return nil, fmt.Errorf("%w: %s updated_at %q", ErrCorrupt, m.Key, updated)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate models: %w", err)
	}
	return out, nil
}

// Save upserts models in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, models []model.CorrelationModel) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertModel)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, m := range models {
		if _, err := stmt.ExecContext(ctx, m.Key.TimerID, m.Key.SensorID, m.MeanMS, m.M2, m.Count, m.WindowMS,
			m.UpdatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("upsert %s: %w", m.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
