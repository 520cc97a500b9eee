// Package sqlite implements storage.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goodtune/unplug/internal/storage"
	_ "modernc.org/sqlite"
)

// Store implements storage.Store using SQLite.
type Store struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at path.
func Open(path string) (*Store, error) {
	if err := storage.EnsureParentDir(path); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL keeps readers off the writer's lock.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS app_limits (
		app_identifier TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		display_name TEXT NOT NULL,
		daily_limit_seconds INTEGER NOT NULL,
		used_seconds_today INTEGER NOT NULL,
		last_reset_date TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS usage_daily (
		date TEXT NOT NULL,
		app_identifier TEXT NOT NULL,
		total_seconds INTEGER NOT NULL,
		PRIMARY KEY (date, app_identifier)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Limits returns the limit store.
func (s *Store) Limits() storage.LimitStore { return &limitStore{db: s.db} }

// History returns the daily usage history store.
func (s *Store) History() storage.HistoryStore { return &historyStore{db: s.db} }

type limitStore struct {
	db *sql.DB
}

// Save rewrites the table inside one transaction so readers never see a
// partial set.
func (s *limitStore) Save(ctx context.Context, records []storage.LimitRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM app_limits`); err != nil {
		return fmt.Errorf("clear limits: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO app_limits (app_identifier, position, display_name,
			daily_limit_seconds, used_seconds_today, last_reset_date)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range records {
		if _, err := stmt.ExecContext(ctx, rec.AppIdentifier, i, rec.DisplayName,
			rec.DailyLimitSeconds, rec.UsedSecondsToday, rec.LastResetDate); err != nil {
			return fmt.Errorf("insert limit %s: %w", rec.AppIdentifier, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit limits: %w", err)
	}
	return nil
}

func (s *limitStore) Load(ctx context.Context) ([]storage.LimitRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT app_identifier, display_name, daily_limit_seconds,
		       used_seconds_today, last_reset_date
		FROM app_limits ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query limits: %w", err)
	}
	defer rows.Close()

	records := make([]storage.LimitRecord, 0)
	for rows.Next() {
		var rec storage.LimitRecord
		if err := rows.Scan(&rec.AppIdentifier, &rec.DisplayName, &rec.DailyLimitSeconds,
			&rec.UsedSecondsToday, &rec.LastResetDate); err != nil {
			return nil, fmt.Errorf("scan limit row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type historyStore struct {
	db *sql.DB
}

func (s *historyStore) Record(ctx context.Context, usage storage.DailyUsage) error {
	if _, err := time.Parse(storage.DateLayout, usage.Date); err != nil {
		return fmt.Errorf("invalid history date: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_daily (date, app_identifier, total_seconds) VALUES (?, ?, ?)
		ON CONFLICT(date, app_identifier) DO UPDATE SET total_seconds = excluded.total_seconds`,
		usage.Date, usage.AppIdentifier, usage.TotalSeconds)
	if err != nil {
		return fmt.Errorf("record daily usage: %w", err)
	}
	return nil
}

func (s *historyStore) List(ctx context.Context, date string) ([]storage.DailyUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, app_identifier, total_seconds
		FROM usage_daily WHERE date = ? ORDER BY app_identifier`, date)
	if err != nil {
		return nil, fmt.Errorf("query daily usage: %w", err)
	}
	defer rows.Close()

	usages := make([]storage.DailyUsage, 0)
	for rows.Next() {
		var usage storage.DailyUsage
		if err := rows.Scan(&usage.Date, &usage.AppIdentifier, &usage.TotalSeconds); err != nil {
			return nil, fmt.Errorf("scan daily usage row: %w", err)
		}
		usages = append(usages, usage)
	}
	return usages, rows.Err()
}

// DeleteBefore relies on DateLayout sorting lexically in date order.
func (s *historyStore) DeleteBefore(ctx context.Context, cutoffDate string) (int, error) {
	if _, err := time.Parse(storage.DateLayout, cutoffDate); err != nil {
		return 0, fmt.Errorf("invalid cutoff date: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM usage_daily WHERE date < ?`, cutoffDate)
	if err != nil {
		return 0, fmt.Errorf("delete daily usage: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
