package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/okian/orbit/internal/domain/lap"
	"github.com/okian/orbit/internal/domain/model"
	"github.com/okian/orbit/pkg/metrics"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// SQLiteStore persists the history in a SQLite database. The seq column
// keeps creation order.
type SQLiteStore struct {
	db    *sql.DB
	slots int
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens dbPath and runs the embedded migrations.
// Use ":memory:" for an in-memory database.
func NewSQLiteStore(ctx context.Context, dbPath string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// One writer at a time; this also serializes the read-check-insert of
	// Insert and keeps a ":memory:" database on a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, slots: newSettings(opts).slots}
	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if n, err := s.Count(ctx); err == nil {
		metrics.UpdateStoreRecords(n)
	}
	return s, nil
}

func (s *SQLiteStore) runMigrations() error {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("goose up failed: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Insert implements Store.
func (s *SQLiteStore) Insert(ctx context.Context, rec model.ContributionRecord) (model.ContributionRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.ContributionRecord{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE id = ?`, rec.ID).Scan(&exists); err != nil {
		return model.ContributionRecord{}, fmt.Errorf("failed to check id: %w", err)
	}
	if exists > 0 {
		return model.ContributionRecord{}, fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
	}

	var total int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&total); err != nil {
		return model.ContributionRecord{}, fmt.Errorf("failed to count records: %w", err)
	}

	lapSlots, err := currentLapSlots(ctx, tx, lap.Length(total, s.slots))
	if err != nil {
		return model.ContributionRecord{}, err
	}
	if err := checkSlot(total, s.slots, lapSlots, rec.SlotIndex); err != nil {
		return model.ContributionRecord{}, err
	}

	query := `
		INSERT INTO records (
			id, location_id, latitude, longitude,
			submitter_id, slot_index, hue, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		rec.ID,
		rec.LocationID,
		rec.Latitude,
		rec.Longitude,
		rec.SubmitterID,
		rec.SlotIndex,
		rec.Hue,
		rec.CreatedAt.String(),
	)
	if err != nil {
		return model.ContributionRecord{}, fmt.Errorf("failed to insert record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.ContributionRecord{}, fmt.Errorf("failed to commit: %w", err)
	}

	metrics.UpdateStoreRecords(total + 1)
	return rec, nil
}

func currentLapSlots(ctx context.Context, tx *sql.Tx, n int) ([]int, error) {
	if n == 0 {
		return nil, nil
	}
	rows, err := tx.QueryContext(ctx, `SELECT slot_index FROM records ORDER BY seq DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to read current lap: %w", err)
	}
	defer rows.Close()

	slots := make([]int, 0, n)
	for rows.Next() {
		var slot int
		if err := rows.Scan(&slot); err != nil {
			return nil, fmt.Errorf("failed to scan slot: %w", err)
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

const selectRecord = `SELECT id, location_id, latitude, longitude, submitter_id, slot_index, hue, created_at FROM records`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (model.ContributionRecord, error) {
	var (
		rec       model.ContributionRecord
		createdAt string
	)
	err := row.Scan(
		&rec.ID,
		&rec.LocationID,
		&rec.Latitude,
		&rec.Longitude,
		&rec.SubmitterID,
		&rec.SlotIndex,
		&rec.Hue,
		&createdAt,
	)
	if err != nil {
		return model.ContributionRecord{}, err
	}
	t, err := time.Parse(model.TimestampLayout, createdAt)
	if err != nil {
		return model.ContributionRecord{}, fmt.Errorf("record %s: bad created_at %q: %w", rec.ID, createdAt, err)
	}
	rec.CreatedAt = model.NewTimestamp(t)
	return rec, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (model.ContributionRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectRecord+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.ContributionRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return model.ContributionRecord{}, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context) ([]model.ContributionRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectRecord+` ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	out := []model.ContributionRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return out, nil
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// Reset implements Store.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return fmt.Errorf("failed to reset records: %w", err)
	}
	metrics.UpdateStoreRecords(0)
	return nil
}
