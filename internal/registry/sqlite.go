package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	migrate "github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"studyflow/internal/platform/sqlite"
)

// SQLiteStore persists the job registry in an embedded SQLite database,
// the default for single-device use.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the registry database at
// path and applies pending migrations. Use path ":memory:" for tests.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	var (
		db  *sql.DB
		err error
	)
	if path == ":memory:" {
		db, err = sqlite.OpenInMemory(ctx)
	} else {
		db, err = sqlite.Open(ctx, path)
	}
	if err != nil {
		return nil, err
	}
	if err := migrateSQLite(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrateSQLite(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("init migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, userID string) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, job_id, status, payload, created_at, updated_at
		   FROM job_registry WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, userID, jobID string) (*Row, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, job_id, status, payload, created_at, updated_at
		   FROM job_registry WHERE user_id = ? AND job_id = ?`, userID, jobID)
	r, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, row Row) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_registry (user_id, job_id, status, payload, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, job_id) DO UPDATE SET
		   status = excluded.status,
		   payload = excluded.payload,
		   created_at = excluded.created_at,
		   updated_at = excluded.updated_at`,
		row.UserID, row.JobID, row.Status, string(row.Payload),
		row.CreatedAt.Unix(), row.UpdatedAt.Unix())
	return err
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, userID, jobID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM job_registry WHERE user_id = ? AND job_id = ?`, userID, jobID)
	return err
}

// Prune implements Store.
func (s *SQLiteStore) Prune(ctx context.Context, statuses []string, before time.Time) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, 0, len(statuses)+1)
	for _, st := range statuses {
		args = append(args, st)
	}
	args = append(args, before.Unix())

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM job_registry WHERE status IN (`+placeholders+`) AND updated_at < ?`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(sc rowScanner) (Row, error) {
	var (
		r       Row
		payload string
		created int64
		updated int64
	)
	if err := sc.Scan(&r.UserID, &r.JobID, &r.Status, &payload, &created, &updated); err != nil {
		return Row{}, err
	}
	r.Payload = []byte(payload)
	r.CreatedAt = time.Unix(created, 0).UTC()
	r.UpdatedAt = time.Unix(updated, 0).UTC()
	return r, nil
}
