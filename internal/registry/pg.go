package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // pgx5:// scheme
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"studyflow/internal/platform/pg"
)

// PGStore persists the job registry in PostgreSQL, for deployments that
// share the resume list across devices.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects to PostgreSQL at dsn and applies pending
// migrations.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	if err := migratePG(dsn); err != nil {
		return nil, err
	}
	pool, err := pg.NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &PGStore{pool: pool}, nil
}

func migratePG(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, migrateDSN(dsn))
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// migrateDSN rewrites a postgres:// DSN to the pgx5:// scheme
// golang-migrate registers for its pgx/v5 driver.
func migrateDSN(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}

// List implements Store.
func (s *PGStore) List(ctx context.Context, userID string) ([]Row, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, job_id, status, payload, created_at, updated_at
		   FROM job_registry WHERE user_id = $1 ORDER BY created_at`, userID)
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
func (s *PGStore) Get(ctx context.Context, userID, jobID string) (*Row, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT user_id, job_id, status, payload, created_at, updated_at
		   FROM job_registry WHERE user_id = $1 AND job_id = $2`, userID, jobID)
	r, err := scanRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Put implements Store.
func (s *PGStore) Put(ctx context.Context, row Row) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_registry (user_id, job_id, status, payload, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
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
func (s *PGStore) Delete(ctx context.Context, userID, jobID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM job_registry WHERE user_id = $1 AND job_id = $2`, userID, jobID)
	return err
}

// Prune implements Store.
func (s *PGStore) Prune(ctx context.Context, statuses []string, before time.Time) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM job_registry WHERE status = ANY($1) AND updated_at < $2`,
		statuses, before.Unix())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Close implements Store.
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}
