// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/camaradata/crawl-coordinator/internal/crawl"
)

// querier covers the pool surface the stores use, so pgxmock can stand
// in for a real pool in tests.
type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// PoolConfig controls the shared Postgres connection pool.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// NewPool creates a pgx pool from the given config.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// AreaStore mirrors area progress into the postal_codes and
// difficult_tasks tables.
type AreaStore struct {
	pool querier
}

// NewAreaStore constructs a store from an existing pool.
func NewAreaStore(pool querier) (*AreaStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &AreaStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *AreaStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// LoadAll reads every area with its finished activities and pending
// difficult tasks.
func (s *AreaStore) LoadAll(ctx context.Context) ([]crawl.AreaSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, code, state, lease_until
FROM postal_codes
ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("query postal codes: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]*crawl.AreaSnapshot)
	var snaps []*crawl.AreaSnapshot
	for rows.Next() {
		var snap crawl.AreaSnapshot
		var lease *time.Time
		if err := rows.Scan(&snap.ID, &snap.Code, &snap.State, &lease); err != nil {
			return nil, fmt.Errorf("scan postal code: %w", err)
		}
		if lease != nil {
			snap.LeaseUntil = *lease
		}
		ptr := &snap
		byID[snap.ID] = ptr
		snaps = append(snaps, ptr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate postal codes: %w", err)
	}

	if err := s.loadFinished(ctx, byID); err != nil {
		return nil, err
	}
	if err := s.loadDifficult(ctx, byID); err != nil {
		return nil, err
	}

	out := make([]crawl.AreaSnapshot, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, *snap)
	}
	return out, nil
}

func (s *AreaStore) loadFinished(ctx context.Context, byID map[int64]*crawl.AreaSnapshot) error {
	rows, err := s.pool.Query(ctx, `
SELECT f.postal_code_id, a.id, a.code
FROM finished_activities f
JOIN activities a ON a.id = f.activity_id`)
	if err != nil {
		return fmt.Errorf("query finished activities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var areaID int64
		var act crawl.Activity
		if err := rows.Scan(&areaID, &act.ID, &act.Code); err != nil {
			return fmt.Errorf("scan finished activity: %w", err)
		}
		if snap, ok := byID[areaID]; ok {
			snap.Finished = append(snap.Finished, act)
		}
	}
	return rows.Err()
}

func (s *AreaStore) loadDifficult(ctx context.Context, byID map[int64]*crawl.AreaSnapshot) error {
	rows, err := s.pool.Query(ctx, `
SELECT d.id, d.postal_code_id, d.search_text, d.difficulty, a.id, a.code
FROM difficult_tasks d
JOIN activities a ON a.id = d.activity_id
ORDER BY d.id`)
	if err != nil {
		return fmt.Errorf("query difficult tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var areaID int64
		var task crawl.DifficultTask
		if err := rows.Scan(&task.ID, &areaID, &task.SearchText, &task.Difficulty,
			&task.Activity.ID, &task.Activity.Code); err != nil {
			return fmt.Errorf("scan difficult task: %w", err)
		}
		if snap, ok := byID[areaID]; ok {
			snap.Difficult = append(snap.Difficult, task)
		}
	}
	return rows.Err()
}

// SaveAreaState writes the state, lease and finished-activity set of an
// area. The finished set is replaced wholesale, which keeps the write
// idempotent.
func (s *AreaStore) SaveAreaState(ctx context.Context, snap crawl.AreaSnapshot) error {
	var lease *time.Time
	if !snap.LeaseUntil.IsZero() {
		lease = &snap.LeaseUntil
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE postal_codes
SET state = $2, lease_until = $3
WHERE id = $1`, snap.ID, snap.State, lease)
	if err != nil {
		return fmt.Errorf("update postal code %s: %w", snap.Code, err)
	}
	if tag.RowsAffected() == 0 {
		return crawl.ErrNotFound
	}

	if _, err := s.pool.Exec(ctx, `
DELETE FROM finished_activities WHERE postal_code_id = $1`, snap.ID); err != nil {
		return fmt.Errorf("clear finished activities: %w", err)
	}
	for _, act := range snap.Finished {
		if _, err := s.pool.Exec(ctx, `
INSERT INTO finished_activities (postal_code_id, activity_id)
VALUES ($1, $2)
ON CONFLICT DO NOTHING`, snap.ID, act.ID); err != nil {
			return fmt.Errorf("insert finished activity %s: %w", act.Code, err)
		}
	}
	return nil
}

// SaveDifficultTask inserts a difficult task and returns its row ID.
func (s *AreaStore) SaveDifficultTask(ctx context.Context, areaID int64, task crawl.DifficultTask) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
INSERT INTO difficult_tasks (postal_code_id, activity_id, search_text, difficulty)
VALUES ($1, $2, $3, $4)
RETURNING id`, areaID, task.Activity.ID, task.SearchText, task.Difficulty).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert difficult task: %w", err)
	}
	return id, nil
}

// DeleteDifficultTask removes a difficult task by its row ID.
func (s *AreaStore) DeleteDifficultTask(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
DELETE FROM difficult_tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete difficult task %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return crawl.ErrNotFound
	}
	return nil
}
