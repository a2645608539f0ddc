package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/camaradata/crawl-coordinator/internal/crawl"
)

// Catalog reads the immutable activity list and per-area street names.
type Catalog struct {
	pool querier
}

// NewCatalog constructs a catalog from an existing pool.
func NewCatalog(pool querier) (*Catalog, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Catalog{pool: pool}, nil
}

// ListActivities returns the activity catalog in ID order.
func (c *Catalog) ListActivities(ctx context.Context) ([]crawl.Activity, error) {
	rows, err := c.pool.Query(ctx, `
SELECT id, code FROM activities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query activities: %w", err)
	}
	defer rows.Close()

	var out []crawl.Activity
	for rows.Next() {
		var act crawl.Activity
		if err := rows.Scan(&act.ID, &act.Code); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, act)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activities: %w", err)
	}
	return out, nil
}

// StreetsForArea returns the normalized street names of a postal code.
func (c *Catalog) StreetsForArea(ctx context.Context, areaCode string) ([]string, error) {
	rows, err := c.pool.Query(ctx, `
SELECT s.name
FROM streets s
JOIN postal_codes p ON p.id = s.postal_code_id
WHERE p.code = $1
ORDER BY s.name`, areaCode)
	if err != nil {
		return nil, fmt.Errorf("query streets: %w", err)
	}
	defer rows.Close()
	return scanNames(rows)
}

// StreetsForAreaMatching returns the streets of a postal code whose
// name contains the given letter sequence.
func (c *Catalog) StreetsForAreaMatching(ctx context.Context, areaCode, letters string) ([]string, error) {
	rows, err := c.pool.Query(ctx, `
SELECT s.name
FROM streets s
JOIN postal_codes p ON p.id = s.postal_code_id
WHERE p.code = $1 AND s.name LIKE '%' || $2 || '%'
ORDER BY s.name`, areaCode, letters)
	if err != nil {
		return nil, fmt.Errorf("query matching streets: %w", err)
	}
	defer rows.Close()
	return scanNames(rows)
}

func scanNames(rows pgx.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan street: %w", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate streets: %w", err)
	}
	return out, nil
}
