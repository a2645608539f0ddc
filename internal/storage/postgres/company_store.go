package postgres

import (
	"context"
	"fmt"

	"github.com/camaradata/crawl-coordinator/internal/crawl"
)

// CompanyStore persists deduplicated company records. Activity codes
// are kept as a text array on the row, matching the merge-on-import
// model where a company accretes activities over time.
type CompanyStore struct {
	pool querier
}

// NewCompanyStore constructs a store from an existing pool.
func NewCompanyStore(pool querier) (*CompanyStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CompanyStore{pool: pool}, nil
}

// LoadIndex reads every company with its activity list, enough to
// rebuild the importer's dedup index.
func (s *CompanyStore) LoadIndex(ctx context.Context) ([]crawl.CompanyRecord, error) {
	rows, err := s.pool.Query(ctx, `
SELECT name, postal_code, camara_link, activity_ids, activity_codes
FROM companies
ORDER BY postal_code, name`)
	if err != nil {
		return nil, fmt.Errorf("query companies: %w", err)
	}
	defer rows.Close()

	var out []crawl.CompanyRecord
	for rows.Next() {
		var rec crawl.CompanyRecord
		var ids []int64
		var codes []string
		if err := rows.Scan(&rec.Name, &rec.AreaCode, &rec.CamaraLink, &ids, &codes); err != nil {
			return nil, fmt.Errorf("scan company: %w", err)
		}
		if len(ids) != len(codes) {
			return nil, fmt.Errorf("company %q has mismatched activity arrays", rec.Name)
		}
		for i := range ids {
			rec.Activities = append(rec.Activities, crawl.Activity{ID: ids[i], Code: codes[i]})
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate companies: %w", err)
	}
	return out, nil
}

// SaveBatch upserts the given records, replacing the stored activity
// arrays with the merged in-memory view.
func (s *CompanyStore) SaveBatch(ctx context.Context, batch []crawl.CompanyRecord) error {
	for _, rec := range batch {
		ids := make([]int64, 0, len(rec.Activities))
		codes := make([]string, 0, len(rec.Activities))
		for _, act := range rec.Activities {
			ids = append(ids, act.ID)
			codes = append(codes, act.Code)
		}
		if _, err := s.pool.Exec(ctx, `
INSERT INTO companies (name, postal_code, camara_link, activity_ids, activity_codes)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (name, postal_code) DO UPDATE
SET camara_link = EXCLUDED.camara_link,
    activity_ids = EXCLUDED.activity_ids,
    activity_codes = EXCLUDED.activity_codes`,
			rec.Name, rec.AreaCode, rec.CamaraLink, ids, codes); err != nil {
			return fmt.Errorf("upsert company %q: %w", rec.Name, err)
		}
	}
	return nil
}
