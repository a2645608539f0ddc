// Package registry holds the in-memory mirror of all postal areas.
// It is loaded once at startup and stays authoritative for every
// scheduling decision; durable storage trails behind, write-through.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/camaradata/crawl-coordinator/internal/crawl"
)

// maxAreaCode bounds the postal-code universe scanned for gaps.
const maxAreaCode = 53000

// Registry indexes areas by postal code. The map itself is immutable
// after Load; per-area mutation goes through the Area's own methods.
type Registry struct {
	byCode map[string]*crawl.Area
	codes  []string // ascending, for deterministic claim order
}

// New builds a Registry from loaded snapshots.
func New(snaps []crawl.AreaSnapshot) *Registry {
	r := &Registry{byCode: make(map[string]*crawl.Area, len(snaps))}
	for _, snap := range snaps {
		r.byCode[snap.Code] = crawl.NewArea(snap)
		r.codes = append(r.codes, snap.Code)
	}
	sort.Strings(r.codes)
	return r
}

// Load reads every area from durable storage into memory.
func Load(ctx context.Context, store crawl.AreaStore, logger *zap.Logger) (*Registry, error) {
	snaps, err := store.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load areas: %w", err)
	}
	r := New(snaps)
	logger.Info("postal areas loaded into memory", zap.Int("areas", len(snaps)))
	return r, nil
}

// ByCode returns the area for a postal code, nil when unknown.
func (r *Registry) ByCode(code string) *crawl.Area {
	return r.byCode[code]
}

// Len returns the number of known areas.
func (r *Registry) Len() int {
	return len(r.codes)
}

// Pending returns every claimable area in ascending code order. The
// slice is a snapshot; claimability may change before the caller acts,
// which is why claims re-check under the dispatch gate.
func (r *Registry) Pending(now time.Time) []*crawl.Area {
	var pending []*crawl.Area
	for _, code := range r.codes {
		if area := r.byCode[code]; area.Claimable(now) {
			pending = append(pending, area)
		}
	}
	return pending
}

// MissingCodes scans the fixed 00001..53000 universe and returns every
// zero-padded code absent from the registry, ascending.
func (r *Registry) MissingCodes() []string {
	present := make(map[int]bool, len(r.codes))
	for _, code := range r.codes {
		if n, err := strconv.Atoi(code); err == nil && n > 0 {
			present[n] = true
		}
	}
	var missing []string
	for n := 1; n <= maxAreaCode; n++ {
		if !present[n] {
			missing = append(missing, fmt.Sprintf("%05d", n))
		}
	}
	return missing
}
