package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/camaradata/crawl-coordinator/internal/crawl"
)

// Catalog serves a fixed activity list and per-area street lists.
type Catalog struct {
	mu         sync.RWMutex
	activities []crawl.Activity
	streets    map[string][]string
}

// NewCatalog builds a catalog from an activity list and a map of postal
// code to normalized street names.
func NewCatalog(activities []crawl.Activity, streets map[string][]string) *Catalog {
	c := &Catalog{
		activities: append([]crawl.Activity(nil), activities...),
		streets:    make(map[string][]string, len(streets)),
	}
	for code, names := range streets {
		c.streets[code] = append([]string(nil), names...)
	}
	return c
}

// ListActivities returns the activity catalog.
func (c *Catalog) ListActivities(_ context.Context) ([]crawl.Activity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]crawl.Activity(nil), c.activities...), nil
}

// StreetsForArea returns every street name of an area.
func (c *Catalog) StreetsForArea(_ context.Context, areaCode string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.streets[areaCode]...), nil
}

// StreetsForAreaMatching returns the streets of an area containing the
// given letter sequence.
func (c *Catalog) StreetsForAreaMatching(_ context.Context, areaCode, letters string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for _, name := range c.streets[areaCode] {
		if strings.Contains(name, letters) {
			out = append(out, name)
		}
	}
	return out, nil
}
