package crawl

import (
	"context"
	"time"
)

// AreaStore mirrors area state to durable storage. The in-memory
// registry stays authoritative; write failures are logged by callers
// and do not roll back memory.
type AreaStore interface {
	LoadAll(ctx context.Context) ([]AreaSnapshot, error)
	SaveAreaState(ctx context.Context, snap AreaSnapshot) error
	SaveDifficultTask(ctx context.Context, areaID int64, task DifficultTask) (int64, error)
	DeleteDifficultTask(ctx context.Context, id int64) error
}

// CatalogStore loads the immutable activity catalog.
type CatalogStore interface {
	ListActivities(ctx context.Context) ([]Activity, error)
}

// StreetCatalog serves the normalized street names of an area.
type StreetCatalog interface {
	StreetsForArea(ctx context.Context, areaCode string) ([]string, error)
	StreetsForAreaMatching(ctx context.Context, areaCode, letters string) ([]string, error)
}

// CompanyImporter records an imported result batch, deduplicating and
// merging against already-known companies. The boolean result is the
// scheduler's grounds for marking progress.
type CompanyImporter interface {
	ImportBatch(ctx context.Context, companies []Company, area *Area, activity Activity) (bool, error)
}

// EscalationSink receives subdivision requests for capped results.
// HasPending must count requests still queued or in flight, since the
// Finished transition requires no outstanding escalation for the area.
type EscalationSink interface {
	Enqueue(req EscalationRequest)
	HasPending(areaCode string) bool
}

// Notifier publishes operator-facing events.
type Notifier interface {
	AreaFinished(ctx context.Context, areaCode string)
	DeepTaskStillCapped(ctx context.Context, areaCode, searchText string)
}

// BatchArchive persists raw reported batches for audit, best effort.
type BatchArchive interface {
	ArchiveBatch(ctx context.Context, areaCode, activityCode, searchText string, companies []Company) error
}

// Clock returns the current time (injectable for lease tests).
type Clock interface {
	Now() time.Time
}
