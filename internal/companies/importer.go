// Package companies deduplicates reported company batches against an
// in-memory index and flushes writes through a deferred queue.
package companies

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/camaradata/crawl-coordinator/internal/crawl"
	"github.com/camaradata/crawl-coordinator/internal/metrics"
)

const defaultFlushInterval = 500 * time.Millisecond

// Store persists company records.
type Store interface {
	// LoadIndex returns every known company with its activity codes,
	// enough to rebuild the dedup index at startup.
	LoadIndex(ctx context.Context) ([]crawl.CompanyRecord, error)
	// SaveBatch upserts a batch of created or updated records.
	SaveBatch(ctx context.Context, batch []crawl.CompanyRecord) error
}

// Importer merges reported companies into the known set. Identity is
// (name, postal code); a company reported under a new activity gets
// that activity appended. Writes are queued and flushed by Run.
type Importer struct {
	mu    sync.Mutex
	known map[string]*crawl.CompanyRecord
	queue [][]crawl.CompanyRecord

	store  Store
	flush  time.Duration
	logger *zap.Logger
}

// NewImporter constructs an Importer. Call Load before first use.
func NewImporter(store Store, logger *zap.Logger, flushInterval time.Duration) *Importer {
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	return &Importer{
		known:  make(map[string]*crawl.CompanyRecord),
		store:  store,
		flush:  flushInterval,
		logger: logger,
	}
}

// Load rebuilds the dedup index from durable storage.
func (im *Importer) Load(ctx context.Context) error {
	records, err := im.store.LoadIndex(ctx)
	if err != nil {
		return err
	}
	im.mu.Lock()
	defer im.mu.Unlock()
	for i := range records {
		rec := records[i]
		im.known[dedupKey(rec.Name, rec.AreaCode)] = &rec
	}
	im.logger.Info("company index loaded into memory",
		zap.Int("companies", len(records)))
	return nil
}

// ImportBatch merges one reported batch. New companies are created;
// known ones reported under a new activity are updated. Either way the
// touched records are queued for the deferred writer, and the batch
// counts as imported so the scheduler can mark progress.
func (im *Importer) ImportBatch(
	_ context.Context,
	companies []crawl.Company,
	area *crawl.Area,
	activity crawl.Activity,
) (bool, error) {
	im.mu.Lock()
	defer im.mu.Unlock()

	var touched []crawl.CompanyRecord
	for _, company := range companies {
		key := dedupKey(company.Name, area.Code())
		rec, exists := im.known[key]
		if !exists {
			rec = &crawl.CompanyRecord{
				Name:       company.Name,
				AreaCode:   area.Code(),
				CamaraLink: company.CamaraLink,
				Activities: []crawl.Activity{activity},
			}
			im.known[key] = rec
			touched = append(touched, *rec)
			continue
		}
		if !hasActivity(rec, activity.Code) {
			rec.Activities = append(rec.Activities, activity)
			touched = append(touched, *rec)
		}
	}

	if len(touched) > 0 {
		im.queue = append(im.queue, touched)
		metrics.ObserveCompaniesImported(len(touched))
	}
	return true, nil
}

// QueuedBatches reports how many write batches await flushing.
func (im *Importer) QueuedBatches() int {
	im.mu.Lock()
	defer im.mu.Unlock()
	return len(im.queue)
}

func (im *Importer) dequeue() ([]crawl.CompanyRecord, bool) {
	im.mu.Lock()
	defer im.mu.Unlock()
	if len(im.queue) == 0 {
		return nil, false
	}
	batch := im.queue[0]
	im.queue = im.queue[1:]
	return batch, true
}

// Run is the deferred writer: flush while batches are queued, otherwise
// sleep one interval and recheck. Write failures are logged and the
// loop moves on; the in-memory index already reflects the batch.
func (im *Importer) Run(ctx context.Context) {
	ticker := time.NewTicker(im.flush)
	defer ticker.Stop()
	for {
		batch, ok := im.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				continue
			}
		}
		if err := im.store.SaveBatch(ctx, batch); err != nil {
			metrics.ObserveDeferredFlush("error")
			im.logger.Error("company batch write failed",
				zap.Int("companies", len(batch)), zap.Error(err))
			continue
		}
		metrics.ObserveDeferredFlush("ok")
	}
}

func dedupKey(name, areaCode string) string {
	return name + "|" + areaCode
}

func hasActivity(rec *crawl.CompanyRecord, code string) bool {
	for _, act := range rec.Activities {
		if act.Code == code {
			return true
		}
	}
	return false
}
