package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/camaradata/crawl-coordinator/internal/crawl"
)

// GCSArchive writes each reported batch as a JSON object under
// <prefix>/<area>/<activity>/. Object names carry a timestamp plus a
// UUID so concurrent reports never collide.
type GCSArchive struct {
	client *storage.Client
	bucket string
	prefix string
	logger *zap.Logger
}

type batchObject struct {
	AreaCode     string          `json:"area_code"`
	ActivityCode string          `json:"activity_code"`
	SearchText   string          `json:"search_text"`
	ReportedAt   time.Time       `json:"reported_at"`
	Companies    []crawl.Company `json:"companies"`
}

// NewGCSArchive creates a GCS client and verifies bucket access so a
// misconfigured bucket fails at startup instead of on first report.
func NewGCSArchive(ctx context.Context, bucket, prefix string, logger *zap.Logger) (*GCSArchive, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}

	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close gcs client", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("check gcs bucket %q: %w", bucket, err)
	}

	return &GCSArchive{client: client, bucket: bucket, prefix: prefix, logger: logger}, nil
}

// ArchiveBatch uploads a single batch. Callers treat failures as
// non-fatal; the scheduler logs and moves on.
func (a *GCSArchive) ArchiveBatch(ctx context.Context, areaCode, activityCode, searchText string, companies []crawl.Company) error {
	obj := batchObject{
		AreaCode:     areaCode,
		ActivityCode: activityCode,
		SearchText:   searchText,
		ReportedAt:   time.Now().UTC(),
		Companies:    companies,
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	name := path.Join(a.prefix, areaCode, activityCode,
		fmt.Sprintf("%s-%s.json", obj.ReportedAt.Format("20060102T150405"), uuid.NewString()))

	wc := a.client.Bucket(a.bucket).Object(name).NewWriter(ctx)
	wc.ContentType = "application/json"
	if _, err := wc.Write(data); err != nil {
		if closeErr := wc.Close(); closeErr != nil {
			a.logger.Warn("close gcs writer after failed write", zap.Error(closeErr))
		}
		return fmt.Errorf("write batch object %s: %w", name, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("close batch object %s: %w", name, err)
	}
	return nil
}

// Close releases the underlying GCS client.
func (a *GCSArchive) Close() error {
	return a.client.Close()
}
