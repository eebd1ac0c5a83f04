package cleanup

import (
	"context"
	"sort"
	"time"

	"coach-backend/internal/shared/storage/object"
	"coach-backend/internal/shared/telemetry"
)

// Store is the slice of the object store cleanup needs.
type Store interface {
	List(ctx context.Context) ([]object.Info, error)
	Delete(ctx context.Context, storageKey string) error
}

// Report summarizes one cleanup run.
type Report struct {
	Scanned      int
	Deleted      int
	DeletedBytes int64
	RemainBytes  int64
}

// Service reclaims object storage. It deletes oldest objects first
// until total usage drops below the low-water mark, and always removes
// objects older than MaxAge.
type Service struct {
	store         Store
	lowWaterBytes int64
	maxAge        time.Duration
	now           func() time.Time
}

// NewService constructs a cleanup service.
func NewService(store Store, lowWaterBytes int64, maxAge time.Duration) *Service {
	return &Service{
		store:         store,
		lowWaterBytes: lowWaterBytes,
		maxAge:        maxAge,
		now:           time.Now,
	}
}

// Run performs one cleanup pass. Individual delete failures are logged
// and skipped; the pass continues with the next candidate.
func (s *Service) Run(ctx context.Context) (Report, error) {
	infos, err := s.store.List(ctx)
	if err != nil {
		return Report{}, err
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].LastModified.Before(infos[j].LastModified)
	})

	var total int64
	for _, info := range infos {
		total += info.SizeBytes
	}

	report := Report{Scanned: len(infos), RemainBytes: total}
	cutoff := s.now().Add(-s.maxAge)

	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		overWater := s.lowWaterBytes > 0 && report.RemainBytes > s.lowWaterBytes
		tooOld := s.maxAge > 0 && info.LastModified.Before(cutoff)
		if !overWater && !tooOld {
			break
		}
		if err := s.store.Delete(ctx, info.Key); err != nil {
			telemetry.Warn("cleanup.delete_failed", map[string]any{
				"storage_key": info.Key,
				"error":       err.Error(),
			})
			continue
		}
		report.Deleted++
		report.DeletedBytes += info.SizeBytes
		report.RemainBytes -= info.SizeBytes
	}

	telemetry.Info("cleanup.complete", map[string]any{
		"scanned":       report.Scanned,
		"deleted":       report.Deleted,
		"deleted_bytes": report.DeletedBytes,
		"remain_bytes":  report.RemainBytes,
	})
	return report, nil
}
