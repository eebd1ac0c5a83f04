package guard

import (
	"context"
	"errors"
	"time"

	"coach-backend/internal/quota"
	"coach-backend/internal/shared/metrics"
	"coach-backend/internal/shared/telemetry"
)

// Denial reasons, in the order the checks run.
const (
	ReasonDisabled   = "disabled"
	ReasonStorage    = "storage"
	ReasonQuota      = "quota"
	ReasonQuotaError = "quota_error"
)

// Denial explains why a request was refused before any work was queued.
type Denial struct {
	Reason     string
	MessageJA  string
	MessageEN  string
	StatusCode int
}

// Message returns the bilingual reply body for this denial.
func (d Denial) Message() string {
	return Bilingual(d.MessageJA, d.MessageEN)
}

// Result reports the admission decision for one incoming request.
type Result struct {
	Allowed bool
	Denial  *Denial
}

// FlagStore reads the operator kill switch.
type FlagStore interface {
	IsDisabled(ctx context.Context) (bool, error)
}

// SnapshotStore persists the last storage usage measurement so that
// concurrent processes share one measurement window.
type SnapshotStore interface {
	Get(ctx context.Context) (totalBytes int64, checkedAt time.Time, err error)
	Put(ctx context.Context, totalBytes int64, checkedAt time.Time) error
}

// UsageScanner measures total bytes held in object storage. The object
// store's full listing satisfies this.
type UsageScanner interface {
	TotalBytes(ctx context.Context) (int64, error)
}

// QuotaReserver consumes one unit of the user's daily allowance.
type QuotaReserver interface {
	Reserve(ctx context.Context, userID, contentType string) (quota.Record, error)
}

// Guard runs the admission checks for incoming work. The order is fixed:
// kill switch, then storage capacity, then daily quota. Quota runs last
// so a denied request never burns allowance.
type Guard struct {
	flags       FlagStore
	snapshots   SnapshotStore
	scanner     UsageScanner
	quota       QuotaReserver
	limitBytes  int64
	snapshotTTL time.Duration
	validUserID func(string) bool
	now         func() time.Time
}

// Options configures a Guard.
type Options struct {
	Flags       FlagStore
	Snapshots   SnapshotStore
	Scanner     UsageScanner
	Quota       QuotaReserver
	LimitBytes  int64
	SnapshotTTL time.Duration
	// ValidUserID filters which user IDs participate in quota
	// accounting. Unrecognized IDs are admitted without recording.
	ValidUserID func(string) bool
}

// New constructs a Guard.
func New(opts Options) *Guard {
	validUserID := opts.ValidUserID
	if validUserID == nil {
		validUserID = func(string) bool { return true }
	}
	return &Guard{
		flags:       opts.Flags,
		snapshots:   opts.Snapshots,
		scanner:     opts.Scanner,
		quota:       opts.Quota,
		limitBytes:  opts.LimitBytes,
		snapshotTTL: opts.SnapshotTTL,
		validUserID: validUserID,
		now:         time.Now,
	}
}

// Check runs the admission sequence for one request.
func (g *Guard) Check(ctx context.Context, userID, contentType string) Result {
	if g.isDisabled(ctx) {
		metrics.IncGuardDenied()
		return deny(Denial{
			Reason:     ReasonDisabled,
			MessageJA:  DisabledJA,
			MessageEN:  DisabledEN,
			StatusCode: 503,
		})
	}

	if d := g.checkStorage(ctx); d != nil {
		metrics.IncGuardDenied()
		return deny(*d)
	}

	if d := g.reserveQuota(ctx, userID, contentType); d != nil {
		metrics.IncGuardDenied()
		return deny(*d)
	}

	return Result{Allowed: true}
}

// isDisabled fails open: an unreadable flag must not take the service down.
func (g *Guard) isDisabled(ctx context.Context) bool {
	disabled, err := g.flags.IsDisabled(ctx)
	if err != nil {
		telemetry.Error("guard.flag_check_failed", map[string]any{"error": err.Error()})
		return false
	}
	return disabled
}

// checkStorage fails open: if usage cannot be measured the request is
// admitted rather than refused on a guess.
func (g *Guard) checkStorage(ctx context.Context) *Denial {
	usage, err := g.storageUsage(ctx)
	if err != nil {
		telemetry.Error("guard.storage_check_failed", map[string]any{"error": err.Error()})
		return nil
	}
	if usage >= g.limitBytes {
		return &Denial{
			Reason:     ReasonStorage,
			MessageJA:  StorageFullJA,
			MessageEN:  StorageFullEN,
			StatusCode: 503,
		}
	}
	return nil
}

func (g *Guard) storageUsage(ctx context.Context) (int64, error) {
	now := g.now()
	if g.snapshots != nil {
		bytes, checkedAt, err := g.snapshots.Get(ctx)
		if err == nil && now.Sub(checkedAt) < g.snapshotTTL {
			return bytes, nil
		}
		if err != nil {
			telemetry.Warn("guard.snapshot_read_failed", map[string]any{"error": err.Error()})
		}
	}

	total, err := g.scanner.TotalBytes(ctx)
	if err != nil {
		return 0, err
	}

	if g.snapshots != nil {
		if err := g.snapshots.Put(ctx, total, now); err != nil {
			telemetry.Warn("guard.snapshot_write_failed", map[string]any{"error": err.Error()})
		}
	}
	return total, nil
}

// reserveQuota fails closed: an accounting error refuses the request so
// a broken counter cannot hand out unlimited work.
func (g *Guard) reserveQuota(ctx context.Context, userID, contentType string) *Denial {
	if !g.validUserID(userID) {
		return nil
	}
	_, err := g.quota.Reserve(ctx, userID, contentType)
	if err == nil {
		return nil
	}
	if errors.Is(err, quota.ErrLimitReached) {
		return &Denial{
			Reason:     ReasonQuota,
			MessageJA:  QuotaReachedJA,
			MessageEN:  QuotaReachedEN,
			StatusCode: 429,
		}
	}
	telemetry.Error("guard.quota_check_failed", map[string]any{"error": err.Error()})
	return &Denial{
		Reason:     ReasonQuotaError,
		MessageJA:  DisabledJA,
		MessageEN:  DisabledEN,
		StatusCode: 503,
	}
}

func deny(d Denial) Result {
	return Result{Allowed: false, Denial: &d}
}
