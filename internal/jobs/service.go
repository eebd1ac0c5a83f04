package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coach-backend/internal/analysis"
	"coach-backend/internal/cache"
	"coach-backend/internal/compose"
	"coach-backend/internal/shared/metrics"
	"coach-backend/internal/shared/telemetry"
)

// Deliverer sends the final message to the user.
type Deliverer interface {
	Send(ctx context.Context, replyToken, userID, text string) (string, error)
}

// URLSigner re-issues a fetchable URL for stored media. Signed URLs
// recorded at admission may have expired by the time a job runs.
type URLSigner interface {
	PresignGet(ctx context.Context, storageKey string, ttl time.Duration) (string, error)
}

// QuotaReleaser refunds one unit of daily allowance.
type QuotaReleaser interface {
	Release(ctx context.Context, userID, contentType string) error
}

// Service executes queued jobs: cache lookup, analysis, composition,
// delivery, and the ledger writes tying it all together.
type Service struct {
	repo        Repo
	cacheStore  cache.Store
	analyzer    analysis.Client
	channel     Deliverer
	signer      URLSigner
	quota       QuotaReleaser
	cacheTTL    time.Duration
	jobTimeout  time.Duration
	mediaURLTTL time.Duration
	refundQuota bool
	now         func() time.Time
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	Repo       Repo
	Cache      cache.Store
	Analyzer   analysis.Client
	Channel    Deliverer
	Signer     URLSigner
	Quota      QuotaReleaser
	CacheTTL   time.Duration
	JobTimeout time.Duration
	// MediaURLTTL bounds re-issued media URLs.
	MediaURLTTL time.Duration
	// RefundQuota releases the user's allowance when analysis ends in
	// overload. Off by default: the attempt consumed provider capacity.
	RefundQuota bool
}

// NewService constructs a job execution service.
func NewService(opts ServiceOptions) *Service {
	cacheTTL := opts.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 7 * 24 * time.Hour
	}
	jobTimeout := opts.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = 3 * time.Minute
	}
	mediaURLTTL := opts.MediaURLTTL
	if mediaURLTTL <= 0 {
		mediaURLTTL = 10 * time.Minute
	}
	return &Service{
		repo:        opts.Repo,
		cacheStore:  opts.Cache,
		analyzer:    opts.Analyzer,
		channel:     opts.Channel,
		signer:      opts.Signer,
		quota:       opts.Quota,
		cacheTTL:    cacheTTL,
		jobTimeout:  jobTimeout,
		mediaURLTTL: mediaURLTTL,
		refundQuota: opts.RefundQuota,
		now:         time.Now,
	}
}

// Process runs one job to a terminal status. Handled outcomes, overload
// and delivery failure included, return nil so the queue does not
// redeliver and trigger a second send. Only infrastructure errors
// before any delivery attempt propagate.
func (s *Service) Process(ctx context.Context, jobID string) error {
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Terminal() {
		telemetry.Info("job.already_terminal", map[string]any{
			"job_id": job.ID,
			"status": job.Status,
		})
		return nil
	}

	metrics.IncJobStarted()
	startedAt := s.now().UTC()
	if err := s.repo.Update(ctx, job.ID, Patch{
		Status:    ptr(StatusProcessing),
		StartedAt: &startedAt,
	}); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	procCtx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()

	cacheKey := s.cacheKey(job)

	if payload, ok := s.cacheGet(procCtx, cacheKey); ok {
		s.finishFromCache(procCtx, job, payload, startedAt)
		return nil
	}

	answer, err := s.analyzer.Analyze(procCtx, s.buildRequest(procCtx, job))
	if err != nil {
		s.finishFailed(ctx, job, err, startedAt)
		return nil
	}

	final := compose.Compose(answer.Text)
	conversationID := answer.ConversationID
	if conversationID == "" {
		conversationID = job.ConversationID
	}

	method, deliveryErr := s.deliver(ctx, job, final)

	// The result is cached even when delivery failed: the analysis
	// itself succeeded and a repeat request should not burn another
	// provider call.
	if cacheKey != "" {
		if err := s.cacheStore.Put(procCtx, cacheKey, cache.Payload{
			FinalMessage:   final,
			ConversationID: conversationID,
			ProviderMeta:   answer.Meta,
		}, s.cacheTTL); err != nil {
			telemetry.Warn("job.cache_put_failed", map[string]any{
				"job_id": job.ID,
				"error":  err.Error(),
			})
		}
	}

	completedAt := s.now().UTC()
	patch := Patch{
		Status:         ptr(StatusCompleted),
		ConversationID: &conversationID,
		LastMessage:    &final,
		ProviderMeta:   answer.Meta,
		CompletedAt:    &completedAt,
	}
	applyDeliveryOutcome(&patch, deliveryErr)

	if err := s.repo.Update(ctx, job.ID, patch); err != nil {
		return fmt.Errorf("record completion: %w", err)
	}

	metrics.IncJobCompleted()
	metrics.ObserveJobDurationMs(float64(completedAt.Sub(startedAt).Milliseconds()))
	telemetry.Info("job.completed", map[string]any{
		"job_id":          job.ID,
		"delivery_method": method,
		"delivery_failed": deliveryErr != nil,
	})
	return nil
}

func (s *Service) cacheKey(job Job) string {
	if job.Fingerprint != "" {
		return job.Fingerprint
	}
	canonical := job.StorageKey
	if canonical == "" {
		canonical = job.InputText
	}
	if canonical == "" {
		return ""
	}
	return cache.Key(job.ContentType, job.ConversationID, canonical)
}

func (s *Service) cacheGet(ctx context.Context, key string) (cache.Payload, bool) {
	if key == "" {
		return cache.Payload{}, false
	}
	payload, ok, err := s.cacheStore.Get(ctx, key)
	if err != nil {
		telemetry.Warn("job.cache_get_failed", map[string]any{"error": err.Error()})
		return cache.Payload{}, false
	}
	if !ok || payload.FinalMessage == "" {
		return cache.Payload{}, false
	}
	return payload, true
}

func (s *Service) buildRequest(ctx context.Context, job Job) analysis.Request {
	req := analysis.Request{
		UserID:         job.UserID,
		ConversationID: job.ConversationID,
		MediaType:      job.ContentType,
		Inputs:         map[string]string{"source": "chat"},
	}
	if job.InputText != "" {
		req.Query = job.InputText
	}
	if job.StorageKey != "" && s.signer != nil {
		url, err := s.signer.PresignGet(ctx, job.StorageKey, s.mediaURLTTL)
		if err != nil {
			telemetry.Warn("job.presign_failed", map[string]any{
				"job_id": job.ID,
				"error":  err.Error(),
			})
			req.MediaURL = job.MediaURL
		} else {
			req.MediaURL = url
		}
	} else {
		req.MediaURL = job.MediaURL
	}
	return req
}

func (s *Service) finishFromCache(ctx context.Context, job Job, payload cache.Payload, startedAt time.Time) {
	_, deliveryErr := s.deliver(ctx, job, payload.FinalMessage)

	completedAt := s.now().UTC()
	conversationID := payload.ConversationID
	if conversationID == "" {
		conversationID = job.ConversationID
	}
	patch := Patch{
		Status:         ptr(StatusCompletedCached),
		ConversationID: &conversationID,
		LastMessage:    &payload.FinalMessage,
		ProviderMeta:   payload.ProviderMeta,
		CacheHit:       ptr(true),
		CompletedAt:    &completedAt,
	}
	applyDeliveryOutcome(&patch, deliveryErr)

	if err := s.repo.Update(ctx, job.ID, patch); err != nil {
		telemetry.Error("job.update_failed", map[string]any{
			"job_id": job.ID,
			"error":  err.Error(),
		})
		return
	}
	metrics.IncJobCompletedCached()
	metrics.ObserveJobDurationMs(float64(completedAt.Sub(startedAt).Milliseconds()))
	telemetry.Info("job.completed_cached", map[string]any{
		"job_id":          job.ID,
		"delivery_failed": deliveryErr != nil,
	})
}

// finishFailed handles analyzer errors: overload, timeout, and
// everything else. The user always gets a message; the ledger records
// the error.
func (s *Service) finishFailed(ctx context.Context, job Job, cause error, startedAt time.Time) {
	var final, errorMessage string
	switch {
	case errors.Is(cause, analysis.ErrOverloaded):
		final = compose.OverloadMessage()
		errorMessage = cause.Error()
		s.maybeRefund(ctx, job)
	case errors.Is(cause, context.DeadlineExceeded):
		final = compose.OverloadMessage()
		errorMessage = "job timed out"
	default:
		final = compose.FallbackAnswer("解析処理でエラーが発生しました")
		errorMessage = cause.Error()
	}

	_, deliveryErr := s.deliver(ctx, job, final)

	completedAt := s.now().UTC()
	patch := Patch{
		Status:       ptr(StatusError),
		LastMessage:  &final,
		ErrorMessage: &errorMessage,
		CompletedAt:  &completedAt,
	}
	applyDeliveryOutcome(&patch, deliveryErr)

	if err := s.repo.Update(ctx, job.ID, patch); err != nil {
		telemetry.Error("job.update_failed", map[string]any{
			"job_id": job.ID,
			"error":  err.Error(),
		})
	}
	metrics.IncJobFailed()
	metrics.ObserveJobDurationMs(float64(completedAt.Sub(startedAt).Milliseconds()))
	telemetry.Error("job.failed", map[string]any{
		"job_id": job.ID,
		"error":  errorMessage,
	})
}

// deliver runs the single delivery sequence for the job. It survives an
// expired job deadline so the user still hears back after a timeout.
func (s *Service) deliver(ctx context.Context, job Job, text string) (string, error) {
	deliveryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	method, err := s.channel.Send(deliveryCtx, "", job.PlatformUserID, text)
	if err != nil {
		telemetry.Error("job.delivery_failed", map[string]any{
			"job_id": job.ID,
			"error":  err.Error(),
		})
	}
	return method, err
}

func (s *Service) maybeRefund(ctx context.Context, job Job) {
	if !s.refundQuota || s.quota == nil {
		return
	}
	if err := s.quota.Release(ctx, job.UserID, job.ContentType); err != nil {
		telemetry.Warn("job.quota_refund_failed", map[string]any{
			"job_id": job.ID,
			"error":  err.Error(),
		})
	}
}

func applyDeliveryOutcome(patch *Patch, deliveryErr error) {
	if deliveryErr == nil {
		return
	}
	patch.DeliveryFailed = ptr(true)
	patch.DeliveryError = ptr(deliveryErr.Error())
}
