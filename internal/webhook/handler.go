package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"coach-backend/internal/cache"
	"coach-backend/internal/delivery"
	"coach-backend/internal/guard"
	"coach-backend/internal/jobs"
	"coach-backend/internal/queue"
	"coach-backend/internal/shared/metrics"
	"coach-backend/internal/shared/server/middleware"
	"coach-backend/internal/shared/telemetry"
)

// User-facing texts sent from the webhook itself.
const (
	AckMessage = "動画を受け付けました！AIが解析を開始します。\n\n結果が届くまで、しばらくお待ちください…\n\n※解析は20秒以内/100MB以下の動画が対象です。"

	intakeErrorMessage = "…チッ、動画の処理中にエラーが発生したわ。もう一度送り直してみなさい。\n\n---\n[English]\nAn error occurred while processing your video. Please try again."
)

// Admission runs the pre-enqueue checks.
type Admission interface {
	Check(ctx context.Context, userID, contentType string) guard.Result
}

// Sender delivers a message with reply-then-push fallback.
type Sender interface {
	Send(ctx context.Context, replyToken, userID, text string) (string, error)
}

// Messenger covers the platform calls the webhook makes directly: the
// ack reply and media downloads.
type Messenger interface {
	Reply(ctx context.Context, replyToken, text string) error
	Content(ctx context.Context, messageID string) (io.ReadCloser, string, error)
}

// MediaStore persists downloaded media.
type MediaStore interface {
	Save(ctx context.Context, userID, fileName string, r io.Reader) (storageKey string, sizeBytes int64, mimeType string, err error)
}

// Handler accepts platform webhooks, admits or denies the work, and
// enqueues admitted jobs.
type Handler struct {
	guard         Admission
	channel       Sender
	messenger     Messenger
	store         MediaStore
	repo          jobs.Repo
	queue         queue.Client
	channelSecret string
	now           func() time.Time
}

// HandlerOptions configures a webhook Handler.
type HandlerOptions struct {
	Guard         Admission
	Channel       Sender
	Messenger     Messenger
	Store         MediaStore
	Repo          jobs.Repo
	Queue         queue.Client
	ChannelSecret string
}

// NewHandler constructs a webhook handler.
func NewHandler(opts HandlerOptions) *Handler {
	return &Handler{
		guard:         opts.Guard,
		channel:       opts.Channel,
		messenger:     opts.Messenger,
		store:         opts.Store,
		repo:          opts.Repo,
		queue:         opts.Queue,
		channelSecret: opts.ChannelSecret,
		now:           time.Now,
	}
}

// Handle is the POST /webhook endpoint. The platform expects 200 for
// anything it should not retry; denials and intake failures are
// reported to the user directly, not via the HTTP status.
func (h *Handler) Handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if len(payload.Events) == 0 || payload.Events[0].ReplyToken == delivery.SentinelReplyToken {
		// Verification pings carry the sentinel token and no real work.
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	if h.channelSecret != "" {
		signature := c.GetHeader("X-Line-Signature")
		if !VerifySignature(body, signature, h.channelSecret) {
			telemetry.Warn("webhook.signature_rejected", nil)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
	}

	for _, event := range payload.Events {
		h.handleEvent(c, event)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) handleEvent(c *gin.Context, event Event) {
	if event.Type != "message" {
		telemetry.Info("webhook.event_ignored", map[string]any{"event_type": event.Type})
		return
	}

	contentType := event.Message.Type
	switch contentType {
	case "video", "image", "text":
	default:
		telemetry.Info("webhook.message_ignored", map[string]any{"message_type": contentType})
		return
	}

	ctx := c.Request.Context()
	userID := event.Source.UserID
	middleware.SetPlatformUserID(c, userID)
	c.Set("eventType", contentType)

	result := h.guard.Check(ctx, userID, contentType)
	if !result.Allowed {
		telemetry.Warn("webhook.admission_denied", map[string]any{
			"platform_user_id": userID,
			"reason":           result.Denial.Reason,
			"status_code":      result.Denial.StatusCode,
		})
		if _, err := h.channel.Send(ctx, event.ReplyToken, userID, result.Denial.Message()); err != nil {
			telemetry.Error("webhook.denial_notify_failed", map[string]any{"error": err.Error()})
		}
		return
	}

	// The ack goes out before the media download: the transport would
	// time out and the one-shot reply token would expire while a large
	// video streams in. Text messages are answered by the job's own
	// push, no ack needed.
	if contentType != "text" {
		if err := h.messenger.Reply(ctx, event.ReplyToken, AckMessage); err != nil {
			telemetry.Warn("webhook.ack_failed", map[string]any{"error": err.Error()})
		}
	}

	job, err := h.buildJob(ctx, event, contentType)
	if err != nil {
		telemetry.Error("webhook.intake_failed", map[string]any{
			"platform_user_id": userID,
			"error":            err.Error(),
		})
		if _, sendErr := h.channel.Send(ctx, "", userID, intakeErrorMessage); sendErr != nil {
			telemetry.Error("webhook.intake_notify_failed", map[string]any{"error": sendErr.Error()})
		}
		return
	}

	if err := h.repo.Create(ctx, job); err != nil {
		telemetry.Error("webhook.job_create_failed", map[string]any{"error": err.Error()})
		return
	}
	c.Set("jobId", job.ID)

	msg := queue.Message{
		JobID:       job.ID,
		RequestID:   middleware.RequestIDFromContext(c),
		ContentType: job.ContentType,
		EnqueuedAt:  h.now().UTC().Format(time.RFC3339),
		Version:     1,
	}
	if err := h.queue.Send(ctx, msg); err != nil {
		telemetry.Error("webhook.enqueue_failed", map[string]any{
			"job_id": job.ID,
			"error":  err.Error(),
		})
		errMsg := "enqueue failed: " + err.Error()
		if updateErr := h.repo.Update(ctx, job.ID, jobs.Patch{
			Status:       strPtr(jobs.StatusError),
			ErrorMessage: &errMsg,
		}); updateErr != nil {
			telemetry.Error("webhook.job_update_failed", map[string]any{"error": updateErr.Error()})
		}
		return
	}
	metrics.IncJobsReceived()

	telemetry.Info("webhook.job_enqueued", map[string]any{
		"job_id":       job.ID,
		"content_type": contentType,
	})
}

func (h *Handler) buildJob(ctx context.Context, event Event, contentType string) (jobs.Job, error) {
	job := jobs.Job{
		ID:             uuid.NewString(),
		UserID:         event.Source.UserID,
		PlatformUserID: event.Source.UserID,
		ContentType:    contentType,
		Status:         jobs.StatusPending,
		CreatedAt:      h.now().UTC(),
	}

	if contentType == "text" {
		job.InputText = event.Message.Text
		job.Fingerprint = cache.Key("text", "", event.Message.Text)
		return job, nil
	}

	content, _, err := h.messenger.Content(ctx, event.Message.ID)
	if err != nil {
		return jobs.Job{}, err
	}
	defer content.Close()

	fileName := event.Message.ID + mediaExtension(contentType)
	storageKey, sizeBytes, mimeType, err := h.store.Save(ctx, event.Source.UserID, fileName, content)
	if err != nil {
		return jobs.Job{}, err
	}
	telemetry.Info("webhook.media_stored", map[string]any{
		"storage_key": storageKey,
		"size_bytes":  sizeBytes,
		"mime_type":   mimeType,
	})

	job.StorageKey = storageKey
	// The fingerprint keys the response cache on the stored object, not
	// on a signed URL that changes every issue.
	job.Fingerprint = cache.Key(contentType, "", storageKey)
	return job, nil
}

func mediaExtension(contentType string) string {
	switch contentType {
	case "video":
		return ".mp4"
	case "image":
		return ".jpg"
	}
	return ""
}

func strPtr(s string) *string { return &s }
