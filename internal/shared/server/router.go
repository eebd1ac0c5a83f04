package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"coach-backend/internal/cleanup"
	"coach-backend/internal/jobs"
	"coach-backend/internal/shared/config"
	"coach-backend/internal/shared/metrics"
	"coach-backend/internal/shared/server/middleware"
	"coach-backend/internal/shared/server/respond"
)

// WebhookHandler handles the platform webhook endpoint.
type WebhookHandler interface {
	Handle(c *gin.Context)
}

// FlagToggler reads and writes the operator kill switch.
type FlagToggler interface {
	IsDisabled(ctx context.Context) (bool, error)
	SetDisabled(ctx context.Context, disabled bool) error
}

// RouterDeps carries the handlers and services routes are built from.
type RouterDeps struct {
	Config     config.Config
	Webhook    WebhookHandler
	GuardFlags FlagToggler
	Cleanup    *cleanup.Service
	JobsRepo   jobs.Repo
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
	)

	r.GET("/healthz", func(c *gin.Context) {
		respond.OK(c, gin.H{"ok": true})
	})
	r.GET("/metrics", metrics.Handler())

	if deps.Webhook != nil {
		webhookLimiter := middleware.RateLimit(middleware.RateLimitConfig{
			Rules: map[string]middleware.RateLimitRule{
				"WEBHOOK": {Rate: 1, Burst: 10},
			},
			DefaultGroup: "WEBHOOK",
		})
		r.POST("/webhook", webhookLimiter, deps.Webhook.Handle)
	}

	ops := r.Group("/ops", middleware.OperatorAuth(deps.Config.OperatorToken))
	registerOpsRoutes(ops, deps)

	return r
}

func registerOpsRoutes(ops *gin.RouterGroup, deps RouterDeps) {
	ops.GET("/guard", func(c *gin.Context) {
		disabled, err := deps.GuardFlags.IsDisabled(c.Request.Context())
		if err != nil {
			respond.Error(c, http.StatusInternalServerError, "flag_read_failed", "could not read processing flag", nil)
			return
		}
		respond.OK(c, gin.H{"isDisabled": disabled})
	})

	ops.PUT("/guard", func(c *gin.Context) {
		var body struct {
			IsDisabled *bool `json:"isDisabled"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.IsDisabled == nil {
			respond.Error(c, http.StatusBadRequest, "invalid_body", "isDisabled is required", nil)
			return
		}
		if err := deps.GuardFlags.SetDisabled(c.Request.Context(), *body.IsDisabled); err != nil {
			respond.Error(c, http.StatusInternalServerError, "flag_write_failed", "could not update processing flag", nil)
			return
		}
		respond.OK(c, gin.H{"isDisabled": *body.IsDisabled})
	})

	ops.POST("/cleanup", func(c *gin.Context) {
		report, err := deps.Cleanup.Run(c.Request.Context())
		if err != nil {
			respond.Error(c, http.StatusInternalServerError, "cleanup_failed", "cleanup run failed", nil)
			return
		}
		respond.OK(c, gin.H{
			"scanned":      report.Scanned,
			"deleted":      report.Deleted,
			"deletedBytes": report.DeletedBytes,
			"remainBytes":  report.RemainBytes,
		})
	})

	ops.GET("/jobs/:id", func(c *gin.Context) {
		job, err := deps.JobsRepo.GetByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			respond.Error(c, http.StatusNotFound, "job_not_found", "job not found", nil)
			return
		}
		respond.OK(c, jobView(job))
	})

	ops.GET("/users/:userId/jobs", func(c *gin.Context) {
		listed, err := deps.JobsRepo.ListByUser(c.Request.Context(), c.Param("userId"), 50)
		if err != nil {
			respond.Error(c, http.StatusInternalServerError, "job_list_failed", "could not list jobs", nil)
			return
		}
		out := make([]gin.H, 0, len(listed))
		for _, job := range listed {
			out = append(out, jobView(job))
		}
		respond.OK(c, gin.H{"jobs": out})
	})
}

func jobView(job jobs.Job) gin.H {
	return gin.H{
		"id":             job.ID,
		"userId":         job.UserID,
		"contentType":    job.ContentType,
		"status":         job.Status,
		"conversationId": job.ConversationID,
		"lastMessage":    job.LastMessage,
		"errorMessage":   job.ErrorMessage,
		"deliveryFailed": job.DeliveryFailed,
		"cacheHit":       job.CacheHit,
		"createdAt":      job.CreatedAt,
		"startedAt":      job.StartedAt,
		"completedAt":    job.CompletedAt,
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
