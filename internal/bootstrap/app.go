package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"coach-backend/internal/analysis"
	"coach-backend/internal/cache"
	"coach-backend/internal/cleanup"
	"coach-backend/internal/delivery"
	"coach-backend/internal/guard"
	"coach-backend/internal/jobs"
	"coach-backend/internal/queue"
	"coach-backend/internal/quota"
	"coach-backend/internal/shared/config"
	"coach-backend/internal/shared/server"
	"coach-backend/internal/shared/storage/db"
	"coach-backend/internal/shared/storage/object"
	localstore "coach-backend/internal/shared/storage/object/local"
	s3store "coach-backend/internal/shared/storage/object/s3"
	"coach-backend/internal/shared/telemetry"
	"coach-backend/internal/webhook"
)

// App holds shared dependencies.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB

	Store  object.ObjectStore
	Signer object.URLSigner
	Cache  cache.Store
	Queue  queue.Client

	GuardFlags FlagToggler
	Guard      *guard.Guard
	Quota      *quota.Service

	JobsRepo     jobs.Repo
	Jobs         *jobs.Service
	JobProcessor JobProcessor

	Cleanup *cleanup.Service
	Channel *delivery.Channel
	Webhook *webhook.Handler
}

// JobProcessor allows callers to override job processing for tests.
type JobProcessor interface {
	Process(ctx context.Context, jobID string) error
}

// FlagToggler reads and writes the operator kill switch.
type FlagToggler interface {
	IsDisabled(ctx context.Context) (bool, error)
	SetDisabled(ctx context.Context, disabled bool) error
}

// Build prepares shared dependencies and wires the router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, signer, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Store:  store,
		Signer: signer,
	}

	app.Cache = buildCache(cfg, sqlDB)
	app.Quota = buildQuota(cfg, sqlDB)
	app.GuardFlags, app.Guard = buildGuard(cfg, sqlDB, store, app.Quota)

	messenger, err := buildMessenger(cfg)
	if err != nil {
		return nil, err
	}
	app.Channel = delivery.NewChannel(messenger)

	analyzer, err := buildAnalyzer(cfg)
	if err != nil {
		return nil, err
	}

	if sqlDB != nil {
		app.JobsRepo = &jobs.PGRepo{DB: sqlDB}
	} else {
		app.JobsRepo = jobs.NewMemoryRepo()
	}

	app.Jobs = jobs.NewService(jobs.ServiceOptions{
		Repo:        app.JobsRepo,
		Cache:       app.Cache,
		Analyzer:    analyzer,
		Channel:     app.Channel,
		Signer:      signer,
		Quota:       app.Quota,
		CacheTTL:    cfg.CacheTTL,
		JobTimeout:  cfg.JobTimeout,
		MediaURLTTL: cfg.MediaURLTTL,
		RefundQuota: cfg.QuotaRefund,
	})

	queueClient, err := buildQueue(ctx, cfg, app)
	if err != nil {
		return nil, err
	}
	app.Queue = queueClient

	app.Cleanup = cleanup.NewService(store, cfg.CleanupLowWaterBytes, cfg.CleanupMaxAge)

	app.Webhook = webhook.NewHandler(webhook.HandlerOptions{
		Guard:         app.Guard,
		Channel:       app.Channel,
		Messenger:     messenger,
		Store:         store,
		Repo:          app.JobsRepo,
		Queue:         app.Queue,
		ChannelSecret: cfg.ChannelSecret,
	})

	app.Router = server.NewRouter(server.RouterDeps{
		Config:     app.Config,
		Webhook:    app.Webhook,
		GuardFlags: app.GuardFlags,
		Cleanup:    app.Cleanup,
		JobsRepo:   app.JobsRepo,
	})

	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory stores")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	opts := db.OptionsFromEnv(db.DefaultServerOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory stores: %v", err)
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, object.URLSigner, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		store, err := s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		store := localstore.New(cfg.LocalStoreDir)
		return store, store, nil
	}
}

func buildCache(cfg config.Config, sqlDB *sql.DB) cache.Store {
	switch cfg.CacheBackend {
	case "redis":
		if strings.TrimSpace(cfg.RedisAddr) != "" {
			return cache.NewRedisStore(cfg.RedisAddr, cfg.RedisDB)
		}
		log.Printf("bootstrap: CACHE_BACKEND=redis without REDIS_ADDR; using in-memory cache")
	case "postgres":
		if sqlDB != nil {
			return cache.NewPGStore(sqlDB)
		}
		log.Printf("bootstrap: CACHE_BACKEND=postgres without database; using in-memory cache")
	}
	return cache.NewMemoryStore()
}

func buildQuota(cfg config.Config, sqlDB *sql.DB) *quota.Service {
	limits := quota.Limits{
		"video": cfg.QuotaVideoPerDay,
		"image": cfg.QuotaImagePerDay,
		"text":  cfg.QuotaTextPerDay,
	}
	if sqlDB != nil {
		return quota.NewPostgresService(quota.NewPGStore(sqlDB), limits)
	}
	return quota.NewService(limits)
}

func buildGuard(cfg config.Config, sqlDB *sql.DB, store object.ObjectStore, quotaSvc *quota.Service) (FlagToggler, *guard.Guard) {
	var flags FlagToggler
	var snapshots guard.SnapshotStore
	if sqlDB != nil {
		pg := guard.NewPGStore(sqlDB)
		flags = pg
		snapshots = pg
	} else {
		mem := guard.NewMemoryStore()
		flags = mem
		snapshots = mem
	}

	g := guard.New(guard.Options{
		Flags:       flags,
		Snapshots:   snapshots,
		Scanner:     store,
		Quota:       quotaSvc,
		LimitBytes:  cfg.StorageLimitBytes,
		SnapshotTTL: cfg.StorageSnapshotTTL,
		ValidUserID: delivery.IsLikelyValidUserID,
	})
	return flags, g
}

func buildMessenger(cfg config.Config) (platformMessenger, error) {
	if cfg.ChannelAccessToken == "" && cfg.ChannelID == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: channel credentials empty; using logging messenger")
			return logMessenger{}, nil
		}
		return nil, fmt.Errorf("channel credentials are required")
	}
	return delivery.NewClient(delivery.Options{
		APIBase:       cfg.PlatformAPIBase,
		DataBase:      cfg.PlatformDataBase,
		AccessToken:   cfg.ChannelAccessToken,
		ChannelID:     cfg.ChannelID,
		ChannelSecret: cfg.ChannelSecret,
		TokenURL:      cfg.ChannelTokenURL,
	})
}

func buildAnalyzer(cfg config.Config) (analysis.Client, error) {
	if strings.TrimSpace(cfg.ProviderAPIKey) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: PROVIDER_API_KEY empty; analysis calls will fail")
			return placeholderAnalyzer{}, nil
		}
		return nil, fmt.Errorf("PROVIDER_API_KEY is required")
	}
	client, err := analysis.NewHTTPClient(cfg.ProviderEndpoint, cfg.ProviderAPIKey, cfg.ProviderTimeout)
	if err != nil {
		return nil, err
	}
	policy := analysis.DefaultPolicy()
	if cfg.ProviderMaxAttempts > 0 {
		policy.MaxAttempts = cfg.ProviderMaxAttempts
	}
	return analysis.NewRetryingClient(client, policy), nil
}

// buildQueue returns an SQS client when a queue is configured. Without
// one, dev-like environments process jobs inline in a goroutine so the
// full pipeline still runs locally.
func buildQueue(ctx context.Context, cfg config.Config, app *App) (queue.Client, error) {
	if strings.TrimSpace(cfg.QueueURL) != "" {
		return queue.NewSQSClient(ctx, cfg.QueueURL, cfg.AWSRegion)
	}
	if isDevLike(cfg.Env) {
		log.Printf("bootstrap: queue url empty; processing jobs inline")
		return inlineQueue{app: app}, nil
	}
	return nil, fmt.Errorf("CB_SQS_QUEUE_URL is required")
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}

// platformMessenger is the union of the platform calls the app makes.
type platformMessenger interface {
	Reply(ctx context.Context, replyToken, text string) error
	Push(ctx context.Context, userID, text string) error
	Content(ctx context.Context, messageID string) (io.ReadCloser, string, error)
}

// logMessenger records outgoing messages instead of sending them.
type logMessenger struct{}

func (logMessenger) Reply(ctx context.Context, replyToken, text string) error {
	telemetry.Info("messenger.reply_skipped", map[string]any{"text": text})
	return nil
}

func (logMessenger) Push(ctx context.Context, userID, text string) error {
	telemetry.Info("messenger.push_skipped", map[string]any{
		"platform_user_id": userID,
		"text":             text,
	})
	return nil
}

func (logMessenger) Content(ctx context.Context, messageID string) (io.ReadCloser, string, error) {
	return nil, "", fmt.Errorf("no messaging channel configured")
}

type placeholderAnalyzer struct{}

func (placeholderAnalyzer) Analyze(ctx context.Context, req analysis.Request) (analysis.Answer, error) {
	return analysis.Answer{}, fmt.Errorf("analysis provider not configured")
}

// inlineQueue runs jobs in-process, for dev without a real queue.
type inlineQueue struct {
	app *App
}

func (q inlineQueue) Send(ctx context.Context, msg queue.Message) error {
	go func() {
		procCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		processor := q.app.JobProcessor
		if processor == nil {
			processor = q.app.Jobs
		}
		if err := processor.Process(procCtx, msg.JobID); err != nil {
			telemetry.Error("inline_queue.process_failed", map[string]any{
				"job_id": msg.JobID,
				"error":  err.Error(),
			})
		}
	}()
	return nil
}
