package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	MediaURLTTL     time.Duration

	QueueURL string

	ProviderEndpoint    string
	ProviderAPIKey      string
	ProviderTimeout     time.Duration
	ProviderMaxAttempts int

	ChannelID          string
	ChannelSecret      string
	ChannelAccessToken string
	ChannelTokenURL    string
	PlatformAPIBase    string
	PlatformDataBase   string

	CacheBackend string
	RedisAddr    string
	RedisDB      int
	CacheTTL     time.Duration

	StorageLimitBytes  int64
	StorageSnapshotTTL time.Duration
	QuotaVideoPerDay   int
	QuotaImagePerDay   int
	QuotaTextPerDay    int
	QuotaRefund        bool

	JobTimeout time.Duration

	CleanupLowWaterBytes int64
	CleanupMaxAge        time.Duration

	OperatorToken string
}

const (
	defaultStorageLimitBytes   = int64(49 * 1024 * 1024 * 1024 / 10)
	defaultCleanupLowWater     = int64(2.5 * 1024 * 1024 * 1024)
	defaultProviderEndpoint    = "https://api.dify.ai/v1/chat-messages"
	defaultPlatformAPIBase     = "https://api.line.me"
	defaultPlatformDataBase    = "https://api-data.line.me"
	defaultChannelTokenURL     = "https://api.line.me/v2/oauth/accessToken"
	defaultCacheTTL            = 7 * 24 * time.Hour
	defaultMediaURLTTL         = 15 * time.Minute
	defaultProviderTimeout     = 15 * time.Second
	defaultProviderMaxAttempts = 3
	defaultJobTimeout          = 3 * time.Minute
	defaultSnapshotTTL         = 60 * time.Second
	defaultCleanupMaxAge       = 30 * 24 * time.Hour
)

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	return Config{
		Port:        getEnv("PORT", "8080"),
		Env:         env,
		DatabaseURL: dbURL,

		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", "media/"),
		MediaURLTTL:     getEnvDuration("MEDIA_URL_TTL", defaultMediaURLTTL),

		QueueURL: getEnv("CB_SQS_QUEUE_URL", ""),

		ProviderEndpoint:    getEnv("PROVIDER_ENDPOINT", defaultProviderEndpoint),
		ProviderAPIKey:      getEnv("PROVIDER_API_KEY", ""),
		ProviderTimeout:     getEnvDuration("PROVIDER_TIMEOUT", defaultProviderTimeout),
		ProviderMaxAttempts: getEnvInt("PROVIDER_MAX_ATTEMPTS", defaultProviderMaxAttempts),

		ChannelID:          getEnv("CHANNEL_ID", ""),
		ChannelSecret:      getEnv("CHANNEL_SECRET", ""),
		ChannelAccessToken: getEnv("CHANNEL_ACCESS_TOKEN", ""),
		ChannelTokenURL:    getEnv("CHANNEL_TOKEN_URL", defaultChannelTokenURL),
		PlatformAPIBase:    getEnv("PLATFORM_API_BASE", defaultPlatformAPIBase),
		PlatformDataBase:   getEnv("PLATFORM_DATA_BASE", defaultPlatformDataBase),

		CacheBackend: normalizeCacheBackend(getEnv("CACHE_BACKEND", "postgres")),
		RedisAddr:    getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisDB:      getEnvInt("REDIS_DB", 0),
		CacheTTL:     getEnvDuration("CACHE_TTL", defaultCacheTTL),

		StorageLimitBytes:  getEnvInt64("STORAGE_LIMIT_BYTES", defaultStorageLimitBytes),
		StorageSnapshotTTL: getEnvDuration("STORAGE_SNAPSHOT_TTL", defaultSnapshotTTL),
		QuotaVideoPerDay:   getEnvInt("QUOTA_VIDEO_PER_DAY", 1),
		QuotaImagePerDay:   getEnvInt("QUOTA_IMAGE_PER_DAY", 3),
		QuotaTextPerDay:    getEnvInt("QUOTA_TEXT_PER_DAY", 5),
		QuotaRefund:        getEnvBool("QUOTA_REFUND_ON_FAILURE", false),

		JobTimeout: getEnvDuration("JOB_TIMEOUT", defaultJobTimeout),

		CleanupLowWaterBytes: getEnvInt64("CLEANUP_LOW_WATER_BYTES", defaultCleanupLowWater),
		CleanupMaxAge:        getEnvDuration("CLEANUP_MAX_AGE", defaultCleanupMaxAge),

		OperatorToken: getEnv("OPERATOR_TOKEN", ""),
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using default %d", key, raw, def)
		return def
	}
	return v
}

func getEnvInt64(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using default %d", key, raw, def)
		return def
	}
	return v
}

func getEnvBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using default %t", key, raw, def)
		return def
	}
	return v
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using default %s", key, raw, def)
		return def
	}
	return v
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

func normalizeCacheBackend(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "redis":
		return "redis"
	case "memory":
		return "memory"
	default:
		return "postgres"
	}
}
