// Package config loads dispatcher configuration from the environment, with
// optional local .env support, following the same flat getEnv/getEnvInt
// shape used throughout this codebase's predecessor.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	NATS      NATSConfig
	JWT       JWTConfig
	AWS       AWSConfig
	Clients   ClientsConfig
	Audiences AudienceConfig
	Authz     AuthzConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port                string
	ReadTimeout         int
	WriteTimeout        int
	CORSAllowedOrigins  string
	ShutdownGrace       time.Duration
	DefaultFrontendBase string
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL         string
	PoolSize    int
	PoolIdle    int
	PoolTimeout time.Duration
	MaxLifetime time.Duration
}

// CacheConfig holds the read-through Redis cache settings, ambient and
// disabled unless CACHE_ENABLED=1.
type CacheConfig struct {
	Enabled        bool
	URL            string
	Password       string
	DB             int
	PoolSize       int
	PoolIdleSize   int
	PoolTimeout    time.Duration
	ExpirationTime time.Duration
}

// NATSConfig holds message bus connection settings.
type NATSConfig struct {
	URL       string
	ServiceID string
}

// JWTConfig holds bearer-subject extraction settings. Full verification is
// out of scope; this is a thin subject-extraction configuration only.
type JWTConfig struct {
	Secret string
}

// AWSConfig holds AWS credentials and the bucket used for presigned
// download URLs.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	MediaBucket          string
	PresignExpireMinutes int
}

// ClientsConfig holds the three collaborator base URLs and RPC tuning.
type ClientsConfig struct {
	ConferenceBaseURL string
	EventLogBaseURL   string
	TaskQueueBaseURL  string
	RPCTimeout        time.Duration
	RetryDelay        time.Duration
}

// AudienceConfig holds per-audience tuning, currently just the preroll
// offset applied during minigroup adjust.
type AudienceConfig struct {
	DefaultPrerollOffsetMs int64
}

// AuthzConfig holds the authz proxy settings: where decisions are made,
// which audience collaborators must belong to, and the dispatcher's own
// account id used as the canonical object namespace.
type AuthzConfig struct {
	BaseURL         string
	TrustedAudience string
	AccountID       string
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return c.URL
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()
	_ = godotenv.Load("env")

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))

	cfg := &Config{
		Server: ServerConfig{
			Port:                getEnv("PORT", "8080"),
			ReadTimeout:         readTimeout,
			WriteTimeout:        writeTimeout,
			CORSAllowedOrigins:  getEnv("CORS_ALLOWED_ORIGINS", "*"),
			ShutdownGrace:       getEnvDurationSec("SHUTDOWN_GRACE", 2),
			DefaultFrontendBase: getEnv("FRONTEND_DEFAULT_BASE_URL", "https://app.example.org"),
		},
		Database: DatabaseConfig{
			URL:         getEnv("DATABASE_URL", "postgres://localhost:5432/dispatchd?sslmode=disable"),
			PoolSize:    getEnvInt("DATABASE_POOL_SIZE", 5),
			PoolIdle:    getEnvInt("DATABASE_POOL_IDLE_SIZE", 5),
			PoolTimeout: getEnvDurationSec("DATABASE_POOL_TIMEOUT", 5),
			MaxLifetime: getEnvDurationSec("DATABASE_POOL_MAX_LIFETIME", 1800),
		},
		Cache: CacheConfig{
			Enabled:        getEnv("CACHE_ENABLED", "") == "1",
			URL:            getEnv("CACHE_URL", "localhost:6379"),
			Password:       getEnv("CACHE_PASSWORD", ""),
			DB:             getEnvInt("CACHE_DB", 0),
			PoolSize:       getEnvInt("CACHE_POOL_SIZE", 10),
			PoolIdleSize:   getEnvInt("CACHE_POOL_IDLE_SIZE", 2),
			PoolTimeout:    getEnvDurationSec("CACHE_POOL_TIMEOUT", 5),
			ExpirationTime: getEnvDurationSec("CACHE_EXPIRATION_TIME", 300),
		},
		NATS: NATSConfig{
			URL:       getEnv("NATS_URL", "nats://localhost:4222"),
			ServiceID: getEnv("NATS_SERVICE_ID", "dispatchd"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "change-me-in-production"),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			MediaBucket:          getEnv("AWS_S3_MEDIA_BUCKET", "dispatchd-media"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Clients: ClientsConfig{
			ConferenceBaseURL: getEnv("CONFERENCE_BASE_URL", "http://conference.svc.local"),
			EventLogBaseURL:   getEnv("EVENTLOG_BASE_URL", "http://event.svc.local"),
			TaskQueueBaseURL:  getEnv("TASKQUEUE_BASE_URL", "http://tq.svc.local"),
			RPCTimeout:        getEnvDurationSec("RPC_TIMEOUT", 5),
			RetryDelay:        getEnvDurationMs("RETRY_DELAY_MS", 500),
		},
		Audiences: AudienceConfig{
			DefaultPrerollOffsetMs: int64(getEnvInt("DEFAULT_PREROLL_OFFSET_MS", 0)),
		},
		Authz: AuthzConfig{
			BaseURL:         getEnv("AUTHZ_BASE_URL", "http://authz.svc.local"),
			TrustedAudience: getEnv("SERVICE_AUDIENCE", "svc.example.org"),
			AccountID:       getEnv("SERVICE_ACCOUNT_ID", "dispatcher.svc.example.org"),
		},
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDurationSec(key string, fallbackSec int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackSec)) * time.Second
}

func getEnvDurationMs(key string, fallbackMs int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackMs)) * time.Millisecond
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
