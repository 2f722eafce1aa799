package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend names accepted by STORE_BACKEND and ARTIFACT_BACKEND.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendMinio    = "minio"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	DBMaxConns  int
	RedisURL    string
	// RedisChannel carries progress events between workers and API processes.
	RedisChannel  string
	QueuePrefix   string
	JWTSecret     string
	InternalToken string
	StoreBackend  string

	ArtifactBackend string
	StoragePath     string
	StorageBaseURL  string
	MinioEndpoint   string
	MinioAccessKey  string
	MinioSecretKey  string
	MinioBucket     string
	MinioUseSSL     bool

	RoutesFile      string
	GeminiAPIKey    string
	GeminiBaseURL   string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIOrg       string
	QwenAPIKey      string
	QwenBaseURL     string
	QwenRegion      string
	ProviderTimeout time.Duration

	WorkerConcurrency int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	ProgressGrace     time.Duration
	EmbedWorker       bool

	RateLimitPerMin   int
	RateLimitBurst    int
	IPRateLimitPerMin int
	CORSOrigins       []string
	GeoIPDBPath       string
	OTelStdout        bool

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		Port:          port,
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		DBMaxConns:    getEnvInt("DB_MAX_CONNS", 10),
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisChannel:  getEnv("REDIS_CHANNEL", "brandgen:events"),
		QueuePrefix:   getEnv("QUEUE_PREFIX", "brandgen"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		InternalToken: os.Getenv("INTERNAL_TOKEN"),
		StoreBackend:  strings.ToLower(getEnv("STORE_BACKEND", BackendPostgres)),

		ArtifactBackend: strings.ToLower(getEnv("ARTIFACT_BACKEND", BackendFile)),
		StoragePath:     getEnv("STORAGE_PATH", "./data/artifacts"),
		StorageBaseURL:  getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),
		MinioEndpoint:   os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey:  os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey:  os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:     getEnv("MINIO_BUCKET", "brandgen-artifacts"),
		MinioUseSSL:     getEnvBool("MINIO_USE_SSL", false),

		RoutesFile:      os.Getenv("ROUTES_FILE"),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL:   getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIOrg:       os.Getenv("OPENAI_ORG"),
		QwenAPIKey:      os.Getenv("QWEN_API_KEY"),
		QwenBaseURL:     os.Getenv("QWEN_BASE_URL"),
		QwenRegion:      getEnv("QWEN_REGION", "intl"),
		ProviderTimeout: time.Second * time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 60)),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 0),
		VisibilityTimeout: time.Second * time.Duration(getEnvInt("VISIBILITY_TIMEOUT_SECONDS", 120)),
		PollInterval:      time.Millisecond * time.Duration(getEnvInt("POLL_INTERVAL_MS", 500)),
		ProgressGrace:     time.Second * time.Duration(getEnvInt("PROGRESS_GRACE_SECONDS", 30)),
		EmbedWorker:       getEnvBool("EMBED_WORKER", false),

		RateLimitPerMin:   getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		RateLimitBurst:    getEnvInt("RATE_LIMIT_BURST", 5),
		IPRateLimitPerMin: getEnvInt("IP_RATE_LIMIT_PER_MINUTE", 600),
		CORSOrigins:       getEnvList("CORS_ORIGINS"),
		GeoIPDBPath:       os.Getenv("GEOIP_DB_PATH"),
		OTelStdout:        getEnvBool("OTEL_STDOUT", false),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	switch cfg.StoreBackend {
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case BackendMemory:
	default:
		return nil, fmt.Errorf("STORE_BACKEND %q is not supported", cfg.StoreBackend)
	}

	switch cfg.ArtifactBackend {
	case BackendFile:
	case BackendMinio:
		if cfg.MinioEndpoint == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
			return nil, fmt.Errorf("MINIO_ENDPOINT, MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required")
		}
	default:
		return nil, fmt.Errorf("ARTIFACT_BACKEND %q is not supported", cfg.ArtifactBackend)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

// IsDevelopment reports whether the service runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
