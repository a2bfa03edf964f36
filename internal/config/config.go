package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	AuthJWTSecret string
	AuthTokenTTL  time.Duration

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Export    ExportConfig
	Email     EmailConfig
	Stripe    StripeConfig
	Reset     ResetConfig
	Limit     RateLimitConfig
	Redis     RedisConfig
	Metrics   MetricsPushConfig
	CORS      CORSConfig
	Bootstrap BootstrapConfig
	Scheduler SchedulerConfig
}

// ExportConfig bounds a single export request and locates artifact storage.
type ExportConfig struct {
	Root            string
	MaxRows         int
	MaxPayloadBytes int64
	MaxColumns      int
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SendTimeout  time.Duration
}

type StripeConfig struct {
	WebhookSecret string
	// Tolerance is the maximum accepted age of a signed webhook.
	Tolerance time.Duration
}

type ResetConfig struct {
	TokenTTL    time.Duration
	FrontendURL string
}

type RateLimitConfig struct {
	Enabled bool
	// ExportRate is the sustained number of export requests per second per account.
	ExportRate  float64
	ExportBurst int
	// LockTTL bounds how long a resend holds its per-export lock.
	LockTTL time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type MetricsPushConfig struct {
	Enabled   bool
	Exporter  string
	Endpoint  string
	AuthToken string
	Interval  time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type BootstrapConfig struct {
	AdminUsername string
	AdminPassword string
}

// SchedulerConfig drives the housekeeping jobs.
type SchedulerConfig struct {
	Enabled     bool
	RunInterval time.Duration
	// ResetRetention is how long spent or expired reset tokens are kept.
	ResetRetention time.Duration
	// TempFileAge is the age after which an abandoned artifact temp file is removed.
	TempFileAge time.Duration
	BatchSize   int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:       getenv("APP_SERVICE", "scanledger"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   getenv("ENVIRONMENT", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		NodeID:        getenvInt64("NODE_ID", 1),
		AuthJWTSecret: strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		AuthTokenTTL:  getenvDuration("AUTH_TOKEN_TTL", 24*time.Hour),
		OTLPEndpoint:  getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "scanledger"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "scanledger.db"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 50)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),

		Export: ExportConfig{
			Root:            getenv("EXPORT_ROOT", "exports"),
			MaxRows:         int(getenvInt64("MAX_EXPORT_ROWS", 5000)),
			MaxPayloadBytes: getenvInt64("MAX_PAYLOAD_BYTES", 2*1024*1024),
			MaxColumns:      int(getenvInt64("MAX_EXPORT_COLUMNS", 500)),
		},
		Email: EmailConfig{
			SMTPHost:     getenv("SMTP_HOST", "localhost"),
			SMTPPort:     int(getenvInt64("SMTP_PORT", 1025)),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "no-reply@scanledger.local"),
			SendTimeout:  getenvDuration("EMAIL_SEND_TIMEOUT", 15*time.Second),
		},
		Stripe: StripeConfig{
			WebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			Tolerance:     getenvDuration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute),
		},
		Reset: ResetConfig{
			TokenTTL:    time.Duration(getenvInt64("PASSWORD_RESET_TOKEN_TTL", 3600)) * time.Second,
			FrontendURL: strings.TrimRight(getenv("FRONTEND_URL", "http://localhost:5173"), "/"),
		},
		Limit: RateLimitConfig{
			Enabled:     getenvBool("RATE_LIMIT_ENABLED", false),
			ExportRate:  getenvFloat("RATE_LIMIT_EXPORT_RATE", 200.0/3600.0),
			ExportBurst: int(getenvInt64("RATE_LIMIT_EXPORT_BURST", 20)),
			LockTTL:     getenvDuration("RATE_LIMIT_LOCK_TTL", 30*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       int(getenvInt64("REDIS_DB", 0)),
		},
		Metrics: MetricsPushConfig{
			Enabled:   getenvBool("METRICS_PUSH_ENABLED", false),
			Exporter:  strings.ToLower(getenv("METRICS_PUSH_EXPORTER", "")),
			Endpoint:  strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
			Interval:  getenvDuration("METRICS_PUSH_INTERVAL", 5*time.Minute),
		},
		CORS: CORSConfig{
			AllowedOrigins: parseList(getenv("FRONTEND_ORIGINS", "http://localhost:5173")),
		},
		Bootstrap: BootstrapConfig{
			AdminUsername: strings.TrimSpace(getenv("BOOTSTRAP_ADMIN_USERNAME", "")),
			AdminPassword: getenv("BOOTSTRAP_ADMIN_PASSWORD", ""),
		},
		Scheduler: SchedulerConfig{
			Enabled:        getenvBool("SCHEDULER_ENABLED", true),
			RunInterval:    getenvDuration("SCHEDULER_RUN_INTERVAL", 10*time.Minute),
			ResetRetention: getenvDuration("SCHEDULER_RESET_RETENTION", 24*time.Hour),
			TempFileAge:    getenvDuration("SCHEDULER_TEMP_FILE_AGE", time.Hour),
			BatchSize:      int(getenvInt64("SCHEDULER_BATCH_SIZE", 500)),
		},
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go duration strings ("15s") or bare seconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return def
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
