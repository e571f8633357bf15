package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPolicyHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint  string
	Observability ObservabilityConfig

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

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Gateway   GatewayConfig
	Payment   PaymentConfig
	RateLimit RateLimitConfig

	AdminIDs         []int64
	AdminAPIKeyHash  string
	AssistantURL     string
	AssistantTimeout time.Duration

	SnowflakeNode int64
	RateCacheTTL  time.Duration
}

// GatewayConfig configures the recurrent billing provider client.
type GatewayConfig struct {
	RegistrationURL string
	CardsURL        string
	PaymentURL      string
	StatusURL       string
	ConfirmURL      string
	ShopLogin       string
	ShopSecret      string
	ServiceCode     string
	SuccessURL      string
	FailURL         string
	CallbackURL     string
	Timeout         time.Duration
}

// PaymentConfig configures the settlement poll loop.
type PaymentConfig struct {
	PollInterval    time.Duration
	PollBudget      time.Duration
	PollRetryErrors bool
	SweepGrace      time.Duration
}

// ObservabilityConfig configures logging and trace export.
type ObservabilityConfig struct {
	LogLevel        string
	LogFormat       string
	TracingEnabled  bool
	ExportProtocol  string
	SamplingRatio   float64
	SlowSQLDuration time.Duration
}

// RateLimitConfig configures per-user throttling and the shared user lock.
type RateLimitConfig struct {
	Enabled      bool
	MessageRate  float64
	MessageBurst int
	LockTTL      time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "agrobot"),
		AppVersion:   getenv("SERVICE_VERSION", getenv("APP_VERSION", "0.1.0")),
		Environment:  getenv("DEPLOYMENT_ENV", getenv("ENVIRONMENT", "development")),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "agrobot"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "agrobot.db"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 20)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       int(getenvInt64("REDIS_DB", 0)),

		Observability: ObservabilityConfig{
			LogLevel:        strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:       strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			TracingEnabled:  getenvBool("OTEL_ENABLED", true),
			ExportProtocol:  strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")))),
			SamplingRatio:   getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
			SlowSQLDuration: getenvDuration("SLOW_SQL_THRESHOLD", 200*time.Millisecond),
		},

		Gateway: GatewayConfig{
			RegistrationURL: getenv("GATEWAY_REGISTRATION_URL", "https://api2.ckassa.ru/api-shop/user/registration"),
			CardsURL:        getenv("GATEWAY_CARDS_URL", "https://api2.ckassa.ru/api-shop/ver3/get/cards"),
			PaymentURL:      getenv("GATEWAY_PAYMENT_URL", "https://api2.ckassa.ru/api-shop/do/payment"),
			StatusURL:       getenv("GATEWAY_STATUS_URL", "https://api2.ckassa.ru/api-shop/rs/shop/check/payment/state"),
			ConfirmURL:      getenv("GATEWAY_CONFIRM_URL", "https://api2.ckassa.ru/api-shop/provision-services/confirm"),
			ShopLogin:       strings.TrimSpace(getenv("SHOP_TOKEN", "")),
			ShopSecret:      strings.TrimSpace(getenv("SEC_KEY", "")),
			ServiceCode:     strings.TrimSpace(getenv("SERVICE_CODE", "")),
			SuccessURL:      getenv("BOT_URL", ""),
			FailURL:         getenv("BOT_URL", ""),
			CallbackURL:     getenv("NOTIFICATION_URL", ""),
			Timeout:         getenvDuration("GATEWAY_TIMEOUT", 30*time.Second),
		},
		Payment: PaymentConfig{
			PollInterval:    getenvDuration("PAYMENT_POLL_INTERVAL", 500*time.Millisecond),
			PollBudget:      getenvDuration("PAYMENT_POLL_BUDGET", time.Hour),
			PollRetryErrors: getenvBool("PAYMENT_POLL_RETRY_ERRORS", false),
			SweepGrace:      getenvDuration("PAYMENT_SWEEP_GRACE", 15*time.Minute),
		},
		RateLimit: RateLimitConfig{
			Enabled:      getenvBool("RATE_LIMIT_ENABLED", false),
			MessageRate:  getenvFloat("RATE_LIMIT_MESSAGE_RATE", 0.5),
			MessageBurst: int(getenvInt64("RATE_LIMIT_MESSAGE_BURST", 5)),
			LockTTL:      getenvDuration("USER_LOCK_TTL", 2*time.Hour),
		},

		AdminIDs:         parseIDs(getenv("ADMINS_IDS", "")),
		AdminAPIKeyHash:  strings.TrimSpace(getenv("ADMIN_API_KEY_HASH", "")),
		AssistantURL:     strings.TrimSpace(getenv("ASSISTANT_URL", "")),
		AssistantTimeout: getenvDuration("REQUEST_TIMEOUT", 60*time.Second),

		SnowflakeNode: getenvInt64("SNOWFLAKE_NODE", 1),
		RateCacheTTL:  getenvDuration("RATE_CACHE_TTL", 5*time.Minute),
	}

	return cfg
}

// IsAdmin reports whether the telegram id is listed in ADMINS_IDS.
func (c Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
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

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func parseIDs(raw string) []int64 {
	parts := strings.Split(raw, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			log.Printf("[config] ignoring invalid admin id %q", p)
			continue
		}
		out = append(out, id)
	}
	return out
}
