package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Gateway environment values accepted by AZUL_ENV.
const (
	GatewayEnvSandbox = "sandbox"
	GatewayEnvLive    = "live"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig

	Enrollment EnrollmentConfig
	Webhook    WebhookConfig
	Portal     PortalConfig
	Gateway    GatewayConfig
	Notify     NotifyConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// EnrollmentConfig tunes approval-side behaviour.
type EnrollmentConfig struct {
	// DisableAutoEnroll records paid webhook events without approving
	// the enrollment, leaving the row pending manual action.
	DisableAutoEnroll bool
	CoursesCacheTTL   time.Duration
}

// WebhookConfig configures the inbound receiver for the sister system.
type WebhookConfig struct {
	SharedSecret string
}

// PortalConfig configures the outbound client for the sister system.
type PortalConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// GatewayConfig holds card gateway merchant credentials and routing.
type GatewayConfig struct {
	MerchantID  string
	AuthKey     string
	Environment string
	ResponseURL string
	SuccessURL  string
	FailureURL  string
}

// NotifyConfig tunes the notification dispatch queue.
type NotifyConfig struct {
	WorkerConcurrency int
	WorkerRetries     int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Enrollment = EnrollmentConfig{
		DisableAutoEnroll: v.GetBool("DISABLE_AUTO_ENROLL"),
		CoursesCacheTTL:   parseDuration(v.GetString("COURSES_CACHE_TTL"), 10*time.Minute),
	}

	cfg.Webhook = WebhookConfig{
		SharedSecret: v.GetString("WEBHOOK_SHARED_SECRET"),
	}

	cfg.Portal = PortalConfig{
		BaseURL: strings.TrimRight(v.GetString("PORTAL_BASE_URL"), "/"),
		Token:   v.GetString("PORTAL_API_TOKEN"),
		Timeout: parseDuration(v.GetString("PORTAL_TIMEOUT"), 15*time.Second),
	}

	cfg.Gateway = GatewayConfig{
		MerchantID:  v.GetString("AZUL_MERCHANT_ID"),
		AuthKey:     v.GetString("AZUL_AUTH_KEY"),
		Environment: v.GetString("AZUL_ENV"),
		ResponseURL: v.GetString("AZUL_RESPONSE_URL"),
		SuccessURL:  v.GetString("AZUL_SUCCESS_URL"),
		FailureURL:  v.GetString("AZUL_FAILURE_URL"),
	}

	cfg.Notify = NotifyConfig{
		WorkerConcurrency: v.GetInt("NOTIFY_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("NOTIFY_WORKER_RETRIES"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "enrollment_backoffice")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("DISABLE_AUTO_ENROLL", false)
	v.SetDefault("COURSES_CACHE_TTL", "10m")

	v.SetDefault("WEBHOOK_SHARED_SECRET", "")

	v.SetDefault("PORTAL_BASE_URL", "http://localhost:8000")
	v.SetDefault("PORTAL_API_TOKEN", "")
	v.SetDefault("PORTAL_TIMEOUT", "15s")

	v.SetDefault("AZUL_MERCHANT_ID", "")
	v.SetDefault("AZUL_AUTH_KEY", "")
	v.SetDefault("AZUL_ENV", GatewayEnvSandbox)
	v.SetDefault("AZUL_RESPONSE_URL", "")
	v.SetDefault("AZUL_SUCCESS_URL", "/pago/exitoso")
	v.SetDefault("AZUL_FAILURE_URL", "/pago/fallido")

	v.SetDefault("NOTIFY_WORKER_CONCURRENCY", 1)
	v.SetDefault("NOTIFY_WORKER_RETRIES", 3)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
