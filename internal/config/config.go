package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

const (
	defaultDatabaseURL   = "file:posmdesk.db"
	defaultHTTPAddr      = ":8080"
	defaultJWTSecret     = "change-me-jwt-secret"
	defaultJWTTTL        = "12h"
	defaultLockWait      = "3s"
	defaultTickInterval  = "30s"
	defaultTimezone      = "UTC"
	defaultReportQueue   = "reports.scheduled"
	defaultNoticeQueue   = "notifications.request"
	defaultNoticeKeep    = "2160h"
	defaultNoticeSweep   = "24h"
	defaultPhotoDir      = "./photos"
	defaultPhotoURLBase  = "/static/photos"
	defaultSchedulerFlag = "true"
	defaultRateLimitFlag = "true"
	defaultRatePerMinute = "60"
)

type AppConfig struct {
	AppEnv             string
	HTTPAddr           string
	DatabaseURL        string
	JWTSecret          string
	JWTTTL             time.Duration
	LockWait           time.Duration
	ReportTickInterval time.Duration
	ReportTimezone     *time.Location
	SchedulerEnabled   bool
	RabbitMQURL        string
	ReportQueue        string
	NotificationQueue  string
	NoticeRetention    time.Duration
	NoticeCleanupEvery time.Duration
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	PhotoDir           string
	PhotoURLBase       string
	CORSOrigins        []string
	RateLimitEnabled   bool
	RateLimitPerMinute int
	RateLimitBurst     int
}

// LoadEnvFiles reads .env.<APP_ENV> and falls back to .env. Missing files
// are not an error; the process environment always wins.
func LoadEnvFiles() {
	envFile := ".env." + appEnv()
	if err := godotenv.Load(envFile); err != nil {
		if err := godotenv.Load(); err != nil {
			log.Printf("config: no %s or .env file loaded", envFile)
		}
	}
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{AppEnv: appEnv()}

	cfg.HTTPAddr = strings.TrimSpace(getEnv("HTTP_ADDR", defaultHTTPAddr))
	cfg.DatabaseURL = strings.TrimSpace(getEnv("DATABASE_URL", defaultDatabaseURL))
	cfg.JWTSecret = strings.TrimSpace(getEnv("JWT_SECRET", defaultJWTSecret))
	cfg.RabbitMQURL = strings.TrimSpace(os.Getenv("RABBITMQ_URL"))
	cfg.ReportQueue = strings.TrimSpace(getEnv("REPORT_QUEUE", defaultReportQueue))
	cfg.NotificationQueue = strings.TrimSpace(getEnv("NOTIFICATION_QUEUE", defaultNoticeQueue))
	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.PhotoDir = strings.TrimSpace(getEnv("PHOTO_DIR", defaultPhotoDir))
	cfg.PhotoURLBase = strings.TrimSpace(getEnv("PHOTO_URL_BASE", defaultPhotoURLBase))
	cfg.CORSOrigins = splitList(os.Getenv("CORS_ORIGINS"))
	cfg.SchedulerEnabled = parseBoolEnv("REPORT_SCHEDULER_ENABLED", defaultSchedulerFlag)
	cfg.RateLimitEnabled = parseBoolEnv("RATE_LIMIT_ENABLED", defaultRateLimitFlag)

	var err error
	if cfg.JWTTTL, err = parseDurationEnv("JWT_TTL", defaultJWTTTL); err != nil {
		return nil, err
	}
	if cfg.LockWait, err = parseDurationEnv("LOCK_WAIT", defaultLockWait); err != nil {
		return nil, err
	}
	if cfg.ReportTickInterval, err = parseDurationEnv("REPORT_TICK_INTERVAL", defaultTickInterval); err != nil {
		return nil, err
	}

	if cfg.NoticeRetention, err = parseDurationEnv("NOTIFICATION_RETENTION", defaultNoticeKeep); err != nil {
		return nil, err
	}
	if cfg.NoticeCleanupEvery, err = parseDurationEnv("NOTIFICATION_CLEANUP_INTERVAL", defaultNoticeSweep); err != nil {
		return nil, err
	}

	tz := strings.TrimSpace(getEnv("REPORT_TIMEZONE", defaultTimezone))
	if cfg.ReportTimezone, err = time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("invalid REPORT_TIMEZONE value %q: %w", tz, err)
	}

	redisDB := strings.TrimSpace(getEnv("REDIS_DB", "0"))
	if cfg.RedisDB, err = strconv.Atoi(redisDB); err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB value %q: %w", redisDB, err)
	}

	perMinute := strings.TrimSpace(getEnv("RATE_LIMIT_PER_MINUTE", defaultRatePerMinute))
	if cfg.RateLimitPerMinute, err = strconv.Atoi(perMinute); err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE value %q: %w", perMinute, err)
	}
	burst := strings.TrimSpace(getEnv("RATE_LIMIT_BURST", perMinute))
	if cfg.RateLimitBurst, err = strconv.Atoi(burst); err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BURST value %q: %w", burst, err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	log.Printf("config loaded: env=%s addr=%s tz=%s scheduler=%t rabbitmq=%t redis=%t rate_limit=%t",
		cfg.AppEnv, cfg.HTTPAddr, cfg.ReportTimezone, cfg.SchedulerEnabled, cfg.RabbitMQURL != "", cfg.RedisAddr != "", cfg.RateLimitEnabled)

	return cfg, nil
}

func validateConfig(cfg *AppConfig) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must not be empty")
	}
	if cfg.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be > 0")
	}
	if cfg.LockWait <= 0 {
		return fmt.Errorf("LOCK_WAIT must be > 0")
	}
	if cfg.ReportTickInterval < time.Second || cfg.ReportTickInterval > time.Minute {
		return fmt.Errorf("REPORT_TICK_INTERVAL must be between 1s and 1m")
	}
	if cfg.ReportQueue == "" {
		return fmt.Errorf("REPORT_QUEUE must not be empty")
	}
	if cfg.NotificationQueue == "" {
		return fmt.Errorf("NOTIFICATION_QUEUE must not be empty")
	}
	if cfg.NoticeRetention < time.Hour || cfg.NoticeCleanupEvery < time.Minute {
		return fmt.Errorf("NOTIFICATION_RETENTION must be >= 1h and NOTIFICATION_CLEANUP_INTERVAL >= 1m")
	}
	if cfg.RedisDB < 0 {
		return fmt.Errorf("REDIS_DB must be >= 0")
	}
	if cfg.RateLimitEnabled && (cfg.RateLimitPerMinute <= 0 || cfg.RateLimitBurst <= 0) {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE and RATE_LIMIT_BURST must be > 0")
	}

	if isProdLike(cfg.AppEnv) {
		if isEmptyOrDefault(cfg.JWTSecret, defaultJWTSecret) {
			return fmt.Errorf("in prod/release JWT_SECRET must be set and not default")
		}
		if len(cfg.CORSOrigins) == 1 && cfg.CORSOrigins[0] == "*" {
			return fmt.Errorf("in prod/release CORS_ORIGINS must list explicit origins")
		}
	}

	return nil
}

// IsProd reports whether the app runs with production checks.
func (c *AppConfig) IsProd() bool {
	return isProdLike(c.AppEnv)
}

func appEnv() string {
	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = strings.TrimSpace(os.Getenv("ENV"))
	}
	if env == "" {
		env = "dev"
	}
	return strings.ToLower(env)
}

func isProdLike(env string) bool {
	env = strings.ToLower(strings.TrimSpace(env))
	return env == "prod" || env == "production" || env == "release"
}

func isEmptyOrDefault(v, def string) bool {
	trimmed := strings.TrimSpace(v)
	return trimmed == "" || trimmed == def
}

func parseDurationEnv(name, fallback string) (time.Duration, error) {
	value := strings.TrimSpace(getEnv(name, fallback))
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
	return d, nil
}

func parseBoolEnv(name, fallback string) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(name, fallback)))
	return value == "1" || value == "true" || value == "yes" || value == "on"
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
