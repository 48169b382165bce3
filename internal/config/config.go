// Package config provides configuration management for the study hub.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	App          AppConfig
	Database     DatabaseConfig
	Policy       PolicyConfig
	Notification NotificationConfig
	Mail         MailConfig
	Logging      LoggingConfig
}

// AppConfig holds values used to build links in outgoing notifications
type AppConfig struct {
	Host     string
	SiteName string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL returns the connection string used by pgx and golang-migrate
func (c PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
	UnreadTTL      time.Duration
}

// PolicyConfig holds the domain policy knobs
type PolicyConfig struct {
	RecruitingCooldown  time.Duration
	EmailResendCooldown time.Duration
}

// NotificationConfig holds event bus, dispatcher and outbox relay settings
type NotificationConfig struct {
	Workers            int
	QueueSize          int
	HandlerMaxAttempts int
	HandlerRetryDelay  time.Duration
	EmailMaxAttempts   int
	EmailRetryDelay    time.Duration
	OutboxPollInterval time.Duration
	OutboxGracePeriod  time.Duration
	OutboxMaxAttempts  int
	OutboxBatchSize    int
}

// MailConfig holds outbound SMTP configuration
type MailConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	From          string
	RatePerSecond float64
	Burst         int
	// BreakerFailures consecutive send failures open the SMTP circuit
	BreakerFailures int
	BreakerCooldown time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional; the environment can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		App: AppConfig{
			Host:     strings.TrimRight(getEnv("APP_HOST", "http://localhost:8080"), "/"),
			SiteName: getEnv("APP_SITE_NAME", "StudyHub"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "study_hub"),
				User:           getEnv("POSTGRES_USER", "studyhub"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Enabled:  getEnvAsBool("CLICKHOUSE_ENABLED", true),
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "study_hub"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
				UnreadTTL:      getEnvAsDuration("REDIS_UNREAD_TTL", 10*time.Minute),
			},
		},
		Policy: PolicyConfig{
			RecruitingCooldown:  getEnvAsDuration("RECRUITING_COOLDOWN", time.Hour),
			EmailResendCooldown: getEnvAsDuration("EMAIL_RESEND_COOLDOWN", 5*time.Minute),
		},
		Notification: NotificationConfig{
			Workers:            getEnvAsInt("NOTIFY_WORKERS", 4),
			QueueSize:          getEnvAsInt("NOTIFY_QUEUE_SIZE", 50),
			HandlerMaxAttempts: getEnvAsInt("NOTIFY_HANDLER_MAX_ATTEMPTS", 3),
			HandlerRetryDelay:  getEnvAsDuration("NOTIFY_HANDLER_RETRY_DELAY", 500*time.Millisecond),
			EmailMaxAttempts:   getEnvAsInt("NOTIFY_EMAIL_MAX_ATTEMPTS", 3),
			EmailRetryDelay:    getEnvAsDuration("NOTIFY_EMAIL_RETRY_DELAY", time.Second),
			OutboxPollInterval: getEnvAsDuration("OUTBOX_POLL_INTERVAL", 30*time.Second),
			OutboxGracePeriod:  getEnvAsDuration("OUTBOX_GRACE_PERIOD", time.Minute),
			OutboxMaxAttempts:  getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 5),
			OutboxBatchSize:    getEnvAsInt("OUTBOX_BATCH_SIZE", 100),
		},
		Mail: MailConfig{
			Host:          getEnv("SMTP_HOST", "localhost"),
			Port:          getEnvAsInt("SMTP_PORT", 25),
			User:          getEnv("SMTP_USER", ""),
			Password:      getEnv("SMTP_PASSWORD", ""),
			From:          getEnv("SMTP_FROM", "no-reply@studyhub.local"),
			RatePerSecond: getEnvAsFloat("SMTP_RATE_PER_SECOND", 5),
			Burst:         getEnvAsInt("SMTP_BURST", 10),

			BreakerFailures: getEnvAsInt("SMTP_BREAKER_FAILURES", 5),
			BreakerCooldown: getEnvAsDuration("SMTP_BREAKER_COOLDOWN", 30*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects settings the services cannot run with
func (c *Config) Validate() error {
	if c.Policy.RecruitingCooldown < 0 {
		return fmt.Errorf("RECRUITING_COOLDOWN must not be negative")
	}
	if c.Policy.EmailResendCooldown < 0 {
		return fmt.Errorf("EMAIL_RESEND_COOLDOWN must not be negative")
	}
	if c.Notification.Workers <= 0 {
		return fmt.Errorf("NOTIFY_WORKERS must be positive, got %d", c.Notification.Workers)
	}
	if c.Notification.QueueSize <= 0 {
		return fmt.Errorf("NOTIFY_QUEUE_SIZE must be positive, got %d", c.Notification.QueueSize)
	}
	if c.Notification.HandlerMaxAttempts <= 0 || c.Notification.EmailMaxAttempts <= 0 {
		return fmt.Errorf("retry attempts must be positive")
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
