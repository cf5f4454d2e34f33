package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port            string
	ShutdownTimeout time.Duration

	// Database
	SQLiteDBPath string

	// AMQP (empty URL disables the queue; syncs then run in-process)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Bank aggregator
	BankBackend     string // "plaid" or "sandbox"
	PlaidClientID   string
	PlaidSecret     string
	PlaidEnv        string // "sandbox" or "production"
	PlaidClientName string
	PlaidWebhookURL string

	// SMS
	SMSBackend       string // "twilio" or "log"
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// Scheduler
	SyncSchedule    string
	PruneSchedule   string
	SyncParallelism int

	// Rate limiting
	RateLimitPerMinute int

	// Logging
	LogLevel string // "debug", "info", "warn", "error"
}

func Load() *Config {
	cfg := &Config{
		Port:            getEnv("PORT", "8081"),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/pocketwatch.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "pocketwatch"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "sync_requests"),

		BankBackend:     getEnv("BANK_BACKEND", "sandbox"),
		PlaidClientID:   getEnv("PLAID_CLIENT_ID", ""),
		PlaidSecret:     getEnv("PLAID_SECRET", ""),
		PlaidEnv:        getEnv("PLAID_ENV", "sandbox"),
		PlaidClientName: getEnv("PLAID_CLIENT_NAME", "Pocketwatch"),
		PlaidWebhookURL: getEnv("PLAID_WEBHOOK_URL", ""),

		SMSBackend:       getEnv("SMS_BACKEND", "log"),
		TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: getEnv("TWILIO_FROM_NUMBER", ""),

		SyncSchedule:    getEnv("SYNC_SCHEDULE", "@hourly"),
		PruneSchedule:   getEnv("PRUNE_SCHEDULE", "@daily"),
		SyncParallelism: getEnvInt("SYNC_PARALLELISM", 4),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate SQLite path
	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}

		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate bank backend
	switch c.BankBackend {
	case "sandbox":
	case "plaid":
		if c.PlaidClientID == "" {
			errors = append(errors, "PLAID_CLIENT_ID is required when using the plaid backend")
		}
		if c.PlaidSecret == "" {
			errors = append(errors, "PLAID_SECRET is required when using the plaid backend")
		}
		if c.PlaidEnv != "sandbox" && c.PlaidEnv != "production" {
			errors = append(errors, fmt.Sprintf("invalid Plaid environment '%s': must be 'sandbox' or 'production'", c.PlaidEnv))
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid bank backend '%s': must be one of [plaid sandbox]", c.BankBackend))
	}

	// Validate SMS backend
	switch c.SMSBackend {
	case "log":
	case "twilio":
		if c.TwilioAccountSID == "" {
			errors = append(errors, "TWILIO_ACCOUNT_SID is required when using the twilio backend")
		}
		if c.TwilioAuthToken == "" {
			errors = append(errors, "TWILIO_AUTH_TOKEN is required when using the twilio backend")
		}
		if c.TwilioFromNumber == "" {
			errors = append(errors, "TWILIO_FROM_NUMBER is required when using the twilio backend")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid SMS backend '%s': must be one of [twilio log]", c.SMSBackend))
	}

	// Validate scheduler configuration
	if c.SyncParallelism < 1 {
		errors = append(errors, fmt.Sprintf("invalid sync parallelism %d: must be at least 1", c.SyncParallelism))
	} else if c.SyncParallelism > 64 {
		errors = append(errors, fmt.Sprintf("invalid sync parallelism %d: must be at most 64", c.SyncParallelism))
	}

	if c.ShutdownTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid shutdown timeout %v: must be at least 1 second", c.ShutdownTimeout))
	} else if c.ShutdownTimeout > 5*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid shutdown timeout %v: must be at most 5 minutes", c.ShutdownTimeout))
	}

	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitPerMinute))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of [debug info warn error]", c.LogLevel))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
