package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"herald/service/delivery"
	"herald/service/dispatch"
	"herald/service/notification"
	"herald/service/vapid"
)

type Config struct {
	Port           int
	APIKey         string
	VerboseLogging bool
	RateLimit      int

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string
	VAPIDTokenTTL   time.Duration

	DeliveryTimeout     time.Duration
	ConnectTimeout      time.Duration
	DispatchConcurrency int
	DefaultTTL          int

	StoragePath string
}

// ConfigurationError reports a missing or malformed environment
// variable by name.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return e.Key + " " + e.Reason
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnvInt("PORT", 8080),
		APIKey:         os.Getenv("API_KEY"),
		VerboseLogging: getEnvBool("VERBOSE_LOGGING", false),
		RateLimit:      getEnvInt("RATE_LIMIT", 100),

		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubject:    os.Getenv("VAPID_SUBJECT"),
		VAPIDTokenTTL:   getEnvDuration("VAPID_TOKEN_TTL", vapid.DefaultTokenTTL),

		DeliveryTimeout:     getEnvDuration("DELIVERY_TIMEOUT", delivery.DefaultTimeout),
		ConnectTimeout:      getEnvDuration("CONNECT_TIMEOUT", delivery.DefaultConnectTimeout),
		DispatchConcurrency: getEnvInt("DISPATCH_CONCURRENCY", dispatch.DefaultConcurrency),
		DefaultTTL:          getEnvInt("DEFAULT_TTL", notification.DefaultTTL),

		StoragePath: getEnvString("STORAGE_PATH", "./data/herald.db"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.APIKey == "" {
		return &ConfigurationError{Key: "API_KEY", Reason: "environment variable is required"}
	}
	if c.VAPIDPrivateKey == "" {
		return &ConfigurationError{Key: "VAPID_PRIVATE_KEY", Reason: "environment variable is required (run 'herald keygen' to create a key pair)"}
	}
	if c.VAPIDSubject == "" {
		return &ConfigurationError{Key: "VAPID_SUBJECT", Reason: "environment variable is required"}
	}
	if !strings.HasPrefix(c.VAPIDSubject, "mailto:") && !strings.HasPrefix(c.VAPIDSubject, "https:") {
		return &ConfigurationError{Key: "VAPID_SUBJECT", Reason: "must be a mailto: or https: URI"}
	}
	if c.Port < 1 || c.Port > 65535 {
		return &ConfigurationError{Key: "PORT", Reason: fmt.Sprintf("must be between 1 and 65535, got %d", c.Port)}
	}
	if c.VAPIDTokenTTL <= 0 {
		return &ConfigurationError{Key: "VAPID_TOKEN_TTL", Reason: "must be a positive duration"}
	}
	if c.DefaultTTL < 0 {
		return &ConfigurationError{Key: "DEFAULT_TTL", Reason: "must not be negative"}
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
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
