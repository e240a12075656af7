package config

import (
	"os"
	"strconv"
)

// AppConfig holds process-wide settings resolved once at startup.
type AppConfig struct {
	Port          string
	APIKey        string
	DefaultDriver string

	// Default redirect targets for browser callbacks. A transaction's
	// metadata can override these per payment.
	CallbackSuccessURL string
	CallbackErrorURL   string
	CallbackCancelURL  string

	// Global webhook token, used when a driver has no token of its own.
	WebhookToken  string
	WebhookPrefix string

	DriversFile string
	DBPath      string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	OpenSearchURL  string
	OpenSearchUser string
	OpenSearchPass string
	EnableLogging  bool
}

// LoadAppConfig reads application settings from the environment.
func LoadAppConfig() *AppConfig {
	return &AppConfig{
		Port:               GetEnv("APP_PORT", "9999"),
		APIKey:             GetEnv("API_KEY", ""),
		DefaultDriver:      GetEnv("PAYMENT_DRIVER", "myfatoorah"),
		CallbackSuccessURL: GetEnv("PAYMENT_CALLBACK_SUCCESS", "/payment/success"),
		CallbackErrorURL:   GetEnv("PAYMENT_CALLBACK_ERROR", "/payment/error"),
		CallbackCancelURL:  GetEnv("PAYMENT_CALLBACK_CANCEL", "/payment/cancel"),
		WebhookToken:       GetEnv("PAYMENT_WEBHOOK_TOKEN", ""),
		WebhookPrefix:      GetEnv("PAYMENT_WEBHOOK_PREFIX", "/webhooks/payments"),
		DriversFile:        GetEnv("PAYMENT_DRIVERS_FILE", ""),
		DBPath:             GetEnv("DB_PATH", "data/payflow.db"),
		RedisAddr:          GetEnv("REDIS_ADDR", ""),
		RedisPassword:      GetEnv("REDIS_PASSWORD", ""),
		RedisDB:            GetIntEnv("REDIS_DB", 0),
		OpenSearchURL:      GetEnv("OPENSEARCH_URL", "http://localhost:9200"),
		OpenSearchUser:     GetEnv("OPENSEARCH_USER", ""),
		OpenSearchPass:     GetEnv("OPENSEARCH_PASSWORD", ""),
		EnableLogging:      GetBoolEnv("ENABLE_OPENSEARCH_LOGGING", false),
	}
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetBoolEnv returns the boolean value of an environment variable or a default value
func GetBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetIntEnv returns the integer value of an environment variable or a default value
func GetIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
