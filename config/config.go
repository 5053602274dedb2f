package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the WARRN backend service
type Config struct {
	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Server configuration
	Host string
	Port string

	// Auth configuration
	JWTSecret   string
	TokenExpiry time.Duration

	// Media storage configuration
	UploadDir string

	// Species suggestion configuration
	OpenAIAPIKey      string
	OpenAIModel       string
	SuggestionTimeout time.Duration

	// Notification configuration
	SendGridAPIKey      string
	SendGridFromName    string
	SendGridFromEmail   string
	NotificationTimeout time.Duration

	// RabbitMQ configuration (optional event fan-out)
	RabbitMQHost       string
	RabbitMQPort       string
	RabbitMQUser       string
	RabbitMQPassword   string
	RabbitMQExchange   string
	RabbitMQEnabled    bool

	// Rate limiting for the public submit endpoint
	SubmitRateLimit int

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables
func Load() *Config {
	config := &Config{
		// Database defaults
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "server"),
		DBPassword: getEnv("DB_PASSWORD", "secret_app"),
		DBName:     getEnv("DB_NAME", "warrn"),

		// Server defaults
		Host: getEnv("HOST", "0.0.0.0"),
		Port: getEnv("PORT", "8080"),

		// Auth defaults
		JWTSecret:   getEnv("JWT_SECRET", "dev-secret-change-me"),
		TokenExpiry: getDurationEnv("TOKEN_EXPIRY", 24*time.Hour),

		// Media storage defaults
		UploadDir: getEnv("UPLOAD_DIR", "uploads"),

		// Species suggestion defaults
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4o"),
		SuggestionTimeout: getDurationEnv("SUGGESTION_TIMEOUT", 5*time.Second),

		// Notification defaults
		SendGridAPIKey:      getEnv("SENDGRID_API_KEY", ""),
		SendGridFromName:    getEnv("SENDGRID_FROM_NAME", "WARRN"),
		SendGridFromEmail:   getEnv("SENDGRID_FROM_EMAIL", "noreply@warrn.org"),
		NotificationTimeout: getDurationEnv("NOTIFICATION_TIMEOUT", 10*time.Second),

		// RabbitMQ defaults
		RabbitMQHost:     getEnv("RABBITMQ_HOST", "localhost"),
		RabbitMQPort:     getEnv("RABBITMQ_PORT", "5672"),
		RabbitMQUser:     getEnv("RABBITMQ_USER", "guest"),
		RabbitMQPassword: getEnv("RABBITMQ_PASSWORD", "guest"),
		RabbitMQExchange: getEnv("RABBITMQ_EXCHANGE", "warrn.events"),
		RabbitMQEnabled:  getBoolEnv("RABBITMQ_ENABLED", false),

		// Rate limiting defaults
		SubmitRateLimit: getIntEnv("SUBMIT_RATE_LIMIT", 10),

		// Logging defaults
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return config
}

// GetAMQPURL builds the AMQP connection URL from config
func (c *Config) GetAMQPURL() string {
	return "amqp://" + c.RabbitMQUser + ":" + c.RabbitMQPassword + "@" + c.RabbitMQHost + ":" + c.RabbitMQPort + "/"
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv gets an integer environment variable or returns a default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getBoolEnv gets a boolean environment variable or returns a default value
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getDurationEnv gets a duration environment variable or returns a default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
