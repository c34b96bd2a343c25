package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the service
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NATS     NATSConfig
	WhatsApp WhatsAppConfig
	Quota    QuotaConfig
	Window   WindowConfig
	Session  SessionConfig
	Security SecurityConfig
	App      AppConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string
	Port string
	Mode string // gin mode: debug or release
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// RedisConfig holds Redis configuration for the tenant resolution cache
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// NATSConfig holds NATS configuration for event publishing
type NATSConfig struct {
	URL string
}

// WhatsAppConfig holds the webhook handshake and outbound transport settings
type WhatsAppConfig struct {
	VerifyToken string        // token echoed during the webhook subscribe handshake
	APIBaseURL  string        // base URL of the messaging provider API
	AccessToken string        // bearer token for outbound sends
	SendTimeout time.Duration // bounded timeout for outbound transport calls
}

// QuotaConfig holds the monthly free-message quota settings
type QuotaConfig struct {
	DefaultAllowance int // free messages per calendar month per tenant
}

// WindowConfig holds the customer-initiated conversation window settings
type WindowConfig struct {
	Duration time.Duration // replies within this window of the last customer message are free
}

// SessionConfig holds the QR session lifecycle settings
type SessionConfig struct {
	HandshakeDelay time.Duration // connecting -> connected handshake completion delay
	SimulateScan   bool          // auto-confirm pairing after ScanDelay (dev mode, no real device)
	ScanDelay      time.Duration
}

// SecurityConfig holds authentication configuration for the admin API
type SecurityConfig struct {
	AdminAPIKey string
}

// AppConfig holds application configuration
type AppConfig struct {
	Environment string
	LogLevel    string
}

// New creates a new configuration instance from the environment
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: getEnvWithDefault("SERVER_HOST", "0.0.0.0"),
			Port: getEnvWithDefault("SERVER_PORT", "8095"),
			Mode: getEnvWithDefault("GIN_MODE", "debug"),
		},
		Database: DatabaseConfig{
			Host:     getEnvWithDefault("DB_HOST", "localhost"),
			Port:     getEnvWithDefault("DB_PORT", "5432"),
			User:     getEnvWithDefault("DB_USER", "postgres"),
			Password: getEnvWithDefault("DB_PASSWORD", "postgres"),
			Name:     getEnvWithDefault("DB_NAME", "gateway_db"),
			SSLMode:  getEnvWithDefault("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnvWithDefault("REDIS_HOST", "localhost"),
			Port:     getEnvWithDefault("REDIS_PORT", "6379"),
			Password: getEnvWithDefault("REDIS_PASSWORD", ""),
			DB:       getEnvAsIntWithDefault("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			URL: getEnvWithDefault("NATS_URL", ""),
		},
		WhatsApp: WhatsAppConfig{
			VerifyToken: getEnvWithDefault("WHATSAPP_VERIFY_TOKEN", "gateway_verify_token"),
			APIBaseURL:  getEnvWithDefault("WHATSAPP_API_BASE_URL", "https://graph.facebook.com/v18.0"),
			AccessToken: getEnvWithDefault("WHATSAPP_ACCESS_TOKEN", ""),
			SendTimeout: getEnvAsDurationWithDefault("WHATSAPP_SEND_TIMEOUT", 10*time.Second),
		},
		Quota: QuotaConfig{
			DefaultAllowance: getEnvAsIntWithDefault("QUOTA_DEFAULT_ALLOWANCE", 1000),
		},
		Window: WindowConfig{
			Duration: getEnvAsDurationWithDefault("CONVERSATION_WINDOW", 24*time.Hour),
		},
		Session: SessionConfig{
			HandshakeDelay: getEnvAsDurationWithDefault("SESSION_HANDSHAKE_DELAY", 2*time.Second),
			SimulateScan:   getEnvAsBoolWithDefault("SESSION_SIMULATE_SCAN", true),
			ScanDelay:      getEnvAsDurationWithDefault("SESSION_SCAN_DELAY", 5*time.Second),
		},
		Security: SecurityConfig{
			AdminAPIKey: getEnvWithDefault("ADMIN_API_KEY", "gateway_admin_dev_key"),
		},
		App: AppConfig{
			Environment: getEnvWithDefault("APP_ENV", "development"),
			LogLevel:    getEnvWithDefault("LOG_LEVEL", "info"),
		},
	}
}

// GetDSN returns the PostgreSQL connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// getEnvWithDefault gets environment variable with a default fallback
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntWithDefault gets environment variable as integer with default fallback
func getEnvAsIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBoolWithDefault gets environment variable as boolean with default fallback
func getEnvAsBoolWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDurationWithDefault gets environment variable as duration with default fallback
func getEnvAsDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
