package core

import (
	"os"
	"strings"
	"time"
)

// Config holds the application configuration, loaded from SEATIDP_*
// environment variables.
type Config struct {
	// Environment (development, production)
	Environment string

	// Server listening address
	ListenAddr string

	// Base URL for constructing absolute URLs; also the OIDC issuer
	BaseURL string

	// Directory for the SQLite database
	DataDir string

	// Domain for synthetic user email addresses
	EmailDomain string

	// Shared secret for the admin API; empty disables it
	AdminToken string

	// Signing algorithm for lazily generated keypairs
	DefaultAlgorithm string

	// CORS allowed origins
	CORSOrigins []string

	// Mark cookies Secure (behind TLS)
	SecureCookies bool

	// Enable debug logging
	Debug bool

	// Token and session lifetimes
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	AuthCodeTTL     time.Duration
	SessionTTL      time.Duration
}

// LoadConfig loads configuration from environment variables with sensible
// defaults.
func LoadConfig() *Config {
	return &Config{
		Environment:      getEnv("SEATIDP_ENV", "development"),
		ListenAddr:       getEnv("SEATIDP_LISTEN_ADDR", ":8080"),
		BaseURL:          strings.TrimRight(getEnv("SEATIDP_BASE_URL", "http://localhost:8080"), "/"),
		DataDir:          getEnv("SEATIDP_DATA_DIR", "data"),
		EmailDomain:      getEnv("SEATIDP_EMAIL_DOMAIN", "seatidp.local"),
		AdminToken:       getEnv("SEATIDP_ADMIN_TOKEN", ""),
		DefaultAlgorithm: getEnv("SEATIDP_DEFAULT_ALGORITHM", "RS256"),
		CORSOrigins:      getEnvList("SEATIDP_CORS_ORIGINS", []string{}),
		SecureCookies:    getEnvBool("SEATIDP_SECURE_COOKIES", false),
		Debug:            getEnvBool("SEATIDP_DEBUG", false),
		AccessTokenTTL:   getEnvDuration("SEATIDP_ACCESS_TOKEN_TTL", time.Hour),
		RefreshTokenTTL:  getEnvDuration("SEATIDP_REFRESH_TOKEN_TTL", 7*24*time.Hour),
		AuthCodeTTL:      getEnvDuration("SEATIDP_AUTH_CODE_TTL", 10*time.Minute),
		SessionTTL:       getEnvDuration("SEATIDP_SESSION_TTL", 12*time.Hour),
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return strings.ToLower(value) == "true" || value == "1"
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	list := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			list = append(list, p)
		}
	}
	return list
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
