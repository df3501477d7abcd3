/*
config.go - Environment-driven configuration

All settings come from environment variables with sensible defaults;
cmd/server loads an optional .env first via godotenv.
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds everything the server needs at startup.
type Config struct {
	Port         int
	DatabasePath string
	ReceiptDir   string

	JWTSecret string
	TokenTTL  time.Duration

	// InsecureJWTSecret is set when JWT_SECRET was absent and the
	// development fallback is in use. Main warns on it at startup.
	InsecureJWTSecret bool

	AllowedOrigins []string

	// Out-of-band admin credentials, seeded on startup.
	ValidatorPassword   string
	ResponsablePassword string
	OwnerPassword       string
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	port, err := getEnvInt("PORT", 8080)
	if err != nil {
		return nil, err
	}
	ttl, err := getEnvDuration("TOKEN_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}

	secret := getEnvString("JWT_SECRET", "")
	insecure := secret == ""
	if insecure {
		// Development fallback. Refuse nothing here; main logs a warning.
		secret = "dev-insecure-secret-change"
	}

	return &Config{
		Port:                port,
		DatabasePath:        getEnvString("DATABASE_PATH", "promo.db"),
		ReceiptDir:          getEnvString("RECEIPT_DIR", "receipts"),
		JWTSecret:           secret,
		InsecureJWTSecret:   insecure,
		TokenTTL:            ttl,
		AllowedOrigins:      []string{getEnvString("CORS_ORIGIN", "*")},
		ValidatorPassword:   getEnvString("VALIDATOR_PASSWORD", "validador2026"),
		ResponsablePassword: getEnvString("RESPONSABLE_PASSWORD", "responsable2026"),
		OwnerPassword:       getEnvString("OWNER_PASSWORD", "owner2026"),
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
