// Package config loads and validates application configuration from
// environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds all configuration values for the API server.
// Values are populated by Load from environment variables.
type Config struct {
	// Port is the TCP port the HTTP server listens on.
	Port string `env:"PORT" envDefault:"8080"`

	// MongoURL is the MongoDB connection string. Required.
	MongoURL string `env:"MONGO_URL"`

	// MongoDatabase is the database holding the geotags collection.
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"geotag"`

	// JWTSigningKey is the HMAC key access tokens are verified with. Required.
	JWTSigningKey string `env:"JWT_SIGNING_KEY"`

	// JWTIssuer is the expected token issuer.
	JWTIssuer string `env:"JWT_ISSUER" envDefault:"geotag-api"`

	// LogLevel controls the minimum log level.
	// Valid values: debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// CORSOrigins is the list of allowed cross-origin request origins.
	CORSOrigins []string `env:"CORS_ORIGINS" envDefault:"http://localhost:5173"`

	// MaxBodyBytes caps incoming request body sizes.
	MaxBodyBytes int64 `env:"MAX_BODY_BYTES" envDefault:"1048576"`
}

// Load reads configuration from environment variables and returns a Config.
// Returns an error listing any required variables that are not set.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config.Load: %w", err)
	}

	var missing []string
	if cfg.MongoURL == "" {
		missing = append(missing, "MONGO_URL")
	}
	if cfg.JWTSigningKey == "" {
		missing = append(missing, "JWT_SIGNING_KEY")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required environment variables not set: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}
