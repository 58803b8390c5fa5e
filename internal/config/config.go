// Package config loads server configuration from the environment.
//
// A .env file in the working directory is read first (if present) so local
// development doesn't need exported shell variables. Real environment
// variables always win over values in the file because godotenv.Load never
// overrides variables that are already set.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full runtime configuration, grouped by concern.
type Config struct {
	Server  ServerConfig
	Auth    AuthConfig
	Google  GoogleConfig
	Storage StorageConfig
	Email   EmailConfig
}

type ServerConfig struct {
	Port            int
	Env             string // "dev" or "prod"
	LogLevel        string
	DBPath          string
	ShutdownTimeout time.Duration
	TrustedOrigins  []string // CORS allowed origins (the SPA)
	FrontendURL     string   // where OAuth and reset links send the browser
	PublicURL       string   // externally visible base URL of this API
	TrustProxy      bool     // honor X-Forwarded-For / X-Real-IP from a reverse proxy
}

type AuthConfig struct {
	JWTSecret      string
	TokenTTL       time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
}

// GoogleConfig holds OAuth client credentials. Google login is disabled
// when either the client ID or the secret is empty.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

type StorageConfig struct {
	UploadDir      string
	MaxUploadBytes int64
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPassword string
	From         string
}

// Load reads configuration from environment variables, after loading an
// optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	port := getIntEnv("PORT", 8080)
	publicURL := getEnv("PUBLIC_URL", fmt.Sprintf("http://localhost:%d", port))

	cfg := &Config{
		Server: ServerConfig{
			Port:            port,
			Env:             getEnv("APP_ENV", "dev"),
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			DBPath:          getEnv("DB_PATH", "data/jobtracker.db"),
			ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
			TrustedOrigins:  getSliceEnv("TRUSTED_ORIGINS", []string{"http://localhost:3000"}),
			FrontendURL:     strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:3000"), "/"),
			PublicURL:       strings.TrimRight(publicURL, "/"),
			TrustProxy:      getBoolEnv("TRUST_PROXY", false),
		},
		Auth: AuthConfig{
			JWTSecret:      os.Getenv("JWT_SECRET"),
			TokenTTL:       getDurationEnv("TOKEN_TTL", 7*24*time.Hour),
			RateLimitRPS:   getFloatEnv("AUTH_RATE_LIMIT_RPS", 1),
			RateLimitBurst: getIntEnv("AUTH_RATE_LIMIT_BURST", 10),
		},
		Google: GoogleConfig{
			ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
			CallbackURL:  getEnv("GOOGLE_CALLBACK_URL", publicURL+"/auth/google/callback"),
		},
		Storage: StorageConfig{
			UploadDir:      getEnv("UPLOAD_DIR", "data/uploads"),
			MaxUploadBytes: int64(getIntEnv("MAX_UPLOAD_BYTES", 5<<20)),
		},
		Email: EmailConfig{
			SMTPHost:     os.Getenv("SMTP_HOST"),
			SMTPPort:     getEnv("SMTP_PORT", "587"),
			SMTPUser:     os.Getenv("SMTP_USER"),
			SMTPPassword: os.Getenv("SMTP_PASS"),
			From:         getEnv("SMTP_FROM", os.Getenv("SMTP_USER")),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Auth.JWTSecret) < 16 {
		return errors.New("config: JWT_SECRET must be set and at least 16 characters")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("config: TOKEN_TTL must be positive")
	}
	if c.Storage.MaxUploadBytes <= 0 {
		return errors.New("config: MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

// IsDevelopment reports whether the server runs in the dev environment.
func (c *ServerConfig) IsDevelopment() bool {
	return c.Env == "dev"
}

// GoogleEnabled reports whether Google OAuth credentials are configured.
func (c *GoogleConfig) GoogleEnabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// SMTPEnabled reports whether outgoing mail is configured.
func (c *EmailConfig) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

// getDurationEnv accepts Go duration strings ("168h", "30s") and falls back
// to a bare number of seconds.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	seconds, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return time.Duration(seconds) * time.Second
}

func getSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
