// Package config handles application configuration.
package config

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port    int
	BaseURL string

	// Database
	DatabaseURL string

	// Secrets
	AppSecret     string
	EncryptionKey []byte // 32-byte key for AES-256-GCM encryption of webhook secrets

	// CORS
	CORSOrigins []string

	// Global default rate limits, applied when neither the key nor its
	// project sets a value. Zero disables the window.
	DefaultLimitPerMinute int64
	DefaultLimitPerHour   int64
	DefaultLimitPerDay    int64
	DefaultLimitPerMonth  int64
	DefaultWarnPercent    int

	// Resolver cache
	ResolverCacheTTL time.Duration

	// Webhook delivery
	WebhookTimeout       time.Duration // default per-webhook timeout
	WebhookMaxTimeout    time.Duration // upper bound on configurable timeout
	WebhookMaxRetries    int
	DeliveryConcurrency  int
	DeliveryQueueSize    int

	// Counter cleanup
	CleanupEnabled  bool
	CleanupMaxAge   time.Duration // how long closed window rows are retained
	CleanupInterval time.Duration

	// Alert evaluation
	AlertCooldownDefault time.Duration

	// Audit payload masking defaults, applied when the field entry does
	// not set its own strategy parameters.
	MaskStrategy    string // redact or mask
	MaskReplacement string
	MaskShowStart   int
	MaskShowEnd     int
	MaskChar        string
	MaskCacheTTL    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		DatabaseURL: getEnv("DATABASE_URL", "file:akm.db?_journal=WAL&_timeout=5000"),
		AppSecret:   getEnv("APP_SECRET", ""),

		CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"http://localhost:3000"}),

		DefaultLimitPerMinute: getEnvInt64("DEFAULT_LIMIT_PER_MINUTE", 0),
		DefaultLimitPerHour:   getEnvInt64("DEFAULT_LIMIT_PER_HOUR", 0),
		DefaultLimitPerDay:    getEnvInt64("DEFAULT_LIMIT_PER_DAY", 0),
		DefaultLimitPerMonth:  getEnvInt64("DEFAULT_LIMIT_PER_MONTH", 0),
		DefaultWarnPercent:    getEnvInt("DEFAULT_WARN_PERCENT", 80),

		ResolverCacheTTL: getEnvDuration("RESOLVER_CACHE_TTL", 30*time.Second),

		WebhookTimeout:      getEnvDuration("WEBHOOK_TIMEOUT", 30*time.Second),
		WebhookMaxTimeout:   getEnvDuration("WEBHOOK_MAX_TIMEOUT", 60*time.Second),
		WebhookMaxRetries:   getEnvInt("WEBHOOK_MAX_RETRIES", 5),
		DeliveryConcurrency: getEnvInt("DELIVERY_CONCURRENCY", 4),
		DeliveryQueueSize:   getEnvInt("DELIVERY_QUEUE_SIZE", 256),

		CleanupEnabled:  getEnvBool("CLEANUP_ENABLED", true),
		CleanupMaxAge:   getEnvDuration("CLEANUP_MAX_AGE", 35*24*time.Hour),
		CleanupInterval: getEnvDuration("CLEANUP_INTERVAL", time.Hour),

		AlertCooldownDefault: getEnvDuration("ALERT_COOLDOWN_DEFAULT", 15*time.Minute),

		MaskStrategy:    getEnv("MASK_STRATEGY", "redact"),
		MaskReplacement: getEnv("MASK_REPLACEMENT", "[REDACTED]"),
		MaskShowStart:   getEnvInt("MASK_SHOW_START", 3),
		MaskShowEnd:     getEnvInt("MASK_SHOW_END", 2),
		MaskChar:        getEnv("MASK_CHAR", "*"),
		MaskCacheTTL:    getEnvDuration("MASK_CACHE_TTL", 5*time.Minute),
	}

	if cfg.DefaultWarnPercent <= 0 || cfg.DefaultWarnPercent > 100 {
		return nil, fmt.Errorf("DEFAULT_WARN_PERCENT must be in (0,100], got %d", cfg.DefaultWarnPercent)
	}
	if cfg.MaskStrategy != "redact" && cfg.MaskStrategy != "mask" {
		return nil, fmt.Errorf("MASK_STRATEGY must be redact or mask, got %q", cfg.MaskStrategy)
	}
	if cfg.WebhookTimeout > cfg.WebhookMaxTimeout {
		cfg.WebhookTimeout = cfg.WebhookMaxTimeout
	}

	// Generate a random app secret when none is provided. Derived keys will
	// not survive a restart, so persistent deployments should set APP_SECRET.
	if cfg.AppSecret == "" {
		cfg.AppSecret = generateRandomSecret(64)
	}

	// Set up encryption key (derive from app secret if not explicitly set)
	encKeyStr := getEnv("ENCRYPTION_KEY", "")
	if encKeyStr != "" {
		decoded, err := base64.StdEncoding.DecodeString(encKeyStr)
		if err != nil || len(decoded) != 32 {
			return nil, fmt.Errorf("ENCRYPTION_KEY must be a base64-encoded 32-byte key")
		}
		cfg.EncryptionKey = decoded
	} else {
		cfg.EncryptionKey = deriveEncryptionKey(cfg.AppSecret)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func generateRandomSecret(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback (should never happen)
		return "akm-secret-change-me-" + base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%d", time.Now().UnixNano())))
	}
	return base64.URLEncoding.EncodeToString(bytes)
}

// deriveEncryptionKey creates a 32-byte AES-256 key from a secret string using HKDF.
// HKDF is appropriate for deriving keys from high-entropy secrets like APP_SECRET.
// For low-entropy passwords, use Argon2 instead.
func deriveEncryptionKey(secret string) []byte {
	// Salt is fixed but unique to this application; info binds the key to
	// its purpose.
	salt := []byte("akm-api-encryption-key-v1")
	info := []byte("aes-256-gcm-encryption")

	hkdfReader := hkdf.New(sha256.New, []byte(secret), salt, info)

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		panic("hkdf: failed to derive key: " + err.Error())
	}

	return key
}
