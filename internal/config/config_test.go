package config

import (
	"encoding/base64"
	"os"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	os.Setenv("TEST_GET_ENV", "test_value")
	defer os.Unsetenv("TEST_GET_ENV")

	t.Run("existing env var", func(t *testing.T) {
		if result := getEnv("TEST_GET_ENV", "default"); result != "test_value" {
			t.Errorf("getEnv() = %q, want %q", result, "test_value")
		}
	})

	t.Run("missing env var", func(t *testing.T) {
		if result := getEnv("TEST_MISSING_VAR", "default_value"); result != "default_value" {
			t.Errorf("getEnv() = %q, want %q", result, "default_value")
		}
	})

	t.Run("empty env var", func(t *testing.T) {
		os.Setenv("TEST_EMPTY_VAR", "")
		defer os.Unsetenv("TEST_EMPTY_VAR")

		if result := getEnv("TEST_EMPTY_VAR", "default"); result != "default" {
			t.Errorf("getEnv() = %q, want %q (empty should use default)", result, "default")
		}
	})
}

func TestGetEnvInt64(t *testing.T) {
	t.Run("valid integer", func(t *testing.T) {
		os.Setenv("TEST_INT64", "5000000000")
		defer os.Unsetenv("TEST_INT64")

		if result := getEnvInt64("TEST_INT64", 0); result != 5000000000 {
			t.Errorf("getEnvInt64() = %d, want 5000000000", result)
		}
	})

	t.Run("invalid integer", func(t *testing.T) {
		os.Setenv("TEST_INT64_INVALID", "not-a-number")
		defer os.Unsetenv("TEST_INT64_INVALID")

		if result := getEnvInt64("TEST_INT64_INVALID", 99); result != 99 {
			t.Errorf("getEnvInt64() = %d, want 99 (default)", result)
		}
	})
}

func TestGetEnvDuration(t *testing.T) {
	t.Run("valid duration", func(t *testing.T) {
		os.Setenv("TEST_DURATION", "45s")
		defer os.Unsetenv("TEST_DURATION")

		if result := getEnvDuration("TEST_DURATION", time.Minute); result != 45*time.Second {
			t.Errorf("getEnvDuration() = %v, want 45s", result)
		}
	})

	t.Run("invalid duration", func(t *testing.T) {
		os.Setenv("TEST_DURATION_INVALID", "soon")
		defer os.Unsetenv("TEST_DURATION_INVALID")

		if result := getEnvDuration("TEST_DURATION_INVALID", time.Minute); result != time.Minute {
			t.Errorf("getEnvDuration() = %v, want 1m (default)", result)
		}
	})
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value    string
		expected bool
	}{
		{"true", true},
		{"1", true},
		{"yes", true},
		{"TRUE", true},
		{"false", false},
		{"0", false},
		{"no", false},
		{"anything-else", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			os.Setenv("TEST_BOOL", tt.value)
			defer os.Unsetenv("TEST_BOOL")

			if result := getEnvBool("TEST_BOOL", !tt.expected); result != tt.expected {
				t.Errorf("getEnvBool(%q) = %v, want %v", tt.value, result, tt.expected)
			}
		})
	}
}

func TestGetEnvSlice(t *testing.T) {
	os.Setenv("TEST_SLICE", "https://a.example,https://b.example")
	defer os.Unsetenv("TEST_SLICE")

	result := getEnvSlice("TEST_SLICE", nil)
	if len(result) != 2 || result[0] != "https://a.example" || result[1] != "https://b.example" {
		t.Errorf("getEnvSlice() = %v", result)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.DefaultWarnPercent != 80 {
		t.Errorf("DefaultWarnPercent = %d, want 80", cfg.DefaultWarnPercent)
	}
	if cfg.WebhookMaxRetries != 5 {
		t.Errorf("WebhookMaxRetries = %d, want 5", cfg.WebhookMaxRetries)
	}
	if cfg.WebhookTimeout != 30*time.Second {
		t.Errorf("WebhookTimeout = %v, want 30s", cfg.WebhookTimeout)
	}
	if len(cfg.EncryptionKey) != 32 {
		t.Errorf("EncryptionKey length = %d, want 32", len(cfg.EncryptionKey))
	}
}

func TestLoad_WebhookTimeoutClamped(t *testing.T) {
	os.Setenv("WEBHOOK_TIMEOUT", "5m")
	defer os.Unsetenv("WEBHOOK_TIMEOUT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.WebhookTimeout != cfg.WebhookMaxTimeout {
		t.Errorf("WebhookTimeout = %v, want clamped to %v", cfg.WebhookTimeout, cfg.WebhookMaxTimeout)
	}
}

func TestLoad_InvalidWarnPercent(t *testing.T) {
	os.Setenv("DEFAULT_WARN_PERCENT", "150")
	defer os.Unsetenv("DEFAULT_WARN_PERCENT")

	if _, err := Load(); err == nil {
		t.Fatal("Load() should reject DEFAULT_WARN_PERCENT > 100")
	}
}

func TestLoad_ExplicitEncryptionKey(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	os.Setenv("ENCRYPTION_KEY", base64.StdEncoding.EncodeToString(key))
	defer os.Unsetenv("ENCRYPTION_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	for i := range key {
		if cfg.EncryptionKey[i] != key[i] {
			t.Fatal("EncryptionKey should match the provided base64 key")
		}
	}
}

func TestLoad_BadEncryptionKey(t *testing.T) {
	os.Setenv("ENCRYPTION_KEY", "too-short")
	defer os.Unsetenv("ENCRYPTION_KEY")

	if _, err := Load(); err == nil {
		t.Fatal("Load() should reject a malformed ENCRYPTION_KEY")
	}
}

func TestDeriveEncryptionKey(t *testing.T) {
	key1 := deriveEncryptionKey("secret-one")
	key2 := deriveEncryptionKey("secret-one")
	key3 := deriveEncryptionKey("secret-two")

	if len(key1) != 32 {
		t.Errorf("derived key length = %d, want 32", len(key1))
	}
	if string(key1) != string(key2) {
		t.Error("derivation should be deterministic")
	}
	if string(key1) == string(key3) {
		t.Error("different secrets should derive different keys")
	}
}
