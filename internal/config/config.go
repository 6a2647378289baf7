// Package config loads engine configuration with the layering
// defaults -> settings.json -> environment, validated once at startup.
package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all engine configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr string `json:"listen_addr"`
	DBPath     string `json:"db_path"`
	LogLevel   string `json:"log_level"`
	PoolSize   int    `json:"pool_size"`

	// VaultKeyHex is the 64-hex-character (32-byte) AES key. Missing or
	// malformed is a startup-time fatal error.
	VaultKeyHex string `json:"vault_key_hex"`

	PlatformBaseURL string `json:"platform_base_url"`

	RateWindowMS int `json:"rate_window_ms"`
	RateLimit    int `json:"rate_limit"`

	RetryMax       int  `json:"retry_max"`
	RetryBaseMS    int  `json:"retry_base_ms"`
	RetryMaxMS     int  `json:"retry_max_ms"`
	JobAttempts    int  `json:"job_attempts"`
	JobBackoffMS   int  `json:"job_backoff_ms"`
	SchedulerStart bool `json:"scheduler_start"`

	GameClaimURL string `json:"game_claim_url"`
	GameAPIKey   string `json:"game_api_key"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:     ":4200",
		DBPath:         filepath.Join(toolDir(), "fartool.db"),
		LogLevel:       "info",
		PoolSize:       8,
		RateWindowMS:   1000,
		RateLimit:      5,
		RetryMax:       3,
		RetryBaseMS:    300,
		RetryMaxMS:     5000,
		JobAttempts:    3,
		JobBackoffMS:   1000,
		SchedulerStart: true,
	}
}

func toolDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fartool"
	}
	return filepath.Join(home, ".fartool")
}

func settingsPath() string {
	return filepath.Join(toolDir(), "settings.json")
}

// Load builds the config from all layers and validates it.
func Load() (Config, error) {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FARTOOL_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("FARTOOL_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("FARTOOL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FARTOOL_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("FARTOOL_VAULT_KEY"); v != "" {
		cfg.VaultKeyHex = v
	}
	if v := os.Getenv("FARTOOL_PLATFORM_BASE_URL"); v != "" {
		cfg.PlatformBaseURL = v
	}
	if v := os.Getenv("FARTOOL_GAME_CLAIM_URL"); v != "" {
		cfg.GameClaimURL = v
	}
	if v := os.Getenv("FARTOOL_GAME_API_KEY"); v != "" {
		cfg.GameAPIKey = v
	}
	if v := os.Getenv("FARTOOL_SCHEDULER"); v != "" {
		cfg.SchedulerStart = v == "true" || v == "1"
	}
}

// Validate fails fast on configuration the engine cannot run with.
func (c Config) Validate() error {
	if c.VaultKeyHex == "" {
		return fmt.Errorf("vault key is required (set FARTOOL_VAULT_KEY or vault_key_hex)")
	}
	key, err := hex.DecodeString(c.VaultKeyHex)
	if err != nil {
		return fmt.Errorf("vault key is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return fmt.Errorf("vault key must decode to exactly 32 bytes, got %d", len(key))
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("pool_size must be at least 1, got %d", c.PoolSize)
	}
	if c.RateWindowMS < 1 || c.RateLimit < 1 {
		return fmt.Errorf("rate_window_ms and rate_limit must be positive")
	}
	if c.RetryMax < 0 || c.RetryBaseMS < 1 || c.RetryMaxMS < c.RetryBaseMS {
		return fmt.Errorf("retry settings invalid: max=%d base=%dms cap=%dms", c.RetryMax, c.RetryBaseMS, c.RetryMaxMS)
	}
	if c.JobAttempts < 1 {
		return fmt.Errorf("job_attempts must be at least 1, got %d", c.JobAttempts)
	}
	return nil
}

// Durations exposed as typed accessors.

func (c Config) RateWindow() time.Duration { return time.Duration(c.RateWindowMS) * time.Millisecond }
func (c Config) RetryBase() time.Duration  { return time.Duration(c.RetryBaseMS) * time.Millisecond }
func (c Config) RetryCap() time.Duration   { return time.Duration(c.RetryMaxMS) * time.Millisecond }
func (c Config) JobBackoff() time.Duration { return time.Duration(c.JobBackoffMS) * time.Millisecond }
