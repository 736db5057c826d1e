package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DatabaseConfig is the Postgres connection config.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
	MaxIdle  int    `yaml:"max_idle"`
}

// DSN builds the lib/pq connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// ClaimsConfig tunes the claim race protocol.
type ClaimsConfig struct {
	// RaceWindowSeconds bounds how far back unresolved claims count as
	// part of the active race.
	RaceWindowSeconds int `yaml:"race_window_seconds"`
	// SimultaneousThresholdMs is the gap under which claims are treated
	// as a true tie and broken randomly.
	SimultaneousThresholdMs int `yaml:"simultaneous_threshold_ms"`
	// WaitSeconds is returned to clients as the delay before calling winner.
	WaitSeconds int `yaml:"wait_seconds"`
	// MaxCooldownMinutes caps caller-supplied cooldowns (24h default).
	MaxCooldownMinutes int `yaml:"max_cooldown_minutes"`
	// RetentionHours is the reaper horizon. Must exceed MaxCooldownMinutes
	// or the cooldown gate could miss delivered claims.
	RetentionHours int `yaml:"retention_hours"`
}

// Config torn-extension-server (HTTP API) configuration.
type Config struct {
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Database DatabaseConfig `yaml:"database"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Claims ClaimsConfig `yaml:"claims"`

	Cron struct {
		// Secret authenticates the external scheduler (Bearer token).
		Secret string `yaml:"secret"`
	} `yaml:"cron"`

	Licensing struct {
		// AllowedFactions is the comma-separated faction allowlist.
		AllowedFactions []int64 `yaml:"allowed_factions"`
		// Licenses maps faction ID -> extension decryption key.
		Licenses map[string]string `yaml:"licenses"`
	} `yaml:"licensing"`

	Settings struct {
		// GodUserID always resolves to manage permission (operator account).
		GodUserID int64 `yaml:"god_user_id"`
	} `yaml:"settings"`

	Monitor struct {
		Enabled        bool   `yaml:"enabled"`
		TornAPIBase    string `yaml:"torn_api_base"`
		TornAPIKey     string `yaml:"torn_api_key"`
		ConfigCacheTTL int    `yaml:"config_cache_ttl"` // seconds
	} `yaml:"monitor"`

	RateLimit struct {
		MaxAttempts   int `yaml:"max_attempts"`
		WindowMinutes int `yaml:"window_minutes"`
	} `yaml:"rate_limit"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load reads configuration from the environment, with an optional YAML
// file overlay (CONFIG_FILE) applied first so env vars win.
func Load() (*Config, error) {
	cfg := &Config{}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", defaultStr(cfg.HTTP.Addr, ":8080"))

	cfg.Database.Host = getEnv("DB_HOST", defaultStr(cfg.Database.Host, "localhost"))
	cfg.Database.Port = parseInt(getEnv("DB_PORT", ""), defaultInt(cfg.Database.Port, 5432))
	cfg.Database.User = getEnv("DB_USER", defaultStr(cfg.Database.User, "postgres"))
	cfg.Database.Password = getEnv("DB_PASSWORD", defaultStr(cfg.Database.Password, "postgres"))
	cfg.Database.Database = getEnv("DB_NAME", defaultStr(cfg.Database.Database, "torn_monitor"))
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", defaultStr(cfg.Database.SSLMode, "disable"))
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", ""), defaultInt(cfg.Database.MaxConns, 10))
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", ""), defaultInt(cfg.Database.MaxIdle, 5))

	cfg.Redis.Addr = getEnv("REDIS_ADDR", defaultStr(cfg.Redis.Addr, "localhost:6379"))
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", ""), cfg.Redis.DB)

	cfg.Claims.RaceWindowSeconds = parseInt(getEnv("CLAIM_RACE_WINDOW_SECONDS", ""), defaultInt(cfg.Claims.RaceWindowSeconds, 10))
	cfg.Claims.SimultaneousThresholdMs = parseInt(getEnv("CLAIM_SIMULTANEOUS_THRESHOLD_MS", ""), defaultInt(cfg.Claims.SimultaneousThresholdMs, 500))
	cfg.Claims.WaitSeconds = parseInt(getEnv("CLAIM_WAIT_SECONDS", ""), defaultInt(cfg.Claims.WaitSeconds, 3))
	cfg.Claims.MaxCooldownMinutes = parseInt(getEnv("CLAIM_MAX_COOLDOWN_MINUTES", ""), defaultInt(cfg.Claims.MaxCooldownMinutes, 1440))
	cfg.Claims.RetentionHours = parseInt(getEnv("CLAIM_RETENTION_HOURS", ""), defaultInt(cfg.Claims.RetentionHours, 48))

	cfg.Cron.Secret = getEnv("CRON_SECRET", cfg.Cron.Secret)

	if raw := getEnv("ALLOWED_FACTIONS", ""); raw != "" {
		cfg.Licensing.AllowedFactions = parseFactionList(raw)
	}
	if raw := getEnv("FACTION_LICENSES", ""); raw != "" {
		licenses := map[string]string{}
		if err := json.Unmarshal([]byte(raw), &licenses); err != nil {
			return nil, fmt.Errorf("failed to parse FACTION_LICENSES: %w", err)
		}
		cfg.Licensing.Licenses = licenses
	}
	if cfg.Licensing.Licenses == nil {
		cfg.Licensing.Licenses = map[string]string{}
	}

	if raw := getEnv("GOD_USER_ID", ""); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			cfg.Settings.GodUserID = id
		}
	}
	if cfg.Settings.GodUserID == 0 {
		cfg.Settings.GodUserID = 2065939
	}

	cfg.Monitor.Enabled = getEnv("MONITOR_ENABLED", boolStr(cfg.Monitor.Enabled)) == "true"
	cfg.Monitor.TornAPIBase = getEnv("TORN_API_BASE", defaultStr(cfg.Monitor.TornAPIBase, "https://api.torn.com"))
	cfg.Monitor.TornAPIKey = getEnv("TORN_API_KEY", cfg.Monitor.TornAPIKey)
	cfg.Monitor.ConfigCacheTTL = parseInt(getEnv("CONFIG_CACHE_TTL", ""), defaultInt(cfg.Monitor.ConfigCacheTTL, 30))

	cfg.RateLimit.MaxAttempts = parseInt(getEnv("RATE_LIMIT_MAX_ATTEMPTS", ""), defaultInt(cfg.RateLimit.MaxAttempts, 5))
	cfg.RateLimit.WindowMinutes = parseInt(getEnv("RATE_LIMIT_WINDOW_MINUTES", ""), defaultInt(cfg.RateLimit.WindowMinutes, 15))

	cfg.Log.Level = getEnv("LOG_LEVEL", defaultStr(cfg.Log.Level, "info"))
	cfg.Log.Format = getEnv("LOG_FORMAT", defaultStr(cfg.Log.Format, "json"))

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Claims.RaceWindowSeconds <= 0 {
		return fmt.Errorf("claim race window must be positive, got %d", c.Claims.RaceWindowSeconds)
	}
	if c.Claims.SimultaneousThresholdMs <= 0 {
		return fmt.Errorf("simultaneous threshold must be positive, got %d", c.Claims.SimultaneousThresholdMs)
	}
	if c.Claims.MaxCooldownMinutes <= 0 {
		return fmt.Errorf("max cooldown must be positive, got %d", c.Claims.MaxCooldownMinutes)
	}
	// The reaper must never delete rows the cooldown gate still reads.
	if c.Claims.RetentionHours*60 <= c.Claims.MaxCooldownMinutes {
		return fmt.Errorf("retention (%dh) must exceed max cooldown (%d minutes)",
			c.Claims.RetentionHours, c.Claims.MaxCooldownMinutes)
	}
	return nil
}

func parseFactionList(raw string) []int64 {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func defaultStr(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func defaultInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
