// Package config provides configuration loading and validation for the server and CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Defaults applied before the config file and environment
const (
	DefaultPort        = 8080
	DefaultLLMModel    = "gemini-2.5-flash"
	DefaultLLMTimeout  = 60 * time.Second
	DefaultTemperature = 0.1
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "json"
)

// Duration is a time.Duration that reads JSON as "90s" style strings or as seconds
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*d = Duration(time.Duration(v * float64(time.Second)))
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration: %s", string(data))
	}
	return nil
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config represents the server configuration.
// Values come from defaults, then an optional JSON file, then environment variables.
type Config struct {
	Port        int    `json:"port,omitempty"`
	DatabaseURL string `json:"database_url,omitempty"` // PostgreSQL connection URL
	RedisURL    string `json:"redis_url,omitempty"`    // enables the Redis document lock
	MemoryStore bool   `json:"memory_store,omitempty"` // keep documents in process instead of Postgres

	APIKey         string   `json:"api_key,omitempty"` // Gemini API key
	LLMModel       string   `json:"llm_model,omitempty"`
	LLMTimeout     Duration `json:"llm_timeout,omitempty"`
	LLMTemperature float32  `json:"llm_temperature,omitempty"`
	BreakerEnabled bool     `json:"llm_breaker_enabled,omitempty"`

	// BrowserFallback renders thin company pages in headless Chrome
	BrowserFallback bool `json:"browser_fallback,omitempty"`

	LogLevel     string `json:"log_level,omitempty"`
	LogFormat    string `json:"log_format,omitempty"` // json or pretty
	CookieSecure bool   `json:"cookie_secure,omitempty"`
	// CORSOrigins lists browser origins allowed to call the API with credentials; "*" allows any
	CORSOrigins []string `json:"cors_origins,omitempty"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Port:           DefaultPort,
		LLMModel:       DefaultLLMModel,
		LLMTimeout:     Duration(DefaultLLMTimeout),
		LLMTemperature: DefaultTemperature,
		BreakerEnabled: true,
		LogLevel:       DefaultLogLevel,
		LogFormat:      DefaultLogFormat,
	}
}

// LoadConfig loads configuration from a JSON file on top of Default.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Load builds the effective configuration: the file at path (if any), then the environment.
func Load(path string) (*Config, error) {
	base := Default()
	if path != "" {
		fileCfg, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		base = *fileCfg
	}

	cfg, err := ApplyEnv(base, os.Getenv)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides base with any environment variables that are set
func ApplyEnv(base Config, getenv func(string) string) (Config, error) {
	cfg := base
	var err error

	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	setString("DATABASE_URL", &cfg.DatabaseURL)
	setString("REDIS_URL", &cfg.RedisURL)
	setString("GEMINI_API_KEY", &cfg.APIKey)
	setString("LLM_MODEL", &cfg.LLMModel)
	setString("LOG_LEVEL", &cfg.LogLevel)
	setString("LOG_FORMAT", &cfg.LogFormat)

	if v := getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}
	if v := getenv("PORT"); v != "" {
		if cfg.Port, err = strconv.Atoi(v); err != nil {
			return cfg, fmt.Errorf("invalid PORT: %v", err)
		}
	}
	if v := getenv("LLM_TIMEOUT"); v != "" {
		d, perr := time.ParseDuration(v)
		if perr != nil {
			return cfg, fmt.Errorf("invalid LLM_TIMEOUT: %v", perr)
		}
		cfg.LLMTimeout = Duration(d)
	}
	if v := getenv("LLM_TEMPERATURE"); v != "" {
		t, perr := strconv.ParseFloat(v, 32)
		if perr != nil {
			return cfg, fmt.Errorf("invalid LLM_TEMPERATURE: %v", perr)
		}
		cfg.LLMTemperature = float32(t)
	}

	setBool := func(key string, dst *bool) error {
		v := getenv(key)
		if v == "" {
			return nil
		}
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			return fmt.Errorf("invalid %s: %v", key, perr)
		}
		*dst = b
		return nil
	}
	if err := setBool("LLM_BREAKER_ENABLED", &cfg.BreakerEnabled); err != nil {
		return cfg, err
	}
	if err := setBool("COOKIE_SECURE", &cfg.CookieSecure); err != nil {
		return cfg, err
	}
	if err := setBool("MEMORY_STORE", &cfg.MemoryStore); err != nil {
		return cfg, err
	}
	if err := setBool("BROWSER_FALLBACK", &cfg.BrowserFallback); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks that the configuration has valid values.
// Required connection settings are checked by the commands that need them.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config error: 'port' must be between 1 and 65535, got %d", c.Port)
	}
	if c.LLMTimeout <= 0 {
		return fmt.Errorf("config error: 'llm_timeout' must be positive")
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		return fmt.Errorf("config error: 'llm_temperature' must be between 0 and 2, got %v", c.LLMTemperature)
	}
	switch c.LogFormat {
	case "json", "pretty":
	default:
		return fmt.Errorf("config error: 'log_format' must be json or pretty, got %q", c.LogFormat)
	}
	return nil
}

// Timeout returns the LLM call timeout
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.LLMTimeout)
}
