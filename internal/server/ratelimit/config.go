package ratelimit

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EndpointConfig represents rate limiting configuration for a group of endpoints.
type EndpointConfig struct {
	Path   string        // Endpoint path pattern (prefix match when it ends in "/")
	Method string        // HTTP method; empty matches any method
	Limit  int           // Maximum requests per window
	Window time.Duration // Time window
	Burst  int           // Burst capacity (defaults to Limit if 0)
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	CleanupInterval time.Duration
	Whitelist       map[string]bool
	Blacklist       map[string]bool
	EndpointConfigs []EndpointConfig
}

// LoadConfig loads rate limiting configuration from environment variables.
func LoadConfig() *Config {
	return loadConfig(os.Getenv)
}

func loadConfig(getenv func(string) string) *Config {
	enabled := getEnvBool(getenv, "RATE_LIMIT_ENABLED", true)
	if !enabled {
		return &Config{Enabled: false}
	}

	aiLimit := getEnvInt(getenv, "RATE_LIMIT_AI_LIMIT", 30)
	aiWindow := getEnvDuration(getenv, "RATE_LIMIT_AI_WINDOW", time.Minute)
	authLimit := getEnvInt(getenv, "RATE_LIMIT_AUTH_LIMIT", 10)
	authWindow := getEnvDuration(getenv, "RATE_LIMIT_AUTH_WINDOW", time.Minute)

	return &Config{
		Enabled:         true,
		DefaultLimit:    getEnvInt(getenv, "RATE_LIMIT_DEFAULT_LIMIT", 300),
		DefaultWindow:   getEnvDuration(getenv, "RATE_LIMIT_DEFAULT_WINDOW", time.Minute),
		CleanupInterval: getEnvDuration(getenv, "RATE_LIMIT_CLEANUP_INTERVAL", 10*time.Minute),
		Whitelist:       parseIPList(getenv("RATE_LIMIT_WHITELIST")),
		Blacklist:       parseIPList(getenv("RATE_LIMIT_BLACKLIST")),
		EndpointConfigs: DefaultEndpointConfigs(aiLimit, aiWindow, authLimit, authWindow),
	}
}

// DefaultEndpointConfigs returns the endpoint-specific configurations.
// Model-backed routes and credential checks get their own, stricter buckets.
func DefaultEndpointConfigs(aiLimit int, aiWindow time.Duration, authLimit int, authWindow time.Duration) []EndpointConfig {
	return []EndpointConfig{
		{Path: "/api/v1/ai/", Method: "POST", Limit: aiLimit, Window: aiWindow, Burst: max(aiLimit/5, 1)},
		{Path: "/api/v1/auth/login", Method: "POST", Limit: authLimit, Window: authWindow},
		{Path: "/api/v1/auth/signup", Method: "POST", Limit: authLimit, Window: authWindow},
	}
}

func getEnvInt(getenv func(string) string, key string, defaultValue int) int {
	if value := getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(getenv func(string) string, key string, defaultValue bool) bool {
	if value := getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(getenv func(string) string, key string, defaultValue time.Duration) time.Duration {
	if value := getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// parseIPList parses a comma-separated list of IP addresses into a set.
func parseIPList(list string) map[string]bool {
	result := make(map[string]bool)
	for _, ip := range strings.Split(list, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			result[ip] = true
		}
	}
	return result
}
