package ratelimit

import (
	"strings"
)

// unlimited is returned for endpoints that are never limited
var unlimited = EndpointConfig{Path: "unlimited"}

// MatchEndpoint matches a request path and method to an endpoint configuration.
// Returns the matching EndpointConfig or nil if no match is found.
// Path matching supports prefix matching (e.g., "/api/v1/ai/" matches "/api/v1/ai/analyze").
func MatchEndpoint(path string, method string, configs []EndpointConfig) *EndpointConfig {
	// Probes and scrapes are unlimited
	if method == "GET" && (path == "/health" || path == "/metrics") {
		return &unlimited
	}

	methodMatches := func(c *EndpointConfig) bool {
		return c.Method == "" || c.Method == method
	}

	// Try exact match first
	for i := range configs {
		config := &configs[i]
		if config.Path == path && methodMatches(config) {
			return config
		}
	}

	// Then prefix match for paths ending with "/"
	for i := range configs {
		config := &configs[i]
		if methodMatches(config) && strings.HasSuffix(config.Path, "/") && strings.HasPrefix(path, config.Path) {
			return config
		}
	}

	return nil
}
