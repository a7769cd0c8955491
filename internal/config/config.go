// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all launch-time settings. Values come from the environment
// (a .env file is autoloaded by the server entrypoint) with sane defaults.
type Config struct {
	// Addr is the listen address, e.g. ":8000".
	Addr string

	// ReconnectGrace is how long a lobby player may stay disconnected
	// before being removed.
	ReconnectGrace time.Duration

	// SessionCleanupGrace is how long an empty or finished session is kept
	// before being destroyed.
	SessionCleanupGrace time.Duration

	// CORSOrigins is the allow-list for the HTTP surface and the origin
	// patterns accepted on WebSocket upgrades.
	CORSOrigins []string
}

// Load reads configuration from the environment.
func Load() *Config {
	addr := ":8000"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	return &Config{
		Addr:                addr,
		ReconnectGrace:      time.Duration(getEnvInt("RECONNECT_GRACE_SECONDS", 10)) * time.Second,
		SessionCleanupGrace: time.Duration(getEnvInt("SESSION_CLEANUP_GRACE_SECONDS", 20)) * time.Second,
		CORSOrigins:         getEnvList("CORS_ORIGINS", []string{"http://localhost:3000", "http://frontend:3000"}),
	}
}

// OriginPatterns returns the CORS origins as host patterns suitable for
// websocket.AcceptOptions (scheme stripped).
func (c *Config) OriginPatterns() []string {
	patterns := make([]string, 0, len(c.CORSOrigins))
	for _, origin := range c.CORSOrigins {
		host := origin
		if i := strings.Index(host, "://"); i >= 0 {
			host = host[i+3:]
		}
		patterns = append(patterns, host)
	}
	return patterns
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}
