package api

import (
	"os"
	"strconv"
	"time"
)

// Config holds environment-driven settings for the HTTP surface.
type Config struct {
	Addr               string
	ActorHeader        string
	RateLimitPerMinute int
	MaxBodyBytes       int64
	DefaultAuditLimit  int
	ReadHeaderTimeout  time.Duration
	ShutdownTimeout    time.Duration
}

func LoadConfig() Config {
	return Config{
		Addr:               getenv("HTTP_ADDR", ":8080"),
		ActorHeader:        getenv("ACTOR_HEADER", "X-Actor-Id"),
		RateLimitPerMinute: getInt("RATE_LIMIT_PER_MINUTE", 120),
		MaxBodyBytes:       int64(getInt("MAX_BODY_BYTES", 1<<20)),
		DefaultAuditLimit:  getInt("AUDIT_DEFAULT_LIMIT", 50),
		ReadHeaderTimeout:  getDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ShutdownTimeout:    getDuration("HTTP_SHUTDOWN_TIMEOUT", 15*time.Second),
	}
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
