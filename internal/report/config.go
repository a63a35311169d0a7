package report

import (
	"os"
	"strconv"
	"time"
)

// Config holds environment-driven settings for control-sheet exports.
type Config struct {
	Bucket            string
	SignURLTTL        time.Duration
	RetentionPeriod   time.Duration
	MaxConcurrentJobs int
	MaxQueueDepth     int
	MaxRetries        int
	RetryBaseDelay    time.Duration
	QueueRetryAfter   time.Duration
	PDFEnabled        bool
	PDFChromiumPath   string
	PDFTimeout        time.Duration
	PDFTimeZone       string
	AuditRows         int
}

func LoadConfig() Config {
	return Config{
		Bucket:            getenv("EXPORT_BUCKET", "doccontrol-exports"),
		SignURLTTL:        getDuration("SIGN_URL_TTL", 10*time.Minute),
		RetentionPeriod:   getDuration("EXPORT_RETENTION", 24*time.Hour),
		MaxConcurrentJobs: getInt("EXPORT_MAX_CONCURRENT", 2),
		MaxQueueDepth:     getInt("EXPORT_MAX_QUEUE_DEPTH", 20),
		MaxRetries:        getInt("EXPORT_MAX_RETRIES", 3),
		RetryBaseDelay:    getDuration("EXPORT_RETRY_BASE_DELAY", time.Second),
		QueueRetryAfter:   getDuration("EXPORT_QUEUE_RETRY_AFTER", 30*time.Second),
		PDFEnabled:        getBool("PDF_ENABLED", true),
		PDFChromiumPath:   getenv("PDF_CHROMIUM_PATH", ""),
		PDFTimeout:        getDuration("PDF_TIMEOUT", 15*time.Second),
		PDFTimeZone:       getenv("PDF_TIMEZONE", "UTC"),
		AuditRows:         getInt("EXPORT_AUDIT_ROWS", 25),
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

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
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
