// Package config loads reconweb's configuration from environment
// variables with sane defaults: one sub-struct per concern, no
// configuration library.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	HTTP      HTTPConfig
	Discovery DiscoveryConfig
	Extract   ExtractConfig
	Reconstruct ReconstructConfig
	Version   VersionConfig
	Crawl     CrawlConfig
	Capture   CaptureConfig
	WAL       WALConfig
	Cache     CacheConfig
	Log       LogConfig
	Progress  ProgressServerConfig
	Notify    NotifyConfig
}

// HTTPConfig controls the browser-identifying HTTP client.
type HTTPConfig struct {
	Timeout      time.Duration // default: 25s
	Retries      int           // default: 2
	BackoffBase  time.Duration // default: 1s
	UserAgent    string
	Proxy        string
	Insecure     bool // skip TLS verification, useful behind an interception proxy
}

// DiscoveryConfig controls source-map discovery.
type DiscoveryConfig struct {
	ProbeTimeout time.Duration // default: 10s
}

// ExtractConfig controls the source-map parser/extractor.
type ExtractConfig struct {
	MaxMapBytes int64 // default: 100 MB
}

// ReconstructConfig controls the safe reconstructor.
type ReconstructConfig struct {
	OutputDir          string // default: "recovered"
	ManifestFileLimit  int    // default: 100 — files listed per bundle manifest
}

// VersionConfig controls the version detector.
type VersionConfig struct {
	EnableBannerDetection bool // default: false; the Detector has no banner strategy and does not read this flag
}

// CrawlConfig controls the crawl queue + worker pool.
type CrawlConfig struct {
	MaxPages          int           // default: 200
	MaxDepth          int           // default: 5
	Concurrency       int           // default: 5
	PageRetries       int           // default: 2
	PageTimeout       time.Duration // default: 30s
	SameSiteSubdomains []string     // default: www, cdn, static, assets, images, media
	RatePerSecond     float64       // default: 4 — per-origin token bucket
	RateBurst         int           // default: 8
	Stealth           bool          // default: true — inject go-rod/stealth evasion JS on every crawled page
}

// CaptureConfig controls the API/static capture engines.
type CaptureConfig struct {
	APIPatterns     []string // default: **/api/**, **/graphql**
	MaxAssetBytes   int64    // default: 50 MB
	ResponseHeaderAllowlist []string
}

// WALConfig controls the write-ahead log and snapshot compaction.
type WALConfig struct {
	CompactThreshold int // default: 500 events since last compaction
}

// CacheConfig controls the content-addressed fetch cache.
type CacheConfig struct {
	Disabled   bool
	MaxEntries int // default: 0 (unbounded); set to bound memory on very large runs
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// ProgressServerConfig controls the optional read-only progress HTTP
// endpoint. Disabled by default.
type ProgressServerConfig struct {
	Enabled bool
	Addr    string // default: "127.0.0.1:4577"
}

// NotifyConfig controls optional phase-completion webhook delivery.
type NotifyConfig struct {
	WebhookURL    string
	WebhookSecret string
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Timeout:     envDurationOr("RECONWEB_HTTP_TIMEOUT", 25*time.Second),
			Retries:     envIntOr("RECONWEB_HTTP_RETRIES", 2),
			BackoffBase: envDurationOr("RECONWEB_HTTP_BACKOFF_BASE", 1*time.Second),
			UserAgent:   envOr("RECONWEB_USER_AGENT", defaultUserAgent),
			Proxy:       os.Getenv("RECONWEB_PROXY"),
			Insecure:    envBoolOr("RECONWEB_INSECURE", false),
		},
		Discovery: DiscoveryConfig{
			ProbeTimeout: envDurationOr("RECONWEB_PROBE_TIMEOUT", 10*time.Second),
		},
		Extract: ExtractConfig{
			MaxMapBytes: envInt64Or("RECONWEB_MAX_MAP_BYTES", 100<<20),
		},
		Reconstruct: ReconstructConfig{
			OutputDir:         envOr("RECONWEB_OUT", "recovered"),
			ManifestFileLimit: envIntOr("RECONWEB_MANIFEST_FILE_LIMIT", 100),
		},
		Version: VersionConfig{
			EnableBannerDetection: envBoolOr("RECONWEB_ENABLE_BANNER_DETECTION", false),
		},
		Crawl: CrawlConfig{
			MaxPages:    envIntOr("RECONWEB_MAX_PAGES", 200),
			MaxDepth:    envIntOr("RECONWEB_MAX_DEPTH", 5),
			Concurrency: envIntOr("RECONWEB_CONCURRENCY", 5),
			PageRetries: envIntOr("RECONWEB_PAGE_RETRIES", 2),
			PageTimeout: envDurationOr("RECONWEB_PAGE_TIMEOUT", 30*time.Second),
			SameSiteSubdomains: envSliceOr("RECONWEB_SAME_SITE_SUBDOMAINS", []string{
				"www", "cdn", "static", "assets", "images", "media",
			}),
			RatePerSecond: envFloatOr("RECONWEB_RATE_RPS", 4.0),
			RateBurst:     envIntOr("RECONWEB_RATE_BURST", 8),
			Stealth:       envBoolOr("RECONWEB_CRAWL_STEALTH", true),
		},
		Capture: CaptureConfig{
			APIPatterns: envSliceOr("RECONWEB_API_PATTERNS", []string{
				"**/api/**", "**/graphql**",
			}),
			MaxAssetBytes: envInt64Or("RECONWEB_MAX_ASSET_BYTES", 50<<20),
			ResponseHeaderAllowlist: envSliceOr("RECONWEB_RESPONSE_HEADER_ALLOWLIST", []string{
				"content-type", "cache-control", "etag", "last-modified", "set-cookie",
			}),
		},
		WAL: WALConfig{
			CompactThreshold: envIntOr("RECONWEB_WAL_COMPACT_THRESHOLD", 500),
		},
		Cache: CacheConfig{
			Disabled:   envBoolOr("RECONWEB_CACHE_DISABLED", false),
			MaxEntries: envIntOr("RECONWEB_CACHE_MAX_ENTRIES", 0),
		},
		Log: LogConfig{
			Level:  envOr("RECONWEB_LOG_LEVEL", "info"),
			Format: envOr("RECONWEB_LOG_FORMAT", "json"),
		},
		Progress: ProgressServerConfig{
			Enabled: envBoolOr("RECONWEB_PROGRESS_ENABLED", false),
			Addr:    envOr("RECONWEB_PROGRESS_ADDR", "127.0.0.1:4577"),
		},
		Notify: NotifyConfig{
			WebhookURL:    os.Getenv("RECONWEB_WEBHOOK_URL"),
			WebhookSecret: os.Getenv("RECONWEB_WEBHOOK_SECRET"),
		},
	}
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envInt64Or(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
