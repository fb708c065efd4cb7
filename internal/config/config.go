// Package config loads the per-binary settings described in spec §6: the
// Tor SOCKS5 endpoint, database connection string, and the timing/sizing
// knobs each subsystem worker needs, from environment variables with an
// optional file override.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full set of knobs a cmd/ binary needs at startup. Every
// field has a spec-mandated default (§9); nothing here reloads at runtime.
type Config struct {
	// TorHost and TorPort address the local SOCKS5 endpoint. Multiple
	// endpoints (a pool) are configured separately via TOR_POOL_FILE.
	TorHost     string
	TorPort     int
	TorPoolFile string

	// DatabaseURL is a Postgres DSN, or a filesystem path when DatabaseDriver
	// is "sqlite".
	DatabaseURL    string
	DatabaseDriver string
	DBMaxConns     int32

	// Crawler worker knobs.
	CrawlerWorkers   int
	CrawlBatchSize   int
	CrawlDelay       time.Duration
	ContentMaxBytes  int64
	LockLeaseMinutes int
	PrefetchPeriod   time.Duration
	PrefetchBatch    int
	PrefetchLowWater int
	FlushPeriod      time.Duration
	WriteBufferCap   int
	RespectRobots    bool
	CrawlUserAgent   string

	// Port-scan worker knobs (SCANNER_* env vars per spec §6).
	ScannerWorkers       int
	ScannerTimeout       time.Duration
	ScannerMaxConcurrent int
	ScannerProbeDelay    time.Duration

	// Dir-scan worker knobs.
	DirScanWorkers  int
	DirScanTimeout  time.Duration
	DirScanPathDelay time.Duration

	// Read API.
	ReadAPIAddr string

	// MetricsPort serves Prometheus metrics; 0 disables it.
	MetricsPort int
}

// defaults mirrors spec §9's size budget and §5/§6 numeric defaults.
func defaults() Config {
	return Config{
		TorHost:        "127.0.0.1",
		TorPort:        9050,
		DatabaseDriver: "postgres",
		DBMaxConns:     10,

		CrawlerWorkers:   3,
		CrawlBatchSize:   3,
		CrawlDelay:       2 * time.Second,
		ContentMaxBytes:  1 << 20,
		LockLeaseMinutes: 10,
		PrefetchPeriod:   5 * time.Second,
		PrefetchBatch:    50,
		PrefetchLowWater: 10,
		FlushPeriod:      2 * time.Second,
		WriteBufferCap:   50,
		RespectRobots:    false,
		CrawlUserAgent:   "*",

		ScannerWorkers:       3,
		ScannerTimeout:       10 * time.Second,
		ScannerMaxConcurrent: 5,
		ScannerProbeDelay:    200 * time.Millisecond,

		DirScanWorkers:   3,
		DirScanTimeout:   30 * time.Second,
		DirScanPathDelay: 1 * time.Second,

		ReadAPIAddr: ":8080",
		MetricsPort: 9090,
	}
}

// Load builds a Config from environment variables and, when configPath is
// set, a config file (any format viper supports — yaml, toml, json, env).
// An environment variable takes precedence over the same key in the file.
// configPath may be empty, in which case only the environment
// and the spec defaults apply, matching the bare env.GetEnv style the rest
// of the pack uses for binaries with no file-based config.
func Load(configPath string) (Config, error) {
	cfg := defaults()

	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	cfg.TorHost = getString(v, "TOR_HOST", cfg.TorHost)
	cfg.TorPort = getInt(v, "TOR_PORT", cfg.TorPort)
	cfg.TorPoolFile = getString(v, "TOR_POOL_FILE", cfg.TorPoolFile)

	cfg.DatabaseURL = getString(v, "DATABASE_URL", cfg.DatabaseURL)
	cfg.DatabaseDriver = getString(v, "DATABASE_DRIVER", cfg.DatabaseDriver)
	cfg.DBMaxConns = int32(getInt(v, "DATABASE_MAX_CONNS", int(cfg.DBMaxConns)))

	cfg.CrawlerWorkers = getInt(v, "CRAWLER_WORKERS", cfg.CrawlerWorkers)
	cfg.CrawlBatchSize = getInt(v, "CRAWL_BATCH_SIZE", cfg.CrawlBatchSize)
	cfg.CrawlDelay = getDuration(v, "CRAWL_DELAY", cfg.CrawlDelay)
	cfg.ContentMaxBytes = int64(getInt(v, "CONTENT_MAX_BYTES", int(cfg.ContentMaxBytes)))
	cfg.LockLeaseMinutes = getInt(v, "LOCK_LEASE_MINUTES", cfg.LockLeaseMinutes)
	cfg.PrefetchPeriod = getDuration(v, "PREFETCH_PERIOD", cfg.PrefetchPeriod)
	cfg.PrefetchBatch = getInt(v, "PREFETCH_BATCH", cfg.PrefetchBatch)
	cfg.PrefetchLowWater = getInt(v, "PREFETCH_LOW_WATER", cfg.PrefetchLowWater)
	cfg.FlushPeriod = getDuration(v, "FLUSH_PERIOD", cfg.FlushPeriod)
	cfg.WriteBufferCap = getInt(v, "WRITE_BUFFER_CAP", cfg.WriteBufferCap)
	cfg.RespectRobots = getBool(v, "RESPECT_ROBOTS", cfg.RespectRobots)
	cfg.CrawlUserAgent = getString(v, "CRAWL_USER_AGENT", cfg.CrawlUserAgent)

	cfg.ScannerWorkers = getInt(v, "SCANNER_WORKERS", cfg.ScannerWorkers)
	cfg.ScannerTimeout = getDuration(v, "SCANNER_TIMEOUT", cfg.ScannerTimeout)
	cfg.ScannerMaxConcurrent = getInt(v, "SCANNER_MAX_CONCURRENT", cfg.ScannerMaxConcurrent)
	cfg.ScannerProbeDelay = getDuration(v, "SCANNER_PROBE_DELAY", cfg.ScannerProbeDelay)

	cfg.DirScanWorkers = getInt(v, "DIRSCAN_WORKERS", cfg.DirScanWorkers)
	cfg.DirScanTimeout = getDuration(v, "DIRSCAN_TIMEOUT", cfg.DirScanTimeout)
	cfg.DirScanPathDelay = getDuration(v, "DIRSCAN_PATH_DELAY", cfg.DirScanPathDelay)

	cfg.ReadAPIAddr = getString(v, "READAPI_ADDR", cfg.ReadAPIAddr)
	cfg.MetricsPort = getInt(v, "METRICS_PORT", cfg.MetricsPort)

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config: DATABASE_URL is required")
	}
	return cfg, nil
}

// TorAddr is the dial address for the primary (non-pooled) SOCKS5 endpoint.
func (c Config) TorAddr() string {
	return fmt.Sprintf("%s:%d", c.TorHost, c.TorPort)
}

// getString reads key from viper if set there (env or file), else returns
// fallback. viper.IsSet is unreliable across env/file sources for string
// zero-values, so an explicit empty-string check backs it up.
func getString(v *viper.Viper, key, fallback string) string {
	if s := v.GetString(key); s != "" {
		return s
	}
	return fallback
}

func getInt(v *viper.Viper, key string, fallback int) int {
	if s := v.GetString(key); s != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n
		}
	}
	return fallback
}

func getBool(v *viper.Viper, key string, fallback bool) bool {
	s := strings.TrimSpace(v.GetString(key))
	if s == "" {
		return fallback
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(v *viper.Viper, key string, fallback time.Duration) time.Duration {
	s := strings.TrimSpace(v.GetString(key))
	if s == "" {
		return fallback
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
