package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"TOR_HOST", "TOR_PORT", "TOR_POOL_FILE",
		"DATABASE_URL", "DATABASE_DRIVER", "DATABASE_MAX_CONNS",
		"CRAWLER_WORKERS", "CRAWL_BATCH_SIZE", "CRAWL_DELAY",
		"SCANNER_WORKERS", "SCANNER_TIMEOUT", "SCANNER_MAX_CONCURRENT", "SCANNER_PROBE_DELAY",
		"DIRSCAN_WORKERS", "DIRSCAN_TIMEOUT", "DIRSCAN_PATH_DELAY",
		"READAPI_ADDR", "METRICS_PORT",
	}
	for _, k := range keys {
		os.Unsetenv(k)
	}
}

func TestLoadMissingDatabaseURLFails(t *testing.T) {
	clearEnv(t)
	if _, err := Load(""); err == nil {
		t.Fatal("expected an error when DATABASE_URL is unset")
	}
}

func TestLoadAppliesSpecDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/onionrecon")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TorHost != "127.0.0.1" || cfg.TorPort != 9050 {
		t.Fatalf("expected default tor endpoint, got %s:%d", cfg.TorHost, cfg.TorPort)
	}
	if cfg.CrawlerWorkers != 3 || cfg.CrawlBatchSize != 3 || cfg.CrawlDelay != 2*time.Second {
		t.Fatalf("unexpected crawler defaults: %+v", cfg)
	}
	if cfg.DBMaxConns != 10 {
		t.Fatalf("expected default DBMaxConns 10, got %d", cfg.DBMaxConns)
	}
	if cfg.ScannerMaxConcurrent != 5 || cfg.ScannerProbeDelay != 200*time.Millisecond {
		t.Fatalf("unexpected scanner defaults: %+v", cfg)
	}
	if cfg.DirScanPathDelay != 1*time.Second {
		t.Fatalf("expected default dir-scan path delay 1s, got %v", cfg.DirScanPathDelay)
	}
	if cfg.TorAddr() != "127.0.0.1:9050" {
		t.Fatalf("unexpected TorAddr: %s", cfg.TorAddr())
	}
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/onionrecon")
	t.Setenv("TOR_HOST", "10.0.0.5")
	t.Setenv("TOR_PORT", "9150")
	t.Setenv("SCANNER_WORKERS", "8")
	t.Setenv("SCANNER_TIMEOUT", "15s")
	t.Setenv("DIRSCAN_PATH_DELAY", "3")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TorHost != "10.0.0.5" || cfg.TorPort != 9150 {
		t.Fatalf("expected overridden tor endpoint, got %s:%d", cfg.TorHost, cfg.TorPort)
	}
	if cfg.ScannerWorkers != 8 {
		t.Fatalf("expected overridden scanner workers 8, got %d", cfg.ScannerWorkers)
	}
	if cfg.ScannerTimeout != 15*time.Second {
		t.Fatalf("expected overridden scanner timeout 15s, got %v", cfg.ScannerTimeout)
	}
	if cfg.DirScanPathDelay != 3*time.Second {
		t.Fatalf("expected bare-integer duration to parse as seconds, got %v", cfg.DirScanPathDelay)
	}
}
