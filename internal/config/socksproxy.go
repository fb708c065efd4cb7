package config

import (
	"fmt"

	"github.com/onionrecon/core/internal/socksproxy"
)

// OpenSOCKSPool builds a socksproxy.Pool seeded from c.TorAddr plus, when
// set, every endpoint listed in c.TorPoolFile — letting an operator run
// more than one Tor daemon behind a single crawl without touching the
// primary TOR_HOST/TOR_PORT pair.
func OpenSOCKSPool(c Config) (*socksproxy.Pool, error) {
	pool := socksproxy.NewPool(socksproxy.PoolConfig{})
	pool.Add(c.TorAddr())
	if c.TorPoolFile != "" {
		if err := pool.LoadFile(c.TorPoolFile); err != nil {
			return nil, fmt.Errorf("config: load tor pool file: %w", err)
		}
	}
	return pool, nil
}
