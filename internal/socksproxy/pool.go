// Package socksproxy routes outbound requests through a rotating pool of
// SOCKS5 endpoints (a local tor daemon, or a set of them), fronting uTLS
// fingerprinting and returning results the way the rest of this module
// expects: a populated Result even on a failed fetch, not a bare error.
package socksproxy

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Endpoint is one SOCKS5 listener in the pool, identified by its host:port
// address (e.g. "127.0.0.1:9050" for a local tor daemon).
type Endpoint struct {
	Addr          string
	Failures      int
	Successes     int
	LastUsed      time.Time
	Disabled      bool
	DisabledUntil time.Time
}

// Pool round-robins across a set of SOCKS5 endpoints, temporarily disabling
// ones that accumulate too many consecutive failures.
type Pool struct {
	mu           sync.Mutex
	endpoints    []*Endpoint
	currentIndex int
	maxFailures  int
	cooldown     time.Duration
}

// PoolConfig tunes a Pool.
type PoolConfig struct {
	// MaxFailures is the number of consecutive failures before an endpoint
	// is disabled for Cooldown. Defaults to 3.
	MaxFailures int
	// Cooldown is how long a disabled endpoint is skipped. Defaults to 30s.
	Cooldown time.Duration
}

// NewPool creates an empty Pool. Use Add or LoadFile to populate it.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Pool{
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
	}
}

// LoadFile reads one endpoint address per line from path, skipping blank
// lines and lines starting with "#".
func (p *Pool) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("socksproxy: open endpoint file: %w", err)
	}
	defer f.Close()

	var addrs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addrs = append(addrs, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("socksproxy: read endpoint file: %w", err)
	}
	p.Add(addrs...)
	return nil
}

// Add registers one or more endpoint addresses. Each may be a bare
// "host:port" or prefixed with "socks5://"; the prefix is stripped.
func (p *Pool) Add(addrs ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range addrs {
		a = strings.TrimSpace(a)
		a = strings.TrimPrefix(a, "socks5://")
		a = strings.TrimPrefix(a, "socks5h://")
		if a == "" {
			continue
		}
		p.endpoints = append(p.endpoints, &Endpoint{Addr: a})
	}
}

// Next returns the address of the next usable endpoint in round-robin
// order, skipping any still in cooldown. Returns "" if the pool is empty or
// every endpoint is currently disabled.
func (p *Pool) Next() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.endpoints)
	if n == 0 {
		return ""
	}

	now := time.Now()
	for i := 0; i < n; i++ {
		idx := (p.currentIndex + i) % n
		ep := p.endpoints[idx]
		if ep.Disabled && now.After(ep.DisabledUntil) {
			ep.Disabled = false
			ep.Failures = 0
		}
		if !ep.Disabled {
			p.currentIndex = (idx + 1) % n
			ep.LastUsed = now
			return ep.Addr
		}
	}
	return ""
}

// MarkSuccess resets an endpoint's failure count after a successful dial.
func (p *Pool) MarkSuccess(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ep := p.find(addr); ep != nil {
		ep.Successes++
		ep.Failures = 0
	}
}

// MarkFailure records a failed dial, disabling the endpoint for Cooldown
// once it has accumulated MaxFailures consecutive failures.
func (p *Pool) MarkFailure(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ep := p.find(addr)
	if ep == nil {
		return
	}
	ep.Failures++
	if ep.Failures >= p.maxFailures {
		ep.Disabled = true
		ep.DisabledUntil = time.Now().Add(p.cooldown)
	}
}

// Len reports how many endpoints are registered (a single-endpoint pool
// behaves like a fixed dialer).
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}

func (p *Pool) find(addr string) *Endpoint {
	for _, ep := range p.endpoints {
		if ep.Addr == addr {
			return ep
		}
	}
	return nil
}
