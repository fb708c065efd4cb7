package socksproxy

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"

	"github.com/onionrecon/core/internal/fingerprint"
	"github.com/onionrecon/core/internal/metrics"
	"github.com/onionrecon/core/pkg/httpclient"
	"github.com/onionrecon/core/pkg/useragent"
)

const (
	defaultTimeout   = 45 * time.Second
	defaultMaxBody   = 1 << 20 // 1MB, the crawler's page content cap
	defaultRetries   = 2
	defaultDialTimeout = 30 * time.Second
)

// Config configures a Client.
type Config struct {
	// Pool is the SOCKS5 endpoint pool to dial through. Required.
	Pool *Pool
	// Fingerprint selects the TLS ClientHello presented on HTTPS requests.
	// Defaults to ProfileGo (plain Go TLS stack — most onion services don't
	// speak TLS at all, and those that do rarely justify browser mimicry).
	Fingerprint fingerprint.Profile
	// Timeout bounds a single request. Defaults to 45s.
	Timeout time.Duration
	// MaxBodyBytes caps how much of a response body is read. Defaults to
	// 1MB. A response larger than this is truncated, not rejected.
	MaxBodyBytes int64
	// Retries is how many additional attempts follow a failed request.
	// Defaults to 2 (spec retry policy for transient SOCKS failures).
	Retries int
	// UserAgents rotates a User-Agent header onto every request that
	// doesn't already carry one. Defaults to useragent.DefaultPool so
	// requests across domains don't all present an identical client
	// fingerprint at the HTTP layer.
	UserAgents []string
}

// Result is the outcome of a single proxied request. Following the
// teacher's fetch contract, a failed request is not a Go error — it is a
// Result with Success false and Error populated, so callers can persist the
// attempt either way without special-casing network failures.
type Result struct {
	Success    bool
	StatusCode int
	Headers    http.Header
	Body       []byte
	Truncated  bool
	Error      string
	Duration   time.Duration
}

// Client issues GET/HEAD requests and raw TCP connects through a rotating
// SOCKS5 endpoint pool, with uTLS fingerprinting on the TLS path.
type Client struct {
	cfg       Config
	dialer    proxy.Dialer
	transport http.RoundTripper
	http      *httpclient.Client
	uaPool    *useragent.Pool
}

// New builds a Client. The pool must have at least one endpoint registered
// before any request is made.
func New(cfg Config) (*Client, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("socksproxy: Config.Pool is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBody
	}
	if cfg.Retries <= 0 {
		cfg.Retries = defaultRetries
	}
	if string(cfg.Fingerprint) == "" {
		cfg.Fingerprint = fingerprint.ProfileGo
	}

	c := &Client{cfg: cfg}

	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		endpoint := cfg.Pool.Next()
		if endpoint == "" {
			return nil, fmt.Errorf("socksproxy: no usable SOCKS5 endpoint in pool")
		}

		d, err := proxy.SOCKS5("tcp", endpoint, nil, &net.Dialer{Timeout: defaultDialTimeout})
		if err != nil {
			return nil, fmt.Errorf("socksproxy: build dialer for %s: %w", endpoint, err)
		}

		ctxDialer, ok := d.(proxy.ContextDialer)
		var conn net.Conn
		if ok {
			conn, err = ctxDialer.DialContext(ctx, network, addr)
		} else {
			conn, err = d.Dial(network, addr)
		}
		if err != nil {
			cfg.Pool.MarkFailure(endpoint)
			metrics.ProxyFailuresTotal.WithLabelValues(endpoint).Inc()
			return nil, fmt.Errorf("socksproxy: dial %s via %s: %w", addr, endpoint, err)
		}
		cfg.Pool.MarkSuccess(endpoint)
		return conn, nil
	}

	transport, err := fingerprint.Transport(cfg.Fingerprint, dial)
	if err != nil {
		return nil, fmt.Errorf("socksproxy: build transport: %w", err)
	}
	c.transport = transport

	httpClient, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: 5,
		Transport:    transport,
	})
	if err != nil {
		return nil, fmt.Errorf("socksproxy: build http client: %w", err)
	}
	c.http = httpClient
	c.uaPool = useragent.NewPool(cfg.UserAgents)

	return c, nil
}

// Get fetches url via GET, retrying up to cfg.Retries times on a transport
// failure. The returned Result is always non-nil; a failed fetch is
// reported through Result.Error rather than the error return, which is
// reserved for request construction failures (a malformed URL, say).
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*Result, error) {
	return c.do(ctx, http.MethodGet, url, headers)
}

// Head fetches only headers via HEAD, used by the dir-scan worker's per-path
// probe before it issues a GET for a 200 response.
func (c *Client) Head(ctx context.Context, url string, headers map[string]string) (*Result, error) {
	return c.do(ctx, http.MethodHead, url, headers)
}

func (c *Client) do(ctx context.Context, method, url string, headers map[string]string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("socksproxy: build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.uaPool.GetRandom())
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		start := time.Now()
		resp, err := c.http.Do(ctx, req.Clone(ctx))
		if err != nil {
			lastErr = err
			continue
		}

		body, truncated, readErr := readLimited(resp.Body, c.cfg.MaxBodyBytes)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		return &Result{
			Success:    true,
			StatusCode: resp.StatusCode,
			Headers:    resp.Header,
			Body:       body,
			Truncated:  truncated,
			Duration:   time.Since(start),
		}, nil
	}

	return &Result{
		Success: false,
		Error:   lastErr.Error(),
	}, nil
}

// TCPConnect dials a bare TCP connection through the pool, used by the
// port-scan worker to probe a port's open/closed/filtered state without
// speaking any application protocol.
func (c *Client) TCPConnect(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	endpoint := c.cfg.Pool.Next()
	if endpoint == "" {
		return nil, fmt.Errorf("socksproxy: no usable SOCKS5 endpoint in pool")
	}

	d, err := proxy.SOCKS5("tcp", endpoint, nil, &net.Dialer{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("socksproxy: build dialer for %s: %w", endpoint, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctxDialer, ok := d.(proxy.ContextDialer)
	var conn net.Conn
	if ok {
		conn, err = ctxDialer.DialContext(dialCtx, "tcp", addr)
	} else {
		conn, err = d.Dial("tcp", addr)
	}
	if err != nil {
		c.cfg.Pool.MarkFailure(endpoint)
		metrics.ProxyFailuresTotal.WithLabelValues(endpoint).Inc()
		return nil, err
	}
	c.cfg.Pool.MarkSuccess(endpoint)
	return conn, nil
}

// readLimited reads up to limit bytes of r, reporting whether the stream
// had more to give (the crawler's content-cap truncation flag).
func readLimited(r io.Reader, limit int64) ([]byte, bool, error) {
	lr := &io.LimitedReader{R: r, N: limit + 1}
	body, err := io.ReadAll(lr)
	if err != nil {
		return nil, false, err
	}
	if int64(len(body)) > limit {
		return body[:limit], true, nil
	}
	return body, false, nil
}

// RandomPath generates a random URL-safe base64 path segment of the given
// length, used by the dir-scan worker to build its unguessable soft-404
// baseline path (spec: 24 characters).
func RandomPath(length int) (string, error) {
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("socksproxy: generate random path: %w", err)
	}
	enc := base64.RawURLEncoding.EncodeToString(raw)
	if len(enc) > length {
		enc = enc[:length]
	}
	return enc, nil
}
