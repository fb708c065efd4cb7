package portscan

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/onionrecon/core/internal/storage"
)

type fakeGateway struct {
	storage.Gateway

	mu sync.Mutex

	denyLock     bool
	jobsDone     map[string]bool
	lockReleased map[string]bool
	results      []storage.PortScanResult
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		jobsDone:     make(map[string]bool),
		lockReleased: make(map[string]bool),
	}
}

func (f *fakeGateway) AcquireDomainLock(ctx context.Context, subsys storage.Subsystem, domain, workerID string) (bool, error) {
	if f.denyLock {
		return false, nil
	}
	return true, nil
}

func (f *fakeGateway) ReleaseDomainLock(ctx context.Context, subsys storage.Subsystem, domain, workerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lockReleased[domain] = true
	return nil
}

func (f *fakeGateway) MarkScanJobDone(ctx context.Context, domain string, success bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobsDone[domain] = success
	return nil
}

func (f *fakeGateway) InsertPortScanResults(ctx context.Context, results []storage.PortScanResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, results...)
	return nil
}

// fakeDialer returns a canned outcome per port: either a net.Conn to read a
// banner from, or an error.
type fakeDialer struct {
	mu        sync.Mutex
	connByPort map[int]net.Conn
	errByPort  map[int]error
}

func (d *fakeDialer) TCPConnect(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	_, portStr, _ := net.SplitHostPort(addr)
	var port int
	for _, c := range portStr {
		port = port*10 + int(c-'0')
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err, ok := d.errByPort[port]; ok {
		return nil, err
	}
	if conn, ok := d.connByPort[port]; ok {
		return conn, nil
	}
	return nil, errors.New("connection refused")
}

func newBannerConn(t *testing.T, banner string) net.Conn {
	t.Helper()
	client, server := net.Pipe()
	go func() {
		_, _ = server.Write([]byte(banner))
	}()
	t.Cleanup(func() { server.Close() })
	return client
}

func TestProcessJobRecordsOpenPortWithSignature(t *testing.T) {
	gw := newFakeGateway()
	dialer := &fakeDialer{
		connByPort: map[int]net.Conn{22: newBannerConn(t, "SSH-2.0-OpenSSH_8.9\r\n")},
		errByPort:  map[int]error{},
	}
	for _, p := range quickPorts {
		if p == 22 {
			continue
		}
		setDialerError(dialer, p, errors.New("connection refused"))
	}
	w := New(gw, dialer, Config{WorkerID: "w1", ConnectTimeout: time.Second}, nil)

	job := storage.ScanQueueEntry{Domain: "abc.onion", Profile: storage.ProfileQuick}
	w.processJob(context.Background(), job)

	if !gw.jobsDone["abc.onion"] {
		t.Fatal("expected job marked done")
	}
	if !gw.lockReleased["abc.onion"] {
		t.Fatal("expected lock released")
	}

	var sawOpen, sawClosed bool
	for _, r := range gw.results {
		if r.Port == 22 {
			sawOpen = true
			if r.State != storage.PortOpen {
				t.Errorf("expected port 22 open, got %v", r.State)
			}
			if r.ServiceName != "ssh" {
				t.Errorf("expected ssh service match, got %q", r.ServiceName)
			}
			if r.ServiceVersion != "OpenSSH_8.9" {
				t.Errorf("expected version OpenSSH_8.9, got %q", r.ServiceVersion)
			}
		} else {
			sawClosed = true
			if r.State != storage.PortClosed {
				t.Errorf("expected port %d closed, got %v", r.Port, r.State)
			}
		}
	}
	if !sawOpen || !sawClosed {
		t.Fatal("expected both an open and a closed port in the results")
	}
}

func setDialerError(d *fakeDialer, port int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errByPort[port] = err
}

func TestProcessJobSkipsRetryableSocksFailure(t *testing.T) {
	gw := newFakeGateway()
	dialer := &fakeDialer{errByPort: map[int]error{}}
	for _, p := range quickPorts {
		setDialerError(dialer, p, errors.New("general SOCKS server failure"))
	}
	w := New(gw, dialer, Config{WorkerID: "w1", ConnectTimeout: time.Second}, nil)

	job := storage.ScanQueueEntry{Domain: "abc.onion", Profile: storage.ProfileQuick}
	w.processJob(context.Background(), job)

	if len(gw.results) != 0 {
		t.Fatalf("expected no results recorded for retryable SOCKS failures, got %d", len(gw.results))
	}
	if !gw.jobsDone["abc.onion"] {
		t.Fatal("expected job still marked done even with zero recorded results")
	}
}

func TestProcessJobLockContentionSkipsWithoutProbing(t *testing.T) {
	gw := newFakeGateway()
	gw.denyLock = true
	dialer := &fakeDialer{errByPort: map[int]error{}}
	w := New(gw, dialer, Config{WorkerID: "w1"}, nil)

	job := storage.ScanQueueEntry{Domain: "abc.onion", Profile: storage.ProfileQuick}
	w.processJob(context.Background(), job)

	if gw.jobsDone["abc.onion"] {
		t.Fatal("expected job marked failed (returned to queue) on lock contention")
	}
	if gw.lockReleased["abc.onion"] {
		t.Fatal("expected no release call when the lock was never acquired")
	}
}

func TestClassifyDialError(t *testing.T) {
	cases := []struct {
		msg        string
		wantState  storage.PortState
		wantRecord bool
	}{
		{"dial tcp: connection refused", storage.PortClosed, true},
		{"dial tcp: i/o timeout", storage.PortTimeout, true},
		{"general SOCKS server failure", "", false},
		{"host is unreachable", storage.PortFiltered, true},
	}
	for _, tc := range cases {
		state, record := classifyDialError(errors.New(tc.msg))
		if state != tc.wantState || record != tc.wantRecord {
			t.Errorf("classifyDialError(%q) = (%v, %v), want (%v, %v)", tc.msg, state, record, tc.wantState, tc.wantRecord)
		}
	}
}

func TestMatchIdentifiesKnownSignatures(t *testing.T) {
	cases := []struct {
		banner      string
		wantService string
	}{
		{"SSH-2.0-OpenSSH_9.0\r\n", "ssh"},
		{"220 mail.example.onion ESMTP Postfix", "smtp"},
		{"HTTP/1.1 200 OK\r\nServer: nginx\r\n", "http"},
		{"", ""},
		{"totally unrecognized binary garbage", "unknown"},
	}
	for _, tc := range cases {
		service, _, _ := Match(tc.banner)
		if service != tc.wantService {
			t.Errorf("Match(%q) service = %q, want %q", tc.banner, service, tc.wantService)
		}
	}
}
