package ssh

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/ai-help-me/sftpdeck/pkg/ssh/sshtest"
)

func newTestPool(t *testing.T, opts ...PoolOption) *Pool {
	t.Helper()
	p := NewPool(&Dialer{Timeout: 5 * time.Second}, opts...)
	t.Cleanup(func() { p.CloseAll() })
	return p
}

func serverKey(srv *sshtest.Server) Key {
	return NewKey(srv.Host(), srv.Port(), srv.User)
}

func TestAcquireReturnsSameSession(t *testing.T) {
	srv := sshtest.Start(t, "alice", "s3cret")
	p := newTestPool(t)
	key := serverKey(srv)

	first, err := p.Acquire(context.Background(), key, "s3cret")
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	second, err := p.Acquire(context.Background(), key, "s3cret")
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}

	if first != second {
		t.Error("sequential Acquire returned different sessions")
	}
	if srv.Handshakes() != 1 {
		t.Errorf("Handshakes = %d, want 1", srv.Handshakes())
	}
	if p.Len() != 1 {
		t.Errorf("Len = %d, want 1", p.Len())
	}
}

func TestConcurrentAcquireSingleHandshake(t *testing.T) {
	srv := sshtest.Start(t, "alice", "s3cret", sshtest.WithAuthDelay(100*time.Millisecond))
	p := newTestPool(t)
	key := serverKey(srv)

	const callers = 16
	sessions := make([]*Session, callers)
	errs := make([]error, callers)

	var start, wg sync.WaitGroup
	start.Add(1)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start.Wait()
			sessions[i], errs[i] = p.Acquire(context.Background(), key, "s3cret")
		}(i)
	}
	start.Done()
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
		if sessions[i] != sessions[0] {
			t.Errorf("caller %d observed a different session", i)
		}
	}
	if srv.Handshakes() != 1 {
		t.Errorf("Handshakes = %d, want 1", srv.Handshakes())
	}
}

func TestReleaseThenAcquireHandshakesAgain(t *testing.T) {
	srv := sshtest.Start(t, "alice", "s3cret")
	p := newTestPool(t)
	key := serverKey(srv)

	first, err := p.Acquire(context.Background(), key, "s3cret")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := p.Release(key); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if p.Len() != 0 {
		t.Errorf("Len after release = %d, want 0", p.Len())
	}

	second, err := p.Acquire(context.Background(), key, "s3cret")
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	if first == second {
		t.Error("Acquire after release reused the closed session")
	}
	if srv.Handshakes() != 2 {
		t.Errorf("Handshakes = %d, want 2", srv.Handshakes())
	}
}

func TestReleaseAbsentKeyIsNoop(t *testing.T) {
	p := newTestPool(t)
	key := NewKey("nowhere.invalid", 22, "nobody")
	if err := p.Release(key); err != nil {
		t.Errorf("Release on empty pool: %v", err)
	}
	if err := p.Release(key); err != nil {
		t.Errorf("second Release: %v", err)
	}
}

func TestAcquireWrongSecretLeavesNoEntry(t *testing.T) {
	srv := sshtest.Start(t, "alice", "s3cret")
	p := newTestPool(t)
	key := serverKey(srv)

	_, err := p.Acquire(context.Background(), key, "wrong")
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected *ConnectionError, got %T: %v", err, err)
	}
	if connErr.Host != key.Host || connErr.Port != key.Port || connErr.User != key.User {
		t.Errorf("ConnectionError names %s@%s:%d, want %s", connErr.User, connErr.Host, connErr.Port, key)
	}
	if _, ok := p.Get(key); ok {
		t.Error("failed Acquire left a pool entry")
	}

	if _, err := p.Acquire(context.Background(), key, "s3cret"); err != nil {
		t.Fatalf("Acquire with correct secret: %v", err)
	}
	if p.Len() != 1 {
		t.Errorf("Len = %d, want 1", p.Len())
	}
}

func TestAcquireSecretMismatch(t *testing.T) {
	srv := sshtest.Start(t, "alice", "s3cret")
	p := newTestPool(t)
	key := serverKey(srv)

	pooled, err := p.Acquire(context.Background(), key, "s3cret")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	_, err = p.Acquire(context.Background(), key, "other")
	if !errors.Is(err, ErrSecretMismatch) {
		t.Fatalf("err = %v, want ErrSecretMismatch", err)
	}
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Errorf("mismatch not reported as *ConnectionError: %T", err)
	}

	got, ok := p.Get(key)
	if !ok || got != pooled {
		t.Error("mismatch disturbed the pooled session")
	}
	if srv.Handshakes() != 1 {
		t.Errorf("Handshakes = %d, want 1", srv.Handshakes())
	}
}

func TestAcquireDifferentKeysConcurrently(t *testing.T) {
	srv := sshtest.Start(t, "alice", "s3cret", sshtest.WithAuthDelay(300*time.Millisecond))
	other := sshtest.Start(t, "alice", "s3cret", sshtest.WithAuthDelay(300*time.Millisecond))
	p := newTestPool(t)

	begin := time.Now()
	var wg sync.WaitGroup
	for _, s := range []*sshtest.Server{srv, other} {
		wg.Add(1)
		go func(s *sshtest.Server) {
			defer wg.Done()
			if _, err := p.Acquire(context.Background(), serverKey(s), "s3cret"); err != nil {
				t.Errorf("Acquire %s: %v", serverKey(s), err)
			}
		}(s)
	}
	wg.Wait()

	// Serialized handshakes would take at least twice the auth delay.
	if elapsed := time.Since(begin); elapsed >= 600*time.Millisecond {
		t.Errorf("two keys took %v, handshakes appear serialized", elapsed)
	}
	if p.Len() != 2 {
		t.Errorf("Len = %d, want 2", p.Len())
	}
}

func TestAcquireTimeout(t *testing.T) {
	addr := sshtest.Blackhole(t)
	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)
	key := NewKey(host, port, "alice")

	p := newTestPool(t, WithAuthTimeout(300*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := p.Acquire(ctx, key, "s3cret")
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected *TimeoutError, got %T: %v", err, err)
	}
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		t.Error("timeout also matched *ConnectionError")
	}

	// The shared handshake is bounded by the pool timeout and must not
	// register anything once it gives up.
	time.Sleep(500 * time.Millisecond)
	if p.Len() != 0 {
		t.Errorf("Len = %d after timed-out handshake, want 0", p.Len())
	}
}

func TestDialerTimeout(t *testing.T) {
	addr := sshtest.Blackhole(t)
	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)

	d := &Dialer{Timeout: 150 * time.Millisecond}
	_, err := d.Connect(context.Background(), NewKey(host, port, "alice"), "s3cret")

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected *TimeoutError, got %T: %v", err, err)
	}
	if timeoutErr.Op != "connect" {
		t.Errorf("Op = %q, want connect", timeoutErr.Op)
	}
}

func TestAcquireInvalidKey(t *testing.T) {
	p := newTestPool(t)
	_, err := p.Acquire(context.Background(), Key{Host: "h"}, "x")
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected *ConnectionError, got %T: %v", err, err)
	}
}

type fakeConnector struct {
	calls atomic.Int64
	err   error
}

func (f *fakeConnector) Connect(ctx context.Context, key Key, secret string) (*ssh.Client, error) {
	f.calls.Add(1)
	return nil, f.err
}

func TestAcquireWrapsConnectorErrors(t *testing.T) {
	fc := &fakeConnector{err: errors.New("connection refused")}
	p := NewPool(fc)
	key := NewKey("h", 22, "u")

	_, err := p.Acquire(context.Background(), key, "x")
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected *ConnectionError, got %T: %v", err, err)
	}

	// No retry and no negative caching.
	_, _ = p.Acquire(context.Background(), key, "x")
	if got := fc.calls.Load(); got != 2 {
		t.Errorf("connector calls = %d, want 2", got)
	}
	if p.Len() != 0 {
		t.Errorf("Len = %d, want 0", p.Len())
	}
}

func TestCloseAll(t *testing.T) {
	srv := sshtest.Start(t, "alice", "s3cret")
	other := sshtest.Start(t, "bob", "hunter2")
	p := newTestPool(t)

	a, err := p.Acquire(context.Background(), serverKey(srv), "s3cret")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := p.Acquire(context.Background(), serverKey(other), "hunter2"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if err := p.CloseAll(); err != nil {
		t.Fatalf("CloseAll: %v", err)
	}
	if p.Len() != 0 {
		t.Errorf("Len = %d, want 0", p.Len())
	}
	if _, err := a.NewSftp(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("session usable after CloseAll: %v", err)
	}
}
