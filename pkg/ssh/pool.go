package ssh

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ai-help-me/sftpdeck/pkg/logging"
	"github.com/ai-help-me/sftpdeck/pkg/metrics"
)

// fingerprint is a salted digest of the secret a session was authenticated
// with. The secret itself is never kept.
type fingerprint [sha256.Size]byte

// Pool owns authenticated sessions keyed by Key.
//
// Sessions live until Release or CloseAll: there is no size cap, no idle
// eviction and no health probe, so a session broken by a failed transfer
// stays pooled until released.
//
// Concurrent Acquire calls for the same key and secret share one handshake.
// Acquire calls for different keys handshake concurrently.
type Pool struct {
	connector   Connector
	authTimeout time.Duration
	log         *zap.Logger
	salt        []byte

	mu       sync.Mutex
	sessions map[Key]*Session
	flights  singleflight.Group
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(l *zap.Logger) PoolOption {
	return func(p *Pool) { p.log = l }
}

// WithAuthTimeout bounds each shared handshake. It applies independently of
// the context of whichever caller started the handshake, so one impatient
// caller cannot fail the others waiting on the same key.
func WithAuthTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.authTimeout = d }
}

// NewPool creates an empty pool that authenticates through connector.
func NewPool(connector Connector, opts ...PoolOption) *Pool {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		panic(fmt.Sprintf("read random salt: %v", err))
	}

	p := &Pool{
		connector:   connector,
		authTimeout: DefaultConnectTimeout,
		log:         logging.L(),
		salt:        salt,
		sessions:    make(map[Key]*Session),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire returns the pooled session for key, authenticating a new one if
// none exists.
//
// A failed handshake never leaves an entry behind. If key is already pooled
// under a different secret, Acquire fails with ErrSecretMismatch and the
// pooled session is left untouched.
func (p *Pool) Acquire(ctx context.Context, key Key, secret string) (*Session, error) {
	if err := key.Validate(); err != nil {
		return nil, &ConnectionError{Host: key.Host, Port: key.Port, User: key.User, Err: err}
	}

	fp := p.fingerprint(secret)
	if s, ok := p.Get(key); ok {
		return p.check(s, fp)
	}

	flight := key.String() + "\x00" + hex.EncodeToString(fp[:])
	ch := p.flights.DoChan(flight, func() (interface{}, error) {
		return p.create(ctx, key, secret, fp)
	})

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Op: "connect", Target: key.String(), Err: ctx.Err()}
		}
		return nil, &ConnectionError{Host: key.Host, Port: key.Port, User: key.User, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return p.check(res.Val.(*Session), fp)
	}
}

// create performs the handshake for key and stores the session. It runs at
// most once at a time per (key, secret).
func (p *Pool) create(ctx context.Context, key Key, secret string, fp fingerprint) (*Session, error) {
	// A flight for the same key under another secret may have finished first.
	if s, ok := p.Get(key); ok {
		return s, nil
	}

	dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.authTimeout)
	defer cancel()

	start := time.Now()
	client, err := p.connector.Connect(dialCtx, key, secret)
	metrics.RecordHandshake(err)
	if err != nil {
		p.log.Warn("ssh handshake failed",
			zap.String("key", logging.Sanitize(key.String())),
			logging.Duration("elapsed", time.Since(start)),
			logging.Err(err))
		return nil, classify(key, err)
	}

	s := newSession(key, client, fp)

	p.mu.Lock()
	if existing, ok := p.sessions[key]; ok {
		p.mu.Unlock()
		// Lost the race to a flight under another secret; keep the first.
		_ = s.close()
		return existing, nil
	}
	p.sessions[key] = s
	p.mu.Unlock()

	metrics.SessionOpened()
	p.log.Info("ssh session pooled",
		zap.String("key", logging.Sanitize(key.String())),
		logging.Duration("elapsed", time.Since(start)))
	return s, nil
}

func (p *Pool) check(s *Session, fp fingerprint) (*Session, error) {
	if !hmac.Equal(s.secret[:], fp[:]) {
		k := s.Key()
		return nil, &ConnectionError{Host: k.Host, Port: k.Port, User: k.User, Err: ErrSecretMismatch}
	}
	return s, nil
}

func (p *Pool) fingerprint(secret string) fingerprint {
	mac := hmac.New(sha256.New, p.salt)
	mac.Write([]byte(secret))
	var fp fingerprint
	copy(fp[:], mac.Sum(nil))
	return fp
}

// classify makes sure connector errors surface as ConnectionError or
// TimeoutError.
func classify(key Key, err error) error {
	var connErr *ConnectionError
	var timeoutErr *TimeoutError
	switch {
	case errors.As(err, &connErr), errors.As(err, &timeoutErr):
		return err
	case IsTimeout(err):
		return &TimeoutError{Op: "connect", Target: key.String(), Err: err}
	default:
		return &ConnectionError{Host: key.Host, Port: key.Port, User: key.User, Err: err}
	}
}

// Get returns the pooled session for key without authenticating.
func (p *Pool) Get(key Key) (*Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[key]
	return s, ok
}

// Release closes and evicts the session for key. Releasing an absent key is
// a no-op.
func (p *Pool) Release(key Key) error {
	p.mu.Lock()
	s, ok := p.sessions[key]
	delete(p.sessions, key)
	p.mu.Unlock()

	if !ok {
		return nil
	}

	metrics.SessionClosed()
	p.log.Info("ssh session released", zap.String("key", logging.Sanitize(key.String())))
	if err := s.close(); err != nil {
		return fmt.Errorf("close session %s: %w", key, err)
	}
	return nil
}

// CloseAll closes every pooled session and empties the pool.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	sessions := p.sessions
	p.sessions = make(map[Key]*Session)
	p.mu.Unlock()

	var errs []error
	for key, s := range sessions {
		metrics.SessionClosed()
		if err := s.close(); err != nil {
			errs = append(errs, fmt.Errorf("close session %s: %w", key, err))
		}
	}
	if len(sessions) > 0 {
		p.log.Info("closed all ssh sessions", zap.Int("count", len(sessions)))
	}
	return errors.Join(errs...)
}

// Len returns the number of pooled sessions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}
