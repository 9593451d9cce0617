package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/melbahja/goph"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Session is an authenticated SSH connection owned by a Pool.
//
// Callers borrow a Session for the duration of one operation and must not
// close it; Pool.Release does that. A Session is safe for concurrent use:
// every command and every file-transfer sub-channel gets its own SSH channel.
type Session struct {
	key     Key
	client  *goph.Client
	created time.Time
	secret  fingerprint

	mu     sync.Mutex
	closed bool
}

func newSession(key Key, client *ssh.Client, secret fingerprint) *Session {
	return &Session{
		key:     key,
		client:  &goph.Client{Client: client},
		created: time.Now(),
		secret:  secret,
	}
}

// Key returns the credential key this session is pooled under.
func (s *Session) Key() Key {
	return s.key
}

// CreatedAt returns when the handshake completed.
func (s *Session) CreatedAt() time.Time {
	return s.created
}

// Client returns the underlying SSH client.
func (s *Session) Client() *ssh.Client {
	return s.client.Client
}

// NewSftp opens a fresh SFTP sub-channel over the session. The caller closes
// the returned client; closing it leaves the session open.
func (s *Session) NewSftp(opts ...sftp.ClientOption) (*sftp.Client, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	client, err := s.client.NewSftp(opts...)
	if err != nil {
		return nil, fmt.Errorf("open sftp subsystem: %w", err)
	}
	return client, nil
}

// ExitError reports a remote command that ran but exited non-zero.
type ExitError struct {
	Status int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("remote command exited with status %d", e.Status)
	}
	return fmt.Sprintf("remote command exited with status %d: %s", e.Status, msg)
}

// Output runs cmd on a new exec channel and returns its stdout. A non-zero
// exit is reported as *ExitError carrying stderr. The command string is sent
// verbatim, so callers quote untrusted arguments with Quote.
func (s *Session) Output(ctx context.Context, cmd string) ([]byte, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}

	// goph's Cmd re-joins Path and Args, so the command goes out on a raw
	// session channel instead.
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open exec session: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- sess.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		// Closing the channel unblocks Run.
		sess.Close()
		<-done
		return nil, ctx.Err()
	case err = <-done:
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), &ExitError{Status: exitErr.ExitStatus(), Stderr: stderr.String()}
		}
		return nil, fmt.Errorf("run command: %w", err)
	}
	return stdout.Bytes(), nil
}

// close closes the SSH connection. Only the pool calls this.
func (s *Session) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.client.Close()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Quote wraps s in single quotes for a POSIX shell, escaping embedded quotes.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
