package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultConnectTimeout bounds TCP connect plus handshake when the caller's
// context carries no deadline.
const DefaultConnectTimeout = 30 * time.Second

// Connector authenticates a new session for a key. Dialer is the production
// implementation; tests substitute their own.
type Connector interface {
	Connect(ctx context.Context, key Key, secret string) (*ssh.Client, error)
}

// Dialer establishes authenticated SSH connections.
type Dialer struct {
	// Timeout bounds connect plus handshake. Zero means DefaultConnectTimeout.
	Timeout time.Duration
	// KeyPath optionally adds private key authentication; the secret doubles
	// as its passphrase.
	KeyPath string
	// UseAgent offers keys from the running ssh-agent.
	UseAgent bool
	// KnownHostsFile enables host key verification. Empty accepts any host key.
	KnownHostsFile string
}

// Connect dials key.Addr() and authenticates key.User with secret.
//
// Authentication and network failures are returned as *ConnectionError; an
// expired deadline is returned as *TimeoutError. Nothing is left open on
// failure.
func (d *Dialer) Connect(ctx context.Context, key Key, secret string) (*ssh.Client, error) {
	if err := key.Validate(); err != nil {
		return nil, &ConnectionError{Host: key.Host, Port: key.Port, User: key.User, Err: err}
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	authMethods, closer, err := AuthMethods(AuthOptions{
		Password: secret,
		KeyPath:  d.KeyPath,
		UseAgent: d.UseAgent,
	})
	if err != nil {
		return nil, &ConnectionError{Host: key.Host, Port: key.Port, User: key.User, Err: err}
	}
	defer closer.Close()

	hostKeyCallback, err := d.hostKeyCallback()
	if err != nil {
		return nil, &ConnectionError{Host: key.Host, Port: key.Port, User: key.User, Err: err}
	}

	sshConfig := &ssh.ClientConfig{
		User:            key.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	addr := key.Addr()

	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, d.wrap(ctx, key, fmt.Errorf("dial %s: %w", addr, err))
	}

	// The handshake has no context of its own; bound it with a conn deadline.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	stop()
	if err != nil {
		conn.Close()
		return nil, d.wrap(ctx, key, fmt.Errorf("ssh connection to %s: %w", addr, err))
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (d *Dialer) wrap(ctx context.Context, key Key, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &TimeoutError{Op: "connect", Target: key.String(), Err: errors.Join(ctx.Err(), err)}
	case ctx.Err() != nil:
		return &ConnectionError{Host: key.Host, Port: key.Port, User: key.User, Err: errors.Join(ctx.Err(), err)}
	case IsTimeout(err):
		return &TimeoutError{Op: "connect", Target: key.String(), Err: err}
	}
	return &ConnectionError{Host: key.Host, Port: key.Port, User: key.User, Err: err}
}

func (d *Dialer) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if d.KnownHostsFile == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(d.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", d.KnownHostsFile, err)
	}
	return cb, nil
}
