// Package sshtest runs an in-process SSH server for tests. It authenticates a
// single user by password, serves the sftp subsystem from the local
// filesystem and answers exec requests through a pluggable handler.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// ExecHandler answers an exec request with the command's output and exit
// status.
type ExecHandler func(cmd string) (stdout, stderr string, status int)

// Server is a running test SSH server.
type Server struct {
	User     string
	Password string

	listener  net.Listener
	config    *ssh.ServerConfig
	authDelay time.Duration
	exec      ExecHandler

	handshakes atomic.Int64
	execs      atomic.Int64

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithAuthDelay makes every password check sleep for d first, which widens
// the window for concurrent handshakes.
func WithAuthDelay(d time.Duration) Option {
	return func(s *Server) { s.authDelay = d }
}

// WithExec installs the exec request handler.
func WithExec(h ExecHandler) Option {
	return func(s *Server) { s.exec = h }
}

// Start listens on a loopback port and serves until the test ends.
func Start(t testing.TB, user, password string, opts ...Option) *Server {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("create host signer: %v", err)
	}

	s := &Server{
		User:     user,
		Password: password,
		conns:    make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.config = &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, pw []byte) (*ssh.Permissions, error) {
			if s.authDelay > 0 {
				time.Sleep(s.authDelay)
			}
			if conn.User() == s.User && string(pw) == s.Password {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("password rejected for %q", conn.User())
		},
	}
	s.config.AddHostKey(signer)

	s.listener, err = net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Host returns the listen address host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.listener.Addr().String())
	return host
}

// Port returns the listen port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.listener.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// Handshakes returns the number of completed, authenticated handshakes.
func (s *Server) Handshakes() int {
	return int(s.handshakes.Load())
}

// Execs returns the number of exec requests served.
func (s *Server) Execs() int {
	return int(s.execs.Load())
}

// Close stops the listener and drops every open connection.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.listener.Close()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		if !s.track(conn) {
			conn.Close()
			return
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	srvConn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		return
	}
	defer srvConn.Close()
	s.handshakes.Add(1)

	go ssh.DiscardRequests(reqs)

	var chanWG sync.WaitGroup
	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		chanWG.Add(1)
		go func() {
			defer chanWG.Done()
			s.handleSession(ch, requests)
		}()
	}
	chanWG.Wait()
}

func (s *Server) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			s.execs.Add(1)
			s.runExec(ch, payload.Command)
			return
		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			server, err := sftp.NewServer(ch)
			if err != nil {
				sendExitStatus(ch, 1)
				return
			}
			_ = server.Serve()
			server.Close()
			sendExitStatus(ch, 0)
			return
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func (s *Server) runExec(ch ssh.Channel, cmd string) {
	if s.exec == nil {
		fmt.Fprintf(ch.Stderr(), "sh: %s: command not found\n", cmd)
		sendExitStatus(ch, 127)
		return
	}
	stdout, stderr, status := s.exec(cmd)
	if stdout != "" {
		ch.Write([]byte(stdout))
	}
	if stderr != "" {
		ch.Stderr().Write([]byte(stderr))
	}
	sendExitStatus(ch, status)
}

func sendExitStatus(ch ssh.Channel, status int) {
	ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
}

// Blackhole returns the address of a listener that accepts TCP connections
// and never speaks SSH, so handshakes against it hang until their deadline.
func Blackhole(t testing.TB) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()

	t.Cleanup(func() {
		l.Close()
		mu.Lock()
		for _, c := range conns {
			c.Close()
		}
		mu.Unlock()
	})
	return l.Addr().String()
}
