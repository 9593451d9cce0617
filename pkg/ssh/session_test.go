package ssh

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ai-help-me/sftpdeck/pkg/ssh/sshtest"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "''"},
		{"/var/log", "'/var/log'"},
		{"a b", "'a b'"},
		{"it's", `'it'\''s'`},
		{"$(rm -rf /)", "'$(rm -rf /)'"},
		{"x; ls", "'x; ls'"},
	}
	for _, tt := range tests {
		if got := Quote(tt.in); got != tt.want {
			t.Errorf("Quote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSessionOutput(t *testing.T) {
	srv := sshtest.Start(t, "alice", "s3cret", sshtest.WithExec(func(cmd string) (string, string, int) {
		if cmd == "echo hi" {
			return "hi\n", "", 0
		}
		return "", "no such command\n", 2
	}))
	pool := NewPool(&Dialer{Timeout: 5 * time.Second})
	t.Cleanup(func() { pool.CloseAll() })

	sess, err := pool.Acquire(context.Background(), NewKey(srv.Host(), srv.Port(), "alice"), "s3cret")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	out, err := sess.Output(context.Background(), "echo hi")
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	if string(out) != "hi\n" {
		t.Errorf("Output = %q, want %q", out, "hi\n")
	}

	_, err = sess.Output(context.Background(), "false")
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *ExitError, got %T: %v", err, err)
	}
	if exitErr.Status != 2 {
		t.Errorf("Status = %d, want 2", exitErr.Status)
	}
	if !strings.Contains(exitErr.Error(), "no such command") {
		t.Errorf("Error() = %q, want stderr included", exitErr.Error())
	}
}

func TestSessionClosedAfterRelease(t *testing.T) {
	srv := sshtest.Start(t, "alice", "s3cret")
	pool := NewPool(&Dialer{Timeout: 5 * time.Second})
	key := NewKey(srv.Host(), srv.Port(), "alice")

	sess, err := pool.Acquire(context.Background(), key, "s3cret")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := pool.Release(key); err != nil {
		t.Fatalf("Release: %v", err)
	}

	if _, err := sess.NewSftp(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("NewSftp after release: err = %v, want ErrSessionClosed", err)
	}
	if _, err := sess.Output(context.Background(), "true"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Output after release: err = %v, want ErrSessionClosed", err)
	}
}

func TestSessionNewSftp(t *testing.T) {
	srv := sshtest.Start(t, "alice", "s3cret")
	pool := NewPool(&Dialer{Timeout: 5 * time.Second})
	t.Cleanup(func() { pool.CloseAll() })

	sess, err := pool.Acquire(context.Background(), NewKey(srv.Host(), srv.Port(), "alice"), "s3cret")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// Two sub-channels at once, each closed independently of the session.
	first, err := sess.NewSftp()
	if err != nil {
		t.Fatalf("NewSftp: %v", err)
	}
	second, err := sess.NewSftp()
	if err != nil {
		t.Fatalf("second NewSftp: %v", err)
	}
	first.Close()

	if _, err := second.Getwd(); err != nil {
		t.Errorf("Getwd on second channel after closing first: %v", err)
	}
	second.Close()

	third, err := sess.NewSftp()
	if err != nil {
		t.Fatalf("NewSftp after closing sub-channels: %v", err)
	}
	third.Close()
}

func TestSessionOutputSendsCommandVerbatim(t *testing.T) {
	received := make(chan string, 1)
	srv := sshtest.Start(t, "alice", "s3cret", sshtest.WithExec(func(cmd string) (string, string, int) {
		received <- cmd
		return "", "", 0
	}))
	pool := NewPool(&Dialer{Timeout: 5 * time.Second})
	t.Cleanup(func() { pool.CloseAll() })

	sess, err := pool.Acquire(context.Background(), NewKey(srv.Host(), srv.Port(), "alice"), "s3cret")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	const cmd = "ls -1 -- '/tmp/it'\\''s here'"
	if _, err := sess.Output(context.Background(), cmd); err != nil {
		t.Fatalf("Output: %v", err)
	}
	if got := <-received; got != cmd {
		t.Errorf("server received %q, want %q", got, cmd)
	}
}
