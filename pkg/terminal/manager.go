// Package terminal owns the controlling terminal: it prompts for secrets
// without echo and puts the terminal back the way it found it.
package terminal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Manager manages terminal state around secret prompts.
//
// This is the only place in the codebase allowed to change terminal modes.
// Everything else (server picker, browse shell, CLI output) runs in cooked
// mode.
type Manager struct {
	mu            sync.Mutex
	fd            int
	originalState *term.State
	in            io.Reader
	out           io.Writer
	reader        *bufio.Reader
}

// New creates a manager for os.Stdin and saves the original terminal state.
func New() *Manager {
	return NewWithIO(os.Stdin, os.Stderr)
}

// NewWithIO creates a manager reading from in and prompting on out. When in
// is a terminal its state is saved for Restore.
func NewWithIO(in io.Reader, out io.Writer) *Manager {
	m := &Manager{fd: -1, in: in, out: out}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		m.fd = int(f.Fd())
		if state, err := term.GetState(m.fd); err == nil {
			m.originalState = state
		}
	}
	return m
}

// IsTerminal reports whether input comes from an interactive terminal.
func (m *Manager) IsTerminal() bool {
	return m.fd >= 0
}

// ReadSecret prints prompt and reads one line without echo. When input is
// not a terminal the line is read as-is, which lets scripts pipe a secret in.
func (m *Manager) ReadSecret(prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fmt.Fprint(m.out, prompt)

	if m.fd >= 0 {
		secret, err := term.ReadPassword(m.fd)
		fmt.Fprintln(m.out)
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return string(secret), nil
	}

	if m.reader == nil {
		m.reader = bufio.NewReader(m.in)
	}
	line, err := m.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Restore puts the terminal back into its original state. Safe to call
// multiple times and when input is not a terminal.
func (m *Manager) Restore() error {
	if m.fd < 0 || m.originalState == nil {
		return nil
	}
	if err := term.Restore(m.fd, m.originalState); err != nil {
		return fmt.Errorf("restore terminal: %w", err)
	}
	return nil
}

// Cleanup restores the terminal. Call this when shutting down.
func (m *Manager) Cleanup() {
	_ = m.Restore()
}
