// Package listing enumerates local and remote directories one page at a
// time. A page is the window [offset, offset+limit) over whatever order the
// underlying listing returns; pages from separate calls share no snapshot.
package listing

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ai-help-me/sftpdeck/pkg/metrics"
	deckssh "github.com/ai-help-me/sftpdeck/pkg/ssh"
)

const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// maxLineBytes bounds one line of remote listing output.
const maxLineBytes = 1024 * 1024

// ListError reports a directory that could not be listed, or a remote path
// that could not be inspected.
type ListError struct {
	Op     string // "list" when empty; "stat", "realpath"
	Source string // SourceLocal or SourceRemote
	Path   string
	Stderr string // remote stderr, if any
	Err    error
}

func (e *ListError) Error() string {
	op := e.Op
	if op == "" {
		op = "list"
	}
	return fmt.Sprintf("%s %s %s: %v", op, e.Source, e.Path, e.Err)
}

func (e *ListError) Unwrap() error { return e.Err }

// Runner executes a command on the remote host and returns its stdout.
// *ssh.Session satisfies it.
type Runner interface {
	Output(ctx context.Context, cmd string) ([]byte, error)
}

// Window returns names[offset:offset+limit], clamped to the slice. A negative
// offset counts as zero; an offset past the end or a non-positive limit
// yields an empty page.
func Window(names []string, offset, limit int) []string {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || offset >= len(names) {
		return []string{}
	}
	end := offset + limit
	if end > len(names) || end < offset {
		end = len(names)
	}
	return names[offset:end:end]
}

// ListLocal returns one page of the entry names in dir, sorted by name.
func ListLocal(dir string, offset, limit int) ([]string, error) {
	entries, err := os.ReadDir(dir)
	metrics.RecordListing(SourceLocal, err)
	if err != nil {
		return nil, &ListError{Source: SourceLocal, Path: dir, Err: err}
	}

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return Window(names, offset, limit), nil
}

// RemoteCommand builds the listing command for remotePath. The path is
// single-quoted, so shell metacharacters in it are never interpreted. An
// empty path lists the login directory.
func RemoteCommand(remotePath string) string {
	if remotePath == "" {
		return "ls -1"
	}
	return "ls -1 -- " + deckssh.Quote(remotePath)
}

// ListRemote runs a listing command through r and returns one page of its
// output lines. A non-zero exit becomes *ListError carrying the remote
// stderr; an expired deadline becomes *ssh.TimeoutError.
func ListRemote(ctx context.Context, r Runner, remotePath string, offset, limit int) ([]string, error) {
	out, err := r.Output(ctx, RemoteCommand(remotePath))
	if err != nil {
		err = remoteError(ctx, remotePath, err)
		metrics.RecordListing(SourceRemote, err)
		return nil, err
	}
	names, err := ParseLines(out)
	if err != nil {
		err = &ListError{Source: SourceRemote, Path: remotePath, Err: err}
		metrics.RecordListing(SourceRemote, err)
		return nil, err
	}
	metrics.RecordListing(SourceRemote, nil)
	return Window(names, offset, limit), nil
}

func remoteError(ctx context.Context, remotePath string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &deckssh.TimeoutError{Op: "list", Target: remotePath, Err: err}
	}
	le := &ListError{Source: SourceRemote, Path: remotePath, Err: err}
	var exitErr *deckssh.ExitError
	if errors.As(err, &exitErr) {
		le.Stderr = exitErr.Stderr
	}
	return le
}

// ParseLines splits command output into lines. A trailing newline does not
// produce an empty final entry, and CRLF endings are accepted. A line longer
// than maxLineBytes fails the whole parse rather than truncating it.
func ParseLines(out []byte) ([]string, error) {
	lines := []string{}
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}
	return lines, nil
}
