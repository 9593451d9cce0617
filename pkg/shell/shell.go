// Package shell implements the interactive browse session: an sftp-like
// prompt whose commands page through local and remote directories and move
// files through the browser facade.
package shell

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ai-help-me/sftpdeck/pkg/archive"
)

// Remote is the facade a shell drives. *browser.Binding satisfies it.
type Remote interface {
	ListLocal(dir string, offset, limit int) ([]string, error)
	ListRemote(ctx context.Context, remotePath string, offset, limit int) ([]string, error)
	Download(ctx context.Context, remotePath, localPath string) error
	Upload(ctx context.Context, localPath, remotePath string) (string, error)
	RealPath(ctx context.Context, remotePath string) (string, error)
	Stat(ctx context.Context, remotePath string) (os.FileInfo, error)
	PreviewLocal(path string, maxBytes int) ([]byte, bool, error)
}

// Table column widths
const (
	cmdWidth  = 10
	argsWidth = 20
	descWidth = 35
)

// DefaultPreviewBytes caps the preview command.
const DefaultPreviewBytes = 4096

var errExit = errors.New("exit")

// formatBytes formats byte size to human readable string
func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.2f TB", float64(bytes)/float64(TB))
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// page remembers the last listing so "more" can continue it.
type page struct {
	remote bool
	dir    string
	next   int
	done   bool
}

// Shell implements the interactive browse session.
type Shell struct {
	user     string
	host     string
	remote   Remote
	paths    *PathState
	pageSize int
	last     *page

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// Option configures a Shell.
type Option func(*Shell)

// WithIO replaces stdin, stdout and stderr.
func WithIO(in io.Reader, out, errOut io.Writer) Option {
	return func(s *Shell) {
		s.stdin = in
		s.stdout = out
		s.stderr = errOut
	}
}

// WithPageSize sets how many entries ls, lls and more print.
func WithPageSize(n int) Option {
	return func(s *Shell) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// New creates a shell over remote.
func New(remote Remote, paths *PathState, user, host string, opts ...Option) *Shell {
	s := &Shell{
		remote:   remote,
		paths:    paths,
		user:     user,
		host:     host,
		pageSize: 10,
		stdin:    os.Stdin,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run reads commands until exit or end of input. Ctrl+C cancels a running
// transfer and otherwise just redraws the prompt.
func (s *Shell) Run() error {
	fmt.Fprintf(s.stdout, "Browse session started. Type 'help' for commands.\n")
	fmt.Fprintf(s.stdout, "Press Ctrl+C to interrupt file transfers.\n")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer signal.Stop(sigChan)

	// One goroutine reads stdin for the entire shell lifetime.
	lineChan := make(chan string, 1)
	eofChan := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(s.stdin)
		for scanner.Scan() {
			lineChan <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			eofChan <- err
		} else {
			eofChan <- io.EOF
		}
	}()

	for {
		s.showPrompt()
		select {
		case line := <-lineChan:
			if s.handleLine(line, sigChan) {
				return nil
			}

		case <-sigChan:
			fmt.Fprintf(s.stdout, "\n")

		case err := <-eofChan:
			// A line read just before EOF may still be buffered.
		drain:
			for {
				select {
				case line := <-lineChan:
					if s.handleLine(line, sigChan) {
						return nil
					}
				default:
					break drain
				}
			}
			if err == io.EOF {
				fmt.Fprintln(s.stdout)
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
	}
}

// handleLine runs one input line and reports whether the shell should exit.
func (s *Shell) handleLine(line string, sigChan <-chan os.Signal) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}
	if err := s.dispatch(input, sigChan); err != nil {
		if errors.Is(err, errExit) {
			return true
		}
		fmt.Fprintf(s.stderr, "Error: %v\n", err)
	}
	return false
}

func (s *Shell) dispatch(input string, sigChan <-chan os.Signal) error {
	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	if cmd == "get" || cmd == "put" {
		return s.runTransfer(cmd, parts[1:], sigChan)
	}
	return s.Execute(context.Background(), input)
}

// runTransfer executes get or put, cancelling it on Ctrl+C. The signal
// channel belongs to the transfer while it runs.
func (s *Shell) runTransfer(cmd string, args []string, sigChan <-chan os.Signal) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		if cmd == "get" {
			done <- s.cmdGet(ctx, args)
		} else {
			done <- s.cmdPut(ctx, args)
		}
	}()

	select {
	case err := <-done:
		if errors.Is(err, context.Canceled) {
			fmt.Fprintf(s.stderr, "Transfer cancelled.\n")
			return nil
		}
		return err
	case <-sigChan:
		fmt.Fprintf(s.stdout, "\n^C\nTransfer cancelled.\n")
		cancel()
		<-done
		return nil
	}
}

// showPrompt displays the prompt.
func (s *Shell) showPrompt() {
	fmt.Fprintf(s.stdout, "\033[1;32msftpdeck %s@%s:%s>\033[0m ", s.user, s.host, s.paths.RemoteCWD)
	if f, ok := s.stdout.(*os.File); ok {
		f.Sync()
	} else if flusher, ok := s.stdout.(interface{ Flush() }); ok {
		flusher.Flush()
	}
}

// Execute runs one command line. It returns errExit for exit commands.
func (s *Shell) Execute(ctx context.Context, input string) error {
	parts := strings.Fields(strings.TrimSpace(input))
	if len(parts) == 0 {
		return nil
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "cd":
		return s.cmdCD(ctx, args)
	case "lcd":
		return s.cmdLCD(args)
	case "pwd":
		fmt.Fprintf(s.stdout, "Remote working directory: %s\n", s.paths.RemoteCWD)
		return nil
	case "lpwd":
		fmt.Fprintf(s.stdout, "Local working directory: %s\n", s.paths.LocalCWD)
		return nil
	case "ls":
		return s.cmdLS(ctx, args)
	case "lls":
		return s.cmdLLS(args)
	case "more":
		return s.cmdMore(ctx)
	case "get":
		return s.cmdGet(ctx, args)
	case "put":
		return s.cmdPut(ctx, args)
	case "preview", "lcat":
		return s.cmdPreview(args)
	case "exit", "quit", "bye":
		return errExit
	case "help", "?":
		return s.cmdHelp()
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// cmdCD changes the remote directory.
func (s *Shell) cmdCD(ctx context.Context, args []string) error {
	target := "~"
	if len(args) > 0 {
		target = args[0]
	}

	resolved, err := s.paths.ResolveRemote(target)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	fi, err := s.remote.Stat(ctx, resolved)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", resolved)
	}

	return s.paths.UpdateRemoteCWD(ctx, resolved)
}

// cmdLCD changes the local directory.
func (s *Shell) cmdLCD(args []string) error {
	target := "~"
	if len(args) > 0 {
		target = args[0]
	}

	resolved, err := s.paths.ResolveLocal(target)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	fi, err := os.Stat(resolved)
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", resolved)
	}

	return s.paths.UpdateLocalCWD(resolved)
}

// parseListArgs accepts [path] [offset].
func parseListArgs(args []string) (string, int, error) {
	dir := "."
	offset := 0
	if len(args) > 0 {
		dir = args[0]
	}
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 {
			return "", 0, fmt.Errorf("invalid offset %q", args[1])
		}
		offset = n
	}
	return dir, offset, nil
}

// cmdLS lists one page of a remote directory.
func (s *Shell) cmdLS(ctx context.Context, args []string) error {
	dir, offset, err := parseListArgs(args)
	if err != nil {
		return err
	}
	resolved, err := s.paths.ResolveRemote(dir)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	s.last = &page{remote: true, dir: resolved, next: offset}
	return s.printPage(ctx)
}

// cmdLLS lists one page of a local directory.
func (s *Shell) cmdLLS(args []string) error {
	dir, offset, err := parseListArgs(args)
	if err != nil {
		return err
	}
	resolved, err := s.paths.ResolveLocal(dir)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	s.last = &page{dir: resolved, next: offset}
	return s.printPage(context.Background())
}

// cmdMore continues the last listing.
func (s *Shell) cmdMore(ctx context.Context) error {
	if s.last == nil {
		return fmt.Errorf("nothing to continue; run ls or lls first")
	}
	if s.last.done {
		fmt.Fprintln(s.stdout, "(end of listing)")
		return nil
	}
	return s.printPage(ctx)
}

func (s *Shell) printPage(ctx context.Context) error {
	p := s.last
	var names []string
	var err error
	if p.remote {
		names, err = s.remote.ListRemote(ctx, p.dir, p.next, s.pageSize)
	} else {
		names, err = s.remote.ListLocal(p.dir, p.next, s.pageSize)
	}
	if err != nil {
		return err
	}

	for _, name := range names {
		fmt.Fprintln(s.stdout, name)
	}
	p.next += len(names)
	p.done = len(names) < s.pageSize
	if !p.done {
		fmt.Fprintf(s.stdout, "-- %d shown, type 'more' for the next page --\n", p.next)
	}
	return nil
}

// cmdGet downloads a single remote file.
func (s *Shell) cmdGet(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: get remote-path [local-path]")
	}

	remotePath, err := s.paths.ResolveRemote(args[0])
	if err != nil {
		return fmt.Errorf("resolve remote: %w", err)
	}

	localPath := ""
	if len(args) > 1 {
		localPath, err = s.paths.ResolveLocal(args[1])
	} else {
		localPath, err = s.paths.ResolveLocal(path.Base(remotePath))
	}
	if err != nil {
		return fmt.Errorf("resolve local: %w", err)
	}

	if stat, err := os.Stat(localPath); err == nil && stat.IsDir() {
		localPath = filepath.Join(localPath, path.Base(remotePath))
	}

	if err := s.remote.Download(ctx, remotePath, localPath); err != nil {
		return err
	}

	size := ""
	if fi, err := os.Stat(localPath); err == nil {
		size = " (" + formatBytes(fi.Size()) + ")"
	}
	fmt.Fprintf(s.stdout, "Download complete: %s -> %s%s\n", remotePath, localPath, size)
	return nil
}

// cmdPut compresses a local file and uploads the archive. Without a remote
// path the archive lands in the remote working directory.
func (s *Shell) cmdPut(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: put local-path [remote-path]")
	}

	localPath, err := s.paths.ResolveLocal(args[0])
	if err != nil {
		return fmt.Errorf("resolve local: %w", err)
	}

	archiveName := filepath.Base(localPath) + archive.Ext
	remotePath := ""
	if len(args) > 1 {
		remotePath, err = s.paths.ResolveRemote(args[1])
		if err != nil {
			return fmt.Errorf("resolve remote: %w", err)
		}
		if fi, err := s.remote.Stat(ctx, remotePath); err == nil && fi.IsDir() {
			remotePath = joinPath(remotePath, archiveName)
		}
	} else {
		remotePath = joinPath(s.paths.RemoteCWD, archiveName)
	}

	archivePath, err := s.remote.Upload(ctx, localPath, remotePath)
	if err != nil {
		return err
	}

	size := ""
	if fi, err := os.Stat(archivePath); err == nil {
		size = " (" + formatBytes(fi.Size()) + ")"
	}
	fmt.Fprintf(s.stdout, "Upload complete: %s -> %s%s\n", archivePath, remotePath, size)
	return nil
}

// cmdPreview prints the start of a local file.
func (s *Shell) cmdPreview(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: preview local-path")
	}
	localPath, err := s.paths.ResolveLocal(args[0])
	if err != nil {
		return fmt.Errorf("resolve local: %w", err)
	}

	data, truncated, err := s.remote.PreviewLocal(localPath, DefaultPreviewBytes)
	if err != nil {
		return err
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return fmt.Errorf("%s is not a text file", localPath)
	}

	s.stdout.Write(data)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		fmt.Fprintln(s.stdout)
	}
	if truncated {
		fmt.Fprintf(s.stdout, "-- preview truncated at %s --\n", formatBytes(int64(len(data))))
	}
	return nil
}

// ANSI color codes
const (
	colorGreen = "\033[32m"
	colorGray  = "\033[90m"
	colorReset = "\033[0m"
)

// cmdHelp shows help information.
func (s *Shell) cmdHelp() error {
	commands := []struct {
		cmd  string
		args string
		desc string
	}{
		{"cd", "<path>", "Change remote directory"},
		{"lcd", "<path>", "Change local directory"},
		{"pwd", "", "Print remote working directory"},
		{"lpwd", "", "Print local working directory"},
		{"ls", "[path] [offset]", "List a page of remote entries"},
		{"lls", "[path] [offset]", "List a page of local entries"},
		{"more", "", "Show the next page of the last listing"},
		{"get", "<remote> [local]", "Download a file"},
		{"put", "<local> [remote]", "Compress and upload a file"},
		{"preview", "<local>", "Show the start of a local file"},
		{"exit", "", "Leave the session"},
		{"quit", "", "Leave the session (alias)"},
		{"bye", "", "Leave the session (alias)"},
	}

	s.printTableLine("┌", "┬", "┐")
	s.printTableRow("COMMAND", "ARGUMENTS", "DESCRIPTION", colorGray, colorGray, colorGray)
	s.printTableLine("├", "┼", "┤")
	for _, c := range commands {
		s.printTableRow(c.cmd, c.args, c.desc, colorGreen, colorReset, colorReset)
	}
	s.printTableLine("└", "┴", "┘")

	return nil
}

// printTableLine prints a horizontal table line
func (s *Shell) printTableLine(left, mid, right string) {
	fmt.Fprintf(s.stdout, "  %s%s%s%s%s%s\n",
		left,
		strings.Repeat("─", cmdWidth+2),
		mid,
		strings.Repeat("─", argsWidth+2),
		mid,
		strings.Repeat("─", descWidth+2)+right)
}

// printTableRow prints a table row
func (s *Shell) printTableRow(col1, col2, col3, c1Color, c2Color, c3Color string) {
	fmt.Fprintf(s.stdout, "  │ %s%-*s%s │ %s%-*s%s │ %s%-*s%s │\n",
		c1Color, cmdWidth, col1, colorReset,
		c2Color, argsWidth, col2, colorReset,
		c3Color, descWidth, col3, colorReset)
}
