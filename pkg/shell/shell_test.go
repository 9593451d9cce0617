package shell

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ai-help-me/sftpdeck/pkg/listing"
)

// fakeRemote maps remote paths onto a local directory tree.
type fakeRemote struct {
	root      string
	downloads [][2]string
	uploads   [][2]string
}

func (f *fakeRemote) local(remotePath string) string {
	return filepath.Join(f.root, filepath.FromSlash(remotePath))
}

func (f *fakeRemote) ListLocal(dir string, offset, limit int) ([]string, error) {
	return listing.ListLocal(dir, offset, limit)
}

func (f *fakeRemote) ListRemote(ctx context.Context, remotePath string, offset, limit int) ([]string, error) {
	return listing.ListLocal(f.local(remotePath), offset, limit)
}

func (f *fakeRemote) Download(ctx context.Context, remotePath, localPath string) error {
	data, err := os.ReadFile(f.local(remotePath))
	if err != nil {
		return err
	}
	f.downloads = append(f.downloads, [2]string{remotePath, localPath})
	return os.WriteFile(localPath, data, 0o644)
}

func (f *fakeRemote) Upload(ctx context.Context, localPath, remotePath string) (string, error) {
	f.uploads = append(f.uploads, [2]string{localPath, remotePath})
	return localPath + ".zip", nil
}

func (f *fakeRemote) RealPath(ctx context.Context, remotePath string) (string, error) {
	if remotePath == "." {
		return "/home/alice", nil
	}
	return cleanPath(remotePath), nil
}

func (f *fakeRemote) Stat(ctx context.Context, remotePath string) (os.FileInfo, error) {
	return os.Stat(f.local(remotePath))
}

func (f *fakeRemote) PreviewLocal(path string, maxBytes int) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	if len(data) > maxBytes {
		return data[:maxBytes], true, nil
	}
	return data, false, nil
}

func newTestShell(t *testing.T, input string, opts ...Option) (*Shell, *fakeRemote, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "home", "alice"), 0o755); err != nil {
		t.Fatal(err)
	}
	remote := &fakeRemote{root: root}

	paths, err := NewPathState(context.Background(), remote)
	if err != nil {
		t.Fatalf("NewPathState: %v", err)
	}
	paths.LocalCWD = t.TempDir()

	var stdout, stderr bytes.Buffer
	opts = append([]Option{WithIO(strings.NewReader(input), &stdout, &stderr)}, opts...)
	return New(remote, paths, "alice", "example", opts...), remote, &stdout, &stderr
}

func TestLsAndMorePaging(t *testing.T) {
	sh, remote, stdout, stderr := newTestShell(t, "ls\nmore\nmore\n", WithPageSize(10))
	home := remote.local("/home/alice")
	for i := 0; i < 15; i++ {
		if err := os.WriteFile(filepath.Join(home, fmt.Sprintf("f%02d", i)), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if err := sh.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stderr.Len() != 0 {
		t.Fatalf("stderr = %q", stderr.String())
	}

	out := stdout.String()
	for i := 0; i < 15; i++ {
		if n := strings.Count(out, fmt.Sprintf("f%02d\n", i)); n != 1 {
			t.Errorf("f%02d printed %d times", i, n)
		}
	}
	if !strings.Contains(out, "type 'more'") {
		t.Error("first page did not offer more")
	}
	if !strings.Contains(out, "(end of listing)") {
		t.Error("third call did not report the end")
	}
}

func TestLlsWithOffset(t *testing.T) {
	sh, _, stdout, _ := newTestShell(t, "", WithPageSize(2))
	for _, name := range []string{"a", "b", "c"} {
		if err := os.WriteFile(filepath.Join(sh.paths.LocalCWD, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if err := sh.Execute(context.Background(), "lls . 1"); err != nil {
		t.Fatalf("lls: %v", err)
	}
	if got := stdout.String(); !strings.HasPrefix(got, "b\nc\n") {
		t.Errorf("lls output = %q", got)
	}
	if err := sh.Execute(context.Background(), "lls . x"); err == nil {
		t.Error("lls accepted a non-numeric offset")
	}
}

func TestMoreWithoutListing(t *testing.T) {
	sh, _, _, _ := newTestShell(t, "")
	if err := sh.Execute(context.Background(), "more"); err == nil {
		t.Error("more without a prior listing succeeded")
	}
}

func TestCdAndPwd(t *testing.T) {
	sh, remote, stdout, _ := newTestShell(t, "")
	if err := os.MkdirAll(remote.local("/home/alice/logs"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(remote.local("/home/alice/file"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := sh.Execute(ctx, "cd logs"); err != nil {
		t.Fatalf("cd logs: %v", err)
	}
	if sh.paths.RemoteCWD != "/home/alice/logs" {
		t.Errorf("RemoteCWD = %q", sh.paths.RemoteCWD)
	}
	if err := sh.Execute(ctx, "cd .."); err != nil {
		t.Fatalf("cd ..: %v", err)
	}
	if err := sh.Execute(ctx, "cd file"); err == nil {
		t.Error("cd into a file succeeded")
	}
	if err := sh.Execute(ctx, "cd missing"); err == nil {
		t.Error("cd into a missing directory succeeded")
	}
	if err := sh.Execute(ctx, "pwd"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout.String(), "Remote working directory: /home/alice\n") {
		t.Errorf("pwd output = %q", stdout.String())
	}
}

func TestGet(t *testing.T) {
	sh, remote, stdout, _ := newTestShell(t, "")
	if err := os.WriteFile(remote.local("/home/alice/report.txt"), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := sh.Execute(context.Background(), "get report.txt"); err != nil {
		t.Fatalf("get: %v", err)
	}
	want := filepath.Join(sh.paths.LocalCWD, "report.txt")
	if len(remote.downloads) != 1 || remote.downloads[0] != [2]string{"/home/alice/report.txt", want} {
		t.Errorf("downloads = %v", remote.downloads)
	}
	if !strings.Contains(stdout.String(), "Download complete") {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestPutDefaultsToArchiveInRemoteCwd(t *testing.T) {
	sh, remote, _, _ := newTestShell(t, "")
	src := filepath.Join(sh.paths.LocalCWD, "notes.txt")
	if err := os.WriteFile(src, []byte("n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(remote.local("/srv/drop"), 0o755); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := sh.Execute(ctx, "put notes.txt"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := sh.Execute(ctx, "put notes.txt /srv/drop"); err != nil {
		t.Fatalf("put to dir: %v", err)
	}
	if err := sh.Execute(ctx, "put notes.txt /srv/named.zip"); err != nil {
		t.Fatalf("put to path: %v", err)
	}

	want := [][2]string{
		{src, "/home/alice/notes.txt.zip"},
		{src, "/srv/drop/notes.txt.zip"},
		{src, "/srv/named.zip"},
	}
	if len(remote.uploads) != len(want) {
		t.Fatalf("uploads = %v", remote.uploads)
	}
	for i := range want {
		if remote.uploads[i] != want[i] {
			t.Errorf("upload %d = %v, want %v", i, remote.uploads[i], want[i])
		}
	}
}

func TestPreview(t *testing.T) {
	sh, _, stdout, _ := newTestShell(t, "")
	text := filepath.Join(sh.paths.LocalCWD, "a.txt")
	if err := os.WriteFile(text, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	bin := filepath.Join(sh.paths.LocalCWD, "a.bin")
	if err := os.WriteFile(bin, []byte{0, 1, 2}, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := sh.Execute(context.Background(), "preview a.txt"); err != nil {
		t.Fatalf("preview: %v", err)
	}
	if stdout.String() != "hello\n" {
		t.Errorf("preview output = %q", stdout.String())
	}
	if err := sh.Execute(context.Background(), "preview a.bin"); err == nil {
		t.Error("preview of binary file succeeded")
	}
}

func TestRunReportsErrorsAndExits(t *testing.T) {
	sh, _, stdout, stderr := newTestShell(t, "bogus\nget\nexit\nls\n")
	if err := sh.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(stderr.String(), "Error: unknown command: bogus") {
		t.Errorf("stderr = %q", stderr.String())
	}
	if !strings.Contains(stderr.String(), "usage: get") {
		t.Errorf("stderr = %q", stderr.String())
	}
	// Nothing after exit runs.
	if strings.Count(stdout.String(), "sftpdeck alice@example") != 3 {
		t.Errorf("prompt count wrong in %q", stdout.String())
	}
}

func TestResolveRemote(t *testing.T) {
	ps := &PathState{RemoteCWD: "/home/alice", HomeRemote: "/home/alice"}
	tests := []struct {
		in   string
		want string
	}{
		{"", "/home/alice"},
		{".", "/home/alice"},
		{"logs", "/home/alice/logs"},
		{"../bob", "/home/bob"},
		{"/etc//ssh/", "/etc/ssh"},
		{"~", "/home/alice"},
		{"~/x", "/home/alice/x"},
		{"/../..", "/"},
	}
	for _, tt := range tests {
		got, err := ps.ResolveRemote(tt.in)
		if err != nil {
			t.Fatalf("ResolveRemote(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ResolveRemote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if _, err := ps.ResolveRemote("~bob"); err == nil {
		t.Error("~user accepted")
	}
}

func TestResolveLocal(t *testing.T) {
	ps := &PathState{LocalCWD: "/work", HomeLocal: "/home/me"}
	tests := []struct {
		in   string
		want string
	}{
		{"", "/work"},
		{"a/b", "/work/a/b"},
		{"../x", "/x"},
		{"/abs/./p", "/abs/p"},
		{"~", "/home/me"},
		{"~/docs", "/home/me/docs"},
	}
	for _, tt := range tests {
		got, err := ps.ResolveLocal(tt.in)
		if err != nil {
			t.Fatalf("ResolveLocal(%q): %v", tt.in, err)
		}
		if got != filepath.FromSlash(tt.want) {
			t.Errorf("ResolveLocal(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.00 KB"},
		{1536 * 1024, "1.50 MB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
