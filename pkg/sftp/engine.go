// Package sftp moves whole files between the local filesystem and a pooled
// SSH session. Every call opens its own SFTP sub-channel, so concurrent
// transfers over one session never share a channel.
package sftp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"go.uber.org/zap"

	"github.com/ai-help-me/sftpdeck/pkg/logging"
	"github.com/ai-help-me/sftpdeck/pkg/metrics"
	deckssh "github.com/ai-help-me/sftpdeck/pkg/ssh"
)

// Direction is the way bytes flow in a transfer.
type Direction string

const (
	Download Direction = "download"
	Upload   Direction = "upload"
)

// Transfer describes one upload or download. It lives for a single call.
type Transfer struct {
	ID         string
	Direction  Direction
	RemotePath string
	LocalPath  string
}

func newTransfer(dir Direction, remotePath, localPath string) Transfer {
	return Transfer{
		ID:         uuid.NewString(),
		Direction:  dir,
		RemotePath: remotePath,
		LocalPath:  localPath,
	}
}

// Engine performs single-file transfers. The whole file is held in memory
// for the duration of a call, so file size is bounded by available memory.
type Engine struct {
	timeout    time.Duration
	progress   ProgressFunc
	clientOpts []sftp.ClientOption
	log        *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithTimeout bounds every transfer. Zero disables the bound.
func WithTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.timeout = d }
}

// WithProgress installs a progress tracker factory.
func WithProgress(fn ProgressFunc) EngineOption {
	return func(e *Engine) { e.progress = fn }
}

// WithClientOptions appends options to every SFTP sub-channel.
func WithClientOptions(opts ...sftp.ClientOption) EngineOption {
	return func(e *Engine) { e.clientOpts = append(e.clientOpts, opts...) }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// NewEngine creates a transfer engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{log: logging.L()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DownloadTo reads remotePath fully into memory over a fresh sub-channel of
// conn, then writes it to localPath through a temporary file in the same
// directory. localPath is only replaced once every byte is on disk.
//
// Failures are *TransferError, or *ssh.TimeoutError when the transfer
// deadline expires. conn itself is never closed.
func (e *Engine) DownloadTo(ctx context.Context, conn Conn, remotePath, localPath string) error {
	t := newTransfer(Download, remotePath, localPath)
	return e.run(ctx, conn, t, func(ctx context.Context, client *sftp.Client) (int64, error) {
		data, err := e.readRemote(ctx, client, t)
		if err != nil {
			return 0, err
		}
		if err := writeLocal(localPath, data); err != nil {
			return 0, err
		}
		return int64(len(data)), nil
	})
}

// UploadFrom reads localPath fully into memory and writes it to remotePath
// over a fresh sub-channel of conn. Bytes land in a temporary remote file
// that is renamed over remotePath on success and removed on failure.
//
// UploadFrom never compresses; callers wanting an archive run
// archive.Compress first and upload its output.
func (e *Engine) UploadFrom(ctx context.Context, conn Conn, localPath, remotePath string) error {
	t := newTransfer(Upload, remotePath, localPath)

	data, err := os.ReadFile(localPath)
	if err != nil {
		err = &TransferError{Transfer: t, Err: fmt.Errorf("read local: %w", err)}
		metrics.RecordTransfer(string(Upload), 0, 0, err)
		return err
	}

	return e.run(ctx, conn, t, func(ctx context.Context, client *sftp.Client) (int64, error) {
		if err := e.writeRemote(ctx, client, t, data); err != nil {
			return 0, err
		}
		return int64(len(data)), nil
	})
}

type transferFunc func(ctx context.Context, client *sftp.Client) (int64, error)

// run opens the sub-channel, applies the deadline and classifies the result.
func (e *Engine) run(ctx context.Context, conn Conn, t Transfer, fn transferFunc) error {
	start := time.Now()
	log := e.log.With(
		zap.String("transfer_id", t.ID),
		zap.String("direction", string(t.Direction)),
		logging.Path("remote", t.RemotePath),
		logging.Path("local", t.LocalPath),
	)

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	size, err := e.transfer(ctx, conn, t, fn)
	elapsed := time.Since(start)
	metrics.RecordTransfer(string(t.Direction), size, elapsed, err)
	if err != nil {
		log.Warn("transfer failed", logging.Duration("elapsed", elapsed), logging.Err(err))
		return err
	}
	log.Info("transfer complete", zap.Int64("bytes", size), logging.Duration("elapsed", elapsed))
	return nil
}

func (e *Engine) transfer(ctx context.Context, conn Conn, t Transfer, fn transferFunc) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, classify(ctx, t, err)
	}

	client, err := openClient(conn, e.clientOpts)
	if err != nil {
		return 0, classify(ctx, t, err)
	}
	defer client.Close()

	// Closing the sub-channel unblocks any in-flight request.
	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	size, err := fn(ctx, client)
	if err != nil {
		return 0, classify(ctx, t, err)
	}
	return size, nil
}

// classify turns an expired deadline into *ssh.TimeoutError and everything
// else into *TransferError.
func classify(ctx context.Context, t Transfer, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || deckssh.IsTimeout(err) {
		return &deckssh.TimeoutError{Op: string(t.Direction), Target: t.RemotePath, Err: err}
	}
	return &TransferError{Transfer: t, Err: err}
}

func (e *Engine) tracker(t Transfer, size int64) Tracker {
	if e.progress == nil {
		return nopTracker{}
	}
	return e.progress(t, size)
}

func (e *Engine) readRemote(ctx context.Context, client *sftp.Client, t Transfer) ([]byte, error) {
	src, err := client.Open(t.RemotePath)
	if err != nil {
		return nil, fmt.Errorf("open remote: %w", err)
	}
	defer src.Close()

	fi, err := src.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat remote: %w", err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("remote %s is a directory", t.RemotePath)
	}

	tracker := e.tracker(t, fi.Size())
	defer tracker.Close()

	var buf bytes.Buffer
	buf.Grow(int(fi.Size()))
	pw := &progressWriter{writer: &buf, tracker: tracker, ctx: ctx}

	// File.WriteTo issues concurrent reads.
	if _, err := src.WriteTo(pw); err != nil {
		return nil, fmt.Errorf("read remote: %w", err)
	}
	pw.Flush()
	return buf.Bytes(), nil
}

// writeLocal writes data next to localPath and renames it into place. A
// replaced file keeps its permission bits; a new one gets 0644.
func writeLocal(localPath string, data []byte) (err error) {
	mode := os.FileMode(0o644)
	if fi, statErr := os.Stat(localPath); statErr == nil && fi.Mode().IsRegular() {
		mode = fi.Mode().Perm()
	}

	dir := filepath.Dir(localPath)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(localPath)+".*.part")
	if err != nil {
		return fmt.Errorf("create local: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write local: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync local: %w", err)
	}
	if err = tmp.Chmod(mode); err != nil {
		return fmt.Errorf("chmod local: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close local: %w", err)
	}
	if err = os.Rename(tmp.Name(), localPath); err != nil {
		return fmt.Errorf("rename local: %w", err)
	}
	return nil
}

func (e *Engine) writeRemote(ctx context.Context, client *sftp.Client, t Transfer, data []byte) (err error) {
	dir, base := path.Split(t.RemotePath)
	tmpPath := path.Join(dir, "."+base+"."+t.ID+".part")

	dst, err := client.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("create remote: %w", err)
	}
	defer func() {
		if err != nil {
			dst.Close()
			client.Remove(tmpPath)
		}
	}()

	tracker := e.tracker(t, int64(len(data)))
	defer tracker.Close()

	pr := &progressReader{reader: bytes.NewReader(data), tracker: tracker, ctx: ctx, size: int64(len(data))}

	// File.ReadFrom issues concurrent writes when the reader reports its size.
	if _, err = dst.ReadFrom(pr); err != nil {
		return fmt.Errorf("write remote: %w", err)
	}
	pr.Flush()

	if err = dst.Close(); err != nil {
		return fmt.Errorf("close remote: %w", err)
	}
	if err = renameRemote(client, tmpPath, t.RemotePath); err != nil {
		return err
	}
	return nil
}

// renameRemote replaces newPath with oldPath, atomically when the server
// offers posix-rename.
func renameRemote(client *sftp.Client, oldPath, newPath string) error {
	if _, ok := client.HasExtension("posix-rename@openssh.com"); ok {
		if err := client.PosixRename(oldPath, newPath); err != nil {
			return fmt.Errorf("rename remote: %w", err)
		}
		return nil
	}

	// Plain SFTP rename refuses to overwrite.
	if err := client.Remove(newPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("replace remote: %w", err)
	}
	if err := client.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("rename remote: %w", err)
	}
	return nil
}
