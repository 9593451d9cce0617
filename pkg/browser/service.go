// Package browser is the narrow facade the CLI and interactive shell use to
// reach the connection pool, transfer engine, compression stage and
// directory lister. Every remote call names its endpoint and secret; the
// pool decides whether a handshake is needed.
package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ai-help-me/sftpdeck/pkg/archive"
	"github.com/ai-help-me/sftpdeck/pkg/listing"
	"github.com/ai-help-me/sftpdeck/pkg/logging"
	"github.com/ai-help-me/sftpdeck/pkg/registry"
	deckftp "github.com/ai-help-me/sftpdeck/pkg/sftp"
	"github.com/ai-help-me/sftpdeck/pkg/ssh"
)

// Endpoint addresses a remote principal.
type Endpoint struct {
	Host string
	Port int
	User string
}

// Key returns the pool key for e.
func (e Endpoint) Key() ssh.Key {
	return ssh.NewKey(e.Host, e.Port, e.User)
}

func (e Endpoint) String() string {
	return e.Key().String()
}

// EndpointFor converts a registry record.
func EndpointFor(s registry.Server) Endpoint {
	return Endpoint{Host: s.Address, Port: s.Port, User: s.Username}
}

// Service serves browse and transfer requests over pooled sessions.
type Service struct {
	pool           *ssh.Pool
	engine         *deckftp.Engine
	workers        int
	listTimeout    time.Duration
	cleanupArchive bool
	log            *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithEngine replaces the default transfer engine.
func WithEngine(e *deckftp.Engine) Option {
	return func(s *Service) { s.engine = e }
}

// WithWorkers bounds how many transfers RunBatch runs at once.
func WithWorkers(n int) Option {
	return func(s *Service) { s.workers = n }
}

// WithListTimeout bounds each remote listing. Zero disables the bound.
func WithListTimeout(d time.Duration) Option {
	return func(s *Service) { s.listTimeout = d }
}

// WithArchiveCleanup removes the compressed archive once Upload returns,
// whether or not the upload succeeded. By default the archive stays on disk.
func WithArchiveCleanup(enabled bool) Option {
	return func(s *Service) { s.cleanupArchive = enabled }
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

// New creates a Service over pool.
func New(pool *ssh.Pool, opts ...Option) *Service {
	s := &Service{
		pool:    pool,
		workers: 4,
		log:     logging.L(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.engine == nil {
		s.engine = deckftp.NewEngine(deckftp.WithLogger(s.log))
	}
	if s.workers < 1 {
		s.workers = 1
	}
	return s
}

// Connect authenticates ep, or reuses its pooled session.
func (s *Service) Connect(ctx context.Context, ep Endpoint, secret string) error {
	_, err := s.pool.Acquire(ctx, ep.Key(), secret)
	return err
}

// Disconnect closes the pooled session for ep, if any.
func (s *Service) Disconnect(ep Endpoint) error {
	return s.pool.Release(ep.Key())
}

// Close releases every pooled session.
func (s *Service) Close() error {
	return s.pool.CloseAll()
}

// ListLocal returns one page of the local directory dir.
func (s *Service) ListLocal(dir string, offset, limit int) ([]string, error) {
	return listing.ListLocal(dir, offset, limit)
}

// ListRemote returns one page of the remote directory remotePath.
func (s *Service) ListRemote(ctx context.Context, ep Endpoint, secret, remotePath string, offset, limit int) ([]string, error) {
	sess, err := s.pool.Acquire(ctx, ep.Key(), secret)
	if err != nil {
		return nil, err
	}
	if s.listTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.listTimeout)
		defer cancel()
	}
	return listing.ListRemote(ctx, sess, remotePath, offset, limit)
}

// Download copies remotePath on ep to localPath.
func (s *Service) Download(ctx context.Context, ep Endpoint, secret, remotePath, localPath string) error {
	sess, err := s.pool.Acquire(ctx, ep.Key(), secret)
	if err != nil {
		return err
	}
	return s.engine.DownloadTo(ctx, sess, remotePath, localPath)
}

// Upload compresses localPath and uploads the archive to remotePath on ep.
// It returns the local archive path. Compression failures abort before any
// network activity.
func (s *Service) Upload(ctx context.Context, ep Endpoint, secret, localPath, remotePath string) (string, error) {
	archivePath, err := archive.Compress(localPath)
	if err != nil {
		return "", err
	}
	if s.cleanupArchive {
		defer func() {
			if rmErr := os.Remove(archivePath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				s.log.Warn("remove archive", logging.Path("path", archivePath), logging.Err(rmErr))
			}
		}()
	}

	sess, err := s.pool.Acquire(ctx, ep.Key(), secret)
	if err != nil {
		return archivePath, err
	}
	if err := s.engine.UploadFrom(ctx, sess, archivePath, remotePath); err != nil {
		return archivePath, err
	}
	return archivePath, nil
}

// RealPath canonicalizes remotePath on ep.
func (s *Service) RealPath(ctx context.Context, ep Endpoint, secret, remotePath string) (string, error) {
	var resolved string
	err := s.withSftp(ctx, ep, secret, "realpath", remotePath, func(c *sftp.Client) error {
		var err error
		resolved, err = c.RealPath(remotePath)
		return err
	})
	return resolved, err
}

// Stat returns file info for remotePath on ep.
func (s *Service) Stat(ctx context.Context, ep Endpoint, secret, remotePath string) (os.FileInfo, error) {
	var fi os.FileInfo
	err := s.withSftp(ctx, ep, secret, "stat", remotePath, func(c *sftp.Client) error {
		var err error
		fi, err = c.Stat(remotePath)
		return err
	})
	return fi, err
}

// withSftp runs fn on a short-lived sub-channel of ep's session, bounded by
// the list timeout. Failures come back as *listing.ListError, or as
// *ssh.TimeoutError once the deadline has passed.
func (s *Service) withSftp(ctx context.Context, ep Endpoint, secret, op, remotePath string, fn func(*sftp.Client) error) error {
	sess, err := s.pool.Acquire(ctx, ep.Key(), secret)
	if err != nil {
		return err
	}
	if s.listTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.listTimeout)
		defer cancel()
	}

	err = func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		client, err := sess.NewSftp()
		if err != nil {
			return err
		}
		defer client.Close()
		// pkg/sftp calls take no context; closing the client unblocks them.
		stop := context.AfterFunc(ctx, func() { client.Close() })
		defer stop()
		return fn(client)
	}()
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &ssh.TimeoutError{Op: op, Target: ep.String() + ":" + remotePath, Err: err}
	}
	return &listing.ListError{Op: op, Source: listing.SourceRemote, Path: remotePath, Err: err}
}

// PreviewLocal returns up to maxBytes from the start of a local file and
// whether the file was longer.
func (s *Service) PreviewLocal(path string, maxBytes int) ([]byte, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, fmt.Errorf("open preview: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, false, fmt.Errorf("stat preview: %w", err)
	}
	if fi.IsDir() {
		return nil, false, fmt.Errorf("preview %s: is a directory", path)
	}

	data, err := io.ReadAll(io.LimitReader(f, int64(maxBytes)+1))
	if err != nil {
		return nil, false, fmt.Errorf("read preview: %w", err)
	}
	if len(data) > maxBytes {
		return data[:maxBytes], true, nil
	}
	return data, false, nil
}

// Job is one transfer in a batch. For uploads LocalPath is compressed first
// and RemotePath receives the archive.
type Job struct {
	Direction  deckftp.Direction
	Endpoint   Endpoint
	Secret     string
	RemotePath string
	LocalPath  string
}

// Result is the outcome of one Job.
type Result struct {
	Job         Job
	ArchivePath string // uploads only
	Err         error
}

// RunBatch runs jobs on at most the configured number of workers and
// returns one Result per job, in order. A failed job does not stop the
// others; cancelling ctx stops jobs that have not started.
func (s *Service) RunBatch(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, job := range jobs {
		i, job := i, job
		results[i].Job = job
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			switch job.Direction {
			case deckftp.Download:
				results[i].Err = s.Download(ctx, job.Endpoint, job.Secret, job.RemotePath, job.LocalPath)
			case deckftp.Upload:
				results[i].ArchivePath, results[i].Err = s.Upload(ctx, job.Endpoint, job.Secret, job.LocalPath, job.RemotePath)
			default:
				results[i].Err = fmt.Errorf("unknown direction %q", job.Direction)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
