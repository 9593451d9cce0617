package sftp

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
)

// Tracker receives transfer progress. *progressbar.ProgressBar satisfies it.
type Tracker interface {
	Add64(n int64) error
	Close() error
}

// ProgressFunc creates a Tracker for a transfer of size bytes.
type ProgressFunc func(t Transfer, size int64) Tracker

// progressBatchSize batches tracker updates (512KB).
const progressBatchSize = 512 * 1024

// NewProgressBar renders transfer progress on w.
func NewProgressBar(w io.Writer, t Transfer, size int64) *progressbar.ProgressBar {
	verb := "Downloading"
	name := filepath.Base(t.RemotePath)
	if t.Direction == Upload {
		verb = "Uploading"
		name = filepath.Base(t.LocalPath)
	}
	return progressbar.NewOptions64(
		size,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(fmt.Sprintf("%s %s", verb, name)),
		progressbar.OptionShowBytes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("bytes"),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

type nopTracker struct{}

func (nopTracker) Add64(int64) error { return nil }
func (nopTracker) Close() error      { return nil }

// progressWriter wraps an io.Writer to update a tracker with batched updates.
// It stops accepting bytes once ctx is done.
type progressWriter struct {
	writer           io.Writer
	tracker          Tracker
	ctx              context.Context
	bytesSinceUpdate int64
}

func (pw *progressWriter) Write(p []byte) (n int, err error) {
	if err := pw.ctx.Err(); err != nil {
		return 0, err
	}

	n, err = pw.writer.Write(p)
	if n > 0 {
		pw.bytesSinceUpdate += int64(n)
		if pw.bytesSinceUpdate >= progressBatchSize {
			pw.tracker.Add64(pw.bytesSinceUpdate)
			pw.bytesSinceUpdate = 0
		}
	}
	return
}

// Flush updates any pending progress.
func (pw *progressWriter) Flush() {
	if pw.bytesSinceUpdate > 0 {
		pw.tracker.Add64(pw.bytesSinceUpdate)
		pw.bytesSinceUpdate = 0
	}
}

// progressReader wraps an io.Reader for upload progress with batched updates.
type progressReader struct {
	reader           io.Reader
	tracker          Tracker
	ctx              context.Context
	size             int64
	bytesSinceUpdate int64
}

func (pr *progressReader) Read(p []byte) (n int, err error) {
	if err := pr.ctx.Err(); err != nil {
		return 0, err
	}

	n, err = pr.reader.Read(p)
	if n > 0 {
		pr.bytesSinceUpdate += int64(n)
		if pr.bytesSinceUpdate >= progressBatchSize {
			pr.tracker.Add64(pr.bytesSinceUpdate)
			pr.bytesSinceUpdate = 0
		}
	}
	return
}

// Size lets sftp.File.ReadFrom size its concurrent writes.
func (pr *progressReader) Size() int64 {
	return pr.size
}

// Flush updates any pending progress.
func (pr *progressReader) Flush() {
	if pr.bytesSinceUpdate > 0 {
		pr.tracker.Add64(pr.bytesSinceUpdate)
		pr.bytesSinceUpdate = 0
	}
}
