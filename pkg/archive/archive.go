// Package archive implements the pre-upload compression stage: a local file
// is packed into a single-entry zip archive beside it.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"

	"github.com/ai-help-me/sftpdeck/pkg/metrics"
)

// Ext is appended to the source path to name the archive.
const Ext = ".zip"

// CompressionError reports a failed compression. No archive is left behind.
type CompressionError struct {
	Path string
	Err  error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("compress %s: %v", e.Path, e.Err)
}

func (e *CompressionError) Unwrap() error { return e.Err }

// ErrNotRegular is returned when the source is not a regular file.
var ErrNotRegular = errors.New("not a regular file")

// Compress writes path+".zip" containing one Deflate entry named after the
// base name of path, holding its bytes verbatim. An existing archive at that
// location is replaced. It returns the archive path.
func Compress(path string) (string, error) {
	archivePath, err := compress(path)
	metrics.RecordCompression(err)
	if err != nil {
		return "", &CompressionError{Path: path, Err: err}
	}
	return archivePath, nil
}

func compress(path string) (archivePath string, err error) {
	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	fi, err := src.Stat()
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}
	if !fi.Mode().IsRegular() {
		return "", ErrNotRegular
	}

	archivePath = path + Ext
	out, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(archivePath)
		}
	}()

	zw := zip.NewWriter(out)

	header, err := zip.FileInfoHeader(fi)
	if err != nil {
		return "", fmt.Errorf("build header: %w", err)
	}
	header.Name = filepath.Base(path)
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return "", fmt.Errorf("create entry: %w", err)
	}
	if _, err = io.Copy(w, src); err != nil {
		return "", fmt.Errorf("write entry: %w", err)
	}
	if err = zw.Close(); err != nil {
		return "", fmt.Errorf("finish archive: %w", err)
	}
	if err = out.Close(); err != nil {
		return "", fmt.Errorf("close archive: %w", err)
	}
	return archivePath, nil
}

// Extract reads a single-entry archive written by Compress and returns the
// entry name and its bytes.
func Extract(archivePath string) (string, []byte, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", nil, fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	if len(zr.File) != 1 {
		return "", nil, fmt.Errorf("archive %s has %d entries, want 1", archivePath, len(zr.File))
	}
	f := zr.File[0]

	rc, err := f.Open()
	if err != nil {
		return "", nil, fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", nil, fmt.Errorf("read entry %s: %w", f.Name, err)
	}
	return f.Name, data, nil
}
