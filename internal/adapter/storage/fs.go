// Package storage implements domain.Persister for the local filesystem and S3.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// StreamError wraps a failure reading the source stream, as opposed to
// failing to write to storage.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return "read stream: " + e.Err.Error()
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

type sourceReader struct {
	r io.Reader
}

func (s sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		err = &StreamError{Err: err}
	}
	return n, err
}

// FS writes assets into a single directory.
type FS struct {
	dir        string
	logger     *slog.Logger
	createTemp func(dir, pattern string) (*os.File, error)
}

// NewFS creates a filesystem persister, creating dir if it does not exist.
func NewFS(dir string, logger *slog.Logger) (*FS, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &FS{dir: dir, logger: logger, createTemp: os.CreateTemp}, nil
}

// Dir returns the output directory.
func (p *FS) Dir() string {
	return p.dir
}

// Persist streams r into dir/name. The file only appears once fully written;
// a partial file is removed on any error.
func (p *FS) Persist(ctx context.Context, name string, r io.Reader) (int64, error) {
	if name == "" || name != filepath.Base(name) {
		return 0, fmt.Errorf("invalid file name %q", name)
	}
	logger := p.logger.With("filename", name)

	tmp, err := p.createTemp(p.dir, "."+name+".*.part")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, sourceReader{r: r})
	if err != nil {
		tmp.Close()
		var streamErr *StreamError
		if errors.As(err, &streamErr) {
			logger.Error("encountered error in download stream", "error", err)
			return n, err
		}
		logger.Error("failed to write asset data", "error", err)
		return n, fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("close %s: %w", name, err)
	}
	if err := ctx.Err(); err != nil {
		return n, err
	}

	if err := os.Rename(tmp.Name(), filepath.Join(p.dir, name)); err != nil {
		return n, fmt.Errorf("rename %s: %w", name, err)
	}

	logger.Debug("successfully written asset data", "bytes", n)
	return n, nil
}
