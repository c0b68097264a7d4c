// Package scratch manages per-job local working directories.
//
// Layout: <root>/<kind>/<jobKey>/ holds a source/ subdirectory with the
// staged input and a work/ subdirectory for intermediate clips and frames. Every job gets its own
// jobKey, so concurrent jobs never share a path.
package scratch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrStaging       = errors.New("staging failure")
	ErrCleanup       = errors.New("cleanup failure")
	ErrInvalidJobKey = errors.New("invalid scratch job key")
)

const (
	sourceDirName = "source"
	workDirName   = "work"
)

// CleanupError pairs a directory path with its removal error.
type CleanupError struct {
	Path string
	Err  error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("remove scratch %s: %v", e.Path, e.Err)
}

func (e *CleanupError) Unwrap() []error {
	return []error{ErrCleanup, e.Err}
}

type Manager struct {
	root string
}

// NewManager returns a manager rooted at <root>/<kind>.
func NewManager(root, kind string) *Manager {
	return &Manager{root: filepath.Join(root, kind)}
}

func (m *Manager) Root() string {
	return m.root
}

// JobDir returns the namespace directory for jobKey without creating it.
func (m *Manager) JobDir(jobKey string) (string, error) {
	if err := validateJobKey(jobKey); err != nil {
		return "", err
	}
	return filepath.Join(m.root, jobKey), nil
}

// Stage copies src into <jobDir>/source/<fileName>, creating parent
// directories.
func (m *Manager) Stage(ctx context.Context, src io.Reader, jobKey, fileName string) (string, error) {
	jobDir, err := m.JobDir(jobKey)
	if err != nil {
		return "", err
	}
	fileName = filepath.Base(strings.TrimSpace(fileName))
	if fileName == "." || fileName == string(filepath.Separator) || fileName == "" {
		return "", fmt.Errorf("%w: empty staged file name", ErrStaging)
	}
	sourceDir := filepath.Join(jobDir, sourceDirName)
	if err := os.MkdirAll(sourceDir, 0o755); err != nil {
		return "", errors.Join(ErrStaging, err)
	}

	localPath := filepath.Join(sourceDir, fileName)
	file, err := os.OpenFile(localPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", errors.Join(ErrStaging, err)
	}

	written, copyErr := io.Copy(file, &contextReader{ctx: ctx, r: src})
	closeErr := file.Close()
	if copyErr != nil {
		return "", errors.Join(ErrStaging, fmt.Errorf("copy into %s: %w", localPath, copyErr))
	}
	if closeErr != nil {
		return "", errors.Join(ErrStaging, closeErr)
	}

	zerolog.Ctx(ctx).Debug().
		Str("local_path", localPath).
		Int64("bytes", written).
		Msg("staged remote object")

	return localPath, nil
}

// WorkDir returns (and creates) the per-job output directory.
func (m *Manager) WorkDir(jobKey string) (string, error) {
	jobDir, err := m.JobDir(jobKey)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(jobDir, workDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Join(ErrStaging, err)
	}
	return dir, nil
}

// Release removes every local artifact of the job. Removing a job that
// has no directory is not an error.
func (m *Manager) Release(ctx context.Context, jobKey string) error {
	jobDir, err := m.JobDir(jobKey)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(jobDir); err != nil {
		cleanupErr := &CleanupError{Path: jobDir, Err: err}
		zerolog.Ctx(ctx).Warn().Err(err).Str("path", jobDir).Msg("failed to remove scratch directory")
		return cleanupErr
	}
	zerolog.Ctx(ctx).Debug().Str("path", jobDir).Msg("released scratch directory")
	return nil
}

// SweepResult is the outcome of a stale directory sweep.
type SweepResult struct {
	Removed []string
	Errors  []*CleanupError
}

// Sweep removes job directories older than maxAge. They are left behind
// only when a process died mid-job.
func (m *Manager) Sweep(ctx context.Context, maxAge time.Duration) SweepResult {
	result := SweepResult{}

	entries, err := os.ReadDir(m.root)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, &CleanupError{Path: m.root, Err: err})
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dirPath := filepath.Join(m.root, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, &CleanupError{Path: dirPath, Err: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(dirPath); err != nil {
			result.Errors = append(result.Errors, &CleanupError{Path: dirPath, Err: err})
			zerolog.Ctx(ctx).Warn().Err(err).Str("path", dirPath).Msg("failed to remove stale scratch directory")
			continue
		}
		result.Removed = append(result.Removed, dirPath)
		zerolog.Ctx(ctx).Info().
			Str("path", dirPath).
			Dur("age", time.Since(info.ModTime())).
			Msg("removed stale scratch directory")
	}

	return result
}

func validateJobKey(jobKey string) error {
	if strings.TrimSpace(jobKey) == "" || jobKey == "." || jobKey == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidJobKey, jobKey)
	}
	if strings.ContainsAny(jobKey, `/\`) || filepath.Base(jobKey) != jobKey {
		return fmt.Errorf("%w: %q", ErrInvalidJobKey, jobKey)
	}
	return nil
}

// contextReader stops a long copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
