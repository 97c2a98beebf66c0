package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MediaPathPrefix is where the API serves objects from a LocalStore.
const MediaPathPrefix = "/media/"

// LocalStore keeps objects on disk under a root directory. Writes go to a
// temp file and are renamed into place, so readers never see partial objects.
type LocalStore struct {
	rootDir string
	baseURL string
}

func NewLocalStore(rootDir, baseURL string) (*LocalStore, error) {
	if strings.TrimSpace(rootDir) == "" {
		return nil, fmt.Errorf("local storage root directory is required")
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root directory: %w", err)
	}

	return &LocalStore{
		rootDir: rootDir,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
	}, nil
}

func (s *LocalStore) Put(ctx context.Context, key string, body io.Reader, _ string) (string, error) {
	absPath, err := s.resolve(key)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", fmt.Errorf("creating object directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(absPath), filepath.Base(absPath)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("creating temporary object file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := io.Copy(tmpFile, contextReader{ctx: ctx, r: body}); err != nil {
		return "", fmt.Errorf("writing object file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("closing temporary object file: %w", err)
	}

	if err := os.Rename(tmpPath, absPath); err != nil {
		return "", fmt.Errorf("finalizing object file: %w", err)
	}

	return s.URL(key), nil
}

// Open returns the stored object for serving.
func (s *LocalStore) Open(key string) (*os.File, error) {
	absPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrObjectNotFound
	}
	return f, err
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	absPath, err := s.resolve(key)
	if err != nil {
		return err
	}

	err = os.Remove(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting object file: %w", err)
	}
	return nil
}

func (s *LocalStore) URL(key string) string {
	return s.baseURL + MediaPathPrefix + key
}

func (s *LocalStore) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", ErrInvalidKey
	}
	return filepath.Join(s.rootDir, clean), nil
}

// contextReader stops a copy once ctx is done, matching the cancellation
// the s3 uploader gets from UploadWithContext.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
