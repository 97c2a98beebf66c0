// Package storage puts and deletes uploaded assets in an object store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"storefront/internal/config"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrInvalidKey     = errors.New("invalid object key")
)

// ObjectStore is the remote end of an upload. Put consumes body until EOF
// and returns the public URL of the stored object.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// New builds the store selected by cfg.Driver.
func New(cfg config.StorageConfig, baseURL string) (ObjectStore, error) {
	switch cfg.Driver {
	case "s3":
		return NewS3Store(cfg)
	case "local", "":
		return NewLocalStore(cfg.LocalRoot, baseURL)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// Key joins folder and id into an object key, rejecting traversal.
func Key(folder, id string) (string, error) {
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	id = strings.TrimSpace(id)
	if id == "" || strings.Contains(id, "/") {
		return "", ErrInvalidKey
	}
	key := path.Clean(path.Join(folder, id))
	if key == "." || strings.HasPrefix(key, "..") || strings.HasPrefix(key, "/") {
		return "", ErrInvalidKey
	}
	return key, nil
}
