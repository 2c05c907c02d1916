// Package storage holds uploaded media: listing photos, avatars, ticket
// attachments and lease signatures.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/ireside/ireside/internal/platform/config"
)

var (
	ErrNotFound        = errors.New("object not found")
	ErrInvalidKey      = errors.New("invalid object key")
	ErrTooLarge        = errors.New("upload too large")
	ErrUnsupportedType = errors.New("unsupported media type")
)

// Object is an open stored object. Callers must Close it.
type Object struct {
	io.ReadCloser
	ContentType string
	Size        int64
}

// Store is an object store addressed by slash-separated keys.
type Store interface {
	Put(ctx context.Context, key, contentType string, r io.Reader) error
	Open(ctx context.Context, key string) (*Object, error)
	Delete(ctx context.Context, key string) error
	// URL returns the address clients use to fetch a public object.
	URL(key string) string
}

// New builds the store selected by cfg.Driver.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "", "fs":
		return NewFSStore(cfg.Dir, cfg.PublicBaseURL)
	case "gcs":
		return NewGCSStore(ctx, GCSConfig{
			Bucket:        cfg.Bucket,
			PublicBaseURL: cfg.PublicBaseURL,
			EmulatorHost:  cfg.EmulatorHost,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// ValidateKey rejects keys that are empty, absolute, or that escape their
// prefix.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	if path.Clean(key) != key {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// ContentTypeForKey guesses an image content type from the key extension.
func ContentTypeForKey(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// IsPublicKey reports whether key lives under a prefix that anyone may
// fetch. Signatures and ticket attachments are served only through
// authorized endpoints.
func IsPublicKey(key string) bool {
	return strings.HasPrefix(key, "listings/") || strings.HasPrefix(key, "avatars/")
}
