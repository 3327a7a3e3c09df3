package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/filevault/filevault/internal/config"
)

// Config alias for storage configuration
type Config = config.StorageConfig

// ObjectRecord describes one raw object as the backend sees it.
type ObjectRecord struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// Backend defines the interface for all storage backends. Keys are
// opaque '/'-separated strings; the logical key/variant model lives
// above this layer.
//
// All operations are idempotent at the key level: re-putting identical
// bytes or removing an absent key is not an error.
type Backend interface {
	// List returns every object whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]ObjectRecord, error)

	// Get returns the object's bytes, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores data under key. digest, when non-empty, is the hex MD5
	// of data; backends that support server-side verification reject on
	// mismatch, others treat it as advisory.
	Put(ctx context.Context, key string, data []byte, contentType, digest string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Lifecycle
	Close() error
}

// CommonImageExts is the fixed set of extensions probed when an
// original's extension is unknown.
var CommonImageExts = []string{"png", "jpg", "jpeg", "gif", "webp", "jfif"}

// NewBackend creates a storage backend based on configuration.
func NewBackend(cfg Config) (Backend, error) {
	switch cfg.Backend {
	case "s3":
		return NewS3Backend(cfg)
	case "badger":
		return NewBadgerBackend(cfg)
	case "pebble":
		return NewPebbleBackend(cfg)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}
