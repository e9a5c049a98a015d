package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by Read when no object exists for the key.
var ErrNotFound = errors.New("object not found")

// FileInfo represents metadata about a stored object.
type FileInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// Storage defines the object storage operations used for cache snapshots.
type Storage interface {
	// Write stores content from the reader with the given key.
	// The size parameter is the expected content size (-1 if unknown).
	Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Read retrieves content for the given key. Returns ErrNotFound when the
	// key does not exist. The caller closes the returned ReadCloser.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the content with the given key.
	Delete(ctx context.Context, key string) error

	// List returns information about all objects with keys starting with the given prefix.
	List(ctx context.Context, prefix string) ([]FileInfo, error)

	// Exists checks if content with the given key exists.
	Exists(ctx context.Context, key string) (bool, error)
}

// Config selects and configures a Storage backend.
type Config struct {
	Driver string      `mapstructure:"driver"` // "local", "s3"
	Local  LocalConfig `mapstructure:"local"`
	S3     S3Config    `mapstructure:"s3"`
}

// New creates the Storage selected by cfg.Driver.
func New(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Driver {
	case "s3":
		return NewS3Storage(ctx, cfg.S3)
	default:
		return NewLocalStorage(cfg.Local)
	}
}
