package artifactstore

import (
	"context"
	"io"
	"time"
)

// Backend is the object-storage abstraction [Store] packs/unpacks against.
// Logical paths are slash-separated keys rooted at the store's namespace,
// e.g. "rustdoc/serde/1.0.0/serde.zip".
type Backend interface {
	// Put writes the full contents of r to key, replacing any existing
	// object.
	Put(ctx context.Context, key string, r io.Reader) error
	// Get opens key for reading from the start.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// GetRange opens key for reading the inclusive byte range [start, end].
	// end == -1 means read to EOF.
	GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error)
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes a single key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key beginning with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	// ModTime returns key's last-modified time.
	ModTime(ctx context.Context, key string) (time.Time, error)
}
