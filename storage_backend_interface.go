package cytoqc

import (
	"context"
	"errors"
	"os"
)

// StorageBackend stores report blobs by key. Reports can live on the local
// filesystem, in memory, or in S3-compatible object storage.
type StorageBackend interface {
	// Read returns the blob stored under key. Missing keys yield an error
	// matching ErrBlobNotFound.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write stores data under key, replacing any previous blob.
	Write(ctx context.Context, key string, data []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the keys starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases any resources.
	Close() error
}

// ErrBlobNotFound is returned by backends for missing keys.
var ErrBlobNotFound = os.ErrNotExist

// IsBlobNotFound reports whether err denotes a missing key.
func IsBlobNotFound(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

var (
	_ StorageBackend = (*FileBackend)(nil)
	_ StorageBackend = (*S3Backend)(nil)
	_ StorageBackend = (*MemoryBackend)(nil)
)
