// Package output defines the secondary/driven ports of the application.
package output

import (
	"context"
	"io"
)

// ObjectStorage defines the secondary port for object storage. It is
// used both to fetch source containers before conversion and to push
// converted artifacts back out.
type ObjectStorage interface {
	// List returns all geodatabase containers in the storage.
	List(ctx context.Context) ([]StorageObject, error)

	// Download downloads a container to the local filesystem.
	Download(ctx context.Context, key string, dest string) error

	// Upload uploads a local file (a converted artifact) under key.
	// Backends without write support return domain.ErrUnsupported.
	Upload(ctx context.Context, src string, key string) error

	// GetReader returns a reader for the given object.
	GetReader(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if an object exists.
	Exists(ctx context.Context, key string) (bool, error)
}

// StorageObject represents a file in object storage.
type StorageObject struct {
	Key          string // Object key/path
	Size         int64  // Size in bytes
	LastModified int64  // Unix timestamp
	ETag         string // Content hash
}

// StorageType represents the type of storage backend.
type StorageType string

const (
	StorageTypeS3    StorageType = "s3"
	StorageTypeAzure StorageType = "azure"
	StorageTypeHTTP  StorageType = "http"
	StorageTypeLocal StorageType = "local"
)
