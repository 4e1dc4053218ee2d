// Package storage defines the common interfaces of the storage adapters and resolves
// resource URIs to connections. Backends live in the local and gcs sub-packages and
// register a ConnectionFactory for their type.
package storage

import (
	"context"
	"io"

	storageConfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage/config"
)

// StorageExecutor defines generic storage operations.
type StorageExecutor interface {
	// Upload uploads data to the specified bucket and object name.
	// 'contentType' is the MIME type of the data.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download downloads data from the specified bucket and object name.
	// It returns a ReadCloser which must be closed by the caller after use.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn for each object within bucket whose name starts with prefix.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
	// DeleteObject deletes the specified object from the bucket. A missing object is not an error.
	DeleteObject(ctx context.Context, bucket, objectName string) error
}

// StorageConnection represents a named connection to one storage backend.
type StorageConnection interface {
	StorageExecutor
	// Close releases the connection.
	Close() error
	// Type returns the backend type (e.g., "local", "gcs").
	Type() string
	// Name returns the connection name.
	Name() string
}

// ConnectionFactory opens a connection of one backend type.
type ConnectionFactory func(ctx context.Context, name string, cfg storageConfig.StorageConfig) (StorageConnection, error)

// NamedFactory pairs a ConnectionFactory with the storage type it serves.
type NamedFactory struct {
	Type    string
	Factory ConnectionFactory
}
