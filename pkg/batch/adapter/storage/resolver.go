package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	storageConfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

const (
	TypeLocal = "local"
	TypeGCS   = "gcs"

	// SchemeGCS prefixes object URIs served by the gcs connection, e.g. gs://bucket/path.
	SchemeGCS = "gs"
)

// Resource is one object addressed through a connection.
type Resource struct {
	URI    string
	Conn   StorageConnection
	Bucket string
	Object string
}

// Open streams the object. The caller closes the reader.
func (r *Resource) Open(ctx context.Context) (io.ReadCloser, error) {
	return r.Conn.Download(ctx, r.Bucket, r.Object)
}

// Write replaces the object with data.
func (r *Resource) Write(ctx context.Context, data io.Reader, contentType string) error {
	return r.Conn.Upload(ctx, r.Bucket, r.Object, data, contentType)
}

func (r *Resource) String() string {
	return r.URI
}

// ConnectionResolver opens named connections on first use and maps resource URIs to them.
//
// A gs:// URI uses the connection configured under the name "gs", or a gcs connection
// with default credentials. Any other URI is a local path; its directory becomes the
// base of a local connection.
type ConnectionResolver struct {
	configs storageConfig.DatasourcesConfig

	mu        sync.Mutex
	factories map[string]ConnectionFactory
	conns     map[string]StorageConnection
}

func NewConnectionResolver(configs storageConfig.DatasourcesConfig, factories ...NamedFactory) *ConnectionResolver {
	r := &ConnectionResolver{
		configs:   configs,
		factories: make(map[string]ConnectionFactory),
		conns:     make(map[string]StorageConnection),
	}
	for _, f := range factories {
		r.Register(f)
	}
	return r
}

// Register adds the factory of a storage type.
func (r *ConnectionResolver) Register(f NamedFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[f.Type] = f.Factory
}

// ResolveStorageConnection returns the connection configured under name.
func (r *ConnectionResolver) ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error) {
	cfg, ok := r.configs[name]
	if !ok {
		return nil, fmt.Errorf("storage connection '%s' not found in configuration", name)
	}
	return r.connection(ctx, name, cfg)
}

// ResolveResource maps uri to a connection, bucket and object.
func (r *ConnectionResolver) ResolveResource(ctx context.Context, uri string) (*Resource, error) {
	if uri == "" {
		return nil, fmt.Errorf("resource location cannot be empty")
	}

	if strings.HasPrefix(uri, SchemeGCS+"://") {
		u, err := url.Parse(uri)
		if err != nil {
			return nil, fmt.Errorf("invalid resource location '%s': %w", uri, err)
		}
		object := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || object == "" {
			return nil, fmt.Errorf("resource location '%s' must name a bucket and an object", uri)
		}
		cfg, ok := r.configs[SchemeGCS]
		if !ok {
			cfg = storageConfig.StorageConfig{Type: TypeGCS}
		}
		conn, err := r.connection(ctx, SchemeGCS, cfg)
		if err != nil {
			return nil, err
		}
		return &Resource{URI: uri, Conn: conn, Bucket: u.Host, Object: object}, nil
	}

	path := strings.TrimPrefix(uri, "file://")
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid resource location '%s': %w", uri, err)
	}
	dir := filepath.Dir(abs)
	conn, err := r.connection(ctx, TypeLocal+":"+dir, storageConfig.StorageConfig{Type: TypeLocal, BaseDir: dir})
	if err != nil {
		return nil, err
	}
	return &Resource{URI: uri, Conn: conn, Object: filepath.Base(abs)}, nil
}

func (r *ConnectionResolver) connection(ctx context.Context, name string, cfg storageConfig.StorageConfig) (StorageConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[name]; ok {
		return conn, nil
	}
	factory, ok := r.factories[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("no storage provider found for type '%s' (connection '%s')", cfg.Type, name)
	}
	conn, err := factory(ctx, name, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage connection '%s': %w", name, err)
	}
	r.conns[name] = conn
	logger.Debugf("Opened %s storage connection '%s'.", cfg.Type, name)
	return conn, nil
}

// CloseAll closes every opened connection.
func (r *ConnectionResolver) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result error
	for name, conn := range r.conns {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close storage connection '%s': %w", name, err))
		}
		delete(r.conns, name)
	}
	return result
}
