// Package local serves storage connections from a directory of the local file system.
// Buckets are sub-directories of the base directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	storageAdapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage"
	storageConfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

type localAdapter struct {
	name          string
	root          string
	defaultBucket string
}

var _ storageAdapter.StorageConnection = (*localAdapter)(nil)

// NewLocalAdapter opens the directory cfg.BaseDir, creating it when missing.
func NewLocalAdapter(ctx context.Context, name string, cfg storageConfig.StorageConfig) (storageAdapter.StorageConnection, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("local storage '%s': base-dir is required", name)
	}
	root, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("local storage '%s': %w", name, err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("local storage '%s': %w", name, err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("local storage '%s': base-dir '%s' is not a usable directory", name, cfg.BaseDir)
	}
	return &localAdapter{name: name, root: root, defaultBucket: cfg.BucketName}, nil
}

func (a *localAdapter) Close() error { return nil }

func (a *localAdapter) Type() string { return storageAdapter.TypeLocal }

func (a *localAdapter) Name() string { return a.name }

// Upload replaces bucket/objectName with data. The content lands in a temporary file
// that is renamed into place, so a reader never sees half an object.
func (a *localAdapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) (err error) {
	target, err := a.path(bucket, objectName)
	if err != nil {
		return err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = io.Copy(tmp, data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write '%s': %w", target, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("write '%s': %w", target, err)
	}
	if err = os.Rename(tmp.Name(), target); err != nil {
		return err
	}
	logger.Debugf("Local storage '%s': wrote '%s'.", a.name, target)
	return nil
}

// Download opens bucket/objectName. The caller closes the reader.
func (a *localAdapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	target, err := a.path(bucket, objectName)
	if err != nil {
		return nil, err
	}
	return os.Open(target)
}

// ListObjects calls fn with the slash-separated name, relative to the bucket, of every
// file starting with prefix.
func (a *localAdapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	dir, err := a.path(bucket, "")
	if err != nil {
		return err
	}
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if name := filepath.ToSlash(rel); strings.HasPrefix(name, prefix) {
			return fn(name)
		}
		return nil
	})
}

// DeleteObject removes bucket/objectName; a missing file is not an error.
func (a *localAdapter) DeleteObject(ctx context.Context, bucket, objectName string) error {
	target, err := a.path(bucket, objectName)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// path maps bucket/objectName below the root and refuses anything that escapes it.
func (a *localAdapter) path(bucket, objectName string) (string, error) {
	if bucket == "" {
		bucket = a.defaultBucket
	}
	p := filepath.Join(a.root, bucket, objectName)
	if p != a.root && !strings.HasPrefix(p, a.root+string(filepath.Separator)) {
		return "", fmt.Errorf("local storage '%s': '%s' is outside of %s", a.name, filepath.Join(bucket, objectName), a.root)
	}
	return p, nil
}
