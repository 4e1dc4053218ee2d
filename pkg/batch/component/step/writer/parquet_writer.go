package writer

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go/parquet"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// ResourceResolver maps a resource location to a writable object.
type ResourceResolver interface {
	ResolveResource(ctx context.Context, uri string) (*storage.Resource, error)
}

// ParquetWriterConfig configures a ParquetWriter.
type ParquetWriterConfig struct {
	// Resource is the output directory, a local path or gs:// URI. With a partition
	// function it is the base of a Hive-style layout.
	Resource string `yaml:"resource"`
	// Compression is SNAPPY (default), GZIP or NONE.
	Compression string `yaml:"compression"`
}

// ParquetWriter writes every chunk as its own part file, Resource/part-<position>.parquet
// or Resource/<key>/part-<position>.parquet when partitioned. position is the step's
// commit position before the chunk, so a retried or restarted chunk replaces the part of
// its failed attempt and never touches parts of committed chunks. T must carry parquet
// struct tags.
type ParquetWriter[T any] struct {
	name         string
	cfg          ParquetWriterConfig
	resolver     ResourceResolver
	codec        parquet.CompressionCodec
	partitionKey func(T) (string, error)

	// written is the position after the last chunk, used when no StepExecution is in ctx.
	written int
	parts   int
}

// NewParquetWriter creates a writer. partitionKey is optional.
func NewParquetWriter[T any](name string, cfg ParquetWriterConfig, resolver ResourceResolver, partitionKey func(T) (string, error)) (*ParquetWriter[T], error) {
	if cfg.Resource == "" {
		return nil, exception.NewConfigurationError(name, "parquet writer requires a resource", nil)
	}
	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, exception.NewConfigurationError(name, "invalid parquet compression", err)
	}
	return &ParquetWriter[T]{
		name:         name,
		cfg:          cfg,
		resolver:     resolver,
		codec:        codec,
		partitionKey: partitionKey,
	}, nil
}

var _ port.ItemWriter[any] = (*ParquetWriter[any])(nil)

func (w *ParquetWriter[T]) writtenKey() string {
	return w.name + ".written.count"
}

func (w *ParquetWriter[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	w.written, _ = ec.GetInt(w.writtenKey())
	w.parts = 0
	logger.Infof("ParquetWriter '%s': opened, target %s, position %d.", w.name, w.cfg.Resource, w.written)
	return nil
}

// Write encodes items into one part file per partition and uploads them before returning.
// Failed partitions are reported together and do not stop the others.
func (w *ParquetWriter[T]) Write(ctx context.Context, t tx.Tx, items []T) error {
	if len(items) == 0 {
		return nil
	}
	position := w.written
	if se := port.StepExecutionFromContext(ctx); se != nil {
		position = se.CommitPosition
	}

	grouped := make(map[string][]T)
	for _, item := range items {
		key := ""
		if w.partitionKey != nil {
			k, err := w.partitionKey(item)
			if err != nil {
				return exception.NewSinkWriteError(w.name, "failed to compute partition key", err)
			}
			key = k
		}
		grouped[key] = append(grouped[key], item)
	}
	keys := make([]string, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var result error
	for _, key := range keys {
		if err := w.flush(ctx, w.partURI(key, position), grouped[key]); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if result != nil {
		return result
	}
	w.written = position + len(items)
	w.parts += len(keys)
	return nil
}

// Close releases nothing; every part is uploaded by Write.
func (w *ParquetWriter[T]) Close(ctx context.Context) error {
	logger.Infof("ParquetWriter '%s': closed after %d part files.", w.name, w.parts)
	return nil
}

func (w *ParquetWriter[T]) flush(ctx context.Context, uri string, items []T) (err error) {
	buf := new(bytes.Buffer)
	pw, err := pqwriter.NewParquetWriterFromWriter(buf, new(T), 1)
	if err != nil {
		return exception.NewSinkWriteError(w.name, fmt.Sprintf("failed to create parquet writer for '%s'", uri), err)
	}
	pw.CompressionType = w.codec
	for _, item := range items {
		if err := pw.Write(item); err != nil {
			return exception.NewSinkWriteError(w.name, fmt.Sprintf("failed to encode item for '%s'", uri), err)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err = exception.NewSinkWriteError(w.name, fmt.Sprintf("parquet writer panicked for '%s': %v", uri, r), nil)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		return exception.NewSinkWriteError(w.name, fmt.Sprintf("failed to finish parquet file '%s'", uri), err)
	}

	res, err := w.resolver.ResolveResource(ctx, uri)
	if err != nil {
		return exception.NewSinkWriteError(w.name, fmt.Sprintf("failed to resolve '%s'", uri), err)
	}
	size := buf.Len()
	if err := res.Write(ctx, buf, "application/octet-stream"); err != nil {
		return exception.NewSinkWriteError(w.name, fmt.Sprintf("failed to upload '%s'", uri), err)
	}
	logger.Debugf("ParquetWriter '%s': wrote %d records (%d bytes) to %s.", w.name, len(items), size, uri)
	return nil
}

func (w *ParquetWriter[T]) partURI(key string, position int) string {
	dir := strings.TrimRight(w.cfg.Resource, "/")
	if key != "" {
		dir += "/" + key
	}
	return fmt.Sprintf("%s/part-%010d.parquet", dir, position)
}

// GetExecutionContext publishes the position after the last written chunk.
func (w *ParquetWriter[T]) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	ec := model.NewExecutionContext()
	ec.Put(w.writtenKey(), w.written)
	return ec, nil
}

func compressionCodec(name string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(name) {
	case "SNAPPY", "":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", name)
	}
}
