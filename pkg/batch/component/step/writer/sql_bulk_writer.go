package writer

import (
	"context"
	"fmt"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// SqlBulkWriterConfig configures a SqlBulkWriter.
type SqlBulkWriterConfig struct {
	Table string `yaml:"table"`
	// BulkSize caps the rows of one statement; 0 writes the chunk in one statement.
	BulkSize int `yaml:"bulk-size"`
	// ConflictColumns identify a row. Without UpdateColumns a conflicting row is kept as is.
	ConflictColumns []string `yaml:"conflict-columns"`
	UpdateColumns   []string `yaml:"update-columns"`
}

// SqlBulkWriter upserts the items of a chunk through the chunk transaction, so the rows
// commit or roll back together with the step's own bookkeeping.
type SqlBulkWriter[T any] struct {
	name string
	cfg  SqlBulkWriterConfig
}

func NewSqlBulkWriter[T any](name string, cfg SqlBulkWriterConfig) (*SqlBulkWriter[T], error) {
	if cfg.Table == "" {
		return nil, exception.NewConfigurationError(name, "sql writer requires a table", nil)
	}
	if len(cfg.ConflictColumns) == 0 {
		return nil, exception.NewConfigurationError(name, "sql writer requires conflict columns", nil)
	}
	return &SqlBulkWriter[T]{name: name, cfg: cfg}, nil
}

var _ port.ItemWriter[any] = (*SqlBulkWriter[any])(nil)

func (w *SqlBulkWriter[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	logger.Debugf("SqlBulkWriter '%s': opened for table %s.", w.name, w.cfg.Table)
	return nil
}

// Write upserts items in statements of at most BulkSize rows.
func (w *SqlBulkWriter[T]) Write(ctx context.Context, t tx.Tx, items []T) error {
	if len(items) == 0 {
		return nil
	}
	if t == nil {
		return exception.NewSinkWriteError(w.name, fmt.Sprintf("SqlBulkWriter '%s' needs a transaction", w.name), nil)
	}
	size := w.cfg.BulkSize
	if size <= 0 {
		size = len(items)
	}
	var affected int64
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		batch := items[i:end]
		n, err := t.ExecuteUpsert(ctx, &batch, w.cfg.Table, w.cfg.ConflictColumns, w.cfg.UpdateColumns)
		if err != nil {
			return exception.NewSinkWriteError(w.name,
				fmt.Sprintf("failed to upsert into %s (chunk start index %d)", w.cfg.Table, i), err)
		}
		affected += n
	}
	logger.Debugf("SqlBulkWriter '%s': upserted %d items into %s (%d rows affected).", w.name, len(items), w.cfg.Table, affected)
	return nil
}

func (w *SqlBulkWriter[T]) Close(ctx context.Context) error {
	return nil
}

func (w *SqlBulkWriter[T]) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	return model.NewExecutionContext(), nil
}
