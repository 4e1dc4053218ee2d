package reader

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// RowMapper maps the current row of rows to an item.
type RowMapper[T any] func(rows *sql.Rows) (T, error)

// SQLCursorConfig configures a SqlCursorReader.
type SQLCursorConfig struct {
	Query            string        `yaml:"query"`
	Args             []interface{} `yaml:"args"`
	CurrentItemCount int           `yaml:"current-item-count"`
	MaxItemCount     int           `yaml:"max-item-count"`
}

// SqlCursorReader reads the rows of one query through a single open cursor.
// On restart the rows consumed before are skipped on the client side, so the query
// must return rows in a stable order.
type SqlCursorReader[T any] struct {
	ItemCounting
	db     *sql.DB
	cfg    SQLCursorConfig
	mapper RowMapper[T]
	rows   *sql.Rows
}

// NewSqlCursorReader creates a reader. A nil mapper binds columns to fields by name.
func NewSqlCursorReader[T any](db *sql.DB, name string, cfg SQLCursorConfig, mapper RowMapper[T]) (*SqlCursorReader[T], error) {
	if db == nil {
		return nil, exception.NewConfigurationError(name, "sql cursor reader requires a database", nil)
	}
	if cfg.Query == "" {
		return nil, exception.NewConfigurationError(name, "sql cursor reader requires a query", nil)
	}
	if mapper == nil {
		mapper = ColumnMapper[T]
	}
	return &SqlCursorReader[T]{
		ItemCounting: ItemCounting{Name: name, CurrentItemCount: cfg.CurrentItemCount, MaxItemCount: cfg.MaxItemCount},
		db:           db,
		cfg:          cfg,
		mapper:       mapper,
	}, nil
}

var _ port.ItemReader[any] = (*SqlCursorReader[any])(nil)

// Open executes the query and moves the cursor past the rows already consumed.
func (r *SqlCursorReader[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	rows, err := r.db.QueryContext(ctx, r.cfg.Query, r.cfg.Args...)
	if err != nil {
		return exception.NewBatchError(r.Name, fmt.Sprintf("failed to execute query for SqlCursorReader '%s'", r.Name), err, false, false)
	}
	r.rows = rows

	skip := r.restore(ec)
	for r.Count() < skip && rows.Next() {
		r.advance()
	}
	if err := rows.Err(); err != nil {
		return exception.NewBatchError(r.Name, "failed to skip to the restart position", err, false, false)
	}
	logger.Infof("SqlCursorReader '%s': cursor opened at row %d.", r.Name, r.Count())
	return nil
}

// Read returns the next row or io.EOF. A row the mapper rejects is a SourceReadError.
func (r *SqlCursorReader[T]) Read(ctx context.Context) (T, error) {
	var item T
	if r.rows == nil {
		return item, exception.NewBatchErrorf(r.Name, "SqlCursorReader '%s' is not open", r.Name)
	}
	if r.exhausted() {
		return item, io.EOF
	}
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return item, exception.NewBatchError(r.Name, fmt.Sprintf("error during row iteration for SqlCursorReader '%s'", r.Name), err, false, false)
		}
		return item, io.EOF
	}
	r.advance()

	mapped, err := r.mapper(r.rows)
	if err != nil {
		return item, exception.NewSourceReadError(r.Name, fmt.Sprintf("failed to map row %d", r.Count()), err)
	}
	return mapped, nil
}

func (r *SqlCursorReader[T]) Close(ctx context.Context) error {
	if r.rows == nil {
		return nil
	}
	err := r.rows.Close()
	r.rows = nil
	if err != nil {
		return exception.NewBatchError(r.Name, fmt.Sprintf("failed to close rows for SqlCursorReader '%s'", r.Name), err, false, false)
	}
	logger.Debugf("SqlCursorReader '%s': cursor closed.", r.Name)
	return nil
}

func (r *SqlCursorReader[T]) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	return r.executionContext(), nil
}

// ColumnMapper scans the current row and binds it to T by column name with BeanMapper.
func ColumnMapper[T any](rows *sql.Rows) (T, error) {
	var item T
	columns, err := rows.Columns()
	if err != nil {
		return item, err
	}
	values := make([]interface{}, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return item, err
	}
	record := make(map[string]interface{}, len(columns))
	for i, col := range columns {
		if b, ok := values[i].([]byte); ok {
			record[col] = string(b)
			continue
		}
		record[col] = values[i]
	}
	return BeanMapper[T]{}.Map(record)
}
