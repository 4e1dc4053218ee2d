// Package writer provides item writers for the console, SQL tables through the chunk
// transaction, and parquet files on local disk or object storage.
package writer

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

// ConsoleItemWriter prints a header line followed by one line per item.
type ConsoleItemWriter[T any] struct {
	out io.Writer
}

// NewConsoleItemWriter writes to out, or to stdout when out is nil.
func NewConsoleItemWriter[T any](out io.Writer) *ConsoleItemWriter[T] {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleItemWriter[T]{out: out}
}

var _ port.ItemWriter[any] = (*ConsoleItemWriter[any])(nil)

func (w *ConsoleItemWriter[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	return nil
}

func (w *ConsoleItemWriter[T]) Write(ctx context.Context, t tx.Tx, items []T) error {
	if _, err := fmt.Fprintln(w.out, "Inside item writer"); err != nil {
		return exception.NewSinkWriteError("consoleWriter", "failed to write to console", err)
	}
	for _, item := range items {
		if _, err := fmt.Fprintln(w.out, item); err != nil {
			return exception.NewSinkWriteError("consoleWriter", "failed to write to console", err)
		}
	}
	return nil
}

func (w *ConsoleItemWriter[T]) Close(ctx context.Context) error {
	return nil
}

func (w *ConsoleItemWriter[T]) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	return model.NewExecutionContext(), nil
}
