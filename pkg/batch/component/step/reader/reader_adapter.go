package reader

import (
	"context"
	"fmt"
	"io"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// ItemReaderAdapter turns a function returning one item per call into an ItemReader.
// A nil item ends the sequence.
//
// The adapter counts the items it hands out. On restart Open pulls and discards that
// many items from next, so next must replay the same sequence on every run.
type ItemReaderAdapter[T any] struct {
	ItemCounting
	next func(ctx context.Context) (*T, error)
	eof  bool
}

func NewItemReaderAdapter[T any](name string, next func(ctx context.Context) (*T, error)) *ItemReaderAdapter[T] {
	return &ItemReaderAdapter[T]{ItemCounting: ItemCounting{Name: name}, next: next}
}

var _ port.ItemReader[any] = (*ItemReaderAdapter[any])(nil)

func (a *ItemReaderAdapter[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	a.eof = false
	skip := a.restore(ec)
	for a.Count() < skip {
		item, err := a.next(ctx)
		if err != nil {
			return exception.NewSourceReadError(a.Name, fmt.Sprintf("failed to skip to the restart position %d", skip), err)
		}
		if item == nil {
			a.eof = true
			break
		}
		a.advance()
	}
	if skip > 0 {
		logger.Infof("ItemReaderAdapter '%s': resumed after %d items.", a.Name, a.Count())
	}
	return nil
}

func (a *ItemReaderAdapter[T]) Read(ctx context.Context) (T, error) {
	var zero T
	if a.eof || a.exhausted() {
		return zero, io.EOF
	}
	item, err := a.next(ctx)
	if err != nil {
		return zero, err
	}
	if item == nil {
		a.eof = true
		return zero, io.EOF
	}
	a.advance()
	return *item, nil
}

func (a *ItemReaderAdapter[T]) Close(ctx context.Context) error {
	return nil
}

// GetExecutionContext publishes the number of items handed out as <name>.read.count.
func (a *ItemReaderAdapter[T]) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	return a.executionContext(), nil
}
