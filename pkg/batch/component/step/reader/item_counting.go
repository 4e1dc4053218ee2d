// Package reader provides restartable item readers for flat files, JSON arrays, XML
// fragments and SQL cursors, plus an adapter over a plain function.
package reader

import (
	"context"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// ResourceResolver maps a resource location to a readable object.
type ResourceResolver interface {
	ResolveResource(ctx context.Context, uri string) (*storage.Resource, error)
}

// ItemCounting tracks how many items a reader has consumed, so a restart can skip
// them, and bounds the sequence.
//
// CurrentItemCount items are skipped on a first run. Reading stops once MaxItemCount
// items, skipped ones included, have been consumed; 0 means no limit.
type ItemCounting struct {
	Name             string
	CurrentItemCount int
	MaxItemCount     int

	count int
}

// ReadCountKey is the execution context key holding the consumed item count.
func (c *ItemCounting) ReadCountKey() string {
	return c.Name + ".read.count"
}

// restore returns the number of items to skip when opening with ec.
func (c *ItemCounting) restore(ec model.ExecutionContext) int {
	c.count = 0
	if n, ok := ec.GetInt(c.ReadCountKey()); ok {
		return n
	}
	return c.CurrentItemCount
}

func (c *ItemCounting) exhausted() bool {
	return c.MaxItemCount > 0 && c.count >= c.MaxItemCount
}

func (c *ItemCounting) advance() {
	c.count++
}

// Count returns the number of items consumed so far.
func (c *ItemCounting) Count() int {
	return c.count
}

func (c *ItemCounting) executionContext() model.ExecutionContext {
	ec := model.NewExecutionContext()
	ec.Put(c.ReadCountKey(), c.count)
	return ec
}
