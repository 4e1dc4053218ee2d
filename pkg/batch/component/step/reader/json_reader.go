package reader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// JSONConfig configures a JSONItemReader.
type JSONConfig struct {
	Resource         string `yaml:"resource"`
	CurrentItemCount int    `yaml:"current-item-count"`
	MaxItemCount     int    `yaml:"max-item-count"`
}

// JSONItemReader streams the elements of a top-level JSON array. An element that does not
// fit T is a SourceReadError and is consumed; malformed JSON fails the read for good.
type JSONItemReader[T any] struct {
	ItemCounting
	cfg      JSONConfig
	resolver ResourceResolver

	rc  io.ReadCloser
	dec *json.Decoder
}

func NewJSONItemReader[T any](name string, cfg JSONConfig, resolver ResourceResolver) (*JSONItemReader[T], error) {
	if cfg.Resource == "" {
		return nil, exception.NewConfigurationError(name, "json reader requires a resource", nil)
	}
	return &JSONItemReader[T]{
		ItemCounting: ItemCounting{Name: name, CurrentItemCount: cfg.CurrentItemCount, MaxItemCount: cfg.MaxItemCount},
		cfg:          cfg,
		resolver:     resolver,
	}, nil
}

var _ port.ItemReader[any] = (*JSONItemReader[any])(nil)

func (r *JSONItemReader[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	res, err := r.resolver.ResolveResource(ctx, r.cfg.Resource)
	if err != nil {
		return exception.NewSourceReadError(r.Name, fmt.Sprintf("failed to resolve '%s'", r.cfg.Resource), err)
	}
	rc, err := res.Open(ctx)
	if err != nil {
		return exception.NewSourceReadError(r.Name, fmt.Sprintf("failed to open '%s'", r.cfg.Resource), err)
	}
	r.rc = rc
	r.dec = json.NewDecoder(rc)

	tok, err := r.dec.Token()
	if err != nil {
		return exception.NewBatchError(r.Name, fmt.Sprintf("'%s' is not a JSON document", r.cfg.Resource), err, false, false)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return exception.NewBatchErrorf(r.Name, "'%s' must hold a JSON array, found %v", r.cfg.Resource, tok)
	}

	skip := r.restore(ec)
	for r.Count() < skip && r.dec.More() {
		var raw json.RawMessage
		if err := r.dec.Decode(&raw); err != nil {
			return exception.NewBatchError(r.Name, "failed to skip to the restart position", err, false, false)
		}
		r.advance()
	}
	logger.Infof("JSONItemReader '%s': opened '%s' at item %d.", r.Name, r.cfg.Resource, r.Count())
	return nil
}

func (r *JSONItemReader[T]) Read(ctx context.Context) (T, error) {
	var item T
	if r.dec == nil {
		return item, exception.NewBatchErrorf(r.Name, "JSONItemReader '%s' is not open", r.Name)
	}
	if r.exhausted() || !r.dec.More() {
		return item, io.EOF
	}

	var raw json.RawMessage
	if err := r.dec.Decode(&raw); err != nil {
		return item, exception.NewBatchError(r.Name, fmt.Sprintf("malformed JSON after item %d", r.Count()), err, false, false)
	}
	r.advance()
	if err := json.Unmarshal(raw, &item); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return item, exception.NewSourceReadError(r.Name, fmt.Sprintf("item %d does not match the target type", r.Count()), err)
		}
		return item, exception.NewSourceReadError(r.Name, fmt.Sprintf("failed to decode item %d", r.Count()), err)
	}
	return item, nil
}

func (r *JSONItemReader[T]) Close(ctx context.Context) error {
	r.dec = nil
	if r.rc == nil {
		return nil
	}
	err := r.rc.Close()
	r.rc = nil
	if err != nil {
		return exception.NewBatchError(r.Name, "failed to close json resource", err, false, false)
	}
	return nil
}

func (r *JSONItemReader[T]) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	return r.executionContext(), nil
}
