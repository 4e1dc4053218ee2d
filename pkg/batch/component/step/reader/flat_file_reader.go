package reader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// FlatFileConfig configures a FlatFileItemReader.
type FlatFileConfig struct {
	Resource    string   `yaml:"resource"`
	Delimiter   string   `yaml:"delimiter"`
	Names       []string `yaml:"names"`
	LinesToSkip int      `yaml:"lines-to-skip"`
	// Strict rejects lines whose token count differs from Names.
	Strict           bool `yaml:"strict"`
	CurrentItemCount int  `yaml:"current-item-count"`
	MaxItemCount     int  `yaml:"max-item-count"`
}

// FlatFileItemReader reads delimited lines, skipping a header of LinesToSkip lines, and
// maps each line to T. A line that cannot be tokenized or mapped is a SourceReadError;
// the line is consumed either way.
type FlatFileItemReader[T any] struct {
	ItemCounting
	cfg      FlatFileConfig
	resolver ResourceResolver
	mapper   FieldSetMapper[T]

	rc  io.ReadCloser
	csv *csv.Reader
}

// NewFlatFileItemReader creates a reader. A nil mapper binds fields with BeanMapper.
func NewFlatFileItemReader[T any](name string, cfg FlatFileConfig, resolver ResourceResolver, mapper FieldSetMapper[T]) (*FlatFileItemReader[T], error) {
	if cfg.Resource == "" {
		return nil, exception.NewConfigurationError(name, "flat file reader requires a resource", nil)
	}
	if cfg.Delimiter == "" {
		cfg.Delimiter = ","
	}
	if utf8.RuneCountInString(cfg.Delimiter) != 1 {
		return nil, exception.NewConfigurationError(name, fmt.Sprintf("delimiter '%s' must be a single character", cfg.Delimiter), nil)
	}
	if len(cfg.Names) == 0 {
		return nil, exception.NewConfigurationError(name, "flat file reader requires column names", nil)
	}
	if mapper == nil {
		mapper = BeanMapper[T]{}
	}
	return &FlatFileItemReader[T]{
		ItemCounting: ItemCounting{Name: name, CurrentItemCount: cfg.CurrentItemCount, MaxItemCount: cfg.MaxItemCount},
		cfg:          cfg,
		resolver:     resolver,
		mapper:       mapper,
	}, nil
}

var _ port.ItemReader[any] = (*FlatFileItemReader[any])(nil)

func (r *FlatFileItemReader[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	res, err := r.resolver.ResolveResource(ctx, r.cfg.Resource)
	if err != nil {
		return exception.NewSourceReadError(r.Name, fmt.Sprintf("failed to resolve '%s'", r.cfg.Resource), err)
	}
	rc, err := res.Open(ctx)
	if err != nil {
		return exception.NewSourceReadError(r.Name, fmt.Sprintf("failed to open '%s'", r.cfg.Resource), err)
	}
	r.rc = rc

	delimiter, _ := utf8.DecodeRuneInString(r.cfg.Delimiter)
	r.csv = csv.NewReader(rc)
	r.csv.Comma = delimiter
	r.csv.LazyQuotes = true
	r.csv.FieldsPerRecord = -1

	for i := 0; i < r.cfg.LinesToSkip; i++ {
		if _, err := r.csv.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return exception.NewSourceReadError(r.Name, "failed to skip header line", err)
		}
	}

	skip := r.restore(ec)
	for r.Count() < skip {
		if _, err := r.csv.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
		}
		r.advance()
	}
	logger.Infof("FlatFileItemReader '%s': opened '%s' at item %d.", r.Name, r.cfg.Resource, r.Count())
	return nil
}

func (r *FlatFileItemReader[T]) Read(ctx context.Context) (T, error) {
	var zero T
	if r.csv == nil {
		return zero, exception.NewBatchErrorf(r.Name, "FlatFileItemReader '%s' is not open", r.Name)
	}
	if r.exhausted() {
		return zero, io.EOF
	}
	record, err := r.csv.Read()
	if errors.Is(err, io.EOF) {
		return zero, io.EOF
	}
	r.advance()
	line := r.cfg.LinesToSkip + r.Count()
	if err != nil {
		return zero, exception.NewSourceReadError(r.Name, fmt.Sprintf("failed to tokenize line %d", line), err)
	}
	if r.cfg.Strict && len(record) != len(r.cfg.Names) {
		return zero, exception.NewSourceReadError(r.Name,
			fmt.Sprintf("line %d has %d tokens, expected %d", line, len(record), len(r.cfg.Names)), nil)
	}

	fs := make(FieldSet, len(r.cfg.Names))
	for i, name := range r.cfg.Names {
		if i < len(record) {
			fs[name] = record[i]
		}
	}
	item, err := r.mapper.MapFieldSet(fs)
	if err != nil {
		return zero, exception.NewSourceReadError(r.Name, fmt.Sprintf("failed to map line %d", line), err)
	}
	return item, nil
}

func (r *FlatFileItemReader[T]) Close(ctx context.Context) error {
	r.csv = nil
	if r.rc == nil {
		return nil
	}
	err := r.rc.Close()
	r.rc = nil
	if err != nil {
		return exception.NewBatchError(r.Name, "failed to close flat file", err, false, false)
	}
	return nil
}

func (r *FlatFileItemReader[T]) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	return r.executionContext(), nil
}
