package reader

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// XMLConfig configures an XMLItemReader.
type XMLConfig struct {
	Resource string `yaml:"resource"`
	// FragmentRootElement is the local name of the elements decoded as items.
	FragmentRootElement string `yaml:"fragment-root-element"`
	CurrentItemCount    int    `yaml:"current-item-count"`
	MaxItemCount        int    `yaml:"max-item-count"`
}

// XMLItemReader streams a document and decodes every FragmentRootElement element into T,
// wherever it is nested. Other elements are ignored.
type XMLItemReader[T any] struct {
	ItemCounting
	cfg      XMLConfig
	resolver ResourceResolver

	rc  io.ReadCloser
	dec *xml.Decoder
}

func NewXMLItemReader[T any](name string, cfg XMLConfig, resolver ResourceResolver) (*XMLItemReader[T], error) {
	if cfg.Resource == "" {
		return nil, exception.NewConfigurationError(name, "xml reader requires a resource", nil)
	}
	if cfg.FragmentRootElement == "" {
		return nil, exception.NewConfigurationError(name, "xml reader requires a fragment root element", nil)
	}
	return &XMLItemReader[T]{
		ItemCounting: ItemCounting{Name: name, CurrentItemCount: cfg.CurrentItemCount, MaxItemCount: cfg.MaxItemCount},
		cfg:          cfg,
		resolver:     resolver,
	}, nil
}

var _ port.ItemReader[any] = (*XMLItemReader[any])(nil)

func (r *XMLItemReader[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	res, err := r.resolver.ResolveResource(ctx, r.cfg.Resource)
	if err != nil {
		return exception.NewSourceReadError(r.Name, fmt.Sprintf("failed to resolve '%s'", r.cfg.Resource), err)
	}
	rc, err := res.Open(ctx)
	if err != nil {
		return exception.NewSourceReadError(r.Name, fmt.Sprintf("failed to open '%s'", r.cfg.Resource), err)
	}
	r.rc = rc
	r.dec = xml.NewDecoder(rc)

	skip := r.restore(ec)
	for r.Count() < skip {
		start, err := r.nextFragment()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return exception.NewBatchError(r.Name, "failed to skip to the restart position", err, false, false)
		}
		if err := r.dec.Skip(); err != nil {
			return exception.NewBatchError(r.Name, fmt.Sprintf("failed to skip <%s>", start.Name.Local), err, false, false)
		}
		r.advance()
	}
	logger.Infof("XMLItemReader '%s': opened '%s' at fragment %d.", r.Name, r.cfg.Resource, r.Count())
	return nil
}

// nextFragment advances to the next start element of a fragment.
func (r *XMLItemReader[T]) nextFragment() (xml.StartElement, error) {
	for {
		tok, err := r.dec.Token()
		if err != nil {
			return xml.StartElement{}, err
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == r.cfg.FragmentRootElement {
			return se, nil
		}
	}
}

func (r *XMLItemReader[T]) Read(ctx context.Context) (T, error) {
	var item T
	if r.dec == nil {
		return item, exception.NewBatchErrorf(r.Name, "XMLItemReader '%s' is not open", r.Name)
	}
	if r.exhausted() {
		return item, io.EOF
	}

	start, err := r.nextFragment()
	if errors.Is(err, io.EOF) {
		return item, io.EOF
	}
	if err != nil {
		return item, exception.NewBatchError(r.Name, fmt.Sprintf("malformed XML after fragment %d", r.Count()), err, false, false)
	}
	r.advance()
	if err := r.dec.DecodeElement(&item, &start); err != nil {
		var syntaxErr *xml.SyntaxError
		if errors.As(err, &syntaxErr) {
			return item, exception.NewBatchError(r.Name, fmt.Sprintf("malformed XML in fragment %d", r.Count()), err, false, false)
		}
		return item, exception.NewSourceReadError(r.Name, fmt.Sprintf("failed to decode fragment %d", r.Count()), err)
	}
	return item, nil
}

func (r *XMLItemReader[T]) Close(ctx context.Context) error {
	r.dec = nil
	if r.rc == nil {
		return nil
	}
	err := r.rc.Close()
	r.rc = nil
	if err != nil {
		return exception.NewBatchError(r.Name, "failed to close xml resource", err, false, false)
	}
	return nil
}

func (r *XMLItemReader[T]) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	return r.executionContext(), nil
}
