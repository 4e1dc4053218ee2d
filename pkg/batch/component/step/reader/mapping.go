package reader

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// FieldSet is one tokenized record keyed by column name.
type FieldSet map[string]string

// FieldSetMapper maps a tokenized record to an item.
type FieldSetMapper[T any] interface {
	MapFieldSet(fs FieldSet) (T, error)
}

// FieldSetMapperFunc adapts a function to FieldSetMapper.
type FieldSetMapperFunc[T any] func(fs FieldSet) (T, error)

func (f FieldSetMapperFunc[T]) MapFieldSet(fs FieldSet) (T, error) {
	return f(fs)
}

// BeanMapper decodes name/value records into T. Names match fields case-insensitively
// after spaces, dashes and underscores are dropped, so "First Name", "first_name" and
// "firstName" all bind FirstName. Values are converted weakly ("42" binds an int).
type BeanMapper[T any] struct{}

// MapFieldSet implements FieldSetMapper.
func (m BeanMapper[T]) MapFieldSet(fs FieldSet) (T, error) {
	values := make(map[string]interface{}, len(fs))
	for k, v := range fs {
		values[k] = v
	}
	return m.Map(values)
}

// Map decodes values into a new T.
func (BeanMapper[T]) Map(values map[string]interface{}) (T, error) {
	var item T
	normalized := make(map[string]interface{}, len(values))
	for k, v := range values {
		normalized[normalizeName(k)] = v
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &item,
		WeaklyTypedInput: true,
		MatchName: func(mapKey, fieldName string) bool {
			return strings.EqualFold(mapKey, normalizeName(fieldName))
		},
	})
	if err != nil {
		return item, err
	}
	if err := decoder.Decode(normalized); err != nil {
		return item, fmt.Errorf("failed to map record: %w", err)
	}
	return item, nil
}

func normalizeName(name string) string {
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(name)
}
