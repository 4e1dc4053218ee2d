// Package configbinder binds loosely typed configuration maps to typed structs.
package configbinder

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// BindProperties decodes properties into target, matching keys against `yaml` tags.
// Input is weakly typed, so "3" binds to an int and "true" to a bool, and a
// comma-separated string binds to a []string, which is how list settings arrive from
// environment variables. Embedded structs tagged `yaml:",squash"` share the parent keys.
// Keys absent from properties leave target untouched.
func BindProperties(properties map[string]interface{}, target interface{}) error {
	if len(properties) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}
	if err := decoder.Decode(properties); err != nil {
		t := reflect.TypeOf(target)
		for t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		return fmt.Errorf("failed to bind properties to %s: %w", t.Name(), err)
	}
	return nil
}

// BindSection binds properties[key] to target. A missing key leaves target untouched.
func BindSection(properties map[string]interface{}, key string, target interface{}) error {
	section, ok := properties[key]
	if !ok || section == nil {
		return nil
	}
	m, ok := section.(map[string]interface{})
	if !ok {
		return fmt.Errorf("configuration section '%s' is a %T, not a mapping", key, section)
	}
	return BindProperties(m, target)
}
