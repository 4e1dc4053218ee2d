package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
)

// ExecutionContext is the restart state of a job or step, persisted as JSON.
// Numeric values come back as float64 after a round-trip; use GetInt to read counters.
type ExecutionContext map[string]interface{}

func NewExecutionContext() ExecutionContext {
	return make(ExecutionContext)
}

func (ec ExecutionContext) Put(key string, value interface{}) {
	ec[key] = value
}

func (ec ExecutionContext) Get(key string) (interface{}, bool) {
	v, ok := ec[key]
	return v, ok
}

func (ec ExecutionContext) GetString(key string) (string, bool) {
	v, ok := ec[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetInt reads an integer value stored as any Go integer, a float64 or a numeric string.
func (ec ExecutionContext) GetInt(key string) (int, bool) {
	v, ok := ec[key]
	if !ok {
		return 0, false
	}
	return toInt(v)
}

func (ec ExecutionContext) Remove(key string) {
	delete(ec, key)
}

// Copy returns a shallow copy; a nil receiver yields an empty context.
func (ec ExecutionContext) Copy() ExecutionContext {
	out := make(ExecutionContext, len(ec))
	for k, v := range ec {
		out[k] = v
	}
	return out
}

// Merge copies every entry of other into ec, overwriting existing keys.
func (ec ExecutionContext) Merge(other ExecutionContext) {
	for k, v := range other {
		ec[k] = v
	}
}

func (ec ExecutionContext) Value() (driver.Value, error) {
	if ec == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]interface{}(ec))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (ec *ExecutionContext) Scan(value interface{}) error {
	b, err := scanBytes(value, "ExecutionContext")
	if err != nil {
		return err
	}
	*ec = make(ExecutionContext)
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, (*map[string]interface{})(ec)); err != nil {
		return fmt.Errorf("failed to unmarshal ExecutionContext: %w", err)
	}
	return nil
}

// FailureList holds the distinct failure messages of an execution.
type FailureList []string

func (fl FailureList) Value() (driver.Value, error) {
	if fl == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(fl))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (fl *FailureList) Scan(value interface{}) error {
	b, err := scanBytes(value, "FailureList")
	if err != nil {
		return err
	}
	*fl = FailureList{}
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, (*[]string)(fl)); err != nil {
		return fmt.Errorf("failed to unmarshal FailureList: %w", err)
	}
	return nil
}

func (fl FailureList) contains(msg string) bool {
	for _, m := range fl {
		if m == msg {
			return true
		}
	}
	return false
}

func scanBytes(value interface{}, target string) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return nil, fmt.Errorf("unsupported Scan type for %s: %T", target, value)
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}
