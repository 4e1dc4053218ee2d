package model

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// JobParameters are the scalar launch parameters of a job. Together with the job
// name they identify a JobInstance.
type JobParameters struct {
	Params map[string]interface{}
}

func NewJobParameters() JobParameters {
	return JobParameters{Params: make(map[string]interface{})}
}

// ParseJobParameters builds parameters from "key=value" pairs. Values that parse as
// integers are stored as int64, "true"/"false" as bool, everything else as string.
func ParseJobParameters(pairs []string) (JobParameters, error) {
	jp := NewJobParameters()
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return jp, fmt.Errorf("invalid job parameter '%s', expected key=value", pair)
		}
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			jp.Put(key, i)
			continue
		}
		if b, err := strconv.ParseBool(raw); err == nil && (raw == "true" || raw == "false") {
			jp.Put(key, b)
			continue
		}
		jp.Put(key, raw)
	}
	return jp, nil
}

func (jp *JobParameters) Put(key string, value interface{}) {
	if jp.Params == nil {
		jp.Params = make(map[string]interface{})
	}
	jp.Params[key] = value
}

func (jp JobParameters) Get(key string) (interface{}, bool) {
	v, ok := jp.Params[key]
	return v, ok
}

func (jp JobParameters) GetString(key string) (string, bool) {
	v, ok := jp.Params[key]
	if !ok {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

func (jp JobParameters) GetInt(key string) (int, bool) {
	v, ok := jp.Params[key]
	if !ok {
		return 0, false
	}
	return toInt(v)
}

func (jp JobParameters) Len() int {
	return len(jp.Params)
}

// Copy returns an independent copy of the parameters.
func (jp JobParameters) Copy() JobParameters {
	out := NewJobParameters()
	for k, v := range jp.Params {
		out.Params[k] = v
	}
	return out
}

// Equal compares parameters by identity hash, so 1 and 1.0 are equal.
func (jp JobParameters) Equal(other JobParameters) bool {
	a, errA := jp.Hash()
	b, errB := other.Hash()
	return errA == nil && errB == nil && a == b
}

// Hash returns the hex SHA-256 of the canonical JSON form of the parameters.
// encoding/json sorts map keys, which makes the form independent of insertion order.
func (jp JobParameters) Hash() (string, error) {
	params := jp.Params
	if params == nil {
		params = map[string]interface{}{}
	}
	b, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to hash job parameters: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

var (
	maskMu     sync.RWMutex
	maskedKeys = map[string]struct{}{}
)

// SetMaskedParameterKeys configures the keys whose values String() hides.
func SetMaskedParameterKeys(keys []string) {
	maskMu.Lock()
	defer maskMu.Unlock()
	maskedKeys = make(map[string]struct{}, len(keys))
	for _, k := range keys {
		maskedKeys[k] = struct{}{}
	}
}

func isMasked(key string) bool {
	maskMu.RLock()
	defer maskMu.RUnlock()
	_, ok := maskedKeys[key]
	return ok
}

// String renders the parameters in key order with sensitive values masked.
func (jp JobParameters) String() string {
	keys := make([]string, 0, len(jp.Params))
	for k := range jp.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := jp.Params[k]
		if isMasked(k) {
			v = "********"
		}
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (jp JobParameters) Value() (driver.Value, error) {
	if jp.Params == nil {
		return "{}", nil
	}
	b, err := json.Marshal(jp.Params)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (jp *JobParameters) Scan(value interface{}) error {
	b, err := scanBytes(value, "JobParameters")
	if err != nil {
		return err
	}
	jp.Params = make(map[string]interface{})
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, &jp.Params); err != nil {
		return fmt.Errorf("failed to unmarshal JobParameters: %w", err)
	}
	return nil
}
