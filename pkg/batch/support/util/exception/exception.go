// Package exception defines the error taxonomy of the batch engine.
//
// Every error raised by an engine component is a *BatchError carrying the module it
// came from, an ErrorKind (source read, transform, sink write, ...), the wrapped cause
// and whether the fault-tolerance layer may retry or skip it. Skip and retry policies
// match errors against names, so a registry maps configuration names to sentinel errors.
package exception

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// ErrorKind classifies where in the chunk cycle an error was raised.
type ErrorKind string

const (
	KindGeneral       ErrorKind = "BatchError"
	KindSourceRead    ErrorKind = "SourceReadError"
	KindTransform     ErrorKind = "TransformError"
	KindSinkWrite     ErrorKind = "SinkWriteError"
	KindRepository    ErrorKind = "RepositoryError"
	KindConfiguration ErrorKind = "ConfigurationError"
)

// BatchError is the error type returned by engine components.
type BatchError struct {
	Module      string
	Message     string
	Kind        ErrorKind
	OriginalErr error
	retryable   bool
	skippable   bool
}

// NewBatchError creates a general BatchError.
func NewBatchError(module, message string, originalErr error, isSkippable, isRetryable bool) *BatchError {
	return &BatchError{
		Module:      module,
		Message:     message,
		Kind:        KindGeneral,
		OriginalErr: originalErr,
		retryable:   isRetryable,
		skippable:   isSkippable,
	}
}

// NewBatchErrorf creates a general BatchError with a formatted message.
// A trailing error argument is wrapped instead of being formatted.
func NewBatchErrorf(module, format string, a ...interface{}) *BatchError {
	var cause error
	if n := len(a); n > 0 {
		if err, ok := a[n-1].(error); ok && strings.Count(format, "%") < n {
			cause = err
			a = a[:n-1]
		}
	}
	return NewBatchError(module, fmt.Sprintf(format, a...), cause, false, false)
}

// NewSourceReadError reports an unreadable or malformed input medium.
// Read errors are never retried by the executor; they are fatal unless a skip policy names them.
func NewSourceReadError(module, message string, cause error) *BatchError {
	return &BatchError{Module: module, Message: message, Kind: KindSourceRead, OriginalErr: cause}
}

// NewTransformError reports a record rejected by an item processor. Transform errors are skippable.
func NewTransformError(module, message string, cause error) *BatchError {
	return &BatchError{Module: module, Message: message, Kind: KindTransform, OriginalErr: cause, skippable: true}
}

// NewSinkWriteError reports a failed chunk write. Sink write errors are retryable.
func NewSinkWriteError(module, message string, cause error) *BatchError {
	return &BatchError{Module: module, Message: message, Kind: KindSinkWrite, OriginalErr: cause, retryable: true}
}

// NewRepositoryError reports a job repository failure.
func NewRepositoryError(module, message string, cause error) *BatchError {
	return &BatchError{Module: module, Message: message, Kind: KindRepository, OriginalErr: cause}
}

// NewConfigurationError reports an invalid job or component configuration.
func NewConfigurationError(module, message string, cause error) *BatchError {
	return &BatchError{Module: module, Message: message, Kind: KindConfiguration, OriginalErr: cause}
}

func (e *BatchError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

func (e *BatchError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable reports whether the executor may retry the failed operation.
func (e *BatchError) IsRetryable() bool {
	return e.retryable
}

// IsSkippable reports whether the failed item may be skipped.
func (e *BatchError) IsSkippable() bool {
	return e.skippable
}

// WithRetryable returns a copy of e with the retryable flag set.
func (e *BatchError) WithRetryable(v bool) *BatchError {
	c := *e
	c.retryable = v
	return &c
}

// WithSkippable returns a copy of e with the skippable flag set.
func (e *BatchError) WithSkippable(v bool) *BatchError {
	c := *e
	c.skippable = v
	return &c
}

// AsBatchError returns the first BatchError in err's chain.
func AsBatchError(err error) (*BatchError, bool) {
	var be *BatchError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// KindOf returns the kind of the first BatchError in err's chain, or "" when there is none.
func KindOf(err error) ErrorKind {
	if be, ok := AsBatchError(err); ok {
		return be.Kind
	}
	return ""
}

func IsSourceReadError(err error) bool { return KindOf(err) == KindSourceRead }

func IsTransformError(err error) bool { return KindOf(err) == KindTransform }

func IsSinkWriteError(err error) bool { return KindOf(err) == KindSinkWrite }

// IsRetryable reports whether any BatchError in err's chain is retryable.
func IsRetryable(err error) bool {
	be, ok := AsBatchError(err)
	return ok && be.IsRetryable()
}

// IsSkippable reports whether any BatchError in err's chain is skippable.
func IsSkippable(err error) bool {
	be, ok := AsBatchError(err)
	return ok && be.IsSkippable()
}

// ExtractErrorMessage returns the BatchError message when there is one, otherwise err.Error().
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if be, ok := AsBatchError(err); ok {
		return be.Message
	}
	return err.Error()
}

var (
	registryMu sync.RWMutex
	registry   = map[string]error{}
)

// RegisterErrorType makes prototype addressable by name from skippable/retryable exception lists.
// It panics on an empty name or nil prototype.
func RegisterErrorType(name string, prototype error) {
	if name == "" {
		panic("exception: empty error type name")
	}
	if prototype == nil {
		panic(fmt.Sprintf("exception: nil prototype for %s", name))
	}
	registryMu.Lock()
	registry[name] = prototype
	registryMu.Unlock()
}

// IsErrorTypeRegistered reports whether name is a registered error type or an error kind.
func IsErrorTypeRegistered(name string) bool {
	if isKindName(name) {
		return true
	}
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}

func isKindName(name string) bool {
	switch ErrorKind(name) {
	case KindGeneral, KindSourceRead, KindTransform, KindSinkWrite, KindRepository, KindConfiguration:
		return true
	}
	return false
}

// IsErrorOfType matches err against a configured name. The name may be an ErrorKind,
// a registered error type, a Go type name such as "*net.OpError", or a message fragment.
func IsErrorOfType(err error, name string) bool {
	if err == nil || name == "" {
		return false
	}
	if isKindName(name) {
		for cur := err; cur != nil; cur = errors.Unwrap(cur) {
			if be, ok := cur.(*BatchError); ok && be.Kind == ErrorKind(name) {
				return true
			}
		}
	}

	registryMu.RLock()
	target, ok := registry[name]
	registryMu.RUnlock()
	if ok && errors.Is(err, target) {
		return true
	}

	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		t := reflect.TypeOf(cur)
		if t.String() == name || (t.Kind() == reflect.Ptr && t.Elem().String() == name) {
			return true
		}
		if _, isBatch := cur.(*BatchError); !isBatch && strings.Contains(cur.Error(), name) {
			return true
		}
	}
	return false
}
