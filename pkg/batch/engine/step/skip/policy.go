// Package skip decides whether an item that failed to read or process may be dropped
// instead of failing its step.
package skip

import (
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

// SkipPolicy is an interface that defines the logic for determining whether to skip an error.
type SkipPolicy interface {
	// ShouldSkip reports whether err may be skipped given skipCount items were already
	// skipped by the step.
	ShouldSkip(err error, skipCount int) bool
	// SkipLimit returns the maximum number of skips per step execution. 0 disables skipping.
	SkipLimit() int
}

// Config holds the skip settings of a step.
type Config struct {
	SkipLimit int `yaml:"skip-limit"`
	// SkippableExceptions lists registered error names skipped in addition to skippable BatchErrors.
	SkippableExceptions []string `yaml:"skippable-exceptions"`
}

// NewSkipPolicy creates the default limit-based SkipPolicy from cfg.
func NewSkipPolicy(cfg Config) SkipPolicy {
	limit := cfg.SkipLimit
	if limit < 0 {
		limit = 0
	}
	return &limitSkipPolicy{skipLimit: limit, skippableExceptions: cfg.SkippableExceptions}
}

// NeverSkip is the policy of a step without skip configuration.
func NeverSkip() SkipPolicy {
	return NewSkipPolicy(Config{})
}

type limitSkipPolicy struct {
	skipLimit           int
	skippableExceptions []string
}

func (p *limitSkipPolicy) SkipLimit() int {
	return p.skipLimit
}

// ShouldSkip is true for BatchErrors flagged skippable (every TransformError is) and for
// errors matching one of the configured exception names, while skipCount is below the limit.
func (p *limitSkipPolicy) ShouldSkip(err error, skipCount int) bool {
	if err == nil || skipCount >= p.skipLimit {
		return false
	}
	if exception.IsSkippable(err) {
		return true
	}
	for _, typeName := range p.skippableExceptions {
		if exception.IsErrorOfType(err, typeName) {
			return true
		}
	}
	return false
}

var _ SkipPolicy = (*limitSkipPolicy)(nil)
