// Package retry decides whether a failed chunk write is attempted again and how long
// to wait before the next attempt.
package retry

import (
	"time"

	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

// RetryPolicy is an interface that defines retry logic.
type RetryPolicy interface {
	// ShouldRetry determines if a given error is retryable.
	ShouldRetry(err error) bool
	// Backoff returns the wait before the attempt following failed attempt number attempt (starting from 1).
	Backoff(attempt int) time.Duration
	// MaxAttempts returns the total number of attempts, the first one included.
	MaxAttempts() int
}

// Config holds the retry settings of a step.
type Config struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int `yaml:"max-retries"`
	// InitialInterval is the wait in milliseconds before the first retry.
	InitialInterval int `yaml:"initial-interval"`
	// MaxInterval caps the exponential backoff, in milliseconds. Zero means no cap.
	MaxInterval int `yaml:"max-interval"`
	// RetryableExceptions lists registered error names retried in addition to retryable BatchErrors.
	RetryableExceptions []string `yaml:"retryable-exceptions"`
}

// NewRetryPolicy creates the default exponential RetryPolicy from cfg.
func NewRetryPolicy(cfg Config) RetryPolicy {
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &defaultRetryPolicy{
		maxRetries:          maxRetries,
		initialInterval:     time.Duration(cfg.InitialInterval) * time.Millisecond,
		maxInterval:         time.Duration(cfg.MaxInterval) * time.Millisecond,
		retryableExceptions: cfg.RetryableExceptions,
	}
}

// NeverRetry is the policy of a step without retry configuration.
func NeverRetry() RetryPolicy {
	return NewRetryPolicy(Config{})
}

type defaultRetryPolicy struct {
	maxRetries          int
	initialInterval     time.Duration
	maxInterval         time.Duration
	retryableExceptions []string
}

func (p *defaultRetryPolicy) MaxAttempts() int {
	return p.maxRetries + 1
}

// ShouldRetry is true for BatchErrors flagged retryable (every SinkWriteError is) and for
// errors matching one of the configured exception names.
func (p *defaultRetryPolicy) ShouldRetry(err error) bool {
	if err == nil || p.maxRetries == 0 {
		return false
	}
	if exception.IsRetryable(err) {
		return true
	}
	for _, typeName := range p.retryableExceptions {
		if exception.IsErrorOfType(err, typeName) {
			return true
		}
	}
	return false
}

// Backoff doubles the initial interval for every failed attempt.
func (p *defaultRetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.initialInterval <= 0 {
		return 0
	}
	d := p.initialInterval
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.maxInterval > 0 && d >= p.maxInterval {
			return p.maxInterval
		}
	}
	if p.maxInterval > 0 && d > p.maxInterval {
		return p.maxInterval
	}
	return d
}

var _ RetryPolicy = (*defaultRetryPolicy)(nil)
