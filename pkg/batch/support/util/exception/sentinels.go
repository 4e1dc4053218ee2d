package exception

import (
	"context"
	"database/sql"
	"errors"
	"io"
)

const OptimisticLockingFailureException = "OptimisticLockingFailureException"

// ErrOptimisticLockingFailure is returned when a versioned update loses a race.
var ErrOptimisticLockingFailure = errors.New(OptimisticLockingFailureException)

var (
	ErrJobInstanceAlreadyComplete = errors.New("JobInstanceAlreadyCompleteException")
	ErrJobExecutionAlreadyRunning = errors.New("JobExecutionAlreadyRunningException")
	ErrJobRestart                 = errors.New("JobRestartException")
)

// NewOptimisticLockingFailure wraps ErrOptimisticLockingFailure for a stale entity update.
func NewOptimisticLockingFailure(module, message string, cause error) *BatchError {
	wrapped := ErrOptimisticLockingFailure
	if cause != nil {
		wrapped = errors.Join(ErrOptimisticLockingFailure, cause)
	}
	return NewRepositoryError(module, message, wrapped)
}

func IsOptimisticLockingFailure(err error) bool {
	return errors.Is(err, ErrOptimisticLockingFailure)
}

func init() {
	RegisterErrorType(OptimisticLockingFailureException, ErrOptimisticLockingFailure)
	RegisterErrorType("JobInstanceAlreadyCompleteException", ErrJobInstanceAlreadyComplete)
	RegisterErrorType("JobExecutionAlreadyRunningException", ErrJobExecutionAlreadyRunning)
	RegisterErrorType("JobRestartException", ErrJobRestart)
	RegisterErrorType("io.ErrUnexpectedEOF", io.ErrUnexpectedEOF)
	RegisterErrorType("context.DeadlineExceeded", context.DeadlineExceeded)
	RegisterErrorType("context.Canceled", context.Canceled)
	RegisterErrorType("sql.ErrNoRows", sql.ErrNoRows)
	RegisterErrorType("sql.ErrConnDone", sql.ErrConnDone)
}
