package model

// BatchStatus is the lifecycle state of a job or step execution.
type BatchStatus string

const (
	BatchStatusStarting   BatchStatus = "STARTING"
	BatchStatusStarted    BatchStatus = "STARTED"
	BatchStatusStopping   BatchStatus = "STOPPING"
	BatchStatusStopped    BatchStatus = "STOPPED"
	BatchStatusCompleted  BatchStatus = "COMPLETED"
	BatchStatusFailed     BatchStatus = "FAILED"
	BatchStatusAbandoned  BatchStatus = "ABANDONED"
	BatchStatusRestarting BatchStatus = "RESTARTING"
	BatchStatusUnknown    BatchStatus = "UNKNOWN"
)

func (s BatchStatus) String() string {
	return string(s)
}

// IsFinished reports whether s is terminal.
func (s BatchStatus) IsFinished() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned:
		return true
	}
	return false
}

// IsRunning reports whether an execution in state s still owns its instance.
func (s BatchStatus) IsRunning() bool {
	switch s {
	case BatchStatusStarting, BatchStatusStarted, BatchStatusStopping, BatchStatusRestarting:
		return true
	}
	return false
}

// IsRestartable reports whether an execution that ended in s may be resumed.
func (s BatchStatus) IsRestartable() bool {
	return s == BatchStatusFailed || s == BatchStatusStopped
}

// ToExitStatus maps a terminal status to its default exit status.
func (s BatchStatus) ToExitStatus() ExitStatus {
	switch s {
	case BatchStatusCompleted:
		return ExitStatusCompleted
	case BatchStatusFailed:
		return ExitStatusFailed
	case BatchStatusStopped:
		return ExitStatusStopped
	case BatchStatusAbandoned:
		return ExitStatusAbandoned
	case BatchStatusStarting, BatchStatusStarted, BatchStatusStopping, BatchStatusRestarting:
		return ExitStatusExecuting
	}
	return ExitStatusUnknown
}

// ExitStatus is the outcome code recorded when an execution ends.
type ExitStatus string

const (
	ExitStatusUnknown   ExitStatus = "UNKNOWN"
	ExitStatusExecuting ExitStatus = "EXECUTING"
	ExitStatusCompleted ExitStatus = "COMPLETED"
	ExitStatusFailed    ExitStatus = "FAILED"
	ExitStatusStopped   ExitStatus = "STOPPED"
	ExitStatusAbandoned ExitStatus = "ABANDONED"
	ExitStatusNoOp      ExitStatus = "NOOP"
)

func (s ExitStatus) String() string {
	return string(s)
}

// allowed transitions; anything else is logged and forced by the Mark* helpers.
var jobTransitions = map[BatchStatus][]BatchStatus{
	BatchStatusStarting:   {BatchStatusStarted, BatchStatusStopping, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned},
	BatchStatusRestarting: {BatchStatusStarted, BatchStatusStopping, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned},
	BatchStatusStarted:    {BatchStatusStopping, BatchStatusStopped, BatchStatusCompleted, BatchStatusFailed, BatchStatusAbandoned},
	BatchStatusStopping:   {BatchStatusStopped, BatchStatusCompleted, BatchStatusFailed, BatchStatusAbandoned},
	BatchStatusStopped:    {BatchStatusRestarting, BatchStatusAbandoned},
	BatchStatusFailed:     {BatchStatusRestarting, BatchStatusAbandoned},
}

var stepTransitions = map[BatchStatus][]BatchStatus{
	BatchStatusStarting: {BatchStatusStarted, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned},
	BatchStatusStarted:  {BatchStatusStopping, BatchStatusCompleted, BatchStatusFailed, BatchStatusStopped},
	BatchStatusStopping: {BatchStatusStopped, BatchStatusFailed},
}

func canTransition(table map[BatchStatus][]BatchStatus, from, to BatchStatus) bool {
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}
