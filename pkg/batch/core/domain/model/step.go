package model

import (
	"time"

	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// StepExecution is the mutable state of one step within a JobExecution. It is
// persisted after every chunk commit.
type StepExecution struct {
	ID               string
	StepName         string
	JobExecutionID   string
	Status           BatchStatus
	ExitStatus       ExitStatus
	StartTime        time.Time
	EndTime          *time.Time
	ReadCount        int
	WriteCount       int
	FilterCount      int
	CommitCount      int
	RollbackCount    int
	ReadSkipCount    int
	ProcessSkipCount int
	WriteSkipCount   int
	// CommitPosition is the reader offset covered by the last committed chunk.
	CommitPosition   int
	Failures         FailureList
	ExecutionContext ExecutionContext
	LastUpdated      time.Time
	Version          int
}

func NewStepExecution(stepName string, jobExecution *JobExecution) *StepExecution {
	now := time.Now()
	se := &StepExecution{
		ID:               NewID(),
		StepName:         stepName,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		StartTime:        now,
		Failures:         FailureList{},
		ExecutionContext: NewExecutionContext(),
		LastUpdated:      now,
	}
	if jobExecution != nil {
		se.JobExecutionID = jobExecution.ID
	}
	return se
}

// SkipCount is the total number of skipped items.
func (se *StepExecution) SkipCount() int {
	return se.ReadSkipCount + se.ProcessSkipCount + se.WriteSkipCount
}

// CopyForRestart prepares the step for the next job attempt. A COMPLETED step keeps
// its status and counters so the job skips it; any other step starts over with its
// counters reset and its execution context (the reader's restart position) retained.
func (se *StepExecution) CopyForRestart(jobExecutionID string) *StepExecution {
	c := &StepExecution{
		ID:               NewID(),
		StepName:         se.StepName,
		JobExecutionID:   jobExecutionID,
		Failures:         FailureList{},
		ExecutionContext: se.ExecutionContext.Copy(),
		LastUpdated:      time.Now(),
	}
	if se.Status == BatchStatusCompleted {
		c.Status = BatchStatusCompleted
		c.ExitStatus = se.ExitStatus
		c.StartTime = se.StartTime
		c.EndTime = se.EndTime
		c.ReadCount = se.ReadCount
		c.WriteCount = se.WriteCount
		c.FilterCount = se.FilterCount
		c.CommitCount = se.CommitCount
		c.RollbackCount = se.RollbackCount
		c.ReadSkipCount = se.ReadSkipCount
		c.ProcessSkipCount = se.ProcessSkipCount
		c.WriteSkipCount = se.WriteSkipCount
		c.CommitPosition = se.CommitPosition
		return c
	}
	c.Status = BatchStatusStarting
	c.ExitStatus = ExitStatusUnknown
	c.StartTime = c.LastUpdated
	c.CommitPosition = se.CommitPosition
	return c
}

func (se *StepExecution) transition(to BatchStatus) {
	if !canTransition(stepTransitions, se.Status, to) {
		logger.Warnf("StepExecution '%s' (ID: %s): unexpected transition %s -> %s", se.StepName, se.ID, se.Status, to)
	}
	se.Status = to
	se.LastUpdated = time.Now()
}

func (se *StepExecution) finish(to BatchStatus) {
	se.transition(to)
	se.ExitStatus = to.ToExitStatus()
	end := se.LastUpdated
	se.EndTime = &end
}

func (se *StepExecution) MarkAsStarted() {
	se.transition(BatchStatusStarted)
	se.StartTime = se.LastUpdated
	se.ExitStatus = ExitStatusExecuting
}

func (se *StepExecution) MarkAsStopping() { se.transition(BatchStatusStopping) }

func (se *StepExecution) MarkAsCompleted() { se.finish(BatchStatusCompleted) }

func (se *StepExecution) MarkAsStopped() { se.finish(BatchStatusStopped) }

func (se *StepExecution) MarkAsFailed(err error) {
	se.finish(BatchStatusFailed)
	se.AddFailureException(err)
}

func (se *StepExecution) AddFailureException(err error) {
	if err == nil {
		return
	}
	msg := exception.ExtractErrorMessage(err)
	if !se.Failures.contains(msg) {
		se.Failures = append(se.Failures, msg)
	}
}

// Clone returns a deep copy suitable for handing out of a repository.
func (se *StepExecution) Clone() *StepExecution {
	if se == nil {
		return nil
	}
	c := *se
	c.Failures = append(FailureList{}, se.Failures...)
	c.ExecutionContext = se.ExecutionContext.Copy()
	if se.EndTime != nil {
		end := *se.EndTime
		c.EndTime = &end
	}
	return &c
}

// Clone returns a deep copy including cloned step executions.
func (je *JobExecution) Clone() *JobExecution {
	if je == nil {
		return nil
	}
	c := *je
	c.Parameters = je.Parameters.Copy()
	c.Failures = append(FailureList{}, je.Failures...)
	c.ExecutionContext = je.ExecutionContext.Copy()
	if je.EndTime != nil {
		end := *je.EndTime
		c.EndTime = &end
	}
	c.StepExecutions = make([]*StepExecution, 0, len(je.StepExecutions))
	for _, se := range je.StepExecutions {
		c.StepExecutions = append(c.StepExecutions, se.Clone())
	}
	return &c
}

func (ji *JobInstance) Clone() *JobInstance {
	if ji == nil {
		return nil
	}
	c := *ji
	c.Parameters = ji.Parameters.Copy()
	return &c
}
