package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// NewID returns a random UUID string used for every execution identifier.
func NewID() string {
	return uuid.New().String()
}

// JobInstance is the logical identity of a job run: job name plus parameters.
type JobInstance struct {
	ID             string
	JobName        string
	Parameters     JobParameters
	ParametersHash string
	CreateTime     time.Time
	Version        int
}

// NewJobInstance creates an instance keyed by the hash of params.
func NewJobInstance(jobName string, params JobParameters) (*JobInstance, error) {
	hash, err := params.Hash()
	if err != nil {
		return nil, err
	}
	return &JobInstance{
		ID:             NewID(),
		JobName:        jobName,
		Parameters:     params.Copy(),
		ParametersHash: hash,
		CreateTime:     time.Now(),
	}, nil
}

// JobExecution is one attempt to run a JobInstance.
type JobExecution struct {
	ID               string
	JobInstanceID    string
	JobName          string
	Parameters       JobParameters
	Status           BatchStatus
	ExitStatus       ExitStatus
	StartTime        time.Time
	EndTime          *time.Time
	CreateTime       time.Time
	LastUpdated      time.Time
	Failures         FailureList
	StepExecutions   []*StepExecution
	ExecutionContext ExecutionContext
	CurrentStepName  string
	RestartCount     int
	Version          int
}

func NewJobExecution(instance *JobInstance, params JobParameters) *JobExecution {
	now := time.Now()
	return &JobExecution{
		ID:               NewID(),
		JobInstanceID:    instance.ID,
		JobName:          instance.JobName,
		Parameters:       params.Copy(),
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		CreateTime:       now,
		LastUpdated:      now,
		Failures:         FailureList{},
		ExecutionContext: NewExecutionContext(),
	}
}

// NewRestartExecution builds the next attempt of a FAILED or STOPPED execution.
// Completed steps keep their results; the others start over from their persisted
// execution context so readers resume after the last committed chunk.
func NewRestartExecution(previous *JobExecution) *JobExecution {
	now := time.Now()
	je := &JobExecution{
		ID:               NewID(),
		JobInstanceID:    previous.JobInstanceID,
		JobName:          previous.JobName,
		Parameters:       previous.Parameters.Copy(),
		Status:           BatchStatusRestarting,
		ExitStatus:       ExitStatusUnknown,
		CreateTime:       now,
		LastUpdated:      now,
		Failures:         FailureList{},
		ExecutionContext: previous.ExecutionContext.Copy(),
		CurrentStepName:  previous.CurrentStepName,
		RestartCount:     previous.RestartCount + 1,
	}
	for _, se := range previous.StepExecutions {
		je.AddStepExecution(se.CopyForRestart(je.ID))
	}
	return je
}

func (je *JobExecution) AddStepExecution(se *StepExecution) {
	se.JobExecutionID = je.ID
	je.StepExecutions = append(je.StepExecutions, se)
}

// StepExecution returns the latest execution of the named step, or nil.
func (je *JobExecution) StepExecution(stepName string) *StepExecution {
	for i := len(je.StepExecutions) - 1; i >= 0; i-- {
		if je.StepExecutions[i].StepName == stepName {
			return je.StepExecutions[i]
		}
	}
	return nil
}

// FoldStatus derives the job status from its step executions:
// any FAILED wins, then any STOPPED, and all COMPLETED yields COMPLETED.
func (je *JobExecution) FoldStatus() BatchStatus {
	if len(je.StepExecutions) == 0 {
		return BatchStatusCompleted
	}
	status := BatchStatusCompleted
	for _, se := range je.StepExecutions {
		switch se.Status {
		case BatchStatusFailed:
			return BatchStatusFailed
		case BatchStatusStopped, BatchStatusStopping:
			status = BatchStatusStopped
		case BatchStatusCompleted:
		default:
			if status == BatchStatusCompleted {
				status = BatchStatusUnknown
			}
		}
	}
	return status
}

func (je *JobExecution) transition(to BatchStatus) {
	if !canTransition(jobTransitions, je.Status, to) {
		logger.Warnf("JobExecution (ID: %s): unexpected transition %s -> %s", je.ID, je.Status, to)
	}
	je.Status = to
	je.LastUpdated = time.Now()
}

func (je *JobExecution) finish(to BatchStatus) {
	je.transition(to)
	je.ExitStatus = to.ToExitStatus()
	end := je.LastUpdated
	je.EndTime = &end
}

func (je *JobExecution) MarkAsStarted() {
	je.transition(BatchStatusStarted)
	je.StartTime = je.LastUpdated
	je.ExitStatus = ExitStatusExecuting
}

func (je *JobExecution) MarkAsStopping() {
	je.transition(BatchStatusStopping)
}

func (je *JobExecution) MarkAsCompleted() { je.finish(BatchStatusCompleted) }

func (je *JobExecution) MarkAsStopped() { je.finish(BatchStatusStopped) }

func (je *JobExecution) MarkAsAbandoned() { je.finish(BatchStatusAbandoned) }

func (je *JobExecution) MarkAsFailed(err error) {
	je.finish(BatchStatusFailed)
	je.AddFailureException(err)
}

// AddFailureException records err once per distinct message.
func (je *JobExecution) AddFailureException(err error) {
	if err == nil {
		return
	}
	msg := exception.ExtractErrorMessage(err)
	if !je.Failures.contains(msg) {
		je.Failures = append(je.Failures, msg)
	}
}
