package sql

import (
	"time"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeVal(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func fromDomainJobInstance(ji *model.JobInstance) *JobInstanceEntity {
	return &JobInstanceEntity{
		ID:             ji.ID,
		JobName:        ji.JobName,
		Parameters:     ji.Parameters,
		ParametersHash: ji.ParametersHash,
		CreateTime:     ji.CreateTime,
		Version:        ji.Version,
	}
}

func toDomainJobInstance(e *JobInstanceEntity) *model.JobInstance {
	return &model.JobInstance{
		ID:             e.ID,
		JobName:        e.JobName,
		Parameters:     e.Parameters,
		ParametersHash: e.ParametersHash,
		CreateTime:     e.CreateTime,
		Version:        e.Version,
	}
}

func fromDomainJobExecution(je *model.JobExecution) *JobExecutionEntity {
	return &JobExecutionEntity{
		ID:               je.ID,
		JobInstanceID:    je.JobInstanceID,
		JobName:          je.JobName,
		Parameters:       je.Parameters,
		Status:           string(je.Status),
		ExitStatus:       string(je.ExitStatus),
		StartTime:        timePtr(je.StartTime),
		EndTime:          je.EndTime,
		CreateTime:       je.CreateTime,
		LastUpdated:      je.LastUpdated,
		Failures:         je.Failures,
		ExecutionContext: je.ExecutionContext,
		CurrentStepName:  je.CurrentStepName,
		RestartCount:     je.RestartCount,
		Version:          je.Version,
	}
}

func toDomainJobExecution(e *JobExecutionEntity) *model.JobExecution {
	return &model.JobExecution{
		ID:               e.ID,
		JobInstanceID:    e.JobInstanceID,
		JobName:          e.JobName,
		Parameters:       e.Parameters,
		Status:           model.BatchStatus(e.Status),
		ExitStatus:       model.ExitStatus(e.ExitStatus),
		StartTime:        timeVal(e.StartTime),
		EndTime:          e.EndTime,
		CreateTime:       e.CreateTime,
		LastUpdated:      e.LastUpdated,
		Failures:         e.Failures,
		ExecutionContext: e.ExecutionContext,
		CurrentStepName:  e.CurrentStepName,
		RestartCount:     e.RestartCount,
		Version:          e.Version,
	}
}

func fromDomainStepExecution(se *model.StepExecution) *StepExecutionEntity {
	return &StepExecutionEntity{
		ID:               se.ID,
		StepName:         se.StepName,
		JobExecutionID:   se.JobExecutionID,
		Status:           string(se.Status),
		ExitStatus:       string(se.ExitStatus),
		StartTime:        timePtr(se.StartTime),
		EndTime:          se.EndTime,
		ReadCount:        se.ReadCount,
		WriteCount:       se.WriteCount,
		FilterCount:      se.FilterCount,
		CommitCount:      se.CommitCount,
		RollbackCount:    se.RollbackCount,
		ReadSkipCount:    se.ReadSkipCount,
		ProcessSkipCount: se.ProcessSkipCount,
		WriteSkipCount:   se.WriteSkipCount,
		CommitPosition:   se.CommitPosition,
		Failures:         se.Failures,
		ExecutionContext: se.ExecutionContext,
		LastUpdated:      se.LastUpdated,
		Version:          se.Version,
	}
}

func toDomainStepExecution(e *StepExecutionEntity) *model.StepExecution {
	return &model.StepExecution{
		ID:               e.ID,
		StepName:         e.StepName,
		JobExecutionID:   e.JobExecutionID,
		Status:           model.BatchStatus(e.Status),
		ExitStatus:       model.ExitStatus(e.ExitStatus),
		StartTime:        timeVal(e.StartTime),
		EndTime:          e.EndTime,
		ReadCount:        e.ReadCount,
		WriteCount:       e.WriteCount,
		FilterCount:      e.FilterCount,
		CommitCount:      e.CommitCount,
		RollbackCount:    e.RollbackCount,
		ReadSkipCount:    e.ReadSkipCount,
		ProcessSkipCount: e.ProcessSkipCount,
		WriteSkipCount:   e.WriteSkipCount,
		CommitPosition:   e.CommitPosition,
		Failures:         e.Failures,
		ExecutionContext: e.ExecutionContext,
		LastUpdated:      e.LastUpdated,
		Version:          e.Version,
	}
}
