package sql

import (
	"time"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// JobInstanceEntity maps batch_job_instance.
type JobInstanceEntity struct {
	ID             string              `gorm:"column:id;primaryKey"`
	JobName        string              `gorm:"column:job_name"`
	Parameters     model.JobParameters `gorm:"column:parameters"`
	ParametersHash string              `gorm:"column:parameters_hash"`
	CreateTime     time.Time           `gorm:"column:create_time"`
	Version        int                 `gorm:"column:version"`
}

func (JobInstanceEntity) TableName() string { return "batch_job_instance" }

// JobExecutionEntity maps batch_job_execution.
type JobExecutionEntity struct {
	ID               string                 `gorm:"column:id;primaryKey"`
	JobInstanceID    string                 `gorm:"column:job_instance_id"`
	JobName          string                 `gorm:"column:job_name"`
	Parameters       model.JobParameters    `gorm:"column:parameters"`
	Status           string                 `gorm:"column:status"`
	ExitStatus       string                 `gorm:"column:exit_status"`
	StartTime        *time.Time             `gorm:"column:start_time"`
	EndTime          *time.Time             `gorm:"column:end_time"`
	CreateTime       time.Time              `gorm:"column:create_time"`
	LastUpdated      time.Time              `gorm:"column:last_updated"`
	Failures         model.FailureList      `gorm:"column:failures"`
	ExecutionContext model.ExecutionContext `gorm:"column:execution_context"`
	CurrentStepName  string                 `gorm:"column:current_step_name"`
	RestartCount     int                    `gorm:"column:restart_count"`
	Version          int                    `gorm:"column:version"`
}

func (JobExecutionEntity) TableName() string { return "batch_job_execution" }

// StepExecutionEntity maps batch_step_execution.
type StepExecutionEntity struct {
	ID               string                 `gorm:"column:id;primaryKey"`
	StepName         string                 `gorm:"column:step_name"`
	JobExecutionID   string                 `gorm:"column:job_execution_id"`
	Status           string                 `gorm:"column:status"`
	ExitStatus       string                 `gorm:"column:exit_status"`
	StartTime        *time.Time             `gorm:"column:start_time"`
	EndTime          *time.Time             `gorm:"column:end_time"`
	ReadCount        int                    `gorm:"column:read_count"`
	WriteCount       int                    `gorm:"column:write_count"`
	FilterCount      int                    `gorm:"column:filter_count"`
	CommitCount      int                    `gorm:"column:commit_count"`
	RollbackCount    int                    `gorm:"column:rollback_count"`
	ReadSkipCount    int                    `gorm:"column:read_skip_count"`
	ProcessSkipCount int                    `gorm:"column:process_skip_count"`
	WriteSkipCount   int                    `gorm:"column:write_skip_count"`
	CommitPosition   int                    `gorm:"column:commit_position"`
	Failures         model.FailureList      `gorm:"column:failures"`
	ExecutionContext model.ExecutionContext `gorm:"column:execution_context"`
	LastUpdated      time.Time              `gorm:"column:last_updated"`
	Version          int                    `gorm:"column:version"`
}

func (StepExecutionEntity) TableName() string { return "batch_step_execution" }
