package usecase

import (
	"context"
	"fmt"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

const operatorModule = "job_operator"

// stopAttempts bounds the retries of Stop against concurrent updates by the runner.
const stopAttempts = 5

// DefaultJobOperator is the default implementation of the JobOperator interface.
type DefaultJobOperator struct {
	jobRepository repository.JobRepository
	jobLauncher   *SimpleJobLauncher
}

var _ JobOperator = (*DefaultJobOperator)(nil)

// NewDefaultJobOperator creates a new instance of DefaultJobOperator.
func NewDefaultJobOperator(jobRepository repository.JobRepository, jobLauncher *SimpleJobLauncher) *DefaultJobOperator {
	return &DefaultJobOperator{
		jobRepository: jobRepository,
		jobLauncher:   jobLauncher,
	}
}

func (o *DefaultJobOperator) load(ctx context.Context, op, executionID string) (*model.JobExecution, error) {
	jobExecution, err := o.jobRepository.FindJobExecutionByID(ctx, executionID)
	if err != nil {
		return nil, exception.NewBatchError(operatorModule, fmt.Sprintf("%s: failed to load JobExecution (ID: %s)", op, executionID), err, false, false)
	}
	return jobExecution, nil
}

// Restart restarts the specified JobExecution with its original parameters. It must be
// the latest execution of its instance.
func (o *DefaultJobOperator) Restart(ctx context.Context, executionID string) (*model.JobExecution, error) {
	logger.Infof("JobOperator: Restart called. Execution ID: %s", executionID)

	prev, err := o.load(ctx, "Restart", executionID)
	if err != nil {
		return nil, err
	}
	if !prev.Status.IsRestartable() {
		return nil, exception.NewBatchError(operatorModule,
			fmt.Sprintf("JobExecution (ID: %s) is not restartable (status: %s)", executionID, prev.Status),
			exception.ErrJobRestart, false, false)
	}
	latest, err := o.jobRepository.FindLatestJobExecution(ctx, prev.JobInstanceID)
	if err != nil {
		return nil, exception.NewBatchError(operatorModule, "Restart: failed to load the latest JobExecution", err, false, false)
	}
	if latest.ID != prev.ID {
		return nil, exception.NewBatchError(operatorModule,
			fmt.Sprintf("JobExecution (ID: %s) is not the latest execution of its instance (latest: %s)", executionID, latest.ID),
			exception.ErrJobRestart, false, false)
	}

	next, err := o.jobLauncher.launch(ctx, prev.JobName, prev.Parameters, false)
	if err != nil {
		return nil, err
	}
	logger.Infof("Restart of Job '%s' (Execution ID: %s) ran as execution %s.", prev.JobName, executionID, next.ID)
	return next, nil
}

// Stop persists STOPPING on the execution and cancels it when it runs in this process.
// The runner may update the execution concurrently; the stop is retried on a version
// conflict as long as the execution is still running.
func (o *DefaultJobOperator) Stop(ctx context.Context, executionID string) error {
	logger.Infof("JobOperator: Stop called. Execution ID: %s", executionID)

	for attempt := 1; ; attempt++ {
		jobExecution, err := o.load(ctx, "Stop", executionID)
		if err != nil {
			return err
		}
		if jobExecution.Status.IsFinished() {
			return exception.NewBatchErrorf(operatorModule, "JobExecution (ID: %s) is already finished (%s)", executionID, jobExecution.Status)
		}
		if jobExecution.Status == model.BatchStatusStopping {
			logger.Infof("JobExecution (ID: %s) is already STOPPING.", executionID)
			break
		}

		jobExecution.MarkAsStopping()
		err = o.jobRepository.UpdateJobExecution(ctx, jobExecution)
		if err == nil {
			logger.Infof("Updated JobExecution (ID: %s) status to STOPPING.", executionID)
			break
		}
		if !exception.IsOptimisticLockingFailure(err) || attempt >= stopAttempts {
			return exception.NewBatchError(operatorModule, fmt.Sprintf("Stop: failed to update JobExecution (ID: %s)", executionID), err, false, false)
		}
		logger.Debugf("Stop of JobExecution (ID: %s) lost a concurrent update, retrying.", executionID)
	}

	if cancel, ok := o.jobLauncher.GetCancelFunc(executionID); ok {
		cancel()
		logger.Infof("Sent stop signal to JobExecution (ID: %s).", executionID)
	} else {
		logger.Infof("JobExecution (ID: %s) does not run in this process; it stops at its next chunk boundary.", executionID)
	}
	return nil
}

// Abandon marks a FAILED or STOPPED execution ABANDONED.
func (o *DefaultJobOperator) Abandon(ctx context.Context, executionID string) error {
	logger.Infof("JobOperator: Abandon called. Execution ID: %s", executionID)

	jobExecution, err := o.load(ctx, "Abandon", executionID)
	if err != nil {
		return err
	}
	switch {
	case jobExecution.Status == model.BatchStatusAbandoned:
		logger.Infof("JobExecution (ID: %s) is already ABANDONED.", executionID)
		return nil
	case jobExecution.Status.IsRunning():
		return exception.NewBatchError(operatorModule,
			fmt.Sprintf("JobExecution (ID: %s) is running (%s); stop it first", executionID, jobExecution.Status),
			exception.ErrJobExecutionAlreadyRunning, false, false)
	case jobExecution.Status == model.BatchStatusCompleted:
		return exception.NewBatchErrorf(operatorModule, "JobExecution (ID: %s) is COMPLETED and cannot be abandoned", executionID)
	}

	jobExecution.MarkAsAbandoned()
	if err := o.jobRepository.UpdateJobExecution(ctx, jobExecution); err != nil {
		return exception.NewBatchError(operatorModule, fmt.Sprintf("Abandon: failed to update JobExecution (ID: %s)", executionID), err, false, false)
	}
	logger.Infof("Abandoned JobExecution (ID: %s).", executionID)
	return nil
}
