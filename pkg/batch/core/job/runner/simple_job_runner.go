package runner

import (
	"context"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// SimpleJobRunner is an implementation of port.JobRunner that moves a JobExecution to
// STARTED, calls the Job's Run method and persists the final state.
type SimpleJobRunner struct {
	jobRepository repository.JobRepository
}

// NewSimpleJobRunner creates an instance of SimpleJobRunner.
func NewSimpleJobRunner(repo repository.JobRepository) *SimpleJobRunner {
	return &SimpleJobRunner{jobRepository: repo}
}

var _ port.JobRunner = (*SimpleJobRunner)(nil)

// Run executes job for jobExecution. Failures are recorded on jobExecution rather than returned.
func (r *SimpleJobRunner) Run(ctx context.Context, job port.Job, jobExecution *model.JobExecution) {
	if jobExecution.Status == model.BatchStatusStarting || jobExecution.Status == model.BatchStatusRestarting {
		jobExecution.MarkAsStarted()
		if err := UpdateJobExecution(ctx, r.jobRepository, jobExecution); err != nil {
			logger.Errorf("JobRunner: Failed to update JobExecution (ID: %s) status to STARTED: %v", jobExecution.ID, err)
			jobExecution.MarkAsFailed(err)
			r.persistFinal(ctx, jobExecution)
			return
		}
	}

	var err error
	if jobExecution.Status == model.BatchStatusStopping {
		logger.Warnf("JobRunner: JobExecution (ID: %s) was stopped before it started.", jobExecution.ID)
		jobExecution.MarkAsStopped()
	} else {
		err = job.Run(ctx, jobExecution)
	}

	switch {
	case err != nil && !jobExecution.Status.IsFinished():
		jobExecution.MarkAsFailed(err)
	case err == nil && !jobExecution.Status.IsFinished():
		jobExecution.MarkAsCompleted()
	}
	r.persistFinal(ctx, jobExecution)
}

func (r *SimpleJobRunner) persistFinal(ctx context.Context, jobExecution *model.JobExecution) {
	if err := UpdateJobExecution(context.WithoutCancel(ctx), r.jobRepository, jobExecution); err != nil {
		logger.Errorf("JobRunner: Failed to update final JobExecution (ID: %s) state: %v", jobExecution.ID, err)
	}
}

// UpdateJobExecution persists jobExecution. When the update loses to an operator that
// marked the execution STOPPING, the stop is adopted and the update is tried once more;
// a running execution moves to STOPPING, a finished one keeps its status.
func UpdateJobExecution(ctx context.Context, repo repository.JobRepository, jobExecution *model.JobExecution) error {
	err := repo.UpdateJobExecution(ctx, jobExecution)
	if err == nil || !exception.IsOptimisticLockingFailure(err) {
		return err
	}
	persisted, ferr := repo.FindJobExecutionByID(ctx, jobExecution.ID)
	if ferr != nil || persisted.Status != model.BatchStatusStopping {
		return err
	}
	logger.Infof("JobRunner: JobExecution (ID: %s) was marked STOPPING concurrently.", jobExecution.ID)
	jobExecution.Version = persisted.Version
	if !jobExecution.Status.IsFinished() && jobExecution.Status != model.BatchStatusStopping {
		jobExecution.MarkAsStopping()
	}
	return repo.UpdateJobExecution(ctx, jobExecution)
}
