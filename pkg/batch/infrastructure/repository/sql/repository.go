// Package sql is the gorm-backed JobRepository. It persists into the batch_* tables
// created by the migration package and uses optimistic versioning on every update.
// When the context carries a gorm transaction on the same database (see tx.WithTx),
// writes join it, which is how a step's progress is committed together with the chunk
// it describes.
package sql

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	gormadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

// SQLJobRepository implements repository.JobRepository over gorm.
type SQLJobRepository struct {
	db *gorm.DB
}

var (
	_ repository.JobRepository = (*SQLJobRepository)(nil)
	_ tx.Participant           = (*SQLJobRepository)(nil)
)

func NewSQLJobRepository(db *gorm.DB) *SQLJobRepository {
	return &SQLJobRepository{db: db}
}

func (r *SQLJobRepository) conn(ctx context.Context) *gorm.DB {
	return gormadapter.DBFromContext(ctx, r.db)
}

// Joins reports whether t is a gorm transaction on the repository's own database.
func (r *SQLJobRepository) Joins(t tx.Tx) bool {
	g, ok := t.(*gormadapter.GormTx)
	return ok && g.On(r.db)
}

// Close is a no-op; the connection belongs to the gorm ConnectionProvider.
func (r *SQLJobRepository) Close() error {
	return nil
}

func (r *SQLJobRepository) SaveJobInstance(ctx context.Context, instance *model.JobInstance) error {
	const op = "SQLJobRepository.SaveJobInstance"
	if err := r.conn(ctx).Create(fromDomainJobInstance(instance)).Error; err != nil {
		return exception.NewRepositoryError(op, fmt.Sprintf("failed to save job instance %s", instance.ID), err)
	}
	return nil
}

func (r *SQLJobRepository) FindJobInstanceByID(ctx context.Context, id string) (*model.JobInstance, error) {
	const op = "SQLJobRepository.FindJobInstanceByID"
	var e JobInstanceEntity
	if err := r.conn(ctx).Where("id = ?", id).Take(&e).Error; err != nil {
		return nil, notFoundOr(op, err, repository.ErrJobInstanceNotFound)
	}
	return toDomainJobInstance(&e), nil
}

func (r *SQLJobRepository) FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	const op = "SQLJobRepository.FindJobInstanceByJobNameAndParameters"
	hash, err := params.Hash()
	if err != nil {
		return nil, exception.NewRepositoryError(op, "failed to hash job parameters", err)
	}
	var e JobInstanceEntity
	if err := r.conn(ctx).Where("job_name = ? AND parameters_hash = ?", jobName, hash).Take(&e).Error; err != nil {
		return nil, notFoundOr(op, err, repository.ErrJobInstanceNotFound)
	}
	return toDomainJobInstance(&e), nil
}

func (r *SQLJobRepository) FindJobInstancesByJobName(ctx context.Context, jobName string, start, count int) ([]*model.JobInstance, error) {
	const op = "SQLJobRepository.FindJobInstancesByJobName"
	q := r.conn(ctx).Where("job_name = ?", jobName).Order("create_time DESC").Offset(start)
	if count > 0 {
		q = q.Limit(count)
	}
	var entities []JobInstanceEntity
	if err := q.Find(&entities).Error; err != nil {
		return nil, exception.NewRepositoryError(op, "failed to list job instances of "+jobName, err)
	}
	out := make([]*model.JobInstance, 0, len(entities))
	for i := range entities {
		out = append(out, toDomainJobInstance(&entities[i]))
	}
	return out, nil
}

func (r *SQLJobRepository) GetJobNames(ctx context.Context) ([]string, error) {
	const op = "SQLJobRepository.GetJobNames"
	names := make([]string, 0)
	if err := r.conn(ctx).Model(&JobInstanceEntity{}).Distinct().Order("job_name").Pluck("job_name", &names).Error; err != nil {
		return nil, exception.NewRepositoryError(op, "failed to list job names", err)
	}
	return names, nil
}

func (r *SQLJobRepository) SaveJobExecution(ctx context.Context, execution *model.JobExecution) error {
	const op = "SQLJobRepository.SaveJobExecution"
	if err := r.conn(ctx).Create(fromDomainJobExecution(execution)).Error; err != nil {
		return exception.NewRepositoryError(op, fmt.Sprintf("failed to save job execution %s", execution.ID), err)
	}
	return nil
}

func (r *SQLJobRepository) UpdateJobExecution(ctx context.Context, execution *model.JobExecution) error {
	const op = "SQLJobRepository.UpdateJobExecution"
	entity := fromDomainJobExecution(execution)
	entity.Version = execution.Version + 1
	if err := r.versionedUpdate(ctx, op, entity, execution.ID, execution.Version); err != nil {
		return err
	}
	execution.Version = entity.Version
	return nil
}

func (r *SQLJobRepository) FindJobExecutionByID(ctx context.Context, id string) (*model.JobExecution, error) {
	const op = "SQLJobRepository.FindJobExecutionByID"
	var e JobExecutionEntity
	if err := r.conn(ctx).Where("id = ?", id).Take(&e).Error; err != nil {
		return nil, notFoundOr(op, err, repository.ErrJobExecutionNotFound)
	}
	return r.withSteps(ctx, op, toDomainJobExecution(&e))
}

func (r *SQLJobRepository) FindLatestJobExecution(ctx context.Context, jobInstanceID string) (*model.JobExecution, error) {
	const op = "SQLJobRepository.FindLatestJobExecution"
	var e JobExecutionEntity
	err := r.conn(ctx).Where("job_instance_id = ?", jobInstanceID).Order("create_time DESC").Limit(1).Take(&e).Error
	if err != nil {
		return nil, notFoundOr(op, err, repository.ErrJobExecutionNotFound)
	}
	return r.withSteps(ctx, op, toDomainJobExecution(&e))
}

func (r *SQLJobRepository) FindJobExecutionsByJobInstance(ctx context.Context, jobInstanceID string) ([]*model.JobExecution, error) {
	const op = "SQLJobRepository.FindJobExecutionsByJobInstance"
	var entities []JobExecutionEntity
	if err := r.conn(ctx).Where("job_instance_id = ?", jobInstanceID).Order("create_time DESC").Find(&entities).Error; err != nil {
		return nil, exception.NewRepositoryError(op, "failed to list job executions of instance "+jobInstanceID, err)
	}
	return toDomainJobExecutions(entities), nil
}

func (r *SQLJobRepository) FindRunningJobExecutions(ctx context.Context, jobName string) ([]*model.JobExecution, error) {
	const op = "SQLJobRepository.FindRunningJobExecutions"
	running := []string{
		string(model.BatchStatusStarting), string(model.BatchStatusStarted),
		string(model.BatchStatusStopping), string(model.BatchStatusRestarting),
	}
	var entities []JobExecutionEntity
	if err := r.conn(ctx).Where("job_name = ? AND status IN ?", jobName, running).Order("create_time DESC").Find(&entities).Error; err != nil {
		return nil, exception.NewRepositoryError(op, "failed to list running executions of "+jobName, err)
	}
	return toDomainJobExecutions(entities), nil
}

func (r *SQLJobRepository) SaveStepExecution(ctx context.Context, execution *model.StepExecution) error {
	const op = "SQLJobRepository.SaveStepExecution"
	if err := r.conn(ctx).Create(fromDomainStepExecution(execution)).Error; err != nil {
		return exception.NewRepositoryError(op, fmt.Sprintf("failed to save step execution %s", execution.ID), err)
	}
	return nil
}

func (r *SQLJobRepository) UpdateStepExecution(ctx context.Context, execution *model.StepExecution) error {
	const op = "SQLJobRepository.UpdateStepExecution"
	entity := fromDomainStepExecution(execution)
	entity.Version = execution.Version + 1
	if err := r.versionedUpdate(ctx, op, entity, execution.ID, execution.Version); err != nil {
		return err
	}
	execution.Version = entity.Version
	return nil
}

func (r *SQLJobRepository) FindStepExecutionByID(ctx context.Context, id string) (*model.StepExecution, error) {
	const op = "SQLJobRepository.FindStepExecutionByID"
	var e StepExecutionEntity
	if err := r.conn(ctx).Where("id = ?", id).Take(&e).Error; err != nil {
		return nil, notFoundOr(op, err, repository.ErrStepExecutionNotFound)
	}
	return toDomainStepExecution(&e), nil
}

func (r *SQLJobRepository) FindStepExecutionsByJobExecution(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error) {
	const op = "SQLJobRepository.FindStepExecutionsByJobExecution"
	var entities []StepExecutionEntity
	if err := r.conn(ctx).Where("job_execution_id = ?", jobExecutionID).Order("start_time ASC, id ASC").Find(&entities).Error; err != nil {
		return nil, exception.NewRepositoryError(op, "failed to list step executions of "+jobExecutionID, err)
	}
	out := make([]*model.StepExecution, 0, len(entities))
	for i := range entities {
		out = append(out, toDomainStepExecution(&entities[i]))
	}
	return out, nil
}

// versionedUpdate writes every column of entity where the stored version still equals
// expected. No matching row means another writer got there first.
func (r *SQLJobRepository) versionedUpdate(ctx context.Context, op string, entity interface{}, id string, expected int) error {
	result := r.conn(ctx).Model(entity).
		Where("id = ? AND version = ?", id, expected).
		Select("*").Omit("id").
		Updates(entity)
	if result.Error != nil {
		return exception.NewRepositoryError(op, "failed to update "+id, result.Error)
	}
	if result.RowsAffected == 0 {
		return exception.NewOptimisticLockingFailure(op,
			fmt.Sprintf("%s was updated concurrently or does not exist (expected version %d)", id, expected), nil)
	}
	return nil
}

func (r *SQLJobRepository) withSteps(ctx context.Context, op string, je *model.JobExecution) (*model.JobExecution, error) {
	steps, err := r.FindStepExecutionsByJobExecution(ctx, je.ID)
	if err != nil {
		return nil, err
	}
	je.StepExecutions = steps
	return je, nil
}

func toDomainJobExecutions(entities []JobExecutionEntity) []*model.JobExecution {
	out := make([]*model.JobExecution, 0, len(entities))
	for i := range entities {
		out = append(out, toDomainJobExecution(&entities[i]))
	}
	return out
}

func notFoundOr(op string, err error, notFound error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	return exception.NewRepositoryError(op, "query failed", err)
}
