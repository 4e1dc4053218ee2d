package test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
)

// MockJobRepository is a mock implementation of repository.JobRepository.
type MockJobRepository struct {
	mock.Mock
}

var _ repository.JobRepository = (*MockJobRepository)(nil)

func (m *MockJobRepository) SaveJobInstance(ctx context.Context, instance *model.JobInstance) error {
	return m.Called(ctx, instance).Error(0)
}

func (m *MockJobRepository) FindJobInstanceByID(ctx context.Context, id string) (*model.JobInstance, error) {
	args := m.Called(ctx, id)
	return jobInstanceArg(args, 0), args.Error(1)
}

func (m *MockJobRepository) FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	args := m.Called(ctx, jobName, params)
	return jobInstanceArg(args, 0), args.Error(1)
}

func (m *MockJobRepository) FindJobInstancesByJobName(ctx context.Context, jobName string, start, count int) ([]*model.JobInstance, error) {
	args := m.Called(ctx, jobName, start, count)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.JobInstance), args.Error(1)
}

func (m *MockJobRepository) GetJobNames(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockJobRepository) SaveJobExecution(ctx context.Context, execution *model.JobExecution) error {
	return m.Called(ctx, execution).Error(0)
}

func (m *MockJobRepository) UpdateJobExecution(ctx context.Context, execution *model.JobExecution) error {
	return m.Called(ctx, execution).Error(0)
}

func (m *MockJobRepository) FindJobExecutionByID(ctx context.Context, id string) (*model.JobExecution, error) {
	args := m.Called(ctx, id)
	return jobExecutionArg(args, 0), args.Error(1)
}

func (m *MockJobRepository) FindLatestJobExecution(ctx context.Context, jobInstanceID string) (*model.JobExecution, error) {
	args := m.Called(ctx, jobInstanceID)
	return jobExecutionArg(args, 0), args.Error(1)
}

func (m *MockJobRepository) FindJobExecutionsByJobInstance(ctx context.Context, jobInstanceID string) ([]*model.JobExecution, error) {
	args := m.Called(ctx, jobInstanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.JobExecution), args.Error(1)
}

func (m *MockJobRepository) FindRunningJobExecutions(ctx context.Context, jobName string) ([]*model.JobExecution, error) {
	args := m.Called(ctx, jobName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.JobExecution), args.Error(1)
}

func (m *MockJobRepository) SaveStepExecution(ctx context.Context, execution *model.StepExecution) error {
	return m.Called(ctx, execution).Error(0)
}

func (m *MockJobRepository) UpdateStepExecution(ctx context.Context, execution *model.StepExecution) error {
	return m.Called(ctx, execution).Error(0)
}

func (m *MockJobRepository) FindStepExecutionByID(ctx context.Context, id string) (*model.StepExecution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.StepExecution), args.Error(1)
}

func (m *MockJobRepository) FindStepExecutionsByJobExecution(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error) {
	args := m.Called(ctx, jobExecutionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.StepExecution), args.Error(1)
}

func (m *MockJobRepository) Close() error {
	return m.Called().Error(0)
}

func jobInstanceArg(args mock.Arguments, i int) *model.JobInstance {
	if args.Get(i) == nil {
		return nil
	}
	return args.Get(i).(*model.JobInstance)
}

func jobExecutionArg(args mock.Arguments, i int) *model.JobExecution {
	if args.Get(i) == nil {
		return nil
	}
	return args.Get(i).(*model.JobExecution)
}
