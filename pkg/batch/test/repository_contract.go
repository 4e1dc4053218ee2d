package test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

// RepositoryFactory returns an empty JobRepository for one subtest.
type RepositoryFactory func(t *testing.T) repository.JobRepository

// RunJobRepositoryContract checks the behaviour every JobRepository implementation shares.
func RunJobRepositoryContract(t *testing.T, newRepo RepositoryFactory) {
	t.Run("JobInstanceRoundTrip", func(t *testing.T) { testJobInstanceRoundTrip(t, newRepo(t)) })
	t.Run("JobInstanceIdentityIsUnique", func(t *testing.T) { testJobInstanceIdentityIsUnique(t, newRepo(t)) })
	t.Run("JobInstancePagingAndNames", func(t *testing.T) { testJobInstancePagingAndNames(t, newRepo(t)) })
	t.Run("JobExecutionOptimisticLocking", func(t *testing.T) { testJobExecutionOptimisticLocking(t, newRepo(t)) })
	t.Run("JobExecutionQueries", func(t *testing.T) { testJobExecutionQueries(t, newRepo(t)) })
	t.Run("StepExecutionRoundTrip", func(t *testing.T) { testStepExecutionRoundTrip(t, newRepo(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newRepo(t)) })
}

func saveInstance(t *testing.T, repo repository.JobRepository, jobName string, params model.JobParameters, created time.Time) *model.JobInstance {
	t.Helper()
	instance := NewTestJobInstance(t, jobName, params)
	instance.CreateTime = created
	require.NoError(t, repo.SaveJobInstance(context.Background(), instance))
	return instance
}

func saveExecution(t *testing.T, repo repository.JobRepository, instance *model.JobInstance, created time.Time) *model.JobExecution {
	t.Helper()
	je := NewTestJobExecution(instance)
	je.CreateTime = created
	require.NoError(t, repo.SaveJobExecution(context.Background(), je))
	return je
}

func testJobInstanceRoundTrip(t *testing.T, repo repository.JobRepository) {
	ctx := context.Background()
	params := NewTestJobParameters(map[string]interface{}{"inputFile": "students.csv", "run.id": int64(1)})
	instance := saveInstance(t, repo, "firstJob", params, time.Now())

	found, err := repo.FindJobInstanceByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "firstJob", found.JobName)
	assert.Equal(t, instance.ParametersHash, found.ParametersHash)
	file, ok := found.Parameters.GetString("inputFile")
	assert.True(t, ok)
	assert.Equal(t, "students.csv", file)

	same := NewTestJobParameters(map[string]interface{}{"run.id": int64(1), "inputFile": "students.csv"})
	byKey, err := repo.FindJobInstanceByJobNameAndParameters(ctx, "firstJob", same)
	require.NoError(t, err)
	assert.Equal(t, instance.ID, byKey.ID)

	other := NewTestJobParameters(map[string]interface{}{"inputFile": "students.csv", "run.id": int64(2)})
	_, err = repo.FindJobInstanceByJobNameAndParameters(ctx, "firstJob", other)
	assert.True(t, errors.Is(err, repository.ErrJobInstanceNotFound))
}

func testJobInstanceIdentityIsUnique(t *testing.T, repo repository.JobRepository) {
	params := NewTestJobParameters(map[string]interface{}{"inputFile": "students.csv"})
	saveInstance(t, repo, "firstJob", params, time.Now())

	duplicate := NewTestJobInstance(t, "firstJob", params)
	assert.Error(t, repo.SaveJobInstance(context.Background(), duplicate))
}

func testJobInstancePagingAndNames(t *testing.T, repo repository.JobRepository) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	var ids []string
	for i := 1; i <= 3; i++ {
		params := NewTestJobParameters(map[string]interface{}{"run.id": int64(i)})
		ids = append(ids, saveInstance(t, repo, "firstJob", params, base.Add(time.Duration(i)*time.Minute)).ID)
	}
	saveInstance(t, repo, "archiveJob", model.NewJobParameters(), base)

	page, err := repo.FindJobInstancesByJobName(ctx, "firstJob", 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].ID, "newest first")
	assert.Equal(t, ids[1], page[1].ID)

	rest, err := repo.FindJobInstancesByJobName(ctx, "firstJob", 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, ids[0], rest[0].ID)

	names, err := repo.GetJobNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"archiveJob", "firstJob"}, names)
}

func testJobExecutionOptimisticLocking(t *testing.T, repo repository.JobRepository) {
	ctx := context.Background()
	instance := saveInstance(t, repo, "firstJob", model.NewJobParameters(), time.Now())
	je := saveExecution(t, repo, instance, time.Now())
	stale, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)

	je.MarkAsStarted()
	require.NoError(t, repo.UpdateJobExecution(ctx, je))
	assert.Equal(t, 1, je.Version)

	stale.MarkAsStopping()
	err = repo.UpdateJobExecution(ctx, stale)
	require.Error(t, err)
	assert.True(t, exception.IsOptimisticLockingFailure(err))
	assert.Equal(t, 0, stale.Version, "a failed update leaves the caller's version alone")

	found, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStarted, found.Status)
	assert.Equal(t, 1, found.Version)

	found.MarkAsStopping()
	require.NoError(t, repo.UpdateJobExecution(ctx, found), "a fresh read can update again")
	assert.Equal(t, 2, found.Version)
}

func testJobExecutionQueries(t *testing.T, repo repository.JobRepository) {
	ctx := context.Background()
	now := time.Now()
	instance := saveInstance(t, repo, "firstJob", model.NewJobParameters(), now.Add(-time.Hour))

	first := saveExecution(t, repo, instance, now.Add(-time.Minute))
	first.MarkAsStarted()
	first.MarkAsFailed(errors.New("boom"))
	require.NoError(t, repo.UpdateJobExecution(ctx, first))

	second := saveExecution(t, repo, instance, now)
	second.MarkAsStarted()
	require.NoError(t, repo.UpdateJobExecution(ctx, second))
	stepA := NewTestStepExecution("stepA", second)
	stepA.StartTime = now.Add(time.Second)
	stepB := NewTestStepExecution("stepB", second)
	stepB.StartTime = now.Add(2 * time.Second)
	require.NoError(t, repo.SaveStepExecution(ctx, stepB))
	require.NoError(t, repo.SaveStepExecution(ctx, stepA))

	latest, err := repo.FindLatestJobExecution(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	require.Len(t, latest.StepExecutions, 2)
	assert.Equal(t, "stepA", latest.StepExecutions[0].StepName, "steps come back in start order")
	assert.Equal(t, "stepB", latest.StepExecutions[1].StepName)

	all, err := repo.FindJobExecutionsByJobInstance(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Equal(t, first.ID, all[1].ID)
	assert.Equal(t, model.BatchStatusFailed, all[1].Status)
	assert.Contains(t, all[1].Failures, "boom")

	running, err := repo.FindRunningJobExecutions(ctx, "firstJob")
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, second.ID, running[0].ID)

	none, err := repo.FindRunningJobExecutions(ctx, "otherJob")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testStepExecutionRoundTrip(t *testing.T, repo repository.JobRepository) {
	ctx := context.Background()
	instance := saveInstance(t, repo, "firstJob", model.NewJobParameters(), time.Now())
	je := saveExecution(t, repo, instance, time.Now())
	se := NewTestStepExecution("firstChunkStep", je)
	require.NoError(t, repo.SaveStepExecution(ctx, se))
	stale, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)

	se.MarkAsStarted()
	se.ReadCount = 5
	se.WriteCount = 3
	se.FilterCount = 1
	se.ProcessSkipCount = 1
	se.CommitCount = 1
	se.CommitPosition = 3
	se.ExecutionContext.Put("reader.offset", 3)
	require.NoError(t, repo.UpdateStepExecution(ctx, se))
	assert.Equal(t, 1, se.Version)

	found, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, je.ID, found.JobExecutionID)
	assert.Equal(t, model.BatchStatusStarted, found.Status)
	assert.Equal(t, 5, found.ReadCount)
	assert.Equal(t, 3, found.WriteCount)
	assert.Equal(t, 1, found.FilterCount)
	assert.Equal(t, 1, found.SkipCount())
	assert.Equal(t, 3, found.CommitPosition)
	offset, ok := found.ExecutionContext.GetInt("reader.offset")
	assert.True(t, ok)
	assert.Equal(t, 3, offset)

	stale.ReadCount = 99
	err = repo.UpdateStepExecution(ctx, stale)
	assert.True(t, exception.IsOptimisticLockingFailure(err))

	steps, err := repo.FindStepExecutionsByJobExecution(ctx, je.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, 5, steps[0].ReadCount)
}

func testNotFound(t *testing.T, repo repository.JobRepository) {
	ctx := context.Background()
	_, err := repo.FindJobInstanceByID(ctx, "missing")
	assert.True(t, errors.Is(err, repository.ErrJobInstanceNotFound))
	_, err = repo.FindJobExecutionByID(ctx, "missing")
	assert.True(t, errors.Is(err, repository.ErrJobExecutionNotFound))
	_, err = repo.FindLatestJobExecution(ctx, "missing")
	assert.True(t, errors.Is(err, repository.ErrJobExecutionNotFound))
	_, err = repo.FindStepExecutionByID(ctx, "missing")
	assert.True(t, errors.Is(err, repository.ErrStepExecutionNotFound))

	steps, err := repo.FindStepExecutionsByJobExecution(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, steps)
	executions, err := repo.FindJobExecutionsByJobInstance(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, executions)
}
