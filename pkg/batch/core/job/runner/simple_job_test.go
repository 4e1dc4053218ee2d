package runner_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/job/runner"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/item"
	"github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/test"
)

// scriptedStep ends its StepExecution with a fixed status.
type scriptedStep struct {
	name    string
	outcome model.BatchStatus
	err     error
	calls   int
	repo    *inmemory.InMemoryJobRepository
	seen    *model.JobExecution
}

func (s *scriptedStep) StepName() string { return s.name }

func (s *scriptedStep) Execute(ctx context.Context, je *model.JobExecution, se *model.StepExecution) error {
	s.calls++
	s.seen = port.JobExecutionFromContext(ctx)
	se.MarkAsStarted()
	switch s.outcome {
	case model.BatchStatusFailed:
		se.MarkAsFailed(s.err)
	case model.BatchStatusStopped:
		se.MarkAsStopped()
	default:
		se.MarkAsCompleted()
	}
	if err := s.repo.UpdateStepExecution(ctx, se); err != nil {
		return err
	}
	return s.err
}

type recordingJobListener struct {
	before, after []model.BatchStatus
}

func (l *recordingJobListener) BeforeJob(ctx context.Context, je *model.JobExecution) {
	l.before = append(l.before, je.Status)
}
func (l *recordingJobListener) AfterJob(ctx context.Context, je *model.JobExecution) {
	l.after = append(l.after, je.Status)
}

func newExecution(t *testing.T, repo *inmemory.InMemoryJobRepository, jobName string) *model.JobExecution {
	t.Helper()
	ctx := context.Background()
	instance := test.NewTestJobInstance(t, jobName, test.NewTestJobParameters(map[string]interface{}{"run.id": 1}))
	require.NoError(t, repo.SaveJobInstance(ctx, instance))
	je := test.NewTestJobExecution(instance)
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	return je
}

func TestSimpleJob_AllStepsCompleted(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	first := &scriptedStep{name: "first", repo: repo}
	second := &scriptedStep{name: "second", repo: repo}
	listener := &recordingJobListener{}
	job, err := runner.NewSimpleJob("job", []port.Step{first, second}, repo, runner.WithJobListener(listener))
	require.NoError(t, err)
	je := newExecution(t, repo, "job")

	runner.NewSimpleJobRunner(repo).Run(context.Background(), job, je)

	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	assert.Equal(t, model.ExitStatusCompleted, je.ExitStatus)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Same(t, je, first.seen)
	assert.Equal(t, []model.BatchStatus{model.BatchStatusStarted}, listener.before)
	assert.Equal(t, []model.BatchStatus{model.BatchStatusCompleted}, listener.after)

	stored, err := repo.FindJobExecutionByID(context.Background(), je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, stored.Status)
	require.Len(t, stored.StepExecutions, 2)
	assert.Equal(t, "first", stored.StepExecutions[0].StepName)
	assert.Equal(t, "second", stored.StepExecutions[1].StepName)
}

func TestSimpleJob_FailedStepHaltsJob(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	first := &scriptedStep{name: "first", outcome: model.BatchStatusFailed, err: errors.New("boom"), repo: repo}
	second := &scriptedStep{name: "second", repo: repo}
	job, err := runner.NewSimpleJob("job", []port.Step{first, second}, repo)
	require.NoError(t, err)
	je := newExecution(t, repo, "job")

	runner.NewSimpleJobRunner(repo).Run(context.Background(), job, je)

	assert.Equal(t, model.BatchStatusFailed, je.Status)
	assert.Equal(t, 0, second.calls)
	assert.Contains(t, je.Failures, "boom")
	stored, err := repo.FindJobExecutionByID(context.Background(), je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusFailed, stored.Status)
	assert.Len(t, stored.StepExecutions, 1)
}

// unfinishedStep returns without giving its StepExecution a terminal status.
type unfinishedStep struct{}

func (unfinishedStep) StepName() string { return "unfinished" }

func (unfinishedStep) Execute(ctx context.Context, je *model.JobExecution, se *model.StepExecution) error {
	se.MarkAsStarted()
	return nil
}

func TestSimpleJob_StatusFoldedFromStepExecutions(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	first := &scriptedStep{name: "first", repo: repo}
	job, err := runner.NewSimpleJob("job", []port.Step{first, unfinishedStep{}}, repo)
	require.NoError(t, err)
	je := newExecution(t, repo, "job")

	runner.NewSimpleJobRunner(repo).Run(context.Background(), job, je)

	assert.Equal(t, 1, first.calls)
	assert.Equal(t, model.BatchStatusFailed, je.Status)
	require.NotEmpty(t, je.Failures)
}

func TestSimpleJob_StoppedStepStopsJob(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	first := &scriptedStep{name: "first", outcome: model.BatchStatusStopped, repo: repo}
	second := &scriptedStep{name: "second", repo: repo}
	job, err := runner.NewSimpleJob("job", []port.Step{first, second}, repo)
	require.NoError(t, err)
	je := newExecution(t, repo, "job")

	runner.NewSimpleJobRunner(repo).Run(context.Background(), job, je)

	assert.Equal(t, model.BatchStatusStopped, je.Status)
	assert.Equal(t, 0, second.calls)
}

func TestSimpleJobRunner_StopRequestedBeforeStart(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	ctx := context.Background()
	step := &scriptedStep{name: "only", repo: repo}
	job, err := runner.NewSimpleJob("job", []port.Step{step}, repo)
	require.NoError(t, err)
	je := newExecution(t, repo, "job")

	operatorCopy, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	operatorCopy.MarkAsStopping()
	require.NoError(t, repo.UpdateJobExecution(ctx, operatorCopy))

	runner.NewSimpleJobRunner(repo).Run(ctx, job, je)

	assert.Equal(t, 0, step.calls)
	assert.Equal(t, model.BatchStatusStopped, je.Status)
	stored, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStopped, stored.Status)
}

func TestSimpleJob_CancelledContextStopsBeforeNextStep(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := &scriptedStep{name: "first", repo: repo}
	second := &scriptedStep{name: "second", repo: repo}
	job, err := runner.NewSimpleJob("job", []port.Step{first, second}, repo,
		runner.WithJobListener(&cancelOnStart{cancel: cancel}))
	require.NoError(t, err)
	je := newExecution(t, repo, "job")

	runner.NewSimpleJobRunner(repo).Run(ctx, job, je)

	assert.Equal(t, 0, first.calls)
	assert.Equal(t, model.BatchStatusStopped, je.Status)
	stored, err := repo.FindJobExecutionByID(context.Background(), je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStopped, stored.Status, "the final state is persisted after cancellation")
}

type cancelOnStart struct{ cancel context.CancelFunc }

func (c *cancelOnStart) BeforeJob(ctx context.Context, je *model.JobExecution) { c.cancel() }
func (c *cancelOnStart) AfterJob(ctx context.Context, je *model.JobExecution)  {}

func TestUpdateJobExecution_AdoptsConcurrentStop(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	ctx := context.Background()

	t.Run("running execution moves to STOPPING", func(t *testing.T) {
		je := newExecution(t, repo, "running")
		je.MarkAsStarted()
		require.NoError(t, repo.UpdateJobExecution(ctx, je))

		operatorCopy, err := repo.FindJobExecutionByID(ctx, je.ID)
		require.NoError(t, err)
		operatorCopy.MarkAsStopping()
		require.NoError(t, repo.UpdateJobExecution(ctx, operatorCopy))

		je.CurrentStepName = "second"
		require.NoError(t, runner.UpdateJobExecution(ctx, repo, je))
		assert.Equal(t, model.BatchStatusStopping, je.Status)
	})

	t.Run("finished execution keeps its status", func(t *testing.T) {
		je := newExecution(t, repo, "finished")
		je.MarkAsStarted()
		require.NoError(t, repo.UpdateJobExecution(ctx, je))

		operatorCopy, err := repo.FindJobExecutionByID(ctx, je.ID)
		require.NoError(t, err)
		operatorCopy.MarkAsStopping()
		require.NoError(t, repo.UpdateJobExecution(ctx, operatorCopy))

		je.MarkAsCompleted()
		require.NoError(t, runner.UpdateJobExecution(ctx, repo, je))
		stored, err := repo.FindJobExecutionByID(ctx, je.ID)
		require.NoError(t, err)
		assert.Equal(t, model.BatchStatusCompleted, stored.Status)
	})

	t.Run("other conflicts are returned", func(t *testing.T) {
		je := newExecution(t, repo, "conflict")
		other, err := repo.FindJobExecutionByID(ctx, je.ID)
		require.NoError(t, err)
		other.CurrentStepName = "x"
		require.NoError(t, repo.UpdateJobExecution(ctx, other))

		err = runner.UpdateJobExecution(ctx, repo, je)
		require.Error(t, err)
		assert.True(t, exception.IsOptimisticLockingFailure(err))
	})
}

func TestNewSimpleJob_Validation(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	a := &scriptedStep{name: "a", repo: repo}

	_, err := runner.NewSimpleJob("", []port.Step{a}, repo)
	assert.Error(t, err)
	_, err = runner.NewSimpleJob("job", nil, repo)
	assert.Error(t, err)
	_, err = runner.NewSimpleJob("job", []port.Step{a, &scriptedStep{name: "a", repo: repo}}, repo)
	assert.Error(t, err)

	job, err := runner.NewSimpleJob("job", []port.Step{a}, repo,
		runner.WithParametersValidator(func(p model.JobParameters) error {
			if _, ok := p.GetString("inputFile"); !ok {
				return errors.New("inputFile is required")
			}
			return nil
		}))
	require.NoError(t, err)
	assert.Error(t, job.ValidateParameters(model.NewJobParameters()))
	params := model.NewJobParameters()
	params.Put("inputFile", "students.csv")
	assert.NoError(t, job.ValidateParameters(params))
}

// countingReader serves 1..n, remembers its offset in the execution context and can fail once at failAt.
type countingReader struct {
	key      string
	n        int
	offset   int
	failAt   int
	failOnce bool
	opens    int
}

func (r *countingReader) Open(ctx context.Context, ec model.ExecutionContext) error {
	r.opens++
	r.offset, _ = ec.GetInt(r.key)
	return nil
}

func (r *countingReader) Read(ctx context.Context) (int, error) {
	if r.offset >= r.n {
		return 0, port.ErrNoMoreItems
	}
	if r.failOnce && r.offset == r.failAt {
		r.failOnce = false
		return 0, exception.NewSourceReadError("countingReader", "corrupt record", nil)
	}
	r.offset++
	return r.offset, nil
}

func (r *countingReader) Close(ctx context.Context) error { return nil }

func (r *countingReader) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	ec := model.NewExecutionContext()
	ec.Put(r.key, r.offset)
	return ec, nil
}

type collectingWriter struct {
	items  []int
	writes int
}

func (w *collectingWriter) Open(ctx context.Context, ec model.ExecutionContext) error { return nil }
func (w *collectingWriter) Close(ctx context.Context) error                           { return nil }
func (w *collectingWriter) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	return model.NewExecutionContext(), nil
}
func (w *collectingWriter) Write(ctx context.Context, t tx.Tx, items []int) error {
	w.writes++
	w.items = append(w.items, items...)
	return nil
}

func TestSimpleJob_RestartSkipsCompletedStepAndResumesFailedOne(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	ctx := context.Background()

	readerA := &countingReader{key: "a.offset", n: 4, failAt: -1}
	writerA := &collectingWriter{}
	stepA, err := item.NewChunkStep[int, int]("stepA", readerA, port.PassThroughProcessor[int]{}, writerA, 2, repo)
	require.NoError(t, err)

	readerB := &countingReader{key: "b.offset", n: 5, failAt: 3, failOnce: true}
	writerB := &collectingWriter{}
	stepB, err := item.NewChunkStep[int, int]("stepB", readerB, port.PassThroughProcessor[int]{}, writerB, 3, repo)
	require.NoError(t, err)

	job, err := runner.NewSimpleJob("twoStepJob", []port.Step{stepA, stepB}, repo)
	require.NoError(t, err)
	jobRunner := runner.NewSimpleJobRunner(repo)

	first := newExecution(t, repo, "twoStepJob")
	jobRunner.Run(ctx, job, first)
	require.Equal(t, model.BatchStatusFailed, first.Status)
	assert.Equal(t, []int{1, 2, 3}, writerB.items)

	previous, err := repo.FindLatestJobExecution(ctx, first.JobInstanceID)
	require.NoError(t, err)
	restart := model.NewRestartExecution(previous)
	require.NoError(t, repo.SaveJobExecution(ctx, restart))
	for _, se := range restart.StepExecutions {
		require.NoError(t, repo.SaveStepExecution(ctx, se))
	}

	jobRunner.Run(ctx, job, restart)

	assert.Equal(t, model.BatchStatusCompleted, restart.Status)
	assert.Equal(t, 1, readerA.opens, "the completed step's reader is not opened again")
	assert.Equal(t, 2, writerA.writes, "the completed step's writer is not invoked again")
	assert.Equal(t, []int{1, 2, 3, 4}, writerA.items)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, writerB.items, "every item of the failed step is written exactly once")

	stored, err := repo.FindJobExecutionByID(ctx, restart.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.RestartCount)
	require.Len(t, stored.StepExecutions, 2)
	for _, se := range stored.StepExecutions {
		assert.Equal(t, model.BatchStatusCompleted, se.Status, se.StepName)
	}
}
