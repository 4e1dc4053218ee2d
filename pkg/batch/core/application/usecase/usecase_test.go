package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/application/usecase"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/config/support"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/job/runner"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/support/incrementer"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/item"
	"github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/test"
)

// numberReader serves 1..n and keeps its offset in the execution context. When gate is
// set, the first Read closes started and blocks until gate is closed.
type numberReader struct {
	n       int
	offset  int
	gate    chan struct{}
	started chan struct{}
	once    sync.Once
}

func (r *numberReader) Open(ctx context.Context, ec model.ExecutionContext) error {
	r.offset, _ = ec.GetInt("numberReader.offset")
	return nil
}

func (r *numberReader) Read(ctx context.Context) (int, error) {
	if r.gate != nil {
		r.once.Do(func() { close(r.started) })
		<-r.gate
	}
	if r.offset >= r.n {
		return 0, port.ErrNoMoreItems
	}
	r.offset++
	return r.offset, nil
}

func (r *numberReader) Close(ctx context.Context) error { return nil }

func (r *numberReader) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	ec := model.NewExecutionContext()
	ec.Put("numberReader.offset", r.offset)
	return ec, nil
}

// flakyWriter fails every write containing failOn while failing is set.
type flakyWriter struct {
	mu      sync.Mutex
	items   []int
	failOn  int
	failing bool
}

func (w *flakyWriter) Open(ctx context.Context, ec model.ExecutionContext) error { return nil }
func (w *flakyWriter) Close(ctx context.Context) error                           { return nil }
func (w *flakyWriter) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	return model.NewExecutionContext(), nil
}

func (w *flakyWriter) Write(ctx context.Context, t tx.Tx, items []int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, it := range items {
		if w.failing && it == w.failOn {
			return errors.New("disk full")
		}
	}
	w.items = append(w.items, items...)
	return nil
}

func (w *flakyWriter) written() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]int(nil), w.items...)
}

type harness struct {
	repo     *inmemory.InMemoryJobRepository
	factory  *support.JobFactory
	launcher *usecase.SimpleJobLauncher
	operator *usecase.DefaultJobOperator
	explorer *usecase.SimpleJobExplorer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo := inmemory.NewInMemoryJobRepository()
	factory := support.NewJobFactory(support.JobFactoryParams{Repo: repo, Cfg: config.NewConfig()})
	incrementer.RegisterBuilders(factory)
	launcher := usecase.NewSimpleJobLauncher(repo, factory, runner.NewSimpleJobRunner(repo))
	return &harness{
		repo:     repo,
		factory:  factory,
		launcher: launcher,
		operator: usecase.NewDefaultJobOperator(repo, launcher),
		explorer: usecase.NewSimpleJobExplorer(repo),
	}
}

// register adds a one-step chunk job reading from reader and writing to writer.
func (h *harness) register(name string, reader *numberReader, writer *flakyWriter, opts ...runner.JobOption) {
	h.factory.RegisterJobBuilder(name, func(f *support.JobFactory) (port.Job, error) {
		step, err := item.NewChunkStep[int, int](name+"Step", reader, port.PassThroughProcessor[int]{}, writer, 2, f.JobRepository(), f.ChunkStepOptions()...)
		if err != nil {
			return nil, err
		}
		return runner.NewSimpleJob(name, []port.Step{step}, f.JobRepository(), f.JobOptions(opts...)...)
	})
}

func params(kv ...interface{}) model.JobParameters {
	m := map[string]interface{}{}
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i].(string)] = kv[i+1]
	}
	return test.NewTestJobParameters(m)
}

func TestLaunch_CompletesAndRefusesCompletedInstance(t *testing.T) {
	h := newHarness(t)
	writer := &flakyWriter{}
	h.register("importJob", &numberReader{n: 5}, writer)
	ctx := context.Background()

	je, err := h.launcher.Launch(ctx, "importJob", params("file", "a.csv"))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, writer.written())

	persisted, err := h.explorer.GetJobExecution(ctx, je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, persisted.Status)
	require.Len(t, persisted.StepExecutions, 1)
	assert.Equal(t, 5, persisted.StepExecutions[0].WriteCount)

	_, err = h.launcher.Launch(ctx, "importJob", params("file", "a.csv"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrJobInstanceAlreadyComplete))
}

func TestLaunch_UnknownJob(t *testing.T) {
	h := newHarness(t)
	_, err := h.launcher.Launch(context.Background(), "missing", model.NewJobParameters())
	assert.Error(t, err)
}

func TestLaunch_InvalidParametersCreateNoInstance(t *testing.T) {
	h := newHarness(t)
	h.register("strictJob", &numberReader{n: 1}, &flakyWriter{}, runner.WithParametersValidator(func(p model.JobParameters) error {
		if _, ok := p.Get("file"); !ok {
			return errors.New("file is required")
		}
		return nil
	}))
	ctx := context.Background()

	_, err := h.launcher.Launch(ctx, "strictJob", model.NewJobParameters())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file is required")

	names, err := h.explorer.GetJobNames(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLaunch_IncrementerStartsNewInstanceEachTime(t *testing.T) {
	h := newHarness(t)
	inc, err := h.factory.CreateIncrementer(incrementer.RunIDIncrementerRef, nil)
	require.NoError(t, err)
	h.register("dailyJob", &numberReader{n: 0}, &flakyWriter{}, runner.WithIncrementer(inc))
	ctx := context.Background()

	first, err := h.launcher.Launch(ctx, "dailyJob", model.NewJobParameters())
	require.NoError(t, err)
	second, err := h.launcher.Launch(ctx, "dailyJob", model.NewJobParameters())
	require.NoError(t, err)

	assert.Equal(t, model.BatchStatusCompleted, first.Status)
	assert.Equal(t, model.BatchStatusCompleted, second.Status)
	assert.NotEqual(t, first.JobInstanceID, second.JobInstanceID)

	id1, _ := first.Parameters.GetInt(incrementer.DefaultRunIDKey)
	id2, _ := second.Parameters.GetInt(incrementer.DefaultRunIDKey)
	assert.Equal(t, 1, id1)
	assert.Equal(t, 2, id2)

	instances, err := h.explorer.GetJobInstances(ctx, "dailyJob", 0, 10)
	require.NoError(t, err)
	assert.Len(t, instances, 2)
}

func TestLaunch_RestartsFailedInstanceFromLastCommit(t *testing.T) {
	h := newHarness(t)
	writer := &flakyWriter{failOn: 3, failing: true}
	h.register("importJob", &numberReader{n: 5}, writer)
	ctx := context.Background()

	first, err := h.launcher.Launch(ctx, "importJob", params("file", "b.csv"))
	require.NoError(t, err, "a failed job is an outcome, not a launch error")
	require.Equal(t, model.BatchStatusFailed, first.Status)
	assert.Equal(t, []int{1, 2}, writer.written())

	writer.failing = false
	second, err := h.launcher.Launch(ctx, "importJob", params("file", "b.csv"))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, second.Status)
	assert.Equal(t, first.JobInstanceID, second.JobInstanceID)
	assert.Equal(t, 1, second.RestartCount)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, writer.written(), "no item is written twice")

	executions, err := h.explorer.GetJobExecutions(ctx, first.JobInstanceID)
	require.NoError(t, err)
	require.Len(t, executions, 2)
	assert.Equal(t, second.ID, executions[0].ID)
}

func TestOperator_Restart(t *testing.T) {
	h := newHarness(t)
	writer := &flakyWriter{failOn: 1, failing: true}
	h.register("importJob", &numberReader{n: 3}, writer)
	ctx := context.Background()

	failed, err := h.launcher.Launch(ctx, "importJob", params("file", "c.csv"))
	require.NoError(t, err)
	require.Equal(t, model.BatchStatusFailed, failed.Status)

	writer.failing = false
	restarted, err := h.operator.Restart(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, restarted.Status)
	assert.Equal(t, failed.JobInstanceID, restarted.JobInstanceID)

	_, err = h.operator.Restart(ctx, restarted.ID)
	assert.True(t, errors.Is(err, exception.ErrJobRestart), "a completed execution is not restartable")

	_, err = h.operator.Restart(ctx, failed.ID)
	assert.True(t, errors.Is(err, exception.ErrJobRestart), "only the latest execution can be restarted")
}

func TestOperator_StopRunningJobThenAbandon(t *testing.T) {
	h := newHarness(t)
	reader := &numberReader{n: 6, gate: make(chan struct{}), started: make(chan struct{})}
	writer := &flakyWriter{}
	h.register("longJob", reader, writer)
	ctx := context.Background()

	snapshot, done, err := h.launcher.LaunchAsync(ctx, "longJob", params("day", "mon"))
	require.NoError(t, err)

	select {
	case <-reader.started:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not start")
	}

	_, err = h.launcher.Launch(ctx, "longJob", params("day", "mon"))
	assert.True(t, errors.Is(err, exception.ErrJobExecutionAlreadyRunning))

	require.NoError(t, h.operator.Stop(ctx, snapshot.ID))
	close(reader.gate)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not stop")
	}

	stopped, err := h.explorer.GetJobExecution(ctx, snapshot.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStopped, stopped.Status)
	assert.Equal(t, []int{1, 2}, writer.written(), "the chunk in progress is committed before stopping")

	assert.Error(t, h.operator.Stop(ctx, snapshot.ID), "a finished execution cannot be stopped")

	require.NoError(t, h.operator.Abandon(ctx, snapshot.ID))
	abandoned, err := h.explorer.GetLastJobExecution(ctx, snapshot.JobInstanceID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusAbandoned, abandoned.Status)

	_, err = h.launcher.Launch(ctx, "longJob", params("day", "mon"))
	assert.True(t, errors.Is(err, exception.ErrJobRestart), "an abandoned instance cannot be restarted")
}

func TestOperator_AbandonRefusesCompleted(t *testing.T) {
	h := newHarness(t)
	h.register("importJob", &numberReader{n: 1}, &flakyWriter{})
	ctx := context.Background()

	je, err := h.launcher.Launch(ctx, "importJob", params("file", "d.csv"))
	require.NoError(t, err)
	assert.Error(t, h.operator.Abandon(ctx, je.ID))
}

func TestExplorer_GetStepExecution(t *testing.T) {
	h := newHarness(t)
	h.register("importJob", &numberReader{n: 3}, &flakyWriter{})
	ctx := context.Background()

	je, err := h.launcher.Launch(ctx, "importJob", params("file", "e.csv"))
	require.NoError(t, err)
	require.Len(t, je.StepExecutions, 1)

	se, err := h.explorer.GetStepExecution(ctx, je.StepExecutions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "importJobStep", se.StepName)
	assert.Equal(t, 3, se.ReadCount)

	_, err = h.explorer.GetStepExecution(ctx, "nope")
	assert.Error(t, err)
}

func TestExplorer_WrapsRepositoryErrors(t *testing.T) {
	repo := &test.MockJobRepository{}
	explorer := usecase.NewSimpleJobExplorer(repo)
	ctx := context.Background()
	down := errors.New("connection refused")

	repo.On("GetJobNames", mock.Anything).Return(nil, down).Once()
	repo.On("FindJobInstanceByID", mock.Anything, "ji-1").Return(nil, down).Once()

	_, err := explorer.GetJobNames(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, down)
	assert.Contains(t, err.Error(), "job names")

	// An unknown instance stops GetJobExecutions before the executions are listed.
	_, err = explorer.GetJobExecutions(ctx, "ji-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, down)
	assert.Contains(t, err.Error(), "JobInstance (ID: ji-1)")

	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "FindJobExecutionsByJobInstance", mock.Anything, mock.Anything)
}
