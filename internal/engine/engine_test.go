package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskmesh/engine/internal/config"
	"github.com/taskmesh/engine/internal/model"
	"github.com/taskmesh/engine/internal/persistence"
	"github.com/taskmesh/engine/internal/supervisor"
)

// memStore is an in-memory persistence.Store so tests don't touch disk.
type memStore struct {
	snaps map[string]persistence.EncodedSnapshot
}

func newMemStore() *memStore { return &memStore{snaps: make(map[string]persistence.EncodedSnapshot)} }

func (m *memStore) Save(ctx context.Context, enc persistence.EncodedSnapshot) error {
	m.snaps[enc.ID] = enc
	return nil
}
func (m *memStore) Load(ctx context.Context, id string) (persistence.EncodedSnapshot, error) {
	enc, ok := m.snaps[id]
	if !ok {
		return persistence.EncodedSnapshot{}, model.NewPersistenceError("test", "load", nil)
	}
	return enc, nil
}
func (m *memStore) List(ctx context.Context) ([]string, error) {
	ids := make([]string, 0, len(m.snaps))
	for id := range m.snaps {
		ids = append(ids, id)
	}
	return ids, nil
}
func (m *memStore) Delete(ctx context.Context, id string) error {
	delete(m.snaps, id)
	return nil
}

func testConfig() config.EngineConfig {
	cfg := config.DefaultEngineConfig()
	cfg.SchedulingTick = 5 * time.Millisecond
	cfg.PriorityRecomputeEvery = time.Hour
	cfg.AutosaveInterval = time.Hour
	cfg.MaxConcurrentTasks = 4
	cfg.RetryBaseDelay = 5 * time.Millisecond
	cfg.RetryMaxDelay = 10 * time.Millisecond
	cfg.RetryBackoffFactor = 1.5
	cfg.MaxRetries = 2
	cfg.DefaultTaskTimeout = time.Second
	cfg.MaxHistoryPerTask = 20
	return cfg
}

func newTestEngine(t *testing.T, exec supervisor.Executor) *Engine {
	t.Helper()
	e := New(Options{
		Config:   testConfig(),
		Executor: exec,
		Store:    newMemStore(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)
	t.Cleanup(func() {
		cancel()
		_ = e.Stop(context.Background())
	})
	return e
}

func waitForState(t *testing.T, e *Engine, taskID string, want model.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		task, err := e.GetStatus(taskID)
		return err == nil && task.State == want
	}, 2*time.Second, 2*time.Millisecond, "task %s never reached %s", taskID, want)
}

func succeedExecutor() supervisor.Executor {
	return supervisor.ExecutorFunc(func(ctx context.Context, task *model.Task, upstream map[string]interface{}, progress supervisor.ProgressSink) supervisor.Result {
		return supervisor.Result{Success: true, Output: task.ID + "-done"}
	})
}

func TestEngine_LinearChainCompletes(t *testing.T) {
	e := newTestEngine(t, succeedExecutor())
	ctx := context.Background()

	aID, err := e.Submit(ctx, model.TaskSubmission{ID: "a", Name: "a", Priority: model.PriorityNormal})
	require.NoError(t, err)

	bID, err := e.Submit(ctx, model.TaskSubmission{
		ID: "b", Name: "b", Priority: model.PriorityNormal,
		Dependencies: []model.Edge{{From: "a", To: "b", Type: model.DependencyHard}},
	})
	require.NoError(t, err)

	waitForState(t, e, aID, model.StateCompleted)
	waitForState(t, e, bID, model.StateCompleted)
}

func TestEngine_FanOutParallelism(t *testing.T) {
	e := newTestEngine(t, succeedExecutor())
	ctx := context.Background()

	_, err := e.Submit(ctx, model.TaskSubmission{ID: "root", Name: "root", Priority: model.PriorityHigh})
	require.NoError(t, err)

	var leaves []string
	for i := 0; i < 5; i++ {
		id, err := e.Submit(ctx, model.TaskSubmission{
			ID: "leaf" + string(rune('a'+i)), Name: "leaf", Priority: model.PriorityNormal,
			Dependencies: []model.Edge{{From: "root", To: "leaf" + string(rune('a'+i)), Type: model.DependencyHard}},
		})
		require.NoError(t, err)
		leaves = append(leaves, id)
	}

	waitForState(t, e, "root", model.StateCompleted)
	for _, id := range leaves {
		waitForState(t, e, id, model.StateCompleted)
	}
}

func TestEngine_CycleRejected(t *testing.T) {
	e := newTestEngine(t, succeedExecutor())
	ctx := context.Background()

	_, err := e.Submit(ctx, model.TaskSubmission{ID: "x", Name: "x"})
	require.NoError(t, err)
	_, err = e.Submit(ctx, model.TaskSubmission{
		ID: "y", Name: "y",
		Dependencies: []model.Edge{{From: "x", To: "y", Type: model.DependencyHard}},
	})
	require.NoError(t, err)

	_, err = e.Submit(ctx, model.TaskSubmission{
		ID: "z", Name: "z",
		Dependencies: []model.Edge{
			{From: "y", To: "z", Type: model.DependencyHard},
			{From: "z", To: "x", Type: model.DependencyHard},
		},
	})
	require.Error(t, err)
}

func TestEngine_RetryThenSucceeds(t *testing.T) {
	var attempts int32
	exec := supervisor.ExecutorFunc(func(ctx context.Context, task *model.Task, upstream map[string]interface{}, progress supervisor.ProgressSink) supervisor.Result {
		if atomic.AddInt32(&attempts, 1) < 2 {
			return supervisor.Result{Success: false, Err: context.DeadlineExceeded}
		}
		return supervisor.Result{Success: true, Output: "ok"}
	})

	e := newTestEngine(t, exec)
	ctx := context.Background()

	_, err := e.Submit(ctx, model.TaskSubmission{ID: "flaky", Name: "flaky"})
	require.NoError(t, err)

	waitForState(t, e, "flaky", model.StateCompleted)
	require.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(2))

	var failedToRetrying, retryingToQueued bool
	for _, ev := range e.History("flaky") {
		if ev.From == model.StateFailed && ev.To == model.StateRetrying {
			failedToRetrying = true
		}
		if ev.From == model.StateRetrying && ev.To == model.StateQueued {
			retryingToQueued = true
		}
	}
	require.True(t, failedToRetrying, "expected a FAILED->RETRYING transition in history, got %+v", e.History("flaky"))
	require.True(t, retryingToQueued, "expected a RETRYING->QUEUED transition in history, got %+v", e.History("flaky"))
}

func TestEngine_RetryExhaustsAfterMaxRetries(t *testing.T) {
	e := newTestEngine(t, failExecutor())
	ctx := context.Background()

	_, err := e.Submit(ctx, model.TaskSubmission{ID: "always-fails", Name: "always-fails", MaxRetries: 1})
	require.NoError(t, err)

	waitForState(t, e, "always-fails", model.StateFailed)

	// With MaxRetries: 1 there are two attempts total; give the backoff
	// window a moment to elapse and confirm the task doesn't creep back
	// to QUEUED a third time.
	time.Sleep(50 * time.Millisecond)
	task, err := e.GetStatus("always-fails")
	require.NoError(t, err)
	require.Equal(t, model.StateFailed, task.State)
	require.Equal(t, 2, task.Attempt)
}

func failExecutor() supervisor.Executor {
	return supervisor.ExecutorFunc(func(ctx context.Context, task *model.Task, upstream map[string]interface{}, progress supervisor.ProgressSink) supervisor.Result {
		return supervisor.Result{Success: false, Err: context.Canceled}
	})
}

func TestEngine_FailureCascadesToHardDependents(t *testing.T) {
	e := newTestEngine(t, failExecutor())
	ctx := context.Background()

	_, err := e.Submit(ctx, model.TaskSubmission{ID: "up", Name: "up", MaxRetries: 1})
	require.NoError(t, err)
	_, err = e.Submit(ctx, model.TaskSubmission{
		ID: "down", Name: "down",
		Dependencies: []model.Edge{{From: "up", To: "down", Type: model.DependencyHard}},
	})
	require.NoError(t, err)

	waitForState(t, e, "up", model.StateFailed)
	waitForState(t, e, "down", model.StateCancelled)
}

func TestEngine_CancelDoesNotCascadeThroughSoftDependency(t *testing.T) {
	block := make(chan struct{})
	exec := supervisor.ExecutorFunc(func(ctx context.Context, task *model.Task, upstream map[string]interface{}, progress supervisor.ProgressSink) supervisor.Result {
		if task.ID == "blocker" {
			<-block
			return supervisor.Result{Success: false, Err: ctx.Err()}
		}
		return supervisor.Result{Success: true}
	})

	e := newTestEngine(t, exec)
	ctx := context.Background()

	_, err := e.Submit(ctx, model.TaskSubmission{ID: "blocker", Name: "blocker"})
	require.NoError(t, err)
	_, err = e.Submit(ctx, model.TaskSubmission{
		ID: "independent", Name: "independent",
		Dependencies: []model.Edge{{From: "blocker", To: "independent", Type: model.DependencySoft}},
	})
	require.NoError(t, err)

	waitForState(t, e, "independent", model.StateCompleted)

	require.NoError(t, e.Cancel(ctx, "blocker"))
	close(block)
	waitForState(t, e, "blocker", model.StateCancelled)
}

func TestEngine_SnapshotAndRestoreRoundTrip(t *testing.T) {
	store := newMemStore()
	cfg := testConfig()
	e1 := New(Options{Config: cfg, Executor: succeedExecutor(), Store: store, SessionID: "session-1"})
	ctx, cancel := context.WithCancel(context.Background())
	e1.Start(ctx)

	_, err := e1.Submit(ctx, model.TaskSubmission{ID: "persisted", Name: "persisted"})
	require.NoError(t, err)
	waitForState(t, e1, "persisted", model.StateCompleted)

	require.NoError(t, e1.Snapshot(ctx, "test"))
	cancel()
	require.NoError(t, e1.Stop(context.Background()))

	e2 := New(Options{Config: cfg, Executor: succeedExecutor(), Store: store, SessionID: "session-2"})
	require.NoError(t, e2.Restore(context.Background(), ""))

	task, err := e2.GetStatus("persisted")
	require.NoError(t, err)
	require.Equal(t, model.StateCompleted, task.State)
}

// A task the snapshot caught mid-execution under a session that's gone
// is an orphan: §4.6 requires it count as a failed attempt and, if
// retries remain, return to QUEUED behind a backoff window rather than
// being marked terminally FAILED outright.
func TestEngine_RestoreRequeuesOrphanedTaskWithRetriesRemaining(t *testing.T) {
	store := newMemStore()
	cfg := testConfig()

	now := time.Now()
	snap := persistence.Snapshot{
		ID:        "snap-orphan",
		SessionID: "dead-session",
		CreatedAt: now,
		Tasks: []persistence.TaskState{
			{
				ID:                "orphaned",
				Name:              "orphaned",
				BasePriority:      model.PriorityNormal,
				EffectivePriority: 500,
				State:             model.StateRunning,
				Attempt:           1,
				SubmittedAt:       now,
				UpdatedAt:         now,
			},
		},
	}
	enc, err := persistence.Encode(snap, "sha256", false)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), enc))

	e := New(Options{Config: cfg, Executor: succeedExecutor(), Store: store, SessionID: "new-session"})
	require.NoError(t, e.Restore(context.Background(), "snap-orphan"))

	task, err := e.GetStatus("orphaned")
	require.NoError(t, err)
	require.Equal(t, model.StateQueued, task.State)
	require.Equal(t, 2, task.Attempt)
	require.Error(t, task.Err)
	require.False(t, task.RetryAfter.IsZero())
}

// Same scenario, but the orphaned task has already exhausted its
// retries: it must be marked terminally FAILED, not re-queued.
func TestEngine_RestoreFailsOrphanedTaskWithRetriesExhausted(t *testing.T) {
	store := newMemStore()
	cfg := testConfig() // cfg.MaxRetries == 2, so 3 attempts total are allowed

	now := time.Now()
	snap := persistence.Snapshot{
		ID:        "snap-orphan-exhausted",
		SessionID: "dead-session",
		CreatedAt: now,
		Tasks: []persistence.TaskState{
			{
				ID:                "orphaned",
				Name:              "orphaned",
				BasePriority:      model.PriorityNormal,
				EffectivePriority: 500,
				State:             model.StateRunning,
				Attempt:           2,
				SubmittedAt:       now,
				UpdatedAt:         now,
			},
		},
	}
	enc, err := persistence.Encode(snap, "sha256", false)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), enc))

	e := New(Options{Config: cfg, Executor: succeedExecutor(), Store: store, SessionID: "new-session"})
	require.NoError(t, e.Restore(context.Background(), "snap-orphan-exhausted"))

	task, err := e.GetStatus("orphaned")
	require.NoError(t, err)
	require.Equal(t, model.StateFailed, task.State)
	require.Equal(t, 3, task.Attempt)
	require.Error(t, task.Err)
}

func TestEngine_QueryFiltersByState(t *testing.T) {
	e := newTestEngine(t, succeedExecutor())
	ctx := context.Background()

	_, err := e.Submit(ctx, model.TaskSubmission{ID: "q1", Name: "q1"})
	require.NoError(t, err)
	waitForState(t, e, "q1", model.StateCompleted)

	results := e.Query(QueryFilter{State: model.StateCompleted})
	require.Len(t, results, 1)
	require.Equal(t, "q1", results[0].ID)
}
