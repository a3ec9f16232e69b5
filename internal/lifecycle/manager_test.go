package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskmesh/engine/internal/model"
)

func newTestTask(id string) *model.Task {
	now := time.Now()
	return model.NewTask(model.TaskSubmission{ID: id, Name: id, Priority: model.PriorityNormal}, now)
}

func TestManager_LegalTransitionSequence(t *testing.T) {
	m := NewManager(0)
	task := newTestTask("t1")
	m.Register(task)

	ctx := context.Background()
	require.NoError(t, m.Transition(ctx, "t1", model.StateValidated))
	require.NoError(t, m.Transition(ctx, "t1", model.StateQueued))
	require.NoError(t, m.Transition(ctx, "t1", model.StateScheduled))

	got, ok := m.Get("t1")
	require.True(t, ok)
	require.Equal(t, model.StateScheduled, got.State)
}

func TestManager_IllegalTransitionRejected(t *testing.T) {
	m := NewManager(0)
	task := newTestTask("t1")
	m.Register(task)

	err := m.Transition(context.Background(), "t1", model.StateRunning)
	require.Error(t, err)
	var te *model.TransitionError
	require.ErrorAs(t, err, &te)
}

func TestManager_UnknownTask(t *testing.T) {
	m := NewManager(0)
	err := m.Transition(context.Background(), "missing", model.StateValidated)
	var ue *model.UnknownTaskError
	require.ErrorAs(t, err, &ue)
}

func TestManager_ConcurrentTransitionsFailFast(t *testing.T) {
	m := NewManager(0)
	task := newTestTask("t1")
	m.Register(task)

	blocking := make(chan struct{})
	m.BeforeHook(Hook{
		ID:       "block",
		Priority: 1000,
		Fn: func(ctx context.Context, task *model.Task, from, to model.State) error {
			<-blocking
			return nil
		},
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = m.Transition(context.Background(), "t1", model.StateValidated)
	}()

	time.Sleep(20 * time.Millisecond)
	err := m.Transition(context.Background(), "t1", model.StateValidated)
	require.Error(t, err)
	var busy *model.TransitionBusyError
	require.ErrorAs(t, err, &busy)

	close(blocking)
	wg.Wait()
}

func TestManager_BeforeHookVetoesTransition(t *testing.T) {
	m := NewManager(0)
	task := newTestTask("t1")
	m.Register(task)

	m.BeforeHook(Hook{
		ID:       "veto",
		Priority: 1000,
		Fn: func(ctx context.Context, task *model.Task, from, to model.State) error {
			return model.NewError(model.ErrorCodeValidation, "test", "veto", task.ID, "nope")
		},
	})

	err := m.Transition(context.Background(), "t1", model.StateValidated)
	require.Error(t, err)

	got, _ := m.Get("t1")
	require.Equal(t, model.StateCreated, got.State)
}

func TestManager_HistoryIsBounded(t *testing.T) {
	m := NewManager(2)
	task := newTestTask("t1")
	m.Register(task)
	ctx := context.Background()

	require.NoError(t, m.Transition(ctx, "t1", model.StateValidated))
	require.NoError(t, m.Transition(ctx, "t1", model.StateQueued))
	require.NoError(t, m.Transition(ctx, "t1", model.StateScheduled))

	history := m.History("t1")
	require.Len(t, history, 2)
	require.Equal(t, model.StateQueued, history[0].To)
	require.Equal(t, model.StateScheduled, history[1].To)
}

func TestManager_MetricsRecordTerminalStates(t *testing.T) {
	m := NewManager(0)
	task := newTestTask("t1")
	m.Register(task)
	ctx := context.Background()

	require.NoError(t, m.Transition(ctx, "t1", model.StateValidated))
	require.NoError(t, m.Transition(ctx, "t1", model.StateFailed))

	metrics := m.Metrics()
	require.Equal(t, int64(1), metrics.TotalFailed)
}
