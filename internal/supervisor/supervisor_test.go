package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskmesh/engine/internal/model"
)

func newTask(id string) *model.Task {
	return model.NewTask(model.TaskSubmission{ID: id, Priority: model.PriorityNormal, Timeout: time.Second}, time.Now())
}

func TestSupervisor_SucceedsFirstAttempt(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, task *model.Task, upstream map[string]interface{}, p ProgressSink) Result {
		return Result{Success: true, Output: "ok"}
	})
	s := New(Config{MaxConcurrent: 2, Executor: exec})

	var wg sync.WaitGroup
	wg.Add(1)
	var got Result
	s.Dispatch(context.Background(), newTask("t1"), nil, nil, func(r Result) {
		got = r
		wg.Done()
	})
	wg.Wait()

	require.True(t, got.Success)
	require.Equal(t, "ok", got.Output)
}

// A single Dispatch call makes exactly one execution attempt and reports
// it as-is -- retrying a failed attempt is the scheduler fiber's job
// (internal/engine/tick.go), not the supervisor's.
func TestSupervisor_DispatchMakesExactlyOneAttempt(t *testing.T) {
	var attempts int32
	exec := ExecutorFunc(func(ctx context.Context, task *model.Task, upstream map[string]interface{}, p ProgressSink) Result {
		atomic.AddInt32(&attempts, 1)
		return Result{Success: false, Err: model.NewExecutorError("test", task.ID, context.DeadlineExceeded)}
	})
	s := New(Config{MaxConcurrent: 1, Executor: exec})

	var wg sync.WaitGroup
	wg.Add(1)
	var got Result
	s.Dispatch(context.Background(), newTask("t1"), nil, nil, func(r Result) {
		got = r
		wg.Done()
	})
	wg.Wait()

	require.False(t, got.Success)
	require.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

// Dispatch releases the semaphore slot as soon as the attempt returns, so
// a failed task never holds capacity hostage while a caller-driven retry
// is pending elsewhere.
func TestSupervisor_SlotFreedImmediatelyAfterFailure(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, task *model.Task, upstream map[string]interface{}, p ProgressSink) Result {
		return Result{Success: false, Err: context.DeadlineExceeded}
	})
	s := New(Config{MaxConcurrent: 1, Executor: exec})

	var wg sync.WaitGroup
	wg.Add(2)
	var done1, done2 Result
	s.Dispatch(context.Background(), newTask("t1"), nil, nil, func(r Result) { done1 = r; wg.Done() })
	s.Dispatch(context.Background(), newTask("t2"), nil, nil, func(r Result) { done2 = r; wg.Done() })

	require.Eventually(t, func() bool {
		wg.Wait()
		return true
	}, time.Second, time.Millisecond)

	require.False(t, done1.Success)
	require.False(t, done2.Success)
}

// §8 boundary behavior: maxExecutionTime = 0 fails the task immediately
// with a Timeout error, without ever invoking the executor.
func TestSupervisor_ZeroTimeoutFailsWithoutExecuting(t *testing.T) {
	var invoked int32
	exec := ExecutorFunc(func(ctx context.Context, task *model.Task, upstream map[string]interface{}, p ProgressSink) Result {
		atomic.AddInt32(&invoked, 1)
		return Result{Success: true}
	})
	s := New(Config{MaxConcurrent: 1, Executor: exec})

	task := model.NewTask(model.TaskSubmission{ID: "zero-timeout", Priority: model.PriorityNormal, Timeout: 0}, time.Now())

	var wg sync.WaitGroup
	wg.Add(1)
	var got Result
	s.Dispatch(context.Background(), task, nil, nil, func(r Result) {
		got = r
		wg.Done()
	})
	wg.Wait()

	require.False(t, got.Success)
	require.Equal(t, int32(0), atomic.LoadInt32(&invoked))
	var timeoutErr *model.TimeoutError
	require.ErrorAs(t, got.Err, &timeoutErr)
	require.Equal(t, model.ErrorCodeTimeout, timeoutErr.Code)
}

func TestSupervisor_ConcurrencyBounded(t *testing.T) {
	var running int32
	var maxSeen int32
	release := make(chan struct{})

	exec := ExecutorFunc(func(ctx context.Context, task *model.Task, upstream map[string]interface{}, p ProgressSink) Result {
		n := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&running, -1)
		return Result{Success: true}
	})

	s := New(Config{MaxConcurrent: 2, Executor: exec})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		task := newTask("t")
		s.Dispatch(context.Background(), task, nil, nil, func(r Result) { wg.Done() })
	}

	time.Sleep(50 * time.Millisecond)
	require.LessOrEqual(t, atomic.LoadInt32(&maxSeen), int32(2))
	close(release)
	wg.Wait()
}

func TestSupervisor_Cancel(t *testing.T) {
	started := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, task *model.Task, upstream map[string]interface{}, p ProgressSink) Result {
		close(started)
		<-ctx.Done()
		return Result{Success: false, Err: ctx.Err()}
	})
	s := New(Config{MaxConcurrent: 1, Executor: exec})

	var wg sync.WaitGroup
	wg.Add(1)
	var got Result
	s.Dispatch(context.Background(), newTask("t1"), nil, nil, func(r Result) {
		got = r
		wg.Done()
	})

	<-started
	require.True(t, s.Cancel("t1"))
	wg.Wait()

	require.False(t, got.Success)
}
