package supervisor

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/taskmesh/engine/internal/logger"
	"github.com/taskmesh/engine/internal/model"
)

// RetryPolicy controls the exponential backoff used between attempts:
// delay(attempt) = min(BaseDelay * Factor^(attempt-1), MaxDelay).
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Factor     float64
	MaxDelay   time.Duration
}

// DefaultRetryPolicy mirrors the engine-wide default: 5s base, tripling
// each attempt, capped at 60s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  5 * time.Second,
		Factor:     3.0,
		MaxDelay:   60 * time.Second,
	}
}

// Delay computes the backoff before the given attempt number is retried:
// min(BaseDelay * Factor^(attempt-1), MaxDelay). The engine calls this
// directly when deciding a FAILED task's re-eligibility time -- retries
// are driven by the scheduler fiber, not looped here, so the slot and
// reserved resources are freed between attempts.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt-1))
	if time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// handle tracks one in-flight task execution: its cancellation function
// and its pause/resume signal channels.
type handle struct {
	cancel   context.CancelFunc
	pauseCh  chan struct{} // closed to request pause
	resumeCh chan struct{} // closed to request resume
	paused   bool
	mu       sync.Mutex
}

// TransitionFunc lets the supervisor drive the lifecycle manager without
// importing it directly, avoiding a cyclic dependency.
type TransitionFunc func(ctx context.Context, taskID string, to model.State) error

// Supervisor runs tasks with bounded concurrency, one goroutine per task,
// behind a buffered-channel semaphore -- the same shape the worker
// runtime uses for agent execution, generalized from per-tenant
// executions to per-task executions here.
type Supervisor struct {
	semaphore chan struct{}
	executor  Executor
	transition TransitionFunc
	pauseWindow time.Duration

	mu      sync.Mutex
	handles map[string]*handle

	wg sync.WaitGroup
}

// Config bundles the Supervisor's construction parameters.
type Config struct {
	MaxConcurrent int
	Executor      Executor
	Transition    TransitionFunc
	PauseWindow   time.Duration
}

// New builds a Supervisor with a semaphore sized to MaxConcurrent.
func New(cfg Config) *Supervisor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.PauseWindow <= 0 {
		cfg.PauseWindow = 100 * time.Millisecond
	}
	return &Supervisor{
		semaphore:   make(chan struct{}, cfg.MaxConcurrent),
		executor:    cfg.Executor,
		transition:  cfg.Transition,
		pauseWindow: cfg.PauseWindow,
		handles:     make(map[string]*handle),
	}
}

// Dispatch launches a single execution attempt in its own goroutine and
// returns at once; that goroutine waits for a semaphore slot (reporting
// ctx.Err() to onDone if ctx ends first) and releases the slot before
// onDone is invoked. A failed attempt
// is reported to onDone exactly like a successful one -- retry/backoff
// decisions belong to the scheduler fiber (internal/engine/tick.go),
// which drives FAILED -> RETRYING -> QUEUED and re-dispatches, so a
// retrying task never holds its slot or reserved resources while it
// waits out the backoff.
func (s *Supervisor) Dispatch(ctx context.Context, task *model.Task, upstreamOutputs map[string]interface{}, progress ProgressSink, onDone func(Result)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case s.semaphore <- struct{}{}:
		case <-ctx.Done():
			onDone(Result{Success: false, Err: ctx.Err()})
			return
		}

		result := s.runOnce(ctx, task, upstreamOutputs, progress)
		<-s.semaphore

		onDone(result)
	}()
}

func (s *Supervisor) runOnce(ctx context.Context, task *model.Task, upstreamOutputs map[string]interface{}, progress ProgressSink) Result {
	timeout := task.Timeout
	if timeout <= 0 {
		logger.WithExecution(task.ID, task.Attempt).Warn("non-positive timeout, failing without dispatching executor")
		return Result{Success: false, Err: model.NewTimeoutError("supervisor", task.ID, timeout)}
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	h := &handle{cancel: cancel, pauseCh: make(chan struct{}), resumeCh: make(chan struct{})}
	s.mu.Lock()
	s.handles[task.ID] = h
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.handles, task.ID)
		s.mu.Unlock()
	}()

	done := make(chan Result, 1)
	go func() {
		done <- s.executor.Execute(execCtx, task, upstreamOutputs, progress)
	}()

	select {
	case result := <-done:
		return result
	case <-execCtx.Done():
		if execCtx.Err() == context.DeadlineExceeded {
			return Result{Success: false, Err: model.NewTimeoutError("supervisor", task.ID, timeout)}
		}
		return Result{Success: false, Err: execCtx.Err()}
	}
}

// Cancel requests cancellation of a running task. The executor's context
// is cancelled; downstream HARD dependents are the caller's
// responsibility to cascade (the engine does this via graph.DependencyImpact).
func (s *Supervisor) Cancel(taskID string) bool {
	s.mu.Lock()
	h, ok := s.handles[taskID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	h.cancel()
	return true
}

// Pause records a pause request: the supervisor does not forcibly
// suspend the goroutine (Go has no such primitive). It marks the handle
// paused and closes its pauseCh. That channel is not passed to the
// Executor, so the running executor is not notified and carries on
// until it returns, times out, or is cancelled.
func (s *Supervisor) Pause(taskID string) bool {
	s.mu.Lock()
	h, ok := s.handles[taskID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.paused {
		return true
	}
	h.paused = true
	close(h.pauseCh)
	return true
}

// Resume clears a pause recorded by Pause and closes the handle's
// resumeCh; like pauseCh, that channel is not visible to the executor.
func (s *Supervisor) Resume(taskID string) bool {
	s.mu.Lock()
	h, ok := s.handles[taskID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.paused {
		return false
	}
	h.paused = false
	close(h.resumeCh)
	h.pauseCh = make(chan struct{})
	h.resumeCh = make(chan struct{})
	return true
}

// RunningCount returns the number of tasks currently occupying a
// semaphore slot.
func (s *Supervisor) RunningCount() int {
	return len(s.semaphore)
}

// Shutdown cancels every in-flight execution and waits for their
// goroutines to return, or until ctx is done.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, h := range s.handles {
		h.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
