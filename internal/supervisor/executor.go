// Package supervisor executes tasks under bounded concurrency with
// timeout enforcement and cancellation, computes the exponential retry
// backoff that the engine applies between attempts, and records
// pause/resume requests.
package supervisor

import (
	"context"

	"github.com/taskmesh/engine/internal/model"
)

// ProgressSink lets an executor report incremental progress while
// running; the supervisor forwards these to the engine's event bus.
type ProgressSink interface {
	Progress(percent float64, message string)
}

// Result is what an Executor returns for a single attempt.
type Result struct {
	Success bool
	Output  interface{}
	Err     error
}

// Executor runs the actual work for a task. Implementations must honor
// ctx cancellation promptly: the supervisor cancels ctx on timeout and
// on cancellation (including cascade-cancellation), then stops waiting
// and frees the task's semaphore slot, so an executor that ignores ctx
// keeps running outside the concurrency bound.
type Executor interface {
	Execute(ctx context.Context, task *model.Task, upstreamOutputs map[string]interface{}, progress ProgressSink) Result
}

// ExecutorFunc adapts a plain function to Executor.
type ExecutorFunc func(ctx context.Context, task *model.Task, upstreamOutputs map[string]interface{}, progress ProgressSink) Result

func (f ExecutorFunc) Execute(ctx context.Context, task *model.Task, upstreamOutputs map[string]interface{}, progress ProgressSink) Result {
	return f(ctx, task, upstreamOutputs, progress)
}
