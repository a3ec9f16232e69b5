package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/taskmesh/engine/internal/events"
	"github.com/taskmesh/engine/internal/logger"
	"github.com/taskmesh/engine/internal/model"
	"github.com/taskmesh/engine/internal/scheduler"
	"github.com/taskmesh/engine/internal/supervisor"
)

// tick runs one scheduling pass: drain the ready queue, let the active
// policy choose which candidates fit in remaining supervisor capacity,
// push the task(s) not chosen back onto the queue, and drive the chosen
// ones through SCHEDULED..RUNNING before handing them to the supervisor.
func (e *Engine) tick(ctx context.Context) {
	entries := e.readyQueue.DrainAll()
	if len(entries) == 0 {
		return
	}

	now := nowFunc()
	candidates := make([]scheduler.Candidate, 0, len(entries))
	eligible := make([]scheduler.Entry, 0, len(entries))
	for _, entry := range entries {
		task, ok := e.lifecycle.Get(entry.TaskID)
		if !ok || task.State != model.StateQueued {
			continue
		}
		if !task.RetryAfter.IsZero() && task.RetryAfter.After(now) {
			// Backoff eligibility window (spec §4.3 eligibility bullet 4):
			// a retrying task stays queued but isn't a candidate until
			// RetryAfter elapses.
			e.readyQueue.Push(entry.TaskID, entry.Priority, entry.Sequence)
			continue
		}
		eligible = append(eligible, entry)
		candidates = append(candidates, scheduler.Candidate{
			Task:              task,
			EffectivePriority: task.EffectivePriority,
			EstimatedDuration: estimatedDuration(task),
			WaitTime:          now.Sub(task.UpdatedAt),
			DependentCount:    len(e.graph.Dependents(task.ID)),
		})
	}

	capacity := e.cfg.MaxConcurrentTasks - e.supervisor.RunningCount()
	if capacity <= 0 {
		for _, entry := range eligible {
			e.readyQueue.Push(entry.TaskID, entry.Priority, entry.Sequence)
		}
		return
	}

	decision := e.policy.Select(candidates, capacity)

	selected := make(map[string]bool, len(decision.Selected))
	var totalDurationMS int64
	for _, c := range decision.Selected {
		selected[c.Task.ID] = true
		totalDurationMS += c.EstimatedDuration.Milliseconds()
	}

	for _, entry := range eligible {
		if selected[entry.TaskID] {
			continue
		}
		e.readyQueue.Push(entry.TaskID, entry.Priority, entry.Sequence)
	}

	logger.LogSchedulingDecision(decision.Policy, decision.Reasoning, len(decision.Selected), decision.Outcome)

	for _, c := range decision.Selected {
		e.startTask(ctx, c.Task)
	}
}

func estimatedDuration(task *model.Task) time.Duration {
	if task.Timeout > 0 {
		return task.Timeout
	}
	return 5 * time.Minute
}

// graphDuration adapts the engine's task registry to graph.Duration so
// critical-path and impact analysis can use each task's configured (or
// default) timeout as its duration estimate.
type graphDuration struct{ engine *Engine }

func (d graphDuration) TaskDuration(id string) int64 {
	task, ok := d.engine.lifecycle.Get(id)
	if !ok {
		return 0
	}
	return estimatedDuration(task).Milliseconds()
}

// startTask drives a QUEUED task through the pre-execution states and
// hands it to the supervisor. If resource reservation (an
// entering-RESOURCE_ALLOCATED hook) fails, the task is pushed back onto
// the ready queue to retry next tick rather than failing outright.
func (e *Engine) startTask(ctx context.Context, task *model.Task) {
	id := task.ID

	if err := e.lifecycle.Transition(ctx, id, model.StateScheduled); err != nil {
		logger.WithTask(id).Warn("failed to schedule task", zap.Error(err))
		e.enqueue(id)
		return
	}
	if err := e.lifecycle.Transition(ctx, id, model.StatePreparing); err != nil {
		logger.WithTask(id).Warn("failed to prepare task", zap.Error(err))
		return
	}
	if err := e.lifecycle.Transition(ctx, id, model.StateResourceAllocated); err != nil {
		logger.WithTask(id).Info("resource reservation unavailable, deferring", zap.Error(err))
		e.enqueue(id)
		return
	}
	if err := e.lifecycle.Transition(ctx, id, model.StateStarting); err != nil {
		logger.WithTask(id).Warn("failed to start task", zap.Error(err))
		return
	}
	if err := e.lifecycle.Transition(ctx, id, model.StateRunning); err != nil {
		logger.WithTask(id).Warn("failed to enter running state", zap.Error(err))
		return
	}

	task.Attempt++

	upstream := e.collectUpstreamOutputs(id)
	progress := &progressPublisher{engine: e, taskID: id}

	e.supervisor.Dispatch(ctx, task, upstream, progress, func(result supervisor.Result) {
		e.cmdCh <- command{kind: cmdTaskDone, taskID: id, result: result}
	})
}

func (e *Engine) collectUpstreamOutputs(taskID string) map[string]interface{} {
	deps := e.graph.Dependencies(taskID)
	if len(deps) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(deps))
	for _, depID := range deps {
		if depTask, ok := e.lifecycle.Get(depID); ok {
			out[depID] = depTask.Output
		}
	}
	return out
}

// progressPublisher adapts supervisor.ProgressSink to the event bus so
// long-running executors can report incremental progress.
type progressPublisher struct {
	engine *Engine
	taskID string
}

func (p *progressPublisher) Progress(percent float64, message string) {
	p.engine.publish(context.Background(), events.EventTaskProgress, progressEvent{
		TaskID:  p.taskID,
		Percent: percent,
		Message: message,
	})
}

type progressEvent struct {
	TaskID  string  `json:"task_id"`
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
}

// onTaskDone commits the lifecycle outcome of one execution attempt: on
// success it completes the task and unblocks its dependents; on failure
// it commits FAILED and either re-queues the task through retryTask while
// attempts remain or, once they are exhausted, cascades to dependents.
func (e *Engine) onTaskDone(ctx context.Context, taskID string, result supervisor.Result) {
	task, ok := e.lifecycle.Get(taskID)
	if !ok {
		return
	}

	if result.Success {
		task.Output = result.Output
		if err := e.lifecycle.Transition(ctx, taskID, model.StateCompleting); err != nil {
			logger.WithTask(taskID).Error("failed to enter completing state", zap.Error(err))
			return
		}
		if err := e.lifecycle.Transition(ctx, taskID, model.StateCompleted); err != nil {
			logger.WithTask(taskID).Error("failed to enter completed state", zap.Error(err))
			return
		}

		dependents := e.graph.Dependents(taskID)
		_ = e.graph.RemoveTask(taskID)
		e.priorities.Invalidate(taskID)
		e.unblockIfReady(ctx, dependents)

		e.publish(ctx, events.EventTaskCompleted, taskEventPayload(task))
		if err := e.persist.OpportunisticSnapshot(ctx, nextSnapshotReason(model.StateCompleted)); err != nil {
			logger.WithComponent("engine").Warn("opportunistic snapshot failed", zap.Error(err))
		}
		return
	}

	task.Err = result.Err
	if err := e.lifecycle.Transition(ctx, taskID, model.StateFailed); err != nil {
		logger.WithTask(taskID).Error("failed to enter failed state", zap.Error(err))
		return
	}

	if task.Attempt < e.maxAttempts(task) {
		if err := e.retryTask(ctx, task); err != nil {
			logger.WithExecution(taskID, task.Attempt).Warn("failed to requeue task for retry, leaving failed", zap.Error(err))
		} else {
			logger.WithExecution(taskID, task.Attempt).Warn("task attempt failed, retrying",
				zap.Duration("delay", time.Until(task.RetryAfter)), zap.Error(result.Err))
			e.publish(ctx, events.EventTaskRetrying, taskEventPayload(task))
			return
		}
	}

	impact, err := e.graph.DependencyImpact(taskID, graphDuration{e})
	if err != nil {
		logger.WithTask(taskID).Warn("failed to compute dependency impact", zap.Error(err))
	}
	for _, depID := range append(impact.DirectDependents, impact.IndirectDependents...) {
		if depTask, ok := e.lifecycle.Get(depID); ok {
			_ = e.cancelOne(ctx, depTask)
		}
	}

	e.publish(ctx, events.EventTaskFailed, taskEventPayload(task))
	if err := e.persist.OpportunisticSnapshot(ctx, nextSnapshotReason(model.StateFailed)); err != nil {
		logger.WithComponent("engine").Warn("opportunistic snapshot failed", zap.Error(err))
	}
}

// maxAttempts is the number of attempts (initial + retries) task is
// allowed before retries are exhausted: task.MaxRetries if the
// submission set one, otherwise the engine-wide default.
func (e *Engine) maxAttempts(task *model.Task) int {
	if task.MaxRetries > 0 {
		return task.MaxRetries + 1
	}
	return e.retry.MaxRetries + 1
}

// retryTask drives a FAILED task back through RETRYING -> QUEUED and
// re-enqueues it with a backoff-gated re-eligibility time (spec §4.5
// rule 6: now + min(5s*3^(attempt-1), 60s)), so a retried task frees its
// supervisor slot and reserved resources for the duration of the
// backoff instead of holding them while it sleeps.
func (e *Engine) retryTask(ctx context.Context, task *model.Task) error {
	if err := e.lifecycle.Transition(ctx, task.ID, model.StateRetrying); err != nil {
		return err
	}
	if err := e.lifecycle.Transition(ctx, task.ID, model.StateQueued); err != nil {
		return err
	}
	task.RetryAfter = nowFunc().Add(e.retry.Delay(task.Attempt))
	e.enqueue(task.ID)
	return nil
}

// unblockIfReady promotes any BLOCKED task in ids whose remaining HARD
// dependencies have all resolved to QUEUED, and enqueues it.
func (e *Engine) unblockIfReady(ctx context.Context, ids []string) {
	for _, id := range ids {
		task, ok := e.lifecycle.Get(id)
		if !ok || task.State != model.StateBlocked {
			continue
		}
		if !e.isUnblocked(id) {
			continue
		}
		if err := e.lifecycle.Transition(ctx, id, model.StateQueued); err != nil {
			logger.WithTask(id).Warn("failed to unblock dependent task", zap.Error(err))
			continue
		}
		e.enqueue(id)
	}
}
