package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/taskmesh/engine/internal/logger"
	"github.com/taskmesh/engine/internal/model"
	"github.com/taskmesh/engine/internal/supervisor"
)

type commandKind int

const (
	cmdSubmit commandKind = iota
	cmdCancel
	cmdPause
	cmdResume
	cmdRetry
	// cmdTaskDone carries a supervisor completion back onto the
	// scheduler fiber. onDone callbacks run on the executor's own
	// goroutine, and graph/readyQueue are single-owner structures with
	// no lock of their own -- routing through cmdCh keeps every mutation
	// of them on the one goroutine that's allowed to touch them.
	cmdTaskDone
)

type command struct {
	kind       commandKind
	submission model.TaskSubmission
	taskID     string
	result     supervisor.Result
	resultCh   chan error
}

func (e *Engine) send(cmd command) error {
	cmd.resultCh = make(chan error, 1)
	e.cmdCh <- cmd
	return <-cmd.resultCh
}

func (e *Engine) handleCommand(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdSubmit:
		cmd.resultCh <- e.doSubmit(ctx, cmd.submission)
	case cmdCancel:
		cmd.resultCh <- e.doCancel(ctx, cmd.taskID)
	case cmdPause:
		cmd.resultCh <- e.doPause(cmd.taskID)
	case cmdResume:
		cmd.resultCh <- e.doResume(cmd.taskID)
	case cmdRetry:
		cmd.resultCh <- e.doRetry(ctx, cmd.taskID)
	case cmdTaskDone:
		e.onTaskDone(ctx, cmd.taskID, cmd.result)
	}
}

func (e *Engine) doSubmit(ctx context.Context, sub model.TaskSubmission) error {
	if sub.ID == "" {
		sub.ID = generateID()
	}
	if sub.Timeout <= 0 {
		// A submission with a zero or negative Timeout gets the
		// engine-wide default here, once. A plain time.Duration cannot
		// tell an omitted Timeout from an explicit Timeout: 0, so both
		// are defaulted; the supervisor's zero-timeout path (fail
		// without running the executor) is reached only by tasks handed
		// to it directly, never through Submit.
		sub.Timeout = e.cfg.DefaultTaskTimeout
	}

	task := model.NewTask(sub, nowFunc())
	e.graph.AddTask(task.ID, int(task.BasePriority))

	for _, edge := range sub.Dependencies {
		if err := e.graph.AddDependency(edge.From, edge.To, edge.Type); err != nil {
			e.graph.RemoveTask(task.ID)
			return err
		}
	}

	e.lifecycle.Register(task)

	if err := e.lifecycle.Transition(ctx, task.ID, model.StateValidated); err != nil {
		return err
	}

	target := model.StateQueued
	if !e.isUnblocked(task.ID) {
		target = model.StateBlocked
	}
	if err := e.lifecycle.Transition(ctx, task.ID, target); err != nil {
		return err
	}

	if target == model.StateQueued {
		e.enqueue(task.ID)
	}

	e.publish(ctx, eventForState(target), taskEventPayload(task))
	return nil
}

func (e *Engine) isUnblocked(taskID string) bool {
	for _, id := range e.graph.Ready() {
		if id == taskID {
			return true
		}
	}
	return false
}

func (e *Engine) enqueue(taskID string) {
	task, ok := e.lifecycle.Get(taskID)
	if !ok {
		return
	}
	e.mu.Lock()
	e.seq++
	seq := e.seq
	e.mu.Unlock()
	e.readyQueue.Push(taskID, task.EffectivePriority, seq)
}

func (e *Engine) doCancel(ctx context.Context, taskID string) error {
	task, ok := e.lifecycle.Get(taskID)
	if !ok {
		return model.NewUnknownTaskError("engine", "cancel", taskID)
	}

	impact, err := e.graph.DependencyImpact(taskID, graphDuration{e})
	if err != nil {
		logger.WithTask(taskID).Warn("failed to compute dependency impact", zap.Error(err))
	}

	if err := e.cancelOne(ctx, task); err != nil {
		return err
	}
	for _, depID := range append(impact.DirectDependents, impact.IndirectDependents...) {
		if depTask, ok := e.lifecycle.Get(depID); ok {
			_ = e.cancelOne(ctx, depTask)
		}
	}
	return nil
}

func (e *Engine) cancelOne(ctx context.Context, task *model.Task) error {
	e.readyQueue.Remove(task.ID)
	e.supervisor.Cancel(task.ID)

	switch task.State {
	case model.StateRunning, model.StatePaused, model.StateResuming:
		if err := e.lifecycle.Transition(ctx, task.ID, model.StateCancelling); err != nil {
			return err
		}
		return e.lifecycle.Transition(ctx, task.ID, model.StateCancelled)
	case model.StateCompleted, model.StateFailed, model.StateCancelled, model.StateExpired, model.StateArchived:
		return nil
	default:
		return e.lifecycle.Transition(ctx, task.ID, model.StateCancelled)
	}
}

func (e *Engine) doPause(taskID string) error {
	if !e.supervisor.Pause(taskID) {
		return model.NewUnknownTaskError("engine", "pause", taskID)
	}
	return e.lifecycle.Transition(context.Background(), taskID, model.StatePaused)
}

func (e *Engine) doResume(taskID string) error {
	if !e.supervisor.Resume(taskID) {
		return model.NewUnknownTaskError("engine", "resume", taskID)
	}
	if err := e.lifecycle.Transition(context.Background(), taskID, model.StateResuming); err != nil {
		return err
	}
	return e.lifecycle.Transition(context.Background(), taskID, model.StateRunning)
}

func (e *Engine) doRetry(ctx context.Context, taskID string) error {
	task, ok := e.lifecycle.Get(taskID)
	if !ok {
		return model.NewUnknownTaskError("engine", "retry", taskID)
	}
	if task.State != model.StateFailed {
		return model.NewTransitionError("engine", taskID, task.State, model.StateRetrying)
	}

	if err := e.lifecycle.Transition(ctx, taskID, model.StateRetrying); err != nil {
		return err
	}
	if err := e.lifecycle.Transition(ctx, taskID, model.StateQueued); err != nil {
		return err
	}
	e.enqueue(taskID)
	return nil
}
