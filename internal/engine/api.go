// Package engine's public API: the methods callers use to submit and
// control work, query status, subscribe to events, and manage snapshots.
// Every mutating call is funneled through the command channel so the
// scheduler fiber is the sole mutator of graph/lifecycle/queue state.
package engine

import (
	"context"
	"sort"

	"github.com/taskmesh/engine/internal/events"
	"github.com/taskmesh/engine/internal/lifecycle"
	"github.com/taskmesh/engine/internal/model"
	"github.com/taskmesh/engine/internal/persistence"
)

// Submit registers a new task (and any dependency edges it declares) and
// returns its assigned ID. A dangling or cycle-forming dependency is
// rejected: the task is removed from the graph again and never
// registered.
func (e *Engine) Submit(ctx context.Context, sub model.TaskSubmission) (string, error) {
	if sub.ID == "" {
		sub.ID = generateID()
	}
	id := sub.ID
	err := e.send(command{kind: cmdSubmit, submission: sub})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Cancel cancels a task and cascades cancellation to every task that
// HARD-depends on it, transitively.
func (e *Engine) Cancel(ctx context.Context, taskID string) error {
	return e.send(command{kind: cmdCancel, taskID: taskID})
}

// Pause cooperatively pauses a running task.
func (e *Engine) Pause(ctx context.Context, taskID string) error {
	return e.send(command{kind: cmdPause, taskID: taskID})
}

// Resume continues a paused task.
func (e *Engine) Resume(ctx context.Context, taskID string) error {
	return e.send(command{kind: cmdResume, taskID: taskID})
}

// Retry re-queues a FAILED task for another attempt via the normal
// QUEUED->...->RUNNING path. The attempt counter is not reset; the new
// attempt increments it like any other.
func (e *Engine) Retry(ctx context.Context, taskID string) error {
	return e.send(command{kind: cmdRetry, taskID: taskID})
}

// GetStatus returns the current snapshot of a task's state. The
// returned *model.Task is the engine's live record; callers must not
// mutate it.
func (e *Engine) GetStatus(taskID string) (*model.Task, error) {
	task, ok := e.lifecycle.Get(taskID)
	if !ok {
		return nil, model.NewUnknownTaskError("engine", "get_status", taskID)
	}
	return task, nil
}

// History returns the bounded transition history recorded for a task.
func (e *Engine) History(taskID string) []lifecycle.TransitionEvent {
	return e.lifecycle.History(taskID)
}

// QueryFilter narrows Query results. A nil/empty field matches any
// value.
type QueryFilter struct {
	State    model.State
	Category model.Category
}

// Query returns every task matching filter, sorted by ID for stable
// pagination-free output.
func (e *Engine) Query(filter QueryFilter) []*model.Task {
	var out []*model.Task
	for _, task := range e.lifecycle.All() {
		if filter.State != "" && task.State != filter.State {
			continue
		}
		if filter.Category != "" && task.Category != filter.Category {
			continue
		}
		out = append(out, task)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Subscribe registers a channel that receives published events matching
// one of types. The channel buffers 64 events; an event published while
// that buffer is full is dropped for this subscriber. Call Unsubscribe
// with the returned ID when done, or the channel leaks for the life of
// the engine.
func (e *Engine) Subscribe(types []events.EventType) (string, <-chan events.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subSeq++
	id := generateID()
	ch := make(chan events.Event, 64)
	e.subs[id] = subscription{types: types, ch: ch}
	return id, ch
}

// Unsubscribe removes a subscription and closes its channel.
func (e *Engine) Unsubscribe(subID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sub, ok := e.subs[subID]
	if !ok {
		return
	}
	delete(e.subs, subID)
	close(sub.ch)
}

// ListSubscriptions returns the IDs of currently active subscriptions.
func (e *Engine) ListSubscriptions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.subs))
	for id := range e.subs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// GetAggregateMetrics returns engine-wide lifecycle counters.
func (e *Engine) GetAggregateMetrics() lifecycle.Metrics {
	return e.lifecycle.Metrics()
}

// Health summarizes the engine's current load for monitoring.
type Health struct {
	SessionID      string
	TasksTracked   int
	QueueDepth     int
	RunningTasks   int
	MaxConcurrent  int
	ResourceUsage  map[string]float64
}

// SystemHealth reports current load across the graph, ready queue, and
// supervisor.
func (e *Engine) SystemHealth() Health {
	capacities, reserved := e.resources.Snapshot()
	usage := make(map[string]float64, len(capacities))
	for class, total := range capacities {
		if total == 0 {
			continue
		}
		usage[class] = float64(reserved[class]) / float64(total)
	}
	return Health{
		SessionID:     e.sessionID,
		TasksTracked:  e.graph.Size(),
		QueueDepth:    e.readyQueue.Len(),
		RunningTasks:  e.supervisor.RunningCount(),
		MaxConcurrent: e.cfg.MaxConcurrentTasks,
		ResourceUsage: usage,
	}
}

// Snapshot forces an immediate persistence snapshot, bypassing the
// autosave cadence and opportunistic rate limit.
func (e *Engine) Snapshot(ctx context.Context, reason string) error {
	if reason == "" {
		reason = "manual"
	}
	return e.persist.Snapshot(ctx, reason)
}

// ListSnapshots returns the IDs of every retained snapshot.
func (e *Engine) ListSnapshots(ctx context.Context) ([]string, error) {
	return e.persist.List(ctx)
}

// Restore rebuilds graph and lifecycle state from a snapshot. An empty
// snapshotID restores the latest valid one. When the snapshot belongs to
// a different session -- evidence the engine exited without completing
// its executions -- a task recorded as RUNNING or in another in-flight
// execution state is not resumed: it counts as a failed attempt and
// returns to QUEUED behind a retry backoff if attempts remain, or is
// marked FAILED otherwise. Snapshots do not record per-task timeouts, so
// every restored task takes the engine's DefaultTaskTimeout.
func (e *Engine) Restore(ctx context.Context, snapshotID string) error {
	var snap persistence.Snapshot
	var orphaned bool

	if snapshotID == "" {
		s, info, err := e.persist.Recover(ctx, e.sessionID)
		if err != nil {
			return err
		}
		snap, orphaned = s, info.Orphaned
	} else {
		s, err := e.persist.LoadByID(ctx, snapshotID)
		if err != nil {
			return err
		}
		snap, orphaned = s, s.SessionID != "" && s.SessionID != e.sessionID
	}

	for _, ts := range snap.Tasks {
		task := &model.Task{
			ID:                ts.ID,
			Name:              ts.Name,
			Category:          ts.Category,
			BasePriority:      ts.BasePriority,
			EffectivePriority: ts.EffectivePriority,
			State:             ts.State,
			Attempt:           ts.Attempt,
			Timeout:           e.cfg.DefaultTaskTimeout,
			ResourceClasses:   ts.ResourceClasses,
			Metadata:          ts.Metadata,
			SubmittedAt:       ts.SubmittedAt,
			UpdatedAt:         nowFunc(),
		}

		// A task the snapshot caught mid-execution under a different
		// session died with the process, not with a recorded outcome --
		// §4.6 and scenario #6 require it to count as a failed attempt
		// (reason, incremented retryCount) and, per §4.5 rule 6, return
		// to QUEUED with a backoff-gated re-eligibility time if retries
		// remain, rather than being marked terminally FAILED outright.
		if orphaned && isInFlight(task.State) {
			task.Attempt++
			task.Err = model.NewError(model.ErrorCodeExecutorFailed, "engine", "restore", task.ID, "orphaned on restart")
			if task.Attempt < e.maxAttempts(task) {
				task.State = model.StateQueued
				task.RetryAfter = nowFunc().Add(e.retry.Delay(task.Attempt))
			} else {
				task.State = model.StateFailed
			}
		}

		e.lifecycle.Register(task)
		e.graph.AddTask(task.ID, task.EffectivePriority)
	}

	for _, es := range snap.Edges {
		_ = e.graph.AddDependency(es.From, es.To, es.Type)
	}

	for _, ts := range snap.Tasks {
		task, ok := e.lifecycle.Get(ts.ID)
		if ok && task.State == model.StateQueued {
			e.enqueue(task.ID)
		}
	}

	return nil
}

func isInFlight(s model.State) bool {
	switch s {
	case model.StateScheduled, model.StatePreparing, model.StateResourceAllocated,
		model.StateStarting, model.StateRunning, model.StatePaused, model.StateResuming,
		model.StateCompleting, model.StateCancelling:
		return true
	default:
		return false
	}
}
