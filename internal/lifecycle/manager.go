package lifecycle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskmesh/engine/internal/logger"
	"github.com/taskmesh/engine/internal/model"
)

// TransitionEvent is a record of one committed state change, kept in a
// bounded per-task ring buffer for status queries and debugging.
type TransitionEvent struct {
	From      model.State
	To        model.State
	Timestamp time.Time
	Err       error
}

// Metrics is a running, incrementally-updated summary of lifecycle
// activity across all tasks the manager has seen.
type Metrics struct {
	mu            sync.Mutex
	TotalStarted  int64
	TotalCompleted int64
	TotalFailed   int64
	TotalCancelled int64
	TotalRetried  int64
}

func (m *Metrics) recordTerminal(state model.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch state {
	case model.StateCompleted:
		m.TotalCompleted++
	case model.StateFailed:
		m.TotalFailed++
	case model.StateCancelled:
		m.TotalCancelled++
	}
}

// Snapshot returns a copy of the current metrics.
func (m *Metrics) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{
		TotalStarted:   m.TotalStarted,
		TotalCompleted: m.TotalCompleted,
		TotalFailed:    m.TotalFailed,
		TotalCancelled: m.TotalCancelled,
		TotalRetried:   m.TotalRetried,
	}
}

const defaultHistorySize = 100

// taskRecord is the manager's per-task bookkeeping: the task itself, its
// transition history ring, and a lock so only one transition can be in
// flight for this task at a time.
type taskRecord struct {
	inTransition bool
	task         *model.Task
	history      []TransitionEvent
	historyCap   int
}

func (r *taskRecord) appendEvent(ev TransitionEvent) {
	r.history = append(r.history, ev)
	if len(r.history) > r.historyCap {
		r.history = r.history[len(r.history)-r.historyCap:]
	}
}

// Manager owns every task's lifecycle state and drives transitions
// through the state machine, running registered hooks around each
// commit. Exactly one scheduler-owned goroutine is expected to call
// Transition for a given task at a time in steady state; the per-task
// inTransition flag exists as a fast-fail guard against accidental
// concurrent callers, not as the primary concurrency control.
type Manager struct {
	mu       sync.RWMutex
	tasks    map[string]*taskRecord
	hooks    hookSet
	registry *PredicateRegistry
	metrics  *Metrics

	historySize int
}

// NewManager builds a Manager with the default hooks installed.
func NewManager(historySize int) *Manager {
	if historySize <= 0 {
		historySize = defaultHistorySize
	}
	m := &Manager{
		tasks:       make(map[string]*taskRecord),
		registry:    NewPredicateRegistry(),
		metrics:     &Metrics{},
		historySize: historySize,
	}
	installDefaultHooks(m)
	return m
}

// Predicates exposes the manager's predicate registry so callers can
// register domain-specific guards.
func (m *Manager) Predicates() *PredicateRegistry { return m.registry }

// BeforeHook registers a hook that runs prior to committing a transition.
// An error return aborts the transition.
func (m *Manager) BeforeHook(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks.addBefore(h)
}

// AfterHook registers a hook that runs after a transition has committed.
func (m *Manager) AfterHook(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks.addAfter(h)
}

// Register adds task to the manager in whatever state it carries
// (NewTask builds tasks in CREATED; restored tasks keep their recorded
// state).
func (m *Manager) Register(task *model.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = &taskRecord{task: task, historyCap: m.historySize}
}

// Get returns the task record for id, or nil if unknown.
func (m *Manager) Get(id string) (*model.Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.tasks[id]
	if !ok {
		return nil, false
	}
	return rec.task, true
}

// All returns every task the manager currently tracks, in no particular
// order. Callers that need stable ordering should sort by ID themselves.
func (m *Manager) All() []*model.Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Task, 0, len(m.tasks))
	for _, rec := range m.tasks {
		out = append(out, rec.task)
	}
	return out
}

// History returns the bounded transition history for a task.
func (m *Manager) History(id string) []TransitionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.tasks[id]
	if !ok {
		return nil
	}
	out := make([]TransitionEvent, len(rec.history))
	copy(out, rec.history)
	return out
}

// Metrics returns the manager's aggregate counters.
func (m *Manager) Metrics() Metrics {
	return m.metrics.Snapshot()
}

// Transition moves task id from its current state to `to`, running
// before-hooks (any of which can veto), committing the state, then
// running after-hooks. Returns TransitionBusyError if a transition for
// this task is already in flight, UnknownTaskError if id is unregistered,
// and TransitionError if from->to is not a legal edge.
func (m *Manager) Transition(ctx context.Context, id string, to model.State) error {
	m.mu.Lock()
	rec, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return model.NewUnknownTaskError("lifecycle", "transition", id)
	}
	if rec.inTransition {
		m.mu.Unlock()
		return model.NewTransitionBusyError("lifecycle", id)
	}
	rec.inTransition = true
	from := rec.task.State
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		rec.inTransition = false
		m.mu.Unlock()
	}()

	if !legalTransition(from, to) {
		return model.NewTransitionError("lifecycle", id, from, to)
	}

	m.mu.RLock()
	before := applicable(m.hooks.before, m.registry, rec.task, from, to)
	after := applicable(m.hooks.after, m.registry, rec.task, from, to)
	m.mu.RUnlock()

	for _, h := range before {
		if err := h.Fn(ctx, rec.task, from, to); err != nil {
			logger.WithComponent("lifecycle").Warn("before-hook vetoed transition",
				zap.String("task_id", id), zap.String("hook", h.ID),
				zap.String("from", string(from)), zap.String("to", string(to)), zap.Error(err))
			return err
		}
	}

	now := time.Now()
	m.mu.Lock()
	rec.task.State = to
	rec.task.UpdatedAt = now
	switch to {
	case model.StateRunning:
		if rec.task.StartedAt == nil {
			rec.task.StartedAt = &now
		}
	case model.StateCompleted, model.StateFailed, model.StateCancelled, model.StateExpired:
		rec.task.CompletedAt = &now
	}
	rec.appendEvent(TransitionEvent{From: from, To: to, Timestamp: now})
	m.mu.Unlock()

	if to.Terminal() {
		m.metrics.recordTerminal(to)
	}
	if to == model.StateRetrying {
		m.metrics.mu.Lock()
		m.metrics.TotalRetried++
		m.metrics.mu.Unlock()
	}

	for _, h := range after {
		if err := h.Fn(ctx, rec.task, from, to); err != nil {
			logger.WithComponent("lifecycle").Error("after-hook failed",
				zap.String("task_id", id), zap.String("hook", h.ID), zap.Error(err))
		}
	}

	logger.WithTask(id).Debug("transition committed",
		zap.String("from", string(from)), zap.String("to", string(to)))

	return nil
}
