package lifecycle

import (
	"context"
	"sort"

	"github.com/taskmesh/engine/internal/model"
)

// Predicate gates whether a hook applies to a given transition. The
// registry keys predicates by a stable ID instead of matching on a
// message string, so the same guard can be reused across many hooks and
// renamed/reworded without breaking registrations.
type Predicate func(task *model.Task, from, to model.State) bool

// PredicateRegistry resolves predicate IDs to their implementation.
type PredicateRegistry struct {
	predicates map[string]Predicate
}

// NewPredicateRegistry returns a registry seeded with the built-in
// predicates every engine install needs (see registerBuiltins).
func NewPredicateRegistry() *PredicateRegistry {
	r := &PredicateRegistry{predicates: make(map[string]Predicate)}
	r.registerBuiltins()
	return r
}

// Register adds or replaces a predicate under id.
func (r *PredicateRegistry) Register(id string, p Predicate) {
	r.predicates[id] = p
}

// Get resolves id to a predicate, or nil if unregistered.
func (r *PredicateRegistry) Get(id string) Predicate {
	return r.predicates[id]
}

func (r *PredicateRegistry) registerBuiltins() {
	r.Register("always", func(*model.Task, model.State, model.State) bool { return true })
	r.Register("entering-running", func(_ *model.Task, _, to model.State) bool { return to == model.StateRunning })
	r.Register("leaving-running", func(_ *model.Task, from, _ model.State) bool { return from == model.StateRunning })
	r.Register("terminal-transition", func(_ *model.Task, _, to model.State) bool { return to.Terminal() })
	r.Register("has-resource-classes", func(task *model.Task, _, _ model.State) bool { return len(task.ResourceClasses) > 0 })
}

// Hook runs before or after a transition commits. Returning an error
// from a "before" hook aborts the transition; errors from "after" hooks
// are logged but do not roll back the already-committed state change.
type Hook struct {
	ID        string
	Predicate string // key into PredicateRegistry; empty means always-run
	Priority  int    // higher runs first
	Fn        func(ctx context.Context, task *model.Task, from, to model.State) error
}

// hookSet stores before/after hooks sorted by descending priority.
type hookSet struct {
	before []Hook
	after  []Hook
}

func (h *hookSet) addBefore(hook Hook) {
	h.before = append(h.before, hook)
	sort.SliceStable(h.before, func(i, j int) bool { return h.before[i].Priority > h.before[j].Priority })
}

func (h *hookSet) addAfter(hook Hook) {
	h.after = append(h.after, hook)
	sort.SliceStable(h.after, func(i, j int) bool { return h.after[i].Priority > h.after[j].Priority })
}

func applicable(hooks []Hook, registry *PredicateRegistry, task *model.Task, from, to model.State) []Hook {
	var out []Hook
	for _, h := range hooks {
		if h.Predicate == "" {
			out = append(out, h)
			continue
		}
		pred := registry.Get(h.Predicate)
		if pred == nil || pred(task, from, to) {
			out = append(out, h)
		}
	}
	return out
}
