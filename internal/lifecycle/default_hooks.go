package lifecycle

import (
	"context"

	"github.com/taskmesh/engine/internal/model"
)

// ResourceReserver is the narrow interface the PREPARING->RESOURCE_ALLOCATED
// hook needs; internal/resources.Pool satisfies it.
type ResourceReserver interface {
	Reserve(taskID string, classes []string) error
	Release(taskID string)
}

// AttachResourcePool wires a ResourceReserver into the manager's default
// allocate/release hooks. Call once during engine construction.
func (m *Manager) AttachResourcePool(pool ResourceReserver) {
	m.BeforeHook(Hook{
		ID:        "allocate-resources",
		Predicate: "",
		Priority:  100,
		Fn: func(_ context.Context, task *model.Task, from, to model.State) error {
			if to != model.StateResourceAllocated {
				return nil
			}
			return pool.Reserve(task.ID, task.ResourceClasses)
		},
	})

	m.AfterHook(Hook{
		ID:        "release-resources",
		Predicate: "terminal-transition",
		Priority:  100,
		Fn: func(_ context.Context, task *model.Task, from, to model.State) error {
			pool.Release(task.ID)
			return nil
		},
	})
}

// installDefaultHooks registers the manager's baseline before/after
// hooks that don't depend on external collaborators: precondition and
// postcondition checks driven by the predicate registry.
func installDefaultHooks(m *Manager) {
	m.BeforeHook(Hook{
		ID:        "validate-preconditions",
		Predicate: "",
		Priority:  200,
		Fn: func(_ context.Context, task *model.Task, from, to model.State) error {
			for _, id := range task.PreconditionIDs(to) {
				pred := m.registry.Get(id)
				if pred != nil && !pred(task, from, to) {
					return model.NewError(model.ErrorCodeValidation, "lifecycle", "precondition", task.ID,
						"precondition failed: "+id)
				}
			}
			return nil
		},
	})

	// A before-hook, not an after-hook: §4.4 requires postconditions to
	// be able to veto the transition (e.g. validate-postconditions
	// before COMPLETING), and only before-hook errors abort a
	// transition -- after-hook errors are logged but never roll back
	// the already-committed state change.
	m.BeforeHook(Hook{
		ID:        "validate-postconditions",
		Predicate: "",
		Priority:  150,
		Fn: func(_ context.Context, task *model.Task, from, to model.State) error {
			for _, id := range task.PostconditionIDs(to) {
				pred := m.registry.Get(id)
				if pred != nil && !pred(task, from, to) {
					return model.NewError(model.ErrorCodeValidation, "lifecycle", "postcondition", task.ID,
						"postcondition failed: "+id)
				}
			}
			return nil
		},
	})
}
