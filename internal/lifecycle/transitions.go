package lifecycle

import "github.com/taskmesh/engine/internal/model"

// transitionTable enumerates every legal from->to move. Anything not
// listed here is rejected with a TransitionError.
var transitionTable = map[model.State]map[model.State]bool{
	model.StateCreated: {
		model.StateValidated: true,
		model.StateFailed:    true,
		model.StateCancelled: true,
	},
	model.StateValidated: {
		model.StateQueued:    true,
		model.StateBlocked:   true,
		model.StateFailed:    true,
		model.StateCancelled: true,
	},
	model.StateBlocked: {
		model.StateQueued:    true,
		model.StateCancelled: true,
		model.StateExpired:   true,
	},
	model.StateQueued: {
		model.StateScheduled: true,
		model.StateCancelled: true,
		model.StateExpired:   true,
	},
	model.StateScheduled: {
		model.StatePreparing: true,
		model.StateCancelled: true,
		model.StateQueued:    true, // bumped back by a higher-priority arrival
	},
	model.StatePreparing: {
		model.StateResourceAllocated: true,
		model.StateFailed:            true,
		model.StateCancelled:         true,
	},
	model.StateResourceAllocated: {
		model.StateStarting:  true,
		model.StateFailed:    true,
		model.StateCancelled: true,
	},
	model.StateStarting: {
		model.StateRunning:   true,
		model.StateFailed:    true,
		model.StateCancelled: true,
	},
	model.StateRunning: {
		model.StatePaused:     true,
		model.StateCompleting: true,
		model.StateFailed:     true,
		model.StateCancelling: true,
	},
	model.StatePaused: {
		model.StateResuming:   true,
		model.StateCancelling: true,
	},
	model.StateResuming: {
		model.StateRunning:   true,
		model.StateFailed:    true,
		model.StateCancelling: true,
	},
	model.StateCompleting: {
		model.StateCompleted: true,
		model.StateFailed:    true,
	},
	model.StateCompleted: {
		model.StateArchived: true,
	},
	model.StateFailed: {
		model.StateRetrying: true,
		model.StateArchived: true,
	},
	model.StateRetrying: {
		model.StateQueued:    true,
		model.StateCancelled: true,
	},
	model.StateCancelling: {
		model.StateCancelled: true,
	},
	model.StateCancelled: {
		model.StateArchived: true,
	},
	model.StateExpired: {
		model.StateArchived: true,
	},
}

// legalTransition reports whether from->to is a defined edge.
func legalTransition(from, to model.State) bool {
	edges, ok := transitionTable[from]
	if !ok {
		return false
	}
	return edges[to]
}
