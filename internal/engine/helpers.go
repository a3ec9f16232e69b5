package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/taskmesh/engine/internal/events"
	"github.com/taskmesh/engine/internal/model"
)

func generateID() string {
	return uuid.NewString()
}

// nowFunc is a seam for tests that need deterministic timestamps;
// production code always uses time.Now.
var nowFunc = time.Now

func eventForState(s model.State) events.EventType {
	switch s {
	case model.StateCompleted:
		return events.EventTaskCompleted
	case model.StateFailed:
		return events.EventTaskFailed
	case model.StateCancelled:
		return events.EventTaskCancelled
	default:
		return events.EventTaskStateTransition
	}
}

type taskEvent struct {
	TaskID string      `json:"task_id"`
	Name   string      `json:"name"`
	State  model.State `json:"state"`
}

func taskEventPayload(task *model.Task) taskEvent {
	return taskEvent{TaskID: task.ID, Name: task.Name, State: task.State}
}
