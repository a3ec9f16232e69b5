package engine

import (
	"github.com/taskmesh/engine/internal/persistence"
)

// collector adapts live engine state into the serializable form
// persistence.Engine snapshots, without handing persistence a reference
// to graph/lifecycle types directly.
type collector struct {
	engine *Engine
}

func (c *collector) Collect(reason string) persistence.Snapshot {
	e := c.engine

	tasks := e.lifecycle.All()
	taskStates := make([]persistence.TaskState, 0, len(tasks))
	for _, t := range tasks {
		taskStates = append(taskStates, persistence.TaskState{
			ID:                t.ID,
			Name:              t.Name,
			Category:          t.Category,
			BasePriority:      t.BasePriority,
			EffectivePriority: t.EffectivePriority,
			State:             t.State,
			Attempt:           t.Attempt,
			ResourceClasses:   t.ResourceClasses,
			Metadata:          t.Metadata,
			SubmittedAt:       t.SubmittedAt,
			UpdatedAt:         t.UpdatedAt,
		})
	}

	edges := e.graph.AllEdges()
	edgeStates := make([]persistence.EdgeState, 0, len(edges))
	for _, edge := range edges {
		edgeStates = append(edgeStates, persistence.EdgeState{
			From: edge.From,
			To:   edge.To,
			Type: edge.Type,
		})
	}

	return persistence.Snapshot{
		Reason:           reason,
		StructureVersion: e.graph.StructureVersion(),
		Tasks:            taskStates,
		Edges:            edgeStates,
	}
}
