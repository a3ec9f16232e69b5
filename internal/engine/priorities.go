package engine

import (
	"math"
	"time"

	"github.com/taskmesh/engine/internal/model"
	"github.com/taskmesh/engine/internal/priority"
)

// deadlinePressureWindow bounds how far ahead of a deadline pressure
// starts building; tasks with no deadline are unaffected.
const deadlinePressureWindow = time.Hour

// recomputePriorities refreshes the effective priority of every
// non-terminal task and re-ranks anything still sitting in the ready
// queue. Runs on cfg.PriorityRecomputeEvery, decoupled from dispatch so
// a quiet queue doesn't go stale waiting for the next submission.
func (e *Engine) recomputePriorities() {
	now := nowFunc()
	structureVersion := e.graph.StructureVersion()

	for _, task := range e.lifecycle.All() {
		if task.State.Terminal() {
			continue
		}

		waitTime := now.Sub(task.SubmittedAt)
		dependents := len(e.graph.Dependents(task.ID))

		factors := model.PriorityFactors{
			Base:             task.BasePriority,
			AgeSeconds:       now.Sub(task.SubmittedAt).Seconds(),
			DeadlinePressure: priority.DeadlinePressure(task.Deadline, now, deadlinePressureWindow),
			DependencyWeight: math.Min(float64(dependents)/10.0, 1.0),
			StarvationBoost:  priority.StarvationBoost(waitTime, e.cfg.StarvationThreshold, e.cfg.StarvationBoostPerTick),
		}

		score := e.priorities.Recompute(priority.AdjustmentContext{
			TaskID:           task.ID,
			StructureVersion: structureVersion,
			Factors:          factors,
		})

		if score == task.EffectivePriority {
			continue
		}
		task.EffectivePriority = score
		e.graph.SetPriority(task.ID, score)

		if task.State == model.StateQueued && e.readyQueue.Contains(task.ID) {
			e.mu.Lock()
			e.seq++
			seq := e.seq
			e.mu.Unlock()
			e.readyQueue.Push(task.ID, score, seq)
		}
	}
}
