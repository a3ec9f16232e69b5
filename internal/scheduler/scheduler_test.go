package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskmesh/engine/internal/model"
)

func TestReadyQueue_PriorityOrder(t *testing.T) {
	q := NewReadyQueue()
	q.Push("low", 100, 1)
	q.Push("high", 900, 2)
	q.Push("mid", 500, 3)

	first, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, "high", first)

	second, _ := q.Pop()
	require.Equal(t, "mid", second)

	third, _ := q.Pop()
	require.Equal(t, "low", third)

	_, ok = q.Pop()
	require.False(t, ok)
}

func TestReadyQueue_TiebreakBySequence(t *testing.T) {
	q := NewReadyQueue()
	q.Push("second", 500, 2)
	q.Push("first", 500, 1)

	id, _ := q.Pop()
	require.Equal(t, "first", id)
}

func TestReadyQueue_Remove(t *testing.T) {
	q := NewReadyQueue()
	q.Push("a", 500, 1)
	q.Push("b", 500, 2)
	q.Remove("a")

	require.False(t, q.Contains("a"))
	id, _ := q.Pop()
	require.Equal(t, "b", id)
}

func TestPriorityPolicy_OrdersByPriorityThenSubmission(t *testing.T) {
	now := time.Now()
	candidates := []Candidate{
		{Task: &model.Task{ID: "a", SubmittedAt: now.Add(2 * time.Second)}, EffectivePriority: 500},
		{Task: &model.Task{ID: "b", SubmittedAt: now}, EffectivePriority: 800},
		{Task: &model.Task{ID: "c", SubmittedAt: now.Add(time.Second)}, EffectivePriority: 800},
	}

	decision := PriorityPolicy{}.Select(candidates, 0)
	require.Equal(t, []string{"b", "c", "a"}, ids(decision.Selected))
}

func TestHybridAdaptivePolicy_CapacityTruncates(t *testing.T) {
	now := time.Now()
	candidates := []Candidate{
		{Task: &model.Task{ID: "a", SubmittedAt: now}, EffectivePriority: 100},
		{Task: &model.Task{ID: "b", SubmittedAt: now}, EffectivePriority: 900},
	}
	decision := HybridAdaptivePolicy{}.Select(candidates, 1)
	require.Len(t, decision.Selected, 1)
	require.Equal(t, "b", decision.Selected[0].Task.ID)
}

func ids(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Task.ID
	}
	return out
}
