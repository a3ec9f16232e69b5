package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/taskmesh/engine/internal/model"
)

func TestDependencyGraph_ReadyAndOrder(t *testing.T) {
	g := NewDependencyGraph()
	g.AddTask("a", 500)
	g.AddTask("b", 500)
	g.AddTask("c", 500)

	require.NoError(t, g.AddDependency("a", "b", model.DependencyHard))
	require.NoError(t, g.AddDependency("b", "c", model.DependencyHard))

	require.Equal(t, []string{"a"}, g.Ready())

	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, order)
}

func TestDependencyGraph_CycleRejected(t *testing.T) {
	g := NewDependencyGraph()
	g.AddTask("a", 500)
	g.AddTask("b", 500)

	require.NoError(t, g.AddDependency("a", "b", model.DependencyHard))

	err := g.AddDependency("b", "a", model.DependencyHard)
	require.Error(t, err)

	var cycleErr *model.CycleError
	require.ErrorAs(t, err, &cycleErr)

	// The second edge must not have been committed.
	require.Equal(t, []string{"a"}, g.Ready())
}

func TestDependencyGraph_SelfDependencyRejected(t *testing.T) {
	g := NewDependencyGraph()
	g.AddTask("a", 500)

	err := g.AddDependency("a", "a", model.DependencyHard)
	require.Error(t, err)
}

func TestDependencyGraph_ParallelGroups(t *testing.T) {
	g := NewDependencyGraph()
	for _, id := range []string{"a", "b", "c", "d"} {
		g.AddTask(id, 500)
	}
	// a, b are independent roots; c depends on both; d depends on c.
	require.NoError(t, g.AddDependency("a", "c", model.DependencyHard))
	require.NoError(t, g.AddDependency("b", "c", model.DependencyHard))
	require.NoError(t, g.AddDependency("c", "d", model.DependencyHard))

	groups, err := g.ParallelGroups()
	require.NoError(t, err)
	require.Len(t, groups, 3)
	require.ElementsMatch(t, []string{"a", "b"}, groups[0])
	require.Equal(t, []string{"c"}, groups[1])
	require.Equal(t, []string{"d"}, groups[2])
}

func TestDependencyGraph_SoftDependencyDoesNotBlockReady(t *testing.T) {
	g := NewDependencyGraph()
	g.AddTask("a", 500)
	g.AddTask("b", 500)

	require.NoError(t, g.AddDependency("a", "b", model.DependencySoft))

	require.ElementsMatch(t, []string{"a", "b"}, g.Ready())
}

func TestDependencyGraph_RemoveTaskClearsEdges(t *testing.T) {
	g := NewDependencyGraph()
	g.AddTask("a", 500)
	g.AddTask("b", 500)
	require.NoError(t, g.AddDependency("a", "b", model.DependencyHard))

	require.NoError(t, g.RemoveTask("a"))
	require.Equal(t, []string{"b"}, g.Ready())

	err := g.RemoveTask("a")
	require.Error(t, err)
	var unknownErr *model.UnknownTaskError
	require.ErrorAs(t, err, &unknownErr)
}

type fakeDuration map[string]int64

func (f fakeDuration) TaskDuration(id string) int64 { return f[id] }

func TestDependencyGraph_CriticalPath(t *testing.T) {
	g := NewDependencyGraph()
	g.AddTask("a", 500)
	g.AddTask("b", 500)
	g.AddTask("c", 500)

	require.NoError(t, g.AddDependency("a", "b", model.DependencyHard))
	require.NoError(t, g.AddDependency("b", "c", model.DependencyHard))

	dur := fakeDuration{"a": 10, "b": 20, "c": 30}
	path, total, err := g.CriticalPath(dur)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, path)
	require.Equal(t, int64(60), total)
}

func TestDependencyGraph_DependencyImpact(t *testing.T) {
	g := NewDependencyGraph()
	g.AddTask("a", 500)
	g.AddTask("b", 500)
	g.AddTask("c", 500)

	require.NoError(t, g.AddDependency("a", "b", model.DependencyHard))
	require.NoError(t, g.AddDependency("b", "c", model.DependencyHard))

	report, err := g.DependencyImpact("a", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, report.DirectDependents)
	require.Equal(t, []string{"c"}, report.IndirectDependents)
	require.Equal(t, 2, report.TotalImpact)
	require.False(t, report.OnCriticalPath)

	dur := fakeDuration{"a": 10, "b": 20, "c": 30}
	report, err = g.DependencyImpact("a", dur)
	require.NoError(t, err)
	require.True(t, report.OnCriticalPath)
}
