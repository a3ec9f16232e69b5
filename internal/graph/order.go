package graph

import (
	"container/heap"
	"sort"

	"github.com/taskmesh/engine/internal/model"
)

// orderItem is a min-heap entry keyed by remaining in-degree-zero
// eligibility and priority, used by TopologicalOrder to break ties
// deterministically in priority order (higher priority first).
type orderItem struct {
	id       string
	priority int
}

type orderHeap []orderItem

func (h orderHeap) Len() int { return len(h) }
func (h orderHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority // higher priority pops first
	}
	return h[i].id < h[j].id // stable tiebreak
}
func (h orderHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *orderHeap) Push(x interface{}) { *h = append(*h, x.(orderItem)) }
func (h *orderHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// TopologicalOrder returns all task IDs in an order consistent with
// dependencies, using Kahn's algorithm with a priority-ordered ready set
// so that among equally-eligible tasks the highest priority is emitted
// first. Returns a CycleError if the graph is not acyclic (defense in
// depth; AddDependency already prevents cycles from being introduced).
func (g *DependencyGraph) TopologicalOrder() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	inDegree := make(map[string]int, len(g.nodes))
	for id, n := range g.nodes {
		inDegree[id] = len(n.outEdges)
	}

	h := &orderHeap{}
	heap.Init(h)
	for id, deg := range inDegree {
		if deg == 0 {
			heap.Push(h, orderItem{id: id, priority: g.nodes[id].priority})
		}
	}

	order := make([]string, 0, len(g.nodes))
	for h.Len() > 0 {
		item := heap.Pop(h).(orderItem)
		order = append(order, item.id)

		for depID := range g.nodes[item.id].inEdges {
			inDegree[depID]--
			if inDegree[depID] == 0 {
				heap.Push(h, orderItem{id: depID, priority: g.nodes[depID].priority})
			}
		}
	}

	if len(order) != len(g.nodes) {
		cycle := g.detectCycle()
		return nil, model.NewCycleError("graph", cycle)
	}

	return order, nil
}

// ParallelGroups partitions the topological order into "waves": group i
// contains every task whose dependencies are fully satisfied by groups
// 0..i-1. Tasks within a group can run concurrently.
func (g *DependencyGraph) ParallelGroups() ([][]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	remaining := make(map[string]int, len(g.nodes))
	for id, n := range g.nodes {
		remaining[id] = len(n.outEdges)
	}

	var groups [][]string
	processed := 0
	for processed < len(g.nodes) {
		var wave []string
		for id, deg := range remaining {
			if deg == 0 {
				wave = append(wave, id)
			}
		}
		if len(wave) == 0 {
			cycle := g.detectCycle()
			return nil, model.NewCycleError("graph", cycle)
		}
		sort.Strings(wave)
		groups = append(groups, wave)

		for _, id := range wave {
			delete(remaining, id)
			for depID := range g.nodes[id].inEdges {
				remaining[depID]--
			}
		}
		processed += len(wave)
	}

	return groups, nil
}

// Duration is supplied per task by the caller so the graph package stays
// independent of how task runtime estimates are produced.
type Duration interface {
	TaskDuration(id string) int64 // milliseconds
}

// CriticalPath computes the longest weighted chain of tasks from any
// source to any sink, using task durations from dur. Returns the path
// and its total duration in milliseconds.
func (g *DependencyGraph) CriticalPath(dur Duration) ([]string, int64, error) {
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, 0, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	longest := make(map[string]int64, len(order))
	prev := make(map[string]string, len(order))

	for _, id := range order {
		d := dur.TaskDuration(id)
		best := int64(0)
		bestPrev := ""
		for depID := range g.nodes[id].outEdges {
			if longest[depID] > best {
				best = longest[depID]
				bestPrev = depID
			}
		}
		longest[id] = best + d
		if bestPrev != "" {
			prev[id] = bestPrev
		}
	}

	var endID string
	var endVal int64
	for id, v := range longest {
		if v > endVal {
			endVal = v
			endID = id
		}
	}
	if endID == "" {
		return nil, 0, nil
	}

	var path []string
	for cur := endID; cur != ""; {
		path = append([]string{cur}, path...)
		cur = prev[cur]
	}

	return path, endVal, nil
}

// DependencyImpactReport describes the blast radius of cancelling or
// failing a task: the dependents affected directly (one hard-dependency
// hop away), the ones only reachable transitively through those, the
// combined total, and whether the task sits on the graph's current
// critical path.
type DependencyImpactReport struct {
	DirectDependents   []string
	IndirectDependents []string
	TotalImpact        int
	OnCriticalPath     bool
}

// DependencyImpact reports the blast radius of cancelling or failing id:
// its direct and indirect HARD-dependent closure, plus whether id lies on
// the graph's current critical path per dur's duration estimates. dur may
// be nil, in which case OnCriticalPath is always false.
func (g *DependencyGraph) DependencyImpact(id string, dur Duration) (DependencyImpactReport, error) {
	g.mu.RLock()
	direct := make(map[string]bool)
	if n, ok := g.nodes[id]; ok {
		for dep, typ := range n.inEdges {
			if typ == model.DependencyHard {
				direct[dep] = true
			}
		}
	}

	visited := make(map[string]bool)
	var walk func(string)
	walk = func(cur string) {
		n, ok := g.nodes[cur]
		if !ok {
			return
		}
		for dep, typ := range n.inEdges {
			if typ != model.DependencyHard {
				continue
			}
			if !visited[dep] {
				visited[dep] = true
				walk(dep)
			}
		}
	}
	walk(id)
	g.mu.RUnlock()

	directOut := make([]string, 0, len(direct))
	for dep := range direct {
		directOut = append(directOut, dep)
	}
	sort.Strings(directOut)

	indirectOut := make([]string, 0, len(visited))
	for dep := range visited {
		if !direct[dep] {
			indirectOut = append(indirectOut, dep)
		}
	}
	sort.Strings(indirectOut)

	report := DependencyImpactReport{
		DirectDependents:   directOut,
		IndirectDependents: indirectOut,
		TotalImpact:        len(direct) + len(indirectOut),
	}

	if dur != nil {
		if path, _, err := g.CriticalPath(dur); err == nil {
			for _, pid := range path {
				if pid == id {
					report.OnCriticalPath = true
					break
				}
			}
		}
	}

	return report, nil
}
