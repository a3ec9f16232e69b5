// Package graph maintains the dependency DAG over submitted tasks:
// cycle-safe mutation, topological ordering, parallel group derivation,
// and critical-path / impact analysis.
package graph

import (
	"sort"
	"sync"

	"github.com/taskmesh/engine/internal/model"
)

type node struct {
	id       string
	priority int
	outEdges map[string]model.DependencyType // id -> edge type, this node depends ON these
	inEdges  map[string]model.DependencyType  // id -> edge type, these depend ON this node
}

func newNode(id string) *node {
	return &node{
		id:       id,
		outEdges: make(map[string]model.DependencyType),
		inEdges:  make(map[string]model.DependencyType),
	}
}

// DependencyGraph is the engine's single owner of task dependency state.
// It is safe for concurrent use but is intended to be driven from the
// scheduler's single owning goroutine; the lock exists for read-mostly
// access from status/query paths.
type DependencyGraph struct {
	mu    sync.RWMutex
	nodes map[string]*node
	// structureVersion increments on every mutation, letting the priority
	// cache invalidate itself without re-walking the whole graph.
	structureVersion uint64
}

// NewDependencyGraph returns an empty graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		nodes: make(map[string]*node),
	}
}

// AddTask registers a task ID with the graph if not already present.
func (g *DependencyGraph) AddTask(id string, priority int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[id]; exists {
		return
	}
	n := newNode(id)
	n.priority = priority
	g.nodes[id] = n
	g.structureVersion++
}

// RemoveTask deletes a task node and clears it from the in/out edges of
// its neighbors. Returns UnknownTaskError if id is not present.
func (g *DependencyGraph) RemoveTask(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, exists := g.nodes[id]
	if !exists {
		return model.NewUnknownTaskError("graph", "remove_task", id)
	}

	for depID := range n.outEdges {
		if dep, ok := g.nodes[depID]; ok {
			delete(dep.inEdges, id)
		}
	}
	for depID := range n.inEdges {
		if dep, ok := g.nodes[depID]; ok {
			delete(dep.outEdges, id)
		}
	}

	delete(g.nodes, id)
	g.structureVersion++
	return nil
}

// AddDependency records that `to` depends on `from` (from must complete,
// or at least start, before to proceeds, per typ). Rejects the edge with
// a CycleError if it would create a cycle, and with UnknownTaskError if
// either endpoint is missing.
func (g *DependencyGraph) AddDependency(from, to string, typ model.DependencyType) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	fromNode, ok := g.nodes[from]
	if !ok {
		return model.NewUnknownTaskError("graph", "add_dependency", from)
	}
	toNode, ok := g.nodes[to]
	if !ok {
		return model.NewUnknownTaskError("graph", "add_dependency", to)
	}

	if from == to {
		return model.NewCycleError("graph", []string{from, to})
	}

	// Tentatively add the edge, then check for a cycle; undo on failure.
	toNode.outEdges[from] = typ
	fromNode.inEdges[to] = typ

	if cycle := g.detectCycle(); cycle != nil {
		delete(toNode.outEdges, from)
		delete(fromNode.inEdges, to)
		return model.NewCycleError("graph", cycle)
	}

	g.structureVersion++
	return nil
}

// RemoveDependency removes a previously added edge, if present.
func (g *DependencyGraph) RemoveDependency(from, to string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	toNode, ok := g.nodes[to]
	if !ok {
		return model.NewUnknownTaskError("graph", "remove_dependency", to)
	}
	fromNode, ok := g.nodes[from]
	if !ok {
		return model.NewUnknownTaskError("graph", "remove_dependency", from)
	}

	delete(toNode.outEdges, from)
	delete(fromNode.inEdges, to)
	g.structureVersion++
	return nil
}

// color states for iterative DFS cycle detection.
const (
	white = 0 // unvisited
	gray  = 1 // on the current recursion stack
	black = 2 // fully processed
)

// detectCycle runs an iterative DFS over the out-edge relation (to->from,
// i.e. dependency direction) looking for a back edge into a gray node.
// Returns the cycle path (task IDs) if one exists, nil otherwise. Must be
// called with mu held.
func (g *DependencyGraph) detectCycle() []string {
	color := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		color[id] = white
	}

	type frame struct {
		id       string
		children []string
		idx      int
	}

	for start := range g.nodes {
		if color[start] != white {
			continue
		}

		stack := []*frame{{id: start, children: sortedKeys(g.nodes[start].outEdges)}}
		color[start] = gray

		for len(stack) > 0 {
			top := stack[len(stack)-1]

			if top.idx >= len(top.children) {
				color[top.id] = black
				stack = stack[:len(stack)-1]
				continue
			}

			next := top.children[top.idx]
			top.idx++

			switch color[next] {
			case white:
				color[next] = gray
				stack = append(stack, &frame{id: next, children: sortedKeys(g.nodes[next].outEdges)})
			case gray:
				// Found a back edge: reconstruct the cycle from the stack.
				path := make([]string, 0, len(stack)+1)
				for _, f := range stack {
					path = append(path, f.id)
				}
				path = append(path, next)
				return path
			case black:
				// already fully explored, safe
			}
		}
	}

	return nil
}

func sortedKeys(m map[string]model.DependencyType) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// StructureVersion returns the current mutation counter, for priority
// cache invalidation.
func (g *DependencyGraph) StructureVersion() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.structureVersion
}

// IsEmpty reports whether the graph has no tasks left.
func (g *DependencyGraph) IsEmpty() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes) == 0
}

// Size returns the number of tasks currently tracked.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Ready returns the IDs of tasks with no outstanding HARD dependencies,
// i.e. nodes whose outEdges are empty or contain only non-hard types.
func (g *DependencyGraph) Ready() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
	for id, n := range g.nodes {
		blocked := false
		for _, typ := range n.outEdges {
			if typ == model.DependencyHard {
				blocked = true
				break
			}
		}
		if !blocked {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	return ready
}

// Dependencies returns the IDs of tasks that id directly depends on.
func (g *DependencyGraph) Dependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return sortedKeys(n.outEdges)
}

// Dependents returns the IDs of tasks that directly depend on id.
func (g *DependencyGraph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return sortedKeys(n.inEdges)
}

// HardDependents returns only the dependents connected via a HARD edge,
// the set that must cascade-cancel if id fails or is cancelled.
func (g *DependencyGraph) HardDependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	var out []string
	for dep, typ := range n.inEdges {
		if typ == model.DependencyHard {
			out = append(out, dep)
		}
	}
	sort.Strings(out)
	return out
}

// TaskIDs returns every task ID currently tracked, sorted for stable
// snapshot output.
func (g *DependencyGraph) TaskIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedNodeKeys(g.nodes)
}

func sortedNodeKeys(nodes map[string]*node) []string {
	keys := make([]string, 0, len(nodes))
	for k := range nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AllEdges returns every dependency edge currently in the graph, sorted
// by (From, To) for stable snapshot output.
func (g *DependencyGraph) AllEdges() []model.Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var edges []model.Edge
	for id, n := range g.nodes {
		for dep, typ := range n.outEdges {
			edges = append(edges, model.Edge{From: dep, To: id, Type: typ})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	return edges
}

// SetPriority updates a node's cached priority for topological tiebreaks.
func (g *DependencyGraph) SetPriority(id string, priority int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.nodes[id]; ok {
		n.priority = priority
	}
}
