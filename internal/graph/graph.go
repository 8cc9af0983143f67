// Package graph provides the dependency graph used for subtask scheduling.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/subplot-sh/subplot/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the plan.
var ErrCycleDetected = errors.New("circular dependency detected")

// DependencyGraph is a directed acyclic graph of subtask dependencies.
// Subtasks are nodes, and edges represent "blocked by" relationships.
type DependencyGraph struct {
	mu sync.RWMutex
	// nodes maps subtask ID to the subtask itself.
	nodes map[string]*models.Subtask
	// edges maps subtask ID to IDs of subtasks it depends on (is blocked by).
	edges map[string][]string
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes: make(map[string]*models.Subtask),
		edges: make(map[string][]string),
	}
}

// Build constructs the dependency graph from a plan's subtasks.
// Returns an error if an ID is duplicated, a dependency references an
// unknown subtask, or a cycle is detected.
func (g *DependencyGraph) Build(subtasks []*models.Subtask) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	// First pass: register all subtasks as nodes.
	for _, st := range subtasks {
		if _, exists := g.nodes[st.ID]; exists {
			return fmt.Errorf("duplicate subtask id %s", st.ID)
		}
		g.nodes[st.ID] = st
		g.edges[st.ID] = nil
	}

	// Second pass: build edges from DependsOn fields.
	for _, st := range subtasks {
		for _, depID := range st.DependsOn {
			if _, exists := g.nodes[depID]; !exists {
				return fmt.Errorf("subtask %s depends on unknown subtask %s", st.ID, depID)
			}
			g.edges[st.ID] = append(g.edges[st.ID], depID)
		}
	}

	if g.hasCycleLocked() {
		return ErrCycleDetected
	}

	return nil
}

// HasCycle returns true if the graph contains a circular dependency.
// Uses depth-first search with coloring to detect back edges.
func (g *DependencyGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasCycleLocked()
}

// hasCycleLocked is the internal implementation that assumes the lock is held.
func (g *DependencyGraph) hasCycleLocked() bool {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1

		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				// Back edge - cycle detected.
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
			// color == 2 means already processed, skip.
		}

		colors[id] = 2
		return false
	}

	for id := range g.nodes {
		if colors[id] == 0 {
			if visit(id) {
				return true
			}
		}
	}

	return false
}

// Ready returns the subtasks eligible to launch under the current execution
// state: not yet attempted, with every dependency completed. Calling Ready
// twice without an intervening state change yields the same set.
func (g *DependencyGraph) Ready(state *models.ExecutionState) []*models.Subtask {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []*models.Subtask
	for id, st := range g.nodes {
		if state.Attempted(id) {
			continue
		}

		allDepsComplete := true
		for _, depID := range g.edges[id] {
			if !state.IsCompleted(depID) {
				allDepsComplete = false
				break
			}
		}

		if allDepsComplete {
			ready = append(ready, st)
		}
	}

	return ready
}

// DependsOnFailed reports whether the subtask transitively depends on a
// failed subtask. Used to distinguish a failed-dependency stall from a
// genuine cycle.
func (g *DependencyGraph) DependsOnFailed(id string, state *models.ExecutionState) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := make(map[string]bool)
	var visit func(id string) bool
	visit = func(id string) bool {
		if visited[id] {
			return false
		}
		visited[id] = true

		for _, depID := range g.edges[id] {
			if st, ok := state.StatusOf(depID); ok && st == models.SubtaskStatusFailed {
				return true
			}
			if visit(depID) {
				return true
			}
		}
		return false
	}

	return visit(id)
}

// TopologicalSort returns subtask IDs in an order where all dependencies
// come before the subtasks that depend on them.
// Returns an error if the graph contains a cycle.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.hasCycleLocked() {
		return nil, ErrCycleDetected
	}

	// Track visited nodes and build result in reverse post-order.
	visited := make(map[string]bool)
	var result []string

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true

		// Visit all dependencies first.
		for _, depID := range g.edges[id] {
			visit(depID)
		}

		result = append(result, id)
	}

	for id := range g.nodes {
		visit(id)
	}

	return result, nil
}

// Subtask returns the subtask for a given ID, or nil if not found.
func (g *DependencyGraph) Subtask(id string) *models.Subtask {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[id]
}

// IDs returns all subtask IDs in the graph, sorted.
func (g *DependencyGraph) IDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Size returns the number of subtasks in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Dependencies returns the IDs of subtasks the given subtask depends on.
func (g *DependencyGraph) Dependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[id]
}

// Dependents returns the IDs of subtasks that depend on the given subtask.
func (g *DependencyGraph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for id2, deps := range g.edges {
		for _, depID := range deps {
			if depID == id {
				dependents = append(dependents, id2)
				break
			}
		}
	}
	return dependents
}
