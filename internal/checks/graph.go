package checks

import (
	"fmt"
	"sort"
	"strings"
)

// Graph is the check dependency DAG.
type Graph struct {
	// nodes are check IDs
	nodes map[string]bool

	// edges map from check ID to its dependencies
	edges map[string][]string

	// dependents is reverse edges for dependent lookup
	dependents map[string][]string
}

// CycleError indicates a circular dependency was detected
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular check dependency: %s", strings.Join(e.Cycle, " -> "))
}

// MissingDependencyError indicates a referenced dependency doesn't exist
type MissingDependencyError struct {
	Check      string
	Dependency string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("check %q depends on unknown check %q", e.Check, e.Dependency)
}

// NewGraph constructs a dependency graph from checks.
// Returns an error if cycles or missing dependencies are detected.
func NewGraph(checks []Check) (*Graph, error) {
	g := &Graph{
		nodes:      make(map[string]bool),
		edges:      make(map[string][]string),
		dependents: make(map[string][]string),
	}

	for _, c := range checks {
		g.nodes[c.ID] = true
	}

	for _, c := range checks {
		g.edges[c.ID] = make([]string, len(c.DependsOn))
		copy(g.edges[c.ID], c.DependsOn)

		for _, dep := range c.DependsOn {
			if !g.nodes[dep] {
				return nil, &MissingDependencyError{
					Check:      c.ID,
					Dependency: dep,
				}
			}
			g.dependents[dep] = append(g.dependents[dep], c.ID)
		}
	}

	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}

	return g, nil
}

// checkAcyclic runs Kahn's algorithm; any node left unvisited is part of
// a cycle.
func (g *Graph) checkAcyclic() error {
	inDegree := make(map[string]int)
	for node := range g.nodes {
		inDegree[node] = len(g.edges[node])
	}

	var queue []string
	for node := range g.nodes {
		if inDegree[node] == 0 {
			queue = append(queue, node)
		}
	}

	visited := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		visited++

		for _, dependent := range g.dependents[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if visited != len(g.nodes) {
		return &CycleError{Cycle: g.findCycle()}
	}
	return nil
}

// Levels returns check IDs grouped by dependency depth: level 0 holds
// checks with no dependencies, each later level depends only on earlier
// ones. IDs within a level are sorted for deterministic scheduling.
func (g *Graph) Levels() [][]string {
	var levels [][]string
	visited := make(map[string]bool)

	for len(visited) < len(g.nodes) {
		var currentLevel []string

		for node := range g.nodes {
			if visited[node] {
				continue
			}

			allDepsVisited := true
			for _, dep := range g.edges[node] {
				if !visited[dep] {
					allDepsVisited = false
					break
				}
			}

			if allDepsVisited {
				currentLevel = append(currentLevel, node)
			}
		}

		// An empty level means a cycle; NewGraph already rejects those.
		if len(currentLevel) == 0 {
			break
		}

		sort.Strings(currentLevel)

		for _, node := range currentLevel {
			visited[node] = true
		}

		levels = append(levels, currentLevel)
	}

	return levels
}

// findCycle locates and returns a cycle path (internal helper)
func (g *Graph) findCycle() []string {
	const (
		white = 0 // unvisited
		gray  = 1 // visiting
		black = 2 // visited
	)

	color := make(map[string]int)
	parent := make(map[string]string)

	for node := range g.nodes {
		color[node] = white
	}

	var cycle []string
	var dfs func(string) bool

	dfs = func(node string) bool {
		color[node] = gray

		dependents := g.dependents[node]
		sortedDependents := make([]string, len(dependents))
		copy(sortedDependents, dependents)
		sort.Strings(sortedDependents)

		for _, dep := range sortedDependents {
			if color[dep] == gray {
				// Found cycle, reconstruct path
				cycle = []string{dep}
				current := node
				for current != dep {
					cycle = append([]string{current}, cycle...)
					current = parent[current]
				}
				cycle = append(cycle, dep)
				return true
			}

			if color[dep] == white {
				parent[dep] = node
				if dfs(dep) {
					return true
				}
			}
		}

		color[node] = black
		return false
	}

	var sortedNodes []string
	for node := range g.nodes {
		sortedNodes = append(sortedNodes, node)
	}
	sort.Strings(sortedNodes)

	for _, node := range sortedNodes {
		if color[node] == white {
			if dfs(node) {
				return cycle
			}
		}
	}

	return nil
}
