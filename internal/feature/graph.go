package feature

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hatchctl/hatch/internal/cerr"
)

// Graph is a generic directed acyclic graph that supports topological sorting
// via Kahn's algorithm. Node keys are strings, values are of type T.
type Graph[T any] struct {
	nodes    map[string]T
	edges    map[string]map[string]bool
	soft     map[string]map[string]bool // subset of edges considered soft (installsAfter)
	inDegree map[string]int
}

// NewGraph creates an empty graph.
func NewGraph[T any]() *Graph[T] {
	return &Graph[T]{
		nodes:    make(map[string]T),
		edges:    make(map[string]map[string]bool),
		soft:     make(map[string]map[string]bool),
		inDegree: make(map[string]int),
	}
}

// AddNode adds a node to the graph. If the node already exists, its value
// is updated.
func (g *Graph[T]) AddNode(key string, value T) {
	g.nodes[key] = value
	if _, ok := g.inDegree[key]; !ok {
		g.inDegree[key] = 0
	}
}

// AddEdge adds a directed edge from -> to, meaning "from" must come before
// "to" in the sorted output. Both nodes must already exist in the graph.
func (g *Graph[T]) AddEdge(from, to string) error {
	if !g.HasNode(from) {
		return fmt.Errorf("node %q not found", from)
	}
	if !g.HasNode(to) {
		return fmt.Errorf("node %q not found", to)
	}
	if from == to {
		return fmt.Errorf("self-edge not allowed: %q", from)
	}

	if g.edges[from] == nil {
		g.edges[from] = make(map[string]bool)
	}
	if !g.edges[from][to] {
		g.edges[from][to] = true
		g.inDegree[to]++
	}
	return nil
}

// AddSoftEdge adds a soft (installsAfter) ordering edge from -> to. Soft
// edges participate in the topological sort exactly like hard edges added
// via AddEdge, but are additionally tracked so Sort can apply the "prefer a
// node that continues an outstanding soft edge" tie-break.
func (g *Graph[T]) AddSoftEdge(from, to string) error {
	if err := g.AddEdge(from, to); err != nil {
		return err
	}
	if g.soft[from] == nil {
		g.soft[from] = make(map[string]bool)
	}
	g.soft[from][to] = true
	return nil
}

// HasNode returns true if the graph contains a node with the given key.
func (g *Graph[T]) HasNode(key string) bool {
	_, ok := g.nodes[key]
	return ok
}

// HasEdge returns true if there is a directed edge from -> to.
func (g *Graph[T]) HasEdge(from, to string) bool {
	if g.edges[from] == nil {
		return false
	}
	return g.edges[from][to]
}

// CycleError reports a hard-edge cycle found by Sort, carrying the cycle
// path as an ordered list (e.g. ["x", "y", "z", "x"]).
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(e.Path, " -> "))
}

// Sort returns nodes in topological order using Kahn's algorithm.
// When multiple nodes are simultaneously ready (zero in-degree), the node
// continuing an outstanding soft edge from the previously placed node is
// preferred; otherwise nodes are picked in lexicographic key order. Returns
// a *CycleError wrapped in cerr.FeatureCycle if the graph contains a cycle.
func (g *Graph[T]) Sort() ([]T, error) {
	if len(g.nodes) == 0 {
		return nil, nil
	}

	// Copy in-degree map so we don't mutate the graph.
	inDegree := make(map[string]int, len(g.inDegree))
	for k, v := range g.inDegree {
		inDegree[k] = v
	}

	// Collect initial zero-degree nodes, sorted for determinism.
	var queue []string
	for key := range g.nodes {
		if inDegree[key] == 0 {
			queue = append(queue, key)
		}
	}
	sort.Strings(queue)

	var result []T
	placed := make(map[string]bool, len(g.nodes))
	lastPicked := ""
	for len(queue) > 0 {
		idx := 0
		if lastPicked != "" {
			if best, ok := g.preferredSoftTarget(lastPicked, queue); ok {
				idx = best
			}
		}
		key := queue[idx]
		queue = append(queue[:idx], queue[idx+1:]...)
		result = append(result, g.nodes[key])
		placed[key] = true
		lastPicked = key

		// Collect neighbors whose in-degree drops to zero.
		var newZero []string
		for neighbor := range g.edges[key] {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				newZero = append(newZero, neighbor)
			}
		}

		// Sort new zero-degree nodes and insert into queue in sorted position.
		sort.Strings(newZero)
		queue = sortedMerge(queue, newZero)
	}

	if len(result) != len(g.nodes) {
		remaining := make(map[string]bool)
		for key := range g.nodes {
			if !placed[key] {
				remaining[key] = true
			}
		}
		path := g.findCycle(remaining)
		return nil, cerr.Wrap(cerr.FeatureCycle, "circular dependency detected", &CycleError{Path: path})
	}

	return result, nil
}

// preferredSoftTarget looks for a node in queue that is the soft-edge
// target of from. If more than one qualifies, the lexicographically
// smallest is returned.
func (g *Graph[T]) preferredSoftTarget(from string, queue []string) (int, bool) {
	targets := g.soft[from]
	if len(targets) == 0 {
		return 0, false
	}
	best := -1
	for i, k := range queue {
		if targets[k] && (best == -1 || k < queue[best]) {
			best = i
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

// findCycle locates one cycle within the subgraph induced by remaining,
// returning it as an ordered path that starts and ends on the repeated node.
func (g *Graph[T]) findCycle(remaining map[string]bool) []string {
	const white, gray, black = 0, 1, 2
	color := make(map[string]int, len(remaining))
	var path []string
	var cycle []string

	var visit func(n string) bool
	visit = func(n string) bool {
		color[n] = gray
		path = append(path, n)

		var neighbors []string
		for m := range g.edges[n] {
			if remaining[m] {
				neighbors = append(neighbors, m)
			}
		}
		sort.Strings(neighbors)

		for _, m := range neighbors {
			switch color[m] {
			case gray:
				start := 0
				for i, p := range path {
					if p == m {
						start = i
						break
					}
				}
				cycle = append([]string{}, path[start:]...)
				cycle = append(cycle, m)
				return true
			case white:
				if visit(m) {
					return true
				}
			}
		}

		color[n] = black
		path = path[:len(path)-1]
		return false
	}

	keys := make([]string, 0, len(remaining))
	for k := range remaining {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if color[k] == white {
			if visit(k) {
				return cycle
			}
		}
	}
	return nil
}

// sortedMerge merges two sorted slices into a single sorted slice.
func sortedMerge(a, b []string) []string {
	result := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			result = append(result, a[i])
			i++
		} else {
			result = append(result, b[j])
			j++
		}
	}
	result = append(result, a[i:]...)
	result = append(result, b[j:]...)
	return result
}
