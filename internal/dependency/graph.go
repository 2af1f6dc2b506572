package dependency

import "hyperregistry/internal/api"

// Graph answers dependency queries over registry entries. It is built
// on demand from entry dependency lists and is *not* thread-safe by
// itself; callers must synchronise if they mutate concurrently.
type Graph struct {
	edges map[string][]string
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{edges: make(map[string][]string)}
}

// Add records a node and its immediate dependencies, replacing any
// previous edge list for the same id.
func (g *Graph) Add(id string, deps []string) {
	if g.edges == nil {
		g.edges = make(map[string][]string)
	}
	// Copy to avoid external mutations.
	copied := make([]string, len(deps))
	copy(copied, deps)
	g.edges[id] = copied
}

// Dependencies returns a copy of the immediate dependency ids for the
// given node, or nil if the node is unknown.
func (g *Graph) Dependencies(id string) []string {
	deps, ok := g.edges[id]
	if !ok {
		return nil
	}
	out := make([]string, len(deps))
	copy(out, deps)
	return out
}

// Dependents returns all node ids with a direct dependency on the given
// node. O(n) walk; graphs here are small enough that this is fine.
func (g *Graph) Dependents(id string) []string {
	var res []string
	for nodeID, deps := range g.edges {
		for _, dep := range deps {
			if dep == id {
				res = append(res, nodeID)
				break
			}
		}
	}
	return res
}

// Resolve returns the transitive dependency closure of id, depth-first,
// deduplicated, excluding id itself. Ids with no node in the graph are
// treated as leaves (pending external refs are allowed to dangle).
// A cycle fails with a CycleError whose path ends at the repeated id.
func (g *Graph) Resolve(id string) ([]string, error) {
	var order []string
	seen := map[string]bool{}
	onPath := map[string]bool{}
	var path []string

	var visit func(node string) error
	visit = func(node string) error {
		if onPath[node] {
			cycle := append(cyclePathFrom(path, node), node)
			return api.NewCycleError(cycle)
		}
		if seen[node] {
			return nil
		}
		seen[node] = true
		onPath[node] = true
		path = append(path, node)
		for _, dep := range g.edges[node] {
			if err := visit(dep); err != nil {
				return err
			}
			if !containsID(order, dep) {
				order = append(order, dep)
			}
		}
		onPath[node] = false
		path = path[:len(path)-1]
		return nil
	}

	if err := visit(id); err != nil {
		return nil, err
	}
	return order, nil
}

// cyclePathFrom trims the walk path to start at the first occurrence of
// the repeated node, so [A B C] with repeat A reports A -> B -> C -> A.
func cyclePathFrom(path []string, repeat string) []string {
	for i, node := range path {
		if node == repeat {
			return append([]string(nil), path[i:]...)
		}
	}
	return append([]string(nil), path...)
}

func containsID(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}
