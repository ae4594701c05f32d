package pipeline

import "sort"

// PipelineNodesOnly keeps the data-kind nodes in their input order and the
// edges whose endpoints both survive. Advisory nodes and edges touching
// them or pointing at missing nodes are dropped.
func PipelineNodesOnly(nodes []Node, edges []Edge) ([]Node, []Edge) {
	keptNodes := make([]Node, 0, len(nodes))
	present := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if n.Kind.IsDataKind() {
			keptNodes = append(keptNodes, n)
			present[n.ID] = true
		}
	}
	keptEdges := make([]Edge, 0, len(edges))
	for _, e := range edges {
		if present[e.From] && present[e.To] {
			keptEdges = append(keptEdges, e)
		}
	}
	return keptNodes, keptEdges
}

// TopologicalSort orders nodes with Kahn's algorithm. Only edges between
// nodes in the input count toward in-degree. Among ready nodes the one
// earliest in the input goes first. Nodes left over by a cycle are
// appended in their input order, so every input node appears exactly once.
func TopologicalSort(nodes []Node, edges []Edge) []Node {
	if len(nodes) == 0 {
		return []Node{}
	}

	pos := make(map[string]int, len(nodes))
	for i, n := range nodes {
		if _, dup := pos[n.ID]; !dup {
			pos[n.ID] = i
		}
	}

	inDegree := make([]int, len(nodes))
	succ := make([][]int, len(nodes))
	for _, e := range edges {
		from, okFrom := pos[e.From]
		to, okTo := pos[e.To]
		if !okFrom || !okTo {
			continue
		}
		succ[from] = append(succ[from], to)
		inDegree[to]++
	}

	var ready []int
	for i := range nodes {
		if pos[nodes[i].ID] == i && inDegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	out := make([]Node, 0, len(nodes))
	emitted := make([]bool, len(nodes))
	for len(ready) > 0 {
		cur := ready[0]
		ready = ready[1:]
		emitted[cur] = true
		out = append(out, nodes[cur])
		for _, next := range succ[cur] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = insertSorted(ready, next)
			}
		}
	}

	for i := range nodes {
		if !emitted[i] {
			out = append(out, nodes[i])
		}
	}
	return out
}

// OrderedPipeline filters to data nodes and sorts them.
func OrderedPipeline(nodes []Node, edges []Edge) []Node {
	n, e := PipelineNodesOnly(nodes, edges)
	return TopologicalSort(n, e)
}

// OrderedIDs returns the ids of OrderedPipeline.
func OrderedIDs(nodes []Node, edges []Edge) []string {
	ordered := OrderedPipeline(nodes, edges)
	ids := make([]string, len(ordered))
	for i, n := range ordered {
		ids[i] = n.ID
	}
	return ids
}

// insertSorted inserts v into the ascending slice s.
func insertSorted(s []int, v int) []int {
	i := sort.SearchInts(s, v)
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}
