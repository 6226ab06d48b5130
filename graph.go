package stepflow

import "sort"

// DependencyGraph is the directed precedence graph of one workflow
// definition, built from its steps and dependency edges.
type DependencyGraph struct {
	Nodes map[string]*GraphNode
}

// GraphNode represents one step template in the graph
type GraphNode struct {
	StepID       string
	Successors   []string
	Predecessors []string
}

// NewDependencyGraph builds a graph from a definition's steps and edges.
// Edges referencing steps outside the set are ignored.
func NewDependencyGraph(steps []*WorkflowStep, edges []*StepDependency) *DependencyGraph {
	g := &DependencyGraph{Nodes: make(map[string]*GraphNode, len(steps))}
	for _, s := range steps {
		g.Nodes[s.ID] = &GraphNode{StepID: s.ID}
	}
	for _, e := range edges {
		from, okFrom := g.Nodes[e.PredecessorID]
		to, okTo := g.Nodes[e.SuccessorID]
		if !okFrom || !okTo {
			continue
		}
		from.Successors = append(from.Successors, e.SuccessorID)
		to.Predecessors = append(to.Predecessors, e.PredecessorID)
	}
	return g
}

// Predecessors returns the predecessor step IDs of the given step
func (g *DependencyGraph) Predecessors(stepID string) []string {
	node, exists := g.Nodes[stepID]
	if !exists {
		return nil
	}
	return node.Predecessors
}

// Successors returns the successor step IDs of the given step
func (g *DependencyGraph) Successors(stepID string) []string {
	node, exists := g.Nodes[stepID]
	if !exists {
		return nil
	}
	return node.Successors
}

// InboundCount returns the number of inbound edges of the given step
func (g *DependencyGraph) InboundCount(stepID string) int {
	node, exists := g.Nodes[stepID]
	if !exists {
		return 0
	}
	return len(node.Predecessors)
}

// HasCycle performs DFS over all nodes to detect a directed cycle
func (g *DependencyGraph) HasCycle() bool {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for nodeID := range g.Nodes {
		if !visited[nodeID] {
			if g.hasCycleFrom(nodeID, visited, recStack) {
				return true
			}
		}
	}
	return false
}

// hasCycleFrom performs DFS to detect cycles
func (g *DependencyGraph) hasCycleFrom(nodeID string, visited, recStack map[string]bool) bool {
	visited[nodeID] = true
	recStack[nodeID] = true

	for _, nextID := range g.Nodes[nodeID].Successors {
		if !visited[nextID] {
			if g.hasCycleFrom(nextID, visited, recStack) {
				return true
			}
		} else if recStack[nextID] {
			return true
		}
	}

	recStack[nodeID] = false
	return false
}

// WouldCycle reports whether adding the edge predecessor -> successor would
// close a directed cycle, i.e. the predecessor is already reachable from
// the successor.
func (g *DependencyGraph) WouldCycle(predecessorID, successorID string) bool {
	if predecessorID == successorID {
		return true
	}
	return g.reachable(successorID, predecessorID)
}

// reachable performs DFS from start looking for target
func (g *DependencyGraph) reachable(startID, targetID string) bool {
	seen := make(map[string]bool)
	stack := []string{startID}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == targetID {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		node, exists := g.Nodes[cur]
		if !exists {
			continue
		}
		stack = append(stack, node.Successors...)
	}
	return false
}

// SynthesizeSequenceEdges derives implicit finish_to_start edges between
// consecutive sequence values. Used for definitions that declare no edges
// of their own, so the resolver only ever sees one dependency mechanism.
func SynthesizeSequenceEdges(steps []*WorkflowStep) []*StepDependency {
	if len(steps) < 2 {
		return nil
	}
	ordered := make([]*WorkflowStep, len(steps))
	copy(ordered, steps)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Sequence < ordered[j].Sequence
	})

	edges := make([]*StepDependency, 0, len(ordered)-1)
	for i := 1; i < len(ordered); i++ {
		edges = append(edges, &StepDependency{
			PredecessorID: ordered[i-1].ID,
			SuccessorID:   ordered[i].ID,
			Type:          DependencyFinishToStart,
		})
	}
	return edges
}
