package workflow

import (
	"fmt"

	"github.com/Ashour158/People-sub002/internal/domain/expr"
)

// Transition is an outgoing edge with its parsed condition. Condition is nil
// for the default edge.
type Transition struct {
	Edge      Edge
	Condition expr.Expr
}

// Graph is a definition with node lookup and parsed edge conditions
type Graph struct {
	def      *Definition
	nodes    map[string]*Node
	outgoing map[string][]Transition
	start    string
}

// Compile indexes a definition for traversal. It fails on unknown node
// references, a missing start node, or unparsable conditions; use Validate
// for the full rule set.
func Compile(def *Definition) (*Graph, error) {
	g := &Graph{
		def:      def,
		nodes:    make(map[string]*Node, len(def.Nodes)),
		outgoing: make(map[string][]Transition),
	}

	for i := range def.Nodes {
		n := &def.Nodes[i]
		g.nodes[n.ID] = n
		if n.Type == NodeStart && g.start == "" {
			g.start = n.ID
		}
	}
	if g.start == "" {
		return nil, fmt.Errorf("definition %q has no start node", def.Name)
	}

	for _, e := range def.Edges {
		if _, ok := g.nodes[e.From]; !ok {
			return nil, fmt.Errorf("edge references unknown node %q", e.From)
		}
		if _, ok := g.nodes[e.To]; !ok {
			return nil, fmt.Errorf("edge references unknown node %q", e.To)
		}
		t := Transition{Edge: e}
		if !e.IsDefault() {
			cond, err := expr.Parse(e.Condition)
			if err != nil {
				return nil, fmt.Errorf("edge %s -> %s: %w", e.From, e.To, err)
			}
			t.Condition = cond
		}
		g.outgoing[e.From] = append(g.outgoing[e.From], t)
	}

	return g, nil
}

// Definition returns the underlying definition
func (g *Graph) Definition() *Definition {
	return g.def
}

// Start returns the start node
func (g *Graph) Start() *Node {
	return g.nodes[g.start]
}

// Node returns the node with the given ID
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Outgoing returns transitions leaving a node in definition order
func (g *Graph) Outgoing(id string) []Transition {
	return g.outgoing[id]
}

// NodeCount returns the number of nodes
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// Follow returns the single successor of a start, action or approval node
func (g *Graph) Follow(id string) (string, error) {
	out := g.outgoing[id]
	if len(out) != 1 {
		return "", fmt.Errorf("node %q has %d outgoing edges, expected 1", id, len(out))
	}
	return out[0].Edge.To, nil
}

// Choose picks the edge to take out of a condition node: the first
// conditional edge in definition order whose condition holds, else the
// default edge. Overlapping conditions resolve to the earliest edge.
func (g *Graph) Choose(id string, vars map[string]interface{}) (string, error) {
	var fallback *Transition
	for i, t := range g.outgoing[id] {
		if t.Condition == nil {
			if fallback == nil {
				fallback = &g.outgoing[id][i]
			}
			continue
		}
		ok, err := expr.EvalBool(t.Condition, vars)
		if err != nil {
			return "", err
		}
		if ok {
			return t.Edge.To, nil
		}
	}
	if fallback != nil {
		return fallback.Edge.To, nil
	}
	return "", &NoMatchingEdgeError{NodeID: id}
}
