package workflow

import (
	"fmt"

	"github.com/Ashour158/People-sub002/internal/domain/expr"
)

// Report is the outcome of a successful validation
type Report struct {
	// Order is a topological order of the nodes reachable from start
	Order []string

	// Warnings are non-fatal findings
	Warnings []string
}

// Validate checks a definition before it is published. Structural problems
// are returned together as a *ValidationError; graph problems as
// *CyclicWorkflowError or *NoMatchingEdgeError.
func Validate(def *Definition) (*Report, error) {
	if problems := structuralProblems(def); len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	g, err := Compile(def)
	if err != nil {
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}

	report := &Report{}
	reachable := reachableFrom(g, g.start)

	for _, n := range def.Nodes {
		if !reachable[n.ID] {
			report.Warnings = append(report.Warnings, fmt.Sprintf("node %q is unreachable from start", n.ID))
		}
	}

	order, cyclic := topologicalOrder(def, g, reachable)
	if len(cyclic) > 0 {
		return nil, &CyclicWorkflowError{Nodes: cyclic}
	}
	report.Order = order

	reachesEnd := false
	for id := range reachable {
		if n, _ := g.Node(id); n.Type == NodeEnd {
			reachesEnd = true
			break
		}
	}
	if !reachesEnd {
		return nil, &ValidationError{Problems: []string{"no end node is reachable from start"}}
	}

	for _, id := range order {
		n, _ := g.Node(id)
		switch n.Type {
		case NodeCondition:
			warning, err := checkCoverage(g, n)
			if err != nil {
				return nil, err
			}
			if warning != "" {
				report.Warnings = append(report.Warnings, warning)
			}
		case NodeApproval:
			a := n.Approval
			if a.Timeout > 0 && a.Escalation == nil {
				report.Warnings = append(report.Warnings, fmt.Sprintf("approval node %q has a timeout but no escalation policy; tasks will not be escalated", n.ID))
			}
		}
	}

	return report, nil
}

// checkCoverage enforces that a condition node always has an edge to take.
func checkCoverage(g *Graph, n *Node) (string, error) {
	var conds []expr.Expr
	for _, t := range g.Outgoing(n.ID) {
		if t.Condition == nil {
			return "", nil
		}
		conds = append(conds, t.Condition)
	}
	if expr.AnyComplementary(conds) {
		return fmt.Sprintf("condition node %q has no default edge; relying on complementary conditions, a type mismatch at runtime fails the instance", n.ID), nil
	}
	return "", &NoMatchingEdgeError{NodeID: n.ID}
}

func structuralProblems(def *Definition) []string {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if def.Name == "" {
		add("name is required")
	}
	if len(def.Nodes) == 0 {
		add("at least one node is required")
		return problems
	}

	ids := make(map[string]*Node, len(def.Nodes))
	starts := 0
	for i := range def.Nodes {
		n := &def.Nodes[i]
		if n.ID == "" {
			add("node %d has an empty id", i)
			continue
		}
		if _, dup := ids[n.ID]; dup {
			add("duplicate node id %q", n.ID)
			continue
		}
		ids[n.ID] = n
		if !n.Type.IsValid() {
			add("node %q has unknown type %q", n.ID, n.Type)
			continue
		}
		if n.Type == NodeStart {
			starts++
		}
		problems = append(problems, nodeConfigProblems(n)...)
	}
	if starts != 1 {
		add("exactly one start node is required, found %d", starts)
	}

	outgoing := make(map[string][]Edge)
	for _, e := range def.Edges {
		from, okFrom := ids[e.From]
		_, okTo := ids[e.To]
		if !okFrom {
			add("edge %s -> %s references unknown node %q", e.From, e.To, e.From)
		}
		if !okTo {
			add("edge %s -> %s references unknown node %q", e.From, e.To, e.To)
		}
		if !okFrom || !okTo {
			continue
		}
		if !e.IsDefault() {
			if _, err := expr.Parse(e.Condition); err != nil {
				add("edge %s -> %s: %v", e.From, e.To, err)
			}
			if from.Type != NodeCondition {
				add("edge %s -> %s: only condition nodes may have conditional edges", e.From, e.To)
			}
		}
		outgoing[e.From] = append(outgoing[e.From], e)
	}

	for _, n := range def.Nodes {
		if _, ok := ids[n.ID]; !ok || !n.Type.IsValid() {
			continue
		}
		out := outgoing[n.ID]
		switch n.Type {
		case NodeStart, NodeAction, NodeApproval:
			if len(out) != 1 {
				add("%s node %q must have exactly one outgoing edge, found %d", n.Type, n.ID, len(out))
			}
		case NodeCondition:
			if len(out) == 0 {
				add("condition node %q has no outgoing edges", n.ID)
			}
			defaults := 0
			for _, e := range out {
				if e.IsDefault() {
					defaults++
				}
			}
			if defaults > 1 {
				add("condition node %q has %d default edges, at most one is allowed", n.ID, defaults)
			}
		case NodeEnd:
			if len(out) != 0 {
				add("end node %q must not have outgoing edges", n.ID)
			}
		}
	}

	return problems
}

func nodeConfigProblems(n *Node) []string {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch n.Type {
	case NodeApproval:
		if n.Approval == nil {
			add("approval node %q requires an approval block", n.ID)
			return problems
		}
		for _, p := range resolutionProblems(n.Approval.Approvers) {
			add("approval node %q approvers: %s", n.ID, p)
		}
		if n.Approval.Timeout < 0 {
			add("approval node %q has a negative timeout", n.ID)
		}
		if esc := n.Approval.Escalation; esc != nil {
			if !esc.Action.IsValid() {
				add("approval node %q has unknown escalation action %q", n.ID, esc.Action)
			}
			if n.Approval.Timeout <= 0 {
				add("approval node %q configures escalation without a timeout", n.ID)
			}
			if esc.Action == EscalateReassign {
				if esc.Target == nil {
					add("approval node %q escalation reassign requires a target", n.ID)
				} else {
					for _, p := range resolutionProblems(*esc.Target) {
						add("approval node %q escalation target: %s", n.ID, p)
					}
				}
			}
		}
	case NodeAction:
		if n.Action == nil || n.Action.Name == "" {
			add("action node %q requires an action name", n.ID)
		}
	case NodeEnd:
		if n.Outcome != StateCompleted && n.Outcome != StateRejected && n.Outcome != StateCancelled {
			add("end node %q has invalid outcome %q", n.ID, n.Outcome)
		}
	}
	return problems
}

func resolutionProblems(r ApproverResolution) []string {
	var problems []string
	switch r.Kind {
	case ResolveStaticUser:
		if len(r.Users) == 0 {
			problems = append(problems, "static_user requires at least one user")
		}
	case ResolveRole:
		if r.Role == "" {
			problems = append(problems, "role requires a role name")
		}
	case ResolveReportingManager:
		if r.Subject == "" {
			problems = append(problems, "reporting_manager requires a subject path")
		}
	case ResolveExpression:
		if r.Expression == "" {
			problems = append(problems, "expression requires an expression")
		} else if _, err := expr.Parse(r.Expression); err != nil {
			problems = append(problems, err.Error())
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown resolver kind %q", r.Kind))
	}
	return problems
}

func reachableFrom(g *Graph, start string) map[string]bool {
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, t := range g.Outgoing(id) {
			if !seen[t.Edge.To] {
				seen[t.Edge.To] = true
				queue = append(queue, t.Edge.To)
			}
		}
	}
	return seen
}

// topologicalOrder runs Kahn's algorithm over the reachable subgraph. When a
// cycle exists it returns the nodes that lie on a cycle, in definition order.
func topologicalOrder(def *Definition, g *Graph, reachable map[string]bool) ([]string, []string) {
	indegree := make(map[string]int, len(reachable))
	for id := range reachable {
		indegree[id] += 0
		for _, t := range g.Outgoing(id) {
			indegree[t.Edge.To]++
		}
	}

	var queue, order []string
	for _, n := range def.Nodes {
		if reachable[n.ID] && indegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, t := range g.Outgoing(id) {
			indegree[t.Edge.To]--
			if indegree[t.Edge.To] == 0 {
				queue = append(queue, t.Edge.To)
			}
		}
	}
	if len(order) == len(reachable) {
		return order, nil
	}

	// Peel off nodes that only lead out of the cycle.
	remaining := make(map[string]bool)
	for id := range reachable {
		if indegree[id] > 0 {
			remaining[id] = true
		}
	}
	for changed := true; changed; {
		changed = false
		for id := range remaining {
			leadsBack := false
			for _, t := range g.Outgoing(id) {
				if remaining[t.Edge.To] {
					leadsBack = true
					break
				}
			}
			if !leadsBack {
				delete(remaining, id)
				changed = true
			}
		}
	}

	var cyclic []string
	for _, n := range def.Nodes {
		if remaining[n.ID] {
			cyclic = append(cyclic, n.ID)
		}
	}
	return order, cyclic
}
