package workflow

import (
	"strings"
	"time"
)

// NodeType identifies the behaviour of a node
type NodeType string

const (
	NodeStart     NodeType = "start"
	NodeApproval  NodeType = "approval"
	NodeCondition NodeType = "condition"
	NodeAction    NodeType = "action"
	NodeEnd       NodeType = "end"
)

// IsValid checks if the node type is one of the defined constants
func (t NodeType) IsValid() bool {
	switch t {
	case NodeStart, NodeApproval, NodeCondition, NodeAction, NodeEnd:
		return true
	default:
		return false
	}
}

// ResolverKind selects how approvers are resolved
type ResolverKind string

const (
	ResolveStaticUser       ResolverKind = "static_user"
	ResolveRole             ResolverKind = "role"
	ResolveReportingManager ResolverKind = "reporting_manager"
	ResolveExpression       ResolverKind = "expression"
)

// IsValid checks if the resolver kind is one of the defined constants
func (k ResolverKind) IsValid() bool {
	switch k {
	case ResolveStaticUser, ResolveRole, ResolveReportingManager, ResolveExpression:
		return true
	default:
		return false
	}
}

// EscalationAction is applied to an overdue task
type EscalationAction string

const (
	EscalateReassign    EscalationAction = "reassign"
	EscalateAutoApprove EscalationAction = "auto_approve"
	EscalateAutoReject  EscalationAction = "auto_reject"
)

// IsValid checks if the action is one of the defined constants
func (a EscalationAction) IsValid() bool {
	switch a {
	case EscalateReassign, EscalateAutoApprove, EscalateAutoReject:
		return true
	default:
		return false
	}
}

// DefaultSubjectPath is the context path of the user whose reporting
// manager is resolved when no subject is configured.
const DefaultSubjectPath = "entity.owner_id"

// Definition is a versioned workflow graph. Definitions are immutable once
// stored; edits produce a new version under the same name.
type Definition struct {
	ID        string    `yaml:"id,omitempty" json:"id"`
	Name      string    `yaml:"name" json:"name"`
	Version   int       `yaml:"version,omitempty" json:"version"`
	IsActive  bool      `yaml:"-" json:"is_active"`
	CreatedAt time.Time `yaml:"-" json:"created_at"`
	Nodes     []Node    `yaml:"nodes" json:"nodes"`
	Edges     []Edge    `yaml:"edges" json:"edges"`
}

// Node is a step of the workflow graph
type Node struct {
	ID       string          `yaml:"id" json:"id"`
	Type     NodeType        `yaml:"type" json:"type"`
	Name     string          `yaml:"name,omitempty" json:"name,omitempty"`
	Approval *ApprovalConfig `yaml:"approval,omitempty" json:"approval,omitempty"`
	Action   *ActionConfig   `yaml:"action,omitempty" json:"action,omitempty"`

	// Outcome is the terminal instance state reached at an end node
	Outcome State `yaml:"outcome,omitempty" json:"outcome,omitempty"`
}

// Edge connects two nodes. An empty condition marks the default edge.
type Edge struct {
	From      string `yaml:"from" json:"from"`
	To        string `yaml:"to" json:"to"`
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
}

// IsDefault reports whether the edge is unconditional
func (e Edge) IsDefault() bool {
	return strings.TrimSpace(e.Condition) == ""
}

// ApprovalConfig configures an approval node
type ApprovalConfig struct {
	Approvers   ApproverResolution `yaml:"approvers" json:"approvers"`
	RequiresAll bool               `yaml:"requires_all" json:"requires_all"`
	Timeout     time.Duration      `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Escalation  *EscalationPolicy  `yaml:"escalation,omitempty" json:"escalation,omitempty"`
}

// ApproverResolution describes how to turn instance context into approvers
type ApproverResolution struct {
	Kind ResolverKind `yaml:"kind" json:"kind"`

	// Users lists identities for static_user
	Users []string `yaml:"users,omitempty" json:"users,omitempty"`

	// Role is looked up in the directory for role
	Role string `yaml:"role,omitempty" json:"role,omitempty"`

	// Subject is the context path of the user whose manager is resolved
	Subject string `yaml:"subject,omitempty" json:"subject,omitempty"`

	// Expression yields a user id or a list of user ids for expression
	Expression string `yaml:"expression,omitempty" json:"expression,omitempty"`
}

// EscalationPolicy is applied when a task passes its due time
type EscalationPolicy struct {
	Action EscalationAction    `yaml:"action" json:"action"`
	Target *ApproverResolution `yaml:"target,omitempty" json:"target,omitempty"`
}

// ActionConfig names a registered pure action and its parameters
type ActionConfig struct {
	Name   string                 `yaml:"name" json:"name"`
	Params map[string]interface{} `yaml:"params,omitempty" json:"params,omitempty"`
}

// Node returns the node with the given ID
func (d *Definition) Node(id string) (*Node, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

// StartNode returns the first start node
func (d *Definition) StartNode() (*Node, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].Type == NodeStart {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

// Outgoing returns the edges leaving a node in definition order
func (d *Definition) Outgoing(nodeID string) []Edge {
	var edges []Edge
	for _, e := range d.Edges {
		if e.From == nodeID {
			edges = append(edges, e)
		}
	}
	return edges
}

// Normalize trims identifiers and fills defaults in place
func (d *Definition) Normalize() *Definition {
	d.Name = strings.TrimSpace(d.Name)
	for i := range d.Nodes {
		n := &d.Nodes[i]
		n.ID = strings.TrimSpace(n.ID)
		n.Type = NodeType(strings.ToLower(strings.TrimSpace(string(n.Type))))
		if n.Type == NodeEnd && n.Outcome == "" {
			n.Outcome = StateCompleted
		}
		if n.Approval != nil && n.Approval.Approvers.Kind == ResolveReportingManager && n.Approval.Approvers.Subject == "" {
			n.Approval.Approvers.Subject = DefaultSubjectPath
		}
	}
	for i := range d.Edges {
		e := &d.Edges[i]
		e.From = strings.TrimSpace(e.From)
		e.To = strings.TrimSpace(e.To)
		e.Condition = strings.TrimSpace(e.Condition)
	}
	return d
}

// Clone returns a deep copy of the definition
func (d *Definition) Clone() *Definition {
	out := *d
	out.Nodes = make([]Node, len(d.Nodes))
	for i, n := range d.Nodes {
		c := n
		if n.Approval != nil {
			a := *n.Approval
			a.Approvers = n.Approval.Approvers.clone()
			if n.Approval.Escalation != nil {
				esc := *n.Approval.Escalation
				if esc.Target != nil {
					target := esc.Target.clone()
					esc.Target = &target
				}
				a.Escalation = &esc
			}
			c.Approval = &a
		}
		if n.Action != nil {
			act := *n.Action
			if n.Action.Params != nil {
				act.Params = make(map[string]interface{}, len(n.Action.Params))
				for k, v := range n.Action.Params {
					act.Params[k] = v
				}
			}
			c.Action = &act
		}
		out.Nodes[i] = c
	}
	out.Edges = append([]Edge(nil), d.Edges...)
	return &out
}

func (r ApproverResolution) clone() ApproverResolution {
	out := r
	out.Users = append([]string(nil), r.Users...)
	return out
}
