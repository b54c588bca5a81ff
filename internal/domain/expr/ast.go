// Package expr implements the condition language used on workflow edges:
// a sealed AST of literals, context lookups, comparisons and boolean
// combinators, plus a parser and an interpreter for it.
package expr

import (
	"strconv"
	"strings"
)

// Expr is a node of the condition AST. The set of implementations is closed.
type Expr interface {
	// String renders the canonical source form. Parsing the result yields an
	// equivalent tree.
	String() string
	sealed()
}

// CompareOp is a comparison operator
type CompareOp string

const (
	OpEq CompareOp = "=="
	OpNe CompareOp = "!="
	OpLt CompareOp = "<"
	OpLe CompareOp = "<="
	OpGt CompareOp = ">"
	OpGe CompareOp = ">="
)

// LogicalOp is a boolean combinator
type LogicalOp string

const (
	OpAnd LogicalOp = "and"
	OpOr  LogicalOp = "or"
)

// Literal is a constant: nil, bool, float64 or string.
type Literal struct {
	Value interface{}
}

// Lookup reads a value from the evaluation context by dotted path.
type Lookup struct {
	Path []string
}

// Comparison compares two operands.
type Comparison struct {
	Op    CompareOp
	Left  Expr
	Right Expr
}

// Logical combines two boolean operands.
type Logical struct {
	Op    LogicalOp
	Left  Expr
	Right Expr
}

// Not negates a boolean operand.
type Not struct {
	Operand Expr
}

func (Literal) sealed()    {}
func (Lookup) sealed()     {}
func (Comparison) sealed() {}
func (Logical) sealed()    {}
func (Not) sealed()        {}

func (l Literal) String() string {
	switch v := l.Value.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return strconv.Quote(v)
	default:
		return "null"
	}
}

func (l Lookup) String() string {
	return strings.Join(l.Path, ".")
}

func (c Comparison) String() string {
	return c.Left.String() + " " + string(c.Op) + " " + c.Right.String()
}

func (l Logical) String() string {
	return "(" + l.Left.String() + " " + string(l.Op) + " " + l.Right.String() + ")"
}

func (n Not) String() string {
	return "not (" + n.Operand.String() + ")"
}

// Negate returns the complementary comparison operator.
func (op CompareOp) Negate() CompareOp {
	switch op {
	case OpEq:
		return OpNe
	case OpNe:
		return OpEq
	case OpLt:
		return OpGe
	case OpLe:
		return OpGt
	case OpGt:
		return OpLe
	case OpGe:
		return OpLt
	}
	return op
}
