package expr

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Eval evaluates the expression against a context bag. Missing lookups
// evaluate to nil.
func Eval(e Expr, vars map[string]interface{}) (interface{}, error) {
	switch n := e.(type) {
	case Literal:
		return n.Value, nil

	case Lookup:
		return lookup(vars, n.Path), nil

	case Comparison:
		left, err := Eval(n.Left, vars)
		if err != nil {
			return nil, err
		}
		right, err := Eval(n.Right, vars)
		if err != nil {
			return nil, err
		}
		return compare(n, left, right)

	case Logical:
		left, err := evalOperandBool(n, n.Left, vars)
		if err != nil {
			return nil, err
		}
		if n.Op == OpAnd && !left {
			return false, nil
		}
		if n.Op == OpOr && left {
			return true, nil
		}
		return evalOperandBool(n, n.Right, vars)

	case Not:
		v, err := evalOperandBool(n, n.Operand, vars)
		if err != nil {
			return nil, err
		}
		return !v, nil
	}
	return nil, &EvaluationError{Expression: fmt.Sprint(e), Reason: "unknown expression node"}
}

// EvalBool evaluates a condition and requires a boolean result.
func EvalBool(e Expr, vars map[string]interface{}) (bool, error) {
	v, err := Eval(e, vars)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, &EvaluationError{Expression: e.String(), Reason: fmt.Sprintf("result %v is not a boolean", v)}
	}
	return b, nil
}

func evalOperandBool(parent, operand Expr, vars map[string]interface{}) (bool, error) {
	v, err := Eval(operand, vars)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, &EvaluationError{
			Expression: parent.String(),
			Reason:     fmt.Sprintf("operand %s is %v, not a boolean", operand.String(), v),
		}
	}
	return b, nil
}

func lookup(vars map[string]interface{}, path []string) interface{} {
	var current interface{} = vars
	for _, key := range path {
		switch m := current.(type) {
		case map[string]interface{}:
			current = m[key]
		case map[string]string:
			v, ok := m[key]
			if !ok {
				return nil
			}
			current = v
		default:
			return nil
		}
		if current == nil {
			return nil
		}
	}
	return current
}

func compare(n Comparison, left, right interface{}) (interface{}, error) {
	left, right = normalize(left), normalize(right)

	switch n.Op {
	case OpEq:
		return equal(left, right), nil
	case OpNe:
		return !equal(left, right), nil
	}

	switch l := left.(type) {
	case float64:
		r, ok := right.(float64)
		if !ok {
			return nil, mismatch(n, left, right)
		}
		return ordered(n.Op, compareFloat(l, r)), nil
	case string:
		r, ok := right.(string)
		if !ok {
			return nil, mismatch(n, left, right)
		}
		return ordered(n.Op, compareString(l, r)), nil
	}
	return nil, mismatch(n, left, right)
}

func mismatch(n Comparison, left, right interface{}) error {
	return &EvaluationError{
		Expression: n.String(),
		Reason:     fmt.Sprintf("cannot order %T(%v) and %T(%v)", left, left, right, right),
	}
}

func ordered(op CompareOp, cmp int) bool {
	switch op {
	case OpLt:
		return cmp < 0
	case OpLe:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGe:
		return cmp >= 0
	}
	return false
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func equal(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(a, b)
}

// normalize folds numeric representations to float64 so that context values
// decoded from JSON, YAML or Go code compare equal.
func normalize(v interface{}) interface{} {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	}
	return v
}
