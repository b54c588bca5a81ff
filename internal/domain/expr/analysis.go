package expr

// Equivalent reports whether two expressions have the same canonical form.
func Equivalent(a, b Expr) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.String() == b.String()
}

// Complementary reports whether exactly one of a and b holds for every
// context in which both evaluate: e and not e, or comparisons of the same
// operands with negated operators (x > 5, x <= 5). Lookups that resolve to
// values of the wrong type can still make both fail at runtime.
func Complementary(a, b Expr) bool {
	if n, ok := a.(Not); ok && Equivalent(n.Operand, b) {
		return true
	}
	if n, ok := b.(Not); ok && Equivalent(n.Operand, a) {
		return true
	}

	ca, okA := a.(Comparison)
	cb, okB := b.(Comparison)
	if !okA || !okB {
		return false
	}
	if Equivalent(ca.Left, cb.Left) && Equivalent(ca.Right, cb.Right) {
		return ca.Op.Negate() == cb.Op
	}
	// x > 5 versus 5 >= x
	if Equivalent(ca.Left, cb.Right) && Equivalent(ca.Right, cb.Left) {
		return ca.Op.Negate() == mirror(cb.Op)
	}
	return false
}

// AnyComplementary reports whether some pair among exprs is complementary,
// which makes the set jointly exhaustive.
func AnyComplementary(exprs []Expr) bool {
	for i := 0; i < len(exprs); i++ {
		for j := i + 1; j < len(exprs); j++ {
			if Complementary(exprs[i], exprs[j]) {
				return true
			}
		}
	}
	return false
}

// Lookups returns the context paths referenced by an expression in
// first-occurrence order.
func Lookups(e Expr) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(Expr)
	walk = func(node Expr) {
		switch n := node.(type) {
		case Lookup:
			key := n.String()
			if !seen[key] {
				seen[key] = true
				out = append(out, key)
			}
		case Comparison:
			walk(n.Left)
			walk(n.Right)
		case Logical:
			walk(n.Left)
			walk(n.Right)
		case Not:
			walk(n.Operand)
		}
	}
	walk(e)
	return out
}

// mirror swaps operand order: a < b is b > a.
func mirror(op CompareOp) CompareOp {
	switch op {
	case OpLt:
		return OpGt
	case OpLe:
		return OpGe
	case OpGt:
		return OpLt
	case OpGe:
		return OpLe
	}
	return op
}
