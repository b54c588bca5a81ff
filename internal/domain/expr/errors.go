package expr

import "fmt"

// SyntaxError reports an expression that cannot be parsed
type SyntaxError struct {
	Expression string
	Err        error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid expression %q: %v", e.Expression, e.Err)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// EvaluationError reports an expression that parsed but could not be
// evaluated against the given context (type mismatch, non-boolean result).
type EvaluationError struct {
	Expression string
	Reason     string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("cannot evaluate %q: %s", e.Expression, e.Reason)
}
