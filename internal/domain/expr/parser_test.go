package expr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Expr
	}{
		{
			name:  "simple comparison",
			input: "amount > 1000",
			want:  Comparison{Op: OpGt, Left: Lookup{Path: []string{"amount"}}, Right: Literal{Value: float64(1000)}},
		},
		{
			name:  "no whitespace",
			input: "amount>=1000.5",
			want:  Comparison{Op: OpGe, Left: Lookup{Path: []string{"amount"}}, Right: Literal{Value: 1000.5}},
		},
		{
			name:  "dotted path and string",
			input: `entity.department == "finance"`,
			want:  Comparison{Op: OpEq, Left: Lookup{Path: []string{"entity", "department"}}, Right: Literal{Value: "finance"}},
		},
		{
			name:  "single quoted string",
			input: `kind != 'sick'`,
			want:  Comparison{Op: OpNe, Left: Lookup{Path: []string{"kind"}}, Right: Literal{Value: "sick"}},
		},
		{
			name:  "negative number",
			input: "balance < -5",
			want:  Comparison{Op: OpLt, Left: Lookup{Path: []string{"balance"}}, Right: Literal{Value: float64(-5)}},
		},
		{
			name:  "bare boolean lookup",
			input: "urgent",
			want:  Lookup{Path: []string{"urgent"}},
		},
		{
			name:  "literals",
			input: "flag == true or other == null",
			want: Logical{
				Op:    OpOr,
				Left:  Comparison{Op: OpEq, Left: Lookup{Path: []string{"flag"}}, Right: Literal{Value: true}},
				Right: Comparison{Op: OpEq, Left: Lookup{Path: []string{"other"}}, Right: Literal{Value: nil}},
			},
		},
		{
			name:  "and binds tighter than or",
			input: "a or b and c",
			want: Logical{
				Op:   OpOr,
				Left: Lookup{Path: []string{"a"}},
				Right: Logical{
					Op:    OpAnd,
					Left:  Lookup{Path: []string{"b"}},
					Right: Lookup{Path: []string{"c"}},
				},
			},
		},
		{
			name:  "parentheses override precedence",
			input: "(a || b) && c",
			want: Logical{
				Op: OpAnd,
				Left: Logical{
					Op:    OpOr,
					Left:  Lookup{Path: []string{"a"}},
					Right: Lookup{Path: []string{"b"}},
				},
				Right: Lookup{Path: []string{"c"}},
			},
		},
		{
			name:  "not keyword and bang",
			input: "not a and !b",
			want: Logical{
				Op:    OpAnd,
				Left:  Not{Operand: Lookup{Path: []string{"a"}}},
				Right: Not{Operand: Lookup{Path: []string{"b"}}},
			},
		},
		{
			name:  "keyword prefix is an identifier",
			input: "order == 1",
			want:  Comparison{Op: OpEq, Left: Lookup{Path: []string{"order"}}, Right: Literal{Value: float64(1)}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"amount >",
		"(a and b",
		"a b",
		"amount > > 5",
		`name == "unterminated`,
		"and == 1",
		"!= 5",
		"a.",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			require.Error(t, err)
			var syntaxErr *SyntaxError
			assert.True(t, errors.As(err, &syntaxErr), "expected SyntaxError, got %T", err)
		})
	}
}

func TestParse_RoundTrip(t *testing.T) {
	inputs := []string{
		"amount > 1000",
		`entity.type == "contractor" and days >= 10`,
		"not (a or b)",
		"(a and b) or not c",
		`note == 'it\'s fine'`,
		"x != null",
		"ratio <= 0.25",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			first := MustParse(input)
			second, err := Parse(first.String())
			require.NoError(t, err, "canonical form %q must parse", first.String())
			assert.Equal(t, first, second)
			assert.Equal(t, first.String(), second.String())
		})
	}
}

func TestMustParse_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParse("a >") })
}
