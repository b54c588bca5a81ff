package expr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/viant/parsly"
)

// Parse compiles a condition expression into its AST.
//
// Grammar, loosest binding first:
//
//	or         := and { ("or" | "||") and }
//	and        := unary { ("and" | "&&") unary }
//	unary      := ("not" | "!") unary | comparison
//	comparison := operand [ op operand ]
//	operand    := literal | path | "(" or ")"
func Parse(input string) (Expr, error) {
	source := strings.TrimSpace(input)
	if source == "" {
		return nil, &SyntaxError{Expression: input, Err: fmt.Errorf("empty expression")}
	}

	p := &parser{source: source, cursor: parsly.NewCursor("", []byte(source), 0)}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}

	p.cursor.MatchOne(whitespaceToken)
	if p.cursor.HasMore() {
		return nil, p.errorf("unexpected input at offset %d", p.cursor.Pos)
	}
	return node, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// static definitions.
func MustParse(input string) Expr {
	node, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return node
}

type parser struct {
	source string
	cursor *parsly.Cursor
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		matched := p.cursor.MatchAfterOptional(whitespaceToken, orSymToken, orToken)
		if matched.Code != orCode && matched.Code != orSymCode {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = Logical{Op: OpOr, Left: left, Right: right}
	}
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		matched := p.cursor.MatchAfterOptional(whitespaceToken, andSymToken, andToken)
		if matched.Code != andCode && matched.Code != andSymCode {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = Logical{Op: OpAnd, Left: left, Right: right}
	}
}

func (p *parser) parseUnary() (Expr, error) {
	pos := p.cursor.Pos
	matched := p.cursor.MatchAfterOptional(whitespaceToken, notToken, neToken, bangToken)
	switch matched.Code {
	case notCode, bangCode:
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not{Operand: operand}, nil
	case neCode:
		return nil, p.errorf("unexpected '!=' at offset %d", pos)
	}
	p.cursor.Pos = pos
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	pos := p.cursor.Pos
	matched := p.cursor.MatchAfterOptional(whitespaceToken, comparisonTokens...)
	op, ok := compareOps[matched.Code]
	if !ok {
		p.cursor.Pos = pos
		return left, nil
	}

	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return Comparison{Op: op, Left: left, Right: right}, nil
}

func (p *parser) parseOperand() (Expr, error) {
	matched := p.cursor.MatchAfterOptional(whitespaceToken, openParenToken, stringToken, numberToken, pathToken)
	switch matched.Code {
	case openParenCode:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		closing := p.cursor.MatchAfterOptional(whitespaceToken, closeParenToken)
		if closing.Code != closeParenCode {
			return nil, p.wrap(p.cursor.NewError(closeParenToken))
		}
		return inner, nil

	case stringCode:
		value, err := unquote(matched.Text(p.cursor))
		if err != nil {
			return nil, p.errorf("invalid string literal: %v", err)
		}
		return Literal{Value: value}, nil

	case numberCode:
		text := matched.Text(p.cursor)
		value, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, p.errorf("invalid number %q: %v", text, err)
		}
		return Literal{Value: value}, nil

	case pathCode:
		text := matched.Text(p.cursor)
		switch text {
		case "true":
			return Literal{Value: true}, nil
		case "false":
			return Literal{Value: false}, nil
		case "null", "nil":
			return Literal{Value: nil}, nil
		case "and", "or", "not":
			return nil, p.errorf("unexpected keyword %q", text)
		}
		return Lookup{Path: strings.Split(text, ".")}, nil
	}

	if !p.cursor.HasMore() {
		return nil, p.errorf("unexpected end of expression")
	}
	return nil, p.wrap(p.cursor.NewError(openParenToken, stringToken, numberToken, pathToken))
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return &SyntaxError{Expression: p.source, Err: fmt.Errorf(format, args...)}
}

func (p *parser) wrap(err error) error {
	return &SyntaxError{Expression: p.source, Err: err}
}

// unquote decodes a quoted literal. Double-quoted strings follow Go escaping;
// single-quoted strings only escape the quote and the backslash.
func unquote(text string) (string, error) {
	if strings.HasPrefix(text, `"`) {
		return strconv.Unquote(text)
	}
	body := text[1 : len(text)-1]
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		if body[i] == '\\' && i+1 < len(body) {
			i++
		}
		b.WriteByte(body[i])
	}
	return b.String(), nil
}
