package expr

import (
	"github.com/viant/parsly"
	"github.com/viant/parsly/matcher"
)

// Token codes start at 1; whitespace uses 0.
const (
	whitespaceCode = iota
	pathCode
	numberCode
	stringCode
	openParenCode
	closeParenCode
	eqCode
	neCode
	leCode
	geCode
	ltCode
	gtCode
	andCode
	orCode
	notCode
	andSymCode
	orSymCode
	bangCode
)

var (
	whitespaceToken = parsly.NewToken(whitespaceCode, "Whitespace", matcher.NewWhiteSpace())
	pathToken       = parsly.NewToken(pathCode, "Path", &pathMatcher{})
	numberToken     = parsly.NewToken(numberCode, "Number", &numberMatcher{})
	stringToken     = parsly.NewToken(stringCode, "String", &stringMatcher{})
	openParenToken  = parsly.NewToken(openParenCode, "(", matcher.NewByte('('))
	closeParenToken = parsly.NewToken(closeParenCode, ")", matcher.NewByte(')'))

	// Two-byte operators are listed before their one-byte prefixes.
	eqToken = parsly.NewToken(eqCode, "==", matcher.NewFragment("=="))
	neToken = parsly.NewToken(neCode, "!=", matcher.NewFragment("!="))
	leToken = parsly.NewToken(leCode, "<=", matcher.NewFragment("<="))
	geToken = parsly.NewToken(geCode, ">=", matcher.NewFragment(">="))
	ltToken = parsly.NewToken(ltCode, "<", matcher.NewByte('<'))
	gtToken = parsly.NewToken(gtCode, ">", matcher.NewByte('>'))

	andToken    = parsly.NewToken(andCode, "and", &keywordMatcher{word: "and"})
	orToken     = parsly.NewToken(orCode, "or", &keywordMatcher{word: "or"})
	notToken    = parsly.NewToken(notCode, "not", &keywordMatcher{word: "not"})
	andSymToken = parsly.NewToken(andSymCode, "&&", matcher.NewFragment("&&"))
	orSymToken  = parsly.NewToken(orSymCode, "||", matcher.NewFragment("||"))
	bangToken   = parsly.NewToken(bangCode, "!", matcher.NewByte('!'))

	comparisonTokens = []*parsly.Token{eqToken, neToken, leToken, geToken, ltToken, gtToken}
)

var compareOps = map[int]CompareOp{
	eqCode: OpEq,
	neCode: OpNe,
	leCode: OpLe,
	geCode: OpGe,
	ltCode: OpLt,
	gtCode: OpGt,
}

// pathMatcher matches identifiers joined by dots (entity.owner.id)
type pathMatcher struct{}

func (m *pathMatcher) Match(cursor *parsly.Cursor) int {
	input := cursor.Input
	pos := cursor.Pos
	size := cursor.InputSize

	if pos >= size || !isIdentStart(input[pos]) {
		return 0
	}

	matched := 0
	expectStart := true
	for i := pos; i < size; i++ {
		c := input[i]
		switch {
		case expectStart:
			if !isIdentStart(c) {
				return trimTrailingDot(input, pos, matched)
			}
			expectStart = false
		case c == '.':
			expectStart = true
		case !isIdentPart(c):
			return trimTrailingDot(input, pos, matched)
		}
		matched++
	}
	return trimTrailingDot(input, pos, matched)
}

func trimTrailingDot(input []byte, pos, matched int) int {
	if matched > 0 && input[pos+matched-1] == '.' {
		return matched - 1
	}
	return matched
}

// keywordMatcher matches a word only when it is not the prefix of a longer identifier
type keywordMatcher struct {
	word string
}

func (m *keywordMatcher) Match(cursor *parsly.Cursor) int {
	input := cursor.Input
	pos := cursor.Pos
	size := cursor.InputSize
	n := len(m.word)

	if pos+n > size || string(input[pos:pos+n]) != m.word {
		return 0
	}
	if pos+n < size && (isIdentPart(input[pos+n]) || input[pos+n] == '.') {
		return 0
	}
	return n
}

// numberMatcher matches an optionally signed decimal number
type numberMatcher struct{}

func (m *numberMatcher) Match(cursor *parsly.Cursor) int {
	input := cursor.Input
	pos := cursor.Pos
	size := cursor.InputSize

	i := pos
	if i < size && input[i] == '-' {
		i++
	}
	digits := 0
	for i < size && isDigit(input[i]) {
		i++
		digits++
	}
	if digits == 0 {
		return 0
	}
	if i < size && input[i] == '.' {
		frac := 0
		j := i + 1
		for j < size && isDigit(input[j]) {
			j++
			frac++
		}
		if frac > 0 {
			i = j
		}
	}
	return i - pos
}

// stringMatcher matches a single or double quoted literal with backslash escapes
type stringMatcher struct{}

func (m *stringMatcher) Match(cursor *parsly.Cursor) int {
	input := cursor.Input
	pos := cursor.Pos
	size := cursor.InputSize

	if pos >= size {
		return 0
	}
	quote := input[pos]
	if quote != '"' && quote != '\'' {
		return 0
	}
	for i := pos + 1; i < size; i++ {
		switch input[i] {
		case '\\':
			i++
		case quote:
			return i - pos + 1
		}
	}
	return 0
}

func isIdentStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
