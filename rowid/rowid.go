// Package rowid builds the __row_id hash expressions emitted by every
// operator, and centralizes the formula so join-child and lateral-child
// projections cannot drift apart (§9's load-bearing row-ID note).
package rowid

import "strings"

// Single returns the SQL text for hash(expr), parenthesizing expr first if
// it looks like an arithmetic sub-expression so the ::text cast binds to
// the whole expression rather than its last operand.
func Single(sqlExpr string) string {
	return "hash(" + castText(sqlExpr) + ")"
}

// Multi returns the SQL text for hash_multi(ARRAY[...]) over the given
// already-deparsed sub-expressions.
func Multi(sqlExprs ...string) string {
	if len(sqlExprs) == 1 {
		return Single(sqlExprs[0])
	}
	parts := make([]string, len(sqlExprs))
	for i, e := range sqlExprs {
		parts[i] = castText(e)
	}
	return "hash_multi(ARRAY[" + strings.Join(parts, ", ") + "])"
}

// Zero is the literal __row_id used by NULL-padding join parts, which carry
// no natural key on the padded side.
const Zero = "0"

func castText(sqlExpr string) string {
	if needsParen(sqlExpr) {
		return "(" + sqlExpr + ")::text"
	}
	return sqlExpr + "::text"
}

// needsParen reports whether sqlExpr contains a top-level infix operator
// that would otherwise bind more loosely than ::text, based on the presence
// of whitespace-delimited operator tokens outside of any existing
// parenthesis or quote nesting. A plain column reference or function call
// needs no parens; "a + b" does.
func needsParen(sqlExpr string) bool {
	depth := 0
	inQuote := false
	for i := 0; i < len(sqlExpr); i++ {
		c := sqlExpr[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
		case inQuote:
			continue
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			depth--
		case depth == 0 && isOperatorByte(c):
			return true
		}
	}
	return false
}

func isOperatorByte(c byte) bool {
	switch c {
	case '+', '-', '*', '/', '%', '|', '&', '<', '>':
		return true
	default:
		return false
	}
}
