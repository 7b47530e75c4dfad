// Package shaper implements the Source Shaper: a pure text transform
// that makes a trailing bare expression's value retrievable by the
// interpreter bridge, without touching any line that is already a
// statement.
package shaper

import (
	"regexp"
	"strings"
)

// statementKeywords begins a line that must never be wrapped: it is
// already a statement, not a value-producing expression. The set spans
// definitions, conditionals, loops, exception handling, context
// management, imports, control-flow, binding declarations, iteration
// producers, asynchrony markers, pattern-match constructs, and
// decorators, per spec.md §4.7 rule 3.
var statementKeywords = []string{
	"def", "class", "lambda",
	"if", "elif", "else",
	"for", "while",
	"try", "except", "finally", "raise",
	"with",
	"import", "from",
	"return", "pass", "break", "continue", "yield",
	"global", "nonlocal", "del", "assert",
	"async",
	"match", "case",
	"@",
	"#",
}

var keywordLineRe = regexp.MustCompile(`^[A-Za-z_]+\b`)

// Shape applies spec.md §4.7's rules to source's final non-blank line.
// It is idempotent: Shape(Shape(x)) == Shape(x), since an already-shaped
// line ("__result__ = <expr>") always matches rule 4 (a top-level `=`)
// and is therefore left unchanged on a second pass.
func Shape(source string) string {
	lines := strings.Split(source, "\n")

	idx := lastNonBlank(lines)
	if idx < 0 {
		// Rule 1: empty or entirely blank.
		return source
	}
	line := lines[idx]
	trimmed := strings.TrimLeft(line, " \t")

	// Rule 2: indented final line belongs to a block.
	if trimmed != line {
		return source
	}

	if beginsWithStatementKeyword(trimmed) {
		return source
	}

	if hasTopLevelBindingOperator(trimmed) {
		return source
	}

	if isCallStatement(trimmed) {
		return source
	}

	lines[idx] = "__result__ = " + line
	return strings.Join(lines, "\n")
}

func lastNonBlank(lines []string) int {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return i
		}
	}
	return -1
}

func beginsWithStatementKeyword(trimmed string) bool {
	if strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "@") {
		return true
	}
	m := keywordLineRe.FindString(trimmed)
	if m == "" {
		return false
	}
	for _, kw := range statementKeywords {
		if m == kw {
			return true
		}
	}
	return false
}

// hasTopLevelBindingOperator implements rule 4: a `=` at bracket/quote
// depth zero that is not part of `==`, `!=`, `<=` or `>=`. Compound
// assignment operators (`+=`, `-=`, `*=`, `/=`, `//=`, `%=`, `**=`, `&=`,
// `|=`, `^=`, `>>=`, `<<=`) and `:=` count as binding forms as well.
func hasTopLevelBindingOperator(line string) bool {
	depth := 0
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]

		if quote != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}

		switch c {
		case '\'', '"':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case '=':
			if depth != 0 {
				continue
			}
			prev := byte(0)
			if i > 0 {
				prev = line[i-1]
			}
			next := byte(0)
			if i+1 < len(line) {
				next = line[i+1]
			}
			if next == '=' || prev == '=' || prev == '!' {
				continue
			}
			if (prev == '<' || prev == '>') && (i < 2 || line[i-2] != prev) {
				// `<=` / `>=` compare; `<<=` / `>>=` fall through below.
				continue
			}
			if isCompoundAssignPrefix(prev) {
				// Compound assignments are statements too.
				return true
			}
			if prev == ':' {
				// walrus `:=` is still a binding form.
				return true
			}
			return true
		}
	}
	return false
}

func isCompoundAssignPrefix(prev byte) bool {
	switch prev {
	case '+', '-', '*', '/', '%', '&', '|', '^', '>', '<':
		return true
	}
	return false
}

// isCallStatement implements rule 5: ends with `)` at balanced
// parenthesis depth and does not itself begin with `(` (a line starting
// with `(` is a parenthesized expression, not a call statement, and so
// still gets wrapped).
func isCallStatement(line string) bool {
	trimmed := strings.TrimRight(line, " \t")
	if trimmed == "" || !strings.HasSuffix(trimmed, ")") {
		return false
	}
	if strings.HasPrefix(trimmed, "(") {
		return false
	}

	depth := 0
	var quote byte
	for i := 0; i < len(trimmed); i++ {
		c := trimmed[i]
		if quote != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		}
	}
	return depth == 0
}
