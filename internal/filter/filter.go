// Package filter turns free-text search queries into a base query plus a
// structured predicate string understood by every item store backend.
//
// Recognized filter tokens take the form key:value, for example
//
//	matrix year:1999
//	actor:"Tom Hanks" votes:>10
//	year:1990 TO 2000
//
// Unrecognized keys are not an error: those tokens stay in the base query.
package filter

import (
	"log/slog"
	"regexp"
	"strings"
)

// keyAttributes maps user-facing filter keys to stored item attributes.
var keyAttributes = map[string]string{
	"actor":    "actors",
	"genre":    "genre",
	"year":     "year",
	"votes":    "votes",
	"rating":   "rating",
	"director": "director",
}

// numericAttributes are compared as numbers rather than strings.
var numericAttributes = map[string]bool{
	"year":   true,
	"votes":  true,
	"rating": true,
}

var (
	comparisonPattern = regexp.MustCompile(`^(<=|>=|<|>|=)(-?\d+(?:\.\d+)?)$`)
	numberPattern     = regexp.MustCompile(`^-?\d+(?:\.\d+)?$`)
)

const rangeKeyword = "TO"

// Parse splits raw into the passed-through base query and the predicate
// built from recognized filter tokens. Clauses are joined with " AND ".
func Parse(raw string) (string, string) {
	tokens := tokenize(raw)
	if len(tokens) == 0 {
		return "", ""
	}

	var base, clauses []string
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		key, value, ok := splitFilter(tok)
		if !ok {
			base = append(base, tok)
			continue
		}
		attr, known := keyAttributes[strings.ToLower(key)]
		if !known || value == "" {
			base = append(base, tok)
			continue
		}

		if !numericAttributes[attr] {
			clauses = append(clauses, attr+":"+quote(value))
			continue
		}

		if m := comparisonPattern.FindStringSubmatch(value); m != nil {
			clauses = append(clauses, attr+" "+m[1]+" "+m[2])
			continue
		}
		if isNumber(value) && i+2 < len(tokens) && tokens[i+1] == rangeKeyword && isNumber(tokens[i+2]) {
			clauses = append(clauses, attr+":"+value+" "+rangeKeyword+" "+tokens[i+2])
			i += 2
			continue
		}
		if isNumber(value) {
			clauses = append(clauses, attr+":"+quote(value))
			continue
		}
		if unquoted := strings.Trim(value, `"`); unquoted != value && isNumber(unquoted) {
			clauses = append(clauses, attr+":"+quote(unquoted))
			continue
		}

		// Numeric key with a value that does not parse stays in the query.
		base = append(base, tok)
	}

	baseQuery := strings.Join(base, " ")
	predicate := strings.Join(clauses, " AND ")
	slog.Debug("filter.Parse: parsed query", "raw", raw, "base", baseQuery, "predicate", predicate)
	return baseQuery, predicate
}

// tokenize splits on whitespace, keeping double-quoted spans intact.
// An unterminated quote is closed at the end of input.
func tokenize(raw string) []string {
	var (
		tokens  []string
		current strings.Builder
		quoted  bool
	)
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	for _, r := range raw {
		switch {
		case r == '"':
			quoted = !quoted
			current.WriteRune(r)
		case !quoted && isSpace(r):
			flush()
		default:
			current.WriteRune(r)
		}
	}
	if quoted {
		current.WriteRune('"')
	}
	flush()
	return tokens
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// splitFilter finds the first unescaped ':' that is not the first rune.
func splitFilter(tok string) (string, string, bool) {
	for i := 0; i < len(tok); i++ {
		switch tok[i] {
		case '\\':
			i++
		case '"':
			// colons inside a quoted span are not separators
			return "", "", false
		case ':':
			if i == 0 {
				return "", "", false
			}
			return tok[:i], tok[i+1:], true
		}
	}
	return "", "", false
}

func quote(v string) string {
	if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
		return v
	}
	return `"` + strings.Trim(v, `"`) + `"`
}

func isNumber(s string) bool {
	return numberPattern.MatchString(s)
}

// Terms splits a base query into lowercase search terms. A quoted span is one
// phrase term without its quotes.
func Terms(base string) []string {
	var out []string
	for _, tok := range tokenize(base) {
		t := strings.ToLower(strings.Trim(tok, `"`))
		if strings.TrimSpace(t) != "" {
			out = append(out, t)
		}
	}
	return out
}
