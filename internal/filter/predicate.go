package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BTreeMap/Paradiso/internal/models"
)

// Op is a predicate comparison operator.
type Op string

const (
	OpEq    Op = "="
	OpLt    Op = "<"
	OpLte   Op = "<="
	OpGt    Op = ">"
	OpGte   Op = ">="
	OpRange Op = "TO"
)

// Clause is one parsed predicate term.
type Clause struct {
	Attribute string
	Op        Op
	Value     string  // string equality operand, unquoted
	Number    float64 // numeric operand, or range low bound
	High      float64 // range high bound
	Numeric   bool
}

// ParsePredicate parses the predicate string produced by Parse back into
// clauses so backends without a native filter language can evaluate it.
func ParsePredicate(predicate string) ([]Clause, error) {
	predicate = strings.TrimSpace(predicate)
	if predicate == "" {
		return nil, nil
	}
	var clauses []Clause
	for _, part := range splitAnd(predicate) {
		c, err := parseClause(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, c)
	}
	return clauses, nil
}

// splitAnd splits on " AND " outside of quoted spans.
func splitAnd(s string) []string {
	const sep = " AND "
	var (
		parts  []string
		quoted bool
		start  int
	)
	for i := 0; i < len(s); i++ {
		if s[i] == '"' {
			quoted = !quoted
			continue
		}
		if !quoted && strings.HasPrefix(s[i:], sep) {
			parts = append(parts, s[start:i])
			i += len(sep) - 1
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func parseClause(s string) (Clause, error) {
	// attr op N
	if fields := strings.Fields(s); len(fields) == 3 && !strings.Contains(fields[0], ":") {
		op := Op(fields[1])
		switch op {
		case OpEq, OpLt, OpLte, OpGt, OpGte:
		default:
			return Clause{}, fmt.Errorf("filter: unsupported operator %q in %q", fields[1], s)
		}
		n, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return Clause{}, fmt.Errorf("filter: invalid number in %q: %w", s, err)
		}
		return Clause{Attribute: fields[0], Op: op, Number: n, Numeric: true}, nil
	}

	attr, value, ok := strings.Cut(s, ":")
	if !ok || attr == "" {
		return Clause{}, fmt.Errorf("filter: malformed clause %q", s)
	}

	// attr:N TO M
	if fields := strings.Fields(value); len(fields) == 3 && fields[1] == rangeKeyword {
		lo, errLo := strconv.ParseFloat(fields[0], 64)
		hi, errHi := strconv.ParseFloat(fields[2], 64)
		if errLo != nil || errHi != nil {
			return Clause{}, fmt.Errorf("filter: invalid range in %q", s)
		}
		return Clause{Attribute: attr, Op: OpRange, Number: lo, High: hi, Numeric: true}, nil
	}

	value = strings.Trim(value, `"`)
	c := Clause{Attribute: attr, Op: OpEq, Value: value}
	if numericAttributes[attr] {
		n, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return Clause{}, fmt.Errorf("filter: invalid number in %q: %w", s, err)
		}
		c.Number = n
		c.Numeric = true
	}
	return c, nil
}

// Match reports whether item satisfies the clause. Unknown attributes never match.
func (c Clause) Match(item models.Item) bool {
	if c.Numeric {
		v, ok := numericValue(item, c.Attribute)
		if !ok {
			return false
		}
		switch c.Op {
		case OpEq:
			return v == c.Number
		case OpLt:
			return v < c.Number
		case OpLte:
			return v <= c.Number
		case OpGt:
			return v > c.Number
		case OpGte:
			return v >= c.Number
		case OpRange:
			return v >= c.Number && v <= c.High
		}
		return false
	}

	switch c.Attribute {
	case "actors":
		return containsFold(item.Actors, c.Value)
	case "genre":
		return containsFold(item.Genre, c.Value)
	case "director":
		return strings.EqualFold(item.Director, c.Value)
	case "title":
		return strings.EqualFold(item.Title, c.Value)
	case "source":
		return strings.EqualFold(item.Source, c.Value)
	}
	return false
}

// MatchAll reports whether item satisfies every clause.
func MatchAll(clauses []Clause, item models.Item) bool {
	for _, c := range clauses {
		if !c.Match(item) {
			return false
		}
	}
	return true
}

func numericValue(item models.Item, attr string) (float64, bool) {
	switch attr {
	case "year":
		if item.Year == nil {
			return 0, false
		}
		return float64(*item.Year), true
	case "votes":
		return float64(item.Votes), true
	case "rating":
		if item.Rating == nil {
			return 0, false
		}
		return *item.Rating, true
	}
	return 0, false
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(strings.TrimSpace(s), v) {
			return true
		}
	}
	return false
}
