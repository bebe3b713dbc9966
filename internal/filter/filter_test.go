package filter

import (
	"strings"
	"testing"

	"github.com/BTreeMap/Paradiso/internal/models"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantBase string
		wantPred string
	}{
		{"empty", "", "", ""},
		{"whitespace only", "   \t ", "", ""},
		{"plain query", "the matrix", "the matrix", ""},
		{"year equality", "matrix year:1999", "matrix", `year:"1999"`},
		{"quoted actor", `actor:"Tom Hanks"`, "", `actors:"Tom Hanks"`},
		{"range and comparison", "year:1990 TO 2000 votes:>10", "", `year:1990 TO 2000 AND votes > 10`},
		{"comparison forms", "rating:>=7.5 votes:<3 year:<=2001 votes:=4", "", "rating >= 7.5 AND votes < 3 AND year <= 2001 AND votes = 4"},
		{"genre unquoted", "genre:Drama", "", `genre:"Drama"`},
		{"director case-insensitive key", `Director:"Christopher Nolan" heist`, "heist", `director:"Christopher Nolan"`},
		{"unknown key passes through", "studio:A24 horror", "studio:A24 horror", ""},
		{"bare colon", ":", ":", ""},
		{"leading colon", ":year", ":year", ""},
		{"empty value", "year:", "year:", ""},
		{"non-numeric numeric value", "year:>abc year:soon", "year:>abc year:soon", ""},
		{"escaped colon", `year\:1999`, `year\:1999`, ""},
		{"unterminated quote closed", `actor:"Tom Hanks`, "", `actors:"Tom Hanks"`},
		{"quoted base span kept", `"the matrix" genre:Action`, `"the matrix"`, `genre:"Action"`},
		{"TO without upper bound", "year:1990 TO", "TO", `year:"1990"`},
		{"quoted number", `year:"1999"`, "", `year:"1999"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, pred := Parse(tt.raw)
			if base != tt.wantBase {
				t.Errorf("Parse(%q) base = %q, want %q", tt.raw, base, tt.wantBase)
			}
			if pred != tt.wantPred {
				t.Errorf("Parse(%q) predicate = %q, want %q", tt.raw, pred, tt.wantPred)
			}
		})
	}
}

func TestParseRangeJoinedWithAnd(t *testing.T) {
	base, pred := Parse("year:1990 TO 2000 votes:>10")
	if base != "" {
		t.Errorf("base = %q, want empty", base)
	}
	parts := strings.Split(pred, " AND ")
	if len(parts) != 2 {
		t.Fatalf("want two clauses, got %q", pred)
	}
}

func TestParsePredicateRoundTrip(t *testing.T) {
	_, pred := Parse(`actor:"Tom Hanks" year:1990 TO 2000 votes:>10 genre:"Rock AND Roll"`)
	clauses, err := ParsePredicate(pred)
	if err != nil {
		t.Fatalf("ParsePredicate(%q) error: %v", pred, err)
	}
	if len(clauses) != 4 {
		t.Fatalf("got %d clauses from %q", len(clauses), pred)
	}
	if clauses[0].Attribute != "actors" || clauses[0].Value != "Tom Hanks" || clauses[0].Numeric {
		t.Errorf("clause 0 = %+v", clauses[0])
	}
	if clauses[1].Op != OpRange || clauses[1].Number != 1990 || clauses[1].High != 2000 {
		t.Errorf("clause 1 = %+v", clauses[1])
	}
	if clauses[2].Op != OpGt || clauses[2].Number != 10 {
		t.Errorf("clause 2 = %+v", clauses[2])
	}
	if clauses[3].Value != "Rock AND Roll" {
		t.Errorf("clause 3 = %+v", clauses[3])
	}
}

func TestParsePredicateErrors(t *testing.T) {
	for _, bad := range []string{"year ~ 3", "votes > many", "nocolon", `year:"soon"`} {
		if _, err := ParsePredicate(bad); err == nil {
			t.Errorf("ParsePredicate(%q) should fail", bad)
		}
	}
	if clauses, err := ParsePredicate(""); err != nil || clauses != nil {
		t.Errorf("empty predicate = %v, %v", clauses, err)
	}
}

func TestClauseMatch(t *testing.T) {
	year := 1995
	rating := 8.1
	item := models.Item{
		Title:    "Toy Story",
		Year:     &year,
		Rating:   &rating,
		Director: "John Lasseter",
		Actors:   []string{"Tom Hanks", "Tim Allen"},
		Genre:    []string{"Animation", "Comedy"},
		Votes:    12,
	}
	noYear := models.Item{Title: "Mystery"}

	tests := []struct {
		pred string
		item models.Item
		want bool
	}{
		{`actors:"tom hanks"`, item, true},
		{`actors:"Meg Ryan"`, item, false},
		{`genre:"comedy"`, item, true},
		{`director:"John Lasseter"`, item, true},
		{`year:"1995"`, item, true},
		{`year:1990 TO 2000`, item, true},
		{`year:1996 TO 2000`, item, false},
		{`votes > 10`, item, true},
		{`votes <= 11`, item, false},
		{`rating >= 8`, item, true},
		{`year > 1900`, noYear, false},
		{`actors:"Tom Hanks" AND votes > 20`, item, false},
	}
	for _, tt := range tests {
		clauses, err := ParsePredicate(tt.pred)
		if err != nil {
			t.Fatalf("ParsePredicate(%q): %v", tt.pred, err)
		}
		if got := MatchAll(clauses, tt.item); got != tt.want {
			t.Errorf("MatchAll(%q, %s) = %v, want %v", tt.pred, tt.item.Title, got, tt.want)
		}
	}
}

func TestTerms(t *testing.T) {
	got := Terms(`The "Dark Knight" rises ""`)
	want := []string{"the", "dark knight", "rises"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("Terms() = %q, want %q", got, want)
	}
	if Terms("") != nil {
		t.Error("Terms(\"\") should be nil")
	}
}
