package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BTreeMap/Paradiso/internal/filter"
	"github.com/BTreeMap/Paradiso/internal/models"
)

// searchText is the lowercase haystack a query term must appear in.
func searchText(item models.Item) string {
	parts := []string{item.Title, item.OriginalTitle, item.Director}
	parts = append(parts, item.Actors...)
	parts = append(parts, item.Genre...)
	return strings.ToLower(strings.Join(parts, " "))
}

func matchesTerms(item models.Item, terms []string) bool {
	hay := searchText(item)
	for _, t := range terms {
		if !strings.Contains(hay, t) {
			return false
		}
	}
	return true
}

// searchItems applies query terms and the filter predicate to candidates,
// ranks them, and cuts the requested page. Exact title matches rank first,
// then votes descending, then title ascending.
func searchItems(candidates []models.Item, query string, opts SearchOptions) (SearchResult, error) {
	clauses, err := filter.ParsePredicate(opts.Filters)
	if err != nil {
		return SearchResult{}, fmt.Errorf("invalid filters: %w", err)
	}
	terms := filter.Terms(query)
	exact := strings.ToLower(strings.Trim(strings.TrimSpace(query), `"`))

	var hits []models.Item
	for _, item := range candidates {
		if matchesTerms(item, terms) && filter.MatchAll(clauses, item) {
			hits = append(hits, item)
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		ei := exact != "" && strings.ToLower(hits[i].Title) == exact
		ej := exact != "" && strings.ToLower(hits[j].Title) == exact
		if ei != ej {
			return ei
		}
		return lessByVotes(hits[i], hits[j])
	})

	return paginate(hits, opts), nil
}

func paginate(hits []models.Item, opts SearchOptions) SearchResult {
	perPage := opts.HitsPerPage
	if perPage <= 0 {
		perPage = DefaultHitsPerPage
	}
	page := opts.Page
	if page < 0 {
		page = 0
	}
	start := page * perPage
	res := SearchResult{TotalCount: len(hits), Page: page}
	if start >= len(hits) {
		res.Hits = []models.Item{}
		return res
	}
	end := min(start+perPage, len(hits))
	res.Hits = models.CloneItems(hits[start:end])
	return res
}

// lessByVotes orders by votes descending, then title ascending.
func lessByVotes(a, b models.Item) bool {
	if a.Votes != b.Votes {
		return a.Votes > b.Votes
	}
	return strings.ToLower(a.Title) < strings.ToLower(b.Title)
}

// SortByVotes sorts items in place by votes descending, then title.
func SortByVotes(items []models.Item) {
	sort.SliceStable(items, func(i, j int) bool { return lessByVotes(items[i], items[j]) })
}

func validateUpdates(updates map[string]Update) (int, error) {
	if len(updates) != 1 {
		return 0, fmt.Errorf("%w: want exactly one attribute, got %d", ErrUnsupportedUpdate, len(updates))
	}
	u, ok := updates["votes"]
	if !ok || u.Op != OpIncrement {
		return 0, fmt.Errorf("%w: only votes Increment is supported", ErrUnsupportedUpdate)
	}
	return u.Value, nil
}
