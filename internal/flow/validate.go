package flow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BTreeMap/Paradiso/internal/models"
)

const (
	// MinYear is the earliest accepted release year.
	MinYear = 1850
	// MaxYearAhead is how far past the current year a release may be.
	MaxYearAhead = 5
	// Unknown is the sentinel reply for a field the user does not know.
	Unknown = "unknown"
)

func isUnknown(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), Unknown)
}

// ParseYear accepts an integer in [MinYear, currentYear+MaxYearAhead] or
// "unknown", which yields nil.
func ParseYear(input string, currentYear int) (*int, error) {
	s := strings.TrimSpace(input)
	if isUnknown(s) {
		return nil, nil
	}
	maxYear := currentYear + MaxYearAhead
	y, err := strconv.Atoi(s)
	if err != nil {
		return nil, models.NewValidationError(fmt.Sprintf("Please reply with a year between %d and %d, or 'unknown'.", MinYear, maxYear))
	}
	if y < MinYear || y > maxYear {
		return nil, models.NewValidationError(fmt.Sprintf("The year must be between %d and %d.", MinYear, maxYear))
	}
	return &y, nil
}

// ParseText trims free text; "unknown" yields "".
func ParseText(input string) (string, error) {
	s := strings.TrimSpace(input)
	if isUnknown(s) {
		return "", nil
	}
	if len(s) > models.MaxFieldLength {
		return "", models.NewValidationError(fmt.Sprintf("That is too long. Please keep it under %d characters.", models.MaxFieldLength))
	}
	return s, nil
}

// ParseList splits on commas, trims, and drops empty segments; "unknown"
// yields nil.
func ParseList(input string) ([]string, error) {
	s, err := ParseText(input)
	if err != nil || s == "" {
		return nil, err
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// ParseTitle validates an item title.
func ParseTitle(input string) (string, error) {
	s := strings.Join(strings.Fields(input), " ")
	switch {
	case s == "":
		return "", models.NewValidationError("Please give the movie a title.")
	case len(s) > models.MaxTitleLength:
		return "", models.NewValidationError(fmt.Sprintf("Titles must be under %d characters.", models.MaxTitleLength))
	}
	return s, nil
}

// ParseConfirmation reads a yes/no reply.
func ParseConfirmation(input string) (yes bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "yes", "y", "yep", "sure", "ok":
		return true, true
	case "no", "n", "nope":
		return false, true
	}
	return false, false
}

// IsCancel reports whether input is the global cancel keyword.
func IsCancel(input string) bool {
	return strings.EqualFold(strings.TrimSpace(input), "cancel")
}
