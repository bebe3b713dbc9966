package models

import (
	"strconv"
	"strings"
	"time"
)

// SourceManual tags items created through the guided-add dialogue or the form API.
const SourceManual = "manual"

// Item is a votable movie record held by the external item store.
type Item struct {
	ID            string    `json:"objectID"`
	Title         string    `json:"title"`
	OriginalTitle string    `json:"originalTitle,omitempty"`
	Year          *int      `json:"year,omitempty"`
	Director      string    `json:"director,omitempty"`
	Actors        []string  `json:"actors,omitempty"`
	Genre         []string  `json:"genre,omitempty"`
	Description   string    `json:"plot,omitempty"`
	Image         string    `json:"image,omitempty"`
	Rating        *float64  `json:"rating,omitempty"`
	Votes         int       `json:"votes"`
	Source        string    `json:"source,omitempty"`
	AddedDate     time.Time `json:"addedDate"`
	AddedBy       string    `json:"addedBy,omitempty"`
}

// Clone returns a deep copy so callers can mutate the result without
// touching registry-held snapshots.
func (i Item) Clone() Item {
	out := i
	if i.Year != nil {
		y := *i.Year
		out.Year = &y
	}
	if i.Rating != nil {
		r := *i.Rating
		out.Rating = &r
	}
	if i.Actors != nil {
		out.Actors = append([]string(nil), i.Actors...)
	}
	if i.Genre != nil {
		out.Genre = append([]string(nil), i.Genre...)
	}
	return out
}

// DisplayTitle renders "Title (Year)" or just the title when the year is unknown.
func (i Item) DisplayTitle() string {
	if i.Year == nil {
		return i.Title
	}
	return i.Title + " (" + strconv.Itoa(*i.Year) + ")"
}

// Summary is the one-line listing used in selection and search replies.
func (i Item) Summary() string {
	var b strings.Builder
	b.WriteString(i.DisplayTitle())
	if i.Director != "" {
		b.WriteString(", dir. ")
		b.WriteString(i.Director)
	}
	b.WriteString(" · ")
	b.WriteString(strconv.Itoa(i.Votes))
	if i.Votes == 1 {
		b.WriteString(" vote")
	} else {
		b.WriteString(" votes")
	}
	return b.String()
}

// VoteRecord is the append-only proof that a user token voted for an item.
type VoteRecord struct {
	ID        string    `json:"objectID"`
	UserToken string    `json:"userToken"`
	ItemID    string    `json:"movieId"`
	Timestamp time.Time `json:"timestamp"`
}

// CloneItems deep-copies a slice of items.
func CloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}
