package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/Paradiso/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nullableFloat(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func encodeList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(b), nil
}

func decodeList(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanItem scans the columns listed in itemColumns.
func scanItem(row rowScanner) (models.Item, error) {
	var (
		it                                   models.Item
		originalTitle, director, plot, image sql.NullString
		source, addedBy                      sql.NullString
		actors, genre                        string
		year                                 sql.NullInt64
		rating                               sql.NullFloat64
	)
	err := row.Scan(&it.ID, &it.Title, &originalTitle, &year, &director, &actors, &genre,
		&plot, &image, &rating, &it.Votes, &source, &it.AddedDate, &addedBy)
	if err != nil {
		return it, err
	}
	it.OriginalTitle = originalTitle.String
	it.Director = director.String
	it.Description = plot.String
	it.Image = image.String
	it.Source = source.String
	it.AddedBy = addedBy.String
	if year.Valid {
		y := int(year.Int64)
		it.Year = &y
	}
	if rating.Valid {
		r := rating.Float64
		it.Rating = &r
	}
	if it.Actors, err = decodeList(actors); err != nil {
		return it, err
	}
	if it.Genre, err = decodeList(genre); err != nil {
		return it, err
	}
	return it, nil
}
