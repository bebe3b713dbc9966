package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/BTreeMap/Paradiso/internal/filter"
	"github.com/BTreeMap/Paradiso/internal/models"
)

const itemColumns = `id, title, original_title, year, director, actors, genre, plot, image, rating, votes, source, added_date, added_by`

// numericColumns whitelists attributes that may be pushed down into SQL.
var numericColumns = map[string]string{
	"year":   "year",
	"votes":  "votes",
	"rating": "rating",
}

// dialect captures the differences between the SQL drivers.
type dialect struct {
	name              string
	positional        bool // $1, $2 placeholders instead of ?
	isUniqueViolation func(error) bool
}

// sqlStore implements Store over database/sql. SQLiteStore and PostgresStore
// embed it with their dialect.
type sqlStore struct {
	db       *sql.DB
	dialect  dialect
	nextTask atomic.Int64
}

// rebind rewrites ? placeholders to $n for positional dialects.
func (s *sqlStore) rebind(query string) string {
	if !s.dialect.positional {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlStore) Search(ctx context.Context, query string, opts SearchOptions) (SearchResult, error) {
	clauses, err := filter.ParsePredicate(opts.Filters)
	if err != nil {
		return SearchResult{}, fmt.Errorf("invalid filters: %w", err)
	}

	var (
		where []string
		args  []any
	)
	for _, term := range filter.Terms(query) {
		where = append(where, `search_text LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(term)+"%")
	}
	for _, c := range clauses {
		col, ok := numericColumns[c.Attribute]
		if !ok || !c.Numeric {
			continue
		}
		if c.Op == filter.OpRange {
			where = append(where, col+" BETWEEN ? AND ?")
			args = append(args, c.Number, c.High)
			continue
		}
		where = append(where, col+" "+string(c.Op)+" ?")
		args = append(args, c.Number)
	}

	q := `SELECT ` + itemColumns + ` FROM items`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		slog.Error("sqlStore.Search: query failed", "driver", s.dialect.name, "error", err)
		return SearchResult{}, fmt.Errorf("failed to search items: %w", err)
	}
	defer rows.Close()

	var candidates []models.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			slog.Error("sqlStore.Search: scan failed", "driver", s.dialect.name, "error", err)
			return SearchResult{}, fmt.Errorf("failed to scan item row: %w", err)
		}
		candidates = append(candidates, it)
	}
	if err := rows.Err(); err != nil {
		return SearchResult{}, fmt.Errorf("failed to iterate item rows: %w", err)
	}
	slog.Debug("sqlStore.Search: candidates fetched", "driver", s.dialect.name, "query", query, "count", len(candidates))
	// List and string clauses are evaluated after the pushdown.
	return searchItems(candidates, query, opts)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *sqlStore) GetItem(ctx context.Context, id string) (models.Item, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+itemColumns+` FROM items WHERE id = ?`), id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Item{}, ErrNotFound
	}
	if err != nil {
		slog.Error("sqlStore.GetItem failed", "driver", s.dialect.name, "item_id", id, "error", err)
		return models.Item{}, fmt.Errorf("failed to get item %s: %w", id, err)
	}
	return it, nil
}

func (s *sqlStore) InsertItem(ctx context.Context, item models.Item) error {
	if item.ID == "" {
		return fmt.Errorf("item id is required")
	}
	actors, err := encodeList(item.Actors)
	if err != nil {
		return err
	}
	genre, err := encodeList(item.Genre)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO items (`+itemColumns+`, search_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		item.ID, item.Title, nilIfEmpty(item.OriginalTitle), nullableInt(item.Year), nilIfEmpty(item.Director),
		actors, genre, nilIfEmpty(item.Description), nilIfEmpty(item.Image), nullableFloat(item.Rating),
		item.Votes, nilIfEmpty(item.Source), item.AddedDate, nilIfEmpty(item.AddedBy), searchText(item))
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return ErrDuplicate
		}
		slog.Error("sqlStore.InsertItem failed", "driver", s.dialect.name, "item_id", item.ID, "error", err)
		return fmt.Errorf("failed to insert item %s: %w", item.ID, err)
	}
	slog.Debug("sqlStore.InsertItem succeeded", "driver", s.dialect.name, "item_id", item.ID)
	return nil
}

// PartialUpdate applies the increment server side. The write is visible on
// return, so the handle is already complete.
func (s *sqlStore) PartialUpdate(ctx context.Context, id string, updates map[string]Update) (TaskHandle, error) {
	delta, err := validateUpdates(updates)
	if err != nil {
		return TaskHandle{}, err
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE items SET votes = votes + ? WHERE id = ?`), delta, id)
	if err != nil {
		slog.Error("sqlStore.PartialUpdate failed", "driver", s.dialect.name, "item_id", id, "error", err)
		return TaskHandle{}, fmt.Errorf("failed to increment votes for %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return TaskHandle{}, ErrNotFound
	}
	return TaskHandle{ID: fmt.Sprintf("%s_%d", s.dialect.name, s.nextTask.Add(1))}, nil
}

func (s *sqlStore) WaitForTask(ctx context.Context, task TaskHandle) error {
	return ctx.Err()
}

// Browse pages through items by primary key.
func (s *sqlStore) Browse(ctx context.Context, pageSize int) iter.Seq2[models.Item, error] {
	if pageSize <= 0 {
		pageSize = DefaultBrowsePageSize
	}
	return func(yield func(models.Item, error) bool) {
		cursor := ""
		for {
			page, err := s.pageAfter(ctx, cursor, pageSize)
			if err != nil {
				yield(models.Item{}, err)
				return
			}
			for _, it := range page {
				if !yield(it, nil) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			cursor = page[len(page)-1].ID
		}
	}
}

func (s *sqlStore) pageAfter(ctx context.Context, cursor string, limit int) ([]models.Item, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+itemColumns+` FROM items WHERE id > ? ORDER BY id LIMIT ?`), cursor, limit)
	if err != nil {
		slog.Error("sqlStore.Browse: page query failed", "driver", s.dialect.name, "cursor", cursor, "error", err)
		return nil, fmt.Errorf("failed to browse items: %w", err)
	}
	defer rows.Close()
	var page []models.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}
		page = append(page, it)
	}
	return page, rows.Err()
}

func (s *sqlStore) HasVote(ctx context.Context, userToken, itemID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM votes WHERE user_token = ? AND item_id = ? LIMIT 1`), userToken, itemID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		slog.Error("sqlStore.HasVote failed", "driver", s.dialect.name, "item_id", itemID, "error", err)
		return false, fmt.Errorf("failed to check vote: %w", err)
	}
	return true, nil
}

// AppendVote inserts an audit record. The (user_token, item_id) unique
// index turns a concurrent duplicate into ErrDuplicate.
func (s *sqlStore) AppendVote(ctx context.Context, rec models.VoteRecord) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO votes (id, user_token, item_id, created_at) VALUES (?, ?, ?, ?)`),
		rec.ID, rec.UserToken, rec.ItemID, rec.Timestamp)
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return ErrDuplicate
		}
		slog.Error("sqlStore.AppendVote failed", "driver", s.dialect.name, "item_id", rec.ItemID, "error", err)
		return fmt.Errorf("failed to append vote: %w", err)
	}
	return nil
}

func (s *sqlStore) ListVotes(ctx context.Context, userToken string) ([]models.VoteRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, user_token, item_id, created_at FROM votes WHERE user_token = ? ORDER BY created_at`), userToken)
	if err != nil {
		slog.Error("sqlStore.ListVotes failed", "driver", s.dialect.name, "error", err)
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	defer rows.Close()
	var out []models.VoteRecord
	for rows.Next() {
		var v models.VoteRecord
		if err := rows.Scan(&v.ID, &v.UserToken, &v.ItemID, &v.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan vote row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ClearAll removes all items, votes and inbound records. Test helper.
func (s *sqlStore) ClearAll() error {
	if _, err := s.db.Exec(`DELETE FROM inbound_dedup`); err != nil {
		return fmt.Errorf("failed to clear inbound records: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM votes`); err != nil {
		return fmt.Errorf("failed to clear votes: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM items`); err != nil {
		return fmt.Errorf("failed to clear items: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	slog.Debug("Closing database connection", "driver", s.dialect.name)
	return s.db.Close()
}
