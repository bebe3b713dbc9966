// Package store provides item and vote-audit storage backends for Paradiso.
//
// Every backend exposes the same search-capable, non-transactional contract:
// search, get, insert, partial update with a completion handle, a bounded
// wait on that handle, and a lazy browse over all items. Vote counts change
// only through server-side increments.
package store

import (
	"context"
	"errors"
	"iter"
	"strings"
	"time"

	"github.com/BTreeMap/Paradiso/internal/models"
)

var (
	// ErrNotFound is returned when an item does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when inserting a record whose identity already exists.
	ErrDuplicate = errors.New("store: duplicate record")
	// ErrUnsupportedUpdate is returned for partial updates other than a votes increment.
	ErrUnsupportedUpdate = errors.New("store: unsupported partial update")
)

// Default paging values.
const (
	DefaultHitsPerPage    = 20
	DefaultBrowsePageSize = 100
	// ExistenceCheckHits is how many title hits FindExistingTitle inspects.
	ExistenceCheckHits = 5
)

// UpdateOp is a server-side partial update operation.
type UpdateOp string

// OpIncrement adds Value to a numeric attribute.
const OpIncrement UpdateOp = "Increment"

// Update is one attribute change in PartialUpdate.
type Update struct {
	Op    UpdateOp
	Value int
}

// TaskHandle identifies an accepted write whose visibility can be awaited.
type TaskHandle struct {
	ID string
}

// SearchOptions narrows and pages a search.
type SearchOptions struct {
	Filters     string // predicate produced by filter.Parse
	HitsPerPage int
	Page        int // zero-based
}

// SearchResult is one page of hits plus the total number of matches.
type SearchResult struct {
	Hits       []models.Item `json:"hits"`
	TotalCount int           `json:"total_count"`
	Page       int           `json:"page"`
}

// ItemStore is the item side of the external store.
type ItemStore interface {
	Search(ctx context.Context, query string, opts SearchOptions) (SearchResult, error)
	GetItem(ctx context.Context, id string) (models.Item, error)
	InsertItem(ctx context.Context, item models.Item) error
	PartialUpdate(ctx context.Context, id string, updates map[string]Update) (TaskHandle, error)
	WaitForTask(ctx context.Context, task TaskHandle) error
	// Browse lazily yields every item, fetching pageSize records per round trip.
	// Each call starts a fresh pass.
	Browse(ctx context.Context, pageSize int) iter.Seq2[models.Item, error]
}

// VoteStore is the append-only audit record side of the external store.
type VoteStore interface {
	HasVote(ctx context.Context, userToken, itemID string) (bool, error)
	AppendVote(ctx context.Context, rec models.VoteRecord) error
	ListVotes(ctx context.Context, userToken string) ([]models.VoteRecord, error)
}

// Store combines both sides with an explicit lifetime.
type Store interface {
	ItemStore
	VoteStore
	Close() error
}

// Opts holds configuration for store backends.
type Opts struct {
	DSN        string
	ItemsTable string
	VotesTable string
	ApplyDelay time.Duration
	Dynamo     DynamoAPI
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN sets the Postgres connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithDynamoTables sets the DynamoDB table names for items and votes.
func WithDynamoTables(items, votes string) Option {
	return func(o *Opts) {
		o.ItemsTable = items
		o.VotesTable = votes
	}
}

// WithDynamoAPI injects the DynamoDB client.
func WithDynamoAPI(api DynamoAPI) Option {
	return func(o *Opts) { o.Dynamo = api }
}

// WithApplyDelay makes the in-memory store apply increments asynchronously
// after the given delay, modelling an eventually consistent index.
func WithApplyDelay(d time.Duration) Option {
	return func(o *Opts) { o.ApplyDelay = d }
}

// DetectDSNType returns "postgres" for postgres URLs or key/value DSNs and
// "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(d, "host=") || strings.Contains(d, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// FindExistingTitle returns an item whose title equals title, ignoring case,
// among the top title-search hits.
func FindExistingTitle(ctx context.Context, s ItemStore, title string) (models.Item, bool, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return models.Item{}, false, nil
	}
	res, err := s.Search(ctx, `"`+strings.ReplaceAll(title, `"`, "")+`"`, SearchOptions{HitsPerPage: ExistenceCheckHits})
	if err != nil {
		return models.Item{}, false, err
	}
	for _, hit := range res.Hits {
		if strings.EqualFold(strings.TrimSpace(hit.Title), title) {
			return hit, true, nil
		}
	}
	return models.Item{}, false, nil
}

// CollectAll drains Browse into a slice.
func CollectAll(ctx context.Context, s ItemStore, pageSize int) ([]models.Item, error) {
	var out []models.Item
	for item, err := range s.Browse(ctx, pageSize) {
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}
