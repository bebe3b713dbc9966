package store

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/Paradiso/internal/models"
)

// InMemoryStore keeps items and vote records in process memory. With
// WithApplyDelay it applies increments asynchronously, so WaitForTask is
// meaningful in tests.
type InMemoryStore struct {
	mu         sync.RWMutex
	items      map[string]models.Item
	votes      map[string]models.VoteRecord
	voteIndex  map[string]string
	inbound    map[string]DedupRecord
	tasks      map[string]chan struct{}
	timers     []*time.Timer
	applyDelay time.Duration
	nextTask   int64
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore(opts ...Option) *InMemoryStore {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewInMemoryStore invoked", "apply_delay", cfg.ApplyDelay)
	return &InMemoryStore{
		items:      make(map[string]models.Item),
		votes:      make(map[string]models.VoteRecord),
		voteIndex:  make(map[string]string),
		inbound:    make(map[string]DedupRecord),
		tasks:      make(map[string]chan struct{}),
		applyDelay: cfg.ApplyDelay,
	}
}

func voteKey(token, itemID string) string {
	return token + "|" + itemID
}

func (s *InMemoryStore) Search(ctx context.Context, query string, opts SearchOptions) (SearchResult, error) {
	s.mu.RLock()
	candidates := make([]models.Item, 0, len(s.items))
	for _, it := range s.items {
		candidates = append(candidates, it)
	}
	s.mu.RUnlock()
	return searchItems(candidates, query, opts)
}

func (s *InMemoryStore) GetItem(ctx context.Context, id string) (models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return models.Item{}, ErrNotFound
	}
	return it.Clone(), nil
}

func (s *InMemoryStore) InsertItem(ctx context.Context, item models.Item) error {
	if item.ID == "" {
		return fmt.Errorf("item id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[item.ID]; exists {
		return ErrDuplicate
	}
	s.items[item.ID] = item.Clone()
	slog.Debug("InMemoryStore.InsertItem: stored", "item_id", item.ID)
	return nil
}

func (s *InMemoryStore) PartialUpdate(ctx context.Context, id string, updates map[string]Update) (TaskHandle, error) {
	delta, err := validateUpdates(updates)
	if err != nil {
		return TaskHandle{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return TaskHandle{}, ErrNotFound
	}
	s.nextTask++
	task := TaskHandle{ID: fmt.Sprintf("mem_%d", s.nextTask)}
	if s.applyDelay <= 0 {
		it := s.items[id]
		it.Votes += delta
		s.items[id] = it
		return task, nil
	}

	// Pending tasks are tracked until applied; anything issued and no longer
	// tracked has completed.
	done := make(chan struct{})
	s.tasks[task.ID] = done
	apply := func() {
		s.mu.Lock()
		if it, ok := s.items[id]; ok {
			it.Votes += delta
			s.items[id] = it
		}
		delete(s.tasks, task.ID)
		s.mu.Unlock()
		close(done)
	}
	s.timers = append(s.timers, time.AfterFunc(s.applyDelay, apply))
	return task, nil
}

func (s *InMemoryStore) WaitForTask(ctx context.Context, task TaskHandle) error {
	s.mu.RLock()
	done, pending := s.tasks[task.ID]
	issued := s.nextTask
	s.mu.RUnlock()
	if !pending {
		var n int64
		if _, err := fmt.Sscanf(task.ID, "mem_%d", &n); err != nil || n == 0 || n > issued {
			return fmt.Errorf("unknown task %q: %w", task.ID, ErrNotFound)
		}
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *InMemoryStore) Browse(ctx context.Context, pageSize int) iter.Seq2[models.Item, error] {
	if pageSize <= 0 {
		pageSize = DefaultBrowsePageSize
	}
	return func(yield func(models.Item, error) bool) {
		cursor := ""
		for {
			if err := ctx.Err(); err != nil {
				yield(models.Item{}, err)
				return
			}
			page := s.pageAfter(cursor, pageSize)
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

func (s *InMemoryStore) pageAfter(cursor string, limit int) []models.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		if id > cursor {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	page := make([]models.Item, len(ids))
	for i, id := range ids {
		page[i] = s.items[id].Clone()
	}
	return page
}

func (s *InMemoryStore) HasVote(ctx context.Context, userToken, itemID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.voteIndex[voteKey(userToken, itemID)]
	return ok, nil
}

// AppendVote rejects a second record for the same (token, item) pair, like
// the unique index of the SQL backends.
func (s *InMemoryStore) AppendVote(ctx context.Context, rec models.VoteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := voteKey(rec.UserToken, rec.ItemID)
	if _, ok := s.voteIndex[key]; ok {
		return ErrDuplicate
	}
	if _, ok := s.votes[rec.ID]; ok {
		return ErrDuplicate
	}
	s.votes[rec.ID] = rec
	s.voteIndex[key] = rec.ID
	return nil
}

func (s *InMemoryStore) ListVotes(ctx context.Context, userToken string) ([]models.VoteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.VoteRecord
	for _, v := range s.votes {
		if v.UserToken == userToken {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// VoteCount returns the number of audit records for itemID. Test helper.
func (s *InMemoryStore) VoteCount(itemID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, v := range s.votes {
		if v.ItemID == itemID {
			n++
		}
	}
	return n
}

// Close stops pending asynchronous increments.
func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	return nil
}
