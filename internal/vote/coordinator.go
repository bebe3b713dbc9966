// Package vote registers one vote per (user, item) against a search store
// that offers no transactions.
//
// The protocol is check-then-write: look for an audit record for the user
// token and item, append one if absent, issue a server-side increment, wait
// a bounded time for it to become visible, then re-fetch the item. Calls for
// the same (token, item) are serialized in process; separate processes can
// still race, and the SQL and DynamoDB backends close most of that window
// with a unique key on the audit record.
package vote

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/Paradiso/internal/models"
	"github.com/BTreeMap/Paradiso/internal/session"
	"github.com/BTreeMap/Paradiso/internal/store"
	"github.com/BTreeMap/Paradiso/internal/util"
)

// DefaultWaitTimeout bounds the wait for an increment to become visible.
const DefaultWaitTimeout = 5 * time.Second

// ReasonAlreadyVoted is the Result reason for a repeat vote.
const ReasonAlreadyVoted = "already voted"

// Store is the subset of the item and vote stores the coordinator uses.
type Store interface {
	GetItem(ctx context.Context, id string) (models.Item, error)
	PartialUpdate(ctx context.Context, id string, updates map[string]store.Update) (store.TaskHandle, error)
	WaitForTask(ctx context.Context, task store.TaskHandle) error
	HasVote(ctx context.Context, userToken, itemID string) (bool, error)
	AppendVote(ctx context.Context, rec models.VoteRecord) error
}

// Result is the outcome of RegisterVote. A repeat vote is Accepted=false
// with Reason set; it is not an error.
type Result struct {
	Accepted bool        `json:"accepted"`
	Item     models.Item `json:"item"`
	Reason   string      `json:"reason,omitempty"`
	// Fallback marks Item as reconstructed from the pre-vote snapshot plus
	// one. The count is for display only.
	Fallback bool `json:"fallback,omitempty"`
}

// Opts holds configuration for the Coordinator.
type Opts struct {
	WaitTimeout time.Duration
	Now         func() time.Time
}

// Option defines a configuration option for the Coordinator.
type Option func(*Opts)

// WithWaitTimeout sets how long to wait for an increment to become visible.
func WithWaitTimeout(d time.Duration) Option {
	return func(o *Opts) { o.WaitTimeout = d }
}

// WithClock overrides the audit record timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Coordinator implements the vote registration protocol.
type Coordinator struct {
	store       Store
	locks       *session.KeyedMutex
	waitTimeout time.Duration
	now         func() time.Time
}

// NewCoordinator creates a Coordinator over st.
func NewCoordinator(st Store, opts ...Option) *Coordinator {
	cfg := Opts{WaitTimeout: DefaultWaitTimeout, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	slog.Debug("NewCoordinator invoked", "wait_timeout", cfg.WaitTimeout)
	return &Coordinator{
		store:       st,
		locks:       session.NewKeyedMutex(),
		waitTimeout: cfg.WaitTimeout,
		now:         cfg.Now,
	}
}

// RegisterVote records userID's vote for itemID at most once. Store failures
// come back as models.KindTransient errors, a missing item as KindNotFound.
func (c *Coordinator) RegisterVote(ctx context.Context, itemID, userID string) (Result, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" || strings.TrimSpace(userID) == "" {
		return Result{}, models.NewValidationError("A movie and a voter are required.")
	}
	token := util.UserToken(userID)
	log := slog.With("item_id", itemID, "token_prefix", token[:8])

	unlock, err := c.locks.Lock(ctx, token+"|"+itemID)
	if err != nil {
		log.Warn("Coordinator.RegisterVote: gave up waiting for vote lock", "error", err)
		return Result{}, models.NewTransientError("vote lock wait cancelled", err)
	}
	defer unlock()

	snapshot, err := c.store.GetItem(ctx, itemID)
	if errors.Is(err, store.ErrNotFound) {
		log.Debug("Coordinator.RegisterVote: item not found")
		return Result{}, models.NewNotFoundError("That movie could not be found.")
	}
	if err != nil {
		log.Error("Coordinator.RegisterVote: failed to load item", "error", err)
		return Result{}, models.NewTransientError("failed to load item", err)
	}

	voted, err := c.store.HasVote(ctx, token, itemID)
	if err != nil {
		log.Error("Coordinator.RegisterVote: failed to check audit records", "error", err)
		return Result{}, models.NewTransientError("failed to check existing vote", err)
	}
	if voted {
		log.Debug("Coordinator.RegisterVote: repeat vote rejected")
		return Result{Accepted: false, Item: snapshot, Reason: ReasonAlreadyVoted}, nil
	}

	at := c.now()
	rec := models.VoteRecord{
		ID:        util.VoteRecordID(token, itemID, at),
		UserToken: token,
		ItemID:    itemID,
		Timestamp: at,
	}
	if err := c.store.AppendVote(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Another process won the race between check and append.
			log.Info("Coordinator.RegisterVote: audit record already present at append")
			return Result{Accepted: false, Item: snapshot, Reason: ReasonAlreadyVoted}, nil
		}
		log.Error("Coordinator.RegisterVote: failed to append audit record", "error", err)
		return Result{}, models.NewTransientError("failed to record vote", err)
	}

	task, err := c.store.PartialUpdate(ctx, itemID, map[string]store.Update{
		"votes": {Op: store.OpIncrement, Value: 1},
	})
	if err != nil {
		log.Error("Coordinator.RegisterVote: audit record written but increment failed", "record_id", rec.ID, "error", err)
		return Result{}, models.NewTransientError("failed to increment vote count", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.waitTimeout)
	err = c.store.WaitForTask(waitCtx, task)
	cancel()
	if err != nil {
		log.Warn("Coordinator.RegisterVote: increment not confirmed, continuing", "task_id", task.ID, "error", err)
	}

	fresh, err := c.store.GetItem(ctx, itemID)
	if err == nil && fresh.Votes > snapshot.Votes {
		log.Info("Coordinator.RegisterVote: vote registered", "votes", fresh.Votes)
		return Result{Accepted: true, Item: fresh}, nil
	}
	if err != nil {
		log.Warn("Coordinator.RegisterVote: re-fetch failed, using snapshot", "error", err)
	} else {
		log.Warn("Coordinator.RegisterVote: increment not yet visible, using snapshot", "stored_votes", fresh.Votes)
	}
	display := snapshot.Clone()
	display.Votes = snapshot.Votes + 1
	return Result{Accepted: true, Item: display, Fallback: true}, nil
}
