// Package selection implements message-bound interactive choices: vote
// disambiguation over a few candidates and browse-only pagination.
//
// Each SelectionState is keyed by the id of the message that presents it.
// Actions and expiry on one message are serialized by a per-message lock,
// and removing the state from the registry decides any race between them.
package selection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/Paradiso/internal/messaging"
	"github.com/BTreeMap/Paradiso/internal/models"
	"github.com/BTreeMap/Paradiso/internal/session"
	"github.com/BTreeMap/Paradiso/internal/vote"
)

const (
	// DefaultVoteTimeout is how long a disambiguation stays open.
	DefaultVoteTimeout = 300 * time.Second
	// DefaultPageTimeout is how long a paginated listing stays open.
	DefaultPageTimeout = 600 * time.Second
	// MaxCandidates bounds the choices offered in one disambiguation.
	MaxCandidates = 5
	// DefaultPageSize is the number of items per listing page.
	DefaultPageSize = 10

	expiryEditTimeout = 10 * time.Second
)

// User-facing notices.
const (
	NoticeNotOwner  = "You cannot interact with someone else's selection."
	NoticeExpired   = "This selection has expired."
	NoticeCancelled = "Selection cancelled."
	NoticeClosed    = "Listing closed."
)

// ErrNoCandidates is returned by OpenVote with an empty candidate list.
var ErrNoCandidates = errors.New("selection: no candidates")

// Voter registers votes. *vote.Coordinator satisfies it.
type Voter interface {
	RegisterVote(ctx context.Context, itemID, userID string) (vote.Result, error)
}

// Opts holds configuration for the Controller.
type Opts struct {
	VoteTimeout time.Duration
	PageTimeout time.Duration
	PageSize    int
	Timer       session.Timer
	Now         func() time.Time
}

// Option defines a configuration option for the Controller.
type Option func(*Opts)

// WithVoteTimeout sets the disambiguation lifetime.
func WithVoteTimeout(d time.Duration) Option {
	return func(o *Opts) { o.VoteTimeout = d }
}

// WithPageTimeout sets the listing lifetime.
func WithPageTimeout(d time.Duration) Option {
	return func(o *Opts) { o.PageTimeout = d }
}

// WithPageSize sets the listing page size.
func WithPageSize(n int) Option {
	return func(o *Opts) { o.PageSize = n }
}

// WithTimer injects the timer service used for expiry. The Controller does
// not stop an injected timer.
func WithTimer(t session.Timer) Option {
	return func(o *Opts) { o.Timer = t }
}

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Controller owns all open selection states.
type Controller struct {
	sender      messaging.Sender
	voter       Voter
	states      *session.Registry[string, models.SelectionState]
	locks       *session.KeyedMutex
	timer       session.Timer
	ownTimer    bool
	voteTimeout time.Duration
	pageTimeout time.Duration
	pageSize    int
	now         func() time.Time
}

// NewController creates a Controller that sends through sender and votes
// through voter.
func NewController(sender messaging.Sender, voter Voter, opts ...Option) *Controller {
	cfg := Opts{
		VoteTimeout: DefaultVoteTimeout,
		PageTimeout: DefaultPageTimeout,
		PageSize:    DefaultPageSize,
		Now:         time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	c := &Controller{
		sender:      sender,
		voter:       voter,
		states:      session.NewRegistry[string, models.SelectionState]("selections", models.SelectionState.Clone),
		locks:       session.NewKeyedMutex(),
		timer:       cfg.Timer,
		voteTimeout: cfg.VoteTimeout,
		pageTimeout: cfg.PageTimeout,
		pageSize:    cfg.PageSize,
		now:         cfg.Now,
	}
	if c.timer == nil {
		c.timer = session.NewSimpleTimer()
		c.ownTimer = true
	}
	slog.Debug("selection.NewController: created", "vote_timeout", c.voteTimeout, "page_timeout", c.pageTimeout, "page_size", c.pageSize)
	return c
}

// Close cancels pending expiries and drops all states.
func (c *Controller) Close() {
	for _, e := range c.states.Snapshot() {
		c.timer.Cancel(e.Value.TimerID)
	}
	if c.ownTimer {
		c.timer.Stop()
	}
	c.states.Close()
}

// OpenVote presents up to MaxCandidates items and binds a vote
// disambiguation to the sent message.
func (c *Controller) OpenVote(ctx context.Context, destination, ownerID, title string, candidates []models.Item) (models.SelectionState, error) {
	if len(candidates) == 0 {
		return models.SelectionState{}, ErrNoCandidates
	}
	if len(candidates) > MaxCandidates {
		candidates = candidates[:MaxCandidates]
	}
	state := models.SelectionState{
		Destination: destination,
		OwnerID:     ownerID,
		Kind:        models.SelectionVote,
		Title:       title,
		Candidates:  models.CloneItems(candidates),
		CreatedAt:   c.now(),
	}
	return c.open(ctx, state, c.renderVote(state), c.voteTimeout)
}

// OpenPagination presents items one page at a time. A list that fits on a
// single page is sent without controls and no state is kept.
func (c *Controller) OpenPagination(ctx context.Context, destination, ownerID, title string, items []models.Item) (models.SelectionState, error) {
	state := models.SelectionState{
		Destination: destination,
		OwnerID:     ownerID,
		Kind:        models.SelectionPagination,
		Title:       title,
		Items:       models.CloneItems(items),
		PageSize:    c.pageSize,
		CreatedAt:   c.now(),
	}
	msg := renderPage(state)
	if TotalPages(len(items), c.pageSize) <= 1 {
		msg.Controls = nil
		id, err := c.sender.SendMessage(ctx, destination, msg)
		if err != nil {
			return models.SelectionState{}, fmt.Errorf("failed to send listing: %w", err)
		}
		state.MessageID = id
		return state, nil
	}
	return c.open(ctx, state, msg, c.pageTimeout)
}

func (c *Controller) open(ctx context.Context, state models.SelectionState, msg models.OutboundMessage, timeout time.Duration) (models.SelectionState, error) {
	id, err := c.sender.SendMessage(ctx, state.Destination, msg)
	if err != nil {
		return models.SelectionState{}, fmt.Errorf("failed to send selection: %w", err)
	}
	state.MessageID = id
	if err := c.states.Create(id, state); err != nil {
		return models.SelectionState{}, fmt.Errorf("failed to register selection %s: %w", id, err)
	}
	timerID := c.timer.ScheduleAfter(timeout, "selection expiry "+id, func() {
		c.expire(id)
	})
	if _, err := c.states.Update(id, func(s models.SelectionState) (models.SelectionState, error) {
		s.TimerID = timerID
		return s, nil
	}); err != nil {
		// Already resolved by a fast reply.
		c.timer.Cancel(timerID)
		return state, nil
	}
	state.TimerID = timerID
	slog.Info("Controller.open: selection opened", "message_id", id, "kind", state.Kind, "owner", state.OwnerID, "timeout", timeout)
	return state, nil
}

// Get returns the state bound to a message.
func (c *Controller) Get(messageID string) (models.SelectionState, bool) {
	return c.states.Get(messageID)
}

// Len reports the number of open selections.
func (c *Controller) Len() int {
	return c.states.Len()
}

// List returns every open selection.
func (c *Controller) List() []models.SelectionState {
	entries := c.states.Snapshot()
	out := make([]models.SelectionState, len(entries))
	for i, e := range entries {
		out[i] = e.Value
	}
	return out
}

// ActiveFor returns the newest open selection of kind owned by user in
// destination.
func (c *Controller) ActiveFor(destination, user string, kind models.SelectionKind) (models.SelectionState, bool) {
	var (
		best  models.SelectionState
		found bool
	)
	for _, e := range c.states.Snapshot() {
		s := e.Value
		if s.Destination != destination || s.OwnerID != user || s.Kind != kind {
			continue
		}
		if !found || s.CreatedAt.After(best.CreatedAt) {
			best, found = s, true
		}
	}
	return best, found
}

// Handle processes a button press. Presses on unknown or already closed
// messages are consumed without effect.
func (c *Controller) Handle(ctx context.Context, action models.Action) (bool, error) {
	if action.Kind != models.ActionButton || action.MessageID == "" {
		return false, nil
	}
	state, ok := c.states.Get(action.MessageID)
	if !ok {
		slog.Debug("Controller.Handle: no active selection", "message_id", action.MessageID, "tag", action.Tag)
		return true, nil
	}
	if action.From != state.OwnerID {
		slog.Info("Controller.Handle: rejected non-owner action", "message_id", action.MessageID, "from", action.From, "owner", state.OwnerID)
		if _, err := c.sender.SendMessage(ctx, action.From, models.Text(NoticeNotOwner)); err != nil {
			slog.Error("Controller.Handle: failed to send ownership notice", "error", err, "to", action.From)
		}
		return true, nil
	}

	unlock, err := c.locks.Lock(ctx, action.MessageID)
	if err != nil {
		return true, err
	}
	defer unlock()

	switch state.Kind {
	case models.SelectionVote:
		c.resolveVote(ctx, action)
	case models.SelectionPagination:
		c.turnPage(ctx, action)
	}
	return true, nil
}

// HandleText treats a plain reply such as "2", "next" or "cancel" as a press
// on the sender's newest matching selection in the same destination.
func (c *Controller) HandleText(ctx context.Context, action models.Action) (bool, error) {
	if action.Kind != models.ActionText {
		return false, nil
	}
	tag, ok := messaging.ParseReplyTag(action.Text)
	if !ok {
		return false, nil
	}
	if tag == messaging.TagCancel {
		return c.CancelFor(ctx, action.Destination, action.From) > 0, nil
	}

	kind := models.SelectionPagination
	if _, isSelect := messaging.ParseSelectTag(tag); isSelect {
		kind = models.SelectionVote
	}
	state, ok := c.ActiveFor(action.Destination, action.From, kind)
	if !ok {
		return false, nil
	}
	press := action
	press.Kind = models.ActionButton
	press.MessageID = state.MessageID
	press.Tag = tag
	return c.Handle(ctx, press)
}

// CancelFor closes every selection user owns in destination and returns how
// many were closed. Closing nothing is not an error.
func (c *Controller) CancelFor(ctx context.Context, destination, user string) int {
	closed := 0
	for _, e := range c.states.Snapshot() {
		s := e.Value
		if s.Destination != destination || s.OwnerID != user {
			continue
		}
		if c.closeWith(ctx, s.MessageID, cancelNotice(s.Kind)) {
			closed++
		}
	}
	return closed
}

func cancelNotice(kind models.SelectionKind) string {
	if kind == models.SelectionPagination {
		return NoticeClosed
	}
	return NoticeCancelled
}

// closeWith removes a state under its lock and edits its message to show
// notice with every control disabled.
func (c *Controller) closeWith(ctx context.Context, messageID, notice string) bool {
	unlock, err := c.locks.Lock(ctx, messageID)
	if err != nil {
		slog.Warn("Controller.closeWith: lock wait cancelled", "message_id", messageID, "error", err)
		return false
	}
	defer unlock()
	state, ok := c.states.Take(messageID)
	if !ok {
		return false
	}
	c.timer.Cancel(state.TimerID)
	c.finish(ctx, state, c.render(state).DisableAll(), notice)
	return true
}

func (c *Controller) resolveVote(ctx context.Context, action models.Action) {
	if action.Tag == messaging.TagCancel {
		state, ok := c.states.Take(action.MessageID)
		if !ok {
			return
		}
		c.timer.Cancel(state.TimerID)
		c.finish(ctx, state, c.renderVote(state).DisableAll(), NoticeCancelled)
		return
	}

	n, ok := messaging.ParseSelectTag(action.Tag)
	if !ok {
		slog.Debug("Controller.resolveVote: ignoring tag", "tag", action.Tag, "message_id", action.MessageID)
		return
	}
	current, ok := c.states.Get(action.MessageID)
	if !ok {
		return
	}
	if n < 1 || n > len(current.Candidates) {
		msg := fmt.Sprintf("Please choose a number between 1 and %d.", len(current.Candidates))
		if _, err := c.sender.SendMessage(ctx, current.Destination, models.Text(msg)); err != nil {
			slog.Error("Controller.resolveVote: failed to send range notice", "error", err)
		}
		return
	}

	// Removing the state first means a concurrent expiry finds nothing.
	state, ok := c.states.Take(action.MessageID)
	if !ok {
		return
	}
	c.timer.Cancel(state.TimerID)

	item := state.Candidates[n-1]
	res, err := c.voter.RegisterVote(ctx, item.ID, state.OwnerID)
	var outcome string
	switch {
	case err != nil:
		slog.Error("Controller.resolveVote: vote failed", "error", err, "item_id", item.ID, "owner", state.OwnerID)
		outcome = models.UserMessage(err)
	case !res.Accepted:
		outcome = fmt.Sprintf("You already voted for %s.", res.Item.DisplayTitle())
	default:
		outcome = VoteAcceptedMessage(res.Item)
	}
	c.finish(ctx, state, c.renderVote(state).DisableAll(), outcome)
}

// VoteAcceptedMessage is the confirmation shown after a counted vote.
func VoteAcceptedMessage(item models.Item) string {
	noun := "votes"
	if item.Votes == 1 {
		noun = "vote"
	}
	return fmt.Sprintf("Vote recorded for %s. It now has %d %s.", item.DisplayTitle(), item.Votes, noun)
}

func (c *Controller) turnPage(ctx context.Context, action models.Action) {
	if action.Tag == messaging.TagCancel {
		state, ok := c.states.Take(action.MessageID)
		if !ok {
			return
		}
		c.timer.Cancel(state.TimerID)
		c.finish(ctx, state, renderPage(state).DisableAll(), NoticeClosed)
		return
	}

	var moved bool
	state, err := c.states.Update(action.MessageID, func(s models.SelectionState) (models.SelectionState, error) {
		last := TotalPages(len(s.Items), s.PageSize) - 1
		page := s.Page
		switch action.Tag {
		case messaging.TagFirst:
			page = 0
		case messaging.TagPrev:
			page = max(0, page-1)
		case messaging.TagNext:
			page = min(last, page+1)
		case messaging.TagLast:
			page = last
		}
		moved = page != s.Page
		s.Page = page
		return s, nil
	})
	if err != nil || !moved {
		return
	}
	if err := c.sender.EditMessage(ctx, state.Destination, state.MessageID, renderPage(state)); err != nil {
		slog.Error("Controller.turnPage: failed to edit listing", "error", err, "message_id", state.MessageID)
	}
}

// expire runs on the timer goroutine.
func (c *Controller) expire(messageID string) {
	ctx, cancel := context.WithTimeout(context.Background(), expiryEditTimeout)
	defer cancel()
	unlock, err := c.locks.Lock(ctx, messageID)
	if err != nil {
		slog.Warn("Controller.expire: lock wait timed out", "message_id", messageID)
		return
	}
	defer unlock()

	state, ok := c.states.Take(messageID)
	if !ok {
		slog.Debug("Controller.expire: selection already closed", "message_id", messageID)
		return
	}
	slog.Info("Controller.expire: selection expired", "message_id", messageID, "kind", state.Kind)
	c.finish(ctx, state, c.render(state).DisableAll(), NoticeExpired)
}

// finish edits the bound message into its final form. When the edit fails
// the outcome is still delivered as a new message.
func (c *Controller) finish(ctx context.Context, state models.SelectionState, msg models.OutboundMessage, outcome string) {
	msg.Footer = outcome
	if err := c.sender.EditMessage(ctx, state.Destination, state.MessageID, msg); err != nil {
		slog.Error("Controller.finish: failed to edit message", "error", err, "message_id", state.MessageID)
		if _, err := c.sender.SendMessage(ctx, state.Destination, models.Text(outcome)); err != nil {
			slog.Error("Controller.finish: failed to send outcome", "error", err, "to", state.Destination)
		}
	}
}

func (c *Controller) render(state models.SelectionState) models.OutboundMessage {
	if state.Kind == models.SelectionPagination {
		return renderPage(state)
	}
	return c.renderVote(state)
}

func (c *Controller) renderVote(state models.SelectionState) models.OutboundMessage {
	var b strings.Builder
	controls := make([]models.Control, 0, len(state.Candidates)+1)
	for i, item := range state.Candidates {
		fmt.Fprintf(&b, "%d. %s\n", i+1, item.Summary())
		controls = append(controls, models.Control{Tag: messaging.SelectTag(i + 1), Label: fmt.Sprint(i + 1)})
	}
	controls = append(controls, models.Control{Tag: messaging.TagCancel, Label: "Cancel"})
	return models.OutboundMessage{
		Title:    state.Title,
		Body:     strings.TrimRight(b.String(), "\n"),
		Footer:   "Expires in " + humanDuration(c.voteTimeout),
		Controls: controls,
	}
}

func renderPage(state models.SelectionState) models.OutboundMessage {
	total := TotalPages(len(state.Items), state.PageSize)
	start, end := PageBounds(len(state.Items), state.PageSize, state.Page)

	var b strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&b, "%d. %s\n", i+1, state.Items[i].Summary())
	}
	body := strings.TrimRight(b.String(), "\n")
	if body == "" {
		body = "Nothing to show yet."
	}
	return models.OutboundMessage{
		Title:    state.Title,
		Body:     body,
		Footer:   fmt.Sprintf("Page %d of %d", state.Page+1, total),
		Controls: NavControls(state.Page, total),
	}
}

// TotalPages returns the page count for n items, at least 1.
func TotalPages(n, pageSize int) int {
	if pageSize <= 0 || n <= 0 {
		return 1
	}
	return (n + pageSize - 1) / pageSize
}

// PageBounds returns the slice [start, end) visible on page.
func PageBounds(n, pageSize, page int) (int, int) {
	start := min(max(page*pageSize, 0), n)
	end := min(start+pageSize, n)
	return start, end
}

// NavControls returns first/previous/next/last controls with boundary
// controls disabled.
func NavControls(page, totalPages int) []models.Control {
	atStart := page <= 0
	atEnd := page >= totalPages-1
	return []models.Control{
		{Tag: messaging.TagFirst, Label: "⏮", Disabled: atStart},
		{Tag: messaging.TagPrev, Label: "◀", Disabled: atStart},
		{Tag: messaging.TagNext, Label: "▶", Disabled: atEnd},
		{Tag: messaging.TagLast, Label: "⏭", Disabled: atEnd},
		{Tag: messaging.TagCancel, Label: "Close"},
	}
}

func humanDuration(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
	return d.String()
}
