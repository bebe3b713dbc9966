// Package flow implements the guided "add a movie" conversation.
//
// One ConversationSession exists per user. It is bound to a single reply
// destination and advances one stage per accepted turn:
//
//	SearchExisting → (AwaitAddNewConfirmation | CollectYear) → CollectDirector →
//	CollectActors → CollectGenre → ConfirmManual → {created, cancelled}
//
// Turns from one user are serialized by a per-user lock. A turn that was
// read against a stage the session has since left is dropped as stale.
package flow

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
	"github.com/BTreeMap/Paradiso/internal/store"
	"github.com/BTreeMap/Paradiso/internal/util"
)

const (
	// DefaultSessionTTL is how long an idle session survives.
	DefaultSessionTTL = 15 * time.Minute
	// ExistingMatchLimit bounds the similar titles shown before adding.
	ExistingMatchLimit = 5
)

// User-facing notices.
const (
	NoticeCancelled    = "Okay, I've stopped adding that movie."
	NoticeSessionEnded = "Your add-a-movie session ended after a period of inactivity. Start again with /add <title>."
	NoticeInProgress   = "You're already adding a movie. Finish it or reply 'cancel' first."
	NoticeNothingAdded = "Okay, nothing was added."
)

// Describer writes a description for a new item.
type Describer interface {
	Describe(ctx context.Context, item models.Item) (string, error)
}

// Opts holds configuration for the Orchestrator.
type Opts struct {
	SessionTTL    time.Duration
	Describer     Describer
	DirectReplies bool
	Now           func() time.Time
}

// Option defines a configuration option for the Orchestrator.
type Option func(*Opts)

// WithSessionTTL sets the idle lifetime of a session.
func WithSessionTTL(d time.Duration) Option {
	return func(o *Opts) { o.SessionTTL = d }
}

// WithDescriber enables generated descriptions for new items.
func WithDescriber(d Describer) Option {
	return func(o *Opts) { o.Describer = d }
}

// WithDirectReplies runs the dialogue in the user's direct chat and echoes
// the final confirmation to the chat where /add was sent.
func WithDirectReplies(enabled bool) Option {
	return func(o *Opts) { o.DirectReplies = enabled }
}

// WithClock overrides the time source for timestamps, ids and year bounds.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Orchestrator drives guided-add sessions.
type Orchestrator struct {
	sender    messaging.Sender
	store     store.ItemStore
	sessions  *session.Registry[string, models.ConversationSession]
	locks     *session.KeyedMutex
	describer Describer
	ttl       time.Duration
	direct    bool
	now       func() time.Time
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(sender messaging.Sender, st store.ItemStore, opts ...Option) *Orchestrator {
	cfg := Opts{SessionTTL: DefaultSessionTTL, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	sessions := session.NewRegistry[string, models.ConversationSession]("guided-add", models.ConversationSession.Clone)
	sessions.SetClock(cfg.Now)
	slog.Debug("flow.NewOrchestrator: created", "session_ttl", cfg.SessionTTL, "describer", cfg.Describer != nil, "direct_replies", cfg.DirectReplies)
	return &Orchestrator{
		sender:    sender,
		store:     st,
		sessions:  sessions,
		locks:     session.NewKeyedMutex(),
		describer: cfg.Describer,
		ttl:       cfg.SessionTTL,
		direct:    cfg.DirectReplies,
		now:       cfg.Now,
	}
}

// Close drops all sessions.
func (o *Orchestrator) Close() {
	o.sessions.Close()
}

// Get returns the user's open session.
func (o *Orchestrator) Get(userID string) (models.ConversationSession, bool) {
	return o.sessions.Get(userID)
}

// Sessions lists every open session.
func (o *Orchestrator) Sessions() []models.ConversationSession {
	entries := o.sessions.Snapshot()
	out := make([]models.ConversationSession, len(entries))
	for i, e := range entries {
		out[i] = e.Value
	}
	return out
}

// Start opens a guided-add session for title. A user with an open session
// is told to finish or cancel it first.
func (o *Orchestrator) Start(ctx context.Context, action models.Action, title string) error {
	title, err := ParseTitle(title)
	if err != nil {
		o.reply(ctx, action.Destination, models.UserMessage(err))
		return nil
	}

	unlock, err := o.locks.Lock(ctx, action.From)
	if err != nil {
		return models.NewTransientError("lock wait cancelled", err)
	}
	defer unlock()

	now := o.now()
	sess := models.ConversationSession{
		UserID:      action.From,
		DisplayName: action.DisplayName,
		Kind:        models.FlowGuidedAdd,
		Stage:       models.StageSearchExisting,
		Title:       title,
		Destination: action.Destination,
		Origin:      action.Destination,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if o.direct {
		sess.Destination = action.From
	}
	if err := o.sessions.Create(action.From, sess); err != nil {
		if errors.Is(err, session.ErrExists) {
			o.reply(ctx, action.Destination, NoticeInProgress)
			return nil
		}
		return fmt.Errorf("failed to open session: %w", err)
	}
	slog.Info("Orchestrator.Start: session opened", "user", action.From, "title", title, "destination", sess.Destination)

	res, err := o.store.Search(ctx, title, store.SearchOptions{HitsPerPage: ExistingMatchLimit})
	if err != nil {
		o.sessions.Delete(action.From)
		slog.Error("Orchestrator.Start: search failed", "error", err, "title", title)
		return models.NewTransientError("search for existing titles failed", err)
	}
	for _, hit := range res.Hits {
		if strings.EqualFold(hit.Title, title) {
			o.sessions.Delete(action.From)
			o.reply(ctx, sess.Destination, fmt.Sprintf("%s is already on the list. Vote for it with /vote %s", hit.Summary(), hit.Title))
			return nil
		}
	}

	if len(res.Hits) > 0 {
		sess.Stage = models.StageAwaitAddNewConfirmation
		sess.Matches = res.Hits
		if !o.save(sess) {
			return nil
		}
		var b strings.Builder
		b.WriteString("I found similar movies already on the list:\n")
		for i, hit := range res.Hits {
			fmt.Fprintf(&b, "%d. %s\n", i+1, hit.Summary())
		}
		fmt.Fprintf(&b, "\nIs %q a different movie? Reply yes to add it, no to stop, or cancel.", title)
		o.reply(ctx, sess.Destination, b.String())
		return nil
	}

	sess.Stage = models.StageCollectYear
	if !o.save(sess) {
		return nil
	}
	o.reply(ctx, sess.Destination, fmt.Sprintf("Let's add %q. %s", title, prompt(models.StageCollectYear)))
	return nil
}

// HandleText advances the sender's session. Commands, other users' input
// and input from a destination other than the session's are not handled.
func (o *Orchestrator) HandleText(ctx context.Context, action models.Action) (bool, error) {
	if action.Kind != models.ActionText || strings.HasPrefix(strings.TrimSpace(action.Text), "/") {
		return false, nil
	}
	observed, ok := o.sessions.Get(action.From)
	if !ok || observed.Destination != action.Destination {
		return false, nil
	}
	return true, o.advance(ctx, action, observed.Stage)
}

// advance applies one turn that was read while the session was at observed.
func (o *Orchestrator) advance(ctx context.Context, action models.Action, observed models.Stage) error {
	unlock, err := o.locks.Lock(ctx, action.From)
	if err != nil {
		return models.NewTransientError("lock wait cancelled", err)
	}
	defer unlock()

	sess, ok := o.sessions.Get(action.From)
	if !ok {
		return nil
	}
	if sess.Stage != observed || sess.Destination != action.Destination {
		slog.Debug("Orchestrator.advance: dropping stale turn", "user", action.From, "observed", observed, "stage", sess.Stage)
		return nil
	}

	text := action.Text
	if IsCancel(text) {
		o.sessions.Delete(action.From)
		o.reply(ctx, sess.Destination, NoticeCancelled)
		return nil
	}

	slog.Debug("Orchestrator.advance: turn", "user", action.From, "stage", sess.Stage)
	switch sess.Stage {
	case models.StageAwaitAddNewConfirmation:
		yes, ok := ParseConfirmation(text)
		switch {
		case !ok:
			o.reply(ctx, sess.Destination, "Please reply yes or no, or cancel.")
		case !yes:
			o.sessions.Delete(action.From)
			o.reply(ctx, sess.Destination, NoticeNothingAdded)
		default:
			sess.Stage = models.StageCollectYear
			sess.Matches = nil
			o.saveAndPrompt(ctx, sess)
		}

	case models.StageCollectYear:
		year, err := ParseYear(text, o.now().Year())
		if err != nil {
			o.reply(ctx, sess.Destination, models.UserMessage(err))
			return nil
		}
		sess.Year = year
		sess.Stage = models.StageCollectDirector
		o.saveAndPrompt(ctx, sess)

	case models.StageCollectDirector:
		director, err := ParseText(text)
		if err != nil {
			o.reply(ctx, sess.Destination, models.UserMessage(err))
			return nil
		}
		sess.Director = director
		sess.Stage = models.StageCollectActors
		o.saveAndPrompt(ctx, sess)

	case models.StageCollectActors:
		actors, err := ParseList(text)
		if err != nil {
			o.reply(ctx, sess.Destination, models.UserMessage(err))
			return nil
		}
		sess.Actors = actors
		sess.Stage = models.StageCollectGenre
		o.saveAndPrompt(ctx, sess)

	case models.StageCollectGenre:
		genre, err := ParseList(text)
		if err != nil {
			o.reply(ctx, sess.Destination, models.UserMessage(err))
			return nil
		}
		sess.Genre = genre
		sess.Stage = models.StageConfirmManual
		o.saveAndPrompt(ctx, sess)

	case models.StageConfirmManual:
		yes, ok := ParseConfirmation(text)
		switch {
		case !ok:
			o.reply(ctx, sess.Destination, prompt(models.StageConfirmManual))
		case yes:
			return o.finalize(ctx, sess)
		default:
			sess.ClearManualFields()
			sess.Stage = models.StageCollectYear
			if o.save(sess) {
				o.reply(ctx, sess.Destination, "Let's start over from the year. "+prompt(models.StageCollectYear))
			}
		}
	}
	return nil
}

// Cancel ends the user's session. Cancelling nothing is a silent no-op.
func (o *Orchestrator) Cancel(ctx context.Context, userID string) bool {
	unlock, err := o.locks.Lock(ctx, userID)
	if err != nil {
		return false
	}
	defer unlock()
	sess, ok := o.sessions.Take(userID)
	if !ok {
		return false
	}
	o.reply(ctx, sess.Destination, NoticeCancelled)
	return true
}

// ExpireIdle removes sessions idle for longer than the TTL and tells each
// user the session ended. It returns the number removed.
func (o *Orchestrator) ExpireIdle(ctx context.Context) int {
	removed := o.sessions.DeleteIdle(o.now().Add(-o.ttl))
	for _, e := range removed {
		slog.Info("Orchestrator.ExpireIdle: session expired", "user", e.Key, "stage", e.Value.Stage, "idle_since", e.UpdatedAt)
		o.reply(ctx, e.Value.Destination, models.UserMessage(models.NewExpiredError(NoticeSessionEnded)))
	}
	return len(removed)
}

// SubmitForm creates an item from a structured submission using the same
// validation as the dialogue.
func (o *Orchestrator) SubmitForm(ctx context.Context, req models.ItemFormRequest) (models.Item, error) {
	if err := req.Validate(); err != nil {
		return models.Item{}, models.NewValidationError(err.Error())
	}
	sess := models.ConversationSession{
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
		Kind:        models.FlowGuidedAdd,
		Destination: req.Destination,
		Origin:      req.Destination,
	}
	var err error
	if sess.Title, err = ParseTitle(req.Title); err != nil {
		return models.Item{}, err
	}
	if sess.Year, err = ParseYear(req.Year, o.now().Year()); err != nil {
		return models.Item{}, err
	}
	if sess.Director, err = ParseText(req.Director); err != nil {
		return models.Item{}, err
	}
	if sess.Actors, err = ParseList(req.Actors); err != nil {
		return models.Item{}, err
	}
	if sess.Genre, err = ParseList(req.Genre); err != nil {
		return models.Item{}, err
	}

	item, err := o.insert(ctx, sess)
	if err != nil {
		return models.Item{}, err
	}
	if req.Destination != "" {
		o.reply(ctx, req.Destination, fmt.Sprintf("%s added %s.", displayName(sess), item.DisplayTitle()))
	}
	return item, nil
}

// finalize creates the item and always ends the session.
func (o *Orchestrator) finalize(ctx context.Context, sess models.ConversationSession) error {
	item, err := o.insert(ctx, sess)
	o.sessions.Delete(sess.UserID)
	if err != nil {
		if models.IsKind(err, models.KindDuplicate) {
			o.reply(ctx, sess.Destination, models.UserMessage(err))
			return nil
		}
		return err
	}
	o.reply(ctx, sess.Destination, fmt.Sprintf("Added %s! Vote for it with /vote %s", item.DisplayTitle(), item.Title))
	if sess.Origin != "" && sess.Origin != sess.Destination {
		o.reply(ctx, sess.Origin, fmt.Sprintf("%s added %s.", displayName(sess), item.DisplayTitle()))
	}
	return nil
}

// insert runs the existence check and writes a manual item.
func (o *Orchestrator) insert(ctx context.Context, sess models.ConversationSession) (models.Item, error) {
	existing, found, err := store.FindExistingTitle(ctx, o.store, sess.Title)
	if err != nil {
		return models.Item{}, models.NewTransientError("existence check failed", err)
	}
	if found {
		return models.Item{}, models.NewDuplicateError(fmt.Sprintf("%s is already on the list.", existing.DisplayTitle()))
	}

	item := o.buildItem(sess)
	item.Description = o.describe(ctx, item, sess)
	if err := o.store.InsertItem(ctx, item); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return models.Item{}, models.NewDuplicateError(fmt.Sprintf("%s is already on the list.", item.DisplayTitle()))
		}
		return models.Item{}, models.NewTransientError("insert failed", err)
	}
	slog.Info("Orchestrator.insert: item created", "item_id", item.ID, "title", item.Title)
	return item, nil
}

func (o *Orchestrator) buildItem(sess models.ConversationSession) models.Item {
	now := o.now()
	item := models.Item{
		ID:            util.ManualItemID(now),
		Title:         sess.Title,
		OriginalTitle: sess.Title,
		Director:      sess.Director,
		Actors:        append([]string(nil), sess.Actors...),
		Genre:         append([]string(nil), sess.Genre...),
		Votes:         0,
		Source:        models.SourceManual,
		AddedDate:     now,
		AddedBy:       util.UserToken(sess.UserID),
	}
	if sess.Year != nil {
		y := *sess.Year
		item.Year = &y
	}
	return item
}

func (o *Orchestrator) describe(ctx context.Context, item models.Item, sess models.ConversationSession) string {
	fallback := fmt.Sprintf("Added manually by %s.", displayName(sess))
	if o.describer == nil {
		return fallback
	}
	desc, err := o.describer.Describe(ctx, item)
	if err != nil || strings.TrimSpace(desc) == "" {
		slog.Warn("Orchestrator.describe: using fallback description", "title", item.Title, "error", err)
		return fallback
	}
	return desc
}

func displayName(sess models.ConversationSession) string {
	if sess.DisplayName != "" {
		return sess.DisplayName
	}
	return "a group member"
}

// save stores sess if it is still open.
func (o *Orchestrator) save(sess models.ConversationSession) bool {
	sess.UpdatedAt = o.now()
	if _, err := o.sessions.Update(sess.UserID, func(models.ConversationSession) (models.ConversationSession, error) {
		return sess, nil
	}); err != nil {
		slog.Debug("Orchestrator.save: session no longer open", "user", sess.UserID, "error", err)
		return false
	}
	return true
}

func (o *Orchestrator) saveAndPrompt(ctx context.Context, sess models.ConversationSession) {
	if !o.save(sess) {
		return
	}
	msg := prompt(sess.Stage)
	if sess.Stage == models.StageConfirmManual {
		msg = summary(sess) + "\n\n" + msg
	}
	o.reply(ctx, sess.Destination, msg)
}

func (o *Orchestrator) reply(ctx context.Context, to, body string) {
	if to == "" {
		return
	}
	if _, err := o.sender.SendMessage(ctx, to, models.Text(body)); err != nil {
		slog.Error("Orchestrator.reply: send failed", "error", err, "to", to)
	}
}

func prompt(stage models.Stage) string {
	switch stage {
	case models.StageCollectYear:
		return "What year was it released? Reply 'unknown' if you're not sure."
	case models.StageCollectDirector:
		return "Who directed it? Reply 'unknown' to skip."
	case models.StageCollectActors:
		return "Who stars in it? Separate names with commas, or reply 'unknown'."
	case models.StageCollectGenre:
		return "Which genres? Separate them with commas, or reply 'unknown'."
	case models.StageConfirmManual:
		return "Add this movie? Reply yes to save, no to re-enter the details, or cancel."
	}
	return ""
}

func summary(sess models.ConversationSession) string {
	orUnknown := func(s string) string {
		if s == "" {
			return Unknown
		}
		return s
	}
	year := Unknown
	if sess.Year != nil {
		year = fmt.Sprint(*sess.Year)
	}
	return fmt.Sprintf("Title: %s\nYear: %s\nDirector: %s\nActors: %s\nGenre: %s",
		sess.Title, year, orUnknown(sess.Director),
		orUnknown(strings.Join(sess.Actors, ", ")), orUnknown(strings.Join(sess.Genre, ", ")))
}
