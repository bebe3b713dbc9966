package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/Paradiso/internal/messaging"
	"github.com/BTreeMap/Paradiso/internal/models"
	"github.com/BTreeMap/Paradiso/internal/store"
	"github.com/BTreeMap/Paradiso/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	user  = "+15550000001"
	group = "group@g.us"
)

var fixedNow = time.Date(2026, 10, 16, 20, 0, 0, 0, time.UTC)

// faultyStore wraps the in-memory store with injectable failures.
type faultyStore struct {
	*store.InMemoryStore
	searchErr error
	insertErr error
}

func (f *faultyStore) Search(ctx context.Context, query string, opts store.SearchOptions) (store.SearchResult, error) {
	if f.searchErr != nil {
		return store.SearchResult{}, f.searchErr
	}
	return f.InMemoryStore.Search(ctx, query, opts)
}

func (f *faultyStore) InsertItem(ctx context.Context, item models.Item) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	return f.InMemoryStore.InsertItem(ctx, item)
}

type stubDescriber struct {
	desc string
	err  error
}

func (s stubDescriber) Describe(ctx context.Context, item models.Item) (string, error) {
	return s.desc, s.err
}

type harness struct {
	o   *Orchestrator
	svc *messaging.MockService
	st  *faultyStore
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	st := &faultyStore{InMemoryStore: store.NewInMemoryStore()}
	svc := messaging.NewMockService()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	o := NewOrchestrator(svc, st, opts...)
	t.Cleanup(func() {
		o.Close()
		_ = svc.Stop()
		_ = st.Close()
	})
	return &harness{o: o, svc: svc, st: st}
}

func (h *harness) action(dest, text string) models.Action {
	return models.Action{Kind: models.ActionText, From: user, DisplayName: "Neo", Destination: dest, Text: text}
}

func (h *harness) start(t *testing.T, title string) {
	t.Helper()
	require.NoError(t, h.o.Start(context.Background(), h.action(group, "/add "+title), title))
}

func (h *harness) say(t *testing.T, text string) {
	t.Helper()
	handled, err := h.o.HandleText(context.Background(), h.action(group, text))
	require.NoError(t, err)
	require.True(t, handled, "turn %q was not handled", text)
}

func (h *harness) stage(t *testing.T) models.Stage {
	t.Helper()
	sess, ok := h.o.Get(user)
	require.True(t, ok, "expected an open session")
	return sess.Stage
}

func (h *harness) lastReply(t *testing.T, to string) string {
	t.Helper()
	msg, ok := h.svc.LastSentTo(to)
	require.True(t, ok, "no message sent to %s", to)
	return msg.Message.Body
}

func (h *harness) seed(t *testing.T, title string) {
	t.Helper()
	require.NoError(t, h.st.InsertItem(context.Background(), models.Item{ID: "seed-" + title, Title: title, Source: "seed"}))
}

func TestGuidedAddHappyPath(t *testing.T) {
	h := newHarness(t)
	h.start(t, "The Matrix")
	assert.Equal(t, models.StageCollectYear, h.stage(t))
	assert.Contains(t, h.lastReply(t, group), "What year")

	h.say(t, "1999")
	assert.Equal(t, models.StageCollectDirector, h.stage(t))
	h.say(t, "The Wachowskis")
	assert.Equal(t, models.StageCollectActors, h.stage(t))
	h.say(t, "Keanu Reeves, , Carrie-Anne Moss")
	assert.Equal(t, models.StageCollectGenre, h.stage(t))
	h.say(t, "unknown")
	assert.Equal(t, models.StageConfirmManual, h.stage(t))

	confirm := h.lastReply(t, group)
	assert.Contains(t, confirm, "Title: The Matrix\nYear: 1999\nDirector: The Wachowskis\nActors: Keanu Reeves, Carrie-Anne Moss\nGenre: unknown")

	h.say(t, "yes")
	_, open := h.o.Get(user)
	assert.False(t, open, "session should end after creation")
	assert.Contains(t, h.lastReply(t, group), "Added The Matrix (1999)!")

	item, found, err := store.FindExistingTitle(context.Background(), h.st, "the matrix")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, util.ManualItemID(fixedNow), item.ID)
	assert.Equal(t, models.SourceManual, item.Source)
	assert.Equal(t, 0, item.Votes)
	require.NotNil(t, item.Year)
	assert.Equal(t, 1999, *item.Year)
	assert.Equal(t, []string{"Keanu Reeves", "Carrie-Anne Moss"}, item.Actors)
	assert.Empty(t, item.Genre)
	assert.Equal(t, "Added manually by Neo.", item.Description)
	assert.Equal(t, util.UserToken(user), item.AddedBy)
	assert.NotContains(t, item.AddedBy, user)
}

func TestYearOutOfRangeStaysOnStage(t *testing.T) {
	h := newHarness(t)
	h.start(t, "Future Film")

	h.say(t, "2045")
	assert.Equal(t, models.StageCollectYear, h.stage(t))
	assert.Equal(t, "The year must be between 1850 and 2031.", h.lastReply(t, group))

	h.say(t, "unknown")
	assert.Equal(t, models.StageCollectDirector, h.stage(t))
	sess, _ := h.o.Get(user)
	assert.Nil(t, sess.Year)
}

func TestConfirmNoReturnsToYear(t *testing.T) {
	h := newHarness(t)
	h.start(t, "Heat")
	for _, turn := range []string{"1995", "Michael Mann", "Al Pacino", "Crime"} {
		h.say(t, turn)
	}
	require.Equal(t, models.StageConfirmManual, h.stage(t))

	h.say(t, "maybe")
	assert.Equal(t, models.StageConfirmManual, h.stage(t))

	h.say(t, "no")
	sess, ok := h.o.Get(user)
	require.True(t, ok)
	assert.Equal(t, models.StageCollectYear, sess.Stage)
	assert.Equal(t, "Heat", sess.Title)
	assert.Nil(t, sess.Year)
	assert.Empty(t, sess.Director)
	assert.Nil(t, sess.Actors)
	assert.Nil(t, sess.Genre)
}

func TestCancelFromAnyStage(t *testing.T) {
	h := newHarness(t)
	h.start(t, "Heat")
	h.say(t, "1995")
	h.say(t, "Michael Mann")
	require.Equal(t, models.StageCollectActors, h.stage(t))

	h.say(t, "Cancel")
	_, ok := h.o.Get(user)
	assert.False(t, ok)
	assert.Equal(t, NoticeCancelled, h.lastReply(t, group))

	sent := len(h.svc.SentMessages())
	assert.False(t, h.o.Cancel(context.Background(), user), "cancelling nothing is a no-op")
	assert.Len(t, h.svc.SentMessages(), sent)
}

func TestInputFromOtherDestinationIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.start(t, "Heat")

	handled, err := h.o.HandleText(context.Background(), h.action("+15550000001", "1995"))
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Equal(t, models.StageCollectYear, h.stage(t))

	other := models.Action{Kind: models.ActionText, From: "+15550000002", Destination: group, Text: "1995"}
	handled, err = h.o.HandleText(context.Background(), other)
	require.NoError(t, err)
	assert.False(t, handled, "other users have no session")
}

func TestCommandsAreNotTurns(t *testing.T) {
	h := newHarness(t)
	h.start(t, "Heat")
	handled, err := h.o.HandleText(context.Background(), h.action(group, "/help"))
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Equal(t, models.StageCollectYear, h.stage(t))
}

func TestOneSessionPerUser(t *testing.T) {
	h := newHarness(t)
	h.start(t, "Heat")
	h.start(t, "Ronin")

	assert.Equal(t, NoticeInProgress, h.lastReply(t, group))
	sess, _ := h.o.Get(user)
	assert.Equal(t, "Heat", sess.Title)
	assert.Len(t, h.o.Sessions(), 1)
}

func TestStartWithEmptyTitle(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.o.Start(context.Background(), h.action(group, "/add"), "  "))
	_, ok := h.o.Get(user)
	assert.False(t, ok)
	assert.Equal(t, "Please give the movie a title.", h.lastReply(t, group))
}

func TestExistingTitleEndsSession(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Heat")
	h.start(t, "heat")

	_, ok := h.o.Get(user)
	assert.False(t, ok)
	assert.Contains(t, h.lastReply(t, group), "already on the list")
}

func TestSimilarTitlesAskForConfirmation(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Heat Wave")
	h.start(t, "Heat")

	sess, ok := h.o.Get(user)
	require.True(t, ok)
	assert.Equal(t, models.StageAwaitAddNewConfirmation, sess.Stage)
	require.Len(t, sess.Matches, 1)
	assert.Contains(t, h.lastReply(t, group), "1. Heat Wave")

	h.say(t, "perhaps")
	assert.Equal(t, models.StageAwaitAddNewConfirmation, h.stage(t))

	h.say(t, "yes")
	sess, _ = h.o.Get(user)
	assert.Equal(t, models.StageCollectYear, sess.Stage)
	assert.Empty(t, sess.Matches)
}

func TestSimilarTitlesDeclined(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Heat Wave")
	h.start(t, "Heat")
	h.say(t, "no")

	_, ok := h.o.Get(user)
	assert.False(t, ok)
	assert.Equal(t, NoticeNothingAdded, h.lastReply(t, group))
}

func TestDuplicateFoundAtConfirmation(t *testing.T) {
	h := newHarness(t)
	h.start(t, "Ronin")
	for _, turn := range []string{"1998", "unknown", "unknown", "unknown"} {
		h.say(t, turn)
	}
	h.seed(t, "Ronin")

	h.say(t, "yes")
	_, ok := h.o.Get(user)
	assert.False(t, ok)
	assert.Equal(t, "Ronin is already on the list.", h.lastReply(t, group))

	res, err := h.st.Search(context.Background(), "ronin", store.SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalCount)
}

func TestTransientSearchErrorTearsDownSession(t *testing.T) {
	h := newHarness(t)
	h.st.searchErr = errors.New("index offline")

	err := h.o.Start(context.Background(), h.action(group, "/add Heat"), "Heat")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindTransient))
	_, ok := h.o.Get(user)
	assert.False(t, ok)
}

func TestTransientInsertErrorTearsDownSession(t *testing.T) {
	h := newHarness(t)
	h.start(t, "Heat")
	for _, turn := range []string{"1995", "unknown", "unknown", "unknown"} {
		h.say(t, turn)
	}
	h.st.insertErr = errors.New("write timeout")

	handled, err := h.o.HandleText(context.Background(), h.action(group, "yes"))
	assert.True(t, handled)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindTransient))
	assert.Equal(t, models.GenericFailureMessage, models.UserMessage(err))
	_, ok := h.o.Get(user)
	assert.False(t, ok, "no stuck session after an unknown-outcome write")
}

func TestStaleTurnIsDropped(t *testing.T) {
	h := newHarness(t)
	h.start(t, "Heat")
	h.say(t, "1995")
	require.Equal(t, models.StageCollectDirector, h.stage(t))

	// A second "1995" that was read while the session was still collecting the year.
	require.NoError(t, h.o.advance(context.Background(), h.action(group, "1995"), models.StageCollectYear))

	sess, _ := h.o.Get(user)
	assert.Equal(t, models.StageCollectDirector, sess.Stage)
	assert.Empty(t, sess.Director)
}

func TestDescriber(t *testing.T) {
	h := newHarness(t, WithDescriber(stubDescriber{desc: "Cops and robbers in Los Angeles."}))
	item, err := h.o.SubmitForm(context.Background(), models.ItemFormRequest{UserID: user, Title: "Heat", Year: "1995"})
	require.NoError(t, err)
	assert.Equal(t, "Cops and robbers in Los Angeles.", item.Description)

	h2 := newHarness(t, WithDescriber(stubDescriber{err: errors.New("rate limited")}))
	item, err = h2.o.SubmitForm(context.Background(), models.ItemFormRequest{UserID: user, DisplayName: "Trinity", Title: "Ronin", Year: "unknown"})
	require.NoError(t, err)
	assert.Equal(t, "Added manually by Trinity.", item.Description)
	assert.Nil(t, item.Year)
}

func TestSubmitForm(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	item, err := h.o.SubmitForm(ctx, models.ItemFormRequest{
		UserID:      user,
		DisplayName: "Neo",
		Destination: group,
		Title:       "Heat",
		Year:        "1995",
		Director:    "Michael Mann",
		Actors:      "Al Pacino, Robert De Niro",
		Genre:       "Crime, Thriller",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Crime", "Thriller"}, item.Genre)
	assert.Equal(t, "Neo added Heat (1995).", h.lastReply(t, group))

	_, err = h.o.SubmitForm(ctx, models.ItemFormRequest{UserID: user, Title: "HEAT", Year: "1995"})
	assert.True(t, models.IsKind(err, models.KindDuplicate), "got %v", err)

	_, err = h.o.SubmitForm(ctx, models.ItemFormRequest{UserID: user, Title: "Ronin", Year: "2045"})
	assert.True(t, models.IsKind(err, models.KindValidation), "got %v", err)

	_, err = h.o.SubmitForm(ctx, models.ItemFormRequest{Title: "Ronin"})
	assert.True(t, models.IsKind(err, models.KindValidation), "got %v", err)
}

func TestExpireIdle(t *testing.T) {
	now := fixedNow
	h := newHarness(t, WithSessionTTL(time.Minute), WithClock(func() time.Time { return now }))
	h.start(t, "Heat")

	now = now.Add(59 * time.Second)
	assert.Equal(t, 0, h.o.ExpireIdle(context.Background()))
	now = now.Add(2 * time.Second)
	assert.Equal(t, 1, h.o.ExpireIdle(context.Background()))
	_, ok := h.o.Get(user)
	assert.False(t, ok)
	assert.Equal(t, NoticeSessionEnded, h.lastReply(t, group))
}

func TestDirectReplies(t *testing.T) {
	h := newHarness(t, WithDirectReplies(true))
	h.start(t, "Heat")

	sess, ok := h.o.Get(user)
	require.True(t, ok)
	assert.Equal(t, user, sess.Destination)
	assert.Equal(t, group, sess.Origin)
	assert.Contains(t, h.lastReply(t, user), "What year")

	// Turns in the group no longer reach the session.
	handled, err := h.o.HandleText(context.Background(), h.action(group, "1995"))
	require.NoError(t, err)
	assert.False(t, handled)

	for _, turn := range []string{"1995", "unknown", "unknown", "unknown", "yes"} {
		handled, err := h.o.HandleText(context.Background(), h.action(user, turn))
		require.NoError(t, err)
		require.True(t, handled)
	}
	assert.True(t, strings.HasPrefix(h.lastReply(t, user), "Added Heat (1995)!"))
	assert.Equal(t, "Neo added Heat (1995).", h.lastReply(t, group))
}
