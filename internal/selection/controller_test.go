package selection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/Paradiso/internal/messaging"
	"github.com/BTreeMap/Paradiso/internal/models"
	"github.com/BTreeMap/Paradiso/internal/store"
	"github.com/BTreeMap/Paradiso/internal/vote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	owner = "+15550000001"
	other = "+15550000002"
	chat  = "group@g.us"
)

func intPtr(v int) *int { return &v }

func seedStore(t *testing.T, titles ...string) (*store.InMemoryStore, []models.Item) {
	t.Helper()
	st := store.NewInMemoryStore()
	t.Cleanup(func() { _ = st.Close() })
	items := make([]models.Item, len(titles))
	for i, title := range titles {
		items[i] = models.Item{ID: fmt.Sprintf("m%02d", i+1), Title: title, Year: intPtr(1990 + i), Source: "seed"}
		require.NoError(t, st.InsertItem(context.Background(), items[i]))
	}
	return st, items
}

func newController(t *testing.T, voter Voter, opts ...Option) (*Controller, *messaging.MockService) {
	t.Helper()
	svc := messaging.NewMockService()
	c := NewController(svc, voter, opts...)
	t.Cleanup(func() {
		c.Close()
		_ = svc.Stop()
	})
	return c, svc
}

func press(messageID, from, tag string) models.Action {
	return models.Action{Kind: models.ActionButton, From: from, Destination: chat, MessageID: messageID, Tag: tag}
}

func editsFor(svc *messaging.MockService, messageID string) []messaging.EditedMessage {
	var out []messaging.EditedMessage
	for _, e := range svc.EditedMessages() {
		if e.MessageID == messageID {
			out = append(out, e)
		}
	}
	return out
}

func allDisabled(controls []models.Control) bool {
	for _, c := range controls {
		if !c.Disabled {
			return false
		}
	}
	return true
}

type stubVoter struct {
	res   vote.Result
	err   error
	mu    sync.Mutex
	calls int
}

func (s *stubVoter) RegisterVote(ctx context.Context, itemID, userID string) (vote.Result, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.res, s.err
}

func TestOpenVoteAndSelect(t *testing.T) {
	st, items := seedStore(t, "Heat", "Heat", "Heat Wave")
	c, svc := newController(t, vote.NewCoordinator(st))
	ctx := context.Background()

	state, err := c.OpenVote(ctx, chat, owner, `Which "heat"?`, items)
	require.NoError(t, err)
	require.NotEmpty(t, state.MessageID)
	assert.Equal(t, 1, c.Len())

	sent, ok := svc.LastSentTo(chat)
	require.True(t, ok)
	require.Len(t, sent.Message.Controls, 4)
	assert.Equal(t, "select:1", sent.Message.Controls[0].Tag)
	assert.Equal(t, messaging.TagCancel, sent.Message.Controls[3].Tag)

	handled, err := c.Handle(ctx, press(state.MessageID, owner, "select:2"))
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, 0, c.Len())

	got, err := st.GetItem(ctx, items[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Votes)

	edits := editsFor(svc, state.MessageID)
	require.Len(t, edits, 1)
	assert.True(t, allDisabled(edits[0].Message.Controls))
	assert.Equal(t, VoteAcceptedMessage(got), edits[0].Message.Footer)

	// The message is closed; further presses are consumed without effect.
	handled, err = c.Handle(ctx, press(state.MessageID, owner, "select:1"))
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Len(t, editsFor(svc, state.MessageID), 1)
}

func TestOpenVoteLimitsCandidates(t *testing.T) {
	st, items := seedStore(t, "A", "B", "C", "D", "E", "F", "G")
	c, _ := newController(t, vote.NewCoordinator(st))

	state, err := c.OpenVote(context.Background(), chat, owner, "Pick", items)
	require.NoError(t, err)
	assert.Len(t, state.Candidates, MaxCandidates)

	_, err = c.OpenVote(context.Background(), chat, owner, "Pick", nil)
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestNonOwnerIsRejected(t *testing.T) {
	st, items := seedStore(t, "Heat", "Ronin")
	c, svc := newController(t, vote.NewCoordinator(st))
	ctx := context.Background()

	state, err := c.OpenVote(ctx, chat, owner, "Pick", items)
	require.NoError(t, err)
	before, _ := c.Get(state.MessageID)

	handled, err := c.Handle(ctx, press(state.MessageID, other, "select:1"))
	require.NoError(t, err)
	assert.True(t, handled)

	after, ok := c.Get(state.MessageID)
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Empty(t, editsFor(svc, state.MessageID))
	assert.Equal(t, 0, st.VoteCount(items[0].ID))

	notice, ok := svc.LastSentTo(other)
	require.True(t, ok)
	assert.Equal(t, NoticeNotOwner, notice.Message.Body)
}

func TestRepeatVoteIsReportedNotFailed(t *testing.T) {
	st, items := seedStore(t, "Heat", "Ronin")
	coord := vote.NewCoordinator(st)
	c, svc := newController(t, coord)
	ctx := context.Background()

	_, err := coord.RegisterVote(ctx, items[0].ID, owner)
	require.NoError(t, err)

	state, err := c.OpenVote(ctx, chat, owner, "Pick", items)
	require.NoError(t, err)
	_, err = c.Handle(ctx, press(state.MessageID, owner, "select:1"))
	require.NoError(t, err)

	edits := editsFor(svc, state.MessageID)
	require.Len(t, edits, 1)
	assert.Equal(t, "You already voted for Heat (1990).", edits[0].Message.Footer)
	assert.Equal(t, 0, c.Len())
}

func TestVoteErrorStillClearsState(t *testing.T) {
	_, items := seedStore(t, "Heat", "Ronin")
	voter := &stubVoter{err: models.NewTransientError("get failed", errors.New("boom"))}
	c, svc := newController(t, voter)
	ctx := context.Background()

	state, err := c.OpenVote(ctx, chat, owner, "Pick", items)
	require.NoError(t, err)
	handled, err := c.Handle(ctx, press(state.MessageID, owner, "select:1"))
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, 0, c.Len())

	edits := editsFor(svc, state.MessageID)
	require.Len(t, edits, 1)
	assert.Equal(t, models.GenericFailureMessage, edits[0].Message.Footer)
}

func TestOutOfRangeChoiceKeepsState(t *testing.T) {
	_, items := seedStore(t, "Heat", "Ronin")
	voter := &stubVoter{}
	c, svc := newController(t, voter)
	ctx := context.Background()

	state, err := c.OpenVote(ctx, chat, owner, "Pick", items)
	require.NoError(t, err)
	_, err = c.Handle(ctx, press(state.MessageID, owner, "select:9"))
	require.NoError(t, err)

	_, ok := c.Get(state.MessageID)
	assert.True(t, ok)
	assert.Zero(t, voter.calls)
	last, _ := svc.LastSentTo(chat)
	assert.Equal(t, "Please choose a number between 1 and 2.", last.Message.Body)
}

func TestCancelControl(t *testing.T) {
	_, items := seedStore(t, "Heat", "Ronin")
	voter := &stubVoter{}
	c, svc := newController(t, voter)
	ctx := context.Background()

	state, err := c.OpenVote(ctx, chat, owner, "Pick", items)
	require.NoError(t, err)
	_, err = c.Handle(ctx, press(state.MessageID, owner, messaging.TagCancel))
	require.NoError(t, err)

	assert.Equal(t, 0, c.Len())
	assert.Zero(t, voter.calls)
	edits := editsFor(svc, state.MessageID)
	require.Len(t, edits, 1)
	assert.Equal(t, NoticeCancelled, edits[0].Message.Footer)

	// Cancelling again is a silent no-op.
	assert.Equal(t, 0, c.CancelFor(ctx, chat, owner))
}

func TestSelectionExpires(t *testing.T) {
	_, items := seedStore(t, "Heat", "Ronin")
	voter := &stubVoter{}
	c, svc := newController(t, voter, WithVoteTimeout(50*time.Millisecond))
	ctx := context.Background()

	state, err := c.OpenVote(ctx, chat, owner, "Pick", items)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(editsFor(svc, state.MessageID)) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, c.Len())
	edit := editsFor(svc, state.MessageID)[0]
	assert.Equal(t, NoticeExpired, edit.Message.Footer)
	assert.True(t, allDisabled(edit.Message.Controls))

	handled, err := c.Handle(ctx, press(state.MessageID, owner, "select:1"))
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Zero(t, voter.calls)
	assert.Len(t, editsFor(svc, state.MessageID), 1)
}

func TestExpiryAndSelectionResolveOnce(t *testing.T) {
	_, items := seedStore(t, "Heat", "Ronin")
	voter := &stubVoter{res: vote.Result{Accepted: true, Item: items[0]}}
	c, svc := newController(t, voter, WithVoteTimeout(2*time.Millisecond))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 20; i++ {
		state, err := c.OpenVote(ctx, chat, owner, "Pick", items)
		require.NoError(t, err)
		ids = append(ids, state.MessageID)
		_, err = c.Handle(ctx, press(state.MessageID, owner, "select:1"))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return c.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	for _, id := range ids {
		assert.Len(t, editsFor(svc, id), 1, "message %s", id)
	}
}

func TestPagination(t *testing.T) {
	titles := make([]string, 23)
	for i := range titles {
		titles[i] = fmt.Sprintf("Movie %02d", i+1)
	}
	_, items := seedStore(t, titles...)
	c, svc := newController(t, &stubVoter{})
	ctx := context.Background()

	assert.Equal(t, 3, TotalPages(len(items), 10))

	state, err := c.OpenPagination(ctx, chat, owner, "All movies", items)
	require.NoError(t, err)
	sent, _ := svc.LastSentTo(chat)
	assert.Equal(t, "Page 1 of 3", sent.Message.Footer)
	nav := sent.Message.Controls
	assert.True(t, nav[0].Disabled, "first disabled on page 0")
	assert.True(t, nav[1].Disabled, "prev disabled on page 0")
	assert.False(t, nav[2].Disabled)
	assert.False(t, nav[3].Disabled)

	_, err = c.Handle(ctx, press(state.MessageID, owner, messaging.TagNext))
	require.NoError(t, err)
	edits := editsFor(svc, state.MessageID)
	require.Len(t, edits, 1)
	assert.Equal(t, "Page 2 of 3", edits[0].Message.Footer)
	assert.True(t, strings.HasPrefix(edits[0].Message.Body, "11. Movie 11"))

	_, err = c.Handle(ctx, press(state.MessageID, owner, messaging.TagLast))
	require.NoError(t, err)
	edits = editsFor(svc, state.MessageID)
	require.Len(t, edits, 2)
	last := edits[1].Message
	assert.Equal(t, "Page 3 of 3", last.Footer)
	assert.True(t, last.Controls[2].Disabled, "next disabled on last page")
	assert.True(t, last.Controls[3].Disabled, "last disabled on last page")
	assert.Contains(t, last.Body, "23. Movie 23")

	// At the boundary "next" changes nothing.
	_, err = c.Handle(ctx, press(state.MessageID, owner, messaging.TagNext))
	require.NoError(t, err)
	assert.Len(t, editsFor(svc, state.MessageID), 2)

	got, ok := c.Get(state.MessageID)
	require.True(t, ok)
	assert.Equal(t, 2, got.Page)

	// Selecting is not part of browsing.
	_, err = c.Handle(ctx, press(state.MessageID, owner, "select:1"))
	require.NoError(t, err)
	_, ok = c.Get(state.MessageID)
	assert.True(t, ok)
}

func TestPaginationSinglePageKeepsNoState(t *testing.T) {
	_, items := seedStore(t, "Heat", "Ronin")
	c, svc := newController(t, &stubVoter{})

	state, err := c.OpenPagination(context.Background(), chat, owner, "All movies", items)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())
	sent, ok := svc.LastSentTo(chat)
	require.True(t, ok)
	assert.Equal(t, state.MessageID, sent.ID)
	assert.Empty(t, sent.Message.Controls)
}

func TestHandleTextReplies(t *testing.T) {
	st, items := seedStore(t, "Heat", "Ronin")
	c, svc := newController(t, vote.NewCoordinator(st))
	ctx := context.Background()

	text := func(from, body string) models.Action {
		return models.Action{Kind: models.ActionText, From: from, Destination: chat, Text: body}
	}

	handled, err := c.HandleText(ctx, text(owner, "2"))
	require.NoError(t, err)
	assert.False(t, handled, "no open selection")

	state, err := c.OpenVote(ctx, chat, owner, "Pick", items)
	require.NoError(t, err)

	handled, err = c.HandleText(ctx, text(owner, "hello"))
	require.NoError(t, err)
	assert.False(t, handled)

	handled, err = c.HandleText(ctx, text(other, "2"))
	require.NoError(t, err)
	assert.False(t, handled, "other users' replies do not reach this selection")

	handled, err = c.HandleText(ctx, text(owner, "2"))
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, 1, st.VoteCount(items[1].ID))
	assert.Len(t, editsFor(svc, state.MessageID), 1)

	second, err := c.OpenVote(ctx, chat, owner, "Pick", items)
	require.NoError(t, err)
	handled, err = c.HandleText(ctx, text(owner, "cancel"))
	require.NoError(t, err)
	assert.True(t, handled)
	_, ok := c.Get(second.MessageID)
	assert.False(t, ok)

	handled, err = c.HandleText(ctx, text(owner, "cancel"))
	require.NoError(t, err)
	assert.False(t, handled, "nothing left to cancel")
}

func TestActiveForPicksNewest(t *testing.T) {
	_, items := seedStore(t, "Heat", "Ronin")
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	c, _ := newController(t, &stubVoter{}, WithClock(clock))
	ctx := context.Background()

	_, err := c.OpenVote(ctx, chat, owner, "First", items)
	require.NoError(t, err)
	newer, err := c.OpenVote(ctx, chat, owner, "Second", items)
	require.NoError(t, err)

	got, ok := c.ActiveFor(chat, owner, models.SelectionVote)
	require.True(t, ok)
	assert.Equal(t, newer.MessageID, got.MessageID)

	_, ok = c.ActiveFor("elsewhere", owner, models.SelectionVote)
	assert.False(t, ok)
}

func TestUnknownMessageIsNoop(t *testing.T) {
	c, svc := newController(t, &stubVoter{})
	handled, err := c.Handle(context.Background(), press("nope", owner, "select:1"))
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Empty(t, svc.SentMessages())
	assert.Empty(t, svc.EditedMessages())

	handled, err = c.Handle(context.Background(), models.Action{Kind: models.ActionText, Text: "1"})
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestPageBounds(t *testing.T) {
	tests := []struct {
		n, size, page int
		start, end    int
	}{
		{23, 10, 0, 0, 10},
		{23, 10, 1, 10, 20},
		{23, 10, 2, 20, 23},
		{23, 10, 5, 23, 23},
		{0, 10, 0, 0, 0},
	}
	for _, tt := range tests {
		start, end := PageBounds(tt.n, tt.size, tt.page)
		assert.Equal(t, tt.start, start, "n=%d page=%d", tt.n, tt.page)
		assert.Equal(t, tt.end, end, "n=%d page=%d", tt.n, tt.page)
	}
	assert.Equal(t, 1, TotalPages(0, 10))
	assert.Equal(t, 1, TotalPages(10, 10))
	assert.Equal(t, 2, TotalPages(11, 10))
}

func TestHumanDuration(t *testing.T) {
	assert.Equal(t, "5 minutes", humanDuration(5*time.Minute))
	assert.Equal(t, "1 minute", humanDuration(time.Minute))
	assert.Equal(t, "50ms", humanDuration(50*time.Millisecond))
}
