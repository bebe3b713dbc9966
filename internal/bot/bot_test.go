package bot

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/Paradiso/internal/flow"
	"github.com/BTreeMap/Paradiso/internal/messaging"
	"github.com/BTreeMap/Paradiso/internal/models"
	"github.com/BTreeMap/Paradiso/internal/selection"
	"github.com/BTreeMap/Paradiso/internal/store"
	"github.com/BTreeMap/Paradiso/internal/testutil"
	"github.com/BTreeMap/Paradiso/internal/vote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	alice = "+15550000001"
	bob   = "+15550000002"
	chat  = "group@g.us"
)

type env struct {
	st   *store.InMemoryStore
	svc  *messaging.MockService
	sel  *selection.Controller
	orch *flow.Orchestrator
	rh   *messaging.ResponseHandler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := store.NewInMemoryStore()
	svc := messaging.NewMockService()
	coord := vote.NewCoordinator(st)
	sel := selection.NewController(svc, coord)
	orch := flow.NewOrchestrator(svc, st)
	rh := messaging.NewResponseHandler(svc)
	New(svc, st, coord, sel, orch).Register(rh)
	t.Cleanup(func() {
		sel.Close()
		orch.Close()
		_ = svc.Stop()
		_ = st.Close()
	})
	return &env{st: st, svc: svc, sel: sel, orch: orch, rh: rh}
}

func (e *env) seed(t *testing.T, id, title string, year, votes int, genre ...string) models.Item {
	t.Helper()
	return testutil.SeedItem(t, e.st, id, title, year, votes, genre...)
}

func (e *env) send(t *testing.T, from, text string) string {
	t.Helper()
	err := e.rh.ProcessAction(context.Background(), models.Action{Kind: models.ActionText, From: from, Destination: chat, Text: text})
	require.NoError(t, err)
	msg, ok := e.svc.LastSentTo(chat)
	if !ok {
		return ""
	}
	return msg.Message.Body
}

func TestHookOrder(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, []string{"selection-button", "guided-add", "selection-text", "commands"}, e.rh.HookNames())
}

func TestHelpAndUnknown(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, HelpText, e.send(t, alice, "/help"))
	assert.Contains(t, e.send(t, alice, "/frobnicate"), "Unknown command /frobnicate")

	// Ordinary group chatter draws no reply.
	before := len(e.svc.SentMessages())
	require.NoError(t, e.rh.ProcessAction(context.Background(), models.Action{Kind: models.ActionText, From: bob, Destination: chat, Text: "anyone free on friday?"}))
	assert.Len(t, e.svc.SentMessages(), before)

	require.NoError(t, e.rh.ProcessAction(context.Background(), models.Action{Kind: models.ActionText, From: alice, Destination: alice, Text: "hello bot"}))
	last, ok := e.svc.LastSentTo(alice)
	require.True(t, ok)
	assert.Equal(t, messaging.DefaultHelpHint, last.Message.Body)
}

func TestGuidedAddTurnsKeepArrivalOrder(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	e.rh.Start(ctx)
	defer func() {
		cancel()
		e.rh.Wait()
	}()

	for _, text := range []string{"/add Heat", "1995", "Michael Mann"} {
		e.svc.Emit(models.Action{Kind: models.ActionText, From: alice, Destination: chat, Text: text})
	}

	require.Eventually(t, func() bool {
		sess, ok := e.orch.Get(alice)
		return ok && sess.Stage == models.StageCollectActors
	}, 2*time.Second, 5*time.Millisecond)
	sess, _ := e.orch.Get(alice)
	require.NotNil(t, sess.Year)
	assert.Equal(t, 1995, *sess.Year)
	assert.Equal(t, "Michael Mann", sess.Director)
}

func TestVoteExactMatchVotesImmediately(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "m1", "Heat", 1995, 0)
	e.seed(t, "m2", "Heat Wave", 2020, 0)

	assert.Equal(t, "Vote recorded for Heat (1995). It now has 1 vote.", e.send(t, alice, "/vote heat"))
	assert.Equal(t, "You already voted for Heat (1995).", e.send(t, alice, "/vote Heat"))
	assert.Equal(t, 1, e.st.VoteCount("m1"))
	assert.Equal(t, 0, e.sel.Len())
}

func TestVoteAmbiguousOpensSelection(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "m1", "Alien", 1979, 3)
	e.seed(t, "m2", "Aliens", 1986, 1)

	e.send(t, alice, "/vote alie")
	require.Equal(t, 1, e.sel.Len())
	state, ok := e.sel.ActiveFor(chat, alice, models.SelectionVote)
	require.True(t, ok)
	require.Len(t, state.Candidates, 2)
	assert.Equal(t, "m1", state.Candidates[0].ID, "ranked by votes")

	// Bob's number does not reach Alice's selection.
	e.send(t, bob, "2")
	assert.Equal(t, 1, e.sel.Len())

	e.send(t, alice, "2")
	assert.Equal(t, 0, e.sel.Len())
	got, err := e.st.GetItem(context.Background(), "m2")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Votes)
}

func TestVoteNotFoundAndUsage(t *testing.T) {
	e := newEnv(t)
	assert.Contains(t, e.send(t, alice, "/vote Nope"), `No movie matches "Nope"`)
	assert.Equal(t, "Usage: /vote <title>", e.send(t, alice, "/vote"))
}

func TestSearchWithFilters(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "m1", "Heat", 1995, 2, "Crime")
	e.seed(t, "m2", "Ronin", 1998, 5, "Action", "Crime")
	e.seed(t, "m3", "Up", 2009, 1, "Animation")

	out := e.send(t, alice, "/search genre:crime year:>1996")
	assert.True(t, strings.HasPrefix(out, "Found 1:"), out)
	assert.Contains(t, out, "Ronin (1998)")
	assert.NotContains(t, out, "Heat")

	assert.Equal(t, "No movies match your search.", e.send(t, alice, "/search zzz"))
	assert.Contains(t, e.send(t, alice, "/search"), "Usage: /search")
}

func TestTop(t *testing.T) {
	e := newEnv(t)
	assert.Contains(t, e.send(t, alice, "/top"), "No votes yet")

	e.seed(t, "m1", "Heat", 1995, 2)
	e.seed(t, "m2", "Ronin", 1998, 5)
	e.seed(t, "m3", "Up", 2009, 0)

	out := e.send(t, alice, "/top")
	assert.Equal(t, "Top 2:\n1. Ronin (1998) · 5 votes\n2. Heat (1995) · 2 votes", out)

	out = e.send(t, alice, "/top 0")
	assert.True(t, strings.HasPrefix(out, "Top 1:"), out)
	assert.Contains(t, e.send(t, alice, "/top many"), "Usage: /top")
}

func TestParseTopCount(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 5}, {"3", 3}, {"0", 1}, {"-4", 1}, {"99", 10},
	}
	for _, tt := range tests {
		got, err := ParseTopCount(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	_, err := ParseTopCount("x")
	assert.True(t, models.IsKind(err, models.KindValidation))
}

func TestRelated(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "m1", "Heat", 1995, 2, "Crime", "Thriller")
	e.seed(t, "m2", "Ronin", 1998, 5, "Action", "Thriller")
	e.seed(t, "m3", "The Departed", 2006, 1, "Crime", "Thriller")
	e.seed(t, "m4", "Up", 2009, 9, "Animation")

	out := e.send(t, alice, "/related heat")
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 3, out)
	assert.Contains(t, lines[0], "Like Heat (1995)")
	assert.Contains(t, lines[1], "The Departed", "two shared genres rank first")
	assert.Contains(t, lines[2], "Ronin")

	assert.Contains(t, e.send(t, alice, "/related up"), "Nothing else shares a genre")
	assert.Contains(t, e.send(t, alice, "/related zzz"), "No movie matches")
}

func TestMyVotes(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "m1", "Heat", 1995, 0)
	e.seed(t, "m2", "Ronin", 1998, 0)
	assert.Contains(t, e.send(t, alice, "/myvotes"), "You haven't voted yet")

	e.send(t, alice, "/vote Heat")
	e.send(t, alice, "/vote Ronin")
	out := e.send(t, alice, "/myvotes")
	assert.True(t, strings.HasPrefix(out, "+15550000001 voted for:"), out)
	assert.Contains(t, out, "Heat (1995)")
	assert.Contains(t, out, "Ronin (1998)")
	assert.Contains(t, e.send(t, bob, "/myvotes"), "You haven't voted yet")
}

func TestMoviesPaginates(t *testing.T) {
	e := newEnv(t)
	for i := 1; i <= 23; i++ {
		e.seed(t, fmt.Sprintf("m%02d", i), fmt.Sprintf("Movie %02d", i), 2000, i%4)
	}
	e.send(t, alice, "/movies")
	require.Equal(t, 1, e.sel.Len())
	state, ok := e.sel.ActiveFor(chat, alice, models.SelectionPagination)
	require.True(t, ok)
	assert.Len(t, state.Items, 23)
	assert.Equal(t, 3, state.Items[0].Votes, "sorted by votes")

	e.send(t, alice, "next")
	got, _ := e.sel.Get(state.MessageID)
	assert.Equal(t, 1, got.Page)
}

func TestMoviesEmpty(t *testing.T) {
	e := newEnv(t)
	assert.Contains(t, e.send(t, alice, "/movies"), "No movies yet")
}

func TestGuidedAddThroughDispatcher(t *testing.T) {
	e := newEnv(t)
	assert.Contains(t, e.send(t, alice, "/add Primer"), "What year")
	assert.Contains(t, e.send(t, alice, "2004"), "Who directed")
	e.send(t, alice, "Shane Carruth")
	e.send(t, alice, "unknown")
	assert.Contains(t, e.send(t, alice, "Sci-Fi, Drama"), "Add this movie?")

	// Commands still work mid-dialogue.
	assert.Equal(t, HelpText, e.send(t, alice, "/help"))

	assert.Contains(t, e.send(t, alice, "yes"), "Added Primer (2004)!")
	_, found, err := store.FindExistingTitle(context.Background(), e.st, "Primer")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestCancelWithNothingOpenIsSilent(t *testing.T) {
	e := newEnv(t)
	err := e.rh.ProcessAction(context.Background(), models.Action{Kind: models.ActionText, From: alice, Destination: chat, Text: "cancel"})
	require.NoError(t, err)
	assert.Empty(t, e.svc.SentMessages())

	e.send(t, alice, "/cancel")
	assert.Empty(t, e.svc.SentMessages())
}

func TestCancelCommandEndsSessionAndSelections(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "m1", "Alien", 1979, 0)
	e.seed(t, "m2", "Aliens", 1986, 0)

	e.send(t, alice, "/vote alie")
	require.Equal(t, 1, e.sel.Len())
	e.send(t, alice, "/cancel")
	assert.Equal(t, 0, e.sel.Len())
}
