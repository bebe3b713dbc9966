// Package bot implements Paradiso's chat commands and wires the
// conversational components into the messaging dispatcher.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/BTreeMap/Paradiso/internal/filter"
	"github.com/BTreeMap/Paradiso/internal/flow"
	"github.com/BTreeMap/Paradiso/internal/messaging"
	"github.com/BTreeMap/Paradiso/internal/models"
	"github.com/BTreeMap/Paradiso/internal/selection"
	"github.com/BTreeMap/Paradiso/internal/store"
	"github.com/BTreeMap/Paradiso/internal/util"
)

const (
	// SearchResultLimit caps /search and /related output.
	SearchResultLimit = 10
	// DefaultTopCount is the /top size without an argument.
	DefaultTopCount = 5
	// MaxTopCount is the largest /top size.
	MaxTopCount = 10

	relatedScanHits = 50
)

// HelpText lists the commands.
const HelpText = `*Paradiso* movie night
/add <title> - add a movie step by step
/vote <title> - vote for a movie
/movies - browse every movie
/search <query> - search, e.g. "heist year:>1990 genre:crime"
/top [n] - the n most voted movies (default 5)
/related <title> - movies sharing a genre
/myvotes - movies you voted for
/cancel - stop what you're doing`

// Store is what the commands read from.
type Store interface {
	store.ItemStore
	ListVotes(ctx context.Context, userToken string) ([]models.VoteRecord, error)
}

// Bot routes commands to the conversational components.
type Bot struct {
	sender     messaging.Sender
	store      Store
	voter      selection.Voter
	selections *selection.Controller
	flows      *flow.Orchestrator
}

// New creates a Bot.
func New(sender messaging.Sender, st Store, voter selection.Voter, selections *selection.Controller, flows *flow.Orchestrator) *Bot {
	return &Bot{sender: sender, store: st, voter: voter, selections: selections, flows: flows}
}

// Register installs the hooks in dispatch order: button presses on
// selections, guided-add turns, text replies to selections, then commands.
func (b *Bot) Register(rh *messaging.ResponseHandler) {
	rh.RegisterHook("selection-button", b.selections.Handle)
	rh.RegisterHook("guided-add", b.flows.HandleText)
	rh.RegisterHook("selection-text", b.selections.HandleText)
	rh.RegisterHook("commands", b.HandleCommand)
}

// HandleCommand runs a slash command. A bare "cancel" with nothing to
// cancel is consumed silently.
func (b *Bot) HandleCommand(ctx context.Context, action models.Action) (bool, error) {
	if action.Kind != models.ActionText {
		return false, nil
	}
	text := strings.TrimSpace(action.Text)
	if flow.IsCancel(text) {
		b.cancel(ctx, action)
		return true, nil
	}
	if !strings.HasPrefix(text, "/") {
		return false, nil
	}
	name, args, _ := strings.Cut(text[1:], " ")
	name = strings.ToLower(name)
	args = strings.TrimSpace(args)
	slog.Debug("Bot.HandleCommand: command", "name", name, "from", action.From, "destination", action.Destination)

	var err error
	switch name {
	case "help", "start":
		b.reply(ctx, action.Destination, HelpText)
	case "add":
		err = b.flows.Start(ctx, action, args)
	case "vote":
		err = b.vote(ctx, action, args)
	case "movies", "list":
		err = b.movies(ctx, action)
	case "search":
		err = b.search(ctx, action, args)
	case "top":
		err = b.top(ctx, action, args)
	case "related":
		err = b.related(ctx, action, args)
	case "myvotes":
		err = b.myVotes(ctx, action)
	case "cancel":
		b.cancel(ctx, action)
	default:
		b.reply(ctx, action.Destination, fmt.Sprintf("Unknown command /%s. Send /help to see what I can do.", name))
	}
	return true, b.report(ctx, action.Destination, err)
}

// report sends expected outcomes in place and passes transient and
// unclassified failures up to the dispatcher.
func (b *Bot) report(ctx context.Context, to string, err error) error {
	if err == nil {
		return nil
	}
	switch models.KindOf(err) {
	case models.KindValidation, models.KindNotFound, models.KindDuplicate, models.KindExpired:
		b.reply(ctx, to, models.UserMessage(err))
		return nil
	}
	return err
}

func (b *Bot) reply(ctx context.Context, to, body string) {
	if _, err := b.sender.SendMessage(ctx, to, models.Text(body)); err != nil {
		slog.Error("Bot.reply: send failed", "error", err, "to", to)
	}
}

func (b *Bot) cancel(ctx context.Context, action models.Action) {
	cancelled := b.flows.Cancel(ctx, action.From)
	closed := b.selections.CancelFor(ctx, action.Destination, action.From)
	slog.Debug("Bot.cancel", "user", action.From, "session_cancelled", cancelled, "selections_closed", closed)
}

func (b *Bot) vote(ctx context.Context, action models.Action, title string) error {
	if title == "" {
		return models.NewValidationError("Usage: /vote <title>")
	}
	res, err := b.store.Search(ctx, title, store.SearchOptions{HitsPerPage: selection.MaxCandidates})
	if err != nil {
		return models.NewTransientError("vote search failed", err)
	}
	if len(res.Hits) == 0 {
		return models.NewNotFoundError(fmt.Sprintf("No movie matches %q. Add it with /add %s", title, title))
	}

	candidates := res.Hits
	var exact []models.Item
	for _, hit := range res.Hits {
		if strings.EqualFold(hit.Title, title) {
			exact = append(exact, hit)
		}
	}
	if len(exact) > 0 {
		candidates = exact
	}
	if len(candidates) == 1 {
		return b.castVote(ctx, action, candidates[0])
	}
	_, err = b.selections.OpenVote(ctx, action.Destination, action.From, fmt.Sprintf("Which movie did you mean by %q?", title), candidates)
	return err
}

func (b *Bot) castVote(ctx context.Context, action models.Action, item models.Item) error {
	res, err := b.voter.RegisterVote(ctx, item.ID, action.From)
	if err != nil {
		return err
	}
	if !res.Accepted {
		b.reply(ctx, action.Destination, fmt.Sprintf("You already voted for %s.", res.Item.DisplayTitle()))
		return nil
	}
	b.reply(ctx, action.Destination, selection.VoteAcceptedMessage(res.Item))
	return nil
}

func (b *Bot) allItems(ctx context.Context) ([]models.Item, error) {
	items, err := store.CollectAll(ctx, b.store, store.DefaultBrowsePageSize)
	if err != nil {
		return nil, models.NewTransientError("browse failed", err)
	}
	store.SortByVotes(items)
	return items, nil
}

func (b *Bot) movies(ctx context.Context, action models.Action) error {
	items, err := b.allItems(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		b.reply(ctx, action.Destination, "No movies yet. Add one with /add <title>.")
		return nil
	}
	_, err = b.selections.OpenPagination(ctx, action.Destination, action.From, fmt.Sprintf("All movies (%d)", len(items)), items)
	return err
}

func (b *Bot) search(ctx context.Context, action models.Action, query string) error {
	base, predicate := filter.Parse(query)
	if base == "" && predicate == "" {
		return models.NewValidationError("Usage: /search <query>, e.g. /search heist year:>1990")
	}
	res, err := b.store.Search(ctx, base, store.SearchOptions{Filters: predicate, HitsPerPage: SearchResultLimit})
	if err != nil {
		return models.NewTransientError("search failed", err)
	}
	if len(res.Hits) == 0 {
		b.reply(ctx, action.Destination, "No movies match your search.")
		return nil
	}
	header := fmt.Sprintf("Found %d:", res.TotalCount)
	if res.TotalCount > len(res.Hits) {
		header = fmt.Sprintf("Found %d, showing the first %d:", res.TotalCount, len(res.Hits))
	}
	b.reply(ctx, action.Destination, numbered(header, res.Hits))
	return nil
}

// ParseTopCount reads the /top argument, clamping it to [1, MaxTopCount].
func ParseTopCount(arg string) (int, error) {
	if arg == "" {
		return DefaultTopCount, nil
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		return 0, models.NewValidationError(fmt.Sprintf("Usage: /top [1-%d]", MaxTopCount))
	}
	return min(max(n, 1), MaxTopCount), nil
}

func (b *Bot) top(ctx context.Context, action models.Action, arg string) error {
	n, err := ParseTopCount(arg)
	if err != nil {
		return err
	}
	items, err := b.allItems(ctx)
	if err != nil {
		return err
	}
	var voted []models.Item
	for _, item := range items {
		if item.Votes > 0 {
			voted = append(voted, item)
		}
	}
	if len(voted) == 0 {
		b.reply(ctx, action.Destination, "No votes yet. Be the first with /vote <title>.")
		return nil
	}
	voted = voted[:min(n, len(voted))]
	b.reply(ctx, action.Destination, numbered(fmt.Sprintf("Top %d:", len(voted)), voted))
	return nil
}

func (b *Bot) lookup(ctx context.Context, title string) (models.Item, error) {
	res, err := b.store.Search(ctx, title, store.SearchOptions{HitsPerPage: store.ExistenceCheckHits})
	if err != nil {
		return models.Item{}, models.NewTransientError("lookup failed", err)
	}
	if len(res.Hits) == 0 {
		return models.Item{}, models.NewNotFoundError(fmt.Sprintf("No movie matches %q.", title))
	}
	for _, hit := range res.Hits {
		if strings.EqualFold(hit.Title, title) {
			return hit, nil
		}
	}
	return res.Hits[0], nil
}

func (b *Bot) related(ctx context.Context, action models.Action, title string) error {
	if title == "" {
		return models.NewValidationError("Usage: /related <title>")
	}
	item, err := b.lookup(ctx, title)
	if err != nil {
		return err
	}
	if len(item.Genre) == 0 {
		b.reply(ctx, action.Destination, fmt.Sprintf("%s has no genres to compare.", item.DisplayTitle()))
		return nil
	}

	shared := make(map[string]int)
	byID := make(map[string]models.Item)
	for _, g := range item.Genre {
		res, err := b.store.Search(ctx, "", store.SearchOptions{
			Filters:     fmt.Sprintf("genre:%q", g),
			HitsPerPage: relatedScanHits,
		})
		if err != nil {
			return models.NewTransientError("related search failed", err)
		}
		for _, hit := range res.Hits {
			if hit.ID == item.ID {
				continue
			}
			shared[hit.ID]++
			byID[hit.ID] = hit
		}
	}
	if len(byID) == 0 {
		b.reply(ctx, action.Destination, fmt.Sprintf("Nothing else shares a genre with %s.", item.DisplayTitle()))
		return nil
	}

	related := make([]models.Item, 0, len(byID))
	for _, hit := range byID {
		related = append(related, hit)
	}
	store.SortByVotes(related)
	sort.SliceStable(related, func(i, j int) bool { return shared[related[i].ID] > shared[related[j].ID] })
	related = related[:min(SearchResultLimit, len(related))]
	b.reply(ctx, action.Destination, numbered(fmt.Sprintf("Like %s (%s):", item.DisplayTitle(), strings.Join(item.Genre, ", ")), related))
	return nil
}

func (b *Bot) myVotes(ctx context.Context, action models.Action) error {
	records, err := b.store.ListVotes(ctx, util.UserToken(action.From))
	if err != nil {
		return models.NewTransientError("list votes failed", err)
	}
	var items []models.Item
	for _, rec := range records {
		item, err := b.store.GetItem(ctx, rec.ItemID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return models.NewTransientError("get voted item failed", err)
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		b.reply(ctx, action.Destination, "You haven't voted yet. Try /vote <title>.")
		return nil
	}
	b.reply(ctx, action.Destination, numbered(fmt.Sprintf("%s voted for:", action.Name()), items))
	return nil
}

func numbered(header string, items []models.Item) string {
	var sb strings.Builder
	sb.WriteString(header)
	for i, item := range items {
		fmt.Fprintf(&sb, "\n%d. %s", i+1, item.Summary())
	}
	return sb.String()
}
