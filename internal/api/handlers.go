package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/Paradiso/internal/filter"
	"github.com/BTreeMap/Paradiso/internal/models"
	"github.com/BTreeMap/Paradiso/internal/selection"
	"github.com/BTreeMap/Paradiso/internal/store"
)

const (
	// MaxSearchHits caps the limit query parameter of GET /search.
	MaxSearchHits = 100

	healthTimeout = 5 * time.Second
)

// healthHandler reports liveness plus a store round trip.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	health := map[string]any{
		"status":            "healthy",
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
		"active_sessions":   len(s.flows.Sessions()),
		"active_selections": s.selections.Len(),
	}
	res, err := s.st.Search(ctx, "", store.SearchOptions{HitsPerPage: 1})
	if err != nil {
		slog.Warn("Server.healthHandler: store check failed", "error", err)
		health["status"] = "degraded"
		health["error"] = "Failed to reach the movie database"
	} else {
		health["items"] = res.TotalCount
	}

	status := http.StatusOK
	if health["status"] == "degraded" {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, health)
}

// itemsHandler lists items (GET) or adds one from a form (POST).
func (s *Server) itemsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listItemsHandler(w, r)
	case http.MethodPost:
		s.addItemHandler(w, r)
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

func (s *Server) listItemsHandler(w http.ResponseWriter, r *http.Request) {
	items, err := store.CollectAll(r.Context(), s.st, store.DefaultBrowsePageSize)
	if err != nil {
		slog.Error("Server.listItemsHandler: browse failed", "error", err)
		writeError(w, models.NewTransientError("browse failed", err))
		return
	}
	store.SortByVotes(items)
	slog.Debug("Server.listItemsHandler: returning items", "count", len(items))
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]any{
		"items": items,
		"count": len(items),
	}))
}

func (s *Server) addItemHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ItemFormRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Destination != "" {
		canonical, err := s.msgService.ValidateAndCanonicalizeRecipient(req.Destination)
		if err != nil {
			slog.Warn("Server.addItemHandler: destination validation failed", "error", err, "destination", req.Destination)
			writeJSONResponse(w, http.StatusBadRequest, models.ErrorResponse(err.Error()))
			return
		}
		req.Destination = canonical
	}

	item, err := s.flows.SubmitForm(r.Context(), req)
	if err != nil {
		slog.Warn("Server.addItemHandler: submission rejected", "error", err, "title", req.Title)
		writeError(w, err)
		return
	}
	slog.Info("Server.addItemHandler: item added", "item_id", item.ID, "title", item.Title)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Added "+item.DisplayTitle(), item))
}

// searchHandler runs a filter query: GET /search?q=heist+year:>1990&limit=10&page=0
func (s *Server) searchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.ErrorResponse(models.ErrEmptySearchArg.Error()))
		return
	}
	limit, err := intParam(r, "limit", store.DefaultHitsPerPage)
	if err != nil || limit < 1 {
		writeJSONResponse(w, http.StatusBadRequest, models.ErrorResponse("limit must be a positive integer"))
		return
	}
	page, err := intParam(r, "page", 0)
	if err != nil || page < 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.ErrorResponse("page must be a non-negative integer"))
		return
	}

	base, predicate := filter.Parse(q)
	res, err := s.st.Search(r.Context(), base, store.SearchOptions{
		Filters:     predicate,
		HitsPerPage: min(limit, MaxSearchHits),
		Page:        page,
	})
	if err != nil {
		slog.Error("Server.searchHandler: search failed", "error", err, "query", q)
		writeError(w, models.NewTransientError("search failed", err))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]any{
		"query":   base,
		"filters": predicate,
		"result":  res,
	}))
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// votesHandler registers a vote: POST /votes {"item_id": "...", "user_id": "..."}
func (s *Server) votesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req models.VoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.ErrorResponse(err.Error()))
		return
	}

	res, err := s.voter.RegisterVote(r.Context(), req.ItemID, req.UserID)
	if err != nil {
		slog.Warn("Server.votesHandler: vote failed", "error", err, "item_id", req.ItemID)
		writeError(w, err)
		return
	}
	if !res.Accepted {
		writeJSONResponse(w, http.StatusOK, models.Duplicate("You already voted for "+res.Item.DisplayTitle()+".", res))
		return
	}
	slog.Info("Server.votesHandler: vote recorded", "item_id", req.ItemID, "votes", res.Item.Votes, "fallback", res.Fallback)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage(selection.VoteAcceptedMessage(res.Item), res))
}

// sessionsHandler lists open dialogues, selections and housekeeping jobs.
func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	body := map[string]any{
		"sessions":   s.flows.Sessions(),
		"selections": s.selections.List(),
	}
	if s.sched != nil {
		body["jobs"] = s.sched.Jobs()
	}
	writeJSONResponse(w, http.StatusOK, models.Success(body))
}
