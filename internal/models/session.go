package models

import "time"

// FlowKind identifies the kind of multi-turn conversation a session drives.
type FlowKind string

const (
	// FlowGuidedAdd is the step-by-step "add a new movie" dialogue.
	FlowGuidedAdd FlowKind = "guided_add"
)

// Stage is an ordered position inside the guided-add dialogue.
type Stage int

const (
	StageSearchExisting Stage = iota
	StageAwaitAddNewConfirmation
	StageCollectYear
	StageCollectDirector
	StageCollectActors
	StageCollectGenre
	StageConfirmManual
)

var stageNames = map[Stage]string{
	StageSearchExisting:          "search_existing",
	StageAwaitAddNewConfirmation: "await_add_new_confirmation",
	StageCollectYear:             "collect_year",
	StageCollectDirector:         "collect_director",
	StageCollectActors:           "collect_actors",
	StageCollectGenre:            "collect_genre",
	StageConfirmManual:           "confirm_manual",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "unknown"
}

// ConversationSession is the per-user state of a guided-add dialogue.
type ConversationSession struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Kind        FlowKind  `json:"kind"`
	Stage       Stage     `json:"stage"`
	Title       string    `json:"title"`
	Year        *int      `json:"year,omitempty"`
	Director    string    `json:"director,omitempty"`
	Actors      []string  `json:"actors,omitempty"`
	Genre       []string  `json:"genre,omitempty"`
	Matches     []Item    `json:"matches,omitempty"`
	Destination string    `json:"destination"`
	Origin      string    `json:"origin,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone deep-copies the session.
func (s ConversationSession) Clone() ConversationSession {
	out := s
	if s.Year != nil {
		y := *s.Year
		out.Year = &y
	}
	if s.Actors != nil {
		out.Actors = append([]string(nil), s.Actors...)
	}
	if s.Genre != nil {
		out.Genre = append([]string(nil), s.Genre...)
	}
	out.Matches = CloneItems(s.Matches)
	return out
}

// ClearManualFields resets everything collected after the title.
func (s *ConversationSession) ClearManualFields() {
	s.Year = nil
	s.Director = ""
	s.Actors = nil
	s.Genre = nil
}

// SelectionKind identifies the transition table a SelectionState uses.
type SelectionKind string

const (
	// SelectionVote is a numbered vote disambiguation.
	SelectionVote SelectionKind = "vote"
	// SelectionPagination is a browse-only paged listing.
	SelectionPagination SelectionKind = "pagination"
)

// SelectionState is ephemeral state bound to the message presenting choices.
type SelectionState struct {
	MessageID   string        `json:"message_id"`
	Destination string        `json:"destination"`
	OwnerID     string        `json:"owner_id"`
	Kind        SelectionKind `json:"kind"`
	Title       string        `json:"title"`
	Candidates  []Item        `json:"candidates,omitempty"`
	Items       []Item        `json:"items,omitempty"`
	PageSize    int           `json:"page_size,omitempty"`
	Page        int           `json:"page"`
	CreatedAt   time.Time     `json:"created_at"`
	TimerID     string        `json:"timer_id,omitempty"`
}

// Clone deep-copies the selection state.
func (s SelectionState) Clone() SelectionState {
	out := s
	out.Candidates = CloneItems(s.Candidates)
	out.Items = CloneItems(s.Items)
	return out
}

// TimerInfo describes a pending timer.
type TimerInfo struct {
	ID          string    `json:"id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Remaining   string    `json:"remaining"`
	Description string    `json:"description"`
}
