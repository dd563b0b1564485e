package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// StepNotStarted marks a session whose to-do list has not been entered yet.
	StepNotStarted = -1
	// StepReminderPending marks a session waiting for the user to confirm missing trip information.
	StepReminderPending = -2
)

type StepType string

const (
	StepResearchDestination StepType = "RESEARCH_DESTINATION"
	StepResearchAttractions StepType = "RESEARCH_ATTRACTIONS"
	StepPresentIdeas        StepType = "PRESENT_IDEAS"
	StepRefineSuggestions   StepType = "REFINE_SUGGESTIONS"
	StepDraftItinerary      StepType = "DRAFT_ITINERARY"
	StepFinalizeDocument    StepType = "FINALIZE_DOCUMENT"
	StepOther               StepType = "OTHER"
)

// StepCategory groups step types by the work the orchestrator performs when entering them.
type StepCategory string

const (
	CategoryResearch  StepCategory = "research"
	CategoryRecommend StepCategory = "recommend"
	CategoryDraft     StepCategory = "draft"
	CategoryFinalize  StepCategory = "finalize"
)

func (s StepType) Category() StepCategory {
	switch s {
	case StepResearchDestination, StepResearchAttractions:
		return CategoryResearch
	case StepPresentIdeas, StepRefineSuggestions:
		return CategoryRecommend
	case StepDraftItinerary:
		return CategoryDraft
	default:
		return CategoryFinalize
	}
}

// UserFacing reports whether the step produces output the user sees. Research steps run silently.
func (s StepType) UserFacing() bool {
	return s.Category() != CategoryResearch
}

func (s StepType) Valid() bool {
	switch s {
	case StepResearchDestination, StepResearchAttractions, StepPresentIdeas, StepRefineSuggestions,
		StepDraftItinerary, StepFinalizeDocument, StepOther:
		return true
	}
	return false
}

type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	StepStatusActive  StepStatus = "active"
	StepStatusDone    StepStatus = "done"
)

type TodoStep struct {
	Type        StepType   `json:"type"`
	Description string     `json:"description,omitempty"`
	Status      StepStatus `json:"status"`
}

// DefaultTodo is the plan used when the language service cannot produce one.
func DefaultTodo() []TodoStep {
	return []TodoStep{
		{Type: StepResearchDestination, Description: "Collect destination facts", Status: StepStatusPending},
		{Type: StepPresentIdeas, Description: "Present places to choose from", Status: StepStatusPending},
		{Type: StepRefineSuggestions, Description: "Adjust suggestions to feedback", Status: StepStatusPending},
		{Type: StepDraftItinerary, Description: "Draft a day-by-day itinerary", Status: StepStatusPending},
		{Type: StepFinalizeDocument, Description: "Package the final trip document", Status: StepStatusPending},
	}
}

// Slots holds the pieces of trip information the planner needs before recommending.
type Slots struct {
	Destination string   `json:"destination,omitempty"`
	Date        string   `json:"date,omitempty"`
	People      string   `json:"people,omitempty"`
	Preferences []string `json:"preferences,omitempty"`
}

// Missing lists the mandatory slots that are still empty.
func (s Slots) Missing() []string {
	var missing []string
	if s.Destination == "" {
		missing = append(missing, "destination")
	}
	if s.Date == "" {
		missing = append(missing, "date")
	}
	if s.People == "" {
		missing = append(missing, "people")
	}
	return missing
}

func (s Slots) Complete() bool { return len(s.Missing()) == 0 }

// Merge fills empty slots from other without overwriting values already known.
func (s Slots) Merge(other Slots) Slots {
	if s.Destination == "" {
		s.Destination = other.Destination
	}
	if s.Date == "" {
		s.Date = other.Date
	}
	if s.People == "" {
		s.People = other.People
	}
	s.Preferences = UnionStrings(s.Preferences, other.Preferences)
	return s
}

type SessionState struct {
	UserID           string           `json:"user_id"`
	SessionID        uuid.UUID        `json:"session_id"`
	Title            string           `json:"title"`
	HistoryKey       string           `json:"history_key"`
	ShortlistKey     string           `json:"shortlist_key"`
	Todo             []TodoStep       `json:"todo"`
	TodoStep         int              `json:"todo_step"`
	Slots            Slots            `json:"slots"`
	ShortTermProfile ShortTermProfile `json:"short_term_profile"`
	PendingBehaviors []UserBehavior   `json:"pending_behaviors,omitempty"`
	Recommended      []string         `json:"recommended,omitempty"`
	Version          int64            `json:"version"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// NewSessionState builds a fresh session with derived keys and the not-started step.
func NewSessionState(userID string, sessionID uuid.UUID, title string) *SessionState {
	now := time.Now().UTC()
	s := &SessionState{
		UserID:           userID,
		SessionID:        sessionID,
		Title:            title,
		TodoStep:         StepNotStarted,
		ShortTermProfile: NewShortTermProfile(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.EnsureKeys()
	return s
}

// EnsureKeys derives the history and shortlist keys once. Existing keys are never recomputed.
func (s *SessionState) EnsureKeys() {
	if s.HistoryKey == "" {
		s.HistoryKey = HistoryKey(s.UserID, s.SessionID.String())
	}
	if s.ShortlistKey == "" {
		s.ShortlistKey = ShortlistKey(s.UserID, s.SessionID.String())
	}
}

func (s *SessionState) MetadataKey() string {
	return MetadataKey(s.UserID, s.SessionID.String())
}

// CurrentStep returns the active to-do step, or false while the session sits on a sentinel index.
func (s *SessionState) CurrentStep() (TodoStep, bool) {
	if s.TodoStep < 0 || s.TodoStep >= len(s.Todo) {
		return TodoStep{}, false
	}
	return s.Todo[s.TodoStep], true
}

// MarkRecommended records place names already shown to the user.
func (s *SessionState) MarkRecommended(names ...string) {
	s.Recommended = UnionStrings(s.Recommended, names)
}

func sessionBase(userID, sessionID string) string {
	return fmt.Sprintf("user:%s:session:%s", userID, sessionID)
}

func MetadataKey(userID, sessionID string) string  { return sessionBase(userID, sessionID) + ":metadata" }
func HistoryKey(userID, sessionID string) string   { return sessionBase(userID, sessionID) + ":history" }
func ShortlistKey(userID, sessionID string) string { return sessionBase(userID, sessionID) + ":shortlist" }

// SessionSummary is the listing view of a session.
type SessionSummary struct {
	SessionID uuid.UUID `json:"session_id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Role string

const (
	RoleUser Role = "user"
	RoleAI   Role = "ai"
)

type Message struct {
	Content         string          `json:"content,omitempty"`
	Recommendations []ShortlistItem `json:"recommendations,omitempty"`
	Itinerary       []ItineraryLeg  `json:"itinerary,omitempty"`
}

type History struct {
	Role      Role      `json:"role"`
	Message   Message   `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// UnionStrings appends the values of b missing from a, keeping first-seen order.
func UnionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, v := range append(append([]string{}, a...), b...) {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
