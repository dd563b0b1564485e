package planner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	generativeAI "github.com/FACorreiaa/go-trip-planner/internal/api/generative_ai"
	"github.com/FACorreiaa/go-trip-planner/internal/api/preference"
	"github.com/FACorreiaa/go-trip-planner/internal/types"
)

const (
	fallbackReply    = "Sorry, I could not work that out just now. Could you try again?"
	profileTagsLimit = 5
)

// extracted is what the slot extractor read from one user message.
type extracted struct {
	Destination string   `json:"destination"`
	Date        string   `json:"date"`
	People      string   `json:"people"`
	Preferences []string `json:"preferences"`
	Avoids      []string `json:"avoids"`
}

// HandleMessage runs one conversational turn: record the message, classify it, move the to-do
// list, fold pending behaviours into the profile and perform exactly one action. The reply is appended to history before returning.
func (s *ServiceImpl) HandleMessage(ctx context.Context, userID string, sessionID uuid.UUID, text string) (*Reply, error) {
	start := time.Now()
	ctx, span := otel.Tracer("PlannerService").Start(ctx, "HandleMessage", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("session.id", sessionID.String()),
	))
	defer span.End()

	state, err := s.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.AppendHistory(ctx, state, types.History{
		Role:      types.RoleUser,
		Message:   types.Message{Content: text},
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		s.logger.WarnContext(ctx, "Failed to record user message", slog.Any("error", err))
	}

	ex := s.extractSlots(ctx, state, text)
	state.Slots = state.Slots.Merge(types.Slots{
		Destination: ex.Destination,
		Date:        ex.Date,
		People:      ex.People,
		Preferences: ex.Preferences,
	})

	intents, err := s.classifier.Classify(ctx, text)
	if err != nil || len(intents) == 0 {
		if err != nil {
			s.logger.WarnContext(ctx, "Intent classification failed", slog.Any("error", err))
		}
		intents = types.NewIntentSet(types.IntentOther)
	}

	decision := Transition(state.TodoStep, state.Todo, intents, state.Slots.Complete(), func() []types.TodoStep {
		return s.generateTodo(ctx, text, state.Slots)
	})
	previous := state.TodoStep
	state.TodoStep = decision.Step
	state.Todo = decision.Todo

	// pending behaviours and their shortlist effects land before any action reads them
	s.updateProfile(ctx, state, preference.Input{Preferences: ex.Preferences, Avoids: ex.Avoids})

	var msg types.Message
	switch decision.Action {
	case ActionRecommend:
		msg = s.recommend(ctx, state, text)
	case ActionDraft:
		msg = s.draft(ctx, state, text)
	case ActionFinalize:
		msg = s.finalize(ctx, state, text)
	case ActionRemind:
		msg = s.remind(ctx, state, text)
	default:
		msg = s.answer(ctx, state, text)
	}

	if err := s.sessions.AppendHistory(ctx, state, types.History{
		Role:      types.RoleAI,
		Message:   msg,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		s.logger.WarnContext(ctx, "Failed to record reply", slog.Any("error", err))
	}
	if err := s.sessions.Save(ctx, state); err != nil {
		s.logger.ErrorContext(ctx, "Failed to save session after turn", slog.Any("error", err))
	}

	tags := make([]types.IntentTag, 0, len(decision.Intents))
	for tag := range decision.Intents {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })

	span.SetAttributes(
		attribute.String("planner.action", string(decision.Action)),
		attribute.Int("planner.step", decision.Step),
	)
	s.metrics.TurnDuration(ctx, string(decision.Action), elapsedSeconds(start))
	s.logger.InfoContext(ctx, "Turn handled",
		slog.String("session_id", sessionID.String()),
		slog.String("action", string(decision.Action)),
		slog.Int("from_step", previous),
		slog.Int("to_step", decision.Step),
		slog.Bool("todo_regenerated", decision.Regenerated),
		slog.Int64("version", state.Version))

	return &Reply{Session: state, Message: msg, Action: decision.Action, Intents: tags}, nil
}

func (s *ServiceImpl) extractSlots(ctx context.Context, state *types.SessionState, text string) extracted {
	var ex extracted
	raw, err := s.lang.Generate(ctx, types.PromptSlots, map[string]any{"message": text, "known": state.Slots})
	if err != nil {
		s.logger.WarnContext(ctx, "Slot extraction failed", slog.Any("error", err))
		return ex
	}
	if err := generativeAI.DecodeJSON(raw, &ex); err != nil {
		s.logger.WarnContext(ctx, "Slot extraction output unreadable", slog.Any("error", err))
		return extracted{}
	}
	return ex
}

func (s *ServiceImpl) updateProfile(ctx context.Context, state *types.SessionState, input preference.Input) {
	if _, err := s.prefs.UpdateShortTerm(ctx, state, input); err != nil {
		s.logger.WarnContext(ctx, "Short term profile not updated", slog.Any("error", err))
	}
}

// promptContext gathers the inputs shared by every action prompt.
func (s *ServiceImpl) promptContext(ctx context.Context, state *types.SessionState, text string) map[string]any {
	history, err := s.sessions.History(ctx, state)
	if err != nil {
		s.logger.WarnContext(ctx, "History unavailable for prompt", slog.Any("error", err))
	}
	in := map[string]any{
		"message": text,
		"history": RenderHistory(history, s.opts.HistoryWindow),
		"slots":   state.Slots,
	}
	if step, ok := state.CurrentStep(); ok {
		in["step"] = step
	}
	return in
}

type recommendation struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Reason      string `json:"reason"`
}

func (s *ServiceImpl) recommend(ctx context.Context, state *types.SessionState, text string) types.Message {
	in := s.promptContext(ctx, state, text)
	in["count"] = s.opts.RecommendCount
	in["preferences"] = tagNames(state.ShortTermProfile.TopTags(profileTagsLimit))
	in["avoids"] = state.ShortTermProfile.Avoids
	in["already_recommended"] = state.Recommended
	if profile, err := s.prefs.GetLongTerm(ctx, state.UserID); err == nil {
		in["long_term_preferences"] = tagNames(profile.TopVerified(profileTagsLimit))
		in["avoids"] = types.UnionStrings(state.ShortTermProfile.Avoids, profile.Avoids)
	}

	raw, err := s.lang.Generate(ctx, types.PromptRecommend, in)
	if err != nil {
		return types.Message{Content: fallbackReply}
	}
	var out struct {
		Reply  string           `json:"reply"`
		Places []recommendation `json:"places"`
	}
	if err := generativeAI.DecodeJSON(raw, &out); err != nil {
		s.logger.WarnContext(ctx, "Recommendation output unreadable", slog.Any("error", err))
		return types.Message{Content: fallbackReply}
	}

	seen := make(map[string]struct{}, len(state.Recommended))
	for _, name := range state.Recommended {
		seen[name] = struct{}{}
	}
	msg := types.Message{Content: out.Reply}
	for _, p := range out.Places {
		if len(msg.Recommendations) == s.opts.RecommendCount {
			break
		}
		if _, dup := seen[p.Name]; dup || p.Name == "" {
			continue
		}
		item, err := s.places.Resolve(ctx, p.Name, p.Description, p.Reason)
		if err != nil {
			s.logger.WarnContext(ctx, "Skipping unresolved recommendation", slog.String("place", p.Name), slog.Any("error", err))
			continue
		}
		seen[p.Name] = struct{}{}
		msg.Recommendations = append(msg.Recommendations, *item)
		state.MarkRecommended(p.Name)
	}
	return msg
}

func (s *ServiceImpl) draft(ctx context.Context, state *types.SessionState, text string) types.Message {
	shortlist, err := s.sessions.Shortlist(ctx, state)
	if err != nil {
		s.logger.WarnContext(ctx, "Shortlist unavailable for itinerary", slog.Any("error", err))
	}
	places := make([]map[string]any, 0, len(shortlist))
	inShortlist := make(map[string]struct{}, len(shortlist))
	for _, item := range shortlist {
		inShortlist[item.Name] = struct{}{}
		entry := map[string]any{"name": item.Name, "type": item.Type}
		if item.Info != nil && len(item.Info.WeekdayText) > 0 {
			entry["opening_hours"] = item.Info.WeekdayText
		}
		places = append(places, entry)
	}

	in := s.promptContext(ctx, state, text)
	in["places"] = places
	raw, err := s.lang.Generate(ctx, types.PromptItinerary, in)
	if err != nil {
		return types.Message{Content: fallbackReply}
	}
	var out struct {
		Reply     string               `json:"reply"`
		Itinerary []types.ItineraryLeg `json:"itinerary"`
	}
	if err := generativeAI.DecodeJSON(raw, &out); err != nil {
		s.logger.WarnContext(ctx, "Itinerary output unreadable", slog.Any("error", err))
		return types.Message{Content: fallbackReply}
	}

	msg := types.Message{Content: out.Reply, Itinerary: s.reconciler.Reconcile(ctx, out.Itinerary)}
	// places the model added beyond the shortlist are surfaced as recommendations
	for _, leg := range msg.Itinerary {
		if leg.Type != types.LegVisit || leg.PlaceName == "" {
			continue
		}
		if _, ok := inShortlist[leg.PlaceName]; ok {
			continue
		}
		inShortlist[leg.PlaceName] = struct{}{}
		item, err := s.places.Resolve(ctx, leg.PlaceName, "", "")
		if err != nil {
			continue
		}
		msg.Recommendations = append(msg.Recommendations, *item)
	}
	return msg
}

func (s *ServiceImpl) finalize(ctx context.Context, state *types.SessionState, text string) types.Message {
	shortlist, err := s.sessions.Shortlist(ctx, state)
	if err != nil {
		s.logger.WarnContext(ctx, "Shortlist unavailable for final document", slog.Any("error", err))
	}
	names := make([]string, len(shortlist))
	for i, item := range shortlist {
		names[i] = item.Name
	}

	in := s.promptContext(ctx, state, text)
	in["shortlist"] = names
	raw, err := s.lang.Generate(ctx, types.PromptFinalize, in)
	if err != nil {
		return types.Message{Content: fallbackReply}
	}
	var out struct {
		Reply string `json:"reply"`
	}
	if err := generativeAI.DecodeJSON(raw, &out); err != nil || out.Reply == "" {
		return types.Message{Content: fallbackReply}
	}
	return types.Message{Content: out.Reply}
}

func (s *ServiceImpl) remind(ctx context.Context, state *types.SessionState, text string) types.Message {
	missing := state.Slots.Missing()
	reply, err := s.lang.Generate(ctx, types.PromptReminder, map[string]any{"message": text, "missing": missing})
	if err != nil || reply == "" {
		return types.Message{Content: fmt.Sprintf(
			"To plan your trip I still need: %s. You can tell me now or fill them in the trip settings.",
			strings.Join(missing, ", "))}
	}
	return types.Message{Content: reply}
}

func (s *ServiceImpl) answer(ctx context.Context, state *types.SessionState, text string) types.Message {
	reply, err := s.lang.Generate(ctx, types.PromptAnswer, s.promptContext(ctx, state, text))
	if err != nil || reply == "" {
		return types.Message{Content: fallbackReply}
	}
	return types.Message{Content: reply}
}

// RenderHistory flattens the last window entries into "role: content" lines for prompts.
func RenderHistory(entries []types.History, window int) string {
	if window > 0 && len(entries) > window {
		entries = entries[len(entries)-window:]
	}
	var b strings.Builder
	for _, h := range entries {
		b.WriteString(string(h.Role))
		b.WriteString(": ")
		b.WriteString(h.Message.Content)
		if len(h.Message.Recommendations) > 0 {
			names := make([]string, len(h.Message.Recommendations))
			for i, r := range h.Message.Recommendations {
				names[i] = r.Name
			}
			b.WriteString(" [recommended: ")
			b.WriteString(strings.Join(names, ", "))
			b.WriteString("]")
		}
		if len(h.Message.Itinerary) > 0 {
			var stops []string
			for _, leg := range h.Message.Itinerary {
				if leg.Type == types.LegVisit {
					stops = append(stops, fmt.Sprintf("day %d %s %s", leg.Date, leg.StartTime, leg.PlaceName))
				}
			}
			b.WriteString(" [itinerary: ")
			b.WriteString(strings.Join(stops, "; "))
			b.WriteString("]")
		}
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func tagNames(tags []types.TagWeight) []string {
	out := make([]string, len(tags))
	for i, tw := range tags {
		out[i] = tw.Tag
	}
	return out
}
