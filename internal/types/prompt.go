package types

// PromptKind selects what the language service is asked to produce.
type PromptKind string

const (
	PromptTitle          PromptKind = "session_title"
	PromptTodo           PromptKind = "todo_list"
	PromptSlots          PromptKind = "slot_extraction"
	PromptIntent         PromptKind = "intent"
	PromptRecommend      PromptKind = "recommend_places"
	PromptItinerary      PromptKind = "draft_itinerary"
	PromptFinalize       PromptKind = "finalize_trip"
	PromptAnswer         PromptKind = "free_answer"
	PromptReminder       PromptKind = "missing_info_reminder"
	PromptStyleTags      PromptKind = "style_tags"
	PromptSubAttractions PromptKind = "sub_attractions"
	PromptPlaceAdvice    PromptKind = "place_advice"
	PromptTopics         PromptKind = "recommend_topics"
)

// JSON reports whether the kind is answered with a JSON document rather than prose.
func (k PromptKind) JSON() bool {
	switch k {
	case PromptAnswer, PromptReminder, PromptTitle:
		return false
	}
	return true
}
