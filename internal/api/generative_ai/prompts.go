package generativeAI

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/FACorreiaa/go-trip-planner/internal/types"
)

var instructions = map[types.PromptKind]string{
	types.PromptTitle: `Write a short title (at most six words) for a trip planning conversation that starts with the user message below. Reply with the title only.`,
	types.PromptTodo: `You plan trips step by step. Produce the ordered list of planning steps for this conversation.
Allowed step types: RESEARCH_DESTINATION, RESEARCH_ATTRACTIONS, PRESENT_IDEAS, REFINE_SUGGESTIONS, DRAFT_ITINERARY, FINALIZE_DOCUMENT, OTHER.
Return JSON: {"steps":[{"type":"<step type>","description":"<one sentence>"}]}`,
	types.PromptSlots: `Extract the trip information stated by the user. Leave a field empty when it was not stated.
Return JSON: {"destination":"","date":"","people":"","preferences":[],"avoids":[]}`,
	types.PromptIntent: `Classify the user message into one or more intents.
Allowed intents: ADVANCE_STEP, MORE_RECOMMENDATIONS, ITINERARY_GENERATION, GENERAL_QUERY, MODIFY_PLAN, FINALIZE_TRIP, OTHER.
Return JSON: {"intents":["<intent>"]}`,
	types.PromptRecommend: `Recommend places for the trip. Respect the preferences and avoid the listed tags. Do not repeat already recommended places.
Return JSON: {"reply":"<short message>","places":[{"name":"","description":"","reason":""}]}`,
	types.PromptItinerary: `Draft a day by day itinerary using the shortlisted places. Times are HH:MM, date is the day number starting at 1, type is visit or commute.
Return JSON: {"reply":"<short message>","itinerary":[{"date":1,"type":"visit","place_name":"","start_time":"09:00","end_time":"10:30","commute_mode":""}]}`,
	types.PromptFinalize: `Summarise the finished trip plan as a document the traveller can keep.
Return JSON: {"reply":"<markdown document>"}`,
	types.PromptAnswer:   `Answer the traveller's question using the conversation so far. Be concise.`,
	types.PromptReminder: `Politely ask the traveller for the missing trip information listed below before planning continues.`,
	types.PromptStyleTags: `For each place give one or two travel style tags in lower case (for example historic, nature, food, nightlife, art).
Return JSON: {"tags":{"<place name>":["<tag>"]}}`,
	types.PromptSubAttractions: `List representative attractions of the city, at most the requested count.
Return JSON: {"attractions":[{"name":"","description":"","reason":""}]}`,
	types.PromptPlaceAdvice: `Give short pros, cons and one practical visiting tip for the place.
Return JSON: {"pros":[""],"cons":[""],"advice":""}`,
	types.PromptTopics: `Suggest trip topics the traveller may enjoy based on the style tags.
Return JSON: {"topics":[""]}`,
}

// BuildPrompt renders the instruction for kind followed by the inputs as JSON.
func BuildPrompt(kind types.PromptKind, inputs map[string]any) (string, error) {
	instruction, ok := instructions[kind]
	if !ok {
		return "", fmt.Errorf("unknown prompt kind %q", kind)
	}
	var b strings.Builder
	b.WriteString(instruction)
	if len(inputs) > 0 {
		data, err := json.MarshalIndent(inputs, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode prompt inputs: %w", err)
		}
		b.WriteString("\n\nInput:\n")
		b.Write(data)
	}
	return b.String(), nil
}

// CleanJSONResponse strips markdown fences and any prose around the outermost JSON object.
func CleanJSONResponse(response string) string {
	response = strings.TrimSpace(response)
	if strings.HasPrefix(response, "```json") {
		response = strings.TrimPrefix(response, "```json")
	} else if strings.HasPrefix(response, "```") {
		response = strings.TrimPrefix(response, "```")
	}
	response = strings.TrimSpace(strings.TrimSuffix(response, "```"))

	first := strings.Index(response, "{")
	if first == -1 {
		return response
	}
	last := strings.LastIndex(response, "}")
	if last <= first {
		return response
	}
	return strings.TrimSpace(response[first : last+1])
}

// DecodeJSON cleans raw model output and unmarshals it into out.
func DecodeJSON(raw string, out any) error {
	if err := json.Unmarshal([]byte(CleanJSONResponse(raw)), out); err != nil {
		return fmt.Errorf("failed to decode model output: %w", err)
	}
	return nil
}
