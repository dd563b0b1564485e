package types

import "strings"

// IntentTag is the closed set of intents the classifier may return.
type IntentTag string

const (
	IntentAdvanceStep         IntentTag = "ADVANCE_STEP"
	IntentMoreRecommendations IntentTag = "MORE_RECOMMENDATIONS"
	IntentItineraryGeneration IntentTag = "ITINERARY_GENERATION"
	IntentGeneralQuery        IntentTag = "GENERAL_QUERY"
	IntentModifyPlan          IntentTag = "MODIFY_PLAN"
	IntentFinalizeTrip        IntentTag = "FINALIZE_TRIP"
	IntentOther               IntentTag = "OTHER"
)

var knownIntents = map[IntentTag]struct{}{
	IntentAdvanceStep:         {},
	IntentMoreRecommendations: {},
	IntentItineraryGeneration: {},
	IntentGeneralQuery:        {},
	IntentModifyPlan:          {},
	IntentFinalizeTrip:        {},
	IntentOther:               {},
}

// ParseIntent normalizes a classifier label. Unknown labels are rejected.
func ParseIntent(s string) (IntentTag, bool) {
	tag := IntentTag(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := knownIntents[tag]
	return tag, ok
}

type IntentSet map[IntentTag]struct{}

func NewIntentSet(tags ...IntentTag) IntentSet {
	set := make(IntentSet, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	return set
}

// ParseIntentSet keeps the recognised labels and drops the rest.
func ParseIntentSet(labels []string) IntentSet {
	set := make(IntentSet, len(labels))
	for _, l := range labels {
		if tag, ok := ParseIntent(l); ok {
			set[tag] = struct{}{}
		}
	}
	return set
}

func (s IntentSet) Has(t IntentTag) bool {
	_, ok := s[t]
	return ok
}

func (s IntentSet) Add(t IntentTag) { s[t] = struct{}{} }

func (s IntentSet) Clone() IntentSet {
	out := make(IntentSet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}
