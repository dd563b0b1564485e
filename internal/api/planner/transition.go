package planner

import (
	"github.com/FACorreiaa/go-trip-planner/internal/types"
)

// Action is the single piece of work a turn performs.
type Action string

const (
	ActionRecommend Action = "recommend"
	ActionDraft     Action = "draft"
	ActionFinalize  Action = "finalize"
	ActionAnswer    Action = "answer"
	// ActionRemind asks for missing trip information while the session waits on StepReminderPending.
	ActionRemind Action = "remind"
)

type dispatchRule struct {
	action Action
	when   func(types.IntentSet) bool
}

// dispatchTable is evaluated in order and the first matching rule wins.
var dispatchTable = []dispatchRule{
	{ActionRecommend, func(s types.IntentSet) bool {
		return s.Has(types.IntentMoreRecommendations) || s.Has(types.IntentModifyPlan)
	}},
	{ActionDraft, func(s types.IntentSet) bool { return s.Has(types.IntentItineraryGeneration) }},
	{ActionFinalize, func(s types.IntentSet) bool { return s.Has(types.IntentFinalizeTrip) }},
	{ActionAnswer, func(types.IntentSet) bool { return true }},
}

// Dispatch picks the action for a set of intents.
func Dispatch(intents types.IntentSet) Action {
	for _, rule := range dispatchTable {
		if rule.when(intents) {
			return rule.action
		}
	}
	return ActionAnswer
}

// Decision is the outcome of one transition.
type Decision struct {
	Step        int
	Todo        []types.TodoStep
	Intents     types.IntentSet
	Action      Action
	Regenerated bool
}

// Regenerate produces a fresh to-do list when the user changes the plan.
type Regenerate func() []types.TodoStep

// FirstUserFacing returns the index of the first step that is not a research step, or 0.
func FirstUserFacing(todo []types.TodoStep) int {
	for i, s := range todo {
		if s.Type.UserFacing() {
			return i
		}
	}
	return 0
}

// RefineIndex returns the index of the refinement step, falling back to the first recommend step
// and then to fallback.
func RefineIndex(todo []types.TodoStep, fallback int) int {
	first := -1
	for i, s := range todo {
		if s.Type == types.StepRefineSuggestions {
			return i
		}
		if first == -1 && s.Type.Category() == types.CategoryRecommend {
			first = i
		}
	}
	if first >= 0 {
		return first
	}
	return fallback
}

// derivedIntent maps a step onto the intent that performs its work.
func derivedIntent(step types.TodoStep) types.IntentTag {
	switch step.Type.Category() {
	case types.CategoryRecommend:
		return types.IntentMoreRecommendations
	case types.CategoryDraft:
		return types.IntentItineraryGeneration
	default:
		return types.IntentFinalizeTrip
	}
}

// Transition computes the next step, to-do list and action from the current step and the
// classified intents. MODIFY_PLAN takes precedence over ADVANCE_STEP.
func Transition(step int, todo []types.TodoStep, intents types.IntentSet, slotsComplete bool, regenerate Regenerate) Decision {
	if len(todo) == 0 {
		todo = types.DefaultTodo()
	}
	effective := intents.Clone()
	if len(effective) == 0 {
		effective.Add(types.IntentOther)
	}
	d := Decision{Step: step, Todo: todo, Intents: effective}

	switch step {
	case types.StepNotStarted:
		if !slotsComplete {
			d.Step = types.StepReminderPending
			d.Action = ActionRemind
			return d
		}
		return enter(d)
	case types.StepReminderPending:
		if !slotsComplete && !intents.Has(types.IntentAdvanceStep) {
			d.Action = ActionRemind
			return d
		}
		return enter(d)
	}

	if d.Step < 0 || d.Step >= len(d.Todo) {
		d.Step = clamp(d.Step, len(d.Todo))
	}

	switch {
	case intents.Has(types.IntentModifyPlan):
		if regenerate != nil {
			if fresh := regenerate(); len(fresh) > 0 {
				d.Todo = fresh
			}
		}
		d.Regenerated = true
		d.Step = FirstUserFacing(d.Todo)
		d.Intents.Add(types.IntentMoreRecommendations)
	case intents.Has(types.IntentAdvanceStep):
		d.Step = clamp(d.Step+1, len(d.Todo))
		d.Intents.Add(derivedIntent(d.Todo[d.Step]))
	case intents.Has(types.IntentMoreRecommendations):
		d.Step = RefineIndex(d.Todo, d.Step)
	}

	d.Todo = markProgress(d.Todo, d.Step)
	d.Action = Dispatch(d.Intents)
	return d
}

// enter leaves a sentinel state for the first user-facing step. The advance that got us here is consumed.
func enter(d Decision) Decision {
	d.Step = FirstUserFacing(d.Todo)
	delete(d.Intents, types.IntentAdvanceStep)
	if d.Intents.Has(types.IntentModifyPlan) || !d.Intents.Has(types.IntentGeneralQuery) {
		d.Intents.Add(derivedIntent(d.Todo[d.Step]))
	}
	d.Todo = markProgress(d.Todo, d.Step)
	d.Action = Dispatch(d.Intents)
	return d
}

func clamp(step, n int) int {
	if step < 0 {
		return 0
	}
	if step >= n {
		return n - 1
	}
	return step
}

// markProgress returns a copy of todo with steps before step done and step active.
func markProgress(todo []types.TodoStep, step int) []types.TodoStep {
	out := make([]types.TodoStep, len(todo))
	copy(out, todo)
	for i := range out {
		switch {
		case i < step:
			out[i].Status = types.StepStatusDone
		case i == step:
			out[i].Status = types.StepStatusActive
		default:
			out[i].Status = types.StepStatusPending
		}
	}
	return out
}
