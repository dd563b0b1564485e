package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/go-trip-planner/internal/types"
)

func fullTodo() []types.TodoStep {
	return []types.TodoStep{
		{Type: types.StepResearchDestination},
		{Type: types.StepResearchAttractions},
		{Type: types.StepPresentIdeas},
		{Type: types.StepRefineSuggestions},
		{Type: types.StepDraftItinerary},
		{Type: types.StepFinalizeDocument},
	}
}

func intents(tags ...types.IntentTag) types.IntentSet { return types.NewIntentSet(tags...) }

func TestDispatch(t *testing.T) {
	tests := []struct {
		name string
		in   types.IntentSet
		want Action
	}{
		{"recommend wins over draft", intents(types.IntentItineraryGeneration, types.IntentMoreRecommendations), ActionRecommend},
		{"modify plan recommends", intents(types.IntentModifyPlan), ActionRecommend},
		{"draft wins over finalize", intents(types.IntentFinalizeTrip, types.IntentItineraryGeneration), ActionDraft},
		{"finalize", intents(types.IntentFinalizeTrip), ActionFinalize},
		{"general query answers", intents(types.IntentGeneralQuery), ActionAnswer},
		{"empty answers", intents(), ActionAnswer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Dispatch(tt.in))
		})
	}
}

func TestTransition(t *testing.T) {
	t.Run("modify plan regenerates and lands on first user-facing step", func(t *testing.T) {
		calls := 0
		regenerated := []types.TodoStep{
			{Type: types.StepResearchDestination},
			{Type: types.StepPresentIdeas},
			{Type: types.StepDraftItinerary},
		}
		d := Transition(3, fullTodo(), intents(types.IntentModifyPlan), true, func() []types.TodoStep {
			calls++
			return regenerated
		})
		assert.Equal(t, 1, calls)
		assert.True(t, d.Regenerated)
		assert.Equal(t, 1, d.Step)
		assert.Equal(t, types.StepPresentIdeas, d.Todo[d.Step].Type)
		assert.True(t, d.Intents.Has(types.IntentMoreRecommendations))
		assert.Equal(t, ActionRecommend, d.Action)
	})

	t.Run("modify plan takes precedence over advance", func(t *testing.T) {
		d := Transition(3, fullTodo(), intents(types.IntentModifyPlan, types.IntentAdvanceStep), true, func() []types.TodoStep {
			return fullTodo()
		})
		assert.Equal(t, 2, d.Step)
		assert.Equal(t, ActionRecommend, d.Action)
	})

	t.Run("failed regeneration keeps the current list", func(t *testing.T) {
		d := Transition(4, fullTodo(), intents(types.IntentModifyPlan), true, func() []types.TodoStep { return nil })
		require.Len(t, d.Todo, 6)
		assert.Equal(t, 2, d.Step)
	})

	t.Run("advance derives intent from the new step", func(t *testing.T) {
		tests := []struct {
			from       int
			wantStep   int
			wantAction Action
		}{
			{2, 3, ActionRecommend},
			{3, 4, ActionDraft},
			{4, 5, ActionFinalize},
			{5, 5, ActionFinalize},
		}
		for _, tt := range tests {
			d := Transition(tt.from, fullTodo(), intents(types.IntentAdvanceStep), true, nil)
			assert.Equal(t, tt.wantStep, d.Step, "from %d", tt.from)
			assert.Equal(t, tt.wantAction, d.Action, "from %d", tt.from)
		}
	})

	t.Run("more recommendations pins the refine step", func(t *testing.T) {
		d := Transition(4, fullTodo(), intents(types.IntentMoreRecommendations), true, nil)
		assert.Equal(t, 3, d.Step)
		assert.Equal(t, ActionRecommend, d.Action)
	})

	t.Run("general query leaves the step alone", func(t *testing.T) {
		d := Transition(2, fullTodo(), intents(types.IntentGeneralQuery), true, nil)
		assert.Equal(t, 2, d.Step)
		assert.Equal(t, ActionAnswer, d.Action)
	})

	t.Run("not started with missing slots waits for a reminder", func(t *testing.T) {
		d := Transition(types.StepNotStarted, fullTodo(), intents(types.IntentAdvanceStep), false, nil)
		assert.Equal(t, types.StepReminderPending, d.Step)
		assert.Equal(t, ActionRemind, d.Action)
	})

	t.Run("not started with complete slots enters the plan", func(t *testing.T) {
		d := Transition(types.StepNotStarted, fullTodo(), intents(types.IntentOther), true, nil)
		assert.Equal(t, 2, d.Step)
		assert.Equal(t, ActionRecommend, d.Action)
		assert.Equal(t, types.StepStatusDone, d.Todo[0].Status)
		assert.Equal(t, types.StepStatusActive, d.Todo[2].Status)
		assert.Equal(t, types.StepStatusPending, d.Todo[3].Status)
	})

	t.Run("reminder pending stays until confirmed", func(t *testing.T) {
		d := Transition(types.StepReminderPending, fullTodo(), intents(types.IntentGeneralQuery), false, nil)
		assert.Equal(t, types.StepReminderPending, d.Step)
		assert.Equal(t, ActionRemind, d.Action)
	})

	t.Run("reminder pending continues on advance without advancing twice", func(t *testing.T) {
		d := Transition(types.StepReminderPending, fullTodo(), intents(types.IntentAdvanceStep), false, nil)
		assert.Equal(t, 2, d.Step)
		assert.False(t, d.Intents.Has(types.IntentAdvanceStep))
		assert.Equal(t, ActionRecommend, d.Action)
	})

	t.Run("input set is not modified", func(t *testing.T) {
		in := intents(types.IntentAdvanceStep)
		Transition(2, fullTodo(), in, true, nil)
		assert.Len(t, in, 1)
	})

	t.Run("empty to-do falls back to the default plan", func(t *testing.T) {
		d := Transition(0, nil, intents(types.IntentGeneralQuery), true, nil)
		assert.Equal(t, types.DefaultTodo()[0].Type, d.Todo[0].Type)
		assert.Equal(t, 0, d.Step)
	})
}

func TestFirstUserFacing(t *testing.T) {
	assert.Equal(t, 2, FirstUserFacing(fullTodo()))
	assert.Equal(t, 0, FirstUserFacing([]types.TodoStep{{Type: types.StepResearchDestination}}))
	assert.Equal(t, 0, FirstUserFacing([]types.TodoStep{{Type: types.StepOther}}))
}
