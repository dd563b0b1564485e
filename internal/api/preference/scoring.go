package preference

import (
	"math"

	"github.com/FACorreiaa/go-trip-planner/internal/types"
)

const (
	clickWeight       = 0.5
	viewWeight        = 1.0
	shortlistWeight   = 3.0
	unshortlistWeight = -3.0
	// per ten seconds of viewing
	durationWeight = 0.1

	// ExplicitPrior is the weight given to a style the user stated directly.
	ExplicitPrior = 0.8
	// DefaultSteepness makes σ(3) ≈ 0.953 for a single shortlist.
	DefaultSteepness = 1.0
)

// RawScore scores one behaviour. It is non-decreasing in duration for a fixed event kind.
func RawScore(b types.UserBehavior) float64 {
	var score float64
	switch b.EventType {
	case types.EventClick:
		score = clickWeight
	case types.EventView:
		score = viewWeight
	case types.EventShortlist:
		score = shortlistWeight
	case types.EventUnshortlist:
		score = unshortlistWeight
	}
	if b.DurationSec != nil && *b.DurationSec > 0 {
		score += durationWeight * (*b.DurationSec / 10)
	}
	return score
}

// Squash maps a summed raw score into [0,1] with the logistic 1/(1+e^(-k·x)).
func Squash(x, steepness float64) float64 {
	return types.ClampWeight(1 / (1 + math.Exp(-steepness*x)))
}

// MergeWeight averages w with an existing weight, or takes w when the tag is new. The result is clamped.
func MergeWeight(existing types.TagWeight, exists bool, w float64) float64 {
	if !exists {
		return types.ClampWeight(w)
	}
	return types.ClampWeight((existing.Weight + w) / 2)
}

// ScorePlaces sums raw scores per place and squashes them. Places keep first-seen order.
func ScorePlaces(behaviors []types.UserBehavior, steepness float64) ([]string, map[string]float64) {
	sums := make(map[string]float64)
	var order []string
	for _, b := range behaviors {
		if b.PlaceName == "" || !b.EventType.Valid() {
			continue
		}
		if _, seen := sums[b.PlaceName]; !seen {
			order = append(order, b.PlaceName)
		}
		sums[b.PlaceName] += RawScore(b)
	}
	for name, sum := range sums {
		sums[name] = Squash(sum, steepness)
	}
	return order, sums
}
