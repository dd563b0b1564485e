package types

import (
	"sort"
	"time"
)

// TagWeight is a travel-style tag with a weight in [0,1].
type TagWeight struct {
	Tag    string  `json:"tag"`
	Weight float64 `json:"weight"`
	// Number of consecutive sessions the tag was seen in (long-term profiles only).
	ConsecutiveSessions int `json:"consecutive_sessions,omitempty"`
}

// ClampWeight bounds w to [0,1].
func ClampWeight(w float64) float64 {
	switch {
	case w != w: // NaN
		return 0
	case w < 0:
		return 0
	case w > 1:
		return 1
	}
	return w
}

type ShortTermProfile struct {
	Preferences map[string]TagWeight `json:"preferences"`
	Avoids      []string             `json:"avoids,omitempty"`
}

func NewShortTermProfile() ShortTermProfile {
	return ShortTermProfile{Preferences: make(map[string]TagWeight)}
}

// TopTags returns up to n preference tags ordered by descending weight.
func (p ShortTermProfile) TopTags(n int) []TagWeight {
	return topTags(p.Preferences, n)
}

func (p ShortTermProfile) Avoiding(tag string) bool {
	for _, a := range p.Avoids {
		if a == tag {
			return true
		}
	}
	return false
}

type LongTermProfile struct {
	UserID              string               `json:"user_id"`
	VerifiedPreferences map[string]TagWeight `json:"verified_preferences"`
	DecayingPreferences map[string]TagWeight `json:"decaying_preferences"`
	Avoids              []string             `json:"avoids,omitempty"`
	// Consecutive most-recent sessions a verified tag has been absent from.
	MissedSessions map[string]int `json:"missed_sessions,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func NewLongTermProfile(userID string) *LongTermProfile {
	return &LongTermProfile{
		UserID:              userID,
		VerifiedPreferences: make(map[string]TagWeight),
		DecayingPreferences: make(map[string]TagWeight),
		MissedSessions:      make(map[string]int),
	}
}

func (p LongTermProfile) TopVerified(n int) []TagWeight {
	return topTags(p.VerifiedPreferences, n)
}

type EventType string

const (
	EventClick       EventType = "click"
	EventView        EventType = "view"
	EventShortlist   EventType = "shortlist"
	EventUnshortlist EventType = "unshortlist"
)

func (e EventType) Valid() bool {
	switch e {
	case EventClick, EventView, EventShortlist, EventUnshortlist:
		return true
	}
	return false
}

// UserBehavior is one interaction with a place card, consumed by the preference engine.
type UserBehavior struct {
	PlaceName   string    `json:"place_name"`
	EventType   EventType `json:"event_type"`
	DurationSec *float64  `json:"duration_sec,omitempty"`
}

func topTags(m map[string]TagWeight, n int) []TagWeight {
	out := make([]TagWeight, 0, len(m))
	for _, tw := range m {
		out = append(out, tw)
	}
	// map order is random; equal weights fall back to tag name
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func less(a, b TagWeight) bool {
	if a.Weight != b.Weight {
		return a.Weight > b.Weight
	}
	return a.Tag < b.Tag
}
