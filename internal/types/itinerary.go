package types

import (
	"fmt"
	"strconv"
	"strings"
)

type LegType string

const (
	LegVisit   LegType = "visit"
	LegCommute LegType = "commute"
)

type TravelMode string

const (
	ModeWalk    TravelMode = "WALK"
	ModeTransit TravelMode = "TRANSIT"
	ModeDrive   TravelMode = "DRIVE"
	ModeBicycle TravelMode = "BICYCLE"
)

// RouteStep is one segment of a commute. Stop, time and line fields are only set for TRANSIT.
type RouteStep struct {
	StepMode      string `json:"step_mode"`
	StepDuration  string `json:"step_duration"`
	DepartureStop string `json:"departure_stop,omitempty"`
	DepartureTime string `json:"departure_time,omitempty"`
	ArrivalStop   string `json:"arrival_stop,omitempty"`
	ArrivalTime   string `json:"arrival_time,omitempty"`
	TransitName   string `json:"transit_name,omitempty"`
	Color         string `json:"color,omitempty"`
}

type DiscardedPlace struct {
	Name          string   `json:"name"`
	DurationHours float64  `json:"duration"`
	OpeningHours  []string `json:"opening_hours,omitempty"`
	Type          string   `json:"type,omitempty"`
}

// ItineraryLeg is one visit or commute within a day of the trip. Date is the 1-based day index.
type ItineraryLeg struct {
	Date            int              `json:"date"`
	Type            LegType          `json:"type"`
	PlaceName       string           `json:"place_name,omitempty"`
	StartTime       string           `json:"start_time"`
	EndTime         string           `json:"end_time"`
	CommuteMode     string           `json:"commute_mode,omitempty"`
	RouteSteps      []RouteStep      `json:"route_steps,omitempty"`
	DiscardedPlaces []DiscardedPlace `json:"discarded_places,omitempty"`
}

// ParseClock converts "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// FormatClock renders minutes since midnight as "HH:MM", wrapping around the day.
func FormatClock(minutes int) string {
	minutes %= 24 * 60
	if minutes < 0 {
		minutes += 24 * 60
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
