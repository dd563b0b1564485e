package itinerary

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"googlemaps.github.io/maps"

	"github.com/FACorreiaa/go-trip-planner/internal/types"
)

// PlaceLocator turns a place name into a provider place id. *place.ServiceImpl implements it.
type PlaceLocator interface {
	Resolve(ctx context.Context, name, description, reason string) (*types.ShortlistItem, error)
}

// status the directions API reports when no route exists for the mode
const zeroResults = "ZERO_RESULTS"

var _ RouteFinder = (*MapsRouteFinder)(nil)

// MapsRouteFinder adapts the Google Maps Directions API.
type MapsRouteFinder struct {
	client *maps.Client
	places PlaceLocator
	modes  map[types.TravelMode]maps.Mode
}

func NewMapsRouteFinder(client *maps.Client, places PlaceLocator) *MapsRouteFinder {
	return &MapsRouteFinder{
		client: client,
		places: places,
		modes: map[types.TravelMode]maps.Mode{
			types.ModeWalk:    maps.TravelModeWalking,
			types.ModeTransit: maps.TravelModeTransit,
			types.ModeDrive:   maps.TravelModeDriving,
			types.ModeBicycle: maps.TravelModeBicycling,
		},
	}
}

func (f *MapsRouteFinder) RouteTime(ctx context.Context, origin, destination string, mode types.TravelMode, arrival time.Time) (*Route, error) {
	req := &maps.DirectionsRequest{
		Origin:      f.locate(ctx, origin),
		Destination: f.locate(ctx, destination),
		Mode:        f.modes[mode],
	}
	// the directions API only honours arrival_time for transit
	if mode == types.ModeTransit && !arrival.IsZero() {
		req.ArrivalTime = strconv.FormatInt(arrival.Unix(), 10)
	}

	routes, _, err := f.client.Directions(ctx, req)
	if err != nil {
		if strings.Contains(err.Error(), zeroResults) {
			return nil, nil
		}
		return nil, fmt.Errorf("directions %s -> %s (%s): %w", origin, destination, mode, err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return nil, nil
	}

	leg := routes[0].Legs[0]
	route := &Route{Duration: leg.Duration, Mode: mode}
	if mode == types.ModeTransit {
		route.Steps = transitSteps(leg.Steps)
	}
	return route, nil
}

func (f *MapsRouteFinder) locate(ctx context.Context, name string) string {
	if f.places == nil {
		return name
	}
	item, err := f.places.Resolve(ctx, name, "", "")
	if err != nil || item == nil || item.PlaceID == "" {
		return name
	}
	return "place_id:" + item.PlaceID
}

// transitSteps merges consecutive non-transit steps into one segment and keeps stop, time and line
// details for each transit ride.
func transitSteps(steps []*maps.Step) []types.RouteStep {
	var out []types.RouteStep
	var pending time.Duration
	pendingMode := ""
	flush := func() {
		if pending > 0 {
			out = append(out, types.RouteStep{StepMode: pendingMode, StepDuration: FormatDuration(pending)})
		}
		pending, pendingMode = 0, ""
	}

	for _, s := range steps {
		if s.TransitDetails == nil {
			if pendingMode != "" && pendingMode != s.TravelMode {
				flush()
			}
			pendingMode = s.TravelMode
			pending += s.Duration
			continue
		}
		flush()
		td := s.TransitDetails
		name := td.Line.Name
		if name == "" {
			name = td.Line.ShortName
		}
		out = append(out, types.RouteStep{
			StepMode:      string(types.ModeTransit),
			StepDuration:  FormatDuration(s.Duration),
			DepartureStop: td.DepartureStop.Name,
			DepartureTime: formatStopTime(td.DepartureTime),
			ArrivalStop:   td.ArrivalStop.Name,
			ArrivalTime:   formatStopTime(td.ArrivalTime),
			TransitName:   name,
			Color:         td.Line.Color,
		})
	}
	flush()
	return out
}

func formatStopTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
