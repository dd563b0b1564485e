package itinerary

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"googlemaps.github.io/maps"

	"github.com/FACorreiaa/go-trip-planner/internal/types"
)

type MockRouteFinder struct {
	mock.Mock
}

func (m *MockRouteFinder) RouteTime(ctx context.Context, origin, destination string, mode types.TravelMode, arrival time.Time) (*Route, error) {
	args := m.Called(ctx, origin, destination, mode, arrival)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Route), args.Error(1)
}

var baseDate = time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC)

func setupReconcilerTest() (*Reconciler, *MockRouteFinder) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	finder := new(MockRouteFinder)
	r := NewReconciler(finder, Options{BaseDate: func() time.Time { return baseDate }}, logger)
	return r, finder
}

func day(date int, legs ...types.ItineraryLeg) []types.ItineraryLeg {
	for i := range legs {
		legs[i].Date = date
	}
	return legs
}

func visit(place, start, end string) types.ItineraryLeg {
	return types.ItineraryLeg{Type: types.LegVisit, PlaceName: place, StartTime: start, EndTime: end}
}

func commute(mode, start, end string) types.ItineraryLeg {
	return types.ItineraryLeg{Type: types.LegCommute, CommuteMode: mode, StartTime: start, EndTime: end}
}

func TestNormalizeMode(t *testing.T) {
	tests := []struct {
		in   string
		want types.TravelMode
	}{
		{"metro", types.ModeTransit},
		{"Subway line 2", types.ModeTransit},
		{"on foot", types.ModeWalk},
		{"Walking", types.ModeWalk},
		{"taxi", types.ModeDrive},
		{"driving", types.ModeDrive},
		{"bike share", types.ModeBicycle},
		{"cycling", types.ModeBicycle},
		{"", types.ModeTransit},
		{"hovercraft", types.ModeTransit},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeMode(tt.in), tt.in)
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1 Hours 5 Minutes", FormatDuration(65*time.Minute))
	assert.Equal(t, "2 Hours", FormatDuration(2*time.Hour+20*time.Second))
	assert.Equal(t, "12 Minutes", FormatDuration(12*time.Minute+30*time.Second))
	assert.Equal(t, "45 Seconds", FormatDuration(45*time.Second))
}

func TestReconciler_Reconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("sorts and times commute to next visit", func(t *testing.T) {
		r, finder := setupReconcilerTest()
		legs := append(
			day(2, visit("Nara Park", "09:00", "11:00")),
			day(1,
				visit("Gion", "13:00", "15:00"),
				visit("Kiyomizu-dera", "09:00", "11:00"),
				commute("metro", "11:00", "12:00"),
			)...,
		)
		arrival := baseDate.Add(13 * time.Hour)
		steps := []types.RouteStep{{StepMode: "TRANSIT", TransitName: "Keihan"}}
		finder.On("RouteTime", mock.Anything, "Kiyomizu-dera", "Gion", types.ModeTransit, arrival).
			Return(&Route{Duration: 25*time.Minute + 10*time.Second, Mode: types.ModeTransit, Steps: steps}, nil).Once()

		got := r.Reconcile(ctx, legs)
		require.Len(t, got, 4)
		assert.Equal(t, "Kiyomizu-dera", got[0].PlaceName)
		assert.Equal(t, types.LegCommute, got[1].Type)
		assert.Equal(t, "Gion", got[2].PlaceName)
		assert.Equal(t, "Nara Park", got[3].PlaceName)

		assert.Equal(t, "12:34", got[1].StartTime)
		assert.Equal(t, "13:00", got[1].EndTime)
		assert.Equal(t, "TRANSIT", got[1].CommuteMode)
		assert.Equal(t, steps, got[1].RouteSteps)
		finder.AssertExpectations(t)
	})

	t.Run("no route keeps original times", func(t *testing.T) {
		r, finder := setupReconcilerTest()
		legs := day(1,
			visit("Kiyomizu-dera", "09:00", "11:00"),
			commute("metro", "11:00", "12:00"),
			visit("Gion", "13:00", "15:00"),
		)
		finder.On("RouteTime", mock.Anything, "Kiyomizu-dera", "Gion", mock.Anything, mock.Anything).Return(nil, nil).Twice()

		got := r.Reconcile(ctx, legs)
		assert.Equal(t, "11:00", got[1].StartTime)
		assert.Equal(t, "12:00", got[1].EndTime)
		assert.Equal(t, "metro", got[1].CommuteMode)
		finder.AssertNumberOfCalls(t, "RouteTime", 2)
	})

	t.Run("empty transit falls back to walk", func(t *testing.T) {
		r, finder := setupReconcilerTest()
		legs := day(1,
			visit("A", "09:00", "10:00"),
			commute("bus", "10:00", "10:30"),
			visit("B", "11:00", "12:00"),
		)
		finder.On("RouteTime", mock.Anything, "A", "B", types.ModeTransit, mock.Anything).Return(nil, nil).Once()
		finder.On("RouteTime", mock.Anything, "A", "B", types.ModeWalk, mock.Anything).
			Return(&Route{Duration: 20 * time.Minute, Mode: types.ModeWalk}, nil).Once()

		got := r.Reconcile(ctx, legs)
		assert.Equal(t, "10:40", got[1].StartTime)
		assert.Equal(t, "WALK", got[1].CommuteMode)
		assert.Nil(t, got[1].RouteSteps)
	})

	t.Run("long walk switches to drive", func(t *testing.T) {
		r, finder := setupReconcilerTest()
		legs := day(1,
			visit("A", "09:00", "10:00"),
			commute("walk", "10:00", "10:30"),
			visit("B", "12:00", "13:00"),
		)
		finder.On("RouteTime", mock.Anything, "A", "B", types.ModeWalk, mock.Anything).
			Return(&Route{Duration: 90 * time.Minute, Mode: types.ModeWalk}, nil).Once()
		finder.On("RouteTime", mock.Anything, "A", "B", types.ModeDrive, mock.Anything).
			Return(&Route{Duration: 15 * time.Minute, Mode: types.ModeDrive}, nil).Once()

		got := r.Reconcile(ctx, legs)
		assert.Equal(t, "11:45", got[1].StartTime)
		assert.Equal(t, "DRIVE", got[1].CommuteMode)
		finder.AssertExpectations(t)
	})

	t.Run("reconciling twice is idempotent", func(t *testing.T) {
		r, finder := setupReconcilerTest()
		legs := day(1,
			visit("A", "09:00", "10:00"),
			commute("train", "10:00", "10:30"),
			visit("B", "11:00", "12:00"),
			commute("taxi", "12:00", "12:10"),
			visit("C", "13:00", "14:00"),
		)
		finder.On("RouteTime", mock.Anything, "A", "B", types.ModeTransit, mock.Anything).
			Return(&Route{Duration: 30 * time.Minute, Mode: types.ModeTransit}, nil)
		finder.On("RouteTime", mock.Anything, "B", "C", types.ModeDrive, mock.Anything).
			Return(&Route{Duration: 12 * time.Minute, Mode: types.ModeDrive}, nil)

		once := r.Reconcile(ctx, legs)
		twice := r.Reconcile(ctx, once)
		assert.Equal(t, once, twice)
		assert.Equal(t, "10:30", once[1].StartTime)
		assert.Equal(t, "12:48", once[3].StartTime)
	})

	t.Run("commute at the edge is left alone", func(t *testing.T) {
		r, finder := setupReconcilerTest()
		legs := day(1,
			commute("metro", "08:00", "09:00"),
			visit("A", "09:00", "10:00"),
		)
		got := r.Reconcile(ctx, legs)
		assert.Equal(t, legs, got)
		finder.AssertNotCalled(t, "RouteTime", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestTransitSteps(t *testing.T) {
	dep := time.Date(2026, 5, 20, 10, 5, 0, 0, time.UTC)
	arr := dep.Add(20 * time.Minute)
	steps := []*maps.Step{
		{TravelMode: "WALKING", Duration: 3 * time.Minute},
		{TravelMode: "WALKING", Duration: 2 * time.Minute},
		{
			TravelMode: "TRANSIT",
			Duration:   20 * time.Minute,
			TransitDetails: &maps.TransitDetails{
				DepartureStop: maps.TransitStop{Name: "Gojo"},
				ArrivalStop:   maps.TransitStop{Name: "Shijo"},
				DepartureTime: dep,
				ArrivalTime:   arr,
				Line:          maps.TransitLine{ShortName: "Karasuma", Color: "#0f0"},
			},
		},
		{TravelMode: "WALKING", Duration: 40 * time.Second},
	}

	got := transitSteps(steps)
	require.Len(t, got, 3)
	assert.Equal(t, types.RouteStep{StepMode: "WALKING", StepDuration: "5 Minutes"}, got[0])
	assert.Equal(t, "Karasuma", got[1].TransitName)
	assert.Equal(t, "Gojo", got[1].DepartureStop)
	assert.Equal(t, dep.Format(time.RFC3339), got[1].DepartureTime)
	assert.Equal(t, "#0f0", got[1].Color)
	assert.Equal(t, "40 Seconds", got[2].StepDuration)
}
