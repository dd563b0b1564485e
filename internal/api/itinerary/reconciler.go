package itinerary

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/FACorreiaa/go-trip-planner/app/observability/metrics"
	"github.com/FACorreiaa/go-trip-planner/internal/types"
)

const (
	DefaultWalkLimit   = time.Hour
	DefaultParallelism = 4
)

// Route is the outcome of a single route lookup.
type Route struct {
	Duration time.Duration
	Mode     types.TravelMode
	Steps    []types.RouteStep
}

// RouteFinder looks up a route that reaches destination at arrival. It returns nil without error
// when the provider has no route for the mode.
type RouteFinder interface {
	RouteTime(ctx context.Context, origin, destination string, mode types.TravelMode, arrival time.Time) (*Route, error)
}

type Options struct {
	WalkLimit   time.Duration
	Parallelism int
	// BaseDate returns the calendar day of trip day 1. Defaults to tomorrow, local time.
	BaseDate func() time.Time
}

// Reconciler recomputes commute timings of an itinerary from route lookups.
type Reconciler struct {
	logger  *slog.Logger
	finder  RouteFinder
	opts    Options
	metrics *metrics.AppMetrics
}

func NewReconciler(finder RouteFinder, opts Options, logger *slog.Logger) *Reconciler {
	if opts.WalkLimit <= 0 {
		opts.WalkLimit = DefaultWalkLimit
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultParallelism
	}
	if opts.BaseDate == nil {
		opts.BaseDate = func() time.Time {
			y, m, d := time.Now().Date()
			return time.Date(y, m, d+1, 0, 0, 0, 0, time.Local)
		}
	}
	return &Reconciler{
		logger:  logger,
		finder:  finder,
		opts:    opts,
		metrics: metrics.Get(),
	}
}

// NormalizeMode maps a free-form commute mode onto a travel mode by substring match.
// Unrecognised values default to TRANSIT.
func NormalizeMode(mode string) types.TravelMode {
	m := strings.ToLower(mode)
	switch {
	case containsAny(m, "walk", "foot"):
		return types.ModeWalk
	case containsAny(m, "bike", "cycl"):
		return types.ModeBicycle
	case containsAny(m, "drive", "driving", "car", "taxi"):
		return types.ModeDrive
	case containsAny(m, "transit", "metro", "subway", "bus", "train", "tram", "rail"):
		return types.ModeTransit
	}
	return types.ModeTransit
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// FormatDuration renders d as "H Hours M Minutes", dropping zero parts, or "S Seconds" under a minute.
func FormatDuration(d time.Duration) string {
	total := int(d.Round(time.Second) / time.Second)
	hours, minutes, seconds := total/3600, (total%3600)/60, total%60

	var parts []string
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%d Hours", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%d Minutes", minutes))
	}
	if len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%d Seconds", seconds))
	}
	return strings.Join(parts, " ")
}

// SortLegs orders legs by day then start time. Legs with an unparsable start keep their relative position.
func SortLegs(legs []types.ItineraryLeg) {
	sort.SliceStable(legs, func(i, j int) bool {
		if legs[i].Date != legs[j].Date {
			return legs[i].Date < legs[j].Date
		}
		a, errA := types.ParseClock(legs[i].StartTime)
		b, errB := types.ParseClock(legs[j].StartTime)
		if errA != nil || errB != nil {
			return false
		}
		return a < b
	})
}

// Reconcile returns a sorted copy of legs in which every commute leg between two visits is timed to
// reach the next visit at its start. A leg whose route cannot be found is left untouched.
func (r *Reconciler) Reconcile(ctx context.Context, legs []types.ItineraryLeg) []types.ItineraryLeg {
	ctx, span := otel.Tracer("ItineraryReconciler").Start(ctx, "Reconcile", trace.WithAttributes(
		attribute.Int("legs.count", len(legs)),
	))
	defer span.End()

	out := make([]types.ItineraryLeg, len(legs))
	copy(out, legs)
	SortLegs(out)

	base := r.opts.BaseDate()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Parallelism)
	for i := range out {
		if !interiorCommute(out, i) {
			continue
		}
		g.Go(func() error {
			// visits are never written, so neighbours are safe to read concurrently
			r.reconcileLeg(gctx, &out[i], out[i-1], out[i+1], base)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func interiorCommute(legs []types.ItineraryLeg, i int) bool {
	if legs[i].Type != types.LegCommute || i == 0 || i == len(legs)-1 {
		return false
	}
	prev, next := legs[i-1], legs[i+1]
	return prev.Type == types.LegVisit && next.Type == types.LegVisit &&
		prev.PlaceName != "" && next.PlaceName != ""
}

func (r *Reconciler) reconcileLeg(ctx context.Context, leg *types.ItineraryLeg, prev, next types.ItineraryLeg, base time.Time) {
	arrivalMin, err := types.ParseClock(next.StartTime)
	if err != nil {
		r.logger.WarnContext(ctx, "Skipping commute with unparsable arrival", slog.String("to", next.PlaceName), slog.Any("error", err))
		return
	}
	day := next.Date
	if day < 1 {
		day = 1
	}
	arrival := base.AddDate(0, 0, day-1).Add(time.Duration(arrivalMin) * time.Minute)

	route := r.lookup(ctx, prev.PlaceName, next.PlaceName, NormalizeMode(leg.CommuteMode), arrival)
	if route == nil {
		r.logger.InfoContext(ctx, "No route found, keeping commute times",
			slog.String("from", prev.PlaceName), slog.String("to", next.PlaceName))
		return
	}

	minutes := int((route.Duration + time.Minute - 1) / time.Minute)
	leg.StartTime = types.FormatClock(arrivalMin - minutes)
	leg.EndTime = next.StartTime
	leg.CommuteMode = string(route.Mode)
	leg.RouteSteps = nil
	if route.Mode == types.ModeTransit {
		leg.RouteSteps = route.Steps
	}
}

// lookup tries the requested mode, then WALK when nothing was found, then DRIVE when the walk is
// longer than the walk limit.
func (r *Reconciler) lookup(ctx context.Context, origin, destination string, mode types.TravelMode, arrival time.Time) *Route {
	route := r.find(ctx, origin, destination, mode, arrival)
	if route == nil && mode != types.ModeWalk {
		route = r.find(ctx, origin, destination, types.ModeWalk, arrival)
	}
	if route != nil && route.Mode == types.ModeWalk && route.Duration > r.opts.WalkLimit {
		if drive := r.find(ctx, origin, destination, types.ModeDrive, arrival); drive != nil {
			route = drive
		}
	}
	return route
}

func (r *Reconciler) find(ctx context.Context, origin, destination string, mode types.TravelMode, arrival time.Time) *Route {
	route, err := r.finder.RouteTime(ctx, origin, destination, mode, arrival)
	switch {
	case err != nil:
		r.logger.WarnContext(ctx, "Route lookup failed",
			slog.String("from", origin), slog.String("to", destination),
			slog.String("mode", string(mode)), slog.Any("error", err))
		r.metrics.RouteLookup(ctx, string(mode), "error")
		return nil
	case route == nil || route.Duration <= 0:
		r.metrics.RouteLookup(ctx, string(mode), "empty")
		return nil
	}
	if route.Mode == "" {
		route.Mode = mode
	}
	r.metrics.RouteLookup(ctx, string(mode), "found")
	return route
}
