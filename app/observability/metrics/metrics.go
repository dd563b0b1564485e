package metrics

import (
	"context"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AppMetrics holds the application's metric instruments.
type AppMetrics struct {
	CacheRequestsTotal     metric.Int64Counter
	EnrichmentRunsTotal    metric.Int64Counter
	BackgroundTaskFailures metric.Int64Counter
	RouteLookupsTotal      metric.Int64Counter
	TurnDurationSeconds    metric.Float64Histogram
	DbQueryDurationSeconds metric.Float64Histogram
	DbQueryErrorsTotal     metric.Int64Counter
}

var (
	appMetrics *AppMetrics
	once       sync.Once
)

// InitAppMetrics initializes the global metrics instruments ONLY ONCE.
// It gets the Meter from the globally configured MeterProvider, so it must run after the
// tracer package installed the SDK provider to export anything.
func InitAppMetrics() {
	once.Do(func() {
		meter := otel.GetMeterProvider().Meter("TripPlanner")
		var err error
		m := &AppMetrics{}

		m.CacheRequestsTotal, err = meter.Int64Counter(
			"cache_requests_total",
			metric.WithDescription("Ephemeral cache lookups by kind and result"),
			metric.WithUnit("{request}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create cache_requests_total: %v", err)
		}

		m.EnrichmentRunsTotal, err = meter.Int64Counter(
			"place_enrichment_runs_total",
			metric.WithDescription("Place enrichment attempts by outcome"),
			metric.WithUnit("{run}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create place_enrichment_runs_total: %v", err)
		}

		m.BackgroundTaskFailures, err = meter.Int64Counter(
			"background_task_failures_total",
			metric.WithDescription("Detached background tasks that returned an error"),
			metric.WithUnit("{task}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create background_task_failures_total: %v", err)
		}

		m.RouteLookupsTotal, err = meter.Int64Counter(
			"route_lookups_total",
			metric.WithDescription("Route time lookups by requested mode and result"),
			metric.WithUnit("{lookup}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create route_lookups_total: %v", err)
		}

		m.TurnDurationSeconds, err = meter.Float64Histogram(
			"planner_turn_duration_seconds",
			metric.WithDescription("Duration of one conversational turn in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create planner_turn_duration_seconds: %v", err)
		}

		m.DbQueryDurationSeconds, err = meter.Float64Histogram(
			"db_query_duration_seconds",
			metric.WithDescription("Duration of database queries in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create db_query_duration_seconds: %v", err)
		}

		m.DbQueryErrorsTotal, err = meter.Int64Counter(
			"db_query_errors_total",
			metric.WithDescription("Total number of database query errors"),
			metric.WithUnit("{error}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create db_query_errors_total: %v", err)
		}

		appMetrics = m
	})
}

// Get returns the global instruments, creating them against the current provider on first use.
// Without an SDK provider the instruments are no-ops, which is what tests run with.
func Get() *AppMetrics {
	InitAppMetrics()
	return appMetrics
}

func (m *AppMetrics) CacheHit(ctx context.Context, kind string) {
	m.cacheResult(ctx, kind, "hit")
}

func (m *AppMetrics) CacheMiss(ctx context.Context, kind string) {
	m.cacheResult(ctx, kind, "miss")
}

func (m *AppMetrics) cacheResult(ctx context.Context, kind, result string) {
	if m == nil {
		return
	}
	m.CacheRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("result", result),
	))
}

func (m *AppMetrics) Enrichment(ctx context.Context, placeType, outcome string) {
	if m == nil {
		return
	}
	m.EnrichmentRunsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("place.type", placeType),
		attribute.String("outcome", outcome),
	))
}

func (m *AppMetrics) TaskFailed(ctx context.Context, task string) {
	if m == nil {
		return
	}
	m.BackgroundTaskFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("task", task)))
}

func (m *AppMetrics) RouteLookup(ctx context.Context, mode, result string) {
	if m == nil {
		return
	}
	m.RouteLookupsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("result", result),
	))
}

func (m *AppMetrics) TurnDuration(ctx context.Context, action string, seconds float64) {
	if m == nil {
		return
	}
	m.TurnDurationSeconds.Record(ctx, seconds, metric.WithAttributes(attribute.String("action", action)))
}

func (m *AppMetrics) DbQuery(ctx context.Context, table, operation string, seconds float64, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("db.sql.table", table),
		attribute.String("db.operation", operation),
	)
	m.DbQueryDurationSeconds.Record(ctx, seconds, attrs)
	if err != nil {
		m.DbQueryErrorsTotal.Add(ctx, 1, attrs)
	}
}
