package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func subgraphNameAttr(name string) attribute.KeyValue {
	return attribute.String("subgraph.name", name)
}

// Metrics groups the gauges/counters the router exposes, mirroring the
// service-update error gauge/counter pair used by other federation
// gateways to track subgraph schema-fetch health alongside request counts.
type Metrics struct {
	inflightRequests     metric.Int64UpDownCounter
	subgraphErrorCounter metric.Int64Counter
	subgraphErrorGauge   metric.Int64Gauge
	planCacheHitCounter  metric.Int64Counter
	planCacheMissCounter metric.Int64Counter
}

// NewMetrics creates the router's instruments off of the global meter
// provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.GetMeterProvider().Meter("github.com/n9te9/federation-router")

	inflight, err := meter.Int64UpDownCounter(
		"federation_router.http.inflight_requests",
		metric.WithDescription("number of requests currently being executed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create inflight counter: %w", err)
	}

	errCounter, err := meter.Int64Counter(
		"federation_router.subgraph.errors_total",
		metric.WithDescription("count of failed subgraph requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create subgraph error counter: %w", err)
	}

	errGauge, err := meter.Int64Gauge(
		"federation_router.subgraph.error_state",
		metric.WithDescription("1 if the last request to a subgraph failed, 0 otherwise"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create subgraph error gauge: %w", err)
	}

	hitCounter, err := meter.Int64Counter(
		"federation_router.plan_cache.hits_total",
		metric.WithDescription("count of query plan cache hits"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create plan cache hit counter: %w", err)
	}

	missCounter, err := meter.Int64Counter(
		"federation_router.plan_cache.misses_total",
		metric.WithDescription("count of query plan cache misses"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create plan cache miss counter: %w", err)
	}

	return &Metrics{
		inflightRequests:     inflight,
		subgraphErrorCounter: errCounter,
		subgraphErrorGauge:   errGauge,
		planCacheHitCounter:  hitCounter,
		planCacheMissCounter: missCounter,
	}, nil
}

func (m *Metrics) RequestStarted(ctx context.Context) {
	m.inflightRequests.Add(ctx, 1)
}

func (m *Metrics) RequestFinished(ctx context.Context) {
	m.inflightRequests.Add(ctx, -1)
}

func (m *Metrics) SubgraphRequestFailed(ctx context.Context, subgraphName string) {
	m.subgraphErrorCounter.Add(ctx, 1, metric.WithAttributes(subgraphNameAttr(subgraphName)))
	m.subgraphErrorGauge.Record(ctx, 1, metric.WithAttributes(subgraphNameAttr(subgraphName)))
}

func (m *Metrics) SubgraphRequestSucceeded(ctx context.Context, subgraphName string) {
	m.subgraphErrorGauge.Record(ctx, 0, metric.WithAttributes(subgraphNameAttr(subgraphName)))
}

func (m *Metrics) PlanCacheHit(ctx context.Context) {
	m.planCacheHitCounter.Add(ctx, 1)
}

func (m *Metrics) PlanCacheMiss(ctx context.Context) {
	m.planCacheMissCounter.Add(ctx, 1)
}
