package mcpmgr

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/vikashloomba/mcp-supervisor-go/pkg/mcpmgr"

// supervisorMetrics records supervisor signals into OpenTelemetry. A nil
// receiver records nothing.
type supervisorMetrics struct {
	toolCalls metric.Int64Counter
	latency   metric.Float64Histogram
	services  metric.Int64UpDownCounter
	evictions metric.Int64Counter
	sweeps    metric.Int64Counter
}

func newSupervisorMetrics(provider metric.MeterProvider) (*supervisorMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	toolCalls, err := meter.Int64Counter(
		"mcp.supervisor.tool.calls",
		metric.WithDescription("Number of tool calls dispatched to servers"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(
		"mcp.supervisor.tool.latency",
		metric.WithDescription("Tool call latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	services, err := meter.Int64UpDownCounter(
		"mcp.supervisor.services",
		metric.WithDescription("Number of registered servers"),
	)
	if err != nil {
		return nil, err
	}
	evictions, err := meter.Int64Counter(
		"mcp.supervisor.evictions",
		metric.WithDescription("Number of servers evicted by their monitor"),
	)
	if err != nil {
		return nil, err
	}
	sweeps, err := meter.Int64Counter(
		"mcp.supervisor.cleanup.removed",
		metric.WithDescription("Number of orphaned entries removed by the cleanup sweep"),
	)
	if err != nil {
		return nil, err
	}
	return &supervisorMetrics{
		toolCalls: toolCalls,
		latency:   latency,
		services:  services,
		evictions: evictions,
		sweeps:    sweeps,
	}, nil
}

func (m *supervisorMetrics) observeCall(server, tool, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	opts := metric.WithAttributes(
		attribute.String("server", server),
		attribute.String("tool", tool),
		attribute.String("outcome", outcome),
	)
	ctx := context.Background()
	m.toolCalls.Add(ctx, 1, opts)
	m.latency.Record(ctx, elapsed.Seconds(), opts)
}

func (m *supervisorMetrics) serviceAdded(server string) {
	if m == nil {
		return
	}
	m.services.Add(context.Background(), 1, metric.WithAttributes(attribute.String("server", server)))
}

func (m *supervisorMetrics) serviceRemoved(server string) {
	if m == nil {
		return
	}
	m.services.Add(context.Background(), -1, metric.WithAttributes(attribute.String("server", server)))
}

func (m *supervisorMetrics) observeEviction(server, reason string) {
	if m == nil {
		return
	}
	m.evictions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("server", server),
		attribute.String("reason", reason),
	))
}

func (m *supervisorMetrics) observeSweep(kind string, removed int) {
	if m == nil || removed == 0 {
		return
	}
	m.sweeps.Add(context.Background(), int64(removed), metric.WithAttributes(attribute.String("kind", kind)))
}
