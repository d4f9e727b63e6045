package telemetry

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics groups the marketplace counters. All record methods are nil-safe so
// components can run without telemetry wired.
type Metrics struct {
	ordersCreated metric.Int64Counter
	settlements   metric.Int64Counter
	webhooks      metric.Int64Counter
}

// NewMetrics registers the marketplace instruments on the provided meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	ordersCreated, err := meter.Int64Counter("marketplace_orders_created_total",
		metric.WithDescription("Orders created by intake, labelled by payment method"),
		metric.WithUnit("{order}"))
	if err != nil {
		return nil, fmt.Errorf("register orders counter: %w", err)
	}
	settlements, err := meter.Int64Counter("marketplace_settlements_total",
		metric.WithDescription("Settlement outcomes by method, result, and rejection reason"),
		metric.WithUnit("{settlement}"))
	if err != nil {
		return nil, fmt.Errorf("register settlements counter: %w", err)
	}
	webhooks, err := meter.Int64Counter("marketplace_webhooks_total",
		metric.WithDescription("Webhook deliveries by provider and handling outcome"),
		metric.WithUnit("{webhook}"))
	if err != nil {
		return nil, fmt.Errorf("register webhooks counter: %w", err)
	}
	return &Metrics{ordersCreated: ordersCreated, settlements: settlements, webhooks: webhooks}, nil
}

// RecordOrderCreated counts one successfully created order.
func (m *Metrics) RecordOrderCreated(ctx context.Context, method string) {
	if m == nil || m.ordersCreated == nil {
		return
	}
	m.ordersCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

// RecordSettlement counts one settlement verdict.
func (m *Metrics) RecordSettlement(ctx context.Context, method, result, reason string) {
	if m == nil || m.settlements == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("result", result),
	}
	if strings.TrimSpace(reason) != "" {
		attrs = append(attrs, attribute.String("reason", reason))
	}
	m.settlements.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordWebhook counts one inbound webhook delivery.
func (m *Metrics) RecordWebhook(ctx context.Context, provider, outcome string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome)))
}
