package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricEventsReceivedTotal   = "copytrader_events_received_total"
	MetricEventsReplayedTotal   = "copytrader_events_replayed_total"
	MetricOrdersReplicatedTotal = "copytrader_orders_replicated_total"
	MetricReplicationsFailed    = "copytrader_replications_failed_total"
	MetricCommandsTotal         = "copytrader_commands_total"
	MetricCommandLatency        = "copytrader_command_latency_ms"
	MetricCircuitBreakerOpen    = "copytrader_circuit_breaker_open"
	MetricStreamConnected       = "copytrader_stream_connected"
	MetricEventQueueDepth       = "copytrader_event_queue_depth"
	MetricWatermarkLagSeconds   = "copytrader_watermark_lag_seconds"
	MetricOCOCancelsTotal       = "copytrader_oco_cancels_total"
)

// MetricsHolder holds initialized instruments.
type MetricsHolder struct {
	EventsReceivedTotal   metric.Int64Counter
	EventsReplayedTotal   metric.Int64Counter
	OrdersReplicatedTotal metric.Int64Counter
	ReplicationsFailed    metric.Int64Counter
	CommandsTotal         metric.Int64Counter
	CommandLatency        metric.Float64Histogram
	OCOCancelsTotal       metric.Int64Counter
	CircuitBreakerOpen    metric.Int64ObservableGauge
	StreamConnected       metric.Int64ObservableGauge
	EventQueueDepth       metric.Int64ObservableGauge
	WatermarkLagSeconds   metric.Float64ObservableGauge

	// State for observable gauges
	mu              sync.RWMutex
	cbOpen          int64
	streamConnected int64
	queueDepth      int64
	watermarkLag    float64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{}
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter.
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.EventsReceivedTotal, err = meter.Int64Counter(MetricEventsReceivedTotal,
		metric.WithDescription("Leader order events received from the stream"))
	if err != nil {
		return err
	}

	m.EventsReplayedTotal, err = meter.Int64Counter(MetricEventsReplayedTotal,
		metric.WithDescription("Leader order events replayed by gap recovery"))
	if err != nil {
		return err
	}

	m.OrdersReplicatedTotal, err = meter.Int64Counter(MetricOrdersReplicatedTotal,
		metric.WithDescription("Follower orders placed successfully"))
	if err != nil {
		return err
	}

	m.ReplicationsFailed, err = meter.Int64Counter(MetricReplicationsFailed,
		metric.WithDescription("Replication decisions recorded as failed"))
	if err != nil {
		return err
	}

	m.CommandsTotal, err = meter.Int64Counter(MetricCommandsTotal,
		metric.WithDescription("Outbound follower commands by action and outcome"))
	if err != nil {
		return err
	}

	m.CommandLatency, err = meter.Float64Histogram(MetricCommandLatency,
		metric.WithDescription("Latency of outbound follower commands"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.OCOCancelsTotal, err = meter.Int64Counter(MetricOCOCancelsTotal,
		metric.WithDescription("Sibling leg cancellations issued by OCO handling"))
	if err != nil {
		return err
	}

	m.CircuitBreakerOpen, err = meter.Int64ObservableGauge(MetricCircuitBreakerOpen,
		metric.WithDescription("Dispatcher circuit breaker open state (1=open, 0=closed)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.cbOpen)
			return nil
		}))
	if err != nil {
		return err
	}

	m.StreamConnected, err = meter.Int64ObservableGauge(MetricStreamConnected,
		metric.WithDescription("Stream connectivity (1=live, 0=not live)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.streamConnected)
			return nil
		}))
	if err != nil {
		return err
	}

	m.EventQueueDepth, err = meter.Int64ObservableGauge(MetricEventQueueDepth,
		metric.WithDescription("Events waiting in the replication queue"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.queueDepth)
			return nil
		}))
	if err != nil {
		return err
	}

	m.WatermarkLagSeconds, err = meter.Float64ObservableGauge(MetricWatermarkLagSeconds,
		metric.WithDescription("Age of the durable replication watermark"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.watermarkLag)
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// AddEventsReceived counts leader events arriving from the stream.
func (m *MetricsHolder) AddEventsReceived(ctx context.Context, n int64) {
	if m.EventsReceivedTotal != nil {
		m.EventsReceivedTotal.Add(ctx, n)
	}
}

// AddEventsReplayed counts events delivered by gap recovery.
func (m *MetricsHolder) AddEventsReplayed(ctx context.Context, n int64) {
	if m.EventsReplayedTotal != nil {
		m.EventsReplayedTotal.Add(ctx, n)
	}
}

// AddOrderReplicated counts one successful follower placement.
func (m *MetricsHolder) AddOrderReplicated(ctx context.Context) {
	if m.OrdersReplicatedTotal != nil {
		m.OrdersReplicatedTotal.Add(ctx, 1)
	}
}

// AddReplicationFailed counts one failed replication decision.
func (m *MetricsHolder) AddReplicationFailed(ctx context.Context) {
	if m.ReplicationsFailed != nil {
		m.ReplicationsFailed.Add(ctx, 1)
	}
}

// AddOCOCancel counts one sibling leg cancellation.
func (m *MetricsHolder) AddOCOCancel(ctx context.Context) {
	if m.OCOCancelsTotal != nil {
		m.OCOCancelsTotal.Add(ctx, 1)
	}
}

// RecordCommand increments the command counter and latency histogram.
func (m *MetricsHolder) RecordCommand(ctx context.Context, action, outcome string, latencyMS float64) {
	if m.CommandsTotal != nil {
		m.CommandsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("outcome", outcome),
		))
	}
	if m.CommandLatency != nil {
		m.CommandLatency.Record(ctx, latencyMS, metric.WithAttributes(
			attribute.String("action", action),
		))
	}
}

// SetCircuitBreakerOpen updates the breaker gauge.
func (m *MetricsHolder) SetCircuitBreakerOpen(open bool) {
	val := int64(0)
	if open {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cbOpen = val
}

// SetStreamConnected updates the stream connectivity gauge.
func (m *MetricsHolder) SetStreamConnected(connected bool) {
	val := int64(0)
	if connected {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamConnected = val
}

// SetEventQueueDepth updates the queue depth gauge.
func (m *MetricsHolder) SetEventQueueDepth(depth int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueDepth = depth
}

// SetWatermarkLag updates the watermark lag gauge.
func (m *MetricsHolder) SetWatermarkLag(seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watermarkLag = seconds
}
