package sysmon

import (
	"context"
	"math"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"pkt.systems/pslog"
)

type monitorMetrics struct {
	sample           metric.Int64Counter
	requestsInflight metric.Int64ObservableGauge
	upstreamInflight metric.Int64ObservableGauge
	rssBytes         metric.Int64ObservableGauge
	swapBytes        metric.Int64ObservableGauge
	memoryPercent    metric.Float64ObservableGauge
	swapPercent      metric.Float64ObservableGauge
	cpuPercent       metric.Float64ObservableGauge
	load             metric.Float64ObservableGauge
	goroutines       metric.Int64ObservableGauge

	snapshot atomic.Value
}

func newMonitorMetrics(logger pslog.Logger) *monitorMetrics {
	meter := otel.Meter("pkt.systems/mcpbridge/sysmon")
	m := &monitorMetrics{}
	var err error

	m.sample, err = meter.Int64Counter(
		"mcpbridge.sysmon.sample",
		metric.WithDescription("System monitor samples collected"),
	)
	logMetricInitError(logger, "mcpbridge.sysmon.sample", err)

	m.requestsInflight, err = meter.Int64ObservableGauge(
		"mcpbridge.sysmon.requests.inflight",
		metric.WithDescription("Gateway requests in flight"),
	)
	logMetricInitError(logger, "mcpbridge.sysmon.requests.inflight", err)

	m.upstreamInflight, err = meter.Int64ObservableGauge(
		"mcpbridge.sysmon.upstream.inflight",
		metric.WithDescription("Upstream RPC calls in flight"),
	)
	logMetricInitError(logger, "mcpbridge.sysmon.upstream.inflight", err)

	m.rssBytes, err = meter.Int64ObservableGauge(
		"mcpbridge.sysmon.rss.bytes",
		metric.WithDescription("Process RSS bytes"),
		metric.WithUnit("By"),
	)
	logMetricInitError(logger, "mcpbridge.sysmon.rss.bytes", err)

	m.swapBytes, err = meter.Int64ObservableGauge(
		"mcpbridge.sysmon.swap.bytes",
		metric.WithDescription("System swap bytes in use"),
		metric.WithUnit("By"),
	)
	logMetricInitError(logger, "mcpbridge.sysmon.swap.bytes", err)

	m.memoryPercent, err = meter.Float64ObservableGauge(
		"mcpbridge.sysmon.memory.percent",
		metric.WithDescription("System memory used percent"),
	)
	logMetricInitError(logger, "mcpbridge.sysmon.memory.percent", err)

	m.swapPercent, err = meter.Float64ObservableGauge(
		"mcpbridge.sysmon.swap.percent",
		metric.WithDescription("System swap used percent"),
	)
	logMetricInitError(logger, "mcpbridge.sysmon.swap.percent", err)

	m.cpuPercent, err = meter.Float64ObservableGauge(
		"mcpbridge.sysmon.cpu.percent",
		metric.WithDescription("System CPU percent"),
	)
	logMetricInitError(logger, "mcpbridge.sysmon.cpu.percent", err)

	m.load, err = meter.Float64ObservableGauge(
		"mcpbridge.sysmon.load",
		metric.WithDescription("System load average"),
	)
	logMetricInitError(logger, "mcpbridge.sysmon.load", err)

	m.goroutines, err = meter.Int64ObservableGauge(
		"mcpbridge.sysmon.goroutines",
		metric.WithDescription("Goroutine count"),
	)
	logMetricInitError(logger, "mcpbridge.sysmon.goroutines", err)

	if _, err := meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		m.observe(ctx, o)
		return nil
	}, m.requestsInflight, m.upstreamInflight, m.rssBytes, m.swapBytes, m.memoryPercent, m.swapPercent, m.cpuPercent, m.load, m.goroutines); err != nil && logger != nil {
		logger.Warn("telemetry.metric.callback_failed", "name", "mcpbridge.sysmon.metrics", "error", err)
	}

	return m
}

func (m *monitorMetrics) recordSample(ctx context.Context, snapshot Snapshot) {
	if m == nil {
		return
	}
	m.snapshot.Store(snapshot)
	if m.sample != nil {
		m.sample.Add(metricContext(ctx), 1)
	}
}

func (m *monitorMetrics) observe(_ context.Context, o metric.Observer) {
	if m == nil {
		return
	}
	raw := m.snapshot.Load()
	if raw == nil {
		return
	}
	snapshot, ok := raw.(Snapshot)
	if !ok {
		return
	}
	if m.requestsInflight != nil {
		o.ObserveInt64(m.requestsInflight, snapshot.RequestsInflight)
	}
	if m.upstreamInflight != nil {
		o.ObserveInt64(m.upstreamInflight, snapshot.UpstreamInflight)
	}
	if m.rssBytes != nil {
		o.ObserveInt64(m.rssBytes, clampUint64(snapshot.RSSBytes))
	}
	if m.swapBytes != nil {
		o.ObserveInt64(m.swapBytes, clampUint64(snapshot.SwapBytes))
	}
	if m.memoryPercent != nil {
		o.ObserveFloat64(m.memoryPercent, snapshot.SystemMemoryUsedPercent)
	}
	if m.swapPercent != nil {
		o.ObserveFloat64(m.swapPercent, snapshot.SystemSwapUsedPercent)
	}
	if m.cpuPercent != nil {
		o.ObserveFloat64(m.cpuPercent, snapshot.SystemCPUPercent)
	}
	if m.load != nil {
		o.ObserveFloat64(m.load, snapshot.SystemLoad1, metric.WithAttributes(attribute.String("mcpbridge.load.window", "1")))
		o.ObserveFloat64(m.load, snapshot.SystemLoad5, metric.WithAttributes(attribute.String("mcpbridge.load.window", "5")))
		o.ObserveFloat64(m.load, snapshot.SystemLoad15, metric.WithAttributes(attribute.String("mcpbridge.load.window", "15")))
	}
	if m.goroutines != nil {
		o.ObserveInt64(m.goroutines, int64(snapshot.Goroutines))
	}
}

func clampUint64(value uint64) int64 {
	if value > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(value)
}

func metricContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func logMetricInitError(logger pslog.Logger, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("telemetry.metric.init_failed", "name", name, "error", err)
}
