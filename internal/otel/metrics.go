package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce      sync.Once
	toolDispatchCounter  metric.Int64Counter
	toolDispatchDuration metric.Float64Histogram
	taskRunsCounter      metric.Int64Counter
	taskRunDuration      metric.Float64Histogram
	iterationsCounter    metric.Int64Counter
	modelRetriesCounter  metric.Int64Counter
	compactionsCounter   metric.Int64Counter
	iracPhasesCounter    metric.Int64Counter
	streamDeliveries     metric.Int64Counter
	sseEventsCounter     metric.Int64Counter
	sseConnectionsGauge  metric.Int64ObservableGauge
	sseConnections       int64
	sseConnectionsMu     sync.Mutex
)

// InitMetrics creates the meter instruments once. Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		if toolDispatchCounter, err = m.Int64Counter("counsel_tool_dispatch_total", metric.WithDescription("Tool calls dispatched by name and outcome")); err != nil {
			return
		}
		if toolDispatchDuration, err = m.Float64Histogram("counsel_tool_dispatch_duration_seconds", metric.WithDescription("Tool call latency in seconds")); err != nil {
			return
		}
		if taskRunsCounter, err = m.Int64Counter("counsel_task_runs_total", metric.WithDescription("Agent task runs by terminal status")); err != nil {
			return
		}
		if taskRunDuration, err = m.Float64Histogram("counsel_task_run_duration_seconds", metric.WithDescription("Agent task wall time in seconds")); err != nil {
			return
		}
		if iterationsCounter, err = m.Int64Counter("counsel_agent_iterations_total", metric.WithDescription("Model round trips made by the agent loop")); err != nil {
			return
		}
		if modelRetriesCounter, err = m.Int64Counter("counsel_model_retries_total", metric.WithDescription("Retried model requests by HTTP status")); err != nil {
			return
		}
		if compactionsCounter, err = m.Int64Counter("counsel_compactions_total", metric.WithDescription("Conversation compactions")); err != nil {
			return
		}
		if iracPhasesCounter, err = m.Int64Counter("counsel_irac_phases_total", metric.WithDescription("IRAC phases recorded")); err != nil {
			return
		}
		if streamDeliveries, err = m.Int64Counter("counsel_stream_deliveries_total", metric.WithDescription("Progress event batches delivered by sink and outcome")); err != nil {
			return
		}
		if sseEventsCounter, err = m.Int64Counter("counsel_sse_events_total", metric.WithDescription("Total SSE events published")); err != nil {
			return
		}
		if sseConnectionsGauge, err = m.Int64ObservableGauge("counsel_sse_connections", metric.WithDescription("Current SSE subscriber count")); err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			sseConnectionsMu.Lock()
			n := sseConnections
			sseConnectionsMu.Unlock()
			o.ObserveInt64(sseConnectionsGauge, n)
			return nil
		}, sseConnectionsGauge)
	})
	return err
}

// RecordToolDispatch records one tool call.
func RecordToolDispatch(ctx context.Context, tool, outcome string, d time.Duration) {
	if toolDispatchCounter != nil {
		toolDispatchCounter.Add(ctx, 1, metric.WithAttributes(AttrTool.String(tool), AttrOutcome.String(outcome)))
	}
	if toolDispatchDuration != nil {
		toolDispatchDuration.Record(ctx, d.Seconds(), metric.WithAttributes(AttrTool.String(tool)))
	}
}

// RecordTaskRun records a finished agent run.
func RecordTaskRun(ctx context.Context, complexity, status string, d time.Duration) {
	if taskRunsCounter != nil {
		taskRunsCounter.Add(ctx, 1, metric.WithAttributes(AttrComplexity.String(complexity), AttrStatus.String(status)))
	}
	if taskRunDuration != nil {
		taskRunDuration.Record(ctx, d.Seconds(), metric.WithAttributes(AttrComplexity.String(complexity)))
	}
}

func RecordIteration(ctx context.Context, complexity string) {
	if iterationsCounter != nil {
		iterationsCounter.Add(ctx, 1, metric.WithAttributes(AttrComplexity.String(complexity)))
	}
}

// RecordModelRetry records a retried chat request; status 0 means a transport error.
func RecordModelRetry(ctx context.Context, status int) {
	if modelRetriesCounter != nil {
		modelRetriesCounter.Add(ctx, 1, metric.WithAttributes(AttrStatus.Int(status)))
	}
}

func RecordCompaction(ctx context.Context) {
	if compactionsCounter != nil {
		compactionsCounter.Add(ctx, 1)
	}
}

func RecordIRACPhase(ctx context.Context, phase string) {
	if iracPhasesCounter != nil {
		iracPhasesCounter.Add(ctx, 1, metric.WithAttributes(AttrPhase.String(phase)))
	}
}

// RecordStreamDelivery records one batch handed to a progress sink.
func RecordStreamDelivery(ctx context.Context, sink, outcome string) {
	if streamDeliveries != nil {
		streamDeliveries.Add(ctx, 1, metric.WithAttributes(AttrSink.String(sink), AttrOutcome.String(outcome)))
	}
}

// RecordSSEEvent records one SSE event published.
func RecordSSEEvent(ctx context.Context) {
	if sseEventsCounter != nil {
		sseEventsCounter.Add(ctx, 1)
	}
}

// AddSSEConnection adds 1 to the SSE connection gauge.
func AddSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections++
	sseConnectionsMu.Unlock()
}

// RemoveSSEConnection subtracts 1 from the SSE connection gauge.
func RemoveSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections--
	if sseConnections < 0 {
		sseConnections = 0
	}
	sseConnectionsMu.Unlock()
}

// TaskCountFunc returns queue counts keyed by task status.
type TaskCountFunc func() map[string]int64

// InitMetricsWithTaskCount creates instruments and, when taskCount is
// non-nil, a gauge of queued tasks by status.
func InitMetricsWithTaskCount(ctx context.Context, taskCount TaskCountFunc) error {
	if err := InitMetrics(ctx); err != nil {
		return err
	}
	if taskCount == nil {
		return nil
	}
	m := Meter()
	gauge, err := m.Int64ObservableGauge("counsel_tasks", metric.WithDescription("Queued tasks by status"))
	if err != nil {
		return err
	}
	_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		for status, n := range taskCount() {
			o.ObserveInt64(gauge, n, metric.WithAttributes(AttrStatus.String(status)))
		}
		return nil
	}, gauge)
	return err
}
