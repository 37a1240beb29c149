package otel

import (
	"context"
	"testing"
	"time"
)

func TestInitMetrics_Records(t *testing.T) {
	ctx := context.Background()
	if _, err := InitMeterProvider(ctx, "metrics-test"); err != nil {
		t.Fatalf("InitMeterProvider: %v", err)
	}
	if err := InitMetrics(ctx); err != nil {
		t.Fatalf("InitMetrics: %v", err)
	}
	RecordToolDispatch(ctx, "read_file", "ok", 3*time.Millisecond)
	RecordTaskRun(ctx, "moderate", "completed", 2*time.Second)
	RecordIteration(ctx, "simple")
	RecordModelRetry(ctx, 429)
	RecordCompaction(ctx)
	RecordIRACPhase(ctx, "issue")
	RecordStreamDelivery(ctx, "http", "ok")
	RecordSSEEvent(ctx)
}

func TestAddSSEConnection_RemoveSSEConnection(t *testing.T) {
	AddSSEConnection()
	AddSSEConnection()
	RemoveSSEConnection()
	RemoveSSEConnection()
	RemoveSSEConnection()
	sseConnectionsMu.Lock()
	n := sseConnections
	sseConnectionsMu.Unlock()
	if n != 0 {
		t.Fatalf("sseConnections=%d, want 0", n)
	}
}

func TestInitMetricsWithTaskCount(t *testing.T) {
	ctx := context.Background()
	_, _ = InitMeterProvider(ctx, "taskcount-test")
	err := InitMetricsWithTaskCount(ctx, func() map[string]int64 {
		return map[string]int64{"pending": 2, "running": 1}
	})
	if err != nil {
		t.Fatalf("InitMetricsWithTaskCount: %v", err)
	}
	if err := InitMetricsWithTaskCount(ctx, nil); err != nil {
		t.Fatalf("InitMetricsWithTaskCount(nil): %v", err)
	}
}
