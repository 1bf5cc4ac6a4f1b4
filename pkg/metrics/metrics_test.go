package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"wallpapers/pkg/fault"
	"wallpapers/pkg/retry"
)

func TestMetricsCountOutcomes(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Done("documents", "read", time.Now(), nil)
	m.Done("documents", "read", time.Now(), errors.New("client is offline"))
	m.Observer("documents")(retry.Attempt{Op: "read", N: 1, Class: fault.Network})
	m.Compensation("failed")

	if got := testutil.ToFloat64(m.operations.WithLabelValues("documents", "read", "ok")); got != 1 {
		t.Fatalf("expected one ok operation, got %v", got)
	}
	if got := testutil.ToFloat64(m.operations.WithLabelValues("documents", "read", "network")); got != 1 {
		t.Fatalf("expected one network failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.failures.WithLabelValues("documents", "read", "network")); got != 1 {
		t.Fatalf("expected one failed attempt, got %v", got)
	}
	if got := testutil.ToFloat64(m.compensations.WithLabelValues("failed")); got != 1 {
		t.Fatalf("expected one failed compensation, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Done("x", "y", time.Now(), nil)
	m.Compensation("ok")
	m.Notification(fault.Network, true)
	m.Observer("x")(retry.Attempt{})
}
