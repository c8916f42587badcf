package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func metricCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	if m.Counter == nil {
		t.Fatal("expected counter metric to have Counter field")
	}
	return m.GetCounter().GetValue()
}

func metricGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	if m.Gauge == nil {
		t.Fatal("expected gauge metric to have Gauge field")
	}
	return m.GetGauge().GetValue()
}

func metricHistogramCount(t *testing.T, h prometheus.Histogram) uint64 {
	t.Helper()
	var m dto.Metric
	if err := h.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	if m.Histogram == nil {
		t.Fatal("expected histogram metric to have Histogram field")
	}
	return m.GetHistogram().GetSampleCount()
}

func TestMetrics_Record(t *testing.T) {
	m := New(WithRegistry(prometheus.NewRegistry()))

	m.ObservePass(true, 3*time.Millisecond)
	m.ObservePass(false, time.Millisecond)
	m.ObservePass(false, time.Millisecond)
	m.SetTracked(7)
	m.AddNotifyEvents(4)
	m.AddNotifyEvents(0)
	m.IncOverflow()
	m.IncReload()
	m.IncSuppressed()
	m.IncSuppressed()
	m.IncTickSkipped()
	m.SetState(2)

	if got := metricCounterValue(t, m.scanPasses.WithLabelValues("true")); got != 1 {
		t.Errorf("scan_passes_total{changed=true} = %v, want 1", got)
	}
	if got := metricCounterValue(t, m.scanPasses.WithLabelValues("false")); got != 2 {
		t.Errorf("scan_passes_total{changed=false} = %v, want 2", got)
	}
	if got := metricHistogramCount(t, m.scanDuration); got != 3 {
		t.Errorf("scan_pass_duration_seconds count = %d, want 3", got)
	}
	if got := metricGaugeValue(t, m.trackedFiles); got != 7 {
		t.Errorf("tracked_files = %v, want 7", got)
	}
	if got := metricCounterValue(t, m.notifyEvents); got != 4 {
		t.Errorf("notify_events_total = %v, want 4", got)
	}
	if got := metricCounterValue(t, m.notifyOverflows); got != 1 {
		t.Errorf("notify_overflows_total = %v, want 1", got)
	}
	if got := metricCounterValue(t, m.reloads); got != 1 {
		t.Errorf("reloads_total = %v, want 1", got)
	}
	if got := metricCounterValue(t, m.suppressed); got != 2 {
		t.Errorf("reloads_suppressed_total = %v, want 2", got)
	}
	if got := metricCounterValue(t, m.ticksSkipped); got != 1 {
		t.Errorf("ticks_skipped_total = %v, want 1", got)
	}
	if got := metricGaugeValue(t, m.watchState); got != 2 {
		t.Errorf("watch_state = %v, want 2", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObservePass(true, time.Second)
	m.SetTracked(1)
	m.AddNotifyEvents(1)
	m.IncOverflow()
	m.IncReload()
	m.IncSuppressed()
	m.IncTickSkipped()
	m.SetState(1)
}

func TestMetrics_Registered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(WithRegistry(reg), WithNamespace("test"))
	m.IncReload()
	m.ObservePass(false, time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"test_reloads_total",
		"test_scan_passes_total",
		"test_scan_pass_duration_seconds",
		"test_tracked_files",
		"test_watch_state",
	} {
		if !names[want] {
			t.Errorf("missing metric family %q", want)
		}
	}
}
