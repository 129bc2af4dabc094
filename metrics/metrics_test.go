package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vinns/concierge/metrics"
)

func TestRegister(t *testing.T) {
	m := metrics.New()
	reg := prometheus.NewRegistry()
	reg.MustRegister(m.Collectors()...)
	m.Transitions.Observe(1, "shift", "started")
	m.Transitions.Observe(1, "shift", "started")
	m.Transitions.Observe(1, "training", "ended")
	m.LiveSessions.Observe(1)
	m.LiveSessions.Observe(1)
	m.LiveSessions.Observe(-1)
	m.SessionLength.Observe(600, "training")
	fams, err := reg.Gather()
	if err != nil {
		t.Fatalf("couldn't gather: %v", err)
	}
	got := make(map[string]int)
	for _, f := range fams {
		got[f.GetName()] = len(f.GetMetric())
		if f.GetName() == "concierge_live_sessions" {
			if v := f.GetMetric()[0].GetGauge().GetValue(); v != 1 {
				t.Errorf("wrong live sessions: want 1, got %v", v)
			}
		}
	}
	want := map[string]int{
		"concierge_session_transitions_total": 2,
		"concierge_live_sessions":             1,
		"concierge_session_length_seconds":    1,
		"concierge_announce_latency_seconds":  1,
	}
	for name, n := range want {
		if got[name] != n {
			t.Errorf("wrong series count for %s: want %d, got %d", name, n, got[name])
		}
	}
}

func TestUnlabeled(t *testing.T) {
	c := metrics.Counter("test_total", "Test.")
	h := metrics.Histogram("test_seconds", "Test.", nil)
	reg := prometheus.NewRegistry()
	reg.MustRegister(c, h)
	c.Observe(2)
	h.Observe(0.5)
	fams, err := reg.Gather()
	if err != nil {
		t.Fatalf("couldn't gather: %v", err)
	}
	for _, f := range fams {
		m := f.GetMetric()[0]
		switch f.GetName() {
		case "test_total":
			if v := m.GetCounter().GetValue(); v != 2 {
				t.Errorf("wrong counter: want 2, got %v", v)
			}
		case "test_seconds":
			if n := m.GetHistogram().GetSampleCount(); n != 1 {
				t.Errorf("wrong histogram count: want 1, got %d", n)
			}
		default:
			t.Errorf("unexpected metric %s", f.GetName())
		}
	}
}
