package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SessionStarted("mcq")
	m.SessionCompleted("mcq", "manual")
	m.JudgeRun("ok", time.Second)
	m.PersistFailed("answers")
}

func TestCollectorsRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.SessionStarted("coding")
	m.Violation("shortcut")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	for _, name := range []string{"proctor_sessions_started_total", "proctor_sessions_active", "proctor_lockdown_violations_total"} {
		if !found[name] {
			t.Fatalf("expected %s to be gathered, got %v", name, found)
		}
	}
}
