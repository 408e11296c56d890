package metrics

import (
	"errors"
	"testing"
)

func counter(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.CacheOp("read", errors.New("boom"), nil)
	m.RemoteOp("messages", nil)
	m.LiveEvent("appended")
	m.StaleResult("cache")
	m.Pruned(3, 1)
	m.ViewMessages(10)

	if m.Registry() == nil {
		t.Fatal("nil metrics should still return a registry")
	}
}

func TestCountersByResult(t *testing.T) {
	m := New()
	unavailable := errors.New("unavailable")

	m.CacheOp("read", nil, unavailable)
	m.CacheOp("read", unavailable, unavailable)
	m.RemoteOp("messages", errors.New("timeout"))
	m.Pruned(4, 2)

	if got := counter(t, m, "wirechat_client_cache_operations_total", map[string]string{"op": "read", "result": "ok"}); got != 1 {
		t.Errorf("cache ok = %v, want 1", got)
	}
	if got := counter(t, m, "wirechat_client_pruned_total", nil); got != 0 {
		t.Errorf("unexpected metric name matched: %v", got)
	}
	if got := counter(t, m, "wirechat_client_cache_pruned_total", map[string]string{"kind": "messages"}); got != 4 {
		t.Errorf("pruned messages = %v, want 4", got)
	}
	if got := counter(t, m, "wirechat_client_remote_operations_total", map[string]string{"op": "messages", "result": "error"}); got != 1 {
		t.Errorf("remote errors = %v, want 1", got)
	}
}
