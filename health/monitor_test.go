package health

import (
	"fmt"
	"sync"
	"testing"
)

func TestMonitor_UpdateAndAggregate(t *testing.T) {
	m := NewMonitor()
	m.Update("watch", NewDegraded("ignored", "loading"))
	m.Update("nats", Status{Status: LevelHealthy, Healthy: true})

	st, ok := m.Get("nats")
	if !ok {
		t.Fatal("nats not tracked")
	}
	if st.Component != "nats" || st.Timestamp.IsZero() {
		t.Errorf("Update() did not stamp name and time: %+v", st)
	}
	if got, _ := m.Get("watch"); got.Component != "watch" {
		t.Errorf("Update() kept component %q, want watch", got.Component)
	}

	agg := m.AggregateHealth("docfeed")
	if !agg.IsDegraded() {
		t.Errorf("AggregateHealth() = %s, want degraded", agg.Status)
	}
	if agg.SubStatuses[0].Component != "nats" || agg.SubStatuses[1].Component != "watch" {
		t.Errorf("sub-statuses not sorted: %+v", agg.SubStatuses)
	}

	m.Remove("watch")
	if m.Count() != 1 || !m.AggregateHealth("docfeed").IsHealthy() {
		t.Errorf("Remove() left %d parts", m.Count())
	}
}

func TestMonitor_ConcurrentAccess(t *testing.T) {
	m := NewMonitor()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("part-%d", i%3)
			for j := 0; j < 100; j++ {
				m.Update(name, NewHealthy(name, "ok"))
				_ = m.AggregateHealth("docfeed")
				_, _ = m.Get(name)
			}
		}(i)
	}
	wg.Wait()

	if m.Count() != 3 {
		t.Errorf("Count() = %d, want 3", m.Count())
	}
}
