package health

import (
	"fmt"
	"strings"
	"testing"
)

func TestStatus_Levels(t *testing.T) {
	tests := []struct {
		status                       Status
		healthy, degraded, unhealthy bool
	}{
		{NewHealthy("a", "ok"), true, false, false},
		{NewDegraded("a", "slow"), false, true, false},
		{NewUnhealthy("a", "down"), false, false, true},
		{Status{}, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.status.Status, func(t *testing.T) {
			if got := tt.status.IsHealthy(); got != tt.healthy {
				t.Errorf("IsHealthy() = %v, want %v", got, tt.healthy)
			}
			if got := tt.status.IsDegraded(); got != tt.degraded {
				t.Errorf("IsDegraded() = %v, want %v", got, tt.degraded)
			}
			if got := tt.status.IsUnhealthy(); got != tt.unhealthy {
				t.Errorf("IsUnhealthy() = %v, want %v", got, tt.unhealthy)
			}
			if tt.status.Healthy != tt.healthy {
				t.Errorf("Healthy = %v, want %v", tt.status.Healthy, tt.healthy)
			}
		})
	}
}

func TestFromError_Sanitizes(t *testing.T) {
	err := fmt.Errorf("dial nats://admin@10.0.0.7:4222 failed: open /etc/docfeed/creds: token=abc123")
	st := FromError("nats", err)

	if !st.IsUnhealthy() {
		t.Fatalf("FromError() status = %s, want unhealthy", st.Status)
	}
	for _, leak := range []string{"10.0.0.7", "4222", "/etc/docfeed", "abc123", "admin@"} {
		if strings.Contains(st.Message, leak) {
			t.Errorf("message %q leaks %q", st.Message, leak)
		}
	}

	if ok := FromError("nats", nil); !ok.IsHealthy() {
		t.Errorf("FromError(nil) status = %s, want healthy", ok.Status)
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name string
		subs []Status
		want string
	}{
		{"empty", nil, LevelHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, LevelHealthy},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, LevelDegraded},
		{"unhealthy wins", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")}, LevelUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("docfeed", tt.subs)
			if got.Status != tt.want {
				t.Errorf("Aggregate() = %s, want %s", got.Status, tt.want)
			}
			if len(got.SubStatuses) != len(tt.subs) {
				t.Errorf("Aggregate() kept %d sub-statuses, want %d", len(got.SubStatuses), len(tt.subs))
			}
		})
	}
}
