package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SessionOpened()
	m.ConnAttached()
	m.ConnAttached()
	m.ConnDetached()
	m.Message(SideServer, "edit")
	m.Message(SideServer, "edit")
	m.RouteError(SideClient, "unknown_type")
	m.LockRequest(true)
	m.LockRequest(false)
	m.LockReleased("expired")
	m.ReconnectAttempt("success")

	if got := testutil.ToFloat64(m.SessionsActive); got != 1 {
		t.Errorf("sessions_active = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ConnectionsActive); got != 1 {
		t.Errorf("connections_active = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Messages.WithLabelValues(SideServer, "edit")); got != 2 {
		t.Errorf("messages_total{server,edit} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.LockRequests.WithLabelValues("denied")); got != 1 {
		t.Errorf("lock_requests_total{denied} = %v, want 1", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) != 7 {
		t.Errorf("gathered %d families, want 7", len(families))
	}
}

func TestNil_IsNoop(t *testing.T) {
	var m *Metrics
	m.SessionOpened()
	m.SessionClosed()
	m.ConnAttached()
	m.ConnDetached()
	m.Message(SideClient, "ping")
	m.RouteError(SideClient, "malformed")
	m.LockRequest(true)
	m.LockReleased("released")
	m.ReconnectAttempt("failure")
}

func TestNew_NilRegistry(t *testing.T) {
	m := New(nil)
	m.Message(SideServer, "cursor")
	if got := testutil.ToFloat64(m.Messages.WithLabelValues(SideServer, "cursor")); got != 1 {
		t.Errorf("messages_total = %v, want 1", got)
	}
}
