package notify

import (
	"errors"
	"testing"

	"github.com/yllada/passage/common"
	"github.com/yllada/passage/vpn"
)

// mockBackend is a mock implementation of Backend for testing.
type mockBackend struct {
	notifyCalls []notifyCall
	alertCalls  []notifyCall
	err         error
}

type notifyCall struct {
	title   string
	message string
	icon    string
}

func (m *mockBackend) Notify(title, message, icon string) error {
	m.notifyCalls = append(m.notifyCalls, notifyCall{title, message, icon})
	return m.err
}

func (m *mockBackend) Alert(title, message, icon string) error {
	m.alertCalls = append(m.alertCalls, notifyCall{title, message, icon})
	return m.err
}

func always() bool { return true }

func TestNotifier_ConnectDisconnect(t *testing.T) {
	mock := &mockBackend{}
	n := New(always, WithBackend(mock))

	n.Handle(vpn.StatusEvent{Title: "office", Status: vpn.StatusConnecting})
	n.Handle(vpn.StatusEvent{Title: "office", Status: vpn.StatusConnected})
	n.Handle(vpn.StatusEvent{Title: "office", Status: vpn.StatusConnected})
	n.Handle(vpn.StatusEvent{Title: "office", Status: vpn.StatusDisconnecting})
	n.Handle(vpn.StatusEvent{Title: "office", Status: vpn.StatusDisconnected})

	if len(mock.notifyCalls) != 2 {
		t.Fatalf("expected 2 notify calls, got %d", len(mock.notifyCalls))
	}
	if got := mock.notifyCalls[0]; got.title != "VPN Connected" || got.message != "Connected to office" || got.icon != iconConnected {
		t.Errorf("unexpected connected notification %+v", got)
	}
	if got := mock.notifyCalls[1]; got.title != "VPN Disconnected" || got.message != "Disconnected from office" {
		t.Errorf("unexpected disconnected notification %+v", got)
	}
	if len(mock.alertCalls) != 0 {
		t.Errorf("expected no alerts, got %d", len(mock.alertCalls))
	}
}

func TestNotifier_FailureAlertsOnce(t *testing.T) {
	mock := &mockBackend{}
	n := New(always, WithBackend(mock))

	n.Handle(vpn.StatusEvent{Title: "office", Status: vpn.StatusConnecting})
	n.Handle(vpn.StatusEvent{Title: "office", Status: vpn.StatusDisconnected, Err: common.ErrAuthFailed})
	// Repeated event with the same error, e.g. after Prepare
	n.Handle(vpn.StatusEvent{Title: "office", Status: vpn.StatusDisconnected, Err: common.ErrAuthFailed})

	if len(mock.alertCalls) != 1 {
		t.Fatalf("expected 1 alert call, got %d", len(mock.alertCalls))
	}
	want := "office: " + common.ErrAuthFailed.Error()
	if got := mock.alertCalls[0]; got.title != "Connection Error" || got.message != want {
		t.Errorf("unexpected alert %+v", got)
	}
	if len(mock.notifyCalls) != 0 {
		t.Errorf("failure should not also notify a disconnect, got %d", len(mock.notifyCalls))
	}

	// A new attempt failing the same way alerts again
	n.Handle(vpn.StatusEvent{Title: "office", Status: vpn.StatusConnecting})
	n.Handle(vpn.StatusEvent{Title: "office", Status: vpn.StatusDisconnected, Err: common.ErrAuthFailed})
	if len(mock.alertCalls) != 2 {
		t.Errorf("expected 2 alert calls, got %d", len(mock.alertCalls))
	}
}

func TestNotifier_Disabled(t *testing.T) {
	mock := &mockBackend{}
	enabled := false
	n := New(func() bool { return enabled }, WithBackend(mock))

	n.Handle(vpn.StatusEvent{Title: "office", Status: vpn.StatusConnected})
	if len(mock.notifyCalls) != 0 {
		t.Fatalf("expected no notify calls when disabled, got %d", len(mock.notifyCalls))
	}

	// State is still tracked while disabled
	enabled = true
	n.Handle(vpn.StatusEvent{Title: "office", Status: vpn.StatusConnected})
	if len(mock.notifyCalls) != 0 {
		t.Errorf("repeated connected status should not notify, got %d", len(mock.notifyCalls))
	}
}

func TestNotifier_BackendError(t *testing.T) {
	mock := &mockBackend{err: errors.New("no notification daemon")}
	n := New(always, WithBackend(mock))

	// Must not panic or propagate
	n.Handle(vpn.StatusEvent{Title: "office", Status: vpn.StatusConnected})
	if len(mock.notifyCalls) != 1 {
		t.Errorf("expected 1 notify call, got %d", len(mock.notifyCalls))
	}
}
