package vpn

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/yllada/passage/common"
	"github.com/yllada/passage/profile"
)

var validCreds = profile.Credentials{Username: "alice", Password: "pw"}

func TestToggle_SuspendsWhenCredentialsMissing(t *testing.T) {
	env := newTestEnv(t)
	prompts := &promptRecorder{}
	env.coord.SetPrompter(prompts)
	env.prepare(t)

	p := env.addHost(t, "office", testHostConfig, profile.Credentials{})

	if err := env.coord.Toggle(context.Background(), p.Key()); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}

	if n := env.tunnel.count("connect"); n != 0 {
		t.Errorf("connect dispatched %d times, want 0", n)
	}
	req := prompts.last()
	if req == nil || req.Key() != p.Key() {
		t.Fatalf("prompt request = %v, want one for %s", req, p.Key())
	}
	if env.coord.PendingRequest() != req {
		t.Error("PendingRequest() should return the outstanding request")
	}
	if !env.store.IsActive(p.Key()) {
		t.Error("profile should be active while waiting for credentials")
	}
}

func TestToggle_ConnectsOnceWithStoredCredentials(t *testing.T) {
	env := newTestEnv(t)
	prompts := &promptRecorder{}
	env.coord.SetPrompter(prompts)
	env.prepare(t)

	p := env.addHost(t, "office", testHostConfig, validCreds)

	if err := env.coord.Toggle(context.Background(), p.Key()); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}

	if n := env.tunnel.count("connect"); n != 1 {
		t.Errorf("connect dispatched %d times, want 1", n)
	}
	if prompts.last() != nil {
		t.Error("Toggle() should not prompt when credentials are stored")
	}
	cfg := env.tunnel.lastConfig()
	if cfg.Credentials != validCreds {
		t.Errorf("configuration credentials = %+v", cfg.Credentials)
	}
	if cfg.Endpoint != nil {
		t.Error("host configuration should not carry a provider endpoint")
	}
}

func TestToggle_ConnectsWithoutPromptWhenNotRequired(t *testing.T) {
	env := newTestEnv(t)
	prompts := &promptRecorder{}
	env.coord.SetPrompter(prompts)
	env.prepare(t)

	p := env.addHost(t, "open", testOpenHostConfig, profile.Credentials{})
	if err := env.coord.Toggle(context.Background(), p.Key()); err != nil {
		t.Fatal(err)
	}
	if env.tunnel.count("connect") != 1 || prompts.last() != nil {
		t.Errorf("calls = %v, prompted = %v", env.tunnel.calls, prompts.last() != nil)
	}
}

func TestToggle_DisconnectsWhenActiveAndNotDisconnected(t *testing.T) {
	for _, status := range []Status{StatusConnecting, StatusConnected, StatusDisconnecting} {
		t.Run(status.Name(), func(t *testing.T) {
			env := newTestEnv(t)
			prompts := &promptRecorder{}
			env.coord.SetPrompter(prompts)
			env.prepare(t)

			// Needs credentials, but disconnecting must not care
			p := env.addHost(t, "office", testHostConfig, profile.Credentials{})
			env.tunnel.setStatus(status)

			if err := env.coord.Toggle(context.Background(), p.Key()); err != nil {
				t.Fatalf("Toggle() error = %v", err)
			}
			if n := env.tunnel.count("disconnect"); n != 1 {
				t.Errorf("disconnect dispatched %d times, want 1", n)
			}
			if n := env.tunnel.count("connect"); n != 0 {
				t.Errorf("connect dispatched %d times, want 0", n)
			}
			if prompts.last() != nil {
				t.Error("disconnecting should never prompt")
			}
		})
	}
}

func TestToggle_SwitchingProfilesForcesConnect(t *testing.T) {
	env := newTestEnv(t)
	env.prepare(t)
	env.tunnel.emitConnecting = true

	p1 := env.addHost(t, "p1", testHostConfig, validCreds)
	p2 := env.addHost(t, "p2", testHostConfig, validCreds)
	env.tunnel.setStatus(StatusConnected)
	env.tunnel.resetCalls()

	var mu sync.Mutex
	var order []string
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, s)
	}
	env.store.Subscribe(func(ev profile.Event) {
		record(ev.Kind.String() + ":" + ev.Profile.Title)
	})
	env.coord.Subscribe(func(ev StatusEvent) {
		record("status:" + ev.Status.Name() + ":" + ev.Title)
	})

	if !env.store.IsActive(p1.Key()) {
		t.Fatal("p1 should be active")
	}
	if err := env.coord.Toggle(context.Background(), p2.Key()); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}

	if !env.store.IsActive(p2.Key()) {
		t.Error("p2 should become the active profile")
	}
	if got := strings.Join(env.tunnel.calls, ","); got != "bind:p2,connect:p2" {
		t.Errorf("tunnel calls = %s, want bind:p2,connect:p2", got)
	}

	mu.Lock()
	defer mu.Unlock()
	want := "will-deactivate:p1,activated:p2,status:connecting:p2"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("event order = %s, want %s", got, want)
	}
}

func TestToggle_UnknownProfile(t *testing.T) {
	env := newTestEnv(t)
	env.prepare(t)

	err := env.coord.Toggle(context.Background(), profile.Key{Context: profile.ContextHost, ID: "missing"})
	if !errors.Is(err, common.ErrProfileNotFound) {
		t.Errorf("Toggle() error = %v, want ErrProfileNotFound", err)
	}
	if len(env.tunnel.calls) != 0 {
		t.Errorf("tunnel calls = %v, want none", env.tunnel.calls)
	}
}

func TestCredentialRequest_SubmitResumesConnect(t *testing.T) {
	env := newTestEnv(t)
	prompts := &promptRecorder{}
	env.coord.SetPrompter(prompts)
	env.prepare(t)

	p := env.addHost(t, "office", testHostConfig, profile.Credentials{})
	if err := env.coord.Toggle(context.Background(), p.Key()); err != nil {
		t.Fatal(err)
	}
	req := prompts.last()

	err := req.Submit(context.Background(), profile.Credentials{Password: "only-password"})
	if !errors.Is(err, common.ErrInvalidCredentials) {
		t.Fatalf("Submit(invalid) error = %v, want ErrInvalidCredentials", err)
	}
	if env.coord.PendingRequest() != req {
		t.Error("invalid credentials should leave the request pending")
	}
	if env.tunnel.count("connect") != 0 {
		t.Error("invalid credentials must not connect")
	}

	if err := req.Submit(context.Background(), validCreds); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if n := env.tunnel.count("connect"); n != 1 {
		t.Errorf("connect dispatched %d times, want 1", n)
	}
	if env.tunnel.lastConfig().Credentials != validCreds {
		t.Errorf("connect used %+v", env.tunnel.lastConfig().Credentials)
	}
	stored, _ := env.store.Credentials(p.Key())
	if stored != validCreds {
		t.Errorf("stored credentials = %+v", stored)
	}

	select {
	case <-req.Done():
	default:
		t.Error("Done() should be closed after Submit")
	}
	if err := req.Submit(context.Background(), validCreds); !errors.Is(err, common.ErrRequestResolved) {
		t.Errorf("second Submit() error = %v, want ErrRequestResolved", err)
	}
	if n := env.tunnel.count("connect"); n != 1 {
		t.Errorf("connect dispatched %d times after resubmit, want 1", n)
	}
}

func TestCredentialRequest_Cancel(t *testing.T) {
	env := newTestEnv(t)
	prompts := &promptRecorder{}
	env.coord.SetPrompter(prompts)
	env.prepare(t)

	p := env.addHost(t, "office", testHostConfig, profile.Credentials{})
	if err := env.coord.Toggle(context.Background(), p.Key()); err != nil {
		t.Fatal(err)
	}
	env.tunnel.resetCalls()

	req := prompts.last()
	req.Cancel()

	if len(env.tunnel.calls) != 0 {
		t.Errorf("Cancel() touched the tunnel: %v", env.tunnel.calls)
	}
	if env.coord.PendingRequest() != nil {
		t.Error("PendingRequest() should be nil after Cancel")
	}
	if err := req.Submit(context.Background(), validCreds); !errors.Is(err, common.ErrRequestResolved) {
		t.Errorf("Submit() after Cancel error = %v, want ErrRequestResolved", err)
	}
	if env.tunnel.count("connect") != 0 {
		t.Error("no connect should follow a cancelled request")
	}
}

func TestToggle_SupersedesPendingRequest(t *testing.T) {
	env := newTestEnv(t)
	prompts := &promptRecorder{}
	env.coord.SetPrompter(prompts)
	env.prepare(t)

	p1 := env.addHost(t, "p1", testHostConfig, profile.Credentials{})
	p2 := env.addHost(t, "p2", testHostConfig, profile.Credentials{})

	if err := env.coord.Toggle(context.Background(), p1.Key()); err != nil {
		t.Fatal(err)
	}
	first := prompts.last()
	if err := env.coord.Toggle(context.Background(), p2.Key()); err != nil {
		t.Fatal(err)
	}
	second := prompts.last()

	select {
	case <-first.Done():
	default:
		t.Error("older request should be resolved by a new Toggle")
	}
	if env.coord.PendingRequest() != second || second.Key() != p2.Key() {
		t.Error("newest request should be pending")
	}
}

func TestToggle_LastErrorDoesNotChangeControlFlow(t *testing.T) {
	env := newTestEnv(t)
	env.prepare(t)
	p := env.addHost(t, "office", testHostConfig, validCreds)

	var events []StatusEvent
	env.coord.Subscribe(func(ev StatusEvent) { events = append(events, ev) })

	env.tunnel.lastErr = common.ErrAuthFailed
	env.tunnel.setStatus(StatusDisconnected)

	if len(events) != 1 || !errors.Is(events[0].Err, common.ErrAuthFailed) || events[0].Key != p.Key() {
		t.Fatalf("events = %+v", events)
	}

	if err := env.coord.Toggle(context.Background(), p.Key()); err != nil {
		t.Fatal(err)
	}
	if env.tunnel.count("connect") != 1 {
		t.Error("a reported last error must not block the next connect")
	}
}

func TestReconnect(t *testing.T) {
	env := newTestEnv(t)
	env.prepare(t)

	if err := env.coord.Reconnect(context.Background()); !errors.Is(err, common.ErrNoActiveProfile) {
		t.Errorf("Reconnect() without profile error = %v, want ErrNoActiveProfile", err)
	}

	env.addHost(t, "office", testHostConfig, validCreds)
	env.tunnel.setStatus(StatusConnected)

	if err := env.coord.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}
	if env.tunnel.count("connect") != 1 || env.tunnel.count("disconnect") != 0 {
		t.Errorf("tunnel calls = %v", env.tunnel.calls)
	}
}

func TestReinstallIfEnabled(t *testing.T) {
	tests := []struct {
		name          string
		prepared      bool
		status        Status
		wantReinstall bool
	}{
		{"never prepared", false, StatusDisconnected, false},
		{"disconnected", true, StatusDisconnected, false},
		{"connecting", true, StatusConnecting, true},
		{"connected", true, StatusConnected, true},
		{"disconnecting", true, StatusDisconnecting, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.addHost(t, "office", testHostConfig, validCreds)
			if tt.prepared {
				env.prepare(t)
			}
			env.tunnel.status = tt.status

			if err := env.coord.ReinstallIfEnabled(context.Background()); err != nil {
				t.Fatalf("ReinstallIfEnabled() error = %v", err)
			}
			got := env.tunnel.count("reinstall") == 1
			if got != tt.wantReinstall {
				t.Errorf("reinstall dispatched = %v, want %v (calls %v)", got, tt.wantReinstall, env.tunnel.calls)
			}
			if env.tunnel.count("connect") != 0 || env.tunnel.count("disconnect") != 0 {
				t.Errorf("unexpected tunnel calls %v", env.tunnel.calls)
			}
		})
	}
}

func TestDisconnect(t *testing.T) {
	env := newTestEnv(t)
	if err := env.coord.Disconnect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if env.tunnel.count("disconnect") != 0 {
		t.Error("Disconnect() before Prepare should be a no-op")
	}

	env.prepare(t)
	if err := env.coord.Disconnect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if env.tunnel.count("disconnect") != 1 {
		t.Error("Disconnect() should reach the tunnel once prepared")
	}
}

func TestProviderConfiguration(t *testing.T) {
	env := newTestEnv(t)
	env.prepare(t)
	p := env.addProvider(t, "acme", validCreds)

	if err := env.coord.Toggle(context.Background(), p.Key()); err != nil {
		t.Fatal(err)
	}
	ep := env.tunnel.lastConfig().Endpoint
	if ep == nil {
		t.Fatal("provider configuration should carry an endpoint")
	}
	if ep.Template != filepath.Join(env.dir, common.ProvidersDirName, "acme.ovpn") {
		t.Errorf("Template = %s", ep.Template)
	}
	if fmt.Sprint(ep.Addresses) != "[203.0.113.1]" || len(ep.Protocols) != 2 {
		t.Errorf("endpoint = %+v", ep)
	}
}

func TestSelectPool(t *testing.T) {
	env := newTestEnv(t)
	env.prepare(t)
	p := env.addProvider(t, "acme", validCreds)

	// Disconnected: persist only
	if err := env.coord.SelectPool(context.Background(), "us-2"); err != nil {
		t.Fatalf("SelectPool() error = %v", err)
	}
	if env.tunnel.count("reinstall") != 0 {
		t.Error("SelectPool() on a disconnected tunnel should not reinstall")
	}
	stored, _ := env.store.Get(p.Key())
	if stored.Provider.PoolID != "us-2" || stored.Provider.PresetID != "default" {
		t.Errorf("provider = %+v", stored.Provider)
	}

	// Connected, and the pool does not support the current preset
	env.tunnel.setStatus(StatusConnected)
	if err := env.coord.SelectPool(context.Background(), "de-1"); err != nil {
		t.Fatalf("SelectPool() error = %v", err)
	}
	if env.tunnel.count("reinstall") != 1 {
		t.Errorf("reinstall count = %d, want 1", env.tunnel.count("reinstall"))
	}
	stored, _ = env.store.Get(p.Key())
	if stored.Provider.PresetID != "stealth" {
		t.Errorf("PresetID = %s, want fallback to stealth", stored.Provider.PresetID)
	}
	ep := env.tunnel.lastConfig().Endpoint
	if fmt.Sprint(ep.Addresses) != "[198.51.100.1]" || ep.Protocols[0].String() != "TCP:443" {
		t.Errorf("endpoint = %+v", ep)
	}

	if err := env.coord.SelectPool(context.Background(), "nowhere"); !errors.Is(err, common.ErrPoolNotFound) {
		t.Errorf("SelectPool(unknown) error = %v, want ErrPoolNotFound", err)
	}
}

func TestSelectPool_WrongContext(t *testing.T) {
	env := newTestEnv(t)
	env.prepare(t)

	if err := env.coord.SelectPool(context.Background(), "us-1"); !errors.Is(err, common.ErrNoActiveProfile) {
		t.Errorf("SelectPool() without profile error = %v", err)
	}

	env.addHost(t, "office", testHostConfig, validCreds)
	if err := env.coord.SelectPool(context.Background(), "us-1"); !errors.Is(err, common.ErrWrongContext) {
		t.Errorf("SelectPool() on host error = %v, want ErrWrongContext", err)
	}
}

func TestSwitchPool(t *testing.T) {
	env := newTestEnv(t)
	env.prepare(t)
	p := env.addProvider(t, "acme", validCreds)

	if err := env.coord.SwitchPool(context.Background(), "US"); err != nil {
		t.Fatalf("SwitchPool() error = %v", err)
	}
	if env.tunnel.count("connect") != 1 {
		t.Errorf("connect count = %d, want 1", env.tunnel.count("connect"))
	}
	stored, _ := env.store.Get(p.Key())
	if id := stored.Provider.PoolID; id != "us-1" && id != "us-2" {
		t.Errorf("PoolID = %s, want a US pool", id)
	}

	if err := env.coord.SwitchPool(context.Background(), "FR"); !errors.Is(err, common.ErrPoolNotFound) {
		t.Errorf("SwitchPool(FR) error = %v, want ErrPoolNotFound", err)
	}
}

func TestSelectProtocol(t *testing.T) {
	env := newTestEnv(t)
	env.prepare(t)
	p := env.addProvider(t, "acme", validCreds)

	tcp, _ := profile.ParseEndpointProtocol("TCP:443")
	if err := env.coord.SelectProtocol(context.Background(), &tcp); err != nil {
		t.Fatalf("SelectProtocol() error = %v", err)
	}
	if env.tunnel.count("connect") != 1 {
		t.Error("SelectProtocol() should reconnect")
	}
	protos := env.tunnel.lastConfig().Endpoint.Protocols
	if len(protos) != 1 || protos[0] != tcp {
		t.Errorf("protocols = %v, want [TCP:443]", protos)
	}

	dns, _ := profile.ParseEndpointProtocol("UDP:53")
	if err := env.coord.SelectProtocol(context.Background(), &dns); !errors.Is(err, common.ErrInvalidConfig) {
		t.Errorf("SelectProtocol(unsupported) error = %v, want ErrInvalidConfig", err)
	}

	if err := env.coord.SelectProtocol(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	stored, _ := env.store.Get(p.Key())
	if stored.Provider.ManualProtocol != nil {
		t.Error("nil protocol should clear the pin")
	}
	if len(env.tunnel.lastConfig().Endpoint.Protocols) != 2 {
		t.Error("cleared pin should restore all preset protocols")
	}
}

func TestSetPreferences(t *testing.T) {
	env := newTestEnv(t)
	var saved []Preferences
	env.coord = NewCoordinator(env.store, env.tunnel, Options{
		SavePreferences: func(p Preferences) error {
			saved = append(saved, p)
			return nil
		},
	})
	env.prepare(t)
	env.addProvider(t, "acme", validCreds)
	env.tunnel.setStatus(StatusConnected)

	if err := env.coord.SetPreferences(context.Background(), Preferences{ResolvesHostname: true}); err != nil {
		t.Fatalf("SetPreferences() error = %v", err)
	}
	if len(saved) != 1 || !saved[0].ResolvesHostname {
		t.Errorf("saved = %+v", saved)
	}
	if env.tunnel.count("reinstall") != 1 {
		t.Fatal("SetPreferences() should reinstall an enabled tunnel")
	}
	ep := env.tunnel.lastConfig().Endpoint
	if fmt.Sprint(ep.Addresses) != "[us-1.acme.example]" {
		t.Errorf("Addresses = %v, want the pool hostname", ep.Addresses)
	}
	if !env.coord.Preferences().ResolvesHostname {
		t.Error("Preferences() should reflect the change")
	}

	failing := NewCoordinator(env.store, env.tunnel, Options{
		SavePreferences: func(Preferences) error { return common.ErrConfigSave },
	})
	if err := failing.SetPreferences(context.Background(), Preferences{}); !errors.Is(err, common.ErrConfigSave) {
		t.Errorf("SetPreferences() error = %v, want ErrConfigSave", err)
	}
}

func TestSetPreferences_Masking(t *testing.T) {
	tests := []struct {
		name        string
		status      Status
		masks       bool
		wantConnect int
		wantErase   int
	}{
		{name: "enable while connected reconnects", status: StatusConnected, masks: true, wantConnect: 1, wantErase: 1},
		{name: "enable while connecting reconnects", status: StatusConnecting, masks: true, wantConnect: 1, wantErase: 1},
		{name: "enable while disconnected erases the log", status: StatusDisconnected, masks: true, wantErase: 1},
		{name: "unchanged setting does neither", status: StatusConnected, masks: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.prepare(t)
			env.addHost(t, "office", testHostConfig, validCreds)
			env.tunnel.setStatus(tt.status)
			env.tunnel.resetCalls()

			if err := env.coord.SetPreferences(context.Background(), Preferences{MasksPrivateData: tt.masks}); err != nil {
				t.Fatalf("SetPreferences() error = %v", err)
			}
			if n := env.tunnel.count("connect"); n != tt.wantConnect {
				t.Errorf("connect dispatched %d times, want %d", n, tt.wantConnect)
			}
			if n := env.tunnel.count("erase"); n != tt.wantErase {
				t.Errorf("debug log erased %d times, want %d", n, tt.wantErase)
			}
			if tt.wantConnect > 0 && !env.tunnel.lastConfig().Preferences.MasksPrivateData {
				t.Error("reconnect should carry the masking setting")
			}
		})
	}
}

func TestDataCount(t *testing.T) {
	env := newTestEnv(t)
	env.prepare(t)
	env.tunnel.bytesIn, env.tunnel.bytesOut = 2048, 512

	if _, _, ok := env.coord.DataCount(); ok {
		t.Error("DataCount() should be unavailable while disconnected")
	}
	env.tunnel.setStatus(StatusConnected)
	if in, out, ok := env.coord.DataCount(); !ok || in != 2048 || out != 512 {
		t.Errorf("DataCount() = %d, %d, %v", in, out, ok)
	}
}

func TestScenario_CredentialPromptThenConnect(t *testing.T) {
	env := newTestEnv(t)
	env.prepare(t)

	p := env.addHost(t, "office", testHostConfig, profile.Credentials{})

	// A prompter that answers immediately, like an interactive terminal
	env.coord.SetPrompter(PrompterFunc(func(req *CredentialRequest) {
		if err := req.Submit(context.Background(), validCreds); err != nil {
			t.Errorf("Submit() error = %v", err)
		}
	}))

	if err := env.coord.Toggle(context.Background(), p.Key()); err != nil {
		t.Fatal(err)
	}
	if n := env.tunnel.count("connect"); n != 1 {
		t.Errorf("connect dispatched %d times, want 1", n)
	}
}
