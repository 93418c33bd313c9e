package vpn

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/yllada/passage/common"
	"github.com/yllada/passage/profile"
)

// fakeTunnel records calls and only changes status when told to.
type fakeTunnel struct {
	mu         sync.Mutex
	prepared   bool
	status     Status
	bound      *profile.Profile
	calls      []string
	configs    []*Configuration
	lastErr    error
	connectErr error
	// emitConnecting makes Connect report StatusConnecting synchronously.
	emitConnecting bool
	// bytesIn and bytesOut are reported by DataCount while connected.
	bytesIn, bytesOut uint64

	observers common.Observers[Status]
}

func (f *fakeTunnel) Prepare(onReady func()) {
	f.mu.Lock()
	f.prepared = true
	f.mu.Unlock()
	if onReady != nil {
		onReady()
	}
}

func (f *fakeTunnel) Status() (Status, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.prepared
}

func (f *fakeTunnel) Bind(p *profile.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bound = p.Clone()
	f.calls = append(f.calls, "bind:"+p.Title)
}

func (f *fakeTunnel) Connect(ctx context.Context, cfg *Configuration) error {
	f.mu.Lock()
	f.calls = append(f.calls, "connect:"+cfg.Profile.Title)
	f.configs = append(f.configs, cfg)
	err := f.connectErr
	emit := f.emitConnecting && err == nil
	f.mu.Unlock()

	if emit {
		f.setStatus(StatusConnecting)
	}
	return err
}

func (f *fakeTunnel) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "disconnect")
	return nil
}

func (f *fakeTunnel) Reinstall(ctx context.Context, cfg *Configuration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "reinstall:"+cfg.Profile.Title)
	f.configs = append(f.configs, cfg)
	return nil
}

func (f *fakeTunnel) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

func (f *fakeTunnel) DataCount() (in, out uint64, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status != StatusConnected {
		return 0, 0, false
	}
	return f.bytesIn, f.bytesOut, true
}

func (f *fakeTunnel) EraseDebugLog() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "erase")
	return nil
}

func (f *fakeTunnel) OnStatusChange(fn func(Status)) func() {
	return f.observers.Subscribe(fn)
}

func (f *fakeTunnel) setStatus(s Status) {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
	f.observers.Publish(s)
}

func (f *fakeTunnel) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeTunnel) lastConfig() *Configuration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.configs) == 0 {
		return nil
	}
	return f.configs[len(f.configs)-1]
}

func (f *fakeTunnel) resetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
	f.configs = nil
}

type memSecrets struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memSecrets) Store(key, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string]string)
	}
	m.data[key] = secret
	return nil
}

func (m *memSecrets) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.data[key]
	if !ok {
		return "", common.ErrCredentialsNotFound
	}
	return s, nil
}

func (m *memSecrets) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

const testHostConfig = "client\nremote vpn.example.com 1194 udp\nauth-user-pass\n"
const testOpenHostConfig = "client\nremote open.example.com 1194 udp\n"

const testInfrastructure = `name: acme
defaults:
  requires_credentials: true
  pool: us-1
  preset: default
presets:
  - id: default
    template: acme.ovpn
    protocols: ["UDP:1194", "TCP:443"]
  - id: stealth
    template: stealth.ovpn
    protocols: ["TCP:443"]
categories:
  - name: standard
    groups:
      - country: US
        pools:
          - id: us-1
            hostname: us-1.acme.example
            addresses: [203.0.113.1]
          - id: us-2
            hostname: us-2.acme.example
            addresses: [203.0.113.2]
      - country: DE
        pools:
          - id: de-1
            hostname: de-1.acme.example
            addresses: [198.51.100.1]
            presets: [stealth]
`

type testEnv struct {
	store  *profile.Store
	tunnel *fakeTunnel
	coord  *Coordinator
	dir    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	store, err := profile.Open(dir, &memSecrets{})
	if err != nil {
		t.Fatalf("profile.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	providers := filepath.Join(dir, common.ProvidersDirName)
	if err := os.MkdirAll(providers, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(providers, "acme.yaml"), []byte(testInfrastructure), 0600); err != nil {
		t.Fatal(err)
	}

	tunnel := &fakeTunnel{}
	coord := NewCoordinator(store, tunnel, Options{})
	return &testEnv{store: store, tunnel: tunnel, coord: coord, dir: dir}
}

func (e *testEnv) prepare(t *testing.T) {
	t.Helper()
	ready := false
	e.coord.Prepare(func() { ready = true })
	if !ready {
		t.Fatal("Prepare() did not call onReady")
	}
}

func (e *testEnv) addHost(t *testing.T, title, content string, creds profile.Credentials) *profile.Profile {
	t.Helper()
	path := filepath.Join(t.TempDir(), title+".ovpn")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	p, err := profile.NewHostProfile(title, path)
	if err != nil {
		t.Fatalf("NewHostProfile() error = %v", err)
	}
	if err := e.store.Add(p, creds); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	return p
}

func (e *testEnv) addProvider(t *testing.T, title string, creds profile.Credentials) *profile.Profile {
	t.Helper()
	p, err := e.store.NewProviderProfile(title, "acme")
	if err != nil {
		t.Fatalf("NewProviderProfile() error = %v", err)
	}
	if err := e.store.Add(p, creds); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	return p
}

// promptRecorder collects credential requests.
type promptRecorder struct {
	mu       sync.Mutex
	requests []*CredentialRequest
}

func (r *promptRecorder) RequestCredentials(req *CredentialRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
}

func (r *promptRecorder) last() *CredentialRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.requests) == 0 {
		return nil
	}
	return r.requests[len(r.requests)-1]
}
