package vpn

import (
	"context"
	"fmt"
	"sync"

	"github.com/yllada/passage/common"
	"github.com/yllada/passage/profile"
)

// ProfileStore is the subset of the profile store the coordinator uses.
type ProfileStore interface {
	Get(key profile.Key) (*profile.Profile, error)
	Update(p *profile.Profile) error
	Active() (*profile.Profile, bool)
	IsActive(key profile.Key) bool
	Activate(key profile.Key) error
	MarkUsed(key profile.Key) error
	Credentials(key profile.Key) (profile.Credentials, error)
	SetCredentials(key profile.Key, creds profile.Credentials) error
	RequiresCredentials(p *profile.Profile) bool
	NeedsCredentials(p *profile.Profile) bool
	Infrastructure(name string) (*profile.Infrastructure, error)
}

// Prompter is asked for credentials when a profile cannot connect
// without them. It must eventually Submit or Cancel the request.
type Prompter interface {
	RequestCredentials(req *CredentialRequest)
}

// PrompterFunc adapts a function to the Prompter interface.
type PrompterFunc func(req *CredentialRequest)

// RequestCredentials calls f(req).
func (f PrompterFunc) RequestCredentials(req *CredentialRequest) { f(req) }

// Coordinator turns user intents into tunnel commands. All entry points
// are serialized; none waits for the tunnel to reach its final state.
type Coordinator struct {
	mu     sync.Mutex
	store  ProfileStore
	tunnel Tunnel

	prompter        Prompter
	prefs           Preferences
	savePreferences func(Preferences) error

	// pending is the only state kept between calls.
	pending *CredentialRequest

	events common.Observers[StatusEvent]
}

// Options configure a Coordinator.
type Options struct {
	Prompter    Prompter
	Preferences Preferences
	// SavePreferences persists preferences changed through SetPreferences.
	SavePreferences func(Preferences) error
}

// NewCoordinator creates a Coordinator and subscribes to tunnel status
// changes. Call Prepare before use.
func NewCoordinator(store ProfileStore, tunnel Tunnel, opts Options) *Coordinator {
	c := &Coordinator{
		store:           store,
		tunnel:          tunnel,
		prompter:        opts.Prompter,
		prefs:           opts.Preferences,
		savePreferences: opts.SavePreferences,
	}
	tunnel.OnStatusChange(c.handleStatus)
	return c
}

// Prepare prepares the tunnel and calls onReady when its status is known.
func (c *Coordinator) Prepare(onReady func()) {
	c.tunnel.Prepare(func() {
		status, _ := c.tunnel.Status()
		common.LogDebug("Tunnel prepared (status: %s)", status)
		c.handleStatus(status)
		if onReady != nil {
			onReady()
		}
	})
}

// SetPrompter replaces the credential prompter.
func (c *Coordinator) SetPrompter(p Prompter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompter = p
}

// Subscribe registers fn for status events. Callbacks run synchronously
// and must not call back into the Coordinator. Slow handlers belong behind
// a queue.
func (c *Coordinator) Subscribe(fn func(StatusEvent)) func() {
	return c.events.Subscribe(fn)
}

func (c *Coordinator) handleStatus(status Status) {
	ev := StatusEvent{Status: status, Err: c.tunnel.LastError()}
	if p, ok := c.store.Active(); ok {
		ev.Key = p.Key()
		ev.Title = p.Title
	}
	common.LogDebug("Tunnel status: %s", status)
	c.events.Publish(ev)
}

// Status returns the tunnel status; ok is false until prepared.
func (c *Coordinator) Status() (Status, bool) {
	return c.tunnel.Status()
}

// LastError returns the tunnel's last error.
func (c *Coordinator) LastError() error {
	return c.tunnel.LastError()
}

// Active returns the active profile.
func (c *Coordinator) Active() (*profile.Profile, bool) {
	return c.store.Active()
}

// NeedsCredentials reports whether p cannot connect without asking.
func (c *Coordinator) NeedsCredentials(p *profile.Profile) bool {
	return c.store.NeedsCredentials(p)
}

// Preferences returns the current preferences.
func (c *Coordinator) Preferences() Preferences {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prefs
}

// PendingRequest returns the unresolved credential request, if any.
func (c *Coordinator) PendingRequest() *CredentialRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Toggle activates the profile and flips its connection: a disconnected
// profile is connected, anything else is disconnected. When credentials
// are missing the prompter is asked instead and Toggle returns without
// touching the tunnel.
func (c *Coordinator) Toggle(ctx context.Context, key profile.Key) error {
	req, err := c.toggle(ctx, key)
	if err != nil || req == nil {
		return err
	}

	c.mu.Lock()
	prompter := c.prompter
	c.mu.Unlock()

	if prompter == nil {
		common.LogWarn("Credentials required for %s but no prompter is registered", req.Title)
		return nil
	}
	prompter.RequestCredentials(req)
	return nil
}

func (c *Coordinator) toggle(ctx context.Context, key profile.Key) (*CredentialRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.store.Get(key)
	if err != nil {
		return nil, err
	}

	prior := StatusDisconnected
	if c.store.IsActive(key) {
		if status, ok := c.tunnel.Status(); ok {
			prior = status
		}
	}

	c.cancelPendingLocked()

	c.tunnel.Bind(p)
	if err := c.store.Activate(key); err != nil {
		return nil, err
	}

	if prior != StatusDisconnected {
		common.LogInfo("Disconnecting %s", p.Title)
		return nil, c.tunnel.Disconnect(ctx)
	}

	if c.store.NeedsCredentials(p) {
		req := c.newRequestLocked(p)
		common.LogInfo("Waiting for credentials for %s", p.Title)
		return req, nil
	}

	return nil, c.connectLocked(ctx, p)
}

// Reconnect connects the active profile regardless of the tunnel status.
func (c *Coordinator) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.store.Active()
	if !ok {
		return common.ErrNoActiveProfile
	}
	c.tunnel.Bind(p)
	return c.connectLocked(ctx, p)
}

// ReinstallIfEnabled pushes the active profile's configuration to the
// tunnel when it is prepared and not disconnected.
func (c *Coordinator) ReinstallIfEnabled(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reinstallIfEnabledLocked(ctx)
}

func (c *Coordinator) reinstallIfEnabledLocked(ctx context.Context) error {
	status, ok := c.tunnel.Status()
	if !ok || status == StatusDisconnected {
		return nil
	}
	p, ok := c.store.Active()
	if !ok {
		return nil
	}

	cfg, err := c.configurationLocked(p)
	if err != nil {
		return err
	}
	common.LogDebug("Reinstalling configuration for %s", p.Title)
	return c.tunnel.Reinstall(ctx, cfg)
}

// Disconnect stops the tunnel. Nothing happens before it is prepared.
func (c *Coordinator) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.tunnel.Status(); !ok {
		return nil
	}
	return c.tunnel.Disconnect(ctx)
}

// SelectPool switches the active provider profile to poolID, keeping the
// preset when the pool supports it, and applies it to an enabled tunnel.
func (c *Coordinator) SelectPool(ctx context.Context, poolID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, infra, err := c.activeProviderLocked()
	if err != nil {
		return err
	}
	pool, ok := infra.Pool(poolID)
	if !ok {
		return fmt.Errorf("%w: %s", common.ErrPoolNotFound, poolID)
	}
	if err := c.applyPoolLocked(p, infra, pool); err != nil {
		return err
	}
	return c.reinstallIfEnabledLocked(ctx)
}

// SwitchPool picks a random pool from the group and reconnects.
func (c *Coordinator) SwitchPool(ctx context.Context, groupKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, infra, err := c.activeProviderLocked()
	if err != nil {
		return err
	}
	pool, err := infra.RandomPool(groupKey)
	if err != nil {
		return err
	}
	if err := c.applyPoolLocked(p, infra, pool); err != nil {
		return err
	}
	c.tunnel.Bind(p)
	return c.connectLocked(ctx, p)
}

// SelectProtocol pins the active provider profile to proto, or clears
// the pin when proto is nil, then reconnects.
func (c *Coordinator) SelectProtocol(ctx context.Context, proto *profile.EndpointProtocol) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, infra, err := c.activeProviderLocked()
	if err != nil {
		return err
	}

	if proto != nil {
		supported := false
		for _, ep := range p.Protocols(infra) {
			if ep == *proto {
				supported = true
				break
			}
		}
		if !supported {
			return fmt.Errorf("%w: protocol %s not offered by preset %s",
				common.ErrInvalidConfig, proto, p.Provider.PresetID)
		}
		pinned := *proto
		proto = &pinned
	}

	p.Provider.ManualProtocol = proto
	if err := c.store.Update(p); err != nil {
		return err
	}
	c.tunnel.Bind(p)
	return c.connectLocked(ctx, p)
}

// SetPreferences stores prefs and applies them to an enabled tunnel.
// Changing the masking setting erases the debug log and reconnects an
// enabled tunnel so that nothing unmasked is written afterwards.
func (c *Coordinator) SetPreferences(ctx context.Context, prefs Preferences) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.savePreferences != nil {
		if err := c.savePreferences(prefs); err != nil {
			return err
		}
	}
	masking := c.prefs.MasksPrivateData != prefs.MasksPrivateData
	c.prefs = prefs
	if !masking {
		return c.reinstallIfEnabledLocked(ctx)
	}

	common.LogInfo("Private data masking %s", onOff(prefs.MasksPrivateData))
	if err := c.tunnel.EraseDebugLog(); err != nil {
		common.LogWarn("%v", err)
	}
	status, ok := c.tunnel.Status()
	if !ok || status == StatusDisconnected {
		return nil
	}
	p, ok := c.store.Active()
	if !ok {
		return nil
	}
	c.tunnel.Bind(p)
	return c.connectLocked(ctx, p)
}

// DataCount returns the bytes received and sent by the connected tunnel.
func (c *Coordinator) DataCount() (in, out uint64, ok bool) {
	return c.tunnel.DataCount()
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

func (c *Coordinator) activeProviderLocked() (*profile.Profile, *profile.Infrastructure, error) {
	p, ok := c.store.Active()
	if !ok {
		return nil, nil, common.ErrNoActiveProfile
	}
	if p.Context != profile.ContextProvider {
		return nil, nil, fmt.Errorf("%w: %s is a %s profile", common.ErrWrongContext, p.Title, p.Context)
	}
	infra, err := c.store.Infrastructure(p.Provider.Name)
	if err != nil {
		return nil, nil, err
	}
	return p, infra, nil
}

func (c *Coordinator) applyPoolLocked(p *profile.Profile, infra *profile.Infrastructure, pool profile.Pool) error {
	p.Provider.PoolID = pool.ID
	if !pool.Supports(infra, p.Provider.PresetID) {
		supported := pool.SupportedPresets(infra)
		if len(supported) == 0 {
			return fmt.Errorf("%w: pool %s supports no preset", common.ErrPoolNotFound, pool.ID)
		}
		common.LogInfo("Preset %s not supported by %s, using %s", p.Provider.PresetID, pool.ID, supported[0].ID)
		p.Provider.PresetID = supported[0].ID
		p.Provider.ManualProtocol = nil
	}
	return c.store.Update(p)
}

func (c *Coordinator) connectLocked(ctx context.Context, p *profile.Profile) error {
	cfg, err := c.configurationLocked(p)
	if err != nil {
		return err
	}

	common.LogInfo("Connecting %s", p.Title)
	if err := c.tunnel.Connect(ctx, cfg); err != nil {
		return err
	}
	if err := c.store.MarkUsed(p.Key()); err != nil {
		common.LogDebug("Failed to mark %s as used: %v", p.Title, err)
	}
	return nil
}

func (c *Coordinator) configurationLocked(p *profile.Profile) (*Configuration, error) {
	creds, err := c.store.Credentials(p.Key())
	if err != nil {
		common.LogWarn("Failed to read credentials for %s: %v", p.Title, err)
	}

	cfg := &Configuration{
		Profile:     p.Clone(),
		Credentials: creds,
		Preferences: c.prefs,
	}

	switch p.Context {
	case profile.ContextHost:
		return cfg, nil
	case profile.ContextProvider:
		endpoint, err := c.providerEndpoint(p)
		if err != nil {
			return nil, err
		}
		cfg.Endpoint = endpoint
		return cfg, nil
	default:
		return nil, fmt.Errorf("%w: unknown context %q", common.ErrInvalidProfile, p.Context)
	}
}

func (c *Coordinator) providerEndpoint(p *profile.Profile) (*ProviderEndpoint, error) {
	infra, err := c.store.Infrastructure(p.Provider.Name)
	if err != nil {
		return nil, err
	}
	pool, ok := infra.Pool(p.Provider.PoolID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrPoolNotFound, p.Provider.PoolID)
	}
	preset := infra.Preset(p.Provider.PresetID)
	if preset == nil {
		preset = infra.Preset(infra.Defaults.Preset)
	}

	endpoint := &ProviderEndpoint{
		Template:  infra.TemplatePath(preset),
		Protocols: preset.Protocols,
	}
	if p.Provider.ManualProtocol != nil {
		endpoint.Protocols = []profile.EndpointProtocol{*p.Provider.ManualProtocol}
	}

	switch {
	case p.Provider.ManualAddress != "":
		endpoint.Addresses = []string{p.Provider.ManualAddress}
	case c.prefs.ResolvesHostname || len(pool.Addresses) == 0:
		endpoint.Addresses = []string{pool.Hostname}
	default:
		endpoint.Addresses = append([]string(nil), pool.Addresses...)
	}
	return endpoint, nil
}

func (c *Coordinator) cancelPendingLocked() {
	if c.pending != nil {
		c.pending.resolveLocked()
	}
}

func (c *Coordinator) newRequestLocked(p *profile.Profile) *CredentialRequest {
	creds, _ := c.store.Credentials(p.Key())
	req := &CredentialRequest{
		c:       c,
		key:     p.Key(),
		Title:   p.Title,
		Initial: creds,
		done:    make(chan struct{}),
	}
	c.pending = req
	return req
}

// CredentialRequest is a suspended connect waiting for credentials.
type CredentialRequest struct {
	c   *Coordinator
	key profile.Key

	// Title is the profile title to show in the prompt.
	Title string
	// Initial holds the stored credentials, for prefilling.
	Initial profile.Credentials

	resolved bool
	done     chan struct{}
}

// Key returns the profile the request belongs to.
func (r *CredentialRequest) Key() profile.Key {
	return r.key
}

// Done is closed once the request is submitted or cancelled.
func (r *CredentialRequest) Done() <-chan struct{} {
	return r.done
}

// Submit stores creds and connects. Invalid credentials are rejected
// and leave the request pending.
func (r *CredentialRequest) Submit(ctx context.Context, creds profile.Credentials) error {
	c := r.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if r.resolved {
		return common.ErrRequestResolved
	}

	p, err := c.store.Get(r.key)
	if err != nil {
		r.resolveLocked()
		return err
	}
	if c.store.RequiresCredentials(p) && !creds.IsValid() {
		return common.ErrInvalidCredentials
	}
	if err := c.store.SetCredentials(r.key, creds); err != nil {
		return err
	}
	r.resolveLocked()

	// Username may have changed
	if updated, err := c.store.Get(r.key); err == nil {
		p = updated
	}
	return c.connectLocked(ctx, p)
}

// Cancel abandons the request without touching the tunnel.
func (r *CredentialRequest) Cancel() {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	if !r.resolved {
		common.LogDebug("Credential request for %s cancelled", r.Title)
	}
	r.resolveLocked()
}

func (r *CredentialRequest) resolveLocked() {
	if r.resolved {
		return
	}
	r.resolved = true
	close(r.done)
	if r.c.pending == r {
		r.c.pending = nil
	}
}
