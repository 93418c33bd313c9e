package vpn

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/yllada/passage/common"
	"github.com/yllada/passage/profile"
)

// HealthState represents the current health state of a connection.
type HealthState int

const (
	HealthUnknown HealthState = iota
	HealthHealthy
	HealthDegraded
	HealthUnhealthy
)

// String returns a human-readable representation of the health state.
func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "Healthy"
	case HealthDegraded:
		return "Degraded"
	case HealthUnhealthy:
		return "Unhealthy"
	default:
		return "Unknown"
	}
}

// HealthConfig holds configuration for the health checker.
type HealthConfig struct {
	// CheckInterval is how often to check connection health.
	CheckInterval time.Duration
	// FailureThreshold is how many consecutive failures before marking unhealthy.
	FailureThreshold int
	// AutoReconnect enables automatic reconnection on failure.
	AutoReconnect bool
	// ReconnectDelay is the delay before attempting to reconnect.
	ReconnectDelay time.Duration
	// MaxReconnectAttempts is the maximum number of reconnection attempts (0 = unlimited).
	MaxReconnectAttempts int
	// TestHosts are the host:port pairs probed for health checks.
	TestHosts []string
}

// DefaultHealthConfig returns sensible defaults for health checking.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CheckInterval:        30 * time.Second,
		FailureThreshold:     3,
		AutoReconnect:        true,
		ReconnectDelay:       common.ReconnectDelay,
		MaxReconnectAttempts: 5,
		TestHosts: []string{
			"8.8.8.8:53",        // Google DNS
			"1.1.1.1:53",        // Cloudflare DNS
			"208.67.222.222:53", // OpenDNS
		},
	}
}

// healthTarget is what the checker needs from the Coordinator.
type healthTarget interface {
	Status() (Status, bool)
	Active() (*profile.Profile, bool)
	NeedsCredentials(p *profile.Profile) bool
	Reconnect(ctx context.Context) error
}

// HealthChecker probes connectivity while the tunnel is connected and
// reconnects the active profile after repeated failures.
type HealthChecker struct {
	mu                sync.RWMutex
	config            HealthConfig
	target            healthTarget
	running           bool
	stopChan          chan struct{}
	connectionHealth  map[string]*ConnectionHealth
	onHealthChange    func(profileID string, oldState, newState HealthState)
	onReconnecting    func(profileID string, attempt int)
	onReconnectFailed func(profileID string, err error)

	dial func(network, address string, timeout time.Duration) (net.Conn, error)
}

// ConnectionHealth tracks the health of a specific profile's connection.
type ConnectionHealth struct {
	ProfileID         string
	State             HealthState
	LastCheck         time.Time
	LastSuccess       time.Time
	ConsecutiveFails  int
	ReconnectAttempts int
	Latency           time.Duration
}

// NewHealthChecker creates a health checker driving c.
func NewHealthChecker(c *Coordinator, config HealthConfig) *HealthChecker {
	return newHealthChecker(c, config)
}

func newHealthChecker(target healthTarget, config HealthConfig) *HealthChecker {
	return &HealthChecker{
		config:           config,
		target:           target,
		stopChan:         make(chan struct{}),
		connectionHealth: make(map[string]*ConnectionHealth),
		dial:             net.DialTimeout,
	}
}

// SetOnHealthChange sets a callback for health state changes.
func (hc *HealthChecker) SetOnHealthChange(callback func(profileID string, oldState, newState HealthState)) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.onHealthChange = callback
}

// SetOnReconnecting sets a callback for reconnection attempts.
func (hc *HealthChecker) SetOnReconnecting(callback func(profileID string, attempt int)) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.onReconnecting = callback
}

// SetOnReconnectFailed sets a callback for failed reconnection.
func (hc *HealthChecker) SetOnReconnectFailed(callback func(profileID string, err error)) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.onReconnectFailed = callback
}

// Start begins the health checking loop.
func (hc *HealthChecker) Start() {
	hc.mu.Lock()
	if hc.running {
		hc.mu.Unlock()
		return
	}
	hc.running = true
	hc.stopChan = make(chan struct{})
	interval := hc.config.CheckInterval
	hc.mu.Unlock()

	common.LogInfo("Health checker started (interval: %v)", interval)

	go hc.runLoop(interval)
}

// Stop stops the health checking loop.
func (hc *HealthChecker) Stop() {
	hc.mu.Lock()
	if !hc.running {
		hc.mu.Unlock()
		return
	}
	hc.running = false
	close(hc.stopChan)
	hc.mu.Unlock()

	common.LogInfo("Health checker stopped")
}

// IsRunning returns whether the health checker is currently running.
func (hc *HealthChecker) IsRunning() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.running
}

// GetHealth returns the current health state for a profile.
func (hc *HealthChecker) GetHealth(profileID string) (*ConnectionHealth, bool) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	health, exists := hc.connectionHealth[profileID]
	if !exists {
		return nil, false
	}
	healthCopy := *health
	return &healthCopy, true
}

// HandleStatus forgets health data once the tunnel is disconnected and
// restarts failure counting when it reconnects. Reconnect attempts are
// kept until a check succeeds.
// It is meant to be registered with Coordinator.Subscribe.
func (hc *HealthChecker) HandleStatus(ev StatusEvent) {
	if ev.Key.IsZero() {
		return
	}
	switch ev.Status {
	case StatusDisconnected:
		hc.RemoveConnection(ev.Key.ID)
	case StatusConnecting:
		hc.mu.Lock()
		if health, ok := hc.connectionHealth[ev.Key.ID]; ok {
			health.ConsecutiveFails = 0
			health.State = HealthUnknown
		}
		hc.mu.Unlock()
	}
}

func (hc *HealthChecker) runLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	hc.mu.RLock()
	stop := hc.stopChan
	hc.mu.RUnlock()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			hc.check()
		}
	}
}

// check probes the active profile when the tunnel is connected.
func (hc *HealthChecker) check() {
	status, ok := hc.target.Status()
	if !ok || status != StatusConnected {
		return
	}
	p, ok := hc.target.Active()
	if !ok {
		return
	}
	hc.checkConnection(p)
}

func (hc *HealthChecker) checkConnection(p *profile.Profile) {
	hc.mu.Lock()
	health, exists := hc.connectionHealth[p.ID]
	if !exists {
		health = &ConnectionHealth{
			ProfileID: p.ID,
			State:     HealthUnknown,
		}
		hc.connectionHealth[p.ID] = health
	}
	hc.mu.Unlock()

	latency, err := hc.testConnectivity()

	hc.mu.Lock()
	defer hc.mu.Unlock()

	health.LastCheck = time.Now()
	oldState := health.State

	if err != nil {
		health.ConsecutiveFails++
		health.Latency = 0
		common.LogWarn("Health check failed for %s (attempt %d/%d): %v",
			p.Title, health.ConsecutiveFails, hc.config.FailureThreshold, err)

		if health.ConsecutiveFails >= hc.config.FailureThreshold {
			health.State = HealthUnhealthy
		} else {
			health.State = HealthDegraded
		}
	} else {
		health.ConsecutiveFails = 0
		health.LastSuccess = time.Now()
		health.Latency = latency
		health.State = HealthHealthy
		health.ReconnectAttempts = 0
	}

	if oldState != health.State {
		common.LogInfo("Health state changed for %s: %s -> %s",
			p.Title, oldState.String(), health.State.String())

		if hc.onHealthChange != nil {
			go hc.onHealthChange(p.ID, oldState, health.State)
		}

		if health.State == HealthUnhealthy && hc.config.AutoReconnect {
			go hc.attemptReconnect(p, health)
		}
	}
}

// testConnectivity returns the latency of the first reachable test host.
func (hc *HealthChecker) testConnectivity() (time.Duration, error) {
	hc.mu.RLock()
	hosts := hc.config.TestHosts
	hc.mu.RUnlock()

	for _, host := range hosts {
		start := time.Now()
		conn, err := hc.dial("tcp", host, 5*time.Second)
		if err == nil {
			conn.Close()
			return time.Since(start), nil
		}
	}

	return 0, common.ErrConnectionFailed
}

func (hc *HealthChecker) reconnectFailed(profileID string, err error) {
	hc.mu.RLock()
	cb := hc.onReconnectFailed
	hc.mu.RUnlock()
	if cb != nil {
		cb(profileID, err)
	}
}

func (hc *HealthChecker) attemptReconnect(p *profile.Profile, health *ConnectionHealth) {
	hc.mu.Lock()
	if hc.config.MaxReconnectAttempts > 0 && health.ReconnectAttempts >= hc.config.MaxReconnectAttempts {
		hc.mu.Unlock()
		common.LogError("Max reconnect attempts reached for %s", p.Title)
		hc.reconnectFailed(p.ID, common.ErrConnectionFailed)
		return
	}
	health.ReconnectAttempts++
	attempt := health.ReconnectAttempts
	delay := hc.config.ReconnectDelay
	onReconnecting := hc.onReconnecting
	hc.mu.Unlock()

	common.LogInfo("Attempting reconnect for %s (attempt %d)", p.Title, attempt)
	if onReconnecting != nil {
		onReconnecting(p.ID, attempt)
	}

	time.Sleep(delay)

	// The user may have disconnected or switched profiles meanwhile
	status, _ := hc.target.Status()
	active, ok := hc.target.Active()
	if !status.IsActive() || !ok || active.ID != p.ID {
		common.LogInfo("Connection was disconnected, skipping reconnect for %s", p.Title)
		return
	}

	if hc.target.NeedsCredentials(active) {
		common.LogWarn("Cannot auto-reconnect %s: credentials not saved", p.Title)
		hc.reconnectFailed(p.ID, common.ErrCredentialsNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), common.ConnectionTimeout)
	defer cancel()
	if err := hc.target.Reconnect(ctx); err != nil {
		common.LogError("Reconnect failed for %s: %v", p.Title, err)
		hc.reconnectFailed(p.ID, err)
		return
	}
	common.LogInfo("Reconnect issued for %s", p.Title)
}

// RemoveConnection removes health tracking for a profile.
func (hc *HealthChecker) RemoveConnection(profileID string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	delete(hc.connectionHealth, profileID)
}

// UpdateConfig updates the health checker configuration.
func (hc *HealthChecker) UpdateConfig(config HealthConfig) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.config = config
}
