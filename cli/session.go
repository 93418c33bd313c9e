package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/yllada/passage/common"
	"github.com/yllada/passage/config"
	"github.com/yllada/passage/netenv"
	"github.com/yllada/passage/notify"
	"github.com/yllada/passage/profile"
	"github.com/yllada/passage/vpn"
)

// eventBuffer bounds the status events queued for a session.
const eventBuffer = 64

// session hosts the coordinator for commands that keep the tunnel up.
// The tunnel is a child process, so it lives exactly as long as the
// session does.
type session struct {
	coord  *vpn.Coordinator
	store  *profile.Store
	events chan vpn.StatusEvent
	state  *stateFile

	closers []func()
}

// healthConfig maps the user settings onto the health checker.
func healthConfig(cfg *config.Config) vpn.HealthConfig {
	hc := vpn.DefaultHealthConfig()
	hc.CheckInterval = cfg.Health.CheckInterval
	hc.FailureThreshold = cfg.Health.FailureThreshold
	hc.MaxReconnectAttempts = cfg.Health.MaxReconnectAttempts
	hc.TestHosts = cfg.Health.TestHosts
	hc.AutoReconnect = cfg.AutoReconnect
	return hc
}

func tunnelPreferences(cfg *config.Config) vpn.Preferences {
	return vpn.Preferences{
		ResolvesHostname: cfg.ResolvesHostname,
		MasksPrivateData: cfg.MasksPrivateData,
	}
}

// coordinatorOptions persists preference changes into cfg.
func coordinatorOptions(cfg *config.Config, prompter vpn.Prompter) vpn.Options {
	return vpn.Options{
		Prompter:    prompter,
		Preferences: tunnelPreferences(cfg),
		SavePreferences: func(prefs vpn.Preferences) error {
			cfg.ResolvesHostname = prefs.ResolvesHostname
			cfg.MasksPrivateData = prefs.MasksPrivateData
			return cfg.Save()
		},
	}
}

// startSession prepares the tunnel and starts the watchers. prompter
// may be nil when the caller installs its own.
func (cli *CLI) startSession(ctx context.Context, prompter vpn.Prompter) (*session, error) {
	store, err := cli.profiles()
	if err != nil {
		return nil, err
	}
	cfg := cli.Config

	tunnel := vpn.NewOpenVPNTunnel(vpn.OpenVPNOptions{
		DebugLog: filepath.Join(cli.dir, common.DebugLogFileName),
	})
	coord := vpn.NewCoordinator(store, tunnel, coordinatorOptions(cfg, prompter))

	s := &session{
		coord:  coord,
		store:  store,
		events: make(chan vpn.StatusEvent, eventBuffer),
		state:  newStateFile(filepath.Join(cli.dir, common.SessionFileName)),
	}

	s.onClose(coord.Subscribe(func(ev vpn.StatusEvent) {
		select {
		case s.events <- ev:
		default:
			common.LogDebug("Dropping status event %s", ev.Status.Name())
		}
	}))
	s.onClose(s.state.Remove)

	// The notification daemon and the disk may be slow; the coordinator
	// publishes while holding its lock.
	notifier := notify.New(func() bool { return cfg.ShowNotifications })
	slow := newDispatcher(s.state.Handle, notifier.Handle)
	s.onClose(slow.Close)
	s.onClose(coord.Subscribe(slow.Handle))

	tickCtx, stopTicking := context.WithCancel(context.Background())
	ticking := make(chan struct{})
	go func() {
		defer close(ticking)
		s.tick(tickCtx, common.DataCountInterval)
	}()
	s.onClose(func() {
		stopTicking()
		<-ticking
	})

	s.onClose(store.Subscribe(func(ev profile.Event) {
		common.LogDebug("Profile %s: %s", ev.Profile.Title, ev.Kind)
	}))

	health := vpn.NewHealthChecker(coord, healthConfig(cfg))
	health.SetOnHealthChange(func(profileID string, oldState, newState vpn.HealthState) {
		common.LogInfo("Connection health: %s -> %s", oldState, newState)
	})
	health.SetOnReconnectFailed(func(profileID string, err error) {
		common.LogError("Automatic reconnect failed: %v", err)
	})
	s.onClose(coord.Subscribe(health.HandleStatus))
	health.Start()
	s.onClose(health.Stop)

	cli.startWatchers(ctx, s)

	ready := make(chan struct{})
	coord.Prepare(func() { close(ready) })
	select {
	case <-ready:
	case <-ctx.Done():
		s.close()
		return nil, ctx.Err()
	}
	s.drain()

	return s, nil
}

// startWatchers hooks trusted networks and sleep handling to the system
// bus. Both are optional.
func (cli *CLI) startWatchers(ctx context.Context, s *session) {
	bus, err := netenv.ConnectSystem()
	if err != nil {
		common.LogWarn("System bus unavailable, trusted networks and sleep handling disabled: %v", err)
		return
	}

	watchCtx, cancel := context.WithCancel(ctx)
	s.onClose(func() {
		cancel()
		_ = bus.Close()
	})

	cfg := cli.Config
	go vpn.NewTrustedWatcher(s.coord, bus, cfg.TrustedPollInterval).Run(watchCtx)
	go func() {
		sleep := vpn.NewSleepWatcher(s.coord, bus, func() bool { return cfg.DisconnectsOnSleep })
		if err := sleep.Run(watchCtx); err != nil {
			common.LogWarn("Sleep watcher stopped: %v", err)
		}
	}()
}

func (s *session) onClose(fn func()) {
	s.closers = append(s.closers, fn)
}

// close releases everything in reverse order of registration.
func (s *session) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// tick records the exchanged byte counts and rotates the log file of
// long-running sessions.
func (s *session) tick(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.state.SetDataCount(s.coord.DataCount())
			common.GetLogger().CheckRotation()
		}
	}
}

// drain discards queued events.
func (s *session) drain() {
	for {
		select {
		case <-s.events:
		default:
			return
		}
	}
}

// wait reports status changes until the tunnel goes down or ctx is done.
// An interrupt disconnects the tunnel before returning.
func (s *session) wait(ctx context.Context, out io.Writer) error {
	for {
		select {
		case ev := <-s.events:
			printEvent(out, ev)
			if ev.Status == vpn.StatusDisconnected {
				return ev.Err
			}
		case <-ctx.Done():
			return s.shutdown(out)
		}
	}
}

// shutdown disconnects the tunnel and waits for the process to exit.
func (s *session) shutdown(out io.Writer) error {
	if status, _ := s.coord.Status(); status == vpn.StatusDisconnected {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*common.DisconnectTimeout)
	defer cancel()
	if err := s.coord.Disconnect(ctx); err != nil {
		return err
	}
	for {
		select {
		case ev := <-s.events:
			printEvent(out, ev)
			if ev.Status == vpn.StatusDisconnected {
				return nil
			}
		case <-ctx.Done():
			return fmt.Errorf("tunnel did not stop: %w", ctx.Err())
		}
	}
}

func printEvent(out io.Writer, ev vpn.StatusEvent) {
	title := ev.Title
	if title == "" {
		title = "VPN"
	}
	switch {
	case ev.Status == vpn.StatusDisconnected && ev.Err != nil:
		fmt.Fprintf(out, "%s: %s (%v)\n", title, ev.Status, ev.Err)
	default:
		fmt.Fprintf(out, "%s: %s\n", title, ev.Status)
	}
}

// hostCommand runs action inside a session and keeps the tunnel up until
// it goes down or the command is interrupted.
func (cli *CLI) hostCommand(cmd *cobra.Command, action func(ctx context.Context, s *session) error) error {
	ctx := cmd.Context()
	s, err := cli.startSession(ctx, &terminalPrompter{ctx: ctx, cli: cli, cmd: cmd})
	if err != nil {
		return err
	}
	defer s.close()

	if err := action(ctx, s); err != nil {
		return err
	}

	// Nothing was dispatched, e.g. a cancelled credential prompt or a
	// toggle that stopped a tunnel this process does not own.
	if status, _ := s.coord.Status(); status == vpn.StatusDisconnected && len(s.events) == 0 {
		return nil
	}

	cli.printer(cmd).notice("Press Ctrl+C to disconnect.")
	return s.wait(ctx, cmd.OutOrStdout())
}
