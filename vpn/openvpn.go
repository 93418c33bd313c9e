package vpn

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/yllada/passage/common"
	"github.com/yllada/passage/profile"
)

// OpenVPNOptions configure an OpenVPNTunnel.
type OpenVPNOptions struct {
	// Binary is the openvpn executable, looked up on PATH.
	Binary string
	// RuntimeDir holds temporary credential and status files.
	RuntimeDir string
	// DebugLog receives the output of every session.
	DebugLog string
}

// OpenVPNTunnel runs openvpn as a child process, elevated through pkexec
// when not running as root.
type OpenVPNTunnel struct {
	mu         sync.Mutex
	binary     string
	elevate    bool
	runtimeDir string
	debugLog   string

	prepared bool
	status   Status
	lastErr  error
	bound    *profile.Profile
	cfg      *Configuration

	// gen increases on every Connect and Disconnect so that a stale
	// session cannot report status.
	gen     uint64
	session *session

	observers common.Observers[Status]
	command   func(name string, args ...string) *exec.Cmd
}

type session struct {
	gen        uint64
	title      string
	cmd        *exec.Cmd
	credFile   string
	statusFile string
	masker     *masker
	done       chan struct{}
}

var _ Tunnel = (*OpenVPNTunnel)(nil)

// NewOpenVPNTunnel creates an unprepared tunnel.
func NewOpenVPNTunnel(opts OpenVPNOptions) *OpenVPNTunnel {
	if opts.Binary == "" {
		opts.Binary = "openvpn"
	}
	if opts.RuntimeDir == "" {
		opts.RuntimeDir = filepath.Join(os.TempDir(), common.ConfigDirName)
	}
	return &OpenVPNTunnel{
		binary:     opts.Binary,
		elevate:    os.Geteuid() != 0,
		runtimeDir: opts.RuntimeDir,
		debugLog:   opts.DebugLog,
		command:    exec.Command,
	}
}

// Prepare locates the openvpn binary in the background.
func (t *OpenVPNTunnel) Prepare(onReady func()) {
	go func() {
		t.mu.Lock()
		path, err := exec.LookPath(t.binary)
		if err != nil {
			t.lastErr = fmt.Errorf("%s not found: %w", t.binary, err)
			common.LogWarn("OpenVPN binary not available: %v", err)
		} else {
			t.binary = path
		}
		t.prepared = true
		t.mu.Unlock()

		if onReady != nil {
			onReady()
		}
	}()
}

// Status returns the current status.
func (t *OpenVPNTunnel) Status() (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status, t.prepared
}

// Bind sets the profile the next configuration must belong to.
func (t *OpenVPNTunnel) Bind(p *profile.Profile) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bound = p.Clone()
}

// LastError returns the error that ended the last session.
func (t *OpenVPNTunnel) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// OnStatusChange registers fn for status changes.
func (t *OpenVPNTunnel) OnStatusChange(fn func(Status)) func() {
	return t.observers.Subscribe(fn)
}

// Connect stops any running session and starts a new one with cfg.
func (t *OpenVPNTunnel) Connect(ctx context.Context, cfg *Configuration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := BuildArgs(cfg, ""); err != nil {
		return err
	}

	t.mu.Lock()
	if !t.prepared {
		t.mu.Unlock()
		return common.ErrNotPrepared
	}
	if t.bound == nil || t.bound.Key() != cfg.Profile.Key() {
		t.mu.Unlock()
		return fmt.Errorf("%w: configuration is not for the bound profile", common.ErrInvalidConfig)
	}
	old := t.session
	t.session = nil
	t.gen++
	gen := t.gen
	t.cfg = cfg
	t.lastErr = nil
	t.mu.Unlock()

	t.setStatus(gen, StatusConnecting)
	go t.run(gen, old, cfg)
	return nil
}

// Disconnect stops the running session.
func (t *OpenVPNTunnel) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	if !t.prepared {
		t.mu.Unlock()
		return common.ErrNotPrepared
	}
	old := t.session
	t.session = nil
	t.gen++
	gen := t.gen
	t.cfg = nil
	t.mu.Unlock()

	if old == nil {
		t.setStatus(gen, StatusDisconnected)
		return nil
	}

	common.LogInfo("Stopping tunnel for %s", old.title)
	t.setStatus(gen, StatusDisconnecting)
	go func() {
		old.stop()
		t.setStatus(gen, StatusDisconnected)
	}()
	return nil
}

// Reinstall restarts an enabled session when cfg changes its command line.
func (t *OpenVPNTunnel) Reinstall(ctx context.Context, cfg *Configuration) error {
	t.mu.Lock()
	if !t.prepared {
		t.mu.Unlock()
		return common.ErrNotPrepared
	}
	// A disconnect in flight has already dropped the configuration.
	if t.status == StatusDisconnected || t.status == StatusDisconnecting || t.cfg == nil {
		t.mu.Unlock()
		return nil
	}
	unchanged := t.cfg != nil && sameSession(t.cfg, cfg)
	if unchanged {
		t.cfg = cfg
	}
	t.mu.Unlock()

	if unchanged {
		common.LogDebug("Tunnel configuration unchanged, not restarting")
		return nil
	}
	return t.Connect(ctx, cfg)
}

func sameSession(a, b *Configuration) bool {
	argsA, errA := BuildArgs(a, credPlaceholder(a.Credentials))
	argsB, errB := BuildArgs(b, credPlaceholder(b.Credentials))
	return errA == nil && errB == nil &&
		slices.Equal(argsA, argsB) &&
		a.Credentials == b.Credentials &&
		a.Preferences.MasksPrivateData == b.Preferences.MasksPrivateData
}

func credPlaceholder(creds profile.Credentials) string {
	if creds.Username == "" && creds.Password == "" {
		return ""
	}
	return "credentials"
}

func (t *OpenVPNTunnel) setStatus(gen uint64, status Status) {
	t.mu.Lock()
	if gen != t.gen || t.status == status {
		t.mu.Unlock()
		return
	}
	t.status = status
	t.mu.Unlock()

	t.observers.Publish(status)
}

func (t *OpenVPNTunnel) setError(gen uint64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen == t.gen {
		t.lastErr = err
	}
}

func (t *OpenVPNTunnel) fail(gen uint64, err error) {
	common.LogError("Tunnel failed: %v", err)
	t.setError(gen, err)
	t.setStatus(gen, StatusDisconnected)
}

// run stops the previous session and starts the next one.
func (t *OpenVPNTunnel) run(gen uint64, old *session, cfg *Configuration) {
	if old != nil {
		old.stop()
	}

	s, out, err := t.start(gen, cfg)
	if err != nil {
		t.fail(gen, fmt.Errorf("%w: %v", common.ErrConnectionFailed, err))
		return
	}

	t.mu.Lock()
	stale := t.gen != gen
	if !stale {
		t.session = s
	}
	t.mu.Unlock()

	go t.monitor(s, out)
	if stale {
		s.stop()
	}
}

func (t *OpenVPNTunnel) start(gen uint64, cfg *Configuration) (*session, io.Reader, error) {
	title := cfg.Profile.Title
	common.LogInfo("Starting connection to %s", title)

	if err := os.MkdirAll(t.runtimeDir, 0700); err != nil {
		return nil, nil, err
	}
	credFile, err := t.writeCredentials(cfg.Credentials)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create credentials: %w", err)
	}

	args, err := BuildArgs(cfg, credFile)
	if err != nil {
		removeFile(credFile)
		return nil, nil, err
	}
	statusFile := filepath.Join(t.runtimeDir, "status-"+strconv.FormatUint(gen, 10))
	args = append(args, "--status", statusFile,
		strconv.Itoa(int(common.DataCountInterval/time.Second)))

	t.mu.Lock()
	name, argv := t.binary, args
	if t.elevate {
		name, argv = "pkexec", append([]string{t.binary}, args...)
	}
	cmd := t.command(name, argv...)
	t.mu.Unlock()

	m := newMasker(cfg)
	common.LogDebug("Command: %s", m.mask(name+" "+strings.Join(argv, " ")))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		removeFile(credFile)
		return nil, nil, err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		removeFile(credFile)
		return nil, nil, fmt.Errorf("failed to start openvpn: %w", err)
	}
	common.LogInfo("OpenVPN process started with PID %d", cmd.Process.Pid)

	return &session{
		gen:        gen,
		title:      title,
		cmd:        cmd,
		credFile:   credFile,
		statusFile: statusFile,
		masker:     m,
		done:       make(chan struct{}),
	}, stdout, nil
}

// writeCredentials creates a temporary auth-user-pass file.
func (t *OpenVPNTunnel) writeCredentials(creds profile.Credentials) (string, error) {
	if creds.Username == "" && creds.Password == "" {
		return "", nil
	}
	f, err := os.CreateTemp(t.runtimeDir, "cred-*")
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := f.Chmod(0600); err != nil {
		removeFile(f.Name())
		return "", err
	}
	if _, err := fmt.Fprintf(f, "%s\n%s\n", creds.Username, creds.Password); err != nil {
		removeFile(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// monitor scans the process output until it exits.
func (t *OpenVPNTunnel) monitor(s *session, out io.Reader) {
	debug := t.openDebugLog(s)
	if debug != nil {
		defer debug.Close()
	}

	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		line := scanner.Text()
		shown := s.masker.mask(line)
		common.LogDebug("OpenVPN: %s", shown)
		if debug != nil {
			fmt.Fprintln(debug, shown)
		}

		switch {
		case strings.Contains(line, "Initialization Sequence Completed"):
			common.LogInfo("Connection established for %s", s.title)
			t.setStatus(s.gen, StatusConnected)
		case strings.Contains(line, "AUTH_FAILED"):
			common.LogError("Authentication failed for %s", s.title)
			t.setError(s.gen, common.ErrAuthFailed)
		}
	}

	err := s.cmd.Wait()
	removeFile(s.credFile)
	removeFile(s.statusFile)
	close(s.done)

	t.mu.Lock()
	current := t.gen == s.gen
	if current {
		t.session = nil
		if err != nil && t.lastErr == nil {
			t.lastErr = fmt.Errorf("%w: %v", common.ErrConnectionFailed, err)
		}
	}
	t.mu.Unlock()

	if current {
		common.LogInfo("OpenVPN terminated for %s", s.title)
		t.setStatus(s.gen, StatusDisconnected)
	}
}

func (t *OpenVPNTunnel) openDebugLog(s *session) io.WriteCloser {
	if t.debugLog == "" {
		return nil
	}
	f, err := os.OpenFile(t.debugLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		common.LogWarn("Failed to open debug log: %v", err)
		return nil
	}
	fmt.Fprintln(f, common.SessionMarker)
	fmt.Fprintf(f, "%s %s\n", time.Now().Format(time.RFC3339), s.title)
	return f
}

// DataCount reads the byte counters openvpn writes to the status file
// every DataCountInterval. Counts are only reported while connected.
func (t *OpenVPNTunnel) DataCount() (in, out uint64, ok bool) {
	t.mu.Lock()
	s := t.session
	connected := t.status == StatusConnected
	t.mu.Unlock()
	if s == nil || !connected {
		return 0, 0, false
	}

	data, err := os.ReadFile(s.statusFile)
	if err != nil {
		return 0, 0, false
	}
	return parseStatusFile(data)
}

// parseStatusFile extracts the link byte counters from an openvpn
// client status file.
func parseStatusFile(data []byte) (in, out uint64, ok bool) {
	var seenIn, seenOut bool
	for _, line := range strings.Split(string(data), "\n") {
		name, value, found := strings.Cut(strings.TrimSpace(line), ",")
		if !found {
			continue
		}
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			continue
		}
		switch name {
		case "TCP/UDP read bytes":
			in, seenIn = n, true
		case "TCP/UDP write bytes":
			out, seenOut = n, true
		}
	}
	if !seenIn || !seenOut {
		return 0, 0, false
	}
	return in, out, true
}

// EraseDebugLog truncates the debug log. A running session keeps
// appending to it.
func (t *OpenVPNTunnel) EraseDebugLog() error {
	if t.debugLog == "" {
		return nil
	}
	if err := os.Truncate(t.debugLog, 0); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to erase debug log: %w", err)
	}
	common.LogDebug("Tunnel debug log erased")
	return nil
}

// stop asks the process to exit and kills it after DisconnectTimeout.
func (s *session) stop() {
	if s.cmd.Process == nil {
		return
	}
	_ = s.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-s.done:
	case <-time.After(common.DisconnectTimeout):
		common.LogWarn("OpenVPN did not exit, killing PID %d", s.cmd.Process.Pid)
		_ = s.cmd.Process.Kill()
		<-s.done
	}
}

func removeFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		common.LogWarn("Failed to remove %s: %v", path, err)
	}
}
