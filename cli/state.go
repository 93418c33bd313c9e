package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/yllada/passage/common"
	"github.com/yllada/passage/vpn"
)

// sessionState is what a running session records for 'passage status'.
type sessionState struct {
	PID      int       `json:"pid"`
	Key      string    `json:"key,omitempty"`
	Title    string    `json:"title,omitempty"`
	Status   string    `json:"status"`
	Error    string    `json:"error,omitempty"`
	Since    time.Time `json:"since"`
	BytesIn  uint64    `json:"bytes_in,omitempty"`
	BytesOut uint64    `json:"bytes_out,omitempty"`
}

// stateFile mirrors the session's status events into a JSON file.
type stateFile struct {
	path string

	mu      sync.Mutex
	last    vpn.Status
	since   time.Time
	current sessionState
}

func newStateFile(path string) *stateFile {
	return &stateFile{path: path}
}

// Handle records ev. It is registered with Coordinator.Subscribe.
func (f *stateFile) Handle(ev vpn.StatusEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.since.IsZero() || ev.Status != f.last {
		f.last = ev.Status
		f.since = time.Now()
	}

	st := sessionState{
		PID:    os.Getpid(),
		Title:  ev.Title,
		Status: ev.Status.Name(),
		Since:  f.since,
	}
	if !ev.Key.IsZero() {
		st.Key = ev.Key.String()
	}
	if ev.Err != nil {
		st.Error = ev.Err.Error()
	}

	f.current = st
	if err := f.write(st); err != nil {
		common.LogWarn("Failed to record session state: %v", err)
	}
}

// SetDataCount records the exchanged bytes; ok is false when the tunnel
// reports none. Nothing is written before the first status event.
func (f *stateFile) SetDataCount(in, out uint64, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.since.IsZero() {
		return
	}
	if !ok {
		in, out = 0, 0
	}
	if f.current.BytesIn == in && f.current.BytesOut == out {
		return
	}
	f.current.BytesIn, f.current.BytesOut = in, out
	if err := f.write(f.current); err != nil {
		common.LogWarn("Failed to record data count: %v", err)
	}
}

func (f *stateFile) write(st sessionState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".session-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

// Remove deletes the file when the session ends.
func (f *stateFile) Remove() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		common.LogWarn("Failed to remove session state: %v", err)
	}
}

// readState returns the state of a running session, or nil when no
// session is running. Files left behind by a dead process are ignored.
func readState(path string) (*sessionState, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var st sessionState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("corrupt session state %s: %w", path, err)
	}
	if !processAlive(st.PID) {
		common.LogDebug("Ignoring session state of dead process %d", st.PID)
		return nil, nil
	}
	return &st, nil
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
