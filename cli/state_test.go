package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/yllada/passage/profile"
	"github.com/yllada/passage/vpn"
)

func TestStateFile_SetDataCount(t *testing.T) {
	key := profile.Key{Context: profile.ContextHost, ID: "h1"}

	tests := []struct {
		name      string
		events    []vpn.Status
		in, out   uint64
		ok        bool
		wantFile  bool
		wantBytes [2]uint64
	}{
		{name: "nothing before the first event", in: 10, out: 20, ok: true, wantFile: false},
		{name: "connected", events: []vpn.Status{vpn.StatusConnected}, in: 4096, out: 1024, ok: true, wantFile: true, wantBytes: [2]uint64{4096, 1024}},
		{name: "unavailable count clears", events: []vpn.Status{vpn.StatusConnected}, in: 4096, out: 1024, ok: false, wantFile: true},
		{name: "status change resets", events: []vpn.Status{vpn.StatusConnected, vpn.StatusDisconnected}, wantFile: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "session.json")
			f := newStateFile(path)

			for i, status := range tt.events {
				f.Handle(vpn.StatusEvent{Key: key, Title: "office", Status: status})
				if i == 0 && len(tt.events) > 1 {
					f.SetDataCount(1, 2, true)
				}
			}
			if len(tt.events) < 2 {
				f.SetDataCount(tt.in, tt.out, tt.ok)
			}

			st, err := readState(path)
			if err != nil {
				t.Fatal(err)
			}
			if (st != nil) != tt.wantFile {
				t.Fatalf("state recorded = %v, want %v", st != nil, tt.wantFile)
			}
			if st == nil {
				if _, err := os.Stat(path); !os.IsNotExist(err) {
					t.Errorf("state file should not exist: %v", err)
				}
				return
			}
			if got := [2]uint64{st.BytesIn, st.BytesOut}; got != tt.wantBytes {
				t.Errorf("bytes = %v, want %v", got, tt.wantBytes)
			}
			if st.Title != "office" || st.Key != key.String() {
				t.Errorf("state = %+v", st)
			}
		})
	}
}
