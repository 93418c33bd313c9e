package netenv

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// WatchSleep calls fn with true right before the machine suspends and
// with false after it resumes. It blocks until ctx is done.
func (b *Bus) WatchSleep(ctx context.Context, fn func(sleeping bool)) error {
	err := b.conn.AddMatchSignalContext(ctx,
		dbus.WithMatchObjectPath(login1Path),
		dbus.WithMatchInterface(login1Manager),
		dbus.WithMatchMember("PrepareForSleep"),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", login1Service, err)
	}

	signals := make(chan *dbus.Signal, 8)
	b.conn.Signal(signals)
	defer b.conn.RemoveSignal(signals)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			if sleeping, ok := prepareForSleep(sig); ok {
				fn(sleeping)
			}
		}
	}
}

func prepareForSleep(sig *dbus.Signal) (bool, bool) {
	if sig == nil || sig.Name != login1Manager+".PrepareForSleep" || len(sig.Body) != 1 {
		return false, false
	}
	sleeping, ok := sig.Body[0].(bool)
	return sleeping, ok
}
