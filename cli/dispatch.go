package cli

import (
	"sync"

	"github.com/yllada/passage/vpn"
)

// dispatcher hands status events to slow handlers on its own goroutine,
// in order, so that the coordinator never waits for a notification
// daemon or a disk write.
type dispatcher struct {
	handlers []func(vpn.StatusEvent)

	mu     sync.Mutex
	queue  []vpn.StatusEvent
	closed bool

	wake chan struct{}
	done chan struct{}
}

func newDispatcher(handlers ...func(vpn.StatusEvent)) *dispatcher {
	d := &dispatcher{
		handlers: handlers,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

// Handle queues ev. It is registered with Coordinator.Subscribe.
func (d *dispatcher) Handle(ev vpn.StatusEvent) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, ev)
	d.mu.Unlock()
	d.signal()
}

// Close delivers the queued events and stops the goroutine.
func (d *dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	d.mu.Unlock()
	d.signal()
	<-d.done
}

func (d *dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		batch, closed := d.queue, d.closed
		d.queue = nil
		d.mu.Unlock()

		for _, ev := range batch {
			for _, h := range d.handlers {
				h(ev)
			}
		}

		switch {
		case len(batch) > 0:
		case closed:
			return
		default:
			<-d.wake
		}
	}
}
