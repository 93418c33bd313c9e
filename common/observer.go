package common

import "sync"

// Observers is a list of callbacks that receive values of type T.
// Registration returns a function that removes the callback again.
type Observers[T any] struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(T)
}

// Subscribe registers fn and returns its cancel function.
func (o *Observers[T]) Subscribe(fn func(T)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.subs == nil {
		o.subs = make(map[int]func(T))
	}
	id := o.nextID
	o.nextID++
	o.subs[id] = fn

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.subs, id)
	}
}

// SubscribeChan delivers values on a buffered channel. Values are dropped
// when the buffer is full so a slow reader never stalls the publisher.
func (o *Observers[T]) SubscribeChan(buffer int) (<-chan T, func()) {
	ch := make(chan T, buffer)
	var once sync.Once
	var closeMu sync.RWMutex
	closed := false

	cancel := o.Subscribe(func(v T) {
		closeMu.RLock()
		defer closeMu.RUnlock()
		if closed {
			return
		}
		select {
		case ch <- v:
		default:
			LogWarn("Dropping event for slow subscriber")
		}
	})

	return ch, func() {
		once.Do(func() {
			cancel()
			closeMu.Lock()
			closed = true
			close(ch)
			closeMu.Unlock()
		})
	}
}

// Publish calls every registered callback synchronously, in no particular order.
func (o *Observers[T]) Publish(v T) {
	o.mu.RLock()
	subs := make([]func(T), 0, len(o.subs))
	for _, fn := range o.subs {
		subs = append(subs, fn)
	}
	o.mu.RUnlock()

	for _, fn := range subs {
		fn(v)
	}
}

// Len returns the number of registered callbacks.
func (o *Observers[T]) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.subs)
}
