// Package connectivity exposes network reachability as a live boolean
// stream. The retry executor subscribes to it to decide between backoff
// delays (connected) and wait-for-reconnect (disconnected).
//
// Two implementations are provided: Switch, a manually driven monitor fed
// by platform callbacks or tests, and Prober, which derives reachability
// from periodic HTTP probes against a known endpoint.
package connectivity

import "sync"

// Monitor reports whether the network is currently reachable and lets
// callers subscribe to reachability changes.
type Monitor interface {
	// Connected returns the last observed reachability state.
	Connected() bool

	// Subscribe registers an observer. The subscription channel receives
	// the current state immediately and every subsequent change. The
	// caller must Cancel the subscription when done.
	Subscribe() *Subscription
}

// Subscription is one observer of a Monitor. C is closed after Cancel.
type Subscription struct {
	C      <-chan bool
	ch     chan bool
	cancel func()
	once   sync.Once
}

// Cancel deregisters the subscription and closes C.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Switch is a Monitor driven by explicit Set calls. The zero value is not
// usable; construct with NewSwitch.
type Switch struct {
	mu        sync.Mutex
	connected bool
	subs      map[*Subscription]struct{}
}

// NewSwitch returns a Switch starting in the given state.
func NewSwitch(connected bool) *Switch {
	return &Switch{
		connected: connected,
		subs:      make(map[*Subscription]struct{}),
	}
}

// Connected implements Monitor.
func (s *Switch) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Set records a new reachability state and notifies subscribers. Setting
// the same state twice is a no-op; subscribers only see transitions.
func (s *Switch) Set(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected == connected {
		return
	}
	s.connected = connected

	for sub := range s.subs {
		select {
		case sub.ch <- connected:
		default:
			// Slow subscriber: drop the intermediate transition. The next
			// Subscribe read or transition will carry the current state.
		}
	}
}

// Subscribe implements Monitor.
func (s *Switch) Subscribe() *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Buffer of 4 absorbs bursts of flaps without blocking Set.
	ch := make(chan bool, 4)
	sub := &Subscription{C: ch, ch: ch}
	sub.cancel = func() {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
		close(ch)
	}
	s.subs[sub] = struct{}{}

	ch <- s.connected
	return sub
}
