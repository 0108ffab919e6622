package capsule

import "sync"

// Broadcaster publishes State to any number of subscribers with "latest-wins"
// semantics for late subscribers: a new Subscribe() call immediately
// receives the most recent published state, and buffered channels of size 1
// are overwritten rather than blocking the publisher, per Design Notes §9
// ("controller publishes CapsuleState to a typed channel with a
// latest-wins semantic for late subscribers").
type Broadcaster struct {
	mu      sync.Mutex
	current State
	subs    map[chan State]struct{}
}

// NewBroadcaster creates a Broadcaster seeded with IdleState.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		current: IdleState,
		subs:    make(map[chan State]struct{}),
	}
}

// Publish sets the current state and pushes it to every live subscriber,
// non-blockingly: a slow subscriber's stale buffered value is dropped so
// replaying the latest state never blocks the session controller.
func (b *Broadcaster) Publish(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = s
	for ch := range b.subs {
		select {
		case ch <- s:
		default:
			// Drain the stale value, then deliver the fresh one. If the
			// channel was emptied between the drain and this send by a
			// concurrent reader, the send below cannot block (capacity 1).
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

// Subscribe returns a channel that immediately receives the current state
// and every subsequent Publish. Call Unsubscribe when done to free it.
func (b *Broadcaster) Subscribe() chan State {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan State, 1)
	ch <- b.current
	b.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (b *Broadcaster) Unsubscribe(ch chan State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

// Current returns the most recently published state.
func (b *Broadcaster) Current() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}
