package relay

import "sync"

// Fanout wakes the push subscriber for a token the moment a result is
// deposited. At most one subscriber per token is meaningful, since a single
// client instance owns a session. The signal carries no payload: the woken
// handler must consume from the store itself, so a missed or spurious signal
// can never lose a result.
type Fanout struct {
	mu      sync.Mutex
	waiters map[string]chan struct{}
}

func NewFanout() *Fanout {
	return &Fanout{waiters: make(map[string]chan struct{})}
}

// Subscribe registers interest in token and returns a single-slot signal
// channel together with a cancel func. Cancel must run on every exit path.
// A newer subscriber replaces an older one for the same token; the replaced
// channel is closed so its waiter wakes up and re-checks the store instead
// of blocking until its deadline.
func (f *Fanout) Subscribe(token string) (<-chan struct{}, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if old, ok := f.waiters[token]; ok {
		close(old)
	}
	ch := make(chan struct{}, 1)
	f.waiters[token] = ch

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.waiters[token] == ch {
			delete(f.waiters, token)
		}
	}
	return ch, cancel
}

// Notify signals the subscriber for token, if any. It never blocks: the slot
// holds one pending signal and anything beyond that is redundant.
func (f *Fanout) Notify(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch, ok := f.waiters[token]
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Len reports the number of active subscriptions.
func (f *Fanout) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}
