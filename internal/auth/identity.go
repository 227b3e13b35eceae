// Package auth holds the signed-in identity on the client side of a chat
// session and tells interested parties when it changes.
package auth

import "sync"

// Identity is the current signed-in identity, possibly none.
type Identity struct {
	mu       sync.Mutex
	current  string
	watchers map[chan string]struct{}
}

// NewIdentity starts signed in as id; pass "" to start signed out.
func NewIdentity(id string) *Identity {
	return &Identity{current: id, watchers: make(map[chan string]struct{})}
}

// Current returns the identity and whether anyone is signed in.
func (i *Identity) Current() (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.current, i.current != ""
}

func (i *Identity) SignIn(id string) { i.set(id) }

func (i *Identity) SignOut() { i.set("") }

// Watch returns a channel that receives the new identity after every
// change ("" after sign-out) and a function that stops the watch. A
// watcher that has not consumed the previous change only sees the latest.
func (i *Identity) Watch() (<-chan string, func()) {
	ch := make(chan string, 1)
	i.mu.Lock()
	i.watchers[ch] = struct{}{}
	i.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			i.mu.Lock()
			delete(i.watchers, ch)
			i.mu.Unlock()
			close(ch)
		})
	}
	return ch, stop
}

func (i *Identity) set(id string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.current == id {
		return
	}
	i.current = id
	for ch := range i.watchers {
		// Replace a pending, unconsumed value with the latest one.
		select {
		case <-ch:
		default:
		}
		ch <- id
	}
}
