package journal

import (
	"context"
	"sync"
)

// AuthProvider supplies the signed-in owner and announces transitions.
type AuthProvider interface {
	// CurrentOwner returns the signed-in owner, if any.
	CurrentOwner() (string, bool)
	// Watch delivers the owner after every transition, "" on sign-out.
	// The channel is closed when ctx ends.
	Watch(ctx context.Context) <-chan string
}

// StaticAuth is an AuthProvider driven by explicit SignIn and SignOut calls.
type StaticAuth struct {
	mu       sync.Mutex
	owner    string
	watchers map[chan string]struct{}
}

// NewStaticAuth returns a provider signed in as owner, or signed out when
// owner is "".
func NewStaticAuth(owner string) *StaticAuth {
	return &StaticAuth{owner: owner, watchers: make(map[chan string]struct{})}
}

func (a *StaticAuth) CurrentOwner() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.owner, a.owner != ""
}

func (a *StaticAuth) Watch(ctx context.Context) <-chan string {
	ch := make(chan string, 1)
	a.mu.Lock()
	a.watchers[ch] = struct{}{}
	a.mu.Unlock()

	go func() {
		<-ctx.Done()
		a.mu.Lock()
		delete(a.watchers, ch)
		close(ch)
		a.mu.Unlock()
	}()
	return ch
}

// SignIn switches to owner.
func (a *StaticAuth) SignIn(owner string) {
	a.set(owner)
}

// SignOut clears the owner.
func (a *StaticAuth) SignOut() {
	a.set("")
}

func (a *StaticAuth) set(owner string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.owner == owner {
		return
	}
	a.owner = owner
	for ch := range a.watchers {
		// Keep only the latest owner in the buffer.
		select {
		case ch <- owner:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- owner:
			default:
			}
		}
	}
}

// Manager opens a Session whenever an owner signs in and closes it on
// sign-out, owner switch, or when Run returns.
type Manager struct {
	auth    AuthProvider
	adapter *Adapter
	opts    SessionOptions

	mu        sync.Mutex
	current   *Session
	onSession func(*Session)
}

// NewManager returns a Manager. onSession, if non-nil, is called with every
// new session and with nil when a session ends without a successor.
func NewManager(auth AuthProvider, adapter *Adapter, opts SessionOptions, onSession func(*Session)) *Manager {
	return &Manager{auth: auth, adapter: adapter, opts: opts, onSession: onSession}
}

// Current returns the active session, or nil when signed out.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Run follows the auth provider until ctx ends. The active session is
// always closed before Run returns.
func (m *Manager) Run(ctx context.Context) error {
	watch := m.auth.Watch(ctx)
	defer m.switchTo(ctx, "")

	if owner, ok := m.auth.CurrentOwner(); ok {
		m.switchTo(ctx, owner)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case owner, ok := <-watch:
			if !ok {
				return ctx.Err()
			}
			m.switchTo(ctx, owner)
		}
	}
}

func (m *Manager) switchTo(ctx context.Context, owner string) {
	m.mu.Lock()
	prev := m.current
	if prev != nil && prev.Owner() == owner {
		m.mu.Unlock()
		return
	}
	m.current = nil
	m.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	if owner == "" || ctx.Err() != nil {
		if prev != nil && m.onSession != nil {
			m.onSession(nil)
		}
		return
	}

	next := NewSession(ctx, m.adapter, owner, m.opts)
	m.mu.Lock()
	m.current = next
	m.mu.Unlock()
	if m.onSession != nil {
		m.onSession(next)
	}
}
