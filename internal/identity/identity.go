// Package identity resolves bearer tokens to gallery owners and notifies
// listeners of sign-in state changes.
package identity

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/photo-gallery/backend/internal/config"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

// User is an authenticated gallery owner.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Event reports a sign-in state change for User.
type Event struct {
	User     User
	SignedIn bool
}

// Provider authenticates configured credentials and tracks sessions.
type Provider struct {
	mu          sync.RWMutex
	credentials map[string]User
	sessions    map[string]User
	listeners   map[int]func(Event)
	nextID      int
	required    bool
}

// NewProvider creates a provider from configured users. When required is
// set, requests without a valid token are rejected.
func NewProvider(users []config.UserConfig, required bool) *Provider {
	p := &Provider{
		credentials: make(map[string]User, len(users)),
		sessions:    make(map[string]User),
		listeners:   make(map[int]func(Event)),
		required:    required,
	}
	for _, u := range users {
		if u.Token == "" || u.ID == "" {
			continue
		}
		p.credentials[u.Token] = User{ID: u.ID, Email: u.Email}
	}
	return p
}

// Required reports whether every request must authenticate.
func (p *Provider) Required() bool { return p.required }

// Authenticate resolves a credential or session token.
func (p *Provider) Authenticate(token string) (User, error) {
	if token == "" {
		return User{}, ErrUnauthenticated
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if u, ok := p.sessions[token]; ok {
		return u, nil
	}
	if u, ok := p.credentials[token]; ok {
		return u, nil
	}
	return User{}, fmt.Errorf("unknown token: %w", ErrUnauthenticated)
}

// SignIn exchanges a credential token for a new session token and notifies
// listeners.
func (p *Provider) SignIn(credential string) (string, User, error) {
	p.mu.Lock()
	u, ok := p.credentials[credential]
	if !ok {
		p.mu.Unlock()
		return "", User{}, fmt.Errorf("invalid credentials: %w", ErrUnauthenticated)
	}
	session := uuid.New().String()
	p.sessions[session] = u
	subs := p.subscribers()
	p.mu.Unlock()

	for _, fn := range subs {
		fn(Event{User: u, SignedIn: true})
	}
	return session, u, nil
}

// SignOut ends a session and notifies listeners with the user it belonged to.
func (p *Provider) SignOut(session string) error {
	p.mu.Lock()
	u, ok := p.sessions[session]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("unknown session: %w", ErrUnauthenticated)
	}
	delete(p.sessions, session)
	subs := p.subscribers()
	p.mu.Unlock()

	for _, fn := range subs {
		fn(Event{User: u})
	}
	return nil
}

// Subscribe registers fn for sign-in state changes. The returned function
// unregisters it and is safe to call more than once.
func (p *Provider) Subscribe(fn func(Event)) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

// Listeners returns the number of registered listeners.
func (p *Provider) Listeners() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.listeners)
}

// subscribers returns listeners in registration order. Must hold p.mu.
func (p *Provider) subscribers() []func(Event) {
	ids := make([]int, 0, len(p.listeners))
	for id := range p.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Event), len(ids))
	for i, id := range ids {
		out[i] = p.listeners[id]
	}
	return out
}
