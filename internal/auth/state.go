package auth

import (
	"context"
	"sync"

	"github.com/park285/Cheese-Board/internal/domain"
)

// Provider signs actors in and out against an identity service.
type Provider interface {
	SignIn(ctx context.Context, email, password string) (*domain.Actor, error)
	SignUp(ctx context.Context, email, password string) (*domain.Actor, error)
	SignInWithProvider(ctx context.Context, providerID, credential string) (*domain.Actor, error)
	SignOut(ctx context.Context, actor *domain.Actor) error
}

// State holds the current actor of one client and notifies listeners when it changes.
type State struct {
	mu        sync.Mutex
	current   *domain.Actor
	nextID    int
	listeners map[int]func(*domain.Actor)
}

func NewState() *State {
	return &State{listeners: make(map[int]func(*domain.Actor))}
}

func (s *State) Current() *domain.Actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// OnChange registers cb and immediately calls it with the current actor.
// The returned func removes the listener.
func (s *State) OnChange(cb func(*domain.Actor)) (remove func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = cb
	cur := s.current.Clone()
	s.mu.Unlock()

	cb(cur)
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Set replaces the current actor. Listeners are called only when the identity changes
// or the token is refreshed.
func (s *State) Set(actor *domain.Actor) {
	s.mu.Lock()
	prev := s.current
	s.current = actor.Clone()
	if domain.SameUID(prev, s.current) && (prev == nil || prev.IDToken == s.current.IDToken) {
		s.mu.Unlock()
		return
	}
	cbs := make([]func(*domain.Actor), 0, len(s.listeners))
	for _, cb := range s.listeners {
		cbs = append(cbs, cb)
	}
	cur := s.current.Clone()
	s.mu.Unlock()

	for _, cb := range cbs {
		cb(cur.Clone())
	}
}

func (s *State) SignOut() { s.Set(nil) }
