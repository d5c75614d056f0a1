package config

import (
	"sync"
	"sync/atomic"
)

// Source hands out the current configuration. Current may return nil when no
// valid configuration has been published.
type Source interface {
	Current() *View
}

// Store publishes Views atomically. Readers never see a partially applied
// reload.
type Store struct {
	cur atomic.Pointer[View]

	mu   sync.Mutex
	subs []func(*View)
}

func NewStore(v *View) *Store {
	s := &Store{}
	if v != nil {
		s.cur.Store(v)
	}
	return s
}

func (s *Store) Current() *View {
	if s == nil {
		return nil
	}
	return s.cur.Load()
}

// Set validates v and publishes it. An invalid view leaves the previous one
// in place.
func (s *Store) Set(v *View) error {
	if err := v.Validate(); err != nil {
		return err
	}
	s.cur.Store(v)

	s.mu.Lock()
	subs := append([]func(*View){}, s.subs...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(v)
	}
	return nil
}

// OnChange registers fn to run after every successful Set.
func (s *Store) OnChange(fn func(*View)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

// Static is a fixed Source, handy for tools and tests.
type Static struct{ V *View }

func (s Static) Current() *View { return s.V }
