package queue

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/you/gnasty-alerts/internal/config"
	"github.com/you/gnasty-alerts/internal/core"
)

type userState struct {
	admissions      []int64
	suppressedUntil int64
}

// Suppressor rate-limits notifications per user with a sliding window and a
// cooldown once the limit is hit.
type Suppressor struct {
	cfg   config.Source
	clock core.Clock
	log   zerolog.Logger

	mu    sync.Mutex
	users map[string]*userState
}

func NewSuppressor(cfg config.Source, clock core.Clock, log zerolog.Logger) *Suppressor {
	if clock == nil {
		clock = core.SystemClock
	}
	return &Suppressor{
		cfg:   cfg,
		clock: clock,
		log:   log.With().Str("comp", "queue").Logger(),
		users: make(map[string]*userState),
	}
}

// Allow checks key and records an admission when it is permitted.
func (s *Suppressor) Allow(key string) bool {
	if !s.Check(key) {
		return false
	}
	s.Record(key)
	return true
}

// Check reports whether key may be admitted now without recording anything.
// Reaching the limit starts the cooldown.
func (s *Suppressor) Check(key string) bool {
	view := s.cfg.Current()
	if view == nil || !view.General.UserSuppressionEnabled {
		return true
	}
	g := view.General
	now := s.clock.NowMs()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.users[key]
	if st == nil {
		return true
	}
	if st.suppressedUntil > now {
		return false
	}
	st.suppressedUntil = 0
	st.admissions = trim(st.admissions, now-g.SuppressionWindowMs)

	if len(st.admissions) >= g.MaxNotificationsPerUser {
		st.suppressedUntil = now + g.SuppressionDurationMs
		s.log.Info().
			Str("user", key).
			Int("admissions", len(st.admissions)).
			Int64("suppressed_until", st.suppressedUntil).
			Msg("queue: user suppressed")
		return false
	}
	return true
}

// Record counts an admission for key that reached the display queue.
func (s *Suppressor) Record(key string) {
	view := s.cfg.Current()
	if view == nil || !view.General.UserSuppressionEnabled {
		return
	}
	now := s.clock.NowMs()

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.users[key]
	if st == nil {
		st = &userState{}
		s.users[key] = st
	}
	st.admissions = append(st.admissions, now)
}

// SuppressedUntil returns the end of key's cooldown, if one is active.
func (s *Suppressor) SuppressedUntil(key string) (int64, bool) {
	now := s.clock.NowMs()
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.users[key]
	if st == nil || st.suppressedUntil <= now {
		return 0, false
	}
	return st.suppressedUntil, true
}

// Sweep drops users with no admissions in the window and no active
// cooldown. It returns the number removed.
func (s *Suppressor) Sweep() int {
	view := s.cfg.Current()
	if view == nil {
		return 0
	}
	now := s.clock.NowMs()
	cutoff := now - view.General.SuppressionWindowMs

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, st := range s.users {
		st.admissions = trim(st.admissions, cutoff)
		if len(st.admissions) == 0 && st.suppressedUntil <= now {
			delete(s.users, key)
			removed++
		}
	}
	return removed
}

func (s *Suppressor) Users() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func trim(times []int64, cutoff int64) []int64 {
	i := 0
	for i < len(times) && times[i] < cutoff {
		i++
	}
	if i == 0 {
		return times
	}
	return append(times[:0:0], times[i:]...)
}
