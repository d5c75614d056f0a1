// Package spam suppresses bursts of small gifts from one user.
package spam

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/you/gnasty-alerts/internal/config"
	"github.com/you/gnasty-alerts/internal/core"
)

const ReasonLowValue = "low_value_spam"

// Decision is the outcome of one HandleDonationSpam call.
type Decision struct {
	ShouldShow   bool
	Reason       string
	AggregatedID string
}

// Stats describes a user's window after the most recent call.
type Stats struct {
	IndividualCount int
	RunningAmount   float64
	Entries         int
}

type entry struct {
	at        int64
	amount    float64
	giftType  string
	giftCount int
}

type userKey struct {
	userID   string
	platform core.Platform
}

type Detector struct {
	cfg   config.Source
	clock core.Clock
	log   zerolog.Logger

	mu    sync.Mutex
	users map[userKey][]entry
}

func NewDetector(cfg config.Source, clock core.Clock, log zerolog.Logger) *Detector {
	if clock == nil {
		clock = core.SystemClock
	}
	return &Detector{
		cfg:   cfg,
		clock: clock,
		log:   log.With().Str("comp", "spam").Logger(),
		users: make(map[userKey][]entry),
	}
}

// HandleDonationSpam records the gift in the user's window and decides
// whether it should be displayed.
func (d *Detector) HandleDonationSpam(userID, username string, amount float64, giftType string, giftCount int, platform core.Platform) Decision {
	view := d.cfg.Current()
	if view == nil || !view.Spam.SpamDetectionEnabled {
		return Decision{ShouldShow: true}
	}
	s := view.Spam
	now := d.clock.NowMs()
	windowMs := s.Window().Milliseconds()
	key := userKey{userID: userID, platform: platform}

	d.mu.Lock()
	defer d.mu.Unlock()

	entries := evict(d.users[key], now-windowMs)
	entries = append(entries, entry{at: now, amount: amount, giftType: giftType, giftCount: giftCount})
	d.users[key] = entries

	individual := 0
	for _, e := range entries {
		if e.giftType == giftType {
			individual++
		}
	}

	if amount <= s.LowValueThreshold && individual > s.MaxIndividualNotifications {
		aggID := fmt.Sprintf("spam:%s:%s:%s:%d", platform, userID, giftType, firstOfType(entries, giftType))
		d.log.Debug().
			Str("platform", string(platform)).
			Str("user_id", userID).
			Str("username", username).
			Str("gift_type", giftType).
			Int("individual_count", individual).
			Msg("spam: low value gift suppressed")
		return Decision{ShouldShow: false, Reason: ReasonLowValue, AggregatedID: aggID}
	}
	return Decision{ShouldShow: true}
}

// Stats returns the current window for one user without recording anything.
func (d *Detector) Stats(userID string, platform core.Platform, giftType string) Stats {
	view := d.cfg.Current()
	if view == nil {
		return Stats{}
	}
	cutoff := d.clock.NowMs() - view.Spam.Window().Milliseconds()

	d.mu.Lock()
	defer d.mu.Unlock()
	var st Stats
	for _, e := range d.users[userKey{userID: userID, platform: platform}] {
		if e.at < cutoff {
			continue
		}
		st.Entries++
		st.RunningAmount += e.amount
		if e.giftType == giftType {
			st.IndividualCount++
		}
	}
	return st
}

// Sweep evicts expired entries and drops users left with none. It returns
// the number of users removed.
func (d *Detector) Sweep() int {
	view := d.cfg.Current()
	if view == nil {
		return 0
	}
	cutoff := d.clock.NowMs() - view.Spam.Window().Milliseconds()

	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for key, entries := range d.users {
		entries = evict(entries, cutoff)
		if len(entries) == 0 {
			delete(d.users, key)
			removed++
			continue
		}
		d.users[key] = entries
	}
	return removed
}

// Users returns the number of tracked users.
func (d *Detector) Users() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.users)
}

func evict(entries []entry, cutoff int64) []entry {
	i := 0
	for i < len(entries) && entries[i].at < cutoff {
		i++
	}
	if i == 0 {
		return entries
	}
	return append(entries[:0:0], entries[i:]...)
}

func firstOfType(entries []entry, giftType string) int64 {
	for _, e := range entries {
		if e.giftType == giftType {
			return e.at
		}
	}
	return 0
}
