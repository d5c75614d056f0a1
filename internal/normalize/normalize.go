// Package normalize maps raw platform payloads onto core.RawIntent.
//
// Each platform has one Normaliser. Normalise never fails outright: malformed
// input comes back as a KindRaw intent carrying the payload and a
// NormaliseError, which the pipeline logs and drops.
package normalize

import (
	"github.com/rs/zerolog"

	"github.com/you/gnasty-alerts/internal/core"
)

type Normaliser interface {
	Platform() core.Platform
	Normalise(raw map[string]any) core.RawIntent
}

// Expander is implemented by normalisers whose transport can deliver several
// events in one payload.
type Expander interface {
	Expand(raw map[string]any) []map[string]any
}

// Flusher is implemented by normalisers that buffer diagnostics.
type Flusher interface {
	Flush()
}

// Set holds one normaliser per platform.
type Set struct {
	byPlatform map[core.Platform]Normaliser
}

// NewSet returns the default normalisers for all three platforms.
func NewSet(log zerolog.Logger) *Set {
	return NewSetOf(NewYouTube(), NewTwitch(log), NewTikTok())
}

func NewSetOf(ns ...Normaliser) *Set {
	s := &Set{byPlatform: make(map[core.Platform]Normaliser, len(ns))}
	for _, n := range ns {
		s.byPlatform[n.Platform()] = n
	}
	return s
}

// Normalise expands raw when the platform supports batches and normalises
// every resulting event.
func (s *Set) Normalise(p core.Platform, raw map[string]any) []core.RawIntent {
	n, ok := s.byPlatform[p]
	if !ok {
		return []core.RawIntent{fail(p, raw, "no normaliser for platform %q", p)}
	}
	events := []map[string]any{raw}
	if ex, ok := n.(Expander); ok {
		events = ex.Expand(raw)
	}
	out := make([]core.RawIntent, 0, len(events))
	for _, ev := range events {
		out = append(out, n.Normalise(ev))
	}
	return out
}

// intentKind resolves a "type" value in either "platform:kind" or bare form.
func intentKind(raw map[string]any, keys ...string) (core.Kind, bool) {
	t := str(raw, keys...)
	if t == "" {
		return "", false
	}
	k, ok := core.KindFromType(t)
	if !ok || k == core.KindRaw {
		return "", false
	}
	return k, true
}

// flatFields copies the canonical optional fields from a flat payload.
func flatFields(in *core.RawIntent, raw map[string]any) {
	if f, ok := num(raw, "amount"); ok {
		in.Amount = f
	}
	if c := str(raw, "currency"); c != "" {
		in.Currency = c
	}
	if g := str(raw, "giftType"); g != "" {
		in.GiftType = g
	}
	if n, ok := integer(raw, "giftCount"); ok {
		in.GiftCount = n
	}
	if t := str(raw, "tier"); t != "" {
		in.Tier = t
	}
	if n, ok := integer(raw, "months"); ok {
		in.Months = n
	}
	if n, ok := integer(raw, "viewerCount", "viewers"); ok {
		in.ViewerCount = n
	}
	if n, ok := integer(raw, "cumulativeTotal"); ok {
		in.CumulativeTotal = n
	}
	in.IsAggregated = boolean(raw, "isAggregated")
	if m := str(raw, "message"); m != "" {
		in.Message = m
	}
}

// Flush emits whatever the normalisers are holding back, such as pending
// dropped-line summaries.
func (s *Set) Flush() {
	for _, n := range s.byPlatform {
		if f, ok := n.(Flusher); ok {
			f.Flush()
		}
	}
}
