// Package shaper turns admitted events into display-ready notifications.
package shaper

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/you/gnasty-alerts/internal/config"
	"github.com/you/gnasty-alerts/internal/core"
)

type Option func(*Shaper)

// WithIDFunc replaces uuid.NewString as the notification ID source.
func WithIDFunc(fn func() string) Option {
	return func(s *Shaper) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithScrubber replaces the default artifact rules.
func WithScrubber(sc *Scrubber) Option {
	return func(s *Shaper) {
		if sc != nil {
			s.scrub = sc
		}
	}
}

// WithArtifactHook registers fn to run whenever a rendering is rejected.
func WithArtifactHook(fn func(rule string)) Option {
	return func(s *Shaper) { s.onArtifact = fn }
}

// WithTemplate overrides the template for one platform and kind. An empty
// platform sets the fallback for the kind.
func WithTemplate(p core.Platform, k core.Kind, t Template) Option {
	return func(s *Shaper) { s.templates[templateKey{p, k}] = t }
}

type Shaper struct {
	cfg        config.Source
	clock      core.Clock
	log        zerolog.Logger
	scrub      *Scrubber
	newID      func() string
	onArtifact func(rule string)
	templates  map[templateKey]Template
}

func New(cfg config.Source, clock core.Clock, log zerolog.Logger, opts ...Option) *Shaper {
	if clock == nil {
		clock = core.SystemClock
	}
	s := &Shaper{
		cfg:       cfg,
		clock:     clock,
		log:       log.With().Str("comp", "shaper").Logger(),
		scrub:     NewScrubber(),
		newID:     uuid.NewString,
		templates: defaultTemplates(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scrubber returns the rule set applied to shaped output.
func (s *Shaper) Scrubber() *Scrubber { return s.scrub }

// Shape builds the notification for one surviving event. It is pure apart
// from reading the clock and drawing an ID.
func (s *Shaper) Shape(kind core.Kind, platform core.Platform, data core.EventData) (*core.Notification, error) {
	view := s.cfg.Current()
	if view == nil {
		return nil, fmt.Errorf("%w: shaper has no configuration", core.ErrConfigMissing)
	}
	tc, ok := view.Types.For(kind)
	if !ok {
		return nil, fmt.Errorf("%w: no type configuration for %q", core.ErrConfigMissing, kind)
	}
	name := data.DisplayName
	if name == "" {
		name = data.Username
	}
	if name == "" {
		name = data.UserID
	}
	if name == "" {
		return nil, fmt.Errorf("%w: %s event without username", core.ErrInvariant, kind)
	}
	if data.Currency == "" && data.Amount > 0 {
		data.Currency = platformCurrency[platform]
	}
	if kind.IsMonetary() || data.Amount > 0 {
		if !validAmount(data.Amount, data.Currency) {
			return nil, fmt.Errorf("%w: %v %s", core.ErrInvalidAmount, data.Amount, data.Currency)
		}
	}

	now := s.clock.NowMs()
	n := &core.Notification{
		ID:              s.newID(),
		Type:            core.TypeFor(kind),
		Kind:            kind,
		Platform:        platform,
		UserID:          data.UserID,
		Username:        name,
		Message:         data.Message,
		Priority:        tc.Priority,
		Duration:        tc.Duration,
		ProcessedAt:     now,
		Timestamp:       core.ISOTime(now),
		CreatedAt:       now,
		Amount:          data.Amount,
		Currency:        data.Currency,
		GiftType:        data.GiftType,
		GiftCount:       data.GiftCount,
		Tier:            data.Tier,
		Months:          data.Months,
		IsAggregated:    data.IsAggregated,
		CumulativeTotal: data.CumulativeTotal,
		ViewerCount:     data.ViewerCount,
		StickerID:       data.StickerID,
	}
	if src, ok := core.ParseISO(data.Timestamp); ok {
		n.Timestamp = data.Timestamp
		n.CreatedAt = min(src, now)
		if n.CreatedAt < 0 {
			n.CreatedAt = 0
		}
	}

	values := placeholders(n)
	tpl := s.template(platform, kind)
	n.DisplayMessage = tpl.Display.render(values)
	n.TTSMessage = tpl.TTS.render(values)
	n.LogMessage = tpl.Log.render(values)

	if rule := s.reject(n.DisplayMessage, n.TTSMessage); rule != "" {
		s.log.Warn().
			Str("platform", string(platform)).
			Str("type", n.Type).
			Str("rule", rule).
			Str("notification_id", n.ID).
			Msg("shaper: artifact detected, using safe template")
		if s.onArtifact != nil {
			s.onArtifact(rule)
		}
		n.DisplayMessage, n.TTSMessage = s.safe(n)
	}
	return n, nil
}

func (s *Shaper) template(p core.Platform, k core.Kind) Template {
	if t, ok := s.templates[templateKey{p, k}]; ok {
		return t
	}
	return s.templates[templateKey{anyPlatform, k}]
}

func (s *Shaper) reject(display, tts string) string {
	if display == "" || tts == "" {
		return "empty"
	}
	if rule := s.scrub.Check(display); rule != "" {
		return rule
	}
	return s.scrub.Check(tts)
}

// safe returns the minimal rendering. The username and, for monetary kinds,
// the amount and currency are kept only when they are themselves clean.
func (s *Shaper) safe(n *core.Notification) (string, string) {
	label := safeLabels[n.Kind]
	if label == "" {
		label = "New notification"
	}
	if s.scrub.Clean(n.Username) {
		if msg := label + " from " + n.Username; s.scrub.Clean(msg) {
			label = msg
		}
	}
	if n.Kind.IsMonetary() && n.Amount > 0 && n.Currency != "" {
		if msg := label + " worth " + FormatAmount(n.Amount) + " " + n.Currency; s.scrub.Clean(msg) {
			label = msg
		}
	}
	return label, label
}

// placeholders returns the values available to templates. A key is present
// only when the notification carries that field.
func placeholders(n *core.Notification) map[string]string {
	v := map[string]string{}
	set := func(k, val string) {
		if val != "" {
			v[k] = val
		}
	}
	set("kind", string(n.Kind))
	set("platform", string(n.Platform))
	set("username", n.Username)
	set("message", n.Message)
	set("giftType", n.GiftType)
	set("currency", n.Currency)
	set("tier", tierLabel(n.Tier))
	if n.Amount > 0 {
		v["amount"] = FormatAmount(n.Amount)
	}
	count := func(k, pluralKey string, c int) {
		if c > 0 {
			v[k] = strconv.Itoa(c)
			v[pluralKey] = plural(c)
		}
	}
	count("giftCount", "s", n.GiftCount)
	count("months", "monthS", n.Months)
	count("viewerCount", "viewerS", n.ViewerCount)
	if n.CumulativeTotal > 0 {
		v["cumulativeTotal"] = strconv.Itoa(n.CumulativeTotal)
	}
	return v
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func tierLabel(t string) string {
	switch t {
	case "1000":
		return "Tier 1"
	case "2000":
		return "Tier 2"
	case "3000":
		return "Tier 3"
	}
	return t
}
