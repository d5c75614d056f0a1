package filter

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/you/gnasty-alerts/internal/config"
	"github.com/you/gnasty-alerts/internal/core"
)

// SelfMessage detects events authored by the broadcaster's own account.
type SelfMessage struct {
	cfg config.Source
	log zerolog.Logger
}

func NewSelfMessage(cfg config.Source, log zerolog.Logger) *SelfMessage {
	return &SelfMessage{cfg: cfg, log: log.With().Str("comp", "filter").Logger()}
}

// IsSelf reports whether data should be suppressed as a self message. It
// fails open: without a usable configuration the event is admitted.
func (f *SelfMessage) IsSelf(platform core.Platform, data core.EventData) bool {
	var view *config.View
	if f.cfg != nil {
		view = f.cfg.Current()
	}
	if view == nil {
		f.log.Warn().Str("platform", string(platform)).Msg("filter: self-message check skipped, no configuration")
		return false
	}
	if !view.IgnoreSelf(platform) {
		return false
	}
	return MatchesSelf(platform, data, view.Platforms.For(platform))
}

// MatchesSelf applies the per-platform identity rules.
func MatchesSelf(platform core.Platform, data core.EventData, self config.PlatformConfig) bool {
	raw := data.Raw
	nameMatch := func(names ...string) bool {
		if self.Username == "" {
			return false
		}
		for _, n := range names {
			if n != "" && strings.EqualFold(n, self.Username) {
				return true
			}
		}
		return false
	}

	switch platform {
	case core.PlatformTwitch:
		if isTrue(raw, "self") {
			return true
		}
		ctx, _ := raw["context"].(map[string]any)
		return nameMatch(data.Username, data.DisplayName, stringAt(raw, "login"), stringAt(ctx, "username"))
	case core.PlatformYouTube:
		if nameMatch(data.Username, data.DisplayName) || isTrue(raw, "isBroadcaster") {
			return true
		}
		for _, key := range []string{"author", "authorDetails"} {
			author, _ := raw[key].(map[string]any)
			if isTrue(author, "isChatOwner") || hasOwnerBadge(author) {
				return true
			}
		}
		return hasOwnerBadge(raw)
	case core.PlatformTikTok:
		if nameMatch(data.Username) {
			return true
		}
		return self.UserID != "" && data.UserID == self.UserID
	}
	return false
}

func hasOwnerBadge(m map[string]any) bool {
	badges, _ := m["badges"].([]any)
	for _, b := range badges {
		var label string
		switch v := b.(type) {
		case string:
			label = v
		case map[string]any:
			label = stringAt(v, "title")
			if label == "" {
				label = stringAt(v, "label")
			}
		}
		if strings.Contains(label, "Owner") {
			return true
		}
	}
	if labels, ok := m["badges"].([]string); ok {
		for _, l := range labels {
			if strings.Contains(l, "Owner") {
				return true
			}
		}
	}
	return false
}

func isTrue(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func stringAt(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
