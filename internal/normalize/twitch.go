package normalize

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/you/gnasty-alerts/internal/core"
	"github.com/you/gnasty-alerts/internal/twitchirc"
)

// Twitch accepts three payload shapes: EventSub envelopes, raw IRC lines
// under an "irc" key, and flat chat payloads ({type, userId, username,
// message} or the tmi-style {context, message, self}).
type Twitch struct {
	irc *twitchirc.Parser
}

func NewTwitch(log zerolog.Logger) *Twitch {
	return &Twitch{irc: twitchirc.NewParser(log, false)}
}

func (*Twitch) Platform() core.Platform { return core.PlatformTwitch }

// Expand turns a multi-line "irc" payload into one payload per usable line.
func (t *Twitch) Expand(raw map[string]any) []map[string]any {
	lines, ok := raw["irc"].(string)
	if !ok {
		return []map[string]any{raw}
	}
	var out []map[string]any
	for _, line := range strings.Split(lines, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if payload, ok := t.irc.Parse(line); ok {
			out = append(out, payload)
		}
	}
	return out
}

// Flush emits pending summaries of IRC lines that Expand dropped.
func (t *Twitch) Flush() { t.irc.Flush() }

func (t *Twitch) Normalise(raw map[string]any) core.RawIntent {
	p := t.Platform()
	if _, ok := raw["metadata"]; ok {
		return normaliseEventSub(raw)
	}
	if line, ok := raw["irc"].(string); ok {
		payload, err := twitchirc.ParseLine(line)
		if err != nil {
			return fail(p, raw, "twitch: irc: %v", err)
		}
		raw = payload
	}
	if ctx := digMap(raw, "context"); ctx != nil {
		return normaliseTMI(raw, ctx)
	}

	kind, ok := intentKind(raw, "type")
	if !ok {
		return fail(p, raw, "twitch: unknown payload type %q", str(raw, "type"))
	}
	in := core.RawIntent{Platform: p, Kind: kind}
	in.ID = str(raw, "id")
	in.UserID = str(raw, "userId", "user_id")
	in.Username = str(raw, "displayName", "username", "login")
	in.DisplayName = in.Username
	flatFields(&in, raw)
	stamp(&in, raw["timestamp"])
	in.Raw = raw
	if in.Username == "" {
		return fail(p, raw, "twitch: missing username")
	}
	if msg := checkTwitch(in); msg != "" {
		return fail(p, raw, "twitch: %s", msg)
	}
	return in
}

func normaliseTMI(raw, ctx map[string]any) core.RawIntent {
	in := core.RawIntent{Platform: core.PlatformTwitch, Kind: core.KindChat}
	in.ID = str(ctx, "id")
	in.UserID = str(ctx, "user-id")
	in.Username = str(ctx, "display-name", "username")
	in.DisplayName = in.Username
	in.Message = str(raw, "message")
	stamp(&in, ctx["tmi-sent-ts"])
	in.Raw = raw
	if in.Username == "" {
		return fail(core.PlatformTwitch, raw, "twitch: missing username")
	}
	if bits, ok := integer(ctx, "bits"); ok && bits > 0 {
		in.Kind = core.KindGift
		in.Amount = float64(bits)
		in.Currency = "bits"
		in.GiftType = "bits"
		in.GiftCount = 1
	}
	return in
}

func normaliseEventSub(raw map[string]any) core.RawIntent {
	p := core.PlatformTwitch
	meta := digMap(raw, "metadata")
	if mt := str(meta, "message_type"); mt != "notification" {
		return fail(p, raw, "eventsub: message_type %q is not a notification", mt)
	}
	sub := digMap(raw, "subscription")
	event := digMap(raw, "event")
	if payload := digMap(raw, "payload"); payload != nil {
		if sub == nil {
			sub = digMap(payload, "subscription")
		}
		if event == nil {
			event = digMap(payload, "event")
		}
	}
	if sub == nil || event == nil {
		return fail(p, raw, "eventsub: missing subscription or event")
	}

	in := core.RawIntent{Platform: p}
	in.ID = str(meta, "message_id")
	in.UserID = str(event, "user_id")
	in.Username = str(event, "user_name", "user_login")
	stamp(&in, meta["message_timestamp"])
	in.Raw = raw

	subType := str(sub, "type")
	switch subType {
	case "channel.follow":
		in.Kind = core.KindFollow
		if in.CreatedAt == 0 {
			stamp(&in, event["followed_at"])
		}
	case "channel.subscribe":
		in.Kind = core.KindMember
		in.Tier = str(event, "tier")
		if boolean(event, "is_gift") {
			in.Kind = core.KindGiftMember
			in.GiftCount = 1
			in.GiftType = "subscription"
		}
	case "channel.subscription.message":
		in.Kind = core.KindMember
		in.Tier = str(event, "tier")
		if n, ok := integer(event, "cumulative_months"); ok {
			in.Months = n
		}
		if msg := digMap(event, "message"); msg != nil {
			in.Message = str(msg, "text")
		}
	case "channel.subscription.gift":
		in.Kind = core.KindGiftMember
		in.Tier = str(event, "tier")
		in.GiftType = "subscription"
		in.GiftCount, _ = integer(event, "total")
		in.CumulativeTotal, _ = integer(event, "cumulative_total")
		if boolean(event, "is_anonymous") {
			in.Username = "Anonymous"
		}
	case "channel.raid":
		in.Kind = core.KindRaid
		in.UserID = str(event, "from_broadcaster_user_id")
		in.Username = str(event, "from_broadcaster_user_name", "from_broadcaster_user_login")
		in.ViewerCount, _ = integer(event, "viewers")
	case "channel.cheer":
		in.Kind = core.KindGift
		bits, _ := integer(event, "bits")
		in.Amount = float64(bits)
		in.Currency = "bits"
		in.GiftType = "bits"
		in.GiftCount = 1
		in.Message = str(event, "message")
		if boolean(event, "is_anonymous") {
			in.Username = "Anonymous"
		}
	case "channel.chat.message":
		in.Kind = core.KindChat
		in.ID = str(event, "message_id")
		in.UserID = str(event, "chatter_user_id")
		in.Username = str(event, "chatter_user_name", "chatter_user_login")
		if msg := digMap(event, "message"); msg != nil {
			in.Message = str(msg, "text")
		}
	default:
		return fail(p, raw, "eventsub: unsupported subscription type %q", subType)
	}
	in.DisplayName = in.Username
	if in.Username == "" {
		return fail(p, raw, "eventsub: %s without user", subType)
	}
	if msg := checkTwitch(in); msg != "" {
		return fail(p, raw, "eventsub: %s: %s", subType, msg)
	}
	return in
}

func checkTwitch(in core.RawIntent) string {
	switch in.Kind {
	case core.KindMember, core.KindGiftMember:
		if in.Tier != "" && !validTier(in.Tier) {
			return "tier " + in.Tier + " is not 1000, 2000 or 3000"
		}
		if in.Kind == core.KindGiftMember && in.GiftCount <= 0 {
			return "gift without a count"
		}
	case core.KindRaid:
		if in.ViewerCount <= 0 {
			return "raid without viewers"
		}
	case core.KindGift:
		if in.Amount <= 0 {
			return "gift without an amount"
		}
	}
	return ""
}

func validTier(t string) bool {
	switch t {
	case "1000", "2000", "3000":
		return true
	}
	return false
}
