package shaper

import (
	"regexp"
	"strings"

	"github.com/you/gnasty-alerts/internal/core"
)

var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

// segment is a list of alternatives. The first alternative whose
// placeholders are all present is used; when none qualifies the segment is
// left out.
type segment []string

type phrase []segment

// Template holds the three renderings of one (platform, kind) pair.
type Template struct {
	Display phrase
	TTS     phrase
	Log     phrase
}

func seg(alts ...string) segment { return alts }

func (p phrase) render(values map[string]string) string {
	var b strings.Builder
	for _, s := range p {
		for _, alt := range s {
			if out, ok := fill(alt, values); ok {
				b.WriteString(out)
				break
			}
		}
	}
	return collapseSpaces(b.String())
}

// collapseSpaces folds runs of ASCII whitespace into one space. Non-ASCII
// spaces are content and stay untouched.
func collapseSpaces(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pending := false
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r', '\v', '\f':
			pending = b.Len() > 0
			continue
		}
		if pending {
			b.WriteByte(' ')
			pending = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func fill(alt string, values map[string]string) (string, bool) {
	for _, m := range placeholderRe.FindAllStringSubmatch(alt, -1) {
		if _, ok := values[m[1]]; !ok {
			return "", false
		}
	}
	return placeholderRe.ReplaceAllStringFunc(alt, func(m string) string {
		return values[m[1:len(m)-1]]
	}), true
}

type templateKey struct {
	platform core.Platform
	kind     core.Kind
}

// anyPlatform marks a template used when no platform-specific one exists.
const anyPlatform core.Platform = ""

var logLine = phrase{
	seg("{kind}"),
	seg(" platform={platform}"),
	seg(" user={username}"),
	seg(" amount={amount} {currency}"),
	seg(" count={giftCount}"),
	seg(" viewers={viewerCount}"),
}

func defaultTemplates() map[templateKey]Template {
	t := map[templateKey]Template{}
	add := func(p core.Platform, k core.Kind, display, tts phrase) {
		t[templateKey{p, k}] = Template{Display: display, TTS: tts, Log: logLine}
	}

	add(anyPlatform, core.KindChat,
		phrase{seg("{username}: {message}", "{username} sent a message")},
		phrase{seg("{username} says {message}", "{username} sent a message")})

	add(anyPlatform, core.KindFollow,
		phrase{seg("{username} just followed!")},
		phrase{seg("{username} just followed")})

	add(anyPlatform, core.KindMember,
		phrase{seg("{username} subscribed"), seg(" with {tier}"), seg(" for {months} month{monthS}"), seg("!")},
		phrase{seg("{username} subscribed"), seg(" for {months} month{monthS}")})
	add(core.PlatformYouTube, core.KindMember,
		phrase{seg("{username} became a member"), seg(" ({tier})"), seg(" for {months} month{monthS}"), seg("!")},
		phrase{seg("{username} became a member"), seg(" for {months} month{monthS}")})

	add(anyPlatform, core.KindGift,
		phrase{seg("{username} sent {giftCount}x {giftType}", "{username} sent a gift"), seg(" worth {amount} {currency}"), seg(": {message}")},
		phrase{seg("{username} sent {giftCount} {giftType}", "{username} sent a gift"), seg(" worth {amount} {currency}")})
	add(core.PlatformYouTube, core.KindGift,
		phrase{seg("{username} sent a {giftType} of {amount} {currency}", "{username} sent {amount} {currency}"), seg(": {message}")},
		phrase{seg("{username} sent a {giftType} of {amount} {currency}", "{username} sent {amount} {currency}")})
	add(core.PlatformTwitch, core.KindGift,
		phrase{seg("{username} cheered {amount} {currency}"), seg(": {message}")},
		phrase{seg("{username} cheered {amount} {currency}")})

	add(anyPlatform, core.KindGiftMember,
		phrase{seg("{username} gifted {giftCount} subscription{s}"), seg(" worth {amount} {currency}"), seg("!")},
		phrase{seg("{username} gifted {giftCount} subscription{s}")})
	add(core.PlatformTwitch, core.KindGiftMember,
		phrase{seg("{username} gifted {giftCount} {tier} sub{s}", "{username} gifted {giftCount} sub{s}"), seg("!"), seg(" ({cumulativeTotal} gifted in total)")},
		phrase{seg("{username} gifted {giftCount} sub{s}"), seg(", {cumulativeTotal} in total")})
	add(core.PlatformYouTube, core.KindGiftMember,
		phrase{seg("{username} gifted {giftCount} membership{s}"), seg(" worth {amount} {currency}"), seg("!")},
		phrase{seg("{username} gifted {giftCount} membership{s}")})

	add(anyPlatform, core.KindRaid,
		phrase{seg("{username} is raiding with {viewerCount} viewer{viewerS}!")},
		phrase{seg("{username} is raiding with {viewerCount} viewer{viewerS}")})

	add(anyPlatform, core.KindEnvelope,
		phrase{seg("{message}", "{username} sent an announcement")},
		phrase{seg("{message}", "{username} sent an announcement")})
	add(core.PlatformTikTok, core.KindEnvelope,
		phrase{seg("{username} dropped a treasure chest"), seg(" worth {amount} {currency}"), seg("!")},
		phrase{seg("{username} dropped a treasure chest")})

	return t
}

// safeLabels back the minimal template used when a rendering is rejected.
var safeLabels = map[core.Kind]string{
	core.KindChat:       "New chat message",
	core.KindFollow:     "New follower",
	core.KindMember:     "New member",
	core.KindGift:       "New gift",
	core.KindGiftMember: "New gifted subscriptions",
	core.KindRaid:       "Incoming raid",
	core.KindEnvelope:   "Announcement",
}
