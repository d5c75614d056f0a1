package twitchirc

import (
	"errors"
	"strconv"
	"strings"

	"github.com/you/gnasty-alerts/internal/core"
)

var (
	// ErrMalformed marks a line that is not valid IRC.
	ErrMalformed = errors.New("twitchirc: malformed line")
	// ErrUnhandled marks a valid line that carries no notification.
	ErrUnhandled = errors.New("twitchirc: unhandled command")
)

// Line is one parsed IRC line.
type Line struct {
	Tags     map[string]string
	Prefix   string
	Command  string
	Params   []string
	Trailing string
	Raw      string
}

// Channel returns the first #channel parameter without the hash.
func (l Line) Channel() string {
	for _, p := range l.Params {
		if strings.HasPrefix(p, "#") {
			return p[1:]
		}
	}
	return ""
}

// Split parses the tag, prefix, command and parameter sections of raw.
func Split(raw string) (Line, error) {
	line := Line{Raw: raw, Tags: map[string]string{}}
	rest := strings.TrimRight(raw, "\r\n")
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return line, ErrMalformed
	}

	if strings.HasPrefix(rest, "@") {
		idx := strings.IndexByte(rest, ' ')
		if idx == -1 {
			return line, ErrMalformed
		}
		for _, kv := range strings.Split(rest[1:idx], ";") {
			if kv == "" {
				continue
			}
			k, v, _ := strings.Cut(kv, "=")
			line.Tags[k] = unescapeIRC(v)
		}
		rest = strings.TrimSpace(rest[idx+1:])
	}

	if strings.HasPrefix(rest, ":") {
		idx := strings.IndexByte(rest, ' ')
		if idx == -1 {
			return line, ErrMalformed
		}
		line.Prefix = rest[1:idx]
		rest = strings.TrimSpace(rest[idx+1:])
	}

	if idx := strings.Index(rest, " :"); idx != -1 {
		line.Trailing = rest[idx+2:]
		rest = rest[:idx]
	} else if strings.HasPrefix(rest, ":") {
		line.Trailing = rest[1:]
		rest = ""
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return line, ErrMalformed
	}
	line.Command = strings.ToUpper(fields[0])
	line.Params = fields[1:]
	return line, nil
}

// ParseLine turns a PRIVMSG or USERNOTICE line into a flat Twitch payload
// with a "type" key naming the notification kind. Other commands return
// ErrUnhandled.
func ParseLine(raw string) (map[string]any, error) {
	line, err := Split(raw)
	if err != nil {
		return nil, err
	}
	switch line.Command {
	case "PRIVMSG":
		return privmsgPayload(line)
	case "USERNOTICE":
		return usernoticePayload(line)
	}
	return nil, ErrUnhandled
}

func privmsgPayload(line Line) (map[string]any, error) {
	if line.Channel() == "" {
		return nil, ErrMalformed
	}
	tags := line.Tags
	out := basePayload(line)
	out["type"] = string(core.KindChat)
	out["message"] = line.Trailing

	if bits, err := strconv.Atoi(tags["bits"]); err == nil && bits > 0 {
		out["type"] = string(core.KindGift)
		out["amount"] = float64(bits)
		out["currency"] = "bits"
		out["giftType"] = "bits"
		out["giftCount"] = 1
	}
	return out, nil
}

func usernoticePayload(line Line) (map[string]any, error) {
	tags := line.Tags
	out := basePayload(line)
	msg := line.Trailing
	if msg == "" {
		msg = tags["system-msg"]
	}
	if msg != "" {
		out["message"] = msg
	}

	switch tags["msg-id"] {
	case "sub", "resub":
		out["type"] = string(core.KindMember)
		out["tier"] = normalizeTier(tags["msg-param-sub-plan"])
		if n := atoi(tags["msg-param-cumulative-months"]); n > 0 {
			out["months"] = n
		}
	case "subgift", "submysterygift":
		out["type"] = string(core.KindGiftMember)
		out["tier"] = normalizeTier(tags["msg-param-sub-plan"])
		count := atoi(tags["msg-param-mass-gift-count"])
		if count <= 0 {
			count = 1
		}
		out["giftCount"] = count
		if total := atoi(tags["msg-param-sender-count"]); total > 0 {
			out["cumulativeTotal"] = total
		}
		if r := tags["msg-param-recipient-display-name"]; r != "" {
			out["recipient"] = r
		}
		if tags["msg-id"] == "submysterygift" {
			out["isAggregated"] = true
		}
	case "raid":
		out["type"] = string(core.KindRaid)
		out["viewerCount"] = atoi(tags["msg-param-viewerCount"])
		if login := tags["msg-param-login"]; login != "" {
			out["login"] = login
		}
		if name := tags["msg-param-displayName"]; name != "" {
			out["username"] = name
		}
	default:
		return nil, ErrUnhandled
	}
	return out, nil
}

func basePayload(line Line) map[string]any {
	tags := line.Tags
	login := tags["login"]
	if login == "" {
		login = extractUser(line.Prefix)
	}
	user := login
	if display := tags["display-name"]; display != "" {
		user = display
	}
	badges := combineLists(tags["badges"], tags["badge-info"], ",")

	out := map[string]any{
		"id":       tags["id"],
		"userId":   tags["user-id"],
		"username": user,
		"login":    login,
		"channel":  line.Channel(),
		"badges":   badges,
	}
	if ms, err := strconv.ParseInt(tags["tmi-sent-ts"], 10, 64); err == nil && ms > 0 {
		out["timestamp"] = core.ISOTime(ms)
	}
	for _, b := range badges {
		if strings.HasPrefix(b, "broadcaster/") {
			out["isBroadcaster"] = true
			break
		}
	}
	return out
}

// normalizeTier maps sub plans to the 1000/2000/3000 scale. Prime counts as
// tier one.
func normalizeTier(plan string) string {
	switch strings.TrimSpace(plan) {
	case "2000":
		return "2000"
	case "3000":
		return "3000"
	}
	return "1000"
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func extractUser(prefix string) string {
	if prefix == "" {
		return ""
	}
	if idx := strings.IndexByte(prefix, '!'); idx != -1 {
		return prefix[:idx]
	}
	if idx := strings.IndexByte(prefix, '@'); idx != -1 {
		return prefix[:idx]
	}
	return prefix
}

func unescapeIRC(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 's':
			b.WriteByte(' ')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case ':':
			b.WriteByte(';')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func splitList(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func combineLists(a, b, sep string) []string {
	list := splitList(a, sep)
	return append(list, splitList(b, sep)...)
}
