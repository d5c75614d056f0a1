package filter

import (
	"github.com/you/gnasty-alerts/internal/config"
	"github.com/you/gnasty-alerts/internal/core"
)

// ConnectionTimes reports when each platform transport last completed a
// handshake.
type ConnectionTimes interface {
	ConnectionTime(platform core.Platform) (int64, bool)
}

// OldMessage drops chat backlog replayed from before the current connection.
type OldMessage struct {
	cfg   config.Source
	conns ConnectionTimes
}

func NewOldMessage(cfg config.Source, conns ConnectionTimes) *OldMessage {
	return &OldMessage{cfg: cfg, conns: conns}
}

// IsOld applies only to chat. Unknown connection times and unparsable
// timestamps admit the message.
func (f *OldMessage) IsOld(platform core.Platform, kind core.Kind, timestamp string) bool {
	if kind != core.KindChat || f.cfg == nil || f.conns == nil {
		return false
	}
	view := f.cfg.Current()
	if view == nil || !view.General.FilterOldMessages {
		return false
	}
	connected, ok := f.conns.ConnectionTime(platform)
	if !ok {
		return false
	}
	return Before(timestamp, connected)
}

// Before reports whether the ISO timestamp parses to a time earlier than ms.
func Before(timestamp string, ms int64) bool {
	parsed, ok := core.ParseISO(timestamp)
	if !ok {
		return false
	}
	return parsed < ms
}
