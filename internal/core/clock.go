package core

import (
	"sync"
	"time"
)

// Clock is the only time source of the pipeline.
type Clock interface {
	NowMs() int64
}

type systemClock struct{}

func (systemClock) NowMs() int64 { return time.Now().UnixMilli() }

// SystemClock reads wall-clock time.
var SystemClock Clock = systemClock{}

// ManualClock is a clock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now int64
}

func NewManualClock(startMs int64) *ManualClock {
	return &ManualClock{now: startMs}
}

func (c *ManualClock) NowMs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Set(ms int64) {
	c.mu.Lock()
	c.now = ms
	c.mu.Unlock()
}

func (c *ManualClock) Advance(d time.Duration) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d.Milliseconds()
	return c.now
}

// ISOTime formats a ms epoch the way notifications carry timestamps.
func ISOTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z")
}

// ParseISO parses an ISO-8601 timestamp into ms epoch.
func ParseISO(raw string) (int64, bool) {
	if raw == "" {
		return 0, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z07:00", "2006-01-02T15:04:05Z07:00", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}
