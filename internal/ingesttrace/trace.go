// Package ingesttrace follows one raw platform event through the pipeline.
package ingesttrace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Stage represents a pipeline stage used for tracking event processing.
type Stage string

const (
	StageSeen       Stage = "seen_from_transport"
	StageNormalised Stage = "normalised_ok"
	StageAdmitted   Stage = "admitted"

	StageDroppedPrefix = "dropped_"
)

// StageDropped creates a Stage for a dropped event with the given reason.
func StageDropped(reason string) Stage {
	return Stage(fmt.Sprintf("%s%s", StageDroppedPrefix, reason))
}

// Trace captures metadata for one raw event. A single raw payload may expand
// into several intents, so stages are counters rather than flags.
type Trace struct {
	Platform string
	User     string
	EventID  string
	Snippet  string
	TraceID  string

	mu       sync.Mutex
	counters map[Stage]int64
}

// New constructs a trace and seeds the seen counter.
func New(platform, user, eventID, snippet string) *Trace {
	t := &Trace{
		Platform: platform,
		User:     user,
		EventID:  eventID,
		Snippet:  truncate(snippet, 64),
		TraceID:  computeTraceID(platform, user, eventID, snippet),
		counters: make(map[Stage]int64),
	}
	t.counters[StageSeen] = 1
	return t
}

// Inc increments the counter for stage and returns the updated value. It is
// a no-op on a nil trace.
func (t *Trace) Inc(stage Stage) int64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counters[stage]++
	return t.counters[stage]
}

// Count returns the current counter for stage.
func (t *Trace) Count(stage Stage) int64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters[stage]
}

// Log writes the trace at debug level.
func (t *Trace) Log(log zerolog.Logger, msg string) {
	if t == nil {
		return
	}
	counters := zerolog.Dict()
	for stage, n := range t.snapshot() {
		counters = counters.Int64(string(stage), n)
	}
	log.Debug().
		Str("trace_id", t.TraceID).
		Str("platform", t.Platform).
		Str("user", t.User).
		Str("event_id", t.EventID).
		Str("snippet", t.Snippet).
		Dict("counters", counters).
		Msg(msg)
}

func (t *Trace) snapshot() map[Stage]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[Stage]int64, len(t.counters))
	for stage, count := range t.counters {
		out[stage] = count
	}
	return out
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}

func computeTraceID(platform, user, eventID, snippet string) string {
	digest := sha256.Sum256([]byte(platform + "\x1f" + user + "\x1f" + eventID + "\x1f" + snippet))
	return hex.EncodeToString(digest[:])
}
