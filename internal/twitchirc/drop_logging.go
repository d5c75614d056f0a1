package twitchirc

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	dropSummaryInterval = 5 * time.Second
	dropSampleMaxLen    = 96
	dropChannelMaxLen   = 32
)

var (
	oauthTokenRe = regexp.MustCompile(`(?i)oauth:[^\s;]+`)
	longTokenRe  = regexp.MustCompile(`[A-Za-z0-9+/_=\-]{24,}`)
)

type ircSummary struct {
	command string
	channel string
	sample  string
}

type dropBucket struct {
	total     int
	byCommand map[string]int
	samples   map[string]string
}

// DropLogger aggregates lines that produced no payload and logs one summary
// per reason every interval instead of one entry per line.
type DropLogger struct {
	log      zerolog.Logger
	verbose  bool
	interval time.Duration

	mu       sync.Mutex
	nextEmit time.Time
	reasons  map[string]*dropBucket
}

func NewDropLogger(log zerolog.Logger, now time.Time, verbose bool, interval time.Duration) *DropLogger {
	if interval <= 0 {
		interval = dropSummaryInterval
	}
	return &DropLogger{
		log:      log,
		verbose:  verbose,
		interval: interval,
		nextEmit: now.Add(interval),
		reasons:  make(map[string]*dropBucket),
	}
}

// Note records one dropped line.
func (d *DropLogger) Note(now time.Time, reason, rawLine string) {
	if d == nil {
		return
	}
	summary := summarizeIRC(rawLine)
	if d.verbose {
		d.log.Debug().
			Str("reason", reason).
			Str("command", summary.command).
			Str("channel", summary.channel).
			Str("sample", summary.sample).
			Msg("twitchirc: dropped line")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.reasons[reason]
	if b == nil {
		b = &dropBucket{byCommand: map[string]int{}, samples: map[string]string{}}
		d.reasons[reason] = b
	}
	b.total++
	b.byCommand[summary.command]++
	if _, ok := b.samples[summary.command]; !ok {
		sample := summary.sample
		if summary.channel != "" && sample != summary.channel {
			sample = summary.channel + " " + sample
		}
		b.samples[summary.command] = sample
	}
	if !now.Before(d.nextEmit) {
		d.flushLocked(now)
	}
}

// Flush emits pending summaries immediately.
func (d *DropLogger) Flush(now time.Time) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushLocked(now)
}

func (d *DropLogger) flushLocked(now time.Time) {
	for _, reason := range sortedKeys(d.reasons) {
		b := d.reasons[reason]
		if b == nil || b.total == 0 {
			continue
		}
		d.log.Info().
			Str("reason", reason).
			Int("total", b.total).
			Str("commands", formatCounts(b.byCommand)).
			Str("samples", formatSamples(b.samples)).
			Msg("twitchirc: dropped lines")
	}
	clear(d.reasons)
	d.nextEmit = now.Add(d.interval)
}

func summarizeIRC(rawLine string) ircSummary {
	line, err := Split(rawLine)
	if err != nil {
		return ircSummary{command: "UNKNOWN", sample: sanitizeAndTruncate(rawLine, dropSampleMaxLen)}
	}
	channel := ""
	if ch := line.Channel(); ch != "" {
		channel = "#" + ch
	}

	sample := ""
	if line.Command == "USERNOTICE" {
		if msgID := line.Tags["msg-id"]; msgID != "" {
			sample = "msg-id=" + msgID
		}
	}
	if sample == "" {
		sample = line.Trailing
	}
	if sample == "" {
		sample = channel
	}
	if sample == "" {
		sample = strings.Join(line.Params, " ")
	}
	return ircSummary{
		command: line.Command,
		channel: sanitizeAndTruncate(channel, dropChannelMaxLen),
		sample:  sanitizeAndTruncate(sample, dropSampleMaxLen),
	}
}

func sanitizeAndTruncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	upper := strings.ToUpper(s)
	if upper == "PASS" || strings.HasPrefix(upper, "PASS ") {
		s = "PASS [REDACTED]"
	}
	s = oauthTokenRe.ReplaceAllString(s, "oauth:[REDACTED]")
	s = longTokenRe.ReplaceAllString(s, "[REDACTED]")

	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatCounts(counts map[string]int) string {
	parts := make([]string, 0, len(counts))
	for _, cmd := range sortedKeys(counts) {
		parts = append(parts, fmt.Sprintf("%s:%d", cmd, counts[cmd]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func formatSamples(samples map[string]string) string {
	parts := make([]string, 0, len(samples))
	for _, cmd := range sortedKeys(samples) {
		parts = append(parts, cmd+":'"+samples[cmd]+"'")
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
