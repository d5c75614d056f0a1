package twitchirc

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Parser wraps ParseLine and reports lines it could not use to a DropLogger.
type Parser struct {
	drops *DropLogger
	now   func() time.Time
}

func NewParser(log zerolog.Logger, verbose bool) *Parser {
	return &Parser{
		drops: NewDropLogger(log.With().Str("comp", "twitchirc").Logger(), time.Now(), verbose, 0),
		now:   time.Now,
	}
}

// Parse returns the payload for raw, or false when the line was dropped.
func (p *Parser) Parse(raw string) (map[string]any, bool) {
	out, err := ParseLine(raw)
	if err == nil {
		return out, true
	}
	reason := "malformed"
	if errors.Is(err, ErrUnhandled) {
		reason = "unhandled"
	}
	p.drops.Note(p.now(), reason, raw)
	return nil, false
}

// Flush emits pending drop summaries.
func (p *Parser) Flush() {
	p.drops.Flush(p.now())
}
