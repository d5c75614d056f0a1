package effects

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/you/gnasty-alerts/internal/config"
	"github.com/you/gnasty-alerts/internal/core"
)

// SpeakFunc is the speech backend driven by a Speaker.
type SpeakFunc func(ctx context.Context, text string) error

// Speaker is a TTSSink that queues lines and paces them through a backend.
type Speaker struct {
	lines   chan string
	limiter *rate.Limiter
	speak   SpeakFunc
	log     zerolog.Logger

	dropped atomic.Int64
}

func NewSpeaker(cfg config.TTSConfig, speak SpeakFunc, log zerolog.Logger) *Speaker {
	size := cfg.QueueSize
	if size <= 0 {
		size = 1
	}
	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RatePerMinute))
	}
	return &Speaker{
		lines:   make(chan string, size),
		limiter: rate.NewLimiter(limit, 1),
		speak:   speak,
		log:     log.With().Str("comp", "tts").Logger(),
	}
}

// Speak queues text without blocking. A full queue drops the line.
func (s *Speaker) Speak(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case s.lines <- text:
		return nil
	default:
		n := s.dropped.Add(1)
		s.log.Warn().Int64("dropped_total", n).Msg("tts: queue full, line dropped")
		return fmt.Errorf("%w: tts queue full", core.ErrSinkFailure)
	}
}

// Pending reports the number of queued lines.
func (s *Speaker) Pending() int { return len(s.lines) }

// Dropped reports how many lines were dropped on overflow.
func (s *Speaker) Dropped() int64 { return s.dropped.Load() }

// Run feeds queued lines to the backend until ctx is done.
func (s *Speaker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case text := <-s.lines:
			if err := s.limiter.Wait(ctx); err != nil {
				return ctx.Err()
			}
			if s.speak == nil {
				continue
			}
			if err := s.speak(ctx, text); err != nil {
				s.log.Warn().Err(err).Msg("tts: backend failed")
			}
		}
	}
}
