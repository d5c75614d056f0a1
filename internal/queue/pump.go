package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/you/gnasty-alerts/internal/core"
)

// DisplaySink presents one item on screen.
type DisplaySink interface {
	Show(ctx context.Context, item core.QueueItem) error
}

// DisplaySinkFunc adapts a function to DisplaySink.
type DisplaySinkFunc func(ctx context.Context, item core.QueueItem) error

func (f DisplaySinkFunc) Show(ctx context.Context, item core.QueueItem) error { return f(ctx, item) }

// Pump pops the head of q, shows it and holds it on screen for its
// duration before looking at the head again. It returns when ctx is done.
func Pump(ctx context.Context, q *DisplayQueue, sink DisplaySink, log zerolog.Logger) error {
	log = log.With().Str("comp", "queue").Logger()
	for {
		item, ok := q.PopNext()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-q.Ready():
				continue
			}
		}

		if err := sink.Show(ctx, item); err != nil {
			log.Error().Err(err).
				Str("notification_id", item.ID).
				Str("type", item.Type).
				Msg("queue: display sink failed")
			continue
		}
		if !hold(ctx, time.Duration(item.Duration)*time.Millisecond) {
			return ctx.Err()
		}
	}
}

func hold(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
