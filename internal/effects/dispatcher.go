package effects

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/you/gnasty-alerts/internal/config"
	"github.com/you/gnasty-alerts/internal/core"
)

// Sink names used in logs and failure reports.
const (
	SinkTTS     = "tts"
	SinkEffects = "effects"
	SinkGoals   = "goals"
)

type Option func(*Dispatcher)

func WithTTS(s TTSSink) Option {
	return func(d *Dispatcher) { d.tts = s }
}

// WithEffects sets the effect lookup and, optionally, the trigger that fires
// resolved effects.
func WithEffects(s EffectsSink, t Trigger) Option {
	return func(d *Dispatcher) {
		d.effects = s
		d.trigger = t
	}
}

func WithGoals(s GoalsSink) Option {
	return func(d *Dispatcher) { d.goals = s }
}

// WithFailureHook registers fn to run once per failed sink submission.
func WithFailureHook(fn func(sink string, err error)) Option {
	return func(d *Dispatcher) { d.onFailure = fn }
}

// Dispatcher submits every admitted notification to the configured sinks.
// Submissions run in the background and never fail the caller.
type Dispatcher struct {
	cfg       config.Source
	log       zerolog.Logger
	tts       TTSSink
	effects   EffectsSink
	trigger   Trigger
	goals     GoalsSink
	onFailure func(sink string, err error)

	wg sync.WaitGroup
}

func NewDispatcher(cfg config.Source, log zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg: cfg,
		log: log.With().Str("comp", "effects").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch starts the sink submissions for n and returns how many were
// started. The submissions outlive ctx cancellation but keep its values.
func (d *Dispatcher) Dispatch(ctx context.Context, n *core.Notification) int {
	if d == nil || n == nil {
		return 0
	}
	view := d.cfg.Current()
	if view == nil {
		return 0
	}
	base := context.WithoutCancel(ctx)
	started := 0

	if d.tts != nil && view.TTS.Enabled && n.TTSMessage != "" {
		if tc, ok := view.Types.For(n.Kind); ok && tc.TTS {
			text := n.TTSMessage
			d.submit(base, n, SinkTTS, view.Sinks.TTSTimeoutMs, func(ctx context.Context) error {
				return d.tts.Speak(ctx, text)
			})
			started++
		}
	}

	if d.effects != nil && view.Effects.Enabled {
		kind, giftType := n.Kind, n.GiftType
		d.submit(base, n, SinkEffects, view.Sinks.EffectsTimeoutMs, func(ctx context.Context) error {
			vfx, err := d.effects.LookupVFX(ctx, kind, giftType)
			if err != nil || vfx == nil || d.trigger == nil {
				return err
			}
			return d.trigger.TriggerVFX(ctx, *vfx, n)
		})
		started++
	}

	if d.goals != nil && view.Goals.Enabled && n.Kind.IsMonetary() && n.Amount > 0 {
		donation := core.Donation{
			Amount:   n.Amount,
			Currency: n.Currency,
			Username: n.Username,
			Platform: n.Platform,
		}
		d.submit(base, n, SinkGoals, view.Sinks.GoalsTimeoutMs, func(ctx context.Context) error {
			return d.goals.ProcessDonationGoal(ctx, donation)
		})
		started++
	}
	return started
}

// Wait blocks until every started submission has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	if d == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) submit(base context.Context, n *core.Notification, sink string, timeoutMs int64, fn func(context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		err := callWithDeadline(base, time.Duration(timeoutMs)*time.Millisecond, fn)
		if err == nil {
			return
		}
		err = fmt.Errorf("%w: %s: %v", core.ErrSinkFailure, sink, err)
		d.log.Error().Err(err).
			Str("sink", sink).
			Str("notification_id", n.ID).
			Str("type", n.Type).
			Str("platform", string(n.Platform)).
			Msg("effects: sink failed")
		if d.onFailure != nil {
			d.onFailure(sink, err)
		}
	}()
}

// callWithDeadline runs fn under timeout. A sink that ignores its context is
// abandoned once the deadline passes.
func callWithDeadline(parent context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return fn(parent)
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
