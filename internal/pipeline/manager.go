// Package pipeline wires the filters, the shaper, the display queue and the
// side-effect dispatcher into one admission path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/you/gnasty-alerts/internal/config"
	"github.com/you/gnasty-alerts/internal/core"
	"github.com/you/gnasty-alerts/internal/filter"
	"github.com/you/gnasty-alerts/internal/ingesttrace"
	"github.com/you/gnasty-alerts/internal/metrics"
	"github.com/you/gnasty-alerts/internal/normalize"
	"github.com/you/gnasty-alerts/internal/queue"
	"github.com/you/gnasty-alerts/internal/shaper"
	"github.com/you/gnasty-alerts/internal/spam"
)

// SpamDetector decides whether a gift is shown.
type SpamDetector interface {
	HandleDonationSpam(userID, username string, amount float64, giftType string, giftCount int, platform core.Platform) spam.Decision
}

// UserSuppressor rate-limits admissions per key. Check runs before shaping;
// Record runs once the display queue has accepted the notification.
type UserSuppressor interface {
	Check(key string) bool
	Record(key string)
}

// Shaper builds the notification for a surviving event.
type Shaper interface {
	Shape(kind core.Kind, platform core.Platform, data core.EventData) (*core.Notification, error)
}

// DisplayQueue receives admitted notifications.
type DisplayQueue interface {
	AddItem(item core.QueueItem) error
}

// SideEffects fans an admitted notification out to TTS, effects and goals.
type SideEffects interface {
	Dispatch(ctx context.Context, n *core.Notification) int
}

type Option func(*Manager)

func WithClock(c core.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithSpamDetector replaces the default detector. A nil detector disables
// spam detection altogether.
func WithSpamDetector(d SpamDetector) Option {
	return func(m *Manager) {
		m.spam = d
		m.spamSet = true
	}
}

// WithSuppressor replaces the default per-user suppressor. A nil suppressor
// admits every user.
func WithSuppressor(s UserSuppressor) Option {
	return func(m *Manager) {
		m.suppress = s
		m.suppressSet = true
	}
}

func WithShaper(s Shaper) Option {
	return func(m *Manager) { m.shaper = s }
}

// WithSideEffects sets the dispatcher. Without one, admitted notifications
// only reach the display queue.
func WithSideEffects(s SideEffects) Option {
	return func(m *Manager) { m.effects = s }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithTransports shares a handshake registry with the old-message filter.
func WithTransports(t *Transports) Option {
	return func(m *Manager) { m.transports = t }
}

func WithNormalisers(s *normalize.Set) Option {
	return func(m *Manager) { m.normalisers = s }
}

// WithTraceLogging logs a per-event stage trace at debug level from Ingest.
func WithTraceLogging(on bool) Option {
	return func(m *Manager) { m.traceLog = on }
}

// Manager is the notification orchestrator.
type Manager struct {
	cfg         config.Source
	queue       DisplayQueue
	clock       core.Clock
	log         zerolog.Logger
	spam        SpamDetector
	spamSet     bool
	suppress    UserSuppressor
	suppressSet bool
	shaper      Shaper
	effects     SideEffects
	metrics     *metrics.Metrics
	transports  *Transports
	normalisers *normalize.Set
	self        *filter.SelfMessage
	old         *filter.OldMessage
	traceLog    bool

	// admit serialises the stateful part of the chain: spam, suppression and
	// queue admission.
	admit sync.Mutex
}

func New(cfg config.Source, q DisplayQueue, opts ...Option) *Manager {
	m := &Manager{
		cfg:   cfg,
		queue: q,
		clock: core.SystemClock,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With().Str("comp", "pipeline").Logger()
	if !m.spamSet {
		m.spam = spam.NewDetector(cfg, m.clock, m.log)
	}
	if !m.suppressSet {
		m.suppress = queue.NewSuppressor(cfg, m.clock, m.log)
	}
	if m.shaper == nil {
		m.shaper = shaper.New(cfg, m.clock, m.log, shaper.WithArtifactHook(m.metrics.Artifact))
	}
	if m.transports == nil {
		m.transports = NewTransports(m.clock)
	}
	if m.normalisers == nil {
		m.normalisers = normalize.NewSet(m.log)
	}
	m.self = filter.NewSelfMessage(cfg, m.log)
	m.old = filter.NewOldMessage(cfg, m.transports)
	return m
}

// Transports returns the handshake registry consulted by the old-message filter.
func (m *Manager) Transports() *Transports { return m.transports }

// Sweepers returns the stateful filters that support idle sweeps, keyed by name.
func (m *Manager) Sweepers() map[string]Sweeper {
	out := make(map[string]Sweeper, 2)
	if s, ok := m.spam.(Sweeper); ok {
		out["spam"] = s
	}
	if s, ok := m.suppress.(Sweeper); ok {
		out["suppressor"] = s
	}
	return out
}

// HandleNotification runs one event through the filters and, if it
// survives, commits it to the display queue and hands it to the side
// effects. typ accepts "platform:<kind>" or a bare kind.
func (m *Manager) HandleNotification(ctx context.Context, typ string, platform core.Platform, data core.EventData) core.Result {
	return m.handle(ctx, typ, platform, data, nil)
}

func (m *Manager) handle(ctx context.Context, typ string, platform core.Platform, data core.EventData, trace *ingesttrace.Trace) (res core.Result) {
	kind, known := core.KindFromType(typ)
	canonical := typ
	if known {
		canonical = core.TypeFor(kind)
	}
	defer func() {
		outcome := metrics.OutcomeAdmitted
		switch {
		case !res.Success:
			outcome = res.Reason
			trace.Inc(ingesttrace.StageDropped(res.Reason))
		case res.Suppressed:
			outcome = res.Reason
			trace.Inc(ingesttrace.StageDropped(res.Reason))
		default:
			trace.Inc(ingesttrace.StageAdmitted)
		}
		m.metrics.Notification(string(platform), canonical, outcome)
	}()

	if err := ctx.Err(); err != nil {
		return core.Fail(err)
	}
	view := m.cfg.Current()
	if view == nil {
		err := fmt.Errorf("%w: no configuration loaded", core.ErrConfigMissing)
		m.log.Error().Err(err).Str("platform", string(platform)).Str("type", typ).Msg("pipeline: cannot handle notification")
		return core.Fail(err)
	}
	if !known || kind == core.KindRaw {
		err := fmt.Errorf("%w: unknown notification type %q", core.ErrConfigMissing, typ)
		m.log.Error().Err(err).Str("platform", string(platform)).Msg("pipeline: cannot handle notification")
		return core.Fail(err)
	}
	if !platform.Valid() {
		err := fmt.Errorf("%w: unknown platform %q", core.ErrInvariant, platform)
		m.log.Error().Err(err).Str("type", canonical).Msg("pipeline: cannot handle notification")
		return core.Fail(err)
	}

	if !view.General.Enabled || !view.Platforms.For(platform).NotificationsEnabled {
		return core.Suppress(core.ReasonDisabled)
	}
	if tc, ok := view.Types.For(kind); !ok || !tc.Enabled {
		return core.Suppress(core.ReasonDisabled)
	}

	operator := kind == core.KindEnvelope
	if !operator && m.self.IsSelf(platform, data) {
		m.log.Debug().Str("platform", string(platform)).Str("user_id", data.UserID).Msg("pipeline: self message suppressed")
		return core.Suppress(core.ReasonSelfMessage)
	}
	if !operator && m.old.IsOld(platform, kind, data.Timestamp) {
		m.log.Debug().Str("platform", string(platform)).Str("timestamp", data.Timestamp).Msg("pipeline: old message suppressed")
		return core.Suppress(core.ReasonOldMessage)
	}

	m.admit.Lock()
	defer m.admit.Unlock()

	if kind == core.KindGift && !data.IsAggregated && m.spam != nil {
		if err := ctx.Err(); err != nil {
			return core.Fail(err)
		}
		decision := m.spam.HandleDonationSpam(data.UserID, data.Username, data.Amount, data.GiftType, data.GiftCount, platform)
		if !decision.ShouldShow {
			m.log.Debug().
				Str("platform", string(platform)).
				Str("user_id", data.UserID).
				Str("gift_type", data.GiftType).
				Str("aggregated_id", decision.AggregatedID).
				Msg("pipeline: gift suppressed as spam")
			return core.Suppress(core.ReasonSpamDetection)
		}
	}

	userKey := suppressionKey(platform, data)
	if !operator && m.suppress != nil {
		if err := ctx.Err(); err != nil {
			return core.Fail(err)
		}
		if !m.suppress.Check(userKey) {
			return core.Suppress(core.ReasonUserRateLimit)
		}
	}

	n, err := m.shaper.Shape(kind, platform, data)
	if err != nil {
		m.log.Error().Err(err).
			Str("platform", string(platform)).
			Str("type", canonical).
			Str("user_id", data.UserID).
			Msg("pipeline: shaping failed")
		return core.Fail(err)
	}

	if err := ctx.Err(); err != nil {
		return core.Fail(err)
	}
	if err := m.queue.AddItem(core.NewQueueItem(n, m.clock.NowMs())); err != nil {
		if !errors.Is(err, core.ErrQueueFull) {
			err = fmt.Errorf("%w: display: %v", core.ErrSinkFailure, err)
		}
		m.log.Error().Err(err).
			Str("platform", string(platform)).
			Str("type", n.Type).
			Str("notification_id", n.ID).
			Msg("pipeline: display queue rejected notification")
		m.metrics.SinkFailure("display")
		return core.Fail(err)
	}
	if !operator && m.suppress != nil {
		m.suppress.Record(userKey)
	}

	if m.effects != nil {
		m.effects.Dispatch(ctx, n)
	}
	m.log.Debug().
		Str("platform", string(platform)).
		Str("type", n.Type).
		Str("notification_id", n.ID).
		Str("log", n.LogMessage).
		Msg("pipeline: admitted")
	return core.Result{Success: true, NotificationID: n.ID}
}

// Flush emits diagnostics the normalisers are still buffering. Call it on
// shutdown.
func (m *Manager) Flush() { m.normalisers.Flush() }

// Ingest is the transport callback: it normalises one raw payload, which may
// carry several events, and handles each resulting intent.
func (m *Manager) Ingest(ctx context.Context, platform core.Platform, raw map[string]any) []core.Result {
	if !relevantEnvelope(raw) {
		return nil
	}
	intents := m.normalisers.Normalise(platform, raw)
	out := make([]core.Result, 0, len(intents))
	for _, in := range intents {
		trace := ingesttrace.New(string(platform), in.UserID, in.ID, in.Message)
		res := m.ingestOne(ctx, in, trace)
		if m.traceLog {
			trace.Log(m.log, "pipeline: ingest trace")
		}
		out = append(out, res)
	}
	return out
}

func (m *Manager) ingestOne(ctx context.Context, in core.RawIntent, trace *ingesttrace.Trace) core.Result {
	if in.Kind == core.KindRaw {
		m.log.Warn().
			Str("platform", string(in.Platform)).
			Str("reason", in.NormaliseError).
			Msg("pipeline: dropping malformed event")
		m.metrics.NormaliseError(string(in.Platform))
		trace.Inc(ingesttrace.StageDropped(core.ReasonNormalise))
		return core.Suppress(core.ReasonNormalise)
	}
	trace.Inc(ingesttrace.StageNormalised)
	data := in.EventData
	if data.Timestamp == "" && in.CreatedAt > 0 {
		data.Timestamp = core.ISOTime(in.CreatedAt)
	}
	return m.handle(ctx, core.TypeFor(in.Kind), in.Platform, data, trace)
}

// relevantEnvelope drops EventSub control messages (welcome, keepalive,
// revocation) that carry no event.
func relevantEnvelope(raw map[string]any) bool {
	meta, ok := raw["metadata"].(map[string]any)
	if !ok {
		return true
	}
	mt, ok := meta["message_type"].(string)
	if !ok {
		return true
	}
	return mt == "notification"
}

func suppressionKey(p core.Platform, data core.EventData) string {
	id := data.UserID
	if id == "" {
		id = strings.ToLower(data.Username)
	}
	return string(p) + ":" + id
}
