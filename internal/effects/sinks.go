// Package effects fans admitted notifications out to text-to-speech, scene
// effects and donation goals.
package effects

import (
	"context"

	"github.com/you/gnasty-alerts/internal/core"
)

// TTSSink speaks a line of text.
type TTSSink interface {
	Speak(ctx context.Context, text string) error
}

// VFXConfig describes the scene effect bound to an event.
type VFXConfig struct {
	Command    string `json:"command"`
	Scene      string `json:"scene,omitempty"`
	Source     string `json:"source,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

// EffectsSink resolves the effect for a kind and optional gift type. A nil
// config with a nil error means no effect is bound.
type EffectsSink interface {
	LookupVFX(ctx context.Context, kind core.Kind, giftType string) (*VFXConfig, error)
}

// Trigger fires a resolved effect.
type Trigger interface {
	TriggerVFX(ctx context.Context, cfg VFXConfig, n *core.Notification) error
}

// GoalsSink accounts a donation towards the running goals.
type GoalsSink interface {
	ProcessDonationGoal(ctx context.Context, d core.Donation) error
}

type TTSFunc func(ctx context.Context, text string) error

func (f TTSFunc) Speak(ctx context.Context, text string) error { return f(ctx, text) }

type TriggerFunc func(ctx context.Context, cfg VFXConfig, n *core.Notification) error

func (f TriggerFunc) TriggerVFX(ctx context.Context, cfg VFXConfig, n *core.Notification) error {
	return f(ctx, cfg, n)
}

type GoalsFunc func(ctx context.Context, d core.Donation) error

func (f GoalsFunc) ProcessDonationGoal(ctx context.Context, d core.Donation) error { return f(ctx, d) }
