package effects

import (
	"context"
	"strings"

	"github.com/you/gnasty-alerts/internal/config"
	"github.com/you/gnasty-alerts/internal/core"
)

// StaticVFX resolves effects from the rules in the current configuration, so
// a hot reload changes the table without restarting anything.
type StaticVFX struct {
	cfg config.Source
}

func NewStaticVFX(cfg config.Source) *StaticVFX {
	return &StaticVFX{cfg: cfg}
}

// LookupVFX prefers a rule matching both kind and gift type, then the rule
// for the kind without a gift type.
func (s *StaticVFX) LookupVFX(_ context.Context, kind core.Kind, giftType string) (*VFXConfig, error) {
	view := s.cfg.Current()
	if view == nil {
		return nil, nil
	}
	var fallback *config.VFXRule
	for i := range view.Effects.Rules {
		r := &view.Effects.Rules[i]
		if r.Kind != kind {
			continue
		}
		if r.GiftType == "" {
			if fallback == nil {
				fallback = r
			}
			continue
		}
		if giftType != "" && strings.EqualFold(r.GiftType, giftType) {
			return ruleConfig(r), nil
		}
	}
	if fallback != nil {
		return ruleConfig(fallback), nil
	}
	return nil, nil
}

func ruleConfig(r *config.VFXRule) *VFXConfig {
	return &VFXConfig{
		Command:    r.Command,
		Scene:      r.Scene,
		Source:     r.Source,
		DurationMs: r.DurationMs,
	}
}
