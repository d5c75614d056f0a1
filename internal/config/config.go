package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/you/gnasty-alerts/internal/core"
)

// View is the immutable, typed configuration read by the pipeline. A View is
// never mutated after it has been published to a Store.
type View struct {
	General   GeneralConfig   `json:"general"`
	Spam      SpamConfig      `json:"spam"`
	Platforms PlatformsConfig `json:"platforms"`
	Types     TypesConfig     `json:"types"`
	Sinks     SinksConfig     `json:"sinks"`
	TTS       TTSConfig       `json:"tts"`
	Effects   EffectsConfig   `json:"effects"`
	Overlay   OverlayConfig   `json:"overlay"`
	Goals     GoalsConfig     `json:"goals"`
	Log       LogConfig       `json:"log"`
}

type GeneralConfig struct {
	Enabled                      bool  `json:"enabled"`
	IgnoreSelfMessages           bool  `json:"ignoreSelfMessages"`
	FilterOldMessages            bool  `json:"filterOldMessages"`
	UserSuppressionEnabled       bool  `json:"userSuppressionEnabled"`
	MaxNotificationsPerUser      int   `json:"maxNotificationsPerUser"`
	SuppressionWindowMs          int64 `json:"suppressionWindowMs"`
	SuppressionDurationMs        int64 `json:"suppressionDurationMs"`
	SuppressionCleanupIntervalMs int64 `json:"suppressionCleanupIntervalMs"`
}

type SpamConfig struct {
	SpamDetectionEnabled bool `json:"spamDetectionEnabled"`
	// SpamDetectionWindow is in seconds.
	SpamDetectionWindow        int     `json:"spamDetectionWindow"`
	MaxIndividualNotifications int     `json:"maxIndividualNotifications"`
	LowValueThreshold          float64 `json:"lowValueThreshold"`
}

// Window returns the spam window as a duration.
func (s SpamConfig) Window() time.Duration {
	return time.Duration(s.SpamDetectionWindow) * time.Second
}

type PlatformConfig struct {
	NotificationsEnabled bool   `json:"notificationsEnabled"`
	Username             string `json:"username,omitempty"`
	UserID               string `json:"userId,omitempty"`
	// IgnoreSelfMessages overrides general.ignoreSelfMessages when set.
	IgnoreSelfMessages *bool `json:"ignoreSelfMessages,omitempty"`
}

type PlatformsConfig struct {
	V PlatformConfig `json:"V"`
	T PlatformConfig `json:"T"`
	S PlatformConfig `json:"S"`
}

// For returns the settings of one platform. Unknown platforms are disabled.
func (p PlatformsConfig) For(platform core.Platform) PlatformConfig {
	switch platform {
	case core.PlatformYouTube:
		return p.V
	case core.PlatformTwitch:
		return p.T
	case core.PlatformTikTok:
		return p.S
	}
	return PlatformConfig{}
}

type TypeConfig struct {
	Priority int   `json:"priority"`
	Duration int64 `json:"duration"`
	Enabled  bool  `json:"enabled"`
	TTS      bool  `json:"tts"`
}

type TypesConfig struct {
	Chat       TypeConfig `json:"chat"`
	Follow     TypeConfig `json:"follow"`
	Member     TypeConfig `json:"member"`
	Gift       TypeConfig `json:"gift"`
	GiftMember TypeConfig `json:"giftmember"`
	Raid       TypeConfig `json:"raid"`
	Envelope   TypeConfig `json:"envelope"`
}

// For returns the settings of one kind and whether the kind is known.
func (t TypesConfig) For(kind core.Kind) (TypeConfig, bool) {
	switch kind {
	case core.KindChat:
		return t.Chat, true
	case core.KindFollow:
		return t.Follow, true
	case core.KindMember:
		return t.Member, true
	case core.KindGift:
		return t.Gift, true
	case core.KindGiftMember:
		return t.GiftMember, true
	case core.KindRaid:
		return t.Raid, true
	case core.KindEnvelope:
		return t.Envelope, true
	}
	return TypeConfig{}, false
}

// SinksConfig holds per-sink submission deadlines.
type SinksConfig struct {
	TTSTimeoutMs     int64 `json:"ttsTimeoutMs"`
	EffectsTimeoutMs int64 `json:"effectsTimeoutMs"`
	GoalsTimeoutMs   int64 `json:"goalsTimeoutMs"`
}

type TTSConfig struct {
	Enabled       bool   `json:"enabled"`
	QueueSize     int    `json:"queueSize"`
	RatePerMinute int    `json:"ratePerMinute"`
	Voice         string `json:"voice,omitempty"`
	APIKey        string `json:"apiKey,omitempty"`
}

type VFXRule struct {
	Kind       core.Kind `json:"kind"`
	GiftType   string    `json:"giftType,omitempty"`
	Command    string    `json:"command"`
	Scene      string    `json:"scene,omitempty"`
	Source     string    `json:"source,omitempty"`
	DurationMs int64     `json:"durationMs,omitempty"`
}

type EffectsConfig struct {
	Enabled bool      `json:"enabled"`
	Rules   []VFXRule `json:"rules,omitempty"`
}

type OverlayConfig struct {
	Addr          string   `json:"addr"`
	QueueCapacity int      `json:"queueCapacity"`
	CORSOrigins   []string `json:"corsOrigins,omitempty"`
	RateLimitRPS  int      `json:"rateLimitRps"`
	RateBurst     int      `json:"rateBurst"`
}

type GoalsConfig struct {
	Enabled    bool   `json:"enabled"`
	DBPath     string `json:"dbPath"`
	BatchSize  int    `json:"batchSize"`
	FlushMaxMS int    `json:"flushMaxMs"`
}

type LogConfig struct {
	Level string `json:"level"`
	JSON  bool   `json:"json"`
}

const (
	defaultOverlayAddr   = ":8765"
	defaultGoalsPath     = "goals.db"
	defaultQueueCapacity = 500
	defaultSinkTimeoutMs = 2000
)

// Default returns the configuration used when nothing else is provided.
func Default() *View {
	typ := func(kind core.Kind, duration int64, tts bool) TypeConfig {
		p, _ := core.PriorityFor(kind)
		return TypeConfig{Priority: p, Duration: duration, Enabled: true, TTS: tts}
	}
	return &View{
		General: GeneralConfig{
			Enabled:                      true,
			IgnoreSelfMessages:           true,
			FilterOldMessages:            true,
			UserSuppressionEnabled:       true,
			MaxNotificationsPerUser:      5,
			SuppressionWindowMs:          60_000,
			SuppressionDurationMs:        300_000,
			SuppressionCleanupIntervalMs: 300_000,
		},
		Spam: SpamConfig{
			SpamDetectionEnabled:       true,
			SpamDetectionWindow:        5,
			MaxIndividualNotifications: 2,
			LowValueThreshold:          10,
		},
		Platforms: PlatformsConfig{
			V: PlatformConfig{NotificationsEnabled: true},
			T: PlatformConfig{NotificationsEnabled: true},
			S: PlatformConfig{NotificationsEnabled: true},
		},
		Types: TypesConfig{
			Chat:       typ(core.KindChat, 4500, false),
			Follow:     typ(core.KindFollow, 5000, true),
			Member:     typ(core.KindMember, 6000, true),
			Gift:       typ(core.KindGift, 7000, true),
			GiftMember: typ(core.KindGiftMember, 7000, true),
			Raid:       typ(core.KindRaid, 8000, true),
			Envelope:   typ(core.KindEnvelope, 8000, true),
		},
		Sinks: SinksConfig{
			TTSTimeoutMs:     defaultSinkTimeoutMs,
			EffectsTimeoutMs: defaultSinkTimeoutMs,
			GoalsTimeoutMs:   defaultSinkTimeoutMs,
		},
		TTS:     TTSConfig{Enabled: true, QueueSize: 32, RatePerMinute: 20},
		Effects: EffectsConfig{Enabled: true},
		Overlay: OverlayConfig{
			Addr:          defaultOverlayAddr,
			QueueCapacity: defaultQueueCapacity,
			RateLimitRPS:  20,
			RateBurst:     40,
		},
		Goals: GoalsConfig{Enabled: true, DBPath: defaultGoalsPath, BatchSize: 1},
		Log:   LogConfig{Level: "info"},
	}
}

// Load builds a View from defaults, an optional file and GNASTY_* environment
// variables, in that order, and validates the result.
func Load(path string) (*View, error) {
	v := Default()
	if strings.TrimSpace(path) != "" {
		if err := decodeFile(path, v); err != nil {
			return nil, err
		}
	}
	applyEnv(v)
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

func applyEnv(v *View) {
	g := &v.General
	g.Enabled = readBool("GNASTY_ENABLED", g.Enabled)
	g.IgnoreSelfMessages = readBool("GNASTY_IGNORE_SELF_MESSAGES", g.IgnoreSelfMessages)
	g.FilterOldMessages = readBool("GNASTY_FILTER_OLD_MESSAGES", g.FilterOldMessages)
	g.UserSuppressionEnabled = readBool("GNASTY_USER_SUPPRESSION", g.UserSuppressionEnabled)
	g.MaxNotificationsPerUser = readInt("GNASTY_MAX_NOTIFICATIONS_PER_USER", g.MaxNotificationsPerUser)
	g.SuppressionWindowMs = readInt64("GNASTY_SUPPRESSION_WINDOW_MS", g.SuppressionWindowMs)
	g.SuppressionDurationMs = readInt64("GNASTY_SUPPRESSION_DURATION_MS", g.SuppressionDurationMs)
	g.SuppressionCleanupIntervalMs = readInt64("GNASTY_SUPPRESSION_CLEANUP_MS", g.SuppressionCleanupIntervalMs)

	s := &v.Spam
	s.SpamDetectionEnabled = readBool("GNASTY_SPAM_ENABLED", s.SpamDetectionEnabled)
	s.SpamDetectionWindow = readInt("GNASTY_SPAM_WINDOW_SECS", s.SpamDetectionWindow)
	s.MaxIndividualNotifications = readInt("GNASTY_SPAM_MAX_INDIVIDUAL", s.MaxIndividualNotifications)
	s.LowValueThreshold = readFloat("GNASTY_SPAM_LOW_VALUE", s.LowValueThreshold)

	readPlatform := func(p *PlatformConfig, prefix string) {
		p.NotificationsEnabled = readBool(prefix+"_ENABLED", p.NotificationsEnabled)
		if u := strings.TrimSpace(os.Getenv(prefix + "_USERNAME")); u != "" {
			p.Username = u
		}
		if id := strings.TrimSpace(os.Getenv(prefix + "_USER_ID")); id != "" {
			p.UserID = id
		}
		if envExists(prefix + "_IGNORE_SELF") {
			b := readBool(prefix+"_IGNORE_SELF", true)
			p.IgnoreSelfMessages = &b
		}
	}
	readPlatform(&v.Platforms.V, "GNASTY_YT")
	readPlatform(&v.Platforms.T, "GNASTY_TWITCH")
	readPlatform(&v.Platforms.S, "GNASTY_TIKTOK")

	v.TTS.Enabled = readBool("GNASTY_TTS_ENABLED", v.TTS.Enabled)
	if key := strings.TrimSpace(os.Getenv("GNASTY_TTS_API_KEY")); key != "" {
		v.TTS.APIKey = key
	}
	v.Effects.Enabled = readBool("GNASTY_EFFECTS_ENABLED", v.Effects.Enabled)

	if addr := strings.TrimSpace(os.Getenv("GNASTY_HTTP_ADDR")); addr != "" {
		v.Overlay.Addr = addr
	}
	v.Overlay.QueueCapacity = readInt("GNASTY_QUEUE_CAPACITY", v.Overlay.QueueCapacity)
	if origins := splitList(os.Getenv("GNASTY_CORS_ORIGINS")); len(origins) > 0 {
		v.Overlay.CORSOrigins = origins
	}

	v.Goals.Enabled = readBool("GNASTY_GOALS_ENABLED", v.Goals.Enabled)
	if p := strings.TrimSpace(os.Getenv("GNASTY_GOALS_DB")); p != "" {
		v.Goals.DBPath = p
	}
	v.Goals.BatchSize = readInt("GNASTY_GOALS_BATCH_SIZE", v.Goals.BatchSize)
	v.Goals.FlushMaxMS = readInt("GNASTY_GOALS_FLUSH_MAX_MS", v.Goals.FlushMaxMS)

	if lvl := strings.TrimSpace(os.Getenv("GNASTY_LOG_LEVEL")); lvl != "" {
		v.Log.Level = lvl
	}
	v.Log.JSON = readBool("GNASTY_LOG_JSON", v.Log.JSON)
}

// Validate checks every field the pipeline depends on. Failures wrap
// core.ErrConfigMissing.
func (v *View) Validate() error {
	if v == nil {
		return fmt.Errorf("%w: no configuration", core.ErrConfigMissing)
	}
	var problems []string
	bad := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	g := v.General
	if g.MaxNotificationsPerUser <= 0 {
		bad("general.maxNotificationsPerUser must be > 0")
	}
	if g.SuppressionWindowMs <= 0 {
		bad("general.suppressionWindowMs must be > 0")
	}
	if g.SuppressionDurationMs < 0 {
		bad("general.suppressionDurationMs must be >= 0")
	}
	if g.SuppressionCleanupIntervalMs <= 0 {
		bad("general.suppressionCleanupIntervalMs must be > 0")
	}

	s := v.Spam
	if s.SpamDetectionWindow <= 0 {
		bad("spam.spamDetectionWindow must be > 0")
	}
	if s.MaxIndividualNotifications <= 0 {
		bad("spam.maxIndividualNotifications must be > 0")
	}
	if s.LowValueThreshold < 0 {
		bad("spam.lowValueThreshold must be >= 0")
	}

	for _, kind := range core.Kinds {
		tc, _ := v.Types.For(kind)
		if !core.ValidPriority(tc.Priority) {
			bad("types.%s.priority %d is not a known priority", kind, tc.Priority)
		}
		if tc.Duration <= 0 {
			bad("types.%s.duration must be > 0", kind)
		}
	}

	if v.Sinks.TTSTimeoutMs <= 0 || v.Sinks.EffectsTimeoutMs <= 0 || v.Sinks.GoalsTimeoutMs <= 0 {
		bad("sinks timeouts must be > 0")
	}
	if v.Overlay.QueueCapacity < 0 {
		bad("overlay.queueCapacity must be >= 0")
	}
	if v.Goals.Enabled && strings.TrimSpace(v.Goals.DBPath) == "" {
		bad("goals.dbPath is required when goals are enabled")
	}
	for i, rule := range v.Effects.Rules {
		if _, ok := v.Types.For(rule.Kind); !ok {
			bad("effects.rules[%d].kind %q is unknown", i, rule.Kind)
		}
		if strings.TrimSpace(rule.Command) == "" {
			bad("effects.rules[%d].command is required", i)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", core.ErrConfigMissing, strings.Join(problems, "; "))
	}
	return nil
}

// IgnoreSelf resolves the self-message flag for one platform.
func (v *View) IgnoreSelf(platform core.Platform) bool {
	if o := v.Platforms.For(platform).IgnoreSelfMessages; o != nil {
		return *o
	}
	return v.General.IgnoreSelfMessages
}

// SuppressionWindow and friends convert the millisecond fields.
func (g GeneralConfig) SuppressionWindow() time.Duration {
	return time.Duration(g.SuppressionWindowMs) * time.Millisecond
}

func (g GeneralConfig) SuppressionDuration() time.Duration {
	return time.Duration(g.SuppressionDurationMs) * time.Millisecond
}

func (g GeneralConfig) CleanupInterval() time.Duration {
	return time.Duration(g.SuppressionCleanupIntervalMs) * time.Millisecond
}

func (g GoalsConfig) FlushInterval() time.Duration {
	if g.FlushMaxMS <= 0 {
		return 0
	}
	return time.Duration(g.FlushMaxMS) * time.Millisecond
}

func (g GoalsConfig) Batch() int {
	if g.BatchSize <= 0 {
		return 1
	}
	return g.BatchSize
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n':
			return true
		}
		return false
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func readInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func readInt64(name string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func readFloat(name string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 {
		return def
	}
	return f
}

func readBool(name string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func envExists(name string) bool {
	_, ok := os.LookupEnv(name)
	return ok
}

// Summary is the redacted boot snapshot logged by the binary.
type Summary struct {
	Enabled        bool     `json:"enabled"`
	Platforms      []string `json:"platforms"`
	SpamDetection  bool     `json:"spam_detection"`
	UserSuppressed bool     `json:"user_suppression"`
	TTS            bool     `json:"tts"`
	TTSKey         string   `json:"tts_key,omitempty"`
	Goals          string   `json:"goals,omitempty"`
	OverlayAddr    string   `json:"overlay_addr"`
	VFXRules       int      `json:"vfx_rules"`
}

func (v *View) Summary() Summary {
	s := Summary{
		Enabled:        v.General.Enabled,
		SpamDetection:  v.Spam.SpamDetectionEnabled,
		UserSuppressed: v.General.UserSuppressionEnabled,
		TTS:            v.TTS.Enabled,
		TTSKey:         redactString(v.TTS.APIKey),
		OverlayAddr:    v.Overlay.Addr,
		VFXRules:       len(v.Effects.Rules),
	}
	for _, p := range core.Platforms {
		if v.Platforms.For(p).NotificationsEnabled {
			s.Platforms = append(s.Platforms, p.Name())
		}
	}
	if v.Goals.Enabled {
		s.Goals = v.Goals.DBPath
	}
	return s
}

func (v *View) SummaryJSON() []byte {
	summary := struct {
		Config Summary `json:"config_summary"`
	}{Config: v.Summary()}
	data, _ := json.Marshal(summary)
	return data
}

// RedactedJSON renders the whole view with secrets removed.
func (v *View) RedactedJSON() []byte {
	cp := *v
	cp.TTS.APIKey = redactString(v.TTS.APIKey)
	data, _ := json.MarshalIndent(cp, "", "  ")
	return data
}

func redactString(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "***REDACTED*** (len=" + strconv.Itoa(len(value)) + ")"
}
