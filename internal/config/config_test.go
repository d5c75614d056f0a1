package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/gnasty-alerts/internal/core"
)

func TestDefaultsAreValid(t *testing.T) {
	v := Default()
	require.NoError(t, v.Validate())

	assert.Equal(t, 5, v.General.MaxNotificationsPerUser)
	assert.Equal(t, int64(60_000), v.General.SuppressionWindowMs)
	assert.Equal(t, int64(300_000), v.General.SuppressionDurationMs)
	assert.Equal(t, 5*time.Second, v.Spam.Window())
	assert.Equal(t, 2, v.Spam.MaxIndividualNotifications)
	assert.Equal(t, 10.0, v.Spam.LowValueThreshold)
	assert.Equal(t, 500, v.Overlay.QueueCapacity)
	assert.Equal(t, 1, v.Goals.Batch())
	assert.Zero(t, v.Goals.FlushInterval())

	for _, kind := range core.Kinds {
		tc, ok := v.Types.For(kind)
		require.True(t, ok, kind)
		want, _ := core.PriorityFor(kind)
		assert.Equal(t, want, tc.Priority, kind)
		assert.True(t, tc.Enabled, kind)
	}
	assert.Equal(t, int64(4500), v.Types.Chat.Duration)
	assert.Equal(t, int64(8000), v.Types.Envelope.Duration)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GNASTY_ENABLED", "false")
	t.Setenv("GNASTY_SPAM_WINDOW_SECS", "9")
	t.Setenv("GNASTY_SPAM_LOW_VALUE", "2.5")
	t.Setenv("GNASTY_TWITCH_USERNAME", "elora")
	t.Setenv("GNASTY_TWITCH_IGNORE_SELF", "false")
	t.Setenv("GNASTY_GOALS_DB", "/data/goals.db")
	t.Setenv("GNASTY_GOALS_BATCH_SIZE", "25")
	t.Setenv("GNASTY_CORS_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("GNASTY_TTS_API_KEY", "secret-key")

	v, err := Load("")
	require.NoError(t, err)

	assert.False(t, v.General.Enabled)
	assert.Equal(t, 9, v.Spam.SpamDetectionWindow)
	assert.Equal(t, 2.5, v.Spam.LowValueThreshold)
	assert.Equal(t, "elora", v.Platforms.T.Username)
	assert.False(t, v.IgnoreSelf(core.PlatformTwitch))
	assert.True(t, v.IgnoreSelf(core.PlatformYouTube))
	assert.Equal(t, "/data/goals.db", v.Goals.DBPath)
	assert.Equal(t, 25, v.Goals.Batch())
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, v.Overlay.CORSOrigins)
	assert.Equal(t, "secret-key", v.TTS.APIKey)
}

func TestLoadIgnoresMalformedEnv(t *testing.T) {
	t.Setenv("GNASTY_MAX_NOTIFICATIONS_PER_USER", "lots")
	t.Setenv("GNASTY_SPAM_ENABLED", "maybe")

	v, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, v.General.MaxNotificationsPerUser)
	assert.True(t, v.Spam.SpamDetectionEnabled)
}

func TestLoadYAMLKeepsDefaultsForOmittedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gnasty.yaml")
	body := `
general:
  maxNotificationsPerUser: 3
platforms:
  S:
    notificationsEnabled: false
types:
  gift:
    priority: 4
    duration: 9000
    enabled: true
    tts: false
effects:
  rules:
    - kind: gift
      giftType: Rose
      command: confetti
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	v, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, v.General.MaxNotificationsPerUser)
	assert.Equal(t, int64(60_000), v.General.SuppressionWindowMs)
	assert.False(t, v.Platforms.S.NotificationsEnabled)
	assert.True(t, v.Platforms.V.NotificationsEnabled)
	assert.Equal(t, int64(9000), v.Types.Gift.Duration)
	assert.False(t, v.Types.Gift.TTS)
	assert.Equal(t, int64(4500), v.Types.Chat.Duration)
	require.Len(t, v.Effects.Rules, 1)
	assert.Equal(t, core.KindGift, v.Effects.Rules[0].Kind)
}

func TestLoadJSONRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gnasty.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"general":{"bogus":1}}`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateWrapsConfigMissing(t *testing.T) {
	v := Default()
	v.Spam.MaxIndividualNotifications = 0
	v.Types.Raid.Priority = 7

	err := v.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrConfigMissing)
	assert.Contains(t, err.Error(), "maxIndividualNotifications")
	assert.Contains(t, err.Error(), "types.raid.priority")

	var nilView *View
	assert.ErrorIs(t, nilView.Validate(), core.ErrConfigMissing)
}

func TestStoreKeepsPreviousViewOnInvalidSet(t *testing.T) {
	first := Default()
	s := NewStore(first)

	var seen []*View
	s.OnChange(func(v *View) { seen = append(seen, v) })

	bad := Default()
	bad.General.MaxNotificationsPerUser = 0
	require.Error(t, s.Set(bad))
	assert.Same(t, first, s.Current())
	assert.Empty(t, seen)

	next := Default()
	next.General.Enabled = false
	require.NoError(t, s.Set(next))
	assert.Same(t, next, s.Current())
	assert.Len(t, seen, 1)

	var empty *Store
	assert.Nil(t, empty.Current())
	assert.Nil(t, NewStore(nil).Current())
}

func TestSummaryRedactsSecrets(t *testing.T) {
	v := Default()
	v.TTS.APIKey = "abcdef"
	v.Platforms.S.NotificationsEnabled = false

	s := v.Summary()
	assert.Equal(t, "***REDACTED*** (len=6)", s.TTSKey)
	assert.Equal(t, []string{"youtube", "twitch"}, s.Platforms)
	assert.NotContains(t, string(v.RedactedJSON()), "abcdef")
	assert.Equal(t, "abcdef", v.TTS.APIKey)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gnasty.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"general":{"maxNotificationsPerUser":4}}`), 0o600))

	v, err := Load(path)
	require.NoError(t, err)
	s := NewStore(v)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, Watch(ctx, s, path, zerolog.Nop()))

	require.NoError(t, os.WriteFile(path, []byte(`{"general":{"maxNotificationsPerUser":7}}`), 0o600))
	require.Eventually(t, func() bool {
		return s.Current().General.MaxNotificationsPerUser == 7
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(`{"general":{"maxNotificationsPerUser":0}}`), 0o600))
	time.Sleep(2 * reloadDebounce)
	assert.Equal(t, 7, s.Current().General.MaxNotificationsPerUser)
}
