package shaper

import (
	"bytes"
	"fmt"
	"regexp"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/gnasty-alerts/internal/config"
	"github.com/you/gnasty-alerts/internal/core"
)

func newShaper(t *testing.T, opts ...Option) (*Shaper, *core.ManualClock) {
	t.Helper()
	clock := core.NewManualClock(1_700_000_000_000)
	seq := 0
	opts = append([]Option{WithIDFunc(func() string {
		seq++
		return fmt.Sprintf("n-%d", seq)
	})}, opts...)
	return New(config.Static{V: config.Default()}, clock, zerolog.Nop(), opts...), clock
}

func TestShapeTwitchGiftMemberBulk(t *testing.T) {
	s, _ := newShaper(t)
	n, err := s.Shape(core.KindGiftMember, core.PlatformTwitch, core.EventData{
		UserID: "123", Username: "GiftUser", Tier: "1000", GiftCount: 5, CumulativeTotal: 7,
	})
	require.NoError(t, err)
	require.NoError(t, n.Validate())

	assert.Equal(t, 5, n.Priority)
	assert.Equal(t, "platform:giftmember", n.Type)
	assert.Contains(t, n.DisplayMessage, "GiftUser")
	assert.Contains(t, n.DisplayMessage, "5")
	assert.Regexp(t, regexp.MustCompile(`(?i)gift|sub`), n.DisplayMessage)
	assert.NotContains(t, n.DisplayMessage, "undefined")
	assert.NotContains(t, n.DisplayMessage, "null")
	assert.Contains(t, n.TTSMessage, "GiftUser")
	assert.Contains(t, n.TTSMessage, "5")
	assert.Equal(t, "GiftUser gifted 5 Tier 1 subs! (7 gifted in total)", n.DisplayMessage)
}

func TestShapeYouTubeSuperChat(t *testing.T) {
	s, _ := newShaper(t)
	n, err := s.Shape(core.KindGift, core.PlatformYouTube, core.EventData{
		Username: "ChatHero", UserID: "y2", GiftType: "Super Chat", GiftCount: 1, Amount: 10, Currency: "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, "platform:gift", n.Type)
	assert.Equal(t, core.PlatformYouTube, n.Platform)
	assert.Equal(t, 4, n.Priority)
	assert.Equal(t, "ChatHero sent a Super Chat of 10 USD", n.DisplayMessage)

	n, err = s.Shape(core.KindGift, core.PlatformYouTube, core.EventData{
		Username: "ChatHero", GiftType: "Super Chat", Amount: 4.5, Currency: "EUR", Message: "great stream",
	})
	require.NoError(t, err)
	assert.Equal(t, "ChatHero sent a Super Chat of 4.50 EUR: great stream", n.DisplayMessage)
}

func TestShapeRaid(t *testing.T) {
	s, _ := newShaper(t)
	n, err := s.Shape(core.KindRaid, core.PlatformTwitch, core.EventData{Username: "Raider", ViewerCount: 100})
	require.NoError(t, err)
	assert.Equal(t, 6, n.Priority)
	assert.Contains(t, n.DisplayMessage, "100")

	n, err = s.Shape(core.KindRaid, core.PlatformTwitch, core.EventData{Username: "Tiny", ViewerCount: 1})
	require.NoError(t, err)
	assert.Equal(t, "Tiny is raiding with 1 viewer!", n.DisplayMessage)
}

func TestFallbackOmitsMissingFields(t *testing.T) {
	s, _ := newShaper(t)

	n, err := s.Shape(core.KindMember, core.PlatformTwitch, core.EventData{Username: "Sub"})
	require.NoError(t, err)
	assert.Equal(t, "Sub subscribed!", n.DisplayMessage)

	n, err = s.Shape(core.KindMember, core.PlatformTwitch, core.EventData{Username: "Sub", Tier: "2000", Months: 1})
	require.NoError(t, err)
	assert.Equal(t, "Sub subscribed with Tier 2 for 1 month!", n.DisplayMessage)

	n, err = s.Shape(core.KindGift, core.PlatformTikTok, core.EventData{Username: "rosefan", GiftType: "Rose", GiftCount: 5, Amount: 5, Currency: "coins"})
	require.NoError(t, err)
	assert.Equal(t, "rosefan sent 5x Rose worth 5 coins", n.DisplayMessage)

	n, err = s.Shape(core.KindChat, core.PlatformTwitch, core.EventData{Username: "quiet"})
	require.NoError(t, err)
	assert.Equal(t, "quiet sent a message", n.DisplayMessage)
	assert.NotContains(t, n.DisplayMessage, "{")
}

func TestArtifactsFallBackToSafeTemplate(t *testing.T) {
	var (
		buf   bytes.Buffer
		rules []string
	)
	clock := core.NewManualClock(1000)
	s := New(config.Static{V: config.Default()}, clock, zerolog.New(&buf),
		WithArtifactHook(func(rule string) { rules = append(rules, rule) }))

	n, err := s.Shape(core.KindChat, core.PlatformTwitch, core.EventData{Username: "hacker", Message: "SELECT name FROM users"})
	require.NoError(t, err)
	assert.Equal(t, "New chat message from hacker", n.DisplayMessage)
	assert.Equal(t, n.DisplayMessage, n.TTSMessage)
	assert.Equal(t, []string{"sql"}, rules)
	assert.Contains(t, buf.String(), "artifact detected")

	n, err = s.Shape(core.KindFollow, core.PlatformTwitch, core.EventData{Username: "undefined"})
	require.NoError(t, err)
	assert.Equal(t, "New follower", n.DisplayMessage)

	n, err = s.Shape(core.KindGift, core.PlatformYouTube, core.EventData{
		Username: "ChatHero", GiftType: "SELECT name FROM gifts", GiftCount: 1, Amount: 10, Currency: "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, "New gift from ChatHero worth 10 USD", n.DisplayMessage)
	assert.Equal(t, n.DisplayMessage, n.TTSMessage)

	n, err = s.Shape(core.KindGift, core.PlatformTikTok, core.EventData{
		Username: "null", GiftType: "Rose", GiftCount: 2, Amount: 2, Currency: "coins",
	})
	require.NoError(t, err)
	assert.Equal(t, "New gift worth 2 coins", n.DisplayMessage)
}

func TestShapedOutputIsAlwaysClean(t *testing.T) {
	s, _ := newShaper(t)
	nasty := []string{
		`{"a":1}`, "[DEBUG] x", "see src/app.js", "at foo (main.js:10)", "null", "[object Object]",
		"DELETE everything", "${name}", "%USER%", "http://localhost:8080", "/api/v1/x", "TOKEN=abc",
		"process.env.KEY", "config.general", "NaN",
	}
	for _, kind := range core.Kinds {
		for _, text := range nasty {
			data := core.EventData{
				Username: "user", Message: text, GiftType: text, Amount: 1, Currency: "USD",
				GiftCount: 1, ViewerCount: 3, Tier: text,
			}
			n, err := s.Shape(kind, core.PlatformTwitch, data)
			require.NoError(t, err)
			assert.True(t, s.Scrubber().Clean(n.DisplayMessage), "%s %q -> %q", kind, text, n.DisplayMessage)
			assert.True(t, s.Scrubber().Clean(n.TTSMessage), "%s %q -> %q", kind, text, n.TTSMessage)
			require.NoError(t, n.Validate())
		}
	}
}

func nonASCII(s string) int {
	c := 0
	for _, r := range s {
		if r >= 0x80 {
			c++
		}
	}
	return c
}

func TestInternationalNamesPreserved(t *testing.T) {
	s, _ := newShaper(t)
	names := []string{"Zoë", "さくら🌸", "محمد", "김민수", "Ελένη", "name with　spaces", "👨‍👩‍👧‍👦"}
	for _, kind := range core.Kinds {
		for _, name := range names {
			data := core.EventData{Username: name, Message: "héllo", GiftType: "Rose", GiftCount: 2, Amount: 2, Currency: "coins", ViewerCount: 4}
			n, err := s.Shape(kind, core.PlatformTikTok, data)
			require.NoError(t, err)
			assert.True(t, utf8.ValidString(n.DisplayMessage))
			assert.Contains(t, n.DisplayMessage, name, kind)
			assert.GreaterOrEqual(t, nonASCII(n.DisplayMessage), nonASCII(name))
			assert.Contains(t, n.TTSMessage, name, kind)
		}
	}
}

func TestZeroDecimalCurrencies(t *testing.T) {
	s, _ := newShaper(t)
	_, err := s.Shape(core.KindGift, core.PlatformYouTube, core.EventData{Username: "x", Amount: 100.5, Currency: "JPY"})
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	_, err = s.Shape(core.KindGift, core.PlatformTikTok, core.EventData{Username: "x", Amount: 1.5, Currency: "coins"})
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	n, err := s.Shape(core.KindGift, core.PlatformYouTube, core.EventData{Username: "x", GiftType: "Super Chat", Amount: 500, Currency: "JPY"})
	require.NoError(t, err)
	assert.Contains(t, n.DisplayMessage, "500 JPY")

	n, err = s.Shape(core.KindGift, core.PlatformTwitch, core.EventData{Username: "x", Amount: 0.5, Currency: "bits"})
	require.NoError(t, err)
	assert.Contains(t, n.DisplayMessage, "0.50 bits")

	n, err = s.Shape(core.KindGift, core.PlatformTikTok, core.EventData{UserID: "u", GiftType: "Rose", GiftCount: 1, Amount: 1})
	require.NoError(t, err)
	assert.Equal(t, "coins", n.Currency)

	_, err = s.Shape(core.KindGift, core.PlatformYouTube, core.EventData{Username: "x", Amount: 5})
	assert.ErrorIs(t, err, core.ErrInvalidAmount)
}

func TestTimestampsAndIDs(t *testing.T) {
	s, clock := newShaper(t)
	n, err := s.Shape(core.KindFollow, core.PlatformTwitch, core.EventData{Username: "a", Timestamp: "2023-11-14T22:13:19.000Z"})
	require.NoError(t, err)
	assert.Equal(t, "n-1", n.ID)
	assert.Equal(t, clock.NowMs(), n.ProcessedAt)
	assert.Equal(t, int64(1_699_999_999_000), n.CreatedAt)
	assert.Equal(t, "2023-11-14T22:13:19.000Z", n.Timestamp)

	n, err = s.Shape(core.KindFollow, core.PlatformTwitch, core.EventData{Username: "b", Timestamp: "2030-01-01T00:00:00.000Z"})
	require.NoError(t, err)
	assert.Equal(t, n.ProcessedAt, n.CreatedAt)

	n, err = s.Shape(core.KindFollow, core.PlatformTwitch, core.EventData{Username: "c"})
	require.NoError(t, err)
	assert.Equal(t, "n-3", n.ID)
	assert.Equal(t, core.ISOTime(clock.NowMs()), n.Timestamp)
	assert.LessOrEqual(t, n.CreatedAt, n.ProcessedAt)
}

func TestShapeRequiresUsername(t *testing.T) {
	s, _ := newShaper(t)
	_, err := s.Shape(core.KindFollow, core.PlatformTwitch, core.EventData{})
	assert.ErrorIs(t, err, core.ErrInvariant)

	n, err := s.Shape(core.KindFollow, core.PlatformTikTok, core.EventData{UserID: "u"})
	require.NoError(t, err)
	assert.Equal(t, "u", n.Username)

	missing := New(config.Static{}, nil, zerolog.Nop())
	_, err = missing.Shape(core.KindFollow, core.PlatformTwitch, core.EventData{Username: "a"})
	assert.ErrorIs(t, err, core.ErrConfigMissing)
}

func TestScrubberRules(t *testing.T) {
	sc := NewScrubber()
	clean := []string{"Zoë sent 5x Rose worth 5 coins", "Sub subscribed with Tier 2!", "I love this :)", "100% hype", "SELECTED winners"}
	for _, s := range clean {
		assert.Empty(t, sc.Check(s), s)
	}
	dirty := map[string]string{
		`{"user":"x"}`:            "json",
		"[WARN] disk":             "debug_marker",
		"node_modules/foo":        "file_path",
		"TypeError: x":            "technical_token",
		"UPDATE users":            "sql",
		"hi {username}":           "placeholder",
		"127.0.0.1 ok":            "endpoint",
		"API_KEY=123":             "config_reference",
		"at Object.<anon> (a.js:": "stack_trace",
	}
	for s, rule := range dirty {
		assert.Equal(t, rule, sc.Check(s), s)
	}
	assert.Equal(t, "10", FormatAmount(10))
	assert.Equal(t, "10.25", FormatAmount(10.25))
}
