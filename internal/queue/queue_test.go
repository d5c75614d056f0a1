package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/gnasty-alerts/internal/config"
	"github.com/you/gnasty-alerts/internal/core"
)

func item(id string, kind core.Kind, enqueuedAt int64) core.QueueItem {
	p, _ := core.PriorityFor(kind)
	n := &core.Notification{
		ID:             id,
		Type:           core.TypeFor(kind),
		Kind:           kind,
		Platform:       core.PlatformTwitch,
		Username:       "user",
		DisplayMessage: "user did a thing",
		TTSMessage:     "user did a thing",
		LogMessage:     "thing user=user",
		Priority:       p,
		Duration:       10,
		ProcessedAt:    enqueuedAt,
		CreatedAt:      enqueuedAt,
		Timestamp:      core.ISOTime(enqueuedAt),
		ViewerCount:    1,
	}
	return core.NewQueueItem(n, enqueuedAt)
}

func TestPopOrder(t *testing.T) {
	q := NewDisplayQueue(0)
	require.NoError(t, q.AddItem(item("chat-1", core.KindChat, 1)))
	require.NoError(t, q.AddItem(item("gift-1", core.KindGift, 2)))
	require.NoError(t, q.AddItem(item("raid-1", core.KindRaid, 3)))
	require.NoError(t, q.AddItem(item("gift-2", core.KindGift, 2)))
	require.NoError(t, q.AddItem(item("gift-0", core.KindGift, 1)))
	require.NoError(t, q.AddItem(item("env-1", core.KindEnvelope, 9)))

	snap := q.Snapshot()
	var want []string
	for _, it := range snap {
		want = append(want, it.ID)
	}
	assert.Equal(t, []string{"env-1", "raid-1", "gift-0", "gift-1", "gift-2", "chat-1"}, want)

	var got []string
	for {
		it, ok := q.PopNext()
		if !ok {
			break
		}
		got = append(got, it.ID)
	}
	assert.Equal(t, want, got)
	assert.Zero(t, q.Len())
}

func TestAddItemRejectsInvalid(t *testing.T) {
	q := NewDisplayQueue(0)
	bad := item("x", core.KindChat, 1)
	bad.Data.DisplayMessage = ""
	assert.ErrorIs(t, q.AddItem(bad), core.ErrInvariant)

	mismatch := item("y", core.KindChat, 1)
	mismatch.ID = "other"
	assert.ErrorIs(t, q.AddItem(mismatch), core.ErrInvariant)
	assert.Zero(t, q.Len())
}

func TestCapacity(t *testing.T) {
	q := NewDisplayQueue(2)
	var depths []int
	q.OnDepth(func(d int) { depths = append(depths, d) })

	require.NoError(t, q.AddItem(item("a", core.KindChat, 1)))
	require.NoError(t, q.AddItem(item("b", core.KindChat, 2)))
	err := q.AddItem(item("c", core.KindChat, 3))
	assert.ErrorIs(t, err, core.ErrQueueFull)
	assert.Equal(t, "sinkFailure", core.ReasonOf(err))

	_, ok := q.PopNext()
	require.True(t, ok)
	assert.Equal(t, []int{1, 2, 1}, depths)
}

func TestConcurrentAddsAreSerialised(t *testing.T) {
	q := NewDisplayQueue(0)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			kinds := []core.Kind{core.KindChat, core.KindGift, core.KindRaid}
			assert.NoError(t, q.AddItem(item(fmt.Sprintf("i-%d", i), kinds[i%3], int64(i))))
		}(i)
	}
	wg.Wait()
	require.Equal(t, 100, q.Len())

	last := 100
	for {
		it, ok := q.PopNext()
		if !ok {
			break
		}
		assert.LessOrEqual(t, it.Priority, last)
		last = it.Priority
	}
}

func suppressorFor(t *testing.T, mutate func(*config.View)) (*Suppressor, *core.ManualClock) {
	t.Helper()
	v := config.Default()
	if mutate != nil {
		mutate(v)
	}
	clock := core.NewManualClock(0)
	return NewSuppressor(config.Static{V: v}, clock, zerolog.Nop()), clock
}

func TestSuppressorLimitAndCooldown(t *testing.T) {
	s, clock := suppressorFor(t, func(v *config.View) {
		v.General.MaxNotificationsPerUser = 2
		v.General.SuppressionWindowMs = 10_000
		v.General.SuppressionDurationMs = 30_000
	})

	assert.True(t, s.Allow("T:1"))
	assert.True(t, s.Allow("T:1"))
	assert.False(t, s.Allow("T:1"))
	until, ok := s.SuppressedUntil("T:1")
	require.True(t, ok)
	assert.Equal(t, int64(30_000), until)

	assert.True(t, s.Allow("T:2"))

	clock.Advance(20 * time.Second)
	assert.False(t, s.Allow("T:1"), "still cooling down")

	clock.Advance(10 * time.Second)
	assert.True(t, s.Allow("T:1"))
}

func TestSuppressorCheckDoesNotRecord(t *testing.T) {
	s, _ := suppressorFor(t, func(v *config.View) {
		v.General.MaxNotificationsPerUser = 1
	})

	for i := 0; i < 3; i++ {
		assert.True(t, s.Check("S:1"))
	}
	assert.Zero(t, s.Users())

	s.Record("S:1")
	assert.False(t, s.Check("S:1"))
	_, ok := s.SuppressedUntil("S:1")
	assert.True(t, ok)
}

func TestSuppressorSlidingWindow(t *testing.T) {
	s, clock := suppressorFor(t, func(v *config.View) {
		v.General.MaxNotificationsPerUser = 2
		v.General.SuppressionWindowMs = 1_000
	})
	assert.True(t, s.Allow("u"))
	clock.Advance(600 * time.Millisecond)
	assert.True(t, s.Allow("u"))
	clock.Advance(600 * time.Millisecond)
	assert.True(t, s.Allow("u"), "first admission left the window")
}

func TestSuppressorDisabled(t *testing.T) {
	s, _ := suppressorFor(t, func(v *config.View) {
		v.General.UserSuppressionEnabled = false
		v.General.MaxNotificationsPerUser = 1
	})
	for i := 0; i < 5; i++ {
		assert.True(t, s.Allow("u"))
	}
}

func TestSuppressorSweep(t *testing.T) {
	s, clock := suppressorFor(t, func(v *config.View) {
		v.General.MaxNotificationsPerUser = 1
		v.General.SuppressionWindowMs = 1_000
		v.General.SuppressionDurationMs = 5_000
	})
	s.Allow("a")
	s.Allow("b")
	s.Allow("b")
	require.Equal(t, 2, s.Users())

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 1, s.Users())

	clock.Advance(5 * time.Second)
	assert.Equal(t, 1, s.Sweep())
	assert.Zero(t, s.Users())
}

type recordingSink struct {
	mu    sync.Mutex
	shown []string
	fail  map[string]bool
}

func (r *recordingSink) Show(_ context.Context, it core.QueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown = append(r.shown, it.ID)
	if r.fail[it.ID] {
		return fmt.Errorf("overlay down")
	}
	return nil
}

func (r *recordingSink) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.shown...)
}

func TestPumpDrainsInPriorityOrder(t *testing.T) {
	q := NewDisplayQueue(0)
	require.NoError(t, q.AddItem(item("chat", core.KindChat, 1)))
	require.NoError(t, q.AddItem(item("raid", core.KindRaid, 2)))
	require.NoError(t, q.AddItem(item("gift", core.KindGift, 3)))

	sink := &recordingSink{fail: map[string]bool{"gift": true}}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Pump(ctx, q, sink, zerolog.Nop()) }()

	require.Eventually(t, func() bool { return len(sink.ids()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"raid", "gift", "chat"}, sink.ids())

	require.NoError(t, q.AddItem(item("late", core.KindFollow, 4)))
	require.Eventually(t, func() bool { return len(sink.ids()) == 4 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
