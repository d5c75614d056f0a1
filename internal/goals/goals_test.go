package goals

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/gnasty-alerts/internal/core"
)

func openStore(t *testing.T) (*Store, *core.ManualClock) {
	t.Helper()
	clock := core.NewManualClock(1_700_000_000_000)
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "goals.db"), clock, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func TestStoreAccumulatesPerCurrency(t *testing.T) {
	s, clock := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.ProcessDonationGoal(ctx, core.Donation{Amount: 10, Currency: "USD", Username: "ChatHero", Platform: core.PlatformYouTube}))
	clock.Advance(time.Second)
	require.NoError(t, s.ProcessDonationGoal(ctx, core.Donation{Amount: 5.5, Currency: "USD", Username: "Ana", Platform: core.PlatformYouTube}))
	require.NoError(t, s.ProcessDonationGoal(ctx, core.Donation{Amount: 100, Currency: "coins", Username: "花子", Platform: core.PlatformTikTok}))

	usd, ok, err := s.Total(ctx, "USD")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 15.5, usd.Total, 1e-9)
	assert.Equal(t, int64(2), usd.Contributions)
	assert.Equal(t, core.ISOTime(clock.NowMs()), usd.UpdatedAt)

	totals, err := s.Totals(ctx)
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, "USD", totals[0].Currency)
	assert.Equal(t, "coins", totals[1].Currency)

	recent, err := s.Contributions(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "花子", recent[0].Username)
	assert.Equal(t, core.PlatformTikTok, recent[0].Platform)

	_, ok, err = s.Total(ctx, "EUR")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreRejectsInvalidDonations(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()
	assert.Error(t, s.ProcessDonationGoal(ctx, core.Donation{Amount: 0, Currency: "USD"}))
	assert.Error(t, s.ProcessDonationGoal(ctx, core.Donation{Amount: 3, Currency: " "}))

	totals, err := s.Totals(ctx)
	require.NoError(t, err)
	assert.Empty(t, totals)
}

func TestTargetsAndReset(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetTarget(ctx, "USD", 100))
	require.NoError(t, s.ProcessDonationGoal(ctx, core.Donation{Amount: 25, Currency: "USD", Username: "a", Platform: core.PlatformTwitch}))

	usd, _, err := s.Total(ctx, "USD")
	require.NoError(t, err)
	assert.Equal(t, 100.0, usd.Target)
	assert.InDelta(t, 0.25, usd.Progress(), 1e-9)

	require.NoError(t, s.Reset(ctx, "USD"))
	usd, _, err = s.Total(ctx, "USD")
	require.NoError(t, err)
	assert.Zero(t, usd.Total)
	assert.Equal(t, 100.0, usd.Target)
	recent, err := s.Contributions(ctx, "USD", 10)
	require.NoError(t, err)
	assert.Empty(t, recent)

	assert.Zero(t, Total{Total: 5}.Progress())
	assert.Equal(t, 1.0, Total{Total: 500, Target: 100}.Progress())
}

func TestMigrateAddsTargetToVersionOneSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE goals (
  currency TEXT PRIMARY KEY,
  total REAL NOT NULL DEFAULT 0,
  contributions INTEGER NOT NULL DEFAULT 0,
  updated_at TEXT NOT NULL
);`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO goals (currency, total, contributions, updated_at) VALUES ('EUR', 12, 3, 'x');`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(context.Background(), path, core.NewManualClock(0), zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	eur, ok, err := s.Total(context.Background(), "EUR")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 12.0, eur.Total)
	assert.Zero(t, eur.Target)

	v, err := userVersion(context.Background(), s.db)
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, v)
	indexed, err := hasIndex(context.Background(), s.db, "contributions", "contributions_currency")
	require.NoError(t, err)
	assert.True(t, indexed)
}

type recordingRecorder struct {
	mu        sync.Mutex
	donations []core.Donation
	failAfter int
	calls     int
}

func (r *recordingRecorder) ProcessDonationGoal(_ context.Context, d core.Donation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failAfter > 0 && r.calls >= r.failAfter {
		return fmt.Errorf("boom")
	}
	r.donations = append(r.donations, d)
	return nil
}

func (r *recordingRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.donations)
}

func TestStoreRecordBatchIsAllOrNothing(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordBatch(ctx, []core.Donation{
		{Amount: 1, Currency: "coins", Username: "a", Platform: core.PlatformTikTok},
		{Amount: 4, Currency: "coins", Username: "b", Platform: core.PlatformTikTok},
	}))
	coins, ok, err := s.Total(ctx, "coins")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 5, coins.Total, 1e-9)
	assert.Equal(t, int64(2), coins.Contributions)

	err = s.RecordBatch(ctx, []core.Donation{
		{Amount: 3, Currency: "coins", Username: "c"},
		{Amount: 0, Currency: "coins", Username: "d"},
	})
	assert.ErrorIs(t, err, core.ErrInvalidAmount)
	coins, _, err = s.Total(ctx, "coins")
	require.NoError(t, err)
	assert.Equal(t, int64(2), coins.Contributions)
}

func TestBufferedWritesBatchesThroughStore(t *testing.T) {
	s, _ := openStore(t)
	b := NewBuffered(s, BufferedOptions{BatchSize: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, b.ProcessDonationGoal(ctx, core.Donation{Amount: 1, Currency: "coins", Username: "rosefan", Platform: core.PlatformTikTok}))
	}
	assert.Zero(t, b.Pending())
	require.NoError(t, b.ProcessDonationGoal(ctx, core.Donation{Amount: 10, Currency: "USD", Username: "ChatHero"}))
	assert.Equal(t, 1, b.Pending())
	require.NoError(t, b.Close())

	totals, err := s.Totals(ctx)
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.InDelta(t, 10, totals[0].Total, 1e-9)
	assert.InDelta(t, 3, totals[1].Total, 1e-9)
}

func TestBufferedRejectsInvalidDonationUpFront(t *testing.T) {
	base := &recordingRecorder{}
	b := NewBuffered(base, BufferedOptions{BatchSize: 2})
	defer b.Close()

	err := b.ProcessDonationGoal(context.Background(), core.Donation{Amount: 5})
	assert.ErrorIs(t, err, core.ErrInvalidAmount)
	assert.Zero(t, b.Pending())
}

func TestBufferedKeepsUnwrittenDonationsAfterFailure(t *testing.T) {
	base := &recordingRecorder{failAfter: 2}
	b := NewBuffered(base, BufferedOptions{BatchSize: 3})
	ctx := context.Background()

	require.NoError(t, b.ProcessDonationGoal(ctx, core.Donation{Amount: 1, Currency: "USD"}))
	require.NoError(t, b.ProcessDonationGoal(ctx, core.Donation{Amount: 2, Currency: "USD"}))
	err := b.ProcessDonationGoal(ctx, core.Donation{Amount: 3, Currency: "USD"})
	assert.ErrorIs(t, err, core.ErrSinkFailure)
	assert.Equal(t, 1, base.Count())
	assert.Equal(t, 2, b.Pending())

	base.mu.Lock()
	base.failAfter = 0
	base.mu.Unlock()
	require.NoError(t, b.Close())
	require.Equal(t, 3, base.Count())
	assert.Equal(t, []float64{1, 2, 3}, []float64{base.donations[0].Amount, base.donations[1].Amount, base.donations[2].Amount})
}

func TestBufferedBatchFlush(t *testing.T) {
	base := &recordingRecorder{}
	b := NewBuffered(base, BufferedOptions{BatchSize: 2, FlushInterval: time.Hour})
	defer func() { require.NoError(t, b.Close()) }()
	ctx := context.Background()

	require.NoError(t, b.ProcessDonationGoal(ctx, core.Donation{Amount: 1, Currency: "USD"}))
	assert.Zero(t, base.Count())
	assert.Equal(t, 1, b.Pending())
	require.NoError(t, b.ProcessDonationGoal(ctx, core.Donation{Amount: 2, Currency: "USD"}))
	assert.Equal(t, 2, base.Count())
}

func TestBufferedFlushInterval(t *testing.T) {
	base := &recordingRecorder{}
	b := NewBuffered(base, BufferedOptions{BatchSize: 10, FlushInterval: 20 * time.Millisecond})
	defer b.Close()

	require.NoError(t, b.ProcessDonationGoal(context.Background(), core.Donation{Amount: 1, Currency: "USD"}))
	require.Eventually(t, func() bool { return base.Count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestBufferedCloseFlushesAndRejects(t *testing.T) {
	base := &recordingRecorder{}
	b := NewBuffered(base, BufferedOptions{BatchSize: 10})
	ctx := context.Background()

	require.NoError(t, b.ProcessDonationGoal(ctx, core.Donation{Amount: 1, Currency: "USD"}))
	require.NoError(t, b.Close())
	assert.Equal(t, 1, base.Count())
	assert.ErrorIs(t, b.ProcessDonationGoal(ctx, core.Donation{Amount: 1, Currency: "USD"}), ErrClosed)
	assert.NoError(t, b.Close())
}

func TestBufferedSurfacesTimerError(t *testing.T) {
	base := &recordingRecorder{failAfter: 1}
	b := NewBuffered(base, BufferedOptions{BatchSize: 10, FlushInterval: 10 * time.Millisecond})
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.ProcessDonationGoal(ctx, core.Donation{Amount: 1, Currency: "USD"}))
	require.Eventually(t, func() bool {
		base.mu.Lock()
		defer base.mu.Unlock()
		return base.calls == 1
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.failure != nil
	}, time.Second, 5*time.Millisecond)
	assert.Error(t, b.ProcessDonationGoal(ctx, core.Donation{Amount: 1, Currency: "USD"}))
}
