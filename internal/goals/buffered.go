package goals

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/you/gnasty-alerts/internal/core"
)

// Recorder accounts one donation.
type Recorder interface {
	ProcessDonationGoal(ctx context.Context, d core.Donation) error
}

// BatchRecorder accounts several donations at once. Store implements it with
// a single transaction.
type BatchRecorder interface {
	RecordBatch(ctx context.Context, ds []core.Donation) error
}

// ErrClosed is returned for donations that arrive after Close.
var ErrClosed = errors.New("goals: recorder closed")

type BufferedOptions struct {
	// BatchSize donations are written together. Values below 1 mean 1.
	BatchSize int
	// FlushInterval bounds how long a donation waits for a full batch. Zero
	// waits for the batch to fill or for Close.
	FlushInterval time.Duration
}

// Buffered holds donations for the goal store and writes them in batches. With
// a BatchRecorder each batch is one call.
//
// A batch that fails to write stays pending and is retried with the next one.
// The failure is returned by the next ProcessDonationGoal or Close call.
type Buffered struct {
	base  Recorder
	batch BatchRecorder
	size  int
	every time.Duration

	mu      sync.Mutex
	pending []core.Donation
	timer   *time.Timer
	closed  bool
	failure error
}

func NewBuffered(base Recorder, opts BufferedOptions) *Buffered {
	b := &Buffered{
		base:  base,
		size:  max(opts.BatchSize, 1),
		every: opts.FlushInterval,
	}
	if br, ok := base.(BatchRecorder); ok {
		b.batch = br
	}
	return b
}

// ProcessDonationGoal queues d. It writes the pending batch once it is full.
func (b *Buffered) ProcessDonationGoal(ctx context.Context, d core.Donation) error {
	if err := checkDonation(d); err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	earlier := b.takeFailureLocked()
	b.pending = append(b.pending, d)
	if len(b.pending) < b.size {
		b.armLocked()
		b.mu.Unlock()
		return earlier
	}
	ds := b.drainLocked()
	b.mu.Unlock()

	if err := b.write(ctx, ds); err != nil {
		return err
	}
	return earlier
}

// Pending reports how many donations are waiting to be written.
func (b *Buffered) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close writes what is pending and rejects later donations. Calling it again
// does nothing.
func (b *Buffered) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	earlier := b.takeFailureLocked()
	ds := b.drainLocked()
	b.mu.Unlock()

	if len(ds) > 0 {
		if err := b.write(context.Background(), ds); err != nil {
			return err
		}
	}
	return earlier
}

func (b *Buffered) flushDue() {
	b.mu.Lock()
	b.timer = nil
	if b.closed || len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	ds := b.drainLocked()
	b.mu.Unlock()

	if err := b.write(context.Background(), ds); err != nil {
		b.mu.Lock()
		b.failure = err
		b.mu.Unlock()
	}
}

// write stores ds. Donations that were not stored go back to the front of the
// pending list unless the recorder was closed meanwhile.
func (b *Buffered) write(ctx context.Context, ds []core.Donation) error {
	left, err := b.store(ctx, ds)
	if err == nil {
		return nil
	}
	err = errors.Wrapf(core.ErrSinkFailure, "goals: write %d donation(s): %v", len(left), err)

	b.mu.Lock()
	if !b.closed {
		b.pending = append(left, b.pending...)
	}
	b.mu.Unlock()
	return err
}

// store returns the donations that are still unaccounted when it fails.
func (b *Buffered) store(ctx context.Context, ds []core.Donation) ([]core.Donation, error) {
	if b.batch != nil {
		if err := b.batch.RecordBatch(ctx, ds); err != nil {
			return ds, err
		}
		return nil, nil
	}
	for i, d := range ds {
		if err := b.base.ProcessDonationGoal(ctx, d); err != nil {
			return ds[i:], err
		}
	}
	return nil, nil
}

func (b *Buffered) drainLocked() []core.Donation {
	ds := b.pending
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	return ds
}

func (b *Buffered) armLocked() {
	if b.every <= 0 || b.timer != nil {
		return
	}
	b.timer = time.AfterFunc(b.every, b.flushDue)
}

func (b *Buffered) takeFailureLocked() error {
	err := b.failure
	b.failure = nil
	return err
}

// checkDonation rejects donations the store would refuse, so one bad entry
// cannot hold back a batch.
func checkDonation(d core.Donation) error {
	if strings.TrimSpace(d.Currency) == "" || d.Amount <= 0 || math.IsNaN(d.Amount) || math.IsInf(d.Amount, 0) {
		return errors.Wrapf(core.ErrInvalidAmount, "goals: donation %v %q", d.Amount, d.Currency)
	}
	return nil
}
