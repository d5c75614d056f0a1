// Package goals keeps donation-goal totals in SQLite.
package goals

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/you/gnasty-alerts/internal/core"
)

const defaultListLimit = 100

// Total is the running goal for one currency.
type Total struct {
	Currency      string  `json:"currency"`
	Total         float64 `json:"total"`
	Target        float64 `json:"target,omitempty"`
	Contributions int64   `json:"contributions"`
	UpdatedAt     string  `json:"updatedAt"`
}

// Progress returns Total/Target clamped to [0, 1], or 0 without a target.
func (t Total) Progress() float64 {
	if t.Target <= 0 {
		return 0
	}
	return math.Min(1, math.Max(0, t.Total/t.Target))
}

// Contribution is one accounted donation.
type Contribution struct {
	ID       int64         `json:"id"`
	Ts       string        `json:"ts"`
	Platform core.Platform `json:"platform"`
	Username string        `json:"username"`
	Currency string        `json:"currency"`
	Amount   float64       `json:"amount"`
}

// Store is a GoalsSink backed by SQLite.
type Store struct {
	db    *sql.DB
	clock core.Clock
	log   zerolog.Logger
}

func Open(ctx context.Context, path string, clock core.Clock, log zerolog.Logger) (*Store, error) {
	if clock == nil {
		clock = core.SystemClock
	}
	log = log.With().Str("comp", "goals").Logger()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// One connection keeps ":memory:" databases coherent and serialises writers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=wal;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set WAL")
	}
	if err := migrate(ctx, db, log); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	ApplyPragmas(ctx, db, log)
	return &Store{db: db, clock: clock, log: log}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) String() string {
	return fmt.Sprintf("goals.Store{%p}", s.db)
}

// ProcessDonationGoal records d as a contribution and adds it to the total
// for its currency.
func (s *Store) ProcessDonationGoal(ctx context.Context, d core.Donation) error {
	return s.RecordBatch(ctx, []core.Donation{d})
}

// RecordBatch records every donation in ds in one transaction. Either all of
// them are accounted or none.
func (s *Store) RecordBatch(ctx context.Context, ds []core.Donation) error {
	if len(ds) == 0 {
		return nil
	}
	for _, d := range ds {
		if err := checkDonation(d); err != nil {
			return err
		}
	}
	ts := core.ISOTime(s.clock.NowMs())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()

	for _, d := range ds {
		currency := strings.TrimSpace(d.Currency)
		if _, err := tx.ExecContext(ctx, `INSERT INTO contributions (ts, platform, username, currency, amount)
VALUES (?, ?, ?, ?, ?);`, ts, string(d.Platform), d.Username, currency, d.Amount); err != nil {
			return errors.Wrap(err, "insert contribution")
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO goals (currency, total, contributions, updated_at)
VALUES (?, ?, 1, ?)
ON CONFLICT(currency) DO UPDATE SET
  total = total + excluded.total,
  contributions = contributions + 1,
  updated_at = excluded.updated_at;`, currency, d.Amount, ts); err != nil {
			return errors.Wrap(err, "update goal")
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	s.log.Debug().Int("donations", len(ds)).Msg("goals: batch recorded")
	return nil
}

// SetTarget sets the goal target for a currency, creating the goal if needed.
func (s *Store) SetTarget(ctx context.Context, currency string, target float64) error {
	currency = strings.TrimSpace(currency)
	if currency == "" || target < 0 {
		return errors.Errorf("invalid target %v %q", target, currency)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO goals (currency, target, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(currency) DO UPDATE SET target = excluded.target, updated_at = excluded.updated_at;`,
		currency, target, core.ISOTime(s.clock.NowMs()))
	return errors.Wrap(err, "set target")
}

// Reset clears the total and contributions of one currency, keeping its target.
func (s *Store) Reset(ctx context.Context, currency string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM contributions WHERE currency = ?;`, currency); err != nil {
		return errors.Wrap(err, "delete contributions")
	}
	if _, err := tx.ExecContext(ctx, `UPDATE goals SET total = 0, contributions = 0, updated_at = ? WHERE currency = ?;`,
		core.ISOTime(s.clock.NowMs()), currency); err != nil {
		return errors.Wrap(err, "reset goal")
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// Total returns the goal for one currency.
func (s *Store) Total(ctx context.Context, currency string) (Total, bool, error) {
	var t Total
	err := s.db.QueryRowContext(ctx, `SELECT currency, total, target, contributions, updated_at
FROM goals WHERE currency = ?;`, currency).Scan(&t.Currency, &t.Total, &t.Target, &t.Contributions, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Total{}, false, nil
	}
	if err != nil {
		return Total{}, false, errors.Wrap(err, "get goal")
	}
	return t, true, nil
}

// Totals lists every goal ordered by currency.
func (s *Store) Totals(ctx context.Context) ([]Total, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT currency, total, target, contributions, updated_at
FROM goals ORDER BY currency ASC;`)
	if err != nil {
		return nil, errors.Wrap(err, "list goals")
	}
	defer rows.Close()

	var out []Total
	for rows.Next() {
		var t Total
		if err := rows.Scan(&t.Currency, &t.Total, &t.Target, &t.Contributions, &t.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan goal")
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate goals")
	}
	return out, nil
}

// Contributions lists the most recent contributions, newest first. An empty
// currency lists all of them.
func (s *Store) Contributions(ctx context.Context, currency string, limit int) ([]Contribution, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var (
		builder strings.Builder
		args    []any
	)
	builder.WriteString("SELECT id, ts, platform, username, currency, amount FROM contributions")
	if currency != "" {
		builder.WriteString(" WHERE currency = ?")
		args = append(args, currency)
	}
	builder.WriteString(" ORDER BY id DESC LIMIT ?;")
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, builder.String(), args...)
	if err != nil {
		return nil, errors.Wrap(err, "list contributions")
	}
	defer rows.Close()

	var out []Contribution
	for rows.Next() {
		var (
			c        Contribution
			platform string
		)
		if err := rows.Scan(&c.ID, &c.Ts, &platform, &c.Username, &c.Currency, &c.Amount); err != nil {
			return nil, errors.Wrap(err, "scan contribution")
		}
		c.Platform = core.Platform(platform)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate contributions")
	}
	return out, nil
}
