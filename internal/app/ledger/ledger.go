// Package ledger owns the live score row of each passport and the
// append-only audit log around it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stampscore/stampscore/internal/domain"
	"github.com/stampscore/stampscore/internal/infra/logger"
	"github.com/stampscore/stampscore/internal/infra/observability"
)

// Store is the persistence the ledger writes through.
type Store interface {
	domain.ScoreStore
	domain.EventStore
}

// Ledger records score transitions and audit events.
type Ledger struct {
	store Store
	log   *logger.Logger
}

// New creates a Ledger.
func New(store Store, log *logger.Logger) *Ledger {
	return &Ledger{store: store, log: log.With("component", "ledger")}
}

// ─── Score row ──────────────────────────────────────────────────────────────

// Begin moves the passport into a non-terminal status and returns the row
// whose Version must be handed back to Persist or Fail.
func (l *Ledger) Begin(ctx context.Context, communityID int64, address string, status domain.ScoreStatus, at time.Time) (domain.Score, error) {
	if status.Terminal() {
		return domain.Score{}, fmt.Errorf("begin with terminal status %s", status)
	}
	return l.store.BeginScore(ctx, communityID, address, status, at)
}

// Persist writes result as DONE, provided no newer computation has begun.
func (l *Ledger) Persist(ctx context.Context, row domain.Score, result domain.ScoreResult, at time.Time) (domain.Score, error) {
	expected := row.Version
	row.ApplyResult(result, at)
	row.UpdatedAt = at
	saved, err := l.store.SaveScore(ctx, row, expected)
	if err != nil {
		return row, err
	}
	observability.ScoresComputed.WithLabelValues(string(domain.StatusDone)).Inc()
	return saved, nil
}

// Fail writes ERROR with cause as the message and clears every derived field.
// When a newer computation has begun, nothing is written and the live row is
// returned together with ErrStaleWrite.
func (l *Ledger) Fail(ctx context.Context, row domain.Score, cause error, at time.Time) (domain.Score, error) {
	expected := row.Version
	failed := row
	failed.ApplyError(cause.Error(), at)
	failed.UpdatedAt = at
	saved, err := l.store.SaveScore(ctx, failed, expected)
	if errors.Is(err, domain.ErrStaleWrite) {
		l.log.Debug("error transition superseded",
			"community", row.CommunityID, "address", row.Address, "version", expected)
		live, gerr := l.store.GetScore(ctx, row.CommunityID, row.Address)
		if gerr != nil {
			return row, errors.Join(err, gerr)
		}
		return live, err
	}
	if err != nil {
		return failed, err
	}
	observability.ScoresComputed.WithLabelValues(string(domain.StatusError)).Inc()
	observability.ScoreFailures.WithLabelValues(domain.ErrorKind(cause)).Inc()
	return saved, nil
}

// Current returns the live row.
func (l *Ledger) Current(ctx context.Context, communityID int64, address string) (domain.Score, error) {
	return l.store.GetScore(ctx, communityID, address)
}

// ─── Audit log ──────────────────────────────────────────────────────────────

// RecordScoreUpdate appends a SCORE_UPDATE event holding a snapshot of s.
// Called after the DONE row is committed.
func (l *Ledger) RecordScoreUpdate(ctx context.Context, s domain.Score) (domain.Event, error) {
	if s.Status != domain.StatusDone {
		return domain.Event{}, fmt.Errorf("score update for %s row", s.Status)
	}
	at := s.UpdatedAt
	if s.LastScoreTimestamp != nil {
		at = *s.LastScoreTimestamp
	}
	ev, err := domain.NewEvent(domain.EventScoreUpdate, s.CommunityID, s.Address, s, at)
	if err != nil {
		return ev, err
	}
	if err := l.store.AppendEvents(ctx, ev); err != nil {
		return ev, err
	}
	return ev, nil
}

// Append writes events to the audit log.
func (l *Ledger) Append(ctx context.Context, events ...domain.Event) error {
	return l.store.AppendEvents(ctx, events...)
}

// History lists a passport's events in [from, to]. Zero bounds are open.
func (l *Ledger) History(ctx context.Context, communityID int64, address string, from, to time.Time) ([]domain.Event, error) {
	return l.store.ListEvents(ctx, communityID, address, from, to)
}

// ScoreAt returns the score snapshot in force at t: the newest SCORE_UPDATE
// recorded at or before t. The event digest is checked before decoding.
func (l *Ledger) ScoreAt(ctx context.Context, communityID int64, address string, t time.Time) (domain.Score, error) {
	ev, err := l.store.LatestEvent(ctx, communityID, address, domain.EventScoreUpdate, t)
	if err != nil {
		return domain.Score{}, err
	}
	if err := ev.Verify(); err != nil {
		return domain.Score{}, err
	}
	s, err := ev.ScoreSnapshot()
	if err != nil {
		return domain.Score{}, fmt.Errorf("decode snapshot %s: %w", ev.ID, err)
	}
	return s, nil
}

// Verify checks the digest of every event and returns the first mismatch.
func Verify(events []domain.Event) error {
	for _, e := range events {
		if err := e.Verify(); err != nil {
			return err
		}
	}
	return nil
}
