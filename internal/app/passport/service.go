// Package passport runs the scoring pipeline for one (community, address)
// pair: validate → filter → dedup → score → persist → audit.
package passport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/stampscore/stampscore/internal/app/dedup"
	"github.com/stampscore/stampscore/internal/app/filter"
	"github.com/stampscore/stampscore/internal/app/ledger"
	"github.com/stampscore/stampscore/internal/app/scoring"
	"github.com/stampscore/stampscore/internal/domain"
	"github.com/stampscore/stampscore/internal/infra/lease"
	"github.com/stampscore/stampscore/internal/infra/logger"
	"github.com/stampscore/stampscore/internal/infra/observability"
)

// Store is the persistence the service reads configuration and stamps from.
type Store interface {
	domain.CommunityStore
	domain.StampStore
}

// Submission is one scoring request.
type Submission struct {
	CommunityID int64
	Address     string
	Stamps      []domain.Stamp
	// Bulk marks the row BULK_PROCESSING instead of PROCESSING.
	Bulk bool
	// Recheck scores stamps that were already submitted: they are not
	// stored again and fingerprints held by other addresses are not taken.
	Recheck bool
}

// Service orchestrates the pipeline.
type Service struct {
	store    Store
	filter   *filter.Filter
	resolver *dedup.Resolver
	ledger   *ledger.Ledger
	locks    lease.Locker
	log      *logger.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service. locks serializes computations of the same passport.
func New(store Store, f *filter.Filter, r *dedup.Resolver, l *ledger.Ledger, locks lease.Locker, log *logger.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		filter:   f,
		resolver: r,
		ledger:   l,
		locks:    locks,
		log:      log.With("component", "passport"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ─── Operations ─────────────────────────────────────────────────────────────

// Score runs the full pipeline for sub. Community and scorer errors are
// returned before the score row is touched. Any later failure moves the row
// to ERROR and is returned together with the ERROR report, unless a newer
// computation has begun, in which case the live row is reported instead.
func (s *Service) Score(ctx context.Context, sub Submission) (Report, error) {
	sub.Address = domain.NormalizeAddress(sub.Address)
	mode := "request"
	if sub.Bulk {
		mode = "bulk"
	}
	start := time.Now()
	defer observability.ObserveSince(observability.PipelineLatency.WithLabelValues(mode), start)

	ctx, span := observability.StartSpan(ctx, "passport.score",
		attribute.Int64("community", sub.CommunityID),
		attribute.String("address", sub.Address),
		attribute.Int("stamps", len(sub.Stamps)),
		attribute.Bool("bulk", sub.Bulk),
	)
	report, err := s.score(ctx, sub)
	observability.EndSpan(span, err)
	return report, err
}

// Rescore recomputes a passport from its stored stamps as a bulk job.
func (s *Service) Rescore(ctx context.Context, communityID int64, address string) (Report, error) {
	stamps, err := s.store.StampsFor(ctx, address)
	if err != nil {
		return Report{}, err
	}
	return s.Score(ctx, Submission{
		CommunityID: communityID,
		Address:     address,
		Stamps:      stamps,
		Bulk:        true,
		Recheck:     true,
	})
}

// Report renders the stored row without recomputing.
func (s *Service) Report(ctx context.Context, communityID int64, address string) (Report, error) {
	row, err := s.ledger.Current(ctx, communityID, address)
	if err != nil {
		return Report{}, err
	}
	return NewReport(row, nil), nil
}

// History lists the passport's audit events in [from, to].
func (s *Service) History(ctx context.Context, communityID int64, address string, from, to time.Time) ([]domain.Event, error) {
	return s.ledger.History(ctx, communityID, address, from, to)
}

// ScoreAt renders the score snapshot that was in force at t.
func (s *Service) ScoreAt(ctx context.Context, communityID int64, address string, t time.Time) (Report, error) {
	row, err := s.ledger.ScoreAt(ctx, communityID, address, t)
	if err != nil {
		return Report{}, err
	}
	return NewReport(row, nil), nil
}

// ─── Pipeline ───────────────────────────────────────────────────────────────

func (s *Service) score(ctx context.Context, sub Submission) (Report, error) {
	community, err := s.store.GetCommunity(ctx, sub.CommunityID)
	if err != nil {
		return Report{}, err
	}
	cfg, err := s.store.GetScorer(ctx, community.ScorerID)
	if err != nil {
		return Report{}, err
	}
	scorer, err := scoring.FromConfig(cfg)
	if err != nil {
		s.log.Error("community has an unusable scorer", "community", community.ID, "error", err)
		return Report{}, err
	}

	key := fmt.Sprintf("passport/%d/%s", community.ID, sub.Address)
	waited := time.Now()
	release, err := s.locks.Acquire(ctx, key)
	observability.ObserveSince(observability.LeaseWait.WithLabelValues("passport"), waited)
	if err != nil {
		return Report{}, fmt.Errorf("passport lock: %w", err)
	}
	defer release()

	status := domain.StatusProcessing
	if sub.Bulk {
		status = domain.StatusBulkProcessing
	}
	row, err := s.ledger.Begin(ctx, community.ID, sub.Address, status, s.now())
	if err != nil {
		return Report{}, err
	}

	result, err := s.compute(ctx, community, scorer, sub)
	if err != nil {
		return s.fail(ctx, row, err)
	}

	saved, err := s.ledger.Persist(ctx, row, result, s.now())
	if errors.Is(err, domain.ErrStaleWrite) {
		return NewReport(row, result.Diagnostics), err
	}
	if err != nil {
		return s.fail(ctx, row, err)
	}
	report := NewReport(saved, result.Diagnostics)
	if _, err := s.ledger.RecordScoreUpdate(ctx, saved); err != nil {
		s.log.Passport(saved.CommunityID, saved.Address).Error("score update event not recorded", "error", err)
		return report, fmt.Errorf("record score update: %w", err)
	}

	s.log.Passport(saved.CommunityID, saved.Address).Debug("passport scored",
		"score", report.Score, "status", saved.Status)
	return report, nil
}

func (s *Service) fail(ctx context.Context, row domain.Score, cause error) (Report, error) {
	log := s.log.Passport(row.CommunityID, row.Address)
	failed, err := s.ledger.Fail(ctx, row, cause, s.now())
	if errors.Is(err, domain.ErrStaleWrite) {
		log.Debug("failure superseded by newer computation", "error", cause)
		return NewReport(failed, nil), errors.Join(cause, err)
	}
	if err != nil {
		log.Error("error transition not written", "cause", cause, "error", err)
		return NewReport(failed, nil), errors.Join(cause, err)
	}
	log.Warn("passport scoring failed", "kind", domain.ErrorKind(cause), "error", cause)
	return NewReport(failed, nil), cause
}

// compute runs the validate/filter/dedup/score steps and returns the result
// with one diagnostic per submitted stamp.
func (s *Service) compute(ctx context.Context, community domain.Community, scorer scoring.Scorer, sub Submission) (domain.ScoreResult, error) {
	now := s.now()
	var diags []domain.StampDiagnostic

	valid := make([]domain.Stamp, 0, len(sub.Stamps))
	for _, st := range sub.Stamps {
		if err := st.Validate(sub.Address, now); err != nil {
			diags = append(diags, domain.StampDiagnostic{
				Provider:    st.Provider,
				Fingerprint: st.Fingerprint,
				Outcome:     domain.OutcomeInvalid,
				Detail:      err.Error(),
			})
			continue
		}
		st.Address = sub.Address
		valid = append(valid, st)
	}

	if !sub.Recheck {
		if err := s.store.ReplaceStamps(ctx, sub.Address, valid); err != nil {
			return domain.ScoreResult{}, err
		}
	}

	candidates := make([]filter.Candidate, len(valid))
	for i, st := range valid {
		candidates[i] = candidateOf(st)
	}
	excluded, err := s.filter.Check(ctx, sub.Address, candidates, now)
	if err != nil {
		return domain.ScoreResult{}, err
	}

	survivors := valid[:0:0]
	for _, st := range valid {
		if ex, ok := excluded[candidateOf(st)]; ok {
			diags = append(diags, domain.StampDiagnostic{
				Provider:    st.Provider,
				Fingerprint: st.Fingerprint,
				Outcome:     ex.Outcome(),
				Detail:      ex.Detail(),
			})
			continue
		}
		survivors = append(survivors, st)
	}

	claims := make([]dedup.Claim, len(survivors))
	for i, st := range survivors {
		claims[i] = dedup.Claim{Fingerprint: st.Fingerprint, Provider: st.Provider, ExpiresAt: st.ExpirationTime}
	}
	res, err := s.resolver.Resolve(ctx, dedup.Request{
		CommunityID: community.ID,
		Address:     sub.Address,
		Scope:       community.Scope(),
		Policy:      community.DedupPolicy,
		Claims:      claims,
		Now:         now,
		Recheck:     sub.Recheck,
	})
	if err != nil {
		return domain.ScoreResult{}, err
	}

	var credited, lost []domain.Stamp
	for _, st := range survivors {
		if res.Credited[st.Fingerprint] {
			credited = append(credited, st)
			continue
		}
		lost = append(lost, st)
		diags = append(diags, domain.StampDiagnostic{
			Provider:    st.Provider,
			Fingerprint: st.Fingerprint,
			Outcome:     domain.OutcomeDedupLost,
			Dedup:       true,
			Detail:      "held by " + res.Lost[st.Fingerprint],
		})
	}

	result := scorer.Score(credited)
	for _, st := range lost {
		if _, counted := result.StampScores[st.Provider]; counted {
			continue
		}
		if _, known := scorer.Weight(st.Provider); !known {
			continue
		}
		exp := st.ExpirationTime.UTC()
		result.StampScores[st.Provider] = domain.StampScore{Dedup: true, ExpirationDate: &exp}
	}

	result.Diagnostics = append(result.Diagnostics, diags...)
	sort.SliceStable(result.Diagnostics, func(i, j int) bool {
		a, b := result.Diagnostics[i], result.Diagnostics[j]
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		return a.Fingerprint < b.Fingerprint
	})
	for _, d := range result.Diagnostics {
		observability.StampOutcomes.WithLabelValues(string(d.Outcome)).Inc()
	}
	return result, nil
}

func candidateOf(st domain.Stamp) filter.Candidate {
	return filter.Candidate{Fingerprint: st.Fingerprint, Provider: st.Provider, ProofValue: st.ProofValue}
}
