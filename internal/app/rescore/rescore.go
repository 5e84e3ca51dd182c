// Package rescore recomputes every passport of a set of communities in
// bounded batches.
package rescore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/stampscore/stampscore/internal/app/passport"
	"github.com/stampscore/stampscore/internal/domain"
	"github.com/stampscore/stampscore/internal/infra/logger"
	"github.com/stampscore/stampscore/internal/infra/observability"
)

// Config tunes batch rescoring.
type Config struct {
	BatchSize      int
	Workers        int
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:      200,
		Workers:        4,
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// Scorer recomputes one passport from its stored stamps.
type Scorer interface {
	Rescore(ctx context.Context, communityID int64, address string) (passport.Report, error)
}

// Lister pages through a community's passports.
type Lister interface {
	ListPassports(ctx context.Context, communityID, afterID int64, limit int) ([]domain.Score, error)
}

// Failure is one passport that could not be rescored.
type Failure struct {
	CommunityID int64  `json:"community_id"`
	Address     string `json:"address"`
	Error       string `json:"error"`
	Kind        string `json:"kind"`
}

// Summary counts the outcome of a run.
type Summary struct {
	Communities int       `json:"communities"`
	Scored      int       `json:"scored"`
	Failed      int       `json:"failed"`
	Retries     int       `json:"retries"`
	Failures    []Failure `json:"failures,omitempty"`
}

// Rescorer drives batch recomputation.
type Rescorer struct {
	cfg    Config
	scorer Scorer
	lister Lister
	log    *logger.Logger
}

// run carries the mutable state of one Rescore call.
type run struct {
	*Rescorer
	mu      sync.Mutex
	summary Summary
}

// New creates a Rescorer. Zero config fields fall back to DefaultConfig.
func New(cfg Config, scorer Scorer, lister Lister, log *logger.Logger) *Rescorer {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	return &Rescorer{cfg: cfg, scorer: scorer, lister: lister, log: log.With("component", "rescore")}
}

// Rescore recomputes every passport of the given communities. A passport
// that fails after its retries is recorded in the summary and does not stop
// the run. Only cancellation of ctx ends the run early.
func (rs *Rescorer) Rescore(ctx context.Context, communityIDs []int64) (Summary, error) {
	r := &run{Rescorer: rs}
	for _, cid := range communityIDs {
		if err := ctx.Err(); err != nil {
			return r.snapshot(), err
		}
		if err := r.community(ctx, cid); err != nil {
			return r.snapshot(), err
		}
		r.mu.Lock()
		r.summary.Communities++
		r.mu.Unlock()
	}
	s := r.snapshot()
	r.log.Info("rescore finished",
		"communities", s.Communities, "scored", s.Scored, "failed", s.Failed, "retries", s.Retries)
	return s, nil
}

func (r *run) community(ctx context.Context, communityID int64) error {
	var afterID int64
	for {
		var page []domain.Score
		err := r.retry(ctx, func() error {
			var err error
			page, err = r.lister.ListPassports(ctx, communityID, afterID, r.cfg.BatchSize)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Error("list passports failed", "community", communityID, "after", afterID, "error", err)
			r.record(Failure{CommunityID: communityID, Error: err.Error(), Kind: domain.ErrorKind(err)})
			return nil
		}
		if len(page) == 0 {
			return nil
		}

		r.batch(ctx, communityID, page)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		afterID = page[len(page)-1].ID
		if len(page) < r.cfg.BatchSize {
			return nil
		}
	}
}

// batch rescores one page with at most Workers passports in flight.
func (r *run) batch(ctx context.Context, communityID int64, page []domain.Score) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, row := range page {
		address := row.Address
		g.Go(func() error {
			err := r.retry(gctx, func() error {
				_, err := r.scorer.Rescore(gctx, communityID, address)
				return err
			})
			if err != nil {
				observability.RescoreAttempts.WithLabelValues("failed").Inc()
				r.log.Warn("passport rescore failed",
					"community", communityID, "address", address, "kind", domain.ErrorKind(err), "error", err)
				r.record(Failure{CommunityID: communityID, Address: address, Error: err.Error(), Kind: domain.ErrorKind(err)})
				return nil
			}
			observability.RescoreAttempts.WithLabelValues("scored").Inc()
			r.mu.Lock()
			r.summary.Scored++
			r.mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

// retry runs op with exponential backoff. Only retryable errors are retried.
func (r *run) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialBackoff
	b.MaxInterval = r.cfg.MaxBackoff
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.cfg.MaxRetries)), ctx)
	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !domain.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		observability.RescoreRetries.Inc()
		r.mu.Lock()
		r.summary.Retries++
		r.mu.Unlock()
		r.log.Debug("retrying", "wait", wait, "error", err)
	})
}

func (r *run) record(f Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Failed++
	r.summary.Failures = append(r.summary.Failures, f)
}

func (r *run) snapshot() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.summary
	s.Failures = append([]Failure(nil), r.summary.Failures...)
	return s
}

// String renders a one-line summary.
func (s Summary) String() string {
	return fmt.Sprintf("communities=%d scored=%d failed=%d retries=%d", s.Communities, s.Scored, s.Failed, s.Retries)
}
