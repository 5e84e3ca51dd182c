// Package scoring turns the credited stamps of a passport into a score.
//
// Scorers are pure: no clock, no I/O. The variant set is closed; FromConfig
// is the only way to build one from a stored scorer row.
package scoring

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stampscore/stampscore/internal/domain"
)

// Scorer computes a ScoreResult from credited stamps.
type Scorer interface {
	Score(stamps []domain.Stamp) domain.ScoreResult
	Type() domain.ScorerType
	Weight(provider string) (decimal.Decimal, bool)
	sealed()
}

// ─── Construction ───────────────────────────────────────────────────────────

// FromConfig builds the scorer variant named by cfg.Type. Any defect in the
// stored row is an ErrConfiguration.
func FromConfig(cfg domain.ScorerConfig) (Scorer, error) {
	weights, err := ParseWeights(cfg.Weights)
	if err != nil {
		return nil, fmt.Errorf("scorer %d: %w", cfg.ID, err)
	}
	switch cfg.Type {
	case domain.ScorerWeighted:
		return &Weighted{weights: weights}, nil
	case domain.ScorerWeightedBinary:
		if strings.TrimSpace(cfg.Threshold) == "" {
			return nil, fmt.Errorf("%w: scorer %d: binary scorer requires a threshold", domain.ErrConfiguration, cfg.ID)
		}
		threshold, err := decimal.NewFromString(strings.TrimSpace(cfg.Threshold))
		if err != nil {
			return nil, fmt.Errorf("%w: scorer %d: threshold %q: %w", domain.ErrConfiguration, cfg.ID, cfg.Threshold, err)
		}
		return &BinaryWeighted{Weighted: Weighted{weights: weights}, threshold: threshold}, nil
	default:
		return nil, fmt.Errorf("%w: scorer %d: unknown type %q", domain.ErrConfiguration, cfg.ID, cfg.Type)
	}
}

// ParseWeights parses a provider → decimal string map. Negative weights and
// empty provider ids are rejected.
func ParseWeights(raw map[string]string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(raw))
	for provider, w := range raw {
		if strings.TrimSpace(provider) == "" {
			return nil, fmt.Errorf("%w: empty provider id in weights", domain.ErrConfiguration)
		}
		d, err := decimal.NewFromString(strings.TrimSpace(w))
		if err != nil {
			return nil, fmt.Errorf("%w: weight for %s: %w", domain.ErrConfiguration, provider, err)
		}
		if d.IsNegative() {
			return nil, fmt.Errorf("%w: weight for %s is negative", domain.ErrConfiguration, provider)
		}
		out[provider] = d
	}
	return out, nil
}

// ─── Weighted ───────────────────────────────────────────────────────────────

// Weighted sums the weight of every distinct provider.
type Weighted struct {
	weights map[string]decimal.Decimal
}

// NewWeighted creates a Weighted scorer from parsed weights.
func NewWeighted(weights map[string]decimal.Decimal) *Weighted {
	return &Weighted{weights: weights}
}

func (*Weighted) sealed() {}

// Type implements Scorer.
func (*Weighted) Type() domain.ScorerType { return domain.ScorerWeighted }

// Weight returns the configured weight of provider.
func (w *Weighted) Weight(provider string) (decimal.Decimal, bool) {
	d, ok := w.weights[provider]
	return d, ok
}

// Score implements Scorer.
func (w *Weighted) Score(stamps []domain.Stamp) domain.ScoreResult {
	return w.sum(stamps)
}

func (w *Weighted) sum(stamps []domain.Stamp) domain.ScoreResult {
	winners, losers := collapse(stamps)
	res := domain.ScoreResult{
		Score:       decimal.Zero,
		StampScores: make(map[string]domain.StampScore, len(winners)),
	}

	var expiration *time.Time
	for _, s := range winners {
		weight, known := w.weights[s.Provider]
		diag := domain.StampDiagnostic{
			Provider:    s.Provider,
			Fingerprint: s.Fingerprint,
			Outcome:     domain.OutcomeCounted,
			Weight:      weight,
		}
		if !known {
			diag.Outcome = domain.OutcomeUnknownProvider
			diag.Weight = decimal.Zero
			diag.Detail = "no weight configured"
			res.Diagnostics = append(res.Diagnostics, diag)
			continue
		}
		exp := s.ExpirationTime.UTC()
		res.Score = res.Score.Add(weight)
		res.StampScores[s.Provider] = domain.StampScore{Score: weight, ExpirationDate: &exp}
		res.Diagnostics = append(res.Diagnostics, diag)
		if !weight.IsZero() && (expiration == nil || exp.Before(*expiration)) {
			e := exp
			expiration = &e
		}
	}
	for _, s := range losers {
		res.Diagnostics = append(res.Diagnostics, domain.StampDiagnostic{
			Provider:    s.Provider,
			Fingerprint: s.Fingerprint,
			Outcome:     domain.OutcomeProviderDuplicate,
			Dedup:       true,
			Weight:      decimal.Zero,
			Detail:      "older stamp for the same provider",
		})
	}
	sortDiagnostics(res.Diagnostics)

	res.Score = res.Score.Round(domain.ScoreDecimals)
	res.ExpirationDate = expiration
	return res
}

// ─── BinaryWeighted ─────────────────────────────────────────────────────────

// BinaryWeighted reports 1 when the weighted sum reaches the threshold and
// 0 otherwise. The boundary is inclusive.
type BinaryWeighted struct {
	Weighted
	threshold decimal.Decimal
}

// NewBinaryWeighted creates a BinaryWeighted scorer.
func NewBinaryWeighted(weights map[string]decimal.Decimal, threshold decimal.Decimal) *BinaryWeighted {
	return &BinaryWeighted{Weighted: Weighted{weights: weights}, threshold: threshold}
}

func (*BinaryWeighted) sealed() {}

// Type implements Scorer.
func (*BinaryWeighted) Type() domain.ScorerType { return domain.ScorerWeightedBinary }

// Threshold returns the passing threshold.
func (b *BinaryWeighted) Threshold() decimal.Decimal { return b.threshold }

// Score implements Scorer.
func (b *BinaryWeighted) Score(stamps []domain.Stamp) domain.ScoreResult {
	res := b.sum(stamps)
	raw := res.Score
	passing := raw.GreaterThanOrEqual(b.threshold)
	res.Evidence = &domain.Evidence{
		Type:      domain.EvidenceThreshold,
		Success:   passing,
		RawScore:  raw,
		Threshold: b.threshold,
	}
	if passing {
		res.Score = decimal.NewFromInt(1)
	} else {
		res.Score = decimal.Zero
	}
	return res
}

// ─── Provider collapse ──────────────────────────────────────────────────────

// collapse keeps one stamp per provider: latest issuance, then latest
// expiration, then the lexically smallest fingerprint.
func collapse(stamps []domain.Stamp) (winners, losers []domain.Stamp) {
	best := make(map[string]domain.Stamp, len(stamps))
	for _, s := range stamps {
		cur, ok := best[s.Provider]
		if !ok || preferred(s, cur) {
			if ok {
				losers = append(losers, cur)
			}
			best[s.Provider] = s
			continue
		}
		losers = append(losers, s)
	}
	winners = make([]domain.Stamp, 0, len(best))
	for _, s := range best {
		winners = append(winners, s)
	}
	sort.Slice(winners, func(i, j int) bool { return winners[i].Provider < winners[j].Provider })
	return winners, losers
}

func preferred(a, b domain.Stamp) bool {
	if !a.IssuanceTime.Equal(b.IssuanceTime) {
		return a.IssuanceTime.After(b.IssuanceTime)
	}
	if !a.ExpirationTime.Equal(b.ExpirationTime) {
		return a.ExpirationTime.After(b.ExpirationTime)
	}
	return a.Fingerprint < b.Fingerprint
}

func sortDiagnostics(d []domain.StampDiagnostic) {
	sort.SliceStable(d, func(i, j int) bool {
		if d[i].Provider != d[j].Provider {
			return d[i].Provider < d[j].Provider
		}
		return d[i].Fingerprint < d[j].Fingerprint
	})
}
