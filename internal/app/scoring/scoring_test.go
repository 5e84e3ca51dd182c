package scoring

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stampscore/stampscore/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func stamp(provider, fp string, issued, expires time.Time) domain.Stamp {
	return domain.Stamp{Provider: provider, Fingerprint: fp, IssuanceTime: issued, ExpirationTime: expires}
}

// ─── FromConfig ─────────────────────────────────────────────────────────────

func TestFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     domain.ScorerConfig
		want    domain.ScorerType
		wantErr bool
	}{
		{"weighted", domain.ScorerConfig{Type: domain.ScorerWeighted, Weights: map[string]string{"Ens": "2.0"}}, domain.ScorerWeighted, false},
		{"binary", domain.ScorerConfig{Type: domain.ScorerWeightedBinary, Weights: map[string]string{"Ens": "2"}, Threshold: "2.5"}, domain.ScorerWeightedBinary, false},
		{"unknown type", domain.ScorerConfig{Type: "QUADRATIC"}, "", true},
		{"binary without threshold", domain.ScorerConfig{Type: domain.ScorerWeightedBinary}, "", true},
		{"bad threshold", domain.ScorerConfig{Type: domain.ScorerWeightedBinary, Threshold: "high"}, "", true},
		{"bad weight", domain.ScorerConfig{Type: domain.ScorerWeighted, Weights: map[string]string{"Ens": "two"}}, "", true},
		{"negative weight", domain.ScorerConfig{Type: domain.ScorerWeighted, Weights: map[string]string{"Ens": "-1"}}, "", true},
		{"empty provider", domain.ScorerConfig{Type: domain.ScorerWeighted, Weights: map[string]string{" ": "1"}}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := FromConfig(tt.cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrConfiguration)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Type())
		})
	}
}

// ─── Weighted ───────────────────────────────────────────────────────────────

func TestWeighted_Sum(t *testing.T) {
	s := NewWeighted(map[string]decimal.Decimal{"Ens": dec("2.0"), "Github": dec("1.0"), "Google": dec("0.123456789")})
	res := s.Score([]domain.Stamp{
		stamp("Ens", "h1", t0, t0.Add(48*time.Hour)),
		stamp("Github", "h2", t0, t0.Add(24*time.Hour)),
		stamp("Google", "h3", t0, t0.Add(72*time.Hour)),
	})

	assert.True(t, res.Score.Equal(dec("3.123456789")), "score = %s", res.Score)
	assert.Nil(t, res.Evidence)
	assert.Len(t, res.StampScores, 3)
	require.NotNil(t, res.ExpirationDate)
	assert.True(t, res.ExpirationDate.Equal(t0.Add(24*time.Hour)))
}

func TestWeighted_UnknownProviderFlagged(t *testing.T) {
	s := NewWeighted(map[string]decimal.Decimal{"Ens": dec("2")})
	res := s.Score([]domain.Stamp{
		stamp("Ens", "h1", t0, t0.Add(time.Hour)),
		stamp("Poap", "h9", t0, t0.Add(time.Minute)),
	})

	assert.True(t, res.Score.Equal(dec("2")))
	assert.NotContains(t, res.StampScores, "Poap")
	require.Len(t, res.Diagnostics, 2)
	assert.Equal(t, domain.OutcomeUnknownProvider, res.Diagnostics[1].Outcome)
	// Unknown providers do not shorten the expiration.
	assert.True(t, res.ExpirationDate.Equal(t0.Add(time.Hour)))
}

func TestWeighted_ZeroWeightIgnoredForExpiration(t *testing.T) {
	s := NewWeighted(map[string]decimal.Decimal{"Ens": dec("1"), "Free": dec("0")})
	res := s.Score([]domain.Stamp{
		stamp("Ens", "h1", t0, t0.Add(time.Hour)),
		stamp("Free", "h2", t0, t0.Add(time.Minute)),
	})
	assert.True(t, res.ExpirationDate.Equal(t0.Add(time.Hour)))
}

func TestWeighted_Empty(t *testing.T) {
	res := NewWeighted(map[string]decimal.Decimal{"Ens": dec("1")}).Score(nil)
	assert.True(t, res.Score.IsZero())
	assert.Nil(t, res.ExpirationDate)
	assert.Empty(t, res.StampScores)
}

func TestWeighted_ProviderCollapse(t *testing.T) {
	s := NewWeighted(map[string]decimal.Decimal{"Ens": dec("2")})
	res := s.Score([]domain.Stamp{
		stamp("Ens", "old", t0, t0.Add(96*time.Hour)),
		stamp("Ens", "new", t0.Add(time.Hour), t0.Add(48*time.Hour)),
	})

	assert.True(t, res.Score.Equal(dec("2")))
	assert.True(t, res.StampScores["Ens"].ExpirationDate.Equal(t0.Add(48*time.Hour)))
	require.Len(t, res.Diagnostics, 2)
	byFP := map[string]domain.StampDiagnostic{}
	for _, d := range res.Diagnostics {
		byFP[d.Fingerprint] = d
	}
	assert.Equal(t, domain.OutcomeCounted, byFP["new"].Outcome)
	assert.False(t, byFP["new"].Dedup)
	assert.Equal(t, domain.OutcomeProviderDuplicate, byFP["old"].Outcome)
	assert.True(t, byFP["old"].Dedup)
}

func TestCollapse_TieBreaks(t *testing.T) {
	winners, losers := collapse([]domain.Stamp{
		stamp("Ens", "b", t0, t0.Add(time.Hour)),
		stamp("Ens", "a", t0, t0.Add(time.Hour)),
		stamp("Ens", "c", t0, t0.Add(30*time.Minute)),
	})
	require.Len(t, winners, 1)
	assert.Equal(t, "a", winners[0].Fingerprint)
	assert.Len(t, losers, 2)
}

// ─── BinaryWeighted ─────────────────────────────────────────────────────────

func TestBinary_ThresholdInclusive(t *testing.T) {
	weights := map[string]decimal.Decimal{"Ens": dec("2.5")}
	stamps := []domain.Stamp{stamp("Ens", "h1", t0, t0.Add(time.Hour))}

	tests := []struct {
		threshold string
		want      string
		success   bool
	}{
		{"2.5", "1", true},
		{"2.500000001", "0", false},
		{"2.4", "1", true},
	}
	for _, tt := range tests {
		res := NewBinaryWeighted(weights, dec(tt.threshold)).Score(stamps)
		assert.Equal(t, tt.want, res.Score.String(), "threshold %s", tt.threshold)
		require.NotNil(t, res.Evidence)
		assert.Equal(t, tt.success, res.Evidence.Success)
		assert.True(t, res.Evidence.RawScore.Equal(dec("2.5")))
		assert.True(t, res.Evidence.Threshold.Equal(dec(tt.threshold)))
	}
}

func TestBinary_EndToEndExample(t *testing.T) {
	s, err := FromConfig(domain.ScorerConfig{
		Type:      domain.ScorerWeightedBinary,
		Weights:   map[string]string{"Ens": "2.0", "Github": "1.0"},
		Threshold: "2.5",
	})
	require.NoError(t, err)

	res := s.Score([]domain.Stamp{
		stamp("Ens", "h1", t0, t0.Add(24*time.Hour)),
		stamp("Github", "h2", t0, t0.Add(24*time.Hour)),
	})
	assert.Equal(t, "1", res.Score.String())
	assert.True(t, res.Evidence.RawScore.Equal(dec("3.0")))
	assert.True(t, res.Evidence.Success)
	assert.True(t, res.Binary())
}

func TestScore_Deterministic(t *testing.T) {
	s := NewWeighted(map[string]decimal.Decimal{"Ens": dec("1"), "Github": dec("2")})
	stamps := []domain.Stamp{
		stamp("Github", "h2", t0, t0.Add(time.Hour)),
		stamp("Ens", "h1", t0, t0.Add(time.Hour)),
		stamp("Ens", "h0", t0.Add(-time.Hour), t0.Add(time.Hour)),
	}
	first := s.Score(stamps)
	second := s.Score([]domain.Stamp{stamps[2], stamps[0], stamps[1]})
	assert.Equal(t, first.Diagnostics, second.Diagnostics)
	assert.True(t, first.Score.Equal(second.Score))
}
