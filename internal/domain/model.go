// Package domain contains the scoring types shared by every layer.
// It imports value libraries only (decimal, uuid, hashing) and no infrastructure.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ScoreDecimals is the number of fractional digits kept by weighted sums.
const ScoreDecimals = 9

// NormalizeAddress lowercases and trims an address so lookups are
// case-insensitive, matching how hex addresses are compared on chain.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// ─── Community & Scorer ─────────────────────────────────────────────────────

// DedupPolicy decides who keeps a fingerprint claimed by two addresses.
type DedupPolicy string

const (
	DedupLIFO DedupPolicy = "LIFO" // newest claim wins
	DedupFIFO DedupPolicy = "FIFO" // first claim wins
)

// Valid returns true for a known policy.
func (p DedupPolicy) Valid() bool {
	return p == DedupLIFO || p == DedupFIFO
}

// Community is a scoring configuration owned by an account.
type Community struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	AccountID   string      `json:"account_id"`
	DedupPolicy DedupPolicy `json:"dedup_policy"`
	DedupScope  string      `json:"dedup_scope,omitempty"`
	ScorerID    int64       `json:"scorer_id"`
	CreatedAt   time.Time   `json:"created_at"`
	DeletedAt   *time.Time  `json:"deleted_at,omitempty"`
}

// Scope returns the dedup namespace. Communities without an explicit scope
// get a community-local one.
func (c Community) Scope() string {
	if c.DedupScope != "" {
		return c.DedupScope
	}
	return fmt.Sprintf("community:%d", c.ID)
}

// Deleted reports whether the community was soft-deleted.
func (c Community) Deleted() bool { return c.DeletedAt != nil }

// Validate checks the fields required at creation time.
func (c Community) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidCommunity)
	}
	if !c.DedupPolicy.Valid() {
		return fmt.Errorf("%w: unknown dedup policy %q", ErrInvalidCommunity, c.DedupPolicy)
	}
	return nil
}

// ScorerType tags the scorer variant stored for a community.
type ScorerType string

const (
	ScorerWeighted       ScorerType = "WEIGHTED"
	ScorerWeightedBinary ScorerType = "WEIGHTED_BINARY"
)

// ScorerConfig is the stored form of a scorer. Weights and threshold stay
// decimal strings until the scoring package parses them.
type ScorerConfig struct {
	ID        int64             `json:"id"`
	Type      ScorerType        `json:"type"`
	Weights   map[string]string `json:"weights"`
	Threshold string            `json:"threshold,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// ─── Stamps ─────────────────────────────────────────────────────────────────

// Stamp is an already-verified credential submitted for an address.
type Stamp struct {
	Address        string    `json:"address"`
	Provider       string    `json:"provider"`
	Fingerprint    string    `json:"fingerprint"`
	IssuanceTime   time.Time `json:"issuance_time"`
	ExpirationTime time.Time `json:"expiration_time"`
	ProofValue     string    `json:"proof_value"`
}

// Validate returns an ErrInvalidStamp-wrapped reason when the stamp cannot
// be scored for address at now.
func (s Stamp) Validate(address string, now time.Time) error {
	switch {
	case strings.TrimSpace(s.Provider) == "":
		return fmt.Errorf("%w: missing provider", ErrInvalidStamp)
	case strings.TrimSpace(s.Fingerprint) == "":
		return fmt.Errorf("%w: missing fingerprint", ErrInvalidStamp)
	case s.Address != "" && NormalizeAddress(s.Address) != NormalizeAddress(address):
		return fmt.Errorf("%w: issued to %s", ErrInvalidStamp, s.Address)
	case s.ExpirationTime.IsZero():
		return fmt.Errorf("%w: missing expiration time", ErrInvalidStamp)
	case !s.IssuanceTime.IsZero() && !s.ExpirationTime.After(s.IssuanceTime):
		return fmt.Errorf("%w: expires before issuance", ErrInvalidStamp)
	case !s.ExpirationTime.After(now):
		return fmt.Errorf("%w: expired at %s", ErrInvalidStamp, s.ExpirationTime.Format(time.RFC3339))
	}
	return nil
}

// ─── Deduplication ──────────────────────────────────────────────────────────

// DedupBinding ties a fingerprint to one address inside a dedup scope.
// At most one unexpired binding exists per (Scope, Fingerprint).
// CommunityID is the community whose passport holds the claim; scopes may
// be shared, so it can differ from the community of a later claimant.
type DedupBinding struct {
	Scope       string    `json:"scope"`
	Fingerprint string    `json:"fingerprint"`
	Address     string    `json:"address"`
	CommunityID int64     `json:"community_id"`
	Provider    string    `json:"provider"`
	ExpiresAt   time.Time `json:"expires_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Active reports whether the binding still blocks other claimants at now.
func (b DedupBinding) Active(now time.Time) bool {
	return b.ExpiresAt.After(now)
}

// ─── Bans & Revocations ─────────────────────────────────────────────────────

// BanType selects what a ban matches.
type BanType string

const (
	BanAccount     BanType = "ACCOUNT"
	BanSingleStamp BanType = "SINGLE_STAMP"
	BanHash        BanType = "HASH" // stored but never applied
)

// Ban excludes an address, or one provider of an address, from scoring.
type Ban struct {
	ID        int64      `json:"id"`
	Type      BanType    `json:"type"`
	Address   string     `json:"address,omitempty"`
	Provider  string     `json:"provider,omitempty"`
	Hash      string     `json:"hash,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Validate enforces the per-type required fields.
func (b Ban) Validate() error {
	switch b.Type {
	case BanAccount:
		if b.Address == "" {
			return fmt.Errorf("%w: account ban requires an address", ErrInvalidBan)
		}
	case BanSingleStamp:
		if b.Address == "" || b.Provider == "" {
			return fmt.Errorf("%w: single stamp ban requires address and provider", ErrInvalidBan)
		}
	case BanHash:
		if b.Hash == "" {
			return fmt.Errorf("%w: hash ban requires a hash", ErrInvalidBan)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidBan, b.Type)
	}
	return nil
}

// Active reports whether the ban applies at now. A nil EndTime is permanent.
func (b Ban) Active(now time.Time) bool {
	return b.EndTime == nil || b.EndTime.After(now)
}

// Revocation marks a proof value as no longer valid. Immutable once stored.
type Revocation struct {
	ProofValue string    `json:"proof_value"`
	Provider   string    `json:"provider,omitempty"`
	Address    string    `json:"address,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ─── Scores ─────────────────────────────────────────────────────────────────

// ScoreStatus is the lifecycle state of a passport's score row.
type ScoreStatus string

const (
	StatusProcessing     ScoreStatus = "PROCESSING"
	StatusBulkProcessing ScoreStatus = "BULK_PROCESSING"
	StatusDone           ScoreStatus = "DONE"
	StatusError          ScoreStatus = "ERROR"
)

// Terminal reports whether no computation is in flight for this status.
func (s ScoreStatus) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// EvidenceThreshold is the evidence type emitted by binary scorers.
const EvidenceThreshold = "ThresholdScoreCheck"

// Evidence records how a binary score was decided.
type Evidence struct {
	Type      string          `json:"type"`
	Success   bool            `json:"success"`
	RawScore  decimal.Decimal `json:"rawScore"`
	Threshold decimal.Decimal `json:"threshold"`
}

// StampScore is one provider's contribution to a score.
type StampScore struct {
	Score          decimal.Decimal `json:"score"`
	Dedup          bool            `json:"dedup"`
	ExpirationDate *time.Time      `json:"expiration_date,omitempty"`
}

// Outcome explains what happened to one submitted stamp.
type Outcome string

const (
	OutcomeCounted           Outcome = "counted"
	OutcomeUnknownProvider   Outcome = "unknown_provider"
	OutcomeProviderDuplicate Outcome = "provider_duplicate"
	OutcomeDedupLost         Outcome = "dedup_lost"
	OutcomeBanned            Outcome = "banned"
	OutcomeRevoked           Outcome = "revoked"
	OutcomeInvalid           Outcome = "invalid"
)

// StampDiagnostic is the per-stamp audit line of a scoring pass.
type StampDiagnostic struct {
	Provider    string          `json:"provider"`
	Fingerprint string          `json:"fingerprint"`
	Outcome     Outcome         `json:"outcome"`
	Dedup       bool            `json:"dedup"`
	Weight      decimal.Decimal `json:"weight"`
	Detail      string          `json:"detail,omitempty"`
}

// ScoreResult is the pure output of a scorer.
type ScoreResult struct {
	Score          decimal.Decimal       `json:"score"`
	Evidence       *Evidence             `json:"evidence,omitempty"`
	StampScores    map[string]StampScore `json:"stamp_scores"`
	Diagnostics    []StampDiagnostic     `json:"diagnostics"`
	ExpirationDate *time.Time            `json:"expiration_date,omitempty"`
}

// Binary reports whether the result came from a threshold scorer.
func (r ScoreResult) Binary() bool { return r.Evidence != nil }

// Score is the single live row of a passport (community, address).
type Score struct {
	ID                 int64                 `json:"id"`
	CommunityID        int64                 `json:"community_id"`
	Address            string                `json:"address"`
	Score              *decimal.Decimal      `json:"score"`
	Status             ScoreStatus           `json:"status"`
	Error              string                `json:"error,omitempty"`
	Evidence           *Evidence             `json:"evidence,omitempty"`
	StampScores        map[string]StampScore `json:"stamp_scores,omitempty"`
	ExpirationDate     *time.Time            `json:"expiration_date,omitempty"`
	LastScoreTimestamp *time.Time            `json:"last_score_timestamp,omitempty"`
	Version            int64                 `json:"version"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
}

// FormattedScore renders the score the way reports show it: binary scores
// as an exact "0" or "1", weighted scores with ScoreDecimals digits.
func (s Score) FormattedScore() *string {
	if s.Score == nil {
		return nil
	}
	var out string
	if s.Evidence != nil {
		out = s.Score.String()
	} else {
		out = s.Score.StringFixed(ScoreDecimals)
	}
	return &out
}

// ApplyResult copies a result into the row and marks it DONE.
func (s *Score) ApplyResult(r ScoreResult, at time.Time) {
	score := r.Score
	s.Score = &score
	s.Status = StatusDone
	s.Error = ""
	s.Evidence = r.Evidence
	s.StampScores = r.StampScores
	s.ExpirationDate = r.ExpirationDate
	s.LastScoreTimestamp = &at
}

// ApplyError marks the row ERROR and clears every derived field so a stale
// score is never displayed as current.
func (s *Score) ApplyError(msg string, at time.Time) {
	s.Score = nil
	s.Status = StatusError
	s.Error = msg
	s.Evidence = nil
	s.StampScores = nil
	s.ExpirationDate = nil
	s.LastScoreTimestamp = &at
}
