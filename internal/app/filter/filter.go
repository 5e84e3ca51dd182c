// Package filter decides which submitted stamps are excluded by bans or
// revocations. It only reads from its stores.
package filter

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/stampscore/stampscore/internal/domain"
)

// Candidate is one stamp as seen by the filter.
type Candidate struct {
	Fingerprint string
	Provider    string
	ProofValue  string
}

// Cause names why a candidate was excluded.
type Cause string

const (
	CauseRevoked    Cause = "revoked"
	CauseAccountBan Cause = "account_ban"
	CauseStampBan   Cause = "single_stamp_ban"
)

// Exclusion describes one excluded candidate.
type Exclusion struct {
	Cause  Cause
	BanID  int64 // zero for revocations
	Reason string
}

// Outcome maps the cause onto the per-stamp diagnostic outcome.
func (e Exclusion) Outcome() domain.Outcome {
	if e.Cause == CauseRevoked {
		return domain.OutcomeRevoked
	}
	return domain.OutcomeBanned
}

// Detail renders the exclusion for a diagnostic line.
func (e Exclusion) Detail() string {
	switch {
	case e.BanID == 0:
		return string(e.Cause)
	case e.Reason != "":
		return fmt.Sprintf("%s #%d: %s", e.Cause, e.BanID, e.Reason)
	default:
		return fmt.Sprintf("%s #%d", e.Cause, e.BanID)
	}
}

// Exclusions maps every excluded candidate to its cause. Candidates not in
// the map survive.
type Exclusions map[Candidate]Exclusion

// Filter checks candidates against active bans and the revocation set.
type Filter struct {
	bans        domain.BanStore
	revocations domain.RevocationStore
}

// New creates a Filter.
func New(bans domain.BanStore, revocations domain.RevocationStore) *Filter {
	return &Filter{bans: bans, revocations: revocations}
}

// Check returns the excluded subset of candidates for address at now.
// A revoked proof is reported as revoked even if a ban also matches; an
// account ban is reported in preference to a single-stamp ban.
func (f *Filter) Check(ctx context.Context, address string, candidates []Candidate, now time.Time) (Exclusions, error) {
	out := make(Exclusions)
	if len(candidates) == 0 {
		return out, nil
	}

	providers := distinct(candidates, func(c Candidate) string { return c.Provider })
	bans, err := f.bans.ActiveBans(ctx, address, providers, now)
	if err != nil {
		return nil, retryable("load bans", err)
	}

	proofs := distinct(candidates, func(c Candidate) string { return c.ProofValue })
	revoked, err := f.revocations.RevokedProofs(ctx, proofs)
	if err != nil {
		return nil, retryable("load revocations", err)
	}

	var account *domain.Ban
	byProvider := make(map[string]*domain.Ban)
	for i := range bans {
		b := &bans[i]
		if !b.Active(now) {
			continue
		}
		switch b.Type {
		case domain.BanAccount:
			if account == nil {
				account = b
			}
		case domain.BanSingleStamp:
			if _, ok := byProvider[b.Provider]; !ok {
				byProvider[b.Provider] = b
			}
		}
	}

	for _, c := range candidates {
		switch {
		case c.ProofValue != "" && revoked[c.ProofValue]:
			out[c] = Exclusion{Cause: CauseRevoked}
		case account != nil:
			out[c] = Exclusion{Cause: CauseAccountBan, BanID: account.ID, Reason: account.Reason}
		case byProvider[c.Provider] != nil:
			b := byProvider[c.Provider]
			out[c] = Exclusion{Cause: CauseStampBan, BanID: b.ID, Reason: b.Reason}
		}
	}
	return out, nil
}

// retryable makes sure a store failure is classified as infrastructure
// even when the store returned a bare error.
func retryable(op string, err error) error {
	if domain.IsRetryable(err) {
		return fmt.Errorf("filter: %s: %w", op, err)
	}
	return fmt.Errorf("%w: filter: %s: %w", domain.ErrInfrastructure, op, err)
}

func distinct(candidates []Candidate, key func(Candidate) string) []string {
	seen := make(map[string]bool, len(candidates))
	var out []string
	for _, c := range candidates {
		k := key(c)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
