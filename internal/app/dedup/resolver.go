// Package dedup binds credential fingerprints to a single address per
// dedup scope.
//
// Every claim runs under an exclusive lease on "scope/fingerprint", so two
// addresses racing for the same fingerprint are serialized no matter which
// process they arrive on. Leases are taken one at a time and never nest.
package dedup

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/stampscore/stampscore/internal/domain"
	"github.com/stampscore/stampscore/internal/infra/lease"
	"github.com/stampscore/stampscore/internal/infra/logger"
	"github.com/stampscore/stampscore/internal/infra/observability"
)

// Store is what the resolver needs from persistence.
type Store interface {
	domain.BindingStore
	AppendEvents(ctx context.Context, events ...domain.Event) error
}

// Claim is one fingerprint submitted by the caller.
type Claim struct {
	Fingerprint string
	Provider    string
	ExpiresAt   time.Time
}

// Request describes one resolution pass for a single address.
type Request struct {
	CommunityID int64
	Address     string
	Scope       string
	Policy      domain.DedupPolicy
	Claims      []Claim
	Now         time.Time
	// Recheck recomputes from already submitted stamps: free or expired
	// fingerprints are still claimed, but a fingerprint held by another
	// address is reported lost without takeover or event.
	Recheck bool
}

// Resolution is the outcome of a pass. Credited and Lost are keyed by
// fingerprint; Lost maps to the address that keeps the fingerprint.
type Resolution struct {
	Credited map[string]bool
	Lost     map[string]string
	Events   []domain.Event
}

// Resolver applies the LIFO/FIFO claim rules.
type Resolver struct {
	store  Store
	locker lease.Locker
	log    *logger.Logger
}

// New creates a Resolver.
func New(store Store, locker lease.Locker, log *logger.Logger) *Resolver {
	return &Resolver{store: store, locker: locker, log: log.With("component", "dedup")}
}

// Resolve claims every fingerprint in req for req.Address. On error the
// returned Resolution holds what was decided before the failure; bindings and
// events written up to that point stay written.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Resolution, error) {
	ctx, span := observability.StartSpan(ctx, "dedup.resolve",
		attribute.String("scope", req.Scope),
		attribute.String("policy", string(req.Policy)),
		attribute.Int("claims", len(req.Claims)),
	)
	res := Resolution{Credited: map[string]bool{}, Lost: map[string]string{}}
	err := r.resolve(ctx, req, &res)
	observability.EndSpan(span, err)
	return res, err
}

func (r *Resolver) resolve(ctx context.Context, req Request, res *Resolution) error {
	if !req.Policy.Valid() {
		return fmt.Errorf("%w: dedup policy %q", domain.ErrConfiguration, req.Policy)
	}
	if req.Scope == "" {
		return fmt.Errorf("%w: empty dedup scope", domain.ErrConfiguration)
	}
	if req.Now.IsZero() {
		req.Now = time.Now()
	}
	req.Address = domain.NormalizeAddress(req.Address)

	for _, c := range mergeClaims(req.Claims) {
		if err := r.claim(ctx, req, c, res); err != nil {
			return err
		}
	}
	return nil
}

// claim resolves one fingerprint while holding its lease.
func (r *Resolver) claim(ctx context.Context, req Request, c Claim, res *Resolution) error {
	key := req.Scope + "/" + c.Fingerprint
	start := time.Now()
	release, err := r.locker.Acquire(ctx, key)
	observability.ObserveSince(observability.LeaseWait.WithLabelValues("fingerprint"), start)
	if err != nil {
		return fmt.Errorf("dedup lease %s: %w", key, err)
	}
	defer release()

	current, err := r.store.GetBinding(ctx, req.Scope, c.Fingerprint)
	if err != nil {
		return err
	}

	binding := domain.DedupBinding{
		Scope:       req.Scope,
		Fingerprint: c.Fingerprint,
		Address:     req.Address,
		CommunityID: req.CommunityID,
		Provider:    c.Provider,
		ExpiresAt:   c.ExpiresAt,
		UpdatedAt:   req.Now,
	}

	switch {
	case current == nil || !current.Active(req.Now):
		if err := r.store.PutBinding(ctx, binding, nil); err != nil {
			return err
		}
		res.Credited[c.Fingerprint] = true
		r.count(req.Policy, "credited")

	case current.Address == req.Address:
		if c.ExpiresAt.After(current.ExpiresAt) {
			if err := r.store.PutBinding(ctx, binding, nil); err != nil {
				return err
			}
		}
		res.Credited[c.Fingerprint] = true
		r.count(req.Policy, "credited")

	case req.Recheck:
		res.Lost[c.Fingerprint] = current.Address
		r.count(req.Policy, "held_elsewhere")

	case req.Policy == domain.DedupLIFO:
		ev, err := r.event(domain.EventLIFODeduplication, req, c, current, holderCommunity(current, req), current.Address)
		if err != nil {
			return err
		}
		if err := r.store.PutBinding(ctx, binding, &ev); err != nil {
			return err
		}
		res.Credited[c.Fingerprint] = true
		res.Events = append(res.Events, ev)
		r.count(req.Policy, "taken_over")
		r.log.Info("fingerprint reassigned",
			"scope", req.Scope, "fingerprint", c.Fingerprint,
			"from", current.Address, "to", req.Address)

	default:
		ev, err := r.event(domain.EventFIFODeduplication, req, c, current, req.CommunityID, req.Address)
		if err != nil {
			return err
		}
		if err := r.store.AppendEvents(ctx, ev); err != nil {
			return err
		}
		res.Lost[c.Fingerprint] = current.Address
		res.Events = append(res.Events, ev)
		r.count(req.Policy, "rejected")
		r.log.Debug("fingerprint claim rejected",
			"scope", req.Scope, "fingerprint", c.Fingerprint,
			"holder", current.Address, "claimant", req.Address)
	}
	return nil
}

// event builds a dedup event filed under the passport (communityID, keyAddress).
func (r *Resolver) event(action domain.EventAction, req Request, c Claim, held *domain.DedupBinding, communityID int64, keyAddress string) (domain.Event, error) {
	return domain.NewEvent(action, communityID, keyAddress, domain.DedupEventData{
		Fingerprint:       c.Fingerprint,
		Provider:          c.Provider,
		Scope:             req.Scope,
		Policy:            req.Policy,
		HoldingAddress:    held.Address,
		HoldingCommunity:  holderCommunity(held, req),
		ClaimingAddress:   req.Address,
		ClaimingCommunity: req.CommunityID,
		ExpiresAt:         c.ExpiresAt.UTC(),
	}, req.Now)
}

// holderCommunity is the community whose passport holds b. Bindings written
// before the column existed carry 0 and fall back to the claimant's.
func holderCommunity(b *domain.DedupBinding, req Request) int64 {
	if b.CommunityID > 0 {
		return b.CommunityID
	}
	return req.CommunityID
}

func (r *Resolver) count(policy domain.DedupPolicy, result string) {
	observability.DedupDecisions.WithLabelValues(string(policy), result).Inc()
}

// mergeClaims drops empty fingerprints, folds duplicates into the latest
// expiry and sorts by fingerprint so leases are taken in a stable order.
func mergeClaims(claims []Claim) []Claim {
	byFP := make(map[string]Claim, len(claims))
	for _, c := range claims {
		if c.Fingerprint == "" {
			continue
		}
		prev, ok := byFP[c.Fingerprint]
		if !ok || c.ExpiresAt.After(prev.ExpiresAt) {
			byFP[c.Fingerprint] = c
		}
	}
	out := make([]Claim, 0, len(byFP))
	for _, c := range byFP {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out
}
