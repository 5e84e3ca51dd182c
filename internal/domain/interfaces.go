package domain

import (
	"context"
	"time"
)

// ─── Store Interfaces ───────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; the application layer depends on them.

// CommunityStore persists communities and their scorer rows.
type CommunityStore interface {
	CreateScorer(ctx context.Context, cfg ScorerConfig) (ScorerConfig, error)
	GetScorer(ctx context.Context, id int64) (ScorerConfig, error)
	CreateCommunity(ctx context.Context, c Community) (Community, error)
	// GetCommunity returns ErrCommunityNotFound for soft-deleted rows.
	GetCommunity(ctx context.Context, id int64) (Community, error)
	ListCommunities(ctx context.Context) ([]Community, error)
	SetCommunityScorer(ctx context.Context, communityID, scorerID int64) error
	SoftDeleteCommunity(ctx context.Context, id int64, at time.Time) error
}

// BanStore persists bans. ActiveBans must load all matching rows in one query.
type BanStore interface {
	CreateBan(ctx context.Context, b Ban) (Ban, error)
	ActiveBans(ctx context.Context, address string, providers []string, now time.Time) ([]Ban, error)
	ListBans(ctx context.Context, address string) ([]Ban, error)
}

// RevocationStore is a lookup set of revoked proof values.
type RevocationStore interface {
	CreateRevocation(ctx context.Context, r Revocation) error
	RevokedProofs(ctx context.Context, proofValues []string) (map[string]bool, error)
}

// BindingStore holds dedup bindings. PutBinding writes the binding and the
// optional audit event atomically.
type BindingStore interface {
	GetBinding(ctx context.Context, scope, fingerprint string) (*DedupBinding, error)
	PutBinding(ctx context.Context, b DedupBinding, event *Event) error
	BindingsForAddress(ctx context.Context, scope, address string, now time.Time) ([]DedupBinding, error)
}

// ScoreStore holds the one live row per passport.
type ScoreStore interface {
	// BeginScore upserts the row into a non-terminal status and bumps its
	// version, superseding any computation already in flight.
	BeginScore(ctx context.Context, communityID int64, address string, status ScoreStatus, now time.Time) (Score, error)
	// SaveScore writes s only if the stored version equals expectedVersion,
	// otherwise it returns ErrStaleWrite.
	SaveScore(ctx context.Context, s Score, expectedVersion int64) (Score, error)
	GetScore(ctx context.Context, communityID int64, address string) (Score, error)
	ListPassports(ctx context.Context, communityID, afterID int64, limit int) ([]Score, error)
}

// EventStore is the append-only audit log.
type EventStore interface {
	AppendEvents(ctx context.Context, events ...Event) error
	ListEvents(ctx context.Context, communityID int64, address string, from, to time.Time) ([]Event, error)
	// LatestEvent returns the newest event of action at or before at.
	LatestEvent(ctx context.Context, communityID int64, address string, action EventAction, at time.Time) (Event, error)
}

// StampStore keeps the last submitted stamp set per address so batch jobs
// can recompute without a new submission.
type StampStore interface {
	ReplaceStamps(ctx context.Context, address string, stamps []Stamp) error
	StampsFor(ctx context.Context, address string) ([]Stamp, error)
}
