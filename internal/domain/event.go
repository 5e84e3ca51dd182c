package domain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// ─── Audit Events ───────────────────────────────────────────────────────────
// Events are append-only. Each carries a blake3 digest of its payload so an
// auditor can detect a row that was edited after the fact.

// EventAction is the kind of audit event.
type EventAction string

const (
	EventLIFODeduplication EventAction = "LIFO_DEDUPLICATION"
	EventFIFODeduplication EventAction = "FIFO_DEDUPLICATION"
	EventScoreUpdate       EventAction = "SCORE_UPDATE"
)

// Event is one immutable audit record, keyed for lookup by
// (CommunityID, Address, CreatedAt).
type Event struct {
	ID          string          `json:"id"`
	Action      EventAction     `json:"action"`
	CommunityID int64           `json:"community_id"`
	Address     string          `json:"address"`
	Data        json.RawMessage `json:"data"`
	Digest      string          `json:"digest"`
	CreatedAt   time.Time       `json:"created_at"`
}

// DedupEventData is the payload of LIFO/FIFO deduplication events.
// HoldingAddress owned the fingerprint before the claim; ClaimingAddress
// submitted it.
type DedupEventData struct {
	Fingerprint       string      `json:"fingerprint"`
	Provider          string      `json:"provider"`
	Scope             string      `json:"scope"`
	Policy            DedupPolicy `json:"policy"`
	HoldingAddress    string      `json:"holding_address"`
	HoldingCommunity  int64       `json:"holding_community"`
	ClaimingAddress   string      `json:"claiming_address"`
	ClaimingCommunity int64       `json:"claiming_community"`
	ExpiresAt         time.Time   `json:"expires_at"`
}

// NewEvent serializes payload and stamps the event with an id and digest.
func NewEvent(action EventAction, communityID int64, address string, payload any, at time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", action, err)
	}
	e := Event{
		ID:          uuid.NewString(),
		Action:      action,
		CommunityID: communityID,
		Address:     NormalizeAddress(address),
		Data:        data,
		CreatedAt:   at.UTC(),
	}
	e.Digest = e.computeDigest()
	return e, nil
}

// Verify recomputes the digest and reports a mismatch as ErrDigestMismatch.
func (e Event) Verify() error {
	if got := e.computeDigest(); got != e.Digest {
		return fmt.Errorf("%w: event %s", ErrDigestMismatch, e.ID)
	}
	return nil
}

// DedupData decodes the payload of a deduplication event.
func (e Event) DedupData() (DedupEventData, error) {
	var d DedupEventData
	if e.Action != EventLIFODeduplication && e.Action != EventFIFODeduplication {
		return d, fmt.Errorf("event %s is %s, not a dedup event", e.ID, e.Action)
	}
	err := json.Unmarshal(e.Data, &d)
	return d, err
}

// ScoreSnapshot decodes the payload of a SCORE_UPDATE event.
func (e Event) ScoreSnapshot() (Score, error) {
	var s Score
	if e.Action != EventScoreUpdate {
		return s, fmt.Errorf("event %s is %s, not a score update", e.ID, e.Action)
	}
	err := json.Unmarshal(e.Data, &s)
	return s, err
}

// computeDigest hashes the fields an auditor relies on. CreatedAt uses a
// fixed layout so the digest survives a storage round-trip.
func (e Event) computeDigest() string {
	h := blake3.New()
	fmt.Fprintf(h, "%s|%d|%s|%s|", e.Action, e.CommunityID, e.Address, e.CreatedAt.UTC().Format(time.RFC3339Nano))
	h.Write(e.Data)
	return hex.EncodeToString(h.Sum(nil))
}
