package domain

import (
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.
// Callers classify with errors.Is; infrastructure wraps its causes with
// ErrInfrastructure so the kind survives alongside the original error.

var (
	// Input defects. Never fail a whole request, only the offending stamp.
	ErrInvalidStamp = errors.New("invalid stamp")

	// Configuration errors. Fatal for the community.
	ErrConfiguration     = errors.New("invalid scorer configuration")
	ErrInvalidCommunity  = errors.New("invalid community")
	ErrCommunityNotFound = errors.New("community not found")
	ErrScorerNotFound    = errors.New("scorer not found")

	// Contention. Retried by the caller with backoff.
	ErrContention = errors.New("resource contention")
	// ErrStaleWrite is returned when a newer computation superseded this one.
	ErrStaleWrite = fmt.Errorf("%w: score row version changed", ErrContention)

	// Infrastructure failures (storage or lease backend unavailable).
	ErrInfrastructure = errors.New("infrastructure failure")

	// Lookups
	ErrScoreNotFound = errors.New("score not found")
	ErrEventNotFound = errors.New("event not found")

	// Admin input
	ErrInvalidBan        = errors.New("invalid ban")
	ErrInvalidRevocation = errors.New("invalid revocation")

	// Audit
	ErrDigestMismatch = errors.New("event digest mismatch")
)

// IsRetryable reports whether err is worth retrying with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrContention) || errors.Is(err, ErrInfrastructure)
}

// ErrorKind returns a short label for err, used for metrics and logs.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrContention):
		return "contention"
	case errors.Is(err, ErrInfrastructure):
		return "infrastructure"
	case errors.Is(err, ErrCommunityNotFound), errors.Is(err, ErrScorerNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidStamp):
		return "input"
	default:
		return "unknown"
	}
}
