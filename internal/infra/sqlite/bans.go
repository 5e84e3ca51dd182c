package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/stampscore/stampscore/internal/domain"
)

// ─── Ban Operations ─────────────────────────────────────────────────────────

const banColumns = `id, type, address, provider, hash, end_time, reason, created_at`

// CreateBan validates and inserts a ban. Addresses are normalized.
func (d *DB) CreateBan(ctx context.Context, b domain.Ban) (domain.Ban, error) {
	b.Address = domain.NormalizeAddress(b.Address)
	if err := b.Validate(); err != nil {
		return b, err
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO bans (type, address, provider, hash, end_time, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, string(b.Type), b.Address, b.Provider, b.Hash, fmtNullTime(b.EndTime), b.Reason, fmtTime(b.CreatedAt))
	if err != nil {
		return b, storeErr("insert ban", err)
	}
	if b.ID, err = res.LastInsertId(); err != nil {
		return b, storeErr("insert ban", err)
	}
	b.CreatedAt = b.CreatedAt.UTC()
	return b, nil
}

// ActiveBans loads, in one query, every unexpired account ban on address and
// every unexpired single-stamp ban on (address, provider) for the given
// providers. Hash bans are never returned.
func (d *DB) ActiveBans(ctx context.Context, address string, providers []string, now time.Time) ([]domain.Ban, error) {
	var q strings.Builder
	q.WriteString(`SELECT ` + banColumns + ` FROM bans
		WHERE address = ? AND (end_time IS NULL OR end_time > ?)
		AND (type = 'ACCOUNT'`)
	args := []any{domain.NormalizeAddress(address), fmtTime(now)}
	if len(providers) > 0 {
		q.WriteString(` OR (type = 'SINGLE_STAMP' AND provider IN (` + placeholders(len(providers)) + `))`)
		for _, p := range providers {
			args = append(args, p)
		}
	}
	q.WriteString(`) ORDER BY id`)

	return d.queryBans(ctx, "active bans", q.String(), args...)
}

// ListBans returns every ban recorded for an address, expired or not.
func (d *DB) ListBans(ctx context.Context, address string) ([]domain.Ban, error) {
	return d.queryBans(ctx, "list bans", `
		SELECT `+banColumns+` FROM bans WHERE address = ? ORDER BY id
	`, domain.NormalizeAddress(address))
}

func (d *DB) queryBans(ctx context.Context, op, query string, args ...any) ([]domain.Ban, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var result []domain.Ban
	for rows.Next() {
		var (
			b       domain.Ban
			typ     string
			endTime sql.NullString
			created string
		)
		if err := rows.Scan(&b.ID, &typ, &b.Address, &b.Provider, &b.Hash, &endTime, &b.Reason, &created); err != nil {
			return nil, storeErr(op, err)
		}
		b.Type = domain.BanType(typ)
		if b.EndTime, err = parseNullTime(endTime); err != nil {
			return nil, storeErr(op, err)
		}
		if b.CreatedAt, err = parseTime(created); err != nil {
			return nil, storeErr(op, err)
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return result, nil
}

// ─── Revocation Operations ──────────────────────────────────────────────────

// CreateRevocation records a revoked proof value. Revoking the same proof
// twice is a no-op.
func (d *DB) CreateRevocation(ctx context.Context, r domain.Revocation) error {
	if strings.TrimSpace(r.ProofValue) == "" {
		return fmt.Errorf("%w: proof value is required", domain.ErrInvalidRevocation)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO revocations (proof_value, provider, address, created_at)
		VALUES (?, ?, ?, ?)
	`, r.ProofValue, r.Provider, domain.NormalizeAddress(r.Address), fmtTime(r.CreatedAt))
	if err != nil {
		return storeErr("insert revocation", err)
	}
	return nil
}

// RevokedProofs returns the subset of proofValues present in the revocation set.
func (d *DB) RevokedProofs(ctx context.Context, proofValues []string) (map[string]bool, error) {
	revoked := make(map[string]bool)
	if len(proofValues) == 0 {
		return revoked, nil
	}
	args := make([]any, len(proofValues))
	for i, p := range proofValues {
		args[i] = p
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT proof_value FROM revocations WHERE proof_value IN (`+placeholders(len(args))+`)
	`, args...)
	if err != nil {
		return nil, storeErr("revoked proofs", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, storeErr("revoked proofs", err)
		}
		revoked[p] = true
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("revoked proofs", err)
	}
	return revoked, nil
}
