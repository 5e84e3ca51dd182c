package sqlite

import (
	"context"
	"database/sql"

	"github.com/stampscore/stampscore/internal/domain"
)

// ─── Stamp Operations ───────────────────────────────────────────────────────

// ReplaceStamps swaps the stored stamp set of address for stamps.
// Duplicate (provider, fingerprint) pairs keep the last occurrence.
func (d *DB) ReplaceStamps(ctx context.Context, address string, stamps []domain.Stamp) error {
	address = domain.NormalizeAddress(address)
	return d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM stamps WHERE address = ?`, address); err != nil {
			return storeErr("clear stamps", err)
		}
		for _, s := range stamps {
			_, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO stamps
					(address, provider, fingerprint, issuance_time, expiration_time, proof_value)
				VALUES (?, ?, ?, ?, ?, ?)
			`, address, s.Provider, s.Fingerprint, fmtTime(s.IssuanceTime), fmtTime(s.ExpirationTime), s.ProofValue)
			if err != nil {
				return storeErr("insert stamp", err)
			}
		}
		return nil
	})
}

// StampsFor returns the stored stamp set of address.
func (d *DB) StampsFor(ctx context.Context, address string) ([]domain.Stamp, error) {
	address = domain.NormalizeAddress(address)
	rows, err := d.db.QueryContext(ctx, `
		SELECT provider, fingerprint, issuance_time, expiration_time, proof_value
		FROM stamps WHERE address = ? ORDER BY provider, fingerprint
	`, address)
	if err != nil {
		return nil, storeErr("stamps for", err)
	}
	defer rows.Close()

	var result []domain.Stamp
	for rows.Next() {
		var (
			s                 domain.Stamp
			issued, expiresAt string
		)
		if err := rows.Scan(&s.Provider, &s.Fingerprint, &issued, &expiresAt, &s.ProofValue); err != nil {
			return nil, storeErr("stamps for", err)
		}
		s.Address = address
		if s.IssuanceTime, err = parseTime(issued); err != nil {
			return nil, storeErr("stamps for", err)
		}
		if s.ExpirationTime, err = parseTime(expiresAt); err != nil {
			return nil, storeErr("stamps for", err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("stamps for", err)
	}
	return result, nil
}
