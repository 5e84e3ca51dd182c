package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/stampscore/stampscore/internal/domain"
)

// ─── Dedup Binding Operations ───────────────────────────────────────────────

const bindingColumns = `scope, fingerprint, address, community_id, provider, expires_at, updated_at`

// GetBinding returns the binding for (scope, fingerprint), expired or not.
// A missing binding is (nil, nil).
func (d *DB) GetBinding(ctx context.Context, scope, fingerprint string) (*domain.DedupBinding, error) {
	b, err := scanBinding(d.db.QueryRowContext(ctx, `
		SELECT `+bindingColumns+` FROM dedup_bindings WHERE scope = ? AND fingerprint = ?
	`, scope, fingerprint))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get binding", err)
	}
	return &b, nil
}

// PutBinding creates or overwrites the binding for (scope, fingerprint) and,
// when event is non-nil, appends it in the same transaction.
func (d *DB) PutBinding(ctx context.Context, b domain.DedupBinding, event *domain.Event) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO dedup_bindings (`+bindingColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(scope, fingerprint) DO UPDATE SET
				address      = excluded.address,
				community_id = excluded.community_id,
				provider     = excluded.provider,
				expires_at   = excluded.expires_at,
				updated_at   = excluded.updated_at
		`, b.Scope, b.Fingerprint, domain.NormalizeAddress(b.Address), b.CommunityID, b.Provider,
			fmtTime(b.ExpiresAt), fmtTime(b.UpdatedAt))
		if err != nil {
			return storeErr("put binding", err)
		}
		if event != nil {
			return insertEvent(ctx, tx, *event)
		}
		return nil
	})
}

// BindingsForAddress lists the unexpired bindings an address holds in scope.
func (d *DB) BindingsForAddress(ctx context.Context, scope, address string, now time.Time) ([]domain.DedupBinding, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+bindingColumns+` FROM dedup_bindings
		WHERE scope = ? AND address = ? AND expires_at > ?
		ORDER BY fingerprint
	`, scope, domain.NormalizeAddress(address), fmtTime(now))
	if err != nil {
		return nil, storeErr("bindings for address", err)
	}
	defer rows.Close()

	var result []domain.DedupBinding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, storeErr("bindings for address", err)
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("bindings for address", err)
	}
	return result, nil
}

func scanBinding(s scanner) (domain.DedupBinding, error) {
	var (
		b                domain.DedupBinding
		expires, updated string
	)
	if err := s.Scan(&b.Scope, &b.Fingerprint, &b.Address, &b.CommunityID, &b.Provider, &expires, &updated); err != nil {
		return b, err
	}
	var err error
	if b.ExpiresAt, err = parseTime(expires); err != nil {
		return b, err
	}
	if b.UpdatedAt, err = parseTime(updated); err != nil {
		return b, err
	}
	return b, nil
}
