package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/stampscore/stampscore/internal/domain"
)

// ─── Event Operations ───────────────────────────────────────────────────────

const eventColumns = `id, action, community_id, address, data, digest, created_at`

// AppendEvents inserts events in one transaction. Rows can never be updated
// or deleted afterwards (enforced by triggers).
func (d *DB) AppendEvents(ctx context.Context, events ...domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		for _, e := range events {
			if err := insertEvent(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertEvent(ctx context.Context, tx *sql.Tx, e domain.Event) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, string(e.Action), e.CommunityID, domain.NormalizeAddress(e.Address),
		string(e.Data), e.Digest, fmtTime(e.CreatedAt))
	if err != nil {
		return storeErr("insert event", err)
	}
	return nil
}

// ListEvents returns a passport's events in [from, to], oldest first.
// A zero bound is open.
func (d *DB) ListEvents(ctx context.Context, communityID int64, address string, from, to time.Time) ([]domain.Event, error) {
	var q strings.Builder
	q.WriteString(`SELECT ` + eventColumns + ` FROM events WHERE community_id = ? AND address = ?`)
	args := []any{communityID, domain.NormalizeAddress(address)}
	if !from.IsZero() {
		q.WriteString(` AND created_at >= ?`)
		args = append(args, fmtTime(from))
	}
	if !to.IsZero() {
		q.WriteString(` AND created_at <= ?`)
		args = append(args, fmtTime(to))
	}
	q.WriteString(` ORDER BY created_at, rowid`)

	rows, err := d.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, storeErr("list events", err)
	}
	defer rows.Close()

	var result []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, storeErr("list events", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list events", err)
	}
	return result, nil
}

// LatestEvent returns the newest event of action recorded at or before at.
func (d *DB) LatestEvent(ctx context.Context, communityID int64, address string, action domain.EventAction, at time.Time) (domain.Event, error) {
	address = domain.NormalizeAddress(address)
	e, err := scanEvent(d.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE community_id = ? AND address = ? AND action = ? AND created_at <= ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1
	`, communityID, address, string(action), fmtTime(at)))
	if isNoRows(err) {
		return e, fmt.Errorf("%w: %s for %d/%s at %s", domain.ErrEventNotFound,
			action, communityID, address, at.UTC().Format(time.RFC3339))
	}
	if err != nil {
		return e, storeErr("latest event", err)
	}
	return e, nil
}

func scanEvent(s scanner) (domain.Event, error) {
	var (
		e       domain.Event
		action  string
		data    string
		created string
	)
	if err := s.Scan(&e.ID, &action, &e.CommunityID, &e.Address, &data, &e.Digest, &created); err != nil {
		return e, err
	}
	e.Action = domain.EventAction(action)
	e.Data = []byte(data)
	var err error
	if e.CreatedAt, err = parseTime(created); err != nil {
		return e, err
	}
	return e, nil
}
