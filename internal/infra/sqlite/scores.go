package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stampscore/stampscore/internal/domain"
)

// ─── Score Operations ───────────────────────────────────────────────────────

const scoreColumns = `id, community_id, address, score, status, error, evidence_json,
	stamp_scores_json, expiration_date, last_score_timestamp, version, created_at, updated_at`

// BeginScore moves the passport row into status and bumps its version.
// Derived fields are left in place until the computation saves or fails.
func (d *DB) BeginScore(ctx context.Context, communityID int64, address string, status domain.ScoreStatus, now time.Time) (domain.Score, error) {
	address = domain.NormalizeAddress(address)
	var s domain.Score
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO scores (community_id, address, status, version, created_at, updated_at)
			VALUES (?, ?, ?, 1, ?, ?)
			ON CONFLICT(community_id, address) DO UPDATE SET
				status     = excluded.status,
				error      = '',
				version    = scores.version + 1,
				updated_at = excluded.updated_at
		`, communityID, address, string(status), fmtTime(now), fmtTime(now))
		if err != nil {
			return storeErr("begin score", err)
		}
		s, err = scanScore(tx.QueryRowContext(ctx, `
			SELECT `+scoreColumns+` FROM scores WHERE community_id = ? AND address = ?
		`, communityID, address))
		if err != nil {
			return storeErr("begin score", err)
		}
		return nil
	})
	return s, err
}

// SaveScore writes every mutable field of s, provided the row still carries
// expectedVersion. The version itself is not changed.
func (d *DB) SaveScore(ctx context.Context, s domain.Score, expectedVersion int64) (domain.Score, error) {
	s.Address = domain.NormalizeAddress(s.Address)
	evidence, err := encodeNullJSON(s.Evidence != nil, s.Evidence)
	if err != nil {
		return s, storeErr("encode evidence", err)
	}
	stampScores, err := encodeNullJSON(s.StampScores != nil, s.StampScores)
	if err != nil {
		return s, storeErr("encode stamp scores", err)
	}
	var score sql.NullString
	if s.Score != nil {
		score = sql.NullString{String: s.Score.String(), Valid: true}
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}

	var saved domain.Score
	err = d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE scores SET
				score = ?, status = ?, error = ?, evidence_json = ?, stamp_scores_json = ?,
				expiration_date = ?, last_score_timestamp = ?, updated_at = ?
			WHERE community_id = ? AND address = ? AND version = ?
		`, score, string(s.Status), s.Error, evidence, stampScores,
			fmtNullTime(s.ExpirationDate), fmtNullTime(s.LastScoreTimestamp), fmtTime(s.UpdatedAt),
			s.CommunityID, s.Address, expectedVersion)
		if err != nil {
			return storeErr("save score", err)
		}
		stale := fmt.Errorf("%w: passport %d/%s expected version %d",
			domain.ErrStaleWrite, s.CommunityID, s.Address, expectedVersion)
		if err := requireAffected(res, stale); err != nil {
			return err
		}
		saved, err = scanScore(tx.QueryRowContext(ctx, `
			SELECT `+scoreColumns+` FROM scores WHERE community_id = ? AND address = ?
		`, s.CommunityID, s.Address))
		if err != nil {
			return storeErr("save score", err)
		}
		return nil
	})
	return saved, err
}

// GetScore returns the live row of a passport.
func (d *DB) GetScore(ctx context.Context, communityID int64, address string) (domain.Score, error) {
	address = domain.NormalizeAddress(address)
	s, err := scanScore(d.db.QueryRowContext(ctx, `
		SELECT `+scoreColumns+` FROM scores WHERE community_id = ? AND address = ?
	`, communityID, address))
	if isNoRows(err) {
		return s, fmt.Errorf("%w: passport %d/%s", domain.ErrScoreNotFound, communityID, address)
	}
	if err != nil {
		return s, storeErr("get score", err)
	}
	return s, nil
}

// ListPassports pages through a community's score rows by id.
func (d *DB) ListPassports(ctx context.Context, communityID, afterID int64, limit int) ([]domain.Score, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+scoreColumns+` FROM scores
		WHERE community_id = ? AND id > ?
		ORDER BY id LIMIT ?
	`, communityID, afterID, limit)
	if err != nil {
		return nil, storeErr("list passports", err)
	}
	defer rows.Close()

	var result []domain.Score
	for rows.Next() {
		s, err := scanScore(rows)
		if err != nil {
			return nil, storeErr("list passports", err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list passports", err)
	}
	return result, nil
}

func scanScore(s scanner) (domain.Score, error) {
	var (
		sc                    domain.Score
		score                 sql.NullString
		status                string
		evidence, stampScores sql.NullString
		expiration, lastScore sql.NullString
		created, updated      string
	)
	if err := s.Scan(&sc.ID, &sc.CommunityID, &sc.Address, &score, &status, &sc.Error,
		&evidence, &stampScores, &expiration, &lastScore, &sc.Version, &created, &updated); err != nil {
		return sc, err
	}
	sc.Status = domain.ScoreStatus(status)

	var err error
	if score.Valid {
		v, err := decimal.NewFromString(score.String)
		if err != nil {
			return sc, fmt.Errorf("decode score %q: %w", score.String, err)
		}
		sc.Score = &v
	}
	if evidence.Valid {
		sc.Evidence = new(domain.Evidence)
		if err := json.Unmarshal([]byte(evidence.String), sc.Evidence); err != nil {
			return sc, fmt.Errorf("decode evidence: %w", err)
		}
	}
	if stampScores.Valid {
		if err := json.Unmarshal([]byte(stampScores.String), &sc.StampScores); err != nil {
			return sc, fmt.Errorf("decode stamp scores: %w", err)
		}
	}
	if sc.ExpirationDate, err = parseNullTime(expiration); err != nil {
		return sc, err
	}
	if sc.LastScoreTimestamp, err = parseNullTime(lastScore); err != nil {
		return sc, err
	}
	if sc.CreatedAt, err = parseTime(created); err != nil {
		return sc, err
	}
	if sc.UpdatedAt, err = parseTime(updated); err != nil {
		return sc, err
	}
	return sc, nil
}

func encodeNullJSON(present bool, v any) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}
