package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stampscore/stampscore/internal/domain"
)

// ─── Scorer Operations ──────────────────────────────────────────────────────

// CreateScorer inserts a new scorer row. Existing rows are never modified.
func (d *DB) CreateScorer(ctx context.Context, cfg domain.ScorerConfig) (domain.ScorerConfig, error) {
	weights := cfg.Weights
	if weights == nil {
		weights = map[string]string{}
	}
	raw, err := json.Marshal(weights)
	if err != nil {
		return cfg, fmt.Errorf("%w: encode weights: %w", domain.ErrConfiguration, err)
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now()
	}
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO scorers (type, weights_json, threshold, created_at)
		VALUES (?, ?, ?, ?)
	`, string(cfg.Type), string(raw), cfg.Threshold, fmtTime(cfg.CreatedAt))
	if err != nil {
		return cfg, storeErr("insert scorer", err)
	}
	if cfg.ID, err = res.LastInsertId(); err != nil {
		return cfg, storeErr("insert scorer", err)
	}
	cfg.CreatedAt = cfg.CreatedAt.UTC()
	return cfg, nil
}

// GetScorer loads a scorer row.
func (d *DB) GetScorer(ctx context.Context, id int64) (domain.ScorerConfig, error) {
	var (
		cfg      domain.ScorerConfig
		typ, raw string
		created  string
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT id, type, weights_json, threshold, created_at FROM scorers WHERE id = ?
	`, id).Scan(&cfg.ID, &typ, &raw, &cfg.Threshold, &created)
	if isNoRows(err) {
		return cfg, fmt.Errorf("%w: id %d", domain.ErrScorerNotFound, id)
	}
	if err != nil {
		return cfg, storeErr("get scorer", err)
	}
	cfg.Type = domain.ScorerType(typ)
	// A weight map that does not decode is a configuration defect, not a
	// storage failure: the community must stop being usable.
	if err := json.Unmarshal([]byte(raw), &cfg.Weights); err != nil {
		return cfg, fmt.Errorf("%w: scorer %d weights: %w", domain.ErrConfiguration, id, err)
	}
	if cfg.CreatedAt, err = parseTime(created); err != nil {
		return cfg, storeErr("get scorer", err)
	}
	return cfg, nil
}

// ─── Community Operations ───────────────────────────────────────────────────

const communityColumns = `id, name, account_id, dedup_policy, dedup_scope, scorer_id, created_at, deleted_at`

// CreateCommunity validates and inserts a community.
func (d *DB) CreateCommunity(ctx context.Context, c domain.Community) (domain.Community, error) {
	if err := c.Validate(); err != nil {
		return c, err
	}
	if _, err := d.GetScorer(ctx, c.ScorerID); err != nil {
		return c, err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO communities (name, account_id, dedup_policy, dedup_scope, scorer_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.Name, c.AccountID, string(c.DedupPolicy), c.DedupScope, c.ScorerID, fmtTime(c.CreatedAt))
	if err != nil {
		return c, storeErr("insert community", err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return c, storeErr("insert community", err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

// GetCommunity returns a live community. Soft-deleted rows are not found.
func (d *DB) GetCommunity(ctx context.Context, id int64) (domain.Community, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT `+communityColumns+` FROM communities WHERE id = ? AND deleted_at IS NULL
	`, id)
	c, err := scanCommunity(row)
	if isNoRows(err) {
		return c, fmt.Errorf("%w: id %d", domain.ErrCommunityNotFound, id)
	}
	if err != nil {
		return c, storeErr("get community", err)
	}
	return c, nil
}

// ListCommunities returns all live communities ordered by id.
func (d *DB) ListCommunities(ctx context.Context) ([]domain.Community, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+communityColumns+` FROM communities WHERE deleted_at IS NULL ORDER BY id
	`)
	if err != nil {
		return nil, storeErr("list communities", err)
	}
	defer rows.Close()

	var result []domain.Community
	for rows.Next() {
		c, err := scanCommunity(rows)
		if err != nil {
			return nil, storeErr("list communities", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list communities", err)
	}
	return result, nil
}

// SetCommunityScorer points a community at another scorer row. The old row
// stays for interpreting historical scores.
func (d *DB) SetCommunityScorer(ctx context.Context, communityID, scorerID int64) error {
	if _, err := d.GetScorer(ctx, scorerID); err != nil {
		return err
	}
	res, err := d.db.ExecContext(ctx, `
		UPDATE communities SET scorer_id = ? WHERE id = ? AND deleted_at IS NULL
	`, scorerID, communityID)
	if err != nil {
		return storeErr("set community scorer", err)
	}
	return requireAffected(res, fmt.Errorf("%w: id %d", domain.ErrCommunityNotFound, communityID))
}

// SoftDeleteCommunity marks a community deleted. Score history is kept.
func (d *DB) SoftDeleteCommunity(ctx context.Context, id int64, at time.Time) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE communities SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL
	`, fmtTime(at), id)
	if err != nil {
		return storeErr("delete community", err)
	}
	return requireAffected(res, fmt.Errorf("%w: id %d", domain.ErrCommunityNotFound, id))
}

func scanCommunity(s scanner) (domain.Community, error) {
	var (
		c       domain.Community
		policy  string
		created string
		deleted sql.NullString
	)
	if err := s.Scan(&c.ID, &c.Name, &c.AccountID, &policy, &c.DedupScope, &c.ScorerID, &created, &deleted); err != nil {
		return c, err
	}
	c.DedupPolicy = domain.DedupPolicy(policy)
	var err error
	if c.CreatedAt, err = parseTime(created); err != nil {
		return c, err
	}
	if c.DeletedAt, err = parseNullTime(deleted); err != nil {
		return c, err
	}
	return c, nil
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("rows affected", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
