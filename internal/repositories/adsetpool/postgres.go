// Package adsetpool provides the PostgreSQL pool of paused ad sets that the
// workflow can claim instead of creating new ones.
package adsetpool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/adpipe/internal/common"
	"github.com/dmitrijs2005/adpipe/internal/dbx"
	"github.com/dmitrijs2005/adpipe/internal/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Claim marks the oldest ready ad set of a direction as in use and returns
// it. Returns common.ErrorNotFound when the pool is empty.
func (r *PostgresRepository) Claim(ctx context.Context, directionID string) (*models.PooledAdSet, error) {
	query := `
		SELECT id, direction_id, adset_id FROM pooled_adsets
		WHERE direction_id = $1 AND status = 'ready'
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`
	var p models.PooledAdSet
	err := r.db.QueryRowContext(ctx, query, directionID).Scan(&p.ID, &p.DirectionID, &p.AdSetID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select pooled ad set: %w", err)
	}

	err = r.db.QueryRowContext(ctx,
		`UPDATE pooled_adsets SET status = 'in_use', claimed_at = now() WHERE id = $1 RETURNING claimed_at`,
		p.ID).Scan(&p.ClaimedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pooled ad set: %w", err)
	}
	p.Status = models.PoolInUse
	return &p, nil
}

// Peek returns the oldest ready ad set of a direction without claiming it.
func (r *PostgresRepository) Peek(ctx context.Context, directionID string) (*models.PooledAdSet, error) {
	query := `
		SELECT id, direction_id, adset_id FROM pooled_adsets
		WHERE direction_id = $1 AND status = 'ready'
		ORDER BY created_at
		LIMIT 1
	`
	p := models.PooledAdSet{Status: models.PoolReady}
	err := r.db.QueryRowContext(ctx, query, directionID).Scan(&p.ID, &p.DirectionID, &p.AdSetID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select pooled ad set: %w", err)
	}
	return &p, nil
}

// Release returns a claimed ad set to the pool.
func (r *PostgresRepository) Release(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE pooled_adsets SET status = 'ready', claimed_at = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
