// Package adsetlinks records which ad sets each direction used.
package adsetlinks

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/adpipe/internal/dbx"
	"github.com/dmitrijs2005/adpipe/internal/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, link *models.DirectionAdsetLink) error {
	query := `
		INSERT INTO direction_adset_links (id, direction_id, adset_id, mode)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	err := r.db.QueryRowContext(ctx, query, link.ID, link.DirectionID, link.AdSetID, string(link.Mode)).Scan(&link.CreatedAt)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}
