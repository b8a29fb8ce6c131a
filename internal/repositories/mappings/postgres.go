// Package mappings provides the insert-only PostgreSQL repository of ad to
// creative mappings used for attribution.
package mappings

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

// Insert adds a mapping and fills CreatedAt from the database.
func (r *PostgresRepository) Insert(ctx context.Context, m *models.AdCreativeMapping) error {
	query := `
		INSERT INTO ad_creative_mappings (id, ad_id, creative_id, direction_id, adset_id, campaign_id, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		m.ID, m.AdID, m.CreativeID, m.DirectionID, m.AdSetID, m.CampaignID, m.Source).Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

// ListByDirection returns the mappings of a direction, newest first.
func (r *PostgresRepository) ListByDirection(ctx context.Context, directionID string) ([]*models.AdCreativeMapping, error) {
	query := `
		SELECT id, ad_id, creative_id, direction_id, adset_id, campaign_id, source, created_at
		FROM ad_creative_mappings WHERE direction_id = $1 ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, directionID)
	if err != nil {
		return nil, fmt.Errorf("failed to select mappings: %w", err)
	}
	defer rows.Close()

	var result []*models.AdCreativeMapping
	for rows.Next() {
		var m models.AdCreativeMapping
		if err := rows.Scan(&m.ID, &m.AdID, &m.CreativeID, &m.DirectionID, &m.AdSetID, &m.CampaignID, &m.Source, &m.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
