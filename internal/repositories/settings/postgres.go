// Package settings provides the PostgreSQL-backed repository for
// per-direction default settings.
package settings

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

// Get returns the settings of a direction, or common.ErrorNotFound.
func (r *PostgresRepository) Get(ctx context.Context, directionID string) (*models.DefaultSettings, error) {
	query := `
		SELECT direction_id, COALESCE(whatsapp_number, ''), COALESCE(pixel_id, ''), COALESCE(welcome_message, '')
		FROM default_settings WHERE direction_id = $1
	`
	var s models.DefaultSettings
	err := r.db.QueryRowContext(ctx, query, directionID).Scan(&s.DirectionID, &s.WhatsAppNumber, &s.PixelID, &s.WelcomeMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select default settings: %w", err)
	}
	return &s, nil
}
