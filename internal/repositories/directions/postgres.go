// Package directions provides the PostgreSQL-backed repository for
// directions (campaign lines).
package directions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/adpipe/internal/common"
	"github.com/dmitrijs2005/adpipe/internal/dbx"
	"github.com/dmitrijs2005/adpipe/internal/models"
)

// PostgresRepository implements direction storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get loads a direction by id. Returns common.ErrorNotFound if it does not exist.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Direction, error) {
	query := `
		SELECT id, user_account_id, name, objective, COALESCE(campaign_id, ''), daily_budget_cents,
			COALESCE(targeting, '{}'::jsonb),
			COALESCE(page_id, ''), COALESCE(instagram_actor_id, ''), COALESCE(instagram_username, ''),
			COALESCE(pixel_id, ''), COALESCE(conversion_event, ''), COALESCE(lead_form_id, ''),
			COALESCE(whatsapp_number, ''), COALESCE(legacy_whatsapp_number, ''),
			COALESCE(site_url, ''), COALESCE(app_id, ''), COALESCE(app_store_url, ''), active
		FROM directions WHERE id = $1
	`
	var (
		d         models.Direction
		objective string
		targeting []byte
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&d.ID, &d.UserAccountID, &d.Name, &objective, &d.CampaignID, &d.DailyBudgetCents,
		&targeting,
		&d.PageID, &d.InstagramActorID, &d.InstagramUsername,
		&d.PixelID, &d.ConversionEvent, &d.LeadFormID,
		&d.WhatsAppNumber, &d.LegacyWhatsAppNumber,
		&d.SiteURL, &d.AppID, &d.AppStoreURL, &d.Active,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select direction: %w", err)
	}
	d.Objective = models.Objective(objective)
	d.Targeting = targeting
	return &d, nil
}
