package directions

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/adpipe/internal/common"
	"github.com/dmitrijs2005/adpipe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

var columns = []string{
	"id", "user_account_id", "name", "objective", "campaign_id", "daily_budget_cents", "targeting",
	"page_id", "instagram_actor_id", "instagram_username", "pixel_id", "conversion_event", "lead_form_id",
	"whatsapp_number", "legacy_whatsapp_number", "site_url", "app_id", "app_store_url", "active",
}

func TestGet_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, user_account_id, name, objective, .* FROM directions WHERE id = \$1`).
		WithArgs("d1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			"d1", "u1", "Spring", "whatsapp", "cmp-1", int64(150000), []byte(`{"geo_locations":{"countries":["KZ"]}}`),
			"page-1", "", "", "", "", "", "+77001112233", "", "", "", "", true,
		))

	d, err := repo.Get(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, models.ObjectiveWhatsApp, d.Objective)
	assert.Equal(t, "cmp-1", d.CampaignID)
	assert.EqualValues(t, 150000, d.DailyBudgetCents)
	assert.JSONEq(t, `{"geo_locations":{"countries":["KZ"]}}`, string(d.Targeting))
	assert.Equal(t, "+77001112233", d.WhatsAppNumber)
	assert.True(t, d.Active)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM directions WHERE id = \$1`).WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestGet_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM directions`).WithArgs("d1").WillReturnError(errors.New("db is down"))

	_, err := repo.Get(context.Background(), "d1")
	assert.ErrorContains(t, err, "failed to select direction: db is down")
}
