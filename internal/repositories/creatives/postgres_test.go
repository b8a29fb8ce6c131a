package creatives

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

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

var columns = []string{"id", "direction_id", "title", "message", "media_type", "media_key", "media_size",
	"remote_creative_ids", "carousel_cards", "created_at"}

func TestGetByIDs_KeepsRequestedOrder(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`SELECT id, direction_id, .* FROM creatives WHERE id IN \(\$1, \$2, \$3\)`).
		WithArgs("c1", "c2", "c3").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("c2", "d1", "Two", "", "image", "b.png", int64(10), []byte(`{}`), []byte(`[]`), now).
			AddRow("c1", "d1", "One", "Hi", "video", "a.mp4", int64(20), []byte(`{"whatsapp":"cr-1"}`), []byte(`[]`), now))

	got, err := repo.GetByIDs(context.Background(), []string{"c1", "c2", "c3"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c1", got[0].ID)
	assert.Equal(t, "c2", got[1].ID)
	assert.Equal(t, models.MediaVideo, got[0].MediaType)

	id, ok := got[0].RemoteID(models.ObjectiveWhatsApp)
	assert.True(t, ok)
	assert.Equal(t, "cr-1", id)
	_, ok = got[1].RemoteID(models.ObjectiveWhatsApp)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByIDs_Carousel(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM creatives WHERE id IN \(\$1\)`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("c1", "d1", "Car", "", "carousel", "", int64(0), []byte(`{}`),
				[]byte(`[{"media_key":"1.png","media_type":"image","title":"one"}]`), time.Now()))

	got, err := repo.GetByIDs(context.Background(), []string{"c1"})
	require.NoError(t, err)
	require.Len(t, got[0].CarouselCards, 1)
	assert.Equal(t, "1.png", got[0].CarouselCards[0].MediaKey)
}

func TestGetByIDs_EmptyAndErrors(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	got, err := repo.GetByIDs(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, got)

	mock.ExpectQuery(`FROM creatives`).WithArgs("c1").WillReturnError(errors.New("db is down"))
	_, err = repo.GetByIDs(context.Background(), []string{"c1"})
	assert.ErrorContains(t, err, "failed to select creatives")

	mock.ExpectQuery(`FROM creatives`).WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("c1", "d1", "", "", "video", "", int64(0), []byte(`not json`), []byte(`[]`), time.Now()))
	_, err = repo.GetByIDs(context.Background(), []string{"c1"})
	assert.ErrorContains(t, err, "decode remote_creative_ids")
}

func TestSetRemoteCreativeID(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `UPDATE creatives\s+SET remote_creative_ids = .* jsonb_build_object\(\$2::text, \$3::text\)\s+WHERE id = \$1`

	mock.ExpectExec(q).WithArgs("c1", "whatsapp", "cr-1").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SetRemoteCreativeID(context.Background(), "c1", models.ObjectiveWhatsApp, "cr-1"))

	mock.ExpectExec(q).WithArgs("nope", "whatsapp", "cr-1").WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.SetRemoteCreativeID(context.Background(), "nope", models.ObjectiveWhatsApp, "cr-1")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	mock.ExpectExec(q).WithArgs("c1", "whatsapp", "cr-1").WillReturnError(errors.New("db is down"))
	err = repo.SetRemoteCreativeID(context.Background(), "c1", models.ObjectiveWhatsApp, "cr-1")
	assert.ErrorContains(t, err, "db error: db is down")

	mock.ExpectExec(q).WithArgs("c1", "whatsapp", "cr-1").WillReturnResult(sqlmock.NewErrorResult(errors.New("rows-err")))
	err = repo.SetRemoteCreativeID(context.Background(), "c1", models.ObjectiveWhatsApp, "cr-1")
	assert.ErrorContains(t, err, "rows affected error")

	require.NoError(t, mock.ExpectationsWereMet())
}
