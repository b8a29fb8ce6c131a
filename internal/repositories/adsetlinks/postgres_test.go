package adsetlinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/adpipe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsert(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresRepository(db)

	now := time.Now()
	link := &models.DirectionAdsetLink{ID: "l1", DirectionID: "d1", AdSetID: "as-1", Mode: models.AdSetModePool}
	mock.ExpectQuery(`INSERT INTO direction_adset_links .* RETURNING created_at`).
		WithArgs("l1", "d1", "as-1", "pool").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))

	require.NoError(t, repo.Insert(context.Background(), link))
	assert.Equal(t, now, link.CreatedAt)

	mock.ExpectQuery(`INSERT INTO direction_adset_links`).WillReturnError(errors.New("fk violation"))
	assert.ErrorContains(t, repo.Insert(context.Background(), link), "fk violation")
	require.NoError(t, mock.ExpectationsWereMet())
}
