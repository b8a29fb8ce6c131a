package settings

import (
	"context"

	"github.com/dmitrijs2005/adpipe/internal/models"
)

type Repository interface {
	Get(ctx context.Context, directionID string) (*models.DefaultSettings, error)
}
