package directions

import (
	"context"

	"github.com/dmitrijs2005/adpipe/internal/models"
)

type Repository interface {
	Get(ctx context.Context, id string) (*models.Direction, error)
}
