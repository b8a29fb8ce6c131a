package adsetlinks

import (
	"context"

	"github.com/dmitrijs2005/adpipe/internal/models"
)

type Repository interface {
	Insert(ctx context.Context, link *models.DirectionAdsetLink) error
}
