package creatives

import (
	"context"

	"github.com/dmitrijs2005/adpipe/internal/models"
)

type Repository interface {
	GetByIDs(ctx context.Context, ids []string) ([]*models.Creative, error)
	SetRemoteCreativeID(ctx context.Context, creativeID string, objective models.Objective, remoteID string) error
}
