package mappings

import (
	"context"

	"github.com/dmitrijs2005/adpipe/internal/models"
)

// Repository stores ad to creative mappings. Rows are never updated.
type Repository interface {
	Insert(ctx context.Context, m *models.AdCreativeMapping) error
	ListByDirection(ctx context.Context, directionID string) ([]*models.AdCreativeMapping, error)
}
