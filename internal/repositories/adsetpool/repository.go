package adsetpool

import (
	"context"

	"github.com/dmitrijs2005/adpipe/internal/models"
)

// Repository manages pre-created ad sets. Claim must run inside a
// transaction so the row lock holds until the status update commits.
type Repository interface {
	Claim(ctx context.Context, directionID string) (*models.PooledAdSet, error)
	// Peek returns the ad set Claim would take without changing its status.
	Peek(ctx context.Context, directionID string) (*models.PooledAdSet, error)
	Release(ctx context.Context, id string) error
}
