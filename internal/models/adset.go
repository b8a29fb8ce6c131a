package models

import "time"

// AdSetMode selects how the workflow obtains an ad set.
type AdSetMode string

const (
	AdSetModeCreate AdSetMode = "create"
	AdSetModePool   AdSetMode = "pool"
)

// PoolStatus of a pre-created ad set.
type PoolStatus string

const (
	PoolReady PoolStatus = "ready"
	PoolInUse PoolStatus = "in_use"
)

// PooledAdSet is a paused ad set created ahead of time for a direction.
type PooledAdSet struct {
	ID          string
	DirectionID string
	AdSetID     string
	Status      PoolStatus
	ClaimedAt   *time.Time
}

// DirectionAdsetLink records which ad set a direction used. Insert-only.
type DirectionAdsetLink struct {
	ID          string
	DirectionID string
	AdSetID     string
	Mode        AdSetMode
	CreatedAt   time.Time
}

// AdCreativeMapping ties a created ad to the creative it was built from.
// Insert-only.
type AdCreativeMapping struct {
	ID          string
	AdID        string
	CreativeID  string
	DirectionID string
	AdSetID     string
	CampaignID  string
	Source      string
	CreatedAt   time.Time
}
