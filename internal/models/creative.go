package models

import "time"

// MediaType of a creative.
type MediaType string

const (
	MediaVideo    MediaType = "video"
	MediaImage    MediaType = "image"
	MediaCarousel MediaType = "carousel"
)

// Creative is a user-provided creative. RemoteCreativeIDs holds the platform
// creative id per objective once one has been created.
type Creative struct {
	ID                string
	DirectionID       string
	Title             string
	Message           string
	MediaType         MediaType
	MediaKey          string // file path or object-store key
	MediaSize         int64
	RemoteCreativeIDs map[Objective]string
	CarouselCards     []CarouselCard
	CreatedAt         time.Time
}

// RemoteID returns the platform creative id for o, if any.
func (c *Creative) RemoteID(o Objective) (string, bool) {
	id, ok := c.RemoteCreativeIDs[o]
	return id, ok && id != ""
}

// CarouselCard is one card of a carousel creative.
type CarouselCard struct {
	MediaKey    string    `json:"media_key"`
	MediaType   MediaType `json:"media_type"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
}
