package models

import "time"

// MediaKind distinguishes uploaded asset types.
type MediaKind string

const (
	KindVideo MediaKind = "video"
	KindImage MediaKind = "image"
)

// MediaAsset is a media object stored by the platform. ID is the video id
// for videos and the image hash for images.
type MediaAsset struct {
	ID           string
	Kind         MediaKind
	Hash         string
	ThumbnailURL string
}

// CachedAsset is a MediaAsset remembered for a given source fingerprint.
type CachedAsset struct {
	Fingerprint string
	AdAccountID string
	Asset       MediaAsset
	CreatedAt   time.Time
}
