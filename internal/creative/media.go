package creative

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/adpipe/internal/common"
	"github.com/dmitrijs2005/adpipe/internal/graph"
	"github.com/dmitrijs2005/adpipe/internal/models"
	"github.com/dmitrijs2005/adpipe/internal/upload"
)

// MediaUploader is the subset of *upload.Engine the service uses.
type MediaUploader interface {
	UploadVideo(ctx context.Context, ec graph.ExecutionContext, src upload.ChunkSource, meta upload.VideoMeta) (models.MediaAsset, error)
	UploadImage(ctx context.Context, ec graph.ExecutionContext, src upload.ChunkSource) (models.MediaAsset, error)
	AwaitVideoReady(ctx context.Context, ec graph.ExecutionContext, videoID string) error
	PreferredThumbnail(ctx context.Context, ec graph.ExecutionContext, videoID string) (string, error)
}

// SourceResolver turns a creative media key into a readable source.
type SourceResolver interface {
	Resolve(ctx context.Context, key string) (upload.ChunkSource, error)
}

// EnsureMedia uploads the media of c and returns the assets in card order.
// Videos are awaited until ready and get their preferred thumbnail.
func (s *Service) EnsureMedia(ctx context.Context, ec graph.ExecutionContext, c *models.Creative) ([]models.MediaAsset, error) {
	if s.media == nil || s.sources == nil {
		return nil, fmt.Errorf("creative %s: no media uploader configured", c.ID)
	}

	items, err := mediaItems(c)
	if err != nil {
		return nil, err
	}

	assets := make([]models.MediaAsset, 0, len(items))
	for _, it := range items {
		src, err := s.sources.Resolve(ctx, it.key)
		if err != nil {
			return nil, fmt.Errorf("creative %s: resolve %s: %w", c.ID, it.key, err)
		}
		var asset models.MediaAsset
		if it.kind == models.MediaVideo {
			asset, err = s.uploadVideo(ctx, ec, src, c.Title)
		} else {
			asset, err = s.media.UploadImage(ctx, ec, src)
		}
		if err != nil {
			return nil, fmt.Errorf("creative %s: %w", c.ID, err)
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

type mediaItem struct {
	key  string
	kind models.MediaType
}

// mediaItems lists the media of c in card order.
func mediaItems(c *models.Creative) ([]mediaItem, error) {
	switch c.MediaType {
	case models.MediaVideo, models.MediaImage:
		if c.MediaKey == "" {
			return nil, common.NewValidationError("creative", c.ID, "media_key", "is empty")
		}
		return []mediaItem{{c.MediaKey, c.MediaType}}, nil
	case models.MediaCarousel:
		if n := len(c.CarouselCards); n < minCarouselCards || n > maxCarouselCards {
			return nil, common.NewValidationError("creative", c.ID, "carousel_cards", "carousel needs 2 to 10 cards")
		}
		items := make([]mediaItem, 0, len(c.CarouselCards))
		for i, card := range c.CarouselCards {
			if card.MediaKey == "" {
				return nil, common.NewValidationError("creative", c.ID, fmt.Sprintf("carousel_cards[%d].media_key", i), "is empty")
			}
			items = append(items, mediaItem{card.MediaKey, card.MediaType})
		}
		return items, nil
	}
	return nil, common.NewValidationError("creative", c.ID, "media_type", fmt.Sprintf("unsupported %q", c.MediaType))
}

// Preflight reports, without any upload or remote call, the local
// configuration problems that would make BuildForCreative fail for c under d.
func Preflight(ec graph.ExecutionContext, c *models.Creative, d *models.Direction) error {
	if d == nil {
		return common.NewValidationError("creative", c.ID, "direction", "is required")
	}
	dest, err := DestinationFor(d.Objective)
	if err != nil {
		return common.NewValidationError("direction", d.ID, "objective", err.Error())
	}
	if firstNonEmpty(d.PageID, ec.PageID) == "" {
		return common.NewValidationError("direction", d.ID, "page_id", "is required for creatives")
	}
	if _, _, err := linkAndCTA(d, dest); err != nil {
		return err
	}
	_, err = mediaItems(c)
	return err
}

func (s *Service) uploadVideo(ctx context.Context, ec graph.ExecutionContext, src upload.ChunkSource, title string) (models.MediaAsset, error) {
	asset, err := s.media.UploadVideo(ctx, ec, src, upload.VideoMeta{Title: title})
	if err != nil {
		return models.MediaAsset{}, err
	}
	if ec.DryRun {
		return asset, nil
	}
	if err := s.media.AwaitVideoReady(ctx, ec, asset.ID); err != nil {
		return models.MediaAsset{}, err
	}
	if asset.ThumbnailURL == "" {
		thumb, err := s.media.PreferredThumbnail(ctx, ec, asset.ID)
		if err != nil {
			s.log.Warn(ctx, "thumbnail lookup failed", "video_id", asset.ID, "error", err)
		}
		asset.ThumbnailURL = thumb
	}
	return asset, nil
}

// BuildForCreative uploads the media of c and creates its platform creative
// for the direction's objective.
func (s *Service) BuildForCreative(ctx context.Context, ec graph.ExecutionContext, c *models.Creative, d *models.Direction, settings *models.DefaultSettings) (Result, error) {
	if err := Preflight(ec, c, d); err != nil {
		return Result{}, err
	}
	assets, err := s.EnsureMedia(ctx, ec, c)
	if err != nil {
		return Result{}, err
	}
	name := c.Title
	if name == "" {
		name = "creative " + c.ID
	}
	return s.BuildCreative(ctx, ec, Input{
		MediaType: c.MediaType,
		Media:     assets,
		Cards:     c.CarouselCards,
		Name:      name,
		Message:   c.Message,
		Title:     c.Title,
		Direction: d,
		Settings:  settings,
	})
}
