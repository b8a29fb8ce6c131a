package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/adpipe/internal/graph"
)

var (
	ErrVideoProcessingFailed = errors.New("video processing failed")
	ErrVideoNotReady         = errors.New("video not ready before deadline")
)

const (
	videoStatusReady = "ready"
	videoStatusError = "error"
)

type videoStatus struct {
	Status struct {
		VideoStatus string `json:"video_status"`
	} `json:"status"`
}

// AwaitVideoReady polls the video status until the platform reports it
// ready, the status becomes error, or PollTimeout elapses.
func (e *Engine) AwaitVideoReady(ctx context.Context, ec graph.ExecutionContext, videoID string) error {
	ctx, cancel := context.WithTimeout(ctx, e.opts.PollTimeout)
	defer cancel()

	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	for {
		raw, err := e.tr.Do(ctx, ec, graph.Request{
			Method: "GET",
			Path:   videoID,
			Params: graph.Params{"fields": "status"},
		})
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("video %s: %w: %w", videoID, ErrVideoNotReady, ctx.Err())
			}
			return fmt.Errorf("video %s status: %w", videoID, err)
		}
		var st videoStatus
		if err := json.Unmarshal(raw, &st); err != nil {
			return graph.NewProtocolError("GET", videoID, "decode video status: %v", err)
		}

		switch st.Status.VideoStatus {
		case videoStatusReady:
			return nil
		case videoStatusError:
			return fmt.Errorf("video %s: %w", videoID, ErrVideoProcessingFailed)
		}
		e.log.Debug(ctx, "video still processing", "video_id", videoID, "status", st.Status.VideoStatus)

		select {
		case <-ctx.Done():
			return fmt.Errorf("video %s: %w: %w", videoID, ErrVideoNotReady, ctx.Err())
		case <-ticker.C:
		}
	}
}

// PreferredThumbnail returns the preferred thumbnail URI of a video, the
// first one when none is marked preferred, or "" when there are none.
func (e *Engine) PreferredThumbnail(ctx context.Context, ec graph.ExecutionContext, videoID string) (string, error) {
	raw, err := e.tr.Do(ctx, ec, graph.Request{Method: "GET", Path: videoID + "/thumbnails"})
	if err != nil {
		return "", fmt.Errorf("video %s thumbnails: %w", videoID, err)
	}
	var resp struct {
		Data []struct {
			URI         string `json:"uri"`
			IsPreferred bool   `json:"is_preferred"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", graph.NewProtocolError("GET", videoID+"/thumbnails", "decode thumbnails: %v", err)
	}
	for _, t := range resp.Data {
		if t.IsPreferred {
			return t.URI, nil
		}
	}
	if len(resp.Data) > 0 {
		return resp.Data[0].URI, nil
	}
	return "", nil
}
