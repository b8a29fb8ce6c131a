// Package upload moves media to the Graph API: the resumable chunked video
// protocol (start, transfer, finish), single-request uploads for small
// files, image uploads, and video readiness polling.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dmitrijs2005/adpipe/internal/common"
	"github.com/dmitrijs2005/adpipe/internal/graph"
	"github.com/dmitrijs2005/adpipe/internal/logging"
	"github.com/dmitrijs2005/adpipe/internal/models"
	"github.com/dmitrijs2005/adpipe/internal/retry"
)

const (
	// DefaultChunkedThreshold is the size from which videos use the
	// chunked protocol.
	DefaultChunkedThreshold int64 = 100 << 20

	defaultMaxStalledWindows = 3
)

// Transport is the subset of *graph.Client the engine uses.
type Transport interface {
	Do(ctx context.Context, ec graph.ExecutionContext, req graph.Request) (json.RawMessage, error)
}

// AssetCache remembers assets already uploaded for a source fingerprint.
type AssetCache interface {
	Lookup(ctx context.Context, adAccountID, fingerprint string) (models.MediaAsset, bool, error)
	Store(ctx context.Context, adAccountID, fingerprint string, asset models.MediaAsset) error
}

// Options tune the engine. Zero values take defaults.
type Options struct {
	ChunkedThreshold int64
	// SimplePolicy covers the single-request video and image uploads.
	SimplePolicy retry.Policy
	// StartPolicy and FinishPolicy cover the session calls.
	StartPolicy  retry.Policy
	FinishPolicy retry.Policy
	// TransferPolicy applies to each chunk independently.
	TransferPolicy retry.Policy
	// MaxStalledWindows is how many consecutive transfer responses may
	// repeat the same window before the upload fails.
	MaxStalledWindows int
	PollInterval      time.Duration
	PollTimeout       time.Duration
}

func phasePolicy(timeout time.Duration) retry.Policy {
	return retry.Policy{
		MaxRetries:  4,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Timeout:     timeout,
		IsRetryable: graph.RetryableCall,
	}
}

// DefaultOptions returns production defaults: 2 minute session calls and
// 10 minute chunk transfers.
func DefaultOptions() Options {
	return Options{
		ChunkedThreshold:  DefaultChunkedThreshold,
		SimplePolicy:      phasePolicy(10 * time.Minute),
		StartPolicy:       phasePolicy(2 * time.Minute),
		FinishPolicy:      phasePolicy(2 * time.Minute),
		TransferPolicy:    phasePolicy(10 * time.Minute),
		MaxStalledWindows: defaultMaxStalledWindows,
		PollInterval:      5 * time.Second,
		PollTimeout:       10 * time.Minute,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.ChunkedThreshold <= 0 {
		o.ChunkedThreshold = def.ChunkedThreshold
	}
	if o.SimplePolicy.Timeout == 0 {
		o.SimplePolicy = def.SimplePolicy
	}
	if o.StartPolicy.Timeout == 0 {
		o.StartPolicy = def.StartPolicy
	}
	if o.FinishPolicy.Timeout == 0 {
		o.FinishPolicy = def.FinishPolicy
	}
	if o.TransferPolicy.Timeout == 0 {
		o.TransferPolicy = def.TransferPolicy
	}
	if o.MaxStalledWindows <= 0 {
		o.MaxStalledWindows = def.MaxStalledWindows
	}
	if o.PollInterval <= 0 {
		o.PollInterval = def.PollInterval
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = def.PollTimeout
	}
	return o
}

// Engine uploads media. It is safe for concurrent use; each upload keeps
// its session state on the stack.
type Engine struct {
	tr    Transport
	cache AssetCache
	opts  Options
	log   logging.Logger
}

// NewEngine builds an Engine. cache may be nil.
func NewEngine(tr Transport, cache AssetCache, opts Options, log logging.Logger) *Engine {
	return &Engine{
		tr:    tr,
		cache: cache,
		opts:  opts.withDefaults(),
		log:   logging.OrNop(log).With("component", "upload"),
	}
}

// Phase of a chunked upload session.
type Phase int

const (
	PhaseStart Phase = iota
	PhaseTransfer
	PhaseFinish
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhaseTransfer:
		return "transfer"
	case PhaseFinish:
		return "finish"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// Session is the client-side view of a chunked upload. Offsets are only
// ever taken from server responses.
type Session struct {
	ID               string
	VideoID          string
	TotalSize        int64
	BytesTransferred int64
	StartOffset      int64
	EndOffset        int64
	Phase            Phase
}

// VideoMeta is sent with the finish (or single-request) call.
type VideoMeta struct {
	Title       string
	Description string
}

func (m VideoMeta) params() graph.Params {
	p := graph.Params{}
	if m.Title != "" {
		p["title"] = m.Title
	}
	if m.Description != "" {
		p["description"] = m.Description
	}
	return p
}

// offset decodes a byte offset sent either as a JSON string or a number.
type offset int64

func (o *offset) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 {
		return fmt.Errorf("empty offset")
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid offset %q: %w", b, err)
	}
	*o = offset(n)
	return nil
}

type startResponse struct {
	UploadSessionID string  `json:"upload_session_id"`
	VideoID         string  `json:"video_id"`
	StartOffset     *offset `json:"start_offset"`
	EndOffset       *offset `json:"end_offset"`
}

type transferResponse struct {
	StartOffset *offset `json:"start_offset"`
	EndOffset   *offset `json:"end_offset"`
}

type finishResponse struct {
	Success bool   `json:"success"`
	VideoID string `json:"video_id"`
	ID      string `json:"id"`
}

// UploadVideo uploads src and returns the video asset. Files below the
// chunked threshold go in one request.
func (e *Engine) UploadVideo(ctx context.Context, ec graph.ExecutionContext, src ChunkSource, meta VideoMeta) (models.MediaAsset, error) {
	if src.Size() <= 0 {
		return models.MediaAsset{}, common.NewValidationError("video", src.Name(), "size", "must be positive")
	}
	if asset, ok := e.cached(ctx, ec, src); ok {
		return asset, nil
	}

	var (
		asset models.MediaAsset
		err   error
	)
	if src.Size() < e.opts.ChunkedThreshold {
		asset, err = e.uploadVideoSimple(ctx, ec, src, meta)
	} else {
		asset, err = e.uploadVideoChunked(ctx, ec, src, meta)
	}
	if err != nil {
		return models.MediaAsset{}, err
	}
	e.remember(ctx, ec, src, asset)
	return asset, nil
}

func (e *Engine) uploadVideoSimple(ctx context.Context, ec graph.ExecutionContext, src ChunkSource, meta VideoMeta) (models.MediaAsset, error) {
	size := src.Size()
	raw, err := e.tr.Do(ctx, ec, graph.Request{
		Method: "POST",
		Path:   ec.AccountPath("advideos"),
		Params: meta.params(),
		File: &graph.FilePart{
			Field:    "source",
			FileName: src.Name(),
			Size:     size,
			Open: func(ctx context.Context) (io.ReadCloser, error) {
				return src.OpenAt(ctx, 0, size)
			},
		},
		Policy: policyFor(e.opts.SimplePolicy, "upload video"),
	})
	if err != nil {
		return models.MediaAsset{}, fmt.Errorf("upload video %s: %w", src.Name(), err)
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.ID == "" {
		return models.MediaAsset{}, graph.NewProtocolError("POST", ec.AccountPath("advideos"), "upload response has no video id")
	}
	e.log.Info(ctx, "video uploaded", "name", src.Name(), "size", size, "video_id", resp.ID)
	return models.MediaAsset{ID: resp.ID, Kind: models.KindVideo}, nil
}

func (e *Engine) uploadVideoChunked(ctx context.Context, ec graph.ExecutionContext, src ChunkSource, meta VideoMeta) (models.MediaAsset, error) {
	path := ec.AccountPath("advideos")
	sess := &Session{TotalSize: src.Size(), Phase: PhaseStart}

	raw, err := e.tr.Do(ctx, ec, graph.Request{
		Method: "POST",
		Path:   path,
		Params: graph.Params{"upload_phase": "start", "file_size": sess.TotalSize},
		Policy: policyFor(e.opts.StartPolicy, "upload start"),
	})
	if err != nil {
		return models.MediaAsset{}, fmt.Errorf("upload %s: start: %w", src.Name(), err)
	}
	var start startResponse
	if err := json.Unmarshal(raw, &start); err != nil {
		return models.MediaAsset{}, graph.NewProtocolError("POST", path, "decode start response: %v", err)
	}
	if start.UploadSessionID == "" || start.StartOffset == nil || start.EndOffset == nil {
		return models.MediaAsset{}, graph.NewProtocolError("POST", path, "start response lacks session or window")
	}
	sess.ID = start.UploadSessionID
	sess.VideoID = start.VideoID
	if err := sess.advance(int64(*start.StartOffset), int64(*start.EndOffset)); err != nil {
		return models.MediaAsset{}, graph.NewProtocolError("POST", path, "start: %v", err)
	}
	sess.Phase = PhaseTransfer

	log := e.log.With("session_id", sess.ID, "name", src.Name())
	log.Info(ctx, "upload session started", "size", sess.TotalSize, "video_id", sess.VideoID)

	stalled := 0
	for sess.StartOffset != sess.EndOffset {
		from, length := sess.StartOffset, sess.EndOffset-sess.StartOffset

		raw, err := e.tr.Do(ctx, ec, graph.Request{
			Method: "POST",
			Path:   path,
			Params: graph.Params{
				"upload_phase":      "transfer",
				"upload_session_id": sess.ID,
				"start_offset":      from,
			},
			File: &graph.FilePart{
				Field:    "video_file_chunk",
				FileName: src.Name(),
				Size:     length,
				Open: func(ctx context.Context) (io.ReadCloser, error) {
					return src.OpenAt(ctx, from, length)
				},
			},
			Policy: policyFor(e.opts.TransferPolicy, "upload transfer"),
		})
		if err != nil {
			return models.MediaAsset{}, fmt.Errorf("upload %s: transfer at offset %d: %w", src.Name(), from, err)
		}

		var tr transferResponse
		if err := json.Unmarshal(raw, &tr); err != nil {
			return models.MediaAsset{}, graph.NewProtocolError("POST", path, "decode transfer response: %v", err)
		}
		if tr.StartOffset == nil || tr.EndOffset == nil {
			return models.MediaAsset{}, graph.NewProtocolError("POST", path, "transfer response lacks window")
		}
		next, end := int64(*tr.StartOffset), int64(*tr.EndOffset)
		if next < from {
			return models.MediaAsset{}, graph.NewProtocolError("POST", path,
				"window moved backwards: %d after %d", next, from)
		}
		if next == from {
			stalled++
			if stalled >= e.opts.MaxStalledWindows {
				return models.MediaAsset{}, graph.NewProtocolError("POST", path,
					"window stuck at [%d, %d) for %d responses", next, end, stalled)
			}
		} else {
			stalled = 0
		}
		if err := sess.advance(next, end); err != nil {
			return models.MediaAsset{}, graph.NewProtocolError("POST", path, "transfer: %v", err)
		}
		log.Debug(ctx, "chunk transferred",
			"start_offset", from, "length", length,
			"next_start", next, "next_end", end, "total", sess.TotalSize)
	}

	sess.Phase = PhaseFinish
	finishParams := meta.params()
	finishParams["upload_phase"] = "finish"
	finishParams["upload_session_id"] = sess.ID

	raw, err = e.tr.Do(ctx, ec, graph.Request{
		Method: "POST",
		Path:   path,
		Params: finishParams,
		Policy: policyFor(e.opts.FinishPolicy, "upload finish"),
	})
	if err != nil {
		return models.MediaAsset{}, fmt.Errorf("upload %s: finish: %w", src.Name(), err)
	}
	var fin finishResponse
	if err := json.Unmarshal(raw, &fin); err != nil {
		return models.MediaAsset{}, graph.NewProtocolError("POST", path, "decode finish response: %v", err)
	}
	id := firstNonEmpty(fin.VideoID, fin.ID, sess.VideoID)
	if id == "" {
		return models.MediaAsset{}, graph.NewProtocolError("POST", path, "no video id in start or finish response")
	}
	sess.Phase = PhaseDone
	log.Info(ctx, "upload session finished", "video_id", id, "bytes", sess.BytesTransferred)
	return models.MediaAsset{ID: id, Kind: models.KindVideo}, nil
}

// advance moves the session window to [start, end) after checking it lies
// within the file.
func (s *Session) advance(start, end int64) error {
	if start < 0 || end < 0 || start > s.TotalSize || end > s.TotalSize {
		return fmt.Errorf("window [%d, %d) outside file of %d bytes", start, end, s.TotalSize)
	}
	if end < start {
		return fmt.Errorf("window end %d before start %d", end, start)
	}
	s.StartOffset, s.EndOffset = start, end
	s.BytesTransferred = start
	return nil
}

// UploadImage uploads an image and returns it with its hash as the id.
func (e *Engine) UploadImage(ctx context.Context, ec graph.ExecutionContext, src ChunkSource) (models.MediaAsset, error) {
	size := src.Size()
	if size <= 0 {
		return models.MediaAsset{}, common.NewValidationError("image", src.Name(), "size", "must be positive")
	}
	if asset, ok := e.cached(ctx, ec, src); ok {
		return asset, nil
	}

	path := ec.AccountPath("adimages")
	raw, err := e.tr.Do(ctx, ec, graph.Request{
		Method: "POST",
		Path:   path,
		File: &graph.FilePart{
			Field:    src.Name(),
			FileName: src.Name(),
			Size:     size,
			Open: func(ctx context.Context) (io.ReadCloser, error) {
				return src.OpenAt(ctx, 0, size)
			},
		},
		Policy: policyFor(e.opts.SimplePolicy, "upload image"),
	})
	if err != nil {
		return models.MediaAsset{}, fmt.Errorf("upload image %s: %w", src.Name(), err)
	}

	var resp struct {
		Images map[string]struct {
			Hash string `json:"hash"`
			URL  string `json:"url"`
		} `json:"images"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return models.MediaAsset{}, graph.NewProtocolError("POST", path, "decode image response: %v", err)
	}
	img, ok := resp.Images[src.Name()]
	if !ok {
		for _, v := range resp.Images {
			img = v
			break
		}
	}
	if img.Hash == "" {
		return models.MediaAsset{}, graph.NewProtocolError("POST", path, "image response has no hash")
	}

	asset := models.MediaAsset{ID: img.Hash, Kind: models.KindImage, Hash: img.Hash, ThumbnailURL: img.URL}
	e.log.Info(ctx, "image uploaded", "name", src.Name(), "hash", img.Hash)
	e.remember(ctx, ec, src, asset)
	return asset, nil
}

func (e *Engine) cached(ctx context.Context, ec graph.ExecutionContext, src ChunkSource) (models.MediaAsset, bool) {
	fp, ok := src.(Fingerprinter)
	if e.cache == nil || !ok {
		return models.MediaAsset{}, false
	}
	asset, found, err := e.cache.Lookup(ctx, ec.AccountID(), fp.Fingerprint())
	if err != nil {
		e.log.Warn(ctx, "asset cache lookup failed", "name", src.Name(), "error", err)
		return models.MediaAsset{}, false
	}
	if found {
		e.log.Info(ctx, "asset cache hit", "name", src.Name(), "asset_id", asset.ID)
	}
	return asset, found
}

func (e *Engine) remember(ctx context.Context, ec graph.ExecutionContext, src ChunkSource, asset models.MediaAsset) {
	fp, ok := src.(Fingerprinter)
	if e.cache == nil || !ok || ec.DryRun {
		return
	}
	if err := e.cache.Store(ctx, ec.AccountID(), fp.Fingerprint(), asset); err != nil {
		e.log.Warn(ctx, "asset cache store failed", "name", src.Name(), "error", err)
	}
}

func policyFor(p retry.Policy, name string) *retry.Policy {
	p.Name = name
	return &p
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
