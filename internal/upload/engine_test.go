package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/adpipe/internal/graph"
	"github.com/dmitrijs2005/adpipe/internal/models"
	"github.com/dmitrijs2005/adpipe/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mb = 1 << 20

func fastPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries:     2,
		BaseDelay:      time.Millisecond,
		MaxDelay:       2 * time.Millisecond,
		Timeout:        5 * time.Second,
		JitterFraction: -1,
		IsRetryable:    graph.RetryableCall,
	}
}

func testOptions(threshold int64) Options {
	p := fastPolicy()
	return Options{
		ChunkedThreshold: threshold,
		SimplePolicy:     p,
		StartPolicy:      p,
		FinishPolicy:     p,
		TransferPolicy:   p,
		PollInterval:     time.Millisecond,
		PollTimeout:      time.Second,
	}
}

func testEC() graph.ExecutionContext {
	return graph.ExecutionContext{AccessToken: "tok", AdAccountID: "42"}
}

func newEngine(t *testing.T, h http.Handler, opts Options, cache AssetCache) *Engine {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client := graph.NewClient(graph.Options{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		Policy:     fastPolicy(),
	}, nil)
	return NewEngine(client, cache, opts, nil)
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

// chunkServer emulates the resumable upload endpoint. It hands out windows
// of at most window bytes and records every chunk it accepts.
type chunkServer struct {
	t         *testing.T
	size      int64
	window    int64
	numeric   bool // send offsets as JSON numbers
	failFirst bool // answer the first transfer with 503

	mu        sync.Mutex
	received  bytes.Buffer
	starts    []int64
	transfers int
	finished  bool
	// next overrides the window returned after a transfer.
	next func(start, end int64) (int64, int64)
}

func (s *chunkServer) offsets(start, end int64) map[string]any {
	if s.numeric {
		return map[string]any{"start_offset": start, "end_offset": end}
	}
	return map[string]any{"start_offset": strconv.FormatInt(start, 10), "end_offset": strconv.FormatInt(end, 10)}
}

func (s *chunkServer) window0(from int64) int64 {
	return min(from+s.window, s.size)
}

func (s *chunkServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 * mb); err != nil {
		_ = r.ParseForm()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.FormValue("upload_phase") {
	case "start":
		assert.Equal(s.t, strconv.FormatInt(s.size, 10), r.FormValue("file_size"))
		resp := s.offsets(0, s.window0(0))
		resp["upload_session_id"] = "sess-1"
		resp["video_id"] = "vid-1"
		_ = json.NewEncoder(w).Encode(resp)

	case "transfer":
		s.transfers++
		if s.failFirst && s.transfers == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"error":{"message":"try later","code":2}}`)
			return
		}
		assert.Equal(s.t, "sess-1", r.FormValue("upload_session_id"))
		from, _ := strconv.ParseInt(r.FormValue("start_offset"), 10, 64)
		f, _, err := r.FormFile("video_file_chunk")
		if !assert.NoError(s.t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		chunk, _ := io.ReadAll(f)
		f.Close()
		if int64(s.received.Len()) == from {
			s.received.Write(chunk)
		}
		s.starts = append(s.starts, from)

		next := from + int64(len(chunk))
		start, end := next, s.window0(next)
		if s.next != nil {
			start, end = s.next(from, next)
		}
		_ = json.NewEncoder(w).Encode(s.offsets(start, end))

	case "finish":
		assert.Equal(s.t, "sess-1", r.FormValue("upload_session_id"))
		assert.Equal(s.t, "My video", r.FormValue("title"))
		s.finished = true
		_, _ = io.WriteString(w, `{"success":true}`)

	default:
		// Single-request upload.
		f, hdr, err := r.FormFile("source")
		if !assert.NoError(s.t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		f.Close()
		s.received.Write(data)
		assert.Equal(s.t, "clip.mp4", hdr.Filename)
		_, _ = io.WriteString(w, `{"id":"vid-simple"}`)
	}
}

// countingSource records OpenAt calls.
type countingSource struct {
	*BytesSource
	mu    sync.Mutex
	opens map[int64]int
}

func (c *countingSource) OpenAt(ctx context.Context, off, n int64) (io.ReadCloser, error) {
	c.mu.Lock()
	if c.opens == nil {
		c.opens = map[int64]int{}
	}
	c.opens[off]++
	c.mu.Unlock()
	return c.BytesSource.OpenAt(ctx, off, n)
}

func TestUploadVideo_ChunkedWindows(t *testing.T) {
	data := pattern(20 * mb)
	srv := &chunkServer{t: t, size: int64(len(data)), window: 8 * mb}
	e := newEngine(t, srv, testOptions(mb), nil)

	asset, err := e.UploadVideo(context.Background(), testEC(), NewBytesSource("clip.mp4", data), VideoMeta{Title: "My video"})
	require.NoError(t, err)

	assert.Equal(t, models.MediaAsset{ID: "vid-1", Kind: models.KindVideo}, asset)
	assert.Equal(t, 3, srv.transfers)
	assert.Equal(t, []int64{0, 8 * mb, 16 * mb}, srv.starts)
	assert.True(t, srv.finished)
	assert.True(t, bytes.Equal(data, srv.received.Bytes()), "server must receive the exact file")
}

func TestUploadVideo_NumericOffsetsAndServerChosenWindows(t *testing.T) {
	data := pattern(3 * mb)
	srv := &chunkServer{t: t, size: int64(len(data)), window: mb, numeric: true}
	// The server asks for smaller windows than it offered at start.
	srv.next = func(_, next int64) (int64, int64) {
		return next, min(next+mb/2, int64(len(data)))
	}
	e := newEngine(t, srv, testOptions(mb), nil)

	_, err := e.UploadVideo(context.Background(), testEC(), NewBytesSource("clip.mp4", data), VideoMeta{Title: "My video"})
	require.NoError(t, err)
	assert.Equal(t, 5, srv.transfers)
	assert.True(t, bytes.Equal(data, srv.received.Bytes()))
}

func TestUploadVideo_ReopensSourcePerAttempt(t *testing.T) {
	data := pattern(2 * mb)
	srv := &chunkServer{t: t, size: int64(len(data)), window: mb, failFirst: true}
	e := newEngine(t, srv, testOptions(mb), nil)

	src := &countingSource{BytesSource: NewBytesSource("clip.mp4", data)}
	_, err := e.UploadVideo(context.Background(), testEC(), src, VideoMeta{Title: "My video"})
	require.NoError(t, err)

	assert.Equal(t, 2, src.opens[0], "failed chunk is reopened for the retry")
	assert.Equal(t, 1, src.opens[mb])
	assert.True(t, bytes.Equal(data, srv.received.Bytes()))
}

func TestUploadVideo_BackwardsWindowIsProtocolError(t *testing.T) {
	data := pattern(2 * mb)
	srv := &chunkServer{t: t, size: int64(len(data)), window: mb}
	srv.next = func(from, _ int64) (int64, int64) {
		if from == 0 {
			return mb, 2 * mb
		}
		return 0, mb
	}
	e := newEngine(t, srv, testOptions(mb), nil)

	_, err := e.UploadVideo(context.Background(), testEC(), NewBytesSource("clip.mp4", data), VideoMeta{Title: "My video"})
	assert.ErrorIs(t, err, graph.ErrProtocol)
	assert.False(t, srv.finished)
}

func TestUploadVideo_WindowBeyondFileIsProtocolError(t *testing.T) {
	data := pattern(2 * mb)
	srv := &chunkServer{t: t, size: int64(len(data)), window: mb}
	srv.next = func(_, next int64) (int64, int64) { return next, 5 * mb }
	e := newEngine(t, srv, testOptions(mb), nil)

	_, err := e.UploadVideo(context.Background(), testEC(), NewBytesSource("clip.mp4", data), VideoMeta{Title: "My video"})
	assert.ErrorIs(t, err, graph.ErrProtocol)
}

func TestUploadVideo_StalledWindowIsProtocolError(t *testing.T) {
	data := pattern(2 * mb)
	srv := &chunkServer{t: t, size: int64(len(data)), window: mb}
	srv.next = func(from, _ int64) (int64, int64) { return from, from + mb }
	e := newEngine(t, srv, testOptions(mb), nil)

	_, err := e.UploadVideo(context.Background(), testEC(), NewBytesSource("clip.mp4", data), VideoMeta{Title: "My video"})
	assert.ErrorIs(t, err, graph.ErrProtocol)
	assert.Equal(t, defaultMaxStalledWindows, srv.transfers)
}

func TestUploadVideo_TransferFailureAborts(t *testing.T) {
	var transfers atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseMultipartForm(32 * mb)
		if r.FormValue("upload_phase") == "start" {
			_, _ = io.WriteString(w, `{"upload_session_id":"s","video_id":"v","start_offset":"0","end_offset":"1048576"}`)
			return
		}
		if r.FormValue("upload_phase") == "finish" {
			t.Error("finish must not be called")
		}
		transfers.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"message":"boom","code":1}}`)
	})
	e := newEngine(t, h, testOptions(mb), nil)

	_, err := e.UploadVideo(context.Background(), testEC(), NewBytesSource("clip.mp4", pattern(2*mb)), VideoMeta{})
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrTransient)
	assert.EqualValues(t, 3, transfers.Load())
}

func TestUploadVideo_SimplePathBelowThreshold(t *testing.T) {
	data := pattern(64 * 1024)
	srv := &chunkServer{t: t, size: int64(len(data))}
	e := newEngine(t, srv, testOptions(mb), nil)

	asset, err := e.UploadVideo(context.Background(), testEC(), NewBytesSource("clip.mp4", data), VideoMeta{Title: "My video"})
	require.NoError(t, err)
	assert.Equal(t, "vid-simple", asset.ID)
	assert.Zero(t, srv.transfers)
	assert.True(t, bytes.Equal(data, srv.received.Bytes()))
}

func TestUploadVideo_EmptySourceRejected(t *testing.T) {
	e := newEngine(t, http.NotFoundHandler(), testOptions(mb), nil)
	_, err := e.UploadVideo(context.Background(), testEC(), NewBytesSource("empty.mp4", nil), VideoMeta{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be positive")
}

type memCache struct {
	mu     sync.Mutex
	assets map[string]models.MediaAsset
}

func (m *memCache) Lookup(_ context.Context, account, fp string) (models.MediaAsset, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[account+"|"+fp]
	return a, ok, nil
}

func (m *memCache) Store(_ context.Context, account, fp string, a models.MediaAsset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.assets == nil {
		m.assets = map[string]models.MediaAsset{}
	}
	m.assets[account+"|"+fp] = a
	return nil
}

func TestUploadVideo_CacheSkipsSecondUpload(t *testing.T) {
	var calls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `{"id":"vid-9"}`)
	})
	cache := &memCache{}
	e := newEngine(t, h, testOptions(mb), cache)
	src := NewBytesSource("clip.mp4", pattern(1024))

	first, err := e.UploadVideo(context.Background(), testEC(), src, VideoMeta{})
	require.NoError(t, err)
	second, err := e.UploadVideo(context.Background(), testEC(), src, VideoMeta{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, calls.Load())
}

func TestUploadImage_ReturnsHash(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v21.0/act_42/adimages", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(mb))
		_, _, err := r.FormFile("banner.png")
		assert.NoError(t, err)
		_, _ = io.WriteString(w, `{"images":{"banner.png":{"hash":"abc123","url":"https://cdn/x.png"}}}`)
	})
	e := newEngine(t, h, testOptions(mb), nil)

	asset, err := e.UploadImage(context.Background(), testEC(), NewBytesSource("banner.png", pattern(512)))
	require.NoError(t, err)
	assert.Equal(t, models.MediaAsset{ID: "abc123", Kind: models.KindImage, Hash: "abc123", ThumbnailURL: "https://cdn/x.png"}, asset)
}

func TestAwaitVideoReady(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		wantErr  error
	}{
		{"ready after processing", []string{"processing", "processing", "ready"}, nil},
		{"processing error", []string{"processing", "error"}, ErrVideoProcessingFailed},
		{"never ready", []string{"processing"}, ErrVideoNotReady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n atomic.Int32
			h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "status", r.URL.Query().Get("fields"))
				i := int(n.Add(1)) - 1
				st := tt.statuses[min(i, len(tt.statuses)-1)]
				_, _ = fmt.Fprintf(w, `{"status":{"video_status":%q}}`, st)
			})
			opts := testOptions(mb)
			opts.PollTimeout = 50 * time.Millisecond
			e := newEngine(t, h, opts, nil)

			err := e.AwaitVideoReady(context.Background(), testEC(), "vid-1")
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPreferredThumbnail(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v21.0/vid-1/thumbnails", r.URL.Path)
		_, _ = io.WriteString(w, `{"data":[{"uri":"a"},{"uri":"b","is_preferred":true}]}`)
	})
	e := newEngine(t, h, testOptions(mb), nil)
	uri, err := e.PreferredThumbnail(context.Background(), testEC(), "vid-1")
	require.NoError(t, err)
	assert.Equal(t, "b", uri)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "start", PhaseStart.String())
	assert.Equal(t, "transfer", PhaseTransfer.String())
	assert.Equal(t, "finish", PhaseFinish.String())
	assert.Equal(t, "done", PhaseDone.String())
	assert.Equal(t, "unknown", Phase(42).String())
	assert.Equal(t, "unknown", Phase(-1).String())
}
