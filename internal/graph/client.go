// Package graph is the transport to the Facebook Graph API: single calls,
// multipart file uploads and batched mutations, all under a retry policy.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/adpipe/internal/logging"
	"github.com/dmitrijs2005/adpipe/internal/retry"
)

const (
	DefaultBaseURL = "https://graph.facebook.com"
	DefaultVersion = "v21.0"

	maxResponseBytes = 16 << 20
)

// Options configure a Client.
type Options struct {
	BaseURL    string
	Version    string
	HTTPClient *http.Client
	// Policy applies to every Call unless a Request overrides it.
	Policy retry.Policy
	Batch  BatchOptions
}

// DefaultPolicy is used for single calls: 15s per attempt, 5 attempts.
func DefaultPolicy() retry.Policy {
	return retry.Policy{
		Name:        "graph",
		MaxRetries:  4,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Timeout:     15 * time.Second,
		IsRetryable: RetryableCall,
	}
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		BaseURL: DefaultBaseURL,
		Version: DefaultVersion,
		Policy:  DefaultPolicy(),
		Batch:   DefaultBatchOptions(),
	}
}

// Client talks to the Graph API. It holds no per-tenant state and is safe
// for concurrent use.
type Client struct {
	opts Options
	http *http.Client
	log  logging.Logger
}

// NewClient builds a Client. Zero-valued options fall back to defaults.
func NewClient(opts Options, log logging.Logger) *Client {
	def := DefaultOptions()
	if opts.BaseURL == "" {
		opts.BaseURL = def.BaseURL
	}
	if opts.Version == "" {
		opts.Version = def.Version
	}
	if policyUnset(opts.Policy) {
		opts.Policy = def.Policy
	}
	if opts.Policy.IsRetryable == nil {
		opts.Policy.IsRetryable = RetryableCall
	}
	opts.Batch = opts.Batch.withDefaults()

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		opts: opts,
		http: hc,
		log:  logging.OrNop(log).With("component", "graph"),
	}
}

func policyUnset(p retry.Policy) bool {
	return p.MaxRetries == 0 && p.BaseDelay == 0 && p.Timeout == 0 && p.IsRetryable == nil
}

// FilePart is a file streamed as one multipart form field.
type FilePart struct {
	Field       string // e.g. "source", "video_file_chunk"
	FileName    string
	ContentType string // defaults to application/octet-stream
	Size        int64
	// Open is called once per attempt; the reader must yield exactly Size bytes.
	Open func(ctx context.Context) (io.ReadCloser, error)
}

// Request is a single Graph call.
type Request struct {
	Method string
	Path   string
	Params Params
	File   *FilePart
	// Policy overrides the client policy for this call.
	Policy *retry.Policy
}

// Call performs a form-encoded request and returns the raw JSON body.
func (c *Client) Call(ctx context.Context, ec ExecutionContext, method, path string, params Params) (json.RawMessage, error) {
	return c.Do(ctx, ec, Request{Method: method, Path: path, Params: params})
}

// CallInto performs Call and decodes the body into out.
func (c *Client) CallInto(ctx context.Context, ec ExecutionContext, method, path string, params Params, out any) error {
	raw, err := c.Call(ctx, ec, method, path, params)
	if err != nil {
		return err
	}
	return decode(raw, method, path, out)
}

// Do performs req under its retry policy.
func (c *Client) Do(ctx context.Context, ec ExecutionContext, req Request) (json.RawMessage, error) {
	if err := ec.Validate(); err != nil {
		return nil, err
	}
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	params := ec.authorize(method, req.Params)

	policy := c.opts.Policy
	policy.Name = ""
	if req.Policy != nil {
		policy = *req.Policy
		if policy.IsRetryable == nil {
			policy.IsRetryable = RetryableCall
		}
	}
	if policy.Name == "" {
		policy.Name = method + " " + req.Path
	}

	return retry.Execute(ctx, c.log, policy, func(ctx context.Context) (json.RawMessage, error) {
		return c.roundTrip(ctx, method, req.Path, params, req.File)
	})
}

// DoInto performs Do and decodes the body into out.
func (c *Client) DoInto(ctx context.Context, ec ExecutionContext, req Request, out any) error {
	raw, err := c.Do(ctx, ec, req)
	if err != nil {
		return err
	}
	return decode(raw, req.Method, req.Path, out)
}

func decode(raw json.RawMessage, method, path string, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return newProtocolError(http.StatusOK, method, path, "decode response: %v", err)
	}
	return nil
}

func (c *Client) endpoint(path string) string {
	base := strings.TrimRight(c.opts.BaseURL, "/")
	return base + "/" + c.opts.Version + "/" + strings.TrimPrefix(path, "/")
}

func (c *Client) roundTrip(ctx context.Context, method, path string, params Params, file *FilePart) (json.RawMessage, error) {
	httpReq, err := c.newHTTPRequest(ctx, method, path, params, file)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, redactURLError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.log.Debug(ctx, "graph request",
		"method", method, "path", path, "status", resp.StatusCode,
		"duration", time.Since(started))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseRemoteError(resp.StatusCode, body, method, path, params)
	}
	if !json.Valid(body) {
		return nil, newProtocolError(resp.StatusCode, method, path,
			"response is not JSON: %s", truncate(body, 128))
	}
	// The platform occasionally reports errors with a 200 status.
	if env, ok := embeddedError(body); ok {
		return nil, &RemoteError{
			Kind: Classify(resp.StatusCode, env), Status: resp.StatusCode, Envelope: env,
			Method: method, Path: path, Params: params.Redacted(),
		}
	}
	return body, nil
}

func embeddedError(body []byte) (Envelope, bool) {
	if len(body) == 0 || body[0] != '{' {
		return Envelope{}, false
	}
	var wire struct {
		Error *Envelope `json:"error"`
	}
	if err := json.Unmarshal(body, &wire); err != nil || wire.Error == nil {
		return Envelope{}, false
	}
	return *wire.Error, true
}

func (c *Client) newHTTPRequest(ctx context.Context, method, path string, params Params, file *FilePart) (*http.Request, error) {
	endpoint := c.endpoint(path)

	if file != nil {
		return c.newMultipartRequest(ctx, method, endpoint, params, file)
	}

	form, err := params.Encode()
	if err != nil {
		return nil, err
	}
	if method == http.MethodGet || method == http.MethodDelete {
		req, err := http.NewRequestWithContext(ctx, method, endpoint+"?"+form, nil)
		if err != nil {
			return nil, redactURLError(err)
		}
		return req, nil
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(form))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

// newMultipartRequest streams the file between a pre-rendered preamble and
// closing boundary, so the body length is known without buffering the file.
func (c *Client) newMultipartRequest(ctx context.Context, method, endpoint string, params Params, file *FilePart) (*http.Request, error) {
	values, err := params.Values()
	if err != nil {
		return nil, err
	}

	var head bytes.Buffer
	mw := multipart.NewWriter(&head)
	for _, k := range params.Keys() {
		if !values.Has(k) {
			continue
		}
		if err := mw.WriteField(k, values.Get(k)); err != nil {
			return nil, err
		}
	}

	ct := file.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, file.Field, file.FileName))
	h.Set("Content-Type", ct)
	if _, err := mw.CreatePart(h); err != nil {
		return nil, err
	}
	preamble := append([]byte(nil), head.Bytes()...)
	head.Reset()
	if err := mw.Close(); err != nil {
		return nil, err
	}
	closing := append([]byte(nil), head.Bytes()...)

	rc, err := file.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", file.FileName, err)
	}

	body := &multiBodyReader{
		Reader: io.MultiReader(bytes.NewReader(preamble), rc, bytes.NewReader(closing)),
		file:   rc,
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		rc.Close()
		return nil, err
	}
	req.ContentLength = int64(len(preamble)) + file.Size + int64(len(closing))
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

type multiBodyReader struct {
	io.Reader
	file io.Closer
}

func (m *multiBodyReader) Close() error { return m.file.Close() }

func redactURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = redactURL(ue.URL)
	}
	return err
}
