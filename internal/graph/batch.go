package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/adpipe/internal/retry"
)

// MaxBatchSize is the platform limit of requests per batch call.
const MaxBatchSize = 50

// BatchOptions tune ExecuteBatch.
type BatchOptions struct {
	// MaxSize is the sub-batch size, at most MaxBatchSize.
	MaxSize int
	// InterChunkDelay is the pause between sub-batches.
	InterChunkDelay time.Duration
	// Policy applies to each sub-batch call.
	Policy retry.Policy
}

// DefaultBatchPolicy backs off harder than single calls: batch throttling
// is account-wide.
func DefaultBatchPolicy() retry.Policy {
	return retry.Policy{
		Name:        "batch",
		MaxRetries:  5,
		BaseDelay:   2 * time.Second,
		MaxDelay:    60 * time.Second,
		Timeout:     60 * time.Second,
		IsRetryable: RetryableBatch,
	}
}

// DefaultBatchOptions returns production defaults.
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{
		MaxSize:         MaxBatchSize,
		InterChunkDelay: 500 * time.Millisecond,
		Policy:          DefaultBatchPolicy(),
	}
}

func (o BatchOptions) withDefaults() BatchOptions {
	if o.MaxSize <= 0 || o.MaxSize > MaxBatchSize {
		o.MaxSize = MaxBatchSize
	}
	if o.InterChunkDelay < 0 {
		o.InterChunkDelay = 0
	}
	if policyUnset(o.Policy) {
		o.Policy = DefaultBatchPolicy()
	}
	if o.Policy.IsRetryable == nil {
		o.Policy.IsRetryable = RetryableBatch
	}
	return o
}

// BatchRequest is one item of a batch call.
type BatchRequest struct {
	Method      string
	RelativeURL string
	Body        Params
}

// Outcome of a single batch item.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRateLimited
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate_limited"
	default:
		return "failed"
	}
}

// BatchResponse is the result of the request at the same index.
type BatchResponse struct {
	Code    int
	Body    json.RawMessage
	Outcome Outcome
	Error   *RemoteError // nil on success
}

// OK reports a successful item.
func (r BatchResponse) OK() bool { return r.Outcome == OutcomeSuccess }

// Decode unmarshals the item body into out.
func (r BatchResponse) Decode(out any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("batch item has no body")
	}
	return json.Unmarshal(r.Body, out)
}

// Summary counts batch outcomes.
type Summary struct {
	Total       int
	Succeeded   int
	RateLimited int
	Failed      int
}

// BatchSummary counts outcomes for logging.
func BatchSummary(responses []BatchResponse) Summary {
	s := Summary{Total: len(responses)}
	for _, r := range responses {
		switch r.Outcome {
		case OutcomeSuccess:
			s.Succeeded++
		case OutcomeRateLimited:
			s.RateLimited++
		default:
			s.Failed++
		}
	}
	return s
}

// PartialBatchError is returned when a sub-batch fails after earlier
// sub-batches completed. Completed holds their responses, in order.
type PartialBatchError struct {
	Completed []BatchResponse
	Err       error
}

func (e *PartialBatchError) Error() string {
	return fmt.Sprintf("batch failed after %d completed items: %v", len(e.Completed), e.Err)
}

func (e *PartialBatchError) Unwrap() error { return e.Err }

type wireBatchItem struct {
	Method      string `json:"method"`
	RelativeURL string `json:"relative_url"`
	Body        string `json:"body,omitempty"`
}

type wireBatchResult struct {
	Code int    `json:"code"`
	Body string `json:"body"`
}

// ExecuteBatch sends requests in sub-batches of at most BatchOptions.MaxSize
// and returns one response per request, in request order.
func (c *Client) ExecuteBatch(ctx context.Context, ec ExecutionContext, reqs []BatchRequest) ([]BatchResponse, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	if err := ec.Validate(); err != nil {
		return nil, err
	}

	size := c.opts.Batch.MaxSize
	out := make([]BatchResponse, 0, len(reqs))

	for start := 0; start < len(reqs); start += size {
		if start > 0 && c.opts.Batch.InterChunkDelay > 0 {
			if err := sleep(ctx, c.opts.Batch.InterChunkDelay); err != nil {
				return nil, &PartialBatchError{Completed: out, Err: err}
			}
		}
		end := min(start+size, len(reqs))

		chunk, err := c.executeChunk(ctx, ec, reqs[start:end])
		if err != nil {
			err = fmt.Errorf("batch items %d-%d: %w", start, end-1, err)
			if start > 0 {
				return nil, &PartialBatchError{Completed: out, Err: err}
			}
			return nil, err
		}
		out = append(out, chunk...)
	}

	s := BatchSummary(out)
	c.log.Info(ctx, "batch executed",
		"total", s.Total, "succeeded", s.Succeeded,
		"rate_limited", s.RateLimited, "failed", s.Failed)
	return out, nil
}

func (c *Client) executeChunk(ctx context.Context, ec ExecutionContext, reqs []BatchRequest) ([]BatchResponse, error) {
	items := make([]wireBatchItem, len(reqs))
	for i, r := range reqs {
		method := r.Method
		if method == "" {
			method = http.MethodGet
		}
		item := wireBatchItem{Method: method, RelativeURL: r.RelativeURL}
		if len(r.Body) > 0 {
			body, err := r.Body.Encode()
			if err != nil {
				return nil, fmt.Errorf("batch item %d: %w", i, err)
			}
			item.Body = body
		}
		items[i] = item
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}

	params := ec.authorize(http.MethodPost, Params{
		"batch":           string(encoded),
		"include_headers": false,
	})
	policy := c.opts.Batch.Policy
	policy.Name = fmt.Sprintf("batch[%d]", len(reqs))

	raw, err := retry.Execute(ctx, c.log, policy, func(ctx context.Context) (json.RawMessage, error) {
		return c.roundTrip(ctx, http.MethodPost, "", params, nil)
	})
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, newProtocolError(http.StatusOK, http.MethodPost, "", "batch response is not an array")
	}
	var results []json.RawMessage
	if err := json.Unmarshal(trimmed, &results); err != nil {
		return nil, newProtocolError(http.StatusOK, http.MethodPost, "", "decode batch response: %v", err)
	}
	if len(results) != len(reqs) {
		return nil, newProtocolError(http.StatusOK, http.MethodPost, "",
			"batch response has %d items, sent %d", len(results), len(reqs))
	}

	out := make([]BatchResponse, len(reqs))
	for i, item := range results {
		out[i] = classifyItem(reqs[i], item)
	}
	return out, nil
}

func classifyItem(req BatchRequest, item json.RawMessage) BatchResponse {
	if isNull(item) {
		env := Envelope{Message: "batch item was not processed", Type: "BatchItemSkipped", IsTransient: true}
		return BatchResponse{
			Outcome: OutcomeFailed,
			Error: &RemoteError{
				Kind: KindTransient, Envelope: env,
				Method: req.Method, Path: req.RelativeURL, Params: req.Body.Redacted(),
			},
		}
	}

	var res wireBatchResult
	if err := json.Unmarshal(item, &res); err != nil {
		return BatchResponse{
			Outcome: OutcomeFailed,
			Error: &RemoteError{
				Kind: KindProtocol, Envelope: Envelope{Message: fmt.Sprintf("decode batch item: %v", err)},
				Method: req.Method, Path: req.RelativeURL, Params: req.Body.Redacted(),
			},
		}
	}

	resp := BatchResponse{Code: res.Code}
	if res.Body != "" {
		resp.Body = json.RawMessage(res.Body)
	}
	if res.Code >= 200 && res.Code <= 299 {
		resp.Outcome = OutcomeSuccess
		return resp
	}

	re := parseRemoteError(res.Code, []byte(res.Body), req.Method, req.RelativeURL, req.Body)
	resp.Error = re
	resp.Outcome = OutcomeFailed
	if IsRateLimitCode(re.Envelope.Code) {
		resp.Outcome = OutcomeRateLimited
	}
	return resp
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
