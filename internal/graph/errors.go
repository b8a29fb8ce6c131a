package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/adpipe/internal/retry"
)

// ErrorKind classifies a remote failure.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTransient
	KindRateLimit
	KindValidation
	KindPermission
	KindProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimit:
		return "rate_limit"
	case KindValidation:
		return "validation"
	case KindPermission:
		return "permission"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is against a *RemoteError of the same kind.
var (
	ErrTransient  = errors.New("graph: transient error")
	ErrRateLimit  = errors.New("graph: rate limited")
	ErrValidation = errors.New("graph: request rejected")
	ErrPermission = errors.New("graph: permission denied")
	ErrProtocol   = errors.New("graph: protocol violation")
)

// Envelope is the platform's error object.
type Envelope struct {
	Message        string `json:"message"`
	Type           string `json:"type,omitempty"`
	Code           int    `json:"code"`
	ErrorSubcode   int    `json:"error_subcode,omitempty"`
	FBTraceID      string `json:"fbtrace_id,omitempty"`
	ErrorUserTitle string `json:"error_user_title,omitempty"`
	ErrorUserMsg   string `json:"error_user_msg,omitempty"`
	IsTransient    bool   `json:"is_transient,omitempty"`
}

// RemoteError is a classified failure reported by the platform, or a
// response that violated the protocol.
type RemoteError struct {
	Kind     ErrorKind
	Status   int
	Envelope Envelope
	Method   string
	Path     string
	Params   Params // redacted
}

func (e *RemoteError) Error() string {
	var b strings.Builder
	b.WriteString("graph: ")
	if e.Method != "" || e.Path != "" {
		fmt.Fprintf(&b, "%s %s: ", e.Method, e.Path)
	}
	b.WriteString(e.Envelope.Message)
	fmt.Fprintf(&b, " [kind=%s status=%d code=%d", e.Kind, e.Status, e.Envelope.Code)
	if e.Envelope.ErrorSubcode != 0 {
		fmt.Fprintf(&b, " subcode=%d", e.Envelope.ErrorSubcode)
	}
	if e.Envelope.FBTraceID != "" {
		fmt.Fprintf(&b, " fbtrace_id=%s", e.Envelope.FBTraceID)
	}
	b.WriteString("]")
	if e.Envelope.ErrorUserMsg != "" {
		fmt.Fprintf(&b, ": %s", e.Envelope.ErrorUserMsg)
	}
	return b.String()
}

// HTTPStatus exposes the response status to retry.DefaultRetryable.
func (e *RemoteError) HTTPStatus() int { return e.Status }

// Is matches the kind sentinels.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrRateLimit:
		return e.Kind == KindRateLimit
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrPermission:
		return e.Kind == KindPermission
	case ErrProtocol:
		return e.Kind == KindProtocol
	}
	return false
}

// Code returns the platform error code.
func (e *RemoteError) Code() int { return e.Envelope.Code }

// Subcode returns the platform error subcode.
func (e *RemoteError) Subcode() int { return e.Envelope.ErrorSubcode }

// AsRemote unwraps err into a *RemoteError.
func AsRemote(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsRateLimitCode reports platform codes that mean throttling.
func IsRateLimitCode(code int) bool {
	switch code {
	case 4, 17, 32, 613:
		return true
	}
	return code >= 80000 && code <= 80014
}

// IsPermissionCode reports platform codes that mean a missing permission
// or an invalid token.
func IsPermissionCode(code int) bool {
	return code == 10 || code == 190 || (code >= 200 && code <= 299)
}

// Classify maps an HTTP status and envelope to an ErrorKind.
func Classify(status int, env Envelope) ErrorKind {
	switch {
	case status == 429 || IsRateLimitCode(env.Code):
		return KindRateLimit
	case env.IsTransient || env.Code == 1 || env.Code == 2 || status >= 500:
		return KindTransient
	case IsPermissionCode(env.Code) || status == 401 || status == 403:
		return KindPermission
	case status >= 400:
		return KindValidation
	}
	return KindUnknown
}

func parseRemoteError(status int, body []byte, method, path string, params Params) *RemoteError {
	var wire struct {
		Error *Envelope `json:"error"`
	}
	env := Envelope{}
	if err := json.Unmarshal(body, &wire); err == nil && wire.Error != nil {
		env = *wire.Error
	} else {
		env.Message = fmt.Sprintf("unexpected response: %s", truncate(body, 256))
	}
	return &RemoteError{
		Kind:     Classify(status, env),
		Status:   status,
		Envelope: env,
		Method:   method,
		Path:     path,
		Params:   params.Redacted(),
	}
}

func newProtocolError(status int, method, path string, format string, args ...any) *RemoteError {
	return &RemoteError{
		Kind:     KindProtocol,
		Status:   status,
		Envelope: Envelope{Message: fmt.Sprintf(format, args...), Type: "ProtocolViolation"},
		Method:   method,
		Path:     path,
	}
}

// NewProtocolError reports a response that does not follow the expected
// protocol, for callers that validate response payloads themselves.
func NewProtocolError(method, path string, format string, args ...any) *RemoteError {
	return newProtocolError(0, method, path, format, args...)
}

// RetryableCall is the default predicate for single calls: network errors,
// HTTP 429/5xx, and rate-limit or transient remote errors.
func RetryableCall(err error) bool {
	if re, ok := AsRemote(err); ok {
		return re.Kind == KindRateLimit || re.Kind == KindTransient
	}
	return retry.DefaultRetryable(err)
}

// RetryableBatch is the predicate for whole sub-batches. HTTP 400 is
// included because the batch endpoint answers throttling with it; protocol
// and permission failures are not retried.
func RetryableBatch(err error) bool {
	if re, ok := AsRemote(err); ok {
		if re.Kind == KindProtocol || re.Kind == KindPermission {
			return false
		}
		switch re.Status {
		case 400, 429, 500, 502, 503, 504:
			return true
		}
		return re.Kind == KindRateLimit || re.Kind == KindTransient
	}
	return retry.DefaultRetryable(err)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
