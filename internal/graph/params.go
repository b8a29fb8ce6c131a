package graph

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/dmitrijs2005/adpipe/internal/common"
)

const redacted = "[REDACTED]"

// Params are request parameters. Scalars are sent as-is; maps, slices and
// structs are JSON-encoded, which is how the Graph API takes targeting,
// promoted_object, object_story_spec and similar fields.
type Params map[string]any

// Clone returns a shallow copy; nil yields an empty map.
func (p Params) Clone() Params {
	out := make(Params, len(p)+2)
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Without returns a copy of p without the given keys.
func (p Params) Without(keys ...string) Params {
	out := p.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// Redacted returns a copy safe for logs and errors.
func (p Params) Redacted() Params {
	out := p.Clone()
	for _, k := range []string{common.AccessTokenParam, common.AppSecretProofParam} {
		if _, ok := out[k]; ok {
			out[k] = redacted
		}
	}
	return out
}

// Keys returns the parameter names in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Values encodes p as url.Values. Nil values are skipped.
func (p Params) Values() (url.Values, error) {
	v := url.Values{}
	for _, k := range p.Keys() {
		s, ok, err := encodeValue(p[k])
		if err != nil {
			return nil, fmt.Errorf("encode param %q: %w", k, err)
		}
		if ok {
			v.Set(k, s)
		}
	}
	return v, nil
}

// Encode returns the form-encoded representation of p.
func (p Params) Encode() (string, error) {
	v, err := p.Values()
	if err != nil {
		return "", err
	}
	return v.Encode(), nil
}

func encodeValue(v any) (string, bool, error) {
	switch val := v.(type) {
	case nil:
		return "", false, nil
	case string:
		return val, true, nil
	case json.RawMessage:
		return string(val), true, nil
	case json.Number:
		return val.String(), true, nil
	case bool:
		return strconv.FormatBool(val), true, nil
	case int:
		return strconv.Itoa(val), true, nil
	case int32:
		return strconv.FormatInt(int64(val), 10), true, nil
	case int64:
		return strconv.FormatInt(val, 10), true, nil
	case uint64:
		return strconv.FormatUint(val, 10), true, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true, nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return "", false, err
		}
		return string(b), true, nil
	}
}

// redactURL hides credentials in a request URL (GET requests carry the
// token in the query string, and net/http echoes the URL in its errors).
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	changed := false
	for _, k := range []string{common.AccessTokenParam, common.AppSecretProofParam} {
		if q.Has(k) {
			q.Set(k, redacted)
			changed = true
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = q.Encode()
	return u.String()
}
