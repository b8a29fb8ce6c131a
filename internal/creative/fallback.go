package creative

import (
	"github.com/dmitrijs2005/adpipe/internal/graph"
)

// Platform error subcodes that reject optional creative fields.
const (
	SubcodeWelcomeMessageUnsupported = 1815166
	SubcodeInstagramActorRejected    = 1815694
)

// OptionalField is an enrichment the platform may reject. When a create
// call fails with an error matching Trigger, Strip removes the field and
// the call is retried once.
type OptionalField struct {
	Name    string
	Trigger func(*graph.RemoteError) bool
	// Strip removes the field from spec and reports whether it was present.
	Strip func(spec graph.Params) bool
}

// DefaultFallbacks is the ordered fallback chain: the welcome message
// first, then the linked Instagram account.
func DefaultFallbacks() []OptionalField {
	return []OptionalField{
		{
			Name: "page_welcome_message",
			Trigger: func(re *graph.RemoteError) bool {
				return re.Subcode() == SubcodeWelcomeMessageUnsupported
			},
			Strip: func(spec graph.Params) bool {
				return deleteFromData(spec, "page_welcome_message")
			},
		},
		{
			Name: "instagram_actor_id",
			Trigger: func(re *graph.RemoteError) bool {
				return re.Kind == graph.KindPermission || re.Subcode() == SubcodeInstagramActorRejected
			},
			Strip: func(spec graph.Params) bool {
				removed := deleteKey(storySpec(spec), "instagram_actor_id")
				if deleteKey(spec, "instagram_actor_id") {
					removed = true
				}
				return removed
			},
		},
	}
}

func storySpec(spec graph.Params) map[string]any {
	oss, _ := spec["object_story_spec"].(map[string]any)
	return oss
}

// deleteFromData removes key from the video_data or link_data object.
func deleteFromData(spec graph.Params, key string) bool {
	oss := storySpec(spec)
	if oss == nil {
		return false
	}
	removed := false
	for _, data := range []string{"video_data", "link_data"} {
		if m, ok := oss[data].(map[string]any); ok && deleteKey(m, key) {
			removed = true
		}
	}
	return removed
}

func deleteKey[M ~map[string]any](m M, key string) bool {
	if m == nil {
		return false
	}
	if _, ok := m[key]; !ok {
		return false
	}
	delete(m, key)
	return true
}
