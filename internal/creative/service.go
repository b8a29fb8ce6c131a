// Package creative builds platform creatives from local creatives: payload
// shape per media type and destination, and an ordered fallback chain for
// optional fields the platform may reject.
package creative

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dmitrijs2005/adpipe/internal/common"
	"github.com/dmitrijs2005/adpipe/internal/graph"
	"github.com/dmitrijs2005/adpipe/internal/logging"
	"github.com/dmitrijs2005/adpipe/internal/models"
)

// ErrCompatibilityFallbackExhausted is returned when the platform still
// rejects a creative after every applicable optional field was removed.
var ErrCompatibilityFallbackExhausted = errors.New("creative rejected after all compatibility fallbacks")

// Transport is the subset of *graph.Client the service uses.
type Transport interface {
	Call(ctx context.Context, ec graph.ExecutionContext, method, path string, params graph.Params) (json.RawMessage, error)
}

// Input describes one creative to create.
type Input struct {
	// Destination defaults to the one derived from Direction.Objective.
	Destination Destination
	MediaType   models.MediaType
	// Media holds one asset for video and image creatives, one per card
	// for carousels.
	Media []models.MediaAsset
	// Cards carry per-card copy for carousels, aligned with Media.
	Cards     []models.CarouselCard
	Name      string
	Message   string
	Title     string
	Direction *models.Direction
	Settings  *models.DefaultSettings
}

// Variant is one payload attempt. Removed lists the optional fields
// stripped so far.
type Variant struct {
	Name    string
	Removed []string
	Spec    graph.Params
}

// Result is the created creative and the variant the platform accepted.
type Result struct {
	CreativeID string
	Variant    Variant
}

// Service creates creatives. It is safe for concurrent use.
type Service struct {
	tr        Transport
	media     MediaUploader
	sources   SourceResolver
	fallbacks []OptionalField
	log       logging.Logger
}

// NewService builds a Service. media and sources may be nil when callers
// only pass already uploaded assets.
func NewService(tr Transport, media MediaUploader, sources SourceResolver, log logging.Logger) *Service {
	return &Service{
		tr:        tr,
		media:     media,
		sources:   sources,
		fallbacks: DefaultFallbacks(),
		log:       logging.OrNop(log).With("component", "creative"),
	}
}

// WithFallbacks returns a copy of s using the given fallback chain.
func (s *Service) WithFallbacks(f []OptionalField) *Service {
	cp := *s
	cp.fallbacks = f
	return &cp
}

// BuildCreative validates in, creates the creative and applies the
// fallback chain on rejection. Rate-limit and transient errors are
// returned unchanged; they were already retried by the transport.
func (s *Service) BuildCreative(ctx context.Context, ec graph.ExecutionContext, in Input) (Result, error) {
	spec, err := s.buildSpec(ec, &in)
	if err != nil {
		return Result{}, err
	}
	v := Variant{Name: in.Name, Spec: spec}
	path := ec.AccountPath("adcreatives")

	for {
		raw, err := s.tr.Call(ctx, ec, "POST", path, v.Spec)
		if err == nil {
			var resp struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(raw, &resp); err != nil || resp.ID == "" {
				return Result{}, graph.NewProtocolError("POST", path, "creative response has no id")
			}
			s.log.Info(ctx, "creative created", "creative_id", resp.ID, "name", v.Name, "removed", v.Removed)
			return Result{CreativeID: resp.ID, Variant: v}, nil
		}

		re, ok := graph.AsRemote(err)
		if !ok || re.Kind == graph.KindRateLimit || re.Kind == graph.KindTransient || re.Kind == graph.KindProtocol {
			return Result{}, err
		}

		next, field, ok := s.fallback(re, v)
		if !ok {
			if len(v.Removed) > 0 {
				return Result{}, fmt.Errorf("%w (removed %s): %w", ErrCompatibilityFallbackExhausted, strings.Join(v.Removed, ", "), err)
			}
			return Result{}, err
		}
		s.log.Warn(ctx, "creative rejected, retrying without optional field",
			"name", v.Name, "field", field, "code", re.Code(), "subcode", re.Subcode())
		v = next
	}
}

// fallback returns v without the first still-present field whose trigger
// matches re.
func (s *Service) fallback(re *graph.RemoteError, v Variant) (Variant, string, bool) {
	for _, f := range s.fallbacks {
		if slices.Contains(v.Removed, f.Name) || !f.Trigger(re) {
			continue
		}
		spec := deepCopy(v.Spec)
		if !f.Strip(spec) {
			continue
		}
		removed := append(append([]string(nil), v.Removed...), f.Name)
		return Variant{Name: v.Name, Removed: removed, Spec: spec}, f.Name, true
	}
	return Variant{}, "", false
}

func (s *Service) buildSpec(ec graph.ExecutionContext, in *Input) (graph.Params, error) {
	d := in.Direction
	if d == nil {
		return nil, common.NewValidationError("creative", in.Name, "direction", "is required")
	}
	if in.Destination == "" {
		dest, err := DestinationFor(d.Objective)
		if err != nil {
			return nil, common.NewValidationError("direction", d.ID, "objective", err.Error())
		}
		in.Destination = dest
	}
	pageID := firstNonEmpty(d.PageID, ec.PageID)
	if pageID == "" {
		return nil, common.NewValidationError("direction", d.ID, "page_id", "is required for creatives")
	}
	if err := checkMedia(in); err != nil {
		return nil, err
	}

	link, cta, err := linkAndCTA(d, in.Destination)
	if err != nil {
		return nil, err
	}

	oss := map[string]any{"page_id": pageID}
	if ig := firstNonEmpty(d.InstagramActorID, ec.InstagramActorID); ig != "" {
		oss["instagram_actor_id"] = ig
	}

	switch in.MediaType {
	case models.MediaVideo:
		asset := in.Media[0]
		data := map[string]any{
			"video_id":       asset.ID,
			"message":        in.Message,
			"call_to_action": cta,
		}
		if in.Title != "" {
			data["title"] = in.Title
		}
		if asset.ThumbnailURL != "" {
			data["image_url"] = asset.ThumbnailURL
		}
		s.addWelcome(data, in)
		oss["video_data"] = data

	case models.MediaImage:
		data := map[string]any{
			"image_hash":     in.Media[0].Hash,
			"link":           link,
			"message":        in.Message,
			"call_to_action": cta,
		}
		if in.Title != "" {
			data["name"] = in.Title
		}
		s.addWelcome(data, in)
		oss["link_data"] = data

	case models.MediaCarousel:
		cards := make([]any, 0, len(in.Media))
		for i, asset := range in.Media {
			card := map[string]any{"link": link, "call_to_action": cta}
			if asset.Kind == models.KindVideo {
				card["video_id"] = asset.ID
				if asset.ThumbnailURL != "" {
					card["picture"] = asset.ThumbnailURL
				}
			} else {
				card["image_hash"] = asset.Hash
			}
			if i < len(in.Cards) {
				if in.Cards[i].Title != "" {
					card["name"] = in.Cards[i].Title
				}
				if in.Cards[i].Description != "" {
					card["description"] = in.Cards[i].Description
				}
			}
			cards = append(cards, card)
		}
		data := map[string]any{
			"link":                  link,
			"message":               in.Message,
			"child_attachments":     cards,
			"multi_share_optimized": true,
			"call_to_action":        cta,
		}
		s.addWelcome(data, in)
		oss["link_data"] = data
	}

	return graph.Params{
		"name":              in.Name,
		"object_story_spec": oss,
	}, nil
}

func checkMedia(in *Input) error {
	switch in.MediaType {
	case models.MediaVideo:
		if len(in.Media) != 1 || in.Media[0].Kind != models.KindVideo || in.Media[0].ID == "" {
			return common.NewValidationError("creative", in.Name, "media", "video creative needs one uploaded video")
		}
	case models.MediaImage:
		if len(in.Media) != 1 || in.Media[0].Hash == "" {
			return common.NewValidationError("creative", in.Name, "media", "image creative needs one uploaded image")
		}
	case models.MediaCarousel:
		if len(in.Media) < minCarouselCards || len(in.Media) > maxCarouselCards {
			return common.NewValidationError("creative", in.Name, "media", "carousel needs 2 to 10 cards")
		}
	default:
		return common.NewValidationError("creative", in.Name, "media_type", fmt.Sprintf("unsupported %q", in.MediaType))
	}
	return nil
}

func linkAndCTA(d *models.Direction, dest Destination) (string, map[string]any, error) {
	switch dest {
	case DestinationWhatsApp:
		return whatsAppLink, map[string]any{
			"type":  CTAWhatsAppMessage,
			"value": map[string]any{"app_destination": "WHATSAPP"},
		}, nil

	case DestinationWebsite:
		if d.SiteURL == "" {
			return "", nil, common.NewValidationError("direction", d.ID, "site_url", "is required for website destinations")
		}
		cta := CTALearnMore
		if d.Objective == models.ObjectiveSiteLeads {
			cta = CTASignUp
		}
		return d.SiteURL, map[string]any{"type": cta, "value": map[string]any{"link": d.SiteURL}}, nil

	case DestinationInstagramProfile:
		if d.InstagramUsername == "" {
			return "", nil, common.NewValidationError("direction", d.ID, "instagram_username", "is required for instagram destinations")
		}
		link := "https://www.instagram.com/" + strings.TrimPrefix(d.InstagramUsername, "@") + "/"
		return link, map[string]any{"type": CTALearnMore, "value": map[string]any{"link": link}}, nil

	case DestinationLeadForm:
		if d.LeadFormID == "" {
			return "", nil, common.NewValidationError("direction", d.ID, "lead_form_id", "is required for lead form destinations")
		}
		return leadFormLink, map[string]any{
			"type":  CTASignUp,
			"value": map[string]any{"lead_gen_form_id": d.LeadFormID},
		}, nil

	case DestinationAppStore:
		if d.AppID == "" || d.AppStoreURL == "" {
			return "", nil, common.NewValidationError("direction", d.ID, "app_id", "application id and store url are required")
		}
		return d.AppStoreURL, map[string]any{
			"type":  CTAInstallMobileApp,
			"value": map[string]any{"application": d.AppID, "link": d.AppStoreURL},
		}, nil
	}
	return "", nil, common.NewValidationError("direction", d.ID, "destination", fmt.Sprintf("unsupported %q", dest))
}

// addWelcome attaches the chat welcome message for WhatsApp creatives.
func (s *Service) addWelcome(data map[string]any, in *Input) {
	if in.Destination != DestinationWhatsApp || in.Settings == nil || in.Settings.WelcomeMessage == "" {
		return
	}
	msg := in.Settings.WelcomeMessage
	b, _ := json.Marshal(map[string]any{
		"type":                "VISUAL_EDITOR",
		"version":             2,
		"landing_screen_type": "welcome_message",
		"media_type":          "text",
		"text_format": map[string]any{
			"customer_action_type": "autofill_message",
			"message": map[string]any{
				"autofill_message": map[string]any{"content": msg},
				"text":             msg,
			},
		},
	})
	data["page_welcome_message"] = string(b)
}

func deepCopy(p graph.Params) graph.Params {
	out := make(graph.Params, len(p))
	for k, v := range p {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = copyValue(vv)
		}
		return m
	case graph.Params:
		return deepCopy(t)
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = copyValue(vv)
		}
		return s
	default:
		return v
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
