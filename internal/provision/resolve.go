package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/adpipe/internal/common"
	"github.com/dmitrijs2005/adpipe/internal/creative"
	"github.com/dmitrijs2005/adpipe/internal/graph"
	"github.com/dmitrijs2005/adpipe/internal/models"
)

const defaultConversionEvent = "LEAD"

// plan is everything resolved before the first remote call.
type plan struct {
	direction *models.Direction
	settings  *models.DefaultSettings
	creatives []*models.Creative

	pageID           string
	whatsAppNumber   string
	promotedObject   map[string]any
	destinationType  string
	optimizationGoal string
}

func (s *Service) resolve(ctx context.Context, ec graph.ExecutionContext, req Request, ids []string) (*plan, error) {
	d, err := s.repos.Directions(s.db).Get(ctx, req.DirectionID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.NewValidationError("direction", req.DirectionID, "id", "not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load direction: %w", err)
	}
	if !d.Active {
		return nil, common.NewValidationError("direction", d.ID, "active", "direction is not active")
	}
	if d.CampaignID == "" {
		return nil, common.NewValidationError("direction", d.ID, "campaign_id", "is required")
	}
	if d.DailyBudgetCents <= 0 {
		return nil, common.NewValidationError("direction", d.ID, "daily_budget_cents", "must be positive")
	}
	if len(d.Targeting) == 0 {
		return nil, common.NewValidationError("direction", d.ID, "targeting", "is required")
	}

	settings, err := s.repos.Settings(s.db).Get(ctx, d.ID)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		settings = &models.DefaultSettings{DirectionID: d.ID}
	case err != nil:
		return nil, fmt.Errorf("load default settings: %w", err)
	}

	creatives, err := s.repos.Creatives(s.db).GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load creatives: %w", err)
	}
	if len(creatives) != len(ids) {
		found := make(map[string]bool, len(creatives))
		for _, c := range creatives {
			found[c.ID] = true
		}
		for _, id := range ids {
			if !found[id] {
				return nil, common.NewValidationError("creative", id, "id", "not found")
			}
		}
	}

	if s.builder == nil {
		var missing []string
		for _, c := range creatives {
			if _, ok := c.RemoteID(d.Objective); !ok {
				missing = append(missing, c.ID)
			}
		}
		if len(missing) > 0 {
			return nil, &MissingCreativeMappingError{Objective: d.Objective, CreativeIDs: missing}
		}
	}

	p := &plan{direction: d, settings: settings, creatives: creatives}
	if err := p.resolvePromotedObject(ec); err != nil {
		return nil, err
	}
	if s.builder != nil {
		if err := p.preflightCreatives(ec); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// resolvePromotedObject fills the objective-specific ad set fields, walking
// the fallback chain for each identifier.
func (p *plan) resolvePromotedObject(ec graph.ExecutionContext) error {
	d := p.direction
	p.pageID = firstNonEmpty(d.PageID, ec.PageID)

	switch d.Objective {
	case models.ObjectiveWhatsApp:
		if p.pageID == "" {
			return common.NewValidationError("direction", d.ID, "page_id", "is required for whatsapp")
		}
		p.whatsAppNumber = firstNonEmpty(d.WhatsAppNumber, p.settings.WhatsAppNumber, d.LegacyWhatsAppNumber)
		p.promotedObject = map[string]any{"page_id": p.pageID}
		if p.whatsAppNumber != "" {
			p.promotedObject["whatsapp_phone_number"] = p.whatsAppNumber
		}
		p.destinationType = "WHATSAPP"
		p.optimizationGoal = "CONVERSATIONS"

	case models.ObjectiveConversions, models.ObjectiveSiteLeads:
		pixel := firstNonEmpty(d.PixelID, p.settings.PixelID)
		if pixel == "" {
			return common.NewValidationError("direction", d.ID, "pixel_id", fmt.Sprintf("is required for %s", d.Objective))
		}
		p.promotedObject = map[string]any{
			"pixel_id":          pixel,
			"custom_event_type": firstNonEmpty(d.ConversionEvent, defaultConversionEvent),
		}
		p.destinationType = "WEBSITE"
		p.optimizationGoal = "OFFSITE_CONVERSIONS"

	case models.ObjectiveLeadForms:
		if p.pageID == "" {
			return common.NewValidationError("direction", d.ID, "page_id", "is required for lead forms")
		}
		if d.LeadFormID == "" {
			return common.NewValidationError("direction", d.ID, "lead_form_id", "is required for lead forms")
		}
		p.promotedObject = map[string]any{"page_id": p.pageID}
		p.destinationType = "ON_AD"
		p.optimizationGoal = "LEAD_GENERATION"

	case models.ObjectiveInstagramTraffic:
		if p.pageID == "" {
			return common.NewValidationError("direction", d.ID, "page_id", "is required for instagram traffic")
		}
		if firstNonEmpty(d.InstagramActorID, ec.InstagramActorID) == "" {
			return common.NewValidationError("direction", d.ID, "instagram_actor_id", "is required for instagram traffic")
		}
		p.promotedObject = map[string]any{"page_id": p.pageID}
		p.destinationType = "INSTAGRAM_PROFILE"
		p.optimizationGoal = "LINK_CLICKS"

	case models.ObjectiveAppInstalls:
		if d.AppID == "" || d.AppStoreURL == "" {
			return common.NewValidationError("direction", d.ID, "app_id", "application id and store url are required")
		}
		p.promotedObject = map[string]any{
			"application_id":   d.AppID,
			"object_store_url": d.AppStoreURL,
		}
		p.optimizationGoal = "APP_INSTALLS"

	default:
		return common.NewValidationError("direction", d.ID, "objective", fmt.Sprintf("unsupported %q", d.Objective))
	}
	return nil
}

// preflightCreatives checks, before any upload, that every creative still
// to be built has the media and direction fields its objective needs.
func (p *plan) preflightCreatives(ec graph.ExecutionContext) error {
	for _, c := range p.creatives {
		if _, ok := c.RemoteID(p.direction.Objective); ok {
			continue
		}
		if err := creative.Preflight(ec, c, p.direction); err != nil {
			return err
		}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
