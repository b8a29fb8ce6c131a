package provision

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/dmitrijs2005/adpipe/internal/common"
	"github.com/dmitrijs2005/adpipe/internal/dbx"
	"github.com/dmitrijs2005/adpipe/internal/graph"
	"github.com/dmitrijs2005/adpipe/internal/models"
)

// SubcodeWhatsAppNumberIneligible is returned when the page's WhatsApp
// number cannot be promoted.
const SubcodeWhatsAppNumberIneligible = 2446885

const (
	billingEvent = "IMPRESSIONS"
	bidStrategy  = "LOWEST_COST_WITHOUT_CAP"
)

func (s *Service) obtainAdSet(ctx context.Context, ec graph.ExecutionContext, p *plan, req Request) (*adSet, error) {
	switch s.opts.AdSetMode {
	case models.AdSetModePool:
		return s.claimAdSet(ctx, ec, p)
	default:
		return s.createAdSet(ctx, ec, p, req)
	}
}

func (s *Service) adSetParams(p *plan, req Request) graph.Params {
	d := p.direction
	name := d.Name
	if req.NamePrefix != "" {
		name = req.NamePrefix + " " + name
	}
	params := graph.Params{
		"name":              fmt.Sprintf("%s %s", name, s.opts.Now().UTC().Format("2006-01-02 15:04")),
		"campaign_id":       d.CampaignID,
		"daily_budget":      d.DailyBudgetCents,
		"billing_event":     billingEvent,
		"optimization_goal": p.optimizationGoal,
		"bid_strategy":      bidStrategy,
		"targeting":         d.Targeting,
		"promoted_object":   maps.Clone(p.promotedObject),
		"status":            StatusActive,
	}
	if p.destinationType != "" {
		params["destination_type"] = p.destinationType
	}
	return params
}

func (s *Service) createAdSet(ctx context.Context, ec graph.ExecutionContext, p *plan, req Request) (*adSet, error) {
	path := ec.AccountPath("adsets")
	params := s.adSetParams(p, req)

	raw, err := s.tr.Call(ctx, ec, "POST", path, params)
	if re, ok := graph.AsRemote(err); ok && re.Subcode() == SubcodeWhatsAppNumberIneligible && p.whatsAppNumber != "" {
		s.log.Warn(ctx, "whatsapp number rejected, retrying without it", "direction_id", p.direction.ID)
		po := maps.Clone(p.promotedObject)
		delete(po, "whatsapp_phone_number")
		params["promoted_object"] = po
		raw, err = s.tr.Call(ctx, ec, "POST", path, params)
	}
	if err != nil {
		return nil, fmt.Errorf("create ad set: %w", err)
	}

	id, err := decodeID(raw, ec, "POST", path)
	if err != nil {
		return nil, fmt.Errorf("create ad set: %w", err)
	}
	s.log.Info(ctx, "ad set created", "adset_id", id)
	return &adSet{id: id}, nil
}

// claimAdSet takes a ready ad set from the pool and activates it. A claim
// whose activation fails is returned to the pool. A dry run only peeks at
// the pool and leaves it untouched.
func (s *Service) claimAdSet(ctx context.Context, ec graph.ExecutionContext, p *plan) (*adSet, error) {
	if ec.DryRun {
		return s.peekAdSet(ctx, ec, p)
	}
	pooled, err := dbx.InTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) (*models.PooledAdSet, error) {
		return s.repos.AdSetPool(tx).Claim(ctx, p.direction.ID)
	})
	if errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("direction %s: %w", p.direction.ID, ErrNoPooledAdSet)
	}
	if err != nil {
		return nil, fmt.Errorf("claim pooled ad set: %w", err)
	}

	params := graph.Params{
		"status":       StatusActive,
		"daily_budget": p.direction.DailyBudgetCents,
	}
	if _, err := s.tr.Call(ctx, ec, "POST", pooled.AdSetID, params); err != nil {
		if rerr := s.repos.AdSetPool(s.db).Release(context.WithoutCancel(ctx), pooled.ID); rerr != nil {
			s.log.Error(ctx, "failed to release pooled ad set", "adset_id", pooled.AdSetID, "error", rerr)
		}
		return nil, fmt.Errorf("activate pooled ad set %s: %w", pooled.AdSetID, err)
	}
	s.log.Info(ctx, "pooled ad set activated", "adset_id", pooled.AdSetID)
	return &adSet{id: pooled.AdSetID, pooled: pooled}, nil
}

func (s *Service) peekAdSet(ctx context.Context, ec graph.ExecutionContext, p *plan) (*adSet, error) {
	pooled, err := s.repos.AdSetPool(s.db).Peek(ctx, p.direction.ID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("direction %s: %w", p.direction.ID, ErrNoPooledAdSet)
	}
	if err != nil {
		return nil, fmt.Errorf("peek pooled ad set: %w", err)
	}
	params := graph.Params{
		"status":       StatusActive,
		"daily_budget": p.direction.DailyBudgetCents,
	}
	if _, err := s.tr.Call(ctx, ec, "POST", pooled.AdSetID, params); err != nil {
		return nil, fmt.Errorf("activate pooled ad set %s: %w", pooled.AdSetID, err)
	}
	return &adSet{id: pooled.AdSetID}, nil
}
