// Package provision creates the ad set and ads for a direction from a set
// of stored creatives and records which ad carries which creative.
package provision

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dmitrijs2005/adpipe/internal/common"
	"github.com/dmitrijs2005/adpipe/internal/creative"
	"github.com/dmitrijs2005/adpipe/internal/graph"
	"github.com/dmitrijs2005/adpipe/internal/logging"
	"github.com/dmitrijs2005/adpipe/internal/models"
	"github.com/dmitrijs2005/adpipe/internal/repositories/repomanager"
	"github.com/google/uuid"
)

const (
	StatusActive = "ACTIVE"
	StatusPaused = "PAUSED"

	// dryRunID stands in for ids the platform does not return for
	// validate-only requests.
	dryRunID = "validate-only"

	defaultSource = "adpipe"
)

// Transport is the part of the graph client used by the workflow.
type Transport interface {
	Call(ctx context.Context, ec graph.ExecutionContext, method, path string, params graph.Params) (json.RawMessage, error)
	ExecuteBatch(ctx context.Context, ec graph.ExecutionContext, reqs []graph.BatchRequest) ([]graph.BatchResponse, error)
}

// CreativeBuilder creates the platform creative for a stored creative.
type CreativeBuilder interface {
	BuildForCreative(ctx context.Context, ec graph.ExecutionContext, c *models.Creative, d *models.Direction, settings *models.DefaultSettings) (creative.Result, error)
}

type Options struct {
	AdSetMode       models.AdSetMode
	DefaultAdStatus string
	// Source is written to every mapping row.
	Source string
	// RollbackTimeout bounds the compensating calls, which run even when
	// the caller's context is already cancelled.
	RollbackTimeout time.Duration
	Now             func() time.Time
}

func DefaultOptions() Options {
	return Options{
		AdSetMode:       models.AdSetModeCreate,
		DefaultAdStatus: StatusPaused,
		Source:          defaultSource,
		RollbackTimeout: 30 * time.Second,
		Now:             time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.AdSetMode == "" {
		o.AdSetMode = d.AdSetMode
	}
	if o.DefaultAdStatus == "" {
		o.DefaultAdStatus = d.DefaultAdStatus
	}
	if o.Source == "" {
		o.Source = d.Source
	}
	if o.RollbackTimeout <= 0 {
		o.RollbackTimeout = d.RollbackTimeout
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}

type Request struct {
	DirectionID string
	CreativeIDs []string
	// AdStatus is the status of the created ads, ACTIVE or PAUSED.
	AdStatus   string
	NamePrefix string
}

type CreatedAd struct {
	AdID             string
	CreativeID       string
	RemoteCreativeID string
}

// Stage names where a creative dropped out of the run.
const (
	StageCreative = "creative"
	StageAd       = "ad"
)

type FailedCreative struct {
	CreativeID  string
	Stage       string
	RateLimited bool
	Err         error
}

type Result struct {
	CampaignID      string
	AdSetID         string
	AdSetMode       models.AdSetMode
	Requested       int
	CreatedAds      []CreatedAd
	FailedCreatives []FailedCreative
	Summary         string
}

func (r *Result) FullySucceeded() bool {
	return r.Requested > 0 && len(r.CreatedAds) == r.Requested
}

func (r *Result) summarize() {
	r.Summary = fmt.Sprintf("created %d of %d ads, %d failed", len(r.CreatedAds), r.Requested, len(r.FailedCreatives))
}

type Service struct {
	db      *sql.DB
	repos   repomanager.RepositoryManager
	tr      Transport
	builder CreativeBuilder
	opts    Options
	log     logging.Logger
	newID   func() string
}

// NewService wires the workflow. builder may be nil, in which case every
// creative must already carry a platform creative for the objective.
func NewService(db *sql.DB, repos repomanager.RepositoryManager, tr Transport, builder CreativeBuilder, opts Options, log logging.Logger) *Service {
	return &Service{
		db:      db,
		repos:   repos,
		tr:      tr,
		builder: builder,
		opts:    opts.withDefaults(),
		log:     logging.OrNop(log),
		newID:   uuid.NewString,
	}
}

// adSet is the ad set a run is working with.
type adSet struct {
	id     string
	pooled *models.PooledAdSet
}

// Provision runs the workflow for one direction. Configuration problems
// are reported as *common.ValidationError before any remote call. When no
// ad could be created the returned error wraps ErrNoAdsCreated and the
// Result is still returned with the per-creative failures.
func (s *Service) Provision(ctx context.Context, ec graph.ExecutionContext, req Request) (*Result, error) {
	if err := ec.Validate(); err != nil {
		return nil, err
	}
	ids, err := s.validateRequest(&req)
	if err != nil {
		return nil, err
	}

	log := s.log.With("direction_id", req.DirectionID)

	p, err := s.resolve(ctx, ec, req, ids)
	if err != nil {
		return nil, err
	}

	res := &Result{
		CampaignID: p.direction.CampaignID,
		AdSetMode:  s.opts.AdSetMode,
		Requested:  len(ids),
	}

	ready, err := s.ensureCreatives(ctx, ec, p, res)
	if err != nil {
		return nil, err
	}
	if len(ready) == 0 {
		res.summarize()
		return res, fmt.Errorf("%w: every creative failed to build", ErrNoAdsCreated)
	}

	as, err := s.obtainAdSet(ctx, ec, p, req)
	if err != nil {
		return nil, err
	}
	res.AdSetID = as.id
	log = log.With("adset_id", as.id)
	s.linkAdSet(ctx, ec, p, as)

	created, err := s.createAds(ctx, ec, p, as, ready, req, res)
	if err != nil {
		s.rollback(ctx, ec, as)
		return nil, fmt.Errorf("create ads: %w", err)
	}
	if len(created) == 0 {
		s.rollback(ctx, ec, as)
		res.summarize()
		log.Warn(ctx, "no ads created", "summary", res.Summary)
		return res, ErrNoAdsCreated
	}
	res.CreatedAds = created

	s.persistMappings(ctx, ec, p, as, created)

	res.summarize()
	log.Info(ctx, "provisioning finished", "summary", res.Summary)
	return res, nil
}

func (s *Service) validateRequest(req *Request) ([]string, error) {
	if req.DirectionID == "" {
		return nil, common.NewValidationError("request", "", "direction_id", "is required")
	}
	if len(req.CreativeIDs) == 0 {
		return nil, common.NewValidationError("request", req.DirectionID, "creative_ids", "at least one creative is required")
	}
	switch req.AdStatus {
	case "":
		req.AdStatus = s.opts.DefaultAdStatus
	case StatusActive, StatusPaused:
	default:
		return nil, common.NewValidationError("request", req.DirectionID, "ad_status", fmt.Sprintf("unsupported %q", req.AdStatus))
	}

	ids := make([]string, 0, len(req.CreativeIDs))
	for _, id := range req.CreativeIDs {
		if id == "" {
			return nil, common.NewValidationError("request", req.DirectionID, "creative_ids", "empty creative id")
		}
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type readyCreative struct {
	creative *models.Creative
	remoteID string
}

// ensureCreatives returns the creatives that have a platform creative,
// building the missing ones. Remote build failures are recorded on res;
// a validation error stops the run.
func (s *Service) ensureCreatives(ctx context.Context, ec graph.ExecutionContext, p *plan, res *Result) ([]readyCreative, error) {
	objective := p.direction.Objective
	ready := make([]readyCreative, 0, len(p.creatives))

	for _, c := range p.creatives {
		if id, ok := c.RemoteID(objective); ok {
			ready = append(ready, readyCreative{creative: c, remoteID: id})
			continue
		}

		built, err := s.builder.BuildForCreative(ctx, ec, c, p.direction, p.settings)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, common.ErrValidation) {
				return nil, fmt.Errorf("build creative %s: %w", c.ID, err)
			}
			s.log.Warn(ctx, "creative build failed", "creative_id", c.ID, "error", err)
			res.FailedCreatives = append(res.FailedCreatives, FailedCreative{
				CreativeID:  c.ID,
				Stage:       StageCreative,
				RateLimited: errors.Is(err, graph.ErrRateLimit),
				Err:         err,
			})
			continue
		}

		remoteID := built.CreativeID
		if remoteID == "" && ec.DryRun {
			remoteID = dryRunID
		}
		if !ec.DryRun {
			if err := s.repos.Creatives(s.db).SetRemoteCreativeID(ctx, c.ID, objective, remoteID); err != nil {
				s.log.Error(ctx, "failed to persist platform creative id", "creative_id", c.ID, "error", err)
			}
		}
		ready = append(ready, readyCreative{creative: c, remoteID: remoteID})
	}
	return ready, nil
}

func (s *Service) linkAdSet(ctx context.Context, ec graph.ExecutionContext, p *plan, as *adSet) {
	if ec.DryRun {
		return
	}
	link := &models.DirectionAdsetLink{
		ID:          s.newID(),
		DirectionID: p.direction.ID,
		AdSetID:     as.id,
		Mode:        s.opts.AdSetMode,
	}
	if err := s.repos.AdSetLinks(s.db).Insert(ctx, link); err != nil {
		s.log.Warn(ctx, "failed to link ad set", "adset_id", as.id, "error", err)
	}
}

func (s *Service) persistMappings(ctx context.Context, ec graph.ExecutionContext, p *plan, as *adSet, created []CreatedAd) {
	if ec.DryRun {
		return
	}
	repo := s.repos.Mappings(s.db)
	for _, ad := range created {
		m := &models.AdCreativeMapping{
			ID:          s.newID(),
			AdID:        ad.AdID,
			CreativeID:  ad.CreativeID,
			DirectionID: p.direction.ID,
			AdSetID:     as.id,
			CampaignID:  p.direction.CampaignID,
			Source:      s.opts.Source,
		}
		if err := repo.Insert(ctx, m); err != nil {
			s.log.Error(ctx, "failed to persist ad mapping", "ad_id", ad.AdID, "creative_id", ad.CreativeID, "error", err)
		}
	}
}

// rollback pauses the run's ad set and returns a pooled one to the pool.
// Failures are logged only.
func (s *Service) rollback(ctx context.Context, ec graph.ExecutionContext, as *adSet) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.RollbackTimeout)
	defer cancel()

	s.log.Warn(ctx, "rolling back ad set", "adset_id", as.id)
	if _, err := s.tr.Call(ctx, ec, "POST", as.id, graph.Params{"status": StatusPaused}); err != nil {
		s.log.Error(ctx, "failed to pause ad set", "adset_id", as.id, "error", err)
	}
	if as.pooled != nil && !ec.DryRun {
		if err := s.repos.AdSetPool(s.db).Release(ctx, as.pooled.ID); err != nil {
			s.log.Error(ctx, "failed to release pooled ad set", "adset_id", as.id, "error", err)
		}
	}
}

func decodeID(raw json.RawMessage, ec graph.ExecutionContext, method, path string) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &resp); err != nil {
			return "", graph.NewProtocolError(method, path, "decode response: %v", err)
		}
	}
	if resp.ID == "" {
		if ec.DryRun {
			return dryRunID, nil
		}
		return "", graph.NewProtocolError(method, path, "response has no id")
	}
	return resp.ID, nil
}
