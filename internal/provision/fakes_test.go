package provision

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/dmitrijs2005/adpipe/internal/common"
	"github.com/dmitrijs2005/adpipe/internal/creative"
	"github.com/dmitrijs2005/adpipe/internal/dbx"
	"github.com/dmitrijs2005/adpipe/internal/graph"
	"github.com/dmitrijs2005/adpipe/internal/models"
	"github.com/dmitrijs2005/adpipe/internal/repositories/adsetlinks"
	"github.com/dmitrijs2005/adpipe/internal/repositories/adsetpool"
	"github.com/dmitrijs2005/adpipe/internal/repositories/creatives"
	"github.com/dmitrijs2005/adpipe/internal/repositories/directions"
	"github.com/dmitrijs2005/adpipe/internal/repositories/mappings"
	"github.com/dmitrijs2005/adpipe/internal/repositories/repomanager"
	"github.com/dmitrijs2005/adpipe/internal/repositories/settings"
)

// fakeRepos is an in-memory RepositoryManager.
type fakeRepos struct {
	repomanager.RepositoryManager

	directions map[string]*models.Direction
	settings   map[string]*models.DefaultSettings
	creatives  map[string]*models.Creative
	remoteIDs  map[string]string
	mappings   []*models.AdCreativeMapping
	links      []*models.DirectionAdsetLink
	pool       []*models.PooledAdSet
	released   []string
	mappingErr error
}

func newFakeRepos() *fakeRepos {
	return &fakeRepos{
		directions: map[string]*models.Direction{},
		settings:   map[string]*models.DefaultSettings{},
		creatives:  map[string]*models.Creative{},
		remoteIDs:  map[string]string{},
	}
}

func (f *fakeRepos) Directions(dbx.DBTX) directions.Repository { return dirRepo{f} }
func (f *fakeRepos) Creatives(dbx.DBTX) creatives.Repository   { return creativeRepo{f} }
func (f *fakeRepos) Settings(dbx.DBTX) settings.Repository     { return settingsRepo{f} }
func (f *fakeRepos) Mappings(dbx.DBTX) mappings.Repository     { return mappingRepo{f} }
func (f *fakeRepos) AdSetLinks(dbx.DBTX) adsetlinks.Repository { return linkRepo{f} }
func (f *fakeRepos) AdSetPool(dbx.DBTX) adsetpool.Repository   { return poolRepo{f} }

type dirRepo struct{ f *fakeRepos }

func (r dirRepo) Get(_ context.Context, id string) (*models.Direction, error) {
	d, ok := r.f.directions[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return d, nil
}

type creativeRepo struct{ f *fakeRepos }

func (r creativeRepo) GetByIDs(_ context.Context, ids []string) ([]*models.Creative, error) {
	var out []*models.Creative
	for _, id := range ids {
		if c, ok := r.f.creatives[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r creativeRepo) SetRemoteCreativeID(_ context.Context, id string, _ models.Objective, remoteID string) error {
	r.f.remoteIDs[id] = remoteID
	return nil
}

type settingsRepo struct{ f *fakeRepos }

func (r settingsRepo) Get(_ context.Context, id string) (*models.DefaultSettings, error) {
	s, ok := r.f.settings[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return s, nil
}

type mappingRepo struct{ f *fakeRepos }

func (r mappingRepo) Insert(_ context.Context, m *models.AdCreativeMapping) error {
	if r.f.mappingErr != nil {
		return r.f.mappingErr
	}
	r.f.mappings = append(r.f.mappings, m)
	return nil
}

func (r mappingRepo) ListByDirection(_ context.Context, id string) ([]*models.AdCreativeMapping, error) {
	var out []*models.AdCreativeMapping
	for _, m := range r.f.mappings {
		if m.DirectionID == id {
			out = append(out, m)
		}
	}
	return out, nil
}

type linkRepo struct{ f *fakeRepos }

func (r linkRepo) Insert(_ context.Context, l *models.DirectionAdsetLink) error {
	r.f.links = append(r.f.links, l)
	return nil
}

type poolRepo struct{ f *fakeRepos }

func (r poolRepo) Claim(_ context.Context, directionID string) (*models.PooledAdSet, error) {
	for _, p := range r.f.pool {
		if p.DirectionID == directionID && p.Status == models.PoolReady {
			p.Status = models.PoolInUse
			return p, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r poolRepo) Peek(_ context.Context, directionID string) (*models.PooledAdSet, error) {
	for _, p := range r.f.pool {
		if p.DirectionID == directionID && p.Status == models.PoolReady {
			cp := *p
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r poolRepo) Release(_ context.Context, id string) error {
	r.f.released = append(r.f.released, id)
	return nil
}

type call struct {
	Method string
	Path   string
	Params graph.Params
}

// fakeGraph records calls. onCall answers Call; batch answers ExecuteBatch.
type fakeGraph struct {
	calls   []call
	batches [][]graph.BatchRequest
	onCall  func(n int, c call) (json.RawMessage, error)
	batch   func(reqs []graph.BatchRequest) ([]graph.BatchResponse, error)
}

func (g *fakeGraph) Call(_ context.Context, _ graph.ExecutionContext, method, path string, params graph.Params) (json.RawMessage, error) {
	c := call{method, path, params.Clone()}
	g.calls = append(g.calls, c)
	if g.onCall != nil {
		return g.onCall(len(g.calls)-1, c)
	}
	return json.RawMessage(`{"id":"as-1"}`), nil
}

func (g *fakeGraph) ExecuteBatch(_ context.Context, _ graph.ExecutionContext, reqs []graph.BatchRequest) ([]graph.BatchResponse, error) {
	g.batches = append(g.batches, reqs)
	if g.batch != nil {
		return g.batch(reqs)
	}
	out := make([]graph.BatchResponse, len(reqs))
	for i := range reqs {
		out[i] = okItem("ad-" + string(rune('1'+i)))
	}
	return out, nil
}

func (g *fakeGraph) callsTo(path string) []call {
	var out []call
	for _, c := range g.calls {
		if c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

func okItem(id string) graph.BatchResponse {
	return graph.BatchResponse{Code: 200, Body: json.RawMessage(`{"id":"` + id + `"}`), Outcome: graph.OutcomeSuccess}
}

func failedItem(kind graph.ErrorKind, code int) graph.BatchResponse {
	outcome := graph.OutcomeFailed
	if kind == graph.KindRateLimit {
		outcome = graph.OutcomeRateLimited
	}
	return graph.BatchResponse{
		Code:    400,
		Outcome: outcome,
		Error: &graph.RemoteError{
			Kind: kind, Status: 400,
			Envelope: graph.Envelope{Message: "rejected", Code: code},
		},
	}
}

// fakeBuilder builds platform creatives for the ids in ok and fails the rest.
type fakeBuilder struct {
	ok    map[string]string
	err   error
	built []string
}

func (b *fakeBuilder) BuildForCreative(_ context.Context, _ graph.ExecutionContext, c *models.Creative, _ *models.Direction, _ *models.DefaultSettings) (creative.Result, error) {
	b.built = append(b.built, c.ID)
	if id, ok := b.ok[c.ID]; ok {
		return creative.Result{CreativeID: id}, nil
	}
	return creative.Result{}, b.err
}

func adIDs(res *Result) []string {
	var out []string
	for _, a := range res.CreatedAds {
		out = append(out, a.AdID)
	}
	return out
}

func failedIDs(res *Result) []string {
	var out []string
	for _, f := range res.FailedCreatives {
		out = append(out, f.CreativeID)
	}
	slices.Sort(out)
	return out
}
