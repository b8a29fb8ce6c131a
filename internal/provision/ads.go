package provision

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/adpipe/internal/graph"
)

func adName(prefix string, rc readyCreative) string {
	name := rc.creative.Title
	if name == "" {
		name = rc.creative.ID
	}
	if prefix != "" {
		name = prefix + " " + name
	}
	return name
}

// createAds sends one batch with an ad per creative. Items that fail are
// recorded on res. A non-nil error means the batch as a whole failed and
// no ad is known to exist.
func (s *Service) createAds(ctx context.Context, ec graph.ExecutionContext, p *plan, as *adSet, ready []readyCreative, req Request, res *Result) ([]CreatedAd, error) {
	path := ec.AccountPath("ads")
	reqs := make([]graph.BatchRequest, len(ready))
	for i, rc := range ready {
		reqs[i] = graph.BatchRequest{
			Method:      "POST",
			RelativeURL: path,
			Body: graph.Params{
				"name":     adName(req.NamePrefix, rc),
				"adset_id": as.id,
				"status":   req.AdStatus,
				"creative": map[string]string{"creative_id": rc.remoteID},
			},
		}
	}

	responses, err := s.tr.ExecuteBatch(ctx, ec, reqs)
	var tailErr error
	if err != nil {
		var partial *graph.PartialBatchError
		if !errors.As(err, &partial) || len(partial.Completed) == 0 {
			return nil, err
		}
		responses, tailErr = partial.Completed, partial.Err
	}

	var created []CreatedAd
	for i, rc := range ready {
		if i >= len(responses) {
			res.FailedCreatives = append(res.FailedCreatives, FailedCreative{
				CreativeID:  rc.creative.ID,
				Stage:       StageAd,
				RateLimited: errors.Is(tailErr, graph.ErrRateLimit),
				Err:         tailErr,
			})
			continue
		}

		r := responses[i]
		if !r.OK() {
			var itemErr error = graph.NewProtocolError("POST", path, "batch item failed with status %d", r.Code)
			if r.Error != nil {
				itemErr = r.Error
			}
			s.log.Warn(ctx, "ad creation failed", "creative_id", rc.creative.ID, "outcome", r.Outcome.String(), "error", itemErr)
			res.FailedCreatives = append(res.FailedCreatives, FailedCreative{
				CreativeID:  rc.creative.ID,
				Stage:       StageAd,
				RateLimited: r.Outcome == graph.OutcomeRateLimited,
				Err:         itemErr,
			})
			continue
		}

		adID, err := decodeID(r.Body, ec, "POST", path)
		if err != nil {
			res.FailedCreatives = append(res.FailedCreatives, FailedCreative{CreativeID: rc.creative.ID, Stage: StageAd, Err: err})
			continue
		}
		created = append(created, CreatedAd{AdID: adID, CreativeID: rc.creative.ID, RemoteCreativeID: rc.remoteID})
	}
	return created, nil
}
