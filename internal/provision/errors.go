package provision

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/adpipe/internal/models"
)

var (
	// ErrNoAdsCreated is returned when every ad of a run failed. The
	// ad set used by the run has been paused.
	ErrNoAdsCreated = errors.New("no ads were created")
	// ErrNoPooledAdSet is returned in pool mode when the direction has no
	// ready ad set.
	ErrNoPooledAdSet = errors.New("no pooled ad set available")
)

// MissingCreativeMappingError reports creatives that have no platform
// creative for the objective while no creative builder is configured.
type MissingCreativeMappingError struct {
	Objective   models.Objective
	CreativeIDs []string
}

func (e *MissingCreativeMappingError) Error() string {
	return fmt.Sprintf("no platform creative for objective %s: %s", e.Objective, strings.Join(e.CreativeIDs, ", "))
}
