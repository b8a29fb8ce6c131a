package provision

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strconv"
	"strings"
	"time"
)

// OperationKey derives a stable key for a provisioning request: the same
// direction and creative set within the same time bucket yield the same
// key regardless of creative order.
func OperationKey(directionID string, creativeIDs []string, at time.Time, bucket time.Duration) string {
	ids := slices.Clone(creativeIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	var slot int64
	if bucket > 0 {
		slot = at.UTC().Truncate(bucket).Unix()
	}
	h := sha256.New()
	h.Write([]byte(directionID))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(ids, ",")))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(slot, 10)))
	return "provision:" + directionID + ":" + hex.EncodeToString(h.Sum(nil))[:24]
}
