package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// runIDTimeLayout is the sortable timestamp prefix of a run id.
const runIDTimeLayout = "20060102T150405Z"

// NewRunID issues a globally unique run id that sorts
// lexicographically by recency: a UTC timestamp prefix followed by a
// UUIDv7 suffix. UUIDv7 is itself time-ordered, so ids issued within
// the same second still sort by creation and never collide under
// concurrent issuance.
func NewRunID(now time.Time) string {
	return now.UTC().Format(runIDTimeLayout) + "-" + uuid.Must(uuid.NewV7()).String()
}

// runIDTime recovers the creation timestamp embedded in a run id.
// Returns false for ids that do not carry the expected prefix.
func runIDTime(runID string) (time.Time, bool) {
	prefix, _, found := strings.Cut(runID, "-")
	if !found {
		return time.Time{}, false
	}
	t, err := time.Parse(runIDTimeLayout, prefix)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
