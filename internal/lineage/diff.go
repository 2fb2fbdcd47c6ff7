package lineage

import (
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/roach88/gantry/internal/artifact"
)

// DiffRuns renders a human-readable diff of the governed fields of two
// artifacts. Identity fields (run id, creation time) are ignored so
// the diff answers "what actually changed between these decisions",
// not "are these the same record". Empty string means no difference.
func DiffRuns(a, b artifact.RunArtifact) string {
	return cmp.Diff(a, b,
		cmpopts.IgnoreFields(artifact.RunArtifact{}, "RunID", "CreatedAtUTC"),
		cmpopts.EquateEmpty(),
	)
}
