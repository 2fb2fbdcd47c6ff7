// Package lineage verifies the parent-pointer chain linking a
// multi-stage workflow's artifacts: spec → plan → decision →
// execution, grouped by (session_id, batch_label).
//
// The validator is non-throwing by design: structural problems become
// human-readable violation strings, never errors, so a damaged group
// can be reported in full.
package lineage

import (
	"fmt"

	"github.com/roach88/gantry/internal/artifact"
)

// Stage kinds in workflow order.
const (
	KindBatchSpec     = "batch_spec"
	KindBatchPlan     = "batch_plan"
	KindBatchDecision = "batch_decision"
	KindExecution     = "execution"
)

// chain describes each child stage, the meta field naming its parent,
// and the stage the pointer must resolve to. Alias resolution for the
// field itself lives in artifact.Meta.ParentPointer.
var chain = []struct {
	childKind   string
	childLabel  string
	parentField string
	parentKind  string
	parentLabel string
}{
	{KindBatchPlan, "plan", "parent_batch_spec", KindBatchSpec, "spec"},
	{KindBatchDecision, "decision", "parent_batch_plan", KindBatchPlan, "plan"},
	{KindExecution, "execution", "parent_decision_artifact_id", KindBatchDecision, "decision"},
}

var requiredMetaKeys = []struct {
	name string
	get  func(artifact.Meta) string
}{
	{"tool_kind", func(m artifact.Meta) string { return m.ToolKind }},
	{"batch_label", func(m artifact.Meta) string { return m.BatchLabel }},
	{"session_id", func(m artifact.Meta) string { return m.SessionID }},
}

// Result collects the violations found in one artifact group.
type Result struct {
	Violations []string
}

// OK reports whether the group passed validation.
func (r Result) OK() bool { return len(r.Violations) == 0 }

// ValidateGroup checks one (session_id, batch_label) artifact group.
// With failFast set, validation stops at the first violation;
// otherwise all violations are collected.
func ValidateGroup(arts []artifact.RunArtifact, failFast bool) Result {
	var res Result
	add := func(format string, args ...any) bool {
		res.Violations = append(res.Violations, fmt.Sprintf(format, args...))
		return failFast
	}

	for _, a := range arts {
		for _, key := range requiredMetaKeys {
			if key.get(a.Meta) == "" {
				if add("artifact %s missing required meta key %s", a.RunID, key.name) {
					return res
				}
			}
		}
	}

	canonical := map[string]*artifact.RunArtifact{}
	for _, kind := range []string{KindBatchSpec, KindBatchPlan, KindBatchDecision, KindExecution} {
		canonical[kind] = newestOfKind(arts, kind)
	}

	for _, link := range chain {
		child := canonical[link.childKind]
		if child == nil {
			continue
		}
		parent := canonical[link.parentKind]
		got := child.Meta.ParentPointer(link.parentField)

		if parent == nil {
			if add("%s parent mismatch: %s %s points at %q but the group has no %s artifact",
				link.childLabel, link.childLabel, child.RunID, got, link.parentLabel) {
				return res
			}
			continue
		}
		if got != parent.RunID {
			if add("%s parent mismatch: %s %s points at %q, expected %s %s",
				link.childLabel, link.childLabel, child.RunID, got, link.parentLabel, parent.RunID) {
				return res
			}
		}
	}

	return res
}

// newestOfKind picks the canonical artifact for a stage when several
// candidates exist: most recent created_at wins, ties broken by the
// greater run id.
func newestOfKind(arts []artifact.RunArtifact, kind string) *artifact.RunArtifact {
	var best *artifact.RunArtifact
	for i := range arts {
		a := &arts[i]
		if a.Kind != kind {
			continue
		}
		if best == nil ||
			a.CreatedAtUTC.After(best.CreatedAtUTC) ||
			(a.CreatedAtUTC.Equal(best.CreatedAtUTC) && a.RunID > best.RunID) {
			best = a
		}
	}
	return best
}
