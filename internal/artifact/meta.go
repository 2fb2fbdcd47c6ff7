package artifact

// Meta is the typed core of the artifact's meta block: workflow
// grouping keys plus the lineage parent pointers. Anything outside the
// core field set rides in Extra so older producers keep working.
type Meta struct {
	BatchLabel string `json:"batch_label,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	ToolKind   string `json:"tool_kind,omitempty"`

	ParentBatchSpec          string `json:"parent_batch_spec,omitempty"`
	ParentBatchPlan          string `json:"parent_batch_plan,omitempty"`
	ParentDecisionArtifactID string `json:"parent_decision_artifact_id,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// Alias field names that older producers used for the canonical meta
// fields, in resolution priority order. Normalization promotes these
// at write time so lineage validation and filtering never resolve
// aliases at read time.
var metaAliases = map[string][]string{
	"batch_label":                 {"batch", "batch_id"},
	"session_id":                  {"workflow_session", "session"},
	"tool_kind":                   {"toolkind", "tool_class"},
	"parent_batch_spec":           {"parent_spec_id", "batch_spec_id", "spec_artifact_id"},
	"parent_batch_plan":           {"parent_plan_id", "batch_plan_id", "plan_artifact_id"},
	"parent_decision_artifact_id": {"parent_decision_id", "decision_artifact_id"},
}

// Normalize promotes legacy alias keys from Extra into the canonical
// fields. A canonical field that is already set wins; the first alias
// in priority order fills an empty one. Promoted keys are removed from
// Extra.
func (m Meta) Normalize() Meta {
	if len(m.Extra) == 0 {
		return m
	}

	out := m
	out.Extra = make(map[string]any, len(m.Extra))
	for k, v := range m.Extra {
		out.Extra[k] = v
	}

	fields := map[string]*string{
		"batch_label":                 &out.BatchLabel,
		"session_id":                  &out.SessionID,
		"tool_kind":                   &out.ToolKind,
		"parent_batch_spec":           &out.ParentBatchSpec,
		"parent_batch_plan":           &out.ParentBatchPlan,
		"parent_decision_artifact_id": &out.ParentDecisionArtifactID,
	}

	for canonical, target := range fields {
		// The canonical name itself may appear in Extra when the
		// producer serialized a flat meta dict.
		for _, key := range append([]string{canonical}, metaAliases[canonical]...) {
			v, ok := out.Extra[key].(string)
			if !ok || v == "" {
				continue
			}
			if *target == "" {
				*target = v
			}
			delete(out.Extra, key)
		}
	}

	if len(out.Extra) == 0 {
		out.Extra = nil
	}
	return out
}

// ParentPointer returns the lineage parent for the given canonical
// field name, falling back to the alias list in Extra. Normalized
// artifacts answer from the typed fields; the alias walk keeps
// validation tolerant of records written before normalization existed.
func (m Meta) ParentPointer(canonical string) string {
	switch canonical {
	case "parent_batch_spec":
		if m.ParentBatchSpec != "" {
			return m.ParentBatchSpec
		}
	case "parent_batch_plan":
		if m.ParentBatchPlan != "" {
			return m.ParentBatchPlan
		}
	case "parent_decision_artifact_id":
		if m.ParentDecisionArtifactID != "" {
			return m.ParentDecisionArtifactID
		}
	}
	for _, key := range append([]string{canonical}, metaAliases[canonical]...) {
		if v, ok := m.Extra[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
