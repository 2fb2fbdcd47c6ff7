package lineage

import (
	"bytes"
	"fmt"

	"github.com/roach88/gantry/internal/artifact"
)

// RenderReport produces the text report for one artifact group: the
// canonical artifact per stage in workflow order, then the violation
// list. Output is deterministic for a given group, which keeps it
// golden-testable and diff-friendly in CI logs.
func RenderReport(sessionID, batchLabel string, arts []artifact.RunArtifact, res Result) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "lineage session=%s batch=%s\n", sessionID, batchLabel)

	stages := []struct {
		label       string
		kind        string
		parentField string
	}{
		{"spec", KindBatchSpec, ""},
		{"plan", KindBatchPlan, "parent_batch_spec"},
		{"decision", KindBatchDecision, "parent_batch_plan"},
		{"execution", KindExecution, "parent_decision_artifact_id"},
	}
	for _, st := range stages {
		a := newestOfKind(arts, st.kind)
		if a == nil {
			fmt.Fprintf(&buf, "  %-10s (absent)\n", st.label)
			continue
		}
		line := fmt.Sprintf("  %-10s %s status=%s", st.label, a.RunID, a.Status)
		if st.parentField != "" {
			line += fmt.Sprintf(" parent=%s", a.Meta.ParentPointer(st.parentField))
		}
		buf.WriteString(line + "\n")
	}

	if res.OK() {
		buf.WriteString("violations: none\n")
	} else {
		fmt.Fprintf(&buf, "violations: %d\n", len(res.Violations))
		for _, v := range res.Violations {
			fmt.Fprintf(&buf, "  - %s\n", v)
		}
	}
	return buf.Bytes()
}
