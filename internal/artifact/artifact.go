// Package artifact defines the data shapes persisted by the run
// ledger: the immutable RunArtifact payload, its index projection, and
// the typed meta block carrying lineage pointers.
package artifact

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/gantry/internal/risk"
)

// Status is the terminal outcome of one governed request.
type Status string

const (
	StatusOK      Status = "OK"
	StatusBlocked Status = "BLOCKED"
	StatusError   Status = "ERROR"
)

// Valid reports whether s is one of the three defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOK, StatusBlocked, StatusError:
		return true
	}
	return false
}

// Hashes carries the content hashes binding an artifact to its
// payloads. FeasibilitySHA256 is always present; output hashes exist
// only when the corresponding output was produced.
type Hashes struct {
	FeasibilitySHA256 string `json:"feasibility_sha256"`
	ToolpathsSHA256   string `json:"toolpaths_sha256,omitempty"`
	GcodeSHA256       string `json:"gcode_sha256,omitempty"`
	OpplanSHA256      string `json:"opplan_sha256,omitempty"`
}

// RunArtifact is the immutable record of one governed decision. It is
// written exactly once at decision time and never mutated; corrections
// require a new artifact referencing the old one through Meta.
type RunArtifact struct {
	RunID             string         `json:"run_id"`
	CreatedAtUTC      time.Time      `json:"created_at_utc"`
	WorkflowSessionID string         `json:"workflow_session_id,omitempty"`
	Mode              string         `json:"mode,omitempty"`
	ToolID            string         `json:"tool_id,omitempty"`
	MaterialID        string         `json:"material_id,omitempty"`
	MachineID         string         `json:"machine_id,omitempty"`
	Status            Status         `json:"status"`
	Kind              string         `json:"kind,omitempty"`
	RequestSummary    map[string]any `json:"request_summary,omitempty"`
	Feasibility       map[string]any `json:"feasibility,omitempty"`
	Decision          risk.Decision  `json:"decision"`
	Hashes            Hashes         `json:"hashes"`
	Outputs           map[string]any `json:"outputs,omitempty"`
	AdvisoryInputs    []string       `json:"advisory_inputs,omitempty"`
	ExplanationStatus string         `json:"explanation_status,omitempty"`
	Meta              Meta           `json:"meta"`
}

func isHex64(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Validate enforces the artifact invariants before persistence.
func (a RunArtifact) Validate() error {
	if strings.TrimSpace(a.RunID) == "" {
		return errors.New("run id is required")
	}
	if a.CreatedAtUTC.IsZero() {
		return errors.New("created_at_utc is required")
	}
	if !a.Status.Valid() {
		return fmt.Errorf("status %q is not one of OK, BLOCKED, ERROR", a.Status)
	}
	if !isHex64(a.Hashes.FeasibilitySHA256) {
		return errors.New("hashes.feasibility_sha256 must be 64 lowercase hex chars")
	}
	if a.Status != StatusOK {
		if a.Hashes.ToolpathsSHA256 != "" || a.Hashes.GcodeSHA256 != "" || a.Hashes.OpplanSHA256 != "" {
			return fmt.Errorf("output hashes are only permitted on OK artifacts, status is %s", a.Status)
		}
	}
	for name, h := range map[string]string{
		"toolpaths_sha256": a.Hashes.ToolpathsSHA256,
		"gcode_sha256":     a.Hashes.GcodeSHA256,
		"opplan_sha256":    a.Hashes.OpplanSHA256,
	} {
		if h != "" && !isHex64(h) {
			return fmt.Errorf("hashes.%s must be 64 lowercase hex chars", name)
		}
	}
	if !a.Decision.RiskLevel.Valid() {
		return fmt.Errorf("decision.risk_level %q is not a defined level", a.Decision.RiskLevel)
	}
	return nil
}

// IndexProjection returns the lightweight index entry derived from the
// payload. The index is a rebuildable cache, never the source of
// truth.
func (a RunArtifact) IndexProjection() IndexEntry {
	return IndexEntry{
		RunID:        a.RunID,
		Status:       a.Status,
		Mode:         a.Mode,
		Kind:         a.Kind,
		ToolID:       a.ToolID,
		CreatedAtUTC: a.CreatedAtUTC,
		Meta:         a.Meta,
	}
}

// IndexEntry is the projection of one artifact held in the central
// index for filtering without payload scans. The tombstone fields mark
// deletion without necessarily removing the payload.
type IndexEntry struct {
	RunID        string    `json:"run_id"`
	Status       Status    `json:"status"`
	Mode         string    `json:"mode,omitempty"`
	Kind         string    `json:"kind,omitempty"`
	ToolID       string    `json:"tool_id,omitempty"`
	CreatedAtUTC time.Time `json:"created_at_utc"`
	Meta         Meta      `json:"meta"`

	Deleted       bool       `json:"deleted,omitempty"`
	DeletedReason string     `json:"deleted_reason,omitempty"`
	DeletedBy     string     `json:"deleted_by,omitempty"`
	DeletedAtUTC  *time.Time `json:"deleted_at_utc,omitempty"`
}
