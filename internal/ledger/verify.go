package ledger

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/gantry/internal/artifact"
	"github.com/roach88/gantry/internal/canonical"
)

//go:embed artifact_schema.json
var artifactSchemaJSON string

var (
	artifactSchemaOnce sync.Once
	artifactSchema     *jsonschema.Schema
	artifactSchemaErr  error
)

func compiledArtifactSchema() (*jsonschema.Schema, error) {
	artifactSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("artifact.schema.json", strings.NewReader(artifactSchemaJSON)); err != nil {
			artifactSchemaErr = err
			return
		}
		artifactSchema, artifactSchemaErr = c.Compile("artifact.schema.json")
	})
	return artifactSchema, artifactSchemaErr
}

// VerifyIssue describes one artifact that failed verification.
type VerifyIssue struct {
	RunID  string `json:"run_id"`
	Reason string `json:"reason"`
}

// VerifyReport summarizes a store verification pass.
type VerifyReport struct {
	Checked int           `json:"checked"`
	Missing []string      `json:"missing"`
	Corrupt []VerifyIssue `json:"corrupt"`
}

// OK reports whether the pass found nothing wrong.
func (r VerifyReport) OK() bool {
	return len(r.Missing) == 0 && len(r.Corrupt) == 0
}

// Verify confirms that every live indexed run still has its payload
// file. In strict mode each payload is also deserialized, checked
// against the artifact JSON Schema, and its feasibility hash
// recomputed from the stored payload. Problems are collected into the
// report, never raised; the returned error covers only the inability
// to verify at all (schema compilation).
func (l *Ledger) Verify(strict bool) (VerifyReport, error) {
	if strict {
		if _, err := compiledArtifactSchema(); err != nil {
			return VerifyReport{}, newStorageError("compile artifact schema", "", err)
		}
	}

	l.mu.RLock()
	entries := make([]artifact.IndexEntry, 0, len(l.index))
	for _, e := range l.index {
		if e.Deleted {
			continue
		}
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	report := VerifyReport{Missing: []string{}, Corrupt: []VerifyIssue{}}
	var reportMu sync.Mutex

	var g errgroup.Group
	g.SetLimit(8)
	for _, e := range entries {
		g.Go(func() error {
			missing, issue := l.verifyOne(e, strict)
			reportMu.Lock()
			defer reportMu.Unlock()
			report.Checked++
			if missing {
				report.Missing = append(report.Missing, e.RunID)
			} else if issue != nil {
				report.Corrupt = append(report.Corrupt, *issue)
			}
			return nil
		})
	}
	// Workers never return errors; everything lands in the report.
	_ = g.Wait()

	sort.Strings(report.Missing)
	sort.Slice(report.Corrupt, func(i, j int) bool { return report.Corrupt[i].RunID < report.Corrupt[j].RunID })
	return report, nil
}

func (l *Ledger) verifyOne(e artifact.IndexEntry, strict bool) (missing bool, issue *VerifyIssue) {
	data, err := os.ReadFile(l.payloadPath(e))
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, &VerifyIssue{RunID: e.RunID, Reason: fmt.Sprintf("read: %v", err)}
	}
	if !strict {
		return false, nil
	}

	var a artifact.RunArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return false, &VerifyIssue{RunID: e.RunID, Reason: fmt.Sprintf("deserialize: %v", err)}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return false, &VerifyIssue{RunID: e.RunID, Reason: fmt.Sprintf("deserialize: %v", err)}
	}
	schema, _ := compiledArtifactSchema()
	if err := schema.Validate(doc); err != nil {
		return false, &VerifyIssue{RunID: e.RunID, Reason: fmt.Sprintf("schema: %v", err)}
	}

	// Round-trip check: the stored feasibility payload must reproduce
	// the hash recorded at decision time.
	if a.Feasibility != nil {
		h, err := canonical.HashObject(a.Feasibility)
		if err != nil {
			return false, &VerifyIssue{RunID: e.RunID, Reason: fmt.Sprintf("feasibility hash: %v", err)}
		}
		if h != a.Hashes.FeasibilitySHA256 {
			return false, &VerifyIssue{RunID: e.RunID, Reason: "feasibility hash mismatch"}
		}
	}
	return false, nil
}
