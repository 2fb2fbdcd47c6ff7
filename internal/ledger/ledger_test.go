package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gantry/internal/artifact"
	"github.com/roach88/gantry/internal/canonical"
	"github.com/roach88/gantry/internal/risk"
)

func testArtifact(created time.Time) artifact.RunArtifact {
	feasibility := map[string]any{"risk_level": "GREEN", "margin_mm": 1.5}
	return artifact.RunArtifact{
		RunID:        NewRunID(created),
		CreatedAtUTC: created,
		Mode:         "adaptive",
		ToolID:       "endmill-6mm",
		Status:       artifact.StatusOK,
		Kind:         "toolpath_request",
		Feasibility:  feasibility,
		Decision:     risk.Decision{RiskLevel: risk.Green, Warnings: []string{}},
		Hashes: artifact.Hashes{
			FeasibilitySHA256: canonical.MustHashObject(feasibility),
			GcodeSHA256:       canonical.HashText("G0 X0 Y0"),
		},
		Outputs: map[string]any{"gcode_text": "G0 X0 Y0"},
		Meta:    artifact.Meta{BatchLabel: "b1", SessionID: "s1", ToolKind: "endmill"},
	}
}

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(t.TempDir())
	require.NoError(t, err)
	return l
}

func TestNewRunID_SortsByRecency(t *testing.T) {
	t1 := time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	id1 := NewRunID(t1)
	id2 := NewRunID(t2)
	assert.Less(t, id1, id2)

	parsed, ok := runIDTime(id1)
	require.True(t, ok)
	assert.True(t, parsed.Equal(t1))
}

func TestNewRunID_UniqueUnderBurst(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewRunID(now)
		require.False(t, seen[id], "duplicate run id %s", id)
		seen[id] = true
	}
}

func TestPersistRun_RoundTrip(t *testing.T) {
	l := openTestLedger(t)
	created := time.Date(2026, 1, 14, 10, 15, 0, 0, time.UTC)
	a := testArtifact(created)

	require.NoError(t, l.PersistRun(a))

	// Payload lands in the UTC date partition.
	path := filepath.Join(l.Root(), "2026-01-14", a.RunID+".json")
	_, err := os.Stat(path)
	require.NoError(t, err)

	got, err := l.GetRun(a.RunID)
	require.NoError(t, err)
	assert.Equal(t, a.RunID, got.RunID)
	assert.Equal(t, artifact.StatusOK, got.Status)
	assert.Equal(t, a.Hashes.FeasibilitySHA256, got.Hashes.FeasibilitySHA256)

	// Hash round-trip: recomputing from the stored payload matches.
	assert.Equal(t, a.Hashes.FeasibilitySHA256, canonical.MustHashObject(got.Feasibility))
}

func TestPersistRun_LeavesNoTempFiles(t *testing.T) {
	l := openTestLedger(t)
	a := testArtifact(time.Date(2026, 1, 14, 10, 15, 0, 0, time.UTC))
	require.NoError(t, l.PersistRun(a))

	entries, err := os.ReadDir(filepath.Join(l.Root(), "2026-01-14"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}

func TestPersistRun_RejectsDuplicateID(t *testing.T) {
	l := openTestLedger(t)
	a := testArtifact(time.Date(2026, 1, 14, 10, 15, 0, 0, time.UTC))
	require.NoError(t, l.PersistRun(a))

	err := l.PersistRun(a)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "immutable")
}

func TestPersistRun_RejectsInvalidArtifact(t *testing.T) {
	l := openTestLedger(t)
	a := testArtifact(time.Date(2026, 1, 14, 10, 15, 0, 0, time.UTC))
	a.Hashes.FeasibilitySHA256 = ""
	err := l.PersistRun(a)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestPersistRun_NormalizesMetaAliases(t *testing.T) {
	l := openTestLedger(t)
	a := testArtifact(time.Date(2026, 1, 14, 10, 15, 0, 0, time.UTC))
	a.Meta.Extra = map[string]any{"parent_spec_id": "spec-run-1"}
	require.NoError(t, l.PersistRun(a))

	got, err := l.GetRun(a.RunID)
	require.NoError(t, err)
	assert.Equal(t, "spec-run-1", got.Meta.ParentBatchSpec)
	assert.NotContains(t, got.Meta.Extra, "parent_spec_id")
}

func TestGetRun_NotFound(t *testing.T) {
	l := openTestLedger(t)
	_, err := l.GetRun("20260114T000000Z-nope")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestGetRun_FallbackScanWithoutIndex(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)
	a := testArtifact(time.Date(2026, 1, 14, 10, 15, 0, 0, time.UTC))
	require.NoError(t, l.PersistRun(a))

	// Simulate index loss: reopen with the index file gone.
	require.NoError(t, os.Remove(filepath.Join(dir, "_index.json")))
	l2, err := Open(dir)
	require.NoError(t, err)

	got, err := l2.GetRun(a.RunID)
	require.NoError(t, err)
	assert.Equal(t, a.RunID, got.RunID)
}

func TestListRuns_FilterAndPagination(t *testing.T) {
	l := openTestLedger(t)
	base := time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 5; i++ {
		a := testArtifact(base.Add(time.Duration(i) * time.Minute))
		if i%2 == 1 {
			a.Status = artifact.StatusBlocked
			a.Hashes.GcodeSHA256 = ""
			a.Outputs = nil
		}
		require.NoError(t, l.PersistRun(a))
		ids = append(ids, a.RunID)
	}

	all := l.ListRuns(Filter{}, 0, 0)
	require.Len(t, all, 5)
	// Ordered by created_at then run_id.
	assert.True(t, sort.SliceIsSorted(all, func(i, j int) bool {
		if !all[i].CreatedAtUTC.Equal(all[j].CreatedAtUTC) {
			return all[i].CreatedAtUTC.Before(all[j].CreatedAtUTC)
		}
		return all[i].RunID < all[j].RunID
	}))

	blocked := l.ListRuns(Filter{Status: artifact.StatusBlocked}, 0, 0)
	assert.Len(t, blocked, 2)
	assert.Equal(t, 2, l.CountRuns(Filter{Status: artifact.StatusBlocked}))

	bySession := l.ListRuns(Filter{SessionID: "s1"}, 0, 0)
	assert.Len(t, bySession, 5)
	assert.Empty(t, l.ListRuns(Filter{SessionID: "other"}, 0, 0))

	page := l.ListRuns(Filter{}, 2, 2)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].RunID)
	assert.Equal(t, ids[3], page[1].RunID)

	windowed := l.ListRuns(Filter{
		CreatedSince: base.Add(1 * time.Minute),
		CreatedUntil: base.Add(3 * time.Minute),
	}, 0, 0)
	assert.Len(t, windowed, 2)
}

func TestRebuildIndex_IdempotentAfterIndexLoss(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)

	base := time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC)
	var want []string
	for i := 0; i < 4; i++ {
		// Spread across two partitions.
		a := testArtifact(base.Add(time.Duration(i*13) * time.Hour))
		require.NoError(t, l.PersistRun(a))
		want = append(want, a.RunID)
	}
	sort.Strings(want)

	require.NoError(t, os.Remove(filepath.Join(dir, "_index.json")))
	l2, err := Open(dir)
	require.NoError(t, err)
	assert.Empty(t, l2.ListRuns(Filter{}, 0, 0))

	n, err := l2.RebuildIndex()
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	var got []string
	for _, e := range l2.ListRuns(Filter{}, 0, 0) {
		got = append(got, e.RunID)
	}
	sort.Strings(got)
	assert.Equal(t, want, got)
}

func TestRebuildIndex_PreservesTombstones(t *testing.T) {
	l := openTestLedger(t)
	a := testArtifact(time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC))
	b := testArtifact(time.Date(2026, 1, 14, 11, 0, 0, 0, time.UTC))
	require.NoError(t, l.PersistRun(a))
	require.NoError(t, l.PersistRun(b))

	_, err := l.DeleteRun(a.RunID, SoftDelete, "operator request", "alice", false)
	require.NoError(t, err)
	_, err = l.DeleteRun(b.RunID, HardDelete, "operator request", "alice", false)
	require.NoError(t, err)

	_, err = l.RebuildIndex()
	require.NoError(t, err)

	ea, err := l.GetEntry(a.RunID)
	require.NoError(t, err)
	assert.True(t, ea.Deleted)

	eb, err := l.GetEntry(b.RunID)
	require.NoError(t, err)
	assert.True(t, eb.Deleted)
}

func TestVerify_ReportsMissingAndCorrupt(t *testing.T) {
	l := openTestLedger(t)
	ok := testArtifact(time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC))
	missing := testArtifact(time.Date(2026, 1, 14, 10, 1, 0, 0, time.UTC))
	corrupt := testArtifact(time.Date(2026, 1, 14, 10, 2, 0, 0, time.UTC))
	for _, a := range []artifact.RunArtifact{ok, missing, corrupt} {
		require.NoError(t, l.PersistRun(a))
	}

	// Damage the store behind the ledger's back.
	require.NoError(t, os.Remove(filepath.Join(l.Root(), "2026-01-14", missing.RunID+".json")))
	require.NoError(t, os.WriteFile(filepath.Join(l.Root(), "2026-01-14", corrupt.RunID+".json"), []byte("{not json"), 0o644))

	report, err := l.Verify(true)
	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, []string{missing.RunID}, report.Missing)
	require.Len(t, report.Corrupt, 1)
	assert.Equal(t, corrupt.RunID, report.Corrupt[0].RunID)
}

func TestVerify_StrictCatchesTamperedFeasibility(t *testing.T) {
	l := openTestLedger(t)
	a := testArtifact(time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC))
	require.NoError(t, l.PersistRun(a))

	// Rewrite the payload with an edited feasibility value. The file
	// stays schema-valid; only the recorded hash no longer matches.
	path := filepath.Join(l.Root(), "2026-01-14", a.RunID+".json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	doc["feasibility"].(map[string]any)["margin_mm"] = 99.0
	edited, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, edited, 0o644))

	lax, err := l.Verify(false)
	require.NoError(t, err)
	assert.True(t, lax.OK(), "non-strict only checks file existence")

	strict, err := l.Verify(true)
	require.NoError(t, err)
	require.Len(t, strict.Corrupt, 1)
	assert.Equal(t, a.RunID, strict.Corrupt[0].RunID)
	assert.Contains(t, strict.Corrupt[0].Reason, "feasibility hash mismatch")
}

func TestVerify_StrictCatchesSchemaViolations(t *testing.T) {
	l := openTestLedger(t)
	a := testArtifact(time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC))
	require.NoError(t, l.PersistRun(a))

	// Overwrite the payload with JSON that decodes but violates the
	// schema (bad status).
	path := filepath.Join(l.Root(), "2026-01-14", a.RunID+".json")
	require.NoError(t, os.WriteFile(path, []byte(`{"run_id":"`+a.RunID+`","created_at_utc":"2026-01-14T10:00:00Z","status":"DONE","decision":{"risk_level":"GREEN","warnings":[]},"hashes":{"feasibility_sha256":"`+a.Hashes.FeasibilitySHA256+`"},"meta":{}}`), 0o644))

	lax, err := l.Verify(false)
	require.NoError(t, err)
	assert.True(t, lax.OK(), "non-strict only checks file existence")

	strict, err := l.Verify(true)
	require.NoError(t, err)
	require.Len(t, strict.Corrupt, 1)
	assert.Contains(t, strict.Corrupt[0].Reason, "schema")
}
