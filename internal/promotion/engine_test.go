package promotion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gantry/internal/risk"
)

// stubSource serves a fixed job history.
type stubSource struct {
	jobs []Job
}

func (s stubSource) RecentJobs(_ context.Context, _ string, limit int) ([]Job, error) {
	if limit < len(s.jobs) {
		return s.jobs[:limit], nil
	}
	return s.jobs, nil
}

func greenJobs(n int, fragility float64) []Job {
	jobs := make([]Job, n)
	for i := range jobs {
		jobs[i] = Job{PresetID: "p1", Grade: risk.Green, Fragility: fragility}
	}
	return jobs
}

func TestEvaluate_UltraFragileCeilingBlocksEveryLane(t *testing.T) {
	e := NewEngine(Default(), stubSource{jobs: greenJobs(1, 0.95)})

	for _, lane := range []string{LaneSafe, LaneTunedV1, LaneTunedV2, LaneExperimental, LaneArchived} {
		out, err := e.Evaluate(context.Background(), "p1", lane)
		require.NoError(t, err)
		assert.False(t, out.Allowed, "lane %s", lane)
		assert.Contains(t, out.Reason, "0.95")
		assert.Contains(t, out.Reason, "0.90")
	}
}

func TestEvaluate_SafeLaneAllowed(t *testing.T) {
	e := NewEngine(Default(), stubSource{jobs: greenJobs(6, 0.28)})

	out, err := e.Evaluate(context.Background(), "p1", LaneSafe)
	require.NoError(t, err)
	assert.True(t, out.Allowed, "reason: %s", out.Reason)
	assert.Equal(t, 6, out.Stats.CleanRuns)
	assert.InDelta(t, 0.28, out.Stats.WorstFragility, 1e-9)
}

func TestEvaluate_SafeLaneNeedsCleanRuns(t *testing.T) {
	e := NewEngine(Default(), stubSource{jobs: greenJobs(3, 0.28)})

	out, err := e.Evaluate(context.Background(), "p1", LaneSafe)
	require.NoError(t, err)
	assert.False(t, out.Allowed)
	// The reason cites both the observed and required counts.
	assert.Contains(t, out.Reason, "3")
	assert.Contains(t, out.Reason, "5")
}

func TestEvaluate_SafeLaneFragilityBound(t *testing.T) {
	e := NewEngine(Default(), stubSource{jobs: greenJobs(10, 0.75)})

	out, err := e.Evaluate(context.Background(), "p1", LaneSafe)
	require.NoError(t, err)
	assert.False(t, out.Allowed)
	assert.Contains(t, out.Reason, "0.75")
	assert.Contains(t, out.Reason, "0.60")

	// The same history is fine for a tuned lane.
	out, err = e.Evaluate(context.Background(), "p1", LaneTunedV1)
	require.NoError(t, err)
	assert.True(t, out.Allowed, "reason: %s", out.Reason)
}

func TestEvaluate_CleanJobClassification(t *testing.T) {
	jobs := []Job{
		{Grade: risk.Green, Fragility: 0.10},  // clean
		{Grade: risk.Yellow, Fragility: 0.30}, // clean: under yellow max
		{Grade: risk.Yellow, Fragility: 0.70}, // not clean: over yellow max
		{Grade: risk.Red, Fragility: 0.05},    // never clean
		{Grade: risk.Green, Fragility: 0.85},  // clean: under ultra threshold
	}
	e := NewEngine(Default(), stubSource{jobs: jobs})

	out, err := e.Evaluate(context.Background(), "p1", LaneTunedV1)
	require.NoError(t, err)
	assert.Equal(t, 5, out.Stats.TotalRuns)
	assert.Equal(t, 3, out.Stats.CleanRuns)
	assert.InDelta(t, 0.85, out.Stats.WorstFragility, 1e-9)
	assert.InDelta(t, 0.85, out.Stats.WorstCleanFragility, 1e-9)
}

func TestEvaluate_EmptyHistoryDefaultsToAllowed(t *testing.T) {
	e := NewEngine(Default(), stubSource{})

	out, err := e.Evaluate(context.Background(), "fresh-preset", LaneSafe)
	require.NoError(t, err)
	assert.True(t, out.Allowed)
	assert.Contains(t, out.Reason, "no job history")
}

func TestEvaluate_LookbackLimitsHistory(t *testing.T) {
	cfg := Default()
	cfg.LookbackJobsPerPreset = 4
	// Newest four jobs are clean; the fifth would trip the ultra
	// ceiling but falls outside the lookback window.
	jobs := append(greenJobs(4, 0.20), Job{Grade: risk.Green, Fragility: 0.95})
	e := NewEngine(cfg, stubSource{jobs: jobs})

	out, err := e.Evaluate(context.Background(), "p1", LaneTunedV1)
	require.NoError(t, err)
	assert.True(t, out.Allowed, "reason: %s", out.Reason)
	assert.Equal(t, 4, out.Stats.TotalRuns)
}

func TestJobLog_AppendAndRecent(t *testing.T) {
	path := t.TempDir() + "/joblog.db"
	jl, err := OpenJobLog(path)
	require.NoError(t, err)
	defer jl.Close()

	ctx := context.Background()
	base := time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, jl.AppendJob(ctx, Job{
			PresetID:     "p1",
			RunID:        "run-" + string(rune('a'+i)),
			Grade:        risk.Green,
			Fragility:    0.1 * float64(i),
			CreatedAtUTC: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, jl.AppendJob(ctx, Job{
		PresetID: "other", RunID: "run-x", Grade: risk.Red, Fragility: 0.9,
		CreatedAtUTC: base,
	}))

	jobs, err := jl.RecentJobs(ctx, "p1", 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	// Newest first.
	assert.Equal(t, "run-c", jobs[0].RunID)
	assert.Equal(t, "run-b", jobs[1].RunID)

	all, err := jl.RecentJobs(ctx, "p1", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := jl.RecentJobs(ctx, "unknown", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestJobLog_RejectsBadGrade(t *testing.T) {
	jl, err := OpenJobLog(t.TempDir() + "/joblog.db")
	require.NoError(t, err)
	defer jl.Close()

	err = jl.AppendJob(context.Background(), Job{
		PresetID: "p1", RunID: "r", Grade: risk.Level("MAGENTA"), Fragility: 0.1,
	})
	assert.Error(t, err)
}

func TestEngine_WithJobLogEndToEnd(t *testing.T) {
	jl, err := OpenJobLog(t.TempDir() + "/joblog.db")
	require.NoError(t, err)
	defer jl.Close()

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		require.NoError(t, jl.AppendJob(ctx, Job{
			PresetID: "p1", RunID: "r", Grade: risk.Green, Fragility: 0.28,
			CreatedAtUTC: time.Date(2026, 1, 14, 10, i, 0, 0, time.UTC),
		}))
	}

	e := NewEngine(Default(), jl)
	out, err := e.Evaluate(ctx, "p1", LaneSafe)
	require.NoError(t, err)
	assert.True(t, out.Allowed, "reason: %s", out.Reason)
}
