package promotion

import (
	"context"
	"fmt"

	"github.com/roach88/gantry/internal/risk"
)

// JobSource supplies recent job history for a preset, newest first.
// *JobLog is the production implementation.
type JobSource interface {
	RecentJobs(ctx context.Context, presetID string, limit int) ([]Job, error)
}

// Stats aggregates the job history an evaluation was based on.
type Stats struct {
	TotalRuns           int     `json:"total_runs"`
	CleanRuns           int     `json:"clean_runs"`
	WorstFragility      float64 `json:"worst_fragility"`
	WorstCleanFragility float64 `json:"worst_clean_fragility"`
}

// Outcome is one promotion decision. Reason always names the concrete
// numeric thresholds that produced it.
type Outcome struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	Stats   Stats  `json:"stats"`
}

// Engine evaluates lane promotions against the policy config.
type Engine struct {
	cfg  Config
	jobs JobSource
}

// NewEngine builds a promotion engine over the given job source.
func NewEngine(cfg Config, jobs JobSource) *Engine {
	return &Engine{cfg: cfg, jobs: jobs}
}

// Config returns the active policy.
func (e *Engine) Config() Config { return e.cfg }

// isClean classifies one job. GREEN is clean, YELLOW only below the
// yellow fragility bar, RED never. The ultra-fragile threshold is a
// hard ceiling: at or above it no grade counts as clean.
func (e *Engine) isClean(j Job) bool {
	if j.Fragility >= e.cfg.UltraFragileThreshold {
		return false
	}
	switch j.Grade {
	case risk.Green:
		return true
	case risk.Yellow:
		return j.Fragility <= e.cfg.YellowFragilityMax
	default:
		return false
	}
}

// Evaluate decides whether presetID may be promoted into lane.
// Evaluation pulls up to lookback_jobs_per_preset recent entries; a
// preset with no history at all is allowed through (a deliberately
// permissive default, called out in the reason so operators see it).
func (e *Engine) Evaluate(ctx context.Context, presetID, lane string) (Outcome, error) {
	jobs, err := e.jobs.RecentJobs(ctx, presetID, e.cfg.LookbackJobsPerPreset)
	if err != nil {
		return Outcome{}, fmt.Errorf("evaluate promotion for %s: %w", presetID, err)
	}

	if len(jobs) == 0 {
		return Outcome{
			Allowed: true,
			Reason:  fmt.Sprintf("no job history for preset %s; defaulting to allowed", presetID),
		}, nil
	}

	var stats Stats
	stats.TotalRuns = len(jobs)
	for _, j := range jobs {
		if j.Fragility > stats.WorstFragility {
			stats.WorstFragility = j.Fragility
		}
		if e.isClean(j) {
			stats.CleanRuns++
			if j.Fragility > stats.WorstCleanFragility {
				stats.WorstCleanFragility = j.Fragility
			}
		}
	}

	// The ultra-fragile ceiling blocks every lane, whatever the
	// grades looked like.
	if stats.WorstFragility >= e.cfg.UltraFragileThreshold {
		return Outcome{
			Allowed: false,
			Reason: fmt.Sprintf("ultra-fragile ceiling: worst fragility %.2f >= %.2f blocks promotion to any lane",
				stats.WorstFragility, e.cfg.UltraFragileThreshold),
			Stats: stats,
		}, nil
	}

	if lane == LaneSafe {
		if stats.WorstFragility > e.cfg.FragilityToSafeMax {
			return Outcome{
				Allowed: false,
				Reason: fmt.Sprintf("worst fragility %.2f exceeds safe-lane max %.2f",
					stats.WorstFragility, e.cfg.FragilityToSafeMax),
				Stats: stats,
			}, nil
		}
	}

	if need, gated := e.cfg.MinCleanRuns[lane]; gated && stats.CleanRuns < need {
		return Outcome{
			Allowed: false,
			Reason: fmt.Sprintf("only %d clean runs of %d required for lane %s",
				stats.CleanRuns, need, lane),
			Stats: stats,
		}, nil
	}

	return Outcome{
		Allowed: true,
		Reason: fmt.Sprintf("%d clean runs of %d total, worst fragility %.2f within policy for lane %s",
			stats.CleanRuns, stats.TotalRuns, stats.WorstFragility, lane),
		Stats: stats,
	}, nil
}
