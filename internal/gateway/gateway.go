// Package gateway is the persist-and-classify entry point. Every
// request that reaches Decide leaves behind exactly one artifact in
// the ledger: OK, BLOCKED, or ERROR. There is no response path that
// skips persistence.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/gantry/internal/artifact"
	"github.com/roach88/gantry/internal/canonical"
	"github.com/roach88/gantry/internal/ledger"
	"github.com/roach88/gantry/internal/risk"
)

// FeasibilityEngine recomputes feasibility for a request. The gateway
// never trusts a caller-supplied classification; only the payload this
// engine returns is fed to the risk policy.
type FeasibilityEngine interface {
	ComputeFeasibility(ctx context.Context, toolID string, design, reqContext map[string]any) (map[string]any, error)
}

// ToolpathGenerator produces machining output for a request the risk
// policy did not block.
type ToolpathGenerator interface {
	Generate(ctx context.Context, req Request, feasibility map[string]any) (*GeneratorOutput, error)
}

// Request is one governed decision request.
type Request struct {
	WorkflowSessionID string
	Mode              string
	Kind              string
	ToolID            string
	MaterialID        string
	MachineID         string
	Design            map[string]any
	Context           map[string]any
	RequestSummary    map[string]any
	AdvisoryInputs    []string
	Meta              artifact.Meta
}

// GeneratorOutput is what the external generator hands back. Any field
// may be absent; hashes are recorded only for the outputs present.
type GeneratorOutput struct {
	Toolpaths map[string]any `json:"toolpaths,omitempty"`
	GcodeText string         `json:"gcode_text,omitempty"`
	Opplan    map[string]any `json:"opplan,omitempty"`
}

// Result is the outcome of one Decide call. RunID always names the
// artifact this request produced.
type Result struct {
	RunID        string           `json:"run_id"`
	Status       artifact.Status  `json:"status"`
	Decision     risk.Decision    `json:"decision"`
	Feasibility  map[string]any   `json:"feasibility"`
	Hashes       artifact.Hashes  `json:"hashes"`
	Output       *GeneratorOutput `json:"output,omitempty"`
	ErrorSummary string           `json:"error_summary,omitempty"`
}

// Blocked reports whether the risk policy stopped the request.
func (r Result) Blocked() bool { return r.Status == artifact.StatusBlocked }

// GovernanceContext holds everything Decide needs: the ledger, the
// active risk policy, the external engines, a clock and a logger. It
// is constructed once at process start and passed by handle; there is
// no package-level state.
type GovernanceContext struct {
	ledger    *ledger.Ledger
	policy    risk.Policy
	engine    FeasibilityEngine
	generator ToolpathGenerator
	log       *slog.Logger
	now       func() time.Time
}

// Option configures a GovernanceContext.
type Option func(*GovernanceContext)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *GovernanceContext) { g.now = now }
}

// WithLogger sets the gateway logger.
func WithLogger(log *slog.Logger) Option {
	return func(g *GovernanceContext) { g.log = log }
}

// WithPolicy overrides the default deny-by-default risk policy.
func WithPolicy(p risk.Policy) Option {
	return func(g *GovernanceContext) { g.policy = p }
}

// New builds a governance context over the given ledger and engines.
func New(led *ledger.Ledger, engine FeasibilityEngine, generator ToolpathGenerator, opts ...Option) *GovernanceContext {
	g := &GovernanceContext{
		ledger:    led,
		policy:    risk.DefaultPolicy(),
		engine:    engine,
		generator: generator,
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Ledger exposes the underlying store for query surfaces.
func (g *GovernanceContext) Ledger() *ledger.Ledger { return g.ledger }

// Decide runs the full governed flow: recompute feasibility, classify,
// and either block or generate; persist one artifact whichever way it
// goes. A generator failure still produces an ERROR artifact with a
// short type+message summary, never raw stack data.
func (g *GovernanceContext) Decide(ctx context.Context, req Request) (Result, error) {
	createdAt := g.now().UTC()
	runID := ledger.NewRunID(createdAt)

	feasibility, err := g.engine.ComputeFeasibility(ctx, req.ToolID, req.Design, req.Context)
	if err != nil {
		// An unanswerable feasibility question is classified, not
		// propagated: the payload below extracts to UNKNOWN and the
		// deny-by-default policy blocks it.
		g.log.Warn("feasibility engine failed", "run_id", runID, "error", err)
		feasibility = map[string]any{
			"error": fmt.Sprintf("%T: %s", err, err.Error()),
		}
	}

	decision := risk.ExtractDecision(feasibility)

	// A payload that cannot be hashed cannot be persisted either
	// (NaN scores and the like). It is replaced by its error summary
	// so the request still leaves exactly one artifact behind.
	var hashSummary string
	feasHash, err := canonical.HashObject(feasibility)
	if err != nil {
		hashSummary = fmt.Sprintf("%T: %s", err, err.Error())
		g.log.Error("feasibility payload not hashable", "run_id", runID, "error", err)
		feasibility = map[string]any{"error": hashSummary}
		decision = risk.ExtractDecision(feasibility)
		feasHash = canonical.MustHashObject(feasibility)
	}

	base := artifact.RunArtifact{
		RunID:             runID,
		CreatedAtUTC:      createdAt,
		WorkflowSessionID: req.WorkflowSessionID,
		Mode:              req.Mode,
		Kind:              req.Kind,
		ToolID:            req.ToolID,
		MaterialID:        req.MaterialID,
		MachineID:         req.MachineID,
		RequestSummary:    req.RequestSummary,
		Feasibility:       feasibility,
		Decision:          decision,
		Hashes:            artifact.Hashes{FeasibilitySHA256: feasHash},
		AdvisoryInputs:    req.AdvisoryInputs,
		Meta:              req.Meta,
	}

	if hashSummary != "" {
		return g.persistError(base, hashSummary)
	}

	if risk.ShouldBlock(decision.RiskLevel, g.policy) {
		base.Status = artifact.StatusBlocked
		if err := g.ledger.PersistRun(base); err != nil {
			return Result{}, err
		}
		g.log.Info("request blocked",
			"run_id", runID, "risk_level", decision.RiskLevel, "reason", decision.BlockReason)
		return Result{
			RunID:       runID,
			Status:      artifact.StatusBlocked,
			Decision:    decision,
			Feasibility: feasibility,
			Hashes:      base.Hashes,
		}, nil
	}

	out, genErr := g.generator.Generate(ctx, req, feasibility)
	if genErr != nil {
		summary := fmt.Sprintf("%T: %s", genErr, genErr.Error())
		base.RequestSummary = withErrorSummary(base.RequestSummary, summary)
		g.log.Error("toolpath generator failed", "run_id", runID, "error", genErr)
		return g.persistError(base, summary)
	}
	if out == nil {
		out = &GeneratorOutput{}
	}

	base.Status = artifact.StatusOK
	if err := g.attachOutputs(&base, out); err != nil {
		// Same rule as the feasibility payload: an unhashable output
		// downgrades the request to ERROR, it never skips persistence.
		summary := fmt.Sprintf("%T: %s", err, err.Error())
		g.log.Error("generator output not hashable", "run_id", runID, "error", err)
		base.Outputs = nil
		base.Hashes = artifact.Hashes{FeasibilitySHA256: feasHash}
		base.RequestSummary = withErrorSummary(base.RequestSummary, summary)
		return g.persistError(base, summary)
	}
	if err := g.ledger.PersistRun(base); err != nil {
		return Result{}, err
	}
	g.log.Info("request approved",
		"run_id", runID, "risk_level", decision.RiskLevel)
	return Result{
		RunID:       runID,
		Status:      artifact.StatusOK,
		Decision:    decision,
		Feasibility: feasibility,
		Hashes:      base.Hashes,
		Output:      out,
	}, nil
}

// persistError writes the one ERROR artifact this request gets and
// builds the matching result. base must already carry the feasibility
// payload, decision and feasibility hash.
func (g *GovernanceContext) persistError(base artifact.RunArtifact, summary string) (Result, error) {
	base.Status = artifact.StatusError
	if err := g.ledger.PersistRun(base); err != nil {
		return Result{}, err
	}
	return Result{
		RunID:        base.RunID,
		Status:       artifact.StatusError,
		Decision:     base.Decision,
		Feasibility:  base.Feasibility,
		Hashes:       base.Hashes,
		ErrorSummary: summary,
	}, nil
}

// attachOutputs records the generator payload and its hashes on an OK
// artifact. Hashes exist only for outputs that are present.
func (g *GovernanceContext) attachOutputs(a *artifact.RunArtifact, out *GeneratorOutput) error {
	outputs := map[string]any{}
	if out.Toolpaths != nil {
		h, err := canonical.HashObject(out.Toolpaths)
		if err != nil {
			return fmt.Errorf("hash toolpaths: %w", err)
		}
		a.Hashes.ToolpathsSHA256 = h
		outputs["toolpaths"] = out.Toolpaths
	}
	if out.GcodeText != "" {
		a.Hashes.GcodeSHA256 = canonical.HashText(out.GcodeText)
		outputs["gcode_text"] = out.GcodeText
	}
	if out.Opplan != nil {
		h, err := canonical.HashObject(out.Opplan)
		if err != nil {
			return fmt.Errorf("hash opplan: %w", err)
		}
		a.Hashes.OpplanSHA256 = h
		outputs["opplan"] = out.Opplan
	}
	if len(outputs) > 0 {
		a.Outputs = outputs
	}
	return nil
}

func withErrorSummary(summary map[string]any, msg string) map[string]any {
	next := make(map[string]any, len(summary)+1)
	for k, v := range summary {
		next[k] = v
	}
	next["generator_error"] = msg
	return next
}
