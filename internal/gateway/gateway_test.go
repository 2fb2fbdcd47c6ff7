package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gantry/internal/artifact"
	"github.com/roach88/gantry/internal/canonical"
	"github.com/roach88/gantry/internal/ledger"
	"github.com/roach88/gantry/internal/risk"
)

// stubEngine returns a fixed feasibility payload or error.
type stubEngine struct {
	payload map[string]any
	err     error
}

func (s stubEngine) ComputeFeasibility(_ context.Context, _ string, _, _ map[string]any) (map[string]any, error) {
	return s.payload, s.err
}

// stubGenerator returns a fixed output or error and counts calls.
type stubGenerator struct {
	out   *GeneratorOutput
	err   error
	calls int
}

func (s *stubGenerator) Generate(_ context.Context, _ Request, _ map[string]any) (*GeneratorOutput, error) {
	s.calls++
	return s.out, s.err
}

func greenFeasibility() map[string]any {
	return map[string]any{"risk_level": "GREEN", "score": 0.9}
}

func testRequest() Request {
	return Request{
		WorkflowSessionID: "sess-1",
		Mode:              "cut",
		Kind:              "batch_decision",
		ToolID:            "tool-1",
		MaterialID:        "alu-6061",
		MachineID:         "haas-1",
		Design:            map[string]any{"shape": "pocket"},
		Meta: artifact.Meta{
			BatchLabel: "batch-A",
			SessionID:  "sess-1",
			ToolKind:   "endmill",
		},
	}
}

func newTestGateway(t *testing.T, engine FeasibilityEngine, gen ToolpathGenerator) *GovernanceContext {
	t.Helper()
	led, err := ledger.Open(t.TempDir())
	require.NoError(t, err)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(led, engine, gen,
		WithLogger(log),
		WithClock(func() time.Time {
			return time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC)
		}))
}

func TestDecide_ApprovedPersistsOKWithHashes(t *testing.T) {
	gen := &stubGenerator{out: &GeneratorOutput{
		Toolpaths: map[string]any{"passes": float64(3)},
		GcodeText: "G0 X0 Y0\nG1 Z-1\n",
		Opplan:    map[string]any{"ops": []any{"rough", "finish"}},
	}}
	g := newTestGateway(t, stubEngine{payload: greenFeasibility()}, gen)

	res, err := g.Decide(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, artifact.StatusOK, res.Status)
	assert.Equal(t, risk.Green, res.Decision.RiskLevel)
	assert.Equal(t, 1, gen.calls)
	require.NotNil(t, res.Output)

	stored, err := g.Ledger().GetRun(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, artifact.StatusOK, stored.Status)

	// Every hash is reproducible from the stored payload.
	feasHash, err := canonical.HashObject(stored.Feasibility)
	require.NoError(t, err)
	assert.Equal(t, feasHash, stored.Hashes.FeasibilitySHA256)
	assert.Equal(t, canonical.HashText(gen.out.GcodeText), stored.Hashes.GcodeSHA256)
	assert.NotEmpty(t, stored.Hashes.ToolpathsSHA256)
	assert.NotEmpty(t, stored.Hashes.OpplanSHA256)
}

func TestDecide_RedBlocksWithoutGenerating(t *testing.T) {
	gen := &stubGenerator{}
	g := newTestGateway(t, stubEngine{payload: map[string]any{
		"risk_level":   "RED",
		"block_reason": "chip load exceeds tool rating",
	}}, gen)

	res, err := g.Decide(context.Background(), testRequest())
	require.NoError(t, err)

	assert.True(t, res.Blocked())
	assert.Equal(t, 0, gen.calls, "generator must not run for blocked requests")
	assert.Equal(t, "chip load exceeds tool rating", res.Decision.BlockReason)
	// The authoritative recomputed feasibility travels with the result.
	assert.Equal(t, "RED", res.Feasibility["risk_level"])

	stored, err := g.Ledger().GetRun(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, artifact.StatusBlocked, stored.Status)
	assert.Empty(t, stored.Hashes.GcodeSHA256)
}

func TestDecide_GeneratorErrorStillProducesOneArtifact(t *testing.T) {
	gen := &stubGenerator{err: errors.New("spindle model diverged")}
	g := newTestGateway(t, stubEngine{payload: greenFeasibility()}, gen)

	res, err := g.Decide(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, artifact.StatusError, res.Status)
	assert.Contains(t, res.ErrorSummary, "spindle model diverged")
	require.NotEmpty(t, res.RunID)

	stored, err := g.Ledger().GetRun(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, artifact.StatusError, stored.Status)
	assert.Contains(t, stored.RequestSummary["generator_error"], "spindle model diverged")
	assert.Empty(t, stored.Hashes.ToolpathsSHA256)

	// Exactly one artifact for the whole request.
	assert.Equal(t, 1, g.Ledger().CountRuns(ledger.Filter{}))
}

func TestDecide_UnhashableFeasibilityPersistsErrorArtifact(t *testing.T) {
	gen := &stubGenerator{}
	g := newTestGateway(t, stubEngine{payload: map[string]any{
		"risk_level": "GREEN",
		"score":      math.NaN(),
	}}, gen)

	res, err := g.Decide(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, artifact.StatusError, res.Status)
	assert.Contains(t, res.ErrorSummary, "NaN")
	assert.Equal(t, 0, gen.calls, "generator must not run when the payload is unusable")
	require.NotEmpty(t, res.RunID)

	// Exactly one artifact, with the payload replaced by its error
	// summary so it persists and hashes.
	assert.Equal(t, 1, g.Ledger().CountRuns(ledger.Filter{IncludeDeleted: true}))
	stored, err := g.Ledger().GetRun(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, artifact.StatusError, stored.Status)
	assert.Equal(t, risk.Unknown, stored.Decision.RiskLevel)
	assert.Contains(t, stored.Feasibility["error"], "NaN")

	feasHash, err := canonical.HashObject(stored.Feasibility)
	require.NoError(t, err)
	assert.Equal(t, feasHash, stored.Hashes.FeasibilitySHA256)
}

func TestDecide_UnhashableGeneratorOutputPersistsErrorArtifact(t *testing.T) {
	gen := &stubGenerator{out: &GeneratorOutput{
		Toolpaths: map[string]any{"feed_override": math.Inf(1)},
	}}
	g := newTestGateway(t, stubEngine{payload: greenFeasibility()}, gen)

	res, err := g.Decide(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, artifact.StatusError, res.Status)
	assert.Contains(t, res.ErrorSummary, "Inf")
	assert.Equal(t, 1, gen.calls)

	assert.Equal(t, 1, g.Ledger().CountRuns(ledger.Filter{IncludeDeleted: true}))
	stored, err := g.Ledger().GetRun(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, artifact.StatusError, stored.Status)
	assert.Empty(t, stored.Outputs)
	assert.Empty(t, stored.Hashes.ToolpathsSHA256)
	assert.NotEmpty(t, stored.Hashes.FeasibilitySHA256)
	assert.Contains(t, stored.RequestSummary["generator_error"], "Inf")
}

func TestDecide_FeasibilityEngineFailureBlocks(t *testing.T) {
	gen := &stubGenerator{}
	g := newTestGateway(t, stubEngine{err: errors.New("simulation backend down")}, gen)

	res, err := g.Decide(context.Background(), testRequest())
	require.NoError(t, err)

	assert.True(t, res.Blocked())
	assert.Equal(t, risk.Unknown, res.Decision.RiskLevel)
	assert.Equal(t, 0, gen.calls)
	assert.Equal(t, 1, g.Ledger().CountRuns(ledger.Filter{}))
}

func TestDecide_CallerSuppliedClassificationIgnored(t *testing.T) {
	// The request summary claims GREEN; the recomputed feasibility
	// says RED. Only the recomputed payload counts.
	gen := &stubGenerator{}
	g := newTestGateway(t, stubEngine{payload: map[string]any{"risk_level": "RED"}}, gen)

	req := testRequest()
	req.RequestSummary = map[string]any{"risk_level": "GREEN"}

	res, err := g.Decide(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Blocked())
	assert.Equal(t, risk.Red, res.Decision.RiskLevel)
}

func TestDecide_UnknownBlockedUnderDefaultPolicy(t *testing.T) {
	gen := &stubGenerator{}
	g := newTestGateway(t, stubEngine{payload: map[string]any{"telemetry": "only"}}, gen)

	res, err := g.Decide(context.Background(), testRequest())
	require.NoError(t, err)
	assert.True(t, res.Blocked())
	assert.Equal(t, risk.Unknown, res.Decision.RiskLevel)
}

func TestDecide_PermissivePolicyLetsUnknownThrough(t *testing.T) {
	gen := &stubGenerator{out: &GeneratorOutput{GcodeText: "G0"}}
	led, err := ledger.Open(t.TempDir())
	require.NoError(t, err)
	g := New(led, stubEngine{payload: map[string]any{"telemetry": "only"}}, gen,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithPolicy(risk.Policy{BlockOnRed: true, TreatUnknownAsRed: false}))

	res, err := g.Decide(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, artifact.StatusOK, res.Status)
	assert.Equal(t, 1, gen.calls)
}

func TestDecide_NilGeneratorOutputIsOKWithoutOutputHashes(t *testing.T) {
	gen := &stubGenerator{out: nil}
	g := newTestGateway(t, stubEngine{payload: greenFeasibility()}, gen)

	res, err := g.Decide(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, artifact.StatusOK, res.Status)
	assert.Empty(t, res.Hashes.ToolpathsSHA256)
	assert.Empty(t, res.Hashes.GcodeSHA256)
	assert.NotEmpty(t, res.Hashes.FeasibilitySHA256)
}
