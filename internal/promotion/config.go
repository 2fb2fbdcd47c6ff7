// Package promotion decides whether a preset may be promoted into a
// trust lane, based on its recent job history and a fragility-gated
// clean-run policy.
package promotion

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed policy_schema.cue
var policySchemaCUE string

// Lanes a preset can be promoted into.
const (
	LaneSafe         = "safe"
	LaneTunedV1      = "tuned_v1"
	LaneTunedV2      = "tuned_v2"
	LaneExperimental = "experimental"
	LaneArchived     = "archived"
)

// Config are the process-wide promotion policy knobs. Loaded once at
// startup; LoadOrDefault falls back to the conservative defaults when
// the file is absent or invalid.
type Config struct {
	FragilityToSafeMax    float64        `yaml:"fragility_to_safe_max" json:"fragility_to_safe_max"`
	UltraFragileThreshold float64        `yaml:"ultra_fragile_threshold" json:"ultra_fragile_threshold"`
	YellowFragilityMax    float64        `yaml:"yellow_fragility_max" json:"yellow_fragility_max"`
	LookbackJobsPerPreset int            `yaml:"lookback_jobs_per_preset" json:"lookback_jobs_per_preset"`
	MinCleanRuns          map[string]int `yaml:"min_clean_runs" json:"min_clean_runs"`
}

// Default returns the hardcoded conservative policy.
func Default() Config {
	return Config{
		FragilityToSafeMax:    0.60,
		UltraFragileThreshold: 0.90,
		YellowFragilityMax:    0.50,
		LookbackJobsPerPreset: 50,
		MinCleanRuns: map[string]int{
			LaneSafe:    5,
			LaneTunedV1: 3,
			LaneTunedV2: 3,
		},
	}
}

// Load reads and validates a YAML policy file. The document is checked
// against the embedded CUE schema before decoding, so a structurally
// wrong file fails loudly instead of silently zeroing a threshold.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read policy config: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("decode policy config: %w", err)
	}

	if err := validateAgainstSchema(raw); err != nil {
		return Config{}, fmt.Errorf("policy config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode policy config: %w", err)
	}
	return cfg, nil
}

func validateAgainstSchema(doc map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(policySchemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile policy schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Policy"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("policy schema missing #Policy: %w", err)
	}
	unified := def.Unify(ctx.Encode(doc))
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}

// LoadOrDefault loads the policy file, falling back to Default on any
// failure. The fallback is logged, never silent: running on defaults
// is a legitimate state, running on a half-parsed file is not.
func LoadOrDefault(path string, log *slog.Logger) Config {
	if log == nil {
		log = slog.Default()
	}
	if path == "" {
		return Default()
	}
	cfg, err := Load(path)
	if err != nil {
		log.Warn("promotion policy config rejected; using conservative defaults",
			"path", path, "error", err)
		return Default()
	}
	return cfg
}
