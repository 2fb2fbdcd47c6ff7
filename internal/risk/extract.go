package risk

import (
	"fmt"
	"strconv"
	"strings"
)

// An extraction strategy probes one known payload shape for the block
// of fields carrying the risk classification. Strategies are tried in
// priority order and the first hit wins; this replaces duck-typed
// "find the safety dict anywhere" probing with a fixed, auditable
// list.
type strategy struct {
	name  string
	probe func(payload map[string]any) (map[string]any, bool)
}

var strategies = []strategy{
	{name: "direct", probe: func(p map[string]any) (map[string]any, bool) {
		if hasRiskKey(p) {
			return p, true
		}
		return nil, false
	}},
	{name: "safety", probe: nestedProbe("safety")},
	{name: "feasibility.safety", probe: nestedProbe("feasibility", "safety")},
	{name: "result.safety", probe: nestedProbe("result", "safety")},
	{name: "decision", probe: nestedProbe("decision")},
}

// nestedProbe descends the given key path and accepts the map found
// there if it carries a risk key.
func nestedProbe(path ...string) func(map[string]any) (map[string]any, bool) {
	return func(p map[string]any) (map[string]any, bool) {
		cur := p
		for _, key := range path {
			next, ok := cur[key].(map[string]any)
			if !ok {
				return nil, false
			}
			cur = next
		}
		if hasRiskKey(cur) {
			return cur, true
		}
		return nil, false
	}
}

func hasRiskKey(m map[string]any) bool {
	_, a := m["risk_level"]
	_, b := m["risk"]
	return a || b
}

// ExtractDecision derives the authoritative Decision from an untrusted
// feasibility payload. It never panics and always returns one of the
// four levels; a payload that is not a JSON object, or carries no
// recognizable risk field, comes back UNKNOWN with an explanatory
// block reason.
func ExtractDecision(payload any) Decision {
	obj, ok := payload.(map[string]any)
	if !ok || obj == nil {
		return Decision{
			RiskLevel:   Unknown,
			BlockReason: fmt.Sprintf("feasibility payload is %T, not an object", payload),
			Warnings:    []string{},
		}
	}

	for _, s := range strategies {
		block, hit := s.probe(obj)
		if !hit {
			continue
		}
		d := decisionFromBlock(block)
		if d.Details == nil {
			d.Details = map[string]any{}
		}
		d.Details["extracted_via"] = s.name
		return d
	}

	return Decision{
		RiskLevel:   Unknown,
		BlockReason: "no risk classification found in feasibility payload",
		Warnings:    []string{},
	}
}

func decisionFromBlock(block map[string]any) Decision {
	d := Decision{
		RiskLevel: normalizeLevel(firstOf(block, "risk_level", "risk")),
		Score:     coerceScore(block["score"]),
		Warnings:  coerceWarnings(block["warnings"]),
	}
	if reason, ok := block["block_reason"].(string); ok {
		d.BlockReason = reason
	}
	if details, ok := block["details"].(map[string]any); ok {
		d.Details = details
	}
	if d.RiskLevel == Unknown && d.BlockReason == "" {
		d.BlockReason = "risk level missing or unrecognized"
	}
	return d
}

func firstOf(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}

// normalizeLevel trims and uppercases; anything outside the known set
// collapses to UNKNOWN.
func normalizeLevel(v any) Level {
	s, ok := v.(string)
	if !ok {
		return Unknown
	}
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case Green:
		return Green
	case Yellow:
		return Yellow
	case Red:
		return Red
	}
	return Unknown
}

// coerceScore accepts numbers and numeric strings; everything else
// nulls the score rather than failing the extraction.
func coerceScore(v any) *float64 {
	switch val := v.(type) {
	case float64:
		return &val
	case int:
		f := float64(val)
		return &f
	case int64:
		f := float64(val)
		return &f
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return &f
		}
	}
	return nil
}

// coerceWarnings always yields a non-nil string list: a bare string
// becomes a one-element list, nil becomes empty, list elements are
// stringified.
func coerceWarnings(v any) []string {
	switch val := v.(type) {
	case nil:
		return []string{}
	case string:
		return []string{val}
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, elem := range val {
			if s, ok := elem.(string); ok {
				out = append(out, s)
			} else {
				out = append(out, fmt.Sprintf("%v", elem))
			}
		}
		return out
	default:
		return []string{fmt.Sprintf("%v", val)}
	}
}
