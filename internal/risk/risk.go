// Package risk classifies feasibility payloads and decides whether a
// request may reach the toolpath generator.
//
// Classification is a pure per-payload mapping, not a state machine:
// every payload, however malformed, maps to exactly one Level. Nothing
// in this package returns an error or panics on untrusted input;
// ambiguity becomes UNKNOWN, and UNKNOWN blocks under the default
// policy (deny-by-default).
package risk

// Level is a risk classification for one governed request.
type Level string

const (
	Green   Level = "GREEN"
	Yellow  Level = "YELLOW"
	Red     Level = "RED"
	Unknown Level = "UNKNOWN"
)

// Valid reports whether l is one of the four defined levels.
func (l Level) Valid() bool {
	switch l {
	case Green, Yellow, Red, Unknown:
		return true
	}
	return false
}

// Decision is the authoritative classification of one feasibility
// payload. It is embedded verbatim in the persisted artifact.
type Decision struct {
	RiskLevel   Level          `json:"risk_level"`
	Score       *float64       `json:"score,omitempty"`
	BlockReason string         `json:"block_reason,omitempty"`
	Warnings    []string       `json:"warnings"`
	Details     map[string]any `json:"details,omitempty"`
}

// Policy controls which levels block. The zero value blocks nothing;
// use DefaultPolicy for the fail-safe configuration.
type Policy struct {
	BlockOnRed        bool
	TreatUnknownAsRed bool
}

// DefaultPolicy blocks RED and anything unparseable.
func DefaultPolicy() Policy {
	return Policy{BlockOnRed: true, TreatUnknownAsRed: true}
}

// ShouldBlock reports whether a request classified at level must be
// blocked under the policy. GREEN and YELLOW never block by
// themselves. Any level outside the defined set (including empty and
// "ERROR") is treated as UNKNOWN.
func ShouldBlock(level Level, p Policy) bool {
	switch level {
	case Green, Yellow:
		return false
	case Red:
		return p.BlockOnRed
	default:
		return p.TreatUnknownAsRed
	}
}
