package models

// SignalSource identifies which pipeline stage contributed a risk signal
type SignalSource string

const (
	SourceValidator   SignalSource = "validator"
	SourcePolicy      SignalSource = "policy"
	SourceRateLimiter SignalSource = "rate_limiter"
	SourceHistory     SignalSource = "history"
)

// SignalWeight is the weight class of a validator finding
type SignalWeight int

const (
	WeightLow    SignalWeight = 10
	WeightMedium SignalWeight = 25
	WeightHigh   SignalWeight = 40
)

// RiskSignal is one contribution to the aggregate risk score. Signals are
// ephemeral: they exist only for the duration of a single evaluation.
type RiskSignal struct {
	Source SignalSource `json:"source"`
	Weight int          `json:"weight"`
	Tag    string       `json:"tag"`
}

// RiskLevel is an informational band derived from the score
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// RiskScore is the aggregated, clamped risk for one request
type RiskScore struct {
	Value            int       `json:"value"`
	Level            RiskLevel `json:"level"`
	Tags             []string  `json:"tags,omitempty"`
	ThresholdCrossed bool      `json:"threshold_crossed"`
}

// LevelFor maps a clamped score onto its band
func LevelFor(score int) RiskLevel {
	switch {
	case score >= 70:
		return RiskHigh
	case score >= 40:
		return RiskMedium
	default:
		return RiskLow
	}
}
