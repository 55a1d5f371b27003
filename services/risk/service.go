// Package risk aggregates signals from the earlier pipeline stages into
// a clamped 0-100 score. Crossing the configured threshold is a veto:
// it forces DENY even when policy alone would have allowed the action.
package risk

import (
	"sort"
	"time"

	"github.com/zerotrust-labs/agent-gate/models"
	"github.com/zerotrust-labs/agent-gate/services/ratelimit"
	"go.uber.org/zap"
)

// Weights externalizes every tunable contribution to the score
type Weights struct {
	Threshold       int
	AfterHoursBonus int
	RatePressureMax int
	HistoryMax      int
	AfterHoursStart int // hour of day, inclusive
	AfterHoursEnd   int // hour of day, exclusive
}

// DefaultWeights returns the weights the gate ships with
func DefaultWeights() Weights {
	return Weights{
		Threshold:       75,
		AfterHoursBonus: 30,
		RatePressureMax: 25,
		HistoryMax:      20,
		AfterHoursStart: 22,
		AfterHoursEnd:   6,
	}
}

// History supplies the trailing per-actor denial rate. Implemented by
// the audit service's in-memory index.
type History interface {
	DenialRate(actorID string, window time.Duration) float64
}

// baseActionWeights carries the inherent risk of each action type,
// used when the matched rule declares no sensitivity weight
var baseActionWeights = map[models.ActionType]int{
	models.ActionDeleteFile: 40,
	models.ActionWriteFile:  20,
	models.ActionReadFile:   10,
	models.ActionListDir:    5,
}

// rate pressure ramps linearly once window utilization passes this point
const ratePressureKnee = 0.7

// Service computes risk scores
type Service struct {
	weights       Weights
	history       History
	historyWindow time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

// NewService creates a risk scorer. history may be nil when no denial
// history is available (the signal is then omitted).
func NewService(weights Weights, history History, historyWindow time.Duration, logger *zap.Logger) *Service {
	return &Service{
		weights:       weights,
		history:       history,
		historyWindow: historyWindow,
		logger:        logger,
		now:           time.Now,
	}
}

// Score combines validator findings, policy sensitivity, rate pressure
// and historical denials into one clamped score with dominant-signal tags
func (s *Service) Score(
	req *models.ActionRequest,
	findings []models.RiskSignal,
	policyResult models.PolicyResult,
	rateResult ratelimit.Result,
) models.RiskScore {
	signals := make([]models.RiskSignal, 0, len(findings)+4)
	signals = append(signals, findings...)

	// Policy sensitivity, falling back to the action's base weight
	sensitivity := policyResult.SensitivityWeight
	if sensitivity == 0 {
		sensitivity = baseActionWeights[req.ActionType]
	}
	if sensitivity > 0 {
		signals = append(signals, models.RiskSignal{
			Source: models.SourcePolicy,
			Weight: sensitivity,
			Tag:    "policy_sensitive",
		})
	}

	// Rate pressure: linear ramp above the knee
	if u := rateResult.Utilization(); u > ratePressureKnee {
		ramp := (u - ratePressureKnee) / (1 - ratePressureKnee)
		weight := int(ramp * float64(s.weights.RatePressureMax))
		if weight > 0 {
			signals = append(signals, models.RiskSignal{
				Source: models.SourceRateLimiter,
				Weight: weight,
				Tag:    "rate_pressure",
			})
		}
	}

	// Trailing denial rate for this actor
	if s.history != nil {
		if rate := s.history.DenialRate(req.ActorID, s.historyWindow); rate > 0 {
			weight := int(rate * float64(s.weights.HistoryMax))
			if weight > 0 {
				signals = append(signals, models.RiskSignal{
					Source: models.SourceHistory,
					Weight: weight,
					Tag:    "repeat_offender",
				})
			}
		}
	}

	// After-hours access
	hour := s.now().Hour()
	if hour >= s.weights.AfterHoursStart || hour < s.weights.AfterHoursEnd {
		signals = append(signals, models.RiskSignal{
			Source: models.SourceHistory,
			Weight: s.weights.AfterHoursBonus,
			Tag:    "after_hours",
		})
	}

	value := 0
	for _, sig := range signals {
		value += sig.Weight
	}
	if value > 100 {
		value = 100
	}
	if value < 0 {
		value = 0
	}

	score := models.RiskScore{
		Value:            value,
		Level:            models.LevelFor(value),
		Tags:             dominantTags(signals),
		ThresholdCrossed: value >= s.weights.Threshold,
	}
	if score.ThresholdCrossed {
		s.logger.Debug("risk threshold crossed",
			zap.String("actor_id", req.ActorID),
			zap.String("action", string(req.ActionType)),
			zap.Int("score", value))
	}
	return score
}

// Threshold returns the configured veto threshold
func (s *Service) Threshold() int {
	return s.weights.Threshold
}

// dominantTags returns the distinct tags ordered by contributed weight,
// heaviest first, so the tags summarize which signals dominated
func dominantTags(signals []models.RiskSignal) []string {
	byTag := map[string]int{}
	for _, sig := range signals {
		byTag[sig.Tag] += sig.Weight
	}
	tags := make([]string, 0, len(byTag))
	for tag := range byTag {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		if byTag[tags[i]] != byTag[tags[j]] {
			return byTag[tags[i]] > byTag[tags[j]]
		}
		return tags[i] < tags[j]
	})
	return tags
}
