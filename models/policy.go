package models

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Constraint is one ordered predicate attached to a policy rule.
// The expression is CEL over actor_id, action and params; any predicate
// failure makes the rule's effective allowance false.
type Constraint struct {
	Name string `json:"name" yaml:"name"`
	Expr string `json:"expr" yaml:"expr"`
}

// RateLimitSpec is an optional per-action override of the default
// fixed-window rate limit
type RateLimitSpec struct {
	Requests int           `json:"requests" yaml:"requests"`
	Period   time.Duration `json:"period" yaml:"period"`
}

// UnmarshalYAML decodes the period from a Go duration string ("60s")
func (s *RateLimitSpec) UnmarshalYAML(value *yaml.Node) error {
	var aux struct {
		Requests int    `yaml:"requests"`
		Period   string `yaml:"period"`
	}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	s.Requests = aux.Requests
	if aux.Period != "" {
		period, err := time.ParseDuration(aux.Period)
		if err != nil {
			return fmt.Errorf("invalid rate limit period %q: %w", aux.Period, err)
		}
		s.Period = period
	}
	return nil
}

// PolicyRule is the declarative rule for one action type. Rules are
// immutable once loaded into a snapshot.
type PolicyRule struct {
	Action            ActionType     `json:"action" yaml:"action"`
	Allowed           bool           `json:"allowed" yaml:"allowed"`
	SensitivityWeight int            `json:"sensitivity_weight" yaml:"sensitivity_weight"`
	Constraints       []Constraint   `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	Limits            *RateLimitSpec `json:"limits,omitempty" yaml:"limits,omitempty"`
}

// PolicyDocument is the on-disk YAML form of a rule set
type PolicyDocument struct {
	Version int          `json:"version" yaml:"version"`
	Rules   []PolicyRule `json:"rules" yaml:"rules"`
}

// PolicyResult is the outcome of evaluating the matched rule (or the
// implicit deny-all rule) against a request's actual parameters
type PolicyResult struct {
	RuleFound         bool   `json:"rule_found"`
	Allowed           bool   `json:"allowed"`
	SensitivityWeight int    `json:"sensitivity_weight"`
	FailedConstraint  string `json:"failed_constraint,omitempty"`
	SnapshotVersion   uint64 `json:"snapshot_version"`
}
