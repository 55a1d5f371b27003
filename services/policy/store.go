// Package policy holds the declarative rule set and evaluates it
// against requests. Rules live in an immutable snapshot swapped
// atomically on reload; an evaluation captures the snapshot once and
// never observes a partial update.
package policy

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/zerotrust-labs/agent-gate/models"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// compiledRule pairs a rule with its compiled constraint programs,
// ordered as declared
type compiledRule struct {
	rule        models.PolicyRule
	constraints []compiledConstraint
}

// Snapshot is one immutable generation of the rule set
type Snapshot struct {
	Version uint64
	rules   map[models.ActionType]compiledRule
}

// Rule returns the rule for an action type, if one exists
func (s *Snapshot) Rule(action models.ActionType) (models.PolicyRule, bool) {
	cr, ok := s.rules[action]
	return cr.rule, ok
}

// Actions lists the action types the snapshot has explicit rules for
func (s *Snapshot) Actions() []models.ActionType {
	out := make([]models.ActionType, 0, len(s.rules))
	for a := range s.rules {
		out = append(out, a)
	}
	return out
}

// Store owns the current snapshot. Lookups are pure functions of
// (action type, snapshot); reload replaces the snapshot wholesale.
type Store struct {
	snapshot atomic.Pointer[Snapshot]
	env      *constraintEnv
	version  atomic.Uint64
	logger   *zap.Logger
}

// NewStore creates a Store with an empty snapshot (implicit deny-all)
func NewStore(logger *zap.Logger) (*Store, error) {
	env, err := newConstraintEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create constraint environment: %w", err)
	}
	s := &Store{env: env, logger: logger}
	s.snapshot.Store(&Snapshot{rules: map[models.ActionType]compiledRule{}})
	return s, nil
}

// Current returns the live snapshot. Callers evaluating a request must
// capture it once and use it for the whole evaluation.
func (s *Store) Current() *Snapshot {
	return s.snapshot.Load()
}

// LoadDocument compiles a policy document into a new snapshot and swaps
// it in. Any constraint compile failure rejects the whole document and
// leaves the previous snapshot live.
func (s *Store) LoadDocument(doc *models.PolicyDocument) error {
	rules := make(map[models.ActionType]compiledRule, len(doc.Rules))
	for _, rule := range doc.Rules {
		if rule.Action == "" {
			return fmt.Errorf("policy rule without an action type")
		}
		if _, dup := rules[rule.Action]; dup {
			return fmt.Errorf("duplicate policy rule for action %s", rule.Action)
		}
		compiled := make([]compiledConstraint, 0, len(rule.Constraints))
		for _, c := range rule.Constraints {
			cc, err := s.env.compile(c)
			if err != nil {
				return fmt.Errorf("rule %s constraint %q: %w", rule.Action, c.Name, err)
			}
			compiled = append(compiled, cc)
		}
		rules[rule.Action] = compiledRule{rule: rule, constraints: compiled}
	}

	next := &Snapshot{
		Version: s.version.Add(1),
		rules:   rules,
	}
	s.snapshot.Store(next)
	s.logger.Info("policy snapshot loaded",
		zap.Uint64("version", next.Version),
		zap.Int("rules", len(rules)))
	return nil
}

// LoadFile parses a YAML policy file and installs it as the new snapshot
func (s *Store) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read policy file: %w", err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return err
	}
	return s.LoadDocument(doc)
}

// ParseFile reads and parses a YAML policy file without installing it
func ParseFile(path string) (*models.PolicyDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParseDocument(data)
}

// ParseDocument parses YAML policy bytes into a document
func ParseDocument(data []byte) (*models.PolicyDocument, error) {
	var doc models.PolicyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy document: %w", err)
	}
	return &doc, nil
}

// Evaluate resolves the rule for the request's action type in the given
// snapshot and evaluates its constraints against the actual parameters.
// An unknown action type resolves to the implicit deny-all rule; any
// constraint failure or evaluation error makes the effective allowance
// false.
func (s *Store) Evaluate(snap *Snapshot, req *models.ActionRequest) models.PolicyResult {
	cr, ok := snap.rules[req.ActionType]
	if !ok {
		// No policy means no permission
		return models.PolicyResult{
			RuleFound:       false,
			Allowed:         false,
			SnapshotVersion: snap.Version,
		}
	}

	result := models.PolicyResult{
		RuleFound:         true,
		Allowed:           cr.rule.Allowed,
		SensitivityWeight: cr.rule.SensitivityWeight,
		SnapshotVersion:   snap.Version,
	}
	if !cr.rule.Allowed {
		return result
	}

	for _, cc := range cr.constraints {
		ok, err := cc.eval(req)
		if err != nil {
			s.logger.Warn("constraint evaluation error",
				zap.String("action", string(req.ActionType)),
				zap.String("constraint", cc.name),
				zap.Error(err))
			result.Allowed = false
			result.FailedConstraint = cc.name
			return result
		}
		if !ok {
			result.Allowed = false
			result.FailedConstraint = cc.name
			return result
		}
	}
	return result
}
