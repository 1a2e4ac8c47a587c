package rules

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"cdpintercept/pkg/domain"
	"cdpintercept/pkg/rulespec"
)

// Registry holds the ordered ruleset. Rules are immutable once
// registered; registration order is the priority tie-break. Reads may
// run concurrently with each other; mutation is serialized so an
// evaluation never observes a partially updated ruleset.
type Registry struct {
	mu           sync.RWMutex
	rules        []rulespec.Rule
	fingerprints map[string]domain.RuleID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{fingerprints: make(map[string]domain.RuleID)}
}

// Register validates and appends a rule. A rule whose match and action
// are identical to an already registered one is rejected with
// ErrDuplicateRule. When the rule carries no ID, one is assigned.
func (r *Registry) Register(rule rulespec.Rule) (domain.RuleID, error) {
	if err := rule.Validate(); err != nil {
		return "", err
	}
	fp := fingerprint(rule)

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.fingerprints[fp]; ok {
		return "", fmt.Errorf("%w: same match and action as rule %q", domain.ErrDuplicateRule, prev)
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	} else {
		for i := range r.rules {
			if r.rules[i].ID == rule.ID {
				return "", fmt.Errorf("%w: id %q", domain.ErrDuplicateRule, rule.ID)
			}
		}
	}
	r.rules = append(r.rules, rule)
	r.fingerprints[fp] = domain.RuleID(rule.ID)
	return domain.RuleID(rule.ID), nil
}

// Unregister removes the rule with the given ID.
func (r *Registry) Unregister(id domain.RuleID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.rules {
		if domain.RuleID(r.rules[i].ID) == id {
			delete(r.fingerprints, fingerprint(r.rules[i]))
			r.rules = append(r.rules[:i], r.rules[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %q", domain.ErrRuleNotFound, id)
}

// Replace swaps the whole ruleset atomically. Used when loading a rule
// configuration file.
func (r *Registry) Replace(rules []rulespec.Rule) error {
	next := make([]rulespec.Rule, 0, len(rules))
	fps := make(map[string]domain.RuleID, len(rules))
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return err
		}
		fp := fingerprint(rule)
		if prev, ok := fps[fp]; ok {
			return fmt.Errorf("%w: same match and action as rule %q", domain.ErrDuplicateRule, prev)
		}
		if rule.ID == "" {
			rule.ID = uuid.NewString()
		}
		fps[fp] = domain.RuleID(rule.ID)
		next = append(next, rule)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = next
	r.fingerprints = fps
	return nil
}

// Snapshot returns a copy of the ruleset in registration order. The
// copy is safe to iterate any number of times without holding locks.
func (r *Registry) Snapshot() []rulespec.Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]rulespec.Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Len reports the number of registered rules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// fingerprint canonicalizes match+action for duplicate detection. The
// JSON encoding of the structs is deterministic.
func fingerprint(rule rulespec.Rule) string {
	b, _ := json.Marshal(struct {
		Match  rulespec.Match
		Stage  rulespec.Stage
		Action rulespec.ActionKind
	}{rule.Match, rule.EffectiveStage(), rule.Action})
	return string(b)
}
