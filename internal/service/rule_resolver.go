package service

import (
	"context"
	"fmt"

	"github.com/showgrounds/startnumber-service/internal/model"
	"github.com/showgrounds/startnumber-service/internal/numbering"
)

// RuleSource supplies the stored rule documents the resolver merges.
// *repository.RuleRepo satisfies it; tests substitute a fake.
type RuleSource interface {
	// EventRule returns the event's preset name (may be empty) and its
	// partial rule document (may be nil).
	EventRule(ctx context.Context, eventID uint64) (string, *model.RulePatch, error)
	// ClassRule returns the class's partial rule document (may be nil).
	ClassRule(ctx context.Context, classID uint64) (*model.RulePatch, error)
	// Preset returns the named preset document, or nil when unknown.
	Preset(ctx context.Context, name string) (*model.RulePatch, error)
}

// RuleResolver computes the effective numbering rule for an allocation
// context.  Patches apply over the built-in defaults in increasing
// precedence: system preset, event document, class document, and
// finally the context's explicit override.  The override slot exists
// for the simulation and designer tooling; production assignment
// strips it before resolving.
type RuleResolver struct {
	rules RuleSource
}

// NewRuleResolver constructs a resolver over the given rule source.
func NewRuleResolver(rules RuleSource) *RuleResolver {
	return &RuleResolver{rules: rules}
}

// Resolve merges all applicable rule documents for the context and
// validates the result.  It is a pure read: no rule resolution ever
// mutates stored documents.
func (r *RuleResolver) Resolve(ctx context.Context, actx model.AllocationContext) (model.NumberingRule, error) {
	rule := model.DefaultRule()

	preset, eventPatch, err := r.rules.EventRule(ctx, actx.EventID)
	if err != nil {
		return model.NumberingRule{}, fmt.Errorf("load event rule: %w", err)
	}
	if preset != "" {
		presetPatch, err := r.rules.Preset(ctx, preset)
		if err != nil {
			return model.NumberingRule{}, fmt.Errorf("load preset %q: %w", preset, err)
		}
		rule = rule.Apply(presetPatch)
	}
	rule = rule.Apply(eventPatch)

	if actx.ClassID != nil && *actx.ClassID != 0 {
		classPatch, err := r.rules.ClassRule(ctx, *actx.ClassID)
		if err != nil {
			return model.NumberingRule{}, fmt.Errorf("load class rule: %w", err)
		}
		rule = rule.Apply(classPatch)
	}

	rule = rule.Apply(actx.RuleOverride)

	if err := rule.Validate(); err != nil {
		return model.NumberingRule{}, fmt.Errorf("%w: %v", numbering.ErrRuleInvalid, err)
	}
	return rule, nil
}
