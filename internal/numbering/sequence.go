package numbering

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/showgrounds/startnumber-service/internal/model"
)

// implicitFloor bounds downward-counting sequences that carry no
// explicit range, so a misconfigured rule fails fast instead of
// walking toward the integer minimum.
const implicitFloor = 1

// Next returns the first free raw number for the rule, given the set of
// values already taken within the scope.  Iteration starts at the
// rule's start value and advances by its step, skipping taken values,
// blocklisted values and values reserved for a different subject.  The
// result is deterministic: the lowest free value in iteration
// direction, so repeated calls against an unchanged taken-set agree.
//
// subjectKey identifies who the number is for, so that a reservation
// matching the subject yields its reserved value instead of skipping
// it.  Pass an empty subjectKey to treat every reservation as foreign.
func Next(rule model.NumberingRule, taken map[int]bool, subjectKey string) (int, error) {
	blocked := blockedValues(rule)
	reserved := reservedForOthers(rule, subjectKey)

	// A subject holding a reservation gets its reserved value, as long
	// as it satisfies the rule's bounds and nobody occupies it yet.  A
	// reservation configured outside the range does not widen it; the
	// subject falls through to the normal sequence.
	if v, ok := ReservedFor(rule, subjectKey); ok && InRange(rule, v) && !taken[v] && !blocked[v] {
		return v, nil
	}

	for v, ok := first(rule); ok; v, ok = advance(rule, v) {
		if taken[v] || blocked[v] || reserved[v] {
			continue
		}
		return v, nil
	}
	return 0, fmt.Errorf("%w: no free value for scope %q starting at %d (step %d)",
		ErrSequenceExhausted, rule.Scope, rule.Sequence.Start, rule.Sequence.Step)
}

// Forecast returns up to n raw values the sequence would hand out next,
// in order, without mutating anything.  When the range runs out before
// n values are found the returned slice is simply shorter; forecasting
// never fails.  Reservations are all treated as foreign because a
// forecast is not for any particular subject.
func Forecast(rule model.NumberingRule, taken map[int]bool, n int) []int {
	blocked := blockedValues(rule)
	reserved := reservedForOthers(rule, "")

	out := make([]int, 0, n)
	for v, ok := first(rule); ok && len(out) < n; v, ok = advance(rule, v) {
		if taken[v] || blocked[v] || reserved[v] {
			continue
		}
		out = append(out, v)
	}
	return out
}

// InRange reports whether v lies inside the rule's bounds: the
// explicit range when present, otherwise the implicit floor for
// descending sequences.
func InRange(rule model.NumberingRule, v int) bool {
	if rng := rule.Sequence.Range; rng != nil {
		return rng.Contains(v)
	}
	if rule.Sequence.Step < 0 {
		return v >= implicitFloor
	}
	return true
}

// IsBlocked reports whether the rule's blocklists forbid v.
func IsBlocked(rule model.NumberingRule, v int) bool {
	return blockedValues(rule)[v]
}

// first yields the initial candidate, or ok=false when even the start
// value lies outside the permitted bounds.
func first(rule model.NumberingRule) (int, bool) {
	v := rule.Sequence.Start
	return v, inBounds(rule, v)
}

// advance steps the candidate once and reports whether it is still in
// bounds.  A bounded range stops at its edge; an unbounded descending
// sequence stops at the implicit floor.
func advance(rule model.NumberingRule, v int) (int, bool) {
	next := v + rule.Sequence.Step
	// Guard against wrap-around on extreme ranges.
	if rule.Sequence.Step > 0 && next < v {
		return next, false
	}
	if rule.Sequence.Step < 0 && next > v {
		return next, false
	}
	return next, inBounds(rule, next)
}

func inBounds(rule model.NumberingRule, v int) bool {
	if rng := rule.Sequence.Range; rng != nil {
		return rng.Contains(v)
	}
	if rule.Sequence.Step < 0 {
		return v >= implicitFloor
	}
	return true
}

// blockedValues parses the rule's blocklists into a raw-value set.
// Entries that are not plain integers are ignored; blocklists are
// entered by hand in the rule designer and a typo must not break
// allocation for the whole scope.
func blockedValues(rule model.NumberingRule) map[int]bool {
	if len(rule.Constraints.Blocklists) == 0 {
		return nil
	}
	set := make(map[int]bool, len(rule.Constraints.Blocklists))
	for _, s := range rule.Constraints.Blocklists {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			set[n] = true
		}
	}
	return set
}

// reservedForOthers collects reserved values whose matcher does not
// match the given subject key.
func reservedForOthers(rule model.NumberingRule, subjectKey string) map[int]bool {
	if len(rule.Constraints.Reservations) == 0 {
		return nil
	}
	set := make(map[int]bool, len(rule.Constraints.Reservations))
	for _, res := range rule.Constraints.Reservations {
		if subjectKey == "" || res.For != subjectKey {
			set[res.Value] = true
		}
	}
	return set
}

// ReservedFor returns the value reserved for the subject, if any.
func ReservedFor(rule model.NumberingRule, subjectKey string) (int, bool) {
	if subjectKey == "" {
		return 0, false
	}
	for _, res := range rule.Constraints.Reservations {
		if res.For == subjectKey {
			return res.Value, true
		}
	}
	return 0, false
}
