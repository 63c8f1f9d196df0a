// Package numbering holds the pure pieces of start-number allocation:
// the sequence generator, the display formatter and the scope key
// builder.  Nothing in this package touches the database; the service
// layer feeds it rules and taken-sets and persists what it returns.
package numbering

import "errors"

// ErrRuleInvalid is returned when a merged numbering rule violates its
// invariants (zero step, start outside range, negative width).  This is
// a configuration error and should be surfaced to the event admin.
var ErrRuleInvalid = errors.New("numbering rule invalid")

// ErrScopeIncomplete is returned when the caller's context is missing a
// dimension the rule's scope requires, e.g. no arena on an arena-scoped
// rule.  Correct callers never trigger it.
var ErrScopeIncomplete = errors.New("scope context incomplete")

// ErrSequenceExhausted is returned when a bounded range has no free
// value left in the iteration direction.  The event office must widen
// the range or release numbers.
var ErrSequenceExhausted = errors.New("number sequence exhausted")
