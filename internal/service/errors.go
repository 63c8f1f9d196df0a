// Package service orchestrates start-number allocation on top of the
// pure numbering helpers and the assignment store.  It owns the
// assignment state machine and the transaction/retry contract that
// keeps concurrent allocators from double-issuing a number.
package service

import "errors"

// ErrAllocationContended is returned when assignment kept losing the
// race for a free number: every attempt computed a candidate that a
// concurrent transaction committed first, and the bounded retry budget
// ran out.  Transient by nature; the caller may simply try again.
var ErrAllocationContended = errors.New("allocation contended, retries exhausted")

// ErrNumberRejected is returned by the override path when the desired
// raw number fails validation against the effective rule or the scope's
// current occupancy.  The structured violations are available through
// Validate; the override performs no mutation in this case.
var ErrNumberRejected = errors.New("start number rejected by rule constraints")
