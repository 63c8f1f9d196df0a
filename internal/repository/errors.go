// Package repository defines error types that are reused across
// multiple repositories. These sentinel values allow higher layers such
// as the allocation service and the HTTP handlers to distinguish
// between failure scenarios with errors.Is instead of matching on
// database driver messages.
package repository

import "errors"

// ErrNotFound is returned when a lookup targets a row that does not
// exist, typically a stale assignment reference. Handlers should
// translate this into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrLocked is returned when a mutation targets an assignment whose
// number has been frozen (locked_at is set). Locked assignments can
// never be released or renumbered; the competitor has already been
// called to the gate or the result has been signed.
var ErrLocked = errors.New("assignment locked")

// ErrDuplicateNumber is returned when an insert loses the race for a
// raw number: a concurrent transaction committed the same
// (scope_key, start_number_raw) first and the unique constraint fired.
// The caller must recompute the taken-set and retry.
var ErrDuplicateNumber = errors.New("start number already taken in scope")

// ErrSubjectAssigned is returned when an insert collides on the
// one-active-assignment-per-subject constraint: a concurrent
// transaction already numbered the same subject. Callers should fetch
// and return the winning assignment instead of retrying blindly.
var ErrSubjectAssigned = errors.New("subject already has an active assignment")
