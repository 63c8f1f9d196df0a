package model

import (
	"encoding/json"
	"time"
)

// AssignmentStatus is the two-state lifecycle flag of an assignment.
// Rows are never hard-deleted; releasing a number keeps the row for
// audit and history but removes it from uniqueness checks.
type AssignmentStatus string

const (
	StatusActive   AssignmentStatus = "active"
	StatusReleased AssignmentStatus = "released"
)

// CanTransitionTo reports whether the status change is a legal
// lifecycle step.  The only mutation the model permits is active to
// released; everything else is either a no-op or forbidden.
func (s AssignmentStatus) CanTransitionTo(t AssignmentStatus) bool {
	return s == StatusActive && t == StatusReleased
}

// StartNumberAssignment mirrors a row of the start_number_assignments
// table.  It records which subject holds which raw number within which
// scope, together with the exact rule document the number was computed
// under.  The display string is derived from the raw value and the
// snapshot's format and is stored redundantly for fast lookups.
//
// Fields:
//
//	ID            – primary key identifier.
//	EventID       – event the assignment was computed for.
//	ClassID       – class context, when the caller supplied one.
//	Arena         – arena context, when the caller supplied one.
//	Day           – competition day (YYYY-MM-DD), when supplied.
//	ScopeKey      – uniqueness domain key; (ScopeKey, RawNumber) is
//	                unique among active rows.
//	RuleScope     – the scope dimension of the snapshot, denormalized.
//	RuleSnapshot  – the resolved rule frozen at allocation time.
//	SubjectType   – entry, startlist_item or department.
//	SubjectKey    – natural identity of the subject, e.g. "entry:42".
//	SubjectPayload – JSON snapshot of the subject for audit/rebinding.
//	RiderID/HorseID/ClubID – denormalized for conflict lookups.
//	RawNumber     – the underlying integer.
//	DisplayNumber – the printed form per the snapshot's format.
//	Status        – active or released.
//	LockedAt      – set once the number is frozen; immutable afterwards.
//	LockTrigger   – the workflow event that froze it.
type StartNumberAssignment struct {
	ID               uint64                // start_number_assignments.id
	EventID          uint64                // start_number_assignments.event_id
	ClassID          *uint64               // start_number_assignments.class_id (nullable)
	Arena            *string               // start_number_assignments.arena (nullable)
	Day              *string               // start_number_assignments.day (nullable, YYYY-MM-DD)
	ScopeKey         string                // start_number_assignments.scope_key
	RuleScope        ScopeDimension        // start_number_assignments.rule_scope
	RuleSnapshot     NumberingRule         // start_number_assignments.rule_snapshot (JSON)
	AllocationEntity AllocationEntity      // start_number_assignments.allocation_entity
	AllocationTime   AllocationTime        // start_number_assignments.allocation_time
	SubjectType      SubjectType           // start_number_assignments.subject_type
	SubjectKey       string                // start_number_assignments.subject_key
	SubjectPayload   json.RawMessage       // start_number_assignments.subject_payload (nullable JSON)
	RiderID          *uint64               // start_number_assignments.rider_id (nullable)
	HorseID          *uint64               // start_number_assignments.horse_id (nullable)
	ClubID           *uint64               // start_number_assignments.club_id (nullable)
	RawNumber        int                   // start_number_assignments.start_number_raw
	DisplayNumber    string                // start_number_assignments.start_number_display
	Status           AssignmentStatus      // start_number_assignments.status
	LockedAt         *time.Time            // start_number_assignments.locked_at (nullable)
	LockTrigger      *string               // start_number_assignments.lock_trigger (nullable)
	ReleasedAt       *time.Time            // start_number_assignments.released_at (nullable)
	ReleaseReason    *string               // start_number_assignments.release_reason (nullable)
	CreatedBy        *uint64               // start_number_assignments.created_by (nullable)
	CreatedAt        time.Time             // start_number_assignments.created_at
}

// Locked reports whether the assignment's number is frozen.  A locked
// assignment can never be released or renumbered.
func (a *StartNumberAssignment) Locked() bool { return a.LockedAt != nil }
