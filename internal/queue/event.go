// Package queue defines message payloads exchanged over the message broker.
package queue

// Audit actions published for assignment lifecycle changes.
const (
	ActionAssigned   = "assigned"
	ActionReleased   = "released"
	ActionLocked     = "locked"
	ActionOverridden = "overridden"
)

// AuditEvent is published after every mutating start-number operation.
// It carries the full before/after picture of the assignment so the
// audit sink can log the change without querying the primary database.
type AuditEvent struct {
	Action        string  `json:"action"`
	AssignmentID  uint64  `json:"assignment_id"`
	EventID       uint64  `json:"event_id"`
	ScopeKey      string  `json:"scope_key"`
	SubjectType   string  `json:"subject_type"`
	SubjectKey    string  `json:"subject_key"`
	RawNumber     int     `json:"raw_number"`
	DisplayNumber string  `json:"display_number"`
	PreviousRaw   *int    `json:"previous_raw,omitempty"`
	Reason        string  `json:"reason,omitempty"`
	Trigger       string  `json:"trigger,omitempty"`
	ActorID       *uint64 `json:"actor_id,omitempty"`
	OccurredAt    string  `json:"occurred_at"`
}
