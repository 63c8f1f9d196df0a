package model

import "encoding/json"

// SubjectType names the kind of thing a start number is bound to.
type SubjectType string

const (
	SubjectEntry         SubjectType = "entry"
	SubjectStartlistItem SubjectType = "startlist_item"
	SubjectDepartment    SubjectType = "department"
)

// SubjectRef identifies the recipient of a start number.  Key is the
// composite natural identity ("entry:42", "startlist_item:9",
// "department:team rot-weiss").  Payload is an opaque snapshot of the
// subject stored on the assignment for audit and rebinding; the
// numbering subsystem never inspects it.  The denormalized IDs feed
// fast conflict lookups on the assignments table.
type SubjectRef struct {
	Type    SubjectType     `json:"type"`
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload,omitempty"`
	RiderID *uint64         `json:"rider_id,omitempty"`
	HorseID *uint64         `json:"horse_id,omitempty"`
	ClubID  *uint64         `json:"club_id,omitempty"`
}

// AllocationContext carries everything a caller knows about where an
// allocation happens.  Which fields are required depends on the
// resolved rule's scope dimension; the scope key builder rejects a
// context missing a dimension the scope needs.
//
// RuleOverride is honored only by the simulation paths (preview,
// format, effective-rule inspection).  Production assignment ignores
// it so designer experiments can never leak into real allocations.
type AllocationContext struct {
	EventID      uint64
	ClassID      *uint64
	Day          string // YYYY-MM-DD, empty when not day scoped
	Arena        string
	Department   string
	UserID       *uint64
	RuleOverride *RulePatch
}

// Violation is one reason a candidate number failed validation.
type Violation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult is the structured outcome of validating a candidate
// number against the effective rule and the current scope occupancy.
// Interactive forms render the violations instead of an error page.
type ValidationResult struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations"`
}

// PreviewEntry is one forecasted allocation from the simulation path.
type PreviewEntry struct {
	Raw     int    `json:"raw"`
	Display string `json:"display"`
}
