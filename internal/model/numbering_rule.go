package model

import (
	"encoding/json"
	"fmt"
)

// ScopeDimension selects which context fields compose the uniqueness
// scope of a numbering rule.  Start numbers must be unique among all
// active assignments sharing the same scope key.
type ScopeDimension string

const (
	ScopeEvent      ScopeDimension = "event"
	ScopeClass      ScopeDimension = "class"
	ScopeArena      ScopeDimension = "arena"
	ScopeDay        ScopeDimension = "day"
	ScopeDepartment ScopeDimension = "department"
)

// AllocationEntity names what kind of competitor a number identifies.
type AllocationEntity string

const (
	EntityRider       AllocationEntity = "rider"
	EntityHorse       AllocationEntity = "horse"
	EntityCombination AllocationEntity = "combination"
)

// AllocationTime names the workflow moment at which a number is handed out.
type AllocationTime string

const (
	AllocateOnEntry     AllocationTime = "on_entry"
	AllocateOnStartlist AllocationTime = "on_startlist"
	AllocateOnGate      AllocationTime = "on_gate"
)

// LockPolicy names the workflow event after which an assignment freezes.
// The service never triggers locking itself; the schedule and judge
// workflows call Lock when their policy event fires.
type LockPolicy string

const (
	LockNever       LockPolicy = "none"
	LockStartCalled LockPolicy = "start_called"
	LockSignOff     LockPolicy = "sign_off"
)

// NumberRange bounds the values a sequence may produce.  It is encoded
// in rule documents as a two element JSON array [min, max].
type NumberRange struct {
	Min int
	Max int
}

// MarshalJSON renders the range in its document form [min, max].
func (r NumberRange) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{r.Min, r.Max})
}

// UnmarshalJSON accepts the [min, max] document form.
func (r *NumberRange) UnmarshalJSON(b []byte) error {
	var pair [2]int
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("numbering range must be [min, max]: %w", err)
	}
	r.Min, r.Max = pair[0], pair[1]
	return nil
}

// Contains reports whether v lies inside the range (inclusive).
func (r NumberRange) Contains(v int) bool { return v >= r.Min && v <= r.Max }

// SequenceSpec controls how raw numbers advance within a scope.
type SequenceSpec struct {
	Start int          `json:"start"`
	Step  int          `json:"step"`
	Range *NumberRange `json:"range,omitempty"`
}

// FormatSpec controls how a raw number renders as a printed display string.
type FormatSpec struct {
	Prefix    string `json:"prefix"`
	Width     int    `json:"width"`
	Suffix    string `json:"suffix"`
	Separator string `json:"separator"`
}

// AllocationSpec controls who receives a number, when, and when it freezes.
type AllocationSpec struct {
	Entity    AllocationEntity `json:"entity"`
	Time      AllocationTime   `json:"time"`
	LockAfter LockPolicy       `json:"lock_after"`
}

// ReservedNumber pins a raw value for one specific subject.  The value
// is skipped for every other subject as long as the reservation exists.
// For matches subject keys such as "entry:42".
type ReservedNumber struct {
	Value int    `json:"value"`
	For   string `json:"for"`
}

// ConstraintSpec lists values a sequence must never hand out freely.
// Blocklists hold raw values in string form as configured by event
// offices (e.g. ["13"] for venues that skip unlucky numbers).
type ConstraintSpec struct {
	Blocklists   []string         `json:"blocklists"`
	Reservations []ReservedNumber `json:"reservations"`
}

// NumberingRule is the fully resolved rule a scope allocates under.  It
// is a value object: rules are stored as JSON documents on events and
// classes as partial patches and resolved by merging, then frozen onto
// each assignment as a snapshot so later edits never rewrite history.
type NumberingRule struct {
	Sequence    SequenceSpec   `json:"sequence"`
	Format      FormatSpec     `json:"format"`
	Scope       ScopeDimension `json:"scope"`
	Allocation  AllocationSpec `json:"allocation"`
	Constraints ConstraintSpec `json:"constraints"`
}

// DefaultRule returns the hard coded base every resolution starts from:
// plain 1, 2, 3... per event with no padding, assigned when entries are
// created and frozen once the combination is called to the gate.
func DefaultRule() NumberingRule {
	return NumberingRule{
		Sequence: SequenceSpec{Start: 1, Step: 1},
		Format:   FormatSpec{Width: 0},
		Scope:    ScopeEvent,
		Allocation: AllocationSpec{
			Entity:    EntityCombination,
			Time:      AllocateOnEntry,
			LockAfter: LockStartCalled,
		},
	}
}

// Validate checks the rule invariants.  A rule failing validation must
// never reach the sequence generator.
func (r NumberingRule) Validate() error {
	if r.Sequence.Step == 0 {
		return fmt.Errorf("sequence step must not be zero")
	}
	if rng := r.Sequence.Range; rng != nil {
		if rng.Min > rng.Max {
			return fmt.Errorf("sequence range [%d, %d] is inverted", rng.Min, rng.Max)
		}
		if !rng.Contains(r.Sequence.Start) {
			return fmt.Errorf("sequence start %d lies outside range [%d, %d]", r.Sequence.Start, rng.Min, rng.Max)
		}
	}
	if r.Format.Width < 0 {
		return fmt.Errorf("format width must not be negative, got %d", r.Format.Width)
	}
	switch r.Scope {
	case ScopeEvent, ScopeClass, ScopeArena, ScopeDay, ScopeDepartment:
	default:
		return fmt.Errorf("unknown scope %q", r.Scope)
	}
	return nil
}

// SequencePatch is the partial document form of SequenceSpec.  Nil
// fields leave the corresponding base value untouched.
type SequencePatch struct {
	Start *int         `json:"start,omitempty"`
	Step  *int         `json:"step,omitempty"`
	Range *NumberRange `json:"range,omitempty"`
}

// FormatPatch is the partial document form of FormatSpec.
type FormatPatch struct {
	Prefix    *string `json:"prefix,omitempty"`
	Width     *int    `json:"width,omitempty"`
	Suffix    *string `json:"suffix,omitempty"`
	Separator *string `json:"separator,omitempty"`
}

// AllocationPatch is the partial document form of AllocationSpec.
type AllocationPatch struct {
	Entity    *AllocationEntity `json:"entity,omitempty"`
	Time      *AllocationTime   `json:"time,omitempty"`
	LockAfter *LockPolicy       `json:"lock_after,omitempty"`
}

// ConstraintPatch is the partial document form of ConstraintSpec.  The
// slices are pointers so that an explicit empty list can clear an
// inherited blocklist, while an absent field leaves it in place.
type ConstraintPatch struct {
	Blocklists   *[]string         `json:"blocklists,omitempty"`
	Reservations *[]ReservedNumber `json:"reservations,omitempty"`
}

// RulePatch is a partial numbering rule as stored in the numbering_doc
// JSON columns of events, classes and presets.  Resolution applies
// patches field by field over the built-in defaults in increasing
// precedence; there is no document-level replacement.
type RulePatch struct {
	Sequence    *SequencePatch   `json:"sequence,omitempty"`
	Format      *FormatPatch     `json:"format,omitempty"`
	Scope       *ScopeDimension  `json:"scope,omitempty"`
	Allocation  *AllocationPatch `json:"allocation,omitempty"`
	Constraints *ConstraintPatch `json:"constraints,omitempty"`
}

// Apply merges the patch into the rule and returns the result.  The
// receiver is not modified.  Merging is per field: only fields present
// in the document override the base.
func (r NumberingRule) Apply(p *RulePatch) NumberingRule {
	if p == nil {
		return r
	}
	out := r
	if s := p.Sequence; s != nil {
		if s.Start != nil {
			out.Sequence.Start = *s.Start
		}
		if s.Step != nil {
			out.Sequence.Step = *s.Step
		}
		if s.Range != nil {
			rng := *s.Range
			out.Sequence.Range = &rng
		}
	}
	if f := p.Format; f != nil {
		if f.Prefix != nil {
			out.Format.Prefix = *f.Prefix
		}
		if f.Width != nil {
			out.Format.Width = *f.Width
		}
		if f.Suffix != nil {
			out.Format.Suffix = *f.Suffix
		}
		if f.Separator != nil {
			out.Format.Separator = *f.Separator
		}
	}
	if p.Scope != nil {
		out.Scope = *p.Scope
	}
	if a := p.Allocation; a != nil {
		if a.Entity != nil {
			out.Allocation.Entity = *a.Entity
		}
		if a.Time != nil {
			out.Allocation.Time = *a.Time
		}
		if a.LockAfter != nil {
			out.Allocation.LockAfter = *a.LockAfter
		}
	}
	if c := p.Constraints; c != nil {
		if c.Blocklists != nil {
			out.Constraints.Blocklists = append([]string(nil), (*c.Blocklists)...)
		}
		if c.Reservations != nil {
			out.Constraints.Reservations = append([]ReservedNumber(nil), (*c.Reservations)...)
		}
	}
	return out
}
