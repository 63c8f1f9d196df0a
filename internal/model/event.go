package model

import (
	"encoding/json"
	"time"
)

// Event represents a tournament as stored in the `events` table.  Only
// the columns the numbering subsystem reads are modeled here; the CRUD
// screens own the rest.
//
// Fields:
//
//	ID              – primary key identifier.
//	Title           – display name of the tournament.
//	StartsOn/EndsOn – competition dates.
//	NumberingPreset – optional name of a system preset the event's
//	                  numbering extends.
//	NumberingDoc    – optional partial rule document overriding the
//	                  preset and the built-in defaults.
type Event struct {
	ID              uint64          // events.id
	Title           string          // events.title
	StartsOn        time.Time       // events.starts_on
	EndsOn          time.Time       // events.ends_on
	NumberingPreset *string         // events.numbering_preset (nullable)
	NumberingDoc    json.RawMessage // events.numbering_doc (nullable JSON)
	CreatedAt       time.Time       // events.created_at
	UpdatedAt       time.Time       // events.updated_at
}

// CompetitionClass represents a class (a judged competition within an
// event) as stored in the `classes` table.  A class may carry its own
// partial numbering document which takes precedence over the event's.
type CompetitionClass struct {
	ID           uint64          // classes.id
	EventID      uint64          // classes.event_id
	Code         string          // classes.code (e.g. "S* 1.40m")
	Title        string          // classes.title
	NumberingDoc json.RawMessage // classes.numbering_doc (nullable JSON)
	CreatedAt    time.Time       // classes.created_at
	UpdatedAt    time.Time       // classes.updated_at
}
