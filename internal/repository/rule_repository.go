package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/showgrounds/startnumber-service/internal/model"
)

// RuleRepo loads the numbering rule documents stored on events and
// classes and the named system presets.  Documents are partial rules
// (patches); the resolver merges them over the built-in defaults.
type RuleRepo struct {
	db *sql.DB
}

// NewRuleRepo returns a RuleRepo bound to the given database.
func NewRuleRepo(db *sql.DB) *RuleRepo { return &RuleRepo{db: db} }

// EventRule returns the event's preset name and its own partial rule
// document.  Either may be absent (empty string / nil patch).  A
// missing event is ErrNotFound.
func (r *RuleRepo) EventRule(ctx context.Context, eventID uint64) (string, *model.RulePatch, error) {
	const q = `SELECT numbering_preset, numbering_doc FROM events WHERE id = ?`
	var preset sql.NullString
	var doc []byte
	err := r.db.QueryRowContext(ctx, q, eventID).Scan(&preset, &doc)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, fmt.Errorf("%w: event %d", ErrNotFound, eventID)
	}
	if err != nil {
		return "", nil, err
	}
	patch, err := decodePatch(doc)
	if err != nil {
		return "", nil, fmt.Errorf("numbering document of event %d: %w", eventID, err)
	}
	return preset.String, patch, nil
}

// ClassRule returns the class's partial rule document, or nil when the
// class carries none.  A missing class is ErrNotFound.
func (r *RuleRepo) ClassRule(ctx context.Context, classID uint64) (*model.RulePatch, error) {
	const q = `SELECT numbering_doc FROM classes WHERE id = ?`
	var doc []byte
	err := r.db.QueryRowContext(ctx, q, classID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: class %d", ErrNotFound, classID)
	}
	if err != nil {
		return nil, err
	}
	patch, err := decodePatch(doc)
	if err != nil {
		return nil, fmt.Errorf("numbering document of class %d: %w", classID, err)
	}
	return patch, nil
}

// Preset returns the named system preset document.  An unknown preset
// name yields a nil patch with no error: presets are optional seed
// data and an event referencing a deleted preset should still resolve
// against the built-in defaults.
func (r *RuleRepo) Preset(ctx context.Context, name string) (*model.RulePatch, error) {
	const q = `SELECT doc FROM numbering_presets WHERE name = ?`
	var doc []byte
	err := r.db.QueryRowContext(ctx, q, name).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	patch, err := decodePatch(doc)
	if err != nil {
		return nil, fmt.Errorf("numbering preset %q: %w", name, err)
	}
	return patch, nil
}

func decodePatch(doc []byte) (*model.RulePatch, error) {
	if len(doc) == 0 {
		return nil, nil
	}
	var patch model.RulePatch
	if err := json.Unmarshal(doc, &patch); err != nil {
		return nil, fmt.Errorf("decode rule document: %w", err)
	}
	return &patch, nil
}
