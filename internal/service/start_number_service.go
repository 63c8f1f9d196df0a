package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/showgrounds/startnumber-service/internal/model"
	"github.com/showgrounds/startnumber-service/internal/numbering"
	"github.com/showgrounds/startnumber-service/internal/queue"
	"github.com/showgrounds/startnumber-service/internal/repository"
)

// maxAssignRetries bounds how often assign recomputes the taken-set
// after losing an insert race.  The rule is not re-resolved on retry;
// only the taken-set can have changed underneath us.
const maxAssignRetries = 3

// AllocationStore is the persistence surface the service allocates
// against.  *repository.AssignmentRepo satisfies it; tests substitute
// an in-memory fake that enforces the same unique constraints.
type AllocationStore interface {
	// WithinTx runs fn inside one storage transaction.
	WithinTx(ctx context.Context, fn func(tx repository.Tx) error) error
	// ActiveFor returns the subject's active assignment, or
	// repository.ErrNotFound.  Advisory read outside a transaction.
	ActiveFor(ctx context.Context, subjectType model.SubjectType, subjectKey string) (*model.StartNumberAssignment, error)
	// GetByID returns the assignment regardless of status.
	GetByID(ctx context.Context, id uint64) (*model.StartNumberAssignment, error)
	// TakenNumbers returns the active raw numbers of a scope.
	// Advisory read; allocation re-reads inside its transaction.
	TakenNumbers(ctx context.Context, scopeKey string) (map[int]bool, error)
	// FindByDisplay resolves a printed number, active rows first.
	FindByDisplay(ctx context.Context, display string) (*model.StartNumberAssignment, error)
}

// BindingLookup is the display→assignment cache surface the service
// reads through and invalidates.  *BindingCache satisfies it; tests
// substitute a recorder.
type BindingLookup interface {
	Get(ctx context.Context, display string) (*model.StartNumberAssignment, bool)
	Set(ctx context.Context, a *model.StartNumberAssignment)
	Invalidate(ctx context.Context, displays ...string)
}

// StartNumberService is the façade the entry, startlist, gate and
// override workflows allocate through.  It owns the assignment state
// machine (unassigned → active → released, active → locked) and the
// concurrency contract: correctness under concurrent assigns comes
// from the store's unique constraints plus bounded retry, never from
// in-process locking.
//
// Construct one per process with its collaborators passed explicitly;
// the service itself is stateless and safe for concurrent use.
type StartNumberService struct {
	store    AllocationStore
	resolver *RuleResolver
	audit    EventPublisher
	bindings BindingLookup
}

// NewStartNumberService wires the façade.  audit may be nil to disable
// event publishing; bindings may be nil to disable the lookup cache.
func NewStartNumberService(store AllocationStore, resolver *RuleResolver, audit EventPublisher, bindings BindingLookup) *StartNumberService {
	if store == nil || resolver == nil {
		panic("nil collaborator passed to NewStartNumberService")
	}
	if bindings == nil {
		bindings = NewBindingCache(nil, 0)
	}
	return &StartNumberService{store: store, resolver: resolver, audit: audit, bindings: bindings}
}

// Assign allocates the next free start number for the subject, or
// returns the subject's existing active assignment unchanged.  The
// idempotency matters because several call sites fire for the same
// subject (entry creation and startlist generation both trigger it);
// only one row may ever result.  The second return value reports
// whether this call created the assignment, so callers can tell a
// fresh allocation from the idempotent path even when a concurrent
// caller won the insert.
//
// The read-compute-insert cycle runs inside one transaction.  Losing
// the insert race to a concurrent allocator surfaces as
// repository.ErrDuplicateNumber, upon which the taken-set is
// recomputed in a fresh transaction, up to maxAssignRetries times;
// after that ErrAllocationContended escalates to the caller.
func (s *StartNumberService) Assign(ctx context.Context, actx model.AllocationContext, subject model.SubjectRef) (*model.StartNumberAssignment, bool, error) {
	// Fast path: subject already numbered.  Advisory only; the
	// transaction below re-checks.
	if existing, err := s.store.ActiveFor(ctx, subject.Type, subject.Key); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}

	// Production assignment never honors designer overrides.
	actx.RuleOverride = nil
	rule, err := s.resolver.Resolve(ctx, actx)
	if err != nil {
		return nil, false, err
	}
	scopeKey, err := numbering.ScopeKey(rule.Scope, actx)
	if err != nil {
		return nil, false, err
	}

	var (
		result   *model.StartNumberAssignment
		inserted bool
	)
	for attempt := 1; ; attempt++ {
		err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
			if cur, err := tx.ActiveFor(ctx, subject.Type, subject.Key); err == nil {
				// A concurrent caller numbered the subject first.
				result, inserted = cur, false
				return nil
			} else if !errors.Is(err, repository.ErrNotFound) {
				return err
			}
			taken, err := tx.TakenNumbers(ctx, scopeKey)
			if err != nil {
				return err
			}
			raw, err := numbering.Next(rule, taken, subject.Key)
			if err != nil {
				return err
			}
			a := newAssignment(actx, subject, rule, scopeKey, raw)
			if err := tx.Insert(ctx, a); err != nil {
				return err
			}
			result, inserted = a, true
			return nil
		})
		if err == nil {
			break
		}
		if attempt < maxAssignRetries &&
			(errors.Is(err, repository.ErrDuplicateNumber) || errors.Is(err, repository.ErrSubjectAssigned)) {
			continue
		}
		if errors.Is(err, repository.ErrDuplicateNumber) {
			return nil, false, fmt.Errorf("%w: lost %d races in scope %q", ErrAllocationContended, maxAssignRetries, scopeKey)
		}
		return nil, false, err
	}

	if inserted {
		// A previously released row may have cached this display; the
		// reissued number must resolve to the new active assignment.
		s.bindings.Invalidate(ctx, result.DisplayNumber)
		s.publish(ctx, auditEvent(queue.ActionAssigned, result, actx.UserID, nil))
	}
	return result, inserted, nil
}

// Release retires an assignment.  Already-released assignments are a
// documented no-op, not an error; a locked assignment fails with
// repository.ErrLocked and remains active.
func (s *StartNumberService) Release(ctx context.Context, id uint64, reason string) (*model.StartNumberAssignment, error) {
	var (
		result  *model.StartNumberAssignment
		changed bool
	)
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		cur, err := tx.GetByID(ctx, id, true)
		if err != nil {
			return err
		}
		if cur.Status == model.StatusReleased {
			result, changed = cur, false
			return nil
		}
		released, err := tx.Release(ctx, id, reason)
		if err != nil {
			return err
		}
		result, changed = released, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.bindings.Invalidate(ctx, result.DisplayNumber)
		s.publish(ctx, auditEvent(queue.ActionReleased, result, result.CreatedBy, func(ev *queue.AuditEvent) {
			ev.Reason = reason
		}))
	}
	return result, nil
}

// Lock freezes an assignment's number when a workflow event fires (the
// gate call, the result sign-off).  The caller decides when; this
// service only enforces that a frozen row never changes again.
// Locking again with the same trigger is idempotent; a different
// trigger on a frozen row fails with repository.ErrLocked.
func (s *StartNumberService) Lock(ctx context.Context, id uint64, trigger string) (*model.StartNumberAssignment, error) {
	var (
		result *model.StartNumberAssignment
		frozen bool
	)
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		cur, err := tx.GetByID(ctx, id, true)
		if err != nil {
			return err
		}
		wasLocked := cur.Locked()
		locked, err := tx.Lock(ctx, id, trigger)
		if err != nil {
			return err
		}
		result, frozen = locked, !wasLocked
		return nil
	})
	if err != nil {
		return nil, err
	}
	if frozen {
		s.publish(ctx, auditEvent(queue.ActionLocked, result, result.CreatedBy, func(ev *queue.AuditEvent) {
			ev.Trigger = trigger
		}))
	}
	return result, nil
}

// FormatNumber renders a raw number under the context's effective rule
// without persisting anything, e.g. for a manual override preview.
// Designer rule overrides in the context are honored.
func (s *StartNumberService) FormatNumber(ctx context.Context, actx model.AllocationContext, raw int) (string, error) {
	rule, err := s.resolver.Resolve(ctx, actx)
	if err != nil {
		return "", err
	}
	return numbering.Format(raw, rule.Format), nil
}

// EffectiveRule exposes rule resolution to the designer and admin
// screens.  Pure read.
func (s *StartNumberService) EffectiveRule(ctx context.Context, actx model.AllocationContext) (model.NumberingRule, error) {
	return s.resolver.Resolve(ctx, actx)
}

// Validate checks a candidate raw number against the effective rule
// and the scope's current occupancy.  It returns structured violations
// instead of failing, because interactive forms render them inline.
// The subject's own active number is not a conflict with itself;
// pass subject=nil to validate without an owner.
//
// The check reads outside any transaction and is advisory: the actual
// override re-verifies inside its transaction.
func (s *StartNumberService) Validate(ctx context.Context, actx model.AllocationContext, subject *model.SubjectRef, raw int) (model.ValidationResult, error) {
	rule, err := s.resolver.Resolve(ctx, actx)
	if err != nil {
		return model.ValidationResult{}, err
	}
	scopeKey, err := numbering.ScopeKey(rule.Scope, actx)
	if err != nil {
		return model.ValidationResult{}, err
	}
	taken, err := s.store.TakenNumbers(ctx, scopeKey)
	if err != nil {
		return model.ValidationResult{}, err
	}

	var own *model.StartNumberAssignment
	if subject != nil {
		if cur, err := s.store.ActiveFor(ctx, subject.Type, subject.Key); err == nil {
			own = cur
		} else if !errors.Is(err, repository.ErrNotFound) {
			return model.ValidationResult{}, err
		}
	}
	subjectKey := ""
	if subject != nil {
		subjectKey = subject.Key
	}

	violations := checkNumber(rule, scopeKey, taken, own, subjectKey, raw)
	return model.ValidationResult{Valid: len(violations) == 0, Violations: violations}, nil
}

// checkNumber collects every constraint the candidate violates.
func checkNumber(rule model.NumberingRule, scopeKey string, taken map[int]bool, own *model.StartNumberAssignment, subjectKey string, raw int) []model.Violation {
	var violations []model.Violation
	if !numbering.InRange(rule, raw) {
		violations = append(violations, model.Violation{
			Code:    "range",
			Message: fmt.Sprintf("number %d lies outside the configured range", raw),
		})
	}
	if numbering.IsBlocked(rule, raw) {
		violations = append(violations, model.Violation{
			Code:    "blocklist",
			Message: fmt.Sprintf("number %d is blocklisted", raw),
		})
	}
	for _, res := range rule.Constraints.Reservations {
		if res.Value == raw && res.For != subjectKey {
			violations = append(violations, model.Violation{
				Code:    "reserved",
				Message: fmt.Sprintf("number %d is reserved for %s", raw, res.For),
			})
			break
		}
	}
	ownsRaw := own != nil && own.ScopeKey == scopeKey && own.RawNumber == raw
	if taken[raw] && !ownsRaw {
		violations = append(violations, model.Violation{
			Code:    "duplicate",
			Message: fmt.Sprintf("number %d is already assigned in this scope", raw),
		})
	}
	return violations
}

// ResolveBinding looks a printed start number back up to its
// assignment, preferring active rows and falling back to the most
// recently released one so a scanned withdrawn bib still answers.
// Returns (nil, nil) when the display string was never allocated.
func (s *StartNumberService) ResolveBinding(ctx context.Context, display string) (*model.StartNumberAssignment, error) {
	if a, ok := s.bindings.Get(ctx, display); ok {
		return a, nil
	}
	a, err := s.store.FindByDisplay(ctx, display)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.bindings.Set(ctx, a)
	return a, nil
}

// Preview forecasts the next count allocations in the context's scope
// without persisting anything.  Two consecutive previews with no
// intervening assign return identical results, and preview(k) is a
// prefix of preview(n) for k <= n.  When the range runs out early the
// returned slice is shorter than requested; preview never fails for
// "no number available".
func (s *StartNumberService) Preview(ctx context.Context, actx model.AllocationContext, count int) ([]model.PreviewEntry, error) {
	rule, err := s.resolver.Resolve(ctx, actx)
	if err != nil {
		return nil, err
	}
	scopeKey, err := numbering.ScopeKey(rule.Scope, actx)
	if err != nil {
		return nil, err
	}
	taken, err := s.store.TakenNumbers(ctx, scopeKey)
	if err != nil {
		return nil, err
	}
	raws := numbering.Forecast(rule, taken, count)
	entries := make([]model.PreviewEntry, 0, len(raws))
	for _, raw := range raws {
		entries = append(entries, model.PreviewEntry{Raw: raw, Display: numbering.Format(raw, rule.Format)})
	}
	return entries, nil
}

// Override forces a specific raw number onto a subject.  The desired
// value is validated against the effective rule and the scope's
// occupancy inside the same transaction that performs the swap: the
// subject's existing unlocked assignment is released and the new row
// inserted atomically, so no other transaction ever observes the
// subject unnumbered.  A locked existing assignment fails with
// repository.ErrLocked; a rejected value fails with ErrNumberRejected
// and mutates nothing.
func (s *StartNumberService) Override(ctx context.Context, actx model.AllocationContext, subject model.SubjectRef, desiredRaw int) (*model.StartNumberAssignment, error) {
	actx.RuleOverride = nil
	rule, err := s.resolver.Resolve(ctx, actx)
	if err != nil {
		return nil, err
	}
	scopeKey, err := numbering.ScopeKey(rule.Scope, actx)
	if err != nil {
		return nil, err
	}

	var (
		result   *model.StartNumberAssignment
		previous *model.StartNumberAssignment
		changed  bool
	)
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		cur, err := tx.ActiveFor(ctx, subject.Type, subject.Key)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if cur != nil && cur.Locked() {
			return fmt.Errorf("%w: subject %s holds a frozen number", repository.ErrLocked, subject.Key)
		}
		if cur != nil && cur.ScopeKey == scopeKey && cur.RawNumber == desiredRaw {
			result, changed = cur, false
			return nil
		}
		taken, err := tx.TakenNumbers(ctx, scopeKey)
		if err != nil {
			return err
		}
		if violations := checkNumber(rule, scopeKey, taken, cur, subject.Key, desiredRaw); len(violations) > 0 {
			return fmt.Errorf("%w: %s", ErrNumberRejected, violations[0].Message)
		}
		if cur != nil {
			if _, err := tx.Release(ctx, cur.ID, "override"); err != nil {
				return err
			}
			previous = cur
		}
		a := newAssignment(actx, subject, rule, scopeKey, desiredRaw)
		if err := tx.Insert(ctx, a); err != nil {
			return err
		}
		result, changed = a, true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		displays := []string{result.DisplayNumber}
		if previous != nil {
			displays = append(displays, previous.DisplayNumber)
		}
		s.bindings.Invalidate(ctx, displays...)
		s.publish(ctx, auditEvent(queue.ActionOverridden, result, actx.UserID, func(ev *queue.AuditEvent) {
			if previous != nil {
				prev := previous.RawNumber
				ev.PreviousRaw = &prev
			}
		}))
	}
	return result, nil
}

// newAssignment freezes the resolved rule and the allocation context
// onto a fresh active row.
func newAssignment(actx model.AllocationContext, subject model.SubjectRef, rule model.NumberingRule, scopeKey string, raw int) *model.StartNumberAssignment {
	a := &model.StartNumberAssignment{
		EventID:          actx.EventID,
		ScopeKey:         scopeKey,
		RuleScope:        rule.Scope,
		RuleSnapshot:     rule,
		AllocationEntity: rule.Allocation.Entity,
		AllocationTime:   rule.Allocation.Time,
		SubjectType:      subject.Type,
		SubjectKey:       subject.Key,
		SubjectPayload:   subject.Payload,
		RiderID:          subject.RiderID,
		HorseID:          subject.HorseID,
		ClubID:           subject.ClubID,
		RawNumber:        raw,
		DisplayNumber:    numbering.Format(raw, rule.Format),
		Status:           model.StatusActive,
		CreatedBy:        actx.UserID,
	}
	if actx.ClassID != nil {
		id := *actx.ClassID
		a.ClassID = &id
	}
	if actx.Arena != "" {
		arena := actx.Arena
		a.Arena = &arena
	}
	if actx.Day != "" {
		day := actx.Day
		a.Day = &day
	}
	return a
}

// publish hands an audit event to the sink, best effort.  The
// publisher logs its own failures; an unreachable broker must never
// fail an allocation that already committed.
func (s *StartNumberService) publish(ctx context.Context, ev queue.AuditEvent) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Publish(ctx, ev)
}

func auditEvent(action string, a *model.StartNumberAssignment, actor *uint64, fill func(*queue.AuditEvent)) queue.AuditEvent {
	ev := queue.AuditEvent{
		Action:        action,
		AssignmentID:  a.ID,
		EventID:       a.EventID,
		ScopeKey:      a.ScopeKey,
		SubjectType:   string(a.SubjectType),
		SubjectKey:    a.SubjectKey,
		RawNumber:     a.RawNumber,
		DisplayNumber: a.DisplayNumber,
		ActorID:       actor,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339),
	}
	if fill != nil {
		fill(&ev)
	}
	return ev
}
