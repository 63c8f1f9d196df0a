package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/showgrounds/startnumber-service/internal/model"
	"github.com/showgrounds/startnumber-service/internal/numbering"
	"github.com/showgrounds/startnumber-service/internal/queue"
	"github.com/showgrounds/startnumber-service/internal/repository"
)

// memStore is an in-memory AllocationStore that enforces the same
// unique constraints as the MySQL schema: one active row per (scope,
// raw) and one active row per subject.  Transactions are serialized on
// a mutex, which is exactly the behavior the unique index gives a
// single winning transaction.
type memStore struct {
	mu     sync.Mutex
	nextID uint64
	rows   map[uint64]*model.StartNumberAssignment

	// insertErr, when set, is returned by every Insert to simulate a
	// perpetually lost race.
	insertErr error
	inserts   int
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[uint64]*model.StartNumberAssignment)}
}

type memTx struct{ s *memStore }

func (s *memStore) WithinTx(_ context.Context, fn func(tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memTx{s: s})
}

func (s *memStore) ActiveFor(_ context.Context, st model.SubjectType, key string) (*model.StartNumberAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeFor(st, key)
}

func (s *memStore) GetByID(_ context.Context, id uint64) (*model.StartNumberAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getByID(id)
}

func (s *memStore) TakenNumbers(_ context.Context, scopeKey string) (map[int]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.takenNumbers(scopeKey), nil
}

func (s *memStore) FindByDisplay(_ context.Context, display string) (*model.StartNumberAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *model.StartNumberAssignment
	for _, r := range s.rows {
		if r.DisplayNumber != display {
			continue
		}
		if r.Status == model.StatusActive {
			cp := *r
			return &cp, nil
		}
		if best == nil || r.CreatedAt.After(best.CreatedAt) {
			best = r
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (s *memStore) activeFor(st model.SubjectType, key string) (*model.StartNumberAssignment, error) {
	for _, r := range s.rows {
		if r.Status == model.StatusActive && r.SubjectType == st && r.SubjectKey == key {
			cp := *r
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memStore) getByID(id uint64) (*model.StartNumberAssignment, error) {
	r, ok := s.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) takenNumbers(scopeKey string) map[int]bool {
	taken := make(map[int]bool)
	for _, r := range s.rows {
		if r.Status == model.StatusActive && r.ScopeKey == scopeKey {
			taken[r.RawNumber] = true
		}
	}
	return taken
}

func (t *memTx) TakenNumbers(_ context.Context, scopeKey string) (map[int]bool, error) {
	return t.s.takenNumbers(scopeKey), nil
}

func (t *memTx) ActiveFor(_ context.Context, st model.SubjectType, key string) (*model.StartNumberAssignment, error) {
	return t.s.activeFor(st, key)
}

func (t *memTx) GetByID(_ context.Context, id uint64, _ bool) (*model.StartNumberAssignment, error) {
	return t.s.getByID(id)
}

func (t *memTx) Insert(_ context.Context, a *model.StartNumberAssignment) error {
	t.s.inserts++
	if t.s.insertErr != nil {
		return t.s.insertErr
	}
	for _, r := range t.s.rows {
		if r.Status != model.StatusActive {
			continue
		}
		if r.SubjectType == a.SubjectType && r.SubjectKey == a.SubjectKey {
			return fmt.Errorf("%w: subject %s", repository.ErrSubjectAssigned, a.SubjectKey)
		}
		if r.ScopeKey == a.ScopeKey && r.RawNumber == a.RawNumber {
			return fmt.Errorf("%w: %d in %s", repository.ErrDuplicateNumber, a.RawNumber, a.ScopeKey)
		}
	}
	t.s.nextID++
	a.ID = t.s.nextID
	a.Status = model.StatusActive
	a.CreatedAt = time.Now().UTC()
	cp := *a
	t.s.rows[a.ID] = &cp
	return nil
}

func (t *memTx) Release(_ context.Context, id uint64, reason string) (*model.StartNumberAssignment, error) {
	r, ok := t.s.rows[id]
	if !ok || r.Status != model.StatusActive {
		return nil, repository.ErrNotFound
	}
	if r.Locked() {
		return nil, repository.ErrLocked
	}
	now := time.Now().UTC()
	r.Status = model.StatusReleased
	r.ReleasedAt = &now
	r.ReleaseReason = &reason
	cp := *r
	return &cp, nil
}

func (t *memTx) Lock(_ context.Context, id uint64, trigger string) (*model.StartNumberAssignment, error) {
	r, ok := t.s.rows[id]
	if !ok || r.Status != model.StatusActive {
		return nil, repository.ErrNotFound
	}
	if r.Locked() {
		if *r.LockTrigger == trigger {
			cp := *r
			return &cp, nil
		}
		return nil, repository.ErrLocked
	}
	now := time.Now().UTC()
	r.LockedAt = &now
	r.LockTrigger = &trigger
	cp := *r
	return &cp, nil
}

// recordingBindings is an in-memory BindingLookup that tracks what the
// service caches and invalidates.
type recordingBindings struct {
	cached      map[string]*model.StartNumberAssignment
	invalidated []string
}

func newRecordingBindings() *recordingBindings {
	return &recordingBindings{cached: make(map[string]*model.StartNumberAssignment)}
}

func (b *recordingBindings) Get(_ context.Context, display string) (*model.StartNumberAssignment, bool) {
	a, ok := b.cached[display]
	return a, ok
}

func (b *recordingBindings) Set(_ context.Context, a *model.StartNumberAssignment) {
	b.cached[a.DisplayNumber] = a
}

func (b *recordingBindings) Invalidate(_ context.Context, displays ...string) {
	for _, d := range displays {
		delete(b.cached, d)
		b.invalidated = append(b.invalidated, d)
	}
}

// capturePublisher records every audit event handed to it.
type capturePublisher struct {
	mu     sync.Mutex
	events []queue.AuditEvent
}

func (p *capturePublisher) Publish(_ context.Context, ev queue.AuditEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *capturePublisher) actions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Action
	}
	return out
}

func newTestService(src RuleSource) (*StartNumberService, *memStore, *capturePublisher) {
	store := newMemStore()
	pub := &capturePublisher{}
	svc := NewStartNumberService(store, NewRuleResolver(src), pub, nil)
	return svc, store, pub
}

func entry(n int) model.SubjectRef {
	return model.SubjectRef{Type: model.SubjectEntry, Key: fmt.Sprintf("entry:%d", n)}
}

func eventCtx() model.AllocationContext {
	return model.AllocationContext{EventID: 1}
}

func TestAssignAllocatesSequentially(t *testing.T) {
	svc, _, pub := newTestService(&fakeRuleSource{})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		a, _, err := svc.Assign(ctx, eventCtx(), entry(i))
		require.NoError(t, err)
		assert.Equal(t, i, a.RawNumber)
		assert.Equal(t, model.StatusActive, a.Status)
		assert.Equal(t, "event:1", a.ScopeKey)
	}
	assert.Equal(t, []string{"assigned", "assigned", "assigned"}, pub.actions())
}

func TestAssignIsIdempotentPerSubject(t *testing.T) {
	svc, store, pub := newTestService(&fakeRuleSource{})
	ctx := context.Background()

	first, created, err := svc.Assign(ctx, eventCtx(), entry(1))
	require.NoError(t, err)
	assert.True(t, created)
	second, created, err := svc.Assign(ctx, eventCtx(), entry(1))
	require.NoError(t, err)
	assert.False(t, created)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.RawNumber, second.RawNumber)
	assert.Len(t, store.rows, 1)
	// Only the first call publishes.
	assert.Equal(t, []string{"assigned"}, pub.actions())
}

func TestAssignFreezesRuleSnapshot(t *testing.T) {
	src := &fakeRuleSource{
		event: &model.RulePatch{Format: &model.FormatPatch{Prefix: strp("A"), Width: intp(3), Separator: strp("-")}},
	}
	svc, _, _ := newTestService(src)

	a, _, err := svc.Assign(context.Background(), eventCtx(), entry(1))
	require.NoError(t, err)
	assert.Equal(t, "A-001", a.DisplayNumber)
	assert.Equal(t, "A", a.RuleSnapshot.Format.Prefix)
	assert.Equal(t, model.ScopeEvent, a.RuleScope)
}

func TestAssignIgnoresDesignerOverride(t *testing.T) {
	svc, _, _ := newTestService(&fakeRuleSource{})
	actx := eventCtx()
	actx.RuleOverride = &model.RulePatch{Sequence: &model.SequencePatch{Start: intp(9000)}}

	a, _, err := svc.Assign(context.Background(), actx, entry(1))
	require.NoError(t, err)
	assert.Equal(t, 1, a.RawNumber)
}

func TestAssignConcurrentSubjectsGetUniqueNumbers(t *testing.T) {
	svc, store, _ := newTestService(&fakeRuleSource{})
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := svc.Assign(ctx, eventCtx(), entry(i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for _, r := range store.rows {
		require.False(t, seen[r.RawNumber], "raw %d handed out twice", r.RawNumber)
		seen[r.RawNumber] = true
	}
	assert.Len(t, seen, n)
}

func TestAssignEscalatesAfterRepeatedRaces(t *testing.T) {
	svc, store, pub := newTestService(&fakeRuleSource{})
	store.insertErr = fmt.Errorf("%w: simulated race", repository.ErrDuplicateNumber)

	_, _, err := svc.Assign(context.Background(), eventCtx(), entry(1))
	assert.ErrorIs(t, err, ErrAllocationContended)
	assert.Equal(t, maxAssignRetries, store.inserts)
	assert.Empty(t, pub.actions())
}

func TestAssignSequenceExhausted(t *testing.T) {
	// Scenario: range [1,3], three subjects take every value, the
	// fourth assign fails.
	src := &fakeRuleSource{
		event: &model.RulePatch{
			Sequence: &model.SequencePatch{Range: &model.NumberRange{Min: 1, Max: 3}},
			Format:   &model.FormatPatch{Width: intp(2)},
		},
	}
	svc, _, _ := newTestService(src)
	ctx := context.Background()

	displays := make([]string, 0, 3)
	for i := 1; i <= 3; i++ {
		a, _, err := svc.Assign(ctx, eventCtx(), entry(i))
		require.NoError(t, err)
		displays = append(displays, a.DisplayNumber)
	}
	assert.Equal(t, []string{"01", "02", "03"}, displays)

	_, _, err := svc.Assign(ctx, eventCtx(), entry(4))
	assert.ErrorIs(t, err, numbering.ErrSequenceExhausted)
}

func TestAssignSkipsBlocklistedNumbers(t *testing.T) {
	blocked := []string{"2"}
	src := &fakeRuleSource{
		event: &model.RulePatch{Constraints: &model.ConstraintPatch{Blocklists: &blocked}},
	}
	svc, _, _ := newTestService(src)
	ctx := context.Background()

	a, _, err := svc.Assign(ctx, eventCtx(), entry(1))
	require.NoError(t, err)
	b, _, err := svc.Assign(ctx, eventCtx(), entry(2))
	require.NoError(t, err)
	assert.Equal(t, 1, a.RawNumber)
	assert.Equal(t, 3, b.RawNumber)
}

func TestAssignScopeContextIncomplete(t *testing.T) {
	scope := model.ScopeClass
	src := &fakeRuleSource{event: &model.RulePatch{Scope: &scope}}
	svc, _, _ := newTestService(src)

	_, _, err := svc.Assign(context.Background(), eventCtx(), entry(1))
	assert.ErrorIs(t, err, numbering.ErrScopeIncomplete)
}

func TestAssignSeparateScopesSeparatePools(t *testing.T) {
	scope := model.ScopeClass
	src := &fakeRuleSource{event: &model.RulePatch{Scope: &scope}}
	svc, _, _ := newTestService(src)
	ctx := context.Background()

	classA, classB := uint64(10), uint64(11)
	ctxA, ctxB := eventCtx(), eventCtx()
	ctxA.ClassID = &classA
	ctxB.ClassID = &classB

	a, _, err := svc.Assign(ctx, ctxA, entry(1))
	require.NoError(t, err)
	b, _, err := svc.Assign(ctx, ctxB, entry(2))
	require.NoError(t, err)

	// Both start at 1 because their scope keys differ.
	assert.Equal(t, 1, a.RawNumber)
	assert.Equal(t, 1, b.RawNumber)
	assert.NotEqual(t, a.ScopeKey, b.ScopeKey)
}

func TestReleaseFreesNumberForReuse(t *testing.T) {
	svc, _, pub := newTestService(&fakeRuleSource{})
	ctx := context.Background()

	a, _, err := svc.Assign(ctx, eventCtx(), entry(1))
	require.NoError(t, err)
	released, err := svc.Release(ctx, a.ID, "scratched")
	require.NoError(t, err)
	assert.Equal(t, model.StatusReleased, released.Status)
	require.NotNil(t, released.ReleaseReason)
	assert.Equal(t, "scratched", *released.ReleaseReason)

	// The freed value is the lowest candidate again.
	b, _, err := svc.Assign(ctx, eventCtx(), entry(2))
	require.NoError(t, err)
	assert.Equal(t, a.RawNumber, b.RawNumber)

	assert.Equal(t, []string{"assigned", "released", "assigned"}, pub.actions())
}

func TestReleaseAlreadyReleasedIsNoOp(t *testing.T) {
	svc, _, pub := newTestService(&fakeRuleSource{})
	ctx := context.Background()

	a, _, err := svc.Assign(ctx, eventCtx(), entry(1))
	require.NoError(t, err)
	_, err = svc.Release(ctx, a.ID, "scratched")
	require.NoError(t, err)

	again, err := svc.Release(ctx, a.ID, "scratched again")
	require.NoError(t, err)
	assert.Equal(t, model.StatusReleased, again.Status)
	// The second release publishes nothing.
	assert.Equal(t, []string{"assigned", "released"}, pub.actions())
}

func TestReleaseUnknownAssignment(t *testing.T) {
	svc, _, _ := newTestService(&fakeRuleSource{})
	_, err := svc.Release(context.Background(), 999, "whatever")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestLockedAssignmentCannotBeReleased(t *testing.T) {
	// Scenario: assign, lock on the gate call, then attempt release.
	svc, store, _ := newTestService(&fakeRuleSource{})
	ctx := context.Background()

	a, _, err := svc.Assign(ctx, eventCtx(), entry(1))
	require.NoError(t, err)
	_, err = svc.Lock(ctx, a.ID, "start_called")
	require.NoError(t, err)

	_, err = svc.Release(ctx, a.ID, "scratch")
	assert.ErrorIs(t, err, repository.ErrLocked)

	// The assignment is untouched.
	cur, err := store.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, cur.Status)
	assert.True(t, cur.Locked())
}

func TestLockIdempotentSameTrigger(t *testing.T) {
	svc, _, pub := newTestService(&fakeRuleSource{})
	ctx := context.Background()

	a, _, err := svc.Assign(ctx, eventCtx(), entry(1))
	require.NoError(t, err)
	first, err := svc.Lock(ctx, a.ID, "start_called")
	require.NoError(t, err)
	second, err := svc.Lock(ctx, a.ID, "start_called")
	require.NoError(t, err)
	assert.Equal(t, first.LockedAt, second.LockedAt)

	_, err = svc.Lock(ctx, a.ID, "sign_off")
	assert.ErrorIs(t, err, repository.ErrLocked)

	// Only the first lock publishes.
	assert.Equal(t, []string{"assigned", "locked"}, pub.actions())
}

func TestValidateReportsViolationsWithoutFailing(t *testing.T) {
	blocked := []string{"13"}
	src := &fakeRuleSource{
		event: &model.RulePatch{
			Sequence:    &model.SequencePatch{Range: &model.NumberRange{Min: 1, Max: 100}},
			Constraints: &model.ConstraintPatch{Blocklists: &blocked},
		},
	}
	svc, _, _ := newTestService(src)
	ctx := context.Background()

	taken, _, err := svc.Assign(ctx, eventCtx(), entry(1))
	require.NoError(t, err)

	cases := []struct {
		name string
		raw  int
		code string
	}{
		{"out of range", 500, "range"},
		{"blocklisted", 13, "blocklist"},
		{"duplicate", taken.RawNumber, "duplicate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := svc.Validate(ctx, eventCtx(), nil, tc.raw)
			require.NoError(t, err)
			assert.False(t, res.Valid)
			require.NotEmpty(t, res.Violations)
			assert.Equal(t, tc.code, res.Violations[0].Code)
		})
	}

	res, err := svc.Validate(ctx, eventCtx(), nil, 42)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Violations)
}

func TestValidateOwnNumberIsNotAConflict(t *testing.T) {
	svc, _, _ := newTestService(&fakeRuleSource{})
	ctx := context.Background()

	subject := entry(1)
	a, _, err := svc.Assign(ctx, eventCtx(), subject)
	require.NoError(t, err)

	res, err := svc.Validate(ctx, eventCtx(), &subject, a.RawNumber)
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestValidateReservedForOtherSubject(t *testing.T) {
	reservations := []model.ReservedNumber{{Value: 7, For: "entry:1"}}
	src := &fakeRuleSource{
		event: &model.RulePatch{Constraints: &model.ConstraintPatch{Reservations: &reservations}},
	}
	svc, _, _ := newTestService(src)
	ctx := context.Background()

	other := entry(2)
	res, err := svc.Validate(ctx, eventCtx(), &other, 7)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "reserved", res.Violations[0].Code)

	owner := entry(1)
	res, err = svc.Validate(ctx, eventCtx(), &owner, 7)
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestPreviewIsStableAndPrefixConsistent(t *testing.T) {
	svc, _, _ := newTestService(&fakeRuleSource{})
	ctx := context.Background()

	_, _, err := svc.Assign(ctx, eventCtx(), entry(1))
	require.NoError(t, err)

	short, err := svc.Preview(ctx, eventCtx(), 3)
	require.NoError(t, err)
	long, err := svc.Preview(ctx, eventCtx(), 5)
	require.NoError(t, err)
	again, err := svc.Preview(ctx, eventCtx(), 3)
	require.NoError(t, err)

	assert.Equal(t, short, again)
	require.Len(t, long, 5)
	assert.Equal(t, short, long[:3])
}

func TestPreviewMatchesNextAssign(t *testing.T) {
	src := &fakeRuleSource{
		event: &model.RulePatch{Format: &model.FormatPatch{Width: intp(3)}},
	}
	svc, _, _ := newTestService(src)
	ctx := context.Background()

	preview, err := svc.Preview(ctx, eventCtx(), 1)
	require.NoError(t, err)
	require.Len(t, preview, 1)

	a, _, err := svc.Assign(ctx, eventCtx(), entry(1))
	require.NoError(t, err)
	assert.Equal(t, preview[0].Raw, a.RawNumber)
	assert.Equal(t, preview[0].Display, a.DisplayNumber)
}

func TestPreviewHonorsDesignerOverride(t *testing.T) {
	svc, _, _ := newTestService(&fakeRuleSource{})
	actx := eventCtx()
	actx.RuleOverride = &model.RulePatch{Sequence: &model.SequencePatch{Start: intp(100)}}

	preview, err := svc.Preview(context.Background(), actx, 2)
	require.NoError(t, err)
	require.Len(t, preview, 2)
	assert.Equal(t, 100, preview[0].Raw)
	assert.Equal(t, 101, preview[1].Raw)
}

func TestPreviewShortensWhenRangeRunsOut(t *testing.T) {
	src := &fakeRuleSource{
		event: &model.RulePatch{Sequence: &model.SequencePatch{Range: &model.NumberRange{Min: 1, Max: 2}}},
	}
	svc, _, _ := newTestService(src)

	preview, err := svc.Preview(context.Background(), eventCtx(), 10)
	require.NoError(t, err)
	assert.Len(t, preview, 2)
}

func TestOverrideMovesSubjectToDesiredNumber(t *testing.T) {
	svc, store, pub := newTestService(&fakeRuleSource{})
	ctx := context.Background()

	a, _, err := svc.Assign(ctx, eventCtx(), entry(1))
	require.NoError(t, err)

	o, err := svc.Override(ctx, eventCtx(), entry(1), 77)
	require.NoError(t, err)
	assert.Equal(t, 77, o.RawNumber)
	assert.Equal(t, model.StatusActive, o.Status)

	old, err := store.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReleased, old.Status)
	require.NotNil(t, old.ReleaseReason)
	assert.Equal(t, "override", *old.ReleaseReason)

	assert.Equal(t, []string{"assigned", "overridden"}, pub.actions())
	last := pub.events[len(pub.events)-1]
	require.NotNil(t, last.PreviousRaw)
	assert.Equal(t, a.RawNumber, *last.PreviousRaw)
}

func TestOverrideRejectsTakenNumber(t *testing.T) {
	// Scenario: the desired number belongs to another active
	// assignment; nothing changes.
	svc, store, _ := newTestService(&fakeRuleSource{})
	ctx := context.Background()

	a, _, err := svc.Assign(ctx, eventCtx(), entry(1))
	require.NoError(t, err)
	b, _, err := svc.Assign(ctx, eventCtx(), entry(2))
	require.NoError(t, err)

	_, err = svc.Override(ctx, eventCtx(), entry(2), a.RawNumber)
	assert.ErrorIs(t, err, ErrNumberRejected)

	cur, err := store.ActiveFor(ctx, model.SubjectEntry, "entry:2")
	require.NoError(t, err)
	assert.Equal(t, b.RawNumber, cur.RawNumber)
}

func TestOverrideRejectsLockedAssignment(t *testing.T) {
	svc, _, _ := newTestService(&fakeRuleSource{})
	ctx := context.Background()

	a, _, err := svc.Assign(ctx, eventCtx(), entry(1))
	require.NoError(t, err)
	_, err = svc.Lock(ctx, a.ID, "start_called")
	require.NoError(t, err)

	_, err = svc.Override(ctx, eventCtx(), entry(1), 50)
	assert.ErrorIs(t, err, repository.ErrLocked)
}

func TestOverrideSameNumberIsNoOp(t *testing.T) {
	svc, _, pub := newTestService(&fakeRuleSource{})
	ctx := context.Background()

	a, _, err := svc.Assign(ctx, eventCtx(), entry(1))
	require.NoError(t, err)

	o, err := svc.Override(ctx, eventCtx(), entry(1), a.RawNumber)
	require.NoError(t, err)
	assert.Equal(t, a.ID, o.ID)
	assert.Equal(t, []string{"assigned"}, pub.actions())
}

func TestOverrideWorksWithoutPriorAssignment(t *testing.T) {
	svc, _, _ := newTestService(&fakeRuleSource{})

	o, err := svc.Override(context.Background(), eventCtx(), entry(1), 42)
	require.NoError(t, err)
	assert.Equal(t, 42, o.RawNumber)
}

func TestResolveBinding(t *testing.T) {
	src := &fakeRuleSource{
		event: &model.RulePatch{Format: &model.FormatPatch{Prefix: strp("A"), Width: intp(3), Separator: strp("-")}},
	}
	svc, _, _ := newTestService(src)
	ctx := context.Background()

	a, _, err := svc.Assign(ctx, eventCtx(), entry(1))
	require.NoError(t, err)

	got, err := svc.ResolveBinding(ctx, a.DisplayNumber)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, a.ID, got.ID)

	missing, err := svc.ResolveBinding(ctx, "Z-999")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAssignInvalidatesReissuedDisplay(t *testing.T) {
	// A scan between release and reissue caches the released row; the
	// reissue must drop it so the display resolves to the new holder.
	store := newMemStore()
	bindings := newRecordingBindings()
	svc := NewStartNumberService(store, NewRuleResolver(&fakeRuleSource{}), nil, bindings)
	ctx := context.Background()

	a, _, err := svc.Assign(ctx, eventCtx(), entry(1))
	require.NoError(t, err)
	_, err = svc.Release(ctx, a.ID, "withdrawn")
	require.NoError(t, err)

	// Scanner hits the retired bib; the released row lands in the cache.
	stale, err := svc.ResolveBinding(ctx, a.DisplayNumber)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReleased, stale.Status)
	_, cachedBefore := bindings.Get(ctx, a.DisplayNumber)
	require.True(t, cachedBefore)

	// The freed number goes to the next subject under the same display.
	b, _, err := svc.Assign(ctx, eventCtx(), entry(2))
	require.NoError(t, err)
	require.Equal(t, a.DisplayNumber, b.DisplayNumber)

	got, err := svc.ResolveBinding(ctx, a.DisplayNumber)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, got.Status)
	assert.Equal(t, "entry:2", got.SubjectKey)
	assert.Contains(t, bindings.invalidated, a.DisplayNumber)
}

func TestResolveBindingFallsBackToReleasedRow(t *testing.T) {
	svc, _, _ := newTestService(&fakeRuleSource{})
	ctx := context.Background()

	a, _, err := svc.Assign(ctx, eventCtx(), entry(1))
	require.NoError(t, err)
	_, err = svc.Release(ctx, a.ID, "withdrawn")
	require.NoError(t, err)

	got, err := svc.ResolveBinding(ctx, a.DisplayNumber)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.StatusReleased, got.Status)
}

func TestFormatNumberHonorsOverride(t *testing.T) {
	svc, _, _ := newTestService(&fakeRuleSource{})
	actx := eventCtx()
	actx.RuleOverride = &model.RulePatch{Format: &model.FormatPatch{Prefix: strp("T"), Width: intp(4), Separator: strp("-")}}

	got, err := svc.FormatNumber(context.Background(), actx, 9)
	require.NoError(t, err)
	assert.Equal(t, "T-0009", got)
}

func TestAuditEventsCarryActor(t *testing.T) {
	svc, _, pub := newTestService(&fakeRuleSource{})
	actor := uint64(7)
	actx := eventCtx()
	actx.UserID = &actor

	_, _, err := svc.Assign(context.Background(), actx, entry(1))
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	require.NotNil(t, pub.events[0].ActorID)
	assert.Equal(t, actor, *pub.events[0].ActorID)
}
