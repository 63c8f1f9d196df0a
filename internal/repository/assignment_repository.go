package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/showgrounds/startnumber-service/internal/model"
)

// AssignmentRepo provides data access to the start_number_assignments
// table.  The table carries the core invariant of the subsystem:
// among rows with status 'active', the pair (scope_key,
// start_number_raw) is unique.  MySQL has no partial indexes, so the
// constraint is expressed with a nullable `active` column that is 1 for
// live rows and NULL for released ones; NULL values never collide in a
// unique index, so released rows drop out of the check.
//
// Expected schema:
//
//	CREATE TABLE start_number_assignments (
//	  id                    BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
//	  event_id              BIGINT UNSIGNED NOT NULL,
//	  class_id              BIGINT UNSIGNED NULL,
//	  arena                 VARCHAR(64) NULL,
//	  day                   DATE NULL,
//	  scope_key             VARCHAR(191) NOT NULL,
//	  rule_scope            VARCHAR(16) NOT NULL,
//	  rule_snapshot         JSON NOT NULL,
//	  allocation_entity     VARCHAR(16) NOT NULL,
//	  allocation_time       VARCHAR(16) NOT NULL,
//	  subject_type          VARCHAR(16) NOT NULL,
//	  subject_key           VARCHAR(191) NOT NULL,
//	  subject_payload       JSON NULL,
//	  rider_id              BIGINT UNSIGNED NULL,
//	  horse_id              BIGINT UNSIGNED NULL,
//	  club_id               BIGINT UNSIGNED NULL,
//	  start_number_raw      INT NOT NULL,
//	  start_number_display  VARCHAR(32) NOT NULL,
//	  status                ENUM('active','released') NOT NULL DEFAULT 'active',
//	  active                TINYINT NULL DEFAULT 1,
//	  locked_at             DATETIME NULL,
//	  lock_trigger          VARCHAR(32) NULL,
//	  released_at           DATETIME NULL,
//	  release_reason        VARCHAR(255) NULL,
//	  created_by            BIGINT UNSIGNED NULL,
//	  created_at            DATETIME NOT NULL DEFAULT UTC_TIMESTAMP(),
//	  UNIQUE KEY uq_scope_number (scope_key, start_number_raw, active),
//	  UNIQUE KEY uq_subject (subject_type, subject_key, active),
//	  KEY idx_event (event_id),
//	  KEY idx_scope (scope_key),
//	  KEY idx_display (start_number_display),
//	  KEY idx_rider (rider_id),
//	  KEY idx_horse (horse_id)
//	);
type AssignmentRepo struct {
	db *sql.DB
}

// NewAssignmentRepo returns an AssignmentRepo bound to the given database.
func NewAssignmentRepo(db *sql.DB) *AssignmentRepo { return &AssignmentRepo{db: db} }

// DB exposes the underlying handle so callers can open transactions.
func (r *AssignmentRepo) DB() *sql.DB { return r.db }

// Tx is the set of assignment operations available inside one storage
// transaction.  The allocation service performs its read-compute-insert
// cycle entirely through this interface so that the taken-set it reads
// and the row it inserts belong to the same transaction.
type Tx interface {
	// TakenNumbers returns the raw numbers of all active assignments
	// in the scope.
	TakenNumbers(ctx context.Context, scopeKey string) (map[int]bool, error)
	// ActiveFor returns the subject's active assignment, or ErrNotFound.
	ActiveFor(ctx context.Context, subjectType model.SubjectType, subjectKey string) (*model.StartNumberAssignment, error)
	// GetByID returns the assignment row regardless of status, or
	// ErrNotFound.  With forUpdate the row is locked for the remainder
	// of the transaction.
	GetByID(ctx context.Context, id uint64, forUpdate bool) (*model.StartNumberAssignment, error)
	// Insert persists a new active assignment and populates its ID and
	// CreatedAt.  ErrDuplicateNumber and ErrSubjectAssigned report
	// which unique constraint a concurrent transaction won.
	Insert(ctx context.Context, a *model.StartNumberAssignment) error
	// Release marks an active, unlocked assignment released and
	// returns the updated row.  ErrNotFound when no active row has the
	// id; ErrLocked when the row is frozen.
	Release(ctx context.Context, id uint64, reason string) (*model.StartNumberAssignment, error)
	// Lock freezes an active assignment.  Idempotent when already
	// locked with the same trigger; ErrLocked for a different trigger.
	Lock(ctx context.Context, id uint64, trigger string) (*model.StartNumberAssignment, error)
}

// WithinTx runs fn inside a transaction, committing on success and
// rolling back on error.  READ COMMITTED is sufficient: correctness
// against concurrent allocators comes from the unique constraints, not
// from the isolation level.
func (r *AssignmentRepo) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&assignmentTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// assignmentTx adapts a *sql.Tx to the Tx interface.
type assignmentTx struct {
	tx *sql.Tx
}

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx,
// letting the read helpers serve both transactional and direct paths.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const assignmentCols = `id, event_id, class_id, arena, day, scope_key, rule_scope, rule_snapshot,
       allocation_entity, allocation_time, subject_type, subject_key, subject_payload,
       rider_id, horse_id, club_id, start_number_raw, start_number_display,
       status, locked_at, lock_trigger, released_at, release_reason, created_by, created_at`

// TakenNumbers returns the raw numbers of all active assignments in the
// scope, reading outside any transaction.  The result is advisory: the
// allocation path re-reads inside its transaction before inserting.
func (r *AssignmentRepo) TakenNumbers(ctx context.Context, scopeKey string) (map[int]bool, error) {
	return takenNumbers(ctx, r.db, scopeKey)
}

// ActiveFor returns the subject's active assignment, or ErrNotFound.
func (r *AssignmentRepo) ActiveFor(ctx context.Context, subjectType model.SubjectType, subjectKey string) (*model.StartNumberAssignment, error) {
	return activeFor(ctx, r.db, subjectType, subjectKey)
}

// GetByID returns the assignment row regardless of status, or ErrNotFound.
func (r *AssignmentRepo) GetByID(ctx context.Context, id uint64) (*model.StartNumberAssignment, error) {
	return getByID(ctx, r.db, id, false)
}

// FindByDisplay resolves a printed start number back to its assignment.
// Active rows win; among released rows the most recent wins, so a
// marshal scanning a withdrawn bib still gets a sensible answer.
// Returns ErrNotFound when the display string was never allocated.
func (r *AssignmentRepo) FindByDisplay(ctx context.Context, display string) (*model.StartNumberAssignment, error) {
	q := `SELECT ` + assignmentCols + `
	      FROM start_number_assignments
	      WHERE start_number_display = ?
	      ORDER BY (status = 'active') DESC, created_at DESC
	      LIMIT 1`
	a, err := scanAssignment(r.db.QueryRowContext(ctx, q, display))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func (t *assignmentTx) TakenNumbers(ctx context.Context, scopeKey string) (map[int]bool, error) {
	return takenNumbers(ctx, t.tx, scopeKey)
}

func (t *assignmentTx) ActiveFor(ctx context.Context, subjectType model.SubjectType, subjectKey string) (*model.StartNumberAssignment, error) {
	return activeFor(ctx, t.tx, subjectType, subjectKey)
}

func (t *assignmentTx) GetByID(ctx context.Context, id uint64, forUpdate bool) (*model.StartNumberAssignment, error) {
	return getByID(ctx, t.tx, id, forUpdate)
}

// Insert persists a new active assignment.  The generated ID and the
// DB-side created_at are queried back onto the record.
func (t *assignmentTx) Insert(ctx context.Context, a *model.StartNumberAssignment) error {
	snapshot, err := json.Marshal(a.RuleSnapshot)
	if err != nil {
		return fmt.Errorf("marshal rule snapshot: %w", err)
	}
	var payload interface{}
	if len(a.SubjectPayload) > 0 {
		payload = []byte(a.SubjectPayload)
	}
	const q = `INSERT INTO start_number_assignments
	           (event_id, class_id, arena, day, scope_key, rule_scope, rule_snapshot,
	            allocation_entity, allocation_time, subject_type, subject_key, subject_payload,
	            rider_id, horse_id, club_id, start_number_raw, start_number_display,
	            status, active, created_by)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'active', 1, ?)`
	res, err := t.tx.ExecContext(ctx, q,
		a.EventID, a.ClassID, a.Arena, a.Day, a.ScopeKey, string(a.RuleScope), snapshot,
		string(a.AllocationEntity), string(a.AllocationTime), string(a.SubjectType), a.SubjectKey, payload,
		a.RiderID, a.HorseID, a.ClubID, a.RawNumber, a.DisplayNumber,
		a.CreatedBy,
	)
	if err != nil {
		return translateInsertErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = uint64(id)
	a.Status = model.StatusActive
	// Query back the row to populate created_at and DB defaults.
	stored, err := getByID(ctx, t.tx, a.ID, false)
	if err != nil {
		return err
	}
	a.CreatedAt = stored.CreatedAt
	return nil
}

// Release marks an active, unlocked assignment as released.  The row is
// locked FOR UPDATE first so the status check and the update cannot be
// interleaved with a concurrent lock call.
func (t *assignmentTx) Release(ctx context.Context, id uint64, reason string) (*model.StartNumberAssignment, error) {
	cur, err := getByID(ctx, t.tx, id, true)
	if err != nil {
		return nil, err
	}
	if cur.Status != model.StatusActive {
		return nil, fmt.Errorf("%w: assignment %d is not active", ErrNotFound, id)
	}
	if cur.Locked() {
		return nil, fmt.Errorf("%w: assignment %d is frozen by %s", ErrLocked, id, deref(cur.LockTrigger))
	}
	const q = `UPDATE start_number_assignments
	           SET status = 'released', active = NULL, released_at = UTC_TIMESTAMP(), release_reason = ?
	           WHERE id = ?`
	if _, err := t.tx.ExecContext(ctx, q, reason, id); err != nil {
		return nil, err
	}
	return getByID(ctx, t.tx, id, false)
}

// Lock freezes the assignment's number.  Calling it again with the same
// trigger is a no-op; a different trigger on a frozen row is rejected.
func (t *assignmentTx) Lock(ctx context.Context, id uint64, trigger string) (*model.StartNumberAssignment, error) {
	cur, err := getByID(ctx, t.tx, id, true)
	if err != nil {
		return nil, err
	}
	if cur.Status != model.StatusActive {
		return nil, fmt.Errorf("%w: assignment %d is not active", ErrNotFound, id)
	}
	if cur.Locked() {
		if deref(cur.LockTrigger) == trigger {
			return cur, nil
		}
		return nil, fmt.Errorf("%w: assignment %d already frozen by %s", ErrLocked, id, deref(cur.LockTrigger))
	}
	const q = `UPDATE start_number_assignments
	           SET locked_at = UTC_TIMESTAMP(), lock_trigger = ?
	           WHERE id = ?`
	if _, err := t.tx.ExecContext(ctx, q, trigger, id); err != nil {
		return nil, err
	}
	return getByID(ctx, t.tx, id, false)
}

func takenNumbers(ctx context.Context, q querier, scopeKey string) (map[int]bool, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT start_number_raw FROM start_number_assignments WHERE scope_key = ? AND active = 1`,
		scopeKey,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	taken := make(map[int]bool)
	for rows.Next() {
		var raw int
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		taken[raw] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return taken, nil
}

func activeFor(ctx context.Context, q querier, subjectType model.SubjectType, subjectKey string) (*model.StartNumberAssignment, error) {
	query := `SELECT ` + assignmentCols + `
	          FROM start_number_assignments
	          WHERE subject_type = ? AND subject_key = ? AND active = 1`
	a, err := scanAssignment(q.QueryRowContext(ctx, query, string(subjectType), subjectKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func getByID(ctx context.Context, q querier, id uint64, forUpdate bool) (*model.StartNumberAssignment, error) {
	query := `SELECT ` + assignmentCols + ` FROM start_number_assignments WHERE id = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	a, err := scanAssignment(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: assignment %d", ErrNotFound, id)
	}
	return a, err
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAssignment(row rowScanner) (*model.StartNumberAssignment, error) {
	var (
		a          model.StartNumberAssignment
		classID    sql.NullInt64
		arena      sql.NullString
		day        sql.NullTime
		snapshot   []byte
		payload    []byte
		riderID    sql.NullInt64
		horseID    sql.NullInt64
		clubID     sql.NullInt64
		status     string
		lockedAt   sql.NullTime
		lockTrig   sql.NullString
		releasedAt sql.NullTime
		relReason  sql.NullString
		createdBy  sql.NullInt64
		ruleScope  string
		entity     string
		allocTime  string
		subjType   string
	)
	err := row.Scan(
		&a.ID, &a.EventID, &classID, &arena, &day, &a.ScopeKey, &ruleScope, &snapshot,
		&entity, &allocTime, &subjType, &a.SubjectKey, &payload,
		&riderID, &horseID, &clubID, &a.RawNumber, &a.DisplayNumber,
		&status, &lockedAt, &lockTrig, &releasedAt, &relReason, &createdBy, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(snapshot, &a.RuleSnapshot); err != nil {
		return nil, fmt.Errorf("decode rule snapshot of assignment %d: %w", a.ID, err)
	}
	a.RuleScope = model.ScopeDimension(ruleScope)
	a.AllocationEntity = model.AllocationEntity(entity)
	a.AllocationTime = model.AllocationTime(allocTime)
	a.SubjectType = model.SubjectType(subjType)
	a.Status = model.AssignmentStatus(status)
	if len(payload) > 0 {
		a.SubjectPayload = json.RawMessage(payload)
	}
	a.ClassID = nullUint(classID)
	a.RiderID = nullUint(riderID)
	a.HorseID = nullUint(horseID)
	a.ClubID = nullUint(clubID)
	a.CreatedBy = nullUint(createdBy)
	if arena.Valid {
		v := arena.String
		a.Arena = &v
	}
	if day.Valid {
		v := day.Time.UTC().Format("2006-01-02")
		a.Day = &v
	}
	if lockedAt.Valid {
		v := lockedAt.Time.UTC()
		a.LockedAt = &v
	}
	if lockTrig.Valid {
		v := lockTrig.String
		a.LockTrigger = &v
	}
	if releasedAt.Valid {
		v := releasedAt.Time.UTC()
		a.ReleasedAt = &v
	}
	if relReason.Valid {
		v := relReason.String
		a.ReleaseReason = &v
	}
	return &a, nil
}

// translateInsertErr maps MySQL duplicate-key failures onto the
// sentinel for whichever constraint fired.  Error 1062 carries the
// index name in its message.
func translateInsertErr(err error) error {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		if strings.Contains(mysqlErr.Message, "uq_subject") {
			return fmt.Errorf("%w: %s", ErrSubjectAssigned, mysqlErr.Message)
		}
		return fmt.Errorf("%w: %s", ErrDuplicateNumber, mysqlErr.Message)
	}
	return err
}

func nullUint(v sql.NullInt64) *uint64 {
	if !v.Valid {
		return nil
	}
	u := uint64(v.Int64)
	return &u
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
