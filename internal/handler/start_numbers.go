package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/showgrounds/startnumber-service/internal/model"
	"github.com/showgrounds/startnumber-service/internal/numbering"
	"github.com/showgrounds/startnumber-service/internal/repository"
	"github.com/showgrounds/startnumber-service/internal/service"
)

// StartNumberHandler exposes the allocation service over HTTP.
type StartNumberHandler struct {
	Svc *service.StartNumberService
}

func NewStartNumberHandler(svc *service.StartNumberService) *StartNumberHandler {
	return &StartNumberHandler{Svc: svc}
}

// ----- DTOs -----

// allocationCtxReq mirrors model.AllocationContext minus the event id,
// which always comes from the path.  Rule is an optional inline rule
// override honored only by the simulation endpoints.
type allocationCtxReq struct {
	ClassID    *uint64           `json:"class_id"`
	Day        string            `json:"day"`
	Arena      string            `json:"arena"`
	Department string            `json:"department"`
	Rule       *model.RulePatch  `json:"rule"`
	Subject    *model.SubjectRef `json:"subject"`
}

type assignReq struct {
	allocationCtxReq
}

type releaseReq struct {
	Reason string `json:"reason"`
}

type lockReq struct {
	Trigger string `json:"trigger"`
}

type overrideReq struct {
	allocationCtxReq
	Number int `json:"number"`
}

type validateReq struct {
	allocationCtxReq
	Number int `json:"number"`
}

// Assign allocates a start number for the subject in the body.
// Reissuing the same request returns the existing assignment with 200
// instead of creating a second one.
func (h *StartNumberHandler) Assign(c echo.Context) error {
	eventID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	var req assignReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Subject == nil || req.Subject.Key == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "subject required"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	actx := req.allocationCtx(eventID, c)
	a, created, err := h.Svc.Assign(ctx, actx, *req.Subject)
	if err != nil {
		return allocationError(c, err)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, echo.Map{"assignment": a})
}

// Release marks an assignment released.  Releasing an already released
// assignment is a no-op and still returns 200.
func (h *StartNumberHandler) Release(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid assignment id"})
	}
	var req releaseReq
	_ = c.Bind(&req)

	ctx, cancel := reqCtx(c)
	defer cancel()

	a, err := h.Svc.Release(ctx, id, req.Reason)
	if err != nil {
		return allocationError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"assignment": a})
}

// Lock freezes an assignment.  Locking with the trigger that already
// froze it is idempotent; a different trigger is a conflict.
func (h *StartNumberHandler) Lock(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid assignment id"})
	}
	var req lockReq
	if err := c.Bind(&req); err != nil || req.Trigger == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "trigger required"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	a, err := h.Svc.Lock(ctx, id, req.Trigger)
	if err != nil {
		return allocationError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"assignment": a})
}

// Override forces a specific raw number onto a subject, releasing any
// previous active assignment.  Admin only; the route gate enforces it.
func (h *StartNumberHandler) Override(c echo.Context) error {
	eventID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	var req overrideReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Subject == nil || req.Subject.Key == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "subject required"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	actx := req.allocationCtx(eventID, c)
	a, err := h.Svc.Override(ctx, actx, *req.Subject, req.Number)
	if err != nil {
		return allocationError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"assignment": a})
}

// Validate checks a candidate number and returns structured violations.
// A taken or out-of-range number is a 200 with valid=false, not an
// error status; only broken rules or scope context fail the request.
func (h *StartNumberHandler) Validate(c echo.Context) error {
	eventID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	var req validateReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	actx := req.allocationCtx(eventID, c)
	res, err := h.Svc.Validate(ctx, actx, req.Subject, req.Number)
	if err != nil {
		return allocationError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Preview forecasts the next ?count numbers without allocating.
func (h *StartNumberHandler) Preview(c echo.Context) error {
	eventID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	count := 10
	if raw := c.QueryParam("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid count"})
		}
		count = n
	}
	actx := queryAllocationCtx(c, eventID)

	ctx, cancel := reqCtx(c)
	defer cancel()

	entries, err := h.Svc.Preview(ctx, actx, count)
	if err != nil {
		return allocationError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"preview": entries})
}

// EffectiveRule returns the fully merged rule for the given context so
// rule designers can inspect what their layered documents resolve to.
func (h *StartNumberHandler) EffectiveRule(c echo.Context) error {
	eventID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	actx := queryAllocationCtx(c, eventID)

	ctx, cancel := reqCtx(c)
	defer cancel()

	rule, err := h.Svc.EffectiveRule(ctx, actx)
	if err != nil {
		return allocationError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"rule": rule})
}

// ResolveBinding maps a printed display number back to its assignment.
// Scanners at the arena gate hit this on every scan.
func (h *StartNumberHandler) ResolveBinding(c echo.Context) error {
	display := c.Param("display")
	if display == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "display number required"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	a, err := h.Svc.ResolveBinding(ctx, display)
	if err != nil {
		return allocationError(c, err)
	}
	if a == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown start number"})
	}
	return c.JSON(http.StatusOK, echo.Map{"assignment": a})
}

// ----- helpers -----

func (r allocationCtxReq) allocationCtx(eventID uint64, c echo.Context) model.AllocationContext {
	return model.AllocationContext{
		EventID:      eventID,
		ClassID:      r.ClassID,
		Day:          r.Day,
		Arena:        r.Arena,
		Department:   r.Department,
		UserID:       actorID(c),
		RuleOverride: r.Rule,
	}
}

// queryAllocationCtx builds a context for the GET simulation endpoints,
// where the scope dimensions arrive as query parameters.
func queryAllocationCtx(c echo.Context, eventID uint64) model.AllocationContext {
	actx := model.AllocationContext{
		EventID:    eventID,
		Day:        c.QueryParam("day"),
		Arena:      c.QueryParam("arena"),
		Department: c.QueryParam("department"),
		UserID:     actorID(c),
	}
	if raw := c.QueryParam("class_id"); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			actx.ClassID = &id
		}
	}
	return actx
}

func pathID(c echo.Context, name string) (uint64, error) {
	return strconv.ParseUint(c.Param(name), 10, 64)
}

func reqCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), 5*time.Second)
}

// actorID extracts the authenticated user id set by the JWT middleware.
// JWT numeric claims decode as float64.
func actorID(c echo.Context) *uint64 {
	switch v := c.Get("user_id").(type) {
	case float64:
		id := uint64(v)
		return &id
	case string:
		if id, err := strconv.ParseUint(v, 10, 64); err == nil {
			return &id
		}
	}
	return nil
}

// allocationError maps the service failure taxonomy onto HTTP statuses.
func allocationError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "assignment not found"})
	case errors.Is(err, repository.ErrLocked):
		return c.JSON(http.StatusConflict, echo.Map{"error": "start number is locked"})
	case errors.Is(err, service.ErrAllocationContended):
		return c.JSON(http.StatusConflict, echo.Map{"error": "allocation contended, retry"})
	case errors.Is(err, repository.ErrDuplicateNumber):
		return c.JSON(http.StatusConflict, echo.Map{"error": "start number already taken"})
	case errors.Is(err, numbering.ErrSequenceExhausted):
		return c.JSON(http.StatusConflict, echo.Map{"error": "number range exhausted"})
	case errors.Is(err, service.ErrNumberRejected):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error()})
	case errors.Is(err, numbering.ErrRuleInvalid):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error()})
	case errors.Is(err, numbering.ErrScopeIncomplete):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
