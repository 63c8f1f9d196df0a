package numbering

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/showgrounds/startnumber-service/internal/model"
)

// ScopeKey derives the deterministic uniqueness key for an allocation
// context under the given scope dimension.  Two contexts that must
// share one number pool always yield the same key, e.g.
//
//	scope=event  {event_id:12}            -> "event:12"
//	scope=arena  {event_id:12, arena:"A"} -> "event:12:arena:A"
//
// It fails with ErrScopeIncomplete when the context is missing a
// dimension the scope requires.
func ScopeKey(scope model.ScopeDimension, ctx model.AllocationContext) (string, error) {
	if ctx.EventID == 0 {
		return "", fmt.Errorf("%w: event id is required", ErrScopeIncomplete)
	}
	base := "event:" + strconv.FormatUint(ctx.EventID, 10)

	switch scope {
	case model.ScopeEvent:
		return base, nil
	case model.ScopeClass:
		if ctx.ClassID == nil || *ctx.ClassID == 0 {
			return "", fmt.Errorf("%w: class id is required for class scope", ErrScopeIncomplete)
		}
		return base + ":class:" + strconv.FormatUint(*ctx.ClassID, 10), nil
	case model.ScopeArena:
		if strings.TrimSpace(ctx.Arena) == "" {
			return "", fmt.Errorf("%w: arena is required for arena scope", ErrScopeIncomplete)
		}
		return base + ":arena:" + strings.TrimSpace(ctx.Arena), nil
	case model.ScopeDay:
		day, err := normalizeDay(ctx.Day)
		if err != nil {
			return "", err
		}
		return base + ":day:" + day, nil
	case model.ScopeDepartment:
		dept := NormalizeDepartment(ctx.Department)
		if dept == "" {
			return "", fmt.Errorf("%w: department is required for department scope", ErrScopeIncomplete)
		}
		return base + ":dept:" + strings.ReplaceAll(dept, " ", "_"), nil
	default:
		return "", fmt.Errorf("%w: unknown scope %q", ErrRuleInvalid, scope)
	}
}

// NormalizeDepartment canonicalizes a department label so that
// "Team A" and "team  a" resolve to the same scope: lower-cased with
// runs of whitespace collapsed to single spaces.
func NormalizeDepartment(label string) string {
	return strings.ToLower(strings.Join(strings.Fields(label), " "))
}

// normalizeDay validates and canonicalizes a day dimension to the
// YYYY-MM-DD form the scope key carries.
func normalizeDay(day string) (string, error) {
	day = strings.TrimSpace(day)
	if day == "" {
		return "", fmt.Errorf("%w: day is required for day scope", ErrScopeIncomplete)
	}
	t, err := time.Parse("2006-01-02", day)
	if err != nil {
		return "", fmt.Errorf("%w: day %q is not a YYYY-MM-DD date", ErrScopeIncomplete, day)
	}
	return t.Format("2006-01-02"), nil
}
