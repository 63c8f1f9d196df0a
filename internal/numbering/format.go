package numbering

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/showgrounds/startnumber-service/internal/model"
)

// Format renders a raw number as its printed display string.  The raw
// value is zero-padded to the format's width (a no-op when width is
// zero or the number is already wider), wrapped with prefix and suffix,
// and the non-empty parts are joined with the separator.  An empty
// separator concatenates the parts directly.
//
// Format is pure and total; there is no failing input.  Display strings
// are stored on assignments for read performance but must always equal
// what this function derives from the raw value and the rule snapshot.
func Format(raw int, f model.FormatSpec) string {
	num := strconv.Itoa(raw)
	if f.Width > 0 && len(num) < f.Width {
		num = fmt.Sprintf("%0*d", f.Width, raw)
	}

	parts := make([]string, 0, 3)
	if f.Prefix != "" {
		parts = append(parts, f.Prefix)
	}
	parts = append(parts, num)
	if f.Suffix != "" {
		parts = append(parts, f.Suffix)
	}
	return strings.Join(parts, f.Separator)
}
