package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// ParseDue turns a deadline expression into the stored DueDate and DueTime
// strings. It accepts the stored format itself ("31-12-2026 18:00"), a bare
// stored date (time defaults to now's clock) or natural language such as
// "tomorrow 5pm" or "next friday at 9:30".
func ParseDue(expr string, now time.Time) (dueDate, dueTime string, err error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return now.Format(DateLayout), now.Format(TimeLayout), nil
	}

	if d, err := time.ParseInLocation(DateLayout+" "+TimeLayout, expr, now.Location()); err == nil {
		return d.Format(DateLayout), d.Format(TimeLayout), nil
	}
	if d, err := time.ParseInLocation(DateLayout, expr, now.Location()); err == nil {
		return d.Format(DateLayout), now.Format(TimeLayout), nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(expr, now)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse due expression %q: %w", expr, err)
	}
	if r == nil {
		return "", "", fmt.Errorf("%w: no date found in %q", ErrInvalidDueDate, expr)
	}
	return r.Time.Format(DateLayout), r.Time.Format(TimeLayout), nil
}
