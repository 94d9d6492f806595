package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

const dateLayout = "2006-01-02"

var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseDate turns a calendar date or a phrase like "yesterday" or
// "last friday" into YYYY-MM-DD, relative to now.
func ParseDate(expr string, now time.Time) (string, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" || strings.EqualFold(expr, "today") {
		return now.Format(dateLayout), nil
	}
	if t, err := time.ParseInLocation(dateLayout, expr, now.Location()); err == nil {
		return t.Format(dateLayout), nil
	}

	r, err := dateParser.Parse(expr, now)
	if err != nil {
		return "", fmt.Errorf("failed to parse date %q: %w", expr, err)
	}
	if r == nil {
		return "", fmt.Errorf("unrecognized date %q", expr)
	}
	return r.Time.Format(dateLayout), nil
}
