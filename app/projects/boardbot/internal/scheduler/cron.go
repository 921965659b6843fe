package scheduler

import (
	"strconv"
	"strings"
	"time"

	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/errs"
)

// cron field bounds: second minute hour day month weekday
var fieldBounds = [6][2]int{{0, 59}, {0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 7}}

// NormalizeCron prepends a zero seconds field to 5-field expressions.
func NormalizeCron(expr string) string {
	parts := strings.Fields(expr)
	if len(parts) == 5 {
		return "0 " + strings.Join(parts, " ")
	}
	return strings.Join(parts, " ")
}

// ValidateCron reports whether expr is a 5 or 6 field expression this matcher understands.
func ValidateCron(expr string) error {
	fields := strings.Fields(NormalizeCron(expr))
	if len(fields) != 6 {
		return errs.Invalid("cron.validate", "%q: want 5 or 6 fields", expr)
	}
	for i, f := range fields {
		for _, part := range strings.Split(f, ",") {
			if _, _, _, ok := parsePart(part, fieldBounds[i]); !ok {
				return errs.Invalid("cron.validate", "%q: bad field %q", expr, f)
			}
		}
	}
	return nil
}

// Matches reports whether expr fires at t (second precision). Supports "*", numbers, lists,
// ranges "a-b" and steps "*/n", "a-b/n", "a/n".
func Matches(t time.Time, expr string) bool {
	fields := strings.Fields(NormalizeCron(expr))
	if len(fields) != 6 {
		return false
	}
	vals := []int{t.Second(), t.Minute(), t.Hour(), t.Day(), int(t.Month()), int(t.Weekday())}
	for i, f := range fields {
		if !fieldMatches(f, vals[i], i) {
			return false
		}
	}
	return true
}

func fieldMatches(f string, v, idx int) bool {
	if f == "*" {
		return true
	}
	for _, part := range strings.Split(f, ",") {
		lo, hi, step, ok := parsePart(part, fieldBounds[idx])
		if !ok {
			continue
		}
		if idx == 5 && v == 0 && hi == 7 && (7-lo)%step == 0 {
			return true // 7 is Sunday too
		}
		if v >= lo && v <= hi && (v-lo)%step == 0 {
			return true
		}
	}
	return false
}

func parsePart(part string, bounds [2]int) (lo, hi, step int, ok bool) {
	part = strings.TrimSpace(part)
	step = 1
	if base, s, found := strings.Cut(part, "/"); found {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return 0, 0, 0, false
		}
		step = n
		part = base
		if !strings.Contains(base, "-") && base != "*" {
			// "a/n" runs from a to the field maximum
			a, err := strconv.Atoi(base)
			if err != nil {
				return 0, 0, 0, false
			}
			return a, bounds[1], step, a >= bounds[0] && a <= bounds[1]
		}
	}
	if part == "*" {
		return bounds[0], bounds[1], step, true
	}
	if a, b, found := strings.Cut(part, "-"); found {
		x, err1 := strconv.Atoi(a)
		y, err2 := strconv.Atoi(b)
		if err1 != nil || err2 != nil || x > y || x < bounds[0] || y > bounds[1] {
			return 0, 0, 0, false
		}
		return x, y, step, true
	}
	n, err := strconv.Atoi(part)
	if err != nil || n < bounds[0] || n > bounds[1] {
		return 0, 0, 0, false
	}
	return n, n, step, true
}
