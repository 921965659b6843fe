package scheduler

import (
	"strings"
	"time"

	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/codec"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/errs"
)

const (
	scheduledPrefix = "scheduled "
	everyPrefix     = "every-"
)

// Tick is one clock signal: either the scheduled promotion instant or an interval name.
type Tick struct {
	Scheduled bool
	At        time.Time
	Interval  string
}

func (t Tick) String() string {
	if t.Scheduled {
		return ScheduledTick(t.At)
	}
	return t.Interval
}

// ScheduledTick renders the promotion tick for at.
func ScheduledTick(at time.Time) string {
	return scheduledPrefix + at.UTC().Format(time.RFC3339)
}

// ParseTick accepts "scheduled <RFC3339>" or an interval ("*/5 * * * *", "every-5m").
func ParseTick(raw string) (Tick, error) {
	raw = strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(raw, scheduledPrefix); ok {
		rest = strings.TrimSpace(rest)
		at, err := time.Parse(time.RFC3339Nano, rest)
		if err != nil {
			if at, err = time.Parse(codec.TimeLayout, rest); err != nil {
				return Tick{}, errs.Invalid("tick.parse", "bad scheduled instant %q", rest)
			}
		}
		return Tick{Scheduled: true, At: at}, nil
	}
	if err := ValidateInterval(raw); err != nil {
		return Tick{}, err
	}
	return Tick{Interval: raw}, nil
}

// ValidateInterval accepts cron expressions and "every-<duration>" with a whole number of seconds.
func ValidateInterval(iv string) error {
	if rest, ok := strings.CutPrefix(iv, everyPrefix); ok {
		d, err := time.ParseDuration(rest)
		if err != nil || d < time.Second || d%time.Second != 0 {
			return errs.Invalid("interval.validate", "bad interval %q", iv)
		}
		return nil
	}
	return ValidateCron(iv)
}

// Due reports whether interval iv fires at t.
func Due(t time.Time, iv string) bool {
	if rest, ok := strings.CutPrefix(iv, everyPrefix); ok {
		d, err := time.ParseDuration(rest)
		if err != nil || d < time.Second {
			return false
		}
		return t.Unix()%int64(d/time.Second) == 0
	}
	return Matches(t, iv)
}
