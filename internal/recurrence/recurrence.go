// Package recurrence parses the calendar-naive interval specs used by job stages.
//
// A spec is written month:day:hour:minute:second, e.g. "00:00:00:00:30" for every
// thirty seconds. Months count as 30 days; no calendar arithmetic is performed.
package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalid is wrapped by every Parse failure.
var ErrInvalid = errors.New("invalid recurrence")

const (
	secondsPerMinute = 60
	secondsPerHour   = 60 * secondsPerMinute
	secondsPerDay    = 24 * secondsPerHour
	secondsPerMonth  = 30 * secondsPerDay

	fieldCount = 5
)

var fieldNames = [fieldCount]string{"month", "day", "hour", "minute", "second"}

// Spec is the minimum spacing between two runs of a stage.
type Spec struct {
	Months  uint8
	Days    uint8
	Hours   uint8
	Minutes uint8
	Seconds uint8
}

// Parse reads "MM:DD:HH:MM:SS". Exactly five integer fields in [0,255] are required.
func Parse(text string) (Spec, error) {
	parts := strings.Split(strings.TrimSpace(text), ":")
	if len(parts) != fieldCount {
		return Spec{}, fmt.Errorf("%w %q: want %d colon-separated fields, got %d", ErrInvalid, text, fieldCount, len(parts))
	}
	var vals [fieldCount]uint8
	for i, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return Spec{}, fmt.Errorf("%w %q: %s field %q is not an integer in [0,255]", ErrInvalid, text, fieldNames[i], p)
		}
		vals[i] = uint8(n)
	}
	return Spec{Months: vals[0], Days: vals[1], Hours: vals[2], Minutes: vals[3], Seconds: vals[4]}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(text string) Spec {
	s, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return s
}

// TotalSeconds returns the interval length in seconds.
func (s Spec) TotalSeconds() uint64 {
	return uint64(s.Months)*secondsPerMonth +
		uint64(s.Days)*secondsPerDay +
		uint64(s.Hours)*secondsPerHour +
		uint64(s.Minutes)*secondsPerMinute +
		uint64(s.Seconds)
}

func (s Spec) Duration() time.Duration {
	return time.Duration(s.TotalSeconds()) * time.Second
}

// Due reports whether a stage last run at lastRun (epoch seconds, 0 = never)
// may run again at now.
func (s Spec) Due(lastRun, now int64) bool {
	return lastRun+int64(s.TotalSeconds()) <= now
}

func (s Spec) String() string {
	return fmt.Sprintf("%02d:%02d:%02d:%02d:%02d", s.Months, s.Days, s.Hours, s.Minutes, s.Seconds)
}

// Granularity predicates. They are informational; scheduling never branches on them.

func (s Spec) SecondsOnly() bool {
	return s.Months == 0 && s.Days == 0 && s.Hours == 0 && s.Minutes == 0
}

func (s Spec) MinutesOnly() bool { return s.Months == 0 && s.Days == 0 && s.Hours == 0 }

func (s Spec) HoursOnly() bool { return s.Months == 0 && s.Days == 0 }

func (s Spec) DaysOnly() bool { return s.Months == 0 }

// MonthsOnly reports whether the day field is unset.
func (s Spec) MonthsOnly() bool { return s.Days == 0 }
