// Package recurrence models the schedule of a banking automation.
//
// A Rule is one of Daily, Weekly, Biweekly, Monthly or LastDayOfMonth, each
// carrying an execution time. Fields are unexported so a Rule can only be
// built through the constructors and invalid combinations (a daily rule
// with a weekday, a monthly rule on day 40) cannot exist.
package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Frequency string

const (
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
)

// LastDay is the persisted day-of-month sentinel for "last day of month".
const LastDay = -1

const day = 24 * time.Hour

var (
	ErrInvalidRule = errors.New("invalid recurrence rule")
	ErrInvalidTime = errors.New("invalid execution time")
)

// DefaultExecutionTime is used when a rule is stored without one.
var DefaultExecutionTime = TimeOfDay{Hour: 7}

type TimeOfDay struct {
	Hour   int
	Minute int
}

func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return TimeOfDay{}, ErrInvalidTime
	}
	if len(mm) > 2 {
		// accept HH:MM:SS as written by postgres TIME columns
		mm = mm[:2]
	}
	hour, err := strconv.Atoi(hh)
	if err != nil {
		return TimeOfDay{}, ErrInvalidTime
	}
	minute, err := strconv.Atoi(mm)
	if err != nil {
		return TimeOfDay{}, ErrInvalidTime
	}
	t := TimeOfDay{Hour: hour, Minute: minute}
	if !t.valid() {
		return TimeOfDay{}, ErrInvalidTime
	}
	return t, nil
}

func (t TimeOfDay) valid() bool {
	return t.Hour >= 0 && t.Hour < 24 && t.Minute >= 0 && t.Minute < 60
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeOfDay) on(year int, month time.Month, dayOfMonth int) time.Time {
	return time.Date(year, month, dayOfMonth, t.Hour, t.Minute, 0, 0, time.UTC)
}

type Rule struct {
	frequency  Frequency
	at         TimeOfDay
	weekday    time.Weekday
	dayOfMonth int
}

func Daily(at TimeOfDay) (Rule, error) {
	return build(Rule{frequency: FrequencyDaily, at: at})
}

func Weekly(weekday time.Weekday, at TimeOfDay) (Rule, error) {
	return build(Rule{frequency: FrequencyWeekly, at: at, weekday: weekday})
}

func Biweekly(weekday time.Weekday, at TimeOfDay) (Rule, error) {
	return build(Rule{frequency: FrequencyBiweekly, at: at, weekday: weekday})
}

// Monthly fires on dayOfMonth, clamped to the length of shorter months.
func Monthly(dayOfMonth int, at TimeOfDay) (Rule, error) {
	return build(Rule{frequency: FrequencyMonthly, at: at, dayOfMonth: dayOfMonth})
}

func LastDayOfMonth(at TimeOfDay) (Rule, error) {
	return build(Rule{frequency: FrequencyMonthly, at: at, dayOfMonth: LastDay})
}

func build(r Rule) (Rule, error) {
	if !r.at.valid() {
		return Rule{}, ErrInvalidTime
	}
	switch r.frequency {
	case FrequencyDaily:
	case FrequencyWeekly, FrequencyBiweekly:
		if r.weekday < time.Sunday || r.weekday > time.Saturday {
			return Rule{}, fmt.Errorf("%w: day of week %d", ErrInvalidRule, r.weekday)
		}
	case FrequencyMonthly:
		if r.dayOfMonth != LastDay && (r.dayOfMonth < 1 || r.dayOfMonth > 31) {
			return Rule{}, fmt.Errorf("%w: day of month %d", ErrInvalidRule, r.dayOfMonth)
		}
	default:
		return Rule{}, fmt.Errorf("%w: frequency %q", ErrInvalidRule, r.frequency)
	}
	return r, nil
}

// FromParts rebuilds a rule from its persisted columns. Missing details
// take the historical defaults: 07:00, Saturday, last day of month.
func FromParts(frequency, executionTime string, dayOfWeek, dayOfMonth *int) (Rule, error) {
	at := DefaultExecutionTime
	if strings.TrimSpace(executionTime) != "" {
		parsed, err := ParseTimeOfDay(executionTime)
		if err != nil {
			return Rule{}, err
		}
		at = parsed
	}
	switch Frequency(strings.ToLower(strings.TrimSpace(frequency))) {
	case FrequencyDaily:
		return Daily(at)
	case FrequencyWeekly:
		return Weekly(weekdayOr(dayOfWeek), at)
	case FrequencyBiweekly:
		return Biweekly(weekdayOr(dayOfWeek), at)
	case FrequencyMonthly:
		if dayOfMonth == nil || *dayOfMonth == LastDay {
			return LastDayOfMonth(at)
		}
		return Monthly(*dayOfMonth, at)
	default:
		return Rule{}, fmt.Errorf("%w: frequency %q", ErrInvalidRule, frequency)
	}
}

func weekdayOr(dayOfWeek *int) time.Weekday {
	if dayOfWeek == nil {
		return time.Saturday
	}
	return time.Weekday(*dayOfWeek)
}

func (r Rule) IsZero() bool {
	return r.frequency == ""
}

func (r Rule) Frequency() Frequency {
	return r.frequency
}

func (r Rule) ExecutionTime() TimeOfDay {
	return r.at
}

func (r Rule) DayOfWeek() (time.Weekday, bool) {
	if r.frequency != FrequencyWeekly && r.frequency != FrequencyBiweekly {
		return 0, false
	}
	return r.weekday, true
}

// DayOfMonth returns LastDay for last-day-of-month rules.
func (r Rule) DayOfMonth() (int, bool) {
	if r.frequency != FrequencyMonthly {
		return 0, false
	}
	return r.dayOfMonth, true
}

func (r Rule) minimumGap() time.Duration {
	switch r.frequency {
	case FrequencyWeekly:
		return 7 * day
	case FrequencyBiweekly:
		return 14 * day
	default:
		return 0
	}
}

// Next returns the first firing time after anchor. All arithmetic is in
// UTC. Weekly and biweekly results are at least 7 and 14 days after the
// anchor; the zero Rule returns the zero time.
func (r Rule) Next(anchor time.Time) time.Time {
	anchor = anchor.UTC()
	y, m, d := anchor.Date()

	switch r.frequency {
	case FrequencyDaily:
		return r.at.on(y, m, d+1)

	case FrequencyWeekly, FrequencyBiweekly:
		ahead := (int(r.weekday) - int(anchor.Weekday()) + 7) % 7
		if ahead == 0 {
			ahead = 7
		}
		next := r.at.on(y, m, d+ahead)
		for next.Sub(anchor) < r.minimumGap() {
			next = next.AddDate(0, 0, 7)
		}
		return next

	case FrequencyMonthly:
		target := m + 1
		last := daysIn(y, target)
		dom := r.dayOfMonth
		if dom == LastDay || dom > last {
			dom = last
		}
		return r.at.on(y, target, dom)
	}
	return time.Time{}
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func (r Rule) String() string {
	switch r.frequency {
	case FrequencyWeekly, FrequencyBiweekly:
		return fmt.Sprintf("%s on %s at %s", r.frequency, r.weekday, r.at)
	case FrequencyMonthly:
		if r.dayOfMonth == LastDay {
			return fmt.Sprintf("monthly on the last day at %s", r.at)
		}
		return fmt.Sprintf("monthly on day %d at %s", r.dayOfMonth, r.at)
	case FrequencyDaily:
		return fmt.Sprintf("daily at %s", r.at)
	}
	return "none"
}
