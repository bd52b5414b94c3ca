package policy

import (
	"fmt"
	"strings"
	"time"
)

// ConditionKind tags the condition union.
type ConditionKind string

const (
	// ConditionTimeWindow permits only inside an [start, end] clock window.
	// start > end means the window wraps midnight.
	ConditionTimeWindow ConditionKind = "time_window"

	// ConditionDayOfWeek permits only on the listed weekdays.
	ConditionDayOfWeek ConditionKind = "day_of_week"

	// ConditionMaxPerDay denies once the entity's entry count for the
	// current day reaches the configured maximum.
	ConditionMaxPerDay ConditionKind = "max_per_day"

	// ConditionRequireAuth denies unless the request carries a prior
	// authorization.
	ConditionRequireAuth ConditionKind = "require_authorization"

	// ConditionDenyList denies when the entity or the request is
	// deny-listed.
	ConditionDenyList ConditionKind = "deny_list"

	// ConditionComposite groups sub-conditions; it blocks when any member
	// blocks.
	ConditionComposite ConditionKind = "composite"
)

// Condition is the tagged union of policy condition kinds. Only the fields
// for the tagged kind are meaningful; Validate rejects conditions whose
// required fields are missing.
type Condition struct {
	Kind ConditionKind `json:"kind" yaml:"kind"`

	// Start and End are "HH:MM" clock times for time_window.
	Start string `json:"start,omitempty" yaml:"start,omitempty"`
	End   string `json:"end,omitempty" yaml:"end,omitempty"`

	// Days are lowercase weekday names for day_of_week.
	Days []string `json:"days,omitempty" yaml:"days,omitempty"`

	// Max is the entry limit for max_per_day.
	Max int `json:"max,omitempty" yaml:"max,omitempty"`

	// All are the members of a composite condition.
	All []Condition `json:"all,omitempty" yaml:"all,omitempty"`
}

// Validate checks the condition has a known kind and the sub-fields that
// kind requires. A failing condition yields a MalformedConditionError and
// is skipped by the engine rather than evaluated.
func (c *Condition) Validate() error {
	switch c.Kind {
	case ConditionTimeWindow:
		if _, err := ParseClock(c.Start); err != nil {
			return NewMalformedConditionError(c.Kind, fmt.Sprintf("invalid start %q: %v", c.Start, err))
		}
		if _, err := ParseClock(c.End); err != nil {
			return NewMalformedConditionError(c.Kind, fmt.Sprintf("invalid end %q: %v", c.End, err))
		}
		return nil

	case ConditionDayOfWeek:
		if len(c.Days) == 0 {
			return NewMalformedConditionError(c.Kind, "days must not be empty")
		}
		for _, d := range c.Days {
			if _, err := ParseWeekday(d); err != nil {
				return NewMalformedConditionError(c.Kind, err.Error())
			}
		}
		return nil

	case ConditionMaxPerDay:
		if c.Max <= 0 {
			return NewMalformedConditionError(c.Kind, fmt.Sprintf("max must be positive, got %d", c.Max))
		}
		return nil

	case ConditionRequireAuth, ConditionDenyList:
		return nil

	case ConditionComposite:
		if len(c.All) == 0 {
			return NewMalformedConditionError(c.Kind, "composite must have at least one member")
		}
		for i := range c.All {
			if c.All[i].Kind == ConditionComposite {
				return NewMalformedConditionError(c.Kind, "composite conditions cannot nest")
			}
			if err := c.All[i].Validate(); err != nil {
				return err
			}
		}
		return nil

	default:
		return NewMalformedConditionError(c.Kind, "unknown condition kind")
	}
}

// Clock is a minute-of-day value derived from an "HH:MM" string.
type Clock int

// ParseClock parses an "HH:MM" string into minutes since midnight.
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return Clock(t.Hour()*60 + t.Minute()), nil
}

// ClockOf extracts the minute-of-day from a timestamp.
func ClockOf(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}

// InWindow reports whether the clock falls within [start, end]. When
// start > end the window spans midnight and membership becomes
// c >= start OR c <= end.
func (c Clock) InWindow(start, end Clock) bool {
	if start > end {
		return c >= start || c <= end
	}
	return c >= start && c <= end
}

// ParseWeekday parses a lowercase weekday name.
func ParseWeekday(s string) (time.Weekday, error) {
	switch strings.ToLower(s) {
	case "sunday":
		return time.Sunday, nil
	case "monday":
		return time.Monday, nil
	case "tuesday":
		return time.Tuesday, nil
	case "wednesday":
		return time.Wednesday, nil
	case "thursday":
		return time.Thursday, nil
	case "friday":
		return time.Friday, nil
	case "saturday":
		return time.Saturday, nil
	default:
		return 0, fmt.Errorf("unknown weekday %q", s)
	}
}
