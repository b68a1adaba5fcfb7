package timespec

import "time"

// Weekday tokens, in display order. Schedules may additionally use the two
// synthetic tokens below, which defer to an external workday signal.
var Weekdays = []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

const (
	TokenWorkday    = "workday"
	TokenNotWorkday = "not_workday"
)

// WorkdayState is the reported state of the external workday signal.
type WorkdayState string

const (
	WorkdayOn      WorkdayState = "on"
	WorkdayOff     WorkdayState = "off"
	WorkdayUnknown WorkdayState = ""
)

// WeekdayToken maps a time.Weekday to its schedule token.
func WeekdayToken(d time.Weekday) string {
	// time.Weekday starts at Sunday, our tokens start at Monday.
	return Weekdays[(int(d)+6)%7]
}

// DayMatches reports whether the given weekday satisfies a schedule's day
// set. A direct weekday-name match wins; otherwise the workday/not_workday
// tokens match against the external signal state. Without a signal
// (WorkdayUnknown) the synthetic tokens never match. Both tokens may be
// present, in which case either matching suffices.
func DayMatches(day time.Weekday, daySet []string, workday WorkdayState) bool {
	today := WeekdayToken(day)
	for _, token := range daySet {
		if token == today {
			return true
		}
	}
	if workday == WorkdayUnknown {
		return false
	}
	for _, token := range daySet {
		if token == TokenWorkday && workday == WorkdayOn {
			return true
		}
		if token == TokenNotWorkday && workday == WorkdayOff {
			return true
		}
	}
	return false
}
