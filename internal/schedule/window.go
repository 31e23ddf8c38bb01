package schedule

import (
	"fmt"
	"time"
)

var weekdayNames = map[string]time.Weekday{
	"Sunday":    time.Sunday,
	"Monday":    time.Monday,
	"Tuesday":   time.Tuesday,
	"Wednesday": time.Wednesday,
	"Thursday":  time.Thursday,
	"Friday":    time.Friday,
	"Saturday":  time.Saturday,
}

// ValidWeekday reports whether name is one of the seven English day names.
func ValidWeekday(name string) bool {
	_, ok := weekdayNames[name]
	return ok
}

// ParseClock converts "HH:MM" (or "HH:MM:SS", seconds ignored) to minutes
// since midnight.
func ParseClock(s string) (int, error) {
	var h, m, sec int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
		if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
			return 0, fmt.Errorf("%w %q", ErrBadClock, s)
		}
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w %q", ErrBadClock, s)
	}
	return h*60 + m, nil
}

// FormatClock renders minutes since midnight as "HH:MM".
func FormatClock(min int) string {
	return fmt.Sprintf("%02d:%02d", min/60, min%60)
}

// MinutesOfDay returns t's time-of-day in minutes since midnight.
func MinutesOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// ActiveAt reports whether the course session is running at t: the weekday
// matches and the half-open window [start, end) contains t's time-of-day.
func (c Course) ActiveAt(t time.Time) bool {
	if c.Weekday != t.Weekday().String() {
		return false
	}
	m := MinutesOfDay(t)
	return m >= c.StartMin && m < c.EndMin
}

// EndedBy reports whether the session window has closed by t on t's day.
func (c Course) EndedBy(t time.Time) bool {
	return c.Weekday == t.Weekday().String() && MinutesOfDay(t) >= c.EndMin
}
