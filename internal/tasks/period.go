package tasks

import (
	"fmt"
	"time"

	"github.com/soyeahso/dialtask/internal/store"
)

// Period is a named query window for task lookups.
type Period string

const (
	Today    Period = "today"
	Tomorrow Period = "tomorrow"
	Week     Period = "week"
)

// Periods lists the accepted values in schema order.
var Periods = []Period{Today, Tomorrow, Week}

// ParsePeriod validates a period name.
func ParsePeriod(s string) (Period, error) {
	for _, p := range Periods {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown period %q", s)
}

// Spoken is how the period is read out to a caller.
func (p Period) Spoken() string {
	if p == Week {
		return "this week"
	}
	return string(p)
}

// Window returns the inclusive first and last calendar day of the period
// relative to now. Weeks run Monday through Sunday.
func (p Period) Window(now time.Time) (from, to time.Time) {
	today := store.Day(now)
	switch p {
	case Tomorrow:
		d := today.AddDate(0, 0, 1)
		return d, d
	case Week:
		offset := (int(today.Weekday()) + 6) % 7 // days since Monday
		monday := today.AddDate(0, 0, -offset)
		return monday, monday.AddDate(0, 0, 6)
	}
	return today, today
}

// ForDigit maps a keypad digit to its period: 1 today, 2 tomorrow, 3 this
// week.
func ForDigit(digit int) (Period, bool) {
	switch digit {
	case 1:
		return Today, true
	case 2:
		return Tomorrow, true
	case 3:
		return Week, true
	}
	return "", false
}
