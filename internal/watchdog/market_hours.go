// Package watchdog runs the monitoring loop: price polling, daily ATR
// refresh, hourly momentum checks, broker reconciliation, and handing exit
// decisions to the dispatcher.
package watchdog

import (
	"time"
)

// Calendar answers whether the NSE cash session is live. Regular session
// only; exchange holidays are handled by the broker rejecting orders, not
// tracked here.
type Calendar struct {
	loc *time.Location
}

// NewCalendar loads the exchange timezone.
func NewCalendar() (*Calendar, error) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		return nil, err
	}
	return &Calendar{loc: loc}, nil
}

// IsOpen reports whether t falls inside the 09:15-15:30 IST weekday session.
func (c *Calendar) IsOpen(t time.Time) bool {
	local := t.In(c.loc)

	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	open := time.Date(local.Year(), local.Month(), local.Day(), 9, 15, 0, 0, c.loc)
	close := time.Date(local.Year(), local.Month(), local.Day(), 15, 30, 0, 0, c.loc)
	return !local.Before(open) && !local.After(close)
}

// SameSession reports whether a and b fall on the same exchange trading day.
// Used to run the daily ATR refresh at most once per session per position.
func (c *Calendar) SameSession(a, b time.Time) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	la, lb := a.In(c.loc), b.In(c.loc)
	return la.Year() == lb.Year() && la.YearDay() == lb.YearDay()
}

// CurrentHour truncates t to the exchange-local hour, the bucket the hourly
// VSR check keys on.
func (c *Calendar) CurrentHour(t time.Time) time.Time {
	return t.In(c.loc).Truncate(time.Hour)
}
