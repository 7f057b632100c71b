package model

import (
	"math"
	"time"

	"github.com/rotisserie/eris"
)

// Calendar numbers campaign weeks. Week 1 begins on the Monday of the
// campaign start date; weeks before it are zero or negative.
type Calendar struct {
	start time.Time
	loc   *time.Location
}

// NewCalendar builds a calendar from a YYYY-MM-DD start date in the named
// IANA timezone.
func NewCalendar(start, timezone string) (*Calendar, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "model: load timezone %q", timezone)
	}
	d, err := time.ParseInLocation(time.DateOnly, start, loc)
	if err != nil {
		return nil, eris.Wrapf(err, "model: parse campaign start %q", start)
	}
	return &Calendar{start: mondayOf(d), loc: loc}, nil
}

// Location is the campaign timezone.
func (c *Calendar) Location() *time.Location { return c.loc }

// Date returns the calendar date of t in the campaign timezone, at midnight.
func (c *Calendar) Date(t time.Time) time.Time {
	t = t.In(c.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
}

// MondayOf returns midnight of the Monday starting t's week.
func (c *Calendar) MondayOf(t time.Time) time.Time {
	return mondayOf(c.Date(t))
}

// WeekNum returns the campaign week containing t.
func (c *Calendar) WeekNum(t time.Time) int {
	days := daysBetween(c.start, c.MondayOf(t))
	return int(math.Floor(float64(days)/7)) + 1
}

// Monday returns midnight of the first day of the given week.
func (c *Calendar) Monday(week int) time.Time {
	return c.start.AddDate(0, 0, (week-1)*7)
}

// Window returns the half-open interval [Monday, next Monday) of a week.
func (c *Calendar) Window(week int) (time.Time, time.Time) {
	from := c.Monday(week)
	return from, from.AddDate(0, 0, 7)
}

func mondayOf(d time.Time) time.Time {
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

// daysBetween counts calendar days from a to b; both are local midnights,
// so rounding absorbs DST shifts.
func daysBetween(a, b time.Time) int {
	return int(math.Round(b.Sub(a).Hours() / 24))
}
