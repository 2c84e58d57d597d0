package utils

import (
	"math"
	"time"

	"strictHabitAPI/internal/types/calendar"
	"strictHabitAPI/internal/types/challenge"
)

const day = 24 * time.Hour

// ComputeProgress derives the day grid of a challenge. Day N is completed when
// N <= CompletedDays, missed when it lies before today without credit, and
// today's cell is always shown as today.
func ComputeProgress(c challenge.Challenge, now time.Time, loc *time.Location) calendar.Progress {
	if loc == nil {
		loc = time.UTC
	}

	var daysPassed uint64
	if elapsed := now.Sub(c.StartTime); elapsed > 0 {
		daysPassed = uint64(elapsed / day)
	}

	p := calendar.Progress{
		DaysPassed: daysPassed,
		EndDate:    c.StartTime.Add(time.Duration(c.TargetDays) * day).In(loc),
		Days:       make([]*calendar.CalendarDay, 0, c.TargetDays),
	}
	if c.TargetDays > daysPassed {
		p.DaysLeft = c.TargetDays - daysPassed
	}
	if c.TargetDays > 0 {
		pct := float64(c.CompletedDays) / float64(c.TargetDays) * 100
		p.CompletionPercent = math.Min(100, math.Round(pct*100)/100)
	}

	current := daysPassed + 1
	for n := uint64(1); n <= c.TargetDays; n++ {
		state := calendar.DayUpcoming
		switch {
		case n == current:
			state = calendar.DayToday
		case n <= c.CompletedDays:
			state = calendar.DayCompleted
		case n < current:
			state = calendar.DayMissed
		}
		p.Days = append(p.Days, &calendar.CalendarDay{
			Day:   int(n),
			Date:  c.StartTime.Add(time.Duration(n-1) * day).In(loc),
			State: state,
		})
	}
	return p
}
