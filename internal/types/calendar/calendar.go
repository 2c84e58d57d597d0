package calendar

import "time"

type DayState string

const (
	DayCompleted DayState = "completed"
	DayMissed    DayState = "missed"
	DayToday     DayState = "today"
	DayUpcoming  DayState = "upcoming"
)

type CalendarDay struct {
	Day   int       `json:"day"`
	Date  time.Time `json:"date"`
	State DayState  `json:"state"`
}

// Progress is the derived view of one challenge at a point in time.
type Progress struct {
	DaysPassed        uint64         `json:"days_passed"`
	DaysLeft          uint64         `json:"days_left"`
	CompletionPercent float64        `json:"completion_percent"`
	EndDate           time.Time      `json:"end_date"`
	Days              []*CalendarDay `json:"days"`
}
