package checkin

import (
	"time"

	"campus-event-pipeline/internal/models"
)

// Window is the interval during which a check-in is accepted, both bounds
// inclusive. It opens beforeMin minutes before event start and closes
// duringMin minutes after; the two graces are configured independently.
type Window struct {
	OpensAt  time.Time `json:"opens_at"`
	ClosesAt time.Time `json:"closes_at"`
}

// EventWindow derives the window for an event, falling back to the supplied
// defaults when the event does not set its own minutes.
func EventWindow(e models.Event, defaultBeforeMin, defaultDuringMin int) Window {
	before := e.CheckinBeforeMin
	if before <= 0 {
		before = defaultBeforeMin
	}
	during := e.CheckinDuringMin
	if during <= 0 {
		during = defaultDuringMin
	}
	return Window{
		OpensAt:  e.StartsAt.Add(-time.Duration(before) * time.Minute),
		ClosesAt: e.StartsAt.Add(time.Duration(during) * time.Minute),
	}
}

// Contains reports whether t falls inside the window, boundaries included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.OpensAt) && !t.After(w.ClosesAt)
}
