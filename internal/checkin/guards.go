package checkin

import (
	"errors"
	"time"

	"campus-event-pipeline/internal/geo"
	"campus-event-pipeline/internal/models"
)

// guardInput is the snapshot of persisted state a scan is judged against.
// Evaluation is pure; the race-prone facts (scan count, daily uniqueness) are
// re-checked inside the commit transaction.
type guardInput struct {
	Credential   models.Credential
	Window       Window
	Now          time.Time
	Registered   bool
	AlreadyToday bool
	Reference    *geo.Coordinate
	Candidate    *geo.Coordinate
	ToleranceM   int
}

// evaluateGuards runs the guard chain in its fixed order and returns the
// first rejection, plus the proximity verdict when location validation ran.
func evaluateGuards(in guardInput) (*geo.Verdict, *Rejection) {
	if !in.Credential.Active {
		return nil, reject(CodeNotFound, "credential not found or inactive")
	}
	if in.Credential.EventID == nil {
		return nil, reject(CodeNotFound, "credential is not a check-in credential")
	}

	if in.Now.Before(in.Window.OpensAt) {
		return nil, rejectWith(CodeWindowNotOpen,
			"check-in opens at "+in.Window.OpensAt.UTC().Format(time.RFC3339),
			map[string]any{"opens_at": in.Window.OpensAt.UTC()})
	}
	if in.Now.After(in.Window.ClosesAt) {
		return nil, rejectWith(CodeWindowClosed,
			"check-in closed at "+in.Window.ClosesAt.UTC().Format(time.RFC3339),
			map[string]any{"closed_at": in.Window.ClosesAt.UTC()})
	}

	if in.Credential.ScanCount >= in.Credential.MaxScans {
		return nil, reject(CodeScanLimitReached, "credential scan limit reached")
	}

	if !in.Registered {
		return nil, reject(CodeNotRegistered, "no active registration for this event")
	}

	if in.AlreadyToday {
		return nil, reject(CodeAlreadyCheckedIn, "you are already checked in today")
	}

	if !in.Credential.RequireLocation {
		return nil, nil
	}

	verdict, err := geo.Validate(in.Reference, in.Candidate, in.ToleranceM)
	if err != nil {
		if errors.Is(err, geo.ErrMissingCoordinate) {
			return nil, reject(CodeLocationRequired, "location is required for this event; enable GPS and retry")
		}
		return nil, reject(CodeLocationRequired, err.Error())
	}
	if !verdict.Valid {
		return &verdict, rejectWith(CodeOutOfRange,
			"you are not close enough to the event location",
			map[string]any{"distance_m": verdict.DistanceM, "tolerance_m": in.ToleranceM})
	}
	return &verdict, nil
}
