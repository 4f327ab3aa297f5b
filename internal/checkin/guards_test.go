package checkin

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-event-pipeline/internal/geo"
	"campus-event-pipeline/internal/models"
)

func eventStartingAt(start time.Time) models.Event {
	return models.Event{
		ID:               "evt-1",
		Title:            "Systems Seminar",
		StartsAt:         start,
		CheckinBeforeMin: 30,
		CheckinDuringMin: 60,
	}
}

func activeCredential() models.Credential {
	eventID := "evt-1"
	return models.Credential{
		ID:       "cred-1",
		Token:    "tok-1",
		PersonID: "person-1",
		EventID:  &eventID,
		Active:   true,
		MaxScans: 10,
	}
}

func baseInput(now time.Time) guardInput {
	e := eventStartingAt(now)
	return guardInput{
		Credential:   activeCredential(),
		Window:       EventWindow(e, 60, 120),
		Now:          now,
		Registered:   true,
		AlreadyToday: false,
		ToleranceM:   50,
	}
}

func TestWindowBoundaryInclusive(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC))
	start := clock.Now()
	event := eventStartingAt(start)
	w := EventWindow(event, 60, 120)

	require.Equal(t, start.Add(-30*time.Minute), w.OpensAt)
	require.Equal(t, start.Add(60*time.Minute), w.ClosesAt)

	tests := []struct {
		name string
		at   time.Time
		code string // empty means accepted
	}{
		{"exactly at open", w.OpensAt, ""},
		{"one minute early", w.OpensAt.Add(-time.Minute), CodeWindowNotOpen},
		{"exactly at close", w.ClosesAt, ""},
		{"one minute late", w.ClosesAt.Add(time.Minute), CodeWindowClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := baseInput(start)
			in.Now = tt.at
			_, rej := evaluateGuards(in)
			if tt.code == "" {
				assert.Nil(t, rej)
			} else {
				require.NotNil(t, rej)
				assert.Equal(t, tt.code, rej.Code)
			}
		})
	}
}

func TestWindowRejectionReportsOppositeBoundary(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	in := baseInput(now)

	in.Now = in.Window.OpensAt.Add(-time.Hour)
	_, rej := evaluateGuards(in)
	require.NotNil(t, rej)
	assert.Equal(t, in.Window.OpensAt.UTC(), rej.Details["opens_at"])

	in.Now = in.Window.ClosesAt.Add(time.Hour)
	_, rej = evaluateGuards(in)
	require.NotNil(t, rej)
	assert.Equal(t, in.Window.ClosesAt.UTC(), rej.Details["closed_at"])
}

func TestGuardOrderAndCodes(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	t.Run("inactive credential", func(t *testing.T) {
		in := baseInput(now)
		in.Credential.Active = false
		_, rej := evaluateGuards(in)
		require.NotNil(t, rej)
		assert.Equal(t, CodeNotFound, rej.Code)
	})

	t.Run("profile credential without event", func(t *testing.T) {
		in := baseInput(now)
		in.Credential.EventID = nil
		_, rej := evaluateGuards(in)
		require.NotNil(t, rej)
		assert.Equal(t, CodeNotFound, rej.Code)
	})

	t.Run("scan ceiling reached", func(t *testing.T) {
		in := baseInput(now)
		in.Credential.ScanCount = 10
		_, rej := evaluateGuards(in)
		require.NotNil(t, rej)
		assert.Equal(t, CodeScanLimitReached, rej.Code)
	})

	t.Run("not registered", func(t *testing.T) {
		in := baseInput(now)
		in.Registered = false
		_, rej := evaluateGuards(in)
		require.NotNil(t, rej)
		assert.Equal(t, CodeNotRegistered, rej.Code)
	})

	t.Run("duplicate same-day check-in", func(t *testing.T) {
		in := baseInput(now)
		in.AlreadyToday = true
		_, rej := evaluateGuards(in)
		require.NotNil(t, rej)
		assert.Equal(t, CodeAlreadyCheckedIn, rej.Code)
	})

	t.Run("registration check precedes duplicate check", func(t *testing.T) {
		in := baseInput(now)
		in.Registered = false
		in.AlreadyToday = true
		_, rej := evaluateGuards(in)
		require.NotNil(t, rej)
		assert.Equal(t, CodeNotRegistered, rej.Code)
	})
}

func TestProximityGuard(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	t.Run("not required skips validation", func(t *testing.T) {
		in := baseInput(now)
		verdict, rej := evaluateGuards(in)
		assert.Nil(t, rej)
		assert.Nil(t, verdict)
	})

	t.Run("missing candidate coordinate", func(t *testing.T) {
		in := baseInput(now)
		in.Credential.RequireLocation = true
		in.Reference = &geo.Coordinate{Latitude: 0, Longitude: 0}
		_, rej := evaluateGuards(in)
		require.NotNil(t, rej)
		assert.Equal(t, CodeLocationRequired, rej.Code)
	})

	t.Run("within tolerance", func(t *testing.T) {
		in := baseInput(now)
		in.Credential.RequireLocation = true
		in.Reference = &geo.Coordinate{Latitude: 0, Longitude: 0}
		in.Candidate = &geo.Coordinate{Latitude: 0, Longitude: 0.00045}
		verdict, rej := evaluateGuards(in)
		assert.Nil(t, rej)
		require.NotNil(t, verdict)
		assert.Equal(t, 50, verdict.DistanceM)
	})

	t.Run("out of range", func(t *testing.T) {
		in := baseInput(now)
		in.Credential.RequireLocation = true
		in.ToleranceM = 49
		in.Reference = &geo.Coordinate{Latitude: 0, Longitude: 0}
		in.Candidate = &geo.Coordinate{Latitude: 0, Longitude: 0.00045}
		_, rej := evaluateGuards(in)
		require.NotNil(t, rej)
		assert.Equal(t, CodeOutOfRange, rej.Code)
		assert.Equal(t, 50, rej.Details["distance_m"])
	})
}

func TestReferenceFor(t *testing.T) {
	lat, lon := 48.858, 2.294
	event := models.Event{ID: "evt-1", Latitude: &lat, Longitude: &lon}

	t.Run("explicit reference wins", func(t *testing.T) {
		req := ScanRequest{Reference: &geo.Coordinate{Latitude: 1, Longitude: 2}}
		ref := referenceFor(req, event)
		require.NotNil(t, ref)
		assert.Equal(t, 1.0, ref.Latitude)
	})

	t.Run("falls back to event coordinates", func(t *testing.T) {
		ref := referenceFor(ScanRequest{}, event)
		require.NotNil(t, ref)
		assert.Equal(t, lat, ref.Latitude)
		assert.Equal(t, lon, ref.Longitude)
	})

	t.Run("nil when neither side has a location", func(t *testing.T) {
		assert.Nil(t, referenceFor(ScanRequest{}, models.Event{ID: "evt-2"}))
	})
}
