package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jonboulle/clockwork"

	"campus-event-pipeline/internal/config"
	"campus-event-pipeline/internal/geo"
	"campus-event-pipeline/internal/models"
	"campus-event-pipeline/internal/store"
)

const uniqueViolation = "23505"

// ScanRequest carries one credential scan.
type ScanRequest struct {
	Token      string          `json:"token"`
	ScannedBy  string          `json:"scanned_by"`
	Reference  *geo.Coordinate `json:"reference,omitempty"`
	Candidate  *geo.Coordinate `json:"candidate,omitempty"`
	ToleranceM int             `json:"tolerance_m,omitempty"` // optional override
	DeviceInfo string          `json:"device_info,omitempty"`
	IPAddress  string          `json:"ip_address,omitempty"`
}

// Result reports a committed check-in.
type Result struct {
	AttendanceID string    `json:"attendance_id"`
	WorkflowID   string    `json:"workflow_id"`
	Stage        string    `json:"stage"`
	DistanceM    *int      `json:"distance_m,omitempty"`
	CheckedInAt  time.Time `json:"checked_in_at"`
}

// Service converts a scanned credential into a validated check-in.
type Service struct {
	store *store.Store
	cfg   config.Config
	clock clockwork.Clock
}

func NewService(st *store.Store, cfg config.Config, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{store: st, cfg: cfg, clock: clock}
}

// Scan runs the guard chain and, when every guard passes, commits the
// attendance record, workflow upsert, scan-log entry and credential counter
// bump as a single transaction. A *Rejection error means nothing was mutated.
func (s *Service) Scan(ctx context.Context, req ScanRequest) (Result, error) {
	if req.Token == "" {
		return Result{}, reject(CodeNotFound, "token is required")
	}

	cred, err := s.store.GetCredentialByToken(ctx, req.Token)
	if errors.Is(err, store.ErrNotFound) {
		return Result{}, reject(CodeNotFound, "credential not found or inactive")
	}
	if err != nil {
		return Result{}, err
	}
	if cred.EventID == nil {
		return Result{}, reject(CodeNotFound, "credential is not a check-in credential")
	}

	event, err := s.store.GetEvent(ctx, *cred.EventID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{}, reject(CodeNotFound, "event no longer exists")
	}
	if err != nil {
		return Result{}, err
	}

	now := s.clock.Now().UTC()
	today := civilDate(now)

	registered, err := s.store.HasActiveRegistration(ctx, cred.PersonID, event.ID)
	if err != nil {
		return Result{}, err
	}
	already, err := s.store.HasValidatedAttendance(ctx, cred.PersonID, event.ID, today)
	if err != nil {
		return Result{}, err
	}

	verdict, rej := evaluateGuards(guardInput{
		Credential:   cred,
		Window:       EventWindow(event, s.cfg.CheckinBeforeMin, s.cfg.CheckinDuringMin),
		Now:          now,
		Registered:   registered,
		AlreadyToday: already,
		Reference:    referenceFor(req, event),
		Candidate:    req.Candidate,
		ToleranceM:   s.tolerance(req, event),
	})
	if rej != nil {
		return Result{}, rej
	}

	return s.commit(ctx, cred, event, req, verdict, now, today)
}

// referenceFor picks the proximity reference point: an explicit one from the
// scanning device wins, otherwise the event's stored coordinates.
func referenceFor(req ScanRequest, event models.Event) *geo.Coordinate {
	if req.Reference != nil {
		return req.Reference
	}
	if event.Latitude != nil && event.Longitude != nil {
		return &geo.Coordinate{Latitude: *event.Latitude, Longitude: *event.Longitude}
	}
	return nil
}

func (s *Service) tolerance(req ScanRequest, event models.Event) int {
	if req.ToleranceM > 0 {
		return req.ToleranceM
	}
	if event.ProximityToleranceM > 0 {
		return event.ProximityToleranceM
	}
	return s.cfg.ProximityToleranceM
}

// commit applies the state change atomically. The credential counter uses an
// increment-on-claim guarded by the ceiling, and the partial unique index on
// validated attendance serializes concurrent same-day scans: the loser rolls
// back and surfaces the duplicate rejection.
func (s *Service) commit(ctx context.Context, cred models.Credential, event models.Event, req ScanRequest, verdict *geo.Verdict, now, today time.Time) (Result, error) {
	tx, err := s.store.Pool().BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Result{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	tag, err := tx.Exec(ctx, `
		UPDATE credentials
		SET scan_count = scan_count + 1, last_scanned_at = $2
		WHERE id = $1 AND active AND scan_count < max_scans
	`, cred.ID, now)
	if err != nil {
		return Result{}, fmt.Errorf("increment scan count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Result{}, reject(CodeScanLimitReached, "credential scan limit reached")
	}

	attendanceID := uuid.New().String()
	_, err = tx.Exec(ctx, `
		INSERT INTO attendance_records (id, person_id, event_id, checked_in_at, checkin_date, validated, validated_by, method)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, 'qr_scan')
	`, attendanceID, cred.PersonID, event.ID, now, today, req.ScannedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return Result{}, reject(CodeAlreadyCheckedIn, "you are already checked in today")
		}
		return Result{}, fmt.Errorf("insert attendance: %w", err)
	}

	var workflowID, stage string
	err = tx.QueryRow(ctx, `
		INSERT INTO workflow_records (id, person_id, event_id, stage, attendance_id, checked_in_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (person_id, event_id) DO UPDATE
		SET attendance_id = COALESCE(workflow_records.attendance_id, EXCLUDED.attendance_id),
		    checked_in_at = COALESCE(workflow_records.checked_in_at, EXCLUDED.checked_in_at),
		    updated_at = NOW()
		RETURNING id, stage
	`, uuid.New().String(), cred.PersonID, event.ID, models.StageCheckedIn, attendanceID, now).Scan(&workflowID, &stage)
	if err != nil {
		return Result{}, fmt.Errorf("upsert workflow: %w", err)
	}

	var distance *int
	locationChecked := false
	if verdict != nil {
		d := verdict.DistanceM
		distance = &d
		locationChecked = true
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO scan_logs (id, credential_id, person_id, event_id, scanned_by, distance_m, location_checked, device_info, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, uuid.New().String(), cred.ID, cred.PersonID, event.ID, req.ScannedBy, distance, locationChecked, req.DeviceInfo, req.IPAddress, now)
	if err != nil {
		return Result{}, fmt.Errorf("insert scan log: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("commit: %w", err)
	}

	return Result{
		AttendanceID: attendanceID,
		WorkflowID:   workflowID,
		Stage:        stage,
		DistanceM:    distance,
		CheckedInAt:  now,
	}, nil
}

// CompleteSurvey advances the workflow to survey_completed after the survey
// subsystem stores a response. The survey CRUD itself lives outside this
// service.
func (s *Service) CompleteSurvey(ctx context.Context, personID, eventID, responseID string) error {
	err := s.store.AdvanceWorkflowSurvey(ctx, personID, eventID, responseID)
	if errors.Is(err, store.ErrNotFound) {
		return reject(CodeNotFound, "no check-in on record for this event")
	}
	return err
}

func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
