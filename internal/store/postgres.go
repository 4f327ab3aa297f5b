package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"campus-event-pipeline/internal/models"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("resource not found")

// Store wraps pgxpool for Postgres persistence. The work queue shares the
// same pool via Pool().
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Pool exposes the underlying pool for packages that run their own SQL.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// GetCredentialByToken resolves a scannable token.
func (s *Store) GetCredentialByToken(ctx context.Context, token string) (models.Credential, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, token, person_id, event_id::text, active, scan_count, max_scans, require_location, created_at, last_scanned_at
		FROM credentials WHERE token = $1
	`, token)
	return scanCredential(row)
}

func scanCredential(row pgx.Row) (models.Credential, error) {
	var c models.Credential
	var eventID pgtype.Text
	var lastScanned pgtype.Timestamptz
	err := row.Scan(&c.ID, &c.Token, &c.PersonID, &eventID, &c.Active, &c.ScanCount, &c.MaxScans, &c.RequireLocation, &c.CreatedAt, &lastScanned)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Credential{}, ErrNotFound
	}
	if err != nil {
		return models.Credential{}, fmt.Errorf("scan credential: %w", err)
	}
	if eventID.Valid {
		c.EventID = &eventID.String
	}
	if lastScanned.Valid {
		t := lastScanned.Time
		c.LastScannedAt = &t
	}
	return c, nil
}

// CreateCredential inserts a credential row; token uniqueness is enforced by
// the database.
func (s *Store) CreateCredential(ctx context.Context, c models.Credential) (models.Credential, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.MaxScans == 0 {
		c.MaxScans = 10
	}
	c.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO credentials (id, token, person_id, event_id, active, scan_count, max_scans, require_location, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8)
	`, c.ID, c.Token, c.PersonID, c.EventID, c.Active, c.MaxScans, c.RequireLocation, c.CreatedAt)
	if err != nil {
		return models.Credential{}, fmt.Errorf("insert credential: %w", err)
	}
	return c, nil
}

// GetEvent fetches an event by id.
func (s *Store) GetEvent(ctx context.Context, id string) (models.Event, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, title, starts_at, checkin_before_min, checkin_during_min, latitude, longitude, proximity_tolerance_m, organizer_id
		FROM events WHERE id = $1
	`, id)
	var e models.Event
	var lat, lon pgtype.Float8
	err := row.Scan(&e.ID, &e.Title, &e.StartsAt, &e.CheckinBeforeMin, &e.CheckinDuringMin, &lat, &lon, &e.ProximityToleranceM, &e.OrganizerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Event{}, ErrNotFound
	}
	if err != nil {
		return models.Event{}, fmt.Errorf("scan event: %w", err)
	}
	if lat.Valid {
		e.Latitude = &lat.Float64
	}
	if lon.Valid {
		e.Longitude = &lon.Float64
	}
	return e, nil
}

// HasActiveRegistration reports whether the person holds an active
// registration for the event.
func (s *Store) HasActiveRegistration(ctx context.Context, personID, eventID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM registrations WHERE person_id = $1 AND event_id = $2 AND active
		)
	`, personID, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query registration: %w", err)
	}
	return exists, nil
}

// HasValidatedAttendance reports whether a validated check-in already exists
// for the person, event and civil date.
func (s *Store) HasValidatedAttendance(ctx context.Context, personID, eventID string, date time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attendance_records
			WHERE person_id = $1 AND event_id = $2 AND checkin_date = $3 AND validated
		)
	`, personID, eventID, date).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query attendance: %w", err)
	}
	return exists, nil
}

// HasValidatedAttendanceAny reports whether any validated check-in exists for
// the pair, regardless of date. Used by the eligibility evaluator.
func (s *Store) HasValidatedAttendanceAny(ctx context.Context, personID, eventID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attendance_records WHERE person_id = $1 AND event_id = $2 AND validated
		)
	`, personID, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query attendance: %w", err)
	}
	return exists, nil
}

// HasSurveyResponse reports whether the person answered a survey belonging to
// the event.
func (s *Store) HasSurveyResponse(ctx context.Context, personID, eventID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM survey_responses sr
			JOIN surveys s ON s.id = sr.survey_id
			WHERE sr.person_id = $1 AND s.event_id = $2
		)
	`, personID, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query survey response: %w", err)
	}
	return exists, nil
}

// GetApprovedTemplate returns the event's approved certificate template.
func (s *Store) GetApprovedTemplate(ctx context.Context, eventID string) (models.CertificateTemplate, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, event_id, title, body, background, accent, approved, created_at
		FROM certificate_templates
		WHERE event_id = $1 AND approved
		ORDER BY created_at DESC
		LIMIT 1
	`, eventID)
	var t models.CertificateTemplate
	err := row.Scan(&t.ID, &t.EventID, &t.Title, &t.Body, &t.Background, &t.Accent, &t.Approved, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CertificateTemplate{}, ErrNotFound
	}
	if err != nil {
		return models.CertificateTemplate{}, fmt.Errorf("scan template: %w", err)
	}
	return t, nil
}

// GetTemplate fetches a template by id, approved or not.
func (s *Store) GetTemplate(ctx context.Context, id string) (models.CertificateTemplate, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, event_id, title, body, background, accent, approved, created_at
		FROM certificate_templates WHERE id = $1
	`, id)
	var t models.CertificateTemplate
	err := row.Scan(&t.ID, &t.EventID, &t.Title, &t.Body, &t.Background, &t.Accent, &t.Approved, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CertificateTemplate{}, ErrNotFound
	}
	if err != nil {
		return models.CertificateTemplate{}, fmt.Errorf("scan template: %w", err)
	}
	return t, nil
}

// GetWorkflow returns the workflow record for a (person, event) pair.
func (s *Store) GetWorkflow(ctx context.Context, personID, eventID string) (models.WorkflowRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, person_id, event_id::text, stage, attendance_id::text, survey_response_id::text, certificate_id::text,
		       checked_in_at, survey_done_at, eligible_at, generated_at, metadata, created_at, updated_at
		FROM workflow_records WHERE person_id = $1 AND event_id = $2
	`, personID, eventID)
	return scanWorkflow(row)
}

func scanWorkflow(row pgx.Row) (models.WorkflowRecord, error) {
	var w models.WorkflowRecord
	var attID, srID, certID pgtype.Text
	var checked, surveyed, eligible, generated pgtype.Timestamptz
	err := row.Scan(&w.ID, &w.PersonID, &w.EventID, &w.Stage, &attID, &srID, &certID,
		&checked, &surveyed, &eligible, &generated, &w.Metadata, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.WorkflowRecord{}, ErrNotFound
	}
	if err != nil {
		return models.WorkflowRecord{}, fmt.Errorf("scan workflow: %w", err)
	}
	w.AttendanceID = textPtr(attID)
	w.SurveyResponseID = textPtr(srID)
	w.CertificateID = textPtr(certID)
	w.CheckedInAt = timePtr(checked)
	w.SurveyDoneAt = timePtr(surveyed)
	w.EligibleAt = timePtr(eligible)
	w.GeneratedAt = timePtr(generated)
	return w, nil
}

// AdvanceWorkflowSurvey moves an existing workflow record to
// survey_completed. The stage never regresses and the stage timestamp is only
// written the first time.
func (s *Store) AdvanceWorkflowSurvey(ctx context.Context, personID, eventID, responseID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_records
		SET stage = CASE WHEN stage = $3 THEN $4 ELSE stage END,
		    survey_response_id = COALESCE(survey_response_id, $5),
		    survey_done_at = COALESCE(survey_done_at, NOW()),
		    updated_at = NOW()
		WHERE person_id = $1 AND event_id = $2
	`, personID, eventID, models.StageCheckedIn, models.StageSurveyCompleted, responseID)
	if err != nil {
		return fmt.Errorf("advance workflow to survey_completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AdvanceWorkflowEligible records that eligibility has been confirmed.
func (s *Store) AdvanceWorkflowEligible(ctx context.Context, personID, eventID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE workflow_records
		SET stage = CASE WHEN stage IN ($3, $4) THEN $5 ELSE stage END,
		    eligible_at = COALESCE(eligible_at, NOW()),
		    updated_at = NOW()
		WHERE person_id = $1 AND event_id = $2
	`, personID, eventID, models.StageCheckedIn, models.StageSurveyCompleted, models.StageCertificateEligible)
	if err != nil {
		return fmt.Errorf("advance workflow to certificate_eligible: %w", err)
	}
	return nil
}

// InsertCertificate stores the rendered artifact and advances the workflow to
// certificate_generated in one transaction.
func (s *Store) InsertCertificate(ctx context.Context, cert models.Certificate) (models.Certificate, error) {
	if cert.ID == "" {
		cert.ID = uuid.New().String()
	}
	cert.IssuedAt = time.Now().UTC()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Certificate{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	_, err = tx.Exec(ctx, `
		INSERT INTO certificates (id, person_id, event_id, object_key, url, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, cert.ID, cert.PersonID, cert.EventID, cert.ObjectKey, cert.URL, cert.IssuedAt)
	if err != nil {
		return models.Certificate{}, fmt.Errorf("insert certificate: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE workflow_records
		SET stage = $3,
		    certificate_id = COALESCE(certificate_id, $4),
		    generated_at = COALESCE(generated_at, NOW()),
		    updated_at = NOW()
		WHERE person_id = $1 AND event_id = $2
	`, cert.PersonID, cert.EventID, models.StageCertificateGenerated, cert.ID)
	if err != nil {
		return models.Certificate{}, fmt.Errorf("advance workflow to certificate_generated: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Certificate{}, fmt.Errorf("commit: %w", err)
	}
	return cert, nil
}

// InsertNotification stores one notification row.
func (s *Store) InsertNotification(ctx context.Context, n models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (id, recipient_id, title, body, job_id)
		VALUES ($1, $2, $3, $4, $5)
	`, n.ID, n.RecipientID, n.Title, n.Body, n.JobID)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time
		return &v
	}
	return nil
}
