package models

import (
	"encoding/json"
	"time"
)

// Workflow stages, monotonically advancing per (person, event).
const (
	StageCheckedIn            = "checked_in"
	StageSurveyCompleted      = "survey_completed"
	StageCertificateEligible  = "certificate_eligible"
	StageCertificateGenerated = "certificate_generated"
)

// Credential is a scannable token bound to a person (profile credential) or a
// person+event pair (check-in credential).
type Credential struct {
	ID              string     `json:"id"`
	Token           string     `json:"token"`
	PersonID        string     `json:"person_id"`
	EventID         *string    `json:"event_id,omitempty"`
	Active          bool       `json:"active"`
	ScanCount       int        `json:"scan_count"`
	MaxScans        int        `json:"max_scans"`
	RequireLocation bool       `json:"require_location"`
	CreatedAt       time.Time  `json:"created_at"`
	LastScannedAt   *time.Time `json:"last_scanned_at,omitempty"`
}

// Event carries the schedule and geofence settings a check-in is validated
// against. Window minutes of zero fall back to configured defaults.
type Event struct {
	ID                  string    `json:"id"`
	Title               string    `json:"title"`
	StartsAt            time.Time `json:"starts_at"`
	CheckinBeforeMin    int       `json:"checkin_before_min"`
	CheckinDuringMin    int       `json:"checkin_during_min"`
	Latitude            *float64  `json:"latitude,omitempty"`
	Longitude           *float64  `json:"longitude,omitempty"`
	ProximityToleranceM int       `json:"proximity_tolerance_m"`
	OrganizerID         string    `json:"organizer_id"`
}

// Registration ties a person to an event before any check-in can happen.
type Registration struct {
	ID        string    `json:"id"`
	PersonID  string    `json:"person_id"`
	EventID   string    `json:"event_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// AttendanceRecord is one validated physical presence per (person, event,
// civil date).
type AttendanceRecord struct {
	ID          string    `json:"id"`
	PersonID    string    `json:"person_id"`
	EventID     string    `json:"event_id"`
	CheckedInAt time.Time `json:"checked_in_at"`
	CheckinDate time.Time `json:"checkin_date"`
	Validated   bool      `json:"validated"`
	ValidatedBy string    `json:"validated_by"`
	Method      string    `json:"method"`
}

// WorkflowRecord accumulates a person's progress through an event:
// check-in, survey, certificate eligibility, generated certificate.
// Stage timestamps are written once, the first time the stage is reached.
type WorkflowRecord struct {
	ID               string          `json:"id"`
	PersonID         string          `json:"person_id"`
	EventID          string          `json:"event_id"`
	Stage            string          `json:"stage"`
	AttendanceID     *string         `json:"attendance_id,omitempty"`
	SurveyResponseID *string         `json:"survey_response_id,omitempty"`
	CertificateID    *string         `json:"certificate_id,omitempty"`
	CheckedInAt      *time.Time      `json:"checked_in_at,omitempty"`
	SurveyDoneAt     *time.Time      `json:"survey_done_at,omitempty"`
	EligibleAt       *time.Time      `json:"eligible_at,omitempty"`
	GeneratedAt      *time.Time      `json:"generated_at,omitempty"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// ScanLog is the audit row appended alongside each committed check-in.
type ScanLog struct {
	ID              string    `json:"id"`
	CredentialID    string    `json:"credential_id"`
	PersonID        string    `json:"person_id"`
	EventID         string    `json:"event_id"`
	ScannedBy       string    `json:"scanned_by"`
	DistanceM       *int      `json:"distance_m,omitempty"`
	LocationChecked bool      `json:"location_checked"`
	DeviceInfo      string    `json:"device_info"`
	IPAddress       string    `json:"ip_address"`
	CreatedAt       time.Time `json:"created_at"`
}

// CertificateTemplate describes how a certificate for an event is rendered.
type CertificateTemplate struct {
	ID         string    `json:"id"`
	EventID    string    `json:"event_id"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Background string    `json:"background"` // hex color, e.g. "#f5f0e8"
	Accent     string    `json:"accent"`     // hex color for border and rules
	Approved   bool      `json:"approved"`
	CreatedAt  time.Time `json:"created_at"`
}

// Certificate is the rendered artifact row the workflow links to.
type Certificate struct {
	ID        string    `json:"id"`
	PersonID  string    `json:"person_id"`
	EventID   string    `json:"event_id"`
	ObjectKey string    `json:"object_key"`
	URL       string    `json:"url"`
	IssuedAt  time.Time `json:"issued_at"`
}

// Notification is a stored message row; delivery is the platform's concern.
type Notification struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipient_id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	JobID       *string   `json:"job_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
