package models

import (
	"encoding/json"
	"time"
)

// JobStatus enumerates queue lifecycle states persisted in Postgres.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Job types understood by the worker.
const (
	JobCertificateGeneration = "certificate_generation"
	JobBulkNotification      = "bulk_notification"
	JobSingleNotification    = "single_notification"
)

// Job represents one unit of deferred work persisted in the jobs table.
// Lower Priority values are dequeued first; ties break on CreatedAt.
type Job struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	Status         string          `json:"status"`
	Priority       int             `json:"priority"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	LastError      *string         `json:"last_error,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	CreatedBy      string          `json:"created_by"`
	NotBefore      time.Time       `json:"not_before"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// Terminal reports whether the job can never run again.
func (j Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}
