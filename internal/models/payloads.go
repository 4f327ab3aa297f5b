package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// One payload struct per job type. The jobs table stores payloads as opaque
// JSONB; decoding to the concrete shape happens at dispatch time so each
// handler works against typed fields instead of a bag of any.

// CertificatePayload drives certificate_generation jobs. TemplateID points at
// a stored template; the inline fields override it for one-off certificates
// that are not tied to a stored template.
type CertificatePayload struct {
	PersonID        string `json:"person_id"`
	EventID         string `json:"event_id"`
	ParticipantName string `json:"participant_name"`
	EventTitle      string `json:"event_title"`
	CompletionDate  string `json:"completion_date"`
	TemplateID      string `json:"template_id,omitempty"`
	InlineTitle     string `json:"inline_title,omitempty"`
	InlineBody      string `json:"inline_body,omitempty"`
}

func (p CertificatePayload) Validate() error {
	if p.PersonID == "" || p.EventID == "" {
		return errors.New("person_id and event_id are required")
	}
	if p.ParticipantName == "" {
		return errors.New("participant_name is required")
	}
	return nil
}

// BulkNotificationPayload fans one message out to many recipients.
type BulkNotificationPayload struct {
	RecipientIDs []string `json:"recipient_ids"`
	Title        string   `json:"title"`
	Body         string   `json:"body"`
}

func (p BulkNotificationPayload) Validate() error {
	if len(p.RecipientIDs) == 0 {
		return errors.New("recipient_ids must not be empty")
	}
	if p.Title == "" {
		return errors.New("title is required")
	}
	return nil
}

// SingleNotificationPayload delivers one message to one recipient.
type SingleNotificationPayload struct {
	RecipientID string `json:"recipient_id"`
	Title       string `json:"title"`
	Body        string `json:"body"`
}

func (p SingleNotificationPayload) Validate() error {
	if p.RecipientID == "" {
		return errors.New("recipient_id is required")
	}
	if p.Title == "" {
		return errors.New("title is required")
	}
	return nil
}

// DecodePayload unmarshals raw into the payload struct for jobType and
// validates it. Unknown job types are an error so dispatch stays exhaustive.
func DecodePayload(jobType string, raw json.RawMessage) (any, error) {
	switch jobType {
	case JobCertificateGeneration:
		var p CertificatePayload
		if err := decodeInto(raw, &p); err != nil {
			return nil, err
		}
		return p, p.Validate()
	case JobBulkNotification:
		var p BulkNotificationPayload
		if err := decodeInto(raw, &p); err != nil {
			return nil, err
		}
		return p, p.Validate()
	case JobSingleNotification:
		var p SingleNotificationPayload
		if err := decodeInto(raw, &p); err != nil {
			return nil, err
		}
		return p, p.Validate()
	default:
		return nil, fmt.Errorf("unknown job type %q", jobType)
	}
}

func decodeInto(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return errors.New("empty payload")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
