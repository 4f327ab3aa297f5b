package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"campus-event-pipeline/internal/models"
	"campus-event-pipeline/internal/store"
	"campus-event-pipeline/internal/telemetry"
)

// notificationInserter is the slice of the store the handlers need.
type notificationInserter interface {
	InsertNotification(ctx context.Context, n models.Notification) error
}

// NotificationHandler fans notifications out to stored rows. Delivery to
// devices is the platform's concern; this subsystem only persists them.
type NotificationHandler struct {
	store notificationInserter
}

func NewNotificationHandler(st *store.Store) *NotificationHandler {
	return &NotificationHandler{store: st}
}

// bulkResult summarizes a fan-out. Partial failure is summarized here rather
// than modeled as separate jobs.
type bulkResult struct {
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	FirstError string `json:"first_error,omitempty"`
}

// HandleBulk inserts one notification per recipient. The job fails only when
// every insert failed; anything better is a success with the summary in the
// result payload.
func (h *NotificationHandler) HandleBulk(ctx context.Context, job models.Job) (json.RawMessage, error) {
	raw, err := models.DecodePayload(job.Type, job.Payload)
	if err != nil {
		return nil, err
	}
	payload := raw.(models.BulkNotificationPayload)

	res := h.fanOut(ctx, job.ID, payload.RecipientIDs, payload.Title, payload.Body)
	if res.Sent == 0 {
		return nil, fmt.Errorf("all %d notification inserts failed: %s", res.Failed, res.FirstError)
	}
	telemetry.NotificationsSent.Add(float64(res.Sent))
	return json.Marshal(res)
}

// HandleSingle inserts one notification.
func (h *NotificationHandler) HandleSingle(ctx context.Context, job models.Job) (json.RawMessage, error) {
	raw, err := models.DecodePayload(job.Type, job.Payload)
	if err != nil {
		return nil, err
	}
	payload := raw.(models.SingleNotificationPayload)

	if err := h.store.InsertNotification(ctx, models.Notification{
		RecipientID: payload.RecipientID,
		Title:       payload.Title,
		Body:        payload.Body,
		JobID:       &job.ID,
	}); err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	telemetry.NotificationsSent.Inc()
	return json.Marshal(bulkResult{Sent: 1})
}

func (h *NotificationHandler) fanOut(ctx context.Context, jobID string, recipients []string, title, body string) bulkResult {
	var res bulkResult
	var firstErr error
	for _, recipient := range recipients {
		err := h.store.InsertNotification(ctx, models.Notification{
			RecipientID: recipient,
			Title:       title,
			Body:        body,
			JobID:       &jobID,
		})
		if err != nil {
			res.Failed++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		res.Sent++
	}
	if firstErr != nil {
		res.FirstError = firstErr.Error()
	}
	return res
}
