package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-event-pipeline/internal/api"
	"campus-event-pipeline/internal/config"
	"campus-event-pipeline/internal/eligibility"
	"campus-event-pipeline/internal/models"
	"campus-event-pipeline/internal/queue"
)

type fakeStorage struct {
	event      models.Event
	calls      *[]string
	advanceErr error
}

func (f *fakeStorage) CreateCredential(_ context.Context, c models.Credential) (models.Credential, error) {
	return c, nil
}

func (f *fakeStorage) GetEvent(_ context.Context, _ string) (models.Event, error) {
	return f.event, nil
}

func (f *fakeStorage) GetWorkflow(_ context.Context, _, _ string) (models.WorkflowRecord, error) {
	return models.WorkflowRecord{}, nil
}

func (f *fakeStorage) AdvanceWorkflowEligible(_ context.Context, _, _ string) error {
	*f.calls = append(*f.calls, "advance")
	return f.advanceErr
}

type fakeQueue struct {
	calls      *[]string
	enqueueErr error
	lastParams queue.EnqueueParams
}

func (f *fakeQueue) Enqueue(_ context.Context, p queue.EnqueueParams) (models.Job, error) {
	*f.calls = append(*f.calls, "enqueue")
	f.lastParams = p
	if f.enqueueErr != nil {
		return models.Job{}, f.enqueueErr
	}
	return models.Job{ID: "job-1", Type: p.Type, Status: models.StatusPending}, nil
}

func (f *fakeQueue) GetStatus(_ context.Context, _, _ string, _ bool) (models.Job, error) {
	return models.Job{}, queue.ErrNotFound
}

type fakeChecker struct {
	verdict eligibility.Verdict
}

func (f *fakeChecker) Check(_ context.Context, _, _ string) (eligibility.Verdict, error) {
	return f.verdict, nil
}

func eligibleVerdict() eligibility.Verdict {
	return eligibility.Verdict{
		Eligible: true,
		Facts: eligibility.Facts{
			AttendanceVerified: true,
			SurveyCompleted:    true,
			TemplateAvailable:  true,
		},
		Template: &models.CertificateTemplate{ID: "tpl-1", EventID: "evt-1"},
	}
}

func newRouter(st *fakeStorage, q *fakeQueue, checker *fakeChecker) http.Handler {
	return api.New(config.Config{}, st, q, nil, checker, nil, nil).Router()
}

func TestCertificateRequestAdvancesAfterEnqueue(t *testing.T) {
	var calls []string
	st := &fakeStorage{event: models.Event{ID: "evt-1", Title: "Systems Seminar"}, calls: &calls}
	q := &fakeQueue{calls: &calls}
	router := newRouter(st, q, &fakeChecker{verdict: eligibleVerdict()})

	body := `{"person_id":"person-1","participant_name":"Alex Doe"}`
	req := httptest.NewRequest(http.MethodPost, "/events/evt-1/certificate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"enqueue", "advance"}, calls)
	assert.Equal(t, models.JobCertificateGeneration, q.lastParams.Type)

	var p models.CertificatePayload
	require.NoError(t, json.Unmarshal(q.lastParams.Payload, &p))
	assert.Equal(t, "tpl-1", p.TemplateID)
	assert.Equal(t, "Systems Seminar", p.EventTitle)
}

func TestCertificateRequestEnqueueFailureLeavesWorkflow(t *testing.T) {
	var calls []string
	st := &fakeStorage{event: models.Event{ID: "evt-1"}, calls: &calls}
	q := &fakeQueue{calls: &calls, enqueueErr: errors.New("pool exhausted")}
	router := newRouter(st, q, &fakeChecker{verdict: eligibleVerdict()})

	body := `{"person_id":"person-1","participant_name":"Alex Doe"}`
	req := httptest.NewRequest(http.MethodPost, "/events/evt-1/certificate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	// No stage advance without a queued job behind it.
	assert.Equal(t, []string{"enqueue"}, calls)
}

func TestCertificateRequestIneligible(t *testing.T) {
	var calls []string
	st := &fakeStorage{event: models.Event{ID: "evt-1"}, calls: &calls}
	q := &fakeQueue{calls: &calls}
	router := newRouter(st, q, &fakeChecker{verdict: eligibility.Verdict{}})

	body := `{"person_id":"person-1","participant_name":"Alex Doe"}`
	req := httptest.NewRequest(http.MethodPost, "/events/evt-1/certificate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, calls)
}

func TestEnqueuePriorityPassthrough(t *testing.T) {
	var calls []string
	st := &fakeStorage{calls: &calls}
	q := &fakeQueue{calls: &calls}
	router := newRouter(st, q, &fakeChecker{})

	// An explicit zero survives as zero.
	body := `{"type":"single_notification","priority":0,"payload":{"recipient_id":"r1","title":"hi","body":"there"}}`
	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, q.lastParams.Priority)
	assert.Equal(t, 0, *q.lastParams.Priority)

	// Omitting the field leaves the choice to the queue.
	body = `{"type":"single_notification","payload":{"recipient_id":"r1","title":"hi","body":"there"}}`
	req = httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(body))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Nil(t, q.lastParams.Priority)
}
