package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"campus-event-pipeline/internal/checkin"
	"campus-event-pipeline/internal/config"
	"campus-event-pipeline/internal/eligibility"
	"campus-event-pipeline/internal/models"
	"campus-event-pipeline/internal/queue"
	"campus-event-pipeline/internal/ratelimit"
	"campus-event-pipeline/internal/store"
	"campus-event-pipeline/internal/telemetry"
)

// Storage is the slice of the persistence layer the handlers touch directly.
// *store.Store satisfies it.
type Storage interface {
	CreateCredential(ctx context.Context, c models.Credential) (models.Credential, error)
	GetEvent(ctx context.Context, id string) (models.Event, error)
	GetWorkflow(ctx context.Context, personID, eventID string) (models.WorkflowRecord, error)
	AdvanceWorkflowEligible(ctx context.Context, personID, eventID string) error
}

// JobQueue is what the HTTP layer needs from the work queue. *queue.Queue
// satisfies it.
type JobQueue interface {
	Enqueue(ctx context.Context, p queue.EnqueueParams) (models.Job, error)
	GetStatus(ctx context.Context, id, requester string, admin bool) (models.Job, error)
}

// EligibilityChecker answers certificate eligibility. *eligibility.Evaluator
// satisfies it.
type EligibilityChecker interface {
	Check(ctx context.Context, personID, eventID string) (eligibility.Verdict, error)
}

// Server wires the HTTP surface the surrounding platform calls into. Identity
// arrives via X-User-ID / X-Admin headers; the platform's auth layer fronts
// this service.
type Server struct {
	cfg         config.Config
	store       Storage
	queue       JobQueue
	checkin     *checkin.Service
	eligibility EligibilityChecker
	jobLimiter  *ratelimit.TokenBucket
	scanLimiter *ratelimit.TokenBucket
}

func New(cfg config.Config, st Storage, q JobQueue, ci *checkin.Service, el EligibilityChecker, jobLimiter, scanLimiter *ratelimit.TokenBucket) *Server {
	return &Server{
		cfg:         cfg,
		store:       st,
		queue:       q,
		checkin:     ci,
		eligibility: el,
		jobLimiter:  jobLimiter,
		scanLimiter: scanLimiter,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleEnqueue)
	r.Get("/jobs/{id}", s.handleJobStatus)

	r.Post("/scan", s.handleScan)
	r.Post("/credentials", s.handleCreateCredential)

	r.Route("/events/{eventID}", func(r chi.Router) {
		r.Get("/eligibility", s.handleEligibility)
		r.Get("/workflow", s.handleWorkflow)
		r.Post("/certificate", s.handleCertificateRequest)
		r.Post("/survey-complete", s.handleSurveyComplete)
	})

	return r
}

type enqueueRequest struct {
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Priority    *int            `json:"priority"` // absent means default; 0 is most urgent
	MaxAttempts int             `json:"max_attempts"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON", nil)
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "missing_type", "type is required", nil)
		return
	}
	// Reject malformed payloads up front; a job that can never decode would
	// only burn attempts in the worker.
	if _, err := models.DecodePayload(req.Type, req.Payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", err.Error(), nil)
		return
	}

	requester := requesterFrom(r)
	if !s.allow(r, s.jobLimiter, requester) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
		return
	}

	job, err := s.queue.Enqueue(r.Context(), queue.EnqueueParams{
		Type:        req.Type,
		Payload:     req.Payload,
		Priority:    req.Priority,
		MaxAttempts: req.MaxAttempts,
		CreatedBy:   requester,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "enqueue_failed", err.Error(), nil)
		return
	}
	telemetry.EnqueueCounter.Inc()
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.queue.GetStatus(r.Context(), id, requesterFrom(r), isAdmin(r))
	if errors.Is(err, queue.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "job not found", nil)
		return
	}
	if errors.Is(err, queue.ErrForbidden) {
		writeError(w, http.StatusForbidden, "forbidden", "job belongs to another caller", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "status_failed", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req checkin.ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON", nil)
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "missing_token", "token is required", nil)
		return
	}
	if req.ScannedBy == "" {
		req.ScannedBy = requesterFrom(r)
	}
	if req.IPAddress == "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			req.IPAddress = host
		}
	}

	if !s.allow(r, s.scanLimiter, req.Token) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many scans for this credential", nil)
		return
	}

	result, err := s.checkin.Scan(r.Context(), req)
	if err != nil {
		var rej *checkin.Rejection
		if errors.As(err, &rej) {
			telemetry.CheckinRejections.WithLabelValues(rej.Code).Inc()
			writeError(w, rejectionStatus(rej.Code), rej.Code, rej.Message, rej.Details)
			return
		}
		writeError(w, http.StatusInternalServerError, "scan_failed", err.Error(), nil)
		return
	}
	telemetry.CheckinsValidated.Inc()
	writeJSON(w, http.StatusOK, result)
}

type credentialRequest struct {
	PersonID        string  `json:"person_id"`
	EventID         *string `json:"event_id,omitempty"`
	MaxScans        int     `json:"max_scans"`
	RequireLocation bool    `json:"require_location"`
}

// handleCreateCredential issues a scannable credential. Organizer tooling
// calls this when an event opens; the token is the value encoded into the QR.
func (s *Server) handleCreateCredential(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(r) {
		writeError(w, http.StatusForbidden, "forbidden", "credential issuance requires admin", nil)
		return
	}
	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON", nil)
		return
	}
	if req.PersonID == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "person_id is required", nil)
		return
	}
	cred, err := s.store.CreateCredential(r.Context(), models.Credential{
		Token:           uuid.New().String(),
		PersonID:        req.PersonID,
		EventID:         req.EventID,
		Active:          true,
		MaxScans:        req.MaxScans,
		RequireLocation: req.RequireLocation,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "credential_failed", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusCreated, cred)
}

func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	personID := r.URL.Query().Get("person_id")
	if personID == "" {
		personID = requesterFrom(r)
	}
	if personID == "" {
		writeError(w, http.StatusBadRequest, "missing_person", "person_id is required", nil)
		return
	}
	verdict, err := s.eligibility.Check(r.Context(), personID, eventID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "eligibility_failed", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

func (s *Server) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	personID := r.URL.Query().Get("person_id")
	if personID == "" {
		personID = requesterFrom(r)
	}
	record, err := s.store.GetWorkflow(r.Context(), personID, eventID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "no workflow record for this person and event", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "workflow_failed", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

type certificateRequest struct {
	PersonID        string `json:"person_id"`
	ParticipantName string `json:"participant_name"`
	CompletionDate  string `json:"completion_date"`
}

// handleCertificateRequest is the eligibility-gated enqueue: the UI may only
// submit a generation job once all three eligibility facts hold.
func (s *Server) handleCertificateRequest(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	var req certificateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON", nil)
		return
	}
	if req.PersonID == "" {
		req.PersonID = requesterFrom(r)
	}
	if req.PersonID == "" || req.ParticipantName == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "person_id and participant_name are required", nil)
		return
	}

	verdict, err := s.eligibility.Check(r.Context(), req.PersonID, eventID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "eligibility_failed", err.Error(), nil)
		return
	}
	if !verdict.Eligible {
		writeError(w, http.StatusConflict, "not_eligible", "certificate requirements are not met", verdict.Facts)
		return
	}

	event, err := s.store.GetEvent(r.Context(), eventID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "event not found", nil)
		return
	}

	payload, err := json.Marshal(models.CertificatePayload{
		PersonID:        req.PersonID,
		EventID:         eventID,
		ParticipantName: req.ParticipantName,
		EventTitle:      event.Title,
		CompletionDate:  req.CompletionDate,
		TemplateID:      verdict.Template.ID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "enqueue_failed", err.Error(), nil)
		return
	}

	job, err := s.queue.Enqueue(r.Context(), queue.EnqueueParams{
		Type:      models.JobCertificateGeneration,
		Payload:   payload,
		CreatedBy: req.PersonID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "enqueue_failed", err.Error(), nil)
		return
	}

	// Stage advance follows a successful enqueue so a failed submission never
	// strands the workflow at certificate_eligible with no job behind it. The
	// job is already queued, so an advance error is logged, not surfaced; the
	// handler moves the stage to certificate_generated regardless.
	if err := s.store.AdvanceWorkflowEligible(r.Context(), req.PersonID, eventID); err != nil {
		log.Printf("api: advance workflow for %s/%s: %v", req.PersonID, eventID, err)
	}

	telemetry.EnqueueCounter.Inc()
	writeJSON(w, http.StatusAccepted, job)
}

type surveyCompleteRequest struct {
	PersonID   string `json:"person_id"`
	ResponseID string `json:"response_id"`
}

func (s *Server) handleSurveyComplete(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	var req surveyCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON", nil)
		return
	}
	if req.PersonID == "" || req.ResponseID == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "person_id and response_id are required", nil)
		return
	}
	if err := s.checkin.CompleteSurvey(r.Context(), req.PersonID, eventID, req.ResponseID); err != nil {
		var rej *checkin.Rejection
		if errors.As(err, &rej) {
			writeError(w, http.StatusNotFound, rej.Code, rej.Message, nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "survey_failed", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"stage": models.StageSurveyCompleted})
}

func (s *Server) allow(r *http.Request, limiter *ratelimit.TokenBucket, key string) bool {
	if limiter == nil {
		return true
	}
	allowed, _, err := limiter.Allow(r.Context(), key)
	if err != nil {
		// Redis being down should not block check-ins; fail open and count on
		// the guard chain.
		return true
	}
	if !allowed {
		telemetry.RateLimitRejects.Inc()
	}
	return allowed
}

func rejectionStatus(code string) int {
	switch code {
	case checkin.CodeNotFound:
		return http.StatusNotFound
	case checkin.CodeAlreadyCheckedIn:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

func requesterFrom(r *http.Request) string {
	if v := r.Header.Get("X-User-ID"); v != "" {
		return v
	}
	return "anonymous"
}

func isAdmin(r *http.Request) bool {
	return r.Header.Get("X-Admin") == "true"
}
