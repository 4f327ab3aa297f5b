package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"campus-event-pipeline/internal/config"
	"campus-event-pipeline/internal/models"
	"campus-event-pipeline/internal/store"
	"campus-event-pipeline/internal/telemetry"
)

// CertificateHandler renders certificate artifacts and records them.
type CertificateHandler struct {
	cfg      config.Config
	store    *store.Store
	uploader Uploader
}

func NewCertificateHandler(cfg config.Config, st *store.Store, up Uploader) *CertificateHandler {
	return &CertificateHandler{cfg: cfg, store: st, uploader: up}
}

// certificateResult is the payload written back onto the completed job.
type certificateResult struct {
	CertificateID string `json:"certificate_id"`
	ObjectKey     string `json:"object_key"`
	URL           string `json:"url"`
}

// Handle renders the certificate, uploads it, and advances the workflow to
// certificate_generated.
func (h *CertificateHandler) Handle(ctx context.Context, job models.Job) (json.RawMessage, error) {
	raw, err := models.DecodePayload(job.Type, job.Payload)
	if err != nil {
		return nil, err
	}
	payload := raw.(models.CertificatePayload)

	opts := RenderOptions{
		ParticipantName: payload.ParticipantName,
		EventTitle:      payload.EventTitle,
		CompletionDate:  payload.CompletionDate,
		Width:           h.cfg.CertWidth,
		Height:          h.cfg.CertHeight,
	}

	tmpl, err := h.resolveTemplate(ctx, payload)
	if err != nil {
		return nil, err
	}
	if tmpl != nil {
		opts.Title = tmpl.Title
		opts.Body = tmpl.Body
		opts.Background = tmpl.Background
		opts.Accent = tmpl.Accent
	} else {
		// Inline override for one-off certificates with no stored template.
		opts.Title = payload.InlineTitle
		opts.Body = payload.InlineBody
	}

	png, err := RenderCertificate(opts)
	if err != nil {
		return nil, fmt.Errorf("render certificate: %w", err)
	}

	key := sanitizeKey(fmt.Sprintf("certificates/%s/%s.png", payload.EventID, payload.PersonID))
	url, err := h.uploader.Upload(ctx, key, png, "image/png")
	if err != nil {
		return nil, fmt.Errorf("upload certificate: %w", err)
	}

	cert, err := h.store.InsertCertificate(ctx, models.Certificate{
		PersonID:  payload.PersonID,
		EventID:   payload.EventID,
		ObjectKey: key,
		URL:       url,
	})
	if err != nil {
		return nil, fmt.Errorf("record certificate: %w", err)
	}
	telemetry.CertificatesRendered.Inc()

	return json.Marshal(certificateResult{
		CertificateID: cert.ID,
		ObjectKey:     cert.ObjectKey,
		URL:           cert.URL,
	})
}

// resolveTemplate prefers an explicit template id, then the event's approved
// template, then nil when the payload carries an inline override.
func (h *CertificateHandler) resolveTemplate(ctx context.Context, p models.CertificatePayload) (*models.CertificateTemplate, error) {
	if p.TemplateID != "" {
		tmpl, err := h.store.GetTemplate(ctx, p.TemplateID)
		if err != nil {
			return nil, fmt.Errorf("load template %s: %w", p.TemplateID, err)
		}
		return &tmpl, nil
	}

	tmpl, err := h.store.GetApprovedTemplate(ctx, p.EventID)
	if err == nil {
		return &tmpl, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		if p.InlineTitle == "" {
			return nil, errors.New("no approved template and no inline override")
		}
		return nil, nil
	}
	return nil, err
}
