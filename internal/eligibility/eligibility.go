// Package eligibility answers whether a certificate may be generated for a
// (person, event) pair. The verdict is a pure conjunction over three facts;
// loading the facts is the only part that touches the database.
package eligibility

import (
	"context"
	"errors"

	"campus-event-pipeline/internal/models"
	"campus-event-pipeline/internal/store"
)

// Facts are the three contributing inputs to a verdict.
type Facts struct {
	AttendanceVerified bool                        `json:"attendance_verified"`
	SurveyCompleted    bool                        `json:"survey_completed"`
	TemplateAvailable  bool                        `json:"template_available"`
	Template           *models.CertificateTemplate `json:"-"`
}

// Verdict is the combined answer. Template is populated only when eligible,
// so callers cannot render from an absent or unapproved template.
type Verdict struct {
	Eligible bool                        `json:"eligible"`
	Facts    Facts                       `json:"facts"`
	Template *models.CertificateTemplate `json:"template,omitempty"`
}

// Evaluate combines the facts. Eligible iff all three hold.
func Evaluate(f Facts) Verdict {
	v := Verdict{
		Eligible: f.AttendanceVerified && f.SurveyCompleted && f.TemplateAvailable,
		Facts:    f,
	}
	if v.Eligible {
		v.Template = f.Template
	}
	return v
}

// Evaluator loads facts from the store and evaluates them.
type Evaluator struct {
	store *store.Store
}

func New(st *store.Store) *Evaluator {
	return &Evaluator{store: st}
}

// Check computes the verdict for a person and event.
func (e *Evaluator) Check(ctx context.Context, personID, eventID string) (Verdict, error) {
	var f Facts

	attended, err := e.store.HasValidatedAttendanceAny(ctx, personID, eventID)
	if err != nil {
		return Verdict{}, err
	}
	f.AttendanceVerified = attended

	surveyed, err := e.store.HasSurveyResponse(ctx, personID, eventID)
	if err != nil {
		return Verdict{}, err
	}
	f.SurveyCompleted = surveyed

	tmpl, err := e.store.GetApprovedTemplate(ctx, eventID)
	switch {
	case err == nil:
		f.TemplateAvailable = true
		f.Template = &tmpl
	case errors.Is(err, store.ErrNotFound):
		// no approved template; verdict stays ineligible
	default:
		return Verdict{}, err
	}

	return Evaluate(f), nil
}
