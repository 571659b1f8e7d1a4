package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"flockvet/pkg"
)

// NewVisit builds a scheduled visit from a farmer request.  A missing type
// becomes a consultation.  A missing priority becomes urgent when the
// session summary reports an emergency and medium otherwise.
func NewVisit(sessionID string, req pkg.CreateVisitRequest, summary *pkg.Summary) (pkg.Visit, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return pkg.Visit{}, fmt.Errorf("%w: title is required", pkg.ErrInvalidVisit)
	}
	if req.ScheduledFor.IsZero() {
		return pkg.Visit{}, fmt.Errorf("%w: scheduled_for is required", pkg.ErrInvalidVisit)
	}

	typ := req.Type
	if typ == "" {
		typ = pkg.VisitConsultation
	}
	if !typ.Valid() {
		return pkg.Visit{}, fmt.Errorf("%w: unknown type %q", pkg.ErrInvalidVisit, req.Type)
	}

	priority := req.Priority
	if priority == "" {
		priority = pkg.PriorityMedium
		if summary != nil && summary.Emergency {
			priority = pkg.PriorityUrgent
		}
	}
	if !priority.Valid() {
		return pkg.Visit{}, fmt.Errorf("%w: unknown priority %q", pkg.ErrInvalidVisit, req.Priority)
	}

	now := time.Now().UTC()
	return pkg.Visit{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		Title:        title,
		Description:  strings.TrimSpace(req.Description),
		Type:         typ,
		Status:       pkg.VisitScheduled,
		Priority:     priority,
		ScheduledFor: req.ScheduledFor.UTC(),
		Notes:        strings.TrimSpace(req.Notes),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}
