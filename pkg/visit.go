package pkg

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidVisit is wrapped when a visit request carries an unknown
	// type, priority or status, or misses a required field.
	ErrInvalidVisit = errors.New("invalid visit")
	// ErrInvalidTransition is wrapped when a status change is not allowed
	// from the visit's current status.
	ErrInvalidTransition = errors.New("invalid visit status transition")
)

// VisitType is the purpose of a farm visit.
type VisitType string

const (
	VisitInspection     VisitType = "inspection"
	VisitVaccination    VisitType = "vaccination"
	VisitTreatment      VisitType = "treatment"
	VisitConsultation   VisitType = "consultation"
	VisitEmergency      VisitType = "emergency"
	VisitRoutineCheckup VisitType = "routine_checkup"
)

// VisitStatus is the lifecycle state of a farm visit.
type VisitStatus string

const (
	VisitScheduled   VisitStatus = "scheduled"
	VisitInProgress  VisitStatus = "in_progress"
	VisitCompleted   VisitStatus = "completed"
	VisitCancelled   VisitStatus = "cancelled"
	VisitRescheduled VisitStatus = "rescheduled"
)

// VisitPriority orders visits on the veterinary dashboard.
type VisitPriority string

const (
	PriorityLow    VisitPriority = "low"
	PriorityMedium VisitPriority = "medium"
	PriorityHigh   VisitPriority = "high"
	PriorityUrgent VisitPriority = "urgent"
)

var visitTypes = map[VisitType]bool{
	VisitInspection: true, VisitVaccination: true, VisitTreatment: true,
	VisitConsultation: true, VisitEmergency: true, VisitRoutineCheckup: true,
}

var priorityRank = map[VisitPriority]int{
	PriorityUrgent: 0, PriorityHigh: 1, PriorityMedium: 2, PriorityLow: 3,
}

// transitions lists the statuses each status may move to.  Completed and
// cancelled visits are final.
var transitions = map[VisitStatus][]VisitStatus{
	VisitScheduled:   {VisitInProgress, VisitCancelled, VisitRescheduled},
	VisitRescheduled: {VisitInProgress, VisitCancelled, VisitRescheduled},
	VisitInProgress:  {VisitCompleted, VisitCancelled},
	VisitCompleted:   nil,
	VisitCancelled:   nil,
}

// Valid reports whether t is a known visit type.
func (t VisitType) Valid() bool { return visitTypes[t] }

// Valid reports whether s is a known status.
func (s VisitStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanBecome reports whether a visit in status s may move to next.
func (s VisitStatus) CanBecome(next VisitStatus) bool {
	for _, n := range transitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// Valid reports whether p is a known priority.
func (p VisitPriority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Rank orders priorities, urgent first.
func (p VisitPriority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return len(priorityRank)
}

// Medication is a drug prescribed during a visit.
type Medication struct {
	Name     string `json:"name"`
	Dosage   string `json:"dosage"`
	Duration string `json:"duration"`
}

// VisitResults records the outcome of a completed visit.
type VisitResults struct {
	Findings         string       `json:"findings"`
	Recommendations  []string     `json:"recommendations"`
	FollowUpRequired bool         `json:"follow_up_required"`
	FollowUpDate     *time.Time   `json:"follow_up_date,omitempty"`
	Medications      []Medication `json:"medications,omitempty"`
}

// Visit is a farm visit requested from a chat session.
type Visit struct {
	ID           string        `json:"id"`
	SessionID    string        `json:"session_id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Type         VisitType     `json:"type"`
	Status       VisitStatus   `json:"status"`
	Priority     VisitPriority `json:"priority"`
	ScheduledFor time.Time     `json:"scheduled_for"`
	Notes        string        `json:"notes,omitempty"`
	Results      *VisitResults `json:"results,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// CreateVisitRequest is the body of a farmer's visit request.  Type defaults
// to consultation; priority defaults from the session summary.
type CreateVisitRequest struct {
	Title        string        `json:"title" binding:"required"`
	Description  string        `json:"description"`
	Type         VisitType     `json:"type"`
	Priority     VisitPriority `json:"priority"`
	ScheduledFor time.Time     `json:"scheduled_for"`
	Notes        string        `json:"notes"`
}

// VisitUpdate is the body of a veterinary status change.
type VisitUpdate struct {
	Status       VisitStatus   `json:"status" binding:"required"`
	ScheduledFor *time.Time    `json:"scheduled_for,omitempty"`
	Notes        *string       `json:"notes,omitempty"`
	Results      *VisitResults `json:"results,omitempty"`
}

// VisitFilter narrows a visit listing.  Empty fields match everything.
type VisitFilter struct {
	SessionID string
	Status    VisitStatus
}

// Matches reports whether v passes the filter.
func (f VisitFilter) Matches(v Visit) bool {
	return (f.SessionID == "" || f.SessionID == v.SessionID) &&
		(f.Status == "" || f.Status == v.Status)
}

// Apply moves v to u.Status.  Rescheduling needs a new date and results may
// only be attached when the visit completes.
func (u VisitUpdate) Apply(v *Visit, now time.Time) error {
	if !u.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidVisit, u.Status)
	}
	if !v.Status.CanBecome(u.Status) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, v.Status, u.Status)
	}
	if u.Status == VisitRescheduled {
		if u.ScheduledFor == nil || u.ScheduledFor.IsZero() {
			return fmt.Errorf("%w: rescheduling needs scheduled_for", ErrInvalidVisit)
		}
	} else if u.ScheduledFor != nil {
		return fmt.Errorf("%w: scheduled_for only changes when rescheduling", ErrInvalidVisit)
	}
	if u.Results != nil && u.Status != VisitCompleted {
		return fmt.Errorf("%w: results belong to a completed visit", ErrInvalidVisit)
	}

	v.Status = u.Status
	if u.ScheduledFor != nil {
		v.ScheduledFor = u.ScheduledFor.UTC()
	}
	if u.Notes != nil {
		v.Notes = strings.TrimSpace(*u.Notes)
	}
	if u.Results != nil {
		r := *u.Results
		v.Results = &r
	}
	v.UpdatedAt = now
	return nil
}
