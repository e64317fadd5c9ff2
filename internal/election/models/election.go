package models

import (
	"strings"
	"time"

	id "ballotbox/pkg/domain"
	dErrors "ballotbox/pkg/domain-errors"
)

const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 5000
)

// Election is the aggregate that gates candidate registration and voting.
//
// Invariants:
//   - Title is non-empty and at most 200 characters
//   - StartDate is strictly before EndDate
//   - Status only moves along UPCOMING -> ACTIVE -> COMPLETED, with
//     CANCELLED reachable from both non-terminal states
//   - Version increases by one on every persisted update
type Election struct {
	ID          id.ElectionID `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Type        ElectionType  `json:"type"`
	Status      Status        `json:"status"`
	StartDate   time.Time     `json:"start_date"`
	EndDate     time.Time     `json:"end_date"`
	Published   bool          `json:"published"`
	DedupPolicy DedupPolicy   `json:"dedup_policy"`
	Version     int           `json:"version"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// NewElection builds a validated election. Zero-valued type, status and
// policy take their defaults.
func NewElection(electionID id.ElectionID, title, description string, typ ElectionType, status Status,
	start, end time.Time, published bool, policy DedupPolicy, now time.Time) (*Election, error) {
	if typ == "" {
		typ = TypeGeneral
	}
	if status == "" {
		status = StatusUpcoming
	}
	if policy == "" {
		policy = PolicyAnySignal
	}
	e := &Election{
		ID:          electionID,
		Title:       strings.TrimSpace(title),
		Description: strings.TrimSpace(description),
		Type:        typ,
		Status:      status,
		StartDate:   start.UTC(),
		EndDate:     end.UTC(),
		Published:   published,
		DedupPolicy: policy,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if !status.AllowedAtCreation() {
		return nil, dErrors.New(dErrors.CodeValidation, "elections can only be created as UPCOMING or ACTIVE")
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate checks the field invariants that hold in every state.
func (e *Election) Validate() error {
	if e.Title == "" {
		return dErrors.New(dErrors.CodeValidation, "title is required")
	}
	if len(e.Title) > MaxTitleLength {
		return dErrors.New(dErrors.CodeValidation, "title must be 200 characters or less")
	}
	if len(e.Description) > MaxDescriptionLength {
		return dErrors.New(dErrors.CodeValidation, "description must be 5000 characters or less")
	}
	if e.StartDate.IsZero() || e.EndDate.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "start_date and end_date are required").WithReason(ReasonInvalidDates)
	}
	if !e.StartDate.Before(e.EndDate) {
		return dErrors.New(dErrors.CodeValidation, "start_date must be before end_date").WithReason(ReasonInvalidDates)
	}
	return nil
}

// AcceptsVotes reports whether the ledger may record ballots. Status is
// authoritative; dates are enforced by the lifecycle sweep.
func (e *Election) AcceptsVotes() bool {
	return e.Status == StatusActive
}

// AcceptsCandidateChanges reports whether candidates may be added or edited.
func (e *Election) AcceptsCandidateChanges() bool {
	return !e.Status.IsTerminal()
}

// CanTransition validates a move to the target status without applying it.
// A same-state move is a no-op and only allowed outside terminal states.
func (e *Election) CanTransition(to Status) error {
	if !to.IsValid() {
		return dErrors.Newf(dErrors.CodeValidation, "invalid election status %q", to)
	}
	if e.Status.IsTerminal() {
		return dErrors.Newf(dErrors.CodeStateConflict, "election is %s and can no longer change status", e.Status).
			WithReason(ReasonTerminalState)
	}
	if e.Status == to {
		return nil
	}
	if !e.Status.CanTransitionTo(to) {
		return dErrors.Newf(dErrors.CodeStateConflict, "cannot move election from %s to %s", e.Status, to).
			WithReason(ReasonInvalidTransition)
	}
	return nil
}

// Transition validates and applies a status change.
func (e *Election) Transition(to Status, now time.Time) error {
	if err := e.CanTransition(to); err != nil {
		return err
	}
	if e.Status != to {
		e.Status = to
		e.UpdatedAt = now
	}
	return nil
}

// DueTransitions lists the time-driven transitions owed at now, in order.
// An UPCOMING election whose whole window has passed owes both steps.
func (e *Election) DueTransitions(now time.Time) []Status {
	var due []Status
	status := e.Status
	if status == StatusUpcoming && !now.Before(e.StartDate) {
		due = append(due, StatusActive)
		status = StatusActive
	}
	if status == StatusActive && now.After(e.EndDate) {
		due = append(due, StatusCompleted)
	}
	return due
}
