package models

import (
	"strings"
	"time"

	id "ballotbox/pkg/domain"
	dErrors "ballotbox/pkg/domain-errors"
)

// CreateElectionRequest is the input for creating an election.
type CreateElectionRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	Published   bool      `json:"published"`
	DedupPolicy string    `json:"dedup_policy"`

	parsedType   ElectionType
	parsedStatus Status
	parsedPolicy DedupPolicy
}

func (r *CreateElectionRequest) Normalize() {
	r.Title = strings.TrimSpace(r.Title)
	r.Description = strings.TrimSpace(r.Description)
}

func (r *CreateElectionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.Title == "" {
		return dErrors.New(dErrors.CodeValidation, "title is required")
	}
	var err error
	if r.Type != "" {
		if r.parsedType, err = ParseElectionType(r.Type); err != nil {
			return err
		}
	}
	if r.Status != "" {
		if r.parsedStatus, err = ParseStatus(r.Status); err != nil {
			return err
		}
		if !r.parsedStatus.AllowedAtCreation() {
			return dErrors.New(dErrors.CodeValidation, "elections can only be created as UPCOMING or ACTIVE")
		}
	}
	if r.DedupPolicy != "" {
		if r.parsedPolicy, err = ParseDedupPolicy(r.DedupPolicy); err != nil {
			return err
		}
	}
	if r.StartDate.IsZero() || r.EndDate.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "start_date and end_date are required").WithReason(ReasonInvalidDates)
	}
	if !r.StartDate.Before(r.EndDate) {
		return dErrors.New(dErrors.CodeValidation, "start_date must be before end_date").WithReason(ReasonInvalidDates)
	}
	return nil
}

func (r *CreateElectionRequest) ParsedType() ElectionType  { return r.parsedType }
func (r *CreateElectionRequest) ParsedStatus() Status      { return r.parsedStatus }
func (r *CreateElectionRequest) ParsedPolicy() DedupPolicy { return r.parsedPolicy }

// UpdateElectionRequest is a partial update: nil fields are left unchanged.
// ExpectedVersion opts into optimistic locking.
type UpdateElectionRequest struct {
	Title           *string    `json:"title,omitempty"`
	Description     *string    `json:"description,omitempty"`
	Type            *string    `json:"type,omitempty"`
	Status          *string    `json:"status,omitempty"`
	StartDate       *time.Time `json:"start_date,omitempty"`
	EndDate         *time.Time `json:"end_date,omitempty"`
	Published       *bool      `json:"published,omitempty"`
	DedupPolicy     *string    `json:"dedup_policy,omitempty"`
	ExpectedVersion *int       `json:"expected_version,omitempty"`
}

func (r *UpdateElectionRequest) Normalize() {
	if r.Title != nil {
		t := strings.TrimSpace(*r.Title)
		r.Title = &t
	}
	if r.Description != nil {
		d := strings.TrimSpace(*r.Description)
		r.Description = &d
	}
}

func (r *UpdateElectionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.Title != nil && *r.Title == "" {
		return dErrors.New(dErrors.CodeValidation, "title cannot be empty")
	}
	if r.Type != nil {
		if _, err := ParseElectionType(*r.Type); err != nil {
			return err
		}
	}
	if r.Status != nil {
		if _, err := ParseStatus(*r.Status); err != nil {
			return err
		}
	}
	if r.DedupPolicy != nil {
		if _, err := ParseDedupPolicy(*r.DedupPolicy); err != nil {
			return err
		}
	}
	if r.ExpectedVersion != nil && *r.ExpectedVersion < 1 {
		return dErrors.New(dErrors.CodeValidation, "expected_version must be positive")
	}
	return nil
}

// ChangesScheduleOrRules reports whether the update touches fields that are
// frozen once an election is over.
func (r *UpdateElectionRequest) ChangesScheduleOrRules() bool {
	return r.Type != nil || r.StartDate != nil || r.EndDate != nil || r.DedupPolicy != nil
}

// ListFilter narrows an election listing.
type ListFilter struct {
	Status    *Status
	Published *bool
	Limit     int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Normalize clamps the limit into [1, MaxListLimit].
func (f *ListFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
}

// CreateCandidateRequest is the input for registering a candidate.
type CreateCandidateRequest struct {
	Name       string `json:"name"`
	Position   string `json:"position"`
	DistrictID string `json:"district_id"`
	Bio        string `json:"bio"`
	Manifesto  string `json:"manifesto"`
}

func (r *CreateCandidateRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Position = strings.TrimSpace(r.Position)
	r.DistrictID = strings.TrimSpace(r.DistrictID)
}

func (r *CreateCandidateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if r.Position == "" {
		return dErrors.New(dErrors.CodeValidation, "position is required")
	}
	return nil
}

// UpdateCandidateRequest is a partial candidate update.
type UpdateCandidateRequest struct {
	Name       *string `json:"name,omitempty"`
	Position   *string `json:"position,omitempty"`
	DistrictID *string `json:"district_id,omitempty"`
	Bio        *string `json:"bio,omitempty"`
	Manifesto  *string `json:"manifesto,omitempty"`
	Status     *string `json:"status,omitempty"`
}

func (r *UpdateCandidateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.Name != nil && strings.TrimSpace(*r.Name) == "" {
		return dErrors.New(dErrors.CodeValidation, "name cannot be empty")
	}
	if r.Position != nil && strings.TrimSpace(*r.Position) == "" {
		return dErrors.New(dErrors.CodeValidation, "position cannot be empty")
	}
	if r.Status != nil {
		if _, err := ParseCandidateStatus(*r.Status); err != nil {
			return err
		}
	}
	return nil
}

// Apply copies the set fields onto c.
func (r *UpdateCandidateRequest) Apply(c *Candidate, now time.Time) {
	if r.Name != nil {
		c.Name = strings.TrimSpace(*r.Name)
	}
	if r.Position != nil {
		c.Position = strings.TrimSpace(*r.Position)
	}
	if r.DistrictID != nil {
		c.DistrictID = strings.TrimSpace(*r.DistrictID)
	}
	if r.Bio != nil {
		c.Bio = strings.TrimSpace(*r.Bio)
	}
	if r.Manifesto != nil {
		c.Manifesto = strings.TrimSpace(*r.Manifesto)
	}
	if r.Status != nil {
		c.Status, _ = ParseCandidateStatus(*r.Status)
	}
	c.UpdatedAt = now
}

// CastVoteRequest is the public vote body. The client IP and user agent come
// from the request, never from the body.
type CastVoteRequest struct {
	CandidateID string `json:"candidate_id"`
	VoterEmail  string `json:"voter_email,omitempty"`
	VoterID     string `json:"voter_id,omitempty"`

	parsedCandidateID id.CandidateID
}

func (r *CastVoteRequest) Normalize() {
	r.CandidateID = strings.TrimSpace(r.CandidateID)
	r.VoterID = strings.TrimSpace(r.VoterID)
	r.VoterEmail = strings.TrimSpace(r.VoterEmail)
}

func (r *CastVoteRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	candidateID, err := id.ParseCandidateID(r.CandidateID)
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, "candidate_id must be a valid id").WithReason(ReasonInvalidCandidate)
	}
	r.parsedCandidateID = candidateID
	return nil
}

func (r *CastVoteRequest) ParsedCandidateID() id.CandidateID { return r.parsedCandidateID }
