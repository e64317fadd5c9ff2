package models

import (
	"sort"
	"strings"
	"time"

	id "ballotbox/pkg/domain"
	dErrors "ballotbox/pkg/domain-errors"
)

const (
	MaxNameLength      = 200
	MaxPositionLength  = 200
	MaxDistrictLength  = 64
	MaxBioLength       = 5000
	MaxManifestoLength = 10000
)

type CandidateStatus string

const (
	CandidateActive    CandidateStatus = "ACTIVE"
	CandidateWithdrawn CandidateStatus = "WITHDRAWN"
)

func ParseCandidateStatus(s string) (CandidateStatus, error) {
	status := CandidateStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch status {
	case CandidateActive, CandidateWithdrawn:
		return status, nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "invalid candidate status %q", s)
}

// Candidate belongs to exactly one election. DistrictID is a weak reference
// into the portal's district registry and is not validated here.
type Candidate struct {
	ID         id.CandidateID  `json:"id"`
	ElectionID id.ElectionID   `json:"election_id"`
	Name       string          `json:"name"`
	Position   string          `json:"position"`
	DistrictID string          `json:"district_id,omitempty"`
	Bio        string          `json:"bio,omitempty"`
	Manifesto  string          `json:"manifesto,omitempty"`
	Status     CandidateStatus `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func NewCandidate(candidateID id.CandidateID, electionID id.ElectionID, name, position, districtID, bio, manifesto string, now time.Time) (*Candidate, error) {
	c := &Candidate{
		ID:         candidateID,
		ElectionID: electionID,
		Name:       strings.TrimSpace(name),
		Position:   strings.TrimSpace(position),
		DistrictID: strings.TrimSpace(districtID),
		Bio:        strings.TrimSpace(bio),
		Manifesto:  strings.TrimSpace(manifesto),
		Status:     CandidateActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Candidate) Validate() error {
	switch {
	case c.Name == "":
		return dErrors.New(dErrors.CodeValidation, "name is required")
	case len(c.Name) > MaxNameLength:
		return dErrors.New(dErrors.CodeValidation, "name must be 200 characters or less")
	case c.Position == "":
		return dErrors.New(dErrors.CodeValidation, "position is required")
	case len(c.Position) > MaxPositionLength:
		return dErrors.New(dErrors.CodeValidation, "position must be 200 characters or less")
	case len(c.DistrictID) > MaxDistrictLength:
		return dErrors.New(dErrors.CodeValidation, "district_id must be 64 characters or less")
	case len(c.Bio) > MaxBioLength:
		return dErrors.New(dErrors.CodeValidation, "bio must be 5000 characters or less")
	case len(c.Manifesto) > MaxManifestoLength:
		return dErrors.New(dErrors.CodeValidation, "manifesto must be 10000 characters or less")
	}
	return nil
}

// NameKey and PositionKey are the case-insensitive forms behind the
// (election, name, position) uniqueness constraint.
func (c *Candidate) NameKey() string {
	return strings.ToLower(strings.TrimSpace(c.Name))
}

func (c *Candidate) PositionKey() string {
	return strings.ToLower(strings.TrimSpace(c.Position))
}

func (c *Candidate) IsWithdrawn() bool {
	return c.Status == CandidateWithdrawn
}

// SortCandidateVotes orders candidates by name, then position, then id,
// ignoring case.
func SortCandidateVotes(rows []CandidateVotes) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := &rows[i].Candidate, &rows[j].Candidate
		if a.NameKey() != b.NameKey() {
			return a.NameKey() < b.NameKey()
		}
		if a.PositionKey() != b.PositionKey() {
			return a.PositionKey() < b.PositionKey()
		}
		return a.ID.String() < b.ID.String()
	})
}
