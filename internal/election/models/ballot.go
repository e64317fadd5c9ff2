package models

import (
	"strings"
	"time"

	id "ballotbox/pkg/domain"
	dErrors "ballotbox/pkg/domain-errors"
	"ballotbox/pkg/email"
)

const (
	MaxVoterIDLength   = 128
	MaxUserAgentLength = 512
)

// Ballot is one recorded vote. It is never mutated after creation.
type Ballot struct {
	ID          id.BallotID    `json:"id"`
	ElectionID  id.ElectionID  `json:"election_id"`
	CandidateID id.CandidateID `json:"candidate_id"`
	VoterID     string         `json:"voter_id,omitempty"`
	VoterEmail  string         `json:"voter_email,omitempty"`
	IPAddress   string         `json:"ip_address,omitempty"`
	UserAgent   string         `json:"user_agent,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Receipt is the public view of a ballot: no identity signals.
type Receipt struct {
	ID          id.BallotID    `json:"id"`
	ElectionID  id.ElectionID  `json:"election_id"`
	CandidateID id.CandidateID `json:"candidate_id"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (b *Ballot) Receipt() Receipt {
	return Receipt{ID: b.ID, ElectionID: b.ElectionID, CandidateID: b.CandidateID, CreatedAt: b.CreatedAt}
}

// VoterSignals are the identity signals a voter presents. Empty means absent.
// Authenticated is set only when VoterID is the subject of a validated member
// token; a voter_id typed into a request body leaves it false.
type VoterSignals struct {
	VoterID       string
	VoterEmail    string
	IPAddress     string
	UserAgent     string
	Authenticated bool
}

// Normalize trims every signal, lower-cases the email and truncates the
// informational user agent.
func (s VoterSignals) Normalize() VoterSignals {
	s.VoterID = strings.TrimSpace(s.VoterID)
	s.VoterEmail = email.Normalize(s.VoterEmail)
	s.IPAddress = strings.TrimSpace(s.IPAddress)
	s.UserAgent = strings.TrimSpace(s.UserAgent)
	if len(s.UserAgent) > MaxUserAgentLength {
		s.UserAgent = s.UserAgent[:MaxUserAgentLength]
	}
	if s.IPAddress == "unknown" {
		s.IPAddress = ""
	}
	return s
}

// Empty reports whether no identity signal is present.
func (s VoterSignals) Empty() bool {
	return s.VoterID == "" && s.VoterEmail == "" && s.IPAddress == ""
}

// ClaimKind names the identity dimension a claim reserves.
type ClaimKind string

const (
	ClaimVoterID    ClaimKind = "voter_id"
	ClaimVoterEmail ClaimKind = "voter_email"
	ClaimIPAddress  ClaimKind = "ip_address"
	ClaimIPAndEmail ClaimKind = "ip_email"
)

// Claim reserves one identity value within one election. The ledger stores
// claims under a unique (election, kind, value) key, which is what makes the
// duplicate check and the ballot insert a single atomic step.
type Claim struct {
	Kind  ClaimKind
	Value string
}

// ClaimsFor derives the claims a ballot takes under policy. Signals must be
// normalized.
func ClaimsFor(policy DedupPolicy, s VoterSignals) ([]Claim, error) {
	if s.Empty() {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one of voter_id, voter_email or ip_address is required").
			WithReason(ReasonMissingIdentity)
	}
	if len(s.VoterID) > MaxVoterIDLength {
		return nil, dErrors.New(dErrors.CodeValidation, "voter_id must be 128 characters or less")
	}
	if s.VoterEmail != "" && !email.Valid(s.VoterEmail) {
		return nil, dErrors.New(dErrors.CodeValidation, "voter_email must be a valid email address")
	}

	var claims []Claim
	switch policy {
	case PolicyVoterID:
		if s.VoterID == "" || !s.Authenticated {
			return nil, dErrors.New(dErrors.CodeValidation, "this election requires an authenticated voter id").
				WithReason(ReasonVoterIDRequired)
		}
		claims = append(claims, Claim{Kind: ClaimVoterID, Value: s.VoterID})
	case PolicyIPAndEmail:
		if s.VoterID != "" {
			claims = append(claims, Claim{Kind: ClaimVoterID, Value: s.VoterID})
		}
		if s.IPAddress != "" || s.VoterEmail != "" {
			claims = append(claims, Claim{Kind: ClaimIPAndEmail, Value: s.IPAddress + "|" + s.VoterEmail})
		}
	default:
		if s.VoterID != "" {
			claims = append(claims, Claim{Kind: ClaimVoterID, Value: s.VoterID})
		}
		if s.VoterEmail != "" {
			claims = append(claims, Claim{Kind: ClaimVoterEmail, Value: s.VoterEmail})
		}
		if s.IPAddress != "" {
			claims = append(claims, Claim{Kind: ClaimIPAddress, Value: s.IPAddress})
		}
	}
	return claims, nil
}

// NewBallot builds a ballot from normalized signals.
func NewBallot(ballotID id.BallotID, electionID id.ElectionID, candidateID id.CandidateID, s VoterSignals, now time.Time) *Ballot {
	return &Ballot{
		ID:          ballotID,
		ElectionID:  electionID,
		CandidateID: candidateID,
		VoterID:     s.VoterID,
		VoterEmail:  s.VoterEmail,
		IPAddress:   s.IPAddress,
		UserAgent:   s.UserAgent,
		CreatedAt:   now,
	}
}
