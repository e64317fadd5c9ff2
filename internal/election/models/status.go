package models

import (
	"strings"

	dErrors "ballotbox/pkg/domain-errors"
)

// Status is the lifecycle state of an election.
type Status string

const (
	StatusUpcoming  Status = "UPCOMING"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

var transitions = map[Status][]Status{
	StatusUpcoming: {StatusActive, StatusCancelled},
	StatusActive:   {StatusCompleted, StatusCancelled},
}

// ParseStatus accepts any casing and rejects unknown values.
func ParseStatus(s string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !status.IsValid() {
		return "", dErrors.Newf(dErrors.CodeValidation, "invalid election status %q", s)
	}
	return status, nil
}

func (s Status) IsValid() bool {
	switch s {
	case StatusUpcoming, StatusActive, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no transition may leave s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransitionTo reports whether s -> to is an edge of the lifecycle graph.
// Same-state moves are not edges; callers treat them as no-ops.
func (s Status) CanTransitionTo(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AllowedAtCreation reports whether a new election may start in s.
func (s Status) AllowedAtCreation() bool {
	return s == StatusUpcoming || s == StatusActive
}

func (s Status) String() string {
	return string(s)
}

// ElectionType classifies the election for the portal. It carries no
// behaviour of its own.
type ElectionType string

const (
	TypeGeneral    ElectionType = "GENERAL"
	TypeByElection ElectionType = "BY_ELECTION"
	TypeSpecial    ElectionType = "SPECIAL"
)

func ParseElectionType(s string) (ElectionType, error) {
	t := ElectionType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case TypeGeneral, TypeByElection, TypeSpecial:
		return t, nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "invalid election type %q", s)
}

// DedupPolicy decides which identity claims a ballot takes.
type DedupPolicy string

const (
	// PolicyAnySignal claims every supplied signal: a ballot matching any
	// earlier voter id, email or IP is rejected.
	PolicyAnySignal DedupPolicy = "ANY_SIGNAL"
	// PolicyVoterID requires a voter id and claims only that.
	PolicyVoterID DedupPolicy = "VOTER_ID"
	// PolicyIPAndEmail claims the (ip, email) pair, plus the voter id when given.
	PolicyIPAndEmail DedupPolicy = "IP_AND_EMAIL"
)

func ParseDedupPolicy(s string) (DedupPolicy, error) {
	p := DedupPolicy(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case PolicyAnySignal, PolicyVoterID, PolicyIPAndEmail:
		return p, nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "invalid dedup policy %q", s)
}
