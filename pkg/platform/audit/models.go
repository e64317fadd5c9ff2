package audit

import (
	"context"
	"errors"
	"time"
)

// EventCategory classifies audit events by their primary purpose so sinks
// can route and retain them differently.
type EventCategory string

const (
	// CategoryCompliance covers events that change what the election
	// counts: ballots, candidate roster, lifecycle.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers rejected or suspicious attempts.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine administrative edits.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out. Voter identity
// signals never go into events.
type Event struct {
	ID          string        `json:"id"`
	Category    EventCategory `json:"category"`
	Timestamp   time.Time     `json:"timestamp"`
	Action      string        `json:"action"`
	ElectionID  string        `json:"election_id,omitempty"`
	CandidateID string        `json:"candidate_id,omitempty"`
	BallotID    string        `json:"ballot_id,omitempty"`
	// ActorID is the authenticated member or operator behind the action.
	ActorID   string `json:"actor_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	// FromStatus and ToStatus are set on lifecycle transitions.
	FromStatus string `json:"from_status,omitempty"`
	ToStatus   string `json:"to_status,omitempty"`
}

// Store is any sink that accepts audit events: a log, a Kafka topic, memory.
type Store interface {
	Append(ctx context.Context, event Event) error
}

type AuditEvent string

const (
	// Election events
	EventElectionCreated      AuditEvent = "election_created"
	EventElectionUpdated      AuditEvent = "election_updated"
	EventElectionTransitioned AuditEvent = "election_transitioned"
	EventElectionDeleted      AuditEvent = "election_deleted"

	// Candidate events
	EventCandidateCreated AuditEvent = "candidate_created"
	EventCandidateUpdated AuditEvent = "candidate_updated"
	EventCandidateDeleted AuditEvent = "candidate_deleted"

	// Ballot events
	EventVoteCast     AuditEvent = "vote_cast"
	EventVoteRejected AuditEvent = "vote_rejected"

	// Rate limit events
	EventRateLimitExceeded AuditEvent = "rate_limit_exceeded"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventElectionCreated:      CategoryCompliance,
	EventElectionTransitioned: CategoryCompliance,
	EventElectionDeleted:      CategoryCompliance,
	EventCandidateCreated:     CategoryCompliance,
	EventCandidateDeleted:     CategoryCompliance,
	EventVoteCast:             CategoryCompliance,

	EventVoteRejected:      CategorySecurity,
	EventRateLimitExceeded: CategorySecurity,

	EventElectionUpdated:  CategoryOperations,
	EventCandidateUpdated: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// MultiStore fans an event out to every store, joining their errors.
type MultiStore []Store

func (m MultiStore) Append(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
