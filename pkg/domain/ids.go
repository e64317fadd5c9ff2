package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "ballotbox/pkg/domain-errors"
)

// Typed identifiers keep election, candidate and ballot ids from being mixed
// up at compile time.
type (
	ElectionID  uuid.UUID
	CandidateID uuid.UUID
	BallotID    uuid.UUID
)

func NewElectionID() ElectionID   { return ElectionID(uuid.New()) }
func NewCandidateID() CandidateID { return CandidateID(uuid.New()) }
func NewBallotID() BallotID       { return BallotID(uuid.New()) }

func ParseElectionID(s string) (ElectionID, error) {
	u, err := parseUUID(s, "election id")
	return ElectionID(u), err
}

func ParseCandidateID(s string) (CandidateID, error) {
	u, err := parseUUID(s, "candidate id")
	return CandidateID(u), err
}

func ParseBallotID(s string) (BallotID, error) {
	u, err := parseUUID(s, "ballot id")
	return BallotID(u), err
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s is required", label)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s must be a valid UUID", label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s must not be nil", label)
	}
	return u, nil
}

func (id ElectionID) String() string  { return uuid.UUID(id).String() }
func (id CandidateID) String() string { return uuid.UUID(id).String() }
func (id BallotID) String() string    { return uuid.UUID(id).String() }

func (id ElectionID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id CandidateID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id BallotID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id ElectionID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }
func (id CandidateID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id BallotID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }

func (id *ElectionID) UnmarshalText(b []byte) error  { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *CandidateID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *BallotID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }
