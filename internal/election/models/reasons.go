package models

// Machine-readable reasons returned alongside error codes so clients can
// branch without parsing messages.
const (
	ReasonElectionNotFound   = "election_not_found"
	ReasonCandidateNotFound  = "candidate_not_found"
	ReasonElectionNotActive  = "election_not_active"
	ReasonElectionClosed     = "election_closed"
	ReasonTerminalState      = "terminal_state"
	ReasonInvalidTransition  = "invalid_transition"
	ReasonPolicyLocked       = "policy_locked"
	ReasonInvalidCandidate   = "invalid_candidate"
	ReasonCandidateWithdrawn = "candidate_withdrawn"
	ReasonMissingIdentity    = "missing_identity"
	ReasonVoterIDRequired    = "voter_id_required"
	ReasonAlreadyVoted       = "already_voted"
	ReasonInvalidDates       = "invalid_dates"
	ReasonHasDependents      = "has_dependents"
	ReasonDuplicateCandidate = "duplicate_candidate"
	ReasonVersionMismatch    = "version_mismatch"
)
