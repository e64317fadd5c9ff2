package models

// ElectionSummary is an election with its aggregate counts, as listed.
type ElectionSummary struct {
	Election
	CandidateCount int `json:"candidate_count"`
	VoteCount      int `json:"vote_count"`
}

// ElectionDetails is the full read model behind GET /elections/{id}.
type ElectionDetails struct {
	Election       *Election        `json:"election"`
	Candidates     []CandidateVotes `json:"candidates"`
	CandidateCount int              `json:"candidate_count"`
	TotalVotes     int              `json:"total_votes"`
}

// CandidateDetails is the administrative view of a candidate, including
// the ballots cast for it with their identity signals.
type CandidateDetails struct {
	Candidate *Candidate `json:"candidate"`
	Election  *Election  `json:"election"`
	VoteCount int        `json:"vote_count"`
	Ballots   []Ballot   `json:"ballots"`
}

// Stats are the aggregates the portal's dashboard reads.
type Stats struct {
	TotalElections    int            `json:"total_elections"`
	ElectionsByStatus map[Status]int `json:"elections_by_status"`
	TotalCandidates   int            `json:"total_candidates"`
	TotalVotes        int            `json:"total_votes"`
}

// Dependents counts the rows that hang off an election or candidate.
type Dependents struct {
	Candidates int
	Ballots    int
}

func (d Dependents) Any() bool {
	return d.Candidates > 0 || d.Ballots > 0
}
