package models

import (
	"math"
	"sort"

	id "ballotbox/pkg/domain"
)

// CandidateVotes is a candidate annotated with its vote count at read time.
type CandidateVotes struct {
	Candidate
	VoteCount int `json:"vote_count"`
}

// TallyEntry is one row of an election tally.
type TallyEntry struct {
	CandidateID       id.CandidateID  `json:"candidate_id"`
	CandidateName     string          `json:"candidate_name"`
	CandidatePosition string          `json:"candidate_position"`
	CandidateStatus   CandidateStatus `json:"candidate_status"`
	VoteCount         int             `json:"vote_count"`
	Percentage        float64         `json:"percentage"`
}

// BuildTally turns per-candidate counts into a tally: every candidate once,
// ordered by votes descending, then name, then id. Percentages are rounded
// to two decimals and are zero when no ballots exist.
func BuildTally(rows []CandidateVotes) []TallyEntry {
	total := 0
	for _, r := range rows {
		total += r.VoteCount
	}

	entries := make([]TallyEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, TallyEntry{
			CandidateID:       r.ID,
			CandidateName:     r.Name,
			CandidatePosition: r.Position,
			CandidateStatus:   r.Status,
			VoteCount:         r.VoteCount,
			Percentage:        Percentage(r.VoteCount, total),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].VoteCount != entries[j].VoteCount {
			return entries[i].VoteCount > entries[j].VoteCount
		}
		if entries[i].CandidateName != entries[j].CandidateName {
			return entries[i].CandidateName < entries[j].CandidateName
		}
		return entries[i].CandidateID.String() < entries[j].CandidateID.String()
	})
	return entries
}

// Percentage returns 100*count/total rounded to two decimals.
func Percentage(count, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(count)*10000/float64(total)) / 100
}

// TotalVotes sums a tally.
func TotalVotes(entries []TallyEntry) int {
	total := 0
	for _, e := range entries {
		total += e.VoteCount
	}
	return total
}
