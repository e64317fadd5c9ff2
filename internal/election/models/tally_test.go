package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "ballotbox/pkg/domain"
)

func votes(name string, n int) CandidateVotes {
	return CandidateVotes{
		Candidate: Candidate{ID: id.NewCandidateID(), Name: name, Position: "Chair", Status: CandidateActive},
		VoteCount: n,
	}
}

func TestBuildTally(t *testing.T) {
	t.Run("orders by count then name", func(t *testing.T) {
		tally := BuildTally([]CandidateVotes{votes("Carol", 1), votes("Bob", 2), votes("Alice", 1), votes("Dan", 0)})
		require.Len(t, tally, 4)
		names := []string{tally[0].CandidateName, tally[1].CandidateName, tally[2].CandidateName, tally[3].CandidateName}
		assert.Equal(t, []string{"Bob", "Alice", "Carol", "Dan"}, names)
		assert.Equal(t, 4, TotalVotes(tally))
	})

	t.Run("percentages are rounded and sum to about one hundred", func(t *testing.T) {
		tally := BuildTally([]CandidateVotes{votes("A", 1), votes("B", 1), votes("C", 1)})
		sum := 0.0
		for _, e := range tally {
			assert.Equal(t, 33.33, e.Percentage)
			sum += e.Percentage
		}
		assert.InDelta(t, 100, sum, 0.01*float64(len(tally)))
	})

	t.Run("no ballots means zero percent everywhere", func(t *testing.T) {
		tally := BuildTally([]CandidateVotes{votes("A", 0), votes("B", 0)})
		for _, e := range tally {
			assert.Zero(t, e.Percentage)
			assert.Zero(t, e.VoteCount)
		}
	})

	t.Run("empty election yields empty tally", func(t *testing.T) {
		assert.Empty(t, BuildTally(nil))
	})
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, 66.67, Percentage(2, 3))
	assert.Equal(t, 100.0, Percentage(5, 5))
	assert.Equal(t, 0.0, Percentage(0, 0))
}
