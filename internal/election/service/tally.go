package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"ballotbox/internal/election/models"
	id "ballotbox/pkg/domain"
	dErrors "ballotbox/pkg/domain-errors"
)

// GetTally counts ballots per candidate. Every candidate appears once,
// ordered by votes, then name, then id. The result is not a snapshot:
// casts committed while it runs may or may not be counted.
func (s *Service) GetTally(ctx context.Context, electionID id.ElectionID) ([]models.TallyEntry, error) {
	start := time.Now()
	defer s.metrics.ObserveGetTally(start)

	ctx, span := s.tracer.Start(ctx, "election.GetTally")
	defer span.End()
	span.SetAttributes(attribute.String("election.id", electionID.String()))

	entries, generation, ok := s.cachedTally(ctx, electionID)
	if ok {
		span.SetAttributes(attribute.Bool("tally.cached", true))
		return entries, nil
	}

	if _, err := s.store.FindElection(ctx, electionID); err != nil {
		return nil, wrapElectionErr(err, "load election")
	}
	rows, err := s.store.ListCandidateVotes(ctx, electionID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count votes")
	}
	entries = models.BuildTally(rows)

	if generation >= 0 {
		if err := s.tallies.Set(ctx, electionID, generation, entries); err != nil {
			s.logger.WarnContext(ctx, "failed to cache tally", "election_id", electionID.String(), "error", err)
		}
	}
	return entries, nil
}

// cachedTally returns a hit, or on a miss the generation to store under.
// The generation is read before the ledger so a concurrent cast bumps it.
func (s *Service) cachedTally(ctx context.Context, electionID id.ElectionID) ([]models.TallyEntry, int64, bool) {
	if s.tallies == nil {
		return nil, -1, false
	}
	entries, generation, ok, err := s.tallies.Get(ctx, electionID)
	switch {
	case err != nil:
		s.metrics.IncrementTallyCache("error")
		s.logger.WarnContext(ctx, "tally cache unavailable", "election_id", electionID.String(), "error", err)
		return nil, -1, false
	case !ok:
		s.metrics.IncrementTallyCache("miss")
		return nil, generation, false
	}
	s.metrics.IncrementTallyCache("hit")
	return entries, 0, true
}
