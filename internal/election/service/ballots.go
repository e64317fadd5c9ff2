package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"ballotbox/internal/election/models"
	id "ballotbox/pkg/domain"
	dErrors "ballotbox/pkg/domain-errors"
	"ballotbox/pkg/platform/audit"
	"ballotbox/pkg/platform/sentinel"
	"ballotbox/pkg/requestcontext"
)

func alreadyVoted() error {
	return dErrors.New(dErrors.CodeDuplicateVote, "a vote has already been recorded for this voter in this election").
		WithReason(models.ReasonAlreadyVoted)
}

// CastVote records one ballot. Preconditions are checked in order: the
// election exists, it is ACTIVE, the candidate belongs to it and has not
// withdrawn, and the signals satisfy the election's dedup policy. The
// claim check and the insert share one transaction, so two concurrent casts
// with an overlapping claim record exactly one ballot.
func (s *Service) CastVote(ctx context.Context, electionID id.ElectionID, candidateID id.CandidateID, signals models.VoterSignals) (*models.Ballot, error) {
	start := time.Now()
	defer s.metrics.ObserveCastVote(start)

	ctx, span := s.tracer.Start(ctx, "election.CastVote")
	defer span.End()
	span.SetAttributes(
		attribute.String("election.id", electionID.String()),
		attribute.String("candidate.id", candidateID.String()),
	)

	signals = signals.Normalize()
	var ballot *models.Ballot
	err := s.store.RunInTx(ctx, func(txCtx context.Context) error {
		e, err := s.store.LockElection(txCtx, electionID, false)
		if err != nil {
			return wrapElectionErr(err, "load election")
		}
		if !e.AcceptsVotes() {
			return dErrors.Newf(dErrors.CodeStateConflict, "election is %s and not accepting votes", e.Status).
				WithReason(models.ReasonElectionNotActive)
		}

		c, err := s.store.FindCandidate(txCtx, candidateID)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load candidate")
		}
		if err != nil || c.ElectionID != electionID {
			return dErrors.New(dErrors.CodeValidation, "candidate is not standing in this election").
				WithReason(models.ReasonInvalidCandidate)
		}
		if c.IsWithdrawn() {
			return dErrors.New(dErrors.CodeStateConflict, "candidate has withdrawn").
				WithReason(models.ReasonCandidateWithdrawn)
		}

		claims, err := models.ClaimsFor(e.DedupPolicy, signals)
		if err != nil {
			return err
		}
		taken, err := s.store.ClaimsTaken(txCtx, electionID, claims)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check previous votes")
		}
		if taken {
			return alreadyVoted()
		}

		b := models.NewBallot(id.NewBallotID(), electionID, candidateID, signals, requestcontext.Now(txCtx))
		if err := s.store.InsertBallot(txCtx, b, claims); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return alreadyVoted()
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record ballot")
		}
		ballot = b
		return nil
	})
	if err != nil {
		s.rejectVote(ctx, electionID, candidateID, err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		return nil, err
	}

	s.invalidateTally(ctx, electionID)
	s.metrics.IncrementVoteCast()
	s.logAudit(ctx, audit.EventVoteCast, audit.Event{
		ElectionID:  electionID.String(),
		CandidateID: candidateID.String(),
		BallotID:    ballot.ID.String(),
	})
	return ballot, nil
}

func (s *Service) rejectVote(ctx context.Context, electionID id.ElectionID, candidateID id.CandidateID, err error) {
	reason := dErrors.ReasonOf(err)
	s.metrics.IncrementVoteRejected(reason)
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		s.logger.ErrorContext(ctx, "failed to cast vote",
			"election_id", electionID.String(),
			"error", err,
		)
		return
	}
	if reason == models.ReasonAlreadyVoted {
		s.logAudit(ctx, audit.EventVoteRejected, audit.Event{
			ElectionID:  electionID.String(),
			CandidateID: candidateID.String(),
			Reason:      reason,
		})
	}
}
