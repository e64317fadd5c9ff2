package service

import (
	"context"

	"ballotbox/internal/election/models"
	id "ballotbox/pkg/domain"
	dErrors "ballotbox/pkg/domain-errors"
	"ballotbox/pkg/platform/audit"
	"ballotbox/pkg/requestcontext"
)

func electionClosed(e *models.Election) error {
	return dErrors.Newf(dErrors.CodeStateConflict, "election is %s; candidates can no longer change", e.Status).
		WithReason(models.ReasonElectionClosed)
}

// CreateCandidate registers a candidate in an UPCOMING or ACTIVE election.
func (s *Service) CreateCandidate(ctx context.Context, electionID id.ElectionID, req *models.CreateCandidateRequest) (*models.Candidate, error) {
	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var candidate *models.Candidate
	err := s.store.RunInTx(ctx, func(txCtx context.Context) error {
		e, err := s.store.LockElection(txCtx, electionID, false)
		if err != nil {
			return wrapElectionErr(err, "load election")
		}
		if !e.AcceptsCandidateChanges() {
			return electionClosed(e)
		}
		c, err := models.NewCandidate(id.NewCandidateID(), electionID, req.Name, req.Position, req.DistrictID,
			req.Bio, req.Manifesto, requestcontext.Now(txCtx))
		if err != nil {
			return err
		}
		if err := s.store.CreateCandidate(txCtx, c); err != nil {
			return wrapCandidateErr(err, "create candidate")
		}
		candidate = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateTally(ctx, electionID)
	s.logAudit(ctx, audit.EventCandidateCreated, audit.Event{
		ElectionID:  electionID.String(),
		CandidateID: candidate.ID.String(),
	})
	s.metrics.IncrementCandidateCreated()
	return candidate, nil
}

// ListCandidates returns the election's candidates, withdrawn ones included,
// each with its vote count.
func (s *Service) ListCandidates(ctx context.Context, electionID id.ElectionID) ([]models.CandidateVotes, error) {
	if _, err := s.store.FindElection(ctx, electionID); err != nil {
		return nil, wrapElectionErr(err, "load election")
	}
	candidates, err := s.store.ListCandidateVotes(ctx, electionID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list candidates")
	}
	return candidates, nil
}

// GetCandidate returns the administrative view of a candidate, including
// every ballot cast for it.
func (s *Service) GetCandidate(ctx context.Context, candidateID id.CandidateID) (*models.CandidateDetails, error) {
	c, err := s.store.FindCandidate(ctx, candidateID)
	if err != nil {
		return nil, wrapCandidateErr(err, "load candidate")
	}
	e, err := s.store.FindElection(ctx, c.ElectionID)
	if err != nil {
		return nil, wrapElectionErr(err, "load election")
	}
	ballots, err := s.store.ListBallotsByCandidate(ctx, candidateID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list ballots")
	}
	return &models.CandidateDetails{
		Candidate: c,
		Election:  e,
		VoteCount: len(ballots),
		Ballots:   ballots,
	}, nil
}

func (s *Service) UpdateCandidate(ctx context.Context, candidateID id.CandidateID, req *models.UpdateCandidateRequest) (*models.Candidate, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var updated *models.Candidate
	err := s.store.RunInTx(ctx, func(txCtx context.Context) error {
		c, err := s.store.FindCandidate(txCtx, candidateID)
		if err != nil {
			return wrapCandidateErr(err, "load candidate")
		}
		e, err := s.store.LockElection(txCtx, c.ElectionID, false)
		if err != nil {
			return wrapElectionErr(err, "load election")
		}
		if !e.AcceptsCandidateChanges() {
			return electionClosed(e)
		}
		req.Apply(c, requestcontext.Now(txCtx))
		if err := c.Validate(); err != nil {
			return err
		}
		if err := s.store.UpdateCandidate(txCtx, c); err != nil {
			return wrapCandidateErr(err, "update candidate")
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateTally(ctx, updated.ElectionID)
	s.logAudit(ctx, audit.EventCandidateUpdated, audit.Event{
		ElectionID:  updated.ElectionID.String(),
		CandidateID: updated.ID.String(),
	})
	return updated, nil
}

// DeleteCandidate removes a candidate. Ballots for it block the delete
// unless cascade is set; cascading frees the claims those ballots held.
func (s *Service) DeleteCandidate(ctx context.Context, candidateID id.CandidateID, cascade bool) error {
	var electionID id.ElectionID
	err := s.store.RunInTx(ctx, func(txCtx context.Context) error {
		c, err := s.store.FindCandidate(txCtx, candidateID)
		if err != nil {
			return wrapCandidateErr(err, "load candidate")
		}
		electionID = c.ElectionID
		if _, err := s.store.LockElection(txCtx, c.ElectionID, true); err != nil {
			return wrapElectionErr(err, "load election")
		}
		ballots, err := s.store.CountCandidateBallots(txCtx, candidateID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to count candidate ballots")
		}
		if ballots > 0 && !cascade {
			return dErrors.Newf(dErrors.CodeConflict,
				"candidate has %d ballots; delete with cascade to remove them", ballots).
				WithReason(models.ReasonHasDependents)
		}
		if err := s.store.DeleteCandidate(txCtx, candidateID); err != nil {
			return wrapCandidateErr(err, "delete candidate")
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidateTally(ctx, electionID)
	s.logAudit(ctx, audit.EventCandidateDeleted, audit.Event{
		ElectionID:  electionID.String(),
		CandidateID: candidateID.String(),
	})
	return nil
}
