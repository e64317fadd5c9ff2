package service

import (
	"context"
	"errors"

	"ballotbox/internal/election/models"
	id "ballotbox/pkg/domain"
	dErrors "ballotbox/pkg/domain-errors"
	"ballotbox/pkg/platform/audit"
	"ballotbox/pkg/platform/sentinel"
	"ballotbox/pkg/requestcontext"
)

func (s *Service) CreateElection(ctx context.Context, req *models.CreateElectionRequest) (*models.Election, error) {
	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	e, err := models.NewElection(id.NewElectionID(), req.Title, req.Description, req.ParsedType(), req.ParsedStatus(),
		req.StartDate, req.EndDate, req.Published, req.ParsedPolicy(), requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateElection(ctx, e); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.New(dErrors.CodeConflict, "election already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create election")
	}

	s.logAudit(ctx, audit.EventElectionCreated, audit.Event{ElectionID: e.ID.String(), ToStatus: string(e.Status)})
	s.metrics.IncrementElectionCreated()
	return e, nil
}

// GetElection returns the election with its candidates and their current
// vote counts.
func (s *Service) GetElection(ctx context.Context, electionID id.ElectionID) (*models.ElectionDetails, error) {
	e, err := s.store.FindElection(ctx, electionID)
	if err != nil {
		return nil, wrapElectionErr(err, "load election")
	}
	candidates, err := s.store.ListCandidateVotes(ctx, electionID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list candidates")
	}
	total := 0
	for _, c := range candidates {
		total += c.VoteCount
	}
	return &models.ElectionDetails{
		Election:       e,
		Candidates:     candidates,
		CandidateCount: len(candidates),
		TotalVotes:     total,
	}, nil
}

func (s *Service) ListElections(ctx context.Context, filter models.ListFilter) ([]models.ElectionSummary, error) {
	filter.Normalize()
	elections, err := s.store.ListElections(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list elections")
	}
	return elections, nil
}

// UpdateElection applies a partial update. A status change follows the
// lifecycle graph. Once an election is over only its title, description and
// visibility may change, and the dedup policy is frozen as soon as a ballot
// exists. Without an expected version the last write wins.
func (s *Service) UpdateElection(ctx context.Context, electionID id.ElectionID, req *models.UpdateElectionRequest) (*models.Election, error) {
	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	expectedVersion := 0
	if req.ExpectedVersion != nil {
		expectedVersion = *req.ExpectedVersion
	}

	var (
		updated *models.Election
		from    models.Status
	)
	err := s.store.RunInTx(ctx, func(txCtx context.Context) error {
		e, err := s.store.LockElection(txCtx, electionID, true)
		if err != nil {
			return wrapElectionErr(err, "load election")
		}
		if expectedVersion > 0 && e.Version != expectedVersion {
			return dErrors.Newf(dErrors.CodeConflict, "election is at version %d, not %d", e.Version, expectedVersion).
				WithReason(models.ReasonVersionMismatch)
		}
		from = e.Status
		if e.Status.IsTerminal() && req.ChangesScheduleOrRules() {
			return dErrors.Newf(dErrors.CodeStateConflict, "election is %s; its schedule and rules are final", e.Status).
				WithReason(models.ReasonElectionClosed)
		}
		if req.DedupPolicy != nil {
			policy, _ := models.ParseDedupPolicy(*req.DedupPolicy)
			if policy != e.DedupPolicy {
				deps, err := s.store.CountElectionDependents(txCtx, electionID)
				if err != nil {
					return dErrors.Wrap(err, dErrors.CodeInternal, "failed to count ballots")
				}
				if deps.Ballots > 0 {
					return dErrors.New(dErrors.CodeStateConflict, "dedup policy cannot change once ballots exist").
						WithReason(models.ReasonPolicyLocked)
				}
				e.DedupPolicy = policy
			}
		}

		now := requestcontext.Now(txCtx)
		applyElectionUpdate(e, req)
		if req.Status != nil {
			to, _ := models.ParseStatus(*req.Status)
			if err := e.Transition(to, now); err != nil {
				return err
			}
		}
		if err := e.Validate(); err != nil {
			return err
		}
		e.UpdatedAt = now
		if err := s.store.UpdateElection(txCtx, e, expectedVersion); err != nil {
			return wrapElectionErr(err, "update election")
		}
		updated = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateTally(ctx, electionID)
	s.logAudit(ctx, audit.EventElectionUpdated, audit.Event{ElectionID: electionID.String()})
	if updated.Status != from {
		s.metrics.IncrementTransition(string(updated.Status), "admin")
		s.logAudit(ctx, audit.EventElectionTransitioned, audit.Event{
			ElectionID: electionID.String(),
			FromStatus: string(from),
			ToStatus:   string(updated.Status),
		})
	}
	return updated, nil
}

func applyElectionUpdate(e *models.Election, req *models.UpdateElectionRequest) {
	if req.Title != nil {
		e.Title = *req.Title
	}
	if req.Description != nil {
		e.Description = *req.Description
	}
	if req.Type != nil {
		e.Type, _ = models.ParseElectionType(*req.Type)
	}
	if req.StartDate != nil {
		e.StartDate = req.StartDate.UTC()
	}
	if req.EndDate != nil {
		e.EndDate = req.EndDate.UTC()
	}
	if req.Published != nil {
		e.Published = *req.Published
	}
}

// DeleteElection removes an election. With dependents present it fails with
// has_dependents unless cascade is set, in which case candidates, ballots
// and claims go in the same transaction.
func (s *Service) DeleteElection(ctx context.Context, electionID id.ElectionID, cascade bool) error {
	err := s.store.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.store.LockElection(txCtx, electionID, true); err != nil {
			return wrapElectionErr(err, "load election")
		}
		deps, err := s.store.CountElectionDependents(txCtx, electionID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to count election dependents")
		}
		if deps.Any() && !cascade {
			return dErrors.Newf(dErrors.CodeConflict,
				"election has %d candidates and %d ballots; delete with cascade to remove them",
				deps.Candidates, deps.Ballots).WithReason(models.ReasonHasDependents)
		}
		if err := s.store.DeleteElection(txCtx, electionID); err != nil {
			return wrapElectionErr(err, "delete election")
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidateTally(ctx, electionID)
	s.logAudit(ctx, audit.EventElectionDeleted, audit.Event{ElectionID: electionID.String()})
	return nil
}

// Stats returns the aggregate counts the portal dashboard reads.
func (s *Service) Stats(ctx context.Context) (*models.Stats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load stats")
	}
	return stats, nil
}
