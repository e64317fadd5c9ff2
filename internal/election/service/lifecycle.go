package service

import (
	"context"
	"errors"
	"time"

	"ballotbox/internal/election/models"
	id "ballotbox/pkg/domain"
	dErrors "ballotbox/pkg/domain-errors"
	"ballotbox/pkg/platform/audit"
	"ballotbox/pkg/requestcontext"
)

// Transition moves an election to status to. Moving to the current status
// of a non-terminal election is a no-op.
func (s *Service) Transition(ctx context.Context, electionID id.ElectionID, to models.Status) (*models.Election, error) {
	var (
		e    *models.Election
		from models.Status
	)
	err := s.store.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		e, err = s.store.LockElection(txCtx, electionID, true)
		if err != nil {
			return wrapElectionErr(err, "load election")
		}
		from = e.Status
		if err := e.Transition(to, requestcontext.Now(txCtx)); err != nil {
			return err
		}
		if from == to {
			return nil
		}
		if err := s.store.UpdateElection(txCtx, e, 0); err != nil {
			return wrapElectionErr(err, "update election")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if from != to {
		s.recordTransition(ctx, e.ID, from, to, "admin")
	}
	return e, nil
}

func (s *Service) Activate(ctx context.Context, electionID id.ElectionID) (*models.Election, error) {
	return s.Transition(ctx, electionID, models.StatusActive)
}

func (s *Service) Close(ctx context.Context, electionID id.ElectionID) (*models.Election, error) {
	return s.Transition(ctx, electionID, models.StatusCompleted)
}

func (s *Service) Cancel(ctx context.Context, electionID id.ElectionID) (*models.Election, error) {
	return s.Transition(ctx, electionID, models.StatusCancelled)
}

// SweepDue applies the time-driven transitions owed at now: UPCOMING
// elections whose start has arrived become ACTIVE and ACTIVE elections past
// their end become COMPLETED. Each election is handled in its own
// transaction; a failure on one does not stop the others. It returns the
// number of transitions applied.
func (s *Service) SweepDue(ctx context.Context, now time.Time) (int, error) {
	start := time.Now()
	defer s.metrics.ObserveSweep(start)

	due, err := s.store.ListDueElections(ctx, now)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list due elections")
	}

	applied := 0
	var errs []error
	for _, e := range due {
		n, err := s.sweepOne(ctx, e.ID, now)
		applied += n
		if err != nil && !dErrors.HasCode(err, dErrors.CodeNotFound) {
			s.logger.ErrorContext(ctx, "lifecycle sweep failed",
				"election_id", e.ID.String(),
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	return applied, errors.Join(errs...)
}

func (s *Service) sweepOne(ctx context.Context, electionID id.ElectionID, now time.Time) (int, error) {
	type step struct{ from, to models.Status }
	var (
		e     *models.Election
		steps []step
	)
	err := s.store.RunInTx(ctx, func(txCtx context.Context) error {
		steps = steps[:0]
		var err error
		// Re-read under lock: an admin may have moved it since the listing.
		e, err = s.store.LockElection(txCtx, electionID, true)
		if err != nil {
			return wrapElectionErr(err, "load election")
		}
		for _, to := range e.DueTransitions(now) {
			from := e.Status
			if err := e.Transition(to, now); err != nil {
				return err
			}
			steps = append(steps, step{from: from, to: to})
		}
		if len(steps) == 0 {
			return nil
		}
		if err := s.store.UpdateElection(txCtx, e, 0); err != nil {
			return wrapElectionErr(err, "update election")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, st := range steps {
		s.recordTransition(ctx, e.ID, st.from, st.to, "sweep")
	}
	return len(steps), nil
}

func (s *Service) recordTransition(ctx context.Context, electionID id.ElectionID, from, to models.Status, trigger string) {
	s.invalidateTally(ctx, electionID)
	s.metrics.IncrementTransition(string(to), trigger)
	s.logAudit(ctx, audit.EventElectionTransitioned, audit.Event{
		ElectionID: electionID.String(),
		FromStatus: string(from),
		ToStatus:   string(to),
		Reason:     trigger,
	})
}
