package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	electionmetrics "ballotbox/internal/election/metrics"
	"ballotbox/internal/election/models"
	id "ballotbox/pkg/domain"
	dErrors "ballotbox/pkg/domain-errors"
	"ballotbox/pkg/platform/audit"
	"ballotbox/pkg/platform/sentinel"
	"ballotbox/pkg/requestcontext"
)

// ElectionStore persists elections and answers the aggregate queries that
// read across candidates and ballots.
type ElectionStore interface {
	CreateElection(ctx context.Context, e *models.Election) error
	FindElection(ctx context.Context, electionID id.ElectionID) (*models.Election, error)
	// LockElection reads the election for the rest of the transaction:
	// exclusive for writers of the election row, shared for ballot casts.
	LockElection(ctx context.Context, electionID id.ElectionID, exclusive bool) (*models.Election, error)
	ListElections(ctx context.Context, filter models.ListFilter) ([]models.ElectionSummary, error)
	UpdateElection(ctx context.Context, e *models.Election, expectedVersion int) error
	DeleteElection(ctx context.Context, electionID id.ElectionID) error
	CountElectionDependents(ctx context.Context, electionID id.ElectionID) (models.Dependents, error)
	ListDueElections(ctx context.Context, now time.Time) ([]*models.Election, error)
	Stats(ctx context.Context) (*models.Stats, error)
}

type CandidateStore interface {
	CreateCandidate(ctx context.Context, c *models.Candidate) error
	FindCandidate(ctx context.Context, candidateID id.CandidateID) (*models.Candidate, error)
	UpdateCandidate(ctx context.Context, c *models.Candidate) error
	DeleteCandidate(ctx context.Context, candidateID id.CandidateID) error
	ListCandidateVotes(ctx context.Context, electionID id.ElectionID) ([]models.CandidateVotes, error)
	CountCandidateBallots(ctx context.Context, candidateID id.CandidateID) (int, error)
}

type BallotStore interface {
	ClaimsTaken(ctx context.Context, electionID id.ElectionID, claims []models.Claim) (bool, error)
	InsertBallot(ctx context.Context, b *models.Ballot, claims []models.Claim) error
	ListBallotsByCandidate(ctx context.Context, candidateID id.CandidateID) ([]models.Ballot, error)
}

// StoreTx runs fn in one transaction. Store methods called with txCtx join it.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

// Store is everything the service needs from persistence.
type Store interface {
	ElectionStore
	CandidateStore
	BallotStore
	StoreTx
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// TallyCache holds computed tallies for a short time. Implementations must
// tolerate being unavailable; errors are logged and the ledger is read.
//
// A miss reports the election's cache generation. Set stores entries only
// while that generation is current, so a tally computed before an
// Invalidate can never land after it. A negative generation means the
// cache could not tell and the tally must not be stored.
type TallyCache interface {
	Get(ctx context.Context, electionID id.ElectionID) (entries []models.TallyEntry, generation int64, hit bool, err error)
	Set(ctx context.Context, electionID id.ElectionID, generation int64, entries []models.TallyEntry) error
	Invalidate(ctx context.Context, electionID id.ElectionID) error
}

// Service orchestrates the election lifecycle, candidate registry, ballot
// ledger and tally engine.
type Service struct {
	store          Store
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *electionmetrics.Metrics
	tallies        TallyCache
	tracer         trace.Tracer
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *electionmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTallyCache(cache TallyCache) Option {
	return func(s *Service) {
		s.tallies = cache
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// New constructs a Service.
func New(store Store, opts ...Option) *Service {
	s := &Service{store: store}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("ballotbox/election")
	}
	return s
}

// logAudit hands the event to the audit publisher, or logs it when none is
// configured. Publishing failures never fail the operation that produced it.
func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, e audit.Event) {
	e.Action = string(event)
	e.ActorID = requestcontext.MemberID(ctx)
	e.RequestID = requestcontext.RequestID(ctx)
	if s.auditPublisher == nil {
		s.logger.InfoContext(ctx, string(event),
			"log_type", "audit",
			"election_id", e.ElectionID,
			"candidate_id", e.CandidateID,
			"ballot_id", e.BallotID,
			"request_id", e.RequestID,
		)
		return
	}
	if err := s.auditPublisher.Emit(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "failed to publish audit event", "event", string(event), "error", err)
	}
}

func (s *Service) invalidateTally(ctx context.Context, electionID id.ElectionID) {
	if s.tallies == nil {
		return
	}
	if err := s.tallies.Invalidate(ctx, electionID); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate tally cache",
			"election_id", electionID.String(),
			"error", err,
		)
	}
}

func electionNotFound() error {
	return dErrors.New(dErrors.CodeNotFound, "election not found").WithReason(models.ReasonElectionNotFound)
}

func candidateNotFound() error {
	return dErrors.New(dErrors.CodeNotFound, "candidate not found").WithReason(models.ReasonCandidateNotFound)
}

// wrapElectionErr translates store errors for election reads and writes.
// Domain errors pass through unchanged.
func wrapElectionErr(err error, action string) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return electionNotFound()
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "election was modified concurrently").
			WithReason(models.ReasonVersionMismatch)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to "+action)
}

func wrapCandidateErr(err error, action string) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return candidateNotFound()
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.New(dErrors.CodeConflict, "a candidate with this name already runs for this position").
			WithReason(models.ReasonDuplicateCandidate)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to "+action)
}
