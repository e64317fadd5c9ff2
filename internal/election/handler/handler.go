package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"ballotbox/internal/election/models"
	id "ballotbox/pkg/domain"
	dErrors "ballotbox/pkg/domain-errors"
	"ballotbox/pkg/platform/httputil"
	"ballotbox/pkg/requestcontext"
)

// Service defines the election operations the HTTP layer needs.
type Service interface {
	CreateElection(ctx context.Context, req *models.CreateElectionRequest) (*models.Election, error)
	GetElection(ctx context.Context, electionID id.ElectionID) (*models.ElectionDetails, error)
	ListElections(ctx context.Context, filter models.ListFilter) ([]models.ElectionSummary, error)
	UpdateElection(ctx context.Context, electionID id.ElectionID, req *models.UpdateElectionRequest) (*models.Election, error)
	DeleteElection(ctx context.Context, electionID id.ElectionID, cascade bool) error
	Activate(ctx context.Context, electionID id.ElectionID) (*models.Election, error)
	Close(ctx context.Context, electionID id.ElectionID) (*models.Election, error)
	Cancel(ctx context.Context, electionID id.ElectionID) (*models.Election, error)
	CreateCandidate(ctx context.Context, electionID id.ElectionID, req *models.CreateCandidateRequest) (*models.Candidate, error)
	ListCandidates(ctx context.Context, electionID id.ElectionID) ([]models.CandidateVotes, error)
	GetCandidate(ctx context.Context, candidateID id.CandidateID) (*models.CandidateDetails, error)
	UpdateCandidate(ctx context.Context, candidateID id.CandidateID, req *models.UpdateCandidateRequest) (*models.Candidate, error)
	DeleteCandidate(ctx context.Context, candidateID id.CandidateID, cascade bool) error
	CastVote(ctx context.Context, electionID id.ElectionID, candidateID id.CandidateID, signals models.VoterSignals) (*models.Ballot, error)
	GetTally(ctx context.Context, electionID id.ElectionID) ([]models.TallyEntry, error)
	Stats(ctx context.Context) (*models.Stats, error)
}

// Handler wires election endpoints to the election service.
type Handler struct {
	service Service
	logger  *slog.Logger
	admin   []func(http.Handler) http.Handler
	vote    []func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithAdminMiddleware guards every administrative route.
func WithAdminMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.admin = append(h.admin, mw...)
	}
}

// WithVoteMiddleware wraps the public vote route, e.g. with a rate limiter.
func WithVoteMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.vote = append(h.vote, mw...)
	}
}

func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		service: service,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the election endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/elections", h.HandleListElections)
	r.Get("/elections/{id}", h.HandleGetElection)
	r.Get("/elections/{id}/candidates", h.HandleListCandidates)
	r.Get("/elections/{id}/vote", h.HandleGetTally)
	r.Get("/stats", h.HandleStats)
	r.With(h.vote...).Post("/elections/{id}/vote", h.HandleCastVote)

	r.Group(func(r chi.Router) {
		r.Use(h.admin...)
		r.Post("/elections", h.HandleCreateElection)
		r.Put("/elections/{id}", h.HandleUpdateElection)
		r.Delete("/elections/{id}", h.HandleDeleteElection)
		r.Post("/elections/{id}/activate", h.HandleActivate)
		r.Post("/elections/{id}/close", h.HandleClose)
		r.Post("/elections/{id}/cancel", h.HandleCancel)
		r.Post("/elections/{id}/candidates", h.HandleCreateCandidate)
		r.Get("/candidates/{id}", h.HandleGetCandidate)
		r.Put("/candidates/{id}", h.HandleUpdateCandidate)
		r.Delete("/candidates/{id}", h.HandleDeleteCandidate)
	})
}

// HandleListElections handles GET /elections.
func (h *Handler) HandleListElections(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := parseListFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	elections, err := h.service.ListElections(ctx, filter)
	if err != nil {
		h.writeServiceError(ctx, w, err, "list elections failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, elections)
}

// HandleGetElection handles GET /elections/{id}.
func (h *Handler) HandleGetElection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	electionID, ok := electionIDParam(w, r)
	if !ok {
		return
	}
	details, err := h.service.GetElection(ctx, electionID)
	if err != nil {
		h.writeServiceError(ctx, w, err, "get election failed", "election_id", electionID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, details)
}

// HandleCreateElection handles POST /elections.
func (h *Handler) HandleCreateElection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[models.CreateElectionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	election, err := h.service.CreateElection(ctx, req)
	if err != nil {
		h.writeServiceError(ctx, w, err, "create election failed")
		return
	}
	h.logger.InfoContext(ctx, "election created",
		"request_id", requestID,
		"election_id", election.ID,
		"status", election.Status,
	)
	httputil.WriteJSON(w, http.StatusCreated, election)
}

// HandleUpdateElection handles PUT /elections/{id}. An If-Match header
// carrying the election version opts into optimistic locking.
func (h *Handler) HandleUpdateElection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	electionID, ok := electionIDParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.UpdateElectionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if err := applyIfMatch(r, req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	election, err := h.service.UpdateElection(ctx, electionID, req)
	if err != nil {
		h.writeServiceError(ctx, w, err, "update election failed", "election_id", electionID)
		return
	}
	w.Header().Set("ETag", strconv.Quote(strconv.Itoa(election.Version)))
	httputil.WriteJSON(w, http.StatusOK, election)
}

// HandleDeleteElection handles DELETE /elections/{id}?cascade=.
func (h *Handler) HandleDeleteElection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	electionID, ok := electionIDParam(w, r)
	if !ok {
		return
	}
	cascade, err := parseCascade(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.DeleteElection(ctx, electionID, cascade); err != nil {
		h.writeServiceError(ctx, w, err, "delete election failed", "election_id", electionID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.service.Activate)
}

func (h *Handler) HandleClose(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.service.Close)
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.service.Cancel)
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request,
	transition func(context.Context, id.ElectionID) (*models.Election, error)) {
	ctx := r.Context()
	electionID, ok := electionIDParam(w, r)
	if !ok {
		return
	}
	election, err := transition(ctx, electionID)
	if err != nil {
		h.writeServiceError(ctx, w, err, "election transition failed", "election_id", electionID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, election)
}

// HandleListCandidates handles GET /elections/{id}/candidates.
func (h *Handler) HandleListCandidates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	electionID, ok := electionIDParam(w, r)
	if !ok {
		return
	}
	candidates, err := h.service.ListCandidates(ctx, electionID)
	if err != nil {
		h.writeServiceError(ctx, w, err, "list candidates failed", "election_id", electionID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, candidates)
}

// HandleCreateCandidate handles POST /elections/{id}/candidates.
func (h *Handler) HandleCreateCandidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	electionID, ok := electionIDParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.CreateCandidateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	candidate, err := h.service.CreateCandidate(ctx, electionID, req)
	if err != nil {
		h.writeServiceError(ctx, w, err, "create candidate failed", "election_id", electionID)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, candidate)
}

// HandleGetCandidate handles GET /candidates/{id}.
func (h *Handler) HandleGetCandidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	candidateID, ok := candidateIDParam(w, r)
	if !ok {
		return
	}
	details, err := h.service.GetCandidate(ctx, candidateID)
	if err != nil {
		h.writeServiceError(ctx, w, err, "get candidate failed", "candidate_id", candidateID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, details)
}

// HandleUpdateCandidate handles PUT /candidates/{id}.
func (h *Handler) HandleUpdateCandidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	candidateID, ok := candidateIDParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.UpdateCandidateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	candidate, err := h.service.UpdateCandidate(ctx, candidateID, req)
	if err != nil {
		h.writeServiceError(ctx, w, err, "update candidate failed", "candidate_id", candidateID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, candidate)
}

// HandleDeleteCandidate handles DELETE /candidates/{id}?cascade=.
func (h *Handler) HandleDeleteCandidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	candidateID, ok := candidateIDParam(w, r)
	if !ok {
		return
	}
	cascade, err := parseCascade(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.DeleteCandidate(ctx, candidateID, cascade); err != nil {
		h.writeServiceError(ctx, w, err, "delete candidate failed", "candidate_id", candidateID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCastVote handles POST /elections/{id}/vote. The client IP and user
// agent come from request metadata; an authenticated member's subject
// replaces any voter_id in the body.
func (h *Handler) HandleCastVote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()
	electionID, ok := electionIDParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.CastVoteRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	signals := models.VoterSignals{
		VoterID:    req.VoterID,
		VoterEmail: req.VoterEmail,
		IPAddress:  requestcontext.ClientIP(ctx),
		UserAgent:  requestcontext.UserAgent(ctx),
	}
	if memberID := requestcontext.MemberID(ctx); memberID != "" {
		signals.VoterID = memberID
		signals.Authenticated = true
	}

	ballot, err := h.service.CastVote(ctx, electionID, req.ParsedCandidateID(), signals)
	if err != nil {
		h.writeServiceError(ctx, w, err, "cast vote failed", "election_id", electionID)
		return
	}
	h.logger.InfoContext(ctx, "vote cast",
		"request_id", requestID,
		"election_id", electionID,
		"ballot_id", ballot.ID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, ballot.Receipt())
}

// HandleGetTally handles GET /elections/{id}/vote.
func (h *Handler) HandleGetTally(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	electionID, ok := electionIDParam(w, r)
	if !ok {
		return
	}
	tally, err := h.service.GetTally(ctx, electionID)
	if err != nil {
		h.writeServiceError(ctx, w, err, "get tally failed", "election_id", electionID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tally)
}

// HandleStats handles GET /stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := h.service.Stats(ctx)
	if err != nil {
		h.writeServiceError(ctx, w, err, "stats failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// writeServiceError logs persistence failures at error level; everything
// else is an expected client outcome.
func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, err error, msg string, attrs ...any) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		args := append([]any{"request_id", requestcontext.RequestID(ctx), "error", err}, attrs...)
		h.logger.ErrorContext(ctx, msg, args...)
	}
	httputil.WriteError(w, err)
}

// A malformed id cannot name an existing row, so it reads as not found.
func electionIDParam(w http.ResponseWriter, r *http.Request) (id.ElectionID, bool) {
	electionID, err := id.ParseElectionID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "election not found").WithReason(models.ReasonElectionNotFound))
		return id.ElectionID{}, false
	}
	return electionID, true
}

func candidateIDParam(w http.ResponseWriter, r *http.Request) (id.CandidateID, bool) {
	candidateID, err := id.ParseCandidateID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "candidate not found").WithReason(models.ReasonCandidateNotFound))
		return id.CandidateID{}, false
	}
	return candidateID, true
}

func parseListFilter(r *http.Request) (models.ListFilter, error) {
	var filter models.ListFilter
	q := r.URL.Query()
	if raw := q.Get("status"); raw != "" {
		status, err := models.ParseStatus(raw)
		if err != nil {
			return filter, err
		}
		filter.Status = &status
	}
	if raw := q.Get("published"); raw != "" {
		published, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeValidation, "published must be true or false")
		}
		filter.Published = &published
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return filter, dErrors.New(dErrors.CodeValidation, "limit must be a positive integer")
		}
		filter.Limit = limit
	}
	return filter, nil
}

func parseCascade(r *http.Request) (bool, error) {
	raw := r.URL.Query().Get("cascade")
	if raw == "" {
		return false, nil
	}
	cascade, err := strconv.ParseBool(raw)
	if err != nil {
		return false, dErrors.New(dErrors.CodeValidation, "cascade must be true or false")
	}
	return cascade, nil
}

// applyIfMatch copies an If-Match version onto req. A header that disagrees
// with expected_version in the body is rejected.
func applyIfMatch(r *http.Request, req *models.UpdateElectionRequest) error {
	raw := strings.TrimSpace(r.Header.Get("If-Match"))
	if raw == "" {
		return nil
	}
	raw = strings.Trim(strings.TrimPrefix(raw, "W/"), `"`)
	version, err := strconv.Atoi(raw)
	if err != nil || version < 1 {
		return dErrors.New(dErrors.CodeValidation, "If-Match must carry a positive election version")
	}
	if req.ExpectedVersion != nil && *req.ExpectedVersion != version {
		return dErrors.New(dErrors.CodeValidation, "If-Match does not agree with expected_version")
	}
	req.ExpectedVersion = &version
	return nil
}
