package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"ballotbox/internal/election/models"
	id "ballotbox/pkg/domain"
	dErrors "ballotbox/pkg/domain-errors"
	"ballotbox/pkg/platform/sentinel"
	"ballotbox/pkg/platform/tx"
)

type claimKey struct {
	electionID id.ElectionID
	kind       models.ClaimKind
	value      string
}

type candidateKey struct {
	electionID id.ElectionID
	name       string
	position   string
}

// InMemory keeps elections, candidates, ballots and claims in maps guarded by
// one RWMutex. Every mutating method is atomic on its own; RunInTx adds a
// coarse lock so read-check-write sequences do not interleave.
type InMemory struct {
	mu            sync.RWMutex
	elections     map[id.ElectionID]models.Election
	candidates    map[id.CandidateID]models.Candidate
	candidateKeys map[candidateKey]id.CandidateID
	ballots       map[id.BallotID]models.Ballot
	claims        map[claimKey]id.BallotID

	txMu sync.Mutex
}

func NewInMemory() *InMemory {
	return &InMemory{
		elections:     make(map[id.ElectionID]models.Election),
		candidates:    make(map[id.CandidateID]models.Candidate),
		candidateKeys: make(map[candidateKey]id.CandidateID),
		ballots:       make(map[id.BallotID]models.Ballot),
		claims:        make(map[claimKey]id.BallotID),
	}
}

type inTxKey struct{}

// RunInTx serializes fn against every other transaction on this store. A
// nested call joins the running transaction.
func (s *InMemory) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if ctx.Value(inTxKey{}) != nil {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tx.DefaultTimeout)
		defer cancel()
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return fn(context.WithValue(ctx, inTxKey{}, true))
}

func (s *InMemory) CreateElection(_ context.Context, e *models.Election) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.elections[e.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	s.elections[e.ID] = *e
	return nil
}

func (s *InMemory) FindElection(_ context.Context, electionID id.ElectionID) (*models.Election, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.elections[electionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &e, nil
}

// LockElection is FindElection; the coarse transaction lock already
// excludes concurrent writers.
func (s *InMemory) LockElection(ctx context.Context, electionID id.ElectionID, _ bool) (*models.Election, error) {
	return s.FindElection(ctx, electionID)
}

func (s *InMemory) ListElections(_ context.Context, filter models.ListFilter) ([]models.ElectionSummary, error) {
	filter.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidateCounts := make(map[id.ElectionID]int)
	for _, c := range s.candidates {
		candidateCounts[c.ElectionID]++
	}
	voteCounts := make(map[id.ElectionID]int)
	for _, b := range s.ballots {
		voteCounts[b.ElectionID]++
	}

	out := make([]models.ElectionSummary, 0)
	for _, e := range s.elections {
		if filter.Status != nil && e.Status != *filter.Status {
			continue
		}
		if filter.Published != nil && e.Published != *filter.Published {
			continue
		}
		out = append(out, models.ElectionSummary{
			Election:       e,
			CandidateCount: candidateCounts[e.ID],
			VoteCount:      voteCounts[e.ID],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.StartDate.Equal(b.StartDate) {
			return a.StartDate.After(b.StartDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// UpdateElection persists e and bumps its version. A positive
// expectedVersion must match the stored version or ErrConflict is returned.
func (s *InMemory) UpdateElection(_ context.Context, e *models.Election, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.elections[e.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if expectedVersion > 0 && current.Version != expectedVersion {
		return sentinel.ErrConflict
	}
	e.Version = current.Version + 1
	e.CreatedAt = current.CreatedAt
	s.elections[e.ID] = *e
	return nil
}

// DeleteElection removes the election together with its claims, ballots and
// candidates.
func (s *InMemory) DeleteElection(_ context.Context, electionID id.ElectionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.elections[electionID]; !ok {
		return sentinel.ErrNotFound
	}
	for k := range s.claims {
		if k.electionID == electionID {
			delete(s.claims, k)
		}
	}
	for ballotID, b := range s.ballots {
		if b.ElectionID == electionID {
			delete(s.ballots, ballotID)
		}
	}
	for candidateID, c := range s.candidates {
		if c.ElectionID == electionID {
			delete(s.candidateKeys, keyOf(&c))
			delete(s.candidates, candidateID)
		}
	}
	delete(s.elections, electionID)
	return nil
}

func (s *InMemory) CountElectionDependents(_ context.Context, electionID id.ElectionID) (models.Dependents, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var deps models.Dependents
	for _, c := range s.candidates {
		if c.ElectionID == electionID {
			deps.Candidates++
		}
	}
	for _, b := range s.ballots {
		if b.ElectionID == electionID {
			deps.Ballots++
		}
	}
	return deps, nil
}

// ListDueElections returns elections the lifecycle sweep has work for.
func (s *InMemory) ListDueElections(_ context.Context, now time.Time) ([]*models.Election, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Election
	for _, e := range s.elections {
		if len(e.DueTransitions(now)) == 0 {
			continue
		}
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func keyOf(c *models.Candidate) candidateKey {
	return candidateKey{electionID: c.ElectionID, name: c.NameKey(), position: c.PositionKey()}
}

func (s *InMemory) CreateCandidate(_ context.Context, c *models.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.elections[c.ElectionID]; !ok {
		return sentinel.ErrNotFound
	}
	if _, ok := s.candidates[c.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	key := keyOf(c)
	if _, taken := s.candidateKeys[key]; taken {
		return sentinel.ErrAlreadyUsed
	}
	s.candidates[c.ID] = *c
	s.candidateKeys[key] = c.ID
	return nil
}

func (s *InMemory) FindCandidate(_ context.Context, candidateID id.CandidateID) (*models.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.candidates[candidateID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &c, nil
}

func (s *InMemory) UpdateCandidate(_ context.Context, c *models.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.candidates[c.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	oldKey, newKey := keyOf(&current), keyOf(c)
	if oldKey != newKey {
		if _, taken := s.candidateKeys[newKey]; taken {
			return sentinel.ErrAlreadyUsed
		}
		delete(s.candidateKeys, oldKey)
		s.candidateKeys[newKey] = c.ID
	}
	s.candidates[c.ID] = *c
	return nil
}

// DeleteCandidate removes the candidate with its ballots and their claims.
func (s *InMemory) DeleteCandidate(_ context.Context, candidateID id.CandidateID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.candidates[candidateID]
	if !ok {
		return sentinel.ErrNotFound
	}
	removed := make(map[id.BallotID]struct{})
	for ballotID, b := range s.ballots {
		if b.CandidateID == candidateID {
			removed[ballotID] = struct{}{}
			delete(s.ballots, ballotID)
		}
	}
	for k, ballotID := range s.claims {
		if _, ok := removed[ballotID]; ok {
			delete(s.claims, k)
		}
	}
	delete(s.candidateKeys, keyOf(&c))
	delete(s.candidates, candidateID)
	return nil
}

// ListCandidateVotes returns the election's candidates with the number of
// ballots each has, ordered by name.
func (s *InMemory) ListCandidateVotes(_ context.Context, electionID id.ElectionID) ([]models.CandidateVotes, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[id.CandidateID]int)
	for _, b := range s.ballots {
		if b.ElectionID == electionID {
			counts[b.CandidateID]++
		}
	}
	out := make([]models.CandidateVotes, 0)
	for _, c := range s.candidates {
		if c.ElectionID == electionID {
			out = append(out, models.CandidateVotes{Candidate: c, VoteCount: counts[c.ID]})
		}
	}
	models.SortCandidateVotes(out)
	return out, nil
}

func (s *InMemory) CountCandidateBallots(_ context.Context, candidateID id.CandidateID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, b := range s.ballots {
		if b.CandidateID == candidateID {
			n++
		}
	}
	return n, nil
}

func (s *InMemory) ListBallotsByCandidate(_ context.Context, candidateID id.CandidateID) ([]models.Ballot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Ballot, 0)
	for _, b := range s.ballots {
		if b.CandidateID == candidateID {
			out = append(out, b)
		}
	}
	sortBallots(out)
	return out, nil
}

func sortBallots(ballots []models.Ballot) {
	sort.Slice(ballots, func(i, j int) bool {
		if !ballots[i].CreatedAt.Equal(ballots[j].CreatedAt) {
			return ballots[i].CreatedAt.Before(ballots[j].CreatedAt)
		}
		return ballots[i].ID.String() < ballots[j].ID.String()
	})
}

// ClaimsTaken reports whether any of claims is already held in the election.
func (s *InMemory) ClaimsTaken(_ context.Context, electionID id.ElectionID, claims []models.Claim) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range claims {
		if _, taken := s.claims[claimKey{electionID: electionID, kind: c.Kind, value: c.Value}]; taken {
			return true, nil
		}
	}
	return false, nil
}

// InsertBallot records b and reserves claims for it. Either all claims are
// free and everything is written, or ErrAlreadyUsed is returned and nothing is.
func (s *InMemory) InsertBallot(_ context.Context, b *models.Ballot, claims []models.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ballots[b.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	keys := make([]claimKey, 0, len(claims))
	for _, c := range claims {
		k := claimKey{electionID: b.ElectionID, kind: c.Kind, value: c.Value}
		if _, taken := s.claims[k]; taken {
			return sentinel.ErrAlreadyUsed
		}
		keys = append(keys, k)
	}
	s.ballots[b.ID] = *b
	for _, k := range keys {
		s.claims[k] = b.ID
	}
	return nil
}

func (s *InMemory) Stats(_ context.Context) (*models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &models.Stats{
		TotalElections:    len(s.elections),
		ElectionsByStatus: make(map[models.Status]int),
		TotalCandidates:   len(s.candidates),
		TotalVotes:        len(s.ballots),
	}
	for _, e := range s.elections {
		stats.ElectionsByStatus[e.Status]++
	}
	return stats, nil
}
