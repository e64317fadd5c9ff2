package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	electionmetrics "ballotbox/internal/election/metrics"
	"ballotbox/internal/election/models"
	"ballotbox/internal/election/store"
	"ballotbox/internal/platform/storage"
	id "ballotbox/pkg/domain"
	dErrors "ballotbox/pkg/domain-errors"
	"ballotbox/pkg/platform/audit"
	"ballotbox/pkg/platform/audit/publisher"
	auditmemory "ballotbox/pkg/platform/audit/store/memory"
	"ballotbox/pkg/requestcontext"
)

var (
	_ Store = (*store.InMemory)(nil)
	_ Store = (*store.SQLStore)(nil)
)

type ServiceSuite struct {
	suite.Suite
	newStore func(t *testing.T) Store

	store   Store
	service *Service
	audit   *auditmemory.InMemoryStore
	metrics *electionmetrics.Metrics
	tallies *fakeTallyCache
	ctx     context.Context
	now     time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, &ServiceSuite{
		newStore: func(*testing.T) Store { return store.NewInMemory() },
	})
}

func TestServiceSuiteSQLite(t *testing.T) {
	suite.Run(t, &ServiceSuite{newStore: newSQLiteStore})
}

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(ctx, storage.DialectSQLite, filepath.Join(t.TempDir(), "elections.db"), storage.Pool{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.Migrate(ctx, db, storage.DialectSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.NewSQLite(db)
}

func (s *ServiceSuite) SetupTest() {
	s.store = s.newStore(s.T())
	s.audit = auditmemory.NewInMemoryStore()
	s.metrics = electionmetrics.New(nil)
	s.tallies = newFakeTallyCache()
	s.now = time.Date(2024, 11, 15, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.service = New(s.store,
		WithAuditPublisher(publisher.NewPublisher(s.audit)),
		WithMetrics(s.metrics),
		WithTallyCache(s.tallies),
	)
}

var (
	novStart = time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)
	novEnd   = time.Date(2024, 11, 30, 0, 0, 0, 0, time.UTC)
)

func (s *ServiceSuite) createElection(status models.Status, policy models.DedupPolicy) *models.Election {
	s.T().Helper()
	e, err := s.service.CreateElection(s.ctx, &models.CreateElectionRequest{
		Title:       "Board election",
		Status:      string(status),
		StartDate:   novStart,
		EndDate:     novEnd,
		Published:   true,
		DedupPolicy: string(policy),
	})
	s.Require().NoError(err)
	return e
}

func (s *ServiceSuite) createCandidate(electionID id.ElectionID, name string) *models.Candidate {
	s.T().Helper()
	c, err := s.service.CreateCandidate(s.ctx, electionID, &models.CreateCandidateRequest{
		Name:     name,
		Position: "Chair",
	})
	s.Require().NoError(err)
	return c
}

func (s *ServiceSuite) vote(electionID id.ElectionID, candidateID id.CandidateID, email string) (*models.Ballot, error) {
	return s.service.CastVote(s.ctx, electionID, candidateID, models.VoterSignals{VoterEmail: email})
}

func (s *ServiceSuite) requireCode(err error, code dErrors.Code, reason string) {
	s.T().Helper()
	s.Require().Error(err)
	s.Equal(code, dErrors.CodeOf(err), err.Error())
	if reason != "" {
		s.Equal(reason, dErrors.ReasonOf(err))
	}
}

func (s *ServiceSuite) auditActions(electionID id.ElectionID) []string {
	events, err := s.audit.ListByElection(context.Background(), electionID.String())
	s.Require().NoError(err)
	actions := make([]string, 0, len(events))
	for _, e := range events {
		actions = append(actions, e.Action)
	}
	return actions
}

func (s *ServiceSuite) TestCreateElection() {
	s.Run("applies defaults", func() {
		e, err := s.service.CreateElection(s.ctx, &models.CreateElectionRequest{
			Title:     "  Annual general  ",
			StartDate: novStart,
			EndDate:   novEnd,
		})
		s.Require().NoError(err)
		s.Equal("Annual general", e.Title)
		s.Equal(models.StatusUpcoming, e.Status)
		s.Equal(models.TypeGeneral, e.Type)
		s.Equal(models.PolicyAnySignal, e.DedupPolicy)
		s.Equal(1, e.Version)
		s.Contains(s.auditActions(e.ID), string(audit.EventElectionCreated))
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.ElectionsCreated))
	})

	s.Run("end before start is a validation error", func() {
		_, err := s.service.CreateElection(s.ctx, &models.CreateElectionRequest{
			Title:     "Backwards",
			StartDate: novEnd,
			EndDate:   novStart,
		})
		s.requireCode(err, dErrors.CodeValidation, models.ReasonInvalidDates)
	})

	s.Run("terminal status at creation is rejected", func() {
		_, err := s.service.CreateElection(s.ctx, &models.CreateElectionRequest{
			Title:     "Done already",
			Status:    "COMPLETED",
			StartDate: novStart,
			EndDate:   novEnd,
		})
		s.requireCode(err, dErrors.CodeValidation, "")
	})

	s.Run("missing body", func() {
		_, err := s.service.CreateElection(s.ctx, nil)
		s.requireCode(err, dErrors.CodeBadRequest, "")
	})
}

func (s *ServiceSuite) TestGetAndListElections() {
	e := s.createElection(models.StatusActive, "")
	c := s.createCandidate(e.ID, "Ada")
	s.createCandidate(e.ID, "Grace")
	_, err := s.vote(e.ID, c.ID, "a@x.com")
	s.Require().NoError(err)

	details, err := s.service.GetElection(s.ctx, e.ID)
	s.Require().NoError(err)
	s.Equal(2, details.CandidateCount)
	s.Equal(1, details.TotalVotes)
	s.Equal("Ada", details.Candidates[0].Name)
	s.Equal(1, details.Candidates[0].VoteCount)

	active := models.StatusActive
	list, err := s.service.ListElections(s.ctx, models.ListFilter{Status: &active})
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(2, list[0].CandidateCount)
	s.Equal(1, list[0].VoteCount)

	_, err = s.service.GetElection(s.ctx, id.NewElectionID())
	s.requireCode(err, dErrors.CodeNotFound, models.ReasonElectionNotFound)
}

func (s *ServiceSuite) TestUpdateElection() {
	s.Run("partial update bumps version", func() {
		e := s.createElection(models.StatusUpcoming, "")
		title := "Renamed"
		updated, err := s.service.UpdateElection(s.ctx, e.ID, &models.UpdateElectionRequest{Title: &title})
		s.Require().NoError(err)
		s.Equal("Renamed", updated.Title)
		s.Equal(novStart, updated.StartDate)
		s.Equal(2, updated.Version)
	})

	s.Run("stale expected version is a conflict", func() {
		e := s.createElection(models.StatusUpcoming, "")
		title, stale := "Second", 1
		_, err := s.service.UpdateElection(s.ctx, e.ID, &models.UpdateElectionRequest{Title: &title})
		s.Require().NoError(err)

		_, err = s.service.UpdateElection(s.ctx, e.ID, &models.UpdateElectionRequest{Title: &title, ExpectedVersion: &stale})
		s.requireCode(err, dErrors.CodeConflict, models.ReasonVersionMismatch)
	})

	s.Run("merged dates are validated", func() {
		e := s.createElection(models.StatusUpcoming, "")
		end := novStart.Add(-time.Hour)
		_, err := s.service.UpdateElection(s.ctx, e.ID, &models.UpdateElectionRequest{EndDate: &end})
		s.requireCode(err, dErrors.CodeValidation, models.ReasonInvalidDates)
	})

	s.Run("status follows the lifecycle", func() {
		e := s.createElection(models.StatusUpcoming, "")
		active, completed := "ACTIVE", "COMPLETED"
		updated, err := s.service.UpdateElection(s.ctx, e.ID, &models.UpdateElectionRequest{Status: &active})
		s.Require().NoError(err)
		s.Equal(models.StatusActive, updated.Status)
		s.Contains(s.auditActions(e.ID), string(audit.EventElectionTransitioned))

		_, err = s.service.UpdateElection(s.ctx, e.ID, &models.UpdateElectionRequest{Status: &completed})
		s.Require().NoError(err)
		_, err = s.service.UpdateElection(s.ctx, e.ID, &models.UpdateElectionRequest{Status: &active})
		s.requireCode(err, dErrors.CodeStateConflict, models.ReasonTerminalState)
	})

	s.Run("finished elections keep their schedule", func() {
		e := s.createElection(models.StatusActive, "")
		_, err := s.service.Close(s.ctx, e.ID)
		s.Require().NoError(err)

		start := novStart.Add(time.Hour)
		_, err = s.service.UpdateElection(s.ctx, e.ID, &models.UpdateElectionRequest{StartDate: &start})
		s.requireCode(err, dErrors.CodeStateConflict, models.ReasonElectionClosed)

		desc := "Results are final"
		updated, err := s.service.UpdateElection(s.ctx, e.ID, &models.UpdateElectionRequest{Description: &desc})
		s.Require().NoError(err)
		s.Equal(desc, updated.Description)
	})

	s.Run("policy is locked once ballots exist", func() {
		e := s.createElection(models.StatusActive, "")
		c := s.createCandidate(e.ID, "Ada")
		_, err := s.vote(e.ID, c.ID, "a@x.com")
		s.Require().NoError(err)

		policy := string(models.PolicyVoterID)
		_, err = s.service.UpdateElection(s.ctx, e.ID, &models.UpdateElectionRequest{DedupPolicy: &policy})
		s.requireCode(err, dErrors.CodeStateConflict, models.ReasonPolicyLocked)
	})

	s.Run("unknown election", func() {
		title := "x"
		_, err := s.service.UpdateElection(s.ctx, id.NewElectionID(), &models.UpdateElectionRequest{Title: &title})
		s.requireCode(err, dErrors.CodeNotFound, models.ReasonElectionNotFound)
	})
}

// Scenario D: deleting an election with dependents is refused unless the
// caller asks for the cascade.
func (s *ServiceSuite) TestDeleteElection() {
	e := s.createElection(models.StatusActive, "")
	c := s.createCandidate(e.ID, "Ada")
	_, err := s.vote(e.ID, c.ID, "a@x.com")
	s.Require().NoError(err)

	err = s.service.DeleteElection(s.ctx, e.ID, false)
	s.requireCode(err, dErrors.CodeConflict, models.ReasonHasDependents)
	_, err = s.service.GetElection(s.ctx, e.ID)
	s.Require().NoError(err, "refused delete must leave the election in place")

	s.Require().NoError(s.service.DeleteElection(s.ctx, e.ID, true))
	_, err = s.service.GetElection(s.ctx, e.ID)
	s.requireCode(err, dErrors.CodeNotFound, "")

	empty := s.createElection(models.StatusUpcoming, "")
	s.Require().NoError(s.service.DeleteElection(s.ctx, empty.ID, false))

	err = s.service.DeleteElection(s.ctx, id.NewElectionID(), true)
	s.requireCode(err, dErrors.CodeNotFound, models.ReasonElectionNotFound)
}

func (s *ServiceSuite) TestCandidates() {
	s.Run("duplicate name and position ignores case", func() {
		e := s.createElection(models.StatusUpcoming, "")
		s.createCandidate(e.ID, "Ada Lovelace")
		_, err := s.service.CreateCandidate(s.ctx, e.ID, &models.CreateCandidateRequest{
			Name:     " ada lovelace ",
			Position: "CHAIR",
		})
		s.requireCode(err, dErrors.CodeConflict, models.ReasonDuplicateCandidate)
	})

	s.Run("unknown election", func() {
		_, err := s.service.CreateCandidate(s.ctx, id.NewElectionID(), &models.CreateCandidateRequest{Name: "A", Position: "B"})
		s.requireCode(err, dErrors.CodeNotFound, models.ReasonElectionNotFound)
	})

	s.Run("closed elections refuse changes", func() {
		e := s.createElection(models.StatusUpcoming, "")
		c := s.createCandidate(e.ID, "Ada")
		_, err := s.service.Cancel(s.ctx, e.ID)
		s.Require().NoError(err)

		_, err = s.service.CreateCandidate(s.ctx, e.ID, &models.CreateCandidateRequest{Name: "Late", Position: "Chair"})
		s.requireCode(err, dErrors.CodeStateConflict, models.ReasonElectionClosed)

		bio := "updated"
		_, err = s.service.UpdateCandidate(s.ctx, c.ID, &models.UpdateCandidateRequest{Bio: &bio})
		s.requireCode(err, dErrors.CodeStateConflict, models.ReasonElectionClosed)
	})

	s.Run("update and list", func() {
		e := s.createElection(models.StatusUpcoming, "")
		s.createCandidate(e.ID, "Zed")
		c := s.createCandidate(e.ID, "Bea")
		district := "north"
		updated, err := s.service.UpdateCandidate(s.ctx, c.ID, &models.UpdateCandidateRequest{DistrictID: &district})
		s.Require().NoError(err)
		s.Equal("north", updated.DistrictID)

		list, err := s.service.ListCandidates(s.ctx, e.ID)
		s.Require().NoError(err)
		s.Require().Len(list, 2)
		s.Equal("Bea", list[0].Name)
		s.Equal("Zed", list[1].Name)

		_, err = s.service.ListCandidates(s.ctx, id.NewElectionID())
		s.requireCode(err, dErrors.CodeNotFound, "")
	})

	s.Run("admin detail carries ballots", func() {
		e := s.createElection(models.StatusActive, "")
		c := s.createCandidate(e.ID, "Ada")
		_, err := s.vote(e.ID, c.ID, "a@x.com")
		s.Require().NoError(err)

		details, err := s.service.GetCandidate(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Equal(e.ID, details.Election.ID)
		s.Equal(1, details.VoteCount)
		s.Require().Len(details.Ballots, 1)
		s.Equal("a@x.com", details.Ballots[0].VoterEmail)

		_, err = s.service.GetCandidate(s.ctx, id.NewCandidateID())
		s.requireCode(err, dErrors.CodeNotFound, models.ReasonCandidateNotFound)
	})

	s.Run("cascade delete frees the voters", func() {
		e := s.createElection(models.StatusActive, "")
		c1 := s.createCandidate(e.ID, "Ada")
		c2 := s.createCandidate(e.ID, "Grace")
		_, err := s.vote(e.ID, c1.ID, "a@x.com")
		s.Require().NoError(err)

		err = s.service.DeleteCandidate(s.ctx, c1.ID, false)
		s.requireCode(err, dErrors.CodeConflict, models.ReasonHasDependents)

		s.Require().NoError(s.service.DeleteCandidate(s.ctx, c1.ID, true))
		_, err = s.vote(e.ID, c2.ID, "a@x.com")
		s.Require().NoError(err)

		s.Require().NoError(s.service.DeleteCandidate(s.ctx, s.createCandidate(e.ID, "Hopper").ID, false))
	})
}

// Scenario A: voting is refused before the election is opened.
func (s *ServiceSuite) TestCastVoteRejectedUntilActive() {
	e := s.createElection(models.StatusUpcoming, "")
	c := s.createCandidate(e.ID, "Ada")

	_, err := s.vote(e.ID, c.ID, "a@x.com")
	s.requireCode(err, dErrors.CodeStateConflict, models.ReasonElectionNotActive)

	_, err = s.service.Activate(s.ctx, e.ID)
	s.Require().NoError(err)
	_, err = s.vote(e.ID, c.ID, "a@x.com")
	s.Require().NoError(err)

	_, err = s.service.Close(s.ctx, e.ID)
	s.Require().NoError(err)
	_, err = s.vote(e.ID, c.ID, "b@x.com")
	s.requireCode(err, dErrors.CodeStateConflict, models.ReasonElectionNotActive)
	s.Equal(float64(2), testutil.ToFloat64(s.metrics.VotesRejected.WithLabelValues(models.ReasonElectionNotActive)))
}

// Scenario B: the same email cannot vote twice, even for another candidate.
func (s *ServiceSuite) TestCastVoteDuplicate() {
	e := s.createElection(models.StatusActive, "")
	c1 := s.createCandidate(e.ID, "C1")
	c2 := s.createCandidate(e.ID, "C2")

	ballot, err := s.vote(e.ID, c1.ID, "a@x.com")
	s.Require().NoError(err)
	s.Equal(c1.ID, ballot.CandidateID)
	s.Equal(s.now, ballot.CreatedAt)

	_, err = s.vote(e.ID, c2.ID, " A@X.com ")
	s.requireCode(err, dErrors.CodeDuplicateVote, models.ReasonAlreadyVoted)
	s.Contains(s.auditActions(e.ID), string(audit.EventVoteRejected))

	tally, err := s.service.GetTally(s.ctx, e.ID)
	s.Require().NoError(err)
	s.Equal(1, models.TotalVotes(tally))
}

func (s *ServiceSuite) TestCastVotePreconditions() {
	e := s.createElection(models.StatusActive, "")
	c := s.createCandidate(e.ID, "Ada")
	other := s.createElection(models.StatusActive, "")
	foreign := s.createCandidate(other.ID, "Grace")

	s.Run("unknown election", func() {
		_, err := s.vote(id.NewElectionID(), c.ID, "a@x.com")
		s.requireCode(err, dErrors.CodeNotFound, models.ReasonElectionNotFound)
	})

	s.Run("candidate from another election", func() {
		_, err := s.vote(e.ID, foreign.ID, "a@x.com")
		s.requireCode(err, dErrors.CodeValidation, models.ReasonInvalidCandidate)
	})

	s.Run("unknown candidate", func() {
		_, err := s.vote(e.ID, id.NewCandidateID(), "a@x.com")
		s.requireCode(err, dErrors.CodeValidation, models.ReasonInvalidCandidate)
	})

	s.Run("no identity signal", func() {
		_, err := s.service.CastVote(s.ctx, e.ID, c.ID, models.VoterSignals{UserAgent: "curl"})
		s.requireCode(err, dErrors.CodeValidation, models.ReasonMissingIdentity)
	})

	s.Run("withdrawn candidate", func() {
		withdrawn := string(models.CandidateWithdrawn)
		w := s.createCandidate(e.ID, "Quitter")
		_, err := s.service.UpdateCandidate(s.ctx, w.ID, &models.UpdateCandidateRequest{Status: &withdrawn})
		s.Require().NoError(err)

		_, err = s.vote(e.ID, w.ID, "a@x.com")
		s.requireCode(err, dErrors.CodeStateConflict, models.ReasonCandidateWithdrawn)

		tally, err := s.service.GetTally(s.ctx, e.ID)
		s.Require().NoError(err)
		s.Len(tally, 2, "withdrawn candidates stay in the tally")
	})

	s.Run("status is checked before the candidate", func() {
		upcoming := s.createElection(models.StatusUpcoming, "")
		_, err := s.vote(upcoming.ID, id.NewCandidateID(), "")
		s.requireCode(err, dErrors.CodeStateConflict, models.ReasonElectionNotActive)
	})
}

func (s *ServiceSuite) TestCastVoteDedupPolicies() {
	s.Run("any signal blocks a shared IP", func() {
		e := s.createElection(models.StatusActive, models.PolicyAnySignal)
		c := s.createCandidate(e.ID, "Ada")
		_, err := s.service.CastVote(s.ctx, e.ID, c.ID, models.VoterSignals{VoterEmail: "a@x.com", IPAddress: "10.0.0.1"})
		s.Require().NoError(err)
		_, err = s.service.CastVote(s.ctx, e.ID, c.ID, models.VoterSignals{VoterEmail: "b@x.com", IPAddress: "10.0.0.1"})
		s.requireCode(err, dErrors.CodeDuplicateVote, models.ReasonAlreadyVoted)
	})

	s.Run("ip and email only blocks the pair", func() {
		e := s.createElection(models.StatusActive, models.PolicyIPAndEmail)
		c := s.createCandidate(e.ID, "Ada")
		_, err := s.service.CastVote(s.ctx, e.ID, c.ID, models.VoterSignals{VoterEmail: "a@x.com", IPAddress: "10.0.0.1"})
		s.Require().NoError(err)
		_, err = s.service.CastVote(s.ctx, e.ID, c.ID, models.VoterSignals{VoterEmail: "b@x.com", IPAddress: "10.0.0.1"})
		s.Require().NoError(err)
		_, err = s.service.CastVote(s.ctx, e.ID, c.ID, models.VoterSignals{VoterEmail: "a@x.com", IPAddress: "10.0.0.1"})
		s.requireCode(err, dErrors.CodeDuplicateVote, models.ReasonAlreadyVoted)
	})

	s.Run("voter id policy requires and claims the id", func() {
		e := s.createElection(models.StatusActive, models.PolicyVoterID)
		c := s.createCandidate(e.ID, "Ada")
		_, err := s.vote(e.ID, c.ID, "a@x.com")
		s.requireCode(err, dErrors.CodeValidation, models.ReasonVoterIDRequired)

		member := func(voterID, ip string) models.VoterSignals {
			return models.VoterSignals{VoterID: voterID, IPAddress: ip, Authenticated: true}
		}
		_, err = s.service.CastVote(s.ctx, e.ID, c.ID, member("member-1", "10.0.0.1"))
		s.Require().NoError(err)
		_, err = s.service.CastVote(s.ctx, e.ID, c.ID, member("member-2", "10.0.0.1"))
		s.Require().NoError(err)
		_, err = s.service.CastVote(s.ctx, e.ID, c.ID, member("member-1", "10.9.9.9"))
		s.requireCode(err, dErrors.CodeDuplicateVote, models.ReasonAlreadyVoted)
	})

	s.Run("voter id policy ignores ids typed by anonymous voters", func() {
		e := s.createElection(models.StatusActive, models.PolicyVoterID)
		c := s.createCandidate(e.ID, "Ada")
		for _, invented := range []string{"made-up-a", "made-up-b", "made-up-c"} {
			_, err := s.service.CastVote(s.ctx, e.ID, c.ID, models.VoterSignals{VoterID: invented, IPAddress: "1.1.1.1"})
			s.requireCode(err, dErrors.CodeValidation, models.ReasonVoterIDRequired)
		}

		tally, err := s.service.GetTally(s.ctx, e.ID)
		s.Require().NoError(err)
		s.Equal(0, models.TotalVotes(tally))
	})
}

func (s *ServiceSuite) TestCastVoteConcurrentSameVoter() {
	e := s.createElection(models.StatusActive, "")
	c := s.createCandidate(e.ID, "Ada")

	const attempts = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		dupes     int
	)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.vote(e.ID, c.ID, "same@x.com")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case dErrors.HasCode(err, dErrors.CodeDuplicateVote):
				dupes++
			}
		}()
	}
	wg.Wait()

	s.Equal(1, succeeded, "exactly one concurrent cast should succeed")
	s.Equal(attempts-1, dupes)

	tally, err := s.service.GetTally(s.ctx, e.ID)
	s.Require().NoError(err)
	s.Equal(1, models.TotalVotes(tally))
}

// Scenario C: tallies are ordered by votes and every candidate appears.
func (s *ServiceSuite) TestGetTally() {
	e := s.createElection(models.StatusActive, "")
	c1 := s.createCandidate(e.ID, "C1")
	c2 := s.createCandidate(e.ID, "C2")
	s.createCandidate(e.ID, "C0")

	for _, email := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		_, err := s.vote(e.ID, c1.ID, email)
		s.Require().NoError(err)
	}
	for _, email := range []string{"d@x.com", "e@x.com"} {
		_, err := s.vote(e.ID, c2.ID, email)
		s.Require().NoError(err)
	}

	tally, err := s.service.GetTally(s.ctx, e.ID)
	s.Require().NoError(err)
	s.Require().Len(tally, 3)
	s.Equal(c1.ID, tally[0].CandidateID)
	s.Equal(3, tally[0].VoteCount)
	s.Equal(60.0, tally[0].Percentage)
	s.Equal(c2.ID, tally[1].CandidateID)
	s.Equal(2, tally[1].VoteCount)
	s.Equal("C0", tally[2].CandidateName)
	s.Equal(0, tally[2].VoteCount)
	s.Equal(5, models.TotalVotes(tally))

	_, err = s.service.GetTally(s.ctx, id.NewElectionID())
	s.requireCode(err, dErrors.CodeNotFound, models.ReasonElectionNotFound)
}

func (s *ServiceSuite) TestTallyCache() {
	e := s.createElection(models.StatusActive, "")
	c := s.createCandidate(e.ID, "Ada")

	_, err := s.service.GetTally(s.ctx, e.ID)
	s.Require().NoError(err)
	s.True(s.tallies.has(e.ID), "computed tally should be cached")

	_, err = s.vote(e.ID, c.ID, "a@x.com")
	s.Require().NoError(err)
	s.False(s.tallies.has(e.ID), "a cast should invalidate the cached tally")

	tally, err := s.service.GetTally(s.ctx, e.ID)
	s.Require().NoError(err)
	s.Equal(1, tally[0].VoteCount)

	s.Run("a ballot cast mid-count is not hidden by the cache", func() {
		e := s.createElection(models.StatusActive, "")
		c := s.createCandidate(e.ID, "Ada")

		paused := &pausedCountStore{
			Store:    s.store,
			counting: make(chan struct{}),
			release:  make(chan struct{}),
		}
		reader := New(paused, WithTallyCache(s.tallies))

		type result struct {
			tally []models.TallyEntry
			err   error
		}
		done := make(chan result, 1)
		go func() {
			tally, err := reader.GetTally(s.ctx, e.ID)
			done <- result{tally, err}
		}()

		<-paused.counting
		_, err := s.vote(e.ID, c.ID, "mid-count@x.com")
		s.Require().NoError(err)
		close(paused.release)

		first := <-done
		s.Require().NoError(first.err)
		s.LessOrEqual(models.TotalVotes(first.tally), 1)
		s.False(s.tallies.has(e.ID), "a tally counted before the cast must not be cached")

		tally, err := s.service.GetTally(s.ctx, e.ID)
		s.Require().NoError(err)
		s.Equal(1, models.TotalVotes(tally))
	})

	s.Run("cache errors fall back to the ledger", func() {
		s.tallies.setErr(errors.New("redis down"))
		tally, err := s.service.GetTally(s.ctx, e.ID)
		s.Require().NoError(err)
		s.Equal(1, models.TotalVotes(tally))
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.TallyCacheLookups.WithLabelValues("error")))
	})
}

func (s *ServiceSuite) TestTransition() {
	s.Run("same status is a no-op", func() {
		e := s.createElection(models.StatusUpcoming, "")
		got, err := s.service.Transition(s.ctx, e.ID, models.StatusUpcoming)
		s.Require().NoError(err)
		s.Equal(1, got.Version)
	})

	s.Run("upcoming cannot complete", func() {
		e := s.createElection(models.StatusUpcoming, "")
		_, err := s.service.Close(s.ctx, e.ID)
		s.requireCode(err, dErrors.CodeStateConflict, models.ReasonInvalidTransition)
	})

	s.Run("terminal states are final", func() {
		e := s.createElection(models.StatusActive, "")
		got, err := s.service.Cancel(s.ctx, e.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusCancelled, got.Status)

		for _, to := range []models.Status{models.StatusActive, models.StatusCompleted, models.StatusCancelled} {
			_, err := s.service.Transition(s.ctx, e.ID, to)
			s.requireCode(err, dErrors.CodeStateConflict, models.ReasonTerminalState)
		}
	})

	s.Run("unknown election", func() {
		_, err := s.service.Activate(s.ctx, id.NewElectionID())
		s.requireCode(err, dErrors.CodeNotFound, "")
	})
}

func (s *ServiceSuite) TestSweepDue() {
	opens := s.createElection(models.StatusUpcoming, "")
	running := s.createElection(models.StatusActive, "")
	future, err := s.service.CreateElection(s.ctx, &models.CreateElectionRequest{
		Title:     "Next year",
		StartDate: novStart.AddDate(1, 0, 0),
		EndDate:   novEnd.AddDate(1, 0, 0),
	})
	s.Require().NoError(err)

	applied, err := s.service.SweepDue(s.ctx, s.now)
	s.Require().NoError(err)
	s.Equal(1, applied)

	got, err := s.service.GetElection(s.ctx, opens.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusActive, got.Election.Status)

	got, err = s.service.GetElection(s.ctx, running.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusActive, got.Election.Status)

	afterEnd := novEnd.Add(time.Hour)
	applied, err = s.service.SweepDue(s.ctx, afterEnd)
	s.Require().NoError(err)
	s.Equal(2, applied)

	got, err = s.service.GetElection(s.ctx, running.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, got.Election.Status)

	got, err = s.service.GetElection(s.ctx, future.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusUpcoming, got.Election.Status)

	s.Run("missed window walks through active", func() {
		applied, err := s.service.SweepDue(s.ctx, novEnd.AddDate(1, 0, 1))
		s.Require().NoError(err)
		s.Equal(2, applied)
		got, err := s.service.GetElection(s.ctx, future.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusCompleted, got.Election.Status)
		s.Equal(float64(3), testutil.ToFloat64(s.metrics.Transitions.WithLabelValues("COMPLETED", "sweep")))
	})

	s.Run("nothing due", func() {
		applied, err := s.service.SweepDue(s.ctx, s.now)
		s.Require().NoError(err)
		s.Zero(applied)
	})
}

func (s *ServiceSuite) TestStats() {
	e := s.createElection(models.StatusActive, "")
	s.createElection(models.StatusUpcoming, "")
	c := s.createCandidate(e.ID, "Ada")
	_, err := s.vote(e.ID, c.ID, "a@x.com")
	s.Require().NoError(err)

	stats, err := s.service.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, stats.TotalElections)
	s.Equal(1, stats.ElectionsByStatus[models.StatusActive])
	s.Equal(1, stats.ElectionsByStatus[models.StatusUpcoming])
	s.Equal(1, stats.TotalCandidates)
	s.Equal(1, stats.TotalVotes)
}

func (s *ServiceSuite) TestOverlappingSweepsApplyOnce() {
	e := s.createElection(models.StatusUpcoming, "")

	var wg sync.WaitGroup
	applied := make([]int, 2)
	errs := make([]error, 2)
	for i := range applied {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			applied[i], errs[i] = s.service.SweepDue(s.ctx, s.now)
		}(i)
	}
	wg.Wait()

	s.Require().NoError(errs[0])
	s.Require().NoError(errs[1])
	s.Equal(1, applied[0]+applied[1], "two replicas sweeping together move the election once")

	got, err := s.service.GetElection(s.ctx, e.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusActive, got.Election.Status)
	s.Equal(2, got.Election.Version)
}

type fakeTallyCache struct {
	mu          sync.Mutex
	entries     map[id.ElectionID][]models.TallyEntry
	generations map[id.ElectionID]int64
	err         error
}

func newFakeTallyCache() *fakeTallyCache {
	return &fakeTallyCache{
		entries:     make(map[id.ElectionID][]models.TallyEntry),
		generations: make(map[id.ElectionID]int64),
	}
}

func (f *fakeTallyCache) Get(_ context.Context, electionID id.ElectionID) ([]models.TallyEntry, int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, -1, false, f.err
	}
	entries, ok := f.entries[electionID]
	return entries, f.generations[electionID], ok, nil
}

func (f *fakeTallyCache) Set(_ context.Context, electionID id.ElectionID, generation int64, entries []models.TallyEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.generations[electionID] != generation {
		return nil
	}
	f.entries[electionID] = entries
	return nil
}

func (f *fakeTallyCache) Invalidate(_ context.Context, electionID id.ElectionID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generations[electionID]++
	delete(f.entries, electionID)
	return f.err
}

func (f *fakeTallyCache) has(electionID id.ElectionID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[electionID]
	return ok
}

func (f *fakeTallyCache) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// pausedCountStore holds the first ListCandidateVotes call until released,
// leaving a window for a ballot to land mid-count.
type pausedCountStore struct {
	Store
	once     sync.Once
	counting chan struct{}
	release  chan struct{}
}

func (p *pausedCountStore) ListCandidateVotes(ctx context.Context, electionID id.ElectionID) ([]models.CandidateVotes, error) {
	first := false
	p.once.Do(func() { first = true })
	if first {
		close(p.counting)
		<-p.release
	}
	return p.Store.ListCandidateVotes(ctx, electionID)
}
