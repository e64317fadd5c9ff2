package election

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(path string, headers map[string]string) error
	POST(path string, body interface{}, headers map[string]string) error
	Do(method, path string, body interface{}, headers map[string]string) error
	GetResponseField(field string) (interface{}, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	AdminHeaders() map[string]string
	Save(name, value string)
	Saved(name string) (string, error)
}

// RegisterSteps registers election administration and voting steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &electionSteps{tc: tc}

	ctx.Step(`^an administrator creates an active election "([^"]*)"$`, steps.createActiveElection)
	ctx.Step(`^an administrator creates an upcoming election "([^"]*)"$`, steps.createUpcomingElection)
	ctx.Step(`^an administrator creates an election "([^"]*)" with dedup policy "([^"]*)"$`, steps.createElectionWithPolicy)
	ctx.Step(`^an anonymous caller tries to create an election "([^"]*)"$`, steps.anonymousCreate)
	ctx.Step(`^an administrator adds candidate "([^"]*)" for "([^"]*)"$`, steps.addCandidate)
	ctx.Step(`^an administrator (activates|closes|cancels) the election$`, steps.transition)
	ctx.Step(`^an administrator deletes the election$`, steps.deleteElection)
	ctx.Step(`^an administrator deletes the election with cascade$`, steps.deleteElectionCascade)
	ctx.Step(`^a voter from "([^"]*)" votes for "([^"]*)"$`, steps.voteFromIP)
	ctx.Step(`^a voter from "([^"]*)" with email "([^"]*)" votes for "([^"]*)"$`, steps.voteFromIPWithEmail)
	ctx.Step(`^the tally should show (\d+) votes? for "([^"]*)"$`, steps.tallyShouldShow)
	ctx.Step(`^the election status should be "([^"]*)"$`, steps.electionStatusShouldBe)
}

type electionSteps struct {
	tc TestContext
}

func (s *electionSteps) create(title, status, policy string, headers map[string]string) error {
	now := time.Now().UTC()
	body := map[string]interface{}{
		"title":      title,
		"status":     status,
		"start_date": now.Add(-time.Hour),
		"end_date":   now.Add(24 * time.Hour),
	}
	if status == "UPCOMING" {
		body["start_date"] = now.Add(time.Hour)
	}
	if policy != "" {
		body["dedup_policy"] = policy
	}
	if err := s.tc.POST("/elections", body, headers); err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() != 201 {
		return nil
	}
	electionID, err := s.tc.GetResponseField("id")
	if err != nil {
		return err
	}
	s.tc.Save("election", fmt.Sprint(electionID))
	return nil
}

func (s *electionSteps) requireCreated() error {
	if got := s.tc.GetLastResponseStatus(); got != 201 {
		return fmt.Errorf("expected 201, got %d: %s", got, s.tc.GetLastResponseBody())
	}
	return nil
}

func (s *electionSteps) createActiveElection(ctx context.Context, title string) error {
	if err := s.create(title, "ACTIVE", "", s.tc.AdminHeaders()); err != nil {
		return err
	}
	return s.requireCreated()
}

func (s *electionSteps) createUpcomingElection(ctx context.Context, title string) error {
	if err := s.create(title, "UPCOMING", "", s.tc.AdminHeaders()); err != nil {
		return err
	}
	return s.requireCreated()
}

func (s *electionSteps) createElectionWithPolicy(ctx context.Context, title, policy string) error {
	if err := s.create(title, "ACTIVE", policy, s.tc.AdminHeaders()); err != nil {
		return err
	}
	return s.requireCreated()
}

func (s *electionSteps) anonymousCreate(ctx context.Context, title string) error {
	return s.create(title, "ACTIVE", "", nil)
}

func (s *electionSteps) addCandidate(ctx context.Context, name, position string) error {
	body := map[string]interface{}{"name": name, "position": position}
	if err := s.tc.POST("/elections/{election}/candidates", body, s.tc.AdminHeaders()); err != nil {
		return err
	}
	if err := s.requireCreated(); err != nil {
		return err
	}
	candidateID, err := s.tc.GetResponseField("id")
	if err != nil {
		return err
	}
	s.tc.Save("candidate:"+name, fmt.Sprint(candidateID))
	return nil
}

func (s *electionSteps) transition(ctx context.Context, verb string) error {
	action := map[string]string{"activates": "activate", "closes": "close", "cancels": "cancel"}[verb]
	return s.tc.POST("/elections/{election}/"+action, nil, s.tc.AdminHeaders())
}

func (s *electionSteps) deleteElection(ctx context.Context) error {
	return s.tc.Do("DELETE", "/elections/{election}", nil, s.tc.AdminHeaders())
}

func (s *electionSteps) deleteElectionCascade(ctx context.Context) error {
	return s.tc.Do("DELETE", "/elections/{election}?cascade=true", nil, s.tc.AdminHeaders())
}

func (s *electionSteps) vote(ip, email, candidate string) error {
	candidateID, err := s.tc.Saved("candidate:" + candidate)
	if err != nil {
		return err
	}
	body := map[string]interface{}{"candidate_id": candidateID}
	if email != "" {
		body["voter_email"] = email
	}
	return s.tc.POST("/elections/{election}/vote", body, map[string]string{"X-Forwarded-For": ip})
}

func (s *electionSteps) voteFromIP(ctx context.Context, ip, candidate string) error {
	return s.vote(ip, "", candidate)
}

func (s *electionSteps) voteFromIPWithEmail(ctx context.Context, ip, email, candidate string) error {
	return s.vote(ip, email, candidate)
}

func (s *electionSteps) tallyShouldShow(ctx context.Context, expected int, candidate string) error {
	if err := s.tc.GET("/elections/{election}/vote", nil); err != nil {
		return err
	}
	var tally []struct {
		CandidateName string `json:"candidate_name"`
		VoteCount     int    `json:"vote_count"`
	}
	if err := json.Unmarshal(s.tc.GetLastResponseBody(), &tally); err != nil {
		return fmt.Errorf("tally is not a JSON array: %s", s.tc.GetLastResponseBody())
	}
	for _, entry := range tally {
		if entry.CandidateName == candidate {
			if entry.VoteCount != expected {
				return fmt.Errorf("expected %d votes for %s, got %d", expected, candidate, entry.VoteCount)
			}
			return nil
		}
	}
	return fmt.Errorf("%s missing from tally: %s", candidate, s.tc.GetLastResponseBody())
}

func (s *electionSteps) electionStatusShouldBe(ctx context.Context, expected string) error {
	if err := s.tc.GET("/elections/{election}", nil); err != nil {
		return err
	}
	var details struct {
		Election struct {
			Status string `json:"status"`
		} `json:"election"`
	}
	if err := json.Unmarshal(s.tc.GetLastResponseBody(), &details); err != nil {
		return fmt.Errorf("election response is not JSON: %s", s.tc.GetLastResponseBody())
	}
	if details.Election.Status != expected {
		return fmt.Errorf("expected status %s, got %s", expected, details.Election.Status)
	}
	return nil
}
