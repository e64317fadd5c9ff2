package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ballotbox/internal/election/models"
	"ballotbox/internal/platform/storage"
	id "ballotbox/pkg/domain"
	"ballotbox/pkg/platform/sentinel"
)

const candidateColumns = `c.id, c.election_id, c.name, c.position, c.district_id, c.bio, c.manifesto,
	c.status, c.created_at, c.updated_at`

// CreateCandidate inserts c. A candidate with the same name and position in
// the election, ignoring case, yields ErrAlreadyUsed.
func (s *SQLStore) CreateCandidate(ctx context.Context, c *models.Candidate) error {
	if _, err := s.FindElection(ctx, c.ElectionID); err != nil {
		return err
	}
	_, err := s.exec(ctx, `
INSERT INTO candidates (id, election_id, name, position, name_key, position_key, district_id, bio, manifesto, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.ElectionID.String(), c.Name, c.Position, c.NameKey(), c.PositionKey(),
		c.DistrictID, c.Bio, c.Manifesto, string(c.Status), toMillis(c.CreatedAt), toMillis(c.UpdatedAt))
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert candidate: %w", err)
	}
	return nil
}

func (s *SQLStore) FindCandidate(ctx context.Context, candidateID id.CandidateID) (*models.Candidate, error) {
	row := s.queryRow(ctx, `SELECT `+candidateColumns+` FROM candidates c WHERE c.id = ?`, candidateID.String())
	c, err := scanCandidate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find candidate: %w", err)
	}
	return c, nil
}

func (s *SQLStore) UpdateCandidate(ctx context.Context, c *models.Candidate) error {
	res, err := s.exec(ctx, `
UPDATE candidates
SET name = ?, position = ?, name_key = ?, position_key = ?, district_id = ?, bio = ?, manifesto = ?,
	status = ?, updated_at = ?
WHERE id = ?`,
		c.Name, c.Position, c.NameKey(), c.PositionKey(), c.DistrictID, c.Bio, c.Manifesto,
		string(c.Status), toMillis(c.UpdatedAt), c.ID.String())
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("update candidate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update candidate: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// DeleteCandidate removes the candidate with its ballots and their claims.
// Call it inside RunInTx so the cascade is all or nothing.
func (s *SQLStore) DeleteCandidate(ctx context.Context, candidateID id.CandidateID) error {
	cid := candidateID.String()
	if _, err := s.exec(ctx, `
DELETE FROM ballot_claims WHERE ballot_id IN (SELECT id FROM ballots WHERE candidate_id = ?)`, cid); err != nil {
		return fmt.Errorf("delete candidate claims: %w", err)
	}
	if _, err := s.exec(ctx, `DELETE FROM ballots WHERE candidate_id = ?`, cid); err != nil {
		return fmt.Errorf("delete candidate ballots: %w", err)
	}
	res, err := s.exec(ctx, `DELETE FROM candidates WHERE id = ?`, cid)
	if err != nil {
		return fmt.Errorf("delete candidate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete candidate: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// ListCandidateVotes returns the election's candidates with the number of
// ballots each has, ordered by name.
func (s *SQLStore) ListCandidateVotes(ctx context.Context, electionID id.ElectionID) ([]models.CandidateVotes, error) {
	rows, err := s.query(ctx, `SELECT `+candidateColumns+`,
	(SELECT COUNT(*) FROM ballots b WHERE b.candidate_id = c.id)
FROM candidates c
WHERE c.election_id = ?`, electionID.String())
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	out := make([]models.CandidateVotes, 0)
	for rows.Next() {
		var cv models.CandidateVotes
		c, err := scanCandidate(rows, &cv.VoteCount)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		cv.Candidate = *c
		out = append(out, cv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	models.SortCandidateVotes(out)
	return out, nil
}

func (s *SQLStore) CountCandidateBallots(ctx context.Context, candidateID id.CandidateID) (int, error) {
	n, err := s.count(ctx, `SELECT COUNT(*) FROM ballots WHERE candidate_id = ?`, candidateID.String())
	if err != nil {
		return 0, fmt.Errorf("count candidate ballots: %w", err)
	}
	return n, nil
}

func scanCandidate(row scanner, extra ...any) (*models.Candidate, error) {
	var (
		rawID, rawElectionID, status string
		created, updated             int64
		c                            models.Candidate
	)
	dest := []any{
		&rawID, &rawElectionID, &c.Name, &c.Position, &c.DistrictID, &c.Bio, &c.Manifesto,
		&status, &created, &updated,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	candidateID, err := id.ParseCandidateID(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse candidate id: %w", err)
	}
	electionID, err := id.ParseElectionID(rawElectionID)
	if err != nil {
		return nil, fmt.Errorf("parse election id: %w", err)
	}
	c.ID = candidateID
	c.ElectionID = electionID
	c.Status = models.CandidateStatus(status)
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)
	return &c, nil
}
