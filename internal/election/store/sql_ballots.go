package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"ballotbox/internal/election/models"
	"ballotbox/internal/platform/storage"
	id "ballotbox/pkg/domain"
	"ballotbox/pkg/platform/sentinel"
)

// ClaimsTaken reports whether any of claims is already held in the election.
func (s *SQLStore) ClaimsTaken(ctx context.Context, electionID id.ElectionID, claims []models.Claim) (bool, error) {
	if len(claims) == 0 {
		return false, nil
	}
	conds := make([]string, 0, len(claims))
	args := []any{electionID.String()}
	for _, c := range claims {
		conds = append(conds, "(claim_kind = ? AND claim_value = ?)")
		args = append(args, string(c.Kind), c.Value)
	}
	n, err := s.count(ctx, `SELECT COUNT(*) FROM ballot_claims WHERE election_id = ? AND (`+
		strings.Join(conds, " OR ")+`)`, args...)
	if err != nil {
		return false, fmt.Errorf("find claim: %w", err)
	}
	return n > 0, nil
}

// InsertBallot records b and one ballot_claims row per claim. The claims
// primary key rejects a second ballot for the same identity with
// ErrAlreadyUsed; call it inside RunInTx so a rejected ballot leaves no row.
func (s *SQLStore) InsertBallot(ctx context.Context, b *models.Ballot, claims []models.Claim) error {
	_, err := s.exec(ctx, `
INSERT INTO ballots (id, election_id, candidate_id, voter_id, voter_email, ip_address, user_agent, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID.String(), b.ElectionID.String(), b.CandidateID.String(),
		nullString(b.VoterID), nullString(b.VoterEmail), nullString(b.IPAddress), nullString(b.UserAgent),
		toMillis(b.CreatedAt))
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert ballot: %w", err)
	}
	for _, c := range claims {
		_, err := s.exec(ctx, `
INSERT INTO ballot_claims (election_id, claim_kind, claim_value, ballot_id) VALUES (?, ?, ?, ?)`,
			b.ElectionID.String(), string(c.Kind), c.Value, b.ID.String())
		if err != nil {
			if storage.IsUniqueViolation(err) {
				return sentinel.ErrAlreadyUsed
			}
			return fmt.Errorf("insert ballot claim: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) ListBallotsByCandidate(ctx context.Context, candidateID id.CandidateID) ([]models.Ballot, error) {
	rows, err := s.query(ctx, `
SELECT id, election_id, candidate_id, voter_id, voter_email, ip_address, user_agent, created_at
FROM ballots WHERE candidate_id = ?
ORDER BY created_at, id`, candidateID.String())
	if err != nil {
		return nil, fmt.Errorf("list ballots: %w", err)
	}
	defer rows.Close()

	out := make([]models.Ballot, 0)
	for rows.Next() {
		b, err := scanBallot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ballot: %w", err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list ballots: %w", err)
	}
	return out, nil
}

func scanBallot(row scanner) (*models.Ballot, error) {
	var (
		rawID, rawElectionID, rawCandidateID      string
		voterID, voterEmail, ipAddress, userAgent sql.NullString
		created                                   int64
	)
	if err := row.Scan(&rawID, &rawElectionID, &rawCandidateID,
		&voterID, &voterEmail, &ipAddress, &userAgent, &created); err != nil {
		return nil, err
	}
	ballotID, err := id.ParseBallotID(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse ballot id: %w", err)
	}
	electionID, err := id.ParseElectionID(rawElectionID)
	if err != nil {
		return nil, fmt.Errorf("parse election id: %w", err)
	}
	candidateID, err := id.ParseCandidateID(rawCandidateID)
	if err != nil {
		return nil, fmt.Errorf("parse candidate id: %w", err)
	}
	return &models.Ballot{
		ID:          ballotID,
		ElectionID:  electionID,
		CandidateID: candidateID,
		VoterID:     voterID.String,
		VoterEmail:  voterEmail.String,
		IPAddress:   ipAddress.String,
		UserAgent:   userAgent.String,
		CreatedAt:   fromMillis(created),
	}, nil
}
