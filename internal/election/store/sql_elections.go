package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ballotbox/internal/election/models"
	"ballotbox/internal/platform/storage"
	id "ballotbox/pkg/domain"
	"ballotbox/pkg/platform/sentinel"
)

const electionColumns = `e.id, e.title, e.description, e.type, e.status, e.start_date, e.end_date,
	e.published, e.dedup_policy, e.version, e.created_at, e.updated_at`

func (s *SQLStore) CreateElection(ctx context.Context, e *models.Election) error {
	_, err := s.exec(ctx, `
INSERT INTO elections (id, title, description, type, status, start_date, end_date, published, dedup_policy, version, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.Title, e.Description, string(e.Type), string(e.Status),
		toMillis(e.StartDate), toMillis(e.EndDate), e.Published, string(e.DedupPolicy), e.Version,
		toMillis(e.CreatedAt), toMillis(e.UpdatedAt))
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert election: %w", err)
	}
	return nil
}

func (s *SQLStore) FindElection(ctx context.Context, electionID id.ElectionID) (*models.Election, error) {
	return s.findElection(ctx, electionID, "")
}

// LockElection reads the election and, on PostgreSQL, locks its row until
// the surrounding transaction ends: shared for vote casting, exclusive for
// status and field updates. SQLite serializes writers on its own.
func (s *SQLStore) LockElection(ctx context.Context, electionID id.ElectionID, exclusive bool) (*models.Election, error) {
	if s.dialect != storage.DialectPostgres {
		return s.findElection(ctx, electionID, "")
	}
	if exclusive {
		return s.findElection(ctx, electionID, " FOR UPDATE")
	}
	return s.findElection(ctx, electionID, " FOR SHARE")
}

func (s *SQLStore) findElection(ctx context.Context, electionID id.ElectionID, lockClause string) (*models.Election, error) {
	row := s.queryRow(ctx, `SELECT `+electionColumns+` FROM elections e WHERE e.id = ?`+lockClause, electionID.String())
	e, err := scanElection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find election: %w", err)
	}
	return e, nil
}

func (s *SQLStore) ListElections(ctx context.Context, filter models.ListFilter) ([]models.ElectionSummary, error) {
	filter.Normalize()
	var (
		where []string
		args  []any
	)
	if filter.Status != nil {
		where = append(where, "e.status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Published != nil {
		where = append(where, "e.published = ?")
		args = append(args, *filter.Published)
	}
	query := `SELECT ` + electionColumns + `,
	(SELECT COUNT(*) FROM candidates c WHERE c.election_id = e.id),
	(SELECT COUNT(*) FROM ballots b WHERE b.election_id = e.id)
FROM elections e`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY e.start_date DESC, e.created_at DESC, e.id LIMIT ?"
	args = append(args, filter.Limit)

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list elections: %w", err)
	}
	defer rows.Close()

	out := make([]models.ElectionSummary, 0)
	for rows.Next() {
		var summary models.ElectionSummary
		e, err := scanElection(rows, &summary.CandidateCount, &summary.VoteCount)
		if err != nil {
			return nil, fmt.Errorf("scan election: %w", err)
		}
		summary.Election = *e
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list elections: %w", err)
	}
	return out, nil
}

// UpdateElection persists e and bumps its version. A positive
// expectedVersion must match the stored version or ErrConflict is returned.
func (s *SQLStore) UpdateElection(ctx context.Context, e *models.Election, expectedVersion int) error {
	query := `
UPDATE elections
SET title = ?, description = ?, type = ?, status = ?, start_date = ?, end_date = ?,
	published = ?, dedup_policy = ?, version = version + 1, updated_at = ?
WHERE id = ?`
	args := []any{
		e.Title, e.Description, string(e.Type), string(e.Status), toMillis(e.StartDate), toMillis(e.EndDate),
		e.Published, string(e.DedupPolicy), toMillis(e.UpdatedAt), e.ID.String(),
	}
	if expectedVersion > 0 {
		query += " AND version = ?"
		args = append(args, expectedVersion)
	}
	query += " RETURNING version"

	var version int
	err := s.queryRow(ctx, query, args...).Scan(&version)
	if err == nil {
		e.Version = version
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update election: %w", err)
	}
	if _, findErr := s.FindElection(ctx, e.ID); findErr != nil {
		return findErr
	}
	return sentinel.ErrConflict
}

// DeleteElection removes the election together with its claims, ballots and
// candidates. Call it inside RunInTx so the cascade is all or nothing.
func (s *SQLStore) DeleteElection(ctx context.Context, electionID id.ElectionID) error {
	eid := electionID.String()
	for _, stmt := range []string{
		`DELETE FROM ballot_claims WHERE election_id = ?`,
		`DELETE FROM ballots WHERE election_id = ?`,
		`DELETE FROM candidates WHERE election_id = ?`,
	} {
		if _, err := s.exec(ctx, stmt, eid); err != nil {
			return fmt.Errorf("delete election dependents: %w", err)
		}
	}
	res, err := s.exec(ctx, `DELETE FROM elections WHERE id = ?`, eid)
	if err != nil {
		return fmt.Errorf("delete election: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete election: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *SQLStore) CountElectionDependents(ctx context.Context, electionID id.ElectionID) (models.Dependents, error) {
	var deps models.Dependents
	err := s.queryRow(ctx, `
SELECT
	(SELECT COUNT(*) FROM candidates WHERE election_id = ?),
	(SELECT COUNT(*) FROM ballots WHERE election_id = ?)`,
		electionID.String(), electionID.String()).Scan(&deps.Candidates, &deps.Ballots)
	if err != nil {
		return models.Dependents{}, fmt.Errorf("count election dependents: %w", err)
	}
	return deps, nil
}

// ListDueElections returns elections the lifecycle sweep has work for.
func (s *SQLStore) ListDueElections(ctx context.Context, now time.Time) ([]*models.Election, error) {
	ms := toMillis(now)
	rows, err := s.query(ctx, `SELECT `+electionColumns+` FROM elections e
WHERE (e.status = ? AND e.start_date <= ?) OR (e.status = ? AND e.end_date < ?)
ORDER BY e.start_date, e.id`,
		string(models.StatusUpcoming), ms, string(models.StatusActive), ms)
	if err != nil {
		return nil, fmt.Errorf("list due elections: %w", err)
	}
	defer rows.Close()

	var out []*models.Election
	for rows.Next() {
		e, err := scanElection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan election: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list due elections: %w", err)
	}
	return out, nil
}

func (s *SQLStore) Stats(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{ElectionsByStatus: make(map[models.Status]int)}
	rows, err := s.query(ctx, `SELECT status, COUNT(*) FROM elections GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count elections by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan election count: %w", err)
		}
		stats.ElectionsByStatus[models.Status(status)] = n
		stats.TotalElections += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count elections by status: %w", err)
	}

	if stats.TotalCandidates, err = s.count(ctx, `SELECT COUNT(*) FROM candidates`); err != nil {
		return nil, fmt.Errorf("count candidates: %w", err)
	}
	if stats.TotalVotes, err = s.count(ctx, `SELECT COUNT(*) FROM ballots`); err != nil {
		return nil, fmt.Errorf("count ballots: %w", err)
	}
	return stats, nil
}

func scanElection(row scanner, extra ...any) (*models.Election, error) {
	var (
		rawID, typ, status, policy string
		start, end, created, upd   int64
		e                          models.Election
	)
	dest := []any{
		&rawID, &e.Title, &e.Description, &typ, &status, &start, &end,
		&e.Published, &policy, &e.Version, &created, &upd,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	electionID, err := id.ParseElectionID(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse election id: %w", err)
	}
	e.ID = electionID
	e.Type = models.ElectionType(typ)
	e.Status = models.Status(status)
	e.DedupPolicy = models.DedupPolicy(policy)
	e.StartDate = fromMillis(start)
	e.EndDate = fromMillis(end)
	e.CreatedAt = fromMillis(created)
	e.UpdatedAt = fromMillis(upd)
	return &e, nil
}
