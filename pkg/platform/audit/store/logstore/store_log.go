package logstore

import (
	"context"
	"log/slog"

	audit "ballotbox/pkg/platform/audit"
)

// Store writes audit events as structured log lines tagged log_type=audit.
type Store struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{logger: logger}
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	args := []any{
		"log_type", "audit",
		"event_id", event.ID,
		"category", string(event.Category),
		"action", event.Action,
	}
	for _, kv := range [][2]string{
		{"election_id", event.ElectionID},
		{"candidate_id", event.CandidateID},
		{"ballot_id", event.BallotID},
		{"actor_id", event.ActorID},
		{"request_id", event.RequestID},
		{"reason", event.Reason},
		{"from_status", event.FromStatus},
		{"to_status", event.ToStatus},
	} {
		if kv[1] != "" {
			args = append(args, kv[0], kv[1])
		}
	}
	s.logger.InfoContext(ctx, event.Action, args...)
	return nil
}
