package election

import (
	"log/slog"

	"ballotbox/internal/election/handler"
	"ballotbox/internal/election/service"
)

// Service exposes election, candidate, ballot and tally orchestration.
type Service = service.Service

// Handler wires HTTP endpoints to the election service.
type Handler = handler.Handler

// NewService constructs the election service over store.
func NewService(store service.Store, opts ...service.Option) *Service {
	return service.New(store, opts...)
}

// NewHandler constructs the HTTP handler for public and admin election routes.
func NewHandler(s *Service, logger *slog.Logger, opts ...handler.Option) *Handler {
	return handler.New(s, logger, opts...)
}
