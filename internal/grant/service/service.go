// Package service is the entry point the command layer uses to create and
// list grant prompts.
package service

import (
	"context"
	"errors"
	"log/slog"

	"rolegate/internal/grant/control"
	"rolegate/internal/grant/models"
	"rolegate/internal/grant/ports"
	"rolegate/internal/grant/store"
	"rolegate/internal/platform/metrics"
	id "rolegate/pkg/domain"
	dErrors "rolegate/pkg/domain-errors"
	"rolegate/pkg/platform/audit"
	"rolegate/pkg/platform/sentinel"
)

// RegisterRequest asks for a new prompt granting RoleID in ChannelID.
type RegisterRequest struct {
	Actor     id.UserID
	GuildID   id.GuildID
	ChannelID id.ChannelID
	RoleID    id.RoleID
}

type Service struct {
	store     *store.Store
	platform  ports.Platform
	factory   *control.Factory
	registry  *control.Registry
	operators map[id.UserID]struct{}
	logger    *slog.Logger
	publisher ports.AuditPublisher
	metrics   *metrics.Metrics
}

type Option func(*Service)

// WithOperators sets the users allowed to create prompts.
func WithOperators(operators ...id.UserID) Option {
	return func(s *Service) {
		for _, op := range operators {
			s.operators[op] = struct{}{}
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(st *store.Store, platform ports.Platform, factory *control.Factory, registry *control.Registry, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if platform == nil {
		return nil, errors.New("platform is required")
	}
	if factory == nil {
		return nil, errors.New("control factory is required")
	}
	if registry == nil {
		return nil, errors.New("control registry is required")
	}
	svc := &Service{
		store:     st,
		platform:  platform,
		factory:   factory,
		registry:  registry,
		operators: make(map[id.UserID]struct{}),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = slog.New(slog.DiscardHandler)
	}
	return svc, nil
}

func (s *Service) IsOperator(userID id.UserID) bool {
	_, ok := s.operators[userID]
	return ok
}

// Register posts a new prompt and records it. Nothing is recorded unless the
// prompt was posted. A failed write after a successful post is logged but
// not returned: the entry is live and held in memory.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*models.GrantEntry, error) {
	attrs := []any{
		"actor_id", req.Actor.String(),
		"guild_id", req.GuildID,
		"channel_id", req.ChannelID,
		"role_id", req.RoleID,
	}

	if !s.IsOperator(req.Actor) {
		s.metrics.IncRegistration("forbidden")
		ports.LogAudit(ctx, s.logger, s.publisher, audit.EventRegistrationDenied, append(attrs, "reason", "not_operator")...)
		return nil, dErrors.New(dErrors.CodeForbidden, "only operators can create grant prompts")
	}

	entry, err := models.NewGrantEntry(req.GuildID, req.ChannelID, req.RoleID)
	if err != nil {
		s.metrics.IncRegistration("invalid")
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid grant request")
	}

	role, err := s.platform.Role(ctx, req.GuildID, req.RoleID)
	if err != nil {
		return nil, s.registrationFailed(ctx, err, attrs)
	}

	c := s.factory.Build(*entry)
	s.registry.Bind(c)
	messageID, err := s.platform.SendPrompt(ctx, req.ChannelID, s.factory.Prompt(c, role))
	if err != nil {
		s.registry.Unbind(c.ID())
		s.metrics.IncPlatformError("send_prompt")
		return nil, s.registrationFailed(ctx, err, attrs)
	}
	s.registry.Attach(req.ChannelID, messageID, c.ID())

	sent := entry.WithMessage(messageID)
	if _, err := s.store.Append(ctx, sent); err != nil {
		if !dErrors.HasCode(err, dErrors.CodePersistenceFailure) {
			return nil, err
		}
		s.logger.WarnContext(ctx, "grant prompt posted but not yet persisted", append(attrs, "message_id", messageID)...)
	}

	s.metrics.IncRegistration("ok")
	ports.LogAudit(ctx, s.logger, s.publisher, audit.EventGrantRegistered, append(attrs, "message_id", messageID)...)
	return &sent, nil
}

func (s *Service) registrationFailed(ctx context.Context, err error, attrs []any) error {
	var wrapped error
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		s.metrics.IncRegistration("configuration_missing")
		wrapped = dErrors.Wrap(err, dErrors.CodeConfigurationMissing, "role or channel not found")
	case errors.Is(err, sentinel.ErrForbidden):
		s.metrics.IncRegistration("delivery_failure")
		wrapped = dErrors.Wrap(err, dErrors.CodeDeliveryFailure, "missing permission to post the prompt")
	default:
		s.metrics.IncRegistration("delivery_failure")
		wrapped = dErrors.Wrap(err, dErrors.CodeDeliveryFailure, "failed to post the prompt")
	}
	ports.LogAudit(ctx, s.logger, s.publisher, audit.EventRegistrationFailed, append(attrs, "reason", err.Error())...)
	return wrapped
}

// List returns the entries of guildID in store order, or every entry when
// guildID is zero.
func (s *Service) List(_ context.Context, guildID id.GuildID) []models.GrantEntry {
	entries := s.store.Entries()
	if guildID.IsZero() {
		return entries
	}
	out := make([]models.GrantEntry, 0, len(entries))
	for _, e := range entries {
		if e.GuildID == guildID {
			out = append(out, e)
		}
	}
	return out
}
