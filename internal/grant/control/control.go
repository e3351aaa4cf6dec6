package control

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"rolegate/internal/grant/models"
	"rolegate/internal/grant/ports"
	dErrors "rolegate/pkg/domain-errors"
	"rolegate/pkg/platform/audit"
	"rolegate/pkg/platform/sentinel"
)

// Control is the live button for one grant entry.
type Control struct {
	id      models.ControlID
	entry   models.GrantEntry
	factory *Factory
}

func (c *Control) ID() models.ControlID { return c.id }

// Entry returns a copy of the entry the control was built from.
func (c *Control) Entry() models.GrantEntry { return c.entry.Clone() }

func (c *Control) Button() models.Button {
	return models.Button{ControlID: c.id, Label: c.factory.texts.ButtonLabel}
}

// Activate handles one user pressing the button. Every outcome is delivered
// through responder as a private reply; the prompt itself is never touched.
//
// The returned error is nil for the three expected outcomes. It is set when
// the role could not be looked up or assigned, or when the reply itself
// could not be delivered.
func (c *Control) Activate(ctx context.Context, act models.Activation, responder ports.Responder) (models.Outcome, error) {
	f := c.factory
	ctx, span := f.tracer.Start(ctx, "grant.activate")
	defer span.End()
	span.SetAttributes(
		attribute.String("grant.control_id", string(c.id)),
		attribute.String("grant.guild_id", act.GuildID.String()),
		attribute.String("grant.role_id", c.entry.RoleID.String()),
	)

	outcome, reply, err := c.resolve(ctx, act)
	span.SetAttributes(attribute.String("grant.outcome", outcome.String()))
	f.metrics.IncActivation(outcome.String())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	if replyErr := responder.Reply(ctx, reply); replyErr != nil {
		f.metrics.IncPlatformError("reply")
		f.logger.WarnContext(ctx, "failed to acknowledge grant activation",
			"control_id", string(c.id),
			"user_id", act.UserID,
			"outcome", outcome.String(),
			"error", replyErr,
		)
		return outcome, errors.Join(err, dErrors.Wrap(replyErr, dErrors.CodeDeliveryFailure, "failed to acknowledge activation"))
	}
	return outcome, err
}

func (c *Control) resolve(ctx context.Context, act models.Activation) (models.Outcome, string, error) {
	f := c.factory
	texts := f.texts
	base := []any{
		"guild_id", act.GuildID,
		"user_id", act.UserID,
		"role_id", c.entry.RoleID,
		"control_id", string(c.id),
	}

	if act.GuildID.IsZero() {
		ports.LogAudit(ctx, f.logger, f.publisher, audit.EventGrantRoleMissing, append(base, "reason", "no_guild")...)
		return models.OutcomeConfigurationMissing, texts.ConfigurationMissing, nil
	}

	role, err := f.roles.Role(ctx, act.GuildID, c.entry.RoleID)
	if errors.Is(err, sentinel.ErrNotFound) {
		ports.LogAudit(ctx, f.logger, f.publisher, audit.EventGrantRoleMissing, append(base, "reason", "role_not_found")...)
		return models.OutcomeConfigurationMissing, texts.ConfigurationMissing, nil
	}
	if err != nil {
		f.metrics.IncPlatformError("role_lookup")
		f.logger.ErrorContext(ctx, "role lookup failed during activation", append(base, "error", err)...)
		return models.OutcomeFailed, texts.AssignmentFailed, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up role")
	}

	if act.HasRole(role.ID) {
		ports.LogAudit(ctx, f.logger, f.publisher, audit.EventRoleAlreadyHeld, append(base, "decision", "already_granted")...)
		return models.OutcomeAlreadyGranted, texts.AlreadyGranted, nil
	}

	if err := f.roles.AddRole(ctx, act.GuildID, act.UserID, role.ID); err != nil {
		f.metrics.IncPlatformError("add_role")
		code := dErrors.CodeInternal
		if errors.Is(err, sentinel.ErrForbidden) {
			code = dErrors.CodeForbidden
		}
		ports.LogAudit(ctx, f.logger, f.publisher, audit.EventRoleAssignmentFailed, append(base, "reason", err.Error())...)
		return models.OutcomeFailed, texts.AssignmentFailed, dErrors.Wrap(err, code, "failed to assign role")
	}

	ports.LogAudit(ctx, f.logger, f.publisher, audit.EventRoleGranted, append(base, "decision", "granted")...)
	return models.OutcomeGranted, fmt.Sprintf(texts.Granted, role.Name), nil
}
