package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"rolegate/internal/grant/models"
	"rolegate/internal/grant/service"
	id "rolegate/pkg/domain"
	dErrors "rolegate/pkg/domain-errors"
)

const (
	commandAuthenticate = "authenticate_user"
	commandListGrants   = "list_grants"

	// Discord rejects message content above this length.
	maxContentLen = 2000
)

func commandDefinitions() []*discordgo.ApplicationCommand {
	noDM := false
	return []*discordgo.ApplicationCommand{
		{
			Name:         commandAuthenticate,
			Description:  "Post a prompt that grants a role to anyone who presses its button",
			DMPermission: &noDM,
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionRole,
				Name:        "role",
				Description: "Role to grant",
				Required:    true,
			}},
		},
		{
			Name:         commandListGrants,
			Description:  "List the grant prompts recorded for this server",
			DMPermission: &noDM,
		},
	}
}

// deferredResponder acknowledges a command straight away and fills in the
// private reply once the work is done, so slow platform calls cannot run
// past the interaction deadline.
type deferredResponder struct {
	session     *discordgo.Session
	interaction *discordgo.Interaction
}

func (r *deferredResponder) Defer(ctx context.Context) error {
	err := r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}, discordgo.WithContext(ctx))
	return classify("defer interaction", err)
}

func (r *deferredResponder) Reply(ctx context.Context, content string) error {
	_, err := r.session.InteractionResponseEdit(r.interaction, &discordgo.WebhookEdit{
		Content: &content,
	}, discordgo.WithContext(ctx))
	return classify("edit interaction reply", err)
}

func (b *Bot) handleCommand(ctx context.Context, i *discordgo.Interaction) {
	data := i.ApplicationCommandData()
	responder := &deferredResponder{session: b.session, interaction: i}
	if err := responder.Defer(ctx); err != nil {
		b.logger.WarnContext(ctx, "failed to acknowledge command", "command", data.Name, "error", err)
		return
	}

	var reply string
	switch data.Name {
	case commandAuthenticate:
		reply = b.authenticate(ctx, i, data)
	case commandListGrants:
		reply = b.listGrants(ctx, i)
	default:
		reply = "Unknown command."
	}

	if err := responder.Reply(ctx, reply); err != nil {
		b.logger.WarnContext(ctx, "failed to reply to command", "command", data.Name, "error", err)
	}
}

func (b *Bot) authenticate(ctx context.Context, i *discordgo.Interaction, data discordgo.ApplicationCommandInteractionData) string {
	var roleID id.RoleID
	for _, opt := range data.Options {
		if opt.Name == "role" {
			if v, ok := opt.Value.(string); ok {
				roleID = id.RoleID(snowflake(v))
			}
		}
	}

	entry, err := b.service.Register(ctx, service.RegisterRequest{
		Actor:     actorOf(i),
		GuildID:   id.GuildID(snowflake(i.GuildID)),
		ChannelID: id.ChannelID(snowflake(i.ChannelID)),
		RoleID:    roleID,
	})
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeForbidden) {
			b.logger.WarnContext(ctx, "grant registration failed", "error", err)
		}
		return registrationErrorText(err)
	}
	return fmt.Sprintf("Grant prompt posted for <@&%s>.", entry.RoleID)
}

func (b *Bot) listGrants(ctx context.Context, i *discordgo.Interaction) string {
	if !b.service.IsOperator(actorOf(i)) {
		return registrationErrorText(dErrors.New(dErrors.CodeForbidden, "not an operator"))
	}
	return formatGrantList(b.service.List(ctx, id.GuildID(snowflake(i.GuildID))))
}

func registrationErrorText(err error) string {
	switch {
	case dErrors.HasCode(err, dErrors.CodeForbidden):
		return "Only bot operators can use this command."
	case dErrors.HasCode(err, dErrors.CodeConfigurationMissing):
		return "That role could not be found in this server."
	case dErrors.HasCode(err, dErrors.CodeDeliveryFailure):
		return "I could not post the prompt here. Check that I can send messages in this channel."
	case dErrors.HasCode(err, dErrors.CodeValidation):
		return "Pick a role in this server."
	default:
		return "Something went wrong while creating the prompt."
	}
}

func formatGrantList(entries []models.GrantEntry) string {
	if len(entries) == 0 {
		return "No grant prompts are recorded for this server."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d grant prompt(s):\n", len(entries))
	for n, e := range entries {
		line := fmt.Sprintf("%d. %s\n", n+1, formatEntry(e))
		if sb.Len()+len(line) > maxContentLen-20 {
			fmt.Fprintf(&sb, "...and %d more", len(entries)-n)
			break
		}
		sb.WriteString(line)
	}
	return strings.TrimRight(sb.String(), "\n")
}
