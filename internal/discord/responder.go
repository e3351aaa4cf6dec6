package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

// interactionResponder answers one interaction with an ephemeral message,
// visible only to the user who triggered it.
type interactionResponder struct {
	session     *discordgo.Session
	interaction *discordgo.Interaction
}

func (r *interactionResponder) Reply(ctx context.Context, content string) error {
	err := r.session.InteractionRespond(r.interaction, ephemeral(content), discordgo.WithContext(ctx))
	return classify("interaction reply", err)
}

func ephemeral(content string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
			AllowedMentions: &discordgo.MessageAllowedMentions{
				Parse: []discordgo.AllowedMentionType{},
			},
		},
	}
}
