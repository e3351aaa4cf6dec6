package discord

import (
	"fmt"
	"strconv"

	"github.com/bwmarrin/discordgo"

	"rolegate/internal/grant/models"
	id "rolegate/pkg/domain"
)

func snowflake(s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func str[T ~uint64](v T) string {
	return strconv.FormatUint(uint64(v), 10)
}

// promptMessage renders a prompt as an embed with one success button.
func promptMessage(p models.Prompt) *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       p.Title,
			Description: p.Description,
			Color:       p.Color,
		}},
		Components: buttonRow(p.Button),
	}
}

func buttonRow(b models.Button) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    b.Label,
					Style:    discordgo.SuccessButton,
					CustomID: string(b.ControlID),
				},
			},
		},
	}
}

func toRole(guildID id.GuildID, r *discordgo.Role) *models.Role {
	return &models.Role{
		ID:      id.RoleID(snowflake(r.ID)),
		GuildID: guildID,
		Name:    r.Name,
		Color:   r.Color,
	}
}

// activationFrom extracts the activating member from a component
// interaction. Interactions outside a guild carry no member and produce a
// zero GuildID.
func activationFrom(i *discordgo.Interaction) models.Activation {
	act := models.Activation{
		GuildID:   id.GuildID(snowflake(i.GuildID)),
		ChannelID: id.ChannelID(snowflake(i.ChannelID)),
	}
	if i.Message != nil {
		act.MessageID = id.MessageID(snowflake(i.Message.ID))
	}
	switch {
	case i.Member != nil:
		if i.Member.User != nil {
			act.UserID = id.UserID(snowflake(i.Member.User.ID))
		}
		act.MemberRoles = make([]id.RoleID, 0, len(i.Member.Roles))
		for _, r := range i.Member.Roles {
			if v := snowflake(r); v != 0 {
				act.MemberRoles = append(act.MemberRoles, id.RoleID(v))
			}
		}
	case i.User != nil:
		act.UserID = id.UserID(snowflake(i.User.ID))
	}
	return act
}

// actorOf returns the user behind any interaction.
func actorOf(i *discordgo.Interaction) id.UserID {
	if i.Member != nil && i.Member.User != nil {
		return id.UserID(snowflake(i.Member.User.ID))
	}
	if i.User != nil {
		return id.UserID(snowflake(i.User.ID))
	}
	return 0
}

func formatEntry(e models.GrantEntry) string {
	msg := "pending"
	if e.HasMessage() {
		msg = fmt.Sprintf("https://discord.com/channels/%s/%s/%s", e.GuildID, e.ChannelID, e.Message())
	}
	return fmt.Sprintf("<@&%s> in <#%s> (%s)", e.RoleID, e.ChannelID, msg)
}
