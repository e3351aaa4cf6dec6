package discord

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rolegate/internal/grant/models"
	id "rolegate/pkg/domain"
	dErrors "rolegate/pkg/domain-errors"
	"rolegate/pkg/platform/sentinel"
)

func restError(status, code int) *discordgo.RESTError {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: status},
		Message:  &discordgo.APIErrorMessage{Code: code, Message: "boom"},
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"unknown message", restError(404, codeUnknownMessage), sentinel.ErrNotFound},
		{"unknown channel", restError(404, codeUnknownChannel), sentinel.ErrNotFound},
		{"unknown role", restError(404, codeUnknownRole), sentinel.ErrNotFound},
		{"missing permissions", restError(403, codeMissingPermissions), sentinel.ErrForbidden},
		{"missing access", restError(403, codeMissingAccess), sentinel.ErrForbidden},
		{"bare 404", restError(404, 0), sentinel.ErrNotFound},
		{"rate limited", restError(429, 0), sentinel.ErrRateLimited},
		{"server error", restError(502, 0), sentinel.ErrUnavailable},
		{"state miss", discordgo.ErrStateNotFound, sentinel.ErrNotFound},
		{"network", errors.New("connection reset"), sentinel.ErrUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, classify("op", tc.err), tc.want)
		})
	}

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, classify("op", nil))
	})

	t.Run("missing access to a guild means not a member", func(t *testing.T) {
		assert.ErrorIs(t, classifyGuild("guild", restError(403, codeMissingAccess)), sentinel.ErrNotFound)
		assert.ErrorIs(t, classifyGuild("guild", restError(404, codeUnknownGuild)), sentinel.ErrNotFound)
	})
}

func TestPromptMessage(t *testing.T) {
	msg := promptMessage(models.Prompt{
		Title:       "Verification",
		Description: "Press the button",
		Color:       0x00ff00,
		Button:      models.Button{ControlID: "rolegate:grant:abc", Label: "Verify"},
	})

	require.Len(t, msg.Embeds, 1)
	assert.Equal(t, "Verification", msg.Embeds[0].Title)
	assert.Equal(t, 0x00ff00, msg.Embeds[0].Color)

	require.Len(t, msg.Components, 1)
	row, ok := msg.Components[0].(discordgo.ActionsRow)
	require.True(t, ok)
	require.Len(t, row.Components, 1)
	button, ok := row.Components[0].(discordgo.Button)
	require.True(t, ok)
	assert.Equal(t, "rolegate:grant:abc", button.CustomID)
	assert.Equal(t, "Verify", button.Label)
	assert.Equal(t, discordgo.SuccessButton, button.Style)
}

func TestActivationFrom(t *testing.T) {
	t.Run("guild member", func(t *testing.T) {
		act := activationFrom(&discordgo.Interaction{
			GuildID:   "1",
			ChannelID: "10",
			Message:   &discordgo.Message{ID: "100"},
			Member: &discordgo.Member{
				User:  &discordgo.User{ID: "7"},
				Roles: []string{"55", "garbage", "56"},
			},
		})
		assert.Equal(t, models.Activation{
			GuildID:     1,
			ChannelID:   10,
			MessageID:   100,
			UserID:      7,
			MemberRoles: []id.RoleID{55, 56},
		}, act)
	})

	t.Run("direct message has no guild", func(t *testing.T) {
		act := activationFrom(&discordgo.Interaction{ChannelID: "10", User: &discordgo.User{ID: "7"}})
		assert.True(t, act.GuildID.IsZero())
		assert.Equal(t, id.UserID(7), act.UserID)
		assert.Equal(t, id.UserID(7), actorOf(&discordgo.Interaction{User: &discordgo.User{ID: "7"}}))
	})
}

func TestCommandDefinitions(t *testing.T) {
	cmds := commandDefinitions()
	require.Len(t, cmds, 2)
	assert.Equal(t, commandAuthenticate, cmds[0].Name)
	require.Len(t, cmds[0].Options, 1)
	assert.Equal(t, discordgo.ApplicationCommandOptionRole, cmds[0].Options[0].Type)
	assert.True(t, cmds[0].Options[0].Required)
	assert.Equal(t, commandListGrants, cmds[1].Name)
}

func TestRegistrationErrorText(t *testing.T) {
	assert.Contains(t, registrationErrorText(dErrors.New(dErrors.CodeForbidden, "x")), "operators")
	assert.Contains(t, registrationErrorText(dErrors.New(dErrors.CodeConfigurationMissing, "x")), "could not be found")
	assert.Contains(t, registrationErrorText(dErrors.New(dErrors.CodeDeliveryFailure, "x")), "could not post")
	assert.Contains(t, registrationErrorText(errors.New("x")), "Something went wrong")
}

func TestFormatGrantList(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, "No grant prompts are recorded for this server.", formatGrantList(nil))
	})

	t.Run("links posted prompts", func(t *testing.T) {
		out := formatGrantList([]models.GrantEntry{
			models.GrantEntry{GuildID: 1, ChannelID: 10, RoleID: 55}.WithMessage(100),
			{GuildID: 1, ChannelID: 11, RoleID: 56},
		})
		assert.Contains(t, out, "2 grant prompt(s)")
		assert.Contains(t, out, "1. <@&55> in <#10> (https://discord.com/channels/1/10/100)")
		assert.Contains(t, out, "2. <@&56> in <#11> (pending)")
	})

	t.Run("stays under the content limit", func(t *testing.T) {
		entries := make([]models.GrantEntry, 200)
		for i := range entries {
			entries[i] = models.GrantEntry{GuildID: 1005408303825829998, ChannelID: 1005408303825829998, RoleID: 1005408303825829998}.WithMessage(1005408303825829998)
		}
		out := formatGrantList(entries)
		assert.LessOrEqual(t, len(out), maxContentLen)
		assert.True(t, strings.Contains(out, "more"))
	})
}

func TestEphemeral(t *testing.T) {
	resp := ephemeral("hi")
	assert.Equal(t, discordgo.InteractionResponseChannelMessageWithSource, resp.Type)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
	assert.Equal(t, "hi", resp.Data.Content)
}
