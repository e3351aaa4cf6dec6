package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"rolegate/internal/grant/models"
	id "rolegate/pkg/domain"
	"rolegate/pkg/platform/sentinel"
)

// Platform implements the grant ports over a discordgo session. Lookups go
// to the gateway state cache first and fall back to REST.
type Platform struct {
	session *discordgo.Session
}

func NewPlatform(session *discordgo.Session) *Platform {
	return &Platform{session: session}
}

func (p *Platform) Guild(ctx context.Context, guildID id.GuildID) (*models.Guild, error) {
	if g, err := p.session.State.Guild(str(guildID)); err == nil {
		return &models.Guild{ID: guildID, Name: g.Name}, nil
	}
	g, err := p.session.Guild(str(guildID), discordgo.WithContext(ctx))
	if err != nil {
		return nil, classifyGuild(fmt.Sprintf("guild %s", guildID), err)
	}
	return &models.Guild{ID: guildID, Name: g.Name}, nil
}

func (p *Platform) Channel(ctx context.Context, guildID id.GuildID, channelID id.ChannelID) (*models.Channel, error) {
	op := fmt.Sprintf("channel %s", channelID)
	ch, err := p.session.State.Channel(str(channelID))
	if err != nil {
		ch, err = p.session.Channel(str(channelID), discordgo.WithContext(ctx))
		if err != nil {
			return nil, classify(op, err)
		}
	}
	if ch.GuildID != str(guildID) {
		return nil, fmt.Errorf("%s not in guild %s: %w", op, guildID, sentinel.ErrNotFound)
	}
	return &models.Channel{ID: channelID, GuildID: guildID, Name: ch.Name}, nil
}

func (p *Platform) Message(ctx context.Context, channelID id.ChannelID, messageID id.MessageID) (*models.Message, error) {
	m, err := p.session.ChannelMessage(str(channelID), str(messageID), discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify(fmt.Sprintf("message %s", messageID), err)
	}
	return &models.Message{ID: id.MessageID(snowflake(m.ID)), ChannelID: channelID}, nil
}

func (p *Platform) SendPrompt(ctx context.Context, channelID id.ChannelID, prompt models.Prompt) (id.MessageID, error) {
	m, err := p.session.ChannelMessageSendComplex(str(channelID), promptMessage(prompt), discordgo.WithContext(ctx))
	if err != nil {
		return 0, classify(fmt.Sprintf("send prompt to %s", channelID), err)
	}
	return id.MessageID(snowflake(m.ID)), nil
}

func (p *Platform) AttachControl(ctx context.Context, channelID id.ChannelID, messageID id.MessageID, button models.Button) error {
	components := buttonRow(button)
	_, err := p.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
		ID:         str(messageID),
		Channel:    str(channelID),
		Components: &components,
	}, discordgo.WithContext(ctx))
	return classify(fmt.Sprintf("attach control to %s", messageID), err)
}

func (p *Platform) Role(ctx context.Context, guildID id.GuildID, roleID id.RoleID) (*models.Role, error) {
	if r, err := p.session.State.Role(str(guildID), str(roleID)); err == nil {
		return toRole(guildID, r), nil
	}
	roles, err := p.session.GuildRoles(str(guildID), discordgo.WithContext(ctx))
	if err != nil {
		return nil, classifyGuild(fmt.Sprintf("roles of %s", guildID), err)
	}
	for _, r := range roles {
		if r.ID == str(roleID) {
			return toRole(guildID, r), nil
		}
	}
	return nil, fmt.Errorf("role %s in guild %s: %w", roleID, guildID, sentinel.ErrNotFound)
}

func (p *Platform) AddRole(ctx context.Context, guildID id.GuildID, userID id.UserID, roleID id.RoleID) error {
	err := p.session.GuildMemberRoleAdd(str(guildID), str(userID), str(roleID), discordgo.WithContext(ctx))
	return classify(fmt.Sprintf("add role %s to %s", roleID, userID), err)
}

// SendNotice posts a plain text message.
func (p *Platform) SendNotice(ctx context.Context, channelID id.ChannelID, content string) error {
	_, err := p.session.ChannelMessageSend(str(channelID), content, discordgo.WithContext(ctx))
	return classify(fmt.Sprintf("notice to %s", channelID), err)
}

// GuildCount is the number of guilds in the gateway state.
func (p *Platform) GuildCount() int {
	p.session.State.RLock()
	defer p.session.State.RUnlock()
	return len(p.session.State.Guilds)
}

func (p *Platform) Latency() time.Duration {
	return p.session.HeartbeatLatency()
}

func (p *Platform) SetStatus(_ context.Context, text string) error {
	return p.session.UpdateGameStatus(0, text)
}
