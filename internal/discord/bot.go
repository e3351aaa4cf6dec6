// Package discord connects the grant subsystem to Discord through discordgo:
// it implements the platform ports, routes button presses and operator
// commands, and triggers reconciliation on the first ready event.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/errgroup"

	"rolegate/internal/grant/control"
	"rolegate/internal/grant/models"
	"rolegate/internal/grant/ports"
	"rolegate/internal/grant/reconcile"
	"rolegate/internal/grant/service"
	"rolegate/internal/platform/metrics"
	"rolegate/internal/presence"
	id "rolegate/pkg/domain"
	"rolegate/pkg/platform/sentinel"
	"rolegate/pkg/requestcontext"
)

const (
	staleControlText       = "This prompt is no longer active."
	reconcilingControlText = "This prompt is being refreshed. Please try again in a moment."
)

// NewSession builds a bot session with the intents the grant subsystem
// needs: guild membership, channels and roles in the state cache.
func NewSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds
	session.StateEnabled = true
	return session, nil
}

// reconciler is the part of the reconcile engine the bot drives.
type reconciler interface {
	RunOnce(ctx context.Context) (reconcile.Report, bool)
	Done() <-chan struct{}
}

// commandSyncer registers slash commands; *discordgo.Session implements it.
type commandSyncer interface {
	ApplicationCommandBulkOverwrite(appID string, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
}

type Bot struct {
	session  *discordgo.Session
	commands commandSyncer
	platform *Platform
	registry *control.Registry
	service  *service.Service
	engine   reconciler
	rotator  *presence.Rotator
	logger   *slog.Logger
	metrics  *metrics.Metrics

	// reply builds the private responder for a button press.
	reply func(i *discordgo.Interaction) ports.Responder
	// ready holds the first Ready event. Later ones find it full or
	// already drained and are dropped.
	ready chan *discordgo.Ready

	commandGuild  id.GuildID
	notifyChannel id.ChannelID
}

type Option func(*Bot)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Bot) {
		b.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bot) {
		b.metrics = m
	}
}

// WithPresence runs rotator after the first ready event.
func WithPresence(rotator *presence.Rotator) Option {
	return func(b *Bot) {
		b.rotator = rotator
	}
}

// WithNotifyChannel posts an online notice to channelID after ready.
func WithNotifyChannel(channelID id.ChannelID) Option {
	return func(b *Bot) {
		b.notifyChannel = channelID
	}
}

// WithCommandGuild registers commands in one guild instead of globally.
func WithCommandGuild(guildID id.GuildID) Option {
	return func(b *Bot) {
		b.commandGuild = guildID
	}
}

func NewBot(session *discordgo.Session, platform *Platform, registry *control.Registry, svc *service.Service, engine *reconcile.Engine, opts ...Option) (*Bot, error) {
	if session == nil || platform == nil {
		return nil, errors.New("session and platform are required")
	}
	if registry == nil || svc == nil || engine == nil {
		return nil, errors.New("registry, service and engine are required")
	}
	b := &Bot{
		session:  session,
		commands: session,
		platform: platform,
		registry: registry,
		service:  svc,
		engine:   engine,
		ready:    make(chan *discordgo.Ready, 1),
	}
	b.reply = func(i *discordgo.Interaction) ports.Responder {
		return &interactionResponder{session: session, interaction: i}
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.New(slog.DiscardHandler)
	}
	return b, nil
}

// Run opens the gateway and serves until ctx is cancelled. The first ready
// event triggers command registration, the online notice, reconciliation
// and the presence loop; later ready events from reconnects are ignored.
func (b *Bot) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	removeReady := b.session.AddHandler(b.onReady)
	defer removeReady()

	removeInteraction := b.session.AddHandler(func(_ *discordgo.Session, ic *discordgo.InteractionCreate) {
		b.handleInteraction(ctx, ic.Interaction)
	})
	defer removeInteraction()

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	b.logger.InfoContext(ctx, "discord gateway opened")

	g.Go(func() error {
		return b.serveReady(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	err := g.Wait()
	if cerr := b.session.Close(); cerr != nil {
		b.logger.Warn("closing discord gateway failed", "error", cerr)
	}
	return err
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	select {
	case b.ready <- r:
	default:
	}
}

// serveReady waits for the first Ready, runs the startup work once, then
// keeps the presence loop going until ctx ends.
func (b *Bot) serveReady(ctx context.Context) error {
	var r *discordgo.Ready
	select {
	case <-ctx.Done():
		return nil
	case r = <-b.ready:
	}
	b.onFirstReady(ctx, r)
	if b.rotator == nil {
		return nil
	}
	return b.rotator.Run(ctx)
}

func (b *Bot) onFirstReady(ctx context.Context, r *discordgo.Ready) {
	b.logger.InfoContext(ctx, "discord ready", "user", r.User.Username, "guilds", len(r.Guilds))

	guild := ""
	if !b.commandGuild.IsZero() {
		guild = str(b.commandGuild)
	}
	if _, err := b.commands.ApplicationCommandBulkOverwrite(r.User.ID, guild, commandDefinitions(), discordgo.WithContext(ctx)); err != nil {
		b.logger.ErrorContext(ctx, "failed to register commands", "error", err)
	}

	if !b.notifyChannel.IsZero() {
		if err := b.platform.SendNotice(ctx, b.notifyChannel, "rolegate is online."); err != nil {
			b.logger.WarnContext(ctx, "failed to post online notice", "channel_id", b.notifyChannel, "error", err)
		}
	}

	b.engine.RunOnce(ctx)
}

func (b *Bot) handleInteraction(ctx context.Context, i *discordgo.Interaction) {
	ctx = requestcontext.WithRequestID(ctx, i.ID)
	ctx = requestcontext.WithActorID(ctx, actorOf(i))
	ctx = requestcontext.WithGuildID(ctx, id.GuildID(snowflake(i.GuildID)))

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		b.handleCommand(ctx, i)
	case discordgo.InteractionMessageComponent:
		b.handleComponent(ctx, i)
	}
}

func (b *Bot) handleComponent(ctx context.Context, i *discordgo.Interaction) {
	controlID := models.ControlID(i.MessageComponentData().CustomID)
	responder := b.reply(i)

	outcome, err := b.registry.Dispatch(ctx, controlID, activationFrom(i), responder)
	if errors.Is(err, sentinel.ErrNotFound) && outcome == "" {
		if rerr := responder.Reply(ctx, b.unboundControlText()); rerr != nil {
			b.logger.DebugContext(ctx, "failed to answer stale control", "error", rerr)
		}
		return
	}
	if err != nil {
		b.logger.WarnContext(ctx, "grant activation failed",
			"control_id", string(controlID),
			"outcome", outcome.String(),
			"error", err,
		)
	}
}

// unboundControlText explains a press on a button with no live control.
// Until the first reconciliation pass finishes, old buttons are expected.
func (b *Bot) unboundControlText() string {
	select {
	case <-b.engine.Done():
		return staleControlText
	default:
		return reconcilingControlText
	}
}
