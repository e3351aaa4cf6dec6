package reconcile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"rolegate/internal/grant/control"
	"rolegate/internal/grant/models"
	"rolegate/internal/grant/ports/mocks"
	"rolegate/internal/grant/store"
	"rolegate/internal/platform/metrics"
	id "rolegate/pkg/domain"
	"rolegate/pkg/platform/sentinel"
)

type EngineSuite struct {
	suite.Suite
	ctx      context.Context
	ctrl     *gomock.Controller
	platform *mocks.MockPlatform
	metrics  *metrics.Metrics
	logs     *bytes.Buffer
	backend  *store.MemoryBackend
	store    *store.Store
	factory  *control.Factory
	registry *control.Registry
	engine   *Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.platform = mocks.NewMockPlatform(s.ctrl)
	s.metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())
	s.logs = &bytes.Buffer{}
}

// seed builds the store, factory, registry and engine over a document
// holding entries. The seed itself is not counted as a write.
func (s *EngineSuite) seed(entries ...models.GrantEntry) {
	data, err := store.Encode(entries)
	s.Require().NoError(err)
	s.backend = store.NewMemoryBackendWith(data)

	logger := slog.New(slog.NewJSONHandler(s.logs, nil))
	s.store, err = store.New(s.backend, store.WithLogger(logger))
	s.Require().NoError(err)
	s.store.Load(s.ctx)

	s.factory, err = control.NewFactory(s.platform)
	s.Require().NoError(err)
	s.registry = control.NewRegistry(s.metrics)

	s.engine, err = New(s.store, s.platform, s.factory, s.registry,
		WithLogger(logger),
		WithMetrics(s.metrics),
	)
	s.Require().NoError(err)
}

func entry(guild, channel, message, role uint64) models.GrantEntry {
	e := models.GrantEntry{GuildID: id.GuildID(guild), ChannelID: id.ChannelID(channel), RoleID: id.RoleID(role)}
	if message != 0 {
		e = e.WithMessage(id.MessageID(message))
	}
	return e
}

func notFound(what string) error {
	return fmt.Errorf("%s: %w", what, sentinel.ErrNotFound)
}

func (s *EngineSuite) expectGuildAndChannel(guild, channel uint64) {
	s.platform.EXPECT().Guild(gomock.Any(), id.GuildID(guild)).Return(&models.Guild{ID: id.GuildID(guild)}, nil)
	s.platform.EXPECT().Channel(gomock.Any(), id.GuildID(guild), id.ChannelID(channel)).
		Return(&models.Channel{ID: id.ChannelID(channel), GuildID: id.GuildID(guild)}, nil)
}

func (s *EngineSuite) storedEntries() []models.GrantEntry {
	entries, err := store.Decode(s.backend.Bytes())
	s.Require().NoError(err)
	return entries
}

// =============================================================================
// Construction
// =============================================================================

func (s *EngineSuite) TestNewRequiresDependencies() {
	s.seed()
	_, err := New(nil, s.platform, s.factory, s.registry)
	s.Error(err)
	_, err = New(s.store, nil, s.factory, s.registry)
	s.Error(err)
	_, err = New(s.store, s.platform, nil, s.registry)
	s.Error(err)
	_, err = New(s.store, s.platform, s.factory, nil)
	s.Error(err)
}

// =============================================================================
// Self-healing
// =============================================================================

func (s *EngineSuite) TestRepostsDeletedMessage() {
	s.seed(entry(1, 10, 100, 55))

	s.expectGuildAndChannel(1, 10)
	s.platform.EXPECT().Message(gomock.Any(), id.ChannelID(10), id.MessageID(100)).Return(nil, notFound("message 100"))
	s.platform.EXPECT().Role(gomock.Any(), id.GuildID(1), id.RoleID(55)).
		Return(&models.Role{ID: 55, GuildID: 1, Name: "Verified"}, nil)

	var sent models.Prompt
	s.platform.EXPECT().SendPrompt(gomock.Any(), id.ChannelID(10), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ id.ChannelID, p models.Prompt) (id.MessageID, error) {
			sent = p
			return 101, nil
		}).Times(1)

	report := s.engine.Run(s.ctx)

	s.Equal(Report{Total: 1, Repaired: 1, Duration: report.Duration}, report)
	s.Equal(1, s.backend.Writes(), "full list persisted exactly once")
	stored := s.storedEntries()
	s.Require().Len(stored, 1)
	s.True(entry(1, 10, 101, 55).Equal(stored[0]))
	s.Equal(0x00ff00, sent.Color, "role without colour falls back to the accent")

	s.Run("the re-posted control grants role 55", func() {
		c, ok := s.registry.Lookup(sent.Button.ControlID)
		s.Require().True(ok)
		s.Equal(id.RoleID(55), c.Entry().RoleID)

		s.platform.EXPECT().Role(gomock.Any(), id.GuildID(1), id.RoleID(55)).
			Return(&models.Role{ID: 55, GuildID: 1, Name: "Verified"}, nil)
		s.platform.EXPECT().AddRole(gomock.Any(), id.GuildID(1), id.UserID(7), id.RoleID(55)).Return(nil)
		responder := mocks.NewMockResponder(s.ctrl)
		responder.EXPECT().Reply(gomock.Any(), "Verified has been granted!").Return(nil)

		outcome, err := c.Activate(s.ctx, models.Activation{GuildID: 1, ChannelID: 10, MessageID: 101, UserID: 7}, responder)
		s.Require().NoError(err)
		s.Equal(models.OutcomeGranted, outcome)
	})
}

func (s *EngineSuite) TestRepairsEntryWithoutMessage() {
	s.seed(entry(1, 10, 0, 55))

	s.expectGuildAndChannel(1, 10)
	s.platform.EXPECT().Role(gomock.Any(), id.GuildID(1), id.RoleID(55)).
		Return(&models.Role{ID: 55, GuildID: 1, Name: "Verified", Color: 0xabcdef}, nil)
	s.platform.EXPECT().SendPrompt(gomock.Any(), id.ChannelID(10), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ id.ChannelID, p models.Prompt) (id.MessageID, error) {
			s.Equal(0xabcdef, p.Color)
			return 101, nil
		})

	report := s.engine.Run(s.ctx)

	s.Equal(1, report.Repaired)
	s.True(entry(1, 10, 101, 55).Equal(s.storedEntries()[0]))
}

func (s *EngineSuite) TestRepairsWhenRoleIsGone() {
	s.seed(entry(1, 10, 100, 55))

	s.expectGuildAndChannel(1, 10)
	s.platform.EXPECT().Message(gomock.Any(), id.ChannelID(10), id.MessageID(100)).Return(nil, notFound("message"))
	s.platform.EXPECT().Role(gomock.Any(), id.GuildID(1), id.RoleID(55)).Return(nil, notFound("role"))
	s.platform.EXPECT().SendPrompt(gomock.Any(), id.ChannelID(10), gomock.Any()).Return(id.MessageID(101), nil)

	s.Equal(1, s.engine.Run(s.ctx).Repaired)
}

func (s *EngineSuite) TestMessageVanishesBeforeAttach() {
	s.seed(entry(1, 10, 100, 55))

	s.expectGuildAndChannel(1, 10)
	s.platform.EXPECT().Message(gomock.Any(), id.ChannelID(10), id.MessageID(100)).Return(&models.Message{ID: 100, ChannelID: 10}, nil)
	s.platform.EXPECT().AttachControl(gomock.Any(), id.ChannelID(10), id.MessageID(100), gomock.Any()).Return(notFound("message"))
	s.platform.EXPECT().Role(gomock.Any(), id.GuildID(1), id.RoleID(55)).Return(&models.Role{ID: 55}, nil)
	s.platform.EXPECT().SendPrompt(gomock.Any(), id.ChannelID(10), gomock.Any()).Return(id.MessageID(101), nil)

	report := s.engine.Run(s.ctx)
	s.Equal(1, report.Repaired)
	s.Equal(1, s.registry.Len(), "the failed rebind left nothing behind")
}

// =============================================================================
// Idempotence
// =============================================================================

func (s *EngineSuite) TestHealthyEntriesAreOnlyRebound() {
	s.seed(entry(1, 10, 100, 55), entry(1, 11, 110, 56), entry(2, 20, 200, 57))

	for range 2 {
		s.expectGuildAndChannel(1, 10)
		s.expectGuildAndChannel(1, 11)
		s.expectGuildAndChannel(2, 20)
		for _, m := range []struct{ ch, msg uint64 }{{10, 100}, {11, 110}, {20, 200}} {
			s.platform.EXPECT().Message(gomock.Any(), id.ChannelID(m.ch), id.MessageID(m.msg)).
				Return(&models.Message{ID: id.MessageID(m.msg), ChannelID: id.ChannelID(m.ch)}, nil)
			s.platform.EXPECT().AttachControl(gomock.Any(), id.ChannelID(m.ch), id.MessageID(m.msg), gomock.Any()).Return(nil)
		}
	}

	first := s.engine.Run(s.ctx)
	s.Equal(3, first.Rebound)
	s.Equal(0, s.backend.Writes())
	s.Equal(3, s.registry.Len())

	second := s.engine.Run(s.ctx)
	s.Equal(3, second.Rebound)
	s.Equal(0, s.backend.Writes(), "second pass writes nothing")
	s.Equal(3, s.registry.Len(), "rebinding replaces earlier controls")
	s.Equal(float64(6), testutil.ToFloat64(s.metrics.ReconcileEntries.WithLabelValues("rebound")))
}

// =============================================================================
// Skips and failures
// =============================================================================

func (s *EngineSuite) TestSkipsMissingGuild() {
	s.seed(entry(1, 10, 100, 55))
	before := s.backend.Bytes()

	s.platform.EXPECT().Guild(gomock.Any(), id.GuildID(1)).Return(nil, notFound("guild 1"))

	report := s.engine.Run(s.ctx)

	s.Equal(1, report.Skipped)
	s.Equal(0, s.backend.Writes())
	s.Equal(before, s.backend.Bytes())
	s.True(entry(1, 10, 100, 55).Equal(s.store.Entries()[0]))
	s.Equal(0, s.registry.Len())
	s.Contains(s.logs.String(), `"level":"WARN"`)
}

func (s *EngineSuite) TestSkipsMissingChannel() {
	s.seed(entry(1, 10, 100, 55))

	s.platform.EXPECT().Guild(gomock.Any(), id.GuildID(1)).Return(&models.Guild{ID: 1}, nil)
	s.platform.EXPECT().Channel(gomock.Any(), id.GuildID(1), id.ChannelID(10)).Return(nil, notFound("channel 10"))

	report := s.engine.Run(s.ctx)
	s.Equal(1, report.Skipped)
	s.Equal(0, s.backend.Writes())
}

func (s *EngineSuite) TestDeliveryFailureDoesNotStopThePass() {
	s.seed(entry(1, 10, 100, 55), entry(1, 10, 300, 66), entry(3, 30, 0, 77))

	// first: re-post refused
	s.expectGuildAndChannel(1, 10)
	s.platform.EXPECT().Message(gomock.Any(), id.ChannelID(10), id.MessageID(100)).Return(nil, notFound("message"))
	s.platform.EXPECT().Role(gomock.Any(), id.GuildID(1), id.RoleID(55)).Return(&models.Role{ID: 55}, nil)
	s.platform.EXPECT().SendPrompt(gomock.Any(), id.ChannelID(10), gomock.Any()).
		Return(id.MessageID(0), fmt.Errorf("missing permissions: %w", sentinel.ErrForbidden))

	// second: message lookup fails for another reason
	s.expectGuildAndChannel(1, 10)
	s.platform.EXPECT().Message(gomock.Any(), id.ChannelID(10), id.MessageID(300)).Return(nil, sentinel.ErrUnavailable)

	// third: guild lookup fails transiently
	s.platform.EXPECT().Guild(gomock.Any(), id.GuildID(3)).Return(nil, errors.New("gateway timeout"))

	report := s.engine.Run(s.ctx)

	s.Equal(Report{Total: 3, Failed: 3, Duration: report.Duration}, report)
	s.Equal(0, s.backend.Writes())
	s.Equal(0, s.registry.Len(), "failed controls are unbound")
	s.True(entry(1, 10, 100, 55).Equal(s.store.Entries()[0]), "entry left unrepaired")
}

func (s *EngineSuite) TestAttachFailure() {
	s.seed(entry(1, 10, 100, 55))

	s.expectGuildAndChannel(1, 10)
	s.platform.EXPECT().Message(gomock.Any(), id.ChannelID(10), id.MessageID(100)).Return(&models.Message{ID: 100}, nil)
	s.platform.EXPECT().AttachControl(gomock.Any(), id.ChannelID(10), id.MessageID(100), gomock.Any()).Return(sentinel.ErrForbidden)

	report := s.engine.Run(s.ctx)
	s.Equal(1, report.Failed)
	s.Equal(0, s.registry.Len())
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.PlatformCallErrors.WithLabelValues("attach_control")))
}

func (s *EngineSuite) TestPersistFailureStillRepairs() {
	s.seed(entry(1, 10, 100, 55))
	s.backend.FailWith(errors.New("disk full"))

	s.expectGuildAndChannel(1, 10)
	s.platform.EXPECT().Message(gomock.Any(), id.ChannelID(10), id.MessageID(100)).Return(nil, notFound("message"))
	s.platform.EXPECT().Role(gomock.Any(), id.GuildID(1), id.RoleID(55)).Return(&models.Role{ID: 55}, nil)
	s.platform.EXPECT().SendPrompt(gomock.Any(), id.ChannelID(10), gomock.Any()).Return(id.MessageID(101), nil)

	report := s.engine.Run(s.ctx)
	s.Equal(1, report.Repaired)
	s.Equal(id.MessageID(101), s.store.Entries()[0].Message(), "memory is authoritative")
	s.Contains(s.logs.String(), "disk full")
}

// =============================================================================
// Lifecycle
// =============================================================================

func (s *EngineSuite) TestRunOnce() {
	s.seed()

	select {
	case <-s.engine.Done():
		s.Fail("done before running")
	default:
	}
	_, ok := s.engine.LastReport()
	s.False(ok)

	_, ran := s.engine.RunOnce(s.ctx)
	s.True(ran)
	_, ran = s.engine.RunOnce(s.ctx)
	s.False(ran)

	select {
	case <-s.engine.Done():
	default:
		s.Fail("done not closed")
	}
	report, ok := s.engine.LastReport()
	s.True(ok)
	s.Equal(0, report.Total)
}

func (s *EngineSuite) TestCancelledContextStopsThePass() {
	s.seed(entry(1, 10, 100, 55), entry(2, 20, 200, 66))
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	report := s.engine.Run(ctx)
	s.Equal(2, report.Total)
	s.Equal(0, report.Rebound+report.Repaired+report.Skipped+report.Failed)
}
