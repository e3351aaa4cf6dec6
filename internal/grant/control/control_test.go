package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"rolegate/internal/grant/models"
	"rolegate/internal/grant/ports/mocks"
	"rolegate/internal/platform/metrics"
	id "rolegate/pkg/domain"
	dErrors "rolegate/pkg/domain-errors"
	"rolegate/pkg/platform/audit"
	"rolegate/pkg/platform/sentinel"
)

type ControlSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	roles     *mocks.MockRoleManager
	responder *mocks.MockResponder
	publisher *mocks.MockAuditPublisher
	metrics   *metrics.Metrics
	factory   *Factory
	ctx       context.Context
	entry     models.GrantEntry
	role      *models.Role
}

func TestControlSuite(t *testing.T) {
	suite.Run(t, new(ControlSuite))
}

func (s *ControlSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.roles = mocks.NewMockRoleManager(s.ctrl)
	s.responder = mocks.NewMockResponder(s.ctrl)
	s.publisher = mocks.NewMockAuditPublisher(s.ctrl)
	s.metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())
	s.ctx = context.Background()

	seq := 0
	var err error
	s.factory, err = NewFactory(s.roles,
		WithAuditPublisher(s.publisher),
		WithMetrics(s.metrics),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		}),
	)
	s.Require().NoError(err)

	s.entry = models.GrantEntry{GuildID: 1, ChannelID: 10, RoleID: 55}.WithMessage(100)
	s.role = &models.Role{ID: 55, GuildID: 1, Name: "Verified", Color: 0x3498db}
}

func (s *ControlSuite) activation(user id.UserID, held ...id.RoleID) models.Activation {
	return models.Activation{GuildID: 1, ChannelID: 10, MessageID: 100, UserID: user, MemberRoles: held}
}

func (s *ControlSuite) expectAudit(action audit.AuditEvent) {
	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e audit.Event) error {
			s.Equal(string(action), e.Action)
			return nil
		})
}

// =============================================================================
// Factory
// =============================================================================

func (s *ControlSuite) TestNewFactory() {
	s.Run("requires a role manager", func() {
		_, err := NewFactory(nil)
		s.Require().Error(err)
	})
}

func (s *ControlSuite) TestBuild() {
	s.Run("each build gets a fresh namespaced id", func() {
		a := s.factory.Build(s.entry)
		b := s.factory.Build(s.entry)
		s.NotEqual(a.ID(), b.ID())
		s.Equal(models.ControlID("rolegate:grant:id-1"), a.ID())
		s.Equal("Verify", a.Button().Label)
	})

	s.Run("control keeps its own copy of the entry", func() {
		e := s.entry.Clone()
		c := s.factory.Build(e)
		*e.MessageID = 999
		s.Equal(id.MessageID(100), c.Entry().Message())
	})
}

func (s *ControlSuite) TestPrompt() {
	c := s.factory.Build(s.entry)

	s.Run("uses the role colour", func() {
		p := s.factory.Prompt(c, s.role)
		s.Equal(0x3498db, p.Color)
		s.Equal(c.Button(), p.Button)
		s.Equal("Verification", p.Title)
	})

	s.Run("falls back to the accent colour", func() {
		s.Equal(0x00ff00, s.factory.Prompt(c, &models.Role{ID: 55}).Color)
		s.Equal(0x00ff00, s.factory.Prompt(c, nil).Color)
	})
}

// =============================================================================
// Activation outcomes
// =============================================================================

func (s *ControlSuite) TestGrantThenAlreadyGranted() {
	c := s.factory.Build(s.entry)

	s.roles.EXPECT().Role(gomock.Any(), id.GuildID(1), id.RoleID(55)).Return(s.role, nil).Times(2)
	s.roles.EXPECT().AddRole(gomock.Any(), id.GuildID(1), id.UserID(7), id.RoleID(55)).Return(nil).Times(1)
	s.responder.EXPECT().Reply(gomock.Any(), "Verified has been granted!").Return(nil).Times(1)
	s.responder.EXPECT().Reply(gomock.Any(), "You already have that role!").Return(nil).Times(1)
	s.expectAudit(audit.EventRoleGranted)
	s.expectAudit(audit.EventRoleAlreadyHeld)

	outcome, err := c.Activate(s.ctx, s.activation(7), s.responder)
	s.Require().NoError(err)
	s.Equal(models.OutcomeGranted, outcome)

	outcome, err = c.Activate(s.ctx, s.activation(7, 55), s.responder)
	s.Require().NoError(err)
	s.Equal(models.OutcomeAlreadyGranted, outcome)

	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Activations.WithLabelValues("granted")))
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Activations.WithLabelValues("already_granted")))
}

func (s *ControlSuite) TestRoleMissing() {
	c := s.factory.Build(s.entry)

	s.roles.EXPECT().Role(gomock.Any(), id.GuildID(1), id.RoleID(55)).
		Return(nil, fmt.Errorf("role 55: %w", sentinel.ErrNotFound))
	s.responder.EXPECT().Reply(gomock.Any(), "The saved role could not be found.").Return(nil)
	s.expectAudit(audit.EventGrantRoleMissing)

	outcome, err := c.Activate(s.ctx, s.activation(7), s.responder)
	s.Require().NoError(err)
	s.Equal(models.OutcomeConfigurationMissing, outcome)
}

func (s *ControlSuite) TestActivationOutsideGuild() {
	c := s.factory.Build(s.entry)
	act := s.activation(7)
	act.GuildID = 0

	s.responder.EXPECT().Reply(gomock.Any(), "The saved role could not be found.").Return(nil)
	s.expectAudit(audit.EventGrantRoleMissing)

	outcome, err := c.Activate(s.ctx, act, s.responder)
	s.Require().NoError(err)
	s.Equal(models.OutcomeConfigurationMissing, outcome)
}

func (s *ControlSuite) TestAssignmentFailure() {
	c := s.factory.Build(s.entry)

	s.roles.EXPECT().Role(gomock.Any(), id.GuildID(1), id.RoleID(55)).Return(s.role, nil)
	s.roles.EXPECT().AddRole(gomock.Any(), id.GuildID(1), id.UserID(7), id.RoleID(55)).
		Return(fmt.Errorf("missing permissions: %w", sentinel.ErrForbidden))
	s.responder.EXPECT().Reply(gomock.Any(), DefaultTexts().AssignmentFailed).Return(nil)
	s.expectAudit(audit.EventRoleAssignmentFailed)

	outcome, err := c.Activate(s.ctx, s.activation(7), s.responder)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	s.Equal(models.OutcomeFailed, outcome)
}

func (s *ControlSuite) TestRoleLookupFailure() {
	c := s.factory.Build(s.entry)

	s.roles.EXPECT().Role(gomock.Any(), id.GuildID(1), id.RoleID(55)).Return(nil, sentinel.ErrUnavailable)
	s.responder.EXPECT().Reply(gomock.Any(), DefaultTexts().AssignmentFailed).Return(nil)

	outcome, err := c.Activate(s.ctx, s.activation(7), s.responder)
	s.Require().Error(err)
	s.ErrorIs(err, sentinel.ErrUnavailable)
	s.Equal(models.OutcomeFailed, outcome)
}

func (s *ControlSuite) TestReplyFailure() {
	c := s.factory.Build(s.entry)

	s.roles.EXPECT().Role(gomock.Any(), id.GuildID(1), id.RoleID(55)).Return(s.role, nil)
	s.roles.EXPECT().AddRole(gomock.Any(), id.GuildID(1), id.UserID(7), id.RoleID(55)).Return(nil)
	s.responder.EXPECT().Reply(gomock.Any(), gomock.Any()).Return(errors.New("interaction expired"))
	s.expectAudit(audit.EventRoleGranted)

	outcome, err := c.Activate(s.ctx, s.activation(7), s.responder)
	s.Equal(models.OutcomeGranted, outcome, "role was still granted")
	s.True(dErrors.HasCode(err, dErrors.CodeDeliveryFailure))
}

func (s *ControlSuite) TestConcurrentActivations() {
	c := s.factory.Build(s.entry)
	const users = 20

	s.roles.EXPECT().Role(gomock.Any(), id.GuildID(1), id.RoleID(55)).Return(s.role, nil).Times(users)
	s.roles.EXPECT().AddRole(gomock.Any(), id.GuildID(1), gomock.Any(), id.RoleID(55)).Return(nil).Times(users)
	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil).Times(users)

	var wg sync.WaitGroup
	for u := 1; u <= users; u++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			responder := mocks.NewMockResponder(s.ctrl)
			responder.EXPECT().Reply(gomock.Any(), "Verified has been granted!").Return(nil)
			outcome, err := c.Activate(s.ctx, s.activation(id.UserID(u)), responder)
			s.NoError(err)
			s.Equal(models.OutcomeGranted, outcome)
		}()
	}
	wg.Wait()
}

// =============================================================================
// Registry
// =============================================================================

func (s *ControlSuite) TestRegistry() {
	reg := NewRegistry(s.metrics)

	s.Run("bind lookup unbind", func() {
		c := s.factory.Build(s.entry)
		reg.Bind(c)
		got, ok := reg.Lookup(c.ID())
		s.True(ok)
		s.Same(c, got)

		reg.Unbind(c.ID())
		_, ok = reg.Lookup(c.ID())
		s.False(ok)
	})

	s.Run("attaching a new control to a message releases the old one", func() {
		old := s.factory.Build(s.entry)
		reg.Bind(old)
		reg.Attach(10, 100, old.ID())

		next := s.factory.Build(s.entry)
		reg.Bind(next)
		reg.Attach(10, 100, next.ID())

		_, ok := reg.Lookup(old.ID())
		s.False(ok)
		_, ok = reg.Lookup(next.ID())
		s.True(ok)
		s.Equal(1, reg.Len())
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.BoundControls))
	})

	s.Run("dispatch to unknown control", func() {
		_, err := reg.Dispatch(s.ctx, "rolegate:grant:nope", s.activation(7), s.responder)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("dispatch routes to the bound control", func() {
		c := s.factory.Build(s.entry)
		reg.Bind(c)
		s.roles.EXPECT().Role(gomock.Any(), id.GuildID(1), id.RoleID(55)).Return(s.role, nil)
		s.responder.EXPECT().Reply(gomock.Any(), "You already have that role!").Return(nil)
		s.expectAudit(audit.EventRoleAlreadyHeld)

		outcome, err := reg.Dispatch(s.ctx, c.ID(), s.activation(7, 55), s.responder)
		s.Require().NoError(err)
		s.Equal(models.OutcomeAlreadyGranted, outcome)
	})
}
