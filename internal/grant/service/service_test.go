package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"rolegate/internal/grant/control"
	"rolegate/internal/grant/models"
	"rolegate/internal/grant/ports/mocks"
	"rolegate/internal/grant/store"
	id "rolegate/pkg/domain"
	dErrors "rolegate/pkg/domain-errors"
	"rolegate/pkg/platform/audit"
	"rolegate/pkg/platform/sentinel"
)

const operator = id.UserID(1005408303825829998)

type ServiceSuite struct {
	suite.Suite
	ctx       context.Context
	ctrl      *gomock.Controller
	platform  *mocks.MockPlatform
	publisher *mocks.MockAuditPublisher
	backend   *store.MemoryBackend
	store     *store.Store
	registry  *control.Registry
	service   *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.platform = mocks.NewMockPlatform(s.ctrl)
	s.publisher = mocks.NewMockAuditPublisher(s.ctrl)
	s.backend = store.NewMemoryBackend()

	var err error
	s.store, err = store.New(s.backend)
	s.Require().NoError(err)
	s.store.Load(s.ctx)
	factory, err := control.NewFactory(s.platform)
	s.Require().NoError(err)
	s.registry = control.NewRegistry(nil)

	s.service, err = New(s.store, s.platform, factory, s.registry,
		WithOperators(operator),
		WithAuditPublisher(s.publisher),
	)
	s.Require().NoError(err)
}

func (s *ServiceSuite) request() RegisterRequest {
	return RegisterRequest{Actor: operator, GuildID: 1, ChannelID: 10, RoleID: 55}
}

func (s *ServiceSuite) expectAudit(action audit.AuditEvent) {
	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e audit.Event) error {
			s.Equal(string(action), e.Action)
			return nil
		})
}

// =============================================================================
// Register
// =============================================================================

func (s *ServiceSuite) TestRegister() {
	s.Run("posts the prompt then records the entry", func() {
		s.platform.EXPECT().Role(gomock.Any(), id.GuildID(1), id.RoleID(55)).
			Return(&models.Role{ID: 55, GuildID: 1, Name: "Verified", Color: 0x123456}, nil)
		var prompt models.Prompt
		s.platform.EXPECT().SendPrompt(gomock.Any(), id.ChannelID(10), gomock.Any()).DoAndReturn(
			func(_ context.Context, _ id.ChannelID, p models.Prompt) (id.MessageID, error) {
				prompt = p
				s.Equal(0, s.store.Len(), "nothing recorded before the prompt is posted")
				return 100, nil
			})
		s.expectAudit(audit.EventGrantRegistered)

		entry, err := s.service.Register(s.ctx, s.request())
		s.Require().NoError(err)

		s.Equal(id.MessageID(100), entry.Message())
		s.Equal(0x123456, prompt.Color)
		s.Equal(1, s.backend.Writes())
		s.Require().Equal(1, s.store.Len())
		s.True(entry.Equal(s.store.Entries()[0]))

		_, ok := s.registry.Lookup(prompt.Button.ControlID)
		s.True(ok, "control is live")
	})

	s.Run("same channel and role twice appends twice", func() {
		s.platform.EXPECT().Role(gomock.Any(), id.GuildID(1), id.RoleID(55)).Return(&models.Role{ID: 55}, nil)
		s.platform.EXPECT().SendPrompt(gomock.Any(), id.ChannelID(10), gomock.Any()).Return(id.MessageID(101), nil)
		s.expectAudit(audit.EventGrantRegistered)

		_, err := s.service.Register(s.ctx, s.request())
		s.Require().NoError(err)
		s.Equal(2, s.store.Len())
	})
}

func (s *ServiceSuite) TestRegisterRejectsNonOperators() {
	s.expectAudit(audit.EventRegistrationDenied)

	req := s.request()
	req.Actor = 42
	_, err := s.service.Register(s.ctx, req)

	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	s.Equal(0, s.store.Len())
}

func (s *ServiceSuite) TestRegisterValidation() {
	req := s.request()
	req.RoleID = 0
	_, err := s.service.Register(s.ctx, req)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestRegisterRoleMissing() {
	s.platform.EXPECT().Role(gomock.Any(), id.GuildID(1), id.RoleID(55)).Return(nil, fmt.Errorf("role: %w", sentinel.ErrNotFound))
	s.expectAudit(audit.EventRegistrationFailed)

	_, err := s.service.Register(s.ctx, s.request())
	s.True(dErrors.HasCode(err, dErrors.CodeConfigurationMissing))
	s.Equal(0, s.backend.Writes())
}

func (s *ServiceSuite) TestRegisterSendFailure() {
	s.platform.EXPECT().Role(gomock.Any(), id.GuildID(1), id.RoleID(55)).Return(&models.Role{ID: 55}, nil)
	s.platform.EXPECT().SendPrompt(gomock.Any(), id.ChannelID(10), gomock.Any()).
		Return(id.MessageID(0), fmt.Errorf("missing access: %w", sentinel.ErrForbidden))
	s.expectAudit(audit.EventRegistrationFailed)

	entry, err := s.service.Register(s.ctx, s.request())

	s.Nil(entry)
	s.True(dErrors.HasCode(err, dErrors.CodeDeliveryFailure))
	s.Equal(0, s.store.Len(), "no half-written entry")
	s.Equal(0, s.backend.Writes())
	s.Equal(0, s.registry.Len(), "control released")
}

func (s *ServiceSuite) TestRegisterPersistFailure() {
	s.backend.FailWith(errors.New("disk full"))
	s.platform.EXPECT().Role(gomock.Any(), id.GuildID(1), id.RoleID(55)).Return(&models.Role{ID: 55}, nil)
	s.platform.EXPECT().SendPrompt(gomock.Any(), id.ChannelID(10), gomock.Any()).Return(id.MessageID(100), nil)
	s.expectAudit(audit.EventGrantRegistered)

	entry, err := s.service.Register(s.ctx, s.request())
	s.Require().NoError(err, "the prompt is live, the entry is held in memory")
	s.Equal(id.MessageID(100), entry.Message())
	s.Equal(1, s.store.Len())
}

// =============================================================================
// List
// =============================================================================

func (s *ServiceSuite) TestList() {
	for _, e := range []models.GrantEntry{
		models.GrantEntry{GuildID: 1, ChannelID: 10, RoleID: 55}.WithMessage(100),
		models.GrantEntry{GuildID: 2, ChannelID: 20, RoleID: 66}.WithMessage(200),
		models.GrantEntry{GuildID: 1, ChannelID: 11, RoleID: 77}.WithMessage(300),
	} {
		_, err := s.store.Append(s.ctx, e)
		s.Require().NoError(err)
	}

	s.Len(s.service.List(s.ctx, 0), 3)

	guild1 := s.service.List(s.ctx, 1)
	s.Require().Len(guild1, 2)
	s.Equal(id.RoleID(55), guild1[0].RoleID)
	s.Equal(id.RoleID(77), guild1[1].RoleID)

	s.Empty(s.service.List(s.ctx, 9))
}

func (s *ServiceSuite) TestIsOperator() {
	s.True(s.service.IsOperator(operator))
	s.False(s.service.IsOperator(1))
}
