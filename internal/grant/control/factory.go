// Package control builds the live grant controls bound to prompt messages
// and routes activations to them.
//
// A Control is rebuilt from its entry on every start and is never
// persisted. It only reads its entry, so any number of activations may run
// on it concurrently.
package control

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"rolegate/internal/grant/models"
	"rolegate/internal/grant/ports"
	"rolegate/internal/platform/metrics"
)

// Texts are the prompt and acknowledgment strings. Granted is a format
// string receiving the role name.
type Texts struct {
	Title       string
	Description string
	ButtonLabel string
	// Color is used for prompts whose role has no colour of its own.
	Color int

	Granted              string
	AlreadyGranted       string
	ConfigurationMissing string
	AssignmentFailed     string
}

func DefaultTexts() Texts {
	return Texts{
		Title:                "Verification",
		Description:          "Press the button below to receive the role.",
		ButtonLabel:          "Verify",
		Color:                0x00ff00,
		Granted:              "%s has been granted!",
		AlreadyGranted:       "You already have that role!",
		ConfigurationMissing: "The saved role could not be found.",
		AssignmentFailed:     "The role could not be assigned. Please contact a server administrator.",
	}
}

type Factory struct {
	roles     ports.RoleManager
	texts     Texts
	logger    *slog.Logger
	publisher ports.AuditPublisher
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	newID     func() string
}

type Option func(*Factory)

func WithLogger(logger *slog.Logger) Option {
	return func(f *Factory) {
		f.logger = logger
	}
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(f *Factory) {
		f.publisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Factory) {
		f.metrics = m
	}
}

func WithTexts(texts Texts) Option {
	return func(f *Factory) {
		f.texts = texts
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(f *Factory) {
		f.tracer = tracer
	}
}

// WithIDGenerator replaces the uuid source for control ids.
func WithIDGenerator(next func() string) Option {
	return func(f *Factory) {
		f.newID = next
	}
}

func NewFactory(roles ports.RoleManager, opts ...Option) (*Factory, error) {
	if roles == nil {
		return nil, errors.New("role manager is required")
	}
	f := &Factory{
		roles: roles,
		texts: DefaultTexts(),
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = slog.New(slog.DiscardHandler)
	}
	if f.tracer == nil {
		f.tracer = otel.Tracer("rolegate/internal/grant/control")
	}
	return f, nil
}

// Build returns a new control for entry with a fresh control id. Build is
// safe to call concurrently.
func (f *Factory) Build(entry models.GrantEntry) *Control {
	return &Control{
		id:      models.ControlID(models.ControlIDPrefix + f.newID()),
		entry:   entry.Clone(),
		factory: f,
	}
}

// Prompt renders the message that offers c's role. role may be nil when it
// could not be resolved; the default colour is used then.
func (f *Factory) Prompt(c *Control, role *models.Role) models.Prompt {
	color := f.texts.Color
	if role != nil && role.Color != 0 {
		color = role.Color
	}
	return models.Prompt{
		Title:       f.texts.Title,
		Description: f.texts.Description,
		Color:       color,
		Button:      c.Button(),
	}
}
