package audit

import (
	"context"
	"time"

	id "rolegate/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies and routing in the sink.
type EventCategory string

const (
	// CategoryCompliance covers durable changes to who holds which role:
	// grant prompts created and roles handed out.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers refused or suspicious actions: non-operators
	// trying to create prompts, prompts pointing at deleted roles.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity that can be sampled:
	// reconciliation outcomes, idempotent activations.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory `json:"category"`
	Timestamp time.Time     `json:"timestamp"`
	// UserID is the member affected (the one receiving the role), zero for
	// system actions such as reconciliation.
	UserID    id.UserID `json:"user_id,omitempty"`
	GuildID   id.GuildID `json:"guild_id,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Action    string    `json:"action"`
	Decision  string    `json:"decision,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	// ActorID tracks who performed the action when different from UserID,
	// e.g. the operator that registered a prompt.
	ActorID string `json:"actor_id,omitempty"`
}

type AuditEvent string

const (
	// Registration events
	EventGrantRegistered    AuditEvent = "grant_registered"
	EventRegistrationDenied AuditEvent = "grant_registration_denied"
	EventRegistrationFailed AuditEvent = "grant_registration_failed"

	// Activation events
	EventRoleGranted          AuditEvent = "role_granted"
	EventRoleAlreadyHeld      AuditEvent = "role_already_held"
	EventGrantRoleMissing     AuditEvent = "grant_role_missing"
	EventRoleAssignmentFailed AuditEvent = "role_assignment_failed"

	// Reconciliation events
	EventControlRebound  AuditEvent = "grant_control_rebound"
	EventEntryRepaired   AuditEvent = "grant_entry_repaired"
	EventEntrySkipped    AuditEvent = "grant_entry_skipped"
	EventEntryUnrepaired AuditEvent = "grant_entry_unrepaired"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventGrantRegistered: CategoryCompliance,
	EventRoleGranted:     CategoryCompliance,
	EventEntryRepaired:   CategoryCompliance,

	EventRegistrationDenied:   CategorySecurity,
	EventGrantRoleMissing:     CategorySecurity,
	EventRoleAssignmentFailed: CategorySecurity,

	EventRegistrationFailed: CategoryOperations,
	EventRoleAlreadyHeld:    CategoryOperations,
	EventControlRebound:     CategoryOperations,
	EventEntrySkipped:       CategoryOperations,
	EventEntryUnrepaired:    CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store is the append-only sink audit events are written to.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Lister is implemented by stores that can read events back.
type Lister interface {
	ListByUser(ctx context.Context, userID id.UserID) ([]Event, error)
}
