package control

import (
	"context"
	"fmt"
	"sync"

	"rolegate/internal/grant/models"
	"rolegate/internal/grant/ports"
	"rolegate/internal/platform/metrics"
	id "rolegate/pkg/domain"
	"rolegate/pkg/platform/sentinel"
)

type messageKey struct {
	channel id.ChannelID
	message id.MessageID
}

// Registry maps control ids to live controls. It also remembers which
// control is attached to which message so rebinding a message releases the
// control it replaced.
type Registry struct {
	mu        sync.RWMutex
	controls  map[models.ControlID]*Control
	byMessage map[messageKey]models.ControlID
	metrics   *metrics.Metrics
}

func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{
		controls:  make(map[models.ControlID]*Control),
		byMessage: make(map[messageKey]models.ControlID),
		metrics:   m,
	}
}

// Bind makes c reachable by its control id.
func (r *Registry) Bind(c *Control) {
	r.mu.Lock()
	r.controls[c.ID()] = c
	n := len(r.controls)
	r.mu.Unlock()
	r.metrics.SetBoundControls(n)
}

// Unbind drops the control with controlID.
func (r *Registry) Unbind(controlID models.ControlID) {
	r.mu.Lock()
	delete(r.controls, controlID)
	for k, v := range r.byMessage {
		if v == controlID {
			delete(r.byMessage, k)
		}
	}
	n := len(r.controls)
	r.mu.Unlock()
	r.metrics.SetBoundControls(n)
}

// Attach records that controlID is now the control on the given message.
// A different control previously attached there is unbound.
func (r *Registry) Attach(channelID id.ChannelID, messageID id.MessageID, controlID models.ControlID) {
	key := messageKey{channel: channelID, message: messageID}
	r.mu.Lock()
	if prev, ok := r.byMessage[key]; ok && prev != controlID {
		delete(r.controls, prev)
	}
	r.byMessage[key] = controlID
	n := len(r.controls)
	r.mu.Unlock()
	r.metrics.SetBoundControls(n)
}

func (r *Registry) Lookup(controlID models.ControlID) (*Control, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.controls[controlID]
	return c, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.controls)
}

// Dispatch routes an activation to the control bound under controlID. It
// returns an error wrapping sentinel.ErrNotFound when nothing is bound.
func (r *Registry) Dispatch(ctx context.Context, controlID models.ControlID, act models.Activation, responder ports.Responder) (models.Outcome, error) {
	c, ok := r.Lookup(controlID)
	if !ok {
		return "", fmt.Errorf("control %s: %w", controlID, sentinel.ErrNotFound)
	}
	return c.Activate(ctx, act, responder)
}
