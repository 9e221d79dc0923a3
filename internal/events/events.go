package events

import (
	"context"
	"errors"
	"time"
)

// Event types
const (
	TypePredictionsRefreshed = "predictions.refreshed"
	TypeRoutePlanSolved      = "route_plan.solved"
	TypeRoutesAssigned       = "routes.assigned"
)

// Event is a domain notification fanned out to dashboards and Kafka
type Event struct {
	Type      string      `json:"type"`
	Key       string      `json:"-"` // partition key, e.g. plan date
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

func New(eventType, key string, data interface{}) Event {
	return Event{Type: eventType, Key: key, Timestamp: time.Now().UTC(), Data: data}
}

// Publisher delivers events. Delivery is best effort; callers log failures.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Multi publishes to every publisher and joins their errors
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every event
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Broadcaster is the websocket hub side used for dashboard fan-out
type Broadcaster interface {
	BroadcastToRole(role string, data interface{})
}

// Hub pushes events to every connected client with the given role
type Hub struct {
	hub  Broadcaster
	role string
}

func NewHub(hub Broadcaster, role string) *Hub {
	return &Hub{hub: hub, role: role}
}

func (h *Hub) Publish(_ context.Context, evt Event) error {
	h.hub.BroadcastToRole(h.role, evt)
	return nil
}
