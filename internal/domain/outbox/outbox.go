package outbox

import "context"

// Event is any domain event with a name identifier.
type Event interface {
	EventName() string
}

// TenantScoped is implemented by events that belong to exactly one tenant.
type TenantScoped interface {
	Tenant() string
}

// Handler processes a published event. Delivery is at-least-once, so handlers
// must tolerate seeing the same event again.
type Handler func(ctx context.Context, e Event) error

// Publisher publishes events to interested subscribers.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Subscriber registers handlers for event names.
type Subscriber interface {
	Subscribe(eventName string, h Handler)
}

// TenantOf returns the tenant of e, or "" when e is not tenant scoped.
func TenantOf(e Event) string {
	if ts, ok := e.(TenantScoped); ok {
		return ts.Tenant()
	}
	return ""
}
