package ports

import "time"

// ChatEvent is a domain event emitted while a conversation runs. It mirrors
// the contract implemented by the domain layer events.
type ChatEvent interface {
	EventType() string
	OccurredAt() time.Time
	GetTaskID() string
}

// EventListener consumes chat events (metrics, progress bridging, UIs).
type EventListener interface {
	OnEvent(event ChatEvent)
}
