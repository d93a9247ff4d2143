package notify

import (
	"context"
	"time"
)

// EventType names a lifecycle event published to downstream consumers
// (the notification/email subsystem, admin UI refreshers).
type EventType string

const (
	EventRequestCreated   EventType = "request.created"
	EventRequestGenerated EventType = "request.generated"
	EventRequestApproved  EventType = "request.approved"
	EventRequestRejected  EventType = "request.rejected"
	EventRequestApplied   EventType = "request.applied"
	EventSkillRolledBack  EventType = "skill.rolled_back"
)

// Event is one lifecycle notification.
type Event struct {
	Type      EventType `json:"type"`
	SkillID   string    `json:"skill_id"`
	RequestID string    `json:"request_id,omitempty"`
	Version   int       `json:"version,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher abstracts event publishing. Publishing is best-effort; the
// lifecycle never fails an action because a notification could not be sent.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close()
}

// NoopPublisher discards all events. Used when eventing is disabled.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
func (NoopPublisher) Close()                               {}
