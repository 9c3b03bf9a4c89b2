package event

import "time"

// Event represents a typed event with an occurrence timestamp.
type Event interface {
	Type() string
	Timestamp() time.Time
}

const (
	TypeStateChanged    = "state_changed"
	TypeWatchDegraded   = "watch_degraded"
	TypeViewerConnected = "viewer_connected"
	TypeViewerRemoved   = "viewer_removed"
	TypeTeardownStep    = "teardown_step"
)

// SessionEvent captures session lifecycle changes.
type SessionEvent struct {
	EventType  string
	SessionID  string
	State      string
	Detail     string
	Fields     map[string]string
	OccurredAt time.Time
}

func NewSessionEvent(sessionID, eventType string) SessionEvent {
	return SessionEvent{
		EventType:  eventType,
		SessionID:  sessionID,
		OccurredAt: time.Now().UTC(),
	}
}

func (e SessionEvent) Type() string {
	return e.EventType
}

func (e SessionEvent) Timestamp() time.Time {
	return e.OccurredAt
}
