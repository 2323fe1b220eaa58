package models

// EventType names an alert lifecycle change.
type EventType string

const (
	EventCreated      EventType = "created"
	EventAutoResolved EventType = "auto_resolved"
	EventAcknowledged EventType = "acknowledged"
	EventResolved     EventType = "resolved"
)

// AlertEvent is pushed to live subscribers once the change is committed.
type AlertEvent struct {
	Type  EventType `json:"type"`
	Alert Alert     `json:"alert"`
}
