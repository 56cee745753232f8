package domain

import "time"

// EventType identifies the kind of event carried on the bus
type EventType string

const (
	EventTypeMessageReceived EventType = "message.received"
	EventTypeJobCreated      EventType = "job.created"
	EventTypeJobRunning      EventType = "job.running"
	EventTypeJobFinished     EventType = "job.finished"
	EventTypeJobFailed       EventType = "job.failed"
	EventTypeJobCanceled     EventType = "job.canceled"
)

// Topics used on the event bus
const (
	TopicMessages  = "messages"
	TopicJobEvents = "job.events"
)

// Event is a message published on the event bus
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	JobUUID   string                 `json:"job_uuid,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventTypeForStatus returns the job event emitted when a record enters s
func EventTypeForStatus(s JobStatus) EventType {
	switch s {
	case JobStatusRunning:
		return EventTypeJobRunning
	case JobStatusFinished:
		return EventTypeJobFinished
	case JobStatusFailed:
		return EventTypeJobFailed
	case JobStatusCanceled:
		return EventTypeJobCanceled
	default:
		return EventTypeJobCreated
	}
}

// MessageEvent wraps an inbound message for the messages topic
func MessageEvent(id string, msg Message, now time.Time) Event {
	data := map[string]interface{}{}
	if len(msg.Structured) > 0 {
		data["message"] = msg.Structured
	}
	if msg.Raw != "" {
		data["raw"] = msg.Raw
	}
	return Event{
		ID:        id,
		Type:      EventTypeMessageReceived,
		Timestamp: now,
		Data:      data,
	}
}

// Message extracts the inbound message carried by a message.received event
func (e Event) Message() Message {
	var msg Message
	if structured, ok := e.Data["message"].(map[string]interface{}); ok {
		msg.Structured = structured
	}
	if raw, ok := e.Data["raw"].(string); ok {
		msg.Raw = raw
	}
	return msg
}
