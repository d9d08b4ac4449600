// Package push delivers realtime backend events over a reconnecting
// subscription channel. Transports carry opaque JSON payloads; decoding
// is left to the subscriber so unknown event kinds pass through intact.
package push

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of a pushed event.
type EventType string

const (
	EventJobUpdated     EventType = "job.updated"
	EventJobProgress    EventType = "job.progress"
	EventCourseUpdated  EventType = "course.updated"
	EventCourseCreated  EventType = "course.created"
	EventMessageCreated EventType = "message.created"
)

// Event is a single message received on a topic.
type Event struct {
	Type  EventType
	Topic string
	Data  []byte
}

// JobEvent is the payload of job.updated and job.progress events.
type JobEvent struct {
	JobID    string          `json:"jobId"`
	Status   string          `json:"status,omitempty"`
	Progress int             `json:"progress,omitempty"`
	Error    string          `json:"error,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// CourseEvent is the payload of course.created and course.updated events.
type CourseEvent struct {
	CourseID string `json:"courseId"`
	Title    string `json:"title,omitempty"`
	Status   string `json:"status,omitempty"`
}

// MessageEvent is the payload of message.created events.
type MessageEvent struct {
	MessageID string `json:"messageId"`
	CourseID  string `json:"courseId,omitempty"`
	Text      string `json:"text,omitempty"`
}

// Job decodes the event payload as a JobEvent.
func (e Event) Job() (JobEvent, error) {
	var je JobEvent
	err := json.Unmarshal(e.Data, &je)
	return je, err
}

// Course decodes the event payload as a CourseEvent.
func (e Event) Course() (CourseEvent, error) {
	var ce CourseEvent
	err := json.Unmarshal(e.Data, &ce)
	return ce, err
}

// Message decodes the event payload as a MessageEvent.
func (e Event) Message() (MessageEvent, error) {
	var me MessageEvent
	err := json.Unmarshal(e.Data, &me)
	return me, err
}

// Topic builds the canonical per-user topic name for an event stream,
// e.g. Topic("u1", "jobs") == "user:u1:jobs".
func Topic(userID, stream string) string {
	return "user:" + userID + ":" + stream
}

// State describes where a channel is in its connection lifecycle.
type State string

const (
	StateConnecting   State = "connecting"
	StateSubscribed   State = "subscribed"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

// Status is a channel lifecycle notification.
type Status struct {
	State   State
	Attempt int
	Wait    time.Duration
	Err     error
}

// Callbacks receive events and lifecycle changes from a channel. A nil
// field is simply skipped.
type Callbacks struct {
	OnEvent  func(Event)
	OnStatus func(Status)
}
