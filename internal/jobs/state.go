package jobs

import (
	"encoding/json"
	"strings"
	"time"
)

// Job status values as normalized from the wire (lowercase).
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Reference identifies a submitted unit of work. JobID is the identity
// key: two references with the same JobID are the same logical job.
type Reference struct {
	JobID       string    `json:"jobId"`
	StatusURL   string    `json:"statusUrl,omitempty"`
	CourseID    string    `json:"courseId,omitempty"`
	CourseTitle string    `json:"courseTitle,omitempty"`
	Status      string    `json:"status,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// State is the result of a job status query.
//
// Terminality follows two invariants: a state with a non-empty error is
// terminal-failed regardless of its status field, and a state with
// status "completed", or finished_at set without an error, is
// terminal-success.
type State struct {
	Status     string
	Result     any
	FinishedAt *time.Time

	errMessage string
	hasError   bool
	finished   bool
}

type stateWire struct {
	Status     string          `json:"status"`
	Result     any             `json:"result"`
	Error      json.RawMessage `json:"error"`
	FinishedAt json.RawMessage `json:"finished_at"`
}

// UnmarshalJSON decodes a wire job state, normalizing status to
// lowercase and accepting error as either a string or an object with a
// message/error/detail field.
func (s *State) UnmarshalJSON(b []byte) error {
	var w stateWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	s.Status = strings.ToLower(strings.TrimSpace(w.Status))
	s.Result = w.Result
	s.errMessage, s.hasError = decodeErrorField(w.Error)
	s.FinishedAt, s.finished = decodeTimestamp(w.FinishedAt)
	return nil
}

// decodeErrorField extracts a failure message from the wire error
// value. An absent, null or empty-string error counts as no error.
func decodeErrorField(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if str == "" {
			return "", false
		}
		return str, true
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, key := range []string{"message", "error", "detail"} {
			if v, ok := obj[key].(string); ok && v != "" {
				return v, true
			}
		}
		return "", true
	}
	// Some other non-null JSON value: still a failure signal.
	return "", true
}

// decodeTimestamp parses an RFC3339 finished_at value. Unparseable but
// present values still mark the state as finished.
func decodeTimestamp(raw json.RawMessage) (*time.Time, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil && str != "" {
		if ts, err := time.Parse(time.RFC3339, str); err == nil {
			return &ts, true
		}
	}
	return nil, true
}

// Failed reports whether the state is terminal-failed.
func (s *State) Failed() bool {
	return s.hasError || s.Status == StatusFailed
}

// Succeeded reports whether the state is terminal-success.
func (s *State) Succeeded() bool {
	if s.Failed() {
		return false
	}
	return s.Status == StatusCompleted || s.finished
}

// Terminal reports whether no further transition will occur.
func (s *State) Terminal() bool {
	return s.Failed() || s.Succeeded()
}

// FailureMessage returns the extracted failure message, falling back to
// a generic one when the backend gave none.
func (s *State) FailureMessage() string {
	if s.errMessage != "" {
		return s.errMessage
	}
	return "Job failed."
}

// MaybeParseJSON opportunistically decodes a string that looks like a
// JSON object or array literal. It is a boundary-compatibility shim for
// backends that double-encode results, not canonical behavior: anything
// that does not parse comes back unchanged.
func MaybeParseJSON(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	trimmed := strings.TrimSpace(s)
	if len(trimmed) == 0 {
		return v
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return v
	}
	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return v
	}
	return parsed
}
