package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"studyflow/internal/shared"
)

// DegradedMessage is the fixed, user-actionable message produced when
// the backend reports async processing as disabled. It is deliberately
// distinct from a generic failure.
const DegradedMessage = "Course processing is temporarily unavailable. Please try again soon."

// degradedMarker is the phrase (matched case-insensitively) the backend
// includes in 503 error text when async processing is switched off.
const degradedMarker = "async job processing is disabled"

// jobIDPaths are the known field paths for a job identifier, in
// resolution order. The first present non-empty string wins. The set is
// inferred from backend call sites rather than a documented schema, so
// extend it defensively instead of assuming completeness.
var jobIDPaths = [][]string{
	{"jobId"},
	{"job_id"},
	{"job", "id"},
	{"data", "jobId"},
	{"data", "job_id"},
	{"result", "jobId"},
	{"result", "job_id"},
}

// errorFields are the candidate fields for an error message in a
// non-success body, in fallback order.
var errorFields = []string{"error", "message", "detail", "details"}

// Outcome is the classification of an operation response. A non-empty
// JobID means the operation was deferred to a backend job; otherwise
// Payload holds the parsed immediate result.
type Outcome struct {
	JobID   string
	Payload map[string]any
	Raw     []byte
}

// Deferred reports whether the response referenced a backend job.
func (o Outcome) Deferred() bool { return o.JobID != "" }

// ResolveAsyncResponse classifies an HTTP operation response as
// immediate success, deferred (job reference), degraded service, or
// hard failure. It is a pure function of (status, body) and tolerates
// empty or non-JSON bodies.
func ResolveAsyncResponse(status int, body []byte) (Outcome, error) {
	parsed := parseObject(body)

	if status == http.StatusAccepted {
		id := extractJobID(parsed)
		if id == "" {
			return Outcome{}, shared.MarkKind(
				errors.New("202 response carries no job identifier"),
				shared.KindDeferredProtocol)
		}
		return Outcome{JobID: id, Payload: parsed, Raw: body}, nil
	}

	if status >= 200 && status < 300 {
		// A success body can still carry a job reference when the
		// backend chose to defer.
		if id := extractJobID(parsed); id != "" {
			return Outcome{JobID: id, Payload: parsed, Raw: body}, nil
		}
		return Outcome{Payload: parsed, Raw: body}, nil
	}

	if status == http.StatusServiceUnavailable && containsDegradedMarker(parsed) {
		return Outcome{}, shared.MarkKind(errors.New(DegradedMessage), shared.KindDegraded)
	}

	msg := extractErrorMessage(parsed)
	if msg == "" {
		msg = fmt.Sprintf("request failed (status %d)", status)
	}
	return Outcome{}, shared.MarkKind(errors.New(msg), shared.KindRequestFailed)
}

// parseObject best-effort decodes body into a JSON object. Non-JSON,
// empty, or non-object bodies yield nil.
func parseObject(body []byte) map[string]any {
	if len(body) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return nil
	}
	return m
}

// extractJobID resolves a job identifier through the known field paths.
func extractJobID(m map[string]any) string {
	for _, path := range jobIDPaths {
		if id := lookupString(m, path); id != "" {
			return id
		}
	}
	return ""
}

func lookupString(m map[string]any, path []string) string {
	cur := m
	for i, key := range path {
		v, ok := cur[key]
		if !ok {
			return ""
		}
		if i == len(path)-1 {
			s, _ := v.(string)
			return s
		}
		cur, ok = v.(map[string]any)
		if !ok {
			return ""
		}
	}
	return ""
}

// extractErrorMessage returns the first non-empty candidate error
// message from the body. Object-valued error fields contribute their
// message/error/detail member.
func extractErrorMessage(m map[string]any) string {
	for _, field := range errorFields {
		switch v := m[field].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			for _, key := range []string{"message", "error", "detail"} {
				if s, ok := v[key].(string); ok && s != "" {
					return s
				}
			}
		}
	}
	return ""
}

func containsDegradedMarker(m map[string]any) bool {
	for _, field := range errorFields {
		if s, ok := m[field].(string); ok {
			if strings.Contains(strings.ToLower(s), degradedMarker) {
				return true
			}
		}
	}
	return false
}
