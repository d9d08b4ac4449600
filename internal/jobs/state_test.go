package jobs_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyflow/internal/jobs"
)

func decodeState(t *testing.T, raw string) jobs.State {
	t.Helper()
	var s jobs.State
	require.NoError(t, json.Unmarshal([]byte(raw), &s))
	return s
}

func TestState_StatusNormalization(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`{"status":"QUEUED"}`, "queued"},
		{`{"status":"Running"}`, "running"},
		{`{"status":" completed "}`, "completed"},
		{`{"status":"FAILED"}`, "failed"},
	}
	for _, tt := range tests {
		s := decodeState(t, tt.raw)
		assert.Equal(t, tt.want, s.Status)
	}
}

func TestState_TerminalInvariants(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		failed    bool
		succeeded bool
	}{
		{"queued", `{"status":"queued"}`, false, false},
		{"running", `{"status":"running"}`, false, false},
		{"completed", `{"status":"completed"}`, false, true},
		{"failed status", `{"status":"failed"}`, true, false},
		{"string error", `{"status":"running","error":"timeout exceeded"}`, true, false},
		{"object error", `{"status":"queued","error":{"message":"oom"}}`, true, false},
		{"empty string error is not an error", `{"status":"running","error":""}`, false, false},
		{"null error is not an error", `{"status":"completed","error":null}`, false, true},
		{"finished_at without error", `{"status":"running","finished_at":"2026-08-01T10:00:00Z"}`, false, true},
		{"finished_at with error", `{"status":"running","finished_at":"2026-08-01T10:00:00Z","error":"boom"}`, true, false},
		{"unknown status keeps polling", `{"status":"waiting"}`, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := decodeState(t, tt.raw)
			assert.Equal(t, tt.failed, s.Failed(), "Failed")
			assert.Equal(t, tt.succeeded, s.Succeeded(), "Succeeded")
			assert.Equal(t, tt.failed || tt.succeeded, s.Terminal(), "Terminal")
		})
	}
}

func TestState_FailureMessage(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"string error", `{"error":"timeout exceeded"}`, "timeout exceeded"},
		{"object message", `{"error":{"message":"worker died"}}`, "worker died"},
		{"object error member", `{"error":{"error":"inner"}}`, "inner"},
		{"object detail", `{"error":{"detail":"stack trace"}}`, "stack trace"},
		{"opaque error value", `{"error":{"code":500}}`, "Job failed."},
		{"numeric error value", `{"status":"failed","error":7}`, "Job failed."},
		{"no error at all", `{"status":"failed"}`, "Job failed."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := decodeState(t, tt.raw)
			assert.True(t, s.Failed())
			assert.Equal(t, tt.want, s.FailureMessage())
		})
	}
}

func TestState_FinishedAtParsed(t *testing.T) {
	s := decodeState(t, `{"status":"completed","finished_at":"2026-08-01T10:30:00Z"}`)
	require.NotNil(t, s.FinishedAt)
	assert.Equal(t, 2026, s.FinishedAt.Year())

	// Unparseable timestamps still count as finished.
	s = decodeState(t, `{"finished_at":"yesterday-ish"}`)
	assert.Nil(t, s.FinishedAt)
	assert.True(t, s.Succeeded())
}

func TestMaybeParseJSON(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"object literal", `{"overviewTopics":[]}`, map[string]any{"overviewTopics": []any{}}},
		{"array literal", `[1,2]`, []any{float64(1), float64(2)}},
		{"leading whitespace", `  {"a":1}`, map[string]any{"a": float64(1)}},
		{"plain string", "hello", "hello"},
		{"number-ish string", "42", "42"},
		{"invalid json kept as-is", `{"broken":`, `{"broken":`},
		{"non-string passthrough", float64(3), float64(3)},
		{"nil passthrough", nil, nil},
		{"empty string", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, jobs.MaybeParseJSON(tt.in))
		})
	}
}
