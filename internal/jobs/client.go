// Package jobs submits long-running operations to the backend and
// drives deferred responses to a terminal state.
//
// An operation either completes synchronously (the response body is the
// result) or is deferred: the backend answers with a job identifier and
// the client polls GET /jobs/{id} on a fixed schedule until the job
// completes, fails, or the caller cancels.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"studyflow/internal/platform/httpclient"
	"studyflow/internal/shared"
	"studyflow/pkg/backoff"
)

// RequestFunc performs the operation's network call and returns the
// HTTP status and raw response body.
type RequestFunc func(ctx context.Context) (status int, body []byte, err error)

// PollOptions configures a poll loop.
type PollOptions struct {
	// StatusURL overrides the default /jobs/{id} endpoint.
	StatusURL string
	// OnUpdate is invoked with every observed job state, terminal ones
	// included, for progress UI.
	OnUpdate func(State)
}

// SubmitOptions configures Submit.
type SubmitOptions struct {
	Poll PollOptions
	// OnDeferred is invoked with the job reference before polling
	// begins, so callers can persist it for resume.
	OnDeferred func(Reference)
}

// Resolution is the outcome of a submitted operation. Job is nil for
// immediate responses; Result is set only when a deferred job
// completed.
type Resolution struct {
	Payload map[string]any
	Job     *Reference
	Result  any
}

// Client submits operations and polls deferred jobs.
type Client struct {
	http     *httpclient.Client
	baseURL  string
	schedule backoff.Schedule
	waiter   backoff.Waiter
	log      *slog.Logger
	now      func() time.Time
}

// Option configures Client.
type Option func(*Client)

// WithSchedule overrides the poll delay schedule.
func WithSchedule(s backoff.Schedule) Option {
	return func(c *Client) {
		if len(s) > 0 {
			c.schedule = s
		}
	}
}

// WithAfter overrides timer creation in waits (tests).
func WithAfter(after func(time.Duration) <-chan time.Time) Option {
	return func(c *Client) { c.waiter.After = after }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithNow overrides the clock (tests).
func WithNow(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient creates a job client against the backend base URL.
func NewClient(h *httpclient.Client, baseURL string, opts ...Option) *Client {
	c := &Client{
		http:     h,
		baseURL:  strings.TrimRight(baseURL, "/"),
		schedule: backoff.Poll,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// StatusURL returns the default status endpoint for a job.
func (c *Client) StatusURL(jobID string) string {
	return c.baseURL + "/jobs/" + url.PathEscape(jobID)
}

// Submit performs the operation via fn and resolves it to a final
// result, transparently polling when the response is deferred.
func (c *Client) Submit(ctx context.Context, fn RequestFunc, opts SubmitOptions) (*Resolution, error) {
	status, body, err := fn(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, shared.Cancelledf(ctx.Err(), "submit")
		}
		return nil, shared.MarkKind(err, shared.KindTransport)
	}

	out, err := ResolveAsyncResponse(status, body)
	if err != nil {
		return nil, err
	}
	if !out.Deferred() {
		return &Resolution{Payload: out.Payload}, nil
	}

	ref := Reference{JobID: out.JobID, Status: StatusQueued, CreatedAt: c.now()}
	if opts.OnDeferred != nil {
		opts.OnDeferred(ref)
	}

	state, err := c.Poll(ctx, out.JobID, opts.Poll)
	if err != nil {
		return nil, err
	}
	ref.Status = state.Status
	return &Resolution{Job: &ref, Result: state.Result}, nil
}

// Poll repeatedly queries job status until a terminal state. Status
// queries are strictly sequential; a transport error during polling is
// not distinguished from a slow job and simply yields to the next
// scheduled attempt, while a non-2xx response is a hard failure
// surfaced immediately.
//
// On terminal failure the returned error carries the extracted failure
// message and the final state is returned alongside it. Cancelling ctx
// aborts the in-flight fetch and any pending wait with a
// shared.ErrCancelled error.
func (c *Client) Poll(ctx context.Context, jobID string, opts PollOptions) (*State, error) {
	if jobID == "" {
		return nil, shared.MarkKind(errors.New("empty job id"), shared.KindDeferredProtocol)
	}
	statusURL := opts.StatusURL
	if statusURL == "" {
		statusURL = c.StatusURL(jobID)
	}

	for attempt := 1; ; attempt++ {
		state, terminal, err := c.fetchState(ctx, jobID, statusURL, opts.OnUpdate)
		if err != nil || terminal {
			return state, err
		}
		if err := c.waiter.Wait(ctx, c.schedule.Delay(attempt)); err != nil {
			return nil, shared.Cancelledf(err, "poll job %s", jobID)
		}
	}
}

// fetchState performs one status query. terminal is true when polling
// must stop with the returned state.
func (c *Client) fetchState(ctx context.Context, jobID, statusURL string, onUpdate func(State)) (*State, bool, error) {
	status, body, err := c.http.GetJSON(ctx, statusURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, true, shared.Cancelledf(ctx.Err(), "poll job %s", jobID)
		}
		c.log.Warn("job status fetch failed",
			slog.String("job_id", jobID), slog.Any("error", err))
		return nil, false, nil
	}
	if status < 200 || status > 299 {
		msg := extractErrorMessage(parseObject(body))
		if msg == "" {
			msg = "status request failed"
		}
		return nil, true, shared.MarkKind(
			shared.Wrapf(errors.New(msg), "job %s: status %d", jobID, status),
			shared.KindRequestFailed)
	}

	var state State
	if err := json.Unmarshal(body, &state); err != nil {
		// A malformed body from a healthy endpoint: treat like a slow
		// job and try again on schedule.
		c.log.Warn("malformed job state",
			slog.String("job_id", jobID), slog.Any("error", err))
		return nil, false, nil
	}

	if onUpdate != nil {
		onUpdate(state)
	}
	if state.Failed() {
		return &state, true, shared.MarkKind(errors.New(state.FailureMessage()), shared.KindJobFailed)
	}
	if state.Succeeded() {
		state.Result = MaybeParseJSON(state.Result)
		return &state, true, nil
	}
	return &state, false, nil
}
