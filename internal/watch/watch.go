// Package watch orchestrates job lifecycles end to end: it submits
// operations, persists deferred job references for resume, listens for
// push events, and reconciles the polling and push paths so every job
// produces exactly one completion.
package watch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"studyflow/internal/jobs"
	"studyflow/internal/platform/httpclient"
	"studyflow/internal/push"
	"studyflow/internal/reconcile"
	"studyflow/internal/registry"
	"studyflow/internal/shared"
)

// Done is the single, reconciled completion of a job.
type Done struct {
	UserID string
	JobID  string
	Source reconcile.Source
	Status string
	Result any
	Err    error
}

// Watcher ties the job client, the registry, and push delivery
// together. Transport may be nil, in which case WatchUser sessions
// cannot be opened and completion relies on polling alone.
type Watcher struct {
	jobs      *jobs.Client
	registry  *registry.Registry
	transport push.Transport
	rec       *reconcile.Reconciler
	log       *slog.Logger

	channelOpts []push.ChannelOption
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets the watcher logger.
func WithLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// WithTransport enables push delivery.
func WithTransport(t push.Transport) WatcherOption {
	return func(w *Watcher) { w.transport = t }
}

// WithChannelOptions passes options to every push channel the watcher
// opens (tests inject timers this way).
func WithChannelOptions(opts ...push.ChannelOption) WatcherOption {
	return func(w *Watcher) { w.channelOpts = opts }
}

// New creates a watcher.
func New(jc *jobs.Client, reg *registry.Registry, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		jobs:     jc,
		registry: reg,
		rec:      reconcile.New(),
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Operation builds a RequestFunc that POSTs a JSON payload with an
// Idempotency-Key header, so a retried submission cannot start the
// same backend job twice. The key is fixed when the operation is built.
func Operation(h *httpclient.Client, url string, payload any) jobs.RequestFunc {
	key := uuid.NewString()
	return func(ctx context.Context) (int, []byte, error) {
		return h.PostJSONWithHeaders(ctx, url, payload, map[string]string{
			"Idempotency-Key": key,
		})
	}
}

// SubmitOptions configures SubmitAndResolve.
type SubmitOptions struct {
	CourseID    string
	CourseTitle string
	// OnUpdate receives every observed poll state.
	OnUpdate func(jobs.State)
	// OnDone receives the reconciled completion. It is not called when
	// push already resolved the job, nor on cancellation.
	OnDone func(Done)
}

// SubmitAndResolve submits an operation for a user and drives it to
// completion. Deferred jobs are registered for resume the moment the
// backend acknowledges them and deregistered once their completion has
// been delivered. On cancellation the registry entry is kept so
// ResumeUser can pick the job up later.
func (w *Watcher) SubmitAndResolve(ctx context.Context, userID string, fn jobs.RequestFunc, opts SubmitOptions) (*jobs.Resolution, error) {
	var jobID string
	res, err := w.jobs.Submit(ctx, fn, jobs.SubmitOptions{
		OnDeferred: func(ref jobs.Reference) {
			jobID = ref.JobID
			e := registry.FromReference(userID, ref)
			e.StatusURL = w.jobs.StatusURL(ref.JobID)
			e.CourseID = opts.CourseID
			e.CourseTitle = opts.CourseTitle
			w.registry.Upsert(ctx, userID, e)
		},
		Poll: jobs.PollOptions{
			OnUpdate: func(st jobs.State) {
				if !st.Terminal() && st.Status != "" {
					w.registry.Upsert(ctx, userID, registry.Entry{JobID: jobID, Status: st.Status})
				}
				if opts.OnUpdate != nil {
					opts.OnUpdate(st)
				}
			},
		},
	})

	switch {
	case err == nil && res != nil && res.Job != nil:
		w.finish(ctx, Done{
			UserID: userID,
			JobID:  jobID,
			Source: reconcile.SourcePoll,
			Status: res.Job.Status,
			Result: res.Result,
		}, opts.OnDone)
	case err != nil && shared.IsJobFailed(err) && jobID != "":
		w.finish(ctx, Done{
			UserID: userID,
			JobID:  jobID,
			Source: reconcile.SourcePoll,
			Status: jobs.StatusFailed,
			Err:    err,
		}, opts.OnDone)
	}
	return res, err
}

// ResumeOptions configures ResumeUser.
type ResumeOptions struct {
	OnUpdate func(jobID string, st jobs.State)
	OnDone   func(Done)
}

// ResumeUser restarts polling for every in-flight job the registry
// holds for the user, each in its own goroutine. Entries already
// terminal are removed rather than resumed. Returns the number of jobs
// resumed.
func (w *Watcher) ResumeUser(ctx context.Context, userID string, opts ResumeOptions) int {
	entries := w.registry.List(ctx, userID)
	resumed := 0
	for _, e := range entries {
		if e.Terminal() {
			w.registry.Remove(ctx, userID, e.JobID)
			continue
		}
		resumed++
		go w.resumeOne(ctx, userID, e, opts)
	}
	if resumed > 0 {
		w.log.Info("resuming jobs", slog.String("user_id", userID), slog.Int("count", resumed))
	}
	return resumed
}

func (w *Watcher) resumeOne(ctx context.Context, userID string, e registry.Entry, opts ResumeOptions) {
	state, err := w.jobs.Poll(ctx, e.JobID, jobs.PollOptions{
		StatusURL: e.StatusURL,
		OnUpdate: func(st jobs.State) {
			if !st.Terminal() && st.Status != "" {
				w.registry.Upsert(ctx, userID, registry.Entry{JobID: e.JobID, Status: st.Status})
			}
			if opts.OnUpdate != nil {
				opts.OnUpdate(e.JobID, st)
			}
		},
	})
	if shared.IsCancelled(err) {
		return
	}

	d := Done{UserID: userID, JobID: e.JobID, Source: reconcile.SourcePoll, Err: err}
	switch {
	case err == nil && state != nil:
		d.Status = state.Status
		d.Result = state.Result
	default:
		d.Status = jobs.StatusFailed
	}
	w.finish(ctx, d, opts.OnDone)
}

// finish routes a terminal observation through the reconciler. Only
// the winning source delivers the callback, but both deregister the
// job: the losing path may have re-registered it after the winner
// cleaned up.
func (w *Watcher) finish(ctx context.Context, d Done, onDone func(Done)) {
	won := w.rec.Resolve(d.JobID, d.Source, func() {
		if onDone != nil {
			onDone(d)
		}
	})
	if !won {
		w.log.Debug("duplicate completion suppressed",
			slog.String("job_id", d.JobID), slog.String("source", string(d.Source)))
	}
	w.registry.Remove(ctx, d.UserID, d.JobID)
}

// handleJobEvent processes a pushed job event for a user. Terminal
// events go through the reconciler like poll results do.
func (w *Watcher) handleJobEvent(userID string, ev push.Event, cb *Callbacks) {
	je, err := ev.Job()
	if err != nil || je.JobID == "" {
		w.log.Warn("unusable job event",
			slog.String("topic", ev.Topic), slog.Any("error", err))
		return
	}
	if cb != nil && cb.OnJob != nil {
		cb.OnJob(je)
	}

	status := strings.ToLower(strings.TrimSpace(je.Status))
	failed := status == jobs.StatusFailed || je.Error != ""
	completed := status == jobs.StatusCompleted

	ctx := context.Background()
	if !failed && !completed {
		if status != "" {
			w.registry.Upsert(ctx, userID, registry.Entry{JobID: je.JobID, Status: status})
		}
		return
	}

	d := Done{UserID: userID, JobID: je.JobID, Source: reconcile.SourcePush}
	if failed {
		msg := je.Error
		if msg == "" {
			msg = "Job failed."
		}
		d.Status = jobs.StatusFailed
		d.Err = shared.MarkKind(errors.New(msg), shared.KindJobFailed)
	} else {
		d.Status = jobs.StatusCompleted
		if len(je.Result) > 0 {
			var result any
			if err := json.Unmarshal(je.Result, &result); err == nil {
				d.Result = jobs.MaybeParseJSON(result)
			}
		}
	}
	var onDone func(Done)
	if cb != nil {
		onDone = cb.OnJobDone
	}
	w.finish(ctx, d, onDone)
}
