// Package registry keeps a durable, per-user list of in-flight job
// references so watching can resume across restarts.
//
// Entries are advisory: losing the registry never loses backend-side
// job progress, only the ability to resume watching it locally. For the
// same reason no registry operation returns an error: storage failures
// are logged and degrade to an empty or no-op result.
package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"studyflow/internal/jobs"
)

// Entry is a persisted job reference scoped to a user.
type Entry struct {
	UserID      string    `json:"userId"`
	JobID       string    `json:"jobId"`
	StatusURL   string    `json:"statusUrl,omitempty"`
	CourseID    string    `json:"courseId,omitempty"`
	CourseTitle string    `json:"courseTitle,omitempty"`
	Status      string    `json:"status,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// FromReference builds an entry from a job reference.
func FromReference(userID string, ref jobs.Reference) Entry {
	return Entry{
		UserID:      userID,
		JobID:       ref.JobID,
		StatusURL:   ref.StatusURL,
		CourseID:    ref.CourseID,
		CourseTitle: ref.CourseTitle,
		Status:      ref.Status,
		CreatedAt:   ref.CreatedAt,
	}
}

// Terminal reports whether the entry's last known status is terminal.
func (e Entry) Terminal() bool {
	return e.Status == jobs.StatusCompleted || e.Status == jobs.StatusFailed
}

// Registry is the policy layer over a Store.
type Registry struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithNow overrides the clock (tests).
func WithNow(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates a registry over the given store.
func New(store Store, log *slog.Logger, opts ...RegistryOption) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{store: store, log: log, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// List returns the user's entries, oldest submission first. Stored rows
// that fail to decode or lack a job id are dropped and deleted from the
// store, defensive repair against partially-corrupt storage. An empty
// userID returns nil.
func (r *Registry) List(ctx context.Context, userID string) []Entry {
	if userID == "" {
		return nil
	}
	rows, err := r.store.List(ctx, userID)
	if err != nil {
		r.log.Warn("registry list failed", slog.String("user_id", userID), slog.Any("error", err))
		return nil
	}

	entries := make([]Entry, 0, len(rows))
	var broken []string
	for _, row := range rows {
		var e Entry
		if err := json.Unmarshal(row.Payload, &e); err != nil || e.JobID == "" {
			broken = append(broken, row.JobID)
			continue
		}
		e.UserID = userID
		entries = append(entries, e)
	}

	for _, jobID := range broken {
		if err := r.store.Delete(ctx, userID, jobID); err != nil {
			r.log.Warn("registry repair failed",
				slog.String("user_id", userID), slog.String("job_id", jobID), slog.Any("error", err))
		}
	}
	if len(broken) > 0 {
		r.log.Info("registry repaired",
			slog.String("user_id", userID), slog.Int("dropped", len(broken)))
	}
	return entries
}

// Upsert merges the entry into the user's list by job id. On update the
// original CreatedAt is preserved (it denotes submission time, not
// last-touched time) and fields the new entry leaves empty keep their
// stored values. Empty userID or JobID is a no-op.
func (r *Registry) Upsert(ctx context.Context, userID string, e Entry) {
	if userID == "" || e.JobID == "" {
		return
	}
	e.UserID = userID

	prev, err := r.store.Get(ctx, userID, e.JobID)
	if err != nil {
		r.log.Warn("registry read failed",
			slog.String("user_id", userID), slog.String("job_id", e.JobID), slog.Any("error", err))
		prev = nil
	}
	if prev != nil {
		var old Entry
		if err := json.Unmarshal(prev.Payload, &old); err == nil {
			if !old.CreatedAt.IsZero() {
				e.CreatedAt = old.CreatedAt
			}
			if e.StatusURL == "" {
				e.StatusURL = old.StatusURL
			}
			if e.CourseID == "" {
				e.CourseID = old.CourseID
			}
			if e.CourseTitle == "" {
				e.CourseTitle = old.CourseTitle
			}
			if e.Status == "" {
				e.Status = old.Status
			}
		}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}
	e.UpdatedAt = r.now()

	payload, err := json.Marshal(e)
	if err != nil {
		r.log.Warn("registry encode failed", slog.String("job_id", e.JobID), slog.Any("error", err))
		return
	}
	row := Row{
		UserID:    userID,
		JobID:     e.JobID,
		Status:    e.Status,
		Payload:   payload,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
	if err := r.store.Put(ctx, row); err != nil {
		r.log.Warn("registry write failed",
			slog.String("user_id", userID), slog.String("job_id", e.JobID), slog.Any("error", err))
	}
}

// Remove deletes an entry by identity. Empty userID is a no-op.
func (r *Registry) Remove(ctx context.Context, userID, jobID string) {
	if userID == "" || jobID == "" {
		return
	}
	if err := r.store.Delete(ctx, userID, jobID); err != nil {
		r.log.Warn("registry delete failed",
			slog.String("user_id", userID), slog.String("job_id", jobID), slog.Any("error", err))
	}
}

// Prune removes terminal entries not touched within the retention
// window, across all users. Returns the number removed.
func (r *Registry) Prune(ctx context.Context, retention time.Duration) int64 {
	cutoff := r.now().Add(-retention)
	n, err := r.store.Prune(ctx, []string{jobs.StatusCompleted, jobs.StatusFailed}, cutoff)
	if err != nil {
		r.log.Warn("registry prune failed", slog.Any("error", err))
		return 0
	}
	if n > 0 {
		r.log.Info("registry pruned", slog.Int64("removed", n))
	}
	return n
}
