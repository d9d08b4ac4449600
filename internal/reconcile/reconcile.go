// Package reconcile arbitrates between the two paths that can observe a
// job's terminal state, polling and push. Whichever path reports first
// wins; the loser's report is discarded so completion handlers run
// exactly once per job.
package reconcile

import "sync"

// Source names the path that observed a terminal state.
type Source string

const (
	SourcePoll Source = "poll"
	SourcePush Source = "push"
)

// Reconciler tracks which jobs have already been resolved.
type Reconciler struct {
	mu      sync.Mutex
	winners map[string]Source
}

// New creates an empty reconciler.
func New() *Reconciler {
	return &Reconciler{winners: make(map[string]Source)}
}

// Resolve claims the terminal state of jobID for src and, on success,
// runs fn. Returns false without calling fn when another source already
// claimed the job. fn runs outside the lock, so a slow handler does not
// block claims for other jobs.
func (r *Reconciler) Resolve(jobID string, src Source, fn func()) bool {
	if jobID == "" {
		return false
	}
	r.mu.Lock()
	if _, done := r.winners[jobID]; done {
		r.mu.Unlock()
		return false
	}
	r.winners[jobID] = src
	r.mu.Unlock()

	if fn != nil {
		fn()
	}
	return true
}

// Resolved reports whether jobID has been claimed and by which source.
func (r *Reconciler) Resolved(jobID string) (Source, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	src, ok := r.winners[jobID]
	return src, ok
}

// Forget drops the record for jobID so its id can be reused. Callers
// do this after the completion handler has fully run.
func (r *Reconciler) Forget(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.winners, jobID)
}
