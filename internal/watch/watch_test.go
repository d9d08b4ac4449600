package watch_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyflow/internal/jobs"
	"studyflow/internal/platform/httpclient"
	"studyflow/internal/push"
	"studyflow/internal/registry"
	"studyflow/internal/shared"
	"studyflow/internal/watch"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func immediateAfter(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

type fixture struct {
	watcher  *watch.Watcher
	registry *registry.Registry
	store    *registry.SQLiteStore
	http     *httpclient.Client
}

func newFixture(t *testing.T, baseURL string, opts ...watch.WatcherOption) *fixture {
	t.Helper()
	store, err := registry.NewSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := registry.New(store, discardLogger())
	h := httpclient.New(httpclient.WithLogger(discardLogger()))
	jc := jobs.NewClient(h, baseURL,
		jobs.WithLogger(discardLogger()), jobs.WithAfter(immediateAfter))

	opts = append([]watch.WatcherOption{watch.WithLogger(discardLogger())}, opts...)
	return &fixture{
		watcher:  watch.New(jc, reg, opts...),
		registry: reg,
		store:    store,
		http:     h,
	}
}

// jobServer defers every POST and plays back the given status bodies in
// order, repeating the last one.
func jobServer(t *testing.T, jobID string, states ...string) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var polls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("POST /op", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprintf(w, `{"jobId":%q}`, jobID)
	})
	mux.HandleFunc("GET /jobs/"+jobID, func(w http.ResponseWriter, r *http.Request) {
		n := int(polls.Add(1)) - 1
		if n >= len(states) {
			n = len(states) - 1
		}
		io.WriteString(w, states[n])
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &polls
}

func TestSubmitAndResolveImmediate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"ok":true}`)
	}))
	t.Cleanup(srv.Close)
	f := newFixture(t, srv.URL)

	var done int
	res, err := f.watcher.SubmitAndResolve(context.Background(), "u1",
		watch.Operation(f.http, srv.URL+"/op", nil),
		watch.SubmitOptions{OnDone: func(watch.Done) { done++ }})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Nil(t, res.Job)
	assert.Equal(t, true, res.Payload["ok"])

	assert.Zero(t, done, "immediate responses do not produce a job completion")
	assert.Empty(t, f.registry.List(context.Background(), "u1"))
}

func TestSubmitAndResolveDeferred(t *testing.T) {
	srv, _ := jobServer(t, "job-1",
		`{"status":"running"}`,
		`{"status":"completed","result":{"overviewTopics":["a"]}}`)
	f := newFixture(t, srv.URL)

	var dones []watch.Done
	res, err := f.watcher.SubmitAndResolve(context.Background(), "u1",
		watch.Operation(f.http, srv.URL+"/op", map[string]any{"title": "Algebra"}),
		watch.SubmitOptions{
			CourseTitle: "Algebra",
			OnDone:      func(d watch.Done) { dones = append(dones, d) },
		})
	require.NoError(t, err)
	require.NotNil(t, res.Job)
	assert.Equal(t, "job-1", res.Job.JobID)
	assert.Equal(t, jobs.StatusCompleted, res.Job.Status)

	require.Len(t, dones, 1)
	d := dones[0]
	assert.Equal(t, "u1", d.UserID)
	assert.Equal(t, "job-1", d.JobID)
	assert.Equal(t, jobs.StatusCompleted, d.Status)
	assert.NoError(t, d.Err)
	result, ok := d.Result.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, result, "overviewTopics")

	assert.Empty(t, f.registry.List(context.Background(), "u1"),
		"delivered completions leave no registry entry behind")
}

func TestSubmitAndResolveFailedJob(t *testing.T) {
	srv, _ := jobServer(t, "job-1", `{"status":"failed","error":"timeout exceeded"}`)
	f := newFixture(t, srv.URL)

	var dones []watch.Done
	_, err := f.watcher.SubmitAndResolve(context.Background(), "u1",
		watch.Operation(f.http, srv.URL+"/op", nil),
		watch.SubmitOptions{OnDone: func(d watch.Done) { dones = append(dones, d) }})
	require.Error(t, err)
	assert.True(t, shared.IsJobFailed(err))
	assert.Contains(t, err.Error(), "timeout exceeded")

	require.Len(t, dones, 1)
	assert.Equal(t, jobs.StatusFailed, dones[0].Status)
	assert.Error(t, dones[0].Err)
	assert.Empty(t, f.registry.List(context.Background(), "u1"))
}

func TestSubmitAndResolveCancelKeepsEntry(t *testing.T) {
	srv, polls := jobServer(t, "job-1", `{"status":"running"}`)

	store, err := registry.NewSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	reg := registry.New(store, discardLogger())

	blocked := make(chan time.Time)
	h := httpclient.New(httpclient.WithLogger(discardLogger()))
	jc := jobs.NewClient(h, srv.URL,
		jobs.WithLogger(discardLogger()),
		jobs.WithAfter(func(time.Duration) <-chan time.Time { return blocked }))
	w := watch.New(jc, reg, watch.WithLogger(discardLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := w.SubmitAndResolve(ctx, "u1",
			watch.Operation(h, srv.URL+"/op", nil), watch.SubmitOptions{})
		errCh <- err
	}()

	require.Eventually(t, func() bool { return polls.Load() >= 1 },
		2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.True(t, shared.IsCancelled(err))
	case <-time.After(2 * time.Second):
		t.Fatal("submit did not return after cancel")
	}

	entries := reg.List(context.Background(), "u1")
	require.Len(t, entries, 1, "cancelled jobs stay registered for resume")
	assert.Equal(t, "job-1", entries[0].JobID)
}

func TestResumeUser(t *testing.T) {
	srv, _ := jobServer(t, "job-live", `{"status":"completed","result":"done"}`)
	f := newFixture(t, srv.URL)
	ctx := context.Background()

	f.registry.Upsert(ctx, "u1", registry.Entry{
		JobID:     "job-live",
		Status:    jobs.StatusRunning,
		StatusURL: srv.URL + "/jobs/job-live",
	})
	f.registry.Upsert(ctx, "u1", registry.Entry{
		JobID:  "job-stale",
		Status: jobs.StatusCompleted,
	})

	dones := make(chan watch.Done, 4)
	resumed := f.watcher.ResumeUser(ctx, "u1", watch.ResumeOptions{
		OnDone: func(d watch.Done) { dones <- d },
	})
	assert.Equal(t, 1, resumed, "terminal entries are not resumed")

	select {
	case d := <-dones:
		assert.Equal(t, "job-live", d.JobID)
		assert.Equal(t, jobs.StatusCompleted, d.Status)
		assert.Equal(t, "done", d.Result)
	case <-time.After(2 * time.Second):
		t.Fatal("resumed job never completed")
	}

	require.Eventually(t, func() bool {
		return len(f.registry.List(ctx, "u1")) == 0
	}, 2*time.Second, 10*time.Millisecond, "stale and completed entries are removed")
}

// sessionTransport is an in-memory push transport for session tests.
type sessionTransport struct {
	mu   sync.Mutex
	subs map[string]func(push.Event)
}

func newSessionTransport() *sessionTransport {
	return &sessionTransport{subs: make(map[string]func(push.Event))}
}

func (t *sessionTransport) Subscribe(topic string, deliver func(push.Event), dropped func(error)) (io.Closer, error) {
	t.mu.Lock()
	t.subs[topic] = deliver
	t.mu.Unlock()
	return io.NopCloser(nil), nil
}

func (t *sessionTransport) publish(topic string, ev push.Event) {
	t.mu.Lock()
	deliver := t.subs[topic]
	t.mu.Unlock()
	if deliver != nil {
		ev.Topic = topic
		deliver(ev)
	}
}

func (t *sessionTransport) waitSubscribed(topic string) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		t.mu.Lock()
		_, ok := t.subs[topic]
		t.mu.Unlock()
		if ok {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestSessionDispatch(t *testing.T) {
	srv, _ := jobServer(t, "unused", `{"status":"running"}`)
	tr := newSessionTransport()
	f := newFixture(t, srv.URL, watch.WithTransport(tr))
	ctx := context.Background()

	jobEvents := make(chan push.JobEvent, 4)
	courses := make(chan push.CourseEvent, 4)
	messages := make(chan push.MessageEvent, 4)
	sess, err := f.watcher.WatchUser("u1", watch.Callbacks{
		OnJob:     func(je push.JobEvent) { jobEvents <- je },
		OnCourse:  func(ce push.CourseEvent) { courses <- ce },
		OnMessage: func(me push.MessageEvent) { messages <- me },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	require.True(t, tr.waitSubscribed(push.Topic("u1", "jobs")))
	require.True(t, tr.waitSubscribed(push.Topic("u1", "messages")))

	tr.publish(push.Topic("u1", "jobs"), push.Event{
		Type: push.EventJobProgress,
		Data: []byte(`{"jobId":"job-1","status":"running","progress":40}`),
	})
	tr.publish(push.Topic("u1", "courses"), push.Event{
		Type: push.EventCourseCreated,
		Data: []byte(`{"courseId":"c-1","title":"Algebra"}`),
	})
	tr.publish(push.Topic("u1", "messages"), push.Event{
		Type: push.EventMessageCreated,
		Data: []byte(`{"messageId":"m-1","text":"hello"}`),
	})

	select {
	case je := <-jobEvents:
		assert.Equal(t, "job-1", je.JobID)
		assert.Equal(t, 40, je.Progress)
	case <-time.After(2 * time.Second):
		t.Fatal("job event not delivered")
	}
	select {
	case ce := <-courses:
		assert.Equal(t, "Algebra", ce.Title)
	case <-time.After(2 * time.Second):
		t.Fatal("course event not delivered")
	}
	select {
	case me := <-messages:
		assert.Equal(t, "hello", me.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("message event not delivered")
	}

	// Non-terminal job events update the registry.
	require.Eventually(t, func() bool {
		entries := f.registry.List(ctx, "u1")
		return len(entries) == 1 && entries[0].Status == jobs.StatusRunning
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPushAndPollDeliverExactlyOnce(t *testing.T) {
	srv, _ := jobServer(t, "job-1",
		`{"status":"completed","result":{"ok":true}}`)
	tr := newSessionTransport()
	f := newFixture(t, srv.URL, watch.WithTransport(tr))

	pushDones := make(chan watch.Done, 4)
	sess, err := f.watcher.WatchUser("u1", watch.Callbacks{
		OnJobDone: func(d watch.Done) { pushDones <- d },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	require.True(t, tr.waitSubscribed(push.Topic("u1", "jobs")))

	// Push wins the race before polling even starts.
	tr.publish(push.Topic("u1", "jobs"), push.Event{
		Type: push.EventJobUpdated,
		Data: []byte(`{"jobId":"job-1","status":"completed","result":{"ok":true}}`),
	})

	select {
	case d := <-pushDones:
		assert.Equal(t, "job-1", d.JobID)
		assert.Equal(t, jobs.StatusCompleted, d.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("push completion not delivered")
	}

	var pollDones int
	res, err := f.watcher.SubmitAndResolve(context.Background(), "u1",
		watch.Operation(f.http, srv.URL+"/op", nil),
		watch.SubmitOptions{OnDone: func(watch.Done) { pollDones++ }})
	require.NoError(t, err)
	require.NotNil(t, res.Job)
	assert.Equal(t, jobs.StatusCompleted, res.Job.Status)

	assert.Zero(t, pollDones, "poll must not repeat a completion push already delivered")
	assert.Empty(t, pushDones)
	assert.Empty(t, f.registry.List(context.Background(), "u1"))
}

func TestWatchUserWithoutTransport(t *testing.T) {
	srv, _ := jobServer(t, "unused", `{"status":"running"}`)
	f := newFixture(t, srv.URL)

	_, err := f.watcher.WatchUser("u1", watch.Callbacks{})
	assert.Error(t, err)
}
