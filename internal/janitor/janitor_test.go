package janitor_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyflow/internal/janitor"
	"studyflow/internal/jobs"
	"studyflow/internal/registry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewRejectsBadSchedule(t *testing.T) {
	store, err := registry.NewSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	reg := registry.New(store, discardLogger())

	_, err = janitor.New(reg, "not a schedule", time.Hour, discardLogger())
	assert.Error(t, err)
}

func TestSweepRemovesAgedTerminalEntries(t *testing.T) {
	ctx := context.Background()
	store, err := registry.NewSQLiteStore(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	reg := registry.New(store, discardLogger(),
		registry.WithNow(func() time.Time { return clock }))

	reg.Upsert(ctx, "u1", registry.Entry{JobID: "job-done", Status: jobs.StatusCompleted})
	reg.Upsert(ctx, "u1", registry.Entry{JobID: "job-live", Status: jobs.StatusRunning})
	clock = base.Add(72 * time.Hour)

	j, err := janitor.New(reg, "@every 1h", 24*time.Hour, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, int64(1), j.Sweep(ctx))

	entries := reg.List(ctx, "u1")
	require.Len(t, entries, 1)
	assert.Equal(t, "job-live", entries[0].JobID)
}

func TestStartStopIdempotent(t *testing.T) {
	store, err := registry.NewSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	reg := registry.New(store, discardLogger())

	j, err := janitor.New(reg, "@every 1h", time.Hour, discardLogger())
	require.NoError(t, err)

	j.Start()
	j.Start()
	j.Stop()
	j.Stop()
}
