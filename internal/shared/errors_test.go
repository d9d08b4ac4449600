package shared_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyflow/internal/shared"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want shared.Kind
	}{
		{"nil", nil, shared.KindUnknown},
		{"plain error", errors.New("boom"), shared.KindUnknown},
		{"cancelled sentinel", shared.ErrCancelled, shared.KindCancelled},
		{"context canceled", context.Canceled, shared.KindCancelled},
		{"wrapped context canceled", fmt.Errorf("poll: %w", context.Canceled), shared.KindCancelled},
		{"degraded", shared.ErrDegraded, shared.KindDegraded},
		{"deferred protocol", shared.ErrDeferredProtocol, shared.KindDeferredProtocol},
		{"job failed", fmt.Errorf("%w: timeout exceeded", shared.ErrJobFailed), shared.KindJobFailed},
		{"request failed", shared.ErrRequestFailed, shared.KindRequestFailed},
		{"transport", shared.ErrTransport, shared.KindTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shared.KindOf(tt.err))
		})
	}
}

func TestKindOf_CancellationOutranksFailure(t *testing.T) {
	err := errors.Join(
		shared.MarkKind(errors.New("job blew up"), shared.KindJobFailed),
		context.Canceled,
	)
	assert.Equal(t, shared.KindCancelled, shared.KindOf(err))
}

func TestMarkKind(t *testing.T) {
	base := errors.New("tcp reset")
	marked := shared.MarkKind(base, shared.KindTransport)

	require.Error(t, marked)
	assert.True(t, errors.Is(marked, shared.ErrTransport))
	assert.True(t, errors.Is(marked, base))
	assert.Equal(t, shared.KindTransport, shared.KindOf(marked))

	// Idempotent: marking again does not double-wrap.
	again := shared.MarkKind(marked, shared.KindTransport)
	assert.Equal(t, marked, again)
}

func TestMarkKind_NilError(t *testing.T) {
	assert.Equal(t, shared.ErrJobFailed, shared.MarkKind(nil, shared.KindJobFailed))
	assert.Nil(t, shared.MarkKind(nil, shared.KindUnknown))
}

func TestCancelledf(t *testing.T) {
	err := shared.Cancelledf(context.Canceled, "poll job %s", "job-1")

	assert.True(t, errors.Is(err, shared.ErrCancelled))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, shared.IsCancelled(err))
	assert.False(t, shared.IsJobFailed(err))
	assert.Contains(t, err.Error(), "job-1")
}

func TestCancelledDistinctFromJobFailed(t *testing.T) {
	cancelled := shared.Cancelledf(nil, "user abort")
	failed := shared.MarkKind(errors.New("timeout exceeded"), shared.KindJobFailed)

	assert.True(t, shared.IsCancelled(cancelled))
	assert.False(t, shared.IsCancelled(failed))
	assert.True(t, shared.IsJobFailed(failed))
	assert.False(t, shared.IsJobFailed(cancelled))
}

func TestWrap(t *testing.T) {
	base := errors.New("original")

	assert.Nil(t, shared.Wrap(nil, "ctx"))
	assert.Equal(t, base, shared.Wrap(base, ""))

	wrapped := shared.Wrap(base, "loading registry")
	assert.Equal(t, "loading registry: original", wrapped.Error())
	assert.True(t, errors.Is(wrapped, base))

	formatted := shared.Wrapf(base, "job %s", "j-9")
	assert.Equal(t, "job j-9: original", formatted.Error())
}
