// Package shared contains the error taxonomy used across the job
// orchestration layer.
package shared

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for the failure modes of asynchronous operations.
var (
	// ErrTransport indicates a network-level failure reaching the backend.
	ErrTransport = errors.New("transport failure")

	// ErrRequestFailed indicates the backend answered with a non-success
	// status that carries no job reference.
	ErrRequestFailed = errors.New("request failed")

	// ErrDeferredProtocol indicates a job-shaped response with no
	// extractable job identifier. Polling is impossible without one.
	ErrDeferredProtocol = errors.New("deferred response without job id")

	// ErrJobFailed indicates a job reached a terminal failed state.
	ErrJobFailed = errors.New("job failed")

	// ErrDegraded indicates the backend reported asynchronous processing
	// as temporarily disabled.
	ErrDegraded = errors.New("service degraded")

	// ErrCancelled indicates a caller-initiated abort. It is deliberately
	// distinct from ErrJobFailed so UIs can skip the error toast.
	ErrCancelled = errors.New("cancelled")
)

// Kind classifies an error for handling decisions.
type Kind int

const (
	// KindUnknown represents an unclassified error.
	KindUnknown Kind = iota
	// KindCancelled represents caller-initiated cancellation.
	KindCancelled
	// KindDegraded represents the degraded-processing mode.
	KindDegraded
	// KindDeferredProtocol represents a malformed deferred response.
	KindDeferredProtocol
	// KindJobFailed represents a terminally failed job.
	KindJobFailed
	// KindRequestFailed represents a non-success backend response.
	KindRequestFailed
	// KindTransport represents a network-level failure.
	KindTransport
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindCancelled:
		return "Cancelled"
	case KindDegraded:
		return "Degraded"
	case KindDeferredProtocol:
		return "DeferredProtocol"
	case KindJobFailed:
		return "JobFailed"
	case KindRequestFailed:
		return "RequestFailed"
	case KindTransport:
		return "Transport"
	default:
		return "Unknown"
	}
}

var kindToSentinel = map[Kind]error{
	KindCancelled:        ErrCancelled,
	KindDegraded:         ErrDegraded,
	KindDeferredProtocol: ErrDeferredProtocol,
	KindJobFailed:        ErrJobFailed,
	KindRequestFailed:    ErrRequestFailed,
	KindTransport:        ErrTransport,
}

// kindPriorities fixes the classification order for joined or multiply
// wrapped errors. Cancellation outranks everything: a poll aborted while
// a job was failing is still a cancellation to the caller.
var kindPriorities = []Kind{
	KindCancelled,
	KindDegraded,
	KindDeferredProtocol,
	KindJobFailed,
	KindRequestFailed,
	KindTransport,
}

// KindOf returns the Kind of err by checking the error chain against the
// known sentinels in priority order. Returns KindUnknown for
// unrecognized errors and nil.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, k := range kindPriorities {
		if k == KindCancelled && IsCancelled(err) {
			return KindCancelled
		}
		if errors.Is(err, kindToSentinel[k]) {
			return k
		}
	}
	return KindUnknown
}

// SentinelOf returns the sentinel error for the given Kind, or nil for
// KindUnknown.
func SentinelOf(kind Kind) error {
	return kindToSentinel[kind]
}

// MarkKind wraps err with the sentinel for kind, preserving the original
// error through the chain. Both KindOf(MarkKind(err, k)) == k and
// errors.Is(MarkKind(err, k), err) hold. Idempotent: an error that
// already has the kind is returned unchanged.
func MarkKind(err error, kind Kind) error {
	if err == nil {
		return SentinelOf(kind)
	}
	sentinel := SentinelOf(kind)
	if sentinel == nil {
		return err
	}
	if KindOf(err) == kind {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Wrap wraps an error with additional context, formatting as
// "context: err". Returns nil for a nil error.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	if context == "" {
		return err
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// Cancelledf builds a cancellation error that satisfies both
// errors.Is(err, ErrCancelled) and errors.Is(err, cause), so callers can
// match either the domain sentinel or context.Canceled.
func Cancelledf(cause error, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if cause == nil {
		cause = context.Canceled
	}
	return fmt.Errorf("%w: %s: %w", ErrCancelled, msg, cause)
}

// IsCancelled reports whether err represents a deliberate abort, either
// via the domain sentinel or a cancelled context.
func IsCancelled(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// IsJobFailed reports whether err represents a terminally failed job.
func IsJobFailed(err error) bool {
	return errors.Is(err, ErrJobFailed)
}

// IsDegraded reports whether err represents degraded async processing.
func IsDegraded(err error) bool {
	return errors.Is(err, ErrDegraded)
}

// IsDeferredProtocol reports whether err represents a deferred response
// that could not be resolved to a job identifier.
func IsDeferredProtocol(err error) bool {
	return errors.Is(err, ErrDeferredProtocol)
}

// IsTransport reports whether err represents a network-level failure.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsRequestFailed reports whether err represents a non-success backend
// response.
func IsRequestFailed(err error) bool {
	return errors.Is(err, ErrRequestFailed)
}
