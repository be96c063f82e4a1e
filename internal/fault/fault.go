// Package fault defines the error taxonomy shared by every Tidal layer.
// Faults carry a machine-readable kind plus the scope they occurred in so
// transports can map them to status codes and clients can branch on them.
package fault

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a fault.
type Kind string

const (
	ValidationFailed  Kind = "validation_failed"
	RateLimitExceeded Kind = "rate_limit_exceeded"
	QuotaExceeded     Kind = "quota_exceeded"
	CapacityExceeded  Kind = "capacity_exceeded"
	CursorExpired     Kind = "cursor_expired"
	TenantSuspended   Kind = "tenant_suspended"
	Unauthorized      Kind = "unauthorized"
	NotFound          Kind = "not_found"
	Unavailable       Kind = "unavailable"
	Internal          Kind = "internal"
)

// Fault is a classified error with optional scope attached.
type Fault struct {
	Kind    Kind
	Message string

	// Scope of the failure, set where known.
	Tenant  string
	Project string
	Topic   string

	// Seq is the offset involved, if any.
	Seq uint64

	// EarliestSeq is populated on CursorExpired faults: the oldest offset
	// still retained, so the client can resume from there.
	EarliestSeq uint64

	// RetryAfter is populated on RateLimitExceeded faults.
	RetryAfter time.Duration

	cause error
}

func (f *Fault) Error() string {
	if f.Message != "" {
		return fmt.Sprintf("%s: %s", f.Kind, f.Message)
	}
	return string(f.Kind)
}

func (f *Fault) Unwrap() error { return f.cause }

// New creates a fault of the given kind.
func New(kind Kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(err error, kind Kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...), cause: err}
}

// WithScope returns f with tenant/project/topic scope attached.
func (f *Fault) WithScope(tenant, project, topic string) *Fault {
	f.Tenant, f.Project, f.Topic = tenant, project, topic
	return f
}

// WithSeq returns f with the offset involved.
func (f *Fault) WithSeq(seq uint64) *Fault {
	f.Seq = seq
	return f
}

// WithEarliest returns f carrying the oldest retained offset.
func (f *Fault) WithEarliest(seq uint64) *Fault {
	f.EarliestSeq = seq
	return f
}

// WithRetryAfter returns f carrying the interval after which a retry may
// succeed.
func (f *Fault) WithRetryAfter(d time.Duration) *Fault {
	f.RetryAfter = d
	return f
}

// KindOf extracts the Kind from err, or Internal if err carries no fault.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return Internal
}

// Is reports whether err is a fault of the given kind.
func Is(err error, kind Kind) bool {
	var f *Fault
	return errors.As(err, &f) && f.Kind == kind
}

// AsFault extracts the *Fault from err, if any.
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	ok := errors.As(err, &f)
	return f, ok
}
