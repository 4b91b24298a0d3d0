package credential

import (
	"fmt"
	"time"
)

// Error is the request-path error taxonomy returned by the orchestrator and
// classified into an HTTP response and a credential Reason (spec.md §7).
type Error struct {
	Kind    ErrorKind
	Status  int    // set for UpstreamHTTP
	Body    string // set for UpstreamHTTP
	Family  Family
	Cause   error
	Message string
}

type ErrorKind int

const (
	// NoCredentialAvailable means every credential in the pool is exhausted
	// or invalid; retry later.
	NoCredentialAvailable ErrorKind = iota
	// UnexpectedNone means an actor reply channel closed without a value,
	// indicating the actor goroutine died; this is always a bug.
	UnexpectedNone
	// BadRequest means the inbound request itself was malformed.
	BadRequest
	// InvalidAuth means the caller's own proxy-facing credential was rejected.
	InvalidAuth
	// TooManyRetries means every retry attempt (spec C7 MaxRetries+1) failed.
	TooManyRetries
	// TestMessage marks a synthetic probe request (C6), never surfaced to a
	// real caller.
	TestMessage
	// UpstreamHTTP wraps a non-2xx response from the upstream API.
	UpstreamHTTP
	// DatabaseError wraps a storage-layer failure.
	DatabaseError
	// Transient marks a retryable network/IO failure.
	Transient
	// EmptyResponse means the upstream closed the connection with no body.
	EmptyResponse
)

func (k ErrorKind) String() string {
	switch k {
	case NoCredentialAvailable:
		return "no_credential_available"
	case UnexpectedNone:
		return "unexpected_none"
	case BadRequest:
		return "bad_request"
	case InvalidAuth:
		return "invalid_auth"
	case TooManyRetries:
		return "too_many_retries"
	case TestMessage:
		return "test_message"
	case UpstreamHTTP:
		return "upstream_http"
	case DatabaseError:
		return "database_error"
	case Transient:
		return "transient"
	case EmptyResponse:
		return "empty_response"
	default:
		return "unknown"
	}
}

func (e *Error) Error() string {
	switch e.Kind {
	case UpstreamHTTP:
		return fmt.Sprintf("upstream_http: status=%d family=%s body=%s", e.Status, e.Family, truncate(e.Body, 200))
	case DatabaseError:
		return fmt.Sprintf("database_error: %s: %v", e.Message, e.Cause)
	default:
		if e.Message != "" {
			return fmt.Sprintf("%s: %s", e.Kind, e.Message)
		}
		if e.Cause != nil {
			return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
		}
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus maps the error to the status code the inbound gin handler
// should write, matching the original's IntoResponse impl for ClewdrError.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case BadRequest, InvalidAuth:
		return 400
	case NoCredentialAvailable, TooManyRetries:
		return 429
	case UpstreamHTTP:
		if e.Status != 0 {
			return e.Status
		}
		return 502
	case DatabaseError, UnexpectedNone:
		return 500
	case Transient, EmptyResponse:
		return 502
	default:
		return 500
	}
}

// ToReason classifies an upstream failure into the Reason its credential
// should be returned with, grounded on the original's dispatch-time
// match-on-status-code logic in services/*_actor.rs.
func (e *Error) ToReason(resetAt int64) Reason {
	switch e.Kind {
	case UpstreamHTTP:
		switch e.Status {
		case 401:
			return Reason{Kind: ReasonInvalidAuth}
		case 403:
			return Reason{Kind: ReasonForbidden}
		case 429:
			var reset time.Time
			if resetAt > 0 {
				reset = time.Unix(resetAt, 0)
			}
			return Reason{Kind: ReasonTooManyRequests, ResetAt: reset}
		default:
			return Reason{Kind: ReasonOther, Message: fmt.Sprintf("upstream status %d", e.Status)}
		}
	case InvalidAuth:
		return Reason{Kind: ReasonInvalidAuth}
	default:
		return Reason{Kind: ReasonNull}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
