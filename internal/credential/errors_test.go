package credential

import "testing"

func TestErrorHTTPStatus(t *testing.T) {
	cases := []struct {
		err  *Error
		want int
	}{
		{&Error{Kind: BadRequest}, 400},
		{&Error{Kind: InvalidAuth}, 400},
		{&Error{Kind: NoCredentialAvailable}, 429},
		{&Error{Kind: TooManyRetries}, 429},
		{&Error{Kind: UpstreamHTTP, Status: 503}, 503},
		{&Error{Kind: UpstreamHTTP}, 502},
		{&Error{Kind: DatabaseError}, 500},
		{&Error{Kind: Transient}, 502},
		{&Error{Kind: EmptyResponse}, 502},
	}
	for _, c := range cases {
		if got := c.err.HTTPStatus(); got != c.want {
			t.Errorf("%v.HTTPStatus() = %d, want %d", c.err.Kind, got, c.want)
		}
	}
}

func TestErrorToReasonClassifiesUpstreamStatus(t *testing.T) {
	cases := []struct {
		status int
		want   ReasonKind
	}{
		{401, ReasonInvalidAuth},
		{403, ReasonForbidden},
		{429, ReasonTooManyRequests},
		{500, ReasonOther},
	}
	for _, c := range cases {
		e := &Error{Kind: UpstreamHTTP, Status: c.status}
		if got := e.ToReason(0).Kind; got != c.want {
			t.Errorf("status %d: ToReason().Kind = %v, want %v", c.status, got, c.want)
		}
	}
}

func TestErrorToReasonCarriesResetTimestamp(t *testing.T) {
	e := &Error{Kind: UpstreamHTTP, Status: 429}
	r := e.ToReason(1_700_000_000)
	if r.Kind != ReasonTooManyRequests {
		t.Fatalf("expected ReasonTooManyRequests, got %v", r.Kind)
	}
	if r.ResetAt.Unix() != 1_700_000_000 {
		t.Fatalf("ResetAt = %v, want unix 1700000000", r.ResetAt)
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := &Error{Kind: Transient, Message: "dial tcp: timeout"}
	wrapped := &Error{Kind: DatabaseError, Cause: cause, Message: "persist_cookie_upsert"}
	if wrapped.Unwrap() != cause {
		t.Fatal("Unwrap must return the wrapped cause for errors.Is/As support")
	}
}
