package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/veilgate/veilgate/internal/actor"
	"github.com/veilgate/veilgate/internal/credential"
)

// simpleClassified mirrors orchestrator.classifyUpstreamError for the
// three credential families that carry no token lifecycle or feature
// probe state (ApiKey, CliToken, ServiceAccount): 429 and 5xx retry with
// a fresh lease, everything else propagates, per spec.md §4.6.
type simpleClassified struct {
	err         *credential.Error
	retryable   bool
	resetAtUnix int64
}

func classifySimple(status int, body []byte, header http.Header) simpleClassified {
	e := &credential.Error{Kind: credential.UpstreamHTTP, Status: status, Body: string(body)}
	switch {
	case status == http.StatusTooManyRequests:
		return simpleClassified{err: e, retryable: true, resetAtUnix: parseRetryAfterHeader(header)}
	case status >= 500:
		return simpleClassified{err: e, retryable: true}
	default:
		return simpleClassified{err: e, retryable: false}
	}
}

func parseRetryAfterHeader(header http.Header) int64 {
	raw := header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return time.Now().Add(time.Duration(seconds) * time.Second).Unix()
}

// dispatchSimple runs the lease/ensure/dispatch/classify/return loop for
// the three credential families whose upstream clients need nothing more
// than a bearer/key header (spec.md §4.6, minus the WebCookie-specific
// feature probe and anti-truncation machinery internal/orchestrator
// exercises). A 403 increments the credential's count_403 counter
// in-place; crossing forbiddenThreshold retires it with ReasonForbidden
// per spec.md §3 invariant 4, otherwise it is returned to the valid
// bucket and the attempt is retried with a fresh lease.
func dispatchSimple[T credential.Forbiddable](
	ctx context.Context,
	pool *actor.Pool[T],
	maxAttempts, forbiddenThreshold int,
	ensure func(context.Context, T) error,
	call func(context.Context, T) (*http.Response, error),
) (*http.Response, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		cred, err := pool.Request(ctx)
		if err != nil {
			return nil, err
		}

		if ensure != nil {
			if err := ensure(ctx, cred); err != nil {
				pool.Return(ctx, cred, credential.Reason{Kind: credential.ReasonNull})
				return nil, err
			}
		}

		resp, dispatchErr := call(ctx, cred)
		if dispatchErr != nil {
			pool.Return(ctx, cred, credential.Reason{Kind: credential.ReasonOther, Message: dispatchErr.Error()})
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			pool.Return(ctx, cred, credential.Reason{Kind: credential.ReasonNull})
			return resp, nil
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusForbidden {
			count := cred.BumpForbidden()
			pool.Update(ctx, cred)
			if forbiddenThreshold > 0 && int(count) >= forbiddenThreshold {
				pool.Return(ctx, cred, credential.Reason{Kind: credential.ReasonForbidden})
				return nil, &credential.Error{Kind: credential.UpstreamHTTP, Status: resp.StatusCode, Body: string(body)}
			}
			pool.Return(ctx, cred, credential.Reason{Kind: credential.ReasonNull})
			continue
		}

		classified := classifySimple(resp.StatusCode, body, resp.Header)
		if !classified.retryable {
			pool.Return(ctx, cred, credential.Reason{Kind: credential.ReasonNull})
			return nil, classified.err
		}
		pool.Return(ctx, cred, classified.err.ToReason(classified.resetAtUnix))
	}

	return nil, &credential.Error{Kind: credential.TooManyRetries}
}
