package api

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/veilgate/veilgate/internal/actor"
	"github.com/veilgate/veilgate/internal/credential"
)

func newTestKeyPool(t *testing.T, keys ...string) *actor.Pool[*credential.ApiKey] {
	t.Helper()
	creds := make([]*credential.ApiKey, len(keys))
	for i, k := range keys {
		creds[i] = &credential.ApiKey{Key: k}
	}
	pool := actor.New[*credential.ApiKey](context.Background(), creds, 8, actor.Persister[*credential.ApiKey]{})
	t.Cleanup(pool.Close)
	return pool
}

func jsonResp(status int, body string) (*http.Response, error) {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(body)),
	}, nil
}

func TestDispatchSimpleSucceedsOnFirstAttempt(t *testing.T) {
	pool := newTestKeyPool(t, "key-1")
	calls := 0

	resp, err := dispatchSimple(context.Background(), pool, 3, 2, nil,
		func(ctx context.Context, k *credential.ApiKey) (*http.Response, error) {
			calls++
			return jsonResp(http.StatusOK, `{}`)
		})
	if err != nil {
		t.Fatalf("dispatchSimple: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call, got %d", calls)
	}
}

func TestDispatchSimpleRetriesOn429(t *testing.T) {
	pool := newTestKeyPool(t, "key-1")
	calls := 0

	_, err := dispatchSimple(context.Background(), pool, 3, 2, nil,
		func(ctx context.Context, k *credential.ApiKey) (*http.Response, error) {
			calls++
			if calls == 1 {
				return jsonResp(http.StatusTooManyRequests, `{"error":"rate limited"}`)
			}
			return jsonResp(http.StatusOK, `{}`)
		})
	if err != nil {
		t.Fatalf("dispatchSimple: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", calls)
	}
}

func TestDispatchSimplePropagatesNonRetryableImmediately(t *testing.T) {
	pool := newTestKeyPool(t, "key-1")
	calls := 0

	_, err := dispatchSimple(context.Background(), pool, 3, 2, nil,
		func(ctx context.Context, k *credential.ApiKey) (*http.Response, error) {
			calls++
			return jsonResp(http.StatusBadRequest, `{"error":"bad"}`)
		})
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != 1 {
		t.Fatalf("expected no retry on a non-retryable 400, got %d calls", calls)
	}
}

func TestDispatchSimpleExhaustsRetriesAndReturnsTooManyRetries(t *testing.T) {
	pool := newTestKeyPool(t, "key-1", "key-2")

	_, err := dispatchSimple(context.Background(), pool, 2, 2, nil,
		func(ctx context.Context, k *credential.ApiKey) (*http.Response, error) {
			return jsonResp(http.StatusInternalServerError, ``)
		})
	apiErr, ok := err.(*credential.Error)
	if !ok || apiErr.Kind != credential.TooManyRetries {
		t.Fatalf("expected TooManyRetries, got %v", err)
	}
}

func TestDispatchSimpleRetiresCredentialWhenForbiddenThresholdCrossed(t *testing.T) {
	pool := newTestKeyPool(t, "key-1")

	_, err := dispatchSimple(context.Background(), pool, 5, 2, nil,
		func(ctx context.Context, k *credential.ApiKey) (*http.Response, error) {
			return jsonResp(http.StatusForbidden, `{"error":"forbidden"}`)
		})
	if err == nil {
		t.Fatal("expected an error once the forbidden threshold is crossed")
	}

	status, statusErr := pool.GetStatus(context.Background())
	if statusErr != nil {
		t.Fatalf("GetStatus: %v", statusErr)
	}
	if len(status.Valid) != 0 {
		t.Fatalf("expected the credential to be retired out of the valid bucket, got %+v", status.Valid)
	}
}

func TestDispatchSimpleRetriesBelowForbiddenThreshold(t *testing.T) {
	pool := newTestKeyPool(t, "key-1")
	calls := 0

	_, err := dispatchSimple(context.Background(), pool, 3, 5, nil,
		func(ctx context.Context, k *credential.ApiKey) (*http.Response, error) {
			calls++
			if calls < 3 {
				return jsonResp(http.StatusForbidden, `{"error":"forbidden"}`)
			}
			return jsonResp(http.StatusOK, `{}`)
		})
	if err != nil {
		t.Fatalf("dispatchSimple: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts before success, got %d", calls)
	}
}

func TestDispatchSimpleEnsureFailureReturnsCredentialAndPropagates(t *testing.T) {
	pool := newTestKeyPool(t, "key-1")
	called := false

	_, err := dispatchSimple(context.Background(), pool, 3, 2,
		func(ctx context.Context, k *credential.ApiKey) error {
			return errTestEnsure
		},
		func(ctx context.Context, k *credential.ApiKey) (*http.Response, error) {
			called = true
			return jsonResp(http.StatusOK, `{}`)
		})
	if err != errTestEnsure {
		t.Fatalf("expected ensure's error to propagate, got %v", err)
	}
	if called {
		t.Fatal("expected call to never run once ensure fails")
	}

	status, statusErr := pool.GetStatus(context.Background())
	if statusErr != nil {
		t.Fatalf("GetStatus: %v", statusErr)
	}
	if len(status.Valid) != 1 {
		t.Fatalf("expected the credential to be returned to the valid bucket, got %+v", status)
	}
}

type testEnsureError struct{}

func (testEnsureError) Error() string { return "ensure failed" }

var errTestEnsure = testEnsureError{}
