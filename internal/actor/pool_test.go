package actor

import (
	"context"
	"testing"
	"time"

	"github.com/veilgate/veilgate/internal/credential"
)

type stubCred struct {
	key string
}

func (s stubCred) PrimaryKey() string { return s.key }
func (s stubCred) Redacted() string   { return "stub:" + s.key }

func TestRequestRoundRobinsThroughValidBucket(t *testing.T) {
	ctx := context.Background()
	p := New[stubCred](ctx, []stubCred{{key: "a"}, {key: "b"}}, 4, Persister[stubCred]{})
	defer p.Close()

	first, err := p.Request(ctx)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	second, err := p.Request(ctx)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if first.key != "a" || second.key != "b" {
		t.Fatalf("expected round robin a,b got %s,%s", first.key, second.key)
	}
	third, err := p.Request(ctx)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if third.key != "a" {
		t.Fatalf("expected wraparound to a, got %s", third.key)
	}
}

func TestRequestOnEmptyPoolReturnsNoCredentialAvailable(t *testing.T) {
	ctx := context.Background()
	p := New[stubCred](ctx, nil, 4, Persister[stubCred]{})
	defer p.Close()

	_, err := p.Request(ctx)
	if err == nil {
		t.Fatal("expected an error on an empty pool")
	}
	credErr, ok := err.(*credential.Error)
	if !ok || credErr.Kind != credential.NoCredentialAvailable {
		t.Fatalf("expected NoCredentialAvailable, got %v", err)
	}
}

func TestReturnWithTooManyRequestsMovesToExhausted(t *testing.T) {
	ctx := context.Background()
	p := New[stubCred](ctx, []stubCred{{key: "a"}}, 4, Persister[stubCred]{})
	defer p.Close()

	v, err := p.Request(ctx)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	p.Return(ctx, v, credential.Reason{Kind: credential.ReasonTooManyRequests, ResetAt: time.Now().Add(time.Hour)})

	status, err := p.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if len(status.Valid) != 0 || len(status.Exhausted) != 1 {
		t.Fatalf("expected 0 valid / 1 exhausted, got %d/%d", len(status.Valid), len(status.Exhausted))
	}

	if _, err := p.Request(ctx); err == nil {
		t.Fatal("expected NoCredentialAvailable while the only credential is exhausted")
	}
}

func TestReturnWithInvalidAuthMovesToInvalidBucket(t *testing.T) {
	ctx := context.Background()
	p := New[stubCred](ctx, []stubCred{{key: "a"}}, 4, Persister[stubCred]{})
	defer p.Close()

	v, _ := p.Request(ctx)
	p.Return(ctx, v, credential.Reason{Kind: credential.ReasonInvalidAuth})

	status, err := p.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if len(status.Invalid) != 1 {
		t.Fatalf("expected 1 invalid entry, got %d", len(status.Invalid))
	}
}

func TestSubmitIsIdempotentOnPrimaryKey(t *testing.T) {
	ctx := context.Background()
	p := New[stubCred](ctx, nil, 4, Persister[stubCred]{})
	defer p.Close()

	p.Submit(ctx, stubCred{key: "a"})
	p.Submit(ctx, stubCred{key: "a"})

	// drain the mailbox synchronously via a status round trip
	status, err := p.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if len(status.Valid) != 1 {
		t.Fatalf("expected exactly one valid entry after duplicate submits, got %d", len(status.Valid))
	}
}

func TestDeleteRemovesFromWhicheverBucketHoldsTheKey(t *testing.T) {
	ctx := context.Background()
	p := New[stubCred](ctx, []stubCred{{key: "a"}, {key: "b"}}, 4, Persister[stubCred]{})
	defer p.Close()

	if err := p.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := p.Delete(ctx, "a"); err == nil {
		t.Fatal("expected an error deleting an already-removed key")
	}

	status, err := p.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if len(status.Valid) != 1 || status.Valid[0].key != "b" {
		t.Fatalf("expected only b to remain, got %+v", status.Valid)
	}
}

func TestPersisterUpsertIsInvokedOnReturnAndSubmit(t *testing.T) {
	ctx := context.Background()
	calls := make(chan Entry[stubCred], 4)
	p := New[stubCred](ctx, nil, 4, Persister[stubCred]{
		Upsert: func(ctx context.Context, e Entry[stubCred]) error {
			calls <- e
			return nil
		},
	})
	defer p.Close()

	p.Submit(ctx, stubCred{key: "a"})

	select {
	case e := <-calls:
		if e.Value.key != "a" {
			t.Fatalf("expected persisted key a, got %s", e.Value.key)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for persister upsert")
	}
}
