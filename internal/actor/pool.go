// Package actor implements the credential pool engine (spec component
// C4): each pool is a single goroutine owning its bucket state, reached
// only through a bounded channel, translating the original's ractor
// Actor/ActorRef/RpcReplyPort pattern (services/cli_token_actor.rs,
// services/vertex_actor.rs) into Go's channel-actor idiom.
package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/veilgate/veilgate/internal/credential"
)

// Entry pairs a credential value with the reason it last left the valid
// bucket. Reason.Kind == ReasonNull or ReasonNormalPristine for entries
// currently in the valid bucket.
type Entry[T credential.Credential] struct {
	Value  T
	Reason credential.Reason
}

// Persister is injected by the caller so this package never depends on
// the storage layer directly; a nil Persister makes every persistence
// call a no-op, matching storage.Enabled() == false.
type Persister[T credential.Credential] struct {
	Upsert func(ctx context.Context, entry Entry[T]) error
	Delete func(ctx context.Context, key string) error
}

// Status is the snapshot returned by GetStatus, grounded on the
// original's *StatusInfo report() helpers.
type Status[T credential.Credential] struct {
	Valid     []T
	Exhausted []Entry[T]
	Invalid   []Entry[T]
}

type requestMsg[T credential.Credential] struct {
	reply chan requestResult[T]
}

type requestResult[T credential.Credential] struct {
	value T
	err   error
}

type returnMsg[T credential.Credential] struct {
	value  T
	reason credential.Reason
}

type submitMsg[T credential.Credential] struct {
	value T
}

type deleteMsg[T credential.Credential] struct {
	key   string
	reply chan error
}

type statusMsg[T credential.Credential] struct {
	reply chan Status[T]
}

type updateMsg[T credential.Credential] struct {
	value T
}

type sweepMsg struct{}

// Pool is a single credential pool actor. Zero value is not usable;
// construct with New.
type Pool[T credential.Credential] struct {
	mailbox   chan any
	persister Persister[T]

	valid     []T
	exhausted []Entry[T]
	invalid   []Entry[T]

	stop chan struct{}
}

// New starts the pool's owning goroutine with the given initial valid
// entries and channel capacity (spec.md PoolChannelCapacity, default 64).
func New[T credential.Credential](ctx context.Context, initial []T, capacity int, persister Persister[T]) *Pool[T] {
	if capacity <= 0 {
		capacity = 64
	}
	p := &Pool[T]{
		mailbox:   make(chan any, capacity),
		persister: persister,
		valid:     append([]T(nil), initial...),
		stop:      make(chan struct{}),
	}
	go p.run(ctx)
	go p.sweepLoop(ctx)
	return p
}

func (p *Pool[T]) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case msg := <-p.mailbox:
			p.handle(ctx, msg)
		}
	}
}

// sweepLoop periodically promotes exhausted entries whose ResetAt has
// passed back to the valid bucket, matching the reconciler's cooldown
// sweep described in spec.md §4.8.
func (p *Pool[T]) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			select {
			case p.mailbox <- sweepMsg{}:
			default:
			}
		}
	}
}

// Close stops the pool's goroutines. In-flight requests already queued
// on the mailbox are processed before shutdown takes effect.
func (p *Pool[T]) Close() { close(p.stop) }

func (p *Pool[T]) handle(ctx context.Context, raw any) {
	switch msg := raw.(type) {
	case requestMsg[T]:
		v, err := p.dispatch()
		msg.reply <- requestResult[T]{value: v, err: err}
	case returnMsg[T]:
		p.collect(ctx, msg.value, msg.reason)
	case submitMsg[T]:
		p.accept(ctx, msg.value)
	case deleteMsg[T]:
		msg.reply <- p.remove(ctx, msg.key)
	case statusMsg[T]:
		msg.reply <- p.report()
	case updateMsg[T]:
		p.update(msg.value)
	case sweepMsg:
		p.sweep(ctx)
	}
}

// dispatch implements round-robin leasing: promote any exhausted entry
// whose cooldown has elapsed, then pop the front of the valid queue and
// push it to the back, matching the original's dispatch(). Per spec.md
// §4.3, cooldown promotion happens on every Request, not only on the
// periodic sweep tick — the tick exists so a pool that is never
// requested still eventually drains its exhausted bucket.
func (p *Pool[T]) dispatch() (T, error) {
	p.promoteExpiredCooldowns()
	var zero T
	if len(p.valid) == 0 {
		return zero, &credential.Error{Kind: credential.NoCredentialAvailable}
	}
	v := p.valid[0]
	p.valid = append(p.valid[1:], v)
	return v, nil
}

func (p *Pool[T]) promoteExpiredCooldowns() {
	if len(p.exhausted) == 0 {
		return
	}
	now := time.Now()
	var remaining []Entry[T]
	for _, e := range p.exhausted {
		if e.Reason.Kind == credential.ReasonTooManyRequests && !now.Before(e.Reason.ResetAt) {
			p.valid = append(p.valid, e.Value)
			continue
		}
		remaining = append(remaining, e)
	}
	p.exhausted = remaining
}

func (p *Pool[T]) collect(ctx context.Context, v T, reason credential.Reason) {
	p.removeFromAllBuckets(v.PrimaryKey())
	switch reason.Bucket() {
	case credential.BucketValid:
		p.valid = append(p.valid, v)
	case credential.BucketExhausted:
		p.exhausted = append(p.exhausted, Entry[T]{Value: v, Reason: reason})
	default:
		p.invalid = append(p.invalid, Entry[T]{Value: v, Reason: reason})
	}
	p.persist(ctx, Entry[T]{Value: v, Reason: reason})
}

func (p *Pool[T]) accept(ctx context.Context, v T) {
	if p.contains(v.PrimaryKey()) {
		return
	}
	p.valid = append(p.valid, v)
	p.persist(ctx, Entry[T]{Value: v})
}

func (p *Pool[T]) update(v T) {
	key := v.PrimaryKey()
	for i, e := range p.valid {
		if e.PrimaryKey() == key {
			p.valid[i] = v
			return
		}
	}
	for i, e := range p.exhausted {
		if e.Value.PrimaryKey() == key {
			p.exhausted[i].Value = v
			return
		}
	}
	for i, e := range p.invalid {
		if e.Value.PrimaryKey() == key {
			p.invalid[i].Value = v
			return
		}
	}
}

func (p *Pool[T]) remove(ctx context.Context, key string) error {
	if !p.removeFromAllBuckets(key) {
		return &credential.Error{Kind: credential.UnexpectedNone, Message: fmt.Sprintf("credential %s not found", key)}
	}
	if p.persister.Delete != nil {
		go func() {
			if err := p.persister.Delete(ctx, key); err != nil {
				// the actor goroutine must never block on persistence; failures
				// are surfaced through the storage layer's own status/metrics.
				_ = err
			}
		}()
	}
	return nil
}

func (p *Pool[T]) report() Status[T] {
	return Status[T]{
		Valid:     append([]T(nil), p.valid...),
		Exhausted: append([]Entry[T](nil), p.exhausted...),
		Invalid:   append([]Entry[T](nil), p.invalid...),
	}
}

// sweep promotes exhausted entries whose cooldown has elapsed back to
// the valid bucket.
func (p *Pool[T]) sweep(ctx context.Context) {
	now := time.Now()
	var remaining []Entry[T]
	for _, e := range p.exhausted {
		if e.Reason.Kind == credential.ReasonTooManyRequests && !now.Before(e.Reason.ResetAt) {
			p.valid = append(p.valid, e.Value)
			p.persist(ctx, Entry[T]{Value: e.Value})
			continue
		}
		remaining = append(remaining, e)
	}
	p.exhausted = remaining
}

func (p *Pool[T]) contains(key string) bool {
	for _, v := range p.valid {
		if v.PrimaryKey() == key {
			return true
		}
	}
	for _, e := range p.exhausted {
		if e.Value.PrimaryKey() == key {
			return true
		}
	}
	for _, e := range p.invalid {
		if e.Value.PrimaryKey() == key {
			return true
		}
	}
	return false
}

func (p *Pool[T]) removeFromAllBuckets(key string) bool {
	found := false
	if idx := indexByKey(p.valid, key); idx >= 0 {
		p.valid = append(p.valid[:idx], p.valid[idx+1:]...)
		found = true
	}
	if idx := indexByEntryKey(p.exhausted, key); idx >= 0 {
		p.exhausted = append(p.exhausted[:idx], p.exhausted[idx+1:]...)
		found = true
	}
	if idx := indexByEntryKey(p.invalid, key); idx >= 0 {
		p.invalid = append(p.invalid[:idx], p.invalid[idx+1:]...)
		found = true
	}
	return found
}

func (p *Pool[T]) persist(ctx context.Context, entry Entry[T]) {
	if p.persister.Upsert == nil {
		return
	}
	go func() {
		if err := p.persister.Upsert(ctx, entry); err != nil {
			_ = err
		}
	}()
}

func indexByKey[T credential.Credential](s []T, key string) int {
	for i, v := range s {
		if v.PrimaryKey() == key {
			return i
		}
	}
	return -1
}

func indexByEntryKey[T credential.Credential](s []Entry[T], key string) int {
	for i, e := range s {
		if e.Value.PrimaryKey() == key {
			return i
		}
	}
	return -1
}

// Request leases the next credential in round-robin order.
func (p *Pool[T]) Request(ctx context.Context) (T, error) {
	reply := make(chan requestResult[T], 1)
	select {
	case p.mailbox <- requestMsg[T]{reply: reply}:
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.value, res.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Return hands a credential back with the outcome of its last dispatch.
func (p *Pool[T]) Return(ctx context.Context, v T, reason credential.Reason) {
	select {
	case p.mailbox <- returnMsg[T]{value: v, reason: reason}:
	case <-ctx.Done():
	}
}

// Submit adds a brand-new credential to the pool (idempotent on primary key).
func (p *Pool[T]) Submit(ctx context.Context, v T) {
	select {
	case p.mailbox <- submitMsg[T]{value: v}:
	case <-ctx.Done():
	}
}

// Update replaces the stored value for a credential already present in
// any bucket, without changing its bucket membership (e.g. bumping
// Count403 or refreshing an OAuth token in place).
func (p *Pool[T]) Update(ctx context.Context, v T) {
	select {
	case p.mailbox <- updateMsg[T]{value: v}:
	case <-ctx.Done():
	}
}

// Delete removes a credential by primary key from whichever bucket holds it.
func (p *Pool[T]) Delete(ctx context.Context, key string) error {
	reply := make(chan error, 1)
	select {
	case p.mailbox <- deleteMsg[T]{key: key, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetStatus returns a snapshot of every bucket.
func (p *Pool[T]) GetStatus(ctx context.Context) (Status[T], error) {
	reply := make(chan Status[T], 1)
	select {
	case p.mailbox <- statusMsg[T]{reply: reply}:
	case <-ctx.Done():
		return Status[T]{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Status[T]{}, ctx.Err()
	}
}
