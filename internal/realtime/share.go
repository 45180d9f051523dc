package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"

	"teamsync/internal/metrics"
)

// ShareCache owns the operation scopes of one connection. It is never
// shared across connections.
type ShareCache struct {
	connID string

	mu      sync.Mutex
	ops     map[string]*Operation
	dropped bool
}

// NewShareCache returns the share cache for connID. Detached callers (plain
// HTTP requests) get their own cache per request.
func NewShareCache(connID string) *ShareCache {
	return &ShareCache{connID: connID, ops: map[string]*Operation{}}
}

// Begin opens the scope of one inbound request. The scope's context is
// derived from ctx and is cancelled by End or Drop.
func (s *ShareCache) Begin(ctx context.Context) (*Operation, error) {
	op, ok := s.begin(ctx)
	if !ok {
		return nil, ErrOperationDropped
	}
	return op, nil
}

// begin always returns a usable scope. It reports false when the cache was
// already dropped; that scope is cancelled at once.
func (s *ShareCache) begin(ctx context.Context) (*Operation, bool) {
	octx, cancel := context.WithCancelCause(ctx)
	op := &Operation{
		id:     ulid.Make().String(),
		cache:  s,
		ctx:    octx,
		cancel: cancel,
		done:   map[string]any{},
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropped {
		cancel(ErrOperationDropped)
		return op, false
	}
	s.ops[op.id] = op
	return op, true
}

// Drop cancels every open scope. In-flight producers run to completion but
// their results are discarded. Calling Drop again is a no-op.
func (s *ShareCache) Drop() {
	s.mu.Lock()
	if s.dropped {
		s.mu.Unlock()
		return
	}
	s.dropped = true
	ops := s.ops
	s.ops = map[string]*Operation{}
	s.mu.Unlock()
	for _, op := range ops {
		op.cancel(ErrOperationDropped)
	}
}

// Active returns the number of open scopes.
func (s *ShareCache) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops)
}

func (s *ShareCache) release(id string) {
	s.mu.Lock()
	delete(s.ops, id)
	s.mu.Unlock()
}

// Operation is the correlation unit of one inbound request: it carries the
// operation id attached to publishes and memoises reads by fingerprint.
type Operation struct {
	id     string
	cache  *ShareCache
	ctx    context.Context
	cancel context.CancelCauseFunc
	group  singleflight.Group

	mu    sync.Mutex
	done  map[string]any
	ended bool
}

// ID returns the operation id.
func (op *Operation) ID() string { return op.id }

// Context is cancelled when the operation ends or its connection drops.
func (op *Operation) Context() context.Context { return op.ctx }

// Get returns a completed result for fp.
func (op *Operation) Get(fp string) (any, bool) {
	op.mu.Lock()
	defer op.mu.Unlock()
	v, ok := op.done[fp]
	return v, ok
}

// Compute returns the result for fp, invoking produce at most once per
// fingerprint while the scope is open. Concurrent callers wait for the
// in-flight call and observe the same value or the same error. Errors are
// not memoised, so a later independent attempt runs produce again.
// A caller whose ctx is cancelled stops waiting without affecting others.
func (op *Operation) Compute(ctx context.Context, fp string, produce func(ctx context.Context) (any, error)) (any, error) {
	if v, ok := op.Get(fp); ok {
		metrics.ShareLookups.WithLabelValues("hit").Inc()
		return v, nil
	}
	if op.ctx.Err() != nil {
		return nil, context.Cause(op.ctx)
	}
	ch := op.group.DoChan(fp, func() (any, error) {
		if v, ok := op.Get(fp); ok {
			return v, nil
		}
		v, err := safeProduce(op.ctx, produce)
		if err != nil {
			return nil, err
		}
		op.mu.Lock()
		defer op.mu.Unlock()
		if op.ctx.Err() != nil {
			return nil, context.Cause(op.ctx)
		}
		op.done[fp] = v
		return v, nil
	})
	select {
	case r := <-ch:
		switch {
		case r.Err != nil:
			metrics.ShareLookups.WithLabelValues("failed").Inc()
			return nil, r.Err
		case r.Shared:
			metrics.ShareLookups.WithLabelValues("shared").Inc()
		default:
			metrics.ShareLookups.WithLabelValues("miss").Inc()
		}
		return r.Val, nil
	case <-op.ctx.Done():
		return nil, context.Cause(op.ctx)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// safeProduce turns a panic in produce into ErrProducerPanic for every waiter.
func safeProduce(ctx context.Context, produce func(ctx context.Context) (any, error)) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("%w: %v", ErrProducerPanic, r)
		}
	}()
	return produce(ctx)
}

// End closes the scope and clears its cache. Safe to call more than once.
func (op *Operation) End() {
	op.mu.Lock()
	if op.ended {
		op.mu.Unlock()
		return
	}
	op.ended = true
	clear(op.done)
	op.mu.Unlock()
	op.cancel(ErrOperationEnded)
	op.cache.release(op.id)
}

// Compute is the typed form of Operation.Compute.
func Compute[T any](ctx context.Context, op *Operation, fp string, produce func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	v, err := op.Compute(ctx, fp, func(ctx context.Context) (any, error) { return produce(ctx) })
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("realtime: shared result for %q is %T", fp, v)
	}
	return t, nil
}
