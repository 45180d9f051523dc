package realtime

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"teamsync/internal/metrics"
)

const shardCount = 32

func shardOf(key string) uint64 { return xxhash.Sum64String(key) % shardCount }

// Registry tracks live connections. It is sharded so that teardown of one
// connection never contends with lookups of unrelated ones.
type Registry struct {
	shards [shardCount]registryShard
}

type registryShard struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].conns = map[string]*Connection{}
	}
	return r
}

func (r *Registry) shard(id string) *registryShard { return &r.shards[shardOf(id)] }

// Register adds a live connection.
func (r *Registry) Register(c *Connection) error {
	sh := r.shard(c.id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.conns[c.id]; ok {
		return ErrDuplicateConnection
	}
	sh.conns[c.id] = c
	metrics.Connections.Inc()
	return nil
}

// Lookup returns the connection or ErrNotFound.
func (r *Registry) Lookup(id string) (*Connection, error) {
	sh := r.shard(id)
	sh.mu.RLock()
	c, ok := sh.conns[id]
	sh.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// MarkAlive records a keepalive for id at ts.
func (r *Registry) MarkAlive(id string, ts time.Time) error {
	c, err := r.Lookup(id)
	if err != nil {
		return err
	}
	c.touch(ts)
	return nil
}

// Remove deletes id and reports whether anything was removed.
func (r *Registry) Remove(id string) bool {
	sh := r.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.conns[id]; !ok {
		return false
	}
	delete(sh.conns, id)
	metrics.Connections.Dec()
	return true
}

// Stale lists connected ids whose last keepalive is before cutoff.
func (r *Registry) Stale(cutoff time.Time) []string {
	var out []string
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		for id, c := range sh.conns {
			if c.LastSeen().Before(cutoff) && c.State() == StateConnected {
				out = append(out, id)
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		n += len(sh.conns)
		sh.mu.RUnlock()
	}
	return n
}
