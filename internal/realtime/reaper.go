package realtime

import (
	"strconv"
	"time"

	"go.uber.org/zap"

	"teamsync/internal/metrics"
)

// DisconnectHook is told that an authenticated principal's connection went away.
type DisconnectHook func(connID, principalID string)

// Reaper tears down a connection: subscriptions, shared operations, presence,
// transport and keepalive, then removes it from the registry.
type Reaper struct {
	registry *Registry
	index    *TopicIndex
	hook     DisconnectHook
	logger   *zap.Logger
}

// NewReaper returns a reaper. hook may be nil.
func NewReaper(registry *Registry, index *TopicIndex, hook DisconnectHook, logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{registry: registry, index: index, hook: hook, logger: logger}
}

// OnDisconnect runs the teardown sequence for connID. Only the first call for a
// connection does anything; later calls, and calls for unknown ids, return false.
func (r *Reaper) OnDisconnect(connID string, exitCode int) bool {
	conn, err := r.registry.Lookup(connID)
	if err != nil {
		return false
	}
	if !conn.beginDisconnect() {
		return false
	}
	n := r.index.UnsubscribeAll(connID)
	conn.share.Drop()
	if principal, ok := conn.PrincipalID(); ok && r.hook != nil {
		r.hook(connID, principal)
	}
	conn.closeTransport(exitCode)
	conn.stopTimers()
	conn.finishDisconnect()
	r.registry.Remove(connID)

	metrics.Disconnects.WithLabelValues(strconv.Itoa(exitCode)).Inc()
	r.logger.Debug("connection reaped", zap.String("conn", connID), zap.Int("code", exitCode), zap.Int("subscriptions", n))
	return true
}

// Sweeper periodically disconnects connections that missed their keepalive.
type Sweeper struct {
	Registry *Registry
	Reaper   *Reaper
	Interval time.Duration
	Timeout  time.Duration
	Stop     chan struct{}

	now func() time.Time
}

// NewSweeper builds a sweeper; call Start to run it.
func NewSweeper(registry *Registry, reaper *Reaper, interval, timeout time.Duration) *Sweeper {
	return &Sweeper{Registry: registry, Reaper: reaper, Interval: interval, Timeout: timeout, Stop: make(chan struct{}), now: time.Now}
}

func (s *Sweeper) Start() {
	go func() {
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.Stop:
				return
			case <-ticker.C:
				s.sweepOnce()
			}
		}
	}()
}

func (s *Sweeper) sweepOnce() int {
	n := 0
	for _, id := range s.Registry.Stale(s.now().Add(-s.Timeout)) {
		if s.Reaper.OnDisconnect(id, CloseGoingAway) {
			n++
		}
	}
	return n
}
