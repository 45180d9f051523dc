package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"teamsync/internal/metrics"
)

// State is the lifecycle position of a connection.
type State int32

const (
	StateConnected State = iota
	StateDisconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Connection is one live client socket as seen by the realtime core.
type Connection struct {
	id        string
	transport Transport
	share     *ShareCache
	logger    *zap.Logger

	outbox chan Message
	done   chan struct{}

	lastSeen atomic.Int64 // unix nanos of the last keepalive

	mu            sync.Mutex // guards state, principalID, stopKeepalive
	state         State
	principalID   string
	stopKeepalive func()
}

func newConnection(id string, t Transport, outboxSize int, logger *zap.Logger) *Connection {
	if outboxSize <= 0 {
		outboxSize = 64
	}
	c := &Connection{
		id:        id,
		transport: t,
		share:     NewShareCache(id),
		logger:    logger.With(zap.String("conn", id)),
		outbox:    make(chan Message, outboxSize),
		done:      make(chan struct{}),
	}
	c.lastSeen.Store(time.Now().UnixNano())
	go c.writeLoop()
	return c
}

// ID returns the opaque connection id assigned at handshake.
func (c *Connection) ID() string { return c.id }

// ShareCache returns the connection's operation share cache.
func (c *Connection) ShareCache() *ShareCache { return c.share }

// State reports the lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PrincipalID returns the authenticated principal, if any.
func (c *Connection) PrincipalID() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.principalID, c.principalID != ""
}

// SetPrincipal records the principal once the handshake authenticates. It
// fails with ErrConnectionClosing once teardown has begun, so the disconnect
// hook either sees the principal or the handshake learns it lost the race.
func (c *Connection) SetPrincipal(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return ErrConnectionClosing
	}
	c.principalID = id
	return nil
}

// SetKeepalive installs the function that stops this connection's keepalive timer.
func (c *Connection) SetKeepalive(stop func()) {
	c.mu.Lock()
	c.stopKeepalive = stop
	c.mu.Unlock()
}

// LastSeen returns the last keepalive timestamp.
func (c *Connection) LastSeen() time.Time { return time.Unix(0, c.lastSeen.Load()) }

func (c *Connection) touch(ts time.Time) { c.lastSeen.Store(ts.UnixNano()) }

// withState runs fn under the connection lock if the connection is still live.
func (c *Connection) withState(fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return ErrConnectionClosing
	}
	return fn()
}

// beginDisconnect moves CONNECTED -> DISCONNECTING. Only the first caller wins.
func (c *Connection) beginDisconnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return false
	}
	c.state = StateDisconnecting
	return true
}

// closeTransport stops the writer and closes the underlying transport.
func (c *Connection) closeTransport(code int) {
	close(c.done)
	if err := c.transport.Close(code, ""); err != nil {
		c.logger.Debug("transport close", zap.Error(err))
	}
}

func (c *Connection) stopTimers() {
	c.mu.Lock()
	stop := c.stopKeepalive
	c.stopKeepalive = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (c *Connection) finishDisconnect() {
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
}

// enqueue hands m to the writer without blocking.
func (c *Connection) enqueue(m Message) error {
	select {
	case <-c.done:
		return ErrConnectionClosing
	default:
	}
	select {
	case c.outbox <- m:
		return nil
	case <-c.done:
		return ErrConnectionClosing
	default:
		return ErrSlowConsumer
	}
}

// writeLoop drains the outbox in FIFO order until teardown.
// Messages still queued at teardown are discarded.
func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case m := <-c.outbox:
			if err := c.transport.Send(m); err != nil {
				metrics.Deliveries.WithLabelValues("failed").Inc()
				c.logger.Warn("delivery failed", zap.Error(&DeliveryError{ConnID: c.id, SubscriptionID: m.SubscriptionID, Err: err}))
			}
		}
	}
}
