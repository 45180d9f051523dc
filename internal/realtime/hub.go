package realtime

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options configures a Hub.
type Options struct {
	OutboxSize   int
	Relay        Relay
	RelayQueue   int // envelopes waiting for the relay; 0 means 1024
	OnDisconnect DisconnectHook
	Logger       *zap.Logger
}

// Hub wires the registry, topic index, publisher and reaper together.
type Hub struct {
	Registry  *Registry
	Index     *TopicIndex
	Publisher *Publisher
	Reaper    *Reaper

	outboxSize int
	logger     *zap.Logger
}

// NewHub builds a hub from opts.
func NewHub(opts Options) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := NewRegistry()
	idx := NewTopicIndex()
	return &Hub{
		Registry:   reg,
		Index:      idx,
		Publisher:  NewPublisher(idx, reg, opts.Relay, opts.RelayQueue, logger.Named("publisher")),
		Reaper:     NewReaper(reg, idx, opts.OnDisconnect, logger.Named("reaper")),
		outboxSize: opts.OutboxSize,
		logger:     logger,
	}
}

// Connect registers a new connection with a fresh id.
func (h *Hub) Connect(t Transport) (*Connection, error) {
	return h.ConnectWithID(uuid.NewString(), t)
}

// ConnectWithID registers a connection under a caller-chosen id.
func (h *Hub) ConnectWithID(id string, t Transport) (*Connection, error) {
	c := newConnection(id, t, h.outboxSize, h.logger.Named("conn"))
	if err := h.Registry.Register(c); err != nil {
		close(c.done)
		return nil, err
	}
	return c, nil
}

// Subscribe registers connID on (topic, key). It fails with ErrConnectionClosing
// once teardown has started, so no subscription outlives its connection.
func (h *Hub) Subscribe(connID, topic, key string, filter Filter) (string, error) {
	subID := uuid.NewString()
	if err := h.SubscribeWithID(connID, subID, topic, key, filter); err != nil {
		return "", err
	}
	return subID, nil
}

// SubscribeWithID is Subscribe under a caller-chosen subscription id, so the
// caller can map the id to its own state before any publish can match it.
func (h *Hub) SubscribeWithID(connID, subID, topic, key string, filter Filter) error {
	conn, err := h.Registry.Lookup(connID)
	if err != nil {
		return err
	}
	return conn.withState(func() error {
		return h.Index.SubscribeWithID(subID, topic, key, connID, filter)
	})
}

// Unsubscribe removes one subscription; unknown ids are ignored.
func (h *Hub) Unsubscribe(subID string) { h.Index.Unsubscribe(subID) }

// Begin opens the operation scope of one inbound request on connID.
// The connection's id is the mutator id of anything the request publishes.
func (h *Hub) Begin(ctx context.Context, connID string) (RequestContext, error) {
	conn, err := h.Registry.Lookup(connID)
	if err != nil {
		return RequestContext{}, err
	}
	op, err := conn.share.Begin(ctx)
	if err != nil {
		return RequestContext{}, err
	}
	return RequestContext{Conn: conn, Op: op, MutatorID: conn.id}, nil
}

// BeginDetached opens an operation scope for a request that did not arrive on
// a realtime connection. mutatorID may name the caller's socket so it can
// recognise its own echoes.
func (h *Hub) BeginDetached(ctx context.Context, mutatorID string) RequestContext {
	op, _ := NewShareCache("").begin(ctx) // a fresh cache is never dropped
	return RequestContext{Op: op, MutatorID: mutatorID}
}

// Publish is shorthand for Publisher.Publish.
func (h *Hub) Publish(ctx context.Context, topic, topicKey, payloadType string, data any, opts PublishOptions) Result {
	return h.Publisher.Publish(ctx, topic, topicKey, payloadType, data, opts)
}

// OnDisconnect tears connID down; safe to call any number of times.
func (h *Hub) OnDisconnect(connID string, exitCode int) bool {
	return h.Reaper.OnDisconnect(connID, exitCode)
}

// MarkAlive records a keepalive for connID now.
func (h *Hub) MarkAlive(connID string) error {
	return h.Registry.MarkAlive(connID, time.Now())
}

// Stats is a point-in-time view for debugging endpoints.
type Stats struct {
	Connections   int `json:"connections"`
	Subscriptions int `json:"subscriptions"`
}

func (h *Hub) Stats() Stats {
	return Stats{Connections: h.Registry.Len(), Subscriptions: h.Index.Len()}
}
