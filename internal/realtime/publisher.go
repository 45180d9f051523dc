package realtime

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"teamsync/internal/metrics"
)

// Envelope is one publish in flight. It is consumed once and never retried.
type Envelope struct {
	Topic       string          `json:"topic"`
	TopicKey    string          `json:"topicKey"`
	PayloadType string          `json:"payloadType"`
	OperationID string          `json:"operationId,omitempty"`
	MutatorID   string          `json:"mutatorId,omitempty"`
	Data        json.RawMessage `json:"data"`
}

// Relay forwards envelopes to other nodes that hold their own subscribers.
type Relay interface {
	Forward(ctx context.Context, env Envelope) error
}

// Result summarises one fan-out.
type Result struct {
	Matched   int
	Delivered int
	Filtered  int
	Stale     int
	Failed    int
}

// Publisher fans a published payload out to the subscribers of its topic.
type Publisher struct {
	index    *TopicIndex
	registry *Registry
	relay    Relay
	relayQ   chan Envelope // drained by Run
	logger   *zap.Logger
}

const defaultRelayQueue = 1024

// NewPublisher wires a publisher over index and registry. relay may be nil;
// otherwise envelopes queue for Run, up to relayQueue of them.
func NewPublisher(index *TopicIndex, registry *Registry, relay Relay, relayQueue int, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Publisher{index: index, registry: registry, relay: relay, logger: logger}
	if relay != nil {
		if relayQueue <= 0 {
			relayQueue = defaultRelayQueue
		}
		p.relayQ = make(chan Envelope, relayQueue)
	}
	return p
}

// Run forwards queued envelopes to the relay, one at a time, until ctx ends.
// It returns immediately when there is no relay.
func (p *Publisher) Run(ctx context.Context) {
	if p.relayQ == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-p.relayQ:
			if err := p.relay.Forward(ctx, env); err != nil {
				metrics.RelayDropped.Inc()
				p.logger.Warn("relay forward", zap.String("topic", env.Topic), zap.Error(err))
			}
		}
	}
}

// Publish delivers data under payloadType to every subscriber of (topic, topicKey)
// whose subscription was visible when the call started. It must only be called
// after the mutation it describes was persisted. The mutating connection is
// delivered to like any other subscriber; the operation id lets it drop its
// own echo. Publish waits neither for transport acknowledgement nor for the relay.
func (p *Publisher) Publish(ctx context.Context, topic, topicKey, payloadType string, data any, opts PublishOptions) Result {
	raw, err := json.Marshal(data)
	if err != nil {
		metrics.Deliveries.WithLabelValues("failed").Inc()
		p.logger.Error("serialize payload",
			zap.String("topic", topic), zap.String("payloadType", payloadType), zap.Error(err))
		return Result{Failed: 1}
	}
	env := Envelope{
		Topic:       topic,
		TopicKey:    topicKey,
		PayloadType: payloadType,
		OperationID: opts.OperationID,
		MutatorID:   opts.MutatorID,
		Data:        raw,
	}
	metrics.Publishes.WithLabelValues(topic, "local").Inc()
	res := p.fanout(env)
	if p.relayQ != nil {
		select {
		case p.relayQ <- env:
		default:
			metrics.RelayDropped.Inc()
			p.logger.Warn("relay queue full, envelope dropped",
				zap.String("topic", topic), zap.String("payloadType", payloadType))
		}
	}
	return res
}

// Deliver fans out an envelope received from another node. It is not relayed again.
func (p *Publisher) Deliver(env Envelope) Result {
	metrics.Publishes.WithLabelValues(env.Topic, "relay").Inc()
	return p.fanout(env)
}

func (p *Publisher) fanout(env Envelope) Result {
	subs := p.index.SubscribersOf(env.Topic, env.TopicKey)
	res := Result{Matched: len(subs)}

	var decoded map[string]any
	decodedOnce := false
	for _, s := range subs {
		if s.Filter != nil {
			if !decodedOnce {
				decodedOnce = true
				if err := json.Unmarshal(env.Data, &decoded); err != nil {
					p.logger.Debug("payload is not an object", zap.String("payloadType", env.PayloadType), zap.Error(err))
				}
			}
			if !s.Filter(decoded) {
				res.Filtered++
				continue
			}
		}
		conn, err := p.registry.Lookup(s.ConnID)
		if err != nil {
			res.Stale++
			continue
		}
		err = conn.enqueue(Message{
			SubscriptionID: s.SubscriptionID,
			Topic:          env.Topic,
			TopicKey:       env.TopicKey,
			PayloadType:    env.PayloadType,
			OperationID:    env.OperationID,
			MutatorID:      env.MutatorID,
			Data:           env.Data,
		})
		switch {
		case err == nil:
			res.Delivered++
		case errors.Is(err, ErrConnectionClosing):
			res.Stale++
		default:
			res.Failed++
			p.logger.Warn("delivery failed", zap.Error(&DeliveryError{ConnID: s.ConnID, SubscriptionID: s.SubscriptionID, Err: err}))
		}
	}
	metrics.Deliveries.WithLabelValues("delivered").Add(float64(res.Delivered))
	metrics.Deliveries.WithLabelValues("filtered").Add(float64(res.Filtered))
	metrics.Deliveries.WithLabelValues("stale").Add(float64(res.Stale))
	metrics.Deliveries.WithLabelValues("failed").Add(float64(res.Failed))
	return res
}
