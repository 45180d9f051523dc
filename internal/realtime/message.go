// Package realtime tracks live connections and their topic subscriptions,
// fans mutation payloads out to subscribers, shares in-flight reads within a
// single inbound operation, and tears everything down when a connection goes away.
package realtime

import "encoding/json"

// Close codes used by the disconnect path.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
)

// Message is one outbound publish addressed to a single subscription.
// Framing onto the wire is the transport's job.
type Message struct {
	SubscriptionID string
	Topic          string
	TopicKey       string
	PayloadType    string
	OperationID    string
	MutatorID      string
	Data           json.RawMessage
}

// Transport is the send/close primitive of one client connection.
// Send may block on backpressure; it is only ever called from the
// connection's own writer goroutine.
type Transport interface {
	Send(Message) error
	Close(code int, reason string) error
}

// PublishOptions carries the correlation metadata of the request that caused a publish.
type PublishOptions struct {
	OperationID string
	MutatorID   string
}
