package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateConnection is returned when a connection id is registered twice.
	ErrDuplicateConnection = errors.New("realtime: duplicate connection")
	// ErrNotFound is returned for connections or subscriptions that are unknown or already torn down.
	ErrNotFound = errors.New("realtime: not found")
	// ErrConnectionClosing is returned when work is attempted on a connection that started teardown.
	ErrConnectionClosing = errors.New("realtime: connection closing")
	// ErrSlowConsumer is the delivery failure for a full outbound queue.
	ErrSlowConsumer = errors.New("realtime: outbound queue full")
	// ErrOperationDropped is returned to every caller of an operation whose connection went away.
	ErrOperationDropped = errors.New("realtime: operation dropped")
	// ErrOperationEnded is returned by Compute after the operation scope was closed.
	ErrOperationEnded = errors.New("realtime: operation ended")
	// ErrEmptyTopic rejects subscriptions without a topic.
	ErrEmptyTopic = errors.New("realtime: empty topic")
	// ErrDuplicateSubscription rejects a subscription id that is already registered.
	ErrDuplicateSubscription = errors.New("realtime: duplicate subscription")
	// ErrProducerPanic is shared by every waiter of a Compute whose producer panicked.
	ErrProducerPanic = errors.New("realtime: producer panicked")
)

// DeliveryError describes a failed send to one subscriber. It is logged and
// counted by the publisher, never returned to the publishing caller.
type DeliveryError struct {
	ConnID         string
	SubscriptionID string
	Err            error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("realtime: deliver to %s (subscription %s): %v", e.ConnID, e.SubscriptionID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
