package realtime

// RequestContext is passed explicitly to every resolver entry point. It
// replaces any ambient per-request state: the operation scope, the
// connection the request arrived on (nil for plain HTTP), and the mutator id
// used to tag publishes.
type RequestContext struct {
	Conn      *Connection
	Op        *Operation
	MutatorID string
}

// Share returns the operation id of this request.
func (rc RequestContext) Share() string { return rc.Op.ID() }

// PublishOptions returns the correlation metadata for publishes caused by this request.
func (rc RequestContext) PublishOptions() PublishOptions {
	return PublishOptions{OperationID: rc.Op.ID(), MutatorID: rc.MutatorID}
}

// End closes the operation scope.
func (rc RequestContext) End() { rc.Op.End() }
