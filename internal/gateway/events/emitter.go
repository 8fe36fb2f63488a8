package events

// EventEmitter is the access-log backend. Implementations are
// fire-and-forget: Emit never blocks the request path and never returns
// an error.
type EventEmitter interface {
	Emit(event *RequestEvent)

	// Close flushes buffered events and releases the backend.
	Close() error
}

// NoopEmitter is used when event logging is disabled.
type NoopEmitter struct{}

func (n *NoopEmitter) Emit(event *RequestEvent) {}

func (n *NoopEmitter) Close() error { return nil }
