package interfaces

// Connection represents one peer's WebSocket connection to the relay
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// keeps the broker testable with in-memory fakes
type Connection interface {
	// ID returns the relay-assigned connection id, unique per process
	ID() string

	// RemoteAddr returns the peer address for logging
	RemoteAddr() string

	// WriteJSON queues a text frame (thread-safe)
	// FUNCTIONAL DISCOVERY: All implementations use a single writer so concurrent
	// callers never interleave frames
	WriteJSON(v interface{}) error

	// WriteBinary queues a binary frame (thread-safe)
	WriteBinary(data []byte) error

	// Close closes the connection and cleans up resources; safe to call twice
	Close() error

	// Done is closed once the connection is closed
	Done() <-chan struct{}
}

// ConnectionLookup resolves connection ids to live connections
type ConnectionLookup interface {
	Get(connID string) (Connection, bool)
}
