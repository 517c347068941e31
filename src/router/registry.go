package router

import "sync"

// SimpleRegistry is a reference Registry: it remembers every module's
// outgoing handler by name, records every message handed to it via
// HandleIncoming, and lets a test (standing in for a real DHT engine)
// trigger a registered module's outgoing handler with Emit.
type SimpleRegistry struct {
	mu       sync.Mutex
	modules  map[string]func(DHTMessage)
	received []DHTMessage
}

// NewSimpleRegistry returns an empty SimpleRegistry.
func NewSimpleRegistry() *SimpleRegistry {
	return &SimpleRegistry{modules: make(map[string]func(DHTMessage))}
}

// Register records handleOutgoing under name, overwriting any previous
// registration under the same name.
func (r *SimpleRegistry) Register(name string, handleOutgoing func(DHTMessage)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[name] = handleOutgoing
	return nil
}

// HandleIncoming records msg as delivered up from the wire.
func (r *SimpleRegistry) HandleIncoming(msg DHTMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, msg)
}

// Received returns every message delivered so far via HandleIncoming.
func (r *SimpleRegistry) Received() []DHTMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DHTMessage, len(r.received))
	copy(out, r.received)
	return out
}

// Emit invokes the outgoing handler registered under name with msg,
// simulating the routing engine deciding to send router traffic through
// that module. It reports false if no module is registered under name.
func (r *SimpleRegistry) Emit(name string, msg DHTMessage) bool {
	r.mu.Lock()
	h, ok := r.modules[name]
	r.mu.Unlock()
	if !ok {
		return false
	}
	h(msg)
	return true
}
