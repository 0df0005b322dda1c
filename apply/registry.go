// Package apply dispatches committed commands to per-kind handlers after
// registry.Apply has already folded their validator-membership effects.
// Handlers here only ever see side effects outside the registry: persisting
// namespaced data, counting synthetic load, and emitting events.
package apply

import (
	"fmt"
	"sync"

	"github.com/diva-network/divachain/core"
)

// Handler is the function signature every command module implements.
type Handler func(ctx *Context, cmd core.Command) error

// Registry maps CommandKinds to Handlers. Thread-safe for concurrent
// registration (module init() functions run before main starts, but tests
// may construct independent registries concurrently).
type Registry struct {
	mu       sync.RWMutex
	handlers map[core.CommandKind]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[core.CommandKind]Handler)}
}

// Register associates kind with h. Panics on duplicate registration.
func (r *Registry) Register(kind core.CommandKind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[kind]; exists {
		panic(fmt.Sprintf("apply: handler already registered for kind %q", kind))
	}
	r.handlers[kind] = h
}

// Execute dispatches cmd to the handler registered for its kind. A kind with
// no registered handler is silently a no-op: AddPeer/RemovePeer/ModifyStake
// need no handler here since registry.Apply already applied them.
func (r *Registry) Execute(ctx *Context, cmd core.Command) error {
	r.mu.RLock()
	h, ok := r.handlers[cmd.Kind()]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return h(ctx, cmd)
}

// globalRegistry is the package-level singleton that modules register into.
var globalRegistry = NewRegistry()

// Register adds a handler to the global registry. Module init() functions
// call this to self-register.
func Register(kind core.CommandKind, h Handler) {
	globalRegistry.Register(kind, h)
}
