package rnf

import "sync"

// Registry is the cookie -> pending-call dispatch table a bus binding
// drives from its DataAvailable/DataError signal handlers (spec.md
// §4.1). Every component that issues an async broker call registers its
// Call under the cookie the bus returned; Deliver resolves it exactly
// once, however many cookies arrive in the same signal batch.
type Registry struct {
	mu      sync.Mutex
	pending map[uint32]func(any, error)

	// OnRegister, if set, is invoked synchronously after a cookie is
	// registered. Production code has no use for it; it exists so tests
	// driving a fake bus can learn exactly when a cookie becomes safe to
	// deliver instead of guessing with a sleep.
	OnRegister func(cookie uint32)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{pending: make(map[uint32]func(any, error))}
}

// Register associates cookie with resolve, to be invoked at most once
// by Deliver or Cancel.
func (r *Registry) Register(cookie uint32, resolve func(any, error)) {
	r.mu.Lock()
	r.pending[cookie] = resolve
	hook := r.OnRegister
	r.mu.Unlock()
	if hook != nil {
		hook(cookie)
	}
}

// Cancel drops cookie's registration without invoking it, for calls
// whose owner cancelled locally.
func (r *Registry) Cancel(cookie uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, cookie)
}

// Deliver resolves cookie with payload (err nil) or with a failure.
// Reports whether a registration for cookie was found.
func (r *Registry) Deliver(cookie uint32, payload any, err error) bool {
	r.mu.Lock()
	resolve, ok := r.pending[cookie]
	if ok {
		delete(r.pending, cookie)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	resolve(payload, err)
	return true
}

// RegisterCall is the typed convenience wrapper components use to wire
// a freshly-requested Call into a Registry: the registered closure
// forwards Deliver's payload/error onto the call's own OnDataAvailable/
// OnDataError.
func RegisterCall[T any](reg *Registry, cookie uint32, call *Call[T]) {
	reg.Register(cookie, func(payload any, err error) {
		if err != nil {
			call.OnDataError(err)
			return
		}
		v, _ := payload.(T)
		call.OnDataAvailable(v)
	})
}
