package ddp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MaxArgs is the largest number of positional parameters a method call may
// carry.
const MaxArgs = 4

// MethodFunc implements a server method. The returned value is encoded as the
// call result; a returned error is reported in-band to the client.
type MethodFunc func(call *Call) (any, error)

// Call carries everything a method invocation may use.
type Call struct {
	Ctx     context.Context
	Method  string
	ID      string
	Session string
	Args    []json.RawMessage
	Env     Env

	emitter *Emitter
}

// NumArgs returns the number of positional arguments supplied.
func (c *Call) NumArgs() int { return len(c.Args) }

// Arg decodes argument i into v.
func (c *Call) Arg(i int, v any) error {
	if i < 0 || i >= len(c.Args) {
		return fmt.Errorf("argument %d not supplied", i)
	}
	if err := json.Unmarshal(c.Args[i], v); err != nil {
		return fmt.Errorf("argument %d: %w", i, err)
	}
	return nil
}

// Value decodes argument i into a generic value. Missing or undecodable
// arguments yield nil.
func (c *Call) Value(i int) any {
	var v any
	if err := c.Arg(i, &v); err != nil {
		return nil
	}
	return v
}

// Lookup reads a variable from the connection environment snapshot.
func (c *Call) Lookup(name string) (any, bool) { return c.Env.Lookup(name) }

// Emitter returns the collection event emitter of the calling connection.
func (c *Call) Emitter() *Emitter { return c.emitter }

// Registry maps method names to implementations. It is safe for concurrent
// use and may be shared by many engines.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]MethodFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]MethodFunc)}
}

// Register binds name to fn. Registering an existing name replaces it.
func (r *Registry) Register(name string, fn MethodFunc) error {
	if name == "" {
		return ErrEmptyMethodName
	}
	if fn == nil {
		return fmt.Errorf("%w: %s", ErrNilMethod, name)
	}
	r.mu.Lock()
	r.methods[name] = fn
	r.mu.Unlock()
	return nil
}

// Lookup returns the method registered under name.
func (r *Registry) Lookup(name string) (MethodFunc, bool) {
	r.mu.RLock()
	fn, ok := r.methods[name]
	r.mu.RUnlock()
	return fn, ok
}

// Names returns the registered method names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.methods))
	for n := range r.methods {
		names = append(names, n)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}
