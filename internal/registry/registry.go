// Package registry holds the set of currently configured groups and
// routes calls to them by name. It is the single source of truth the
// front-end and the reload controller both read and mutate.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/dynamic-mcp/gateway/internal/group"
	"github.com/dynamic-mcp/gateway/internal/wire"
)

// Registry is a name -> *group.Group map guarded by an RWMutex: many
// concurrent calls read it (routing, listing) while only the reload
// controller and process shutdown apply structural changes
// (upsert/remove).
type Registry struct {
	mu     sync.RWMutex
	groups map[string]*group.Group
	logger *zap.Logger
}

// New returns an empty Registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{groups: make(map[string]*group.Group), logger: logger}
}

// Upsert adds g or replaces whatever group previously held g.Name.
// The caller is responsible for closing any group it replaces.
func (r *Registry) Upsert(g *group.Group) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[g.Name] = g
}

// Remove deletes name from the registry and returns the group that
// was removed, or nil if there wasn't one. The caller owns closing it.
func (r *Registry) Remove(name string) *group.Group {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[name]
	if !ok {
		return nil
	}
	delete(r.groups, name)
	return g
}

// Get returns the group named name, or nil if it isn't registered.
func (r *Registry) Get(name string) *group.Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.groups[name]
}

// Names returns every registered group name, in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.groups))
	for name := range r.groups {
		out = append(out, name)
	}
	return out
}

// Ready returns every group currently in group.StateReady.
func (r *Registry) Ready() []*group.Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*group.Group, 0, len(r.groups))
	for _, g := range r.groups {
		if g.State() == group.StateReady {
			out = append(out, g)
		}
	}
	return out
}

// Failed returns every group currently in group.StateFailed.
func (r *Registry) Failed() []*group.Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*group.Group, 0, len(r.groups))
	for _, g := range r.groups {
		if g.State() == group.StateFailed {
			out = append(out, g)
		}
	}
	return out
}

// NotFoundError reports a call against a group name the registry
// doesn't know about.
type NotFoundError struct{ Name string }

func (e *NotFoundError) Error() string { return fmt.Sprintf("unknown group %q", e.Name) }

// Call looks up name and forwards method/params to it. A call racing
// a concurrent Remove either lands on the old group (if Get happened
// first) or gets NotFoundError (if Remove happened first); there is
// no partial state since Close is the caller's responsibility, not
// Registry's.
func (r *Registry) Call(ctx context.Context, name, method string, params json.RawMessage) (wire.Response, error) {
	g := r.Get(name)
	if g == nil {
		return wire.Response{}, &NotFoundError{Name: name}
	}
	if g.State() == group.StateClosing || g.State() == group.StateClosed {
		return wire.Response{}, fmt.Errorf("group %q is closing", name)
	}
	return g.Call(ctx, method, params)
}
