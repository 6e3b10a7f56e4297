package ws

import (
	"sort"

	"chat-relay/internal/models"
)

// Sink receives outbound events for one connection.
// Send must not block; it reports false when the event could not be queued.
type Sink interface {
	Send(ev models.ServerEvent) bool
	Close()
}

type connection struct {
	info          ConnInfo
	sink          Sink
	identity      models.Identity
	authenticated bool
}

// Registry maps connection handles to sinks and authenticated identities.
// It is owned by the Hub goroutine and is not safe for concurrent use.
type Registry struct {
	conns      map[string]*connection
	byIdentity map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns:      make(map[string]*connection),
		byIdentity: make(map[string]map[string]struct{}),
	}
}

// Attach records a transport connection before it authenticates.
func (r *Registry) Attach(info ConnInfo, sink Sink) {
	if c, ok := r.conns[info.Handle]; ok {
		c.info = info
		c.sink = sink
		return
	}
	r.conns[info.Handle] = &connection{info: info, sink: sink}
}

// Register binds identity to handle, replacing any previous binding.
func (r *Registry) Register(handle string, identity models.Identity) {
	c, ok := r.conns[handle]
	if !ok {
		c = &connection{info: ConnInfo{Handle: handle}}
		r.conns[handle] = c
	}
	if c.authenticated {
		r.unlink(c.identity.ID, handle)
	}
	c.identity = identity
	c.authenticated = true

	handles, ok := r.byIdentity[identity.ID]
	if !ok {
		handles = make(map[string]struct{})
		r.byIdentity[identity.ID] = handles
	}
	handles[handle] = struct{}{}
}

// Resolve returns the identity bound to handle, if any.
func (r *Registry) Resolve(handle string) (models.Identity, bool) {
	c, ok := r.conns[handle]
	if !ok || !c.authenticated {
		return models.Identity{}, false
	}
	return c.identity, true
}

// Unregister forgets handle. It returns the identity that was bound to it and
// how many other connections that identity still holds.
func (r *Registry) Unregister(handle string) (identity models.Identity, remaining int, ok bool) {
	c, exists := r.conns[handle]
	if !exists {
		return models.Identity{}, 0, false
	}
	delete(r.conns, handle)
	if !c.authenticated {
		return models.Identity{}, 0, false
	}
	r.unlink(c.identity.ID, handle)
	return c.identity, r.Count(c.identity.ID), true
}

// Count reports how many live connections are bound to identityID.
func (r *Registry) Count(identityID string) int {
	return len(r.byIdentity[identityID])
}

func (r *Registry) Sink(handle string) (Sink, bool) {
	c, ok := r.conns[handle]
	if !ok || c.sink == nil {
		return nil, false
	}
	return c.sink, true
}

func (r *Registry) Info(handle string) (ConnInfo, bool) {
	c, ok := r.conns[handle]
	if !ok {
		return ConnInfo{}, false
	}
	return c.info, true
}

func (r *Registry) Len() int {
	return len(r.conns)
}

// Handles lists every attached connection in a stable order.
func (r *Registry) Handles() []string {
	out := make([]string, 0, len(r.conns))
	for h := range r.conns {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Identities lists every identity with at least one connection, sorted by id.
func (r *Registry) Identities() []models.Identity {
	out := make([]models.Identity, 0, len(r.byIdentity))
	for _, handles := range r.byIdentity {
		for h := range handles {
			out = append(out, r.conns[h].identity)
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) unlink(identityID, handle string) {
	handles := r.byIdentity[identityID]
	delete(handles, handle)
	if len(handles) == 0 {
		delete(r.byIdentity, identityID)
	}
}
