package realtime

import (
	"sort"

	"bustrack/internal/model"
)

// ConnID identifies one live connection. It is assigned by the transport and
// never reused.
type ConnID string

type registryEntry struct {
	user model.User
	seq  uint64
}

// Registry maps connections to the identity they announced. It is not safe
// for concurrent use; the Hub owns it.
type Registry struct {
	users map[ConnID]registryEntry
	seq   uint64
}

func NewRegistry() *Registry {
	return &Registry{users: map[ConnID]registryEntry{}}
}

// Register inserts or overwrites the identity for c. The same user id may be
// registered by several connections.
func (r *Registry) Register(c ConnID, u model.User) {
	r.seq++
	seq := r.seq
	if prev, ok := r.users[c]; ok {
		seq = prev.seq
	}
	r.users[c] = registryEntry{user: u, seq: seq}
}

// Unregister removes and returns the identity for c. Unknown ids are a no-op.
func (r *Registry) Unregister(c ConnID) (model.User, bool) {
	e, ok := r.users[c]
	if !ok {
		return model.User{}, false
	}
	delete(r.users, c)
	return e.user, true
}

func (r *Registry) Lookup(c ConnID) (model.User, bool) {
	e, ok := r.users[c]
	return e.user, ok
}

// List returns a snapshot of registered users, ordered by first announcement.
func (r *Registry) List() []model.User {
	entries := make([]registryEntry, 0, len(r.users))
	for _, e := range r.users {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]model.User, len(entries))
	for i, e := range entries {
		out[i] = e.user
	}
	return out
}

func (r *Registry) Len() int { return len(r.users) }
