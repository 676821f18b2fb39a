package realtime

import (
	"sort"

	"bustrack/internal/model"
)

// Rooms tracks route subscriptions in both directions so that resolving a
// room's audience is O(room size) and disconnect cleanup is O(rooms joined).
// A room exists only while it has members.
type Rooms struct {
	byRoute map[model.ID]map[ConnID]struct{}
	byConn  map[ConnID]map[model.ID]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{
		byRoute: map[model.ID]map[ConnID]struct{}{},
		byConn:  map[ConnID]map[model.ID]struct{}{},
	}
}

// Subscribe adds c to the room for route. It reports whether c was newly added.
func (r *Rooms) Subscribe(c ConnID, route model.ID) bool {
	m := r.byRoute[route]
	if m == nil {
		m = map[ConnID]struct{}{}
		r.byRoute[route] = m
	}
	if _, ok := m[c]; ok {
		return false
	}
	m[c] = struct{}{}
	rs := r.byConn[c]
	if rs == nil {
		rs = map[model.ID]struct{}{}
		r.byConn[c] = rs
	}
	rs[route] = struct{}{}
	return true
}

// Unsubscribe removes c from the room for route. It reports whether c was a member.
func (r *Rooms) Unsubscribe(c ConnID, route model.ID) bool {
	m := r.byRoute[route]
	if _, ok := m[c]; !ok {
		return false
	}
	delete(m, c)
	if len(m) == 0 {
		delete(r.byRoute, route)
	}
	if rs := r.byConn[c]; rs != nil {
		delete(rs, route)
		if len(rs) == 0 {
			delete(r.byConn, c)
		}
	}
	return true
}

// RemoveConn drops c from every room and returns the routes it left.
func (r *Rooms) RemoveConn(c ConnID) []model.ID {
	rs := r.byConn[c]
	left := make([]model.ID, 0, len(rs))
	for route := range rs {
		if m := r.byRoute[route]; m != nil {
			delete(m, c)
			if len(m) == 0 {
				delete(r.byRoute, route)
			}
		}
		left = append(left, route)
	}
	delete(r.byConn, c)
	sort.Slice(left, func(i, j int) bool { return left[i] < left[j] })
	return left
}

// MembersOf returns the connections subscribed to route.
func (r *Rooms) MembersOf(route model.ID) []ConnID {
	m := r.byRoute[route]
	out := make([]ConnID, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	return out
}

func (r *Rooms) IsMember(c ConnID, route model.ID) bool {
	_, ok := r.byRoute[route][c]
	return ok
}

// RoutesOf returns the routes c is subscribed to, sorted.
func (r *Rooms) RoutesOf(c ConnID) []model.ID {
	rs := r.byConn[c]
	out := make([]model.ID, 0, len(rs))
	for route := range rs {
		out = append(out, route)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of non-empty rooms.
func (r *Rooms) Len() int { return len(r.byRoute) }
