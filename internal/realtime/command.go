package realtime

import "bustrack/internal/model"

// Command is the closed set of inputs the Hub understands. Transports turn
// connection lifecycle and inbound frames into Commands; Hub.Handle switches
// on them.
type Command interface{ command() }

// Connect adds a live session to the hub. RouteOnly sessions never join the
// global audience; they only receive traffic for the rooms they subscribe to.
type Connect struct {
	Session   Session
	RouteOnly bool
}

// Disconnect removes a session, its identity and all its room memberships.
type Disconnect struct{ Conn ConnID }

// Announce registers (or replaces) the identity of a connection.
type Announce struct {
	Conn ConnID
	User model.User
}

// Leave drops a connection's identity while keeping the connection open.
type Leave struct{ Conn ConnID }

// IngestLocation fans a driver sample out to the global audience and the
// sample's route room. Conn is empty for samples that arrive over REST.
type IngestLocation struct {
	Conn   ConnID
	Sample model.LocationSample
}

// Publish broadcasts a lifecycle event.
type Publish struct {
	Conn  ConnID
	Event model.LifecycleEvent
}

type SubscribeRoute struct {
	Conn  ConnID
	Route model.ID
}

type UnsubscribeRoute struct {
	Conn  ConnID
	Route model.ID
}

func (Connect) command()          {}
func (Disconnect) command()       {}
func (Announce) command()         {}
func (Leave) command()            {}
func (IngestLocation) command()   {}
func (Publish) command()          {}
func (SubscribeRoute) command()   {}
func (UnsubscribeRoute) command() {}
