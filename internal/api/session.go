package api

import (
	"context"
	"sync"

	"bustrack/internal/realtime"
)

// outbox is the hub-facing half of a connection: a bounded queue drained by
// the transport's writer goroutine.
type outbox struct {
	id   realtime.ConnID
	ch   chan realtime.Event
	done chan struct{}
	once sync.Once
}

func newOutbox(id realtime.ConnID, size int) *outbox {
	if size <= 0 {
		size = 256
	}
	return &outbox{id: id, ch: make(chan realtime.Event, size), done: make(chan struct{})}
}

func (o *outbox) ID() realtime.ConnID { return o.id }

func (o *outbox) Send(ev realtime.Event) bool {
	select {
	case <-o.done:
		return false
	default:
	}
	select {
	case o.ch <- ev:
		return true
	default:
		return false
	}
}

func (o *outbox) Close() { o.once.Do(func() { close(o.done) }) }

// release detaches ob from the hub. It waits for queue space rather than
// giving up, so a saturated hub still drops the session, its identity and
// its rooms; it returns early only once the hub has stopped, and shutdown
// has closed every session by then.
func (s *Server) release(ob *outbox) {
	if err := s.Hub.Submit(context.Background(), realtime.Disconnect{Conn: ob.id}); err != nil {
		ob.Close()
	}
}
