package recorder

import (
	"time"

	"bustrack/internal/model"
)

// Record is one unit handed from the fan-out path to the sinks. Exactly one
// of Location and Event is set.
type Record struct {
	Location   *model.LocationSample
	Event      model.LifecycleEvent
	ReceivedAt time.Time
}

// LocationRecord wraps a sample received at t.
func LocationRecord(s model.LocationSample, t time.Time) Record {
	return Record{Location: &s, ReceivedAt: t}
}

// EventRecord wraps a lifecycle event received at t.
func EventRecord(e model.LifecycleEvent, t time.Time) Record {
	return Record{Event: e, ReceivedAt: t}
}

// Kind is "location" or the lifecycle event type.
func (r Record) Kind() string {
	if r.Location != nil {
		return "location"
	}
	if r.Event != nil {
		return r.Event.EventType()
	}
	return "unknown"
}
