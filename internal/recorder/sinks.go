package recorder

import (
	"context"
	"errors"

	"bustrack/internal/positions"
	"bustrack/internal/store"
)

// StoreSinks returns the sinks that persist records through st. Locations
// and events are separate sinks so a retry of one never rewrites the other.
func StoreSinks(st store.Store) []Sink {
	return []Sink{LocationStoreSink{Store: st}, EventStoreSink{Store: st}}
}

// LocationStoreSink writes location records to the store.
type LocationStoreSink struct {
	Store store.Store
}

func (LocationStoreSink) Name() string { return "store-locations" }

func (s LocationStoreSink) Write(ctx context.Context, batch []Record) error {
	var rows []store.LocationRow
	for _, r := range batch {
		if r.Location != nil {
			rows = append(rows, store.LocationRow{LocationSample: *r.Location, ReceivedAt: r.ReceivedAt})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return s.Store.InsertLocations(ctx, rows)
}

// EventStoreSink writes lifecycle event records to the store.
type EventStoreSink struct {
	Store store.Store
}

func (EventStoreSink) Name() string { return "store-events" }

func (s EventStoreSink) Write(ctx context.Context, batch []Record) error {
	var rows []store.EventRow
	for _, r := range batch {
		if r.Event != nil {
			rows = append(rows, store.EventRow{Event: r.Event, ReceivedAt: r.ReceivedAt})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return s.Store.InsertEvents(ctx, rows)
}

// PositionsSink keeps the latest-position cache current from location records.
type PositionsSink struct {
	Cache positions.Cache
}

func (PositionsSink) Name() string { return "positions" }

func (s PositionsSink) Write(ctx context.Context, batch []Record) error {
	var errs []error
	for _, r := range batch {
		if r.Location == nil {
			continue
		}
		if err := s.Cache.Upsert(ctx, positions.FromSample(*r.Location, r.ReceivedAt)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
