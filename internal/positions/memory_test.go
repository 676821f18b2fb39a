package positions

import (
	"context"
	"testing"
	"time"

	"github.com/bluele/gcache"

	"bustrack/internal/model"
)

func TestMemoryUpsertAndListByRoute(t *testing.T) {
	m := NewMemory(100, time.Minute)
	ctx := context.Background()
	_ = m.Upsert(ctx, Position{DriverID: "2", RouteID: "7", Latitude: 1})
	_ = m.Upsert(ctx, Position{DriverID: "1", RouteID: "7", Latitude: 2})
	_ = m.Upsert(ctx, Position{DriverID: "3", RouteID: "3"})
	_ = m.Upsert(ctx, Position{DriverID: "", RouteID: "7"})

	got, err := m.ListByRoute(ctx, "7")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].DriverID != "1" || got[1].DriverID != "2" {
		t.Fatalf("route 7 = %+v", got)
	}

	// driver moves to another route
	_ = m.Upsert(ctx, Position{DriverID: "1", RouteID: "3"})
	got, _ = m.ListByRoute(ctx, "7")
	if len(got) != 1 || got[0].DriverID != "2" {
		t.Fatalf("route 7 after move = %+v", got)
	}
	all, _ := m.List(ctx)
	if len(all) != 3 {
		t.Fatalf("all = %+v", all)
	}
}

func TestMemoryExpiry(t *testing.T) {
	clock := gcache.NewFakeClock()
	m := newMemoryWithClock(10, time.Minute, clock)
	ctx := context.Background()
	_ = m.Upsert(ctx, Position{DriverID: "1", RouteID: "7"})
	clock.Advance(2 * time.Minute)
	got, _ := m.ListByRoute(ctx, "7")
	if len(got) != 0 {
		t.Fatalf("expired position still listed: %+v", got)
	}
}

func TestFromSample(t *testing.T) {
	recv := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := FromSample(model.LocationSample{DriverID: "1", RouteID: "7", Latitude: -15.5, Longitude: -70.1, Speed: 20}, recv)
	if !p.UpdatedAt.Equal(recv) || p.Speed != 20 || p.RouteID != "7" {
		t.Fatalf("position = %+v", p)
	}
	own := recv.Add(-time.Second)
	p = FromSample(model.LocationSample{DriverID: "1", Timestamp: &own}, recv)
	if !p.UpdatedAt.Equal(own) {
		t.Fatalf("sample timestamp ignored: %v", p.UpdatedAt)
	}
}
