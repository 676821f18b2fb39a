package positions

import (
	"context"
	"time"

	"github.com/bluele/gcache"

	"bustrack/internal/model"
)

// Memory is an LRU cache with per-entry expiry, used when no Redis is configured.
type Memory struct {
	c gcache.Cache
}

// NewMemory keeps at most size drivers, each for ttl after its last update.
func NewMemory(size int, ttl time.Duration) *Memory {
	return newMemoryWithClock(size, ttl, gcache.NewRealClock())
}

func newMemoryWithClock(size int, ttl time.Duration, clock gcache.Clock) *Memory {
	if size <= 0 {
		size = 10000
	}
	return &Memory{c: gcache.New(size).LRU().Expiration(ttl).Clock(clock).Build()}
}

func (m *Memory) Upsert(ctx context.Context, p Position) error {
	if p.DriverID == "" {
		return nil
	}
	return m.c.Set(p.DriverID, p)
}

// ListByRoute returns live positions on routeID, sorted by driver.
func (m *Memory) ListByRoute(ctx context.Context, routeID model.ID) ([]Position, error) {
	out := []Position{}
	for _, v := range m.c.GetALL(true) {
		if p, ok := v.(Position); ok && p.RouteID == routeID {
			out = append(out, p)
		}
	}
	sortByDriver(out)
	return out, nil
}

func (m *Memory) List(ctx context.Context) ([]Position, error) {
	out := []Position{}
	for _, v := range m.c.GetALL(true) {
		if p, ok := v.(Position); ok {
			out = append(out, p)
		}
	}
	sortByDriver(out)
	return out, nil
}
