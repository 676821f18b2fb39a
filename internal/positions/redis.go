package positions

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"bustrack/internal/model"
)

// Redis shares latest positions between instances. Each driver's position is a
// JSON string with a TTL; sorted sets scored by update time index drivers
// globally and per route.
type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	now    func() time.Time
}

func NewRedis(rdb *redis.Client, ttl time.Duration, prefix string) *Redis {
	if prefix == "" {
		prefix = "bustrack"
	}
	return &Redis{rdb: rdb, ttl: ttl, prefix: prefix, now: time.Now}
}

// Dial parses url and checks connectivity.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func (r *Redis) posKey(driver model.ID) string  { return r.prefix + ":pos:" + string(driver) }
func (r *Redis) routeKey(route model.ID) string { return r.prefix + ":route:" + string(route) }
func (r *Redis) allKey() string                 { return r.prefix + ":drivers" }

func (r *Redis) Upsert(ctx context.Context, p Position) error {
	if p.DriverID == "" {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	score := float64(r.now().UnixMilli())
	member := redis.Z{Score: score, Member: string(p.DriverID)}
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.posKey(p.DriverID), data, r.ttl)
	pipe.ZAdd(ctx, r.allKey(), member)
	if p.RouteID != "" {
		pipe.ZAdd(ctx, r.routeKey(p.RouteID), member)
		pipe.Expire(ctx, r.routeKey(p.RouteID), r.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Redis) ListByRoute(ctx context.Context, routeID model.ID) ([]Position, error) {
	ps, err := r.load(ctx, r.routeKey(routeID))
	if err != nil {
		return nil, err
	}
	// A driver that switched routes is still indexed under the old one until it expires.
	out := ps[:0]
	for _, p := range ps {
		if p.RouteID == routeID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *Redis) List(ctx context.Context) ([]Position, error) {
	return r.load(ctx, r.allKey())
}

func (r *Redis) load(ctx context.Context, index string) ([]Position, error) {
	cutoff := strconv.FormatInt(r.now().Add(-r.ttl).UnixMilli(), 10)
	if err := r.rdb.ZRemRangeByScore(ctx, index, "-inf", "("+cutoff).Err(); err != nil {
		return nil, err
	}
	drivers, err := r.rdb.ZRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := []Position{}
	if len(drivers) == 0 {
		return out, nil
	}
	keys := make([]string, len(drivers))
	for i, d := range drivers {
		keys[i] = r.posKey(model.ID(d))
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var p Position
		if err := json.Unmarshal([]byte(s), &p); err == nil {
			out = append(out, p)
		}
	}
	sortByDriver(out)
	return out, nil
}
