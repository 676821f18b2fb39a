//go:build redis_integration

package positions

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRedisUpsertList(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set; skipping integration test")
	}
	rdb, err := Dial(t.Context(), url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer rdb.Close()
	r := NewRedis(rdb, time.Minute, "bustrack-test-"+uuid.NewString())

	if err := r.Upsert(t.Context(), Position{DriverID: "1", RouteID: "7", Latitude: -15.5}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := r.Upsert(t.Context(), Position{DriverID: "2", RouteID: "3"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, err := r.ListByRoute(t.Context(), "7")
	if err != nil || len(got) != 1 || got[0].Latitude != -15.5 {
		t.Fatalf("ListByRoute: %+v %v", got, err)
	}
	all, err := r.List(t.Context())
	if err != nil || len(all) != 2 {
		t.Fatalf("List: %+v %v", all, err)
	}
}
