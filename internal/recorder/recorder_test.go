package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus/hooks/test"

	"bustrack/internal/model"
	"bustrack/internal/positions"
	"bustrack/internal/store"
)

type fakeSink struct {
	mu      sync.Mutex
	batches [][]Record
	fails   int
	calls   int
}

func (f *fakeSink) Name() string { return "fake" }

func (f *fakeSink) Write(ctx context.Context, batch []Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return errors.New("boom")
	}
	f.batches = append(f.batches, append([]Record(nil), batch...))
	return nil
}

func (f *fakeSink) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

var at = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func loc(driver model.ID) Record {
	return LocationRecord(model.LocationSample{DriverID: driver, RouteID: "7", Latitude: -15.5, Longitude: -70.1}, at)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRecorderFlushesOnBatchSize(t *testing.T) {
	log, _ := test.NewNullLogger()
	sink := &fakeSink{}
	r := New(Options{BatchSize: 3, FlushInterval: time.Hour}, log, sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	for _, d := range []model.ID{"1", "2", "3"} {
		if !r.Record(loc(d)) {
			t.Fatal("record refused")
		}
	}
	waitFor(t, func() bool { return sink.total() == 3 })
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestRecorderFlushesOnInterval(t *testing.T) {
	log, _ := test.NewNullLogger()
	sink := &fakeSink{}
	r := New(Options{BatchSize: 100, FlushInterval: 10 * time.Millisecond}, log, sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	r.Record(loc("1"))
	waitFor(t, func() bool { return sink.total() == 1 })
	_ = r.Stop(context.Background())
}

func TestRecorderStopDrains(t *testing.T) {
	log, _ := test.NewNullLogger()
	sink := &fakeSink{}
	r := New(Options{BatchSize: 100, FlushInterval: time.Hour}, log, sink)
	for i := 0; i < 5; i++ {
		r.Record(loc("1"))
	}
	r.Start(context.Background())
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if sink.total() != 5 {
		t.Fatalf("flushed %d records, want 5", sink.total())
	}
	// Stop is idempotent
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestRecorderQueueFull(t *testing.T) {
	log, _ := test.NewNullLogger()
	r := New(Options{QueueSize: 2}, log)
	if !r.Record(loc("1")) || !r.Record(loc("2")) {
		t.Fatal("queue refused before full")
	}
	if r.Record(loc("3")) {
		t.Fatal("full queue accepted a record")
	}
}

func TestRecorderRetriesThenSucceeds(t *testing.T) {
	log, _ := test.NewNullLogger()
	sink := &fakeSink{fails: 2}
	r := New(Options{MaxAttempts: 3, RetryBase: time.Millisecond}, log, sink)
	r.flush(context.Background(), []Record{loc("1")})
	if sink.calls != 3 || sink.total() != 1 {
		t.Fatalf("calls=%d total=%d", sink.calls, sink.total())
	}
}

func TestRecorderGivesUp(t *testing.T) {
	log, hook := test.NewNullLogger()
	sink := &fakeSink{fails: 10}
	other := &fakeSink{}
	r := New(Options{MaxAttempts: 2, RetryBase: time.Millisecond}, log, sink, other)
	r.flush(context.Background(), []Record{loc("1")})
	if sink.calls != 2 {
		t.Fatalf("calls = %d, want 2", sink.calls)
	}
	if other.total() != 1 {
		t.Fatal("failing sink blocked the next sink")
	}
	if e := hook.LastEntry(); e == nil || e.Message != "sink batch dropped" {
		t.Fatalf("last log = %+v", e)
	}
}

func TestNextBackoff(t *testing.T) {
	if d := nextBackoff(time.Second, 0); d != time.Second {
		t.Fatalf("attempt 0 = %v", d)
	}
	if d := nextBackoff(time.Second, 3); d != 8*time.Second {
		t.Fatalf("attempt 3 = %v", d)
	}
	if d := nextBackoff(time.Second, 50); d != 30*time.Second {
		t.Fatalf("cap = %v", d)
	}
}

func TestStoreSinksSplitRecords(t *testing.T) {
	mem := store.NewMemory()
	batch := []Record{
		loc("1"),
		EventRecord(model.ChatMessage{ID: "c1", UserName: "ana", Message: "hola", Timestamp: at}, at),
		EventRecord(model.TripStarted{TripID: "t1", DriverID: "1", RouteID: "7", Timestamp: at}, at),
	}
	for _, s := range StoreSinks(mem) {
		if err := s.Write(context.Background(), batch); err != nil {
			t.Fatalf("%s write: %v", s.Name(), err)
		}
	}
	if len(mem.Locations()) != 1 || len(mem.Events()) != 2 {
		t.Fatalf("locations=%d events=%d", len(mem.Locations()), len(mem.Events()))
	}
	msgs, _ := mem.ListChatMessages(context.Background(), 10)
	if len(msgs) != 1 || msgs[0].ID != "c1" {
		t.Fatalf("chat = %+v", msgs)
	}
}

// eventsDownStore accepts locations but fails every event insert.
type eventsDownStore struct {
	*store.Memory
	mu       sync.Mutex
	locCalls int
	evtCalls int
}

func (s *eventsDownStore) InsertLocations(ctx context.Context, rows []store.LocationRow) error {
	s.mu.Lock()
	s.locCalls++
	s.mu.Unlock()
	return s.Memory.InsertLocations(ctx, rows)
}

func (s *eventsDownStore) InsertEvents(ctx context.Context, rows []store.EventRow) error {
	s.mu.Lock()
	s.evtCalls++
	s.mu.Unlock()
	return errors.New("events table unavailable")
}

func TestEventFailureDoesNotDuplicateLocations(t *testing.T) {
	log, _ := test.NewNullLogger()
	st := &eventsDownStore{Memory: store.NewMemory()}
	r := New(Options{MaxAttempts: 3, RetryBase: time.Millisecond}, log, StoreSinks(st)...)
	r.flush(context.Background(), []Record{loc("1"), EventRecord(model.TripCompleted{TripID: "t", Timestamp: at}, at)})

	if st.locCalls != 1 || len(st.Locations()) != 1 {
		t.Fatalf("location inserts = %d rows = %d, want 1 and 1", st.locCalls, len(st.Locations()))
	}
	if st.evtCalls != 3 {
		t.Fatalf("event attempts = %d, want 3", st.evtCalls)
	}
}

func TestPositionsSink(t *testing.T) {
	cache := positions.NewMemory(10, time.Hour)
	s := PositionsSink{Cache: cache}
	batch := []Record{loc("1"), EventRecord(model.TripCompleted{TripID: "t"}, at), loc("2")}
	if err := s.Write(context.Background(), batch); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, _ := cache.ListByRoute(context.Background(), "7")
	if len(got) != 2 || !got[0].UpdatedAt.Equal(at) {
		t.Fatalf("positions = %+v", got)
	}
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaSinkTopicsAndKeys(t *testing.T) {
	w := &fakeWriter{}
	k := &KafkaSink{w: w, locationTopic: DefaultLocationTopic, eventTopic: DefaultEventTopic}
	batch := []Record{
		loc("42"),
		EventRecord(model.StopArrival{TripID: "1", StopID: "9", RouteID: "7", Timestamp: at}, at),
	}
	if err := k.Write(context.Background(), batch); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(w.msgs) != 2 {
		t.Fatalf("messages = %d", len(w.msgs))
	}
	if w.msgs[0].Topic != "gps-data" || string(w.msgs[0].Key) != "42" {
		t.Fatalf("location message = %s %s", w.msgs[0].Topic, w.msgs[0].Key)
	}
	if w.msgs[1].Topic != "transit-events" || string(w.msgs[1].Key) != "7" {
		t.Fatalf("event message = %s %s", w.msgs[1].Topic, w.msgs[1].Key)
	}
	var env struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(w.msgs[1].Value, &env); err != nil || env.Type != model.EventStopArrival {
		t.Fatalf("envelope = %+v %v", env, err)
	}
}
