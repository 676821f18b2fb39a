package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"bustrack/internal/model"
)

func frame(typ, payload string) Frame {
	return Frame{Type: typ, Payload: json.RawMessage(payload)}
}

func TestDecodeAnnounce(t *testing.T) {
	cmd, err := Decode("c1", frame(TypeIdentityAnnounce, `{"name":" Ana ","id":1}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	a, ok := cmd.(Announce)
	if !ok {
		t.Fatalf("got %T, want Announce", cmd)
	}
	if a.User.ID != "1" || a.User.Name != "Ana" || a.User.Role != model.RoleDriver {
		t.Fatalf("user = %+v", a.User)
	}

	cmd, err = Decode("c1", frame(TypeIdentityAnnounce, `{"name":"Luis","id":"m-2","role":"MANAGER"}`))
	if err != nil {
		t.Fatalf("decode manager: %v", err)
	}
	if r := cmd.(Announce).User.Role; r != model.RoleManager {
		t.Fatalf("role = %q", r)
	}
}

func TestDecodeAnnounceRejects(t *testing.T) {
	cases := map[string]string{
		"empty":    `{}`,
		"badRole":  `{"id":1,"role":"pilot"}`,
		"badJSON":  `{"id":`,
		"objectID": `{"id":{"x":1}}`,
	}
	for name, p := range cases {
		if _, err := Decode("c1", frame(TypeIdentityAnnounce, p)); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: err = %v, want ErrMalformed", name, err)
		}
	}
}

func TestDecodeLocationSample(t *testing.T) {
	cmd, err := Decode("c1", frame(TypeLocationSample, `{"driverId":1,"routeId":7,"latitude":-15.5,"longitude":-70.13,"speed":20}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	s := cmd.(IngestLocation).Sample
	if s.DriverID != "1" || s.RouteID != "7" || s.Latitude != -15.5 || s.Speed != 20 {
		t.Fatalf("sample = %+v", s)
	}
	if s.Timestamp != nil {
		t.Fatalf("timestamp should be unset, got %v", s.Timestamp)
	}

	if _, err := Decode("c1", frame(TypeLocationSample, `{"driverId":1,"longitude":2}`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("missing latitude: %v", err)
	}
	if _, err := Decode("c1", frame(TypeLocationSample, `{"latitude":1,"longitude":2}`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("missing driverId: %v", err)
	}
}

func TestDecodeSampleTimestamp(t *testing.T) {
	const base = `{"driverId":1,"routeId":7,"latitude":-15.5,"longitude":-70.13,"timestamp":%s}`
	want := time.Date(2023, 10, 11, 4, 53, 20, 0, time.UTC)
	cases := []struct {
		name string
		ts   string
		want *time.Time
	}{
		{"rfc3339", `"2023-10-11T06:53:20+02:00"`, &want},
		{"epochMillis", `1697000000000`, &want},
		{"garbage string", `"yesterday"`, nil},
		{"object", `{"s":1}`, nil},
		{"bool", `true`, nil},
		{"negative", `-5`, nil},
		{"null", `null`, nil},
	}
	for _, tc := range cases {
		cmd, err := Decode("c1", frame(TypeLocationSample, fmt.Sprintf(base, tc.ts)))
		if err != nil {
			t.Fatalf("%s: a bad timestamp must not drop the sample: %v", tc.name, err)
		}
		got := cmd.(IngestLocation).Sample.Timestamp
		switch {
		case tc.want == nil && got != nil:
			t.Errorf("%s: timestamp = %v, want unset", tc.name, got)
		case tc.want != nil && (got == nil || !got.Equal(*tc.want)):
			t.Errorf("%s: timestamp = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestDecodeLifecycle(t *testing.T) {
	cmd, err := Decode("c1", frame(model.EventStopArrival, `{"tripId":4,"stopId":11,"latitude":-15.5,"longitude":-70.1,"routeId":7}`))
	if err != nil {
		t.Fatalf("stop-arrival: %v", err)
	}
	if sa := cmd.(Publish).Event.(model.StopArrival); sa.StopID != "11" || sa.RouteID != "7" {
		t.Fatalf("stop arrival = %+v", sa)
	}

	cmd, err = Decode("c1", frame(model.EventChatMessage, `{"userName":"Ana","userId":1,"message":"hola"}`))
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if m := cmd.(Publish).Event.(model.ChatMessage); m.Kind != "text" || m.ID != "" {
		t.Fatalf("chat = %+v", m)
	}

	if _, err := Decode("c1", frame(model.EventChatMessage, `{"userName":"Ana","message":"   "}`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("blank chat: %v", err)
	}
	if _, err := Decode("c1", frame(model.EventTripStarted, `{"tripId":1,"driverId":2}`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("trip without route: %v", err)
	}
	if _, err := Decode("c1", frame(model.EventTripCompleted, `{"routeId":2}`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("trip-completed without trip: %v", err)
	}
}

func TestDecodeSubscribe(t *testing.T) {
	cmd, err := Decode("c1", frame(TypeSubscribeRoute, `{"routeId":7}`))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if s := cmd.(SubscribeRoute); s.Route != "7" || s.Conn != "c1" {
		t.Fatalf("subscribe = %+v", s)
	}
	cmd, err = Decode("c1", frame(TypeUnsubscribeRoute, `{"routeId":"7"}`))
	if err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if _, ok := cmd.(UnsubscribeRoute); !ok {
		t.Fatalf("got %T", cmd)
	}
	if _, err := Decode("c1", frame(TypeSubscribeRoute, `{}`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("missing route: %v", err)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	if _, err := Decode("c1", frame("teleport", `{}`)); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("err = %v, want ErrUnknownType", err)
	}
}

func TestValidateSample(t *testing.T) {
	ok := model.LocationSample{DriverID: "1", Latitude: 10, Longitude: 20}
	if err := ValidateSample(ok, true); err != nil {
		t.Fatalf("valid sample: %v", err)
	}
	far := model.LocationSample{DriverID: "1", Latitude: 91, Longitude: 20}
	if err := ValidateSample(far, true); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("out of bounds: %v", err)
	}
	if err := ValidateSample(far, false); err != nil {
		t.Fatalf("bounds disabled: %v", err)
	}
	nan := model.LocationSample{DriverID: "1", Latitude: math.NaN(), Longitude: 20}
	if err := ValidateSample(nan, false); !errors.Is(err, ErrMalformed) {
		t.Fatalf("NaN: %v", err)
	}
}
