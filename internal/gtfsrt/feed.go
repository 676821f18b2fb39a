// Package gtfsrt renders latest driver positions as a GTFS-realtime
// VehiclePositions feed.
package gtfsrt

import (
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"bustrack/internal/positions"
)

const realtimeVersion = "2.0"

// kmhToMS converts sample speed (km/h) to the feed's meters per second.
const kmhToMS = 1000.0 / 3600.0

// VehiclePositions builds a FULL_DATASET feed with one entity per driver.
func VehiclePositions(ps []positions.Position, now time.Time) *gtfsrtpb.FeedMessage {
	fm := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{
			GtfsRealtimeVersion: proto.String(realtimeVersion),
			Incrementality:      gtfsrtpb.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(now.Unix())),
		},
	}
	for _, p := range ps {
		vp := &gtfsrtpb.VehiclePosition{
			Vehicle: &gtfsrtpb.VehicleDescriptor{
				Id:    proto.String(vehicleID(p)),
				Label: proto.String(string(p.DriverID)),
			},
			Position: &gtfsrtpb.Position{
				Latitude:  proto.Float32(float32(p.Latitude)),
				Longitude: proto.Float32(float32(p.Longitude)),
				Bearing:   proto.Float32(float32(p.Heading)),
				Speed:     proto.Float32(float32(p.Speed * kmhToMS)),
			},
		}
		if !p.UpdatedAt.IsZero() {
			vp.Timestamp = proto.Uint64(uint64(p.UpdatedAt.Unix()))
		}
		if p.RouteID != "" {
			vp.Trip = &gtfsrtpb.TripDescriptor{RouteId: proto.String(string(p.RouteID))}
		}
		fm.Entity = append(fm.Entity, &gtfsrtpb.FeedEntity{
			Id:      proto.String("vp-" + string(p.DriverID)),
			Vehicle: vp,
		})
	}
	return fm
}

func vehicleID(p positions.Position) string {
	if p.VehicleID != "" {
		return string(p.VehicleID)
	}
	return string(p.DriverID)
}

// Marshal encodes fm as protobuf, or as protojson when asJSON is set.
func Marshal(fm *gtfsrtpb.FeedMessage, asJSON bool) ([]byte, error) {
	if asJSON {
		return protojson.MarshalOptions{UseProtoNames: true}.Marshal(fm)
	}
	return proto.Marshal(fm)
}
