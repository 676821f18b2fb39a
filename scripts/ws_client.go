// Package main runs a demo driver and manager against the realtime socket.
package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type wsMessage struct {
	Type    string          `json:"type"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func dial(host string, hdr http.Header) *websocket.Conn {
	u := url.URL{Scheme: "ws", Host: host, Path: "/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		logrus.WithError(err).Fatal("dial")
	}
	return c
}

func send(c *websocket.Conn, typ string, payload any) {
	b, _ := json.Marshal(payload)
	if err := c.WriteJSON(wsMessage{Type: typ, Payload: b}); err != nil {
		logrus.WithError(err).Fatalf("send %s", typ)
	}
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	route := flag.String("route", "12", "route id to drive and watch")
	samples := flag.Int("samples", 5, "location samples to send")
	flag.Parse()
	host := "localhost:" + port

	mgr := dial(host, http.Header{"X-Role": {"manager"}, "X-Routes": {*route}})
	defer mgr.Close()
	send(mgr, "identity-announce", map[string]any{"name": "Demo Manager", "id": "m-1", "role": "manager"})
	send(mgr, "subscribe-route", map[string]any{"routeId": *route})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := mgr.ReadJSON(&m); err != nil {
				return
			}
			logrus.WithField("type", m.Type).Info(string(m.Payload))
		}
	}()

	drv := dial(host, http.Header{"X-Role": {"driver"}})
	defer drv.Close()
	send(drv, "identity-announce", map[string]any{"name": "Demo Driver", "id": "d-1", "role": "driver"})
	send(drv, "trip-started", map[string]any{"tripId": "demo-trip", "driverId": "d-1", "vehicleId": "bus-1", "routeId": *route})

	lat, lon := 19.4326, -99.1332
	for i := 0; i < *samples; i++ {
		send(drv, "location-sample", map[string]any{
			"driverId": "d-1", "vehicleId": "bus-1", "routeId": *route,
			"latitude": lat, "longitude": lon, "speed": 32.5, "heading": 90,
		})
		lon += 0.0005
		time.Sleep(500 * time.Millisecond)
	}
	send(drv, "stop-arrival", map[string]any{"tripId": "demo-trip", "stopId": "stop-1", "latitude": lat, "longitude": lon, "routeId": *route})
	send(drv, "trip-completed", map[string]any{"tripId": "demo-trip", "routeId": *route})
	send(drv, "identity-leave", nil)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
}
