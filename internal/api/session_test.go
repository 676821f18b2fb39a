package api

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"bustrack/internal/model"
	"bustrack/internal/realtime"
)

func TestOutboxSendAfterClose(t *testing.T) {
	ob := newOutbox("c1", 1)
	if !ob.Send(realtime.PongEvent()) {
		t.Fatal("send to empty outbox refused")
	}
	if ob.Send(realtime.PongEvent()) {
		t.Fatal("send to full outbox accepted")
	}
	ob.Close()
	ob.Close()
	<-ob.ch
	if ob.Send(realtime.PongEvent()) {
		t.Fatal("send after close accepted")
	}
}

func TestReleaseWaitsForSaturatedHub(t *testing.T) {
	log, _ := test.NewNullLogger()
	h := realtime.NewHub(realtime.Options{CommandBuffer: 1}, nil, log)
	s := &Server{Hub: h, log: log}

	ob := newOutbox("c1", 4)
	h.Handle(realtime.Connect{Session: ob})
	h.Handle(realtime.Announce{Conn: "c1", User: model.User{ID: "1", Role: model.RoleDriver}})
	h.Handle(realtime.SubscribeRoute{Conn: "c1", Route: "7"})

	// Fill the command queue so the disconnect cannot be enqueued yet.
	if err := h.Submit(context.Background(), realtime.Leave{Conn: "other"}); err != nil {
		t.Fatalf("fill queue: %v", err)
	}
	released := make(chan struct{})
	go func() {
		s.release(ob)
		close(released)
	}()
	select {
	case <-released:
		t.Fatal("release returned while the hub queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("release never completed")
	}
	eventually(t, "session removed", func() bool {
		return h.ConnectionCount() == 0 && len(h.Members("7")) == 0 && len(h.Roster()) == 0
	})
	select {
	case <-ob.done:
	default:
		t.Fatal("outbox not closed by the hub")
	}
}
