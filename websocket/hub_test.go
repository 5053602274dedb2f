package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"warrn-service/models"
)

func TestBroadcastEventReachesRegisteredClient(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := NewClient(hub, nil)
	hub.Register <- client

	event := models.LifecycleEvent{
		Type: models.EventReportCreated,
		Report: models.ReportProjection{
			ID:         1,
			AnimalType: "Dog",
			Status:     models.StatusNew,
		},
	}
	hub.BroadcastEvent(event)

	select {
	case data := <-client.send:
		var got models.LifecycleEvent
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("failed to unmarshal broadcast frame: %v", err)
		}
		if got.Type != models.EventReportCreated {
			t.Errorf("event type = %s, want %s", got.Type, models.EventReportCreated)
		}
		if got.Report.ID != 1 {
			t.Errorf("report id = %d, want 1", got.Report.ID)
		}
		if got.Timestamp.IsZero() {
			t.Error("expected timestamp to be filled in")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	slow := NewClient(hub, nil)
	// Fill the send buffer so the next broadcast cannot be delivered
	for i := 0; i < cap(slow.send); i++ {
		slow.send <- []byte("{}")
	}
	hub.Register <- slow

	hub.BroadcastEvent(models.LifecycleEvent{Type: models.EventReportClaimed})

	deadline := time.After(2 * time.Second)
	for {
		connected, _ := hub.GetStats()
		if connected == 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("slow client was not dropped")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
