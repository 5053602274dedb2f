package rabbitmq

import (
	"testing"
	"time"

	"warrn-service/models"
)

func TestBroadcastEventNeverBlocks(t *testing.T) {
	// No publishing loop draining and a full buffer: the worst case for
	// a caller on the request path.
	p := &Publisher{
		events: make(chan models.LifecycleEvent, 1),
		done:   make(chan struct{}),
	}
	p.events <- models.LifecycleEvent{Type: models.EventReportCreated}

	finished := make(chan struct{})
	go func() {
		p.BroadcastEvent(models.LifecycleEvent{Type: models.EventReportClaimed})
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("BroadcastEvent blocked on a full event buffer")
	}
}

func TestBroadcastEventQueuesForPublishingLoop(t *testing.T) {
	p := &Publisher{
		events: make(chan models.LifecycleEvent, 16),
		done:   make(chan struct{}),
	}

	p.BroadcastEvent(models.LifecycleEvent{Type: models.EventReportResolved})

	select {
	case got := <-p.events:
		if got.Type != models.EventReportResolved {
			t.Errorf("queued event type = %s, want %s", got.Type, models.EventReportResolved)
		}
	default:
		t.Fatal("expected event to be queued for the publishing loop")
	}
}
