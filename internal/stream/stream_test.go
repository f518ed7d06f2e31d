package stream

import (
	"context"
	"testing"
	"time"
)

func TestSubscribeReceivesPublished(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.Subscribe(ctx)
	s.Publish(Event{Type: "session.login", SubjectID: "u1"})

	select {
	case evt := <-ch:
		if evt.Type != "session.login" || evt.SubjectID != "u1" {
			t.Fatalf("unexpected event: %+v", evt)
		}
		if evt.Timestamp.IsZero() {
			t.Fatal("timestamp must be stamped on publish")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestUnsubscribeOnContextCancel(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())

	ch := s.Subscribe(ctx)
	cancel()

	deadline := time.After(time.Second)
	for s.Subscribers() != 0 {
		select {
		case <-deadline:
			t.Fatal("subscriber was not removed after cancel")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if _, open := <-ch; open {
		t.Fatal("channel must be closed after cancel")
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Never drained; the buffer fills and further publishes must drop.
	_ = s.Subscribe(ctx)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Publish(Event{Type: "session.login"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
