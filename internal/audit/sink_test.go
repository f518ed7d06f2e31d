package audit

import (
	"context"
	"testing"
	"time"

	"idgate.org/internal/stream"
)

type testStream struct {
	stream *stream.Stream
	events <-chan stream.Event
	cancel context.CancelFunc
}

func newTestStream(t *testing.T) *testStream {
	t.Helper()
	s := stream.New()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &testStream{stream: s, events: s.Subscribe(ctx), cancel: cancel}
}

func (s *testStream) waitForEvent(t *testing.T) stream.Event {
	t.Helper()
	select {
	case evt := <-s.events:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stream event")
		return stream.Event{}
	}
}
