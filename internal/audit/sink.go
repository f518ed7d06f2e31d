package audit

import (
	"context"
	"time"

	"idgate.org/internal/identity"
	"idgate.org/internal/stream"
)

// Sink is the identity.Auditor wired into the service: every event becomes a
// JSON audit line and, when a stream is attached, a live event for SSE
// subscribers.
type Sink struct {
	stream *stream.Stream
}

var _ identity.Auditor = Sink{}

// NewSink builds a sink. The stream may be nil.
func NewSink(s *stream.Stream) Sink {
	return Sink{stream: s}
}

func (s Sink) Event(ctx context.Context, action string, fields map[string]any) {
	_ = LogEvent(ctx, action, fields)
	if s.stream == nil {
		return
	}
	subject, _ := fields["user_id"].(string)
	s.stream.Publish(stream.Event{
		Type:      action,
		ActorID:   identity.ActorFromContext(ctx),
		SubjectID: subject,
		Fields:    fields,
		Timestamp: time.Now().UTC(),
	})
}
