package identity

import "context"

// Auditor receives security-relevant events (logins, rotations, revocations,
// role changes). Implementations must not block the calling request.
type Auditor interface {
	Event(ctx context.Context, action string, fields map[string]any)
}

// NopAuditor discards events. Used by tests and as the default sink.
type NopAuditor struct{}

func (NopAuditor) Event(context.Context, string, map[string]any) {}
