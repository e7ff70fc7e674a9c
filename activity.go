package identity

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityRegistrationStarted   ActivityEventType = "identity.registration.started"
	ActivityRegistrationActivated ActivityEventType = "identity.registration.activated"
	ActivityActivationFailed      ActivityEventType = "identity.registration.activation_failed"
	ActivityLoginSuccess          ActivityEventType = "identity.login.success"
	ActivityLoginFailure          ActivityEventType = "identity.login.failure"
	ActivitySessionRefreshed      ActivityEventType = "identity.session.refreshed"
	ActivitySessionRevoked        ActivityEventType = "identity.session.revoked"
	ActivityProviderLinked        ActivityEventType = "identity.provider.linked"
	ActivityProviderUnlinked      ActivityEventType = "identity.provider.unlinked"
	ActivityPrimaryChanged        ActivityEventType = "identity.provider.primary_changed"
	ActivityOAuthSignup           ActivityEventType = "identity.oauth.signup"
	ActivityPermissionGranted     ActivityEventType = "identity.permission.granted"
	ActivityPermissionRevoked     ActivityEventType = "identity.permission.revoked"
	ActivityRoleChanged           ActivityEventType = "identity.role.changed"
)

// ActorRef identifies who triggered an event.
type ActorRef struct {
	ID   string
	Type string
}

var systemActor = ActorRef{ID: "system", Type: "system"}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	UserID     string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

// MultiActivitySink fans an event out to every sink.
type MultiActivitySink []ActivitySink

// Record implements ActivitySink. The first error is returned after every
// sink has run.
func (m MultiActivitySink) Record(ctx context.Context, event ActivityEvent) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// activityRecorder emits events best-effort.
type activityRecorder struct {
	sink   ActivitySink
	logger Logger
	clock  Clock
}

func (r activityRecorder) record(ctx context.Context, t ActivityEventType, actor ActorRef, userID string, meta map[string]any) {
	if actor.ID == "" {
		actor = systemActor
	}
	err := normalizeActivitySink(r.sink).Record(ctx, ActivityEvent{
		EventType:  t,
		Actor:      actor,
		UserID:     userID,
		Metadata:   meta,
		OccurredAt: normalizeClock(r.clock)(),
	})
	if err != nil {
		normalizeLogger(r.logger).Warn("activity sink failed for %s: %v", t, err)
	}
}
