package identity

import (
	"context"
)

var userCtxKey = &contextKey{"user"}
var claimsCtxKey = &contextKey{"claims"}
var actorCtxKey = &contextKey{"actor"}

type contextKey struct {
	name string
}

// WithContext sets the User in the given context
func WithContext(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userCtxKey, user)
}

// FromContext finds the user from the context.
func FromContext(ctx context.Context) (*User, bool) {
	raw, ok := ctx.Value(userCtxKey).(*User)
	return raw, ok && raw != nil
}

// WithClaimsContext sets the access token claims in the given context
func WithClaimsContext(ctx context.Context, claims *AccessClaims) context.Context {
	return context.WithValue(ctx, claimsCtxKey, claims)
}

// GetClaims extracts the access token claims from the context
func GetClaims(ctx context.Context) (*AccessClaims, bool) {
	raw, ok := ctx.Value(claimsCtxKey).(*AccessClaims)
	return raw, ok && raw != nil
}

// WithActor records who is performing the operation, used to attribute
// activity events.
func WithActor(ctx context.Context, actor ActorRef) context.Context {
	return context.WithValue(ctx, actorCtxKey, actor)
}

// ActorFromContext returns the explicit actor, falling back to the user
// stored with WithContext and then to the system actor.
func ActorFromContext(ctx context.Context) ActorRef {
	if actor, ok := ctx.Value(actorCtxKey).(ActorRef); ok && actor.ID != "" {
		return actor
	}
	if user, ok := FromContext(ctx); ok {
		return ActorRef{ID: user.ID.String(), Type: "user"}
	}
	if claims, ok := GetClaims(ctx); ok && claims.UserID() != "" {
		return ActorRef{ID: claims.UserID(), Type: "user"}
	}
	return systemActor
}
