package middleware

import (
	"context"

	pkgAuth "github.com/rentiva/rentiva-backend/pkg/auth"
)

type contextKey string

const ctxActor contextKey = "actor"

// ActorFromContext returns the request actor resolved by the Auth middleware.
// The zero Actor is returned for unauthenticated contexts.
func ActorFromContext(ctx context.Context) pkgAuth.Actor {
	if ctx == nil {
		return pkgAuth.Actor{}
	}
	if actor, ok := ctx.Value(ctxActor).(pkgAuth.Actor); ok {
		return actor
	}
	return pkgAuth.Actor{}
}

// WithActor injects the actor into the context.
func WithActor(ctx context.Context, actor pkgAuth.Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxActor, actor)
}
