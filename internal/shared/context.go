package shared

import "context"

type actorContextKey struct{}

// SystemActor is recorded when no caller identity was forwarded.
const SystemActor = "system"

// ContextWithActor stores the caller identity forwarded by the gateway.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the caller identity, defaulting to SystemActor.
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorContextKey{}).(string); ok && actor != "" {
		return actor
	}
	return SystemActor
}
