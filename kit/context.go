// Package kit carries the caller of a request through context and adapts
// transport-neutral endpoints to the MCP tool surface.
package kit

import "context"

type ctxKey int

const (
	callerKey ctxKey = iota
	traceKey
	remoteKey
)

// Caller is who a request acts as. Actor is the rate-limit and audit
// identity ("user:<id>", "key:<prefix>", "ip:<addr>", "cli:<user>").
type Caller struct {
	Actor      string
	UserID     string
	AuthMethod string // "jwt", "api_key", "ip"
}

// WithCaller stores c in ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFrom returns the caller in ctx. Actor is "anonymous" when no
// authentication ran.
func CallerFrom(ctx context.Context) Caller {
	c, _ := ctx.Value(callerKey).(Caller)
	if c.Actor == "" {
		c.Actor = "anonymous"
	}
	return c
}

// WithActor replaces the actor, keeping the rest of the caller.
func WithActor(ctx context.Context, actor string) context.Context {
	c, _ := ctx.Value(callerKey).(Caller)
	c.Actor = actor
	return WithCaller(ctx, c)
}

// GetActor is CallerFrom(ctx).Actor.
func GetActor(ctx context.Context) string { return CallerFrom(ctx).Actor }

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey, id)
}

func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(traceKey).(string)
	return v
}

// WithRemoteAddr stores the client IP resolved at the HTTP edge.
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteKey, addr)
}

func GetRemoteAddr(ctx context.Context) string {
	v, _ := ctx.Value(remoteKey).(string)
	return v
}
