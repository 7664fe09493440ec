package listing

import (
	"context"
	"errors"
	"time"
)

// Clock supplies timestamps in nanoseconds.
type Clock interface {
	Now() uint64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() uint64 {
	return uint64(time.Now().UnixNano())
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() uint64

func (f ClockFunc) Now() uint64 { return f() }

// Identity resolves the principal making the current call.
type Identity interface {
	Caller(ctx context.Context) (string, error)
}

// ErrNoCaller is returned by ContextIdentity when no principal was attached.
var ErrNoCaller = errors.New("no caller identity in context")

type callerKey struct{}

// WithCaller returns a context carrying principal as the caller identity.
func WithCaller(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, callerKey{}, principal)
}

// CallerFromContext returns the principal attached by WithCaller.
func CallerFromContext(ctx context.Context) (string, bool) {
	p, ok := ctx.Value(callerKey{}).(string)
	return p, ok && p != ""
}

// ContextIdentity reads the caller from the request context.
type ContextIdentity struct{}

func (ContextIdentity) Caller(ctx context.Context) (string, error) {
	p, ok := CallerFromContext(ctx)
	if !ok {
		return "", ErrNoCaller
	}
	return p, nil
}

// StaticIdentity always reports the same principal.
type StaticIdentity string

func (s StaticIdentity) Caller(context.Context) (string, error) {
	return string(s), nil
}
