package guard

import (
	"context"

	"github.com/edupath/authsync/session"
)

type stateKey struct{}

// WithState attaches the state a request was admitted with.
func WithState(ctx context.Context, st session.State) context.Context {
	return context.WithValue(ctx, stateKey{}, st)
}

// StateFromContext returns the state attached by Require.
func StateFromContext(ctx context.Context) (session.State, bool) {
	st, ok := ctx.Value(stateKey{}).(session.State)
	return st, ok
}
