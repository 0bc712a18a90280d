package middleware

import (
	"context"

	"github.com/angelmondragon/safetransit/pkg/auth"
)

type operatorKey struct{}

// WithOperator stores the authenticated operator on ctx.
func WithOperator(ctx context.Context, op auth.Operator) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, operatorKey{}, op)
}

// OperatorFromContext returns the operator seeded by Auth, if any.
func OperatorFromContext(ctx context.Context) (auth.Operator, bool) {
	if ctx == nil {
		return auth.Operator{}, false
	}
	op, ok := ctx.Value(operatorKey{}).(auth.Operator)
	return op, ok
}

// UserIDFromContext is the operator id, or "" for unauthenticated requests.
func UserIDFromContext(ctx context.Context) string {
	op, _ := OperatorFromContext(ctx)
	return op.ID
}
