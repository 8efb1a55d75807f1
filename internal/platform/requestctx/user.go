// Package requestctx carries the authenticated caller through request contexts.
package requestctx

import "context"

// userContextKey is the context key for authenticated user identity.
type userContextKey struct{}

// User is the caller identity resolved by authentication middleware.
type User struct {
	ID          string
	DisplayName string
}

// WithUser stores the authenticated user in context.
func WithUser(ctx context.Context, user User) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext returns the authenticated user stored in context.
func UserFromContext(ctx context.Context) (User, bool) {
	if ctx == nil {
		return User{}, false
	}
	value, ok := ctx.Value(userContextKey{}).(User)
	if !ok || value.ID == "" {
		return User{}, false
	}
	return value, true
}

// UserIDFromContext returns the authenticated user id, or empty when absent.
func UserIDFromContext(ctx context.Context) string {
	user, _ := UserFromContext(ctx)
	return user.ID
}
