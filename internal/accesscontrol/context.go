package accesscontrol

import "context"

type userContextKey struct{}

// ContextWithUser stores the authenticated caller in context. Handlers
// downstream of the auth middleware read it back with UserFromContext.
func ContextWithUser(ctx context.Context, user *CurrentUser) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext extracts the caller, or nil for anonymous requests.
func UserFromContext(ctx context.Context) *CurrentUser {
	user, _ := ctx.Value(userContextKey{}).(*CurrentUser)
	return user
}
