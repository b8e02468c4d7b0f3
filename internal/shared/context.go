package shared

import "context"

// sessionContextKey is unexported so only this package can attach the
// session; handlers go through the accessors below.
type sessionContextKey struct{}

// ContextWithSession returns a child context carrying sess.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext returns the request session, or nil when the session
// middleware did not run.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}
