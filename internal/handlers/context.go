package handlers

import "context"

type ctxKey int

const ctxKeyUserID ctxKey = iota

// ContextWithUserID stores the authenticated user's opaque identifier, as
// established by the auth middleware.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKeyUserID, userID)
}

func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyUserID).(string)
	return v
}
